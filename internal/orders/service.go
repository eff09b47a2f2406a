package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-ledger/internal/commission"
	"github.com/angelmondragon/marketplace-ledger/internal/settlement"
	"github.com/angelmondragon/marketplace-ledger/pkg/db/models"
	"github.com/angelmondragon/marketplace-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-ledger/pkg/errors"
	"github.com/angelmondragon/marketplace-ledger/pkg/logger"
	"github.com/angelmondragon/marketplace-ledger/pkg/outbox"
	"github.com/angelmondragon/marketplace-ledger/pkg/outbox/payloads"
	"github.com/angelmondragon/marketplace-ledger/pkg/types"
	"github.com/angelmondragon/marketplace-ledger/pkg/validators"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type splitCalculator interface {
	Calculate(ctx context.Context, line commission.LineInput) (commission.LineSplit, error)
}

// Settler credits every seller of an order.
type Settler interface {
	Settle(ctx context.Context, order *models.Order) (*settlement.Result, error)
}

// Service is the order aggregate: creation, reads and the settlement transition.
type Service interface {
	CreateOrder(ctx context.Context, input CreateOrderInput) (*models.Order, error)
	GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	ConfirmPayment(ctx context.Context, input ConfirmPaymentInput) (*models.Order, error)
	Resettle(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
}

type service struct {
	repo       Repository
	tx         txRunner
	outbox     outboxPublisher
	calculator splitCalculator
	settler    Settler
	logg       *logger.Logger
	now        func() time.Time
}

// NewService wires the order aggregate.
func NewService(repo Repository, tx txRunner, outbox outboxPublisher, calculator splitCalculator, settler Settler, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if calculator == nil {
		return nil, fmt.Errorf("commission calculator required")
	}
	if settler == nil {
		return nil, fmt.Errorf("settlement engine required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:       repo,
		tx:         tx,
		outbox:     outbox,
		calculator: calculator,
		settler:    settler,
		logg:       logg,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *service) CreateOrder(ctx context.Context, input CreateOrderInput) (*models.Order, error) {
	if err := validators.Struct(&input); err != nil {
		return nil, err
	}

	order := &models.Order{
		ID:                 uuid.New(),
		BuyerID:            input.BuyerID,
		ShippingAddress:    input.ShippingAddress,
		TaxPriceCents:      input.TaxPriceCents,
		ShippingPriceCents: input.ShippingPriceCents,
	}
	shares := map[uuid.UUID]*payloads.SellerShare{}
	var sellerOrder []uuid.UUID

	items := make([]models.OrderLineItem, 0, len(input.Items))
	for i, in := range input.Items {
		split, err := s.calculator.Calculate(ctx, commission.LineInput{
			SellerID:       in.SellerID,
			ProductID:      in.ProductID,
			Category:       in.Category,
			UnitPriceCents: in.UnitPriceCents,
			Quantity:       in.Quantity,
		})
		if err != nil {
			return nil, err
		}
		items = append(items, models.OrderLineItem{
			ID:                 uuid.New(),
			OrderID:            order.ID,
			Position:           i,
			ProductID:          in.ProductID,
			SellerID:           in.SellerID,
			Name:               in.Name,
			Category:           in.Category,
			UnitPriceCents:     in.UnitPriceCents,
			Quantity:           in.Quantity,
			GrossCents:         split.GrossCents,
			CommissionRate:     split.Rate,
			PlatformFeeCents:   split.PlatformFeeCents,
			SellerRevenueCents: split.SellerRevenueCents,
		})
		if order.ItemsPriceCents, err = commission.AddCents(order.ItemsPriceCents, split.GrossCents); err != nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "order items total overflows")
		}

		share, ok := shares[in.SellerID]
		if !ok {
			share = &payloads.SellerShare{SellerID: in.SellerID}
			shares[in.SellerID] = share
			sellerOrder = append(sellerOrder, in.SellerID)
		}
		share.GrossCents += split.GrossCents
		share.PlatformFeeCents += split.PlatformFeeCents
		share.SellerRevenueCents += split.SellerRevenueCents
	}
	total, err := commission.AddCents(order.ItemsPriceCents, order.TaxPriceCents, order.ShippingPriceCents)
	if err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order total overflows")
	}
	order.TotalPriceCents = total

	sellers := make([]payloads.SellerShare, 0, len(sellerOrder))
	for _, id := range sellerOrder {
		sellers = append(sellers, *shares[id])
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := repo.CreateOrder(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}
		if err := repo.CreateOrderLineItems(ctx, items); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order line items")
		}
		event := outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{ID: order.BuyerID, Role: outbox.ActorRoleBuyer},
			Data: payloads.OrderCreatedEvent{
				OrderID:            order.ID,
				BuyerID:            order.BuyerID,
				ItemsPriceCents:    order.ItemsPriceCents,
				TaxPriceCents:      order.TaxPriceCents,
				ShippingPriceCents: order.ShippingPriceCents,
				TotalPriceCents:    order.TotalPriceCents,
				Sellers:            sellers,
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue order created event")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	order.Items = items
	logCtx := s.logg.WithBuyerID(s.logg.WithOrderID(ctx, order.ID.String()), order.BuyerID.String())
	s.logg.Info(s.logg.WithField(logCtx, "total_price_cents", order.TotalPriceCents), "order created")
	return order, nil
}

func (s *service) GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	return s.load(ctx, s.repo, orderID)
}

func (s *service) load(ctx context.Context, repo Repository, orderID uuid.UUID) (*models.Order, error) {
	order, err := repo.FindOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

// ConfirmPayment records a verified payment, credits every seller and only then marks the order paid.
// A partially credited order stays unpaid and the call fails with a retryable error.
func (s *service) ConfirmPayment(ctx context.Context, input ConfirmPaymentInput) (*models.Order, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if input.BuyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer id required")
	}
	result := types.RawJSON(input.PaymentResult)
	if _, err := result.Value(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment result")
	}

	ctx = s.logg.WithBuyerID(s.logg.WithOrderID(ctx, input.OrderID.String()), input.BuyerID.String())

	order, err := s.load(ctx, s.repo, input.OrderID)
	if err != nil {
		return nil, err
	}
	if order.BuyerID != input.BuyerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to buyer")
	}
	if order.IsPaid {
		s.logg.Debug(ctx, "payment already settled")
		return order, nil
	}

	var reference *string
	if input.PaymentReference != "" {
		reference = &input.PaymentReference
	}
	confirmedAt := s.now()
	recorded, err := s.repo.RecordConfirmation(ctx, order.ID, reference, result, confirmedAt)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payment confirmation")
	}
	if recorded {
		order.PaymentConfirmedAt = &confirmedAt
		order.PaymentReference = reference
		order.PaymentResult = result
		s.logg.Info(s.logg.WithField(ctx, "payment_reference", input.PaymentReference), "payment confirmation recorded")
	}

	return s.settle(ctx, order)
}

// Resettle re-runs settlement for an order whose payment was confirmed. For a paid order it only
// re-asserts the seller credits.
func (s *service) Resettle(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	ctx = s.logg.WithOrderID(ctx, orderID.String())

	order, err := s.load(ctx, s.repo, orderID)
	if err != nil {
		return nil, err
	}
	if !order.IsPaid && order.PaymentConfirmedAt == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order has no payment confirmation")
	}
	if order.IsPaid {
		if _, err := s.settler.Settle(ctx, order); err != nil {
			return nil, err
		}
		return order, nil
	}
	return s.settle(ctx, order)
}

func (s *service) settle(ctx context.Context, order *models.Order) (*models.Order, error) {
	if _, err := s.settler.Settle(ctx, order); err != nil {
		s.logg.Error(ctx, "settlement incomplete, order left unpaid", err)
		return nil, err
	}

	paidAt := s.now()
	var won bool
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := s.repo.WithTx(tx).MarkPaid(ctx, order.ID, paidAt)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order paid")
		}
		if !ok {
			return nil
		}
		won = true
		reference := ""
		if order.PaymentReference != nil {
			reference = *order.PaymentReference
		}
		event := outbox.DomainEvent{
			EventType:     enums.EventOrderPaid,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{Role: outbox.ActorRoleSystem},
			Data: payloads.OrderPaidEvent{
				OrderID:          order.ID,
				BuyerID:          order.BuyerID,
				PaymentReference: reference,
				TotalPriceCents:  order.TotalPriceCents,
				PaidAt:           paidAt,
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue order paid event")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if won {
		s.logg.Info(ctx, "order paid")
	}
	return s.load(ctx, s.repo, order.ID)
}
