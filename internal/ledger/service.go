package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-ledger/pkg/db/models"
	"github.com/angelmondragon/marketplace-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-ledger/pkg/errors"
	"github.com/angelmondragon/marketplace-ledger/pkg/logger"
	"github.com/angelmondragon/marketplace-ledger/pkg/outbox"
	"github.com/angelmondragon/marketplace-ledger/pkg/outbox/payloads"
	"github.com/angelmondragon/marketplace-ledger/pkg/pagination"
	"github.com/angelmondragon/marketplace-ledger/pkg/tracing"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// BalanceProjector keeps the cached wallet balance in step with inserted credits.
type BalanceProjector interface {
	ApplyCredit(ctx context.Context, tx *gorm.DB, sellerID uuid.UUID, amountCents int64) error
}

// Service records wallet credits and serves ledger reads.
type Service interface {
	Credit(ctx context.Context, input CreditInput) (CreditResult, error)
	ListBySeller(ctx context.Context, sellerID uuid.UUID, params pagination.Params) (*pagination.Page[models.WalletLedgerEntry], error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.WalletLedgerEntry, error)
	SumBySeller(ctx context.Context, sellerID uuid.UUID) (int64, error)
	SellersForOrder(ctx context.Context, orderID uuid.UUID) ([]uuid.UUID, error)
}

// CreditInput identifies one seller's share of one order.
type CreditInput struct {
	SellerID    uuid.UUID
	OrderID     uuid.UUID
	AmountCents int64
	Note        string
}

// CreditResult reports whether this call created the entry. Applied is false
// when an earlier call already credited the same seller for the same order.
type CreditResult struct {
	Applied bool
	Entry   *models.WalletLedgerEntry
}

type service struct {
	repo      Repository
	tx        txRunner
	projector BalanceProjector
	outbox    outboxPublisher
	logg      *logger.Logger
}

// NewService wires the ledger service.
func NewService(repo Repository, tx txRunner, projector BalanceProjector, outbox outboxPublisher, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if projector == nil {
		return nil, fmt.Errorf("balance projector required")
	}
	if outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{repo: repo, tx: tx, projector: projector, outbox: outbox, logg: logg}, nil
}

func (s *service) Credit(ctx context.Context, input CreditInput) (result CreditResult, err error) {
	if input.SellerID == uuid.Nil {
		return CreditResult{}, pkgerrors.New(pkgerrors.CodeValidation, "seller id required")
	}
	if input.OrderID == uuid.Nil {
		return CreditResult{}, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if input.AmountCents <= 0 {
		return CreditResult{}, pkgerrors.New(pkgerrors.CodeValidation, "credit amount must be positive")
	}

	ctx, span := tracing.Start(ctx, "ledger.Credit")
	span.SetAttributes(
		attribute.String("seller_id", input.SellerID.String()),
		attribute.String("order_id", input.OrderID.String()),
		attribute.Int64("amount_cents", input.AmountCents),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Bool("applied", result.Applied))
		span.End()
	}()

	entry := &models.WalletLedgerEntry{
		SellerID:    input.SellerID,
		OrderID:     input.OrderID,
		Type:        enums.LedgerEntryTypeCredit,
		AmountCents: input.AmountCents,
		Note:        input.Note,
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		inserted, err := s.repo.WithTx(tx).InsertIfAbsent(ctx, entry)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert ledger entry")
		}
		if !inserted {
			return nil
		}
		if err := s.projector.ApplyCredit(ctx, tx, entry.SellerID, entry.AmountCents); err != nil {
			return err
		}
		event := outbox.DomainEvent{
			EventType:     enums.EventWalletCredited,
			AggregateType: enums.AggregateLedgerEntry,
			AggregateID:   entry.ID,
			Actor:         &outbox.ActorRef{Role: outbox.ActorRoleSystem},
			Data: payloads.WalletCreditedEvent{
				EntryID:     entry.ID,
				SellerID:    entry.SellerID,
				OrderID:     entry.OrderID,
				AmountCents: entry.AmountCents,
				CreatedAt:   entry.CreatedAt,
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue wallet credited event")
		}
		result = CreditResult{Applied: true, Entry: entry}
		return nil
	})
	if err != nil {
		return CreditResult{}, err
	}

	logCtx := s.logg.WithSellerID(s.logg.WithOrderID(ctx, input.OrderID.String()), input.SellerID.String())
	if result.Applied {
		s.logg.Info(s.logg.WithField(logCtx, "amount_cents", input.AmountCents), "wallet credited")
		return result, nil
	}

	existing, err := s.repo.Find(ctx, input.SellerID, input.OrderID, enums.LedgerEntryTypeCredit)
	if err != nil {
		return CreditResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load existing ledger entry")
	}
	if existing.AmountCents != input.AmountCents {
		s.logg.Warn(s.logg.WithFields(logCtx, map[string]any{
			"existing_amount_cents":  existing.AmountCents,
			"requested_amount_cents": input.AmountCents,
		}), "duplicate credit amount differs from recorded entry")
	} else {
		s.logg.Debug(logCtx, "credit already recorded")
	}
	return CreditResult{Applied: false, Entry: existing}, nil
}

func (s *service) ListBySeller(ctx context.Context, sellerID uuid.UUID, params pagination.Params) (*pagination.Page[models.WalletLedgerEntry], error) {
	if sellerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller id required")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.ListBySeller(ctx, sellerID, cursor, params.Limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list ledger entries by seller")
	}
	page := pagination.Trim(rows, params.Limit, func(e models.WalletLedgerEntry) pagination.Cursor {
		return pagination.Cursor{CreatedAt: e.CreatedAt, ID: e.ID}
	})
	return &page, nil
}

func (s *service) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.WalletLedgerEntry, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	entries, err := s.repo.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list ledger entries by order")
	}
	return entries, nil
}

func (s *service) SumBySeller(ctx context.Context, sellerID uuid.UUID) (int64, error) {
	if sellerID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "seller id required")
	}
	total, err := s.repo.SumBySeller(ctx, sellerID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum ledger entries")
	}
	return total, nil
}

func (s *service) SellersForOrder(ctx context.Context, orderID uuid.UUID) ([]uuid.UUID, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	ids, err := s.repo.SellersForOrder(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list credited sellers")
	}
	return ids, nil
}
