package delivery

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/marketplace-ledger/pkg/db"
	"github.com/angelmondragon/marketplace-ledger/pkg/db/dbtest"
	"github.com/angelmondragon/marketplace-ledger/pkg/db/models"
	"github.com/angelmondragon/marketplace-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-ledger/pkg/errors"
	"github.com/angelmondragon/marketplace-ledger/pkg/logger"
	"github.com/angelmondragon/marketplace-ledger/pkg/outbox"
)

func newTestService(t *testing.T, client *db.Client) Service {
	t.Helper()
	logg := logger.New(logger.Options{ServiceName: "delivery-test", Output: io.Discard})
	svc, err := NewService(NewRepository(client.DB()), client, outbox.NewService(outbox.NewRepository(client.DB()), logg), logg)
	require.NoError(t, err)
	return svc
}

func seedOrder(t *testing.T, client *db.Client, buyerID, productID uuid.UUID, paid bool) *models.Order {
	t.Helper()
	order := &models.Order{BuyerID: buyerID, ItemsPriceCents: 100, TotalPriceCents: 100, IsPaid: paid}
	if paid {
		now := time.Now().UTC()
		order.PaidAt = &now
		order.PaymentConfirmedAt = &now
	}
	require.NoError(t, client.DB().Omit("Items").Create(order).Error)
	item := &models.OrderLineItem{
		OrderID:            order.ID,
		ProductID:          productID,
		SellerID:           uuid.New(),
		Name:               "Mug",
		UnitPriceCents:     100,
		Quantity:           1,
		GrossCents:         100,
		CommissionRate:     decimal.RequireFromString("0.10"),
		PlatformFeeCents:   10,
		SellerRevenueCents: 90,
	}
	require.NoError(t, client.DB().Create(item).Error)
	return order
}

func reload(t *testing.T, client *db.Client, id uuid.UUID) models.Order {
	t.Helper()
	var order models.Order
	require.NoError(t, client.DB().First(&order, "id = ?", id).Error)
	return order
}

func TestMarkDeliveredRejectsUnpaidOrder(t *testing.T) {
	client := dbtest.Open(t)
	svc := newTestService(t, client)
	buyerID := uuid.New()
	order := seedOrder(t, client, buyerID, uuid.New(), false)

	_, err := svc.MarkDelivered(context.Background(), order.ID, buyerID)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	after := reload(t, client, order.ID)
	assert.False(t, after.IsDelivered)
	assert.Nil(t, after.DeliveredAt)
	assert.False(t, after.IsPaid)
}

func TestMarkDeliveredTransitionsPaidOrder(t *testing.T) {
	ctx := context.Background()
	client := dbtest.Open(t)
	svc := newTestService(t, client)
	buyerID := uuid.New()
	order := seedOrder(t, client, buyerID, uuid.New(), true)

	got, err := svc.MarkDelivered(ctx, order.ID, buyerID)
	require.NoError(t, err)
	assert.True(t, got.IsDelivered)
	assert.Equal(t, enums.OrderStatusDelivered, got.Status())

	again, err := svc.MarkDelivered(ctx, order.ID, buyerID)
	require.NoError(t, err)
	assert.True(t, again.IsDelivered)
	assert.Equal(t, got.DeliveredAt.Unix(), again.DeliveredAt.Unix())

	events, err := outbox.NewRepository(client.DB()).ListForAggregate(ctx, enums.AggregateOrder, order.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, enums.EventOrderDelivered, events[0].EventType)
}

func TestMarkDeliveredAccessChecks(t *testing.T) {
	ctx := context.Background()
	client := dbtest.Open(t)
	svc := newTestService(t, client)
	order := seedOrder(t, client, uuid.New(), uuid.New(), true)

	_, err := svc.MarkDelivered(ctx, order.ID, uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	_, err = svc.MarkDelivered(ctx, uuid.New(), uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestHasDeliveredPurchase(t *testing.T) {
	ctx := context.Background()
	client := dbtest.Open(t)
	svc := newTestService(t, client)
	buyerID := uuid.New()
	productID := uuid.New()
	order := seedOrder(t, client, buyerID, productID, true)

	ok, err := svc.HasDeliveredPurchase(ctx, buyerID, productID)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = svc.MarkDelivered(ctx, order.ID, buyerID)
	require.NoError(t, err)

	ok, err = svc.HasDeliveredPurchase(ctx, buyerID, productID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.HasDeliveredPurchase(ctx, uuid.New(), productID)
	require.NoError(t, err)
	assert.False(t, ok)
}
