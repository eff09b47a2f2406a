package ledger

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-ledger/internal/wallet"
	"github.com/angelmondragon/marketplace-ledger/pkg/db"
	"github.com/angelmondragon/marketplace-ledger/pkg/db/dbtest"
	"github.com/angelmondragon/marketplace-ledger/pkg/db/models"
	"github.com/angelmondragon/marketplace-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-ledger/pkg/errors"
	"github.com/angelmondragon/marketplace-ledger/pkg/logger"
	"github.com/angelmondragon/marketplace-ledger/pkg/outbox"
	"github.com/angelmondragon/marketplace-ledger/pkg/pagination"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "ledger-test", Output: io.Discard})
}

func newTestService(t *testing.T, client *db.Client) Service {
	t.Helper()

	logg := testLogger()
	projector, err := wallet.NewProjector(wallet.NewRepository(client.DB()), client, logg)
	require.NoError(t, err)
	emitter := outbox.NewService(outbox.NewRepository(client.DB()), logg)

	svc, err := NewService(NewRepository(client.DB()), client, projector, emitter, logg)
	require.NoError(t, err)
	return svc
}

func seedSeller(t *testing.T, client *db.Client) *models.Seller {
	t.Helper()
	seller := &models.Seller{Name: "seller-" + uuid.NewString()[:8]}
	require.NoError(t, client.DB().Create(seller).Error)
	return seller
}

func balanceOf(t *testing.T, client *db.Client, sellerID uuid.UUID) int64 {
	t.Helper()
	var seller models.Seller
	require.NoError(t, client.DB().Where("id = ?", sellerID).First(&seller).Error)
	return seller.WalletBalanceCents
}

func TestCreditAppliesOnce(t *testing.T) {
	ctx := context.Background()
	client := dbtest.Open(t)
	svc := newTestService(t, client)
	seller := seedSeller(t, client)
	orderID := uuid.New()

	first, err := svc.Credit(ctx, CreditInput{SellerID: seller.ID, OrderID: orderID, AmountCents: 4500, Note: "order settlement"})
	require.NoError(t, err)
	assert.True(t, first.Applied)
	require.NotNil(t, first.Entry)
	assert.Equal(t, enums.LedgerEntryTypeCredit, first.Entry.Type)

	second, err := svc.Credit(ctx, CreditInput{SellerID: seller.ID, OrderID: orderID, AmountCents: 4500})
	require.NoError(t, err)
	assert.False(t, second.Applied)
	require.NotNil(t, second.Entry)
	assert.Equal(t, first.Entry.ID, second.Entry.ID)

	assert.Equal(t, int64(4500), balanceOf(t, client, seller.ID))

	entries, err := svc.ListByOrder(ctx, orderID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "order settlement", entries[0].Note)

	events, err := outbox.NewRepository(client.DB()).ListForAggregate(ctx, enums.AggregateLedgerEntry, first.Entry.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, enums.EventWalletCredited, events[0].EventType)
}

func TestCreditRejectsNonPositiveAmount(t *testing.T) {
	client := dbtest.Open(t)
	svc := newTestService(t, client)
	seller := seedSeller(t, client)

	for _, amount := range []int64{0, -10} {
		_, err := svc.Credit(context.Background(), CreditInput{SellerID: seller.ID, OrderID: uuid.New(), AmountCents: amount})
		require.Error(t, err)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	}
	assert.Equal(t, int64(0), balanceOf(t, client, seller.ID))
}

func TestCreditUnknownSellerRollsBackEntry(t *testing.T) {
	ctx := context.Background()
	client := dbtest.Open(t)
	svc := newTestService(t, client)
	orderID := uuid.New()

	_, err := svc.Credit(ctx, CreditInput{SellerID: uuid.New(), OrderID: orderID, AmountCents: 100})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	entries, err := svc.ListByOrder(ctx, orderID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestConcurrentCreditsProduceSingleEntry(t *testing.T) {
	ctx := context.Background()
	client := dbtest.Open(t)
	svc := newTestService(t, client)
	seller := seedSeller(t, client)
	orderID := uuid.New()

	const callers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Credit(ctx, CreditInput{SellerID: seller.ID, OrderID: orderID, AmountCents: 999})
			if err != nil {
				t.Errorf("credit: %v", err)
				return
			}
			if res.Applied {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, applied)
	assert.Equal(t, int64(999), balanceOf(t, client, seller.ID))

	total, err := svc.SumBySeller(ctx, seller.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(999), total)
}

func TestReadsAcrossSellersAndOrders(t *testing.T) {
	ctx := context.Background()
	client := dbtest.Open(t)
	svc := newTestService(t, client)
	s1 := seedSeller(t, client)
	s2 := seedSeller(t, client)
	orderA := uuid.New()
	orderB := uuid.New()

	for _, in := range []CreditInput{
		{SellerID: s1.ID, OrderID: orderA, AmountCents: 100},
		{SellerID: s2.ID, OrderID: orderA, AmountCents: 200},
		{SellerID: s1.ID, OrderID: orderB, AmountCents: 300},
	} {
		_, err := svc.Credit(ctx, in)
		require.NoError(t, err)
	}

	sellers, err := svc.SellersForOrder(ctx, orderA)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{s1.ID, s2.ID}, sellers)

	sum, err := svc.SumBySeller(ctx, s1.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(400), sum)

	page, err := svc.ListBySeller(ctx, s1.ID, pagination.Params{Limit: 1})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.NotEmpty(t, page.NextCursor)

	next, err := svc.ListBySeller(ctx, s1.ID, pagination.Params{Limit: 1, Cursor: page.NextCursor})
	require.NoError(t, err)
	require.Len(t, next.Items, 1)
	assert.Empty(t, next.NextCursor)
	assert.NotEqual(t, page.Items[0].ID, next.Items[0].ID)
}

type failingProjector struct{}

func (failingProjector) ApplyCredit(context.Context, *gorm.DB, uuid.UUID, int64) error {
	return pkgerrors.Wrap(pkgerrors.CodeDependency, errors.New("connection reset"), "increment wallet balance")
}

func TestCreditProjectorFailureIsRetryableAndRollsBack(t *testing.T) {
	ctx := context.Background()
	client := dbtest.Open(t)
	logg := testLogger()
	svc, err := NewService(NewRepository(client.DB()), client, failingProjector{}, outbox.NewService(outbox.NewRepository(client.DB()), logg), logg)
	require.NoError(t, err)

	orderID := uuid.New()
	_, err = svc.Credit(ctx, CreditInput{SellerID: uuid.New(), OrderID: orderID, AmountCents: 50})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsRetryable(err))

	entries, err := svc.ListByOrder(ctx, orderID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

type lostRaceRepo struct {
	Repository
	existing *models.WalletLedgerEntry
	inserts  int
}

func (r *lostRaceRepo) WithTx(*gorm.DB) Repository { return r }

func (r *lostRaceRepo) InsertIfAbsent(context.Context, *models.WalletLedgerEntry) (bool, error) {
	r.inserts++
	return false, nil
}

func (r *lostRaceRepo) Find(_ context.Context, sellerID, orderID uuid.UUID, _ enums.LedgerEntryType) (*models.WalletLedgerEntry, error) {
	if sellerID != r.existing.SellerID || orderID != r.existing.OrderID {
		return nil, errors.New("unexpected lookup")
	}
	return r.existing, nil
}

type inlineTx struct{}

func (inlineTx) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error { return fn(nil) }

type countingProjector struct{ calls int }

func (p *countingProjector) ApplyCredit(context.Context, *gorm.DB, uuid.UUID, int64) error {
	p.calls++
	return nil
}

type countingEmitter struct{ calls int }

func (e *countingEmitter) Emit(context.Context, *gorm.DB, outbox.DomainEvent) error {
	e.calls++
	return nil
}

func TestCreditLostInsertRaceSkipsProjection(t *testing.T) {
	existing := &models.WalletLedgerEntry{
		ID:          uuid.New(),
		SellerID:    uuid.New(),
		OrderID:     uuid.New(),
		Type:        enums.LedgerEntryTypeCredit,
		AmountCents: 90,
	}
	repo := &lostRaceRepo{existing: existing}
	projector := &countingProjector{}
	emitter := &countingEmitter{}
	svc, err := NewService(repo, inlineTx{}, projector, emitter, testLogger())
	require.NoError(t, err)

	result, err := svc.Credit(context.Background(), CreditInput{SellerID: existing.SellerID, OrderID: existing.OrderID, AmountCents: 90})
	require.NoError(t, err)
	assert.False(t, result.Applied)
	require.NotNil(t, result.Entry)
	assert.Equal(t, existing.ID, result.Entry.ID)
	assert.Equal(t, 1, repo.inserts)
	assert.Zero(t, projector.calls)
	assert.Zero(t, emitter.calls)
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(nil, nil, nil, nil, nil)
	require.Error(t, err)
}
