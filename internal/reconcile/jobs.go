// Package reconcile holds the cron jobs that drive every confirmed order to a
// fully credited, paid state and keep cached balances equal to the ledger.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/marketplace-ledger/internal/wallet"
	"github.com/angelmondragon/marketplace-ledger/pkg/config"
	"github.com/angelmondragon/marketplace-ledger/pkg/db/models"
	"github.com/angelmondragon/marketplace-ledger/pkg/logger"
	"github.com/angelmondragon/marketplace-ledger/pkg/metrics"
	"github.com/angelmondragon/marketplace-ledger/pkg/pagination"
)

// Job names double as metric labels.
const (
	JobPendingSettlement = "pending_settlement"
	JobMissingCredits    = "missing_credits"
	JobBalanceDrift      = "balance_drift"
)

type orderReader interface {
	FindPendingSettlement(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
	FindPaidSince(ctx context.Context, since time.Time, after *pagination.Cursor, limit int) ([]models.Order, error)
}

type resettler interface {
	Resettle(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
}

type creditReader interface {
	SellersForOrder(ctx context.Context, orderID uuid.UUID) ([]uuid.UUID, error)
}

type sellerLister interface {
	ListSellerIDs(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error)
}

type balanceRepairer interface {
	Repair(ctx context.Context, sellerID uuid.UUID) (wallet.Drift, error)
}

// Params wires the reconciliation jobs.
type Params struct {
	Orders    orderReader
	Resettler resettler
	Credits   creditReader
	Sellers   sellerLister
	Balances  balanceRepairer
	Metrics   *metrics.ReconcileMetrics
	Logger    *logger.Logger
	Config    config.ReconcileConfig
	Now       func() time.Time
}

func (p Params) validate() error {
	switch {
	case p.Orders == nil:
		return fmt.Errorf("order reader required")
	case p.Resettler == nil:
		return fmt.Errorf("resettler required")
	case p.Credits == nil:
		return fmt.Errorf("credit reader required")
	case p.Sellers == nil:
		return fmt.Errorf("seller lister required")
	case p.Balances == nil:
		return fmt.Errorf("balance repairer required")
	case p.Logger == nil:
		return fmt.Errorf("logger required")
	}
	return nil
}

func (p Params) now() time.Time {
	if p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

func (p Params) batchSize() int {
	if p.Config.BatchSize <= 0 {
		return 200
	}
	return p.Config.BatchSize
}

// PendingSettlementJob re-settles orders confirmed longer than the grace period ago that are still unpaid.
type PendingSettlementJob struct{ p Params }

// MissingCreditsJob re-asserts credits for recently paid orders whose ledger lacks a seller.
type MissingCreditsJob struct{ p Params }

// BalanceDriftJob rewrites cached seller balances that disagree with the ledger sum.
type BalanceDriftJob struct{ p Params }

// NewJobs builds all reconciliation jobs in the order they should run.
func NewJobs(p Params) (*PendingSettlementJob, *MissingCreditsJob, *BalanceDriftJob, error) {
	if err := p.validate(); err != nil {
		return nil, nil, nil, err
	}
	return &PendingSettlementJob{p: p}, &MissingCreditsJob{p: p}, &BalanceDriftJob{p: p}, nil
}

func (j *PendingSettlementJob) Name() string { return JobPendingSettlement }

func (j *PendingSettlementJob) Run(ctx context.Context) error {
	cutoff := j.p.now().Add(-j.p.Config.GracePeriod)
	orders, err := j.p.Orders.FindPendingSettlement(ctx, cutoff, j.p.batchSize())
	if err != nil {
		return fmt.Errorf("find pending settlements: %w", err)
	}

	var errs error
	for _, order := range orders {
		if _, err := j.p.Resettler.Resettle(ctx, order.ID); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("order %s: %w", order.ID, err))
			continue
		}
		j.p.Metrics.IncRepair(JobPendingSettlement)
		j.p.Logger.Info(j.p.Logger.WithOrderID(ctx, order.ID.String()), "pending settlement completed")
	}
	return errs
}

func (j *MissingCreditsJob) Name() string { return JobMissingCredits }

func (j *MissingCreditsJob) Run(ctx context.Context) error {
	since := j.p.now().Add(-j.p.Config.Lookback)
	var (
		errs  error
		after *pagination.Cursor
	)
	for {
		if ctx.Err() != nil {
			return multierr.Append(errs, ctx.Err())
		}
		orders, err := j.p.Orders.FindPaidSince(ctx, since, after, j.p.batchSize())
		if err != nil {
			return multierr.Append(errs, fmt.Errorf("find paid orders: %w", err))
		}
		for _, order := range orders {
			errs = multierr.Append(errs, j.backfill(ctx, order))
		}
		if len(orders) < j.p.batchSize() {
			return errs
		}
		last := orders[len(orders)-1]
		if last.PaidAt == nil {
			return errs
		}
		after = &pagination.Cursor{CreatedAt: *last.PaidAt, ID: last.ID}
	}
}

func (j *MissingCreditsJob) backfill(ctx context.Context, order models.Order) error {
	missing, err := j.missingSellers(ctx, order)
	if err != nil {
		return fmt.Errorf("order %s: %w", order.ID, err)
	}
	if len(missing) == 0 {
		return nil
	}
	logCtx := j.p.Logger.WithFields(ctx, map[string]any{
		"order_id":        order.ID.String(),
		"missing_sellers": len(missing),
	})
	j.p.Logger.Warn(logCtx, "paid order missing seller credits")
	if _, err := j.p.Resettler.Resettle(ctx, order.ID); err != nil {
		return fmt.Errorf("order %s: %w", order.ID, err)
	}
	j.p.Metrics.IncRepair(JobMissingCredits)
	return nil
}

func (j *MissingCreditsJob) missingSellers(ctx context.Context, order models.Order) ([]uuid.UUID, error) {
	owed := map[uuid.UUID]int64{}
	for _, item := range order.Items {
		owed[item.SellerID] += item.SellerRevenueCents
	}
	credited, err := j.p.Credits.SellersForOrder(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	for _, id := range credited {
		delete(owed, id)
	}
	var missing []uuid.UUID
	for id, amount := range owed {
		if amount > 0 {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

func (j *BalanceDriftJob) Name() string { return JobBalanceDrift }

func (j *BalanceDriftJob) Run(ctx context.Context) error {
	var (
		errs  error
		after uuid.UUID
	)
	for {
		if ctx.Err() != nil {
			return multierr.Append(errs, ctx.Err())
		}
		ids, err := j.p.Sellers.ListSellerIDs(ctx, after, j.p.batchSize())
		if err != nil {
			return multierr.Append(errs, fmt.Errorf("list sellers: %w", err))
		}
		for _, id := range ids {
			drift, err := j.p.Balances.Repair(ctx, id)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("seller %s: %w", id, err))
				continue
			}
			if drift.HasDrift() {
				j.p.Metrics.IncRepair(JobBalanceDrift)
			}
		}
		if len(ids) < j.p.batchSize() {
			return errs
		}
		after = ids[len(ids)-1]
	}
}
