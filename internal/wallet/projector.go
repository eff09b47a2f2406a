package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	pkgerrors "github.com/angelmondragon/marketplace-ledger/pkg/errors"
	"github.com/angelmondragon/marketplace-ledger/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Drift compares the cached wallet balance with the ledger sum for one seller.
type Drift struct {
	SellerID    uuid.UUID
	CachedCents int64
	LedgerCents int64
}

// Delta is how far the cached balance is above (positive) or below the ledger.
func (d Drift) Delta() int64 {
	return d.CachedCents - d.LedgerCents
}

// HasDrift reports whether the cache disagrees with the ledger.
func (d Drift) HasDrift() bool {
	return d.CachedCents != d.LedgerCents
}

// Projector is the only writer of sellers.wallet_balance_cents.
type Projector struct {
	repo Repository
	tx   txRunner
	logg *logger.Logger
}

// NewProjector wires the balance projector.
func NewProjector(repo Repository, tx txRunner, logg *logger.Logger) (*Projector, error) {
	if repo == nil {
		return nil, fmt.Errorf("wallet repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Projector{repo: repo, tx: tx, logg: logg}, nil
}

// ApplyCredit atomically increments the cached balance inside the caller's transaction.
func (p *Projector) ApplyCredit(ctx context.Context, tx *gorm.DB, sellerID uuid.UUID, amountCents int64) error {
	if amountCents <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "credit amount must be positive")
	}
	rows, err := p.repo.WithTx(tx).IncrementBalance(ctx, sellerID, amountCents)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "increment wallet balance")
	}
	if rows != 1 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "seller not found")
	}
	return nil
}

// Recompute reads the cached balance and the ledger sum without changing either.
func (p *Projector) Recompute(ctx context.Context, sellerID uuid.UUID) (Drift, error) {
	return p.drift(ctx, p.repo, sellerID, false)
}

// Repair overwrites the cached balance with the ledger sum. It returns the drift observed before the write.
func (p *Projector) Repair(ctx context.Context, sellerID uuid.UUID) (Drift, error) {
	var observed Drift
	err := p.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := p.repo.WithTx(tx)
		drift, err := p.drift(ctx, repo, sellerID, true)
		if err != nil {
			return err
		}
		observed = drift
		if !drift.HasDrift() {
			return nil
		}
		if err := repo.SetBalance(ctx, sellerID, drift.LedgerCents); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "repair wallet balance")
		}
		return nil
	})
	if err != nil {
		return Drift{}, err
	}
	if observed.HasDrift() {
		logCtx := p.logg.WithFields(ctx, map[string]any{
			"seller_id":    sellerID.String(),
			"cached_cents": observed.CachedCents,
			"ledger_cents": observed.LedgerCents,
		})
		p.logg.Warn(logCtx, "wallet balance repaired from ledger")
	}
	return observed, nil
}

func (p *Projector) drift(ctx context.Context, repo Repository, sellerID uuid.UUID, lock bool) (Drift, error) {
	if sellerID == uuid.Nil {
		return Drift{}, pkgerrors.New(pkgerrors.CodeValidation, "seller id required")
	}
	load := repo.FindSeller
	if lock {
		load = repo.LockSeller
	}
	seller, err := load(ctx, sellerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Drift{}, pkgerrors.New(pkgerrors.CodeNotFound, "seller not found")
		}
		return Drift{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load seller")
	}
	sum, err := repo.SumLedger(ctx, sellerID)
	if err != nil {
		return Drift{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum ledger")
	}
	return Drift{SellerID: sellerID, CachedCents: seller.WalletBalanceCents, LedgerCents: sum}, nil
}
