package wallet

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/marketplace-ledger/pkg/db/models"
	"github.com/angelmondragon/marketplace-ledger/pkg/pagination"
)

// Repository persists the cached seller balance and reads the ledger it is derived from.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	IncrementBalance(ctx context.Context, sellerID uuid.UUID, amountCents int64) (int64, error)
	FindSeller(ctx context.Context, sellerID uuid.UUID) (*models.Seller, error)
	LockSeller(ctx context.Context, sellerID uuid.UUID) (*models.Seller, error)
	SetBalance(ctx context.Context, sellerID uuid.UUID, balanceCents int64) error
	SumLedger(ctx context.Context, sellerID uuid.UUID) (int64, error)
	ListSellerIDs(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error)
	ListEntries(ctx context.Context, sellerID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.WalletLedgerEntry, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository binds a wallet repository to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) IncrementBalance(ctx context.Context, sellerID uuid.UUID, amountCents int64) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Seller{}).
		Where("id = ?", sellerID).
		UpdateColumn("wallet_balance_cents", gorm.Expr("wallet_balance_cents + ?", amountCents))
	return res.RowsAffected, res.Error
}

func (r *repository) FindSeller(ctx context.Context, sellerID uuid.UUID) (*models.Seller, error) {
	var seller models.Seller
	if err := r.db.WithContext(ctx).Where("id = ?", sellerID).First(&seller).Error; err != nil {
		return nil, err
	}
	return &seller, nil
}

// LockSeller reads the seller row, holding a row lock on postgres until the transaction ends.
func (r *repository) LockSeller(ctx context.Context, sellerID uuid.UUID) (*models.Seller, error) {
	query := r.db.WithContext(ctx).Where("id = ?", sellerID)
	if r.db.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var seller models.Seller
	if err := query.First(&seller).Error; err != nil {
		return nil, err
	}
	return &seller, nil
}

func (r *repository) SetBalance(ctx context.Context, sellerID uuid.UUID, balanceCents int64) error {
	return r.db.WithContext(ctx).
		Model(&models.Seller{}).
		Where("id = ?", sellerID).
		UpdateColumn("wallet_balance_cents", balanceCents).Error
}

func (r *repository) SumLedger(ctx context.Context, sellerID uuid.UUID) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.WalletLedgerEntry{}).
		Select("COALESCE(SUM(amount_cents), 0)").
		Where("seller_id = ?", sellerID).
		Scan(&total).Error
	return total, err
}

func (r *repository) ListSellerIDs(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	query := r.db.WithContext(ctx).Model(&models.Seller{}).Order("id ASC").Limit(limit)
	if after != uuid.Nil {
		query = query.Where("id > ?", after)
	}
	if err := query.Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repository) ListEntries(ctx context.Context, sellerID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.WalletLedgerEntry, error) {
	var entries []models.WalletLedgerEntry
	query := r.db.WithContext(ctx).Where("seller_id = ?", sellerID)
	if err := pagination.Apply(query, cursor, limit).Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
