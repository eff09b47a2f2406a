package ledger

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/marketplace-ledger/pkg/db"
	"github.com/angelmondragon/marketplace-ledger/pkg/db/models"
	"github.com/angelmondragon/marketplace-ledger/pkg/enums"
	"github.com/angelmondragon/marketplace-ledger/pkg/pagination"
)

// Repository persists wallet ledger entries. Entries are insert-only.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	InsertIfAbsent(ctx context.Context, entry *models.WalletLedgerEntry) (bool, error)
	Find(ctx context.Context, sellerID, orderID uuid.UUID, entryType enums.LedgerEntryType) (*models.WalletLedgerEntry, error)
	ListBySeller(ctx context.Context, sellerID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.WalletLedgerEntry, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.WalletLedgerEntry, error)
	SumBySeller(ctx context.Context, sellerID uuid.UUID) (int64, error)
	SellersForOrder(ctx context.Context, orderID uuid.UUID) ([]uuid.UUID, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// InsertIfAbsent inserts entry unless (seller_id, order_id, type) already exists.
// It reports true only when this call created the row.
func (r *repository) InsertIfAbsent(ctx context.Context, entry *models.WalletLedgerEntry) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "seller_id"}, {Name: "order_id"}, {Name: "type"}},
			DoNothing: true,
		}).
		Create(entry)
	if res.Error != nil {
		if db.IsUniqueViolation(res.Error, models.WalletLedgerUniqueIndex) {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) Find(ctx context.Context, sellerID, orderID uuid.UUID, entryType enums.LedgerEntryType) (*models.WalletLedgerEntry, error) {
	var entry models.WalletLedgerEntry
	err := r.db.WithContext(ctx).
		Where("seller_id = ? AND order_id = ? AND type = ?", sellerID, orderID, entryType).
		First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repository) ListBySeller(ctx context.Context, sellerID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.WalletLedgerEntry, error) {
	var entries []models.WalletLedgerEntry
	query := r.db.WithContext(ctx).Where("seller_id = ?", sellerID)
	if err := pagination.Apply(query, cursor, limit).Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.WalletLedgerEntry, error) {
	var entries []models.WalletLedgerEntry
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Order("seller_id ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repository) SumBySeller(ctx context.Context, sellerID uuid.UUID) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.WalletLedgerEntry{}).
		Select("COALESCE(SUM(amount_cents), 0)").
		Where("seller_id = ?", sellerID).
		Scan(&total).Error
	return total, err
}

func (r *repository) SellersForOrder(ctx context.Context, orderID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.WalletLedgerEntry{}).
		Where("order_id = ?", orderID).
		Distinct("seller_id").
		Order("seller_id ASC").
		Pluck("seller_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
