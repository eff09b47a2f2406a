package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-ledger/pkg/db/models"
	"github.com/angelmondragon/marketplace-ledger/pkg/pagination"
	"github.com/angelmondragon/marketplace-ledger/pkg/types"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error) {
	if err := r.db.WithContext(ctx).Omit("Items").Create(order).Error; err != nil {
		return nil, err
	}
	return order, nil
}

func (r *repository) CreateOrderLineItems(ctx context.Context, items []models.OrderLineItem) error {
	if len(items) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&items).Error
}

func itemsByPosition(db *gorm.DB) *gorm.DB {
	return db.Order("position ASC")
}

func (r *repository) FindOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items", itemsByPosition).
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// RecordConfirmation stamps the first confirmation only. It reports whether this call wrote it.
func (r *repository) RecordConfirmation(ctx context.Context, id uuid.UUID, reference *string, result types.RawJSON, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND is_paid = ? AND payment_confirmed_at IS NULL", id, false).
		Updates(map[string]any{
			"payment_confirmed_at": at,
			"payment_reference":    reference,
			"payment_result":       result,
		})
	return res.RowsAffected == 1, res.Error
}

// MarkPaid flips is_paid false to true. Only one caller ever observes true.
func (r *repository) MarkPaid(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND is_paid = ?", id, false).
		Updates(map[string]any{
			"is_paid": true,
			"paid_at": at,
		})
	return res.RowsAffected == 1, res.Error
}

// FindPendingSettlement lists orders confirmed before cutoff that are still unpaid, oldest first.
func (r *repository) FindPendingSettlement(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Preload("Items", itemsByPosition).
		Where("is_paid = ? AND payment_confirmed_at IS NOT NULL AND payment_confirmed_at <= ?", false, cutoff.UTC()).
		Order("payment_confirmed_at ASC").
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// FindPaidSince pages through orders paid at or after since, newest first.
// The cursor keys on paid_at then id; pass the last row of the previous page.
func (r *repository) FindPaidSince(ctx context.Context, since time.Time, after *pagination.Cursor, limit int) ([]models.Order, error) {
	query := r.db.WithContext(ctx).
		Preload("Items", itemsByPosition).
		Where("is_paid = ? AND paid_at >= ?", true, since.UTC())
	if after != nil {
		at := after.CreatedAt.UTC()
		query = query.Where("(paid_at < ? OR (paid_at = ? AND id < ?))", at, at, after.ID)
	}
	var orders []models.Order
	err := query.Order("paid_at DESC").Order("id DESC").Limit(limit).Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}
