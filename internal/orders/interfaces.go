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

// Repository exposes the persistence operations required by the order aggregate.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error)
	CreateOrderLineItems(ctx context.Context, items []models.OrderLineItem) error
	FindOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	RecordConfirmation(ctx context.Context, id uuid.UUID, reference *string, result types.RawJSON, at time.Time) (bool, error)
	MarkPaid(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	FindPendingSettlement(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
	FindPaidSince(ctx context.Context, since time.Time, after *pagination.Cursor, limit int) ([]models.Order, error)
}
