package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// OrderLineItem snapshots a purchased product together with its frozen commission split.
type OrderLineItem struct {
	ID                 uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	OrderID            uuid.UUID       `gorm:"column:order_id;type:uuid;not null;index"`
	Position           int             `gorm:"column:position;not null"`
	ProductID          uuid.UUID       `gorm:"column:product_id;type:uuid;not null;index"`
	SellerID           uuid.UUID       `gorm:"column:seller_id;type:uuid;not null;index"`
	Name               string          `gorm:"column:name;not null"`
	Category           string          `gorm:"column:category;not null;default:''"`
	UnitPriceCents     int64           `gorm:"column:unit_price_cents;not null"`
	Quantity           int             `gorm:"column:quantity;not null"`
	GrossCents         int64           `gorm:"column:gross_cents;not null"`
	CommissionRate     decimal.Decimal `gorm:"column:commission_rate;type:numeric(6,4);not null"`
	PlatformFeeCents   int64           `gorm:"column:platform_fee_cents;not null"`
	SellerRevenueCents int64           `gorm:"column:seller_revenue_cents;not null"`
	CreatedAt          time.Time       `gorm:"column:created_at;autoCreateTime"`
}

// BeforeCreate assigns the primary key when the caller did not.
func (i *OrderLineItem) BeforeCreate(*gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}
