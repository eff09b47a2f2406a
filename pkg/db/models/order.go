package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-ledger/pkg/enums"
	"github.com/angelmondragon/marketplace-ledger/pkg/types"
)

// Order is the buyer-facing aggregate settled across one or more sellers.
type Order struct {
	ID                 uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	BuyerID            uuid.UUID       `gorm:"column:buyer_id;type:uuid;not null;index"`
	ShippingAddress    *types.Address  `gorm:"column:shipping_address;type:jsonb;serializer:json"`
	ItemsPriceCents    int64           `gorm:"column:items_price_cents;not null"`
	TaxPriceCents      int64           `gorm:"column:tax_price_cents;not null;default:0"`
	ShippingPriceCents int64           `gorm:"column:shipping_price_cents;not null;default:0"`
	TotalPriceCents    int64           `gorm:"column:total_price_cents;not null"`
	IsPaid             bool            `gorm:"column:is_paid;not null;default:false"`
	PaidAt             *time.Time      `gorm:"column:paid_at"`
	PaymentReference   *string         `gorm:"column:payment_reference"`
	PaymentResult      types.RawJSON   `gorm:"column:payment_result;type:jsonb"`
	PaymentConfirmedAt *time.Time      `gorm:"column:payment_confirmed_at"`
	IsDelivered        bool            `gorm:"column:is_delivered;not null;default:false"`
	DeliveredAt        *time.Time      `gorm:"column:delivered_at"`
	Items              []OrderLineItem `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt          time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// BeforeCreate assigns the primary key when the caller did not.
func (o *Order) BeforeCreate(*gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

// Status derives the lifecycle state from the payment and delivery flags.
func (o *Order) Status() enums.OrderStatus {
	switch {
	case o.IsDelivered:
		return enums.OrderStatusDelivered
	case o.IsPaid:
		return enums.OrderStatusPaid
	default:
		return enums.OrderStatusCreated
	}
}

// SettlementPending reports whether a confirmation was recorded but the order is not yet paid.
func (o *Order) SettlementPending() bool {
	return o.PaymentConfirmedAt != nil && !o.IsPaid
}
