package payloads

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// OrderCreatedEvent announces a new unpaid order and its frozen split.
type OrderCreatedEvent struct {
	OrderID            uuid.UUID     `json:"order_id"`
	BuyerID            uuid.UUID     `json:"buyer_id"`
	ItemsPriceCents    int64         `json:"items_price_cents"`
	TaxPriceCents      int64         `json:"tax_price_cents"`
	ShippingPriceCents int64         `json:"shipping_price_cents"`
	TotalPriceCents    int64         `json:"total_price_cents"`
	Sellers            []SellerShare `json:"sellers"`
}

// SellerShare is one seller's frozen portion of an order.
type SellerShare struct {
	SellerID           uuid.UUID `json:"seller_id"`
	GrossCents         int64     `json:"gross_cents"`
	PlatformFeeCents   int64     `json:"platform_fee_cents"`
	SellerRevenueCents int64     `json:"seller_revenue_cents"`
}

// OrderPaidEvent is emitted once every seller credit for the order exists.
type OrderPaidEvent struct {
	OrderID          uuid.UUID `json:"order_id"`
	BuyerID          uuid.UUID `json:"buyer_id"`
	PaymentReference string    `json:"payment_reference,omitempty"`
	TotalPriceCents  int64     `json:"total_price_cents"`
	PaidAt           time.Time `json:"paid_at"`
}

// OrderDeliveredEvent is emitted when the buyer confirms receipt.
type OrderDeliveredEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	BuyerID     uuid.UUID `json:"buyer_id"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// WalletCreditedEvent mirrors a newly inserted ledger credit.
type WalletCreditedEvent struct {
	EntryID     uuid.UUID `json:"entry_id"`
	SellerID    uuid.UUID `json:"seller_id"`
	OrderID     uuid.UUID `json:"order_id"`
	AmountCents int64     `json:"amount_cents"`
	CreatedAt   time.Time `json:"created_at"`
}

// PaymentConfirmedEvent is published by the payment gateway adapter once a charge is verified.
type PaymentConfirmedEvent struct {
	OrderID          uuid.UUID       `json:"order_id"`
	BuyerID          uuid.UUID       `json:"buyer_id"`
	PaymentReference string          `json:"payment_reference"`
	PaymentResult    json.RawMessage `json:"payment_result,omitempty"`
}
