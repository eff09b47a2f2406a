package orders

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-ledger/pkg/types"
)

// CreateOrderInput is a buyer's cart at checkout.
type CreateOrderInput struct {
	BuyerID            uuid.UUID       `json:"buyer_id" validate:"required"`
	ShippingAddress    *types.Address  `json:"shipping_address" validate:"omitempty"`
	TaxPriceCents      int64           `json:"tax_price_cents" validate:"gte=0"`
	ShippingPriceCents int64           `json:"shipping_price_cents" validate:"gte=0"`
	Items              []LineItemInput `json:"items" validate:"required,min=1,dive"`
}

// LineItemInput is one product line. Price is in cents.
type LineItemInput struct {
	ProductID      uuid.UUID `json:"product_id" validate:"required"`
	SellerID       uuid.UUID `json:"seller_id" validate:"required"`
	Name           string    `json:"name" validate:"required"`
	Category       string    `json:"category"`
	UnitPriceCents int64     `json:"unit_price_cents" validate:"gte=0"`
	Quantity       int       `json:"quantity" validate:"gte=1"`
}

// ConfirmPaymentInput carries a verified payment confirmation.
type ConfirmPaymentInput struct {
	OrderID          uuid.UUID       `json:"order_id"`
	BuyerID          uuid.UUID       `json:"buyer_id"`
	PaymentReference string          `json:"payment_reference"`
	PaymentResult    json.RawMessage `json:"payment_result,omitempty"`
}
