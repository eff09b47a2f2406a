package enums

// OrderStatus is the derived lifecycle state of an order: created -> paid -> delivered.
type OrderStatus string

const (
	OrderStatusCreated   OrderStatus = "created"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusDelivered OrderStatus = "delivered"
)

// String implements fmt.Stringer.
func (s OrderStatus) String() string {
	return string(s)
}
