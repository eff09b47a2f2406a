package commission

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LineInput identifies the line item a rate is resolved for.
type LineInput struct {
	SellerID       uuid.UUID
	ProductID      uuid.UUID
	Category       string
	UnitPriceCents int64
	Quantity       int
}

// RateResolver picks the platform rate for a line item at order creation.
type RateResolver interface {
	Rate(ctx context.Context, line LineInput) (decimal.Decimal, error)
}

// FixedRate applies one platform-wide rate to every line.
type FixedRate struct {
	rate decimal.Decimal
}

// NewFixedRate validates rate and returns a resolver for it.
func NewFixedRate(rate decimal.Decimal) (FixedRate, error) {
	if err := ValidateRate(rate); err != nil {
		return FixedRate{}, err
	}
	return FixedRate{rate: rate}, nil
}

// Rate implements RateResolver.
func (f FixedRate) Rate(context.Context, LineInput) (decimal.Decimal, error) {
	return f.rate, nil
}

// Calculator resolves the rate for a line and freezes the split.
type Calculator struct {
	resolver RateResolver
}

// NewCalculator builds a calculator around resolver.
func NewCalculator(resolver RateResolver) (*Calculator, error) {
	if resolver == nil {
		return nil, fmt.Errorf("rate resolver required")
	}
	return &Calculator{resolver: resolver}, nil
}

// Calculate resolves the line's rate and splits its gross.
func (c *Calculator) Calculate(ctx context.Context, line LineInput) (LineSplit, error) {
	rate, err := c.resolver.Rate(ctx, line)
	if err != nil {
		return LineSplit{}, fmt.Errorf("resolve commission rate: %w", err)
	}
	return Split(line.UnitPriceCents, line.Quantity, rate)
}
