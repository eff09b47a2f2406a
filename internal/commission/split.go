// Package commission splits line-item gross revenue between the platform and the seller.
package commission

import (
	"math"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/marketplace-ledger/pkg/errors"
)

var one = decimal.NewFromInt(1)

// LineSplit is the frozen outcome of applying a rate to one line item.
// PlatformFeeCents + SellerRevenueCents always equals GrossCents.
type LineSplit struct {
	GrossCents         int64
	PlatformFeeCents   int64
	SellerRevenueCents int64
	Rate               decimal.Decimal
}

// Split computes the platform fee as gross*rate rounded half-up to the cent; the seller keeps the rest.
func Split(unitPriceCents int64, quantity int, rate decimal.Decimal) (LineSplit, error) {
	if unitPriceCents < 0 {
		return LineSplit{}, pkgerrors.New(pkgerrors.CodeValidation, "unit price must be non-negative")
	}
	if quantity <= 0 {
		return LineSplit{}, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	if err := ValidateRate(rate); err != nil {
		return LineSplit{}, err
	}
	if unitPriceCents > 0 && int64(quantity) > math.MaxInt64/unitPriceCents {
		return LineSplit{}, pkgerrors.New(pkgerrors.CodeValidation, "line item gross overflows")
	}

	gross := unitPriceCents * int64(quantity)
	fee := decimal.NewFromInt(gross).Mul(rate).Round(0).IntPart()

	return LineSplit{
		GrossCents:         gross,
		PlatformFeeCents:   fee,
		SellerRevenueCents: gross - fee,
		Rate:               rate,
	}, nil
}

// AddCents sums amounts, failing with a validation error instead of wrapping past MaxInt64.
// Negative amounts are rejected.
func AddCents(amounts ...int64) (int64, error) {
	var total int64
	for _, amount := range amounts {
		if amount < 0 {
			return 0, pkgerrors.New(pkgerrors.CodeValidation, "amount must be non-negative")
		}
		if total > math.MaxInt64-amount {
			return 0, pkgerrors.New(pkgerrors.CodeValidation, "amount overflows")
		}
		total += amount
	}
	return total, nil
}

// ValidateRate rejects rates outside [0,1].
func ValidateRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(one) {
		return pkgerrors.New(pkgerrors.CodeValidation, "commission rate must be within [0,1]").
			WithDetails(map[string]any{"rate": rate.String()})
	}
	return nil
}
