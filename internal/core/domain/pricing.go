package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Tier coefficients are fixed business constants, not configuration.
var tierCoefficients = map[DeliveryTier]decimal.Decimal{
	TierLow:      decimal.RequireFromString("1.0"),
	TierMedium:   decimal.RequireFromString("1.2"),
	TierHigh:     decimal.RequireFromString("1.5"),
	TierLossless: decimal.RequireFromString("2.0"),
}

// PriceForTier returns the charged price for one catalog item at the
// requested tier: basePrice × coefficient, rounded to 2 decimal places.
// Rounding happens per line item, before any summation.
func PriceForTier(basePrice decimal.Decimal, tier DeliveryTier) (decimal.Decimal, error) {
	coef, ok := tierCoefficients[tier]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("%w: %q", ErrInvalidTier, tier)
	}
	return basePrice.Mul(coef).Round(2), nil
}

// SumLineItems adds the already-rounded charged prices of every line item.
func SumLineItems(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.ChargedPrice)
	}
	return total
}
