// Package money centralizes the monetary rounding rules shared by the offer
// engine and the coupon ledger. All user-visible amounts are rounded HALF_UP
// to 2 decimals; percentage math keeps 4 decimals until the final rounding.
package money

import (
	"github.com/shopspring/decimal"

	"github.com/shoplane/shoplane-backend/pkg/enums"
)

var hundred = decimal.NewFromInt(100)

// Round normalizes an amount to 2 decimals, HALF_UP.
func Round(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(2)
}

// PercentOf computes base * percent / 100 at 4-decimal precision, HALF_UP.
// Callers apply Round for the final 2-decimal figure.
func PercentOf(base, percent decimal.Decimal) decimal.Decimal {
	return base.Mul(percent).Div(hundred).Round(4)
}

// Discount resolves a PERCENT or FLAT discount value into money terms
// against the given base. The result is capped at base so a discount can
// never push a price negative, and rounded to 2 decimals.
func Discount(discountType enums.DiscountType, value, base decimal.Decimal) decimal.Decimal {
	var amount decimal.Decimal
	switch discountType {
	case enums.DiscountTypePercent:
		amount = PercentOf(base, value)
	case enums.DiscountTypeFlat:
		amount = value
	default:
		return decimal.Zero
	}
	if amount.GreaterThan(base) {
		amount = base
	}
	if amount.IsNegative() {
		return decimal.Zero
	}
	return Round(amount)
}

// Cap bounds amount at limit when limit is non-nil.
func Cap(amount decimal.Decimal, limit *decimal.Decimal) decimal.Decimal {
	if limit != nil && amount.GreaterThan(*limit) {
		return *limit
	}
	return amount
}
