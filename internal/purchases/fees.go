package purchases

import "github.com/shopspring/decimal"

// Platform fee schedule: a percentage of the price plus a flat per-sale
// amount, rounded half away from zero. Free purchases carry no fee.
const (
	feePercent   = 10
	feeFlatCents = 50
)

// PlatformFeeCents computes the platform's cut of a purchase price.
func PlatformFeeCents(priceCents int64) int64 {
	if priceCents <= 0 {
		return 0
	}
	percentage := decimal.NewFromInt(priceCents).
		Mul(decimal.NewFromInt(feePercent)).
		Div(decimal.NewFromInt(100)).
		Round(0).
		IntPart()
	return percentage + feeFlatCents
}
