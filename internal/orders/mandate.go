package orders

import (
	"github.com/zandy2test/gumroad-sub034/internal/gateway"
	"github.com/zandy2test/gumroad-sub034/pkg/db/models"
)

// MandateOptionsFor derives the payment-method mandate bound for a
// group's recurring purchases. Returns nil when nothing in the group is
// recurring, meaning no mandate is needed.
//
// A single subscription purchase maps its billing cadence onto a monthly
// interval (biannually becomes every 6 months, and so on). Any other
// shape falls back to a sporadic mandate bounded by the largest possible
// future charge, because one mandate cannot express several distinct
// recurring schedules at once.
func MandateOptionsFor(purchases []models.Purchase) *gateway.MandateOptions {
	var recurring []models.Purchase
	for _, purchase := range purchases {
		if purchase.IsOriginalSubscription || purchase.Recurrence != nil {
			recurring = append(recurring, purchase)
		}
	}
	if len(recurring) == 0 {
		return nil
	}

	if len(purchases) == 1 && recurring[0].Recurrence != nil {
		months, err := recurring[0].Recurrence.MonthCount()
		if err == nil {
			count := int64(months)
			return &gateway.MandateOptions{
				Interval:      gateway.MandateIntervalMonth,
				IntervalCount: &count,
				AmountCents:   recurring[0].TotalTransactionCents,
				AmountType:    gateway.MandateAmountMaximum,
			}
		}
	}

	var max int64
	for _, purchase := range purchases {
		if purchase.TotalTransactionCents > max {
			max = purchase.TotalTransactionCents
		}
	}
	return &gateway.MandateOptions{
		Interval:    gateway.MandateIntervalSporadic,
		AmountCents: max,
		AmountType:  gateway.MandateAmountMaximum,
	}
}
