package enums

import "fmt"

// Recurrence is the billing cadence of a subscription purchase.
type Recurrence string

const (
	RecurrenceMonthly       Recurrence = "monthly"
	RecurrenceQuarterly     Recurrence = "quarterly"
	RecurrenceBiannually    Recurrence = "biannually"
	RecurrenceYearly        Recurrence = "yearly"
	RecurrenceEveryTwoYears Recurrence = "every_two_years"
)

var validRecurrences = []Recurrence{
	RecurrenceMonthly,
	RecurrenceQuarterly,
	RecurrenceBiannually,
	RecurrenceYearly,
	RecurrenceEveryTwoYears,
}

// String implements fmt.Stringer.
func (r Recurrence) String() string {
	return string(r)
}

// IsValid reports whether the recurrence is known.
func (r Recurrence) IsValid() bool {
	for _, candidate := range validRecurrences {
		if candidate == r {
			return true
		}
	}
	return false
}

// MonthCount returns the cadence expressed in months.
func (r Recurrence) MonthCount() (int, error) {
	switch r {
	case RecurrenceMonthly:
		return 1, nil
	case RecurrenceQuarterly:
		return 3, nil
	case RecurrenceBiannually:
		return 6, nil
	case RecurrenceYearly:
		return 12, nil
	case RecurrenceEveryTwoYears:
		return 24, nil
	default:
		return 0, fmt.Errorf("invalid recurrence %q", r)
	}
}

// ParseRecurrence converts raw input into a Recurrence.
func ParseRecurrence(value string) (Recurrence, error) {
	for _, candidate := range validRecurrences {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid recurrence %q", value)
}
