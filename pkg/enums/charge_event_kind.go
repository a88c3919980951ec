package enums

import "fmt"

// ChargeEventKind classifies processor webhook events attached to a charge.
type ChargeEventKind string

const (
	ChargeEventKindDisputeWon        ChargeEventKind = "dispute_won"
	ChargeEventKindDisputeLost       ChargeEventKind = "dispute_lost"
	ChargeEventKindDisputeFormalized ChargeEventKind = "dispute_formalized"
	ChargeEventKindInformational     ChargeEventKind = "informational"
)

var validChargeEventKinds = []ChargeEventKind{
	ChargeEventKindDisputeWon,
	ChargeEventKindDisputeLost,
	ChargeEventKindDisputeFormalized,
	ChargeEventKindInformational,
}

// String implements fmt.Stringer.
func (k ChargeEventKind) String() string {
	return string(k)
}

// IsValid reports whether the kind is part of the closed set.
func (k ChargeEventKind) IsValid() bool {
	for _, candidate := range validChargeEventKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParseChargeEventKind converts raw input into a ChargeEventKind.
func ParseChargeEventKind(value string) (ChargeEventKind, error) {
	for _, candidate := range validChargeEventKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid charge event kind %q", value)
}
