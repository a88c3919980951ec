package enums

import "fmt"

// PurchaseState tracks a purchase through the charge flow.
type PurchaseState string

const (
	PurchaseStateInProgress PurchaseState = "in_progress"
	PurchaseStateSuccessful PurchaseState = "successful"
	PurchaseStateFailed     PurchaseState = "failed"
	PurchaseStateNotCharged PurchaseState = "not_charged"
)

var validPurchaseStates = []PurchaseState{
	PurchaseStateInProgress,
	PurchaseStateSuccessful,
	PurchaseStateFailed,
	PurchaseStateNotCharged,
}

// String implements fmt.Stringer.
func (s PurchaseState) String() string {
	return string(s)
}

// IsValid reports whether the state is known.
func (s PurchaseState) IsValid() bool {
	for _, candidate := range validPurchaseStates {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the charge flow may still mutate the purchase.
func (s PurchaseState) IsTerminal() bool {
	switch s {
	case PurchaseStateSuccessful, PurchaseStateFailed, PurchaseStateNotCharged:
		return true
	default:
		return false
	}
}

// ParsePurchaseState converts raw input into a PurchaseState.
func ParsePurchaseState(value string) (PurchaseState, error) {
	for _, candidate := range validPurchaseStates {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid purchase state %q", value)
}
