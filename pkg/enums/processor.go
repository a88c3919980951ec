package enums

import "fmt"

// Processor identifies the payment processor behind a merchant account.
type Processor string

const (
	ProcessorStripe Processor = "stripe"
	ProcessorPaypal Processor = "paypal"
)

var validProcessors = []Processor{
	ProcessorStripe,
	ProcessorPaypal,
}

// String implements fmt.Stringer.
func (p Processor) String() string {
	return string(p)
}

// IsValid reports whether the processor is supported.
func (p Processor) IsValid() bool {
	for _, candidate := range validProcessors {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParseProcessor converts raw input into a Processor.
func ParseProcessor(value string) (Processor, error) {
	for _, candidate := range validProcessors {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid processor %q", value)
}
