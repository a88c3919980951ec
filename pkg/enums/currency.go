package enums

import (
	"fmt"
	"strings"
)

// Currency is an ISO 4217 code in lower case, as the processors report it.
type Currency string

const (
	CurrencyUSD Currency = "usd"
	CurrencyEUR Currency = "eur"
	CurrencyGBP Currency = "gbp"
	CurrencyCAD Currency = "cad"
	CurrencyAUD Currency = "aud"
	CurrencyJPY Currency = "jpy"
	CurrencyTWD Currency = "twd"
	CurrencyHUF Currency = "huf"
	CurrencyBRL Currency = "brl"
)

var validCurrencies = []Currency{
	CurrencyUSD,
	CurrencyEUR,
	CurrencyGBP,
	CurrencyCAD,
	CurrencyAUD,
	CurrencyJPY,
	CurrencyTWD,
	CurrencyHUF,
	CurrencyBRL,
}

// String implements fmt.Stringer.
func (c Currency) String() string {
	return string(c)
}

// IsValid reports whether the currency is supported for settlement.
func (c Currency) IsValid() bool {
	for _, candidate := range validCurrencies {
		if candidate == c {
			return true
		}
	}
	return false
}

// IsZeroDecimal reports whether amounts are expressed in whole units.
// Only JPY has no minor unit everywhere; TWD and HUF keep their ISO
// minor units in storage and are widened per processor at the wire.
func (c Currency) IsZeroDecimal() bool {
	return c == CurrencyJPY
}

// IsZeroDecimalFor reports whether the processor expresses the currency
// in whole units. PayPal rejects decimals for TWD and HUF even though
// ISO defines minor units for them.
func (c Currency) IsZeroDecimalFor(processor Processor) bool {
	if c.IsZeroDecimal() {
		return true
	}
	if processor == ProcessorPaypal {
		return c == CurrencyTWD || c == CurrencyHUF
	}
	return false
}

// ParseCurrency converts raw input into a Currency.
func ParseCurrency(value string) (Currency, error) {
	normalized := Currency(strings.ToLower(strings.TrimSpace(value)))
	for _, candidate := range validCurrencies {
		if candidate == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid currency %q", value)
}
