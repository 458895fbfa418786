// Package money handles amounts as integer minor units (cents).
// Decimal values only appear at system boundaries, where provider
// payloads and API requests carry major-unit strings.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var centsPerUnit = decimal.NewFromInt(100)

// ToCents converts a major-unit decimal string ("12.34") into minor units.
// Inputs with sub-cent precision are rejected rather than rounded.
func ToCents(value string) (int64, error) {
	dec, err := decimal.NewFromString(value)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", value, err)
	}
	cents := dec.Mul(centsPerUnit)
	if !cents.IsInteger() {
		return 0, fmt.Errorf("amount %q has sub-cent precision", value)
	}
	return cents.IntPart(), nil
}

// FromCents formats minor units as a major-unit string with two decimals.
func FromCents(cents int64) string {
	return decimal.NewFromInt(cents).Div(centsPerUnit).StringFixed(2)
}

// FromDecimal converts an already-parsed decimal into minor units,
// rejecting sub-cent precision.
func FromDecimal(dec decimal.Decimal) (int64, error) {
	cents := dec.Mul(centsPerUnit)
	if !cents.IsInteger() {
		return 0, fmt.Errorf("amount %s has sub-cent precision", dec.String())
	}
	return cents.IntPart(), nil
}
