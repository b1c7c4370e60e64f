// Package money holds the fixed-point rules for ledger amounts: two fractional
// digits, never negative, bounded by the NUMERIC(15,2) column.
package money

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits (currency minor units).
const Scale = 2

var (
	// Max is the largest representable balance or amount.
	Max = decimal.RequireFromString("9999999999999.99")

	ErrNegative    = errors.New("amount must not be negative")
	ErrNotPositive = errors.New("amount must be greater than zero")
	ErrTooPrecise  = errors.New("amount must have at most two decimal places")
	ErrTooLarge    = errors.New("amount exceeds the maximum supported value")
)

// ValidateBalance accepts zero or positive values with at most two decimals.
func ValidateBalance(d decimal.Decimal) error {
	if d.IsNegative() {
		return ErrNegative
	}
	return checkRange(d)
}

// ValidateAmount accepts strictly positive values with at most two decimals.
func ValidateAmount(d decimal.Decimal) error {
	if !d.IsPositive() {
		return ErrNotPositive
	}
	return checkRange(d)
}

func checkRange(d decimal.Decimal) error {
	if !d.Equal(d.Truncate(Scale)) {
		return ErrTooPrecise
	}
	if d.GreaterThan(Max) {
		return ErrTooLarge
	}
	return nil
}

// Normalize fixes the exponent to two decimals so equal values compare and
// serialize identically ("300" and "300.00" become "300.00").
func Normalize(d decimal.Decimal) decimal.Decimal {
	return d.Round(Scale)
}

// String formats d with exactly two fractional digits.
func String(d decimal.Decimal) string {
	return d.StringFixed(Scale)
}
