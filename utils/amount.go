// Package utils holds small parsing and validation helpers shared across
// the payment core.
package utils

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// ParseAmount checks that a price string is a valid non-negative decimal.
func ParseAmount(amount string) (decimal.Decimal, error) {
	if amount == "" {
		return decimal.Decimal{}, fmt.Errorf("amount cannot be empty")
	}

	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid amount format: %w", err)
	}
	if dec.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("amount cannot be negative")
	}

	return dec, nil
}

// ParseAmountWithDecimals converts a decimal price string into the asset's
// smallest-unit integer representation (price × 10^decimals).
func ParseAmountWithDecimals(amount string, decimals int) (*big.Int, error) {
	dec, err := ParseAmount(amount)
	if err != nil {
		return nil, err
	}

	scaled := dec.Shift(int32(decimals))
	if !scaled.IsInteger() {
		return nil, fmt.Errorf("amount %s has more than %d decimal places", amount, decimals)
	}

	return scaled.BigInt(), nil
}

// FormatAmountFromBigInt renders a smallest-unit integer back into a decimal
// string with the asset's precision.
func FormatAmountFromBigInt(amount *big.Int, decimals int) string {
	return decimal.NewFromBigInt(amount, -int32(decimals)).String()
}
