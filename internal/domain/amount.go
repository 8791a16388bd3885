package domain

import (
	"math/big"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// NativeDecimals is the number of fractional digits of ledger-native amounts.
const NativeDecimals = 18

// ToNative converts a human amount to ledger-native units, truncating
// anything beyond NativeDecimals fractional digits.
func ToNative(d decimal.Decimal) *big.Int {
	return d.Shift(NativeDecimals).BigInt()
}

// FromNative converts ledger-native units to a human amount.
func FromNative(v *big.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -NativeDecimals)
}

// ParseAmount parses a human-entered positive decimal string.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, errors.Wrap(ErrInvalidAmount, "amount is empty")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errors.Wrapf(ErrInvalidAmount, "parse %q", s)
	}
	if !d.Equal(d.Truncate(NativeDecimals)) {
		return decimal.Zero, errors.Wrapf(ErrInvalidAmount, "%q has more than %d fractional digits", s, NativeDecimals)
	}
	if !d.IsPositive() {
		return decimal.Zero, errors.Wrapf(ErrInvalidAmount, "%q must be positive", s)
	}
	return d, nil
}
