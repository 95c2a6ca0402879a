package model

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Amounts are int64 minor units (paise, cents). Only fee rates are decimal.

// ParseFeeRate parses a platform fee rate such as "0.10". The rate must be
// in [0, 1).
func ParseFeeRate(s string) (decimal.Decimal, error) {
	r, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse fee rate %q: %w", s, err)
	}
	if r.IsNegative() || r.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("fee rate %s out of range [0,1)", r)
	}
	return r, nil
}

// SplitFee applies rate once to gross and returns the platform fee and the
// vendor's net amount. The fee is rounded half up to the minor unit, so
// fee + net == gross always holds.
func SplitFee(gross int64, rate decimal.Decimal) (fee, net int64, err error) {
	if gross <= 0 {
		return 0, 0, ErrInvalidAmount
	}
	fee = decimal.NewFromInt(gross).Mul(rate).Round(0).IntPart()
	if fee < 0 || fee > gross {
		return 0, 0, fmt.Errorf("fee %d outside gross %d", fee, gross)
	}
	return fee, gross - fee, nil
}

// MajorToMinor converts a provider amount expressed in major units
// ("499.50") to minor units using two decimal places.
func MajorToMinor(major decimal.Decimal) int64 {
	return major.Shift(2).Round(0).IntPart()
}

// NormalizeCurrency upper-cases and trims an ISO-4217 code.
func NormalizeCurrency(c string) string {
	return strings.ToUpper(strings.TrimSpace(c))
}
