// Package money converts between decimal price text and integer cents.
package money

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

var ErrInvalidAmount = errors.New("invalid amount")

var hundred = decimal.NewFromInt(100)

// ParseCents reads a non-negative price such as "10", "10.5" or "10,50".
// A comma is accepted as the decimal separator. Sub-cent digits are rounded
// half away from zero.
func ParseCents(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "$")
	raw = strings.TrimSpace(strings.ReplaceAll(raw, ",", "."))
	if raw == "" {
		return 0, errors.Wrap(ErrInvalidAmount, "empty")
	}

	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidAmount, "%q", raw)
	}
	if d.IsNegative() {
		return 0, errors.Wrapf(ErrInvalidAmount, "%q is negative", raw)
	}
	return d.Mul(hundred).Round(0).IntPart(), nil
}

// FormatCents renders cents with two fractional digits, e.g. 2050 -> "20.50".
func FormatCents(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}
