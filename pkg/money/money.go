// Package money converts between stored minor units and decimal major units.
package money

import (
	"fmt"

	"github.com/angelmondragon/intlshop-backend/pkg/enums"
	"github.com/shopspring/decimal"
)

// ToMajor renders a minor-unit amount as a decimal in the currency's major unit.
func ToMajor(minor int64, currency enums.Currency) decimal.Decimal {
	return decimal.New(minor, -currency.Exponent())
}

// FormatMajor renders the amount with exactly the currency's fraction digits.
func FormatMajor(minor int64, currency enums.Currency) string {
	return ToMajor(minor, currency).StringFixed(currency.Exponent())
}

// ToMinor parses a major-unit string. Values with more precision than the
// currency allows are rejected rather than rounded.
func ToMinor(major string, currency enums.Currency) (int64, error) {
	d, err := decimal.NewFromString(major)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", major, err)
	}
	return DecimalToMinor(d, currency)
}

// DecimalToMinor converts a major-unit decimal to minor units.
func DecimalToMinor(d decimal.Decimal, currency enums.Currency) (int64, error) {
	shifted := d.Shift(currency.Exponent())
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("amount %s has more than %d fraction digits for %s", d.String(), currency.Exponent(), currency)
	}
	if shifted.Cmp(decimal.NewFromInt(maxMinor)) > 0 || shifted.Cmp(decimal.NewFromInt(-maxMinor)) < 0 {
		return 0, fmt.Errorf("amount %s out of range", d.String())
	}
	return shifted.IntPart(), nil
}

const maxMinor = int64(1) << 53
