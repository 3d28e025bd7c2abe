// Package money keeps amounts in integer minor units. The only place a
// fractional amount enters the system is a carrier-quoted price, which is
// converted here and always rounded up.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Currency is the ISO 4217 code used for every charge.
const Currency = "MXN"

var hundred = decimal.NewFromInt(100)

// MinorUnits is an amount in the smallest currency denomination (centavos).
type MinorUnits int64

// FromMajor converts a provider amount expressed in major units (e.g. 149.5)
// into minor units after applying markupPercent. The result is rounded up to
// the next whole minor unit so a quote never undercharges.
func FromMajor(amount float64, markupPercent int64) (MinorUnits, error) {
	if amount < 0 {
		return 0, fmt.Errorf("negative amount %v", amount)
	}
	value := decimal.NewFromFloat(amount)
	if markupPercent != 0 {
		factor := decimal.NewFromInt(100 + markupPercent).Div(hundred)
		value = value.Mul(factor)
	}
	return MinorUnits(value.Mul(hundred).Ceil().IntPart()), nil
}

// Major renders the amount as a decimal string in major units ("199.00").
func (m MinorUnits) Major() string {
	return decimal.NewFromInt(int64(m)).Div(hundred).StringFixed(2)
}

// String renders the amount with its currency, e.g. "$199.00 MXN".
func (m MinorUnits) String() string {
	return fmt.Sprintf("$%s %s", m.Major(), Currency)
}

// Mul multiplies by a non-negative quantity.
func (m MinorUnits) Mul(qty int64) MinorUnits {
	return m * MinorUnits(qty)
}
