// Package money holds the fixed-point helpers used for every amount in the
// ledger. Amounts carry two fractional digits and are rounded half-up.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Places is the number of fractional digits kept on every amount.
const Places = 2

var (
	Zero    = decimal.Zero
	hundred = decimal.NewFromInt(100)
)

// Round normalizes d to two fractional digits.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

// Parse reads a decimal string such as "1200.50".
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return Round(d), nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) decimal.Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// FromInt builds a whole-unit amount.
func FromInt(n int64) decimal.Decimal {
	return decimal.NewFromInt(n)
}

// Percent returns pct% of d, rounded.
func Percent(d, pct decimal.Decimal) decimal.Decimal {
	return Round(d.Mul(pct).Div(hundred))
}

// Share returns d scaled by a fraction in [0,1], rounded.
func Share(d, fraction decimal.Decimal) decimal.Decimal {
	return Round(d.Mul(fraction))
}

// Min returns the smallest of the given amounts.
func Min(first decimal.Decimal, rest ...decimal.Decimal) decimal.Decimal {
	m := first
	for _, d := range rest {
		if d.LessThan(m) {
			m = d
		}
	}
	return m
}

// ClampZero returns d, or zero when d is negative.
func ClampZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// Positive reports whether d > 0.
func Positive(d decimal.Decimal) bool {
	return d.IsPositive()
}

// Sum adds all amounts.
func Sum(ds ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, d := range ds {
		total = total.Add(d)
	}
	return total
}
