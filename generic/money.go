package generic

import (
	"math"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - EUR amounts, two decimal places after rounding
// =============================================================================

// MoneyPlaces is the number of decimal places every persisted amount carries.
const MoneyPlaces = 2

// Cent is the smallest representable amount.
var Cent = decimal.New(1, -MoneyPlaces)

// RoundMoney rounds half away from zero to two decimals.
// This is the single rounding law of the engine: every amount passes through
// it before it is compared, summed into a total, or persisted.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// RoundFloat converts and rounds a float. NaN and infinities yield zero.
func RoundFloat(f float64) decimal.Decimal {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero
	}
	return RoundMoney(decimal.NewFromFloat(f))
}

// MustParseMoney parses a decimal string and rounds it. Invalid input yields zero.
func MustParseMoney(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return RoundMoney(d)
}

// MoneyFromCents builds an amount from an integer cent count.
func MoneyFromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -MoneyPlaces)
}

// SumMoney adds amounts and rounds the result.
func SumMoney(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return RoundMoney(total)
}

// FormatMoney renders an amount with exactly two decimals ("1234.50").
func FormatMoney(d decimal.Decimal) string {
	return RoundMoney(d).StringFixed(MoneyPlaces)
}

// MinMoney returns the smaller of a and b.
func MinMoney(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
