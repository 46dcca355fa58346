// Package core provides the ledger domain types and money helpers.
//
// Amounts are carried as decimal.Decimal end to end so that sums over the
// ledger never accumulate binary floating point drift.
package core

import (
	"github.com/shopspring/decimal"
)

// MoneyPlaces is the number of fractional digits amounts are rounded to.
const MoneyPlaces = 2

var hundred = decimal.NewFromInt(100)

// Percent returns part/whole*100. A zero whole yields zero rather than a
// division error; callers treat that as "nothing to measure against".
func Percent(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return part.Div(whole).Mul(hundred)
}

// SumAmounts adds a list of amounts.
func SumAmounts(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}
