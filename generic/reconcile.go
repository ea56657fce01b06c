/*
reconcile.go - Cent-level rounding reconciliation

PURPOSE:
  After N line amounts have been rounded independently, their sum can drift
  a few cents away from the authoritative total. The reconciler pushes the
  difference back into the lines one cent at a time.

DETERMINISM:
  Lines are sorted before any adjustment:
    1. |amount| descending
    2. lineType ascending (lexicographic)
    3. unitId ascending (lexicographic)
    4. signed amount ascending
  The cent goes to index i mod N of that order. Input order never matters,
  so repeated runs over identical input produce identical output.

TERMINATION:
  The loop runs at most 2N times. A residual larger than that is reported
  back instead of being spread further.

EXAMPLE:
  Lines 33.33, 33.33, 33.33 against 100.00:
    diff = 0.01 -> first sorted line becomes 33.34
*/
package generic

import (
	"sort"

	"github.com/shopspring/decimal"
)

// ReconcileLine is one independently rounded amount.
type ReconcileLine struct {
	UnitID   UnitID
	LineType LineType
	Amount   decimal.Decimal
}

// ReconcileResult holds the adjusted lines in deterministic order.
type ReconcileResult struct {
	Lines       []ReconcileLine
	Adjustments int
	// Residual is what is left when the iteration bound was hit (normally zero).
	Residual decimal.Decimal
}

// Sum returns the rounded total of the result lines.
func (r ReconcileResult) Sum() decimal.Decimal {
	return sumLines(r.Lines)
}

// ReconcileRounding corrects the cent difference between Σ lines and expectedTotal.
// The input slice is not modified.
func ReconcileRounding(lines []ReconcileLine, expectedTotal decimal.Decimal) ReconcileResult {
	sorted := make([]ReconcileLine, len(lines))
	copy(sorted, lines)
	sort.SliceStable(sorted, func(i, j int) bool {
		ai, aj := sorted[i].Amount.Abs(), sorted[j].Amount.Abs()
		if !ai.Equal(aj) {
			return ai.GreaterThan(aj)
		}
		if sorted[i].LineType != sorted[j].LineType {
			return sorted[i].LineType < sorted[j].LineType
		}
		if sorted[i].UnitID != sorted[j].UnitID {
			return sorted[i].UnitID < sorted[j].UnitID
		}
		return sorted[i].Amount.LessThan(sorted[j].Amount)
	})

	result := ReconcileResult{Lines: sorted, Residual: decimal.Zero}
	n := len(sorted)
	if n == 0 {
		result.Residual = RoundMoney(expectedTotal)
		return result
	}

	diff := RoundMoney(expectedTotal.Sub(sumLines(sorted)))
	for i := 0; i < 2*n && diff.Abs().GreaterThanOrEqual(Cent); i++ {
		step := Cent
		if diff.IsNegative() {
			step = Cent.Neg()
		}
		idx := i % n
		sorted[idx].Amount = RoundMoney(sorted[idx].Amount.Add(step))
		diff = diff.Sub(step)
		result.Adjustments++
	}
	result.Residual = diff
	return result
}

func sumLines(lines []ReconcileLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Amount)
	}
	return RoundMoney(total)
}
