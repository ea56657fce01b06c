/*
Package prorata converts occupancy intervals into day counts and cost shares.

PURPOSE:
  Operating costs are billed for the days a tenant actually occupied a unit.
  This package answers two questions:
    - How many days of a window did a tenancy cover? (inclusive both ends)
    - Which part of a yearly or monthly amount does that correspond to?

DAY COUNTING:
  Counting is inclusive on both ends: a tenant present from Jan 1 to Dec 31
  gets 365 days (366 in a leap year), and a move-in and move-out on the same
  day counts as 1 day, not 0.

YEARLY SHARES:
  ProRataShares splits a yearly amount over the tenancies of one unit. Days
  not covered by any tenancy are vacancy; their share goes to the owner.
  After rounding each share independently, the residual cent difference is
  added to the FIRST tenant share in input order. This is a deliberately
  simpler rule than generic.ReconcileRounding.

EXAMPLE:
  Year 2025 (365 days), total 1000.00
    Tenant A: Jan 1 - Jun 30 (181 days) -> 495.89
    Tenant B: Sep 1 - open   (122 days) -> 334.25
    Vacancy:  62 days                   -> owner 169.86
  Σ = 1000.00

SEE ALSO:
  - generic/period.go: Period.Clamp
  - settlement/monthly.go: MonthlyProRata applied to monthly rent
*/
package prorata

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/settlement-engine/generic"
)

// =============================================================================
// DAY COUNTS
// =============================================================================

// OccupancyDays clamps [moveIn, moveOut] to [windowStart, windowEnd] and
// returns the inclusive day count. A nil moveOut means the tenancy is still
// active. Empty or inverted intersections yield 0.
func OccupancyDays(moveIn generic.TimePoint, moveOut *generic.TimePoint, windowStart, windowEnd generic.TimePoint) int {
	end := windowEnd
	if moveOut != nil {
		end = *moveOut
	}
	clamped, ok := generic.Period{Start: moveIn, End: end}.Clamp(generic.Period{Start: windowStart, End: windowEnd})
	if !ok {
		return 0
	}
	return clamped.Days()
}

// Ratio returns days/total, or zero when total is not positive.
func Ratio(days, total int) decimal.Decimal {
	if total <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(days)).Div(decimal.NewFromInt(int64(total)))
}

// =============================================================================
// YEARLY SHARES
// =============================================================================

// TenantShare is one tenancy's part of a yearly amount.
type TenantShare struct {
	TenantID generic.TenantID
	Days     int
	Ratio    decimal.Decimal
	Amount   decimal.Decimal
}

// Result of a yearly pro-rata split.
type Result struct {
	TenantShares []TenantShare
	OwnerShare   decimal.Decimal
	VacancyDays  int
	DaysInYear   int
}

// Total returns Σ tenant shares + owner share.
func (r Result) Total() decimal.Decimal {
	total := r.OwnerShare
	for _, s := range r.TenantShares {
		total = total.Add(s.Amount)
	}
	return generic.RoundMoney(total)
}

// ProRataShares splits totalAmount over the occupancy periods of one unit for
// a calendar year. Uncovered days are vacancy and go to the owner.
// Σ TenantShares + OwnerShare == RoundMoney(totalAmount) for every input.
func ProRataShares(periods []generic.OccupancyPeriod, totalAmount decimal.Decimal, year int) Result {
	total := generic.RoundMoney(totalAmount)
	daysInYear := generic.DaysInYear(year)
	window := generic.YearPeriod(year)

	result := Result{
		TenantShares: make([]TenantShare, 0, len(periods)),
		DaysInYear:   daysInYear,
	}

	occupied := 0
	for _, p := range periods {
		days := OccupancyDays(p.MoveIn, p.MoveOut, window.Start, window.End)
		ratio := Ratio(days, daysInYear)
		result.TenantShares = append(result.TenantShares, TenantShare{
			TenantID: p.TenantID,
			Days:     days,
			Ratio:    ratio,
			Amount:   generic.RoundMoney(total.Mul(ratio)),
		})
		occupied += days
	}

	result.VacancyDays = daysInYear - occupied
	if result.VacancyDays < 0 {
		// Overlapping tenancies (caller error) leave no vacancy.
		result.VacancyDays = 0
	}
	result.OwnerShare = generic.RoundMoney(total.Mul(Ratio(result.VacancyDays, daysInYear)))

	residual := total.Sub(result.Total())
	if !residual.IsZero() {
		if len(result.TenantShares) > 0 {
			result.TenantShares[0].Amount = generic.RoundMoney(result.TenantShares[0].Amount.Add(residual))
		} else {
			result.OwnerShare = generic.RoundMoney(result.OwnerShare.Add(residual))
		}
	}
	return result
}

// =============================================================================
// MONTHLY PRO-RATA
// =============================================================================

// MonthlyProRata scopes a monthly amount to the days occupied in one month.
// Full coverage returns the full amount, no coverage returns zero, anything
// in between is proportional to the month's actual day count (28-31).
func MonthlyProRata(moveIn generic.TimePoint, moveOut *generic.TimePoint, year int, month time.Month, monthlyAmount decimal.Decimal) decimal.Decimal {
	window := generic.MonthPeriod(year, month)
	monthDays := window.Days()
	days := OccupancyDays(moveIn, moveOut, window.Start, window.End)

	switch {
	case days <= 0:
		return decimal.Zero
	case days >= monthDays:
		return generic.RoundMoney(monthlyAmount)
	default:
		return generic.RoundMoney(monthlyAmount.Mul(Ratio(days, monthDays)))
	}
}
