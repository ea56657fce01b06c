package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// PERIOD - Inclusive calendar window
// =============================================================================

// Period is a closed day window [Start, End].
//
// Examples:
//   - Calendar year 2025: Jan 1 - Dec 31
//   - Billing month 2025-02: Feb 1 - Feb 28
//   - Occupancy: move-in - move-out (or window end when still active)
type Period struct {
	Start TimePoint
	End   TimePoint
}

// YearPeriod returns Jan 1 - Dec 31 of year.
func YearPeriod(year int) Period {
	return Period{Start: StartOfYear(year), End: EndOfYear(year)}
}

// MonthPeriod returns the first to the last day of the month.
func MonthPeriod(year int, month time.Month) Period {
	return Period{Start: StartOfMonth(year, month), End: EndOfMonth(year, month)}
}

// Contains returns true if the time point is within the period [Start, End]
func (p Period) Contains(t TimePoint) bool {
	return t.AfterOrEqual(p.Start) && t.BeforeOrEqual(p.End)
}

// Days returns the inclusive day count; 0 for an inverted period.
func (p Period) Days() int {
	return DaysInclusive(p.Start, p.End)
}

// IsEmpty reports whether the period covers no day at all.
func (p Period) IsEmpty() bool {
	return p.End.Before(p.Start)
}

// Clamp intersects p with window. The second return value is false when the
// intersection is empty.
func (p Period) Clamp(window Period) (Period, bool) {
	start := p.Start
	if window.Start.After(start) {
		start = window.Start
	}
	end := p.End
	if window.End.Before(end) {
		end = window.End
	}
	clamped := Period{Start: start, End: end}
	if clamped.IsEmpty() {
		return Period{}, false
	}
	return clamped, true
}

// String returns a string representation of the period.
func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// =============================================================================
// BOOKING PERIOD KEY - Accounting month an amount is booked into
// =============================================================================

// PeriodKey identifies one accounting month of one organization.
type PeriodKey struct {
	OrganizationID OrganizationID
	Year           int
	Month          time.Month
}

// PeriodKeyFor resolves the accounting month a calendar date belongs to.
func PeriodKeyFor(orgID OrganizationID, date TimePoint) PeriodKey {
	return PeriodKey{OrganizationID: orgID, Year: date.Year(), Month: date.Month()}
}

// Validate rejects months outside 1..12 and non-positive years.
func (k PeriodKey) Validate() error {
	if k.Month < time.January || k.Month > time.December || k.Year <= 0 {
		return fmt.Errorf("%w: %d/%d", ErrInvalidPeriod, int(k.Month), k.Year)
	}
	return nil
}

func (k PeriodKey) String() string {
	return fmt.Sprintf("%s:%04d-%02d", k.OrganizationID, k.Year, int(k.Month))
}
