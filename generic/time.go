package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// TIME POINT - Calendar day abstraction (all billing math is day-based)
// =============================================================================

// TimePoint is a calendar day in UTC. Billing never looks below day granularity:
// occupancy, collection dates and booking periods are all whole days.
type TimePoint struct {
	Time time.Time
}

const dateLayout = "2006-01-02"

// Constructors
func NewTimePoint(year int, month time.Month, day int) TimePoint {
	return TimePoint{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// FromTime truncates t to its calendar day (in t's own location).
func FromTime(t time.Time) TimePoint {
	return NewTimePoint(t.Year(), t.Month(), t.Day())
}

// ParseDate parses an ISO date (YYYY-MM-DD).
func ParseDate(s string) (TimePoint, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return TimePoint{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return FromTime(t), nil
}

// ParseOptionalDate returns nil for an empty string.
func ParseOptionalDate(s string) (*TimePoint, error) {
	if s == "" {
		return nil, nil
	}
	tp, err := ParseDate(s)
	if err != nil {
		return nil, err
	}
	return &tp, nil
}

func Today() TimePoint {
	return FromTime(time.Now().UTC())
}

// Comparison
func (tp TimePoint) Before(other TimePoint) bool        { return tp.normalize().Before(other.normalize()) }
func (tp TimePoint) Equal(other TimePoint) bool         { return tp.normalize().Equal(other.normalize()) }
func (tp TimePoint) After(other TimePoint) bool         { return tp.normalize().After(other.normalize()) }
func (tp TimePoint) BeforeOrEqual(other TimePoint) bool { return tp.Before(other) || tp.Equal(other) }
func (tp TimePoint) AfterOrEqual(other TimePoint) bool  { return tp.After(other) || tp.Equal(other) }

func (tp TimePoint) normalize() time.Time {
	return time.Date(tp.Time.Year(), tp.Time.Month(), tp.Time.Day(), 0, 0, 0, 0, time.UTC)
}

// Arithmetic
func (tp TimePoint) AddDays(n int) TimePoint   { return TimePoint{Time: tp.normalize().AddDate(0, 0, n)} }
func (tp TimePoint) AddMonths(n int) TimePoint { return TimePoint{Time: tp.normalize().AddDate(0, n, 0)} }

// Properties
func (tp TimePoint) Year() int         { return tp.Time.Year() }
func (tp TimePoint) Month() time.Month { return tp.Time.Month() }
func (tp TimePoint) Day() int          { return tp.Time.Day() }
func (tp TimePoint) IsZero() bool      { return tp.Time.IsZero() }

func (tp TimePoint) String() string {
	return tp.normalize().Format(dateLayout)
}

// =============================================================================
// TIME UTILITIES
// =============================================================================
// Note: Period type is defined in period.go

// DaysBetween is the exclusive day distance (to - from). Same day yields 0.
func DaysBetween(from, to TimePoint) int {
	return int(to.normalize().Sub(from.normalize()).Hours() / 24)
}

// DaysInclusive counts calendar days in [from, to], both ends included.
// Returns 0 when to is before from.
func DaysInclusive(from, to TimePoint) int {
	if to.Before(from) {
		return 0
	}
	return DaysBetween(from, to) + 1
}

func StartOfYear(year int) TimePoint                    { return NewTimePoint(year, time.January, 1) }
func EndOfYear(year int) TimePoint                      { return NewTimePoint(year, time.December, 31) }
func StartOfMonth(year int, month time.Month) TimePoint { return NewTimePoint(year, month, 1) }
func EndOfMonth(year int, month time.Month) TimePoint {
	return TimePoint{Time: time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)}
}

// DaysInYear returns 366 for leap years, 365 otherwise.
func DaysInYear(year int) int {
	return DaysInclusive(StartOfYear(year), EndOfYear(year))
}

// DaysInMonth returns the actual day count (28-31).
func DaysInMonth(year int, month time.Month) int {
	return EndOfMonth(year, month).Day()
}
