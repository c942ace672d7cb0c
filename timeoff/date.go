package timeoff

import "time"

// =============================================================================
// DAY ARITHMETIC - all dates in this system are UTC midnight
// =============================================================================

// Day truncates t to UTC midnight. Every date that enters the system goes
// through this before comparison or storage.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// NewDate builds a UTC midnight date.
func NewDate(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// SameDay reports whether a and b fall on the same calendar day.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// DaysBetween returns the whole days from a to b (negative if b is earlier).
func DaysBetween(a, b time.Time) int {
	return int(Day(b).Sub(Day(a)).Hours() / 24)
}

// DaysInclusive enumerates every day of [from, to]. Returns nil when to is
// before from.
func DaysInclusive(from, to time.Time) []time.Time {
	from, to = Day(from), Day(to)
	if to.Before(from) {
		return nil
	}
	days := make([]time.Time, 0, DaysBetween(from, to)+1)
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// InRange reports whether d falls within [start, end] at day granularity.
func InRange(d, start, end time.Time) bool {
	d = Day(d)
	return !d.Before(Day(start)) && !d.After(Day(end))
}
