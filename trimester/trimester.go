/*
Package trimester computes PTO accrual, carryover and remaining balance over
the three fixed four-month periods of a year.

PURPOSE:
  The calculator is a pure function over an employee's local entries and the
  accrual settings. It backs both the balance display and the pre-approval
  gate in the approval workflow, so the two can never disagree.

PERIODS:
  T1 = Jan 1 - Apr 30
  T2 = May 1 - Aug 31
  T3 = Sep 1 - Dec 31

ALGORITHM (per trimester, chronologically, threading a carryover accumulator):
  used         = sum of hours of PTO-type entries dated inside the trimester
  available    = min(earned + carryoverIn, maxAvailableCap)
  remaining    = available - used          (may go negative; shown as-is)
  carryoverOut = min(remaining, maxCarryoverHours), floored at 0 under the
                 default forgive policy
  carryoverIn of the next trimester = carryoverOut

  carryoverIn of T1 is always 0: hours never cross a year boundary.

OVERDRAFT:
  What happens to a negative remaining is a policy choice the business has
  not settled. Forgive (default) zeroes the carryover and forgets the debt.
  Clawback carries the negative remaining into the next trimester's
  carryover, shrinking it.

PRECISION:
  Entry hours are integers, but earned/carryover settings may be fractional,
  so all arithmetic runs on decimal.Decimal.

SEE ALSO:
  - approval/: uses RemainingForDate as the balance gate
  - timeoff/: the Entry type summed here
*/
package trimester

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/schedulehq/timeoff/timeoff"
)

// =============================================================================
// SETTINGS
// =============================================================================

// OverdraftPolicy decides whether a negative remaining balance is forgiven
// at the trimester boundary or clawed back from the next carryover.
type OverdraftPolicy string

const (
	OverdraftForgive  OverdraftPolicy = "forgive"
	OverdraftClawback OverdraftPolicy = "clawback"
)

// Settings are the accrual knobs. EarnedPerTrimester and MaxCarryoverHours
// come from the settings collaborator; MaxAvailableCap is a business
// constant that has never been configurable.
type Settings struct {
	EarnedPerTrimester decimal.Decimal
	MaxCarryoverHours  decimal.Decimal
	MaxAvailableCap    decimal.Decimal
	Overdraft          OverdraftPolicy
}

const (
	DefaultEarnedPerTrimester = 30
	DefaultMaxCarryoverHours  = 10
	MaxAvailableCap           = 40
)

// DefaultSettings returns the stock policy: 30 earned, carry up to 10,
// never hold more than 40, forgive overdrafts.
func DefaultSettings() Settings {
	return Settings{
		EarnedPerTrimester: decimal.NewFromInt(DefaultEarnedPerTrimester),
		MaxCarryoverHours:  decimal.NewFromInt(DefaultMaxCarryoverHours),
		MaxAvailableCap:    decimal.NewFromInt(MaxAvailableCap),
		Overdraft:          OverdraftForgive,
	}
}

// =============================================================================
// PERIODS
// =============================================================================

// Period is one trimester's inclusive date range.
type Period struct {
	Label string
	Start time.Time
	End   time.Time
}

// Contains reports whether d falls inside the period.
func (p Period) Contains(d time.Time) bool {
	return timeoff.InRange(d, p.Start, p.End)
}

// PeriodsFor returns the three trimesters of a year in order.
func PeriodsFor(year int) [3]Period {
	return [3]Period{
		{Label: "T1", Start: timeoff.NewDate(year, time.January, 1), End: timeoff.NewDate(year, time.April, 30)},
		{Label: "T2", Start: timeoff.NewDate(year, time.May, 1), End: timeoff.NewDate(year, time.August, 31)},
		{Label: "T3", Start: timeoff.NewDate(year, time.September, 1), End: timeoff.NewDate(year, time.December, 31)},
	}
}

// PeriodFor returns the trimester containing d and its index (0..2).
func PeriodFor(d time.Time) (Period, int) {
	periods := PeriodsFor(d.Year())
	for i, p := range periods {
		if p.Contains(d) {
			return p, i
		}
	}
	// Unreachable: the three periods tile the year.
	return periods[2], 2
}

// =============================================================================
// SUMMARY - derived, never persisted
// =============================================================================

// Summary is one trimester's computed balance sheet.
type Summary struct {
	Label        string
	Start        time.Time
	End          time.Time
	Earned       decimal.Decimal
	CarryoverIn  decimal.Decimal
	Available    decimal.Decimal // min(earned + carryoverIn, cap)
	Used         decimal.Decimal
	Remaining    decimal.Decimal // available - used, not clamped
	CarryoverOut decimal.Decimal
}

// =============================================================================
// CALCULATOR
// =============================================================================

// Summarize computes all three trimester summaries for a year from the
// employee's entries. Entries outside the year, and entries of types that
// do not count against balance, are ignored.
func Summarize(entries []timeoff.Entry, settings Settings, year int) [3]Summary {
	var out [3]Summary
	carryover := decimal.Zero // T1 starts the year clean

	for i, p := range PeriodsFor(year) {
		used := usedIn(entries, p)

		available := settings.EarnedPerTrimester.Add(carryover)
		if available.GreaterThan(settings.MaxAvailableCap) {
			available = settings.MaxAvailableCap
		}

		remaining := available.Sub(used)

		carryOut := remaining
		if carryOut.GreaterThan(settings.MaxCarryoverHours) {
			carryOut = settings.MaxCarryoverHours
		}
		if carryOut.IsNegative() && settings.Overdraft != OverdraftClawback {
			carryOut = decimal.Zero
		}

		out[i] = Summary{
			Label:        p.Label,
			Start:        p.Start,
			End:          p.End,
			Earned:       settings.EarnedPerTrimester,
			CarryoverIn:  carryover,
			Available:    available,
			Used:         used,
			Remaining:    remaining,
			CarryoverOut: carryOut,
		}
		carryover = carryOut
	}
	return out
}

// RemainingForDate runs the accrual chain through the trimester containing
// date and returns that trimester's remaining hours. This is the number the
// approval workflow checks PTO requests against.
func RemainingForDate(entries []timeoff.Entry, settings Settings, date time.Time) decimal.Decimal {
	summaries := Summarize(entries, settings, date.Year())
	_, idx := PeriodFor(date)
	return summaries[idx].Remaining
}

func usedIn(entries []timeoff.Entry, p Period) decimal.Decimal {
	used := decimal.Zero
	for _, e := range entries {
		if !e.Type.CountsAgainstBalance() {
			continue
		}
		if p.Contains(e.Date) {
			used = used.Add(decimal.NewFromInt(int64(e.Hours)))
		}
	}
	return used
}

// =============================================================================
// HISTORY CHECKPOINTS
// =============================================================================

// History is a persisted carryover checkpoint so balance queries do not
// replay prior years. Recomputed lazily when missing.
type History struct {
	EmployeeID     string
	TrimesterStart time.Time
	CarryoverHours decimal.Decimal
}

// CheckpointsFor derives the history rows a Summarize run would persist:
// the carryover flowing into T2 and T3. (T1's inbound carryover is 0 by
// policy and never stored.)
func CheckpointsFor(employeeID string, summaries [3]Summary) []History {
	return []History{
		{EmployeeID: employeeID, TrimesterStart: summaries[1].Start, CarryoverHours: summaries[1].CarryoverIn},
		{EmployeeID: employeeID, TrimesterStart: summaries[2].Start, CarryoverHours: summaries[2].CarryoverIn},
	}
}
