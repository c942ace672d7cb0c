package trimester_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schedulehq/timeoff/timeoff"
	"github.com/schedulehq/timeoff/trimester"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func ptoEntry(employeeID string, date time.Time, hours int) timeoff.Entry {
	return timeoff.Entry{
		ID:         "e-" + date.Format("20060102"),
		EmployeeID: employeeID,
		Date:       timeoff.Day(date),
		Type:       timeoff.TypePTO,
		Hours:      hours,
		IsAllDay:   true,
	}
}

func dec(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

// =============================================================================
// PERIODS
// =============================================================================

func TestPeriodsFor_CoverTheYearContiguously(t *testing.T) {
	periods := trimester.PeriodsFor(2025)

	assert.Equal(t, timeoff.NewDate(2025, time.January, 1), periods[0].Start)
	assert.Equal(t, timeoff.NewDate(2025, time.April, 30), periods[0].End)
	assert.Equal(t, timeoff.NewDate(2025, time.May, 1), periods[1].Start)
	assert.Equal(t, timeoff.NewDate(2025, time.August, 31), periods[1].End)
	assert.Equal(t, timeoff.NewDate(2025, time.September, 1), periods[2].Start)
	assert.Equal(t, timeoff.NewDate(2025, time.December, 31), periods[2].End)

	// Each period starts the day after the previous ends.
	for i := 1; i < 3; i++ {
		assert.Equal(t, periods[i-1].End.AddDate(0, 0, 1), periods[i].Start)
	}
}

func TestPeriodFor_BoundaryDays(t *testing.T) {
	_, idx := trimester.PeriodFor(timeoff.NewDate(2025, time.April, 30))
	assert.Equal(t, 0, idx, "Apr 30 is the last day of T1")

	_, idx = trimester.PeriodFor(timeoff.NewDate(2025, time.May, 1))
	assert.Equal(t, 1, idx, "May 1 opens T2")

	_, idx = trimester.PeriodFor(timeoff.NewDate(2025, time.December, 31))
	assert.Equal(t, 2, idx)
}

// =============================================================================
// WORKED EXAMPLE (earned=30, maxCarryover=10, cap=40)
// =============================================================================

func TestSummarize_WorkedExample(t *testing.T) {
	// GIVEN: 10 hours used in T1, 35 in T2, nothing in T3
	// THEN:  T1 remaining=20 carries 10; T2 available=min(40,40)=40,
	//        remaining=5 carries 5; T3 available=min(35,40)=35.

	entries := []timeoff.Entry{
		ptoEntry("emp-1", timeoff.NewDate(2025, time.February, 3), 10),
		ptoEntry("emp-1", timeoff.NewDate(2025, time.June, 9), 20),
		ptoEntry("emp-1", timeoff.NewDate(2025, time.July, 14), 15),
	}

	s := trimester.Summarize(entries, trimester.DefaultSettings(), 2025)

	assert.True(t, s[0].CarryoverIn.IsZero(), "T1 starts the year with no carryover")
	assert.True(t, s[0].Used.Equal(dec(10)))
	assert.True(t, s[0].Remaining.Equal(dec(20)))
	assert.True(t, s[0].CarryoverOut.Equal(dec(10)), "carryover capped at 10")

	assert.True(t, s[1].Available.Equal(dec(40)), "30 earned + 10 in = cap")
	assert.True(t, s[1].Used.Equal(dec(35)))
	assert.True(t, s[1].Remaining.Equal(dec(5)))
	assert.True(t, s[1].CarryoverOut.Equal(dec(5)))

	assert.True(t, s[2].Available.Equal(dec(35)))
	assert.True(t, s[2].Used.IsZero(), "trimester with no entries yields used=0")
	assert.True(t, s[2].Remaining.Equal(dec(35)))
}

// =============================================================================
// INVARIANTS
// =============================================================================

func TestSummarize_CarryoverChains(t *testing.T) {
	entries := []timeoff.Entry{
		ptoEntry("emp-1", timeoff.NewDate(2025, time.March, 3), 7),
		ptoEntry("emp-1", timeoff.NewDate(2025, time.October, 20), 13),
	}

	s := trimester.Summarize(entries, trimester.DefaultSettings(), 2025)

	assert.True(t, s[0].CarryoverOut.Equal(s[1].CarryoverIn))
	assert.True(t, s[1].CarryoverOut.Equal(s[2].CarryoverIn))
}

func TestSummarize_AvailableNeverExceedsCap(t *testing.T) {
	settings := trimester.DefaultSettings()
	s := trimester.Summarize(nil, settings, 2025)

	for _, sum := range s {
		assert.False(t, sum.Available.GreaterThan(settings.MaxAvailableCap),
			"%s available %s exceeds cap", sum.Label, sum.Available)
		assert.True(t, sum.Remaining.Equal(sum.Available.Sub(sum.Used)))
	}
}

func TestSummarize_NegativeRemainingDisplayedButNotPropagated(t *testing.T) {
	// GIVEN: 50 hours of PTO in T1 against 30 available
	// THEN:  remaining shows -20, but T2 starts with zero carryover.

	entries := []timeoff.Entry{
		ptoEntry("emp-1", timeoff.NewDate(2025, time.January, 6), 25),
		ptoEntry("emp-1", timeoff.NewDate(2025, time.January, 7), 25),
	}

	s := trimester.Summarize(entries, trimester.DefaultSettings(), 2025)

	assert.True(t, s[0].Remaining.Equal(dec(-20)), "over-draft displayed as-is")
	assert.True(t, s[0].CarryoverOut.IsZero())
	assert.True(t, s[1].CarryoverIn.IsZero())
}

func TestSummarize_ClawbackPolicyCarriesDebt(t *testing.T) {
	entries := []timeoff.Entry{
		ptoEntry("emp-1", timeoff.NewDate(2025, time.January, 6), 20),
		ptoEntry("emp-1", timeoff.NewDate(2025, time.January, 7), 15),
	}

	settings := trimester.DefaultSettings()
	settings.Overdraft = trimester.OverdraftClawback

	s := trimester.Summarize(entries, settings, 2025)

	assert.True(t, s[0].Remaining.Equal(dec(-5)))
	assert.True(t, s[0].CarryoverOut.Equal(dec(-5)), "clawback carries the debt")
	assert.True(t, s[1].Available.Equal(dec(25)), "next trimester shrunk by the debt")
}

func TestSummarize_OtherTypesDoNotCountAgainstBalance(t *testing.T) {
	vacation := ptoEntry("emp-1", timeoff.NewDate(2025, time.February, 10), 9)
	vacation.Type = timeoff.TypeVacation
	requestedOff := ptoEntry("emp-1", timeoff.NewDate(2025, time.March, 11), 9)
	requestedOff.Type = timeoff.TypeRequestedOff

	s := trimester.Summarize([]timeoff.Entry{vacation, requestedOff}, trimester.DefaultSettings(), 2025)

	assert.True(t, s[0].Used.IsZero(), "vacation and requested-off are unpaid")
}

// =============================================================================
// REMAINING-FOR-DATE (the approval gate)
// =============================================================================

func TestRemainingForDate_UsesTrimesterOfDate(t *testing.T) {
	entries := []timeoff.Entry{
		ptoEntry("emp-1", timeoff.NewDate(2025, time.February, 3), 10),
	}
	settings := trimester.DefaultSettings()

	remaining := trimester.RemainingForDate(entries, settings, timeoff.NewDate(2025, time.March, 1))
	assert.True(t, remaining.Equal(dec(20)), "T1: 30 - 10")

	remaining = trimester.RemainingForDate(entries, settings, timeoff.NewDate(2025, time.June, 1))
	assert.True(t, remaining.Equal(dec(40)), "T2: min(30+10, 40) untouched")
}

func TestRemainingForDate_MonotonicallyNonIncreasing(t *testing.T) {
	// Adding PTO entries within the trimester never increases remaining.

	settings := trimester.DefaultSettings()
	date := timeoff.NewDate(2025, time.June, 15)

	var entries []timeoff.Entry
	prev := trimester.RemainingForDate(entries, settings, date)

	for day := 1; day <= 10; day++ {
		entries = append(entries, ptoEntry("emp-1", timeoff.NewDate(2025, time.June, day), 8))
		cur := trimester.RemainingForDate(entries, settings, date)
		require.False(t, cur.GreaterThan(prev),
			"remaining rose from %s to %s after adding an entry", prev, cur)
		prev = cur
	}
}

// =============================================================================
// HISTORY CHECKPOINTS
// =============================================================================

func TestCheckpointsFor_RecordsInboundCarryovers(t *testing.T) {
	entries := []timeoff.Entry{
		ptoEntry("emp-1", timeoff.NewDate(2025, time.February, 3), 25),
	}

	s := trimester.Summarize(entries, trimester.DefaultSettings(), 2025)
	checkpoints := trimester.CheckpointsFor("emp-1", s)

	require.Len(t, checkpoints, 2)
	assert.Equal(t, s[1].Start, checkpoints[0].TrimesterStart)
	assert.True(t, checkpoints[0].CarryoverHours.Equal(s[1].CarryoverIn))
	assert.Equal(t, s[2].Start, checkpoints[1].TrimesterStart)
	assert.True(t, checkpoints[1].CarryoverHours.Equal(s[2].CarryoverIn))
}
