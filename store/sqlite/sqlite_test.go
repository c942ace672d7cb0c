/*
sqlite_test.go - Store tests

Covers:
- Group atomicity: a failing insert mid-group rolls back every row
- The unique (request_id, date) index surfacing ConflictError
- Range and group queries
- Two-phase delete marking and sweeping
- Outbox claim/retry/done lifecycle
- Trimester history checkpoints
*/
package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schedulehq/timeoff/outbox"
	"github.com/schedulehq/timeoff/timeoff"
	"github.com/schedulehq/timeoff/trimester"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func entry(id, emp string, d time.Time) timeoff.Entry {
	return timeoff.Entry{
		ID:         id,
		EmployeeID: emp,
		Date:       d,
		Type:       timeoff.TypePTO,
		Hours:      9,
		IsAllDay:   true,
		CreatedAt:  time.Now().UTC(),
	}
}

func TestInsertGroup_Atomic(t *testing.T) {
	// GIVEN: a three-day vacation group
	s := newTestStore(t)
	ctx := context.Background()

	rows := []timeoff.Entry{
		entry("e1", "emp-1", day(2026, time.June, 1)),
		entry("e2", "emp-1", day(2026, time.June, 2)),
		entry("e3", "emp-1", day(2026, time.June, 3)),
	}
	for i := range rows {
		rows[i].VacationGroupID = "grp-1"
		rows[i].RequestID = "req-1"
	}

	// WHEN: the transaction fails after the second insert
	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx *Tx) error {
		if err := tx.InsertEntry(ctx, rows[0]); err != nil {
			return err
		}
		if err := tx.InsertEntry(ctx, rows[1]); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	// THEN: no row survives
	got, err := s.ListEntries(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	// AND: a clean retry commits all three
	err = s.WithTx(ctx, func(tx *Tx) error {
		for _, e := range rows {
			if err := tx.InsertEntry(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	got, err = s.GroupRows(ctx, "grp-1")
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestInsertEntry_DuplicateRequestDay_Conflicts(t *testing.T) {
	// GIVEN: a committed approval for req-1 on June 1
	s := newTestStore(t)
	ctx := context.Background()

	first := entry("e1", "emp-1", day(2026, time.June, 1))
	first.RequestID = "req-1"
	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
		return tx.InsertEntry(ctx, first)
	}))

	// WHEN: a second approval of the same request races in
	dup := entry("e-other", "emp-1", day(2026, time.June, 1))
	dup.RequestID = "req-1"
	err := s.WithTx(ctx, func(tx *Tx) error {
		return tx.InsertEntry(ctx, dup)
	})

	// THEN: it loses with a conflict, not a second row
	require.ErrorIs(t, err, timeoff.ErrConflict)
	var conflict *timeoff.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "req-1", conflict.RequestID)

	got, err := s.EntriesByRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, "e1", got[0].ID)
}

func TestEntriesByEmployeeRange(t *testing.T) {
	// GIVEN: entries across two trimesters and two employees
	s := newTestStore(t)
	ctx := context.Background()

	seed := []timeoff.Entry{
		entry("a", "emp-1", day(2026, time.April, 30)),
		entry("b", "emp-1", day(2026, time.May, 1)),
		entry("c", "emp-1", day(2026, time.September, 15)),
		entry("d", "emp-2", day(2026, time.May, 2)),
	}
	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
		for _, e := range seed {
			if err := tx.InsertEntry(ctx, e); err != nil {
				return err
			}
		}
		return nil
	}))

	// WHEN: querying emp-1's second trimester
	got, err := s.EntriesByEmployeeRange(ctx, "emp-1",
		day(2026, time.May, 1), day(2026, time.August, 31))
	require.NoError(t, err)

	// THEN: only the in-range row for that employee, boundaries inclusive
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ID)

	year, err := s.EntriesByEmployeeYear(ctx, "emp-1", 2026)
	require.NoError(t, err)
	assert.Len(t, year, 3)
}

func TestUpdateEntry_InPlace(t *testing.T) {
	// GIVEN: a stored all-day entry
	s := newTestStore(t)
	ctx := context.Background()

	e := entry("e1", "emp-1", day(2026, time.March, 10))
	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
		return tx.InsertEntry(ctx, e)
	}))

	// WHEN: hours and times are edited
	e.Hours = 4
	e.IsAllDay = false
	e.StartTime = "09:00"
	e.EndTime = "13:00"
	require.NoError(t, s.UpdateEntry(ctx, e))

	// THEN: the row reflects the edit
	got, err := s.GetEntry(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, 4, got.Hours)
	assert.False(t, got.IsAllDay)
	assert.Equal(t, "09:00", got.StartTime)

	// AND: updating a missing row reports not found
	missing := entry("nope", "emp-1", day(2026, time.March, 11))
	assert.ErrorIs(t, s.UpdateEntry(ctx, missing), timeoff.ErrNotFound)
}

func TestTwoPhaseDelete_GroupMarkAndSweep(t *testing.T) {
	// GIVEN: a two-day group plus an unrelated entry
	s := newTestStore(t)
	ctx := context.Background()

	g1 := entry("g1", "emp-1", day(2026, time.July, 1))
	g2 := entry("g2", "emp-1", day(2026, time.July, 2))
	g1.VacationGroupID, g2.VacationGroupID = "grp-1", "grp-1"
	other := entry("solo", "emp-1", day(2026, time.July, 3))

	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
		for _, e := range []timeoff.Entry{g1, g2, other} {
			if err := tx.InsertEntry(ctx, e); err != nil {
				return err
			}
		}
		return nil
	}))

	// WHEN: the group enters the deleting phase
	var marked []timeoff.Entry
	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
		var err error
		marked, err = tx.MarkGroupDeleting(ctx, "grp-1")
		return err
	}))
	require.Len(t, marked, 2)

	// THEN: marked rows disappear from listings but are not yet deleted
	listed, err := s.ListEntries(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "solo", listed[0].ID)

	_, err = s.GetEntry(ctx, "g1")
	assert.NoError(t, err, "marked rows remain loadable until swept")

	// WHEN: the sweep runs
	require.NoError(t, s.SweepGroup(ctx, "grp-1"))

	// THEN: only the unrelated entry remains
	_, err = s.GetEntry(ctx, "g1")
	assert.ErrorIs(t, err, timeoff.ErrNotFound)
	_, err = s.GetEntry(ctx, "solo")
	assert.NoError(t, err)
}

func TestTwoPhaseDelete_SingleEntry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := entry("e1", "emp-1", day(2026, time.July, 1))
	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
		return tx.InsertEntry(ctx, e)
	}))

	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
		return tx.MarkEntryDeleting(ctx, "e1")
	}))

	// Marking twice reports not found: the row is already in flight.
	err := s.WithTx(ctx, func(tx *Tx) error {
		return tx.MarkEntryDeleting(ctx, "e1")
	})
	assert.ErrorIs(t, err, timeoff.ErrNotFound)

	require.NoError(t, s.SweepEntries(ctx, []string{"e1"}))
	_, err = s.GetEntry(ctx, "e1")
	assert.ErrorIs(t, err, timeoff.ErrNotFound)
}

func TestOutbox_Lifecycle(t *testing.T) {
	// GIVEN: a task enqueued in the same transaction as its row
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	task, err := outbox.NewTask(outbox.KindApprove, "req-1",
		outbox.ApprovePayload{RequestID: "req-1"}, now)
	require.NoError(t, err)

	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
		if err := tx.InsertEntry(ctx, entry("e1", "emp-1", day(2026, time.June, 1))); err != nil {
			return err
		}
		return tx.Enqueue(ctx, task)
	}))

	// WHEN: the worker claims due tasks
	due, err := s.ClaimDue(ctx, now.Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, outbox.KindApprove, due[0].Kind)

	// AND: the first attempt fails and is rescheduled into the future
	nextAt := now.Add(time.Minute)
	require.NoError(t, s.MarkTaskRetry(ctx, task.ID, 1, nextAt, "remote unavailable"))

	due, err = s.ClaimDue(ctx, now.Add(time.Second), 10)
	require.NoError(t, err)
	assert.Empty(t, due, "rescheduled task is not due yet")

	due, err = s.ClaimDue(ctx, nextAt.Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, 1, due[0].Attempts)
	assert.Equal(t, "remote unavailable", due[0].LastError)

	// WHEN: the retry succeeds
	require.NoError(t, s.MarkTaskDone(ctx, task.ID))

	// THEN: nothing is due and the pending depth is zero
	due, err = s.ClaimDue(ctx, nextAt.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	n, err := s.PendingTaskCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestOutbox_EnqueueIdempotent(t *testing.T) {
	// GIVEN: a task for (approve, req-1)
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	t1, err := outbox.NewTask(outbox.KindApprove, "req-1",
		outbox.ApprovePayload{RequestID: "req-1"}, now)
	require.NoError(t, err)
	require.NoError(t, s.EnqueueTask(ctx, t1))

	// WHEN: the same idempotency pair is enqueued again
	t2, err := outbox.NewTask(outbox.KindApprove, "req-1",
		outbox.ApprovePayload{RequestID: "req-1"}, now)
	require.NoError(t, err)
	require.NoError(t, s.EnqueueTask(ctx, t2))

	// THEN: only the first task exists
	got, err := s.TaskByKey(ctx, outbox.KindApprove, "req-1")
	require.NoError(t, err)
	assert.Equal(t, t1.ID, got.ID)

	n, err := s.PendingTaskCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestOutbox_MarkFailed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	task, err := outbox.NewTask(outbox.KindMirrorDelete, "grp-1",
		outbox.MirrorDeletePayload{EmployeeID: "emp-1", GroupID: "grp-1"}, now)
	require.NoError(t, err)
	require.NoError(t, s.EnqueueTask(ctx, task))

	require.NoError(t, s.MarkTaskFailed(ctx, task.ID, "exhausted retries"))

	due, err := s.ClaimDue(ctx, now.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	got, err := s.TaskByKey(ctx, outbox.KindMirrorDelete, "grp-1")
	require.NoError(t, err)
	assert.Equal(t, outbox.TaskFailed, got.Status)
	assert.Equal(t, "exhausted retries", got.LastError)
}

func TestHistory_Roundtrip(t *testing.T) {
	// GIVEN: a carryover checkpoint with fractional hours
	s := newTestStore(t)
	ctx := context.Background()
	start := day(2026, time.May, 1)

	h := trimester.History{
		EmployeeID:     "emp-1",
		TrimesterStart: start,
		CarryoverHours: decimal.RequireFromString("7.5"),
	}
	require.NoError(t, s.SaveHistory(ctx, h))

	got, err := s.GetHistory(ctx, "emp-1", start)
	require.NoError(t, err)
	assert.True(t, got.CarryoverHours.Equal(decimal.RequireFromString("7.5")))

	// Upsert replaces in place.
	h.CarryoverHours = decimal.NewFromInt(10)
	require.NoError(t, s.SaveHistory(ctx, h))
	got, err = s.GetHistory(ctx, "emp-1", start)
	require.NoError(t, err)
	assert.True(t, got.CarryoverHours.Equal(decimal.NewFromInt(10)))

	// Missing checkpoints report not found so callers recompute.
	_, err = s.GetHistory(ctx, "emp-1", day(2026, time.September, 1))
	assert.ErrorIs(t, err, timeoff.ErrNotFound)
}
