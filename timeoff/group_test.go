package timeoff_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schedulehq/timeoff/timeoff"
)

func multiDayRequest(id string, days int, hours int) *timeoff.Request {
	start := timeoff.NewDate(2025, time.July, 7)
	end := start.AddDate(0, 0, days-1)
	r := &timeoff.Request{
		ID:         id,
		EmployeeID: "emp-1",
		Type:       timeoff.TypeVacation,
		Date:       start,
		Hours:      hours,
		IsAllDay:   true,
		Status:     timeoff.StatusPending,
	}
	if days > 1 {
		r.EndDate = &end
	}
	return r
}

// =============================================================================
// EXPANSION
// =============================================================================

func TestExpandSpan_OneRowPerDaySharingGroup(t *testing.T) {
	// GIVEN: a 5-day vacation request at 9 hours/day
	// THEN:  exactly 5 rows, one per consecutive day, all sharing the group
	//        id, each with hours=9 and the same time fields.

	req := multiDayRequest("req-1", 5, 9)
	groupID := timeoff.NewGroupID()
	now := time.Now().UTC()

	entries := timeoff.ExpandSpan(req, groupID, now)

	require.Len(t, entries, 5)
	for i, e := range entries {
		assert.Equal(t, groupID, e.VacationGroupID)
		assert.Equal(t, 9, e.Hours)
		assert.Equal(t, timeoff.TypeVacation, e.Type)
		assert.Equal(t, "req-1", e.RequestID)
		assert.True(t, e.IsAllDay)
		assert.Equal(t, req.Date.AddDate(0, 0, i), e.Date, "days must be consecutive")
		require.NotNil(t, e.EndDate)
		assert.Equal(t, timeoff.Day(*req.EndDate), *e.EndDate)
	}
}

func TestExpandSpan_SingleDayStillGetsGroupID(t *testing.T) {
	// Single-day entries receive a group id even though grouping is
	// meaningless for one day. The ids live in the same uuid space as real
	// vacation groups, so they must never collide.

	req := multiDayRequest("req-2", 1, 8)
	req.Type = timeoff.TypeRequestedOff

	existingGroup := timeoff.NewGroupID()
	groupID := timeoff.NewGroupID()
	entries := timeoff.ExpandSpan(req, groupID, time.Now().UTC())

	require.Len(t, entries, 1)
	assert.NotEmpty(t, entries[0].VacationGroupID)
	assert.NotEqual(t, existingGroup, entries[0].VacationGroupID)
	assert.Nil(t, entries[0].EndDate, "single day rows carry no span end")
}

func TestExpandSpan_UniqueEntryIDs(t *testing.T) {
	entries := timeoff.ExpandSpan(multiDayRequest("req-3", 4, 8), timeoff.NewGroupID(), time.Now().UTC())

	seen := make(map[string]bool)
	for _, e := range entries {
		assert.False(t, seen[e.ID], "entry id %s minted twice", e.ID)
		seen[e.ID] = true
	}
}

// =============================================================================
// COLLAPSE
// =============================================================================

func TestCollapse_FoldsGroupIntoOneSpan(t *testing.T) {
	groupID := timeoff.NewGroupID()
	entries := timeoff.ExpandSpan(multiDayRequest("req-4", 3, 9), groupID, time.Now().UTC())

	// Shuffle in an unrelated single row.
	lone := timeoff.Entry{
		ID:         "lone-1",
		EmployeeID: "emp-2",
		Date:       timeoff.NewDate(2025, time.July, 1),
		Type:       timeoff.TypePTO,
		Hours:      8,
	}
	spans := timeoff.Collapse(append([]timeoff.Entry{lone}, entries...))

	require.Len(t, spans, 2)
	assert.Equal(t, lone.Date, spans[0].Start, "spans ordered by start date")
	assert.Equal(t, 1, spans[0].Days)

	grouped := spans[1]
	assert.Equal(t, groupID, grouped.GroupID)
	assert.Equal(t, 3, grouped.Days)
	assert.Equal(t, 27, grouped.TotalHours)
	assert.Equal(t, timeoff.NewDate(2025, time.July, 7), grouped.Start)
	assert.Equal(t, timeoff.NewDate(2025, time.July, 9), grouped.End)
}

// =============================================================================
// REQUEST ARITHMETIC
// =============================================================================

func TestRequest_DayCountAndHours(t *testing.T) {
	req := multiDayRequest("req-5", 3, 9)
	assert.Equal(t, 3, req.DayCount())
	assert.Equal(t, 27, req.RequestedHours())
	assert.True(t, req.IsMultiDay())

	single := multiDayRequest("req-6", 1, 8)
	assert.Equal(t, 1, single.DayCount())
	assert.Equal(t, 8, single.RequestedHours())
	assert.False(t, single.IsMultiDay())
}

func TestValidateRequest_RejectsMalformedInput(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*timeoff.Request)
	}{
		{"missing employee", func(r *timeoff.Request) { r.EmployeeID = "" }},
		{"unknown type", func(r *timeoff.Request) { r.Type = "sabbatical" }},
		{"zero hours", func(r *timeoff.Request) { r.Hours = 0 }},
		{"end before start", func(r *timeoff.Request) {
			end := r.Date.AddDate(0, 0, -2)
			r.EndDate = &end
		}},
		{"bad clock time", func(r *timeoff.Request) {
			r.IsAllDay = false
			r.StartTime = "9am"
			r.EndTime = "17:00"
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := multiDayRequest("req-v", 2, 8)
			tc.mutate(req)
			err := timeoff.ValidateRequest(req)
			assert.ErrorIs(t, err, timeoff.ErrValidation)
		})
	}
}

func TestValidateRequest_AcceptsPartialDayWithClockTimes(t *testing.T) {
	req := multiDayRequest("req-7", 1, 4)
	req.IsAllDay = false
	req.StartTime = "09:00"
	req.EndTime = "13:00"
	assert.NoError(t, timeoff.ValidateRequest(req))
}
