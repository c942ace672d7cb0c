/*
group.go - Vacation grouping: multi-day spans as day-rows

PURPOSE:
  A multi-day span is never stored as a single row. It is expanded into one
  Entry per calendar day, all sharing a generated vacation group id. The
  group is the unit of delete; edit stays single-row.

INVARIANT:
  Every row of a group covers one day of exactly one contiguous range, and
  all siblings share type, hours-per-day, and the all-day/time fields.

SINGLE-DAY GROUPS:
  A single-day entry still receives a group id. Grouping is semantically
  meaningless for one day, but the id space is shared with real groups, so
  ids must be collision-free either way (uuid).

EDITING:
  Changing one day's type or hours does not split or merge its group.
  A row whose type is edited away from vacation keeps its group linkage;
  the linkage is inert at that point. Splitting groups on edit is an open
  product question, deliberately not implemented here.
*/
package timeoff

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// NewGroupID mints a vacation group identifier.
func NewGroupID() string { return uuid.New().String() }

// ExpandSpan expands a request into its per-day entries, one per calendar
// day of [r.Date, r.EndDate] inclusive (a single entry when there is no end
// date). Every entry shares groupID and carries identical hours, type and
// time fields. Entry ids are freshly minted.
func ExpandSpan(r *Request, groupID string, now time.Time) []Entry {
	end := r.Date
	if r.EndDate != nil {
		end = *r.EndDate
	}

	days := DaysInclusive(r.Date, end)
	entries := make([]Entry, 0, len(days))
	for _, day := range days {
		e := Entry{
			ID:              uuid.New().String(),
			EmployeeID:      r.EmployeeID,
			Date:            day,
			Type:            r.Type,
			Hours:           r.Hours,
			VacationGroupID: groupID,
			IsAllDay:        r.IsAllDay,
			StartTime:       r.StartTime,
			EndTime:         r.EndTime,
			RequestID:       r.ID,
			CreatedAt:       now,
		}
		if r.IsMultiDay() {
			endCopy := Day(end)
			e.EndDate = &endCopy
		}
		entries = append(entries, e)
	}
	return entries
}

// Span is the collapsed display form of a vacation group: one row covering
// the whole contiguous range.
type Span struct {
	GroupID     string
	EmployeeID  string
	Type        Type
	Start       time.Time
	End         time.Time
	Days        int
	HoursPerDay int
	TotalHours  int
	Entries     []Entry // underlying day-rows, sorted by date
}

// Collapse folds day-rows back into spans. Rows sharing a group id become
// one span; rows without a group id become single-day spans of their own.
// Output is ordered by start date.
func Collapse(entries []Entry) []Span {
	byGroup := make(map[string][]Entry)
	var order []string
	for _, e := range entries {
		key := e.VacationGroupID
		if key == "" {
			// Ungrouped rows collapse to themselves; key by entry id.
			key = "row:" + e.ID
		}
		if _, seen := byGroup[key]; !seen {
			order = append(order, key)
		}
		byGroup[key] = append(byGroup[key], e)
	}

	spans := make([]Span, 0, len(order))
	for _, key := range order {
		rows := byGroup[key]
		sort.Slice(rows, func(i, j int) bool { return rows[i].Date.Before(rows[j].Date) })

		first := rows[0]
		span := Span{
			GroupID:     first.VacationGroupID,
			EmployeeID:  first.EmployeeID,
			Type:        first.Type,
			Start:       first.Date,
			End:         rows[len(rows)-1].Date,
			Days:        len(rows),
			HoursPerDay: first.Hours,
			Entries:     rows,
		}
		for _, r := range rows {
			span.TotalHours += r.Hours
		}
		spans = append(spans, span)
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].Start.Before(spans[j].Start) })
	return spans
}
