/*
Package timeoff defines the time-off domain model shared by the approval
engine, the trimester accrual calculator, and the stores.

PURPOSE:
  This package contains the two record shapes everything else agrees on:

  - Request: the remote, manager-scoped queue document an employee submits.
    Mutable. Lives in the remote queue until it is approved (deleted) or
    denied (updated in place).
  - Entry: the local, authoritative day-row. One Entry = one calendar day of
    approved time off. The local store of entries is the only source of
    truth for "this day is approved time off".

DESIGN PRINCIPLES:
  1. Typed everything: request types, statuses and errors are named types,
     not free-form strings, so producer and consumer cannot silently drift.
  2. Day granularity: dates are UTC midnight; helpers in date.go keep the
     truncation rules in one place.
  3. Requests carry hours per day; multi-day spans are expanded to entries
     by group.go, never stored as a single row.

SEE ALSO:
  - group.go: multi-day span expansion/collapse
  - errors.go: the error taxonomy
  - trimester/: accrual math over entries
*/
package timeoff

import "time"

// =============================================================================
// REQUEST TYPES
// =============================================================================

// Type classifies a time-off request or entry.
type Type string

const (
	TypePTO          Type = "pto"
	TypeVacation     Type = "vacation"
	TypeRequestedOff Type = "requestedOff"
)

// Valid reports whether t is one of the three known types.
func (t Type) Valid() bool {
	switch t {
	case TypePTO, TypeVacation, TypeRequestedOff:
		return true
	}
	return false
}

// CountsAgainstBalance reports whether entries of this type consume PTO hours.
// Only PTO draws down the trimester balance; vacation and requested-off days
// are unpaid and tracked for scheduling only.
func (t Type) CountsAgainstBalance() bool { return t == TypePTO }

// Status is the lifecycle state of a remote request.
// Pending transitions exactly once to Approved or Denied. Approved requests
// are deleted from the remote queue; their absence is the approved signal.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
)

// =============================================================================
// REQUEST - remote queue document
// =============================================================================

// Request is an employee's time-off request as stored in the remote queue.
// Owned by the queue; mutated only by deny, deleted only by approve.
type Request struct {
	ID           string
	EmployeeID   string
	EmployeeName string
	Type         Type
	Date         time.Time  // first (or only) day, UTC midnight
	EndDate      *time.Time // inclusive last day for multi-day spans
	Hours        int        // hours per day
	IsAllDay     bool
	StartTime    string // "HH:MM", only when !IsAllDay
	EndTime      string
	Status       Status
	DenialReason string
	AutoApproved bool
	CreatedAt    time.Time
	DeniedAt     *time.Time
}

// DayCount returns the number of calendar days the request spans, inclusive.
func (r *Request) DayCount() int {
	if r.EndDate == nil {
		return 1
	}
	n := DaysBetween(r.Date, *r.EndDate) + 1
	if n < 1 {
		return 1
	}
	return n
}

// RequestedHours is the total hours the request would consume if approved.
func (r *Request) RequestedHours() int {
	return r.DayCount() * r.Hours
}

// IsMultiDay reports whether the request spans more than one calendar day.
func (r *Request) IsMultiDay() bool {
	return r.EndDate != nil && !SameDay(r.Date, *r.EndDate)
}

// =============================================================================
// ENTRY - local authoritative day-row
// =============================================================================

// Entry is one approved calendar day of time off in the local store.
// Entries are written by approve or manual add, edited only individually,
// and deleted only as a whole group (or as a lone row).
type Entry struct {
	ID              string
	EmployeeID      string
	Date            time.Time  // the day this row covers, UTC midnight
	EndDate         *time.Time // span end, recorded on vacation rows for display
	Type            Type
	Hours           int
	VacationGroupID string // shared by every row of one contiguous span
	IsAllDay        bool
	StartTime       string
	EndTime         string
	RequestID       string // originating request; idempotency key for approve
	CreatedAt       time.Time
}

// MirrorRecord is the employee-facing copy of an approved entry, maintained
// for visibility outside the manager's authoritative store. Keyed by EntryID
// so redelivery of the same mirror write is a no-op upsert.
type MirrorRecord struct {
	EntryID    string
	EmployeeID string
	Date       time.Time
	Type       Type
	Hours      int
	IsAllDay   bool
	StartTime  string
	EndTime    string
}

// MirrorOf builds the employee-facing record for an entry.
func MirrorOf(e Entry) MirrorRecord {
	return MirrorRecord{
		EntryID:    e.ID,
		EmployeeID: e.EmployeeID,
		Date:       e.Date,
		Type:       e.Type,
		Hours:      e.Hours,
		IsAllDay:   e.IsAllDay,
		StartTime:  e.StartTime,
		EndTime:    e.EndTime,
	}
}
