/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupling the domain
  model from the external contract. Dates are YYYY-MM-DD strings on the
  wire; timestamps are RFC3339.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in the engine, not in DTOs. DTOs are pure data
  carriers; handlers only translate shapes and map error kinds to status
  codes.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/schedulehq/timeoff/timeoff"
	"github.com/schedulehq/timeoff/trimester"
)

const dayFormat = "2006-01-02"

// =============================================================================
// REQUEST TYPES
// =============================================================================

// SubmitRequestDTO is the employee-side submission body.
type SubmitRequestDTO struct {
	EmployeeID   string  `json:"employee_id"`
	EmployeeName string  `json:"employee_name,omitempty"`
	Type         string  `json:"time_off_type"`
	Date         string  `json:"date"`
	EndDate      *string `json:"end_date,omitempty"`
	Hours        int     `json:"hours"`
	IsAllDay     *bool   `json:"is_all_day,omitempty"`
	StartTime    string  `json:"start_time,omitempty"`
	EndTime      string  `json:"end_time,omitempty"`
}

// DenyRequestDTO carries the manager's denial reason.
type DenyRequestDTO struct {
	Reason string `json:"reason"`
}

// UpdateEntryDTO is a single-row edit body.
type UpdateEntryDTO struct {
	Date      string  `json:"date"`
	EndDate   *string `json:"end_date,omitempty"`
	Type      string  `json:"time_off_type"`
	Hours     int     `json:"hours"`
	IsAllDay  *bool   `json:"is_all_day,omitempty"`
	StartTime string  `json:"start_time,omitempty"`
	EndTime   string  `json:"end_time,omitempty"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// RequestDTO is a queue document in API responses.
type RequestDTO struct {
	ID           string  `json:"id"`
	EmployeeID   string  `json:"employee_id"`
	EmployeeName string  `json:"employee_name,omitempty"`
	Type         string  `json:"time_off_type"`
	Date         string  `json:"date"`
	EndDate      *string `json:"end_date,omitempty"`
	Hours        int     `json:"hours"`
	TotalHours   int     `json:"total_hours"`
	Days         int     `json:"days"`
	IsAllDay     bool    `json:"is_all_day"`
	StartTime    string  `json:"start_time,omitempty"`
	EndTime      string  `json:"end_time,omitempty"`
	Status       string  `json:"status"`
	DenialReason string  `json:"denial_reason,omitempty"`
	AutoApproved bool    `json:"auto_approved,omitempty"`
	CreatedAt    string  `json:"created_at"`
	DeniedAt     *string `json:"denied_at,omitempty"`
}

// EntryDTO is one approved day-row.
type EntryDTO struct {
	ID              string  `json:"id"`
	EmployeeID      string  `json:"employee_id"`
	Date            string  `json:"date"`
	EndDate         *string `json:"end_date,omitempty"`
	Type            string  `json:"time_off_type"`
	Hours           int     `json:"hours"`
	VacationGroupID string  `json:"vacation_group_id,omitempty"`
	IsAllDay        bool    `json:"is_all_day"`
	StartTime       string  `json:"start_time,omitempty"`
	EndTime         string  `json:"end_time,omitempty"`
	RequestID       string  `json:"request_id,omitempty"`
}

// SpanDTO is the collapsed display form of a vacation group.
type SpanDTO struct {
	GroupID     string `json:"group_id,omitempty"`
	EmployeeID  string `json:"employee_id"`
	Type        string `json:"time_off_type"`
	Start       string `json:"start"`
	End         string `json:"end"`
	Days        int    `json:"days"`
	HoursPerDay int    `json:"hours_per_day"`
	TotalHours  int    `json:"total_hours"`
}

// ApproveResultDTO reports what an approval wrote.
type ApproveResultDTO struct {
	GroupID string     `json:"group_id"`
	Entries []EntryDTO `json:"entries"`
}

// TrimesterDTO is one period's balance sheet.
type TrimesterDTO struct {
	Label        string `json:"label"`
	Start        string `json:"start"`
	End          string `json:"end"`
	Earned       string `json:"earned"`
	CarryoverIn  string `json:"carryover_in"`
	Available    string `json:"available"`
	Used         string `json:"used"`
	Remaining    string `json:"remaining"`
	CarryoverOut string `json:"carryover_out"`
}

// RemainingDTO answers the balance-for-date query.
type RemainingDTO struct {
	EmployeeID string `json:"employee_id"`
	Date       string `json:"date"`
	Remaining  string `json:"remaining"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// MAPPERS
// =============================================================================

func toRequestDTO(r timeoff.Request) RequestDTO {
	dto := RequestDTO{
		ID:           r.ID,
		EmployeeID:   r.EmployeeID,
		EmployeeName: r.EmployeeName,
		Type:         string(r.Type),
		Date:         r.Date.Format(dayFormat),
		Hours:        r.Hours,
		TotalHours:   r.RequestedHours(),
		Days:         r.DayCount(),
		IsAllDay:     r.IsAllDay,
		StartTime:    r.StartTime,
		EndTime:      r.EndTime,
		Status:       string(r.Status),
		DenialReason: r.DenialReason,
		AutoApproved: r.AutoApproved,
		CreatedAt:    r.CreatedAt.Format(time.RFC3339),
	}
	if r.EndDate != nil {
		s := r.EndDate.Format(dayFormat)
		dto.EndDate = &s
	}
	if r.DeniedAt != nil {
		s := r.DeniedAt.Format(time.RFC3339)
		dto.DeniedAt = &s
	}
	return dto
}

func toEntryDTO(e timeoff.Entry) EntryDTO {
	dto := EntryDTO{
		ID:              e.ID,
		EmployeeID:      e.EmployeeID,
		Date:            e.Date.Format(dayFormat),
		Type:            string(e.Type),
		Hours:           e.Hours,
		VacationGroupID: e.VacationGroupID,
		IsAllDay:        e.IsAllDay,
		StartTime:       e.StartTime,
		EndTime:         e.EndTime,
		RequestID:       e.RequestID,
	}
	if e.EndDate != nil {
		s := e.EndDate.Format(dayFormat)
		dto.EndDate = &s
	}
	return dto
}

func toSpanDTO(s timeoff.Span) SpanDTO {
	return SpanDTO{
		GroupID:     s.GroupID,
		EmployeeID:  s.EmployeeID,
		Type:        string(s.Type),
		Start:       s.Start.Format(dayFormat),
		End:         s.End.Format(dayFormat),
		Days:        s.Days,
		HoursPerDay: s.HoursPerDay,
		TotalHours:  s.TotalHours,
	}
}

func toTrimesterDTO(s trimester.Summary) TrimesterDTO {
	return TrimesterDTO{
		Label:        s.Label,
		Start:        s.Start.Format(dayFormat),
		End:          s.End.Format(dayFormat),
		Earned:       s.Earned.String(),
		CarryoverIn:  s.CarryoverIn.String(),
		Available:    s.Available.String(),
		Used:         s.Used.String(),
		Remaining:    s.Remaining.String(),
		CarryoverOut: s.CarryoverOut.String(),
	}
}
