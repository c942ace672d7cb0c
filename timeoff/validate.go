package timeoff

import "regexp"

// clockRe matches the HH:MM fields on partial-day records.
var clockRe = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// ValidateRequest checks a request before the workflow touches any store.
// Failures here guarantee zero mutation.
func ValidateRequest(r *Request) error {
	if r.ID == "" {
		return &ValidationError{Field: "id", Message: "required"}
	}
	if r.EmployeeID == "" {
		return &ValidationError{Field: "employeeId", Message: "required"}
	}
	if !r.Type.Valid() {
		return &ValidationError{Field: "timeOffType", Message: "must be pto, vacation or requestedOff"}
	}
	if r.Date.IsZero() {
		return &ValidationError{Field: "date", Message: "required"}
	}
	if r.EndDate != nil && Day(*r.EndDate).Before(Day(r.Date)) {
		return &ValidationError{Field: "endDate", Message: "before start date"}
	}
	if r.Hours <= 0 || r.Hours > 24 {
		return &ValidationError{Field: "hours", Message: "must be between 1 and 24"}
	}
	if !r.IsAllDay {
		if !clockRe.MatchString(r.StartTime) {
			return &ValidationError{Field: "startTime", Message: "must be HH:MM"}
		}
		if !clockRe.MatchString(r.EndTime) {
			return &ValidationError{Field: "endTime", Message: "must be HH:MM"}
		}
	}
	return nil
}

// ValidateEntry checks a manually-added entry with the same rules a request
// goes through, minus the request-only fields.
func ValidateEntry(e *Entry) error {
	if e.EmployeeID == "" {
		return &ValidationError{Field: "employeeId", Message: "required"}
	}
	if !e.Type.Valid() {
		return &ValidationError{Field: "timeOffType", Message: "must be pto, vacation or requestedOff"}
	}
	if e.Date.IsZero() {
		return &ValidationError{Field: "date", Message: "required"}
	}
	if e.EndDate != nil && Day(*e.EndDate).Before(Day(e.Date)) {
		return &ValidationError{Field: "endDate", Message: "before start date"}
	}
	if e.Hours <= 0 || e.Hours > 24 {
		return &ValidationError{Field: "hours", Message: "must be between 1 and 24"}
	}
	if !e.IsAllDay {
		if !clockRe.MatchString(e.StartTime) {
			return &ValidationError{Field: "startTime", Message: "must be HH:MM"}
		}
		if !clockRe.MatchString(e.EndTime) {
			return &ValidationError{Field: "endTime", Message: "must be HH:MM"}
		}
	}
	return nil
}
