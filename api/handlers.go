/*
handlers.go - HTTP handlers for the time-off API

PURPOSE:
  Translates HTTP to engine calls and engine errors to status codes. No
  business logic lives here; the approval engine owns the workflow.

ERROR MAPPING:
  ErrValidation            400
  ErrInsufficientBalance   409 (with requested/remaining in details)
  ErrConflict              409
  ErrNotFound              404
  ErrUnknownEmployee       404
  ErrNotEligible           422
  ErrRemote                502
  anything else            500

SEE ALSO:
  - server.go: Routes
  - approval/: The engine behind every handler
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/schedulehq/timeoff/approval"
	"github.com/schedulehq/timeoff/timeoff"
)

// Handler holds the engine every endpoint delegates to.
type Handler struct {
	Engine *approval.Engine
}

func NewHandler(engine *approval.Engine) *Handler {
	return &Handler{Engine: engine}
}

// =============================================================================
// REQUEST QUEUE ENDPOINTS
// =============================================================================

// ListPending returns requests awaiting a decision, oldest first.
// GET /api/requests/pending
func (h *Handler) ListPending(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.Engine.Pending(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTOs(reqs))
}

// ListDenied returns denied requests, most recent denial first.
// GET /api/requests/denied
func (h *Handler) ListDenied(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.Engine.Denied(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTOs(reqs))
}

// ClearDenied removes every denied request from the queue.
// DELETE /api/requests/denied
func (h *Handler) ClearDenied(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.ClearDenied(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SubmitRequest creates a new pending request.
// POST /api/requests
func (h *Handler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	var dto SubmitRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	req, err := fromSubmitDTO(&dto)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	req.ID = timeoff.NewGroupID()

	if err := h.Engine.Submit(r.Context(), req); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRequestDTO(*req))
}

// Approve runs the decision workflow for one request.
// POST /api/requests/{id}/approve
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	res, err := h.Engine.Approve(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	out := ApproveResultDTO{GroupID: res.GroupID}
	for _, e := range res.Entries {
		out.Entries = append(out.Entries, toEntryDTO(e))
	}
	writeJSON(w, http.StatusOK, out)
}

// Deny marks a request denied with a reason.
// POST /api/requests/{id}/deny
func (h *Handler) Deny(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var dto DenyRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.Engine.Deny(r.Context(), id, dto.Reason); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// ENTRY ENDPOINTS
// =============================================================================

// ListEntries returns the live local rows. ?view=collapsed folds vacation
// groups into one span each.
// GET /api/entries
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Engine.Entries(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if r.URL.Query().Get("view") == "collapsed" {
		spans := timeoff.Collapse(entries)
		out := make([]SpanDTO, len(spans))
		for i, s := range spans {
			out[i] = toSpanDTO(s)
		}
		writeJSON(w, http.StatusOK, out)
		return
	}

	out := make([]EntryDTO, len(entries))
	for i, e := range entries {
		out[i] = toEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, out)
}

// CreateEntry adds time off directly, bypassing the request queue.
// POST /api/entries
func (h *Handler) CreateEntry(w http.ResponseWriter, r *http.Request) {
	var dto SubmitRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	req, err := fromSubmitDTO(&dto)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	res, err := h.Engine.ManualAdd(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	out := ApproveResultDTO{GroupID: res.GroupID}
	for _, e := range res.Entries {
		out.Entries = append(out.Entries, toEntryDTO(e))
	}
	writeJSON(w, http.StatusCreated, out)
}

// UpdateEntry edits one day-row in place.
// PUT /api/entries/{id}
func (h *Handler) UpdateEntry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var dto UpdateEntryDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	existing, err := h.Engine.Entry(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	entry, err := applyUpdateDTO(*existing, &dto)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.Engine.UpdateEntry(r.Context(), entry); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTO(entry))
}

// DeleteEntry removes an entry; group rows take their whole group.
// DELETE /api/entries/{id}
func (h *Handler) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.Engine.DeleteEntry(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// BALANCE ENDPOINTS
// =============================================================================

// GetTrimesters returns the three balance summaries for a year.
// GET /api/employees/{id}/trimesters?year=YYYY
func (h *Handler) GetTrimesters(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	year := time.Now().UTC().Year()
	if q := r.URL.Query().Get("year"); q != "" {
		y, err := strconv.Atoi(q)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid year", err)
			return
		}
		year = y
	}

	summaries, err := h.Engine.Trimesters(r.Context(), id, year)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	out := make([]TrimesterDTO, len(summaries))
	for i, s := range summaries {
		out[i] = toTrimesterDTO(s)
	}
	writeJSON(w, http.StatusOK, out)
}

// GetRemaining returns hours left in the trimester containing a date.
// GET /api/employees/{id}/remaining?date=YYYY-MM-DD
func (h *Handler) GetRemaining(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	date := time.Now().UTC()
	if q := r.URL.Query().Get("date"); q != "" {
		d, err := time.ParseInLocation(dayFormat, q, time.UTC)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
			return
		}
		date = d
	}

	remaining, err := h.Engine.Remaining(r.Context(), id, date)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, RemainingDTO{
		EmployeeID: id,
		Date:       timeoff.Day(date).Format(dayFormat),
		Remaining:  remaining.String(),
	})
}

// Health is a liveness probe.
// GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func toRequestDTOs(reqs []timeoff.Request) []RequestDTO {
	out := make([]RequestDTO, len(reqs))
	for i, r := range reqs {
		out[i] = toRequestDTO(r)
	}
	return out
}

func fromSubmitDTO(dto *SubmitRequestDTO) (*timeoff.Request, error) {
	date, err := time.ParseInLocation(dayFormat, dto.Date, time.UTC)
	if err != nil {
		return nil, err
	}

	req := &timeoff.Request{
		EmployeeID:   dto.EmployeeID,
		EmployeeName: dto.EmployeeName,
		Type:         timeoff.Type(dto.Type),
		Date:         date,
		Hours:        dto.Hours,
		IsAllDay:     true,
		StartTime:    dto.StartTime,
		EndTime:      dto.EndTime,
	}
	if dto.IsAllDay != nil {
		req.IsAllDay = *dto.IsAllDay
	}
	if dto.EndDate != nil {
		end, err := time.ParseInLocation(dayFormat, *dto.EndDate, time.UTC)
		if err != nil {
			return nil, err
		}
		req.EndDate = &end
	}
	return req, nil
}

func applyUpdateDTO(e timeoff.Entry, dto *UpdateEntryDTO) (timeoff.Entry, error) {
	date, err := time.ParseInLocation(dayFormat, dto.Date, time.UTC)
	if err != nil {
		return e, err
	}
	e.Date = date
	e.Type = timeoff.Type(dto.Type)
	e.Hours = dto.Hours
	e.StartTime = dto.StartTime
	e.EndTime = dto.EndTime
	if dto.IsAllDay != nil {
		e.IsAllDay = *dto.IsAllDay
	}
	if dto.EndDate != nil {
		end, err := time.ParseInLocation(dayFormat, *dto.EndDate, time.UTC)
		if err != nil {
			return e, err
		}
		e.EndDate = &end
	} else {
		e.EndDate = nil
	}
	return e, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps the error taxonomy to status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, timeoff.ErrValidation):
		writeError(w, http.StatusBadRequest, "Validation failed", err)
	case errors.Is(err, timeoff.ErrInsufficientBalance):
		writeError(w, http.StatusConflict, "Insufficient PTO balance", err)
	case errors.Is(err, timeoff.ErrConflict):
		writeError(w, http.StatusConflict, "Request already being approved", err)
	case errors.Is(err, timeoff.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.Is(err, timeoff.ErrUnknownEmployee):
		writeError(w, http.StatusNotFound, "Unknown employee", err)
	case errors.Is(err, timeoff.ErrNotEligible):
		writeError(w, http.StatusUnprocessableEntity, "Employee not eligible for PTO", err)
	case errors.Is(err, timeoff.ErrRemote):
		writeError(w, http.StatusBadGateway, "Remote queue unavailable", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
