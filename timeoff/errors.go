/*
errors.go - Centralized error taxonomy for the time-off system

PURPOSE:
  One place for every error kind a caller can branch on. The rest of the
  system never signals failure with booleans or message strings; it returns
  one of these, wrapped with context.

ERROR CATEGORIES:
  1. Validation errors   - malformed input, rejected before any mutation
  2. Balance errors      - PTO request exceeds remaining trimester hours
  3. Lookup errors       - request or employee missing
  4. Persistence errors  - local store write failures (transaction aborted)
  5. Remote errors       - queue/mirror network failures
  6. Conflict errors     - concurrent approval of the same request

USAGE:
  if errors.Is(err, timeoff.ErrInsufficientBalance) {
      var ib *timeoff.InsufficientBalanceError
      if errors.As(err, &ib) {
          // ib.Remaining, ib.Requested
      }
  }
*/
package timeoff

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed input. Nothing is mutated.
	ErrValidation = errors.New("invalid input")

	// ErrInsufficientBalance is returned when a PTO request exceeds the
	// remaining hours of the trimester containing its start date.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrNotFound is returned when the remote request does not exist. On an
	// approval retry this usually means another manager already approved it.
	ErrNotFound = errors.New("request not found")

	// ErrUnknownEmployee is returned when the employee directory has no
	// record for the request's employee id.
	ErrUnknownEmployee = errors.New("unknown employee")

	// ErrNotEligible is returned when the employee's job code does not
	// grant PTO and a PTO request is approved for them.
	ErrNotEligible = errors.New("employee not eligible for pto")

	// ErrPersistence is returned when a local store write fails. Multi-row
	// inserts abort the whole transaction, leaving zero rows committed.
	ErrPersistence = errors.New("local store failure")

	// ErrRemote is returned when a remote queue or mirror operation fails.
	// When it happens after a successful local commit, the commit is
	// retained and the outbox retries the remote side.
	ErrRemote = errors.New("remote operation failed")

	// ErrConflict is returned when two approvals race on the same request.
	// Exactly one wins; the loser sees this (or ErrNotFound on retry).
	ErrConflict = errors.New("concurrent approval conflict")
)

// =============================================================================
// STRUCTURED ERRORS - carry context, unwrap to sentinels
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// InsufficientBalanceError reports how far over the line a request was.
type InsufficientBalanceError struct {
	EmployeeID string
	Date       time.Time
	Requested  decimal.Decimal
	Remaining  decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s: requested %s hours, %s remaining in trimester of %s",
		e.EmployeeID, e.Requested, e.Remaining, e.Date.Format("2006-01-02"))
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// ConflictError identifies which request lost a concurrent-approval race.
type ConflictError struct {
	RequestID string
	Detail    string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("request %s already being approved: %s", e.RequestID, e.Detail)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError reports whether the failure is the caller's fault.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrUnknownEmployee) ||
		errors.Is(err, ErrNotEligible)
}

// IsRetryable reports whether the same call might succeed if repeated.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRemote)
}
