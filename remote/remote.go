/*
Package remote defines the remote collaborators of the approval workflow:
the manager-scoped request queue and the employee-facing mirror.

PURPOSE:
  The remote queue owns pending and denied requests. Approval deletes the
  queue document (its absence IS the approved signal); denial mutates it in
  place and leaves it queryable. The mirror holds employee-visible copies of
  approved entries, keyed by entry id so redelivered writes are no-op
  upserts.

CONCURRENCY:
  Delete is the single point of mutual exclusion for concurrent approvals:
  exactly one caller's delete succeeds, the loser gets ErrGone. Staleness
  between a pending-list fetch and an action on it is fine because the
  workflow re-validates at commit time.

IMPLEMENTATIONS:
  - client.go: HTTP document-store client with rate limiting, bounded
    retry and an optional Redis list cache
  - memory.go: in-memory queue/mirror for tests and local development
*/
package remote

import (
	"context"
	"errors"
	"time"

	"github.com/schedulehq/timeoff/timeoff"
)

// ErrGone is returned when a document to act on no longer exists. For
// approvals this means another manager won the race.
var ErrGone = errors.New("remote document gone")

// Queue is the manager-scoped request collection.
type Queue interface {
	// Get loads one request by id. Returns ErrGone if absent.
	Get(ctx context.Context, id string) (*timeoff.Request, error)

	// ListPending returns requests awaiting a decision, oldest first.
	ListPending(ctx context.Context) ([]timeoff.Request, error)

	// ListDenied returns denied requests, most recently denied first.
	// Denied requests stay visible until cleared.
	ListDenied(ctx context.Context) ([]timeoff.Request, error)

	// Create inserts a new pending request (employee submission path).
	Create(ctx context.Context, req *timeoff.Request) error

	// MarkDenied flips a request to denied in place. Re-denying an
	// already-denied request is a no-op update.
	MarkDenied(ctx context.Context, id, reason string, at time.Time) error

	// Delete removes the document. This is the atomic decision point for
	// approval: the first successful delete wins, later callers get
	// ErrGone.
	Delete(ctx context.Context, id string) error

	// ClearDenied removes all denied documents.
	ClearDenied(ctx context.Context) error
}

// Mirror is the employee-facing view of approved entries.
type Mirror interface {
	// Upsert writes a mirrored record, keyed by entry id. Idempotent.
	Upsert(ctx context.Context, rec timeoff.MirrorRecord) error

	// Delete removes one mirrored record. Deleting a missing record is
	// not an error.
	Delete(ctx context.Context, employeeID, entryID string) error
}
