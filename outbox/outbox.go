/*
Package outbox reconciles the local authoritative store with the remote
queue and mirror.

PURPOSE:
  Local and remote cannot be mutated in one transaction, so the system
  tolerates local-ahead-of-remote states and repairs them here. The
  approval workflow commits its local rows AND an outbox task in a single
  SQL transaction; this package then drives the remote side to completion
  with retries.

TASK KINDS:
  approve       delete the remote request, then upsert the employee-facing
                mirror records. The request id is the idempotency key: the
                whole task can be re-run safely. A remote delete that finds
                the document already gone is counted as done.
  mirror_add    upsert mirror records for a manual add (no remote request
                ever existed).
  mirror_delete best-effort delete of each day's mirror record, then sweep
                the locally marked rows. One failing day is logged and does
                not undo days already deleted.

RETRY:
  Exponential backoff per task. After MaxAttempts the task is parked as
  failed and surfaced via metrics; it is never silently dropped.

SEE ALSO:
  - approval/: enqueues tasks inside its local transactions
  - store/sqlite/: durable task table
*/
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/schedulehq/timeoff/metrics"
	"github.com/schedulehq/timeoff/remote"
	"github.com/schedulehq/timeoff/timeoff"
)

// =============================================================================
// TASKS
// =============================================================================

type Kind string

const (
	KindApprove      Kind = "approve"
	KindMirrorAdd    Kind = "mirror_add"
	KindMirrorDelete Kind = "mirror_delete"
)

type TaskStatus string

const (
	TaskPending TaskStatus = "pending"
	TaskDone    TaskStatus = "done"
	TaskFailed  TaskStatus = "failed"
)

// Task is one durable unit of remote work. IdempotencyKey is the original
// request id for approvals, or the group id for mirror-only tasks; the
// (kind, key) pair is unique so re-enqueueing is a no-op.
type Task struct {
	ID             string
	Kind           Kind
	IdempotencyKey string
	Payload        []byte
	Attempts       int
	NextAttemptAt  time.Time
	Status         TaskStatus
	LastError      string
	CreatedAt      time.Time
}

// ApprovePayload carries everything needed to finish an approval remotely.
type ApprovePayload struct {
	RequestID string                 `json:"requestId"`
	Mirrors   []timeoff.MirrorRecord `json:"mirrors"`
}

// MirrorDeletePayload names the rows marked for deletion locally.
type MirrorDeletePayload struct {
	EmployeeID string   `json:"employeeId"`
	GroupID    string   `json:"groupId,omitempty"`
	EntryIDs   []string `json:"entryIds"`
}

// NewTask builds a pending task due immediately.
func NewTask(kind Kind, idemKey string, payload any, now time.Time) (Task, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Task{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return Task{
		ID:             uuid.New().String(),
		Kind:           kind,
		IdempotencyKey: idemKey,
		Payload:        raw,
		Status:         TaskPending,
		NextAttemptAt:  now,
		CreatedAt:      now,
	}, nil
}

// =============================================================================
// STORE CONTRACT
// =============================================================================

// Store is the durable task table plus the local sweep hooks the
// mirror_delete task needs. Implemented by store/sqlite.
type Store interface {
	// ClaimDue returns pending tasks whose NextAttemptAt has passed.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]Task, error)

	// MarkTaskDone finishes a task.
	MarkTaskDone(ctx context.Context, id string) error

	// MarkTaskRetry reschedules a task after a failed attempt.
	MarkTaskRetry(ctx context.Context, id string, attempts int, nextAt time.Time, lastErr string) error

	// MarkTaskFailed parks a task permanently.
	MarkTaskFailed(ctx context.Context, id string, lastErr string) error

	// PendingTaskCount reports the outbox depth (for metrics).
	PendingTaskCount(ctx context.Context) (int, error)

	// SweepGroup removes locally marked rows once their mirrors are gone.
	SweepGroup(ctx context.Context, groupID string) error
	SweepEntries(ctx context.Context, ids []string) error
}

// =============================================================================
// DISPATCHER
// =============================================================================

// Dispatcher executes a single task against the remote collaborators.
type Dispatcher struct {
	Queue  remote.Queue
	Mirror remote.Mirror
	Store  Store
	Log    zerolog.Logger
}

// Dispatch runs one task to completion. Errors mean the task should retry.
func (d *Dispatcher) Dispatch(ctx context.Context, task Task) error {
	switch task.Kind {
	case KindApprove:
		return d.dispatchApprove(ctx, task)
	case KindMirrorAdd:
		return d.dispatchMirrorAdd(ctx, task)
	case KindMirrorDelete:
		return d.dispatchMirrorDelete(ctx, task)
	default:
		return fmt.Errorf("unknown task kind %q", task.Kind)
	}
}

func (d *Dispatcher) dispatchApprove(ctx context.Context, task Task) error {
	var p ApprovePayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return fmt.Errorf("decode approve payload: %w", err)
	}

	// Delete first: the remote document's absence is the approved signal,
	// and the first successful delete is what settles a concurrent race.
	if err := d.Queue.Delete(ctx, p.RequestID); err != nil && !errors.Is(err, remote.ErrGone) {
		return fmt.Errorf("delete request %s: %w", p.RequestID, err)
	}

	// Mirror writes are keyed by entry id, so redelivery cannot duplicate.
	for _, rec := range p.Mirrors {
		if err := d.Mirror.Upsert(ctx, rec); err != nil {
			return fmt.Errorf("mirror entry %s: %w", rec.EntryID, err)
		}
	}
	return nil
}

func (d *Dispatcher) dispatchMirrorAdd(ctx context.Context, task Task) error {
	var p ApprovePayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return fmt.Errorf("decode mirror_add payload: %w", err)
	}
	for _, rec := range p.Mirrors {
		if err := d.Mirror.Upsert(ctx, rec); err != nil {
			return fmt.Errorf("mirror entry %s: %w", rec.EntryID, err)
		}
	}
	return nil
}

func (d *Dispatcher) dispatchMirrorDelete(ctx context.Context, task Task) error {
	var p MirrorDeletePayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return fmt.Errorf("decode mirror_delete payload: %w", err)
	}

	// Best effort per day: one failing mirror delete is logged and skipped
	// rather than undoing days already removed.
	var firstErr error
	for _, entryID := range p.EntryIDs {
		if err := d.Mirror.Delete(ctx, p.EmployeeID, entryID); err != nil {
			d.Log.Warn().Err(err).Str("entry_id", entryID).Msg("mirror delete failed, will retry task")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if firstErr != nil {
		return firstErr
	}

	// Sweep: local rows were only marked during the first phase; remove
	// them now that the mirrors are gone.
	if p.GroupID != "" {
		return d.Store.SweepGroup(ctx, p.GroupID)
	}
	return d.Store.SweepEntries(ctx, p.EntryIDs)
}

// =============================================================================
// WORKER
// =============================================================================

// Worker polls the task table and drives tasks to done or failed.
type Worker struct {
	Dispatcher  *Dispatcher
	Interval    time.Duration
	MaxAttempts int
	BaseBackoff time.Duration
	Batch       int
	Log         zerolog.Logger
}

// NewWorker wires a worker with the stock retry policy.
func NewWorker(d *Dispatcher, log zerolog.Logger) *Worker {
	return &Worker{
		Dispatcher:  d,
		Interval:    5 * time.Second,
		MaxAttempts: 8,
		BaseBackoff: time.Second,
		Batch:       20,
		Log:         log,
	}
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.RunOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce processes one batch of due tasks. Exposed for tests and for the
// synchronous dispatch attempt right after an approval commits.
func (w *Worker) RunOnce(ctx context.Context) {
	store := w.Dispatcher.Store
	now := time.Now().UTC()

	tasks, err := store.ClaimDue(ctx, now, w.Batch)
	if err != nil {
		w.Log.Error().Err(err).Msg("outbox claim failed")
		return
	}

	for _, task := range tasks {
		w.process(ctx, task)
	}

	if depth, err := store.PendingTaskCount(ctx); err == nil {
		metrics.SetOutboxDepth(depth)
	}
}

func (w *Worker) process(ctx context.Context, task Task) {
	store := w.Dispatcher.Store

	err := w.Dispatcher.Dispatch(ctx, task)
	if err == nil {
		metrics.IncOutboxDispatch("ok")
		if err := store.MarkTaskDone(ctx, task.ID); err != nil {
			w.Log.Error().Err(err).Str("task_id", task.ID).Msg("mark done failed")
		}
		return
	}

	attempts := task.Attempts + 1
	if attempts >= w.MaxAttempts {
		metrics.IncOutboxDispatch("failed")
		w.Log.Error().Err(err).
			Str("task_id", task.ID).
			Str("kind", string(task.Kind)).
			Int("attempts", attempts).
			Msg("outbox task exhausted retries")
		if err := store.MarkTaskFailed(ctx, task.ID, err.Error()); err != nil {
			w.Log.Error().Err(err).Str("task_id", task.ID).Msg("mark failed failed")
		}
		return
	}

	metrics.IncOutboxDispatch("retry")
	nextAt := time.Now().UTC().Add(w.backoff(attempts))
	w.Log.Warn().Err(err).
		Str("task_id", task.ID).
		Str("kind", string(task.Kind)).
		Int("attempts", attempts).
		Time("next_attempt", nextAt).
		Msg("outbox task retrying")
	if err := store.MarkTaskRetry(ctx, task.ID, attempts, nextAt, err.Error()); err != nil {
		w.Log.Error().Err(err).Str("task_id", task.ID).Msg("mark retry failed")
	}
}

// backoff doubles per attempt, capped at ~4 minutes.
func (w *Worker) backoff(attempts int) time.Duration {
	d := w.BaseBackoff
	for i := 1; i < attempts && d < 4*time.Minute; i++ {
		d *= 2
	}
	if d > 4*time.Minute {
		d = 4 * time.Minute
	}
	return d
}
