/*
Package approval implements the manager decision workflow over time-off
requests.

PURPOSE:
  Orchestrates the collaborators: the remote request queue the employee
  submitted into, the employee directory, the trimester balance calculator,
  the local authoritative store, and the outbox that reconciles the remote
  side after the local commit.

APPROVE:
  load request -> resolve employee + eligibility -> PTO balance gate ->
  expand the span into day-rows -> ONE local transaction inserting every
  row and the outbox task -> synchronous outbox pass so the common case
  finishes remote work before the call returns.

  The local transaction is the decision point. A unique (request_id, date)
  index means two managers racing on the same request cannot both commit;
  the loser gets a ConflictError and zero rows. A remote failure after the
  commit does NOT roll anything back: the rows stand and the outbox worker
  keeps retrying the remote delete and mirror writes.

DENY:
  A remote-only in-place update. No local rows, ever. Re-denying an
  already denied request is a harmless overwrite.

DELETE:
  Two phases. Rows are first marked and a mirror-delete task enqueued in
  one transaction; the rows disappear from listings immediately but are
  only swept from the table after their mirrors are gone. A group id means
  the whole group goes; a lone row goes alone.

SEE ALSO:
  - trimester/: RemainingForDate, the balance gate
  - outbox/: task kinds and the retry policy
*/
package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/schedulehq/timeoff/directory"
	"github.com/schedulehq/timeoff/metrics"
	"github.com/schedulehq/timeoff/outbox"
	"github.com/schedulehq/timeoff/remote"
	"github.com/schedulehq/timeoff/store/sqlite"
	"github.com/schedulehq/timeoff/timeoff"
	"github.com/schedulehq/timeoff/trimester"
)

// Engine wires the decision workflow. Construct with NewEngine.
type Engine struct {
	store    *sqlite.Store
	queue    remote.Queue
	dir      directory.Directory
	codes    directory.JobCodes
	settings trimester.Settings
	worker   *outbox.Worker
	log      zerolog.Logger

	now func() time.Time
}

// NewEngine builds an engine. The worker is shared with the background
// poller; Approve runs one synchronous pass on it after committing.
func NewEngine(store *sqlite.Store, queue remote.Queue, dir directory.Directory,
	codes directory.JobCodes, settings trimester.Settings, worker *outbox.Worker,
	log zerolog.Logger) *Engine {
	return &Engine{
		store:    store,
		queue:    queue,
		dir:      dir,
		codes:    codes,
		settings: settings,
		worker:   worker,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// =============================================================================
// QUEUE READS
// =============================================================================

// Pending lists requests awaiting a decision, oldest first.
func (e *Engine) Pending(ctx context.Context) ([]timeoff.Request, error) {
	return e.queue.ListPending(ctx)
}

// Denied lists denied requests, most recent denial first. They stay
// visible until ClearDenied.
func (e *Engine) Denied(ctx context.Context) ([]timeoff.Request, error) {
	return e.queue.ListDenied(ctx)
}

// ClearDenied removes every denied request from the queue.
func (e *Engine) ClearDenied(ctx context.Context) error {
	return e.queue.ClearDenied(ctx)
}

// Submit validates and creates a new pending request in the remote queue.
func (e *Engine) Submit(ctx context.Context, req *timeoff.Request) error {
	if err := timeoff.ValidateRequest(req); err != nil {
		return err
	}
	if _, err := directory.Resolve(ctx, e.dir, e.codes, req.EmployeeID); err != nil {
		return err
	}
	req.Status = timeoff.StatusPending
	req.CreatedAt = e.now()
	return e.queue.Create(ctx, req)
}

// =============================================================================
// APPROVE
// =============================================================================

// ApproveResult reports what an approval materialized.
type ApproveResult struct {
	GroupID string
	Entries []timeoff.Entry
}

// Approve runs the full decision workflow for one request.
func (e *Engine) Approve(ctx context.Context, requestID string) (*ApproveResult, error) {
	started := e.now()

	req, err := e.queue.Get(ctx, requestID)
	if err != nil {
		if errors.Is(err, remote.ErrGone) {
			// Usually a retry after another manager's approval already
			// deleted the document.
			return nil, fmt.Errorf("%w: %s", timeoff.ErrNotFound, requestID)
		}
		return nil, err
	}
	if err := timeoff.ValidateRequest(req); err != nil {
		metrics.IncDecision("rejected")
		return nil, err
	}

	emp, err := directory.Resolve(ctx, e.dir, e.codes, req.EmployeeID)
	if err != nil {
		metrics.IncDecision("rejected")
		return nil, err
	}

	if req.Type.CountsAgainstBalance() {
		if !emp.PTOEligible {
			metrics.IncDecision("rejected")
			return nil, fmt.Errorf("%w: %s (job code %s)", timeoff.ErrNotEligible, emp.ID, emp.JobCode)
		}
		if err := e.checkBalance(ctx, req); err != nil {
			metrics.IncDecision("rejected")
			return nil, err
		}
	}

	groupID := timeoff.NewGroupID()
	entries := timeoff.ExpandSpan(req, groupID, e.now())

	mirrors := make([]timeoff.MirrorRecord, 0, len(entries))
	for _, entry := range entries {
		mirrors = append(mirrors, timeoff.MirrorOf(entry))
	}
	task, err := outbox.NewTask(outbox.KindApprove, req.ID,
		outbox.ApprovePayload{RequestID: req.ID, Mirrors: mirrors}, e.now())
	if err != nil {
		return nil, err
	}

	// The commit: every day-row plus the remote work, or nothing. This is
	// where a concurrent approval of the same request loses.
	err = e.store.WithTx(ctx, func(tx *sqlite.Tx) error {
		for _, entry := range entries {
			if err := tx.InsertEntry(ctx, entry); err != nil {
				return err
			}
		}
		return tx.Enqueue(ctx, task)
	})
	if err != nil {
		if errors.Is(err, timeoff.ErrConflict) {
			metrics.IncDecision("conflict")
			e.log.Warn().Str("request_id", req.ID).Msg("lost concurrent approval race")
		}
		return nil, err
	}

	metrics.IncDecision("approved")
	e.log.Info().
		Str("request_id", req.ID).
		Str("employee_id", req.EmployeeID).
		Str("group_id", groupID).
		Int("days", len(entries)).
		Msg("request approved")

	// Synchronous remote attempt. Failure here is already covered by the
	// committed task; the background worker finishes the job.
	e.worker.RunOnce(ctx)
	metrics.ObserveApprove(e.now().Sub(started))

	return &ApproveResult{GroupID: groupID, Entries: entries}, nil
}

func (e *Engine) checkBalance(ctx context.Context, req *timeoff.Request) error {
	entries, err := e.store.EntriesByEmployeeYear(ctx, req.EmployeeID, req.Date.Year())
	if err != nil {
		return err
	}

	remaining := trimester.RemainingForDate(entries, e.settings, req.Date)
	requested := decimal.NewFromInt(int64(req.RequestedHours()))
	if requested.GreaterThan(remaining) {
		metrics.IncBalanceCheck("insufficient")
		return &timeoff.InsufficientBalanceError{
			EmployeeID: req.EmployeeID,
			Date:       req.Date,
			Requested:  requested,
			Remaining:  remaining,
		}
	}
	metrics.IncBalanceCheck("ok")
	return nil
}

// =============================================================================
// DENY
// =============================================================================

// Deny marks a request denied in place. The request stays in the queue,
// visible in the denied list, and never touches the local store.
func (e *Engine) Deny(ctx context.Context, requestID, reason string) error {
	err := e.queue.MarkDenied(ctx, requestID, reason, e.now())
	if err != nil {
		if errors.Is(err, remote.ErrGone) {
			return fmt.Errorf("%w: %s", timeoff.ErrNotFound, requestID)
		}
		return err
	}
	metrics.IncDecision("denied")
	e.log.Info().Str("request_id", requestID).Str("reason", reason).Msg("request denied")
	return nil
}

// =============================================================================
// MANUAL ADD
// =============================================================================

// ManualAdd writes time off directly, bypassing the request queue. The
// span expands and groups exactly like an approval; only the remote
// delete is skipped since no request document exists.
func (e *Engine) ManualAdd(ctx context.Context, req *timeoff.Request) (*ApproveResult, error) {
	// Manual adds never had a queue document, so there is no request id to
	// validate; the entry rules cover everything else.
	probe := timeoff.Entry{
		EmployeeID: req.EmployeeID,
		Type:       req.Type,
		Date:       req.Date,
		EndDate:    req.EndDate,
		Hours:      req.Hours,
		IsAllDay:   req.IsAllDay,
		StartTime:  req.StartTime,
		EndTime:    req.EndTime,
	}
	if err := timeoff.ValidateEntry(&probe); err != nil {
		return nil, err
	}
	if _, err := directory.Resolve(ctx, e.dir, e.codes, req.EmployeeID); err != nil {
		return nil, err
	}

	groupID := timeoff.NewGroupID()
	entries := timeoff.ExpandSpan(req, groupID, e.now())
	for i := range entries {
		entries[i].RequestID = "" // no originating request
	}

	mirrors := make([]timeoff.MirrorRecord, 0, len(entries))
	for _, entry := range entries {
		mirrors = append(mirrors, timeoff.MirrorOf(entry))
	}
	task, err := outbox.NewTask(outbox.KindMirrorAdd, groupID,
		outbox.ApprovePayload{Mirrors: mirrors}, e.now())
	if err != nil {
		return nil, err
	}

	err = e.store.WithTx(ctx, func(tx *sqlite.Tx) error {
		for _, entry := range entries {
			if err := tx.InsertEntry(ctx, entry); err != nil {
				return err
			}
		}
		return tx.Enqueue(ctx, task)
	})
	if err != nil {
		return nil, err
	}

	e.log.Info().
		Str("employee_id", req.EmployeeID).
		Str("group_id", groupID).
		Int("days", len(entries)).
		Msg("manual entry added")

	e.worker.RunOnce(ctx)
	return &ApproveResult{GroupID: groupID, Entries: entries}, nil
}

// =============================================================================
// EDIT AND DELETE
// =============================================================================

// UpdateEntry edits a single day-row in place. Group membership never
// changes: editing one day of a vacation group does not split it.
func (e *Engine) UpdateEntry(ctx context.Context, entry timeoff.Entry) error {
	if err := timeoff.ValidateEntry(&entry); err != nil {
		return err
	}
	if err := e.store.UpdateEntry(ctx, entry); err != nil {
		return err
	}

	// Keep the mirror in step with the edit. Each edit is its own logical
	// operation, so the key carries a fresh uuid: a second edit must
	// enqueue a second task, not dedupe against the finished first one.
	task, err := outbox.NewTask(outbox.KindMirrorAdd,
		fmt.Sprintf("edit:%s:%s", entry.ID, uuid.New().String()),
		outbox.ApprovePayload{Mirrors: []timeoff.MirrorRecord{timeoff.MirrorOf(entry)}}, e.now())
	if err != nil {
		return err
	}
	if err := e.store.EnqueueTask(ctx, task); err != nil {
		return err
	}
	e.worker.RunOnce(ctx)
	return nil
}

// DeleteEntry removes an approved entry. A row belonging to a vacation
// group takes its whole group with it.
func (e *Engine) DeleteEntry(ctx context.Context, entryID string) error {
	entry, err := e.store.GetEntry(ctx, entryID)
	if err != nil {
		return err
	}

	if entry.VacationGroupID != "" {
		return e.deleteGroup(ctx, entry.EmployeeID, entry.VacationGroupID)
	}
	return e.deleteSingle(ctx, entry)
}

func (e *Engine) deleteGroup(ctx context.Context, employeeID, groupID string) error {
	var marked []timeoff.Entry
	err := e.store.WithTx(ctx, func(tx *sqlite.Tx) error {
		var err error
		marked, err = tx.MarkGroupDeleting(ctx, groupID)
		if err != nil {
			return err
		}
		if len(marked) == 0 {
			return timeoff.ErrNotFound
		}

		ids := make([]string, 0, len(marked))
		for _, m := range marked {
			ids = append(ids, m.ID)
		}
		task, err := outbox.NewTask(outbox.KindMirrorDelete, groupID,
			outbox.MirrorDeletePayload{EmployeeID: employeeID, GroupID: groupID, EntryIDs: ids}, e.now())
		if err != nil {
			return err
		}
		return tx.Enqueue(ctx, task)
	})
	if err != nil {
		return err
	}

	e.log.Info().Str("group_id", groupID).Int("days", len(marked)).Msg("vacation group deleted")
	e.worker.RunOnce(ctx)
	return nil
}

func (e *Engine) deleteSingle(ctx context.Context, entry *timeoff.Entry) error {
	err := e.store.WithTx(ctx, func(tx *sqlite.Tx) error {
		if err := tx.MarkEntryDeleting(ctx, entry.ID); err != nil {
			return err
		}
		task, err := outbox.NewTask(outbox.KindMirrorDelete, "entry:"+entry.ID,
			outbox.MirrorDeletePayload{EmployeeID: entry.EmployeeID, EntryIDs: []string{entry.ID}}, e.now())
		if err != nil {
			return err
		}
		return tx.Enqueue(ctx, task)
	})
	if err != nil {
		return err
	}

	e.log.Info().Str("entry_id", entry.ID).Msg("entry deleted")
	e.worker.RunOnce(ctx)
	return nil
}

// =============================================================================
// BALANCE QUERIES
// =============================================================================

// Trimesters returns the three balance summaries for an employee's year
// and refreshes the persisted carryover checkpoints.
func (e *Engine) Trimesters(ctx context.Context, employeeID string, year int) ([3]trimester.Summary, error) {
	var zero [3]trimester.Summary
	if _, err := e.dir.Lookup(ctx, employeeID); err != nil {
		return zero, err
	}

	entries, err := e.store.EntriesByEmployeeYear(ctx, employeeID, year)
	if err != nil {
		return zero, err
	}
	summaries := trimester.Summarize(entries, e.settings, year)

	// Checkpoints are derived data; a failed save only costs a recompute.
	for _, h := range trimester.CheckpointsFor(employeeID, summaries) {
		if err := e.store.SaveHistory(ctx, h); err != nil {
			e.log.Warn().Err(err).Str("employee_id", employeeID).Msg("checkpoint save failed")
		}
	}
	return summaries, nil
}

// Remaining returns the hours left in the trimester containing date.
func (e *Engine) Remaining(ctx context.Context, employeeID string, date time.Time) (decimal.Decimal, error) {
	if _, err := e.dir.Lookup(ctx, employeeID); err != nil {
		return decimal.Zero, err
	}
	entries, err := e.store.EntriesByEmployeeYear(ctx, employeeID, date.Year())
	if err != nil {
		return decimal.Zero, err
	}
	return trimester.RemainingForDate(entries, e.settings, date), nil
}

// Entries lists the live local rows, optionally collapsed into spans by
// the caller via timeoff.Collapse.
func (e *Engine) Entries(ctx context.Context) ([]timeoff.Entry, error) {
	return e.store.ListEntries(ctx)
}

// Entry loads one day-row.
func (e *Engine) Entry(ctx context.Context, id string) (*timeoff.Entry, error) {
	return e.store.GetEntry(ctx, id)
}
