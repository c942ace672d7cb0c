/*
Package sqlite is the local authoritative store for approved time-off.

PURPOSE:
  Holds the day-rows that are the single source of truth for "this day is
  approved time off", the trimester carryover checkpoints, and the durable
  outbox task table. The remote queue is a collaborator; this database is
  what the business trusts.

KEY TABLES:
  time_off_entries:  one row per approved calendar day
  trimester_history: carryover checkpoints per (employee, trimester start)
  outbox_tasks:      durable remote work (see the outbox package)

CRITICAL INDEXES:
  idx_entries_request_day: UNIQUE (request_id, date). This is the local
  decision point for concurrent approvals of the same request - the second
  transaction hits the constraint and surfaces a ConflictError, so at most
  one approval materializes rows.

ATOMICITY:
  Multi-day approvals insert every day-row AND the outbox task in one SQL
  transaction via WithTx. Either the whole group plus its remote work
  commits, or nothing does.

TWO-PHASE DELETE:
  Deleting approved entries first marks rows (deleting=1) and enqueues a
  mirror-delete task in one transaction; the outbox sweeps the marked rows
  after the mirrors are gone. A crash mid-delete leaves marked rows and a
  pending task - recoverable, never silently inconsistent.

WAL MODE:
  Opened with WAL for concurrent readers and crash recovery, same as every
  deployment of this store so far.
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/schedulehq/timeoff/outbox"
	"github.com/schedulehq/timeoff/timeoff"
	"github.com/schedulehq/timeoff/trimester"
)

const dayFormat = "2006-01-02"

// Store implements the local entry store, the trimester history store and
// the outbox.Store contract on a single SQLite database.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ outbox.Store = (*Store)(nil)

// New opens (or creates) the database at path. Use ":memory:" in tests.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS time_off_entries (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		date TEXT NOT NULL,
		end_date TEXT,
		time_off_type TEXT NOT NULL,
		hours INTEGER NOT NULL,
		vacation_group_id TEXT,
		is_all_day BOOLEAN NOT NULL DEFAULT TRUE,
		start_time TEXT,
		end_time TEXT,
		request_id TEXT,
		deleting BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entries_employee_date
		ON time_off_entries(employee_id, date);
	CREATE INDEX IF NOT EXISTS idx_entries_group
		ON time_off_entries(vacation_group_id)
		WHERE vacation_group_id IS NOT NULL;

	-- Decision point for concurrent approvals: the same request can only
	-- ever materialize one row per day.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_request_day
		ON time_off_entries(request_id, date)
		WHERE request_id IS NOT NULL AND request_id != '';

	CREATE TABLE IF NOT EXISTS trimester_history (
		employee_id TEXT NOT NULL,
		trimester_start TEXT NOT NULL,
		carryover_hours TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(employee_id, trimester_start)
	);

	CREATE TABLE IF NOT EXISTS outbox_tasks (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		idempotency_key TEXT NOT NULL,
		payload TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		next_attempt_at TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		last_error TEXT,
		created_at TEXT NOT NULL,
		UNIQUE(kind, idempotency_key)
	);

	CREATE INDEX IF NOT EXISTS idx_outbox_due
		ON outbox_tasks(status, next_attempt_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// Tx exposes the writes that must share one SQL transaction.
type Tx struct {
	tx *sql.Tx
}

// WithTx runs fn inside a transaction. A returned error rolls everything
// back; nil commits.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", timeoff.ErrPersistence, err)
	}
	defer sqlTx.Rollback()

	if err := fn(&Tx{tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", timeoff.ErrPersistence, err)
	}
	return nil
}

// InsertEntry writes one day-row. A unique violation on the request/day
// index means a concurrent approval already materialized this request.
func (t *Tx) InsertEntry(ctx context.Context, e timeoff.Entry) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO time_off_entries
		(id, employee_id, date, end_date, time_off_type, hours, vacation_group_id,
		 is_all_day, start_time, end_time, request_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.EmployeeID, e.Date.Format(dayFormat), nullDay(e.EndDate),
		string(e.Type), e.Hours, nullString(e.VacationGroupID),
		e.IsAllDay, nullString(e.StartTime), nullString(e.EndTime),
		nullString(e.RequestID), e.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isRequestDayConflict(err) {
			return &timeoff.ConflictError{RequestID: e.RequestID, Detail: "local rows already exist for this request"}
		}
		return fmt.Errorf("%w: insert entry: %v", timeoff.ErrPersistence, err)
	}
	return nil
}

// Enqueue writes an outbox task in the same transaction as the rows it
// reconciles. Re-enqueueing the same (kind, key) is a no-op.
func (t *Tx) Enqueue(ctx context.Context, task outbox.Task) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO outbox_tasks
		(id, kind, idempotency_key, payload, attempts, next_attempt_at, status, created_at)
		VALUES (?, ?, ?, ?, 0, ?, ?, ?)
		ON CONFLICT(kind, idempotency_key) DO NOTHING`,
		task.ID, string(task.Kind), task.IdempotencyKey, string(task.Payload),
		task.NextAttemptAt.UTC().Format(time.RFC3339), string(outbox.TaskPending),
		task.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("%w: enqueue task: %v", timeoff.ErrPersistence, err)
	}
	return nil
}

// MarkGroupDeleting flips every row of a group into the deleting phase.
// Returns the marked rows.
func (t *Tx) MarkGroupDeleting(ctx context.Context, groupID string) ([]timeoff.Entry, error) {
	rows, err := t.tx.QueryContext(ctx, selectEntries+`
		WHERE vacation_group_id = ? AND deleting = FALSE ORDER BY date ASC`, groupID)
	if err != nil {
		return nil, fmt.Errorf("%w: load group: %v", timeoff.ErrPersistence, err)
	}
	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}

	if _, err := t.tx.ExecContext(ctx,
		`UPDATE time_off_entries SET deleting = TRUE WHERE vacation_group_id = ?`, groupID); err != nil {
		return nil, fmt.Errorf("%w: mark group deleting: %v", timeoff.ErrPersistence, err)
	}
	return entries, nil
}

// MarkEntryDeleting flips one lone row into the deleting phase.
func (t *Tx) MarkEntryDeleting(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE time_off_entries SET deleting = TRUE WHERE id = ? AND deleting = FALSE`, id)
	if err != nil {
		return fmt.Errorf("%w: mark entry deleting: %v", timeoff.ErrPersistence, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return timeoff.ErrNotFound
	}
	return nil
}

// =============================================================================
// ENTRY READS
// =============================================================================

const selectEntries = `
	SELECT id, employee_id, date, end_date, time_off_type, hours,
	       vacation_group_id, is_all_day, start_time, end_time, request_id, created_at
	FROM time_off_entries`

// GetEntry loads one row by id (including rows mid-delete).
func (s *Store) GetEntry(ctx context.Context, id string) (*timeoff.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, selectEntries+` WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("%w: get entry: %v", timeoff.ErrPersistence, err)
	}
	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, timeoff.ErrNotFound
	}
	return &entries[0], nil
}

// EntriesByEmployeeRange returns the employee's live rows with date inside
// [from, to], ordered by date. This is the accrual calculator's input.
func (s *Store) EntriesByEmployeeRange(ctx context.Context, employeeID string, from, to time.Time) ([]timeoff.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, selectEntries+`
		WHERE employee_id = ? AND date >= ? AND date <= ? AND deleting = FALSE
		ORDER BY date ASC`,
		employeeID, from.Format(dayFormat), to.Format(dayFormat))
	if err != nil {
		return nil, fmt.Errorf("%w: range query: %v", timeoff.ErrPersistence, err)
	}
	return scanEntries(rows)
}

// EntriesByEmployeeYear is the common accrual window: the whole year.
func (s *Store) EntriesByEmployeeYear(ctx context.Context, employeeID string, year int) ([]timeoff.Entry, error) {
	return s.EntriesByEmployeeRange(ctx, employeeID,
		timeoff.NewDate(year, time.January, 1), timeoff.NewDate(year, time.December, 31))
}

// ListEntries is the raw listing for display, all employees, ordered by
// date then employee.
func (s *Store) ListEntries(ctx context.Context) ([]timeoff.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, selectEntries+`
		WHERE deleting = FALSE ORDER BY date ASC, employee_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("%w: list entries: %v", timeoff.ErrPersistence, err)
	}
	return scanEntries(rows)
}

// GroupRows returns every live row sharing a vacation group id.
func (s *Store) GroupRows(ctx context.Context, groupID string) ([]timeoff.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, selectEntries+`
		WHERE vacation_group_id = ? AND deleting = FALSE ORDER BY date ASC`, groupID)
	if err != nil {
		return nil, fmt.Errorf("%w: group query: %v", timeoff.ErrPersistence, err)
	}
	return scanEntries(rows)
}

// EntriesByRequest returns rows materialized from a request id. Non-empty
// means an earlier approval already committed locally.
func (s *Store) EntriesByRequest(ctx context.Context, requestID string) ([]timeoff.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, selectEntries+`
		WHERE request_id = ? ORDER BY date ASC`, requestID)
	if err != nil {
		return nil, fmt.Errorf("%w: request query: %v", timeoff.ErrPersistence, err)
	}
	return scanEntries(rows)
}

// =============================================================================
// ENTRY WRITES (single-row)
// =============================================================================

// UpdateEntry edits one row in place. Group membership is untouched: edits
// never split or merge vacation groups.
func (s *Store) UpdateEntry(ctx context.Context, e timeoff.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE time_off_entries
		SET date = ?, end_date = ?, time_off_type = ?, hours = ?,
		    is_all_day = ?, start_time = ?, end_time = ?
		WHERE id = ? AND deleting = FALSE`,
		e.Date.Format(dayFormat), nullDay(e.EndDate), string(e.Type), e.Hours,
		e.IsAllDay, nullString(e.StartTime), nullString(e.EndTime), e.ID)
	if err != nil {
		return fmt.Errorf("%w: update entry: %v", timeoff.ErrPersistence, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return timeoff.ErrNotFound
	}
	return nil
}

// DeleteEntry removes one row immediately (no mirror involved; used by the
// sweep path and by callers that never mirrored the row).
func (s *Store) DeleteEntry(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM time_off_entries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: delete entry: %v", timeoff.ErrPersistence, err)
	}
	return nil
}

// =============================================================================
// TRIMESTER HISTORY CHECKPOINTS
// =============================================================================

// SaveHistory upserts a carryover checkpoint.
func (s *Store) SaveHistory(ctx context.Context, h trimester.History) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trimester_history (employee_id, trimester_start, carryover_hours, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(employee_id, trimester_start) DO UPDATE SET
			carryover_hours = excluded.carryover_hours,
			updated_at = excluded.updated_at`,
		h.EmployeeID, h.TrimesterStart.Format(dayFormat), h.CarryoverHours.String(),
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("%w: save history: %v", timeoff.ErrPersistence, err)
	}
	return nil
}

// GetHistory loads one checkpoint; ErrNotFound when missing so callers can
// recompute lazily.
func (s *Store) GetHistory(ctx context.Context, employeeID string, trimesterStart time.Time) (*trimester.History, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var carryover string
	err := s.db.QueryRowContext(ctx, `
		SELECT carryover_hours FROM trimester_history
		WHERE employee_id = ? AND trimester_start = ?`,
		employeeID, trimesterStart.Format(dayFormat)).Scan(&carryover)
	if err == sql.ErrNoRows {
		return nil, timeoff.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get history: %v", timeoff.ErrPersistence, err)
	}

	hours, err := decimal.NewFromString(carryover)
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt carryover %q: %v", timeoff.ErrPersistence, carryover, err)
	}
	return &trimester.History{
		EmployeeID:     employeeID,
		TrimesterStart: trimesterStart,
		CarryoverHours: hours,
	}, nil
}

// =============================================================================
// OUTBOX (outbox.Store)
// =============================================================================

// EnqueueTask writes a task outside any caller transaction.
func (s *Store) EnqueueTask(ctx context.Context, task outbox.Task) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		return tx.Enqueue(ctx, task)
	})
}

func (s *Store) ClaimDue(ctx context.Context, now time.Time, limit int) ([]outbox.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, idempotency_key, payload, attempts, next_attempt_at, status, last_error, created_at
		FROM outbox_tasks
		WHERE status = 'pending' AND next_attempt_at <= ?
		ORDER BY next_attempt_at ASC
		LIMIT ?`,
		now.UTC().Format(time.RFC3339), limit)
	if err != nil {
		return nil, fmt.Errorf("%w: claim tasks: %v", timeoff.ErrPersistence, err)
	}
	defer rows.Close()

	var tasks []outbox.Task
	for rows.Next() {
		var (
			t                     outbox.Task
			kind, status, payload string
			nextAt, createdAt     string
			lastErr               sql.NullString
		)
		if err := rows.Scan(&t.ID, &kind, &t.IdempotencyKey, &payload,
			&t.Attempts, &nextAt, &status, &lastErr, &createdAt); err != nil {
			return nil, fmt.Errorf("%w: scan task: %v", timeoff.ErrPersistence, err)
		}
		t.Kind = outbox.Kind(kind)
		t.Status = outbox.TaskStatus(status)
		t.Payload = []byte(payload)
		t.LastError = lastErr.String
		t.NextAttemptAt, _ = time.Parse(time.RFC3339, nextAt)
		t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *Store) MarkTaskDone(ctx context.Context, id string) error {
	return s.setTaskStatus(ctx, id, outbox.TaskDone, "")
}

func (s *Store) MarkTaskFailed(ctx context.Context, id string, lastErr string) error {
	return s.setTaskStatus(ctx, id, outbox.TaskFailed, lastErr)
}

func (s *Store) setTaskStatus(ctx context.Context, id string, status outbox.TaskStatus, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE outbox_tasks SET status = ?, last_error = ? WHERE id = ?`,
		string(status), nullString(lastErr), id)
	if err != nil {
		return fmt.Errorf("%w: set task status: %v", timeoff.ErrPersistence, err)
	}
	return nil
}

func (s *Store) MarkTaskRetry(ctx context.Context, id string, attempts int, nextAt time.Time, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox_tasks SET attempts = ?, next_attempt_at = ?, last_error = ?
		WHERE id = ?`,
		attempts, nextAt.UTC().Format(time.RFC3339), lastErr, id)
	if err != nil {
		return fmt.Errorf("%w: reschedule task: %v", timeoff.ErrPersistence, err)
	}
	return nil
}

func (s *Store) PendingTaskCount(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM outbox_tasks WHERE status = 'pending'`).Scan(&n)
	return n, err
}

// SweepGroup removes rows a mirror-delete task marked earlier.
func (s *Store) SweepGroup(ctx context.Context, groupID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM time_off_entries WHERE vacation_group_id = ? AND deleting = TRUE`, groupID)
	if err != nil {
		return fmt.Errorf("%w: sweep group: %v", timeoff.ErrPersistence, err)
	}
	return nil
}

// SweepEntries removes individually marked rows.
func (s *Store) SweepEntries(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM time_off_entries WHERE id = ? AND deleting = TRUE`, id); err != nil {
			return fmt.Errorf("%w: sweep entry %s: %v", timeoff.ErrPersistence, id, err)
		}
	}
	return nil
}

// TaskByKey loads a task by its idempotency pair. Mostly for tests and
// operational inspection.
func (s *Store) TaskByKey(ctx context.Context, kind outbox.Kind, key string) (*outbox.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		t                        outbox.Task
		kindStr, status          string
		payload, nextAt, created string
		lastErr                  sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, kind, idempotency_key, payload, attempts, next_attempt_at, status, last_error, created_at
		FROM outbox_tasks WHERE kind = ? AND idempotency_key = ?`,
		string(kind), key).Scan(&t.ID, &kindStr, &t.IdempotencyKey, &payload,
		&t.Attempts, &nextAt, &status, &lastErr, &created)
	if err == sql.ErrNoRows {
		return nil, timeoff.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: task by key: %v", timeoff.ErrPersistence, err)
	}
	t.Kind = outbox.Kind(kindStr)
	t.Status = outbox.TaskStatus(status)
	t.Payload = []byte(payload)
	t.LastError = lastErr.String
	t.NextAttemptAt, _ = time.Parse(time.RFC3339, nextAt)
	t.CreatedAt, _ = time.Parse(time.RFC3339, created)
	return &t, nil
}

// =============================================================================
// SCAN HELPERS
// =============================================================================

func scanEntries(rows *sql.Rows) ([]timeoff.Entry, error) {
	defer rows.Close()

	var entries []timeoff.Entry
	for rows.Next() {
		var (
			e                  timeoff.Entry
			date               string
			endDate            sql.NullString
			groupID, startTime sql.NullString
			endTime, requestID sql.NullString
			createdAt          string
			typ                string
		)
		if err := rows.Scan(&e.ID, &e.EmployeeID, &date, &endDate, &typ, &e.Hours,
			&groupID, &e.IsAllDay, &startTime, &endTime, &requestID, &createdAt); err != nil {
			return nil, fmt.Errorf("%w: scan entry: %v", timeoff.ErrPersistence, err)
		}
		e.Type = timeoff.Type(typ)
		e.Date, _ = time.ParseInLocation(dayFormat, date, time.UTC)
		if endDate.Valid {
			d, _ := time.ParseInLocation(dayFormat, endDate.String, time.UTC)
			e.EndDate = &d
		}
		e.VacationGroupID = groupID.String
		e.StartTime = startTime.String
		e.EndTime = endTime.String
		e.RequestID = requestID.String
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDay(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(dayFormat), Valid: true}
}

func isRequestDayConflict(err error) bool {
	return err != nil && strings.Contains(err.Error(), "idx_entries_request_day")
}
