package remote

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/schedulehq/timeoff/timeoff"
)

// =============================================================================
// IN-MEMORY QUEUE - tests and local development
// =============================================================================

// MemoryQueue is a map-backed Queue with the same delete-wins semantics as
// the real document store.
type MemoryQueue struct {
	mu   sync.Mutex
	docs map[string]timeoff.Request

	// FailNext makes the next mutating call fail with the given error,
	// then clears itself. Lets tests exercise remote-failure paths.
	FailNext error
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{docs: make(map[string]timeoff.Request)}
}

func (q *MemoryQueue) takeFailure() error {
	err := q.FailNext
	q.FailNext = nil
	return err
}

func (q *MemoryQueue) Get(ctx context.Context, id string) (*timeoff.Request, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	doc, ok := q.docs[id]
	if !ok {
		return nil, ErrGone
	}
	cp := doc
	return &cp, nil
}

func (q *MemoryQueue) ListPending(ctx context.Context) ([]timeoff.Request, error) {
	return q.list(timeoff.StatusPending, func(a, b timeoff.Request) bool {
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

func (q *MemoryQueue) ListDenied(ctx context.Context) ([]timeoff.Request, error) {
	return q.list(timeoff.StatusDenied, func(a, b timeoff.Request) bool {
		at, bt := time.Time{}, time.Time{}
		if a.DeniedAt != nil {
			at = *a.DeniedAt
		}
		if b.DeniedAt != nil {
			bt = *b.DeniedAt
		}
		return at.After(bt)
	})
}

func (q *MemoryQueue) list(status timeoff.Status, less func(a, b timeoff.Request) bool) ([]timeoff.Request, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []timeoff.Request
	for _, doc := range q.docs {
		if doc.Status == status {
			out = append(out, doc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out, nil
}

func (q *MemoryQueue) Create(ctx context.Context, req *timeoff.Request) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.takeFailure(); err != nil {
		return err
	}
	q.docs[req.ID] = *req
	return nil
}

func (q *MemoryQueue) MarkDenied(ctx context.Context, id, reason string, at time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.takeFailure(); err != nil {
		return err
	}
	doc, ok := q.docs[id]
	if !ok {
		return ErrGone
	}
	doc.Status = timeoff.StatusDenied
	doc.DenialReason = reason
	doc.DeniedAt = &at
	q.docs[id] = doc
	return nil
}

func (q *MemoryQueue) Delete(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.takeFailure(); err != nil {
		return err
	}
	if _, ok := q.docs[id]; !ok {
		return ErrGone
	}
	delete(q.docs, id)
	return nil
}

func (q *MemoryQueue) ClearDenied(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for id, doc := range q.docs {
		if doc.Status == timeoff.StatusDenied {
			delete(q.docs, id)
		}
	}
	return nil
}

// =============================================================================
// IN-MEMORY MIRROR
// =============================================================================

// MemoryMirror records upserts and deletes for inspection in tests.
type MemoryMirror struct {
	mu   sync.Mutex
	recs map[string]timeoff.MirrorRecord // keyed by entry id

	FailNext error
}

func NewMemoryMirror() *MemoryMirror {
	return &MemoryMirror{recs: make(map[string]timeoff.MirrorRecord)}
}

func (m *MemoryMirror) Upsert(ctx context.Context, rec timeoff.MirrorRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailNext; err != nil {
		m.FailNext = nil
		return err
	}
	m.recs[rec.EntryID] = rec
	return nil
}

func (m *MemoryMirror) Delete(ctx context.Context, employeeID, entryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailNext; err != nil {
		m.FailNext = nil
		return err
	}
	delete(m.recs, entryID)
	return nil
}

// Records returns a snapshot of the mirrored records.
func (m *MemoryMirror) Records() []timeoff.MirrorRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]timeoff.MirrorRecord, 0, len(m.recs))
	for _, rec := range m.recs {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// Has reports whether an entry id is currently mirrored.
func (m *MemoryMirror) Has(entryID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.recs[entryID]
	return ok
}
