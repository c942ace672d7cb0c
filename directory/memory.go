package directory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/schedulehq/timeoff/timeoff"
)

// MemoryDirectory is a map-backed Directory for tests and local runs.
type MemoryDirectory struct {
	mu   sync.RWMutex
	emps map[string]Employee
}

func NewMemoryDirectory(emps ...Employee) *MemoryDirectory {
	d := &MemoryDirectory{emps: make(map[string]Employee)}
	for _, e := range emps {
		d.emps[e.ID] = e
	}
	return d
}

func (d *MemoryDirectory) Lookup(ctx context.Context, employeeID string) (*Employee, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	emp, ok := d.emps[employeeID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", timeoff.ErrUnknownEmployee, employeeID)
	}
	cp := emp
	return &cp, nil
}

func (d *MemoryDirectory) List(ctx context.Context) ([]Employee, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Employee, 0, len(d.emps))
	for _, e := range d.emps {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayName < out[j].DisplayName })
	return out, nil
}

// Put adds or replaces an employee. Callers holding a Cached wrapper must
// invalidate the id afterwards.
func (d *MemoryDirectory) Put(e Employee) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.emps[e.ID] = e
}

// MemoryJobCodes is a map-backed JobCodes.
type MemoryJobCodes struct {
	mu    sync.RWMutex
	codes map[string]JobCode
}

func NewMemoryJobCodes(codes ...JobCode) *MemoryJobCodes {
	j := &MemoryJobCodes{codes: make(map[string]JobCode)}
	for _, c := range codes {
		j.codes[c.Code] = c
	}
	return j
}

func (j *MemoryJobCodes) Get(ctx context.Context, code string) (*JobCode, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	jc, ok := j.codes[code]
	if !ok {
		return nil, nil
	}
	cp := jc
	return &cp, nil
}
