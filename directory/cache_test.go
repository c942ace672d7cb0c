/*
cache_test.go - Read-through cache tests

Covers:
- Cold lookup populating Redis
- Warm lookup served without touching the source
- Invalidation after a directory write
- Eligibility resolution through job codes
*/
package directory

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schedulehq/timeoff/timeoff"
)

// countingDirectory tracks how many lookups reach the source.
type countingDirectory struct {
	*MemoryDirectory
	lookups atomic.Int64
}

func (d *countingDirectory) Lookup(ctx context.Context, id string) (*Employee, error) {
	d.lookups.Add(1)
	return d.MemoryDirectory.Lookup(ctx, id)
}

func newCacheFixture(t *testing.T) (*countingDirectory, *Cached) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	src := &countingDirectory{MemoryDirectory: NewMemoryDirectory(Employee{
		ID:          "emp-1",
		DisplayName: "Dana Reyes",
		JobCode:     "RN",
		PTOEligible: true,
	})}
	return src, NewCached(src, rdb, time.Minute)
}

func TestCachedLookup_ReadThrough(t *testing.T) {
	// GIVEN: an empty cache over a one-employee directory
	src, cached := newCacheFixture(t)
	ctx := context.Background()

	// WHEN: the same employee is looked up twice
	first, err := cached.Lookup(ctx, "emp-1")
	require.NoError(t, err)
	second, err := cached.Lookup(ctx, "emp-1")
	require.NoError(t, err)

	// THEN: the source was hit exactly once and both results agree
	assert.Equal(t, int64(1), src.lookups.Load())
	assert.Equal(t, first.DisplayName, second.DisplayName)
	assert.Equal(t, "RN", second.JobCode)
}

func TestCachedLookup_UnknownEmployeeNotCached(t *testing.T) {
	src, cached := newCacheFixture(t)
	ctx := context.Background()

	_, err := cached.Lookup(ctx, "nobody")
	require.ErrorIs(t, err, timeoff.ErrUnknownEmployee)

	// Errors never populate the cache, so each attempt reaches the source.
	_, err = cached.Lookup(ctx, "nobody")
	require.ErrorIs(t, err, timeoff.ErrUnknownEmployee)
	assert.Equal(t, int64(2), src.lookups.Load())
}

func TestCachedLookup_InvalidateAfterWrite(t *testing.T) {
	// GIVEN: a cached record
	src, cached := newCacheFixture(t)
	ctx := context.Background()

	_, err := cached.Lookup(ctx, "emp-1")
	require.NoError(t, err)

	// WHEN: the directory record changes and the id is invalidated
	src.Put(Employee{ID: "emp-1", DisplayName: "Dana Reyes-Cole", JobCode: "RN", PTOEligible: true})
	require.NoError(t, cached.Invalidate(ctx, "emp-1"))

	// THEN: the next lookup sees the new name
	got, err := cached.Lookup(ctx, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, "Dana Reyes-Cole", got.DisplayName)
	assert.Equal(t, int64(2), src.lookups.Load())
}

func TestCached_NilRedisPassesThrough(t *testing.T) {
	src := &countingDirectory{MemoryDirectory: NewMemoryDirectory(Employee{ID: "emp-1", DisplayName: "Dana"})}
	cached := NewCached(src, nil, time.Minute)

	for i := 0; i < 3; i++ {
		_, err := cached.Lookup(context.Background(), "emp-1")
		require.NoError(t, err)
	}
	assert.Equal(t, int64(3), src.lookups.Load())
}

func TestResolve_EligibilityFromJobCode(t *testing.T) {
	// GIVEN: an employee whose directory flag disagrees with the job code
	ctx := context.Background()
	dir := NewMemoryDirectory(
		Employee{ID: "emp-1", DisplayName: "Dana", JobCode: "RN", PTOEligible: false},
		Employee{ID: "emp-2", DisplayName: "Sam", JobCode: "VOL", PTOEligible: true},
		Employee{ID: "emp-3", DisplayName: "Kim", JobCode: ""},
	)
	codes := NewMemoryJobCodes(
		JobCode{Code: "RN", PTOEligible: true, Color: "#3b82f6"},
		JobCode{Code: "VOL", PTOEligible: false},
	)

	// THEN: the job code wins both ways
	emp, err := Resolve(ctx, dir, codes, "emp-1")
	require.NoError(t, err)
	assert.True(t, emp.PTOEligible)

	emp, err = Resolve(ctx, dir, codes, "emp-2")
	require.NoError(t, err)
	assert.False(t, emp.PTOEligible)

	// AND: no job code leaves the directory flag untouched
	emp, err = Resolve(ctx, dir, codes, "emp-3")
	require.NoError(t, err)
	assert.False(t, emp.PTOEligible)

	_, err = Resolve(ctx, dir, codes, "ghost")
	assert.ErrorIs(t, err, timeoff.ErrUnknownEmployee)
}
