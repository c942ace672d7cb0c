package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "timeoff:employee:"

// Cached is a read-through Redis cache in front of a Directory. Lookups
// hit Redis first; misses fall through and populate the cache. Writes to
// the underlying directory must call Invalidate so the next lookup sees
// the fresh record.
type Cached struct {
	inner Directory
	redis *redis.Client
	ttl   time.Duration
}

// NewCached wraps dir. A nil redis client disables caching entirely.
func NewCached(dir Directory, rdb *redis.Client, ttl time.Duration) *Cached {
	return &Cached{inner: dir, redis: rdb, ttl: ttl}
}

func (c *Cached) Lookup(ctx context.Context, employeeID string) (*Employee, error) {
	key := cacheKeyPrefix + employeeID

	if c.redis != nil {
		if val, err := c.redis.Get(ctx, key).Result(); err == nil {
			var emp Employee
			if json.Unmarshal([]byte(val), &emp) == nil {
				return &emp, nil
			}
		}
	}

	emp, err := c.inner.Lookup(ctx, employeeID)
	if err != nil {
		return nil, err
	}

	if c.redis != nil && c.ttl > 0 {
		if data, err := json.Marshal(emp); err == nil {
			// Cache failures are invisible to callers; the next lookup
			// just misses again.
			_ = c.redis.Set(ctx, key, data, c.ttl).Err()
		}
	}
	return emp, nil
}

// List always goes to the source: listings are rare and staleness there
// is more confusing than the saved round trip is worth.
func (c *Cached) List(ctx context.Context) ([]Employee, error) {
	return c.inner.List(ctx)
}

// Invalidate drops the cached record for an employee after a write.
func (c *Cached) Invalidate(ctx context.Context, employeeID string) error {
	if c.redis == nil {
		return nil
	}
	if err := c.redis.Del(ctx, cacheKeyPrefix+employeeID).Err(); err != nil {
		return fmt.Errorf("invalidate %s: %w", employeeID, err)
	}
	return nil
}
