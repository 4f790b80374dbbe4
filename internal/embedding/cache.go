package embedding

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// QueryCache caches query embeddings. Concurrent misses for the same key
// share one computation.
type QueryCache struct {
	lru   *expirable.LRU[string, []float32]
	group singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
}

// NewQueryCache creates a cache of size entries that expire after ttl.
// It returns nil when size or ttl is not positive; a nil cache computes
// every query.
func NewQueryCache(size int, ttl time.Duration) *QueryCache {
	if size <= 0 || ttl <= 0 {
		return nil
	}
	return &QueryCache{lru: expirable.NewLRU[string, []float32](size, nil, ttl)}
}

// Get returns the cached vector for key or computes it with load.
func (c *QueryCache) Get(ctx context.Context, key string, load func(context.Context) ([]float32, error)) ([]float32, error) {
	if c == nil {
		return load(ctx)
	}
	if v, ok := c.lru.Get(key); ok {
		c.hits.Add(1)
		return cloneVector(v), nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		if v, ok := c.lru.Get(key); ok {
			return v, nil
		}
		c.misses.Add(1)
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.lru.Add(key, cloneVector(v))
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	return cloneVector(v.([]float32)), nil
}

// Purge empties the cache.
func (c *QueryCache) Purge() {
	if c != nil {
		c.lru.Purge()
	}
}

// Stats returns hit and miss counts.
func (c *QueryCache) Stats() (hits, misses int64) {
	if c == nil {
		return 0, 0
	}
	return c.hits.Load(), c.misses.Load()
}

func cloneVector(v []float32) []float32 {
	if len(v) == 0 {
		return nil
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
