// CLAUDE:SUMMARY Hourly dedupe cache for snapshots — in-memory map, advisory only, prunes stale buckets.
package telemetry

import (
	"sync"
	"time"
)

// Cache dedupes scrapes within an hour bucket. It is advisory: the
// orchestrator treats every cache failure as a miss and carries on.
type Cache interface {
	// Get returns the snapshot cached for (postID, hour bucket), or nil.
	Get(postID string, at time.Time) *MetricSnapshot
	// Put caches a snapshot for the remainder of its hour bucket.
	Put(postID string, at time.Time, snap *MetricSnapshot)
}

// memoryCache is the in-process Cache. The original design hid this behind
// a shared Redis client; an explicit struct handed to the orchestrator keeps
// the same semantics without hidden global state.
type memoryCache struct {
	mu      sync.Mutex
	entries map[cacheKey]*MetricSnapshot
}

type cacheKey struct {
	postID string
	hour   int64
}

// NewMemoryCache creates an in-process hourly cache.
func NewMemoryCache() Cache {
	return &memoryCache{entries: make(map[cacheKey]*MetricSnapshot)}
}

func hourBucket(at time.Time) int64 {
	return at.UTC().Unix() / 3600
}

func (c *memoryCache) Get(postID string, at time.Time) *MetricSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[cacheKey{postID: postID, hour: hourBucket(at)}]
}

func (c *memoryCache) Put(postID string, at time.Time, snap *MetricSnapshot) {
	hour := hourBucket(at)
	c.mu.Lock()
	defer c.mu.Unlock()

	// Drop buckets older than the current hour while we hold the lock;
	// keeps the map bounded without a background goroutine.
	for k := range c.entries {
		if k.hour < hour {
			delete(c.entries, k)
		}
	}
	c.entries[cacheKey{postID: postID, hour: hour}] = snap
}
