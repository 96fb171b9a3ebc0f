// Package resultcache is a short-TTL in-memory cache of terminal run
// results, keyed by submission fingerprint.
//
// It backs the optional completed-run reuse policy: when enabled, an
// identical resubmission arriving within the TTL replays the finished run's
// identity instead of queueing a fresh run. It is also the "cache"
// dependency probed by the health endpoint.
package resultcache

import (
	"sync"
	"time"

	"github.com/rift-hq/gateway/internal/model"
)

// Cache is safe for concurrent use. A zero TTL disables storage entirely:
// Set becomes a no-op and Get always misses, which is how the reuse policy
// is switched off without branching at every call site.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cachedEntry
	ttl     time.Duration
	done    chan struct{}
}

type cachedEntry struct {
	result    model.RunResult
	expiresAt time.Time
}

// New creates a cache with the given TTL.
// Call Close to stop the background eviction goroutine.
func New(ttl time.Duration) *Cache {
	c := &Cache{
		entries: make(map[string]cachedEntry),
		ttl:     ttl,
		done:    make(chan struct{}),
	}
	go c.evictLoop()
	return c
}

// Enabled reports whether the cache stores anything at all.
func (c *Cache) Enabled() bool {
	return c.ttl > 0
}

// Get returns the cached result for a fingerprint and true if a valid entry
// exists. Returns false on miss or expiry.
func (c *Cache) Get(fingerprint string) (model.RunResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[fingerprint]
	if !ok || time.Now().After(entry.expiresAt) {
		return model.RunResult{}, false
	}
	return entry.result, true
}

// Set stores a terminal result with the configured TTL.
func (c *Cache) Set(fingerprint string, result model.RunResult) {
	if c.ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[fingerprint] = cachedEntry{
		result:    result,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// Len reports the number of live entries. Used by the health endpoint as a
// liveness probe for the cache.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the background eviction goroutine.
func (c *Cache) Close() {
	close(c.done)
}

// evictLoop removes expired entries every minute.
func (c *Cache) evictLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.evictExpired()
		}
	}
}

func (c *Cache) evictExpired() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, v := range c.entries {
		if now.After(v.expiresAt) {
			delete(c.entries, k)
		}
	}
}
