package messaging

import (
	"sync"
	"time"
)

// dedupCache suppresses duplicate publishes of the same request within a
// TTL window. Eviction is lazy; the clock is injectable for tests.
type dedupCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]time.Time
}

func newDedupCache(ttl time.Duration, now func() time.Time) *dedupCache {
	if now == nil {
		now = time.Now
	}
	return &dedupCache{
		ttl:     ttl,
		now:     now,
		entries: make(map[string]time.Time),
	}
}

// Add records a fingerprint and reports whether it was absent. A false
// return means the same request was already published inside the window.
func (c *dedupCache) Add(fp string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if exp, ok := c.entries[fp]; ok && now.Before(exp) {
		return false
	}
	c.entries[fp] = now.Add(c.ttl)
	c.evictLocked(now)
	return true
}

// Contains reports whether the fingerprint is live in the cache.
func (c *dedupCache) Contains(fp string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	exp, ok := c.entries[fp]
	return ok && c.now().Before(exp)
}

// Discard drops a fingerprint, re-arming publication for the next cycle.
func (c *dedupCache) Discard(fp string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, fp)
}

func (c *dedupCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	now := c.now()
	for _, exp := range c.entries {
		if now.Before(exp) {
			n++
		}
	}
	return n
}

// evictLocked removes expired entries. Called with the lock held.
func (c *dedupCache) evictLocked(now time.Time) {
	for fp, exp := range c.entries {
		if !now.Before(exp) {
			delete(c.entries, fp)
		}
	}
}
