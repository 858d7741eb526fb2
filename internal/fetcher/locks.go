package fetcher

import (
	"sync"

	"github.com/appwatch/mvcr-status-bot/internal/messaging"
)

// keyLocks tracks which application keys are currently being processed,
// separately for fetch and refresh requests. Fetch has priority: a
// refresh yields to any in-flight work on the same key, while a fetch
// yields only to another fetch. Retried deliveries bypass the skip so
// the failed attempt can run again; the counters keep release balanced.
type keyLocks struct {
	mu      sync.Mutex
	fetch   map[string]int
	refresh map[string]int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{
		fetch:   make(map[string]int),
		refresh: make(map[string]int),
	}
}

// tryAcquire registers key for requestType. It returns false when the
// request should be skipped under the priority rule; retries always
// acquire.
func (l *keyLocks) tryAcquire(requestType, key string, isRetry bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !isRetry {
		switch requestType {
		case messaging.RequestFetch:
			if l.fetch[key] > 0 {
				return false
			}
		case messaging.RequestRefresh:
			if l.fetch[key] > 0 || l.refresh[key] > 0 {
				return false
			}
		}
	}
	l.set(requestType)[key]++
	return true
}

func (l *keyLocks) release(requestType, key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	set := l.set(requestType)
	if set[key] <= 1 {
		delete(set, key)
		return
	}
	set[key]--
}

func (l *keyLocks) set(requestType string) map[string]int {
	if requestType == messaging.RequestFetch {
		return l.fetch
	}
	return l.refresh
}

// count reports the number of currently held keys.
func (l *keyLocks) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.fetch) + len(l.refresh)
}
