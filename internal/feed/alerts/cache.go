package alerts

import (
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/storm-watch/internal/domain"
)

// LiveCache is a bounded in-memory view of recently ingested alerts with
// TTL eviction, owned by the adapter. Consumers read through Recent rather
// than sharing the structure.
type LiveCache struct {
	maxEntries int
	ttl        time.Duration
	clock      clockwork.Clock

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	alert    domain.AlertRecord
	storedAt time.Time
}

// NewLiveCache creates a cache holding at most maxEntries alerts for at
// most ttl each.
func NewLiveCache(maxEntries int, ttl time.Duration, clock clockwork.Clock) *LiveCache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &LiveCache{
		maxEntries: maxEntries,
		ttl:        ttl,
		clock:      clock,
		entries:    make(map[string]cacheEntry),
	}
}

// Put stores or refreshes an alert, evicting expired entries and, if the
// cache is still over capacity, the stalest one.
func (c *LiveCache) Put(a domain.AlertRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	c.evictExpiredLocked(now)

	c.entries[a.ExternalID] = cacheEntry{alert: a, storedAt: now}

	for len(c.entries) > c.maxEntries {
		c.evictOldestLocked()
	}
}

// Recent returns the unexpired alerts, most recently sent first.
func (c *LiveCache) Recent() []domain.AlertRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.clock.Now()
	out := make([]domain.AlertRecord, 0, len(c.entries))
	for _, e := range c.entries {
		if now.Sub(e.storedAt) < c.ttl {
			out = append(out, e.alert)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Sent.After(out[j].Sent)
	})
	return out
}

func (c *LiveCache) evictExpiredLocked(now time.Time) {
	for id, e := range c.entries {
		if now.Sub(e.storedAt) >= c.ttl {
			delete(c.entries, id)
		}
	}
}

func (c *LiveCache) evictOldestLocked() {
	var oldestID string
	var oldest time.Time
	for id, e := range c.entries {
		if oldestID == "" || e.storedAt.Before(oldest) {
			oldestID = id
			oldest = e.storedAt
		}
	}
	if oldestID != "" {
		delete(c.entries, oldestID)
	}
}
