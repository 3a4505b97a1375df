// Package verifycache holds ledger verification results for a bounded time so that
// repeated lookups of the same fingerprint do not hit the network.
package verifycache

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const DefaultTTL = 24 * time.Hour

// Entry is a cached result together with its lifetime.
type Entry[V any] struct {
	Value     V
	CachedAt  time.Time
	ExpiresAt time.Time
}

// Stats counts entries by freshness at the time of the call.
type Stats struct {
	Total   int `json:"total"`
	Valid   int `json:"valid"`
	Expired int `json:"expired"`
}

// Cache is a TTL map keyed by fingerprint. An expired entry is evicted when it is
// read; entries nobody reads again stay counted in Stats until Purge removes them.
type Cache[V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	clock   clockwork.Clock
	entries map[string]Entry[V]
}

func New[V any](ttl time.Duration, clock clockwork.Clock) *Cache[V] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Cache[V]{
		ttl:     ttl,
		clock:   clock,
		entries: make(map[string]Entry[V]),
	}
}

// Lookup returns the entry for key if it has not expired. An expired entry is removed
// and reported as a miss.
func (c *Cache[V]) Lookup(key string) (Entry[V], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero Entry[V]
	e, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	if !c.clock.Now().Before(e.ExpiresAt) {
		delete(c.entries, key)
		return zero, false
	}
	return e, true
}

// Store records value under key, replacing any previous entry.
func (c *Cache[V]) Store(key string, value V) Entry[V] {
	now := c.clock.Now()
	e := Entry[V]{
		Value:     value,
		CachedAt:  now,
		ExpiresAt: now.Add(c.ttl),
	}

	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
	return e
}

// Invalidate drops key and reports whether it was present.
func (c *Cache[V]) Invalidate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.entries[key]
	delete(c.entries, key)
	return ok
}

// Clear drops every entry and returns how many were removed.
func (c *Cache[V]) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.entries)
	c.entries = make(map[string]Entry[V])
	return n
}

func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	s := Stats{Total: len(c.entries)}
	for _, e := range c.entries {
		if now.Before(e.ExpiresAt) {
			s.Valid++
		} else {
			s.Expired++
		}
	}
	return s
}

// Purge removes expired entries and returns how many were removed.
func (c *Cache[V]) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	removed := 0
	for k, e := range c.entries {
		if !now.Before(e.ExpiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

func (c *Cache[V]) TTL() time.Duration {
	return c.ttl
}
