// Package cache implements the bounded, time-expiring result caches that sit
// in front of the message store. Two independent instances are used: one for
// history-query results and one for session-summary results.
//
// Semantics:
//   - Every entry carries an absolute expiration (fixed TTL from construction).
//     Expiry is checked lazily on access; an expired entry is treated as a
//     miss and removed.
//   - Capacity is enforced on insertion: when a new key would exceed the
//     bound, the least-recently-INSERTED entry is evicted. Access order is
//     deliberately ignored; insertion order alone drives eviction.
//   - Writes after a miss are full replacements; entries are never patched
//     in place.
//   - Targeted invalidation (exact key, key prefix, or prefix+suffix
//     conjunction) is the primary consistency mechanism; the TTL is only the
//     coarse backstop when an invalidation is skipped.
//
// All operations are safe for concurrent use.
package cache

import (
	"container/list"
	"strings"
	"sync"
	"time"
)

// Stats describes the current shape of a cache instance. Size counts all
// held entries including ones that have expired but not yet been collected;
// CurrSize counts only live (unexpired) entries.
type Stats struct {
	Size     int     `json:"size"`
	MaxSize  int     `json:"maxsize"`
	TTL      float64 `json:"ttl"` // seconds
	CurrSize int     `json:"currsize"`
}

type entry[V any] struct {
	key       string
	value     V
	expiresAt time.Time
	elem      *list.Element
}

// Cache is a bounded TTL cache keyed by string. The zero value is not
// usable; construct with New.
type Cache[V any] struct {
	mu       sync.Mutex
	entries  map[string]*entry[V]
	order    *list.List // insertion order, front = oldest
	capacity int
	ttl      time.Duration

	// now is swapped in tests to exercise TTL boundaries deterministically.
	now func() time.Time
}

// New constructs a cache bounded to capacity entries, each expiring ttl
// after insertion. A capacity below one is clamped to one.
func New[V any](capacity int, ttl time.Duration) *Cache[V] {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache[V]{
		entries:  make(map[string]*entry[V], capacity),
		order:    list.New(),
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Get returns the live value stored under key. An absent or expired entry
// is a miss; expired entries are removed on the way out.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if !c.now().Before(e.expiresAt) {
		c.removeLocked(e)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Put stores value under key, replacing any previous entry wholesale.
// Replacing an existing key refreshes both its TTL and its insertion
// position. Inserting a new key first collects expired entries and then, if
// the cache is still full, evicts the oldest-inserted live entry.
func (c *Cache[V]) Put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.entries[key]; ok {
		e.value = value
		e.expiresAt = now.Add(c.ttl)
		c.order.MoveToBack(e.elem)
		return
	}

	if len(c.entries) >= c.capacity {
		c.collectExpiredLocked(now)
	}
	for len(c.entries) >= c.capacity {
		front := c.order.Front()
		if front == nil {
			break
		}
		c.removeLocked(c.entries[front.Value.(string)])
	}

	e := &entry[V]{key: key, value: value, expiresAt: now.Add(c.ttl)}
	e.elem = c.order.PushBack(key)
	c.entries[key] = e
}

// InvalidateExact removes the entry stored under key, if any. Invalidating
// an absent key is a no-op. It reports the number of entries removed (0 or 1).
func (c *Cache[V]) InvalidateExact(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return 0
	}
	c.removeLocked(e)
	return 1
}

// InvalidatePrefix removes every entry whose key starts with prefix and
// reports how many were removed.
func (c *Cache[V]) InvalidatePrefix(prefix string) int {
	return c.invalidate(prefix, "")
}

// InvalidatePrefixSuffix removes every entry whose key starts with prefix
// AND ends with suffix. An empty suffix matches everything, reducing this to
// InvalidatePrefix. The conjunction exists because the owner id is not a
// leading key component in history keys.
func (c *Cache[V]) InvalidatePrefixSuffix(prefix, suffix string) int {
	return c.invalidate(prefix, suffix)
}

func (c *Cache[V]) invalidate(prefix, suffix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if suffix != "" && !strings.HasSuffix(key, suffix) {
			continue
		}
		c.removeLocked(e)
		removed++
	}
	return removed
}

// Clear drops every entry.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry[V], c.capacity)
	c.order.Init()
}

// Len reports the number of held entries, expired ones included.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a point-in-time snapshot of the cache shape.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	live := 0
	for _, e := range c.entries {
		if now.Before(e.expiresAt) {
			live++
		}
	}
	return Stats{
		Size:     len(c.entries),
		MaxSize:  c.capacity,
		TTL:      c.ttl.Seconds(),
		CurrSize: live,
	}
}

// removeLocked unlinks e from both the map and the insertion-order list.
// Callers must hold c.mu.
func (c *Cache[V]) removeLocked(e *entry[V]) {
	delete(c.entries, e.key)
	c.order.Remove(e.elem)
}

// collectExpiredLocked drops all expired entries so capacity eviction never
// sacrifices a live entry while dead ones remain. Callers must hold c.mu.
func (c *Cache[V]) collectExpiredLocked(now time.Time) {
	for elem := c.order.Front(); elem != nil; {
		next := elem.Next()
		e := c.entries[elem.Value.(string)]
		if !now.Before(e.expiresAt) {
			c.removeLocked(e)
		}
		elem = next
	}
}
