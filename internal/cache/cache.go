// Package cache is the in-process LLM response cache. Identical generation
// requests (same stage, persona, and prompt) hit the cache instead of the
// provider, which is what keeps call volume and cost bounded across
// retried and repeated runs.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// Stats counts cache hits and misses since the last reset.
type Stats struct {
	Hits   int64
	Misses int64
}

type entry struct {
	key       string
	value     string
	createdAt time.Time
	expiresAt time.Time
	elem      *list.Element
}

// Cache is a TTL + max-entry bounded key/value store. Expired entries are
// removed lazily on read; the entry bound is enforced before every insert
// by evicting the oldest entry, so the bound is never exceeded.
type Cache struct {
	mu         sync.RWMutex
	entries    map[string]*entry
	order      *list.List // oldest at front, element value is the key
	ttl        time.Duration
	maxEntries int
	stats      Stats
	now        func() time.Time
}

// New builds a cache with the given TTL and entry bound. maxEntries <= 0
// disables the bound.
func New(ttl time.Duration, maxEntries int) *Cache {
	return &Cache{
		entries:    make(map[string]*entry),
		order:      list.New(),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// SetClock overrides the cache's clock. Test hook.
func (c *Cache) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// Get returns the cached value for key, or ok=false on a miss. An entry
// past its TTL is treated as absent and deleted.
func (c *Cache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		return "", false
	}
	if c.now().After(e.expiresAt) {
		c.remove(e)
		c.stats.Misses++
		return "", false
	}
	c.stats.Hits++
	return e.value, true
}

// Put stores value under key. Overwriting an existing key refreshes its
// age; last writer wins.
func (c *Cache) Put(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.entries[key]; ok {
		e.value = value
		e.createdAt = now
		e.expiresAt = now.Add(c.ttl)
		c.order.MoveToBack(e.elem)
		return
	}

	if c.maxEntries > 0 && len(c.entries)+1 > c.maxEntries {
		if front := c.order.Front(); front != nil {
			c.remove(c.entries[front.Value.(string)])
		}
	}

	e := &entry{key: key, value: value, createdAt: now, expiresAt: now.Add(c.ttl)}
	e.elem = c.order.PushBack(key)
	c.entries[key] = e
}

// EvictExpired sweeps every expired entry and returns how many were removed.
func (c *Cache) EvictExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for e := c.order.Front(); e != nil; {
		next := e.Next()
		ent := c.entries[e.Value.(string)]
		if now.After(ent.expiresAt) {
			c.remove(ent)
			removed++
		}
		e = next
	}
	return removed
}

// Size returns the current entry count, expired entries included until
// they are swept or read.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns hit/miss counters.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// ResetStats zeroes the hit/miss counters.
func (c *Cache) ResetStats() {
	c.mu.Lock()
	c.stats = Stats{}
	c.mu.Unlock()
}

// remove must be called with the lock held.
func (c *Cache) remove(e *entry) {
	c.order.Remove(e.elem)
	delete(c.entries, e.key)
}
