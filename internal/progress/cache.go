package progress

import (
	"sync"
	"time"

	"github.com/at-ishikawa/readingquest/internal/clock"
)

// Cache is a TTL cache with explicit invalidation.
//
// Generation returns a stamp that Invalidate moves past. A reader that captured
// the stamp before loading stores its value with SetIfGeneration, so a load
// racing an invalidation never caches the older value.
type Cache[V any] interface {
	Get(key string) (V, bool)
	Set(key string, value V, ttl time.Duration)
	Invalidate(key string)
	// Purge drops expired entries and returns how many were removed.
	Purge() int
	Generation(key string) uint64
	SetIfGeneration(key string, value V, ttl time.Duration, generation uint64) bool
}

// invalidationGrace is how long Purge keeps the record of an invalidation.
// Fills that captured their generation before a dropped record are refused.
const invalidationGrace = time.Minute

type cacheEntry[V any] struct {
	value     V
	expiresAt time.Time
}

type invalidation struct {
	generation uint64
	at         time.Time
}

// MemoryCache is an in-process Cache. Generations come from one counter shared
// by every key, so records of old invalidations can be dropped.
type MemoryCache[V any] struct {
	mu          sync.Mutex
	clock       clock.Clock
	entries     map[string]cacheEntry[V]
	invalidated map[string]invalidation
	generation  uint64
	// floor is the newest generation whose invalidation record was dropped.
	floor uint64
}

func NewMemoryCache[V any](clk clock.Clock) *MemoryCache[V] {
	return &MemoryCache[V]{
		clock:       clk,
		entries:     make(map[string]cacheEntry[V]),
		invalidated: make(map[string]invalidation),
	}
}

func (c *MemoryCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok || !c.clock.Now().Before(entry.expiresAt) {
		var zero V
		return zero, false
	}
	return entry.value, true
}

func (c *MemoryCache[V]) Set(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry[V]{value: value, expiresAt: c.clock.Now().Add(ttl)}
}

func (c *MemoryCache[V]) SetIfGeneration(key string, value V, ttl time.Duration, generation uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if generation < c.floor {
		return false
	}
	if inv, ok := c.invalidated[key]; ok && inv.generation > generation {
		return false
	}
	c.entries[key] = cacheEntry[V]{value: value, expiresAt: c.clock.Now().Add(ttl)}
	return true
}

func (c *MemoryCache[V]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	c.generation++
	c.invalidated[key] = invalidation{generation: c.generation, at: c.clock.Now()}
}

func (c *MemoryCache[V]) Generation(string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

func (c *MemoryCache[V]) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	removed := 0
	for key, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	for key, inv := range c.invalidated {
		if now.Sub(inv.at) >= invalidationGrace {
			delete(c.invalidated, key)
			c.floor = max(c.floor, inv.generation)
		}
	}
	return removed
}

// Len returns the number of stored entries, expired or not.
func (c *MemoryCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
