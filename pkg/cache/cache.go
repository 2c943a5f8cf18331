// Package cache implements the bounded response cache that pins answers to
// request fingerprints.
//
// Eviction is strict FIFO by first insertion. Overwriting an existing
// fingerprint replaces its value but keeps its position, and reads never
// reorder entries.
package cache

import (
	"sync"
	"sync/atomic"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/killer-ai/killer/pkg/models"
)

// DefaultCapacity is the number of answers kept when no capacity is configured.
const DefaultCapacity = 10

// FingerprintPrefixLen is the number of characters of input text that
// participate in the fingerprint. Longer texts sharing a prefix collide.
const FingerprintPrefixLen = 100

// Fingerprint derives the cache key for a request: mode, a colon, and the
// first FingerprintPrefixLen characters of text.
func Fingerprint(mode models.Mode, text string) string {
	runes := []rune(text)
	if len(runes) > FingerprintPrefixLen {
		runes = runes[:FingerprintPrefixLen]
	}
	return string(mode) + ":" + string(runes)
}

// Cache is an in-memory FIFO answer cache safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	capacity int
	entries  *orderedmap.OrderedMap[string, models.CacheEntry]
	hits     atomic.Int64
	misses   atomic.Int64
}

// New creates a Cache holding at most capacity entries.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		capacity: capacity,
		entries:  orderedmap.New[string, models.CacheEntry](),
	}
}

// Get returns the entry stored under fingerprint.
func (c *Cache) Get(fingerprint string) (models.CacheEntry, bool) {
	c.mu.Lock()
	entry, ok := c.entries.Get(fingerprint)
	c.mu.Unlock()

	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return entry, ok
}

// Put stores response under fingerprint and evicts the oldest-inserted
// entry if the cache grows past capacity.
func (c *Cache) Put(fingerprint, response string, createdAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries.Set(fingerprint, models.CacheEntry{
		Fingerprint: fingerprint,
		Response:    response,
		CreatedAt:   createdAt,
	})
	c.evictLocked()
}

// Snapshot returns all entries oldest first.
func (c *Cache) Snapshot() []models.CacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]models.CacheEntry, 0, c.entries.Len())
	for p := c.entries.Oldest(); p != nil; p = p.Next() {
		out = append(out, p.Value)
	}
	return out
}

// Restore replaces the cache contents with entries, keeping their order.
// If entries exceed capacity only the newest survive.
func (c *Cache) Restore(entries []models.CacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = orderedmap.New[string, models.CacheEntry]()
	for _, e := range entries {
		if e.Fingerprint == "" {
			continue
		}
		c.entries.Set(e.Fingerprint, e)
	}
	c.evictLocked()
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Capacity returns the maximum number of entries.
func (c *Cache) Capacity() int {
	return c.capacity
}

// Clear drops every entry. Hit counters are kept.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = orderedmap.New[string, models.CacheEntry]()
}

// Stats returns occupancy and hit counters.
func (c *Cache) Stats() models.CacheStats {
	return models.CacheStats{
		Entries:  c.Len(),
		Capacity: c.capacity,
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
	}
}

func (c *Cache) evictLocked() {
	for c.entries.Len() > c.capacity {
		oldest := c.entries.Oldest()
		c.entries.Delete(oldest.Key)
	}
}
