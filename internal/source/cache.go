package source

import (
	"slices"
	"sync"
	"time"

	"github.com/large-farva/passwatch/internal/pass"
)

type cacheKey struct {
	lat, lon float64
}

type cacheEntry struct {
	passes  []pass.RawPass
	count   int
	expires time.Time
}

// Cache holds live fetch results keyed by observer location, each with an
// expiry. It remembers the last location it was asked about and drops every
// entry when a different one shows up. A zero TTL disables caching.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[cacheKey]cacheEntry

	last    cacheKey
	hasLast bool
}

// NewCache returns an empty cache whose entries live for ttl.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[cacheKey]cacheEntry),
	}
}

// Locate records the observer location for the next lookup. If it differs
// from the previous one, every entry is invalidated. Reports whether the
// location changed.
func (c *Cache) Locate(lat, lon float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := cacheKey{lat, lon}
	if c.hasLast && c.last == k {
		return false
	}
	changed := c.hasLast
	c.last = k
	c.hasLast = true
	if changed {
		clear(c.entries)
	}
	return changed
}

// Get returns a copy of the unexpired entry for (lat, lon) if it was stored
// for the same pass count.
func (c *Cache) Get(lat, lon float64, count int) ([]pass.RawPass, bool) {
	if c.ttl <= 0 {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	k := cacheKey{lat, lon}
	e, ok := c.entries[k]
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, k)
		return nil, false
	}
	if e.count != count {
		return nil, false
	}
	return slices.Clone(e.passes), true
}

// Put stores a copy of passes for (lat, lon).
func (c *Cache) Put(lat, lon float64, count int, passes []pass.RawPass) {
	if c.ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[cacheKey{lat, lon}] = cacheEntry{
		passes:  slices.Clone(passes),
		count:   count,
		expires: c.now().Add(c.ttl),
	}
}

// Invalidate drops every entry.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	clear(c.entries)
	c.mu.Unlock()
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
