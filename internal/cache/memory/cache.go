// Package memory implements the short-TTL response cache that shields the
// Opinion API from redundant traffic. It is a size-bounded map with per-entry
// expiry, a periodic sweep for expired entries, and on-insert eviction of the
// soonest-expiring entries when at capacity.
package memory

import (
	"sort"
	"sync"
	"time"
)

const (
	defaultMaxSize       = 1000
	defaultSweepInterval = time.Minute
	// evictFraction of maxSize entries are dropped when inserting at capacity.
	evictFraction = 0.1
)

type entry struct {
	value        any
	expiresAt    time.Time
	accessCount  int64
	lastAccessed time.Time
}

// Stats reports cache effectiveness since creation or the last Clear.
type Stats struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	Entries int     `json:"entries"`
	HitRate float64 `json:"hitRate"`
}

// Cache is a process-wide TTL cache. All operations are safe for concurrent
// use; a single mutex serializes lookups, inserts, and both eviction paths.
type Cache struct {
	mu      sync.Mutex
	items   map[string]*entry
	maxSize int
	hits    uint64
	misses  uint64
	done    chan struct{}
	once    sync.Once
}

// New creates a Cache holding at most maxSize entries and starts the sweep
// goroutine. Call Close to stop it. Non-positive arguments fall back to the
// defaults (1000 entries, 60s sweep).
func New(maxSize int, sweepInterval time.Duration) *Cache {
	if maxSize <= 0 {
		maxSize = defaultMaxSize
	}
	if sweepInterval <= 0 {
		sweepInterval = defaultSweepInterval
	}

	c := &Cache{
		items:   make(map[string]*entry),
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.sweepLoop(sweepInterval)
	return c
}

// Get returns the cached value for key if present and unexpired. An expired
// entry is removed on the spot. Hits update the entry's access stats.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		delete(c.items, key)
		c.misses++
		return nil, false
	}

	e.accessCount++
	e.lastAccessed = time.Now()
	c.hits++
	return e.value, true
}

// Set stores value under key for ttl. When the cache is at capacity and the
// key is new, the soonest-expiring ~10% of entries are evicted first.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items[key]; !exists && len(c.items) >= c.maxSize {
		c.evictOldestLocked()
	}

	c.items[key] = &entry{
		value:        value,
		expiresAt:    time.Now().Add(ttl),
		lastAccessed: time.Now(),
	}
}

// Has reports whether key holds an unexpired entry without touching access
// stats or hit/miss counters.
func (c *Cache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	return ok && !time.Now().After(e.expiresAt)
}

// Delete removes key if present.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Clear drops all entries and resets the hit/miss counters.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*entry)
	c.hits = 0
	c.misses = 0
}

// Len returns the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns a snapshot of the hit/miss counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Hits:    c.hits,
		Misses:  c.misses,
		Entries: len(c.items),
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

// Close stops the sweep goroutine. Safe to call more than once.
func (c *Cache) Close() {
	c.once.Do(func() { close(c.done) })
}

// evictOldestLocked removes the entries closest to expiry. This approximates
// LRU cheaply: short-TTL entries written earliest leave first. Caller holds
// the mutex.
func (c *Cache) evictOldestLocked() {
	n := int(float64(c.maxSize) * evictFraction)
	if n < 1 {
		n = 1
	}

	type candidate struct {
		key       string
		expiresAt time.Time
	}
	candidates := make([]candidate, 0, len(c.items))
	for k, e := range c.items {
		candidates = append(candidates, candidate{key: k, expiresAt: e.expiresAt})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].expiresAt.Before(candidates[j].expiresAt)
	})

	if n > len(candidates) {
		n = len(candidates)
	}
	for _, cand := range candidates[:n] {
		delete(c.items, cand.key)
	}
}

// sweepLoop periodically removes expired entries so abandoned keys do not
// linger until the next insert at capacity.
func (c *Cache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for k, e := range c.items {
				if now.After(e.expiresAt) {
					delete(c.items, k)
				}
			}
			c.mu.Unlock()
		}
	}
}
