// Package marketdata implements the central market-data router: cache
// consultation, request deduplication, priority-ordered provider failover,
// and call metrics.
package marketdata

import (
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/fintelcore/fintel/internal/domain"
)

// Entry is one cached value with its origin and lifetime.
type Entry struct {
	Value     interface{}
	CreatedAt time.Time
	TTL       time.Duration
	DataType  domain.DataType
	Provider  string
}

// Expired reports whether the entry has outlived its TTL.
func (e *Entry) Expired(now time.Time) bool {
	return now.Sub(e.CreatedAt) > e.TTL
}

// CacheStats is a point-in-time view of cache counters.
type CacheStats struct {
	Enabled   bool  `json:"enabled"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Size      int   `json:"size"`
	MaxSize   int   `json:"max_size"`
}

// MemoryCache is the thread-safe L1 LRU with per-entry TTLs. Expired entries
// are treated as misses and removed lazily on access. When disabled, every
// lookup misses and sets are no-ops.
type MemoryCache struct {
	mu      sync.Mutex
	lru     *lru.Cache[string, *Entry]
	enabled bool
	maxSize int

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// NewMemoryCache creates an LRU cache with the given capacity.
func NewMemoryCache(maxSize int, enabled bool) (*MemoryCache, error) {
	if maxSize <= 0 {
		maxSize = 1000
	}
	l, err := lru.New[string, *Entry](maxSize)
	if err != nil {
		return nil, err
	}
	return &MemoryCache{lru: l, enabled: enabled, maxSize: maxSize}, nil
}

// Get returns the entry for key if present and fresh.
func (c *MemoryCache) Get(key string) (*Entry, bool) {
	if !c.enabled {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.lru.Get(key)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}

	if entry.Expired(time.Now()) {
		c.lru.Remove(key)
		c.misses.Add(1)
		return nil, false
	}

	c.hits.Add(1)
	return entry, true
}

// Set stores an entry, evicting the least recently used entry at capacity.
func (c *MemoryCache) Set(key string, entry *Entry) {
	if !c.enabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if evicted := c.lru.Add(key, entry); evicted {
		c.evictions.Add(1)
	}
}

// Clear empties the cache.
func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// Stats returns current counters.
func (c *MemoryCache) Stats() CacheStats {
	c.mu.Lock()
	size := c.lru.Len()
	c.mu.Unlock()

	return CacheStats{
		Enabled:   c.enabled,
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Size:      size,
		MaxSize:   c.maxSize,
	}
}
