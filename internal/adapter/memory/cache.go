package memory

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrNotFound = errors.New("cache: not found")

// DefaultCacheEntries bounds a Cache built with NewCache(0).
const DefaultCacheEntries = 100_000

type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

// Cache is a TTL map for small values such as replayable HTTP responses.
// When full, expired entries are swept first, then the soonest to expire go.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	max     int
	now     func() time.Time
}

func NewCache(maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultCacheEntries
	}
	return &Cache{
		entries: make(map[string]cacheEntry),
		max:     maxEntries,
		now:     time.Now,
	}
}

func (c *Cache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	if c.now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, ErrNotFound
	}
	return entry.value, nil
}

func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.max {
		c.evict()
	}
	c.entries[key] = cacheEntry{
		value:     value,
		expiresAt: c.now().Add(ttl),
	}
	return nil
}

func (c *Cache) Invalidate(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// evict makes room for one entry. Caller holds mu.
func (c *Cache) evict() {
	now := c.now()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	if len(c.entries) < c.max {
		return
	}
	var (
		oldest   string
		earliest time.Time
	)
	for k, e := range c.entries {
		if oldest == "" || e.expiresAt.Before(earliest) {
			oldest, earliest = k, e.expiresAt
		}
	}
	delete(c.entries, oldest)
}
