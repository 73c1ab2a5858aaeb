// Package cache is a process-local TTL cache for leaderboard views. It is
// scoped to one running instance; cross-instance staleness is bounded by the
// store-level freshness check, not by this cache.
package cache

import (
	"strings"
	"sync"
	"time"
)

type entry struct {
	data      any
	timestamp time.Time
}

type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
}

func New(ttl time.Duration) *Cache {
	return &Cache{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached value, or false when the key is absent or the entry
// has outlived the TTL. Expired entries are removed on the spot.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.timestamp) > c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	return e.data, true
}

func (c *Cache) Set(key string, data any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{data: data, timestamp: c.now()}
}

// Invalidate removes every entry whose key contains pattern and returns the
// number removed.
func (c *Cache) Invalidate(pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.entries {
		if strings.Contains(key, pattern) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// CleanupLoop purges expired entries once a minute. Run it as a goroutine
// from main.
func (c *Cache) CleanupLoop() {
	for {
		time.Sleep(time.Minute)
		c.mu.Lock()
		for key, e := range c.entries {
			if c.now().Sub(e.timestamp) > c.ttl {
				delete(c.entries, key)
			}
		}
		c.mu.Unlock()
	}
}
