package ratelimit

import (
	"sort"
	"sync"
	"time"
)

type cacheEntry struct {
	value  any
	stored time.Time
}

// resultCache is shared across endpoints. Over capacity it drops the oldest ~10% in one pass.
type resultCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	max     int
	entries map[string]cacheEntry
}

func newResultCache(max int, ttl time.Duration) *resultCache {
	return &resultCache{
		ttl:     ttl,
		max:     max,
		entries: make(map[string]cacheEntry),
	}
}

func (c *resultCache) get(key string, now time.Time) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if now.Sub(e.stored) > c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

func (c *resultCache) put(key string, v any, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cacheEntry{value: v, stored: now}
	if len(c.entries) > c.max {
		c.evictOldestLocked()
	}
}

func (c *resultCache) evictOldestLocked() {
	n := len(c.entries) / 10
	if n < 1 {
		n = 1
	}

	type kv struct {
		key    string
		stored time.Time
	}
	all := make([]kv, 0, len(c.entries))
	for k, e := range c.entries {
		all = append(all, kv{key: k, stored: e.stored})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].stored.Before(all[j].stored) })

	for i := 0; i < n; i++ {
		delete(c.entries, all[i].key)
	}
}

func (c *resultCache) dropExpired(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for k, e := range c.entries {
		if now.Sub(e.stored) > c.ttl {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

func (c *resultCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
