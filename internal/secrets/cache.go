package secrets

import (
	"sync"
	"time"
)

type cacheEntry struct {
	value      string
	expiration time.Time
}

func (e *cacheEntry) isExpired() bool {
	return time.Now().After(e.expiration)
}

// InMemoryCache is a Cache with per-entry expiry and an optional size limit.
type InMemoryCache struct {
	entries    map[string]*cacheEntry
	maxSize    int
	defaultTTL time.Duration
	mu         sync.Mutex
}

// NewInMemoryCache creates a cache. A maxSize of 0 means unlimited.
func NewInMemoryCache(defaultTTL time.Duration, maxSize int) *InMemoryCache {
	return &InMemoryCache{
		entries:    make(map[string]*cacheEntry),
		maxSize:    maxSize,
		defaultTTL: defaultTTL,
	}
}

// Get returns the cached value for key if present and not expired.
func (c *InMemoryCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if entry.isExpired() {
		delete(c.entries, key)
		return "", false
	}
	return entry.value, true
}

// Set stores value under key. A zero ttl uses the default TTL. When the
// cache is full the entry closest to expiry is evicted.
func (c *InMemoryCache) Set(key string, value string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ttl == 0 {
		ttl = c.defaultTTL
	}

	if _, exists := c.entries[key]; !exists && c.maxSize > 0 && len(c.entries) >= c.maxSize {
		var oldest string
		var oldestTime time.Time
		for k, e := range c.entries {
			if oldest == "" || e.expiration.Before(oldestTime) {
				oldest, oldestTime = k, e.expiration
			}
		}
		delete(c.entries, oldest)
	}

	c.entries[key] = &cacheEntry{value: value, expiration: time.Now().Add(ttl)}
}

// Len returns the number of unexpired entries.
func (c *InMemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for k, e := range c.entries {
		if e.isExpired() {
			delete(c.entries, k)
			continue
		}
		n++
	}
	return n
}
