package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/alex-user-go/holidays/internal/search"
)

// Cache keeps deduplicated result sets per session and availability token,
// with TTL expiry and collapsing of concurrent fetches for the same key.
type Cache struct {
	mu       sync.RWMutex
	entries  map[string]*cacheEntry
	ttl      time.Duration
	inflight map[string]*inflightRequest
	done     chan struct{}
}

type cacheEntry struct {
	result    *search.ResultSet
	expiresAt time.Time
}

type inflightRequest struct {
	done   chan struct{}
	result *search.ResultSet
	err    error
}

// NewCache creates a new Cache with the specified TTL.
func NewCache(ttl time.Duration) *Cache {
	c := &Cache{
		entries:  make(map[string]*cacheEntry),
		ttl:      ttl,
		inflight: make(map[string]*inflightRequest),
		done:     make(chan struct{}),
	}

	go c.cleanup()

	return c
}

// Close stops the background cleanup goroutine.
func (c *Cache) Close() {
	close(c.done)
}

// Key builds the cache key of a session's result set.
func (c *Cache) Key(sessionID, availToken string) string {
	return sessionID + ":" + availToken
}

// Get returns a live entry without fetching.
func (c *Cache) Get(key string) (*search.ResultSet, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.result, true
}

// Put stores a result set, replacing any previous entry for key.
func (c *Cache) Put(key string, rs *search.ResultSet) {
	if rs == nil {
		return
	}
	c.mu.Lock()
	c.entries[key] = &cacheEntry{result: rs, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}

// GetOrFetch retrieves from cache or executes the fetch function.
// Concurrent requests for the same key share one fetch.
// The boolean reports a cache hit.
func (c *Cache) GetOrFetch(ctx context.Context, key string, fetch func() (*search.ResultSet, error)) (*search.ResultSet, bool, error) {
	c.mu.Lock()

	if entry, ok := c.entries[key]; ok && time.Now().Before(entry.expiresAt) {
		c.mu.Unlock()
		return entry.result, true, nil
	}

	if inflight, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		select {
		case <-inflight.done:
			return inflight.result, false, inflight.err
		case <-ctx.Done():
			return nil, false, context.Cause(ctx)
		}
	}

	inflight := &inflightRequest{
		done: make(chan struct{}),
	}
	c.inflight[key] = inflight
	c.mu.Unlock()

	// Execute fetch (outside of lock)
	result, err := fetch()

	c.mu.Lock()
	inflight.result = result
	inflight.err = err
	if err == nil && result != nil {
		c.entries[key] = &cacheEntry{
			result:    result,
			expiresAt: time.Now().Add(c.ttl),
		}
	}
	delete(c.inflight, key)
	c.mu.Unlock()

	close(inflight.done)

	return result, false, err
}

// Invalidate removes a specific key from the cache.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// InvalidatePrefix drops every entry of a session, used when a new search starts.
func (c *Cache) InvalidatePrefix(sessionID string) {
	prefix := sessionID + ":"
	c.mu.Lock()
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()
}

// cleanup periodically removes expired entries.
func (c *Cache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			now := time.Now()
			for key, entry := range c.entries {
				if now.After(entry.expiresAt) {
					delete(c.entries, key)
				}
			}
			c.mu.Unlock()
		case <-c.done:
			return
		}
	}
}
