package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/agentflow/agentflow/pkg/observability"
)

// lruMaxEntries bounds the entry count; the byte budget is the real limit
const lruMaxEntries = 100_000

type lruEntry struct {
	data      []byte
	expiresAt time.Time
}

// LRUCache implements Cache in process memory with a byte budget.
// Entries are stored as JSON so the two implementations behave alike.
type LRUCache struct {
	mu       sync.Mutex
	inner    *lru.Cache[string, lruEntry]
	maxBytes int64
	curBytes int64

	hits      int64
	misses    int64
	evictions int64
}

// NewLRUCache creates an in-process cache capped at maxBytes
func NewLRUCache(maxBytes int64) (*LRUCache, error) {
	if maxBytes <= 0 {
		maxBytes = 512 << 20
	}
	c := &LRUCache{maxBytes: maxBytes}
	inner, err := lru.NewWithEvict[string, lruEntry](lruMaxEntries, func(key string, e lruEntry) {
		c.curBytes -= int64(len(e.data) + len(key))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create lru: %w", err)
	}
	c.inner = inner
	return c, nil
}

// Get retrieves a value, honoring TTL lazily
func (c *LRUCache) Get(ctx context.Context, key string, value interface{}) error {
	c.mu.Lock()
	entry, ok := c.inner.Get(key)
	if ok && !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		c.inner.Remove(key)
		ok = false
	}
	if !ok {
		c.misses++
		c.mu.Unlock()
		observability.CacheMisses.WithLabelValues(keyNamespace(key)).Inc()
		return ErrNotFound
	}
	c.hits++
	c.mu.Unlock()

	observability.CacheHits.WithLabelValues(keyNamespace(key)).Inc()
	if err := json.Unmarshal(entry.data, value); err != nil {
		return fmt.Errorf("failed to unmarshal cached value for %s: %w", key, err)
	}
	return nil
}

// Set stores a value, evicting least-recently-used entries while the
// byte budget is exceeded.
func (c *LRUCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value for %s: %w", key, err)
	}
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.inner.Remove(key)
	c.inner.Add(key, lruEntry{data: data, expiresAt: expiresAt})
	c.curBytes += int64(len(data) + len(key))

	for c.curBytes > c.maxBytes && c.inner.Len() > 1 {
		c.inner.RemoveOldest()
		c.evictions++
	}
	return nil
}

// Delete removes a key
func (c *LRUCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Remove(key)
	return nil
}

// DeletePrefix removes every key under a prefix
func (c *LRUCache) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	deleted := 0
	for _, key := range c.inner.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.inner.Remove(key)
			deleted++
		}
	}
	return deleted, nil
}

// Exists checks whether a live entry is present
func (c *LRUCache) Exists(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.inner.Peek(key)
	if !ok {
		return false, nil
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		c.inner.Remove(key)
		return false, nil
	}
	return true, nil
}

// Stats reports counters and the current byte footprint
func (c *LRUCache) Stats(ctx context.Context) (Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Entries:   c.inner.Len(),
		Bytes:     c.curBytes,
	}, nil
}

// Close is a no-op for the in-process cache
func (c *LRUCache) Close() error { return nil }
