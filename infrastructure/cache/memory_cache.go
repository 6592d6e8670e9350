// Package cache provides the in-memory Cache implementation: LRU eviction,
// per-key TTL, glob invalidation, and atomic counter support. TTL is
// best-effort; callers must tolerate early expiry.
package cache

import (
	"container/list"
	"context"
	"path"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dreamsoft-pro/RAE-agentic-memory-sub001/application/ports"
	appErrors "github.com/dreamsoft-pro/RAE-agentic-memory-sub001/pkg/errors"
)

// MemoryCache is a thread-safe in-memory cache with LRU eviction and TTL
// support, suitable for single-instance deployments.
type MemoryCache struct {
	mu       sync.Mutex
	items    map[string]*cacheItem
	lruList  *list.List
	maxItems int

	hits      int64
	misses    int64
	evictions int64

	logger *zap.Logger
}

var _ ports.Cache = (*MemoryCache)(nil)

// cacheItem represents a single cached entry. A zero expiry means the key
// never expires.
type cacheItem struct {
	key        string
	value      []byte
	expiry     time.Time
	lruElement *list.Element
}

// New creates a cache bounded at maxItems entries.
func New(maxItems int, logger *zap.Logger) *MemoryCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxItems <= 0 {
		maxItems = 10000
	}
	return &MemoryCache{
		items:    make(map[string]*cacheItem),
		lruList:  list.New(),
		maxItems: maxItems,
		logger:   logger,
	}
}

// Get retrieves a value from the cache. Returns a copy to prevent external
// modification of cached state.
func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.liveItemLocked(key)
	if !ok {
		c.misses++
		return nil, false, nil
	}
	c.lruList.MoveToFront(item.lruElement)
	c.hits++

	value := make([]byte, len(item.value))
	copy(value, item.value)
	return value, true, nil
}

// liveItemLocked returns the item unless absent or expired; expired items
// are removed eagerly.
func (c *MemoryCache) liveItemLocked(key string) (*cacheItem, bool) {
	item, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if !item.expiry.IsZero() && time.Now().After(item.expiry) {
		c.removeItemLocked(item)
		return nil, false
	}
	return item, true
}

// Set stores a value with the given TTL; ttl <= 0 means no expiry.
func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, value, ttl)
	return nil
}

func (c *MemoryCache) setLocked(key string, value []byte, ttl time.Duration) {
	var expiry time.Time
	if ttl > 0 {
		expiry = time.Now().Add(ttl)
	}
	v := make([]byte, len(value))
	copy(v, value)

	if item, ok := c.items[key]; ok {
		item.value = v
		item.expiry = expiry
		c.lruList.MoveToFront(item.lruElement)
		return
	}
	item := &cacheItem{key: key, value: v, expiry: expiry}
	item.lruElement = c.lruList.PushFront(item)
	c.items[key] = item

	for len(c.items) > c.maxItems {
		oldest := c.lruList.Back()
		if oldest == nil {
			break
		}
		c.removeItemLocked(oldest.Value.(*cacheItem))
		c.evictions++
	}
}

func (c *MemoryCache) removeItemLocked(item *cacheItem) {
	delete(c.items, item.key)
	c.lruList.Remove(item.lruElement)
}

// Delete removes a key; deleting an absent key is not an error.
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if item, ok := c.items[key]; ok {
		c.removeItemLocked(item)
	}
	return nil
}

// Exists reports whether the key is present and unexpired.
func (c *MemoryCache) Exists(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.liveItemLocked(key)
	return ok, nil
}

// Clear removes every key matching the glob pattern ("*" and "?"
// wildcards) and reports how many were removed.
func (c *MemoryCache) Clear(ctx context.Context, pattern string) (int, error) {
	if pattern == "" {
		pattern = "*"
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return 0, appErrors.NewValidation("invalid glob pattern: " + pattern)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, item := range c.items {
		if ok, _ := path.Match(pattern, key); ok {
			c.removeItemLocked(item)
			removed++
		}
	}
	return removed, nil
}

// GetTTL returns the remaining TTL for a key. A key without expiry reports
// a zero duration with ok=true.
func (c *MemoryCache) GetTTL(ctx context.Context, key string) (time.Duration, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.liveItemLocked(key)
	if !ok {
		return 0, false, nil
	}
	if item.expiry.IsZero() {
		return 0, true, nil
	}
	return time.Until(item.expiry), true, nil
}

// SetIfNotExists atomically stores the value only when the key is absent.
func (c *MemoryCache) SetIfNotExists(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.liveItemLocked(key); ok {
		return false, nil
	}
	c.setLocked(key, value, ttl)
	return true, nil
}

// Increment atomically adds delta to a numeric key, creating it at zero
// when absent. A prior TTL is preserved.
func (c *MemoryCache) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var current int64
	var expiry time.Time
	if item, ok := c.liveItemLocked(key); ok {
		parsed, err := strconv.ParseInt(string(item.value), 10, 64)
		if err != nil {
			return 0, appErrors.NewValidation("key does not hold a counter: " + key)
		}
		current = parsed
		expiry = item.expiry
	}
	next := current + delta

	ttl := time.Duration(0)
	if !expiry.IsZero() {
		ttl = time.Until(expiry)
		if ttl <= 0 {
			ttl = time.Nanosecond
		}
	}
	c.setLocked(key, []byte(strconv.FormatInt(next, 10)), ttl)
	return next, nil
}

// CleanupExpired removes every expired entry and reports how many.
func (c *MemoryCache) CleanupExpired(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for _, item := range c.items {
		if !item.expiry.IsZero() && now.After(item.expiry) {
			c.removeItemLocked(item)
			removed++
		}
	}
	if removed > 0 {
		c.logger.Debug("cache cleanup removed expired entries", zap.Int("count", removed))
	}
	return removed, nil
}

// Stats reports hit/miss/eviction counters since construction.
func (c *MemoryCache) Stats() (hits, misses, evictions int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, c.evictions
}
