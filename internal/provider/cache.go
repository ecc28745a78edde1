package provider

import (
	"context"
	"sync"
	"time"
)

// Clock returns the current time. Tests inject a fixed clock.
type Clock func() time.Time

// Cache holds one value with a fetch time and a TTL. It replaces process-wide
// statics such as cached access tokens or model lists.
type Cache[T any] struct {
	mu        sync.Mutex
	value     T
	fetchedAt time.Time
	has       bool
	ttl       time.Duration
	now       Clock
}

// NewCache creates a cache. A nil clock means time.Now.
func NewCache[T any](ttl time.Duration, clock Clock) *Cache[T] {
	if clock == nil {
		clock = time.Now
	}
	return &Cache[T]{ttl: ttl, now: clock}
}

// Get returns the cached value if it has not expired.
func (c *Cache[T]) Get() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked()
}

func (c *Cache[T]) getLocked() (T, bool) {
	var zero T
	if !c.has || c.now().Sub(c.fetchedAt) >= c.ttl {
		return zero, false
	}
	return c.value, true
}

// Set stores v as fetched now.
func (c *Cache[T]) Set(v T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value, c.fetchedAt, c.has = v, c.now(), true
}

// Invalidate drops the cached value.
func (c *Cache[T]) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero T
	c.value, c.has = zero, false
}

// GetOrFetch returns the cached value or calls fetch and caches its result.
// Fetch errors are not cached.
func (c *Cache[T]) GetOrFetch(ctx context.Context, fetch func(context.Context) (T, error)) (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.getLocked(); ok {
		return v, nil
	}
	v, err := fetch(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	c.value, c.fetchedAt, c.has = v, c.now(), true
	return v, nil
}
