// Package cache provides a generic, thread-safe TTL cache with built-in
// statistics and optional Prometheus metrics.
//
// Entries expire a fixed duration after their last Set. Expired entries are
// invisible to Get, Keys and Snapshot immediately and are removed by a
// background sweep every cleanup interval.
package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/reelyactive/barnowl/errors"
	"github.com/reelyactive/barnowl/metric"
)

// EvictCallback is called when an entry expires or is deleted.
type EvictCallback[V any] func(key string, value V)

type ttlEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTL is a cache whose entries expire a fixed duration after being set.
type TTL[V any] struct {
	mu      sync.RWMutex
	ttl     time.Duration
	items   map[string]*ttlEntry[V]
	now     func() time.Time
	stats   *Statistics
	metrics *cacheMetrics
	evictFn EvictCallback[V]

	shutdown chan struct{}
	done     chan struct{}
	once     sync.Once
}

// Option configures a TTL cache.
type Option[V any] func(*TTL[V]) error

// WithMetrics exposes cache statistics as Prometheus metrics labelled with
// prefix. A nil registry or empty prefix disables metrics.
func WithMetrics[V any](registry metric.MetricsRegistrar, prefix string) Option[V] {
	return func(c *TTL[V]) error {
		if registry == nil || prefix == "" {
			return nil
		}
		m, err := newCacheMetrics(registry, prefix)
		if err != nil {
			return errors.WrapTransient(err, "cache", "NewTTL", "metrics registration")
		}
		c.metrics = m
		return nil
	}
}

// WithEvictionCallback sets a function called for every expired or deleted
// entry, outside the cache lock.
func WithEvictionCallback[V any](fn EvictCallback[V]) Option[V] {
	return func(c *TTL[V]) error {
		c.evictFn = fn
		return nil
	}
}

// WithClock replaces time.Now
func WithClock[V any](now func() time.Time) Option[V] {
	return func(c *TTL[V]) error {
		if now != nil {
			c.now = now
		}
		return nil
	}
}

// NewTTL creates a TTL cache and starts its cleanup goroutine, which stops
// when ctx is cancelled or Close is called.
func NewTTL[V any](ctx context.Context, ttl, cleanupInterval time.Duration, opts ...Option[V]) (*TTL[V], error) {
	if ttl <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "NewTTL", "ttl must be positive")
	}
	if cleanupInterval <= 0 {
		cleanupInterval = ttl
	}

	c := &TTL[V]{
		ttl:      ttl,
		items:    make(map[string]*ttlEntry[V]),
		now:      time.Now,
		stats:    &Statistics{},
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	go c.cleanup(ctx, cleanupInterval)
	return c, nil
}

// Get retrieves a live value by key.
func (c *TTL[V]) Get(key string) (V, bool) {
	now := c.now()
	c.mu.RLock()
	entry, exists := c.items[key]
	c.mu.RUnlock()

	if !exists || !now.Before(entry.expiresAt) {
		c.stats.miss()
		c.metrics.recordMiss()
		var zero V
		return zero, false
	}

	c.stats.hit()
	c.metrics.recordHit()
	return entry.value, true
}

// Set stores a value and restarts its TTL. It reports whether the key was new.
func (c *TTL[V]) Set(key string, value V) (bool, error) {
	if key == "" {
		return false, errors.WrapInvalid(errors.ErrInvalidData, "cache", "Set", "key cannot be empty")
	}

	c.mu.Lock()
	_, exists := c.items[key]
	c.items[key] = &ttlEntry[V]{value: value, expiresAt: c.now().Add(c.ttl)}
	size := len(c.items)
	c.mu.Unlock()

	c.stats.set()
	c.stats.updateSize(size)
	c.metrics.updateSize(size)
	return !exists, nil
}

// Delete removes an entry by key and reports whether it existed.
func (c *TTL[V]) Delete(key string) bool {
	c.mu.Lock()
	entry, exists := c.items[key]
	if exists {
		delete(c.items, key)
	}
	size := len(c.items)
	c.mu.Unlock()

	if !exists {
		return false
	}
	c.stats.delete()
	c.stats.updateSize(size)
	c.metrics.updateSize(size)
	if c.evictFn != nil {
		c.evictFn(key, entry.value)
	}
	return true
}

// Size returns the number of stored entries, including expired entries not
// yet swept.
func (c *TTL[V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Keys returns the live keys, sorted.
func (c *TTL[V]) Keys() []string {
	now := c.now()
	c.mu.RLock()
	keys := make([]string, 0, len(c.items))
	for key, entry := range c.items {
		if now.Before(entry.expiresAt) {
			keys = append(keys, key)
		}
	}
	c.mu.RUnlock()

	sort.Strings(keys)
	return keys
}

// Snapshot returns a copy of every live entry.
func (c *TTL[V]) Snapshot() map[string]V {
	now := c.now()
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]V, len(c.items))
	for key, entry := range c.items {
		if now.Before(entry.expiresAt) {
			out[key] = entry.value
		}
	}
	return out
}

// Stats returns the cache statistics
func (c *TTL[V]) Stats() *Statistics {
	return c.stats
}

// Close stops the cleanup goroutine.
func (c *TTL[V]) Close() error {
	c.once.Do(func() { close(c.shutdown) })

	select {
	case <-c.done:
		return nil
	case <-time.After(5 * time.Second):
		return errors.WrapTransient(context.DeadlineExceeded, "cache", "Close", "wait for cleanup goroutine")
	}
}

func (c *TTL[V]) cleanup(ctx context.Context, interval time.Duration) {
	defer close(c.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			return
		case <-ticker.C:
			c.RemoveExpired()
		}
	}
}

// RemoveExpired evicts every expired entry and returns how many were
// removed. It runs on every cleanup tick.
func (c *TTL[V]) RemoveExpired() int {
	now := c.now()
	expired := make(map[string]V)

	c.mu.Lock()
	for key, entry := range c.items {
		if !now.Before(entry.expiresAt) {
			expired[key] = entry.value
			delete(c.items, key)
		}
	}
	size := len(c.items)
	c.mu.Unlock()

	if len(expired) == 0 {
		return 0
	}

	for key, value := range expired {
		c.stats.eviction()
		c.metrics.recordEviction()
		if c.evictFn != nil {
			c.evictFn(key, value)
		}
	}
	c.stats.updateSize(size)
	c.metrics.updateSize(size)
	return len(expired)
}
