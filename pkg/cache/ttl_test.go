package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelyactive/barnowl/errors"
	"github.com/reelyactive/barnowl/metric"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCache(t *testing.T, opts ...Option[int]) (*TTL[int], *manualClock) {
	t.Helper()
	clock := &manualClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	opts = append([]Option[int]{WithClock[int](clock.Now)}, opts...)
	c, err := NewTTL[int](context.Background(), time.Minute, time.Hour, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, clock
}

func TestNewTTL_Validation(t *testing.T) {
	_, err := NewTTL[int](context.Background(), 0, time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestTTL_SetGet(t *testing.T) {
	c, clock := newTestCache(t)

	created, err := c.Set("a", 1)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = c.Set("a", 2)
	require.NoError(t, err)
	assert.False(t, created)

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 2, v)

	_, err = c.Set("", 1)
	assert.True(t, errors.IsInvalid(err))

	clock.Advance(time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok, "entry expires exactly at its TTL")

	summary := c.Stats().Summary()
	assert.Equal(t, int64(1), summary.Hits)
	assert.Equal(t, int64(1), summary.Misses)
	assert.Equal(t, int64(2), summary.Sets)
	assert.Equal(t, 0.5, summary.HitRatio)
}

func TestTTL_SetRefreshesExpiry(t *testing.T) {
	c, clock := newTestCache(t)

	_, _ = c.Set("a", 1)
	clock.Advance(50 * time.Second)
	_, _ = c.Set("a", 1)
	clock.Advance(50 * time.Second)

	_, ok := c.Get("a")
	assert.True(t, ok)
}

func TestTTL_KeysAndSnapshotSkipExpired(t *testing.T) {
	c, clock := newTestCache(t)

	_, _ = c.Set("b", 2)
	clock.Advance(30 * time.Second)
	_, _ = c.Set("a", 1)
	_, _ = c.Set("c", 3)
	assert.Equal(t, []string{"a", "b", "c"}, c.Keys())

	clock.Advance(30 * time.Second)
	assert.Equal(t, []string{"a", "c"}, c.Keys())
	assert.Equal(t, map[string]int{"a": 1, "c": 3}, c.Snapshot())
	assert.Equal(t, 3, c.Size(), "expired entries linger until swept")
}

func TestTTL_RemoveExpiredCallsEvict(t *testing.T) {
	var evicted []string
	c, clock := newTestCache(t, WithEvictionCallback[int](func(key string, _ int) {
		evicted = append(evicted, key)
	}))

	_, _ = c.Set("a", 1)
	_, _ = c.Set("b", 2)
	clock.Advance(time.Minute)
	_, _ = c.Set("c", 3)

	assert.Equal(t, 2, c.RemoveExpired())
	assert.ElementsMatch(t, []string{"a", "b"}, evicted)
	assert.Equal(t, 1, c.Size())
	assert.Equal(t, int64(2), c.Stats().Summary().Evictions)

	assert.True(t, c.Delete("c"))
	assert.False(t, c.Delete("c"))
	assert.Contains(t, evicted, "c")
}

func TestTTL_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	c, _ := newTestCache(t, WithMetrics[int](registry, "receivers"))
	require.NotNil(t, c.metrics)

	_, _ = c.Set("a", 1)
	c.Get("a")
	c.Get("missing")

	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.hits))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.misses))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.size))

	_, err := NewTTL[int](context.Background(), time.Minute, time.Minute, WithMetrics[int](registry, "receivers"))
	assert.Error(t, err, "duplicate registration fails")
}

func TestTTL_BackgroundCleanup(t *testing.T) {
	c, err := NewTTL[int](context.Background(), 10*time.Millisecond, 5*time.Millisecond)
	require.NoError(t, err)
	defer c.Close()

	_, _ = c.Set("a", 1)
	require.Eventually(t, func() bool { return c.Size() == 0 }, time.Second, 5*time.Millisecond)
}

func TestTTL_CloseIsIdempotent(t *testing.T) {
	c, err := NewTTL[int](context.Background(), time.Second, time.Second)
	require.NoError(t, err)
	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
}
