package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestTryLockWindowIsStrict(t *testing.T) {
	clk := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	mc := NewMemoryCache(WithMemoryClock(clk.Now), WithMemoryCleanup(0))
	defer mc.Close()
	ctx := context.Background()

	ok, err := mc.TryLock(ctx, "k", 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	clk.Advance(5 * time.Minute)
	ok, _ = mc.TryLock(ctx, "k", 5*time.Minute)
	assert.False(t, ok, "exactly at the window edge is still locked")

	clk.Advance(time.Millisecond)
	ok, _ = mc.TryLock(ctx, "k", 5*time.Minute)
	assert.True(t, ok)
}

func TestUnlockReleases(t *testing.T) {
	mc := NewMemoryCache(WithMemoryCleanup(0))
	defer mc.Close()
	ctx := context.Background()

	ok, _ := mc.TryLock(ctx, "k", time.Hour)
	require.True(t, ok)
	require.NoError(t, mc.Unlock(ctx, "k"))

	ok, _ = mc.TryLock(ctx, "k", time.Hour)
	assert.True(t, ok)
}

func TestSetGetJSON(t *testing.T) {
	mc := NewMemoryCache(WithMemoryCleanup(0))
	defer mc.Close()
	ctx := context.Background()

	type settings struct {
		Paused bool `json:"paused"`
	}
	require.NoError(t, mc.Set(ctx, "s", settings{Paused: true}, 0))

	var got settings
	require.NoError(t, mc.Get(ctx, "s", &got))
	assert.True(t, got.Paused)

	assert.ErrorIs(t, mc.Get(ctx, "missing", &got), ErrCacheMiss)
}

func TestEvictionKeepsSizeBound(t *testing.T) {
	mc := NewMemoryCache(WithMemoryMaxSize(2), WithMemoryCleanup(0))
	defer mc.Close()
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "a", "1", time.Minute))
	require.NoError(t, mc.Set(ctx, "b", "2", time.Hour))
	require.NoError(t, mc.Set(ctx, "c", "3", time.Hour))

	ok, _ := mc.Exists(ctx, "a")
	assert.False(t, ok, "entry closest to expiry is evicted")
	ok, _ = mc.Exists(ctx, "b", "c")
	assert.True(t, ok)
}
