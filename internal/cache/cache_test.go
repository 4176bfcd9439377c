package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loyalty-rewards-api/internal/rules"
)

func TestInMemoryCache_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	_, err := c.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	require.NoError(t, c.Delete(ctx, "k"))
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInMemoryCache_Expiry(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Second))
	now = now.Add(2 * time.Second)

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInMemoryCache_Clear(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()
	require.NoError(t, c.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), 0))

	require.NoError(t, c.Clear(ctx))

	_, err := c.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRuleCache(t *testing.T) {
	ctx := context.Background()
	backend := NewInMemoryCache()
	rc := NewRuleCache(backend, time.Minute)

	_, ok := rc.Get(ctx, "b-1")
	assert.False(t, ok)

	require.NoError(t, rc.Put(ctx, "b-1", rules.FixedVisits(7), rc.Generation("b-1")))
	rule, ok := rc.Get(ctx, "b-1")
	require.True(t, ok)
	assert.Equal(t, rules.FixedVisits(7), rule)

	require.NoError(t, rc.Invalidate(ctx, "b-1"))
	_, ok = rc.Get(ctx, "b-1")
	assert.False(t, ok)

	require.NoError(t, backend.Set(ctx, ruleKey("b-2"), []byte("garbage"), 0))
	_, ok = rc.Get(ctx, "b-2")
	assert.False(t, ok)
}

func TestRuleCache_PutAfterInvalidateIsDropped(t *testing.T) {
	ctx := context.Background()
	rc := NewRuleCache(NewInMemoryCache(), time.Minute)

	gen := rc.Generation("b-1")
	require.NoError(t, rc.Invalidate(ctx, "b-1"))
	require.NoError(t, rc.Put(ctx, "b-1", rules.FixedVisits(4), gen))

	_, ok := rc.Get(ctx, "b-1")
	assert.False(t, ok)

	require.NoError(t, rc.Put(ctx, "b-1", rules.FixedVisits(4), rc.Generation("b-1")))
	_, ok = rc.Get(ctx, "b-1")
	assert.True(t, ok)
}

// invalidatingCache runs hook after the first Set reaches the backend.
type invalidatingCache struct {
	Cache
	hook func()
	once sync.Once
}

func (c *invalidatingCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := c.Cache.Set(ctx, key, value, ttl)
	c.once.Do(c.hook)
	return err
}

func TestRuleCache_InvalidateDuringPutRemovesEntry(t *testing.T) {
	ctx := context.Background()
	backend := &invalidatingCache{Cache: NewInMemoryCache()}
	rc := NewRuleCache(backend, time.Minute)
	backend.hook = func() { require.NoError(t, rc.Invalidate(ctx, "b-1")) }

	require.NoError(t, rc.Put(ctx, "b-1", rules.FixedVisits(4), rc.Generation("b-1")))

	_, ok := rc.Get(ctx, "b-1")
	assert.False(t, ok)
}

func TestRuleCache_Reset(t *testing.T) {
	ctx := context.Background()
	rc := NewRuleCache(NewInMemoryCache(), time.Minute)

	require.NoError(t, rc.Put(ctx, "b-1", rules.FixedVisits(4), rc.Generation("b-1")))
	gen := rc.Generation("b-1")
	require.NoError(t, rc.Reset(ctx))

	_, ok := rc.Get(ctx, "b-1")
	assert.False(t, ok)
	assert.NotEqual(t, gen, rc.Generation("b-1"))
}
