package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/entitlements/pkg/cache"
)

func setupCache(t *testing.T) (*cache.RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return cache.NewRedisCache(client), mr
}

// brokenCache returns a cache whose underlying client is already closed, so
// every store operation fails.
func brokenCache(t *testing.T) *cache.RedisCache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := cache.NewRedisCache(client)
	require.NoError(t, client.Close())
	return c
}

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestRedisCache_GetSet(t *testing.T) {
	ctx := context.Background()
	c, _ := setupCache(t)

	t.Run("round trip", func(t *testing.T) {
		c.Set(ctx, "k1", payload{Name: "a", Count: 2}, time.Minute)

		var got payload
		require.True(t, c.Get(ctx, "k1", &got))
		assert.Equal(t, payload{Name: "a", Count: 2}, got)
	})

	t.Run("miss on absent key", func(t *testing.T) {
		var got payload
		assert.False(t, c.Get(ctx, "absent", &got))
	})

	t.Run("typed helper", func(t *testing.T) {
		c.Set(ctx, "k2", payload{Name: "b"}, time.Minute)

		got, ok := cache.GetTyped[payload](ctx, c, "k2")
		require.True(t, ok)
		assert.Equal(t, "b", got.Name)

		_, ok = cache.GetTyped[payload](ctx, c, "absent")
		assert.False(t, ok)
	})

	t.Run("corrupt entry dropped", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		c := cache.NewRedisCache(client)

		require.NoError(t, mr.Set("bad", "{not json"))
		var got payload
		assert.False(t, c.Get(ctx, "bad", &got))
		assert.False(t, mr.Exists("bad"))
	})
}

func TestRedisCache_FailOpen(t *testing.T) {
	ctx := context.Background()
	c := brokenCache(t)

	var got payload
	assert.False(t, c.Get(ctx, "k", &got))
	assert.NotPanics(t, func() {
		c.Set(ctx, "k", payload{}, time.Minute)
		c.Delete(ctx, "k")
		c.DeletePattern(ctx, "k:*")
	})
	assert.Zero(t, c.Increment(ctx, "ctr", time.Minute))
	assert.False(t, c.Exists(ctx, "k"))
	assert.Zero(t, c.GetTTL(ctx, "k"))

	stats := c.Stats(ctx)
	assert.NotZero(t, stats.Errors)
}

func TestRedisCache_DeletePattern(t *testing.T) {
	ctx := context.Background()
	c, mr := setupCache(t)

	for _, key := range []string{"billing:sub:u1", "billing:feature:u1:PRO", "billing:feature:u1:FREE", "quota:projects:u1"} {
		c.Set(ctx, key, payload{}, time.Minute)
	}

	c.DeletePattern(ctx, "billing:*:u1*")

	assert.False(t, mr.Exists("billing:sub:u1"))
	assert.False(t, mr.Exists("billing:feature:u1:PRO"))
	assert.False(t, mr.Exists("billing:feature:u1:FREE"))
	assert.True(t, mr.Exists("quota:projects:u1"))
}

func TestRedisCache_Increment(t *testing.T) {
	ctx := context.Background()
	c, mr := setupCache(t)

	assert.EqualValues(t, 1, c.Increment(ctx, "ctr", time.Minute))
	assert.EqualValues(t, 2, c.Increment(ctx, "ctr", time.Minute))
	assert.EqualValues(t, 3, c.Increment(ctx, "ctr", time.Minute))

	// TTL is anchored to the first increment and not refreshed afterwards.
	ttl := c.GetTTL(ctx, "ctr")
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Minute)

	mr.FastForward(2 * time.Minute)
	assert.EqualValues(t, 1, c.Increment(ctx, "ctr", time.Minute))
}

func TestRedisCache_Versioned(t *testing.T) {
	ctx := context.Background()
	c, _ := setupCache(t)

	t.Run("first write against version zero", func(t *testing.T) {
		require.True(t, c.SetWithVersion(ctx, "v1", payload{Name: "a"}, 0, time.Minute))

		var got payload
		version, ok := c.GetWithVersion(ctx, "v1", &got)
		require.True(t, ok)
		assert.EqualValues(t, 1, version)
		assert.Equal(t, "a", got.Name)
	})

	t.Run("stale writer loses", func(t *testing.T) {
		require.True(t, c.SetWithVersion(ctx, "v2", payload{Name: "a"}, 0, time.Minute))

		// Both writers read version 1; only the first CAS succeeds.
		assert.True(t, c.SetWithVersion(ctx, "v2", payload{Name: "b"}, 1, time.Minute))
		assert.False(t, c.SetWithVersion(ctx, "v2", payload{Name: "c"}, 1, time.Minute))

		var got payload
		version, ok := c.GetWithVersion(ctx, "v2", &got)
		require.True(t, ok)
		assert.EqualValues(t, 2, version)
		assert.Equal(t, "b", got.Name)
	})

	t.Run("missing key reports version zero", func(t *testing.T) {
		var got payload
		version, ok := c.GetWithVersion(ctx, "absent", &got)
		assert.False(t, ok)
		assert.Zero(t, version)
	})
}

func TestRedisCache_Stats(t *testing.T) {
	ctx := context.Background()
	c, _ := setupCache(t)

	c.Set(ctx, "k", payload{}, time.Minute)
	var got payload
	c.Get(ctx, "k", &got)
	c.Get(ctx, "absent", &got)

	stats := c.Stats(ctx)
	assert.EqualValues(t, 1, stats.Hits)
	assert.EqualValues(t, 1, stats.Misses)
	assert.EqualValues(t, 0, stats.Errors)
	assert.Positive(t, stats.Keys)
}

func TestRedisCache_ClearAll(t *testing.T) {
	ctx := context.Background()
	c, mr := setupCache(t)

	c.Set(ctx, "a", payload{}, time.Minute)
	c.Set(ctx, "b", payload{}, time.Minute)
	c.ClearAll(ctx)

	assert.False(t, mr.Exists("a"))
	assert.False(t, mr.Exists("b"))
}

func TestNewRedisCache_NilClient(t *testing.T) {
	assert.Panics(t, func() { cache.NewRedisCache(nil) })
}
