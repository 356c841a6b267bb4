package distlock_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/entitlements/pkg/distlock"
)

func setupMutex(t *testing.T) (*distlock.Mutex, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return distlock.New(client), mr
}

func TestMutex_Acquire(t *testing.T) {
	ctx := context.Background()
	m, _ := setupMutex(t)

	t.Run("exclusive while held", func(t *testing.T) {
		lease, ok := m.Acquire(ctx, "res", time.Minute)
		require.True(t, ok)

		_, ok = m.Acquire(ctx, "res", time.Minute)
		assert.False(t, ok)

		lease.Release(ctx)

		_, ok = m.Acquire(ctx, "res", time.Minute)
		assert.True(t, ok)
	})

	t.Run("independent keys do not contend", func(t *testing.T) {
		_, ok := m.Acquire(ctx, "a", time.Minute)
		require.True(t, ok)
		_, ok = m.Acquire(ctx, "b", time.Minute)
		assert.True(t, ok)
	})

	t.Run("store errors degrade to not acquired", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		m := distlock.New(client)
		require.NoError(t, client.Close())

		_, ok := m.Acquire(ctx, "res", time.Minute)
		assert.False(t, ok)
	})
}

func TestMutex_Expiry(t *testing.T) {
	ctx := context.Background()
	m, mr := setupMutex(t)

	stale, ok := m.Acquire(ctx, "res", time.Second)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	// Lease expired, a new holder takes over.
	_, ok = m.Acquire(ctx, "res", time.Minute)
	require.True(t, ok)

	// The stale holder's release must not remove the new holder's lock.
	stale.Release(ctx)
	_, ok = m.Acquire(ctx, "res", time.Minute)
	assert.False(t, ok)
}

func TestWithLock(t *testing.T) {
	ctx := context.Background()
	m, mr := setupMutex(t)

	t.Run("runs fn and returns result", func(t *testing.T) {
		got, ok, err := distlock.WithLock(ctx, m, "res", time.Minute, func(ctx context.Context) (string, error) {
			return "done", nil
		})
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "done", got)

		// Lock is released afterwards.
		assert.False(t, mr.Exists("lock:res"))
	})

	t.Run("propagates fn error and releases", func(t *testing.T) {
		wantErr := errors.New("boom")
		_, ok, err := distlock.WithLock(ctx, m, "res", time.Minute, func(ctx context.Context) (int, error) {
			return 0, wantErr
		})
		require.True(t, ok)
		assert.ErrorIs(t, err, wantErr)
		assert.False(t, mr.Exists("lock:res"))
	})

	t.Run("loser does not run fn", func(t *testing.T) {
		lease, acquired := m.Acquire(ctx, "held", time.Minute)
		require.True(t, acquired)
		defer lease.Release(ctx)

		ran := false
		_, ok, err := distlock.WithLock(ctx, m, "held", time.Minute, func(ctx context.Context) (int, error) {
			ran = true
			return 0, nil
		})
		require.NoError(t, err)
		assert.False(t, ok)
		assert.False(t, ran)
	})

	t.Run("only one of many concurrent callers wins", func(t *testing.T) {
		var (
			wins int
			mu   sync.Mutex
			wg   sync.WaitGroup
		)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, ok, _ := distlock.WithLock(ctx, m, "race", time.Minute, func(ctx context.Context) (int, error) {
					time.Sleep(10 * time.Millisecond)
					return 0, nil
				})
				if ok {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.GreaterOrEqual(t, wins, 1)
		assert.Less(t, wins, 20)
	})
}

func TestNew_NilClient(t *testing.T) {
	assert.Panics(t, func() { distlock.New(nil) })
}
