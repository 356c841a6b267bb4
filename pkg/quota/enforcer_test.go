package quota_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/entitlements/pkg/billing"
	"github.com/dmitrymomot/entitlements/pkg/cache"
	"github.com/dmitrymomot/entitlements/pkg/quota"
)

// staticCounter returns a settable count and records how often the counting
// query ran and with which period start.
type staticCounter struct {
	count       atomic.Int64
	calls       atomic.Int64
	periodStart atomic.Value
	err         error
}

func (c *staticCounter) fn(ctx context.Context, userID uuid.UUID, periodStart time.Time) (int64, error) {
	c.calls.Add(1)
	c.periodStart.Store(periodStart)
	if c.err != nil {
		return 0, c.err
	}
	return c.count.Load(), nil
}

type quotaFixture struct {
	store    *billing.MemStore
	cache    *cache.RedisCache
	counter  *staticCounter
	enforcer *quota.Enforcer
	userID   uuid.UUID
}

func projectLimits() map[billing.PlanType]int64 {
	return map[billing.PlanType]int64{
		billing.PlanFree:    3,
		billing.PlanStarter: 10,
		billing.PlanPro:     quota.Unlimited,
	}
}

func setupEnforcer(t *testing.T, period quota.Period, opts ...quota.EnforcerOption) *quotaFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := billing.NewMemStore()
	userID := uuid.New()
	store.PutUser(billing.User{ID: userID, PlanType: billing.PlanStarter})

	counter := &staticCounter{}
	defs := []quota.Definition{{
		Resource: quota.ResourceProjects,
		Label:    "projects",
		Limits:   projectLimits(),
		Period:   period,
		Count:    counter.fn,
	}}

	enforcer, err := quota.NewEnforcer(defs, store, cache.NewRedisCache(client), opts...)
	require.NoError(t, err)
	return &quotaFixture{
		store:    store,
		cache:    cache.NewRedisCache(client),
		counter:  counter,
		enforcer: enforcer,
		userID:   userID,
	}
}

func TestEnforcer_CheckLimit(t *testing.T) {
	ctx := context.Background()

	t.Run("allows below limit", func(t *testing.T) {
		f := setupEnforcer(t, quota.PeriodLifetime)
		f.counter.count.Store(9)
		assert.NoError(t, f.enforcer.CheckLimit(ctx, f.userID, quota.ResourceProjects))
	})

	t.Run("denies at limit", func(t *testing.T) {
		f := setupEnforcer(t, quota.PeriodLifetime)
		f.counter.count.Store(10)

		err := f.enforcer.CheckLimit(ctx, f.userID, quota.ResourceProjects)
		require.True(t, quota.IsQuotaExceeded(err))

		var qe *quota.QuotaExceededError
		require.ErrorAs(t, err, &qe)
		assert.Equal(t, billing.PlanStarter, qe.Plan)
		assert.EqualValues(t, 10, qe.Limit)
		assert.Equal(t, "projects", qe.Resource)
		assert.Equal(t, "quota exceeded: STARTER plan allows 10 projects", qe.Error())
	})

	t.Run("unlimited plan skips counting", func(t *testing.T) {
		f := setupEnforcer(t, quota.PeriodLifetime)
		f.store.PutUser(billing.User{ID: f.userID, PlanType: billing.PlanPro})
		f.counter.count.Store(1_000_000)

		assert.NoError(t, f.enforcer.CheckLimit(ctx, f.userID, quota.ResourceProjects))
		assert.Zero(t, f.counter.calls.Load(), "counter must not run for unlimited tiers")
	})

	t.Run("unknown resource", func(t *testing.T) {
		f := setupEnforcer(t, quota.PeriodLifetime)
		err := f.enforcer.CheckLimit(ctx, f.userID, quota.Resource("widgets"))
		assert.ErrorIs(t, err, quota.ErrUnknownResource)
	})

	t.Run("unknown user", func(t *testing.T) {
		f := setupEnforcer(t, quota.PeriodLifetime)
		err := f.enforcer.CheckLimit(ctx, uuid.New(), quota.ResourceProjects)
		assert.ErrorIs(t, err, billing.ErrUserNotFound)
	})

	t.Run("counting failure surfaces", func(t *testing.T) {
		f := setupEnforcer(t, quota.PeriodLifetime)
		f.counter.err = errors.New("query timeout")
		err := f.enforcer.CheckLimit(ctx, f.userID, quota.ResourceProjects)
		assert.ErrorIs(t, err, quota.ErrCountFailed)
	})

	t.Run("counter result is cached", func(t *testing.T) {
		f := setupEnforcer(t, quota.PeriodLifetime)
		f.counter.count.Store(5)

		require.NoError(t, f.enforcer.CheckLimit(ctx, f.userID, quota.ResourceProjects))
		require.NoError(t, f.enforcer.CheckLimit(ctx, f.userID, quota.ResourceProjects))
		assert.EqualValues(t, 1, f.counter.calls.Load())
	})
}

func TestEnforcer_GetQuota(t *testing.T) {
	ctx := context.Background()

	t.Run("reports usage and remaining", func(t *testing.T) {
		f := setupEnforcer(t, quota.PeriodLifetime)
		f.counter.count.Store(7)

		q, err := f.enforcer.GetQuota(ctx, f.userID, quota.ResourceProjects)
		require.NoError(t, err)
		assert.Equal(t, quota.Quota{Used: 7, Limit: 10, Remaining: 3}, q)
	})

	t.Run("remaining never goes negative", func(t *testing.T) {
		f := setupEnforcer(t, quota.PeriodLifetime)
		f.counter.count.Store(15)

		q, err := f.enforcer.GetQuota(ctx, f.userID, quota.ResourceProjects)
		require.NoError(t, err)
		assert.Equal(t, quota.Quota{Used: 15, Limit: 10, Remaining: 0}, q)
	})

	t.Run("unlimited sentinel", func(t *testing.T) {
		f := setupEnforcer(t, quota.PeriodLifetime)
		f.store.PutUser(billing.User{ID: f.userID, PlanType: billing.PlanPro})

		q, err := f.enforcer.GetQuota(ctx, f.userID, quota.ResourceProjects)
		require.NoError(t, err)
		assert.Equal(t, quota.Quota{Used: 0, Limit: quota.Unlimited, Remaining: quota.Unlimited}, q)
		assert.Zero(t, f.counter.calls.Load())
	})
}

func TestEnforcer_InvalidateCache(t *testing.T) {
	ctx := context.Background()
	f := setupEnforcer(t, quota.PeriodLifetime)
	f.counter.count.Store(5)

	require.NoError(t, f.enforcer.CheckLimit(ctx, f.userID, quota.ResourceProjects))

	// After a mutation the cached 5 would be stale; invalidation forces a
	// fresh count on the next check.
	f.counter.count.Store(10)
	f.enforcer.InvalidateCache(ctx, f.userID, quota.ResourceProjects)

	err := f.enforcer.CheckLimit(ctx, f.userID, quota.ResourceProjects)
	assert.True(t, quota.IsQuotaExceeded(err))
	assert.EqualValues(t, 2, f.counter.calls.Load())
}

func TestEnforcer_MonthlyPeriod(t *testing.T) {
	ctx := context.Background()

	now := time.Date(2025, 1, 31, 23, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	f := setupEnforcer(t, quota.PeriodMonthly, quota.WithClock(clock))
	f.counter.count.Store(10)

	t.Run("counter receives month start", func(t *testing.T) {
		err := f.enforcer.CheckLimit(ctx, f.userID, quota.ResourceProjects)
		assert.True(t, quota.IsQuotaExceeded(err))
		assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
			f.counter.periodStart.Load().(time.Time))
	})

	t.Run("new month starts from a cold key", func(t *testing.T) {
		// Crossing the month boundary changes the cache key, so the stale
		// January counter never answers for February.
		now = time.Date(2025, 2, 1, 0, 30, 0, 0, time.UTC)
		f.counter.count.Store(0)

		require.NoError(t, f.enforcer.CheckLimit(ctx, f.userID, quota.ResourceProjects))
		assert.Equal(t, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
			f.counter.periodStart.Load().(time.Time))
	})
}

func TestNewEnforcer_Validation(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c := cache.NewRedisCache(client)
	store := billing.NewMemStore()

	counter := func(ctx context.Context, userID uuid.UUID, periodStart time.Time) (int64, error) {
		return 0, nil
	}

	t.Run("missing counter", func(t *testing.T) {
		_, err := quota.NewEnforcer([]quota.Definition{{
			Resource: quota.ResourceProjects,
			Limits:   projectLimits(),
		}}, store, c)
		assert.Error(t, err)
	})

	t.Run("partial limit table", func(t *testing.T) {
		_, err := quota.NewEnforcer([]quota.Definition{{
			Resource: quota.ResourceProjects,
			Limits:   map[billing.PlanType]int64{billing.PlanFree: 3},
			Count:    counter,
		}}, store, c)
		assert.Error(t, err)
	})

	t.Run("duplicate resource", func(t *testing.T) {
		def := quota.Definition{
			Resource: quota.ResourceProjects,
			Limits:   projectLimits(),
			Count:    counter,
		}
		_, err := quota.NewEnforcer([]quota.Definition{def, def}, store, c)
		assert.Error(t, err)
	})

	t.Run("nil dependencies panic", func(t *testing.T) {
		assert.Panics(t, func() { _, _ = quota.NewEnforcer(nil, nil, c) })
		assert.Panics(t, func() { _, _ = quota.NewEnforcer(nil, store, nil) })
	})
}
