// Package distlock provides a TTL-bounded, cross-process mutual-exclusion
// primitive backed by Redis (SET NX PX plus a compare-and-delete release).
//
// The mutex is advisory and best-effort: Acquire never blocks and
// never errors - contention and store failures both report "not acquired" so
// the caller can fall back to a path whose correctness does not depend on
// exclusion (re-reading the database, serving uncached data). It exists to
// avoid duplicate work, not to guard invariants; those are protected by
// database transactions and idempotent upserts.
//
// Typical uses:
//
//   - provisioning an external billing customer exactly once per user under
//     concurrent checkout attempts (losers re-read the now-populated value)
//   - cache-stampede protection, so only the first of many concurrent cache
//     misses recomputes from the database
//
// Usage:
//
//	locks := distlock.New(redisClient)
//
//	sub, ok, err := distlock.WithLock(ctx, locks, "sub:"+userID, 10*time.Second,
//	    func(ctx context.Context) (*billing.Subscription, error) {
//	        return store.GetCurrentSubscription(ctx, userID)
//	    })
//	if !ok {
//	    // lock held elsewhere: wait briefly and re-read, or go uncached
//	}
package distlock
