// Package entitlement serves fast, highly concurrent entitlement checks on
// top of the billing domain: current subscription, active status, and
// plan-hierarchy feature access.
//
// Reads are cache-first. A cache miss recomputes from the database under a
// distributed lock so that many concurrent misses (a stampede) trigger one
// database read, not hundreds. Losing the lock is never an error: the caller
// waits briefly, re-reads the cache, and finally falls back to an uncached
// direct read.
//
// Feature access is cached per (user, requiredPlan) pair: a PRO check and a
// STARTER check for the same user are independent entries, so every hot-path
// call costs exactly one cache read. The synchronizer invalidates all of a
// user's entries on every status transition (see billing.EntitlementCacheKeys).
//
// Usage:
//
//	resolver := entitlement.NewResolver(store, provider, entCache, locks)
//
//	if resolver.HasFeatureAccess(ctx, userID, billing.PlanStarter) {
//	    // user is on STARTER or PRO with an entitled status
//	}
//
//	customerID, err := resolver.GetOrCreateBillingCustomer(ctx, userID, email)
package entitlement
