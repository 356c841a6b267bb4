// Package cache provides a fail-open, versioned key/value cache over a shared
// Redis store for entitlement and quota lookups.
//
// The cache is strictly derived state: the database is always the source of
// truth, every truth-changing write path invalidates the affected keys, and a
// missed invalidation self-heals when the TTL expires. Because of that, store
// unavailability is never an error for callers - reads return empty results,
// writes are skipped, and the failure is logged.
//
// SetWithVersion is the one compare-and-swap primitive in the system. It runs
// "read version, compare, write, bump version" as a single server-side Lua
// script, which substitutes for locking on the common cache-write path.
//
// Basic usage:
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	c := cache.NewRedisCache(client, cache.WithLogger(log))
//
//	c.Set(ctx, "user:plan:"+id, plan, 5*time.Minute)
//
//	var plan string
//	if c.Get(ctx, "user:plan:"+id, &plan) {
//	    // cache hit
//	}
//
// Versioned writes:
//
//	ver, _ := c.GetWithVersion(ctx, key, &state)
//	// ... compute new state ...
//	if !c.SetWithVersion(ctx, key, newState, ver, ttl) {
//	    // another writer won; re-read and retry or give up
//	}
package cache
