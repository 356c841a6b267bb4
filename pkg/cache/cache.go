package cache

import (
	"context"
	"time"
)

// Cache is a shared key/value cache for derived entitlement state.
//
// Every operation fails open: when the backing store is unavailable, reads
// return their zero result and writes are skipped. Failures are logged, never
// returned, so callers can treat the cache as strictly optional and fall back
// to the source of truth.
type Cache interface {
	// Get unmarshals the value stored under key into dest and reports whether
	// a value was found. dest must be a pointer.
	Get(ctx context.Context, key string, dest any) bool

	// Set stores value under key with the given TTL. A zero TTL stores the
	// value without expiration.
	Set(ctx context.Context, key string, value any, ttl time.Duration)

	// Delete removes the given keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string)

	// DeletePattern removes every key matching the glob pattern. The keyspace
	// is walked with a cursor scan and keys are deleted in bounded batches so
	// large keyspaces never block the store.
	DeletePattern(ctx context.Context, pattern string)

	// Increment atomically increments the counter under key and returns the
	// new value. The TTL is applied only when the counter is created, so
	// repeated increments within a window share one expiry. Returns 0 when
	// the store is unavailable.
	Increment(ctx context.Context, key string, ttl time.Duration) int64

	// GetWithVersion reads the value and its monotonic version counter.
	// A missing key reports version 0 and ok=false.
	GetWithVersion(ctx context.Context, key string, dest any) (version int64, ok bool)

	// SetWithVersion writes value only if the stored version still equals
	// expectedVersion, bumping the version on success. The compare and the
	// write execute as one atomic server-side step; on mismatch the stored
	// value is left untouched and false is returned.
	SetWithVersion(ctx context.Context, key string, value any, expectedVersion int64, ttl time.Duration) bool

	// GetTTL returns the remaining lifetime of key, 0 when the key is missing
	// or has no expiry.
	GetTTL(ctx context.Context, key string) time.Duration

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) bool

	// ClearAll flushes the entire database. CAUTION: affects every key in the
	// selected Redis DB, not only keys written through this cache.
	ClearAll(ctx context.Context)

	// Stats returns operation counters and the current key count.
	Stats(ctx context.Context) Stats
}

// Stats holds cache effectiveness counters. Hits/Misses/Errors are tracked
// per process; Keys is the live key count reported by the store.
type Stats struct {
	Hits   uint64
	Misses uint64
	Errors uint64
	Keys   int64
}

// GetTyped is a generic convenience wrapper around Cache.Get.
func GetTyped[T any](ctx context.Context, c Cache, key string) (T, bool) {
	var v T
	ok := c.Get(ctx, key, &v)
	return v, ok
}
