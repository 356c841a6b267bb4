package distlock

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only when it is still held by the caller's
// token. Without the compare, a holder whose lease already expired could
// delete a lock that a newer holder acquired in the meantime.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// Mutex is a cross-process mutual-exclusion primitive backed by Redis.
// Locks are leases: they expire after their TTL, so a crashed holder can
// never wedge the resource.
type Mutex struct {
	db        redis.UniversalClient
	log       *slog.Logger
	keyPrefix string
}

// Option configures a Mutex.
type Option func(*Mutex)

// WithLogger sets the logger used for acquire/release diagnostics.
func WithLogger(log *slog.Logger) Option {
	return func(m *Mutex) {
		if log != nil {
			m.log = log
		}
	}
}

// WithKeyPrefix namespaces lock keys, e.g. "lock:".
func WithKeyPrefix(prefix string) Option {
	return func(m *Mutex) { m.keyPrefix = prefix }
}

// New creates a Mutex. Panics if client is nil to fail fast during
// initialization.
func New(client redis.UniversalClient, opts ...Option) *Mutex {
	if client == nil {
		panic("distlock: redis client is required")
	}
	m := &Mutex{
		db:        client,
		log:       slog.Default(),
		keyPrefix: "lock:",
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Lease represents a held lock. Release it when the critical section ends;
// if the holder crashes, the TTL releases it instead.
type Lease struct {
	m     *Mutex
	key   string
	token string
}

// Acquire attempts to take the lock for key with the given TTL. It never
// waits: ok is false when the lock is held elsewhere. Store errors are
// treated as failure to acquire - correctness must never depend on the lock,
// so callers degrade to their uncached or re-read path.
func (m *Mutex) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, bool) {
	token := uuid.NewString()
	fullKey := m.keyPrefix + key
	ok, err := m.db.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		m.log.WarnContext(ctx, "lock acquire failed, degrading to lockless path",
			slog.String("key", fullKey),
			slog.Any("error", err),
		)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	return &Lease{m: m, key: fullKey, token: token}, true
}

// Release frees the lock if this lease still holds it. Safe to call after
// the TTL expired: an expired lease never removes another holder's lock.
func (l *Lease) Release(ctx context.Context) {
	if l == nil {
		return
	}
	if err := releaseScript.Run(ctx, l.m.db, []string{l.key}, l.token).Err(); err != nil && err != redis.Nil {
		l.m.log.WarnContext(ctx, "lock release failed, lease will expire by TTL",
			slog.String("key", l.key),
			slog.Any("error", err),
		)
	}
}

// WithLock runs fn under the lock for key and returns its result.
// When the lock cannot be acquired it returns the zero value and ok=false
// without running fn; callers decide whether to retry, wait-and-reread, or
// degrade to an uncached path. The TTL must exceed the expected critical
// section duration (for example one external API round trip) with margin.
func WithLock[T any](ctx context.Context, m *Mutex, key string, ttl time.Duration, fn func(ctx context.Context) (T, error)) (result T, ok bool, err error) {
	lease, acquired := m.Acquire(ctx, key, ttl)
	if !acquired {
		return result, false, nil
	}
	defer lease.Release(ctx)

	result, err = fn(ctx)
	return result, true, err
}
