package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// versionKeySuffix derives the version counter key from the value key.
// Both keys share the same TTL so they expire together.
const versionKeySuffix = ":ver"

// setWithVersionScript compares the stored version against the caller's
// expected version and, only on match, writes the value and bumps the
// version. Running server-side makes check+write+bump a single atomic step,
// so concurrent writers cannot interleave between the compare and the write.
var setWithVersionScript = redis.NewScript(`
local ver = redis.call('GET', KEYS[2])
if not ver then ver = '0' end
if ver ~= ARGV[2] then return 0 end
local next = tostring(tonumber(ver) + 1)
if tonumber(ARGV[3]) > 0 then
	redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
	redis.call('SET', KEYS[2], next, 'PX', ARGV[3])
else
	redis.call('SET', KEYS[1], ARGV[1])
	redis.call('SET', KEYS[2], next)
end
return 1
`)

// incrementScript applies the TTL only when INCR created the key, keeping
// the window anchored to the first increment (rate-limiter friendly).
var incrementScript = redis.NewScript(`
local v = redis.call('INCR', KEYS[1])
if v == 1 and tonumber(ARGV[1]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return v
`)

// RedisCache implements Cache on top of a shared Redis instance.
// Values are stored as JSON.
type RedisCache struct {
	db            redis.UniversalClient
	log           *slog.Logger
	scanCount     int64
	deleteBatch   int
	hits, misses  atomic.Uint64
	storeFailures atomic.Uint64
}

// RedisOption configures a RedisCache.
type RedisOption func(*RedisCache)

// WithLogger sets the logger used for fail-open warnings.
func WithLogger(log *slog.Logger) RedisOption {
	return func(c *RedisCache) {
		if log != nil {
			c.log = log
		}
	}
}

// WithScanCount sets the SCAN page size used by DeletePattern.
func WithScanCount(n int64) RedisOption {
	return func(c *RedisCache) {
		if n > 0 {
			c.scanCount = n
		}
	}
}

// WithDeleteBatchSize caps how many keys a single DEL may carry.
func WithDeleteBatchSize(n int) RedisOption {
	return func(c *RedisCache) {
		if n > 0 {
			c.deleteBatch = n
		}
	}
}

// NewRedisCache creates a Redis-backed Cache. Panics if client is nil to fail
// fast during initialization.
func NewRedisCache(client redis.UniversalClient, opts ...RedisOption) *RedisCache {
	if client == nil {
		panic("cache: redis client is required")
	}
	c := &RedisCache{
		db:          client,
		log:         slog.Default(),
		scanCount:   1000,
		deleteBatch: 100,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *RedisCache) Get(ctx context.Context, key string, dest any) bool {
	raw, err := c.db.Get(ctx, key).Bytes()
	if err == redis.Nil {
		c.misses.Add(1)
		return false
	}
	if err != nil {
		c.failOpen("get", key, err)
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		// Corrupt entries are dropped so the next read repopulates them.
		c.failOpen("get", key, err)
		c.db.Del(ctx, key)
		return false
	}
	c.hits.Add(1)
	return true
}

func (c *RedisCache) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	raw, err := json.Marshal(value)
	if err != nil {
		c.failOpen("set", key, err)
		return
	}
	if err := c.db.Set(ctx, key, raw, ttl).Err(); err != nil {
		c.failOpen("set", key, err)
	}
}

func (c *RedisCache) Delete(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	if err := c.db.Del(ctx, keys...).Err(); err != nil {
		c.failOpen("delete", keys[0], err)
	}
}

func (c *RedisCache) DeletePattern(ctx context.Context, pattern string) {
	var cursor uint64
	for {
		batch, next, err := c.db.Scan(ctx, cursor, pattern, c.scanCount).Result()
		if err != nil {
			c.failOpen("delete_pattern", pattern, err)
			return
		}
		for start := 0; start < len(batch); start += c.deleteBatch {
			end := min(start+c.deleteBatch, len(batch))
			if err := c.db.Del(ctx, batch[start:end]...).Err(); err != nil {
				c.failOpen("delete_pattern", pattern, err)
				return
			}
		}
		if next == 0 {
			return
		}
		cursor = next
	}
}

func (c *RedisCache) Increment(ctx context.Context, key string, ttl time.Duration) int64 {
	n, err := incrementScript.Run(ctx, c.db, []string{key}, ttl.Milliseconds()).Int64()
	if err != nil {
		c.failOpen("increment", key, err)
		return 0
	}
	return n
}

func (c *RedisCache) GetWithVersion(ctx context.Context, key string, dest any) (int64, bool) {
	vals, err := c.db.MGet(ctx, key, key+versionKeySuffix).Result()
	if err != nil {
		c.failOpen("get_with_version", key, err)
		return 0, false
	}
	version := int64(0)
	if len(vals) > 1 && vals[1] != nil {
		if s, ok := vals[1].(string); ok {
			version = parseInt64(s)
		}
	}
	if len(vals) == 0 || vals[0] == nil {
		c.misses.Add(1)
		return version, false
	}
	raw, ok := vals[0].(string)
	if !ok {
		c.misses.Add(1)
		return version, false
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		c.failOpen("get_with_version", key, err)
		c.db.Del(ctx, key, key+versionKeySuffix)
		return version, false
	}
	c.hits.Add(1)
	return version, true
}

func (c *RedisCache) SetWithVersion(ctx context.Context, key string, value any, expectedVersion int64, ttl time.Duration) bool {
	raw, err := json.Marshal(value)
	if err != nil {
		c.failOpen("set_with_version", key, err)
		return false
	}
	res, err := setWithVersionScript.Run(
		ctx, c.db,
		[]string{key, key + versionKeySuffix},
		raw, expectedVersion, ttl.Milliseconds(),
	).Int64()
	if err != nil {
		c.failOpen("set_with_version", key, err)
		return false
	}
	return res == 1
}

func (c *RedisCache) GetTTL(ctx context.Context, key string) time.Duration {
	ttl, err := c.db.TTL(ctx, key).Result()
	if err != nil {
		c.failOpen("get_ttl", key, err)
		return 0
	}
	// Redis reports -1 (no expiry) and -2 (missing key) as negative durations.
	if ttl < 0 {
		return 0
	}
	return ttl
}

func (c *RedisCache) Exists(ctx context.Context, key string) bool {
	n, err := c.db.Exists(ctx, key).Result()
	if err != nil {
		c.failOpen("exists", key, err)
		return false
	}
	return n > 0
}

func (c *RedisCache) ClearAll(ctx context.Context) {
	if err := c.db.FlushDB(ctx).Err(); err != nil {
		c.failOpen("clear_all", "*", err)
	}
}

func (c *RedisCache) Stats(ctx context.Context) Stats {
	stats := Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Errors: c.storeFailures.Load(),
	}
	if n, err := c.db.DBSize(ctx).Result(); err == nil {
		stats.Keys = n
	}
	return stats
}

// failOpen records a store failure and logs it. Errors never reach callers;
// the source of truth remains the database.
func (c *RedisCache) failOpen(op, key string, err error) {
	c.storeFailures.Add(1)
	c.log.WarnContext(context.Background(), "cache operation failed open",
		slog.String("op", op),
		slog.String("key", key),
		slog.Any("error", err),
	)
}

func parseInt64(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
