package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/entitlements/pkg/billing"
	"github.com/dmitrymomot/entitlements/pkg/cache"
)

// PlanSource resolves the plan a user is on. billing.Store satisfies it.
type PlanSource interface {
	GetUser(ctx context.Context, userID uuid.UUID) (*billing.User, error)
}

// Enforcer checks per-resource, per-plan usage limits with cached counters.
// The counting query is always the source of truth; the cache bounds how
// often it runs, and InvalidateCache keeps it honest after mutations.
type Enforcer struct {
	defs  map[Resource]Definition
	users PlanSource
	cache cache.Cache
	log   *slog.Logger
	now   func() time.Time
}

// EnforcerOption configures an Enforcer.
type EnforcerOption func(*Enforcer)

// WithLogger sets the enforcer's logger.
func WithLogger(log *slog.Logger) EnforcerOption {
	return func(e *Enforcer) {
		if log != nil {
			e.log = log
		}
	}
}

// WithClock overrides the time source. Intended for period-boundary tests.
func WithClock(now func() time.Time) EnforcerOption {
	return func(e *Enforcer) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEnforcer creates an Enforcer from resource definitions. Every
// definition must carry a counter and a total per-plan limit table;
// misconfiguration fails construction rather than a later request.
func NewEnforcer(defs []Definition, users PlanSource, c cache.Cache, opts ...EnforcerOption) (*Enforcer, error) {
	if users == nil {
		panic("quota: PlanSource is required")
	}
	if c == nil {
		panic("quota: Cache is required")
	}
	byResource := make(map[Resource]Definition, len(defs))
	for _, def := range defs {
		if err := def.validate(); err != nil {
			return nil, err
		}
		if _, dup := byResource[def.Resource]; dup {
			return nil, fmt.Errorf("quota: duplicate definition for resource %q", def.Resource)
		}
		if def.CacheTTL <= 0 {
			def.CacheTTL = 5 * time.Minute
		}
		byResource[def.Resource] = def
	}
	e := &Enforcer{
		defs:  byResource,
		users: users,
		cache: c,
		log:   slog.Default(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// CheckLimit returns nil when the user may create one more instance of the
// resource, *QuotaExceededError when current-period usage has reached the
// plan's limit (at-limit is denied, one-below is allowed), or
// ErrUserNotFound for unknown users. Unlimited plans return nil immediately
// without any count lookup, so unlimited-tier checks never pay a counting
// cost.
func (e *Enforcer) CheckLimit(ctx context.Context, userID uuid.UUID, res Resource) error {
	def, ok := e.defs[res]
	if !ok {
		return ErrUnknownResource
	}

	user, err := e.users.GetUser(ctx, userID)
	if err != nil {
		return err
	}

	limit := def.Limits[user.PlanType]
	if limit == Unlimited {
		return nil
	}

	used, err := e.usage(ctx, userID, def)
	if err != nil {
		return err
	}

	if used >= limit {
		return &QuotaExceededError{
			Plan:     user.PlanType,
			Limit:    limit,
			Resource: def.Label,
		}
	}
	return nil
}

// GetQuota surfaces the same counting logic for display. Unlimited plans
// report the Unlimited sentinel instead of a number and skip counting.
func (e *Enforcer) GetQuota(ctx context.Context, userID uuid.UUID, res Resource) (Quota, error) {
	def, ok := e.defs[res]
	if !ok {
		return Quota{}, ErrUnknownResource
	}

	user, err := e.users.GetUser(ctx, userID)
	if err != nil {
		return Quota{}, err
	}

	limit := def.Limits[user.PlanType]
	if limit == Unlimited {
		return Quota{Used: 0, Limit: Unlimited, Remaining: Unlimited}, nil
	}

	used, err := e.usage(ctx, userID, def)
	if err != nil {
		return Quota{}, err
	}

	return Quota{
		Used:      used,
		Limit:     limit,
		Remaining: max(limit-used, 0),
	}, nil
}

// InvalidateCache drops the cached counter for (user, resource). Call it
// from any mutation that changes the underlying count so the next check is
// accurate immediately instead of after TTL expiry.
func (e *Enforcer) InvalidateCache(ctx context.Context, userID uuid.UUID, res Resource) {
	def, ok := e.defs[res]
	if !ok {
		return
	}
	e.cache.Delete(ctx, e.cacheKey(userID, def))
}

// usage returns the cached counter, falling back to the live counting query
// and repopulating the cache on a miss.
func (e *Enforcer) usage(ctx context.Context, userID uuid.UUID, def Definition) (int64, error) {
	key := e.cacheKey(userID, def)

	var cached int64
	if e.cache.Get(ctx, key, &cached) {
		return cached, nil
	}

	used, err := def.Count(ctx, userID, e.periodStart(def))
	if err != nil {
		return 0, errors.Join(ErrCountFailed, err)
	}

	e.cache.Set(ctx, key, used, def.CacheTTL)
	return used, nil
}

// cacheKey is stable for lifetime counts; monthly keys embed year and month
// so a new period starts from a cold key with no reset job.
func (e *Enforcer) cacheKey(userID uuid.UUID, def Definition) string {
	base := "quota:" + string(def.Resource) + ":" + userID.String()
	if def.Period == PeriodMonthly {
		now := e.now().UTC()
		return fmt.Sprintf("%s:%04d-%02d", base, now.Year(), int(now.Month()))
	}
	return base
}

// periodStart returns the counting window's lower bound: the first instant
// of the current month for monthly resources, the zero time for lifetime
// ones.
func (e *Enforcer) periodStart(def Definition) time.Time {
	if def.Period != PeriodMonthly {
		return time.Time{}
	}
	now := e.now().UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}
