package entitlement

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/entitlements/pkg/billing"
	"github.com/dmitrymomot/entitlements/pkg/cache"
	"github.com/dmitrymomot/entitlements/pkg/distlock"
)

// Store is the slice of billing storage the resolver needs.
// billing.Store satisfies it.
type Store interface {
	GetUser(ctx context.Context, userID uuid.UUID) (*billing.User, error)
	SetBillingCustomerID(ctx context.Context, userID uuid.UUID, customerID string) error
	GetCurrentSubscription(ctx context.Context, userID uuid.UUID) (*billing.Subscription, error)
}

// CustomerProvisioner provisions billing-provider customer records.
// billing.Provider satisfies it.
type CustomerProvisioner interface {
	CreateCustomer(ctx context.Context, userID uuid.UUID, email string) (string, error)
}

// cachedSubscription wraps the lookup result so "no current subscription" is
// cacheable too - otherwise unsubscribed users would hit the database on
// every check.
type cachedSubscription struct {
	Found        bool                  `json:"found"`
	Subscription *billing.Subscription `json:"subscription,omitempty"`
}

// Resolver answers entitlement questions for the rest of the system:
// current subscription, active status, and plan-hierarchy feature access.
// Reads are cache-first with distributed-lock stampede protection; the
// database stays the source of truth and every path degrades to it.
type Resolver struct {
	store       Store
	provider    CustomerProvisioner
	cache       cache.Cache
	locks       *distlock.Mutex
	log         *slog.Logger
	subTTL      time.Duration
	featureTTL  time.Duration
	lockTTL     time.Duration
	lockWait    time.Duration
	lockRetries int
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the resolver's logger.
func WithLogger(log *slog.Logger) Option {
	return func(r *Resolver) {
		if log != nil {
			r.log = log
		}
	}
}

// WithSubscriptionTTL sets how long subscription lookups are cached.
func WithSubscriptionTTL(ttl time.Duration) Option {
	return func(r *Resolver) {
		if ttl > 0 {
			r.subTTL = ttl
		}
	}
}

// WithFeatureAccessTTL sets how long feature-access booleans are cached.
// Keep it short: it bounds how long a plan change can appear stale.
func WithFeatureAccessTTL(ttl time.Duration) Option {
	return func(r *Resolver) {
		if ttl > 0 {
			r.featureTTL = ttl
		}
	}
}

// WithLockTTL sets the lease TTL for provisioning and stampede locks. Must
// exceed one provider round trip with margin.
func WithLockTTL(ttl time.Duration) Option {
	return func(r *Resolver) {
		if ttl > 0 {
			r.lockTTL = ttl
		}
	}
}

// NewResolver creates a Resolver. Panics if a required dependency is nil to
// fail fast during initialization.
func NewResolver(store Store, provider CustomerProvisioner, c cache.Cache, locks *distlock.Mutex, opts ...Option) *Resolver {
	if store == nil {
		panic("entitlement: Store is required")
	}
	if provider == nil {
		panic("entitlement: CustomerProvisioner is required")
	}
	if c == nil {
		panic("entitlement: Cache is required")
	}
	if locks == nil {
		panic("entitlement: distributed mutex is required")
	}
	r := &Resolver{
		store:       store,
		provider:    provider,
		cache:       c,
		locks:       locks,
		log:         slog.Default(),
		subTTL:      5 * time.Minute,
		featureTTL:  time.Minute,
		lockTTL:     10 * time.Second,
		lockWait:    150 * time.Millisecond,
		lockRetries: 2,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetOrCreateBillingCustomer returns the user's provider customer ID,
// provisioning one exactly once under a per-user distributed lock. Losers of
// the lock wait briefly and re-read the now-populated value instead of
// creating a duplicate customer.
func (r *Resolver) GetOrCreateBillingCustomer(ctx context.Context, userID uuid.UUID, email string) (string, error) {
	user, err := r.store.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}
	if user.BillingCustomerID != "" {
		return user.BillingCustomerID, nil
	}

	lockKey := "billing-customer:" + userID.String()
	id, acquired, err := distlock.WithLock(ctx, r.locks, lockKey, r.lockTTL,
		func(ctx context.Context) (string, error) {
			// Another holder may have provisioned while we waited on the
			// first read; the critical section re-checks before creating.
			user, err := r.store.GetUser(ctx, userID)
			if err != nil {
				return "", err
			}
			if user.BillingCustomerID != "" {
				return user.BillingCustomerID, nil
			}

			customerID, err := r.provider.CreateCustomer(ctx, userID, email)
			if err != nil {
				return "", err
			}
			if err := r.store.SetBillingCustomerID(ctx, userID, customerID); err != nil {
				return "", err
			}
			r.log.InfoContext(ctx, "billing customer provisioned",
				slog.String("user_id", userID.String()),
				slog.String("customer_id", customerID),
			)
			return customerID, nil
		})
	if err != nil {
		return "", err
	}
	if acquired {
		return id, nil
	}

	// Lock held elsewhere: the winner is provisioning right now. Re-read a
	// few times rather than risk a duplicate customer on the provider.
	for i := 0; i < r.lockRetries; i++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(r.lockWait):
		}
		user, err := r.store.GetUser(ctx, userID)
		if err != nil {
			return "", err
		}
		if user.BillingCustomerID != "" {
			return user.BillingCustomerID, nil
		}
	}
	return "", ErrCustomerProvisioningInFlight
}

// GetUserSubscription returns the user's current (ACTIVE or TRIALING)
// subscription, or nil when there is none. Cache-first; on a miss only one
// process recomputes from the database while the rest wait and re-read. If
// the lock cannot be acquired at all, the caller gets an uncached direct
// read - correctness never depends on the lock.
func (r *Resolver) GetUserSubscription(ctx context.Context, userID uuid.UUID) (*billing.Subscription, error) {
	key := billing.SubscriptionCacheKey(userID)

	var cached cachedSubscription
	if r.cache.Get(ctx, key, &cached) {
		return cached.Subscription, nil
	}

	sub, acquired, err := distlock.WithLock(ctx, r.locks, "sub-lookup:"+userID.String(), r.lockTTL,
		func(ctx context.Context) (*billing.Subscription, error) {
			// Double-check inside the lock: a concurrent holder may have
			// repopulated the entry while we acquired.
			var cached cachedSubscription
			if r.cache.Get(ctx, key, &cached) {
				return cached.Subscription, nil
			}
			sub, err := r.loadCurrentSubscription(ctx, userID)
			if err != nil {
				return nil, err
			}
			r.cache.Set(ctx, key, cachedSubscription{Found: sub != nil, Subscription: sub}, r.subTTL)
			return sub, nil
		})
	if err != nil {
		return nil, err
	}
	if acquired {
		return sub, nil
	}

	// Lock held elsewhere: wait for the winner to repopulate, then fall back
	// to an uncached read.
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(r.lockWait):
	}
	if r.cache.Get(ctx, key, &cached) {
		return cached.Subscription, nil
	}
	return r.loadCurrentSubscription(ctx, userID)
}

// HasActiveSubscription reports whether the user currently holds an ACTIVE
// or TRIALING subscription.
func (r *Resolver) HasActiveSubscription(ctx context.Context, userID uuid.UUID) (bool, error) {
	sub, err := r.GetUserSubscription(ctx, userID)
	if err != nil {
		return false, err
	}
	return sub != nil, nil
}

// HasFeatureAccess reports whether the user's plan satisfies requiredPlan.
// Access requires an entitled status (ACTIVE/TRIALING) and
// rank(userPlan) >= rank(requiredPlan). Results - including denials and
// unknown users - are cached per (user, requiredPlan) with a short TTL so
// the hot path costs one cache read regardless of the threshold asked for.
func (r *Resolver) HasFeatureAccess(ctx context.Context, userID uuid.UUID, requiredPlan billing.PlanType) bool {
	key := billing.FeatureAccessCacheKey(userID, requiredPlan)

	var allowed bool
	if r.cache.Get(ctx, key, &allowed) {
		return allowed
	}

	user, err := r.store.GetUser(ctx, userID)
	switch {
	case errors.Is(err, billing.ErrUserNotFound):
		allowed = false
	case err != nil:
		// Store unavailable: deny without caching so access recovers as
		// soon as the store does.
		r.log.WarnContext(ctx, "feature access check failed, denying",
			slog.String("user_id", userID.String()),
			slog.Any("error", err),
		)
		return false
	default:
		allowed = user.SubscriptionStatus.Entitled() && user.PlanType.AtLeast(requiredPlan)
	}

	r.cache.Set(ctx, key, allowed, r.featureTTL)
	return allowed
}

// loadCurrentSubscription reads the current subscription from the store,
// normalizing "no row" to nil.
func (r *Resolver) loadCurrentSubscription(ctx context.Context, userID uuid.UUID) (*billing.Subscription, error) {
	sub, err := r.store.GetCurrentSubscription(ctx, userID)
	if errors.Is(err, billing.ErrSubscriptionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sub, nil
}
