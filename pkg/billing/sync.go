package billing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/entitlements/pkg/cache"
)

// Synchronizer reconciles billing-provider webhook events against the two
// database rows that carry billing truth: the subscription record and the
// user record. Both change inside one transaction per event; every
// transition ends by invalidating the user's entitlement cache entries.
//
// Handlers must fully process an event or return an error - partial success
// is never signaled. Retry and dead-lettering belong to the caller's queue.
// Delivery is at-least-once and unordered, so every handler is idempotent:
// re-applying an event converges on the same end state via
// upsert-by-external-id.
type Synchronizer struct {
	store       Store
	cache       cache.Cache
	provider    Provider
	reporter    ErrorReporter
	planByPrice map[string]PlanType
	log         *slog.Logger
}

// SyncOption configures a Synchronizer.
type SyncOption func(*Synchronizer)

// WithSyncLogger sets the synchronizer's logger.
func WithSyncLogger(log *slog.Logger) SyncOption {
	return func(s *Synchronizer) {
		if log != nil {
			s.log = log
		}
	}
}

// WithErrorReporter sets the exception-tracking sink for unresolvable
// events. Defaults to a log-backed reporter.
func WithErrorReporter(r ErrorReporter) SyncOption {
	return func(s *Synchronizer) {
		if r != nil {
			s.reporter = r
		}
	}
}

// WithPlanPrices maps provider price IDs to plan tiers, letting update
// events resolve the plan from their line items.
func WithPlanPrices(prices map[string]PlanType) SyncOption {
	return func(s *Synchronizer) {
		for id, plan := range prices {
			s.planByPrice[id] = plan
		}
	}
}

// NewSynchronizer creates a Synchronizer. Panics if a required dependency is
// nil to fail fast during initialization.
func NewSynchronizer(store Store, c cache.Cache, provider Provider, opts ...SyncOption) *Synchronizer {
	if store == nil {
		panic("billing: Store is required")
	}
	if c == nil {
		panic("billing: Cache is required")
	}
	if provider == nil {
		panic("billing: Provider is required")
	}
	s := &Synchronizer{
		store:       store,
		cache:       c,
		provider:    provider,
		planByPrice: make(map[string]PlanType),
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.reporter == nil {
		s.reporter = NewLogReporter(s.log)
	}
	return s
}

// HandleCheckoutCompleted processes a checkout-completed event: the first
// (and only) event kind that creates a subscription row. Metadata is
// validated strictly because there is no prior row to recover from.
func (s *Synchronizer) HandleCheckoutCompleted(ctx context.Context, ev CheckoutSessionEvent) error {
	meta, err := ev.Validate()
	if err != nil {
		return err
	}

	priceID := ""
	for _, item := range ev.Items {
		if item.Price.ID != "" {
			priceID = item.Price.ID
			break
		}
	}
	if priceID == "" {
		return ErrNoBillableLineItem
	}

	plan := meta.Plan
	change := SubscriptionChange{
		ExternalID:        ev.Subscription.ID,
		UserID:            meta.UserID,
		BillingCustomerID: ev.Customer.ID,
		Status:            StatusActive,
		PlanType:          &plan,
		PriceID:           &priceID,
	}
	if _, err := s.store.ApplySubscriptionChange(ctx, change); err != nil {
		return err
	}

	s.invalidateEntitlements(ctx, meta.UserID)
	s.log.InfoContext(ctx, "checkout completed",
		slog.String("user_id", meta.UserID.String()),
		slog.String("subscription_id", ev.Subscription.ID),
		slog.String("plan", string(plan)),
	)
	return nil
}

// HandleSubscriptionUpdated processes a subscription-updated event carrying
// the full current subscription shape. Missing user linkage is recovered
// from the existing row; fields the event omits keep their stored values.
func (s *Synchronizer) HandleSubscriptionUpdated(ctx context.Context, ev SubscriptionEvent) error {
	if ev.ID == "" {
		return NewValidationError("id", "missing subscription id")
	}

	userID, existing, err := s.resolveLinkage(ctx, ev.ID, ev.Metadata)
	if err != nil {
		return err
	}

	priceID := ev.FirstBillablePrice()
	var prevPlan *PlanType
	if existing != nil {
		prevPlan = &existing.PlanType
	}
	plan := s.resolvePlan(ctx, ev.ID, priceID, ev.Metadata, prevPlan)

	cancelAtPeriodEnd := ev.CancelAtPeriodEnd
	change := SubscriptionChange{
		ExternalID:        ev.ID,
		UserID:            userID,
		BillingCustomerID: ev.Customer.ID,
		Status:            MapProviderStatus(ev.Status),
		PlanType:          plan,
		PriceID:           nullIfEmpty(priceID),
		PeriodStart:       ev.PeriodStart(),
		PeriodEnd:         ev.PeriodEnd(),
		CancelAtPeriodEnd: &cancelAtPeriodEnd,
		CanceledAt:        ev.CanceledTime(),
	}
	if _, err := s.store.ApplySubscriptionChange(ctx, change); err != nil {
		return err
	}

	s.invalidateEntitlements(ctx, userID)
	s.log.InfoContext(ctx, "subscription updated",
		slog.String("user_id", userID.String()),
		slog.String("subscription_id", ev.ID),
		slog.String("status", string(change.Status)),
	)
	return nil
}

// HandleSubscriptionDeleted marks the subscription terminally CANCELED,
// demotes the user to the lowest tier and clears the user's subscription
// linkage. The subscription row itself keeps its plan for auditability.
func (s *Synchronizer) HandleSubscriptionDeleted(ctx context.Context, ev SubscriptionEvent) error {
	if ev.ID == "" {
		return NewValidationError("id", "missing subscription id")
	}

	userID, _, err := s.resolveLinkage(ctx, ev.ID, ev.Metadata)
	if err != nil {
		return err
	}

	canceledAt := ev.CanceledTime()
	if canceledAt == nil {
		now := time.Now().UTC()
		canceledAt = &now
	}

	freePlan := PlanFree
	change := SubscriptionChange{
		ExternalID:            ev.ID,
		UserID:                userID,
		Status:                StatusCanceled,
		UserPlanType:          &freePlan,
		CanceledAt:            canceledAt,
		ClearUserSubscription: true,
	}
	if _, err := s.store.ApplySubscriptionChange(ctx, change); err != nil {
		return err
	}

	s.invalidateEntitlements(ctx, userID)
	s.log.InfoContext(ctx, "subscription canceled",
		slog.String("user_id", userID.String()),
		slog.String("subscription_id", ev.ID),
	)
	return nil
}

// HandlePaymentFailed processes a payment-failed invoice event. The invoice
// payload is unreliable for this event type, so the subscription is
// re-fetched from the provider before marking both rows PAST_DUE. Invoices
// without a subscription reference (one-off charges) are a no-op.
func (s *Synchronizer) HandlePaymentFailed(ctx context.Context, ev InvoiceEvent) error {
	if ev.Subscription.ID == "" {
		s.log.DebugContext(ctx, "payment failed for invoice without subscription, skipping",
			slog.String("invoice_id", ev.ID),
		)
		return nil
	}

	live, err := s.provider.GetSubscription(ctx, ev.Subscription.ID)
	if err != nil {
		return err
	}

	userID, ok := live.UserID()
	if !ok {
		userID, _, err = s.resolveLinkage(ctx, ev.Subscription.ID, live.Metadata)
		if err != nil {
			return err
		}
	}

	change := SubscriptionChange{
		ExternalID:        ev.Subscription.ID,
		UserID:            userID,
		BillingCustomerID: live.CustomerID,
		Status:            StatusPastDue,
		PeriodStart:       live.CurrentPeriodStart,
		PeriodEnd:         live.CurrentPeriodEnd,
	}
	if _, err := s.store.ApplySubscriptionChange(ctx, change); err != nil {
		return err
	}

	s.invalidateEntitlements(ctx, userID)
	s.log.InfoContext(ctx, "subscription past due after failed payment",
		slog.String("user_id", userID.String()),
		slog.String("subscription_id", ev.Subscription.ID),
	)
	return nil
}

// resolveLinkage determines which user an event belongs to. Metadata linkage
// wins; when it is missing or malformed the existing subscription row
// recovers it (recoverable ambiguity, logged as a warning). When no row
// exists either, the event is unprocessable: it is logged as an error,
// reported to the exception sink, and returned as ErrUnresolvableLinkage so
// the caller's retry policy keeps the audit trail.
func (s *Synchronizer) resolveLinkage(ctx context.Context, externalID string, metadata map[string]string) (uuid.UUID, *Subscription, error) {
	if raw, present := metadata["userId"]; present && raw != "" {
		if id, err := uuid.Parse(raw); err == nil {
			return id, nil, nil
		}
		s.log.WarnContext(ctx, "malformed user linkage in event metadata, falling back to subscription row",
			slog.String("subscription_id", externalID),
		)
	}

	existing, err := s.store.GetSubscriptionByExternalID(ctx, externalID)
	if err == nil {
		s.log.WarnContext(ctx, "recovered user linkage from subscription row",
			slog.String("subscription_id", externalID),
			slog.String("user_id", existing.UserID.String()),
		)
		return existing.UserID, existing, nil
	}
	if !errors.Is(err, ErrSubscriptionNotFound) {
		return uuid.Nil, nil, err
	}

	s.log.ErrorContext(ctx, "cannot resolve user for subscription event",
		slog.String("subscription_id", externalID),
	)
	s.reporter.Report(ctx, ErrUnresolvableLinkage, map[string]string{
		"subscription_id": externalID,
	})
	return uuid.Nil, nil, ErrUnresolvableLinkage
}

// resolvePlan picks the plan for an update event: the configured price map
// first, then event metadata, then the previously stored plan. Nil means the
// plan is unknown and stays untouched in the store.
func (s *Synchronizer) resolvePlan(ctx context.Context, externalID, priceID string, metadata map[string]string, prev *PlanType) *PlanType {
	if priceID != "" {
		if plan, ok := s.planByPrice[priceID]; ok {
			return &plan
		}
	}
	if raw, present := metadata["planType"]; present {
		plan := PlanType(raw)
		if plan.Valid() {
			return &plan
		}
	}
	if prev != nil {
		s.log.WarnContext(ctx, "plan not present in event, keeping previously known plan",
			slog.String("subscription_id", externalID),
			slog.String("plan", string(*prev)),
		)
	}
	return prev
}

// invalidateEntitlements drops the user's subscription cache entry and every
// feature-access entry. Best effort: the cache fails open and TTLs bound any
// missed invalidation.
func (s *Synchronizer) invalidateEntitlements(ctx context.Context, userID uuid.UUID) {
	s.cache.Delete(ctx, EntitlementCacheKeys(userID)...)
}
