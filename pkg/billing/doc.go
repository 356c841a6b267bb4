// Package billing keeps the application's view of a user's plan and
// subscription consistent with the billing provider.
//
// The package owns the domain model (User, Subscription, the FREE < STARTER
// < PRO plan hierarchy, the six-value internal status vocabulary) and the
// Synchronizer, an event-driven state machine that consumes already-verified
// provider webhook events:
//
//	checkout-completed   -> HandleCheckoutCompleted
//	subscription-updated -> HandleSubscriptionUpdated
//	subscription-deleted -> HandleSubscriptionDeleted
//	payment-failed       -> HandlePaymentFailed
//
// Each handler reconciles the subscription row and the owning user row in a
// single transaction, then invalidates the user's entitlement cache entries.
// Handlers are idempotent (upsert by the provider's subscription ID), so
// at-least-once, unordered webhook delivery converges on the same end state.
//
// Status mapping from the provider's eight-value vocabulary is total:
//
//	incomplete         -> INCOMPLETE
//	incomplete_expired -> CANCELED
//	trialing           -> TRIALING
//	active             -> ACTIVE
//	past_due           -> PAST_DUE
//	canceled           -> CANCELED
//	unpaid             -> PAST_DUE
//	paused             -> CANCELED
//	(anything else)    -> NONE
//
// Wiring:
//
//	store := billing.NewPgStore(pool)
//	provider, _ := billing.NewStripeProvider(stripeCfg)
//	sync := billing.NewSynchronizer(store, entCache, provider,
//	    billing.WithPlanPrices(map[string]billing.PlanType{
//	        "price_starter_monthly": billing.PlanStarter,
//	        "price_pro_monthly":     billing.PlanPro,
//	    }),
//	)
//
// The HTTP route that verifies webhook signatures and the queue that retries
// failed events live outside this package; handlers either fully process an
// event or return an error for the queue to act on.
package billing
