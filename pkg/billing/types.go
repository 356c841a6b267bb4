package billing

import (
	"time"

	"github.com/google/uuid"
)

// PlanType is a subscription tier. Tiers form a total order used for
// "at-least" entitlement checks: FREE < STARTER < PRO.
type PlanType string

const (
	PlanFree    PlanType = "FREE"
	PlanStarter PlanType = "STARTER"
	PlanPro     PlanType = "PRO"
)

var planRanks = map[PlanType]int{
	PlanFree:    0,
	PlanStarter: 1,
	PlanPro:     2,
}

// PlanTypes returns all tiers in ascending order.
func PlanTypes() []PlanType {
	return []PlanType{PlanFree, PlanStarter, PlanPro}
}

// Rank returns the tier's position in the plan hierarchy, -1 for unknown
// values so they never satisfy an AtLeast check.
func (p PlanType) Rank() int {
	if r, ok := planRanks[p]; ok {
		return r
	}
	return -1
}

// Valid reports whether p is a known tier.
func (p PlanType) Valid() bool {
	_, ok := planRanks[p]
	return ok
}

// AtLeast reports whether p grants access requiring the given tier.
func (p PlanType) AtLeast(required PlanType) bool {
	return p.Valid() && required.Valid() && p.Rank() >= required.Rank()
}

// Status is the internal subscription status vocabulary. The provider's
// richer status set is collapsed onto these six values via MapProviderStatus.
type Status string

const (
	StatusNone       Status = "NONE"
	StatusIncomplete Status = "INCOMPLETE"
	StatusTrialing   Status = "TRIALING"
	StatusActive     Status = "ACTIVE"
	StatusPastDue    Status = "PAST_DUE"
	StatusCanceled   Status = "CANCELED" // terminal
)

// providerStatusMap collapses the provider's eight subscription statuses
// onto the internal six. The mapping is total and deterministic.
var providerStatusMap = map[string]Status{
	"incomplete":         StatusIncomplete,
	"incomplete_expired": StatusCanceled,
	"trialing":           StatusTrialing,
	"active":             StatusActive,
	"past_due":           StatusPastDue,
	"canceled":           StatusCanceled,
	"unpaid":             StatusPastDue,
	"paused":             StatusCanceled,
}

// MapProviderStatus converts a provider status string to the internal
// vocabulary. Unrecognized values map to StatusNone so future provider
// statuses degrade safely instead of failing event processing.
func MapProviderStatus(s string) Status {
	if mapped, ok := providerStatusMap[s]; ok {
		return mapped
	}
	return StatusNone
}

// Entitled reports whether the status grants feature access.
// Only ACTIVE and TRIALING subscriptions count as current.
func (s Status) Entitled() bool {
	return s == StatusActive || s == StatusTrialing
}

// User is the application-side view of an account's billing state.
// PlanType/SubscriptionStatus change only inside the same transaction as the
// related Subscription row, never independently.
type User struct {
	ID                 uuid.UUID
	Email              string
	PlanType           PlanType
	SubscriptionStatus Status
	SubscriptionID     string // provider's subscription ID, empty when none
	CurrentPeriodEnd   *time.Time
	BillingCustomerID  string // provider's customer ID, empty until provisioned
}

// Subscription mirrors one provider subscription. Rows are created by the
// first checkout event (upsert by ExternalID, idempotent under redelivery)
// and are never hard-deleted - cancellation transitions them to the terminal
// CANCELED status.
type Subscription struct {
	ID                 uuid.UUID
	ExternalID         string // provider's subscription ID, unique
	UserID             uuid.UUID
	BillingCustomerID  string
	PriceID            string
	Status             Status
	PlanType           PlanType
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  bool
	CanceledAt         *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Current reports whether this row represents a live entitlement.
func (s *Subscription) Current() bool {
	return s != nil && s.Status.Entitled()
}
