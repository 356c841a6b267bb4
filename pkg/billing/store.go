package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SubscriptionChange is the unit of reconciliation work: one upsert of a
// subscription row plus the matching update of its owner's user row, applied
// in a single transaction. Nil pointer fields are omitted from the update,
// never written as null placeholders.
type SubscriptionChange struct {
	ExternalID        string
	UserID            uuid.UUID
	BillingCustomerID string // skipped when empty
	Status            Status
	PlanType          *PlanType
	PriceID           *string
	PeriodStart       *time.Time
	PeriodEnd         *time.Time
	CancelAtPeriodEnd *bool
	CanceledAt        *time.Time

	// UserPlanType overrides the plan written to the user row, leaving the
	// subscription row's plan untouched (cancellation demotes the user while
	// the canceled row keeps its plan for auditability).
	UserPlanType *PlanType

	// ClearUserSubscription removes the user's subscription linkage and
	// period end (terminal cancellation).
	ClearUserSubscription bool
}

// EffectiveUserPlan returns the plan to write to the user row, nil when the
// change leaves it untouched.
func (c SubscriptionChange) EffectiveUserPlan() *PlanType {
	if c.UserPlanType != nil {
		return c.UserPlanType
	}
	return c.PlanType
}

// Store is the transactional source of truth for users and subscriptions.
// Implementations must apply ApplySubscriptionChange atomically across both
// rows; no caller ever mutates the user's plan/status outside of it.
type Store interface {
	// GetUser returns the user or ErrUserNotFound.
	GetUser(ctx context.Context, userID uuid.UUID) (*User, error)

	// SetBillingCustomerID records the provider customer ID for a user.
	SetBillingCustomerID(ctx context.Context, userID uuid.UUID, customerID string) error

	// GetSubscriptionByExternalID returns the subscription row for the
	// provider's subscription ID, or ErrSubscriptionNotFound.
	GetSubscriptionByExternalID(ctx context.Context, externalID string) (*Subscription, error)

	// GetCurrentSubscription returns the user's most recent ACTIVE or
	// TRIALING subscription, or ErrSubscriptionNotFound.
	GetCurrentSubscription(ctx context.Context, userID uuid.UUID) (*Subscription, error)

	// ApplySubscriptionChange upserts the subscription row by ExternalID and
	// updates the owning user row inside one transaction. Upsert-by-external-id
	// makes redelivered events converge on the same row.
	ApplySubscriptionChange(ctx context.Context, change SubscriptionChange) (*Subscription, error)
}
