package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Provider exposes the billing provider's read APIs. It is consulted only
// when the local event payload is insufficient: re-fetching a subscription
// for payment-failed events, and provisioning a customer record.
type Provider interface {
	// CreateCustomer provisions a provider customer for the user and returns
	// the provider's customer ID.
	CreateCustomer(ctx context.Context, userID uuid.UUID, email string) (string, error)

	// GetSubscription retrieves the live subscription state from the
	// provider.
	GetSubscription(ctx context.Context, externalID string) (*ProviderSubscription, error)
}

// ProviderSubscription is the provider's current view of a subscription,
// already reduced to the fields reconciliation needs.
type ProviderSubscription struct {
	ID                 string
	CustomerID         string
	Status             string // provider vocabulary; map with MapProviderStatus
	PriceID            string
	Metadata           map[string]string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  bool
}

// UserID extracts the user linkage from the provider subscription metadata.
func (p *ProviderSubscription) UserID() (uuid.UUID, bool) {
	raw, present := p.Metadata["userId"]
	if !present || raw == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
