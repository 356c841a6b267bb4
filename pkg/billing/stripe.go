package billing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	stripe "github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
)

// StripeConfig holds Stripe API credentials.
type StripeConfig struct {
	SecretKey string `env:"STRIPE_SECRET_KEY,required"`
}

// StripeProvider implements Provider using the official Stripe SDK.
// Webhook signature verification is owned by the transport layer upstream;
// this provider only performs read/provision calls.
type StripeProvider struct {
	api *client.API
}

// NewStripeProvider creates a Stripe-backed Provider.
func NewStripeProvider(cfg StripeConfig) (*StripeProvider, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("billing: stripe secret key is required")
	}
	api := &client.API{}
	api.Init(cfg.SecretKey, nil)
	return &StripeProvider{api: api}, nil
}

func (p *StripeProvider) CreateCustomer(ctx context.Context, userID uuid.UUID, email string) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
		Metadata: map[string]string{
			"userId": userID.String(),
		},
	}
	params.Context = ctx

	cust, err := p.api.Customers.New(params)
	if err != nil {
		return "", errors.Join(ErrProviderError, err)
	}
	return cust.ID, nil
}

func (p *StripeProvider) GetSubscription(ctx context.Context, externalID string) (*ProviderSubscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := p.api.Subscriptions.Get(externalID, params)
	if err != nil {
		return nil, errors.Join(ErrProviderError, err)
	}

	out := &ProviderSubscription{
		ID:                 sub.ID,
		Status:             string(sub.Status),
		Metadata:           sub.Metadata,
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		CurrentPeriodStart: stripeTime(sub.CurrentPeriodStart),
		CurrentPeriodEnd:   stripeTime(sub.CurrentPeriodEnd),
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item != nil && item.Price != nil && item.Price.ID != "" {
				out.PriceID = item.Price.ID
				break
			}
		}
	}
	return out, nil
}

func stripeTime(sec int64) *time.Time {
	if sec == 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
