package billing

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-memory Store for tests and local development. It applies
// the same partial-update semantics as the PostgreSQL implementation,
// including atomic two-row changes.
type MemStore struct {
	mu            sync.RWMutex
	users         map[uuid.UUID]*User
	subscriptions map[string]*Subscription // keyed by ExternalID
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		users:         make(map[uuid.UUID]*User),
		subscriptions: make(map[string]*Subscription),
	}
}

// PutUser seeds a user row. Intended for test setup.
func (s *MemStore) PutUser(user User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := user
	s.users[user.ID] = &u
}

func (s *MemStore) GetUser(ctx context.Context, userID uuid.UUID) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	copied := *u
	return &copied, nil
}

func (s *MemStore) SetBillingCustomerID(ctx context.Context, userID uuid.UUID, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.BillingCustomerID = customerID
	return nil
}

func (s *MemStore) GetSubscriptionByExternalID(ctx context.Context, externalID string) (*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subscriptions[externalID]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	copied := *sub
	return &copied, nil
}

func (s *MemStore) GetCurrentSubscription(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *Subscription
	for _, sub := range s.subscriptions {
		if sub.UserID != userID || !sub.Status.Entitled() {
			continue
		}
		if latest == nil || sub.UpdatedAt.After(latest.UpdatedAt) {
			latest = sub
		}
	}
	if latest == nil {
		return nil, ErrSubscriptionNotFound
	}
	copied := *latest
	return &copied, nil
}

func (s *MemStore) ApplySubscriptionChange(ctx context.Context, change SubscriptionChange) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[change.UserID]
	if !ok {
		return nil, ErrUserNotFound
	}

	now := time.Now().UTC()
	sub, exists := s.subscriptions[change.ExternalID]
	if !exists {
		sub = &Subscription{
			ID:         uuid.New(),
			ExternalID: change.ExternalID,
			UserID:     change.UserID,
			PlanType:   PlanFree,
			CreatedAt:  now,
		}
		s.subscriptions[change.ExternalID] = sub
	}

	sub.Status = change.Status
	sub.UpdatedAt = now
	if change.BillingCustomerID != "" {
		sub.BillingCustomerID = change.BillingCustomerID
	}
	if change.PriceID != nil {
		sub.PriceID = *change.PriceID
	}
	if change.PlanType != nil {
		sub.PlanType = *change.PlanType
	}
	if change.PeriodStart != nil {
		sub.CurrentPeriodStart = change.PeriodStart
	}
	if change.PeriodEnd != nil {
		sub.CurrentPeriodEnd = change.PeriodEnd
	}
	if change.CancelAtPeriodEnd != nil {
		sub.CancelAtPeriodEnd = *change.CancelAtPeriodEnd
	}
	if change.CanceledAt != nil {
		sub.CanceledAt = change.CanceledAt
	}

	if userPlan := change.EffectiveUserPlan(); userPlan != nil {
		user.PlanType = *userPlan
	}
	user.SubscriptionStatus = change.Status
	if change.BillingCustomerID != "" {
		user.BillingCustomerID = change.BillingCustomerID
	}
	if change.ClearUserSubscription {
		user.SubscriptionID = ""
		user.CurrentPeriodEnd = nil
	} else {
		user.SubscriptionID = change.ExternalID
		if change.PeriodEnd != nil {
			user.CurrentPeriodEnd = change.PeriodEnd
		}
	}

	copied := *sub
	return &copied, nil
}
