package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/entitlements/pkg/billing"
)

func TestMemStore_ApplySubscriptionChange(t *testing.T) {
	ctx := context.Background()

	t.Run("nil fields leave stored values untouched", func(t *testing.T) {
		store := billing.NewMemStore()
		userID := uuid.New()
		store.PutUser(billing.User{ID: userID})

		plan := billing.PlanPro
		price := "price_1"
		end := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
		_, err := store.ApplySubscriptionChange(ctx, billing.SubscriptionChange{
			ExternalID:        "sub_1",
			UserID:            userID,
			BillingCustomerID: "cus_1",
			Status:            billing.StatusActive,
			PlanType:          &plan,
			PriceID:           &price,
			PeriodEnd:         &end,
		})
		require.NoError(t, err)

		// A later event omitting plan, price, and period only moves status.
		_, err = store.ApplySubscriptionChange(ctx, billing.SubscriptionChange{
			ExternalID: "sub_1",
			UserID:     userID,
			Status:     billing.StatusPastDue,
		})
		require.NoError(t, err)

		sub, err := store.GetSubscriptionByExternalID(ctx, "sub_1")
		require.NoError(t, err)
		assert.Equal(t, billing.StatusPastDue, sub.Status)
		assert.Equal(t, billing.PlanPro, sub.PlanType)
		assert.Equal(t, "price_1", sub.PriceID)
		assert.Equal(t, "cus_1", sub.BillingCustomerID)
		require.NotNil(t, sub.CurrentPeriodEnd)
		assert.Equal(t, end, *sub.CurrentPeriodEnd)
	})

	t.Run("user plan override demotes user only", func(t *testing.T) {
		store := billing.NewMemStore()
		userID := uuid.New()
		store.PutUser(billing.User{ID: userID})

		plan := billing.PlanPro
		_, err := store.ApplySubscriptionChange(ctx, billing.SubscriptionChange{
			ExternalID: "sub_1",
			UserID:     userID,
			Status:     billing.StatusActive,
			PlanType:   &plan,
		})
		require.NoError(t, err)

		free := billing.PlanFree
		_, err = store.ApplySubscriptionChange(ctx, billing.SubscriptionChange{
			ExternalID:            "sub_1",
			UserID:                userID,
			Status:                billing.StatusCanceled,
			UserPlanType:          &free,
			ClearUserSubscription: true,
		})
		require.NoError(t, err)

		sub, err := store.GetSubscriptionByExternalID(ctx, "sub_1")
		require.NoError(t, err)
		assert.Equal(t, billing.PlanPro, sub.PlanType)

		user, err := store.GetUser(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, billing.PlanFree, user.PlanType)
		assert.Empty(t, user.SubscriptionID)
	})

	t.Run("unknown user fails", func(t *testing.T) {
		store := billing.NewMemStore()
		_, err := store.ApplySubscriptionChange(ctx, billing.SubscriptionChange{
			ExternalID: "sub_1",
			UserID:     uuid.New(),
			Status:     billing.StatusActive,
		})
		assert.ErrorIs(t, err, billing.ErrUserNotFound)
	})
}

func TestMemStore_GetCurrentSubscription(t *testing.T) {
	ctx := context.Background()
	store := billing.NewMemStore()
	userID := uuid.New()
	store.PutUser(billing.User{ID: userID})

	t.Run("no rows", func(t *testing.T) {
		_, err := store.GetCurrentSubscription(ctx, userID)
		assert.ErrorIs(t, err, billing.ErrSubscriptionNotFound)
	})

	t.Run("only entitled rows count", func(t *testing.T) {
		_, err := store.ApplySubscriptionChange(ctx, billing.SubscriptionChange{
			ExternalID: "sub_old",
			UserID:     userID,
			Status:     billing.StatusCanceled,
		})
		require.NoError(t, err)

		_, err = store.GetCurrentSubscription(ctx, userID)
		assert.ErrorIs(t, err, billing.ErrSubscriptionNotFound)

		_, err = store.ApplySubscriptionChange(ctx, billing.SubscriptionChange{
			ExternalID: "sub_new",
			UserID:     userID,
			Status:     billing.StatusTrialing,
		})
		require.NoError(t, err)

		sub, err := store.GetCurrentSubscription(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, "sub_new", sub.ExternalID)
	})
}
