package billing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/entitlements/pkg/pg"
)

// PgStore implements Store on PostgreSQL via pgx.
//
// Expected schema:
//
//	users (
//	    id                  uuid primary key,
//	    email               text not null,
//	    plan_type           text not null default 'FREE',
//	    subscription_status text not null default 'NONE',
//	    subscription_id     text,
//	    current_period_end  timestamptz,
//	    billing_customer_id text
//	)
//
//	subscriptions (
//	    id                   uuid primary key default gen_random_uuid(),
//	    external_id          text not null unique,
//	    user_id              uuid not null references users(id),
//	    billing_customer_id  text not null default '',
//	    price_id             text not null default '',
//	    status               text not null,
//	    plan_type            text not null,
//	    current_period_start timestamptz,
//	    current_period_end   timestamptz,
//	    cancel_at_period_end boolean not null default false,
//	    canceled_at          timestamptz,
//	    created_at           timestamptz not null default now(),
//	    updated_at           timestamptz not null default now()
//	)
type PgStore struct {
	db *pgxpool.Pool
}

// NewPgStore creates a PostgreSQL-backed Store. Panics if db is nil to fail
// fast during initialization.
func NewPgStore(db *pgxpool.Pool) *PgStore {
	if db == nil {
		panic("billing: pgx pool is required")
	}
	return &PgStore{db: db}
}

const userColumns = `id, email, plan_type, subscription_status,
	COALESCE(subscription_id, ''), current_period_end, COALESCE(billing_customer_id, '')`

const subscriptionColumns = `id, external_id, user_id, billing_customer_id, price_id,
	status, plan_type, current_period_start, current_period_end,
	cancel_at_period_end, canceled_at, created_at, updated_at`

func (s *PgStore) GetUser(ctx context.Context, userID uuid.UUID) (*User, error) {
	row := s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID)
	user, err := scanUser(row)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrUserNotFound
		}
		return nil, errors.Join(ErrStoreError, err)
	}
	return user, nil
}

func (s *PgStore) SetBillingCustomerID(ctx context.Context, userID uuid.UUID, customerID string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE users SET billing_customer_id = $2 WHERE id = $1`,
		userID, customerID,
	)
	if err != nil {
		return errors.Join(ErrStoreError, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *PgStore) GetSubscriptionByExternalID(ctx context.Context, externalID string) (*Subscription, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE external_id = $1`,
		externalID,
	)
	sub, err := scanSubscription(row)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, errors.Join(ErrStoreError, err)
	}
	return sub, nil
}

func (s *PgStore) GetCurrentSubscription(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE user_id = $1 AND status IN ($2, $3)
		 ORDER BY updated_at DESC
		 LIMIT 1`,
		userID, StatusActive, StatusTrialing,
	)
	sub, err := scanSubscription(row)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, errors.Join(ErrStoreError, err)
	}
	return sub, nil
}

func (s *PgStore) ApplySubscriptionChange(ctx context.Context, change SubscriptionChange) (*Subscription, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, errors.Join(ErrStoreError, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	sub, err := upsertSubscriptionTx(ctx, tx, change)
	if err != nil {
		return nil, err
	}
	if err := updateUserTx(ctx, tx, change); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Join(ErrStoreError, err)
	}
	return sub, nil
}

// upsertSubscriptionTx creates or updates the subscription row keyed by the
// provider's subscription ID. COALESCE against the existing row keeps fields
// the event did not carry, so partial payloads never null out known state.
func upsertSubscriptionTx(ctx context.Context, tx pgx.Tx, change SubscriptionChange) (*Subscription, error) {
	now := time.Now().UTC()
	row := tx.QueryRow(ctx, `
		INSERT INTO subscriptions (
			external_id, user_id, billing_customer_id, price_id, status, plan_type,
			current_period_start, current_period_end, cancel_at_period_end,
			canceled_at, created_at, updated_at
		) VALUES (
			$1, $2, COALESCE($3, ''), COALESCE($4, ''), $5, COALESCE($6, 'FREE'),
			$7, $8, COALESCE($9, false), $10, $11, $11
		)
		ON CONFLICT (external_id) DO UPDATE SET
			billing_customer_id  = COALESCE(NULLIF($3, ''), subscriptions.billing_customer_id),
			price_id             = COALESCE($4, subscriptions.price_id),
			status               = $5,
			plan_type            = COALESCE($6, subscriptions.plan_type),
			current_period_start = COALESCE($7, subscriptions.current_period_start),
			current_period_end   = COALESCE($8, subscriptions.current_period_end),
			cancel_at_period_end = COALESCE($9, subscriptions.cancel_at_period_end),
			canceled_at          = COALESCE($10, subscriptions.canceled_at),
			updated_at           = $11
		RETURNING `+subscriptionColumns,
		change.ExternalID,
		change.UserID,
		nullIfEmpty(change.BillingCustomerID),
		change.PriceID,
		change.Status,
		change.PlanType,
		change.PeriodStart,
		change.PeriodEnd,
		change.CancelAtPeriodEnd,
		change.CanceledAt,
		now,
	)
	sub, err := scanSubscription(row)
	if err != nil {
		return nil, errors.Join(ErrStoreError, err)
	}
	return sub, nil
}

// updateUserTx mirrors the change onto the user row inside the same
// transaction. ClearUserSubscription drops the linkage columns outright;
// otherwise absent fields keep their current values.
func updateUserTx(ctx context.Context, tx pgx.Tx, change SubscriptionChange) error {
	tag, err := tx.Exec(ctx, `
		UPDATE users SET
			plan_type           = COALESCE($2, plan_type),
			subscription_status = $3,
			subscription_id     = CASE WHEN $6 THEN NULL ELSE $4 END,
			current_period_end  = CASE WHEN $6 THEN NULL ELSE COALESCE($5, current_period_end) END,
			billing_customer_id = COALESCE(NULLIF($7, ''), billing_customer_id)
		WHERE id = $1`,
		change.UserID,
		change.EffectiveUserPlan(),
		change.Status,
		change.ExternalID,
		change.PeriodEnd,
		change.ClearUserSubscription,
		change.BillingCustomerID,
	)
	if err != nil {
		return errors.Join(ErrStoreError, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	if err := row.Scan(
		&u.ID, &u.Email, &u.PlanType, &u.SubscriptionStatus,
		&u.SubscriptionID, &u.CurrentPeriodEnd, &u.BillingCustomerID,
	); err != nil {
		return nil, err
	}
	return &u, nil
}

func scanSubscription(row pgx.Row) (*Subscription, error) {
	var sub Subscription
	if err := row.Scan(
		&sub.ID, &sub.ExternalID, &sub.UserID, &sub.BillingCustomerID, &sub.PriceID,
		&sub.Status, &sub.PlanType, &sub.CurrentPeriodStart, &sub.CurrentPeriodEnd,
		&sub.CancelAtPeriodEnd, &sub.CanceledAt, &sub.CreatedAt, &sub.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &sub, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
