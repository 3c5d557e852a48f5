package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/platinummonkey/entitle/pkg/entitlement"
	"github.com/platinummonkey/entitle/pkg/storage"
)

// SubscriptionStore persists the local copy of provider subscriptions,
// one row per reference id.
type SubscriptionStore interface {
	GetSubscription(ctx context.Context, referenceID string) (*Subscription, error)
	UpsertSubscription(ctx context.Context, sub *Subscription) error
	ListSubscriptions(ctx context.Context) ([]*Subscription, error)
	DeleteSubscription(ctx context.Context, referenceID string) error
}

// SQLSubscriptionStore keeps subscriptions next to the directory tables
type SQLSubscriptionStore struct {
	db storage.Querier
}

// NewSQLSubscriptionStore creates a subscription store
func NewSQLSubscriptionStore(db storage.Querier) *SQLSubscriptionStore {
	return &SQLSubscriptionStore{db: db}
}

const subscriptionColumns = `id, reference_id, plan, status, seats, provider_customer_id,
	provider_subscription_id, cancel_at_period_end, period_end, updated_at`

func scanSubscription(row interface{ Scan(dest ...any) error }) (*Subscription, error) {
	sub := &Subscription{}
	var periodEnd sql.NullTime
	err := row.Scan(&sub.ID, &sub.ReferenceID, &sub.Plan, &sub.Status, &sub.Seats, &sub.ProviderCustomerID,
		&sub.ProviderSubscriptionID, &sub.CancelAtPeriodEnd, &periodEnd, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if periodEnd.Valid {
		end := periodEnd.Time.UTC()
		sub.PeriodEnd = &end
	}
	sub.UpdatedAt = sub.UpdatedAt.UTC()
	return sub, nil
}

// GetSubscription retrieves the subscription of a user or organization
func (s *SQLSubscriptionStore) GetSubscription(ctx context.Context, referenceID string) (*Subscription, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE reference_id = $1`, referenceID)
	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entitlement.NotFound("subscription not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

// UpsertSubscription inserts or replaces the row for sub.ReferenceID.
// The row id is kept on conflict.
func (s *SQLSubscriptionStore) UpsertSubscription(ctx context.Context, sub *Subscription) error {
	if sub.ID == "" {
		sub.ID = "sub_" + uuid.NewString()
	}
	var periodEnd sql.NullTime
	if sub.PeriodEnd != nil {
		periodEnd = sql.NullTime{Time: *sub.PeriodEnd, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (reference_id) DO UPDATE SET
			plan = excluded.plan,
			status = excluded.status,
			seats = excluded.seats,
			provider_customer_id = excluded.provider_customer_id,
			provider_subscription_id = excluded.provider_subscription_id,
			cancel_at_period_end = excluded.cancel_at_period_end,
			period_end = excluded.period_end,
			updated_at = excluded.updated_at`,
		sub.ID, sub.ReferenceID, sub.Plan, sub.Status, sub.Seats, sub.ProviderCustomerID,
		sub.ProviderSubscriptionID, sub.CancelAtPeriodEnd, periodEnd, sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return nil
}

// ListSubscriptions returns every subscription known to the provider
func (s *SQLSubscriptionStore) ListSubscriptions(ctx context.Context) ([]*Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE provider_subscription_id <> '' ORDER BY reference_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// DeleteSubscription drops the row for referenceID. Missing rows are not an error.
func (s *SQLSubscriptionStore) DeleteSubscription(ctx context.Context, referenceID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE reference_id = $1`, referenceID); err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	return nil
}
