package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed subscription persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const subscriptionColumns = `id, organization_id, plan_key, status, stripe_customer_id, stripe_subscription_id, cancel_at_period_end, current_period_start, current_period_end, created_at, updated_at`

// FindByStripeID looks up a subscription by external subscription id.
func (r *Repository) FindByStripeID(ctx context.Context, stripeSubscriptionID string) (Subscription, bool, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE stripe_subscription_id = $1`,
		stripeSubscriptionID,
	)
	return scanSubscription(row)
}

// FindByOrganization looks up an organization's subscription row.
func (r *Repository) FindByOrganization(ctx context.Context, orgID uuid.UUID) (Subscription, bool, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE organization_id = $1`,
		orgID,
	)
	return scanSubscription(row)
}

// Insert stores a new subscription row.
func (r *Repository) Insert(ctx context.Context, sub Subscription) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO subscriptions (`+subscriptionColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		sub.ID, sub.OrganizationID, sub.Plan, sub.Status, sub.StripeCustomerID, sub.StripeSubscriptionID,
		sub.CancelAtPeriodEnd, sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("billing: insert subscription: %w", err)
	}
	return nil
}

// Update rewrites an existing subscription row by id.
func (r *Repository) Update(ctx context.Context, sub Subscription) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE subscriptions SET plan_key = $2, status = $3, stripe_customer_id = $4, stripe_subscription_id = $5, cancel_at_period_end = $6, current_period_start = $7, current_period_end = $8, updated_at = $9 WHERE id = $1`,
		sub.ID, sub.Plan, sub.Status, sub.StripeCustomerID, sub.StripeSubscriptionID,
		sub.CancelAtPeriodEnd, sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("billing: update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("billing: update subscription: no row for %s", sub.ID)
	}
	return nil
}

func scanSubscription(row pgx.Row) (Subscription, bool, error) {
	var sub Subscription
	err := row.Scan(
		&sub.ID, &sub.OrganizationID, &sub.Plan, &sub.Status, &sub.StripeCustomerID,
		&sub.StripeSubscriptionID, &sub.CancelAtPeriodEnd, &sub.CurrentPeriodStart,
		&sub.CurrentPeriodEnd, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Subscription{}, false, nil
		}
		return Subscription{}, false, fmt.Errorf("billing: scan subscription: %w", err)
	}
	return sub, true, nil
}
