package authz

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed role and subscription reads.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// RoleFor returns the user's role for a business, PolicyNone when no row
// exists. Soft-deleted businesses are intentionally not filtered here.
func (r *Repository) RoleFor(ctx context.Context, userID, businessID uuid.UUID) (PolicyKey, error) {
	var key PolicyKey
	err := r.pool.QueryRow(ctx,
		`SELECT policy_key FROM user_business_roles WHERE user_id = $1 AND business_id = $2`,
		userID, businessID,
	).Scan(&key)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PolicyNone, nil
		}
		return PolicyNone, fmt.Errorf("authz: role lookup: %w", err)
	}
	if !key.Valid() {
		return PolicyNone, nil
	}
	return key, nil
}

// BusinessOrganization implements SubscriptionSource.
func (r *Repository) BusinessOrganization(ctx context.Context, businessID uuid.UUID) (*uuid.UUID, bool, error) {
	var orgID *uuid.UUID
	err := r.pool.QueryRow(ctx,
		`SELECT organization_id FROM businesses WHERE id = $1`,
		businessID,
	).Scan(&orgID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("authz: business lookup: %w", err)
	}
	return orgID, true, nil
}

// SubscriptionsFor implements SubscriptionSource.
func (r *Repository) SubscriptionsFor(ctx context.Context, orgID uuid.UUID) ([]SubscriptionRow, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT plan_key, status FROM subscriptions WHERE organization_id = $1`,
		orgID,
	)
	if err != nil {
		return nil, fmt.Errorf("authz: subscription lookup: %w", err)
	}
	defer rows.Close()

	var subs []SubscriptionRow
	for rows.Next() {
		var sub SubscriptionRow
		if err := rows.Scan(&sub.Plan, &sub.Status); err != nil {
			return nil, fmt.Errorf("authz: subscription scan: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("authz: subscription rows: %w", err)
	}
	return subs, nil
}
