package businesses

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgerkeep/ledgerkeep/internal/authz"
	"github.com/ledgerkeep/ledgerkeep/internal/platform/db"
	"github.com/ledgerkeep/ledgerkeep/internal/shared"
)

const businessColumns = `id, organization_id, name, currency, created_by, created_at, updated_at, deleted_at, deleted_by`

// Repository implements Store backed by PostgreSQL. Every read excludes
// soft-deleted rows.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds Repository instance.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateWithOwner inserts the business and the creator's owner role row in
// one transaction so a business never exists without an owner.
func (r *Repository) CreateWithOwner(ctx context.Context, business Business, ownerID uuid.UUID) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO businesses (`+businessColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, NULL, NULL)
		`, business.ID, business.OrganizationID, business.Name, business.Currency,
			business.CreatedBy, business.CreatedAt, business.UpdatedAt); err != nil {
			return fmt.Errorf("insert business: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO user_business_roles (user_id, business_id, policy_key, created_at)
			VALUES ($1, $2, $3, $4)
		`, ownerID, business.ID, string(authz.PolicyOwner), business.CreatedAt); err != nil {
			return fmt.Errorf("insert owner role: %w", err)
		}
		return nil
	})
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Business, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+businessColumns+`
		FROM businesses
		WHERE id = $1 AND deleted_at IS NULL
	`, id)
	return scanBusiness(row)
}

func (r *Repository) ListForUser(ctx context.Context, userID uuid.UUID) ([]Membership, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT b.id, b.organization_id, b.name, b.currency, b.created_by,
		       b.created_at, b.updated_at, b.deleted_at, b.deleted_by,
		       ubr.policy_key
		FROM user_business_roles ubr
		JOIN businesses b ON b.id = ubr.business_id
		WHERE ubr.user_id = $1 AND b.deleted_at IS NULL
		ORDER BY b.created_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list businesses: %w", err)
	}
	defer rows.Close()

	var memberships []Membership
	for rows.Next() {
		var (
			b    Business
			role string
		)
		if err := rows.Scan(&b.ID, &b.OrganizationID, &b.Name, &b.Currency, &b.CreatedBy,
			&b.CreatedAt, &b.UpdatedAt, &b.DeletedAt, &b.DeletedBy, &role); err != nil {
			return nil, fmt.Errorf("scan business: %w", err)
		}
		memberships = append(memberships, Membership{Business: b, Role: authz.PolicyKey(role)})
	}
	return memberships, rows.Err()
}

func (r *Repository) CountInOrganization(ctx context.Context, orgID uuid.UUID) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM businesses
		WHERE organization_id = $1 AND deleted_at IS NULL
	`, orgID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count businesses: %w", err)
	}
	return count, nil
}

func (r *Repository) Update(ctx context.Context, business Business) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE businesses
		SET name = $2, currency = $3, updated_at = $4
		WHERE id = $1 AND deleted_at IS NULL
	`, business.ID, business.Name, business.Currency, business.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update business: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *Repository) SoftDelete(ctx context.Context, id, deletedBy uuid.UUID, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE businesses
		SET deleted_at = $2, deleted_by = $3, updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL
	`, id, at, deletedBy)
	if err != nil {
		return fmt.Errorf("soft delete business: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func scanBusiness(row pgx.Row) (Business, error) {
	var b Business
	err := row.Scan(&b.ID, &b.OrganizationID, &b.Name, &b.Currency, &b.CreatedBy,
		&b.CreatedAt, &b.UpdatedAt, &b.DeletedAt, &b.DeletedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Business{}, shared.ErrNotFound
		}
		return Business{}, fmt.Errorf("get business: %w", err)
	}
	return b, nil
}
