package organizations

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgerkeep/ledgerkeep/internal/authz"
	"github.com/ledgerkeep/ledgerkeep/internal/platform/db"
	"github.com/ledgerkeep/ledgerkeep/internal/shared"
)

// Repository implements Store backed by PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds Repository instance.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Create(ctx context.Context, org Organization, owner Member) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO organizations (id, name, created_at, created_by, updated_at)
			VALUES ($1, $2, $3, $4, $5)
		`, org.ID, org.Name, org.CreatedAt, org.CreatedBy, org.UpdatedAt); err != nil {
			return fmt.Errorf("insert organization: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO organization_members (organization_id, user_id, role, created_at)
			VALUES ($1, $2, $3, $4)
		`, owner.OrganizationID, owner.UserID, string(owner.Role), owner.CreatedAt); err != nil {
			return fmt.Errorf("insert organization owner: %w", err)
		}
		return nil
	})
}

func (r *Repository) Get(ctx context.Context, orgID uuid.UUID) (Organization, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, created_at, created_by, updated_at
		FROM organizations
		WHERE id = $1
	`, orgID)

	var org Organization
	if err := row.Scan(&org.ID, &org.Name, &org.CreatedAt, &org.CreatedBy, &org.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Organization{}, shared.ErrNotFound
		}
		return Organization{}, fmt.Errorf("get organization: %w", err)
	}
	return org, nil
}

// ListForUser joins the caller's memberships with each organization's active
// subscription so the effective plan comes back in one query.
func (r *Repository) ListForUser(ctx context.Context, userID uuid.UUID) ([]Overview, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT o.id, o.name, o.created_at, o.created_by, o.updated_at,
		       m.role,
		       COALESCE(s.plan_key, 'free')
		FROM organization_members m
		JOIN organizations o ON o.id = m.organization_id
		LEFT JOIN subscriptions s
		       ON s.organization_id = o.id AND s.status = 'active'
		WHERE m.user_id = $1
		ORDER BY o.created_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	defer rows.Close()

	var overviews []Overview
	for rows.Next() {
		var (
			ov   Overview
			role string
			plan string
		)
		if err := rows.Scan(&ov.Organization.ID, &ov.Organization.Name, &ov.Organization.CreatedAt,
			&ov.Organization.CreatedBy, &ov.Organization.UpdatedAt, &role, &plan); err != nil {
			return nil, fmt.Errorf("scan organization: %w", err)
		}
		ov.Role = authz.OrgRole(role)
		ov.Plan = authz.PlanKey(plan)
		overviews = append(overviews, ov)
	}
	return overviews, rows.Err()
}

func (r *Repository) MemberRole(ctx context.Context, orgID, userID uuid.UUID) (authz.OrgRole, bool, error) {
	return memberRole(ctx, r.pool, orgID, userID)
}

func (r *Repository) Members(ctx context.Context, orgID uuid.UUID) ([]Member, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT m.organization_id, m.user_id, m.role, u.email, u.display_name, m.created_at
		FROM organization_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.organization_id = $1
		ORDER BY m.created_at
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		var (
			m    Member
			role string
		)
		if err := rows.Scan(&m.OrganizationID, &m.UserID, &role, &m.Email, &m.DisplayName, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		m.Role = authz.OrgRole(role)
		members = append(members, m)
	}
	return members, rows.Err()
}

// WithMembersTx runs fn inside a repeatable-read transaction so the owner
// count and the mutation see the same member rows.
func (r *Repository) WithMembersTx(ctx context.Context, fn func(context.Context, MemberTx) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &memberTx{tx: tx})
	})
}

type memberTx struct {
	tx pgx.Tx
}

func (m *memberTx) MemberRole(ctx context.Context, orgID, userID uuid.UUID) (authz.OrgRole, bool, error) {
	return memberRole(ctx, m.tx, orgID, userID)
}

func (m *memberTx) CountOwners(ctx context.Context, orgID uuid.UUID) (int, error) {
	var count int
	err := m.tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM organization_members
		WHERE organization_id = $1 AND role = 'owner'
	`, orgID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count owners: %w", err)
	}
	return count, nil
}

func (m *memberTx) UpdateMemberRole(ctx context.Context, orgID, userID uuid.UUID, role authz.OrgRole) (bool, error) {
	tag, err := m.tx.Exec(ctx, `
		UPDATE organization_members SET role = $3
		WHERE organization_id = $1 AND user_id = $2
	`, orgID, userID, string(role))
	if err != nil {
		return false, fmt.Errorf("update member role: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (m *memberTx) RemoveMember(ctx context.Context, orgID, userID uuid.UUID) (bool, error) {
	tag, err := m.tx.Exec(ctx, `
		DELETE FROM organization_members
		WHERE organization_id = $1 AND user_id = $2
	`, orgID, userID)
	if err != nil {
		return false, fmt.Errorf("remove member: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func memberRole(ctx context.Context, q querier, orgID, userID uuid.UUID) (authz.OrgRole, bool, error) {
	var role string
	err := q.QueryRow(ctx, `
		SELECT role FROM organization_members
		WHERE organization_id = $1 AND user_id = $2
	`, orgID, userID).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("member role: %w", err)
	}
	return authz.OrgRole(role), true, nil
}
