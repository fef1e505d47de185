package invitations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgerkeep/ledgerkeep/internal/authz"
	"github.com/ledgerkeep/ledgerkeep/internal/platform/db"
	"github.com/ledgerkeep/ledgerkeep/internal/shared"
)

const invitationColumns = `i.id, i.business_id, b.name, i.email, i.role, i.invited_by, i.status, i.expires_at, i.created_at, i.updated_at`

// Repository implements Store backed by PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds Repository instance.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) CreateInvitation(ctx context.Context, inv Invitation) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO invitations (id, business_id, email, role, invited_by, status, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, inv.ID, inv.BusinessID, inv.Email, string(inv.Role), inv.InvitedBy,
		string(inv.Status), inv.ExpiresAt, inv.CreatedAt, inv.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return shared.ErrDuplicate
		}
		return fmt.Errorf("insert invitation: %w", err)
	}
	return nil
}

func (r *Repository) GetInvitation(ctx context.Context, id uuid.UUID) (Invitation, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+invitationColumns+`
		FROM invitations i
		JOIN businesses b ON b.id = i.business_id
		WHERE i.id = $1
	`, id)
	return scanInvitation(row)
}

func (r *Repository) HasPendingInvitation(ctx context.Context, businessID uuid.UUID, email string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM invitations
			WHERE business_id = $1 AND email = $2 AND status = 'pending'
		)
	`, businessID, email).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check pending invitation: %w", err)
	}
	return exists, nil
}

func (r *Repository) ListByBusiness(ctx context.Context, businessID uuid.UUID) ([]Invitation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+invitationColumns+`
		FROM invitations i
		JOIN businesses b ON b.id = i.business_id
		WHERE i.business_id = $1
		ORDER BY i.created_at DESC
	`, businessID)
	if err != nil {
		return nil, fmt.Errorf("list invitations: %w", err)
	}
	return collectInvitations(rows)
}

func (r *Repository) ListPendingByEmail(ctx context.Context, email string) ([]Invitation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+invitationColumns+`
		FROM invitations i
		JOIN businesses b ON b.id = i.business_id
		WHERE i.email = $1 AND i.status = 'pending'
		ORDER BY i.created_at DESC
	`, email)
	if err != nil {
		return nil, fmt.Errorf("list invitations by email: %w", err)
	}
	return collectInvitations(rows)
}

func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, status Status, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE invitations SET status = $2, updated_at = $3
		WHERE id = $1
	`, id, string(status), at)
	if err != nil {
		return fmt.Errorf("update invitation status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// ExpireStale marks overdue pending invitations expired. Run from the
// worker's cron schedule; the read paths already hide overdue rows, this
// keeps the stored status honest.
func (r *Repository) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE invitations SET status = 'expired', updated_at = $1
		WHERE status = 'pending' AND expires_at < $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("expire invitations: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *Repository) AddRole(ctx context.Context, userID, businessID uuid.UUID, role authz.PolicyKey) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO user_business_roles (user_id, business_id, policy_key, created_at)
		VALUES ($1, $2, $3, NOW())
	`, userID, businessID, string(role))
	if err != nil {
		if isUniqueViolation(err) {
			return shared.ErrDuplicate
		}
		return fmt.Errorf("insert role: %w", err)
	}
	return nil
}

func (r *Repository) Members(ctx context.Context, businessID uuid.UUID) ([]BusinessMember, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT ubr.business_id, ubr.user_id, u.email, u.display_name, ubr.policy_key, ubr.created_at
		FROM user_business_roles ubr
		JOIN users u ON u.id = ubr.user_id
		WHERE ubr.business_id = $1
		ORDER BY ubr.created_at
	`, businessID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var members []BusinessMember
	for rows.Next() {
		var (
			m    BusinessMember
			role string
		)
		if err := rows.Scan(&m.BusinessID, &m.UserID, &m.Email, &m.DisplayName, &role, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		m.Role = authz.PolicyKey(role)
		members = append(members, m)
	}
	return members, rows.Err()
}

// WithRolesTx runs fn inside a repeatable-read transaction so the owner
// count and the mutation see the same role rows.
func (r *Repository) WithRolesTx(ctx context.Context, fn func(context.Context, RoleTx) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &roleTx{tx: tx})
	})
}

type roleTx struct {
	tx pgx.Tx
}

func (t *roleTx) RoleFor(ctx context.Context, userID, businessID uuid.UUID) (authz.PolicyKey, error) {
	var key string
	err := t.tx.QueryRow(ctx, `
		SELECT policy_key FROM user_business_roles
		WHERE user_id = $1 AND business_id = $2
	`, userID, businessID).Scan(&key)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return authz.PolicyNone, nil
		}
		return authz.PolicyNone, fmt.Errorf("role for: %w", err)
	}
	role := authz.PolicyKey(key)
	if !role.Valid() {
		return authz.PolicyNone, nil
	}
	return role, nil
}

func (t *roleTx) CountOwners(ctx context.Context, businessID uuid.UUID) (int, error) {
	var count int
	err := t.tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM user_business_roles
		WHERE business_id = $1 AND policy_key = 'owner'
	`, businessID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count owners: %w", err)
	}
	return count, nil
}

func (t *roleTx) UpdateRole(ctx context.Context, userID, businessID uuid.UUID, role authz.PolicyKey) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE user_business_roles SET policy_key = $3
		WHERE user_id = $1 AND business_id = $2
	`, userID, businessID, string(role))
	if err != nil {
		return false, fmt.Errorf("update role: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (t *roleTx) RemoveRole(ctx context.Context, userID, businessID uuid.UUID) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		DELETE FROM user_business_roles
		WHERE user_id = $1 AND business_id = $2
	`, userID, businessID)
	if err != nil {
		return false, fmt.Errorf("remove role: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func scanInvitation(row pgx.Row) (Invitation, error) {
	var (
		inv    Invitation
		role   string
		status string
	)
	err := row.Scan(&inv.ID, &inv.BusinessID, &inv.BusinessName, &inv.Email, &role,
		&inv.InvitedBy, &status, &inv.ExpiresAt, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invitation{}, shared.ErrNotFound
		}
		return Invitation{}, fmt.Errorf("get invitation: %w", err)
	}
	inv.Role = authz.PolicyKey(role)
	inv.Status = Status(status)
	return inv, nil
}

func collectInvitations(rows pgx.Rows) ([]Invitation, error) {
	defer rows.Close()

	var invitations []Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		invitations = append(invitations, inv)
	}
	return invitations, rows.Err()
}
