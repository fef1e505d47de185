// Package invitations manages business membership: inviting users by
// email, accepting or declining, and the member role lifecycle.
package invitations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerkeep/ledgerkeep/internal/authz"
	"github.com/ledgerkeep/ledgerkeep/internal/shared"
	"github.com/ledgerkeep/ledgerkeep/internal/users"
)

// Store defines invitation and membership persistence.
type Store interface {
	CreateInvitation(ctx context.Context, inv Invitation) error
	GetInvitation(ctx context.Context, id uuid.UUID) (Invitation, error)
	HasPendingInvitation(ctx context.Context, businessID uuid.UUID, email string) (bool, error)
	ListByBusiness(ctx context.Context, businessID uuid.UUID) ([]Invitation, error)
	ListPendingByEmail(ctx context.Context, email string) ([]Invitation, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status, at time.Time) error
	AddRole(ctx context.Context, userID, businessID uuid.UUID, role authz.PolicyKey) error
	Members(ctx context.Context, businessID uuid.UUID) ([]BusinessMember, error)
	WithRolesTx(ctx context.Context, fn func(context.Context, RoleTx) error) error
}

// RoleTx groups role mutations with the owner count inside one transaction
// so the last-owner check reads a consistent snapshot.
type RoleTx interface {
	RoleFor(ctx context.Context, userID, businessID uuid.UUID) (authz.PolicyKey, error)
	CountOwners(ctx context.Context, businessID uuid.UUID) (int, error)
	UpdateRole(ctx context.Context, userID, businessID uuid.UUID, role authz.PolicyKey) (bool, error)
	RemoveRole(ctx context.Context, userID, businessID uuid.UUID) (bool, error)
}

// UserDirectory looks up accounts by email for direct membership adds.
type UserDirectory interface {
	FindByEmail(ctx context.Context, email string) (users.User, error)
}

// Mailer delivers the invitation email, usually through the job queue.
type Mailer interface {
	SendInvitation(ctx context.Context, inv Invitation) error
}

// Auditor records membership changes into the audit trail.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service handles invitation and membership rules.
type Service struct {
	store  Store
	users  UserDirectory
	gate   *authz.Gate
	mailer Mailer
	audit  Auditor
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds Service instance. mailer and audit may be nil;
// invitations are then created without an outgoing email or audit trail.
func NewService(store Store, users UserDirectory, gate *authz.Gate, mailer Mailer, audit Auditor, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, users: users, gate: gate, mailer: mailer, audit: audit, logger: logger, now: time.Now}
}

func (s *Service) recordAudit(ctx context.Context, log shared.AuditLog) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.Error("audit record", slog.String("action", log.Action), slog.Any("error", err))
	}
}

// Invite grants membership to an email address. Existing accounts are added
// directly; unknown addresses get a pending invitation with a 7 day expiry.
// The user:invite permission is enforced by the route middleware.
func (s *Service) Invite(ctx context.Context, actor shared.CurrentUser, businessID uuid.UUID, email string, role authz.PolicyKey) (Invitation, error) {
	if !role.Valid() {
		return Invitation{}, fmt.Errorf("unknown role: %w", shared.ErrValidation)
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return Invitation{}, fmt.Errorf("email required: %w", shared.ErrValidation)
	}

	pending, err := s.store.HasPendingInvitation(ctx, businessID, email)
	if err != nil {
		return Invitation{}, err
	}
	if pending {
		return Invitation{}, fmt.Errorf("invitation already pending: %w", shared.ErrDuplicate)
	}

	now := s.now().UTC()

	if existing, err := s.users.FindByEmail(ctx, email); err == nil {
		if err := s.store.AddRole(ctx, existing.ID, businessID, role); err != nil {
			return Invitation{}, err
		}
		return Invitation{
			BusinessID: businessID,
			Email:      email,
			Role:       role,
			InvitedBy:  actor.ID,
			Status:     StatusAccepted,
			CreatedAt:  now,
			UpdatedAt:  now,
		}, nil
	} else if !errors.Is(err, shared.ErrNotFound) {
		return Invitation{}, err
	}

	inv := Invitation{
		ID:         uuid.New(),
		BusinessID: businessID,
		Email:      email,
		Role:       role,
		InvitedBy:  actor.ID,
		Status:     StatusPending,
		ExpiresAt:  now.Add(DefaultTTL),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.CreateInvitation(ctx, inv); err != nil {
		return Invitation{}, err
	}

	if s.mailer != nil {
		if err := s.mailer.SendInvitation(ctx, inv); err != nil {
			// Delivery failures must not roll back the invitation.
			s.logger.Error("send invitation email",
				slog.String("invitation_id", inv.ID.String()),
				slog.Any("error", err))
		}
	}
	return inv, nil
}

// Accept turns a pending invitation into a role row. Only the invited email
// may accept, and only before expiry.
func (s *Service) Accept(ctx context.Context, actor shared.CurrentUser, invitationID uuid.UUID) error {
	inv, err := s.store.GetInvitation(ctx, invitationID)
	if err != nil {
		return err
	}
	if !strings.EqualFold(inv.Email, actor.Email) {
		return fmt.Errorf("invitation addressed to another account: %w", shared.ErrForbidden)
	}
	if inv.Status != StatusPending {
		return fmt.Errorf("invitation is %s: %w", inv.Status, shared.ErrValidation)
	}
	now := s.now().UTC()
	if inv.Expired(now) {
		return fmt.Errorf("invitation expired: %w", shared.ErrValidation)
	}

	if err := s.store.AddRole(ctx, actor.ID, inv.BusinessID, inv.Role); err != nil {
		return err
	}
	return s.store.UpdateStatus(ctx, inv.ID, StatusAccepted, now)
}

// Decline marks a pending invitation declined. Only the invited email may
// decline.
func (s *Service) Decline(ctx context.Context, actor shared.CurrentUser, invitationID uuid.UUID) error {
	inv, err := s.store.GetInvitation(ctx, invitationID)
	if err != nil {
		return err
	}
	if !strings.EqualFold(inv.Email, actor.Email) {
		return fmt.Errorf("invitation addressed to another account: %w", shared.ErrForbidden)
	}
	if inv.Status != StatusPending {
		return fmt.Errorf("invitation is %s: %w", inv.Status, shared.ErrValidation)
	}
	return s.store.UpdateStatus(ctx, inv.ID, StatusDeclined, s.now().UTC())
}

// Cancel withdraws a pending invitation from the business side. The
// user:invite permission is enforced by the route middleware.
func (s *Service) Cancel(ctx context.Context, actor shared.CurrentUser, businessID, invitationID uuid.UUID) error {
	inv, err := s.store.GetInvitation(ctx, invitationID)
	if err != nil {
		return err
	}
	if inv.BusinessID != businessID {
		return shared.ErrNotFound
	}
	if inv.Status != StatusPending {
		return fmt.Errorf("invitation is %s: %w", inv.Status, shared.ErrValidation)
	}
	return s.store.UpdateStatus(ctx, inv.ID, StatusCancelled, s.now().UTC())
}

// ListForBusiness returns the business's invitations. The route middleware
// limits access to members who may invite.
func (s *Service) ListForBusiness(ctx context.Context, actor shared.CurrentUser, businessID uuid.UUID) ([]Invitation, error) {
	return s.store.ListByBusiness(ctx, businessID)
}

// ListForUser returns the caller's pending, unexpired invitations.
func (s *Service) ListForUser(ctx context.Context, actor shared.CurrentUser) ([]Invitation, error) {
	pending, err := s.store.ListPendingByEmail(ctx, strings.ToLower(actor.Email))
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	out := pending[:0]
	for _, inv := range pending {
		if !inv.Expired(now) {
			out = append(out, inv)
		}
	}
	return out, nil
}

// Members lists the business's members. The route middleware limits access
// to members of the business.
func (s *Service) Members(ctx context.Context, actor shared.CurrentUser, businessID uuid.UUID) ([]BusinessMember, error) {
	return s.store.Members(ctx, businessID)
}

// UpdateMemberRole changes a member's business role. The route middleware
// restricts this to owners; the last owner can never be demoted.
func (s *Service) UpdateMemberRole(ctx context.Context, actor shared.CurrentUser, businessID, targetUserID uuid.UUID, role authz.PolicyKey) error {
	if !role.Valid() {
		return fmt.Errorf("unknown role: %w", shared.ErrValidation)
	}

	return s.store.WithRolesTx(ctx, func(ctx context.Context, tx RoleTx) error {
		current, err := tx.RoleFor(ctx, targetUserID, businessID)
		if err != nil {
			return err
		}
		if current == authz.PolicyNone {
			return shared.ErrNotFound
		}
		if current == authz.PolicyOwner && role != authz.PolicyOwner {
			owners, err := tx.CountOwners(ctx, businessID)
			if err != nil {
				return err
			}
			if owners <= 1 {
				return shared.ErrLastOwner
			}
		}
		updated, err := tx.UpdateRole(ctx, targetUserID, businessID, role)
		if err != nil {
			return err
		}
		if !updated {
			return shared.ErrNotFound
		}
		s.recordAudit(ctx, shared.AuditLog{
			ActorID:  actor.ID.String(),
			Action:   "member.role_update",
			Entity:   "business",
			EntityID: businessID.String(),
			Meta:     map[string]any{"user_id": targetUserID.String(), "from": string(current), "to": string(role)},
		})
		return nil
	})
}

// RemoveMember removes a member from the business under the same last-owner
// rule. Members may remove themselves unless they are the last owner.
func (s *Service) RemoveMember(ctx context.Context, actor shared.CurrentUser, businessID, targetUserID uuid.UUID) error {
	if actor.ID != targetUserID {
		if err := s.gate.RequireOwner(ctx, actor.ID, businessID); err != nil {
			return err
		}
	}

	return s.store.WithRolesTx(ctx, func(ctx context.Context, tx RoleTx) error {
		current, err := tx.RoleFor(ctx, targetUserID, businessID)
		if err != nil {
			return err
		}
		if current == authz.PolicyNone {
			return shared.ErrNotFound
		}
		if current == authz.PolicyOwner {
			owners, err := tx.CountOwners(ctx, businessID)
			if err != nil {
				return err
			}
			if owners <= 1 {
				return shared.ErrLastOwner
			}
		}
		removed, err := tx.RemoveRole(ctx, targetUserID, businessID)
		if err != nil {
			return err
		}
		if !removed {
			return shared.ErrNotFound
		}
		s.recordAudit(ctx, shared.AuditLog{
			ActorID:  actor.ID.String(),
			Action:   "member.remove",
			Entity:   "business",
			EntityID: businessID.String(),
			Meta:     map[string]any{"user_id": targetUserID.String(), "role": string(current)},
		})
		return nil
	})
}
