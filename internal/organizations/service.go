package organizations

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ledgerkeep/ledgerkeep/internal/authz"
	"github.com/ledgerkeep/ledgerkeep/internal/billing"
	"github.com/ledgerkeep/ledgerkeep/internal/shared"
)

// Store defines organization persistence.
type Store interface {
	Create(ctx context.Context, org Organization, owner Member) error
	Get(ctx context.Context, orgID uuid.UUID) (Organization, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]Overview, error)
	MemberRole(ctx context.Context, orgID, userID uuid.UUID) (authz.OrgRole, bool, error)
	Members(ctx context.Context, orgID uuid.UUID) ([]Member, error)
	WithMembersTx(ctx context.Context, fn func(context.Context, MemberTx) error) error
}

// MemberTx groups the member mutations that must share a transaction with
// the owner count, so the last-owner check reads a consistent snapshot.
type MemberTx interface {
	MemberRole(ctx context.Context, orgID, userID uuid.UUID) (authz.OrgRole, bool, error)
	CountOwners(ctx context.Context, orgID uuid.UUID) (int, error)
	UpdateMemberRole(ctx context.Context, orgID, userID uuid.UUID, role authz.OrgRole) (bool, error)
	RemoveMember(ctx context.Context, orgID, userID uuid.UUID) (bool, error)
}

// SubscriptionSource reads the organization's subscription state.
type SubscriptionSource interface {
	FindByOrganization(ctx context.Context, orgID uuid.UUID) (billing.Subscription, bool, error)
}

// PaymentClient creates hosted billing sessions at the provider.
type PaymentClient interface {
	CreateCheckoutSession(ctx context.Context, params billing.CheckoutSessionParams) (billing.HostedSession, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (billing.HostedSession, error)
}

// CheckoutConfig holds the provider price identifiers and return location.
type CheckoutConfig struct {
	MonthlyPriceID string
	YearlyPriceID  string
	AppBaseURL     string
}

// Service handles organization business logic.
type Service struct {
	store    Store
	subs     SubscriptionSource
	payments PaymentClient
	checkout CheckoutConfig
}

// NewService builds Service instance. payments may be nil when billing is
// not configured; checkout and portal then fail with validation errors.
func NewService(store Store, subs SubscriptionSource, payments PaymentClient, checkout CheckoutConfig) *Service {
	return &Service{store: store, subs: subs, payments: payments, checkout: checkout}
}

// Create inserts an organization with the actor as its first owner.
func (s *Service) Create(ctx context.Context, actor shared.CurrentUser, name string) (Organization, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Organization{}, fmt.Errorf("organization name required: %w", shared.ErrValidation)
	}

	now := time.Now().UTC()
	org := Organization{
		ID:        uuid.New(),
		Name:      name,
		CreatedAt: now,
		CreatedBy: actor.ID,
		UpdatedAt: now,
	}
	owner := Member{
		OrganizationID: org.ID,
		UserID:         actor.ID,
		Role:           authz.OrgRoleOwner,
		CreatedAt:      now,
	}
	if err := s.store.Create(ctx, org, owner); err != nil {
		return Organization{}, err
	}
	return org, nil
}

// EnsureForUser returns an organization the user belongs to, creating a
// personal one when they have none. Used when a user creates their first
// business without an explicit organization.
func (s *Service) EnsureForUser(ctx context.Context, actor shared.CurrentUser) (Organization, error) {
	overviews, err := s.store.ListForUser(ctx, actor.ID)
	if err != nil {
		return Organization{}, err
	}
	if len(overviews) > 0 {
		return overviews[0].Organization, nil
	}

	name := strings.TrimSpace(actor.DisplayName)
	if name == "" {
		name = actor.Email
	}
	return s.Create(ctx, actor, name+"'s Organization")
}

// MemberRole reports the user's role in the organization, if any.
func (s *Service) MemberRole(ctx context.Context, orgID, userID uuid.UUID) (authz.OrgRole, bool, error) {
	return s.store.MemberRole(ctx, orgID, userID)
}

// ListForUser returns every organization the user is a member of, with the
// user's role and the organization's effective plan.
func (s *Service) ListForUser(ctx context.Context, userID uuid.UUID) ([]Overview, error) {
	return s.store.ListForUser(ctx, userID)
}

// Get returns an organization to one of its members.
func (s *Service) Get(ctx context.Context, actor shared.CurrentUser, orgID uuid.UUID) (Overview, error) {
	role, found, err := s.store.MemberRole(ctx, orgID, actor.ID)
	if err != nil {
		return Overview{}, err
	}
	if !found {
		return Overview{}, shared.ErrNotFound
	}

	var (
		org  Organization
		plan = authz.PlanFree
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		org, err = s.store.Get(gctx, orgID)
		return err
	})
	g.Go(func() error {
		sub, ok, err := s.subs.FindByOrganization(gctx, orgID)
		if err != nil {
			return err
		}
		if ok && sub.Status == authz.StatusActive {
			plan = sub.Plan
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return Overview{}, err
	}
	return Overview{Organization: org, Role: role, Plan: plan}, nil
}

// Members lists the organization's members to one of its members.
func (s *Service) Members(ctx context.Context, actor shared.CurrentUser, orgID uuid.UUID) ([]Member, error) {
	_, found, err := s.store.MemberRole(ctx, orgID, actor.ID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, shared.ErrNotFound
	}
	return s.store.Members(ctx, orgID)
}

// UpdateMemberRole changes a member's organization role. Only owners may do
// this, and the last owner can never be demoted.
func (s *Service) UpdateMemberRole(ctx context.Context, actor shared.CurrentUser, orgID, targetUserID uuid.UUID, role authz.OrgRole) error {
	if !role.Valid() {
		return fmt.Errorf("unknown organization role: %w", shared.ErrValidation)
	}
	if err := s.requireOwner(ctx, orgID, actor.ID); err != nil {
		return err
	}

	return s.store.WithMembersTx(ctx, func(ctx context.Context, tx MemberTx) error {
		current, found, err := tx.MemberRole(ctx, orgID, targetUserID)
		if err != nil {
			return err
		}
		if !found {
			return shared.ErrNotFound
		}
		if current == authz.OrgRoleOwner && role != authz.OrgRoleOwner {
			owners, err := tx.CountOwners(ctx, orgID)
			if err != nil {
				return err
			}
			if owners <= 1 {
				return shared.ErrLastOwner
			}
		}
		updated, err := tx.UpdateMemberRole(ctx, orgID, targetUserID, role)
		if err != nil {
			return err
		}
		if !updated {
			return shared.ErrNotFound
		}
		return nil
	})
}

// RemoveMember removes a member from the organization under the same
// last-owner rule.
func (s *Service) RemoveMember(ctx context.Context, actor shared.CurrentUser, orgID, targetUserID uuid.UUID) error {
	if err := s.requireOwner(ctx, orgID, actor.ID); err != nil {
		return err
	}

	return s.store.WithMembersTx(ctx, func(ctx context.Context, tx MemberTx) error {
		current, found, err := tx.MemberRole(ctx, orgID, targetUserID)
		if err != nil {
			return err
		}
		if !found {
			return shared.ErrNotFound
		}
		if current == authz.OrgRoleOwner {
			owners, err := tx.CountOwners(ctx, orgID)
			if err != nil {
				return err
			}
			if owners <= 1 {
				return shared.ErrLastOwner
			}
		}
		removed, err := tx.RemoveMember(ctx, orgID, targetUserID)
		if err != nil {
			return err
		}
		if !removed {
			return shared.ErrNotFound
		}
		return nil
	})
}

// Checkout starts a hosted checkout session upgrading the organization to
// pro. Only organization owners manage subscriptions.
func (s *Service) Checkout(ctx context.Context, actor shared.CurrentUser, orgID uuid.UUID, interval string) (string, error) {
	if err := s.requireOwner(ctx, orgID, actor.ID); err != nil {
		return "", err
	}
	if s.payments == nil {
		return "", fmt.Errorf("billing not configured: %w", shared.ErrValidation)
	}

	if sub, ok, err := s.subs.FindByOrganization(ctx, orgID); err != nil {
		return "", err
	} else if ok && sub.Status == authz.StatusActive && sub.Plan == authz.PlanPro {
		return "", fmt.Errorf("organization already has an active pro subscription: %w", shared.ErrDuplicate)
	}

	priceID := s.checkout.MonthlyPriceID
	if interval == "year" {
		priceID = s.checkout.YearlyPriceID
	}

	session, err := s.payments.CreateCheckoutSession(ctx, billing.CheckoutSessionParams{
		PriceID:           priceID,
		CustomerEmail:     actor.Email,
		ClientReferenceID: orgID.String(),
		SuccessURL:        fmt.Sprintf("%s/organizations/%s?checkout=success", s.checkout.AppBaseURL, orgID),
		CancelURL:         fmt.Sprintf("%s/organizations/%s", s.checkout.AppBaseURL, orgID),
		Metadata:          map[string]string{"organizationId": orgID.String(), "userId": actor.ID.String()},
		IdempotencyKey:    fmt.Sprintf("checkout_%s_%s", orgID, interval),
	})
	if err != nil {
		return "", err
	}
	return session.URL, nil
}

// Portal starts a billing portal session for an organization with an active
// subscription.
func (s *Service) Portal(ctx context.Context, actor shared.CurrentUser, orgID uuid.UUID) (string, error) {
	if err := s.requireOwner(ctx, orgID, actor.ID); err != nil {
		return "", err
	}
	if s.payments == nil {
		return "", fmt.Errorf("billing not configured: %w", shared.ErrValidation)
	}

	sub, ok, err := s.subs.FindByOrganization(ctx, orgID)
	if err != nil {
		return "", err
	}
	if !ok || sub.Status != authz.StatusActive || sub.StripeCustomerID == "" {
		return "", fmt.Errorf("no active subscription: %w", shared.ErrValidation)
	}

	session, err := s.payments.CreatePortalSession(ctx, sub.StripeCustomerID,
		fmt.Sprintf("%s/organizations/%s", s.checkout.AppBaseURL, orgID))
	if err != nil {
		return "", err
	}
	return session.URL, nil
}

func (s *Service) requireOwner(ctx context.Context, orgID, userID uuid.UUID) error {
	role, found, err := s.store.MemberRole(ctx, orgID, userID)
	if err != nil {
		return err
	}
	if !found || role != authz.OrgRoleOwner {
		return fmt.Errorf("organization owner required: %w", shared.ErrForbidden)
	}
	return nil
}
