// Package businesses manages ledgers and their membership roles. Plan
// limits cap how many ledgers an organization may hold.
package businesses

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/currency"

	"github.com/ledgerkeep/ledgerkeep/internal/authz"
	"github.com/ledgerkeep/ledgerkeep/internal/billing"
	"github.com/ledgerkeep/ledgerkeep/internal/organizations"
	"github.com/ledgerkeep/ledgerkeep/internal/shared"
)

// Store defines business persistence.
type Store interface {
	CreateWithOwner(ctx context.Context, business Business, ownerID uuid.UUID) error
	Get(ctx context.Context, id uuid.UUID) (Business, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]Membership, error)
	CountInOrganization(ctx context.Context, orgID uuid.UUID) (int, error)
	Update(ctx context.Context, business Business) error
	SoftDelete(ctx context.Context, id, deletedBy uuid.UUID, at time.Time) error
}

// OrgDirectory resolves organization membership and provides the fallback
// personal organization for a user's first business.
type OrgDirectory interface {
	EnsureForUser(ctx context.Context, actor shared.CurrentUser) (organizations.Organization, error)
	MemberRole(ctx context.Context, orgID, userID uuid.UUID) (authz.OrgRole, bool, error)
}

// SubscriptionSource reads the organization's subscription state.
type SubscriptionSource interface {
	FindByOrganization(ctx context.Context, orgID uuid.UUID) (billing.Subscription, bool, error)
}

// Service handles business lifecycle rules.
type Service struct {
	store Store
	orgs  OrgDirectory
	subs  SubscriptionSource
	gate  *authz.Gate
}

// NewService builds Service instance.
func NewService(store Store, orgs OrgDirectory, subs SubscriptionSource, gate *authz.Gate) *Service {
	return &Service{store: store, orgs: orgs, subs: subs, gate: gate}
}

// Create adds a business under orgID, or under the caller's personal
// organization when orgID is nil. The creator becomes the business owner.
func (s *Service) Create(ctx context.Context, actor shared.CurrentUser, orgID *uuid.UUID, name, currencyCode string) (Business, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Business{}, fmt.Errorf("business name required: %w", shared.ErrValidation)
	}
	code, err := normalizeCurrency(currencyCode)
	if err != nil {
		return Business{}, err
	}

	var organizationID uuid.UUID
	if orgID == nil {
		org, err := s.orgs.EnsureForUser(ctx, actor)
		if err != nil {
			return Business{}, err
		}
		organizationID = org.ID
	} else {
		_, found, err := s.orgs.MemberRole(ctx, *orgID, actor.ID)
		if err != nil {
			return Business{}, err
		}
		if !found {
			return Business{}, shared.ErrNotFound
		}
		organizationID = *orgID
	}

	if err := s.checkBusinessLimit(ctx, organizationID); err != nil {
		return Business{}, err
	}

	now := time.Now().UTC()
	business := Business{
		ID:             uuid.New(),
		OrganizationID: organizationID,
		Name:           name,
		Currency:       code,
		CreatedBy:      actor.ID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateWithOwner(ctx, business, actor.ID); err != nil {
		return Business{}, err
	}
	return business, nil
}

// List returns every business the user holds a role in.
func (s *Service) List(ctx context.Context, userID uuid.UUID) ([]Membership, error) {
	return s.store.ListForUser(ctx, userID)
}

// Get returns a business to one of its members.
func (s *Service) Get(ctx context.Context, actor shared.CurrentUser, businessID uuid.UUID) (Business, error) {
	if err := s.gate.Authorize(ctx, actor.ID, businessID, authz.PermTransactionView); err != nil {
		return Business{}, err
	}
	return s.store.Get(ctx, businessID)
}

// Update changes a business name or currency.
func (s *Service) Update(ctx context.Context, actor shared.CurrentUser, businessID uuid.UUID, name, currencyCode string) (Business, error) {
	if err := s.gate.Authorize(ctx, actor.ID, businessID, authz.PermBusinessManage); err != nil {
		return Business{}, err
	}

	business, err := s.store.Get(ctx, businessID)
	if err != nil {
		return Business{}, err
	}

	if name = strings.TrimSpace(name); name != "" {
		business.Name = name
	}
	if currencyCode != "" {
		code, err := normalizeCurrency(currencyCode)
		if err != nil {
			return Business{}, err
		}
		business.Currency = code
	}
	business.UpdatedAt = time.Now().UTC()

	if err := s.store.Update(ctx, business); err != nil {
		return Business{}, err
	}
	return business, nil
}

// Delete soft-deletes a business. Only the business owner may do this, and
// the data stays in storage for recovery.
func (s *Service) Delete(ctx context.Context, actor shared.CurrentUser, businessID uuid.UUID) error {
	if err := s.gate.RequireOwner(ctx, actor.ID, businessID); err != nil {
		return err
	}
	if _, err := s.store.Get(ctx, businessID); err != nil {
		return err
	}
	return s.store.SoftDelete(ctx, businessID, actor.ID, time.Now().UTC())
}

func (s *Service) checkBusinessLimit(ctx context.Context, orgID uuid.UUID) error {
	plan := authz.PlanFree
	if sub, ok, err := s.subs.FindByOrganization(ctx, orgID); err != nil {
		return err
	} else if ok && sub.Status == authz.StatusActive {
		plan = sub.Plan
	}

	limits := authz.Plan(plan).Limits
	if limits.MaxBusinesses < 0 {
		return nil
	}
	count, err := s.store.CountInOrganization(ctx, orgID)
	if err != nil {
		return err
	}
	if count >= limits.MaxBusinesses {
		return fmt.Errorf("business limit reached for the %s plan: %w", plan, shared.ErrValidation)
	}
	return nil
}

func normalizeCurrency(code string) (string, error) {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return "", fmt.Errorf("unknown currency code: %w", shared.ErrValidation)
	}
	return unit.String(), nil
}
