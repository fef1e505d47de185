package businesses

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ledgerkeep/ledgerkeep/internal/authz"
	"github.com/ledgerkeep/ledgerkeep/internal/billing"
	"github.com/ledgerkeep/ledgerkeep/internal/organizations"
	"github.com/ledgerkeep/ledgerkeep/internal/shared"
)

type roleKey struct {
	user     uuid.UUID
	business uuid.UUID
}

type memoryBusinessStore struct {
	businesses map[uuid.UUID]Business
	roles      map[roleKey]authz.PolicyKey
}

func newMemoryBusinessStore() *memoryBusinessStore {
	return &memoryBusinessStore{
		businesses: make(map[uuid.UUID]Business),
		roles:      make(map[roleKey]authz.PolicyKey),
	}
}

func (s *memoryBusinessStore) CreateWithOwner(_ context.Context, business Business, ownerID uuid.UUID) error {
	s.businesses[business.ID] = business
	s.roles[roleKey{ownerID, business.ID}] = authz.PolicyOwner
	return nil
}

func (s *memoryBusinessStore) Get(_ context.Context, id uuid.UUID) (Business, error) {
	b, ok := s.businesses[id]
	if !ok || b.DeletedAt != nil {
		return Business{}, shared.ErrNotFound
	}
	return b, nil
}

func (s *memoryBusinessStore) ListForUser(_ context.Context, userID uuid.UUID) ([]Membership, error) {
	var memberships []Membership
	for key, role := range s.roles {
		if key.user != userID {
			continue
		}
		b, ok := s.businesses[key.business]
		if !ok || b.DeletedAt != nil {
			continue
		}
		memberships = append(memberships, Membership{Business: b, Role: role})
	}
	return memberships, nil
}

func (s *memoryBusinessStore) CountInOrganization(_ context.Context, orgID uuid.UUID) (int, error) {
	count := 0
	for _, b := range s.businesses {
		if b.OrganizationID == orgID && b.DeletedAt == nil {
			count++
		}
	}
	return count, nil
}

func (s *memoryBusinessStore) Update(_ context.Context, business Business) error {
	existing, ok := s.businesses[business.ID]
	if !ok || existing.DeletedAt != nil {
		return shared.ErrNotFound
	}
	s.businesses[business.ID] = business
	return nil
}

func (s *memoryBusinessStore) SoftDelete(_ context.Context, id, deletedBy uuid.UUID, at time.Time) error {
	b, ok := s.businesses[id]
	if !ok || b.DeletedAt != nil {
		return shared.ErrNotFound
	}
	b.DeletedAt = &at
	b.DeletedBy = &deletedBy
	s.businesses[id] = b
	return nil
}

// RoleFor lets the store double as the gate's role source.
func (s *memoryBusinessStore) RoleFor(_ context.Context, userID, businessID uuid.UUID) (authz.PolicyKey, error) {
	role, ok := s.roles[roleKey{userID, businessID}]
	if !ok {
		return authz.PolicyNone, nil
	}
	return role, nil
}

type stubOrgDirectory struct {
	personal    organizations.Organization
	memberships map[uuid.UUID]map[uuid.UUID]authz.OrgRole
	ensured     int
}

func (s *stubOrgDirectory) EnsureForUser(_ context.Context, _ shared.CurrentUser) (organizations.Organization, error) {
	s.ensured++
	return s.personal, nil
}

func (s *stubOrgDirectory) MemberRole(_ context.Context, orgID, userID uuid.UUID) (authz.OrgRole, bool, error) {
	role, ok := s.memberships[orgID][userID]
	return role, ok, nil
}

type stubSubs struct {
	sub   billing.Subscription
	found bool
}

func (s *stubSubs) FindByOrganization(context.Context, uuid.UUID) (billing.Subscription, bool, error) {
	return s.sub, s.found, nil
}

type fixedPlanStore struct {
	plan authz.PlanKey
}

func (s fixedPlanStore) EffectivePlan(context.Context, uuid.UUID) (authz.PlanKey, error) {
	return s.plan, nil
}

type fixture struct {
	store *memoryBusinessStore
	orgs  *stubOrgDirectory
	subs  *stubSubs
	svc   *Service
}

func newFixture(plan authz.PlanKey) *fixture {
	store := newMemoryBusinessStore()
	orgs := &stubOrgDirectory{
		personal:    organizations.Organization{ID: uuid.New(), Name: "Personal"},
		memberships: make(map[uuid.UUID]map[uuid.UUID]authz.OrgRole),
	}
	subs := &stubSubs{}
	if plan == authz.PlanPro {
		subs.sub = billing.Subscription{Plan: authz.PlanPro, Status: authz.StatusActive}
		subs.found = true
	}
	gate := authz.NewGate(store, fixedPlanStore{plan: plan}, nil)
	return &fixture{
		store: store,
		orgs:  orgs,
		subs:  subs,
		svc:   NewService(store, orgs, subs, gate),
	}
}

func user() shared.CurrentUser {
	return shared.CurrentUser{ID: uuid.New(), Email: "owner@example.com", DisplayName: "Owner"}
}

func TestCreateFallsBackToPersonalOrganization(t *testing.T) {
	f := newFixture(authz.PlanFree)
	actor := user()

	business, err := f.svc.Create(context.Background(), actor, nil, "Cafe Ledger", "usd")
	require.NoError(t, err)
	require.Equal(t, f.orgs.personal.ID, business.OrganizationID)
	require.Equal(t, "USD", business.Currency)
	require.Equal(t, 1, f.orgs.ensured)

	role, err := f.store.RoleFor(context.Background(), actor.ID, business.ID)
	require.NoError(t, err)
	require.Equal(t, authz.PolicyOwner, role)
}

func TestCreateRequiresOrganizationMembership(t *testing.T) {
	f := newFixture(authz.PlanFree)
	orgID := uuid.New()

	_, err := f.svc.Create(context.Background(), user(), &orgID, "Cafe Ledger", "USD")
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCreateRejectsUnknownCurrency(t *testing.T) {
	f := newFixture(authz.PlanFree)

	_, err := f.svc.Create(context.Background(), user(), nil, "Cafe Ledger", "???")
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestFreePlanCapsBusinessesAtOne(t *testing.T) {
	f := newFixture(authz.PlanFree)
	actor := user()

	_, err := f.svc.Create(context.Background(), actor, nil, "First", "USD")
	require.NoError(t, err)

	_, err = f.svc.Create(context.Background(), actor, nil, "Second", "USD")
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestProPlanAllowsMoreBusinesses(t *testing.T) {
	f := newFixture(authz.PlanPro)
	actor := user()

	for i := 0; i < 5; i++ {
		_, err := f.svc.Create(context.Background(), actor, nil, "Ledger", "USD")
		require.NoError(t, err)
	}
	_, err := f.svc.Create(context.Background(), actor, nil, "One Too Many", "USD")
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestSoftDeleteFreesPlanSlot(t *testing.T) {
	f := newFixture(authz.PlanFree)
	actor := user()

	business, err := f.svc.Create(context.Background(), actor, nil, "First", "USD")
	require.NoError(t, err)
	require.NoError(t, f.svc.Delete(context.Background(), actor, business.ID))

	_, err = f.svc.Create(context.Background(), actor, nil, "Replacement", "USD")
	require.NoError(t, err)
}

func TestDeleteRequiresOwnerRole(t *testing.T) {
	f := newFixture(authz.PlanFree)
	owner := user()

	business, err := f.svc.Create(context.Background(), owner, nil, "Cafe Ledger", "USD")
	require.NoError(t, err)

	viewer := user()
	f.store.roles[roleKey{viewer.ID, business.ID}] = authz.PolicyViewer

	err = f.svc.Delete(context.Background(), viewer, business.ID)
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestDeletedBusinessDisappearsFromReads(t *testing.T) {
	f := newFixture(authz.PlanFree)
	actor := user()

	business, err := f.svc.Create(context.Background(), actor, nil, "Cafe Ledger", "USD")
	require.NoError(t, err)
	require.NoError(t, f.svc.Delete(context.Background(), actor, business.ID))

	_, err = f.svc.Get(context.Background(), actor, business.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)

	memberships, err := f.svc.List(context.Background(), actor.ID)
	require.NoError(t, err)
	require.Empty(t, memberships)
}

func TestUpdateNeedsManagePermission(t *testing.T) {
	f := newFixture(authz.PlanFree)
	owner := user()

	business, err := f.svc.Create(context.Background(), owner, nil, "Cafe Ledger", "USD")
	require.NoError(t, err)

	cashier := user()
	f.store.roles[roleKey{cashier.ID, business.ID}] = authz.PolicyCashier

	_, err = f.svc.Update(context.Background(), cashier, business.ID, "Renamed", "")
	require.ErrorIs(t, err, shared.ErrForbidden)

	updated, err := f.svc.Update(context.Background(), owner, business.ID, "Renamed", "eur")
	require.NoError(t, err)
	require.Equal(t, "Renamed", updated.Name)
	require.Equal(t, "EUR", updated.Currency)
}
