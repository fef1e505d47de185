package organizations

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ledgerkeep/ledgerkeep/internal/authz"
	"github.com/ledgerkeep/ledgerkeep/internal/billing"
	"github.com/ledgerkeep/ledgerkeep/internal/shared"
)

type memberKey struct {
	org  uuid.UUID
	user uuid.UUID
}

type memoryStore struct {
	orgs    map[uuid.UUID]Organization
	members map[memberKey]Member
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		orgs:    make(map[uuid.UUID]Organization),
		members: make(map[memberKey]Member),
	}
}

func (s *memoryStore) Create(_ context.Context, org Organization, owner Member) error {
	s.orgs[org.ID] = org
	s.members[memberKey{org.ID, owner.UserID}] = owner
	return nil
}

func (s *memoryStore) Get(_ context.Context, orgID uuid.UUID) (Organization, error) {
	org, ok := s.orgs[orgID]
	if !ok {
		return Organization{}, shared.ErrNotFound
	}
	return org, nil
}

func (s *memoryStore) ListForUser(_ context.Context, userID uuid.UUID) ([]Overview, error) {
	var overviews []Overview
	for key, m := range s.members {
		if key.user != userID {
			continue
		}
		overviews = append(overviews, Overview{
			Organization: s.orgs[key.org],
			Role:         m.Role,
			Plan:         authz.PlanFree,
		})
	}
	return overviews, nil
}

func (s *memoryStore) MemberRole(_ context.Context, orgID, userID uuid.UUID) (authz.OrgRole, bool, error) {
	m, ok := s.members[memberKey{orgID, userID}]
	if !ok {
		return "", false, nil
	}
	return m.Role, true, nil
}

func (s *memoryStore) Members(_ context.Context, orgID uuid.UUID) ([]Member, error) {
	var members []Member
	for key, m := range s.members {
		if key.org == orgID {
			members = append(members, m)
		}
	}
	return members, nil
}

func (s *memoryStore) WithMembersTx(ctx context.Context, fn func(context.Context, MemberTx) error) error {
	return fn(ctx, s)
}

func (s *memoryStore) CountOwners(_ context.Context, orgID uuid.UUID) (int, error) {
	count := 0
	for key, m := range s.members {
		if key.org == orgID && m.Role == authz.OrgRoleOwner {
			count++
		}
	}
	return count, nil
}

func (s *memoryStore) UpdateMemberRole(_ context.Context, orgID, userID uuid.UUID, role authz.OrgRole) (bool, error) {
	key := memberKey{orgID, userID}
	m, ok := s.members[key]
	if !ok {
		return false, nil
	}
	m.Role = role
	s.members[key] = m
	return true, nil
}

func (s *memoryStore) RemoveMember(_ context.Context, orgID, userID uuid.UUID) (bool, error) {
	key := memberKey{orgID, userID}
	if _, ok := s.members[key]; !ok {
		return false, nil
	}
	delete(s.members, key)
	return true, nil
}

func (s *memoryStore) addMember(orgID, userID uuid.UUID, role authz.OrgRole) {
	s.members[memberKey{orgID, userID}] = Member{OrganizationID: orgID, UserID: userID, Role: role}
}

type stubSubscriptions struct {
	sub   billing.Subscription
	found bool
}

func (s *stubSubscriptions) FindByOrganization(context.Context, uuid.UUID) (billing.Subscription, bool, error) {
	return s.sub, s.found, nil
}

type stubPayments struct {
	lastCheckout billing.CheckoutSessionParams
	lastCustomer string
}

func (s *stubPayments) CreateCheckoutSession(_ context.Context, params billing.CheckoutSessionParams) (billing.HostedSession, error) {
	s.lastCheckout = params
	return billing.HostedSession{ID: "cs_test", URL: "https://checkout.example/cs_test"}, nil
}

func (s *stubPayments) CreatePortalSession(_ context.Context, customerID, _ string) (billing.HostedSession, error) {
	s.lastCustomer = customerID
	return billing.HostedSession{ID: "bps_test", URL: "https://portal.example/bps_test"}, nil
}

func testService(store *memoryStore, subs SubscriptionSource, payments PaymentClient) *Service {
	if subs == nil {
		subs = &stubSubscriptions{}
	}
	return NewService(store, subs, payments, CheckoutConfig{
		MonthlyPriceID: "price_month",
		YearlyPriceID:  "price_year",
		AppBaseURL:     "https://app.example",
	})
}

func actor(id uuid.UUID) shared.CurrentUser {
	return shared.CurrentUser{ID: id, Email: "user@example.com", DisplayName: "Test User"}
}

func TestCreateSeedsOwnerMembership(t *testing.T) {
	store := newMemoryStore()
	svc := testService(store, nil, nil)
	user := actor(uuid.New())

	org, err := svc.Create(context.Background(), user, "Acme Books")
	require.NoError(t, err)

	role, found, err := store.MemberRole(context.Background(), org.ID, user.ID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, authz.OrgRoleOwner, role)
}

func TestCreateRejectsBlankName(t *testing.T) {
	svc := testService(newMemoryStore(), nil, nil)

	_, err := svc.Create(context.Background(), actor(uuid.New()), "   ")
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestEnsureForUserCreatesPersonalOrganizationOnce(t *testing.T) {
	store := newMemoryStore()
	svc := testService(store, nil, nil)
	user := actor(uuid.New())

	first, err := svc.EnsureForUser(context.Background(), user)
	require.NoError(t, err)
	require.Equal(t, "Test User's Organization", first.Name)

	second, err := svc.EnsureForUser(context.Background(), user)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Len(t, store.orgs, 1)
}

func TestUpdateMemberRoleRequiresOwner(t *testing.T) {
	store := newMemoryStore()
	svc := testService(store, nil, nil)
	orgID := uuid.New()
	admin := uuid.New()
	target := uuid.New()
	store.addMember(orgID, admin, authz.OrgRoleAdmin)
	store.addMember(orgID, target, authz.OrgRoleMember)

	err := svc.UpdateMemberRole(context.Background(), actor(admin), orgID, target, authz.OrgRoleAdmin)
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestDemoteLastOwnerFails(t *testing.T) {
	store := newMemoryStore()
	svc := testService(store, nil, nil)
	orgID := uuid.New()
	owner := uuid.New()
	store.addMember(orgID, owner, authz.OrgRoleOwner)

	err := svc.UpdateMemberRole(context.Background(), actor(owner), orgID, owner, authz.OrgRoleMember)
	require.ErrorIs(t, err, shared.ErrLastOwner)

	role, _, _ := store.MemberRole(context.Background(), orgID, owner)
	require.Equal(t, authz.OrgRoleOwner, role)
}

func TestRemoveLastOwnerFails(t *testing.T) {
	store := newMemoryStore()
	svc := testService(store, nil, nil)
	orgID := uuid.New()
	owner := uuid.New()
	store.addMember(orgID, owner, authz.OrgRoleOwner)

	err := svc.RemoveMember(context.Background(), actor(owner), orgID, owner)
	require.ErrorIs(t, err, shared.ErrLastOwner)

	_, found, _ := store.MemberRole(context.Background(), orgID, owner)
	require.True(t, found)
}

func TestRemoveOwnerSucceedsWithAnotherOwner(t *testing.T) {
	store := newMemoryStore()
	svc := testService(store, nil, nil)
	orgID := uuid.New()
	first := uuid.New()
	second := uuid.New()
	store.addMember(orgID, first, authz.OrgRoleOwner)
	store.addMember(orgID, second, authz.OrgRoleOwner)

	require.NoError(t, svc.RemoveMember(context.Background(), actor(first), orgID, second))

	count, err := store.CountOwners(context.Background(), orgID)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestDemoteOwnerSucceedsWithAnotherOwner(t *testing.T) {
	store := newMemoryStore()
	svc := testService(store, nil, nil)
	orgID := uuid.New()
	first := uuid.New()
	second := uuid.New()
	store.addMember(orgID, first, authz.OrgRoleOwner)
	store.addMember(orgID, second, authz.OrgRoleOwner)

	require.NoError(t, svc.UpdateMemberRole(context.Background(), actor(first), orgID, second, authz.OrgRoleMember))

	role, _, _ := store.MemberRole(context.Background(), orgID, second)
	require.Equal(t, authz.OrgRoleMember, role)
}

func TestCheckoutRequiresOwner(t *testing.T) {
	store := newMemoryStore()
	payments := &stubPayments{}
	svc := testService(store, nil, payments)
	orgID := uuid.New()
	member := uuid.New()
	store.addMember(orgID, member, authz.OrgRoleMember)

	_, err := svc.Checkout(context.Background(), actor(member), orgID, "month")
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestCheckoutRejectsActivePro(t *testing.T) {
	store := newMemoryStore()
	orgID := uuid.New()
	owner := uuid.New()
	store.addMember(orgID, owner, authz.OrgRoleOwner)
	subs := &stubSubscriptions{
		sub:   billing.Subscription{Plan: authz.PlanPro, Status: authz.StatusActive},
		found: true,
	}
	svc := testService(store, subs, &stubPayments{})

	_, err := svc.Checkout(context.Background(), actor(owner), orgID, "month")
	require.ErrorIs(t, err, shared.ErrDuplicate)
}

func TestCheckoutPicksPriceByInterval(t *testing.T) {
	store := newMemoryStore()
	orgID := uuid.New()
	owner := uuid.New()
	store.addMember(orgID, owner, authz.OrgRoleOwner)
	payments := &stubPayments{}
	svc := testService(store, nil, payments)

	url, err := svc.Checkout(context.Background(), actor(owner), orgID, "year")
	require.NoError(t, err)
	require.Equal(t, "https://checkout.example/cs_test", url)
	require.Equal(t, "price_year", payments.lastCheckout.PriceID)
	require.Equal(t, orgID.String(), payments.lastCheckout.ClientReferenceID)
	require.Equal(t, "checkout_"+orgID.String()+"_year", payments.lastCheckout.IdempotencyKey)
}

func TestCheckoutAllowedAfterCancellation(t *testing.T) {
	store := newMemoryStore()
	orgID := uuid.New()
	owner := uuid.New()
	store.addMember(orgID, owner, authz.OrgRoleOwner)
	subs := &stubSubscriptions{
		sub:   billing.Subscription{Plan: authz.PlanPro, Status: authz.StatusCancelled},
		found: true,
	}
	payments := &stubPayments{}
	svc := testService(store, subs, payments)

	_, err := svc.Checkout(context.Background(), actor(owner), orgID, "month")
	require.NoError(t, err)
	require.Equal(t, "price_month", payments.lastCheckout.PriceID)
}

func TestPortalRequiresActiveSubscription(t *testing.T) {
	store := newMemoryStore()
	orgID := uuid.New()
	owner := uuid.New()
	store.addMember(orgID, owner, authz.OrgRoleOwner)
	svc := testService(store, &stubSubscriptions{}, &stubPayments{})

	_, err := svc.Portal(context.Background(), actor(owner), orgID)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestPortalUsesStoredCustomer(t *testing.T) {
	store := newMemoryStore()
	orgID := uuid.New()
	owner := uuid.New()
	store.addMember(orgID, owner, authz.OrgRoleOwner)
	subs := &stubSubscriptions{
		sub: billing.Subscription{
			Plan:             authz.PlanPro,
			Status:           authz.StatusActive,
			StripeCustomerID: "cus_42",
		},
		found: true,
	}
	payments := &stubPayments{}
	svc := testService(store, subs, payments)

	url, err := svc.Portal(context.Background(), actor(owner), orgID)
	require.NoError(t, err)
	require.Equal(t, "https://portal.example/bps_test", url)
	require.Equal(t, "cus_42", payments.lastCustomer)
}

func TestGetHiddenFromNonMembers(t *testing.T) {
	store := newMemoryStore()
	svc := testService(store, nil, nil)
	org, err := svc.Create(context.Background(), actor(uuid.New()), "Acme Books")
	require.NoError(t, err)

	_, err = svc.Get(context.Background(), actor(uuid.New()), org.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}
