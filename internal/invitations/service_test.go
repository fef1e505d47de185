package invitations

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ledgerkeep/ledgerkeep/internal/authz"
	"github.com/ledgerkeep/ledgerkeep/internal/shared"
	"github.com/ledgerkeep/ledgerkeep/internal/users"
)

type roleKey struct {
	user     uuid.UUID
	business uuid.UUID
}

type memoryInvitationStore struct {
	invitations map[uuid.UUID]Invitation
	roles       map[roleKey]authz.PolicyKey
}

func newMemoryInvitationStore() *memoryInvitationStore {
	return &memoryInvitationStore{
		invitations: make(map[uuid.UUID]Invitation),
		roles:       make(map[roleKey]authz.PolicyKey),
	}
}

func (s *memoryInvitationStore) CreateInvitation(_ context.Context, inv Invitation) error {
	s.invitations[inv.ID] = inv
	return nil
}

func (s *memoryInvitationStore) GetInvitation(_ context.Context, id uuid.UUID) (Invitation, error) {
	inv, ok := s.invitations[id]
	if !ok {
		return Invitation{}, shared.ErrNotFound
	}
	return inv, nil
}

func (s *memoryInvitationStore) HasPendingInvitation(_ context.Context, businessID uuid.UUID, email string) (bool, error) {
	for _, inv := range s.invitations {
		if inv.BusinessID == businessID && inv.Email == email && inv.Status == StatusPending {
			return true, nil
		}
	}
	return false, nil
}

func (s *memoryInvitationStore) ListByBusiness(_ context.Context, businessID uuid.UUID) ([]Invitation, error) {
	var out []Invitation
	for _, inv := range s.invitations {
		if inv.BusinessID == businessID {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (s *memoryInvitationStore) ListPendingByEmail(_ context.Context, email string) ([]Invitation, error) {
	var out []Invitation
	for _, inv := range s.invitations {
		if inv.Email == email && inv.Status == StatusPending {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (s *memoryInvitationStore) UpdateStatus(_ context.Context, id uuid.UUID, status Status, at time.Time) error {
	inv, ok := s.invitations[id]
	if !ok {
		return shared.ErrNotFound
	}
	inv.Status = status
	inv.UpdatedAt = at
	s.invitations[id] = inv
	return nil
}

func (s *memoryInvitationStore) AddRole(_ context.Context, userID, businessID uuid.UUID, role authz.PolicyKey) error {
	key := roleKey{userID, businessID}
	if _, ok := s.roles[key]; ok {
		return shared.ErrDuplicate
	}
	s.roles[key] = role
	return nil
}

func (s *memoryInvitationStore) Members(_ context.Context, businessID uuid.UUID) ([]BusinessMember, error) {
	var out []BusinessMember
	for key, role := range s.roles {
		if key.business == businessID {
			out = append(out, BusinessMember{BusinessID: businessID, UserID: key.user, Role: role})
		}
	}
	return out, nil
}

func (s *memoryInvitationStore) WithRolesTx(ctx context.Context, fn func(context.Context, RoleTx) error) error {
	return fn(ctx, s)
}

func (s *memoryInvitationStore) RoleFor(_ context.Context, userID, businessID uuid.UUID) (authz.PolicyKey, error) {
	role, ok := s.roles[roleKey{userID, businessID}]
	if !ok {
		return authz.PolicyNone, nil
	}
	return role, nil
}

func (s *memoryInvitationStore) CountOwners(_ context.Context, businessID uuid.UUID) (int, error) {
	count := 0
	for key, role := range s.roles {
		if key.business == businessID && role == authz.PolicyOwner {
			count++
		}
	}
	return count, nil
}

func (s *memoryInvitationStore) UpdateRole(_ context.Context, userID, businessID uuid.UUID, role authz.PolicyKey) (bool, error) {
	key := roleKey{userID, businessID}
	if _, ok := s.roles[key]; !ok {
		return false, nil
	}
	s.roles[key] = role
	return true, nil
}

func (s *memoryInvitationStore) RemoveRole(_ context.Context, userID, businessID uuid.UUID) (bool, error) {
	key := roleKey{userID, businessID}
	if _, ok := s.roles[key]; !ok {
		return false, nil
	}
	delete(s.roles, key)
	return true, nil
}

type stubUserDirectory struct {
	byEmail map[string]users.User
}

func (s *stubUserDirectory) FindByEmail(_ context.Context, email string) (users.User, error) {
	u, ok := s.byEmail[email]
	if !ok {
		return users.User{}, shared.ErrNotFound
	}
	return u, nil
}

type recordingMailer struct {
	sent []Invitation
}

func (m *recordingMailer) SendInvitation(_ context.Context, inv Invitation) error {
	m.sent = append(m.sent, inv)
	return nil
}

type fixedPlanStore struct {
	plan authz.PlanKey
}

func (s fixedPlanStore) EffectivePlan(context.Context, uuid.UUID) (authz.PlanKey, error) {
	return s.plan, nil
}

type fixture struct {
	store  *memoryInvitationStore
	users  *stubUserDirectory
	mailer *recordingMailer
	svc    *Service
}

func newFixture(plan authz.PlanKey) *fixture {
	store := newMemoryInvitationStore()
	dir := &stubUserDirectory{byEmail: make(map[string]users.User)}
	mailer := &recordingMailer{}
	gate := authz.NewGate(store, fixedPlanStore{plan: plan}, nil)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &fixture{
		store:  store,
		users:  dir,
		mailer: mailer,
		svc:    NewService(store, dir, gate, mailer, nil, logger),
	}
}

func member(email string) shared.CurrentUser {
	return shared.CurrentUser{ID: uuid.New(), Email: email, DisplayName: "Member"}
}

func TestInviteRejectsUnknownRole(t *testing.T) {
	f := newFixture(authz.PlanPro)
	businessID := uuid.New()
	owner := member("owner@example.com")
	f.store.roles[roleKey{owner.ID, businessID}] = authz.PolicyOwner

	_, err := f.svc.Invite(context.Background(), owner, businessID, "new@example.com", authz.PolicyKey("superuser"))
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Empty(t, f.mailer.sent)
}

func TestInviteUnknownEmailCreatesPendingInvitation(t *testing.T) {
	f := newFixture(authz.PlanPro)
	businessID := uuid.New()
	owner := member("owner@example.com")
	f.store.roles[roleKey{owner.ID, businessID}] = authz.PolicyOwner

	inv, err := f.svc.Invite(context.Background(), owner, businessID, "New@Example.com", authz.PolicyViewer)
	require.NoError(t, err)
	require.Equal(t, StatusPending, inv.Status)
	require.Equal(t, "new@example.com", inv.Email)
	require.WithinDuration(t, time.Now().Add(DefaultTTL), inv.ExpiresAt, time.Minute)
	require.Len(t, f.mailer.sent, 1)
}

func TestInviteExistingUserAddsDirectly(t *testing.T) {
	f := newFixture(authz.PlanPro)
	businessID := uuid.New()
	owner := member("owner@example.com")
	f.store.roles[roleKey{owner.ID, businessID}] = authz.PolicyOwner

	existing := users.User{ID: uuid.New(), Email: "known@example.com"}
	f.users.byEmail[existing.Email] = existing

	inv, err := f.svc.Invite(context.Background(), owner, businessID, existing.Email, authz.PolicyCashier)
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, inv.Status)
	require.Equal(t, authz.PolicyCashier, f.store.roles[roleKey{existing.ID, businessID}])
	require.Empty(t, f.mailer.sent)
}

func TestInviteExistingMemberConflicts(t *testing.T) {
	f := newFixture(authz.PlanPro)
	businessID := uuid.New()
	owner := member("owner@example.com")
	f.store.roles[roleKey{owner.ID, businessID}] = authz.PolicyOwner

	existing := users.User{ID: uuid.New(), Email: "known@example.com"}
	f.users.byEmail[existing.Email] = existing
	f.store.roles[roleKey{existing.ID, businessID}] = authz.PolicyViewer

	_, err := f.svc.Invite(context.Background(), owner, businessID, existing.Email, authz.PolicyCashier)
	require.ErrorIs(t, err, shared.ErrDuplicate)
}

func TestInvitePendingDuplicateConflicts(t *testing.T) {
	f := newFixture(authz.PlanPro)
	businessID := uuid.New()
	owner := member("owner@example.com")
	f.store.roles[roleKey{owner.ID, businessID}] = authz.PolicyOwner

	_, err := f.svc.Invite(context.Background(), owner, businessID, "new@example.com", authz.PolicyViewer)
	require.NoError(t, err)

	_, err = f.svc.Invite(context.Background(), owner, businessID, "new@example.com", authz.PolicyManager)
	require.ErrorIs(t, err, shared.ErrDuplicate)
}

func TestAcceptGrantsRole(t *testing.T) {
	f := newFixture(authz.PlanPro)
	businessID := uuid.New()
	owner := member("owner@example.com")
	f.store.roles[roleKey{owner.ID, businessID}] = authz.PolicyOwner

	inv, err := f.svc.Invite(context.Background(), owner, businessID, "new@example.com", authz.PolicyViewer)
	require.NoError(t, err)

	invitee := member("new@example.com")
	require.NoError(t, f.svc.Accept(context.Background(), invitee, inv.ID))
	require.Equal(t, authz.PolicyViewer, f.store.roles[roleKey{invitee.ID, businessID}])
	require.Equal(t, StatusAccepted, f.store.invitations[inv.ID].Status)
}

func TestAcceptRejectsWrongEmail(t *testing.T) {
	f := newFixture(authz.PlanPro)
	businessID := uuid.New()
	owner := member("owner@example.com")
	f.store.roles[roleKey{owner.ID, businessID}] = authz.PolicyOwner

	inv, err := f.svc.Invite(context.Background(), owner, businessID, "new@example.com", authz.PolicyViewer)
	require.NoError(t, err)

	err = f.svc.Accept(context.Background(), member("other@example.com"), inv.ID)
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestAcceptRejectsExpired(t *testing.T) {
	f := newFixture(authz.PlanPro)
	businessID := uuid.New()
	owner := member("owner@example.com")
	f.store.roles[roleKey{owner.ID, businessID}] = authz.PolicyOwner

	inv, err := f.svc.Invite(context.Background(), owner, businessID, "new@example.com", authz.PolicyViewer)
	require.NoError(t, err)

	f.svc.now = func() time.Time { return time.Now().Add(DefaultTTL + time.Hour) }
	err = f.svc.Accept(context.Background(), member("new@example.com"), inv.ID)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestDeclineMarksDeclined(t *testing.T) {
	f := newFixture(authz.PlanPro)
	businessID := uuid.New()
	owner := member("owner@example.com")
	f.store.roles[roleKey{owner.ID, businessID}] = authz.PolicyOwner

	inv, err := f.svc.Invite(context.Background(), owner, businessID, "new@example.com", authz.PolicyViewer)
	require.NoError(t, err)

	invitee := member("new@example.com")
	require.NoError(t, f.svc.Decline(context.Background(), invitee, inv.ID))
	require.Equal(t, StatusDeclined, f.store.invitations[inv.ID].Status)

	err = f.svc.Accept(context.Background(), invitee, inv.ID)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCancelWithdrawsPending(t *testing.T) {
	f := newFixture(authz.PlanPro)
	businessID := uuid.New()
	owner := member("owner@example.com")
	f.store.roles[roleKey{owner.ID, businessID}] = authz.PolicyOwner

	inv, err := f.svc.Invite(context.Background(), owner, businessID, "new@example.com", authz.PolicyViewer)
	require.NoError(t, err)

	require.NoError(t, f.svc.Cancel(context.Background(), owner, businessID, inv.ID))
	require.Equal(t, StatusCancelled, f.store.invitations[inv.ID].Status)
}

func TestDemoteLastBusinessOwnerFails(t *testing.T) {
	f := newFixture(authz.PlanFree)
	businessID := uuid.New()
	owner := member("owner@example.com")
	f.store.roles[roleKey{owner.ID, businessID}] = authz.PolicyOwner

	err := f.svc.UpdateMemberRole(context.Background(), owner, businessID, owner.ID, authz.PolicyViewer)
	require.ErrorIs(t, err, shared.ErrLastOwner)
	require.Equal(t, authz.PolicyOwner, f.store.roles[roleKey{owner.ID, businessID}])
}

func TestRemoveLastBusinessOwnerFails(t *testing.T) {
	f := newFixture(authz.PlanFree)
	businessID := uuid.New()
	owner := member("owner@example.com")
	f.store.roles[roleKey{owner.ID, businessID}] = authz.PolicyOwner

	err := f.svc.RemoveMember(context.Background(), owner, businessID, owner.ID)
	require.ErrorIs(t, err, shared.ErrLastOwner)
}

func TestRemoveOwnerWithCoOwnerSucceeds(t *testing.T) {
	f := newFixture(authz.PlanFree)
	businessID := uuid.New()
	first := member("first@example.com")
	second := member("second@example.com")
	f.store.roles[roleKey{first.ID, businessID}] = authz.PolicyOwner
	f.store.roles[roleKey{second.ID, businessID}] = authz.PolicyOwner

	require.NoError(t, f.svc.RemoveMember(context.Background(), first, businessID, second.ID))

	count, err := f.store.CountOwners(context.Background(), businessID)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestRemoveOtherMemberNeedsOwner(t *testing.T) {
	f := newFixture(authz.PlanFree)
	businessID := uuid.New()
	owner := member("owner@example.com")
	viewer := member("viewer@example.com")
	f.store.roles[roleKey{owner.ID, businessID}] = authz.PolicyOwner
	f.store.roles[roleKey{viewer.ID, businessID}] = authz.PolicyViewer

	err := f.svc.RemoveMember(context.Background(), viewer, businessID, owner.ID)
	require.ErrorIs(t, err, shared.ErrForbidden)
	require.Equal(t, authz.PolicyOwner, f.store.roles[roleKey{owner.ID, businessID}])
}

func TestMemberMayLeaveUnlessLastOwner(t *testing.T) {
	f := newFixture(authz.PlanFree)
	businessID := uuid.New()
	owner := member("owner@example.com")
	viewer := member("viewer@example.com")
	f.store.roles[roleKey{owner.ID, businessID}] = authz.PolicyOwner
	f.store.roles[roleKey{viewer.ID, businessID}] = authz.PolicyViewer

	require.NoError(t, f.svc.RemoveMember(context.Background(), viewer, businessID, viewer.ID))
	_, ok := f.store.roles[roleKey{viewer.ID, businessID}]
	require.False(t, ok)
}

func TestExpiredInvitationsHiddenFromInvitee(t *testing.T) {
	f := newFixture(authz.PlanPro)
	businessID := uuid.New()
	owner := member("owner@example.com")
	f.store.roles[roleKey{owner.ID, businessID}] = authz.PolicyOwner

	_, err := f.svc.Invite(context.Background(), owner, businessID, "new@example.com", authz.PolicyViewer)
	require.NoError(t, err)

	f.svc.now = func() time.Time { return time.Now().Add(DefaultTTL + time.Hour) }
	visible, err := f.svc.ListForUser(context.Background(), member("new@example.com"))
	require.NoError(t, err)
	require.Empty(t, visible)
}
