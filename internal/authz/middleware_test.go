package authz

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ledgerkeep/ledgerkeep/internal/shared"
)

// guardedRouter mounts probe endpoints behind the middleware the way the
// business-scoped membership routes are mounted, injecting user as the
// authenticated actor. A nil user simulates an anonymous request.
func guardedRouter(gate *Gate, user *shared.CurrentUser) http.Handler {
	guard := Middleware{Gate: gate}
	ok := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithUser(req.Context(), user)))
		})
	})
	r.Route("/businesses/{businessID}", func(r chi.Router) {
		r.With(guard.Require(PermUserInvite)).Post("/invitations", ok)
		r.With(guard.RequireOwner()).Patch("/members/{userID}", ok)
	})
	return r
}

func doRequest(t *testing.T, handler http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestMiddlewareRequireAllowsPermittedMember(t *testing.T) {
	user := shared.CurrentUser{ID: uuid.New(), Email: "owner@example.com"}
	business := uuid.New()
	gate := NewGate(&stubRoleStore{roles: map[uuid.UUID]PolicyKey{user.ID: PolicyOwner}}, &stubPlanStore{plan: PlanPro}, nil)

	rec := doRequest(t, guardedRouter(gate, &user), http.MethodPost, "/businesses/"+business.String()+"/invitations")
	require.Equal(t, http.StatusOK, rec.Code)
}

// Role and plan denials must be indistinguishable on the wire.
func TestMiddlewareRequireDenialsShareOneShape(t *testing.T) {
	business := uuid.New()
	path := "/businesses/" + business.String() + "/invitations"

	cashier := shared.CurrentUser{ID: uuid.New(), Email: "cashier@example.com"}
	byRole := doRequest(t, guardedRouter(
		NewGate(&stubRoleStore{roles: map[uuid.UUID]PolicyKey{cashier.ID: PolicyCashier}}, &stubPlanStore{plan: PlanPro}, nil),
		&cashier,
	), http.MethodPost, path)
	require.Equal(t, http.StatusForbidden, byRole.Code)

	owner := shared.CurrentUser{ID: uuid.New(), Email: "owner@example.com"}
	byPlan := doRequest(t, guardedRouter(
		NewGate(&stubRoleStore{roles: map[uuid.UUID]PolicyKey{owner.ID: PolicyOwner}}, &stubPlanStore{plan: PlanFree}, nil),
		&owner,
	), http.MethodPost, path)
	require.Equal(t, http.StatusForbidden, byPlan.Code)

	require.JSONEq(t, byRole.Body.String(), byPlan.Body.String())
	require.Contains(t, byRole.Body.String(), "forbidden")
}

func TestMiddlewareRequireOwner(t *testing.T) {
	owner := shared.CurrentUser{ID: uuid.New(), Email: "owner@example.com"}
	manager := shared.CurrentUser{ID: uuid.New(), Email: "manager@example.com"}
	business := uuid.New()
	target := uuid.New()
	gate := NewGate(&stubRoleStore{roles: map[uuid.UUID]PolicyKey{
		owner.ID:   PolicyOwner,
		manager.ID: PolicyManager,
	}}, &stubPlanStore{plan: PlanPro}, nil)
	path := "/businesses/" + business.String() + "/members/" + target.String()

	rec := doRequest(t, guardedRouter(gate, &manager), http.MethodPatch, path)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(t, guardedRouter(gate, &owner), http.MethodPatch, path)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddlewareRejectsAnonymous(t *testing.T) {
	gate := NewGate(&stubRoleStore{roles: map[uuid.UUID]PolicyKey{}}, &stubPlanStore{plan: PlanPro}, nil)

	rec := doRequest(t, guardedRouter(gate, nil), http.MethodPost, "/businesses/"+uuid.New().String()+"/invitations")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewareRejectsMalformedBusinessID(t *testing.T) {
	user := shared.CurrentUser{ID: uuid.New(), Email: "owner@example.com"}
	gate := NewGate(&stubRoleStore{roles: map[uuid.UUID]PolicyKey{user.ID: PolicyOwner}}, &stubPlanStore{plan: PlanPro}, nil)

	rec := doRequest(t, guardedRouter(gate, &user), http.MethodPost, "/businesses/not-a-uuid/invitations")
	require.Equal(t, http.StatusNotFound, rec.Code)
}
