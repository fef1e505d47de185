package authz

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ledgerkeep/ledgerkeep/internal/platform/httpx"
	"github.com/ledgerkeep/ledgerkeep/internal/shared"
)

// Middleware wires gate checks in front of business-scoped routes. The
// business ID is read from the {businessID} route parameter.
type Middleware struct {
	Gate   *Gate
	Logger *slog.Logger
}

// Require ensures the current user holds the permission on the business.
func (m Middleware) Require(perm Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, businessID, ok := m.requestScope(w, r)
			if !ok {
				return
			}
			if err := m.Gate.Authorize(r.Context(), user.ID, businessID, perm); err != nil {
				m.logDenied(r, user.ID, businessID, string(perm), err)
				httpx.RespondError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireOwner ensures the current user is an owner of the business.
func (m Middleware) RequireOwner() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, businessID, ok := m.requestScope(w, r)
			if !ok {
				return
			}
			if err := m.Gate.RequireOwner(r.Context(), user.ID, businessID); err != nil {
				m.logDenied(r, user.ID, businessID, "owner", err)
				httpx.RespondError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) requestScope(w http.ResponseWriter, r *http.Request) (*shared.CurrentUser, uuid.UUID, bool) {
	user := shared.UserFromContext(r.Context())
	if user == nil {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return nil, uuid.Nil, false
	}
	businessID, err := uuid.Parse(chi.URLParam(r, "businessID"))
	if err != nil {
		httpx.RespondError(w, shared.ErrNotFound)
		return nil, uuid.Nil, false
	}
	return user, businessID, true
}

func (m Middleware) logDenied(r *http.Request, userID, businessID uuid.UUID, check string, err error) {
	if m.Logger == nil {
		return
	}
	m.Logger.Debug("authorization denied",
		slog.String("user_id", userID.String()),
		slog.String("business_id", businessID.String()),
		slog.String("check", check),
		slog.String("path", r.URL.Path),
		slog.Any("error", err),
	)
}
