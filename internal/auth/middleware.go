package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ledgerkeep/ledgerkeep/internal/platform/httpx"
	"github.com/ledgerkeep/ledgerkeep/internal/shared"
)

// Middleware resolves the bearer token into the current user. Requests
// without a valid token are rejected with 401 before reaching handlers.
func (s *Service) Middleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				httpx.RespondError(w, shared.ErrUnauthorized)
				return
			}
			user, err := s.Resolve(r.Context(), token)
			if err != nil {
				if logger != nil && !errors.Is(err, shared.ErrUnauthorized) {
					logger.Error("resolve session", slog.Any("error", err))
				}
				httpx.RespondError(w, shared.ErrUnauthorized)
				return
			}
			ctx := shared.ContextWithUser(r.Context(), &shared.CurrentUser{
				ID:          user.ID,
				Email:       user.Email,
				DisplayName: user.DisplayName,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
