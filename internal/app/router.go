package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/ledgerkeep/ledgerkeep/internal/auth"
	"github.com/ledgerkeep/ledgerkeep/internal/billing"
	"github.com/ledgerkeep/ledgerkeep/internal/businesses"
	"github.com/ledgerkeep/ledgerkeep/internal/invitations"
	"github.com/ledgerkeep/ledgerkeep/internal/observability"
	"github.com/ledgerkeep/ledgerkeep/internal/organizations"
	"github.com/ledgerkeep/ledgerkeep/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger *slog.Logger
	Config *Config

	AuthService *auth.Service

	AuthHandler         *auth.Handler
	OrganizationHandler *organizations.Handler
	BusinessHandler     *businesses.Handler
	InvitationHandler   *invitations.Handler
	WebhookHandler      *billing.Handler
	JobHandler          *jobs.Handler

	Metrics *observability.Metrics
}

// NewRouter constructs the chi.Router. Webhooks and health endpoints stay
// outside the authenticated group; everything else requires a bearer token.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/webhooks", func(r chi.Router) {
		params.WebhookHandler.MountRoutes(r)
	})

	r.Route("/auth", func(r chi.Router) {
		params.AuthHandler.MountRoutes(r)
	})

	r.Group(func(r chi.Router) {
		r.Use(params.AuthService.Middleware(params.Logger))

		r.Route("/session", func(r chi.Router) {
			params.AuthHandler.MountSessionRoutes(r)
		})
		r.Route("/organizations", func(r chi.Router) {
			params.OrganizationHandler.MountRoutes(r)
		})
		r.Route("/businesses", func(r chi.Router) {
			params.BusinessHandler.MountRoutes(r)
			r.Route("/{businessID}", func(r chi.Router) {
				params.InvitationHandler.MountBusinessRoutes(r)
			})
		})
		r.Route("/invitations", func(r chi.Router) {
			params.InvitationHandler.MountUserRoutes(r)
		})
		if params.JobHandler != nil {
			r.Route("/jobs", func(r chi.Router) {
				params.JobHandler.MountRoutes(r)
			})
		}
	})

	return r
}
