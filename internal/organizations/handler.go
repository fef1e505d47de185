package organizations

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/ledgerkeep/ledgerkeep/internal/authz"
	"github.com/ledgerkeep/ledgerkeep/internal/platform/httpx"
	"github.com/ledgerkeep/ledgerkeep/internal/shared"
)

// Handler exposes organization endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers organization routes. Callers must already be
// authenticated; membership checks happen in the service.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Route("/{orgID}", func(r chi.Router) {
		r.Get("/", h.get)
		r.Get("/members", h.members)
		r.Patch("/members/{userID}", h.updateMemberRole)
		r.Delete("/members/{userID}", h.removeMember)
		r.Post("/checkout", h.checkout)
		r.Post("/portal", h.portal)
	})
}

type createRequest struct {
	Name string `json:"name" validate:"required,max=120"`
}

type updateMemberRequest struct {
	Role string `json:"role" validate:"required,oneof=owner admin member"`
}

type checkoutRequest struct {
	Interval string `json:"interval" validate:"omitempty,oneof=month year"`
}

type organizationResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"createdAt"`
}

type overviewResponse struct {
	organizationResponse
	Role string `json:"role"`
	Plan string `json:"plan"`
}

type memberResponse struct {
	UserID      string `json:"userId"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
}

func toOrganizationResponse(org Organization) organizationResponse {
	return organizationResponse{
		ID:        org.ID.String(),
		Name:      org.Name,
		CreatedAt: org.CreatedAt.Format(time.RFC3339),
	}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	user := shared.UserFromContext(r.Context())
	if user == nil {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}

	overviews, err := h.service.ListForUser(r.Context(), user.ID)
	if err != nil {
		h.logger.Error("list organizations", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	out := make([]overviewResponse, 0, len(overviews))
	for _, ov := range overviews {
		out = append(out, overviewResponse{
			organizationResponse: toOrganizationResponse(ov.Organization),
			Role:                 string(ov.Role),
			Plan:                 string(ov.Plan),
		})
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	user := shared.UserFromContext(r.Context())
	if user == nil {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}

	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.ErrValidation)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, shared.ErrValidation)
		return
	}

	org, err := h.service.Create(r.Context(), *user, req.Name)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toOrganizationResponse(org))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	user, orgID, ok := h.scope(w, r)
	if !ok {
		return
	}

	overview, err := h.service.Get(r.Context(), *user, orgID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, overviewResponse{
		organizationResponse: toOrganizationResponse(overview.Organization),
		Role:                 string(overview.Role),
		Plan:                 string(overview.Plan),
	})
}

func (h *Handler) members(w http.ResponseWriter, r *http.Request) {
	user, orgID, ok := h.scope(w, r)
	if !ok {
		return
	}

	members, err := h.service.Members(r.Context(), *user, orgID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	out := make([]memberResponse, 0, len(members))
	for _, m := range members {
		out = append(out, memberResponse{
			UserID:      m.UserID.String(),
			Email:       m.Email,
			DisplayName: m.DisplayName,
			Role:        string(m.Role),
		})
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) updateMemberRole(w http.ResponseWriter, r *http.Request) {
	user, orgID, ok := h.scope(w, r)
	if !ok {
		return
	}
	targetID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		httpx.RespondError(w, shared.ErrNotFound)
		return
	}

	var req updateMemberRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.ErrValidation)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, shared.ErrValidation)
		return
	}

	if err := h.service.UpdateMemberRole(r.Context(), *user, orgID, targetID, authz.OrgRole(req.Role)); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) removeMember(w http.ResponseWriter, r *http.Request) {
	user, orgID, ok := h.scope(w, r)
	if !ok {
		return
	}
	targetID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		httpx.RespondError(w, shared.ErrNotFound)
		return
	}

	if err := h.service.RemoveMember(r.Context(), *user, orgID, targetID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	user, orgID, ok := h.scope(w, r)
	if !ok {
		return
	}

	req := checkoutRequest{Interval: "month"}
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, shared.ErrValidation)
			return
		}
		if err := h.validate.Struct(req); err != nil {
			httpx.RespondError(w, shared.ErrValidation)
			return
		}
		if req.Interval == "" {
			req.Interval = "month"
		}
	}

	url, err := h.service.Checkout(r.Context(), *user, orgID, req.Interval)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"url": url})
}

func (h *Handler) portal(w http.ResponseWriter, r *http.Request) {
	user, orgID, ok := h.scope(w, r)
	if !ok {
		return
	}

	url, err := h.service.Portal(r.Context(), *user, orgID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"url": url})
}

func (h *Handler) scope(w http.ResponseWriter, r *http.Request) (*shared.CurrentUser, uuid.UUID, bool) {
	user := shared.UserFromContext(r.Context())
	if user == nil {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return nil, uuid.Nil, false
	}
	orgID, err := uuid.Parse(chi.URLParam(r, "orgID"))
	if err != nil {
		httpx.RespondError(w, shared.ErrNotFound)
		return nil, uuid.Nil, false
	}
	return user, orgID, true
}
