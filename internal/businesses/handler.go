package businesses

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/ledgerkeep/ledgerkeep/internal/platform/httpx"
	"github.com/ledgerkeep/ledgerkeep/internal/shared"
)

// Handler exposes business endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers business routes for authenticated callers.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Route("/{businessID}", func(r chi.Router) {
		r.Get("/", h.get)
		r.Patch("/", h.update)
		r.Delete("/", h.remove)
	})
}

type createBusinessRequest struct {
	Name           string `json:"name" validate:"required,max=120"`
	Currency       string `json:"currency" validate:"required,len=3"`
	OrganizationID string `json:"organizationId" validate:"omitempty,uuid4"`
}

type updateBusinessRequest struct {
	Name     string `json:"name" validate:"omitempty,max=120"`
	Currency string `json:"currency" validate:"omitempty,len=3"`
}

type businessResponse struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organizationId"`
	Name           string `json:"name"`
	Currency       string `json:"currency"`
	CreatedAt      string `json:"createdAt"`
}

type membershipResponse struct {
	businessResponse
	Role string `json:"role"`
}

func toBusinessResponse(b Business) businessResponse {
	return businessResponse{
		ID:             b.ID.String(),
		OrganizationID: b.OrganizationID.String(),
		Name:           b.Name,
		Currency:       b.Currency,
		CreatedAt:      b.CreatedAt.Format(time.RFC3339),
	}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	user := shared.UserFromContext(r.Context())
	if user == nil {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}

	memberships, err := h.service.List(r.Context(), user.ID)
	if err != nil {
		h.logger.Error("list businesses", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	out := make([]membershipResponse, 0, len(memberships))
	for _, m := range memberships {
		out = append(out, membershipResponse{
			businessResponse: toBusinessResponse(m.Business),
			Role:             string(m.Role),
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

	var req createBusinessRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.ErrValidation)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, shared.ErrValidation)
		return
	}

	var orgID *uuid.UUID
	if req.OrganizationID != "" {
		parsed, err := uuid.Parse(req.OrganizationID)
		if err != nil {
			httpx.RespondError(w, shared.ErrValidation)
			return
		}
		orgID = &parsed
	}

	business, err := h.service.Create(r.Context(), *user, orgID, req.Name, req.Currency)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toBusinessResponse(business))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	user, businessID, ok := h.scope(w, r)
	if !ok {
		return
	}

	business, err := h.service.Get(r.Context(), *user, businessID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toBusinessResponse(business))
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	user, businessID, ok := h.scope(w, r)
	if !ok {
		return
	}

	var req updateBusinessRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.ErrValidation)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, shared.ErrValidation)
		return
	}

	business, err := h.service.Update(r.Context(), *user, businessID, req.Name, req.Currency)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toBusinessResponse(business))
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	user, businessID, ok := h.scope(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), *user, businessID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) scope(w http.ResponseWriter, r *http.Request) (*shared.CurrentUser, uuid.UUID, bool) {
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
