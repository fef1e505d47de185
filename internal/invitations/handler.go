package invitations

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

// Handler exposes invitation and membership endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	guard    authz.Middleware
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, guard authz.Middleware) *Handler {
	return &Handler{logger: logger, service: service, guard: guard, validate: validator.New()}
}

// MountBusinessRoutes registers the business-scoped membership routes. The
// guard middleware authorizes against the {businessID} route param; member
// removal stays unguarded because members may remove themselves.
func (h *Handler) MountBusinessRoutes(r chi.Router) {
	r.Route("/invitations", func(r chi.Router) {
		r.Use(h.guard.Require(authz.PermUserInvite))
		r.Get("/", h.listForBusiness)
		r.Post("/", h.invite)
		r.Delete("/{invitationID}", h.cancel)
	})
	r.With(h.guard.Require(authz.PermTransactionView)).Get("/members", h.members)
	r.With(h.guard.RequireOwner()).Patch("/members/{userID}", h.updateMemberRole)
	r.Delete("/members/{userID}", h.removeMember)
}

// MountUserRoutes registers the invitee-side routes.
func (h *Handler) MountUserRoutes(r chi.Router) {
	r.Get("/", h.listForUser)
	r.Post("/{invitationID}/accept", h.accept)
	r.Post("/{invitationID}/decline", h.decline)
}

type inviteRequest struct {
	Email string `json:"email" validate:"required,email"`
	Role  string `json:"role" validate:"required,oneof=owner manager cashier viewer"`
}

type updateRoleRequest struct {
	Role string `json:"role" validate:"required,oneof=owner manager cashier viewer"`
}

type invitationResponse struct {
	ID           string `json:"id"`
	BusinessID   string `json:"businessId"`
	BusinessName string `json:"businessName,omitempty"`
	Email        string `json:"email"`
	Role         string `json:"role"`
	Status       string `json:"status"`
	ExpiresAt    string `json:"expiresAt,omitempty"`
}

type businessMemberResponse struct {
	UserID      string `json:"userId"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
}

func toInvitationResponse(inv Invitation) invitationResponse {
	out := invitationResponse{
		ID:           inv.ID.String(),
		BusinessID:   inv.BusinessID.String(),
		BusinessName: inv.BusinessName,
		Email:        inv.Email,
		Role:         string(inv.Role),
		Status:       string(inv.Status),
	}
	if !inv.ExpiresAt.IsZero() {
		out.ExpiresAt = inv.ExpiresAt.Format(time.RFC3339)
	}
	return out
}

func (h *Handler) invite(w http.ResponseWriter, r *http.Request) {
	user, businessID, ok := h.scope(w, r)
	if !ok {
		return
	}

	var req inviteRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.ErrValidation)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, shared.ErrValidation)
		return
	}

	inv, err := h.service.Invite(r.Context(), *user, businessID, req.Email, authz.PolicyKey(req.Role))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toInvitationResponse(inv))
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	user, businessID, ok := h.scope(w, r)
	if !ok {
		return
	}
	invitationID, err := uuid.Parse(chi.URLParam(r, "invitationID"))
	if err != nil {
		httpx.RespondError(w, shared.ErrNotFound)
		return
	}

	if err := h.service.Cancel(r.Context(), *user, businessID, invitationID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) listForBusiness(w http.ResponseWriter, r *http.Request) {
	user, businessID, ok := h.scope(w, r)
	if !ok {
		return
	}

	invitations, err := h.service.ListForBusiness(r.Context(), *user, businessID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	out := make([]invitationResponse, 0, len(invitations))
	for _, inv := range invitations {
		out = append(out, toInvitationResponse(inv))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) listForUser(w http.ResponseWriter, r *http.Request) {
	user := shared.UserFromContext(r.Context())
	if user == nil {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}

	invitations, err := h.service.ListForUser(r.Context(), *user)
	if err != nil {
		h.logger.Error("list invitations", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	out := make([]invitationResponse, 0, len(invitations))
	for _, inv := range invitations {
		out = append(out, toInvitationResponse(inv))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) accept(w http.ResponseWriter, r *http.Request) {
	user := shared.UserFromContext(r.Context())
	if user == nil {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	invitationID, err := uuid.Parse(chi.URLParam(r, "invitationID"))
	if err != nil {
		httpx.RespondError(w, shared.ErrNotFound)
		return
	}

	if err := h.service.Accept(r.Context(), *user, invitationID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) decline(w http.ResponseWriter, r *http.Request) {
	user := shared.UserFromContext(r.Context())
	if user == nil {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	invitationID, err := uuid.Parse(chi.URLParam(r, "invitationID"))
	if err != nil {
		httpx.RespondError(w, shared.ErrNotFound)
		return
	}

	if err := h.service.Decline(r.Context(), *user, invitationID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) members(w http.ResponseWriter, r *http.Request) {
	user, businessID, ok := h.scope(w, r)
	if !ok {
		return
	}

	members, err := h.service.Members(r.Context(), *user, businessID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	out := make([]businessMemberResponse, 0, len(members))
	for _, m := range members {
		out = append(out, businessMemberResponse{
			UserID:      m.UserID.String(),
			Email:       m.Email,
			DisplayName: m.DisplayName,
			Role:        string(m.Role),
		})
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) updateMemberRole(w http.ResponseWriter, r *http.Request) {
	user, businessID, ok := h.scope(w, r)
	if !ok {
		return
	}
	targetID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		httpx.RespondError(w, shared.ErrNotFound)
		return
	}

	var req updateRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.ErrValidation)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, shared.ErrValidation)
		return
	}

	if err := h.service.UpdateMemberRole(r.Context(), *user, businessID, targetID, authz.PolicyKey(req.Role)); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) removeMember(w http.ResponseWriter, r *http.Request) {
	user, businessID, ok := h.scope(w, r)
	if !ok {
		return
	}
	targetID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		httpx.RespondError(w, shared.ErrNotFound)
		return
	}

	if err := h.service.RemoveMember(r.Context(), *user, businessID, targetID); err != nil {
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
