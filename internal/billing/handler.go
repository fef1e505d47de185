package billing

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ledgerkeep/ledgerkeep/internal/platform/httpx"
)

const maxWebhookBody = 1 << 20

// Enqueuer hands a verified raw event to the background worker. A nil
// Enqueuer makes the handler apply events inline.
type Enqueuer interface {
	EnqueueBillingEvent(ctx context.Context, raw []byte) error
}

// EventRecorder receives webhook outcomes for metrics.
type EventRecorder interface {
	WebhookEvent(eventType, outcome string)
}

// Handler terminates the Stripe webhook endpoint. Signature verification
// runs before any event semantics are parsed; unverified payloads never
// reach the mutator or the queue.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	secret   string
	enqueuer Enqueuer
	recorder EventRecorder
	now      func() time.Time
}

// NewHandler builds the webhook handler. enqueuer and recorder may be nil.
func NewHandler(logger *slog.Logger, service *Service, secret string, enqueuer Enqueuer, recorder EventRecorder) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:   logger,
		service:  service,
		secret:   secret,
		enqueuer: enqueuer,
		recorder: recorder,
		now:      time.Now,
	}
}

// MountRoutes registers webhook routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/stripe", h.handleStripeEvent)
}

func (h *Handler) handleStripeEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "unreadable payload")
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	if err := VerifySignature(h.secret, signature, body, h.now()); err != nil {
		h.record("", "rejected")
		h.logger.Warn("stripe webhook signature rejected", slog.String("remote", r.RemoteAddr))
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid signature")
		return
	}

	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		h.record("", "malformed")
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed event")
		return
	}

	if h.enqueuer != nil {
		if err := h.enqueuer.EnqueueBillingEvent(r.Context(), body); err != nil {
			h.record(event.Type, "enqueue_failed")
			h.logger.Error("enqueue billing event", slog.String("event_id", event.ID), slog.Any("error", err))
			httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
			return
		}
	} else if err := h.service.Apply(r.Context(), event); err != nil {
		h.record(event.Type, "apply_failed")
		h.logger.Error("apply billing event", slog.String("event_id", event.ID), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}

	h.record(event.Type, "accepted")
	httpx.JSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (h *Handler) record(eventType, outcome string) {
	if h.recorder != nil {
		h.recorder.WebhookEvent(eventType, outcome)
	}
}
