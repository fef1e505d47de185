package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerkeep/ledgerkeep/internal/authz"
)

// Store defines the subscription persistence used by the mutator.
type Store interface {
	FindByStripeID(ctx context.Context, stripeSubscriptionID string) (Subscription, bool, error)
	FindByOrganization(ctx context.Context, orgID uuid.UUID) (Subscription, bool, error)
	Insert(ctx context.Context, sub Subscription) error
	Update(ctx context.Context, sub Subscription) error
}

// Service applies verified billing events to subscription state. Events with
// no matching row or missing identifying references are logged no-ops so
// that duplicate and out-of-order delivery converges instead of failing.
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the entitlement mutator.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger, now: time.Now}
}

// Apply dispatches a verified event to its state transition.
func (s *Service) Apply(ctx context.Context, event Event) error {
	switch event.Type {
	case EventCheckoutCompleted:
		var session CheckoutSession
		if err := json.Unmarshal(event.Data.Object, &session); err != nil {
			return fmt.Errorf("billing: decode checkout session: %w", err)
		}
		return s.applyCheckoutCompleted(ctx, session)
	case EventSubscriptionUpdated:
		var sub StripeSubscription
		if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
			return fmt.Errorf("billing: decode subscription: %w", err)
		}
		return s.applySubscriptionUpdated(ctx, sub)
	case EventSubscriptionDeleted:
		var sub StripeSubscription
		if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
			return fmt.Errorf("billing: decode subscription: %w", err)
		}
		return s.applySubscriptionDeleted(ctx, sub)
	case EventInvoicePaid:
		var invoice Invoice
		if err := json.Unmarshal(event.Data.Object, &invoice); err != nil {
			return fmt.Errorf("billing: decode invoice: %w", err)
		}
		return s.applyInvoicePaid(ctx, invoice)
	default:
		s.log(ctx, "ignoring unhandled event type", event)
		return nil
	}
}

// applyCheckoutCompleted upserts the organization's subscription, matching
// by external subscription id first and organization second so replays
// converge onto one row.
func (s *Service) applyCheckoutCompleted(ctx context.Context, session CheckoutSession) error {
	orgRef := session.ClientReferenceID
	if orgRef == "" {
		orgRef = session.Metadata["organizationId"]
	}
	if orgRef == "" || session.Subscription == "" {
		s.logger.Info("checkout event without organization or subscription reference, skipping",
			slog.String("session_id", session.ID))
		return nil
	}
	orgID, err := uuid.Parse(orgRef)
	if err != nil {
		s.logger.Info("checkout event with malformed organization reference, skipping",
			slog.String("session_id", session.ID))
		return nil
	}

	existing, found, err := s.store.FindByStripeID(ctx, session.Subscription)
	if err != nil {
		return err
	}
	if !found {
		existing, found, err = s.store.FindByOrganization(ctx, orgID)
		if err != nil {
			return err
		}
	}

	now := s.now().UTC()
	if found {
		existing.Plan = authz.PlanPro
		existing.Status = authz.StatusActive
		existing.StripeSubscriptionID = session.Subscription
		existing.StripeCustomerID = session.Customer
		existing.CancelAtPeriodEnd = false
		existing.UpdatedAt = now
		return s.store.Update(ctx, existing)
	}

	return s.store.Insert(ctx, Subscription{
		ID:                   uuid.New(),
		OrganizationID:       orgID,
		Plan:                 authz.PlanPro,
		Status:               authz.StatusActive,
		StripeSubscriptionID: session.Subscription,
		StripeCustomerID:     session.Customer,
		CancelAtPeriodEnd:    false,
		CreatedAt:            now,
		UpdatedAt:            now,
	})
}

func (s *Service) applySubscriptionUpdated(ctx context.Context, sub StripeSubscription) error {
	existing, found, err := s.store.FindByStripeID(ctx, sub.ID)
	if err != nil {
		return err
	}
	if !found {
		s.logger.Info("subscription update for unknown subscription, skipping",
			slog.String("stripe_subscription_id", sub.ID))
		return nil
	}

	existing.Status = mapProviderStatus(sub.Status)
	existing.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
	existing.CurrentPeriodStart = epochTime(sub.CurrentPeriodStart)
	existing.CurrentPeriodEnd = epochTime(sub.CurrentPeriodEnd)
	existing.UpdatedAt = s.now().UTC()
	return s.store.Update(ctx, existing)
}

func (s *Service) applySubscriptionDeleted(ctx context.Context, sub StripeSubscription) error {
	existing, found, err := s.store.FindByStripeID(ctx, sub.ID)
	if err != nil {
		return err
	}
	if !found {
		s.logger.Info("subscription deletion for unknown subscription, skipping",
			slog.String("stripe_subscription_id", sub.ID))
		return nil
	}

	existing.Status = authz.StatusCancelled
	existing.Plan = authz.PlanFree
	existing.CancelAtPeriodEnd = false
	existing.UpdatedAt = s.now().UTC()
	return s.store.Update(ctx, existing)
}

func (s *Service) applyInvoicePaid(ctx context.Context, invoice Invoice) error {
	if invoice.Subscription == "" {
		s.logger.Info("invoice without subscription reference, skipping",
			slog.String("invoice_id", invoice.ID))
		return nil
	}
	existing, found, err := s.store.FindByStripeID(ctx, invoice.Subscription)
	if err != nil {
		return err
	}
	if !found {
		s.logger.Info("invoice for unknown subscription, skipping",
			slog.String("stripe_subscription_id", invoice.Subscription))
		return nil
	}

	existing.Status = authz.StatusActive
	existing.CurrentPeriodStart = epochTime(invoice.PeriodStart)
	existing.CurrentPeriodEnd = epochTime(invoice.PeriodEnd)
	existing.UpdatedAt = s.now().UTC()
	return s.store.Update(ctx, existing)
}

func (s *Service) log(ctx context.Context, msg string, event Event) {
	if s.logger == nil {
		return
	}
	s.logger.Debug(msg, slog.String("event_id", event.ID), slog.String("event_type", event.Type))
}
