// Package billing applies Stripe subscription lifecycle events to stored
// entitlement state. It is the only writer of subscription rows after
// creation; authorization reads them through the authz plan resolver.
package billing

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerkeep/ledgerkeep/internal/authz"
)

// Subscription is the stored entitlement state of an organization.
type Subscription struct {
	ID                   uuid.UUID
	OrganizationID       uuid.UUID
	Plan                 authz.PlanKey
	Status               authz.SubscriptionStatus
	StripeCustomerID     string
	StripeSubscriptionID string
	CancelAtPeriodEnd    bool
	CurrentPeriodStart   *time.Time
	CurrentPeriodEnd     *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Stripe event types handled by the mutator.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventInvoicePaid         = "invoice.paid"
)

// Event is the verified webhook envelope.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// CheckoutSession is the data.object of a checkout.session.completed event.
type CheckoutSession struct {
	ID                string            `json:"id"`
	Subscription      string            `json:"subscription"`
	Customer          string            `json:"customer"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

// StripeSubscription is the data.object of customer.subscription.* events.
type StripeSubscription struct {
	ID                 string            `json:"id"`
	Customer           string            `json:"customer"`
	Status             string            `json:"status"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	Metadata           map[string]string `json:"metadata"`
}

// Invoice is the data.object of invoice.* events.
type Invoice struct {
	ID           string `json:"id"`
	Subscription string `json:"subscription"`
	Customer     string `json:"customer"`
	PeriodStart  int64  `json:"period_start"`
	PeriodEnd    int64  `json:"period_end"`
}

// mapProviderStatus converts a Stripe subscription status to the stored one.
func mapProviderStatus(provider string) authz.SubscriptionStatus {
	switch provider {
	case "past_due":
		return authz.StatusPastDue
	case "canceled", "unpaid":
		return authz.StatusCancelled
	default:
		return authz.StatusActive
	}
}

func epochTime(epoch int64) *time.Time {
	if epoch == 0 {
		return nil
	}
	t := time.Unix(epoch, 0).UTC()
	return &t
}
