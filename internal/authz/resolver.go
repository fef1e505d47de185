package authz

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// SubscriptionRow is the slice of a subscription the resolver needs.
type SubscriptionRow struct {
	Plan   PlanKey
	Status SubscriptionStatus
}

// SubscriptionSource provides the point reads behind plan resolution.
type SubscriptionSource interface {
	// BusinessOrganization returns the owning organization of a business.
	// found is false when the business has no row at all; a nil org ID with
	// found=true marks a legacy unassigned business.
	BusinessOrganization(ctx context.Context, businessID uuid.UUID) (orgID *uuid.UUID, found bool, err error)
	// SubscriptionsFor returns the subscription rows of an organization.
	SubscriptionsFor(ctx context.Context, orgID uuid.UUID) ([]SubscriptionRow, error)
}

// PlanResolver computes the effective tier for a business. Anything short of
// an active subscription row resolves to the free tier: unassigned
// businesses, missing rows, and lapsed (cancelled or past_due) rows alike.
type PlanResolver struct {
	src SubscriptionSource
}

// NewPlanResolver constructs a PlanResolver.
func NewPlanResolver(src SubscriptionSource) *PlanResolver {
	return &PlanResolver{src: src}
}

// EffectivePlan implements PlanStore.
func (r *PlanResolver) EffectivePlan(ctx context.Context, businessID uuid.UUID) (PlanKey, error) {
	orgID, found, err := r.src.BusinessOrganization(ctx, businessID)
	if err != nil {
		return PlanFree, fmt.Errorf("authz: resolve organization: %w", err)
	}
	if !found || orgID == nil {
		return PlanFree, nil
	}

	subs, err := r.src.SubscriptionsFor(ctx, *orgID)
	if err != nil {
		return PlanFree, fmt.Errorf("authz: resolve subscription: %w", err)
	}
	for _, sub := range subs {
		if sub.Status == StatusActive {
			return sub.Plan, nil
		}
	}
	return PlanFree, nil
}
