package authz

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ledgerkeep/ledgerkeep/internal/shared"
)

// Denial reasons, surfaced only through logs and metrics. The HTTP shape of
// every denial is identical.
const (
	ReasonNoRole         = "no_role"
	ReasonRoleLacksPerm  = "role_lacks_permission"
	ReasonPlanRequired   = "plan_upgrade_required"
	ReasonOwnerRequired  = "owner_role_required"
	outcomeAllowed       = "allowed"
	outcomeDenied        = "denied"
)

// RoleStore resolves a user's role within a business. Implementations must
// return PolicyNone when no role row exists and must not treat soft-deleted
// businesses as absent; deletion filtering belongs to the data readers.
type RoleStore interface {
	RoleFor(ctx context.Context, userID, businessID uuid.UUID) (PolicyKey, error)
}

// PlanStore resolves the effective subscription tier for a business.
// Implementations return PlanFree for unassigned businesses and for
// organizations without an active subscription row.
type PlanStore interface {
	EffectivePlan(ctx context.Context, businessID uuid.UUID) (PlanKey, error)
}

// DecisionRecorder receives gate outcomes for metrics.
type DecisionRecorder interface {
	AuthzDecision(outcome, reason string)
}

// Gate composes role and plan resolution into a single authorize-or-reject
// decision per (user, business, permission).
type Gate struct {
	roles   RoleStore
	plans   PlanStore
	metrics DecisionRecorder
}

// NewGate constructs a Gate. metrics may be nil.
func NewGate(roles RoleStore, plans PlanStore, metrics DecisionRecorder) *Gate {
	return &Gate{roles: roles, plans: plans, metrics: metrics}
}

// Authorize checks that the user may perform perm on the business.
//
// The role check runs strictly before the plan check, and the plan resolver
// is consulted only for plan-gated permissions. A caller without a role must
// never learn whether the plan would have permitted the action.
func (g *Gate) Authorize(ctx context.Context, userID, businessID uuid.UUID, perm Permission) error {
	role, err := g.roles.RoleFor(ctx, userID, businessID)
	if err != nil {
		return fmt.Errorf("authz: resolve role: %w", err)
	}
	if role == PolicyNone {
		return g.deny(ReasonNoRole)
	}
	if !roleAllows(role, perm) {
		return g.deny(ReasonRoleLacksPerm)
	}
	if !IsGated(perm) {
		return g.allow()
	}

	plan, err := g.plans.EffectivePlan(ctx, businessID)
	if err != nil {
		return fmt.Errorf("authz: resolve plan: %w", err)
	}
	if !Plan(plan).HasFeature(perm) {
		return g.deny(ReasonPlanRequired)
	}
	return g.allow()
}

// RequireOwner succeeds only when the user's role is owner. Used for
// destructive whole-business operations regardless of fine-grained
// permissions.
func (g *Gate) RequireOwner(ctx context.Context, userID, businessID uuid.UUID) error {
	role, err := g.roles.RoleFor(ctx, userID, businessID)
	if err != nil {
		return fmt.Errorf("authz: resolve role: %w", err)
	}
	if role != PolicyOwner {
		return g.deny(ReasonOwnerRequired)
	}
	return g.allow()
}

// EffectivePlan exposes plan resolution to callers that enforce numeric
// limits rather than permissions.
func (g *Gate) EffectivePlan(ctx context.Context, businessID uuid.UUID) (PlanKey, error) {
	return g.plans.EffectivePlan(ctx, businessID)
}

func (g *Gate) allow() error {
	if g.metrics != nil {
		g.metrics.AuthzDecision(outcomeAllowed, "")
	}
	return nil
}

func (g *Gate) deny(reason string) error {
	if g.metrics != nil {
		g.metrics.AuthzDecision(outcomeDenied, reason)
	}
	return fmt.Errorf("authz: %s: %w", reason, shared.ErrForbidden)
}
