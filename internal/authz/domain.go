// Package authz implements the role and plan based authorization core.
// Every business-scoped handler consults the Gate before touching data.
package authz

// Permission is a fine-grained action checked by the gate.
type Permission string

// Permissions checked by business-scoped handlers.
const (
	PermTransactionCreate Permission = "transaction:create"
	PermTransactionEdit   Permission = "transaction:edit"
	PermTransactionDelete Permission = "transaction:delete"
	PermTransactionView   Permission = "transaction:view"
	PermTransactionEmail  Permission = "transaction:email"
	PermTransactionExport Permission = "transaction:export"
	PermAccountManage     Permission = "account:manage"
	PermCategoryManage    Permission = "category:manage"
	PermBusinessManage    Permission = "business:manage"
	PermAttachmentUpload  Permission = "attachment:upload"
	PermAttachmentDelete  Permission = "attachment:delete"
	PermUserInvite        Permission = "user:invite"
)

// PolicyKey names a role within a business.
type PolicyKey string

// Business roles. PolicyNone is the explicit sentinel for "no role row";
// it never appears in storage.
const (
	PolicyOwner   PolicyKey = "owner"
	PolicyManager PolicyKey = "manager"
	PolicyCashier PolicyKey = "cashier"
	PolicyViewer  PolicyKey = "viewer"
	PolicyNone    PolicyKey = "none"
)

// Valid reports whether the key is a storable business role.
func (k PolicyKey) Valid() bool {
	switch k {
	case PolicyOwner, PolicyManager, PolicyCashier, PolicyViewer:
		return true
	}
	return false
}

// OrgRole names a role within an organization.
type OrgRole string

// Organization roles.
const (
	OrgRoleOwner  OrgRole = "owner"
	OrgRoleAdmin  OrgRole = "admin"
	OrgRoleMember OrgRole = "member"
)

// Valid reports whether the key is a storable organization role.
func (r OrgRole) Valid() bool {
	switch r {
	case OrgRoleOwner, OrgRoleAdmin, OrgRoleMember:
		return true
	}
	return false
}

// PlanKey names a subscription tier.
type PlanKey string

// Subscription tiers. Absence of a subscription row means PlanFree.
const (
	PlanFree PlanKey = "free"
	PlanPro  PlanKey = "pro"
)

// SubscriptionStatus is the lifecycle state of a subscription row.
type SubscriptionStatus string

// Subscription statuses. Only StatusActive rows grant entitlements.
const (
	StatusActive    SubscriptionStatus = "active"
	StatusCancelled SubscriptionStatus = "cancelled"
	StatusPastDue   SubscriptionStatus = "past_due"
)

// PlanLimits holds the numeric limits of a tier.
type PlanLimits struct {
	// MaxBusinesses caps businesses per organization, -1 means unlimited.
	MaxBusinesses       int
	MaxAttachmentSizeMB int
}

// PlanDefinition describes the entitlements of a tier.
type PlanDefinition struct {
	Name     string
	Features []Permission
	Limits   PlanLimits
}

// HasFeature reports whether the plan's feature list contains the permission.
func (d PlanDefinition) HasFeature(perm Permission) bool {
	for _, f := range d.Features {
		if f == perm {
			return true
		}
	}
	return false
}
