package authz

// plans maps each tier to its entitlements.
var plans = map[PlanKey]PlanDefinition{
	PlanFree: {
		Name:     "Free",
		Features: nil,
		Limits:   PlanLimits{MaxBusinesses: 1, MaxAttachmentSizeMB: 0},
	},
	PlanPro: {
		Name: "Pro",
		Features: []Permission{
			PermAttachmentUpload,
			PermAttachmentDelete,
			PermTransactionEmail,
			PermTransactionExport,
			PermUserInvite,
		},
		Limits: PlanLimits{MaxBusinesses: 5, MaxAttachmentSizeMB: 10},
	},
}

// planGated is the union of every plan's feature list. A permission outside
// this set is governed purely by role.
var planGated = func() map[Permission]struct{} {
	gated := make(map[Permission]struct{})
	for _, def := range plans {
		for _, f := range def.Features {
			gated[f] = struct{}{}
		}
	}
	return gated
}()

// IsGated reports whether the permission additionally requires a plan feature.
func IsGated(perm Permission) bool {
	_, ok := planGated[perm]
	return ok
}

// Plan returns the definition for a tier, falling back to the free plan for
// unrecognised keys.
func Plan(key PlanKey) PlanDefinition {
	if def, ok := plans[key]; ok {
		return def
	}
	return plans[PlanFree]
}
