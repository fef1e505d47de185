package authz

// policies maps each business role to its full permission set. Each role is
// enumerated independently, nothing is derived by inheritance.
var policies = map[PolicyKey][]Permission{
	PolicyOwner: {
		PermTransactionCreate,
		PermTransactionEdit,
		PermTransactionDelete,
		PermTransactionView,
		PermTransactionEmail,
		PermTransactionExport,
		PermAccountManage,
		PermCategoryManage,
		PermBusinessManage,
		PermAttachmentUpload,
		PermAttachmentDelete,
		PermUserInvite,
	},
	PolicyManager: {
		PermTransactionCreate,
		PermTransactionEdit,
		PermTransactionDelete,
		PermTransactionView,
		PermTransactionEmail,
		PermTransactionExport,
		PermAccountManage,
		PermCategoryManage,
		PermAttachmentUpload,
		PermAttachmentDelete,
		PermUserInvite,
	},
	PolicyCashier: {
		PermTransactionCreate,
		PermTransactionView,
	},
	PolicyViewer: {
		PermTransactionView,
	},
}

// Permissions returns the permission set of a role. Unknown keys, including
// PolicyNone, yield an empty set so the gate fails closed.
func Permissions(key PolicyKey) []Permission {
	return policies[key]
}

// roleAllows reports whether the role's permission set contains perm.
func roleAllows(key PolicyKey, perm Permission) bool {
	for _, p := range policies[key] {
		if p == perm {
			return true
		}
	}
	return false
}
