package auth

const (
	ActionCreateAdmin          = "create_admin"
	ActionDeleteAdmin          = "delete_admin"
	ActionUpdateAdminRole      = "update_admin_role"
	ActionApproveTherapist     = "approve_therapist"
	ActionRejectTherapist      = "reject_therapist"
	ActionReviewTherapist      = "review_therapist"
	ActionUpdateTherapist      = "update_therapist"
	ActionDeleteTherapist      = "delete_therapist"
	ActionResolveTherapistEdit = "resolve_therapist_edit"
	ActionResolveProfileEdit   = "resolve_profile_edit"
	ActionUpdateUser           = "update_user"
	ActionDeleteUser           = "delete_user"
	ActionViewUsers            = "view_users"
	ActionViewTherapists       = "view_therapists"
	ActionViewPayments         = "view_payments"
	ActionViewLogs             = "view_logs"

	// Actions below are not in the fixed table and resolve through per-admin permissions.
	ActionCancelSubscription   = "cancel_subscription"
	ActionActivateSubscription = "activate_subscription"
	ActionApproveVerification  = "approve_verification"
	ActionRejectVerification   = "reject_verification"
)

type actionClass uint8

const (
	classCustom actionClass = iota
	classAdminManagement
	classMutation
	classReadOnly
)

var fixedActions = map[string]actionClass{
	ActionCreateAdmin:          classAdminManagement,
	ActionDeleteAdmin:          classAdminManagement,
	ActionUpdateAdminRole:      classAdminManagement,
	ActionApproveTherapist:     classMutation,
	ActionRejectTherapist:      classMutation,
	ActionReviewTherapist:      classMutation,
	ActionUpdateTherapist:      classMutation,
	ActionDeleteTherapist:      classMutation,
	ActionResolveTherapistEdit: classMutation,
	ActionResolveProfileEdit:   classMutation,
	ActionUpdateUser:           classMutation,
	ActionDeleteUser:           classMutation,
	ActionViewUsers:            classReadOnly,
	ActionViewTherapists:       classReadOnly,
	ActionViewPayments:         classReadOnly,
	ActionViewLogs:             classReadOnly,
}

// HasPermission reports whether admin may perform action.
//
// Superadmins may do anything. Fixed-table actions are decided by role alone;
// any other action is granted only by an explicit true in admin.Permissions.
// The gate does not call this: every privileged handler must.
func HasPermission(admin *AdminRow, action string) bool {
	if admin == nil || !admin.Role.Valid() {
		return false
	}
	if admin.Role == RoleSuperadmin {
		return true
	}
	switch fixedActions[action] {
	case classAdminManagement:
		return false
	case classMutation:
		return admin.Role == RoleManager
	case classReadOnly:
		return true
	}
	return admin.Permissions[action]
}

// RoleActions lists the fixed-table actions role may perform, in a stable order.
func RoleActions(role Role) []string {
	ordered := []string{
		ActionCreateAdmin, ActionDeleteAdmin, ActionUpdateAdminRole,
		ActionApproveTherapist, ActionRejectTherapist, ActionReviewTherapist,
		ActionUpdateTherapist, ActionDeleteTherapist, ActionResolveTherapistEdit, ActionResolveProfileEdit,
		ActionUpdateUser, ActionDeleteUser,
		ActionViewUsers, ActionViewTherapists, ActionViewPayments, ActionViewLogs,
	}
	candidate := &AdminRow{Role: role}
	var out []string
	for _, action := range ordered {
		if HasPermission(candidate, action) {
			out = append(out, action)
		}
	}
	return out
}
