package auth

import "testing"

func TestHasRequiredRole(t *testing.T) {
	for _, role := range AllowedRoles {
		if !HasRequiredRole(role, role) {
			t.Fatalf("expected %s to satisfy itself", role)
		}
	}
	if !HasRequiredRole(RoleSuperadmin, RoleViewer) {
		t.Fatalf("superadmin must satisfy viewer")
	}
	if !HasRequiredRole(RoleManager, RoleViewer) {
		t.Fatalf("manager must satisfy viewer")
	}
	if HasRequiredRole(RoleViewer, RoleManager) {
		t.Fatalf("viewer must not satisfy manager")
	}
	if HasRequiredRole(RoleUnknown, RoleUnknown) {
		t.Fatalf("unknown role must never satisfy a requirement")
	}
}

func TestRoleRanksAreStrictlyMonotonic(t *testing.T) {
	prev := 4
	for _, role := range AllowedRoles {
		if role.Rank() >= prev {
			t.Fatalf("rank of %s (%d) not below %d", role, role.Rank(), prev)
		}
		prev = role.Rank()
	}
	if RoleSuperadmin.Rank() != 3 || RoleManager.Rank() != 2 || RoleViewer.Rank() != 1 {
		t.Fatalf("unexpected ranks: %d %d %d", RoleSuperadmin.Rank(), RoleManager.Rank(), RoleViewer.Rank())
	}
}

func TestParseRole(t *testing.T) {
	cases := map[string]Role{
		"superadmin": RoleSuperadmin,
		"manager":    RoleManager,
		" viewer ":   RoleViewer,
	}
	for input, want := range cases {
		got, err := ParseRole(input)
		if err != nil {
			t.Fatalf("ParseRole(%q): %v", input, err)
		}
		if got != want {
			t.Fatalf("ParseRole(%q)=%s, want %s", input, got, want)
		}
	}
	for _, bad := range []string{"", "admin", "Superadmin", "owner"} {
		if _, err := ParseRole(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestRoleTextRoundTripRejectsUnknown(t *testing.T) {
	var r Role
	if err := r.UnmarshalText([]byte("god")); err == nil {
		t.Fatalf("expected unknown role to be rejected")
	}
	if _, err := RoleUnknown.MarshalText(); err == nil {
		t.Fatalf("expected unknown role to refuse encoding")
	}
}

func TestHasPermission(t *testing.T) {
	super := &AdminRow{Role: RoleSuperadmin}
	manager := &AdminRow{Role: RoleManager, Permissions: map[string]bool{"custom_x": true, "custom_off": false}}
	viewer := &AdminRow{Role: RoleViewer}

	for _, action := range []string{ActionCreateAdmin, ActionDeleteUser, "anything", ""} {
		if !HasPermission(super, action) {
			t.Fatalf("superadmin denied %q", action)
		}
	}

	cases := []struct {
		admin  *AdminRow
		action string
		want   bool
	}{
		{viewer, ActionDeleteUser, false},
		{manager, ActionDeleteUser, true},
		{manager, ActionApproveTherapist, true},
		{viewer, ActionApproveTherapist, false},
		{manager, ActionCreateAdmin, false},
		{manager, ActionUpdateAdminRole, false},
		{viewer, ActionViewLogs, true},
		{viewer, ActionViewPayments, true},
		{manager, "custom_x", true},
		{manager, "custom_off", false},
		{manager, "custom_missing", false},
		{viewer, ActionCancelSubscription, false},
		{&AdminRow{Role: RoleViewer, Permissions: map[string]bool{ActionCancelSubscription: true}}, ActionCancelSubscription, true},
		{&AdminRow{Role: RoleViewer, Permissions: map[string]bool{ActionDeleteUser: true}}, ActionDeleteUser, false},
		{&AdminRow{Role: RoleUnknown, Permissions: map[string]bool{"custom_x": true}}, "custom_x", false},
		{nil, ActionViewUsers, false},
	}
	for i, tc := range cases {
		if got := HasPermission(tc.admin, tc.action); got != tc.want {
			t.Fatalf("case %d: HasPermission(%q)=%v, want %v", i, tc.action, got, tc.want)
		}
	}
}

func TestRoleActions(t *testing.T) {
	if got := len(RoleActions(RoleSuperadmin)); got != len(fixedActions) {
		t.Fatalf("superadmin should hold every fixed action, got %d", got)
	}
	manager := RoleActions(RoleManager)
	for _, a := range manager {
		if fixedActions[a] == classAdminManagement {
			t.Fatalf("manager must not hold %s", a)
		}
	}
	if len(manager) != 13 {
		t.Fatalf("manager should hold mutations and reads, got %v", manager)
	}
	viewer := RoleActions(RoleViewer)
	if len(viewer) != 4 {
		t.Fatalf("viewer should hold the four read-only actions, got %v", viewer)
	}
	if RoleActions(RoleUnknown) != nil {
		t.Fatalf("unknown role should hold nothing")
	}
}
