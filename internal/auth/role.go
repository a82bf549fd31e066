package auth

import (
	"fmt"
	"strings"
)

// Role is a back-office privilege level. The numeric value is the privilege rank.
type Role uint8

const (
	RoleUnknown Role = iota
	RoleViewer
	RoleManager
	RoleSuperadmin
)

// AllowedRoles lists the recognized roles from highest to lowest privilege.
var AllowedRoles = []Role{RoleSuperadmin, RoleManager, RoleViewer}

// ParseRole converts a stored role name into a Role. Unrecognized names yield ErrUnrecognizedRole.
func ParseRole(name string) (Role, error) {
	switch strings.TrimSpace(name) {
	case "superadmin":
		return RoleSuperadmin, nil
	case "manager":
		return RoleManager, nil
	case "viewer":
		return RoleViewer, nil
	default:
		return RoleUnknown, fmt.Errorf("%w: %q", ErrUnrecognizedRole, name)
	}
}

// Valid reports whether r is one of the recognized roles.
func (r Role) Valid() bool {
	return r >= RoleViewer && r <= RoleSuperadmin
}

// Rank returns the privilege rank (superadmin=3, manager=2, viewer=1, unknown=0).
func (r Role) Rank() int {
	if !r.Valid() {
		return 0
	}
	return int(r)
}

func (r Role) String() string {
	switch r {
	case RoleSuperadmin:
		return "superadmin"
	case RoleManager:
		return "manager"
	case RoleViewer:
		return "viewer"
	default:
		return "unknown"
	}
}

// DisplayName is the label shown in the dashboard.
func (r Role) DisplayName() string {
	switch r {
	case RoleSuperadmin:
		return "Super Admin"
	case RoleManager:
		return "Manager"
	case RoleViewer:
		return "Viewer"
	default:
		return "Unknown"
	}
}

// MarshalText encodes the role by name.
func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: rank %d", ErrUnrecognizedRole, uint8(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText decodes a role name, rejecting anything outside the closed set.
func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// HasRequiredRole reports whether have is at least as privileged as want.
func HasRequiredRole(have, want Role) bool {
	if !have.Valid() || !want.Valid() {
		return false
	}
	return have.Rank() >= want.Rank()
}
