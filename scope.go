package scopekit

import "fmt"

// LegacyRole is the single role every principal carried before RBAC roles existed.
type LegacyRole string

const (
	LegacySuperAdmin      LegacyRole = "super_admin"
	LegacySystemAdmin     LegacyRole = "system_admin"
	LegacyRestaurantAdmin LegacyRole = "restaurant_admin"
	LegacyManager         LegacyRole = "manager"
	LegacyStaff           LegacyRole = "staff"
	LegacyCustomer        LegacyRole = "customer"
)

var legacyRoles = []LegacyRole{
	LegacySuperAdmin,
	LegacySystemAdmin,
	LegacyRestaurantAdmin,
	LegacyManager,
	LegacyStaff,
	LegacyCustomer,
}

// ParseLegacyRole validates s against the fixed legacy enum.
func ParseLegacyRole(s string) (LegacyRole, error) {
	for _, r := range legacyRoles {
		if string(r) == s {
			return r, nil
		}
	}
	return "", NewError(ErrInvalidLegacyRole, fmt.Sprintf("unknown legacy role %q", s))
}

// Valid reports whether r belongs to the legacy enum.
func (r LegacyRole) Valid() bool {
	_, err := ParseLegacyRole(string(r))
	return err == nil
}

// Elevated reports whether the role grants platform-wide (global) scope.
func (r LegacyRole) Elevated() bool {
	return r == LegacySuperAdmin || r == LegacySystemAdmin
}

// ScopeKind is either global (all tenants) or business (one tenant).
type ScopeKind string

const (
	ScopeGlobal   ScopeKind = "global"
	ScopeBusiness ScopeKind = "business"
)

// GlobalResource is the target business id of resources not owned by any tenant.
// Only a global scope may act on them.
const GlobalResource = ""

// ScopeDescriptor pins a principal's authority to all tenants or to one.
// For global scopes BusinessID is informational only.
type ScopeDescriptor struct {
	Kind       ScopeKind
	BusinessID string
}

// Global reports whether the scope spans every tenant.
func (s ScopeDescriptor) Global() bool {
	return s.Kind == ScopeGlobal
}

// Covers reports whether a resource owned by businessID is inside the scope.
func (s ScopeDescriptor) Covers(businessID string) bool {
	if s.Global() {
		return true
	}
	return businessID != GlobalResource && businessID == s.BusinessID
}

// String returns "global" or "business:<id>".
func (s ScopeDescriptor) String() string {
	if s.Global() {
		return string(ScopeGlobal)
	}
	return string(ScopeBusiness) + ":" + s.BusinessID
}
