package scopekit

import (
	"slices"
	"time"
)

// EffectivePermissionSet is the merged result of a principal's legacy role,
// RBAC roles and direct grants. It is derived, never persisted, and must not
// be modified once returned; sets are shared between goroutines through the cache.
type EffectivePermissionSet struct {
	principalID string
	active      bool
	scope       ScopeDescriptor
	// Businesses each permission applies in. "" means anywhere the scope reaches.
	permissions map[PermissionKey]map[string]struct{}

	// Provenance, used to decide which invalidations affect this set.
	roleIDs       map[string]struct{}
	permissionIDs map[string]struct{}
	ignoredRoles  []string

	computedAt time.Time
}

func newPermissionSet(principalID string, scope ScopeDescriptor) *EffectivePermissionSet {
	return &EffectivePermissionSet{
		principalID:   principalID,
		active:        true,
		scope:         scope,
		permissions:   make(map[PermissionKey]map[string]struct{}),
		roleIDs:       make(map[string]struct{}),
		permissionIDs: make(map[string]struct{}),
	}
}

// inactiveSet is the result for a deactivated principal: empty and unscoped.
func inactiveSet(principalID string) *EffectivePermissionSet {
	set := newPermissionSet(principalID, ScopeDescriptor{Kind: ScopeBusiness})
	set.active = false
	return set
}

func (s *EffectivePermissionSet) add(p *Permission) {
	s.addFor(p, "")
}

// addFor records p as applying only to resources of businessID, or anywhere
// when businessID is empty.
func (s *EffectivePermissionSet) addFor(p *Permission, businessID string) {
	key := p.Key()
	if s.permissions[key] == nil {
		s.permissions[key] = make(map[string]struct{})
	}
	s.permissions[key][businessID] = struct{}{}
	s.permissionIDs[p.ID] = struct{}{}
}

// PrincipalID returns the principal the set was computed for.
func (s *EffectivePermissionSet) PrincipalID() string {
	return s.principalID
}

// Active reports whether the principal was active at compute time.
func (s *EffectivePermissionSet) Active() bool {
	return s.active
}

// Scope returns the scope descriptor.
func (s *EffectivePermissionSet) Scope() ScopeDescriptor {
	return s.scope
}

// Has reports whether the set contains key for any business. Scope is not considered.
func (s *EffectivePermissionSet) Has(key PermissionKey) bool {
	_, ok := s.permissions[key]
	return ok
}

// HasFor reports whether key applies to a resource owned by businessID.
// A permission qualified for one business never applies to another business
// or to a global resource. Scope is not considered.
func (s *EffectivePermissionSet) HasFor(key PermissionKey, businessID string) bool {
	businesses, ok := s.permissions[key]
	if !ok {
		return false
	}
	if _, ok := businesses[""]; ok {
		return true
	}
	if businessID == GlobalResource {
		return false
	}
	_, ok = businesses[businessID]
	return ok
}

// Len returns the number of distinct permissions.
func (s *EffectivePermissionSet) Len() int {
	return len(s.permissions)
}

// Permissions returns the keys ordered by resource, then action.
func (s *EffectivePermissionSet) Permissions() []PermissionKey {
	keys := make([]PermissionKey, 0, len(s.permissions))
	for k := range s.permissions {
		keys = append(keys, k)
	}
	SortPermissionKeys(keys)
	return keys
}

// IgnoredRoles lists business roles held by the principal whose business
// does not match the principal's own. Their permissions were not applied.
func (s *EffectivePermissionSet) IgnoredRoles() []string {
	return slices.Clone(s.ignoredRoles)
}

// ComputedAt returns when the set was computed.
func (s *EffectivePermissionSet) ComputedAt() time.Time {
	return s.computedAt
}

// References reports whether an invalidation names something this set was derived from.
func (s *EffectivePermissionSet) References(ref Invalidation) bool {
	switch ref.Kind {
	case InvalidatePrincipal:
		return ref.ID == s.principalID
	case InvalidateRole:
		_, ok := s.roleIDs[ref.ID]
		return ok
	case InvalidatePermission:
		_, ok := s.permissionIDs[ref.ID]
		return ok
	}
	return false
}
