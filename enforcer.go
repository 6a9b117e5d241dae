package scopekit

// Enforce decides whether set permits key on a resource owned by targetBusinessID.
//
// Scope is checked before permission membership, so a correctly permissioned
// request against another tenant is reported as ReasonOutOfScope rather than
// ReasonPermissionMissing. Pass GlobalResource for resources no tenant owns;
// only a global scope can act on them. A direct grant qualified for one
// business is honoured only on that business's resources.
func Enforce(set *EffectivePermissionSet, key PermissionKey, targetBusinessID string) Decision {
	if set == nil {
		return Deny(ReasonPermissionMissing, "", key, targetBusinessID)
	}
	if !set.Active() {
		return Deny(ReasonPrincipalInactive, set.principalID, key, targetBusinessID)
	}
	if !set.Scope().Covers(targetBusinessID) {
		return Deny(ReasonOutOfScope, set.principalID, key, targetBusinessID)
	}
	if !set.HasFor(key, targetBusinessID) {
		return Deny(ReasonPermissionMissing, set.principalID, key, targetBusinessID)
	}
	return Allow(set.principalID, key, targetBusinessID)
}
