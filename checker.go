package scopekit

// Checker answers authorization checks for one principal from a resolved
// effective permission set. It is typically created by the middleware and
// stored in context for use in handlers.
//
// A Checker is a snapshot: it does not observe invalidations made after it
// was created, so keep it to the lifetime of one request.
type Checker struct {
	set *EffectivePermissionSet
}

// NewChecker creates a new Checker over set.
func NewChecker(set *EffectivePermissionSet) *Checker {
	return &Checker{set: set}
}

// PrincipalID returns the principal ID this checker is for.
func (c *Checker) PrincipalID() string {
	return c.set.PrincipalID()
}

// Scope returns the principal's scope.
func (c *Checker) Scope() ScopeDescriptor {
	return c.set.Scope()
}

// Authorize decides key on a resource owned by businessID.
func (c *Checker) Authorize(key PermissionKey, businessID string) Decision {
	return Enforce(c.set, key, businessID)
}

// Can checks if the principal may perform key on a resource owned by businessID.
//
// Example:
//
//	if checker.Can(scopekit.Key("order", "refund"), order.BusinessID) {
//	    // refund allowed
//	}
func (c *Checker) Can(key PermissionKey, businessID string) bool {
	return c.Authorize(key, businessID).Allowed
}

// CanAny checks if any of keys is allowed on businessID.
func (c *Checker) CanAny(keys []PermissionKey, businessID string) bool {
	for _, key := range keys {
		if c.Can(key, businessID) {
			return true
		}
	}
	return false
}

// CanAll checks if every key is allowed on businessID.
// An empty list is never allowed.
func (c *Checker) CanAll(keys []PermissionKey, businessID string) bool {
	if len(keys) == 0 {
		return false
	}
	for _, key := range keys {
		if !c.Can(key, businessID) {
			return false
		}
	}
	return true
}

// Permissions returns the effective permission keys, ignoring scope.
func (c *Checker) Permissions() []PermissionKey {
	return c.set.Permissions()
}
