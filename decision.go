package scopekit

import "fmt"

// DenyReason tells why an authorization was denied.
type DenyReason string

const (
	ReasonNone              DenyReason = ""
	ReasonOutOfScope        DenyReason = "out_of_scope"
	ReasonPermissionMissing DenyReason = "permission_missing"
	ReasonPrincipalNotFound DenyReason = "principal_not_found"
	ReasonPrincipalInactive DenyReason = "principal_inactive"
)

// Decision is the outcome of an authorization check. A denial is a normal
// value, not an error.
type Decision struct {
	Allowed     bool
	Reason      DenyReason
	PrincipalID string
	Permission  PermissionKey
	BusinessID  string
}

// Allow builds an allowing decision.
func Allow(principalID string, key PermissionKey, businessID string) Decision {
	return Decision{Allowed: true, PrincipalID: principalID, Permission: key, BusinessID: businessID}
}

// Deny builds a denying decision.
func Deny(reason DenyReason, principalID string, key PermissionKey, businessID string) Decision {
	return Decision{Reason: reason, PrincipalID: principalID, Permission: key, BusinessID: businessID}
}

// Label returns "allow" or the deny reason, suitable for metrics and logs.
func (d Decision) Label() string {
	if d.Allowed {
		return "allow"
	}
	return string(d.Reason)
}

// String describes the decision.
func (d Decision) String() string {
	target := d.BusinessID
	if target == GlobalResource {
		target = "<global>"
	}
	if d.Allowed {
		return fmt.Sprintf("allow %s %s on %s", d.PrincipalID, d.Permission, target)
	}
	return fmt.Sprintf("deny(%s) %s %s on %s", d.Reason, d.PrincipalID, d.Permission, target)
}

// Err converts a denial into a typed *Error. It returns nil for an allow.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}

	var sentinel error
	switch d.Reason {
	case ReasonOutOfScope:
		sentinel = ErrOutOfScope
	case ReasonPrincipalNotFound:
		sentinel = ErrPrincipalNotFound
	case ReasonPrincipalInactive:
		sentinel = ErrPrincipalInactive
	default:
		sentinel = ErrPermissionMissing
	}
	return NewError(sentinel, "").
		WithPrincipal(d.PrincipalID).
		WithPermission(d.Permission).
		WithBusiness(d.BusinessID)
}
