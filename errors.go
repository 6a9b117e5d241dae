package scopekit

import (
	"errors"
	"fmt"
)

// Sentinel errors for scopekit operations.
var (
	// ErrDuplicatePermission is returned when a (resource, action) pair is registered twice.
	ErrDuplicatePermission = errors.New("scopekit: duplicate permission")

	// ErrInvalidPermission is returned when a permission key is malformed.
	ErrInvalidPermission = errors.New("scopekit: invalid permission")

	// ErrPermissionNotFound is returned when a permission does not exist in the catalog.
	ErrPermissionNotFound = errors.New("scopekit: permission not found")

	// ErrInvalidRole is returned when a role name or input is malformed.
	ErrInvalidRole = errors.New("scopekit: invalid role")

	// ErrInvalidScope is returned when a role scope and its business id disagree.
	ErrInvalidScope = errors.New("scopekit: invalid scope")

	// ErrDuplicateRole is returned when a role name is already taken within its scope.
	ErrDuplicateRole = errors.New("scopekit: duplicate role")

	// ErrRoleNotFound is returned when a role does not exist.
	ErrRoleNotFound = errors.New("scopekit: role not found")

	// ErrProtectedRole is returned when a non-elevated actor renames or deletes a system role.
	ErrProtectedRole = errors.New("scopekit: protected role")

	// ErrInvalidLegacyRole is returned for a legacy role outside the fixed enum.
	ErrInvalidLegacyRole = errors.New("scopekit: invalid legacy role")

	// ErrPrincipalNotFound is returned when the referenced principal does not exist.
	ErrPrincipalNotFound = errors.New("scopekit: principal not found")

	// ErrPrincipalExists is returned when creating a principal whose id is taken.
	ErrPrincipalExists = errors.New("scopekit: principal already exists")

	// ErrPrincipalInactive is returned when a deactivated principal is authorized.
	ErrPrincipalInactive = errors.New("scopekit: principal inactive")

	// ErrOutOfScope is returned when the target business lies outside the principal's scope.
	ErrOutOfScope = errors.New("scopekit: out of scope")

	// ErrPermissionMissing is returned when the effective set lacks the required permission.
	ErrPermissionMissing = errors.New("scopekit: permission missing")

	// ErrNoPrincipalID is returned when a principal ID is not found in context.
	ErrNoPrincipalID = errors.New("scopekit: no principal ID in context")

	// ErrInvalidBusiness is returned when a target business cannot be extracted from a request.
	ErrInvalidBusiness = errors.New("scopekit: invalid business")

	// ErrStorageUnavailable is returned when the storage collaborator fails.
	// It is never a denial.
	ErrStorageUnavailable = errors.New("scopekit: storage unavailable")

	// ErrCacheUnavailable is returned when invalidations cannot be delivered.
	ErrCacheUnavailable = errors.New("scopekit: cache unavailable")

	// ErrInvalidConfig is returned when configuration values are out of range.
	ErrInvalidConfig = errors.New("scopekit: invalid config")
)

// Error wraps a sentinel error with additional context.
type Error struct {
	Err         error  // Underlying sentinel error
	Message     string // Additional context
	PrincipalID string // Principal involved (if applicable)
	BusinessID  string // Business involved (if applicable)
	Role        string // Role involved (if applicable)
	Permission  string // Permission key involved (if applicable)
	ActorID     string // Actor who triggered the error (if applicable)
	Cause       error  // Underlying failure, e.g. a driver error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Err.Error()
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap exposes both the sentinel and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

// NewError creates a new Error with context.
func NewError(err error, message string) *Error {
	return &Error{
		Err:     err,
		Message: message,
	}
}

// WithPrincipal adds principal information to the error.
func (e *Error) WithPrincipal(principalID string) *Error {
	e.PrincipalID = principalID
	return e
}

// WithBusiness adds business information to the error.
func (e *Error) WithBusiness(businessID string) *Error {
	e.BusinessID = businessID
	return e
}

// WithRole adds role information to the error.
func (e *Error) WithRole(role string) *Error {
	e.Role = role
	return e
}

// WithPermission adds permission information to the error.
func (e *Error) WithPermission(key PermissionKey) *Error {
	e.Permission = key.String()
	return e
}

// WithActor adds actor information to the error.
func (e *Error) WithActor(actorID string) *Error {
	e.ActorID = actorID
	return e
}

// WithCause attaches the underlying failure.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

// storageError wraps a store failure so callers can tell it apart from a denial.
func storageError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStorageUnavailable) {
		return err
	}
	return NewError(ErrStorageUnavailable, op).WithCause(err)
}

// IsDenied reports whether err carries one of the denial reasons.
func IsDenied(err error) bool {
	return errors.Is(err, ErrOutOfScope) ||
		errors.Is(err, ErrPermissionMissing) ||
		errors.Is(err, ErrPrincipalInactive) ||
		errors.Is(err, ErrPrincipalNotFound)
}

// IsOutOfScope checks if an error is a tenant mismatch.
func IsOutOfScope(err error) bool {
	return errors.Is(err, ErrOutOfScope)
}

// IsPermissionMissing checks if an error is an ordinary authorization denial.
func IsPermissionMissing(err error) bool {
	return errors.Is(err, ErrPermissionMissing)
}

// IsInvalidScope checks if an error is due to an invalid role scope.
func IsInvalidScope(err error) bool {
	return errors.Is(err, ErrInvalidScope)
}

// IsNotFound checks if an error names a missing principal, role or permission.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPrincipalNotFound) ||
		errors.Is(err, ErrRoleNotFound) ||
		errors.Is(err, ErrPermissionNotFound)
}

// IsStorageUnavailable checks if permissions could not be determined.
func IsStorageUnavailable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable) || errors.Is(err, ErrCacheUnavailable)
}
