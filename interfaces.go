package scopekit

import (
	"context"

	"github.com/fernandezvara/dbkit"
)

// PermissionLoader loads a permission by id.
// Implementations return ErrPermissionNotFound for unknown ids.
type PermissionLoader interface {
	LoadPermission(ctx context.Context, id string) (*Permission, error)
}

// RoleLoader loads a role, including its permission ids.
// Implementations return ErrRoleNotFound for unknown ids.
type RoleLoader interface {
	LoadRole(ctx context.Context, id string) (*Role, error)
}

// PrincipalLoader loads a principal, including its role refs and direct grants.
// Implementations return ErrPrincipalNotFound for unknown ids.
type PrincipalLoader interface {
	LoadPrincipal(ctx context.Context, id string) (*Principal, error)
}

// PermissionStore persists the permission catalog.
type PermissionStore interface {
	PermissionLoader
	CreatePermission(ctx context.Context, p *Permission) error
	FindPermission(ctx context.Context, key PermissionKey) (*Permission, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
}

// RoleStore persists roles and their permission links.
type RoleStore interface {
	RoleLoader
	CreateRole(ctx context.Context, r *Role) error
	FindRoleByName(ctx context.Context, name, businessID string) (*Role, error)
	ListRoles(ctx context.Context, businessID string) ([]Role, error)
	RenameRole(ctx context.Context, id, name string) error
	DeleteRole(ctx context.Context, id string) error

	// AttachPermission and DetachPermission report whether the link set changed.
	AttachPermission(ctx context.Context, roleID, permissionID string) (bool, error)
	DetachPermission(ctx context.Context, roleID, permissionID string) (bool, error)
}

// PrincipalStore persists principals, their role refs and direct grants.
type PrincipalStore interface {
	PrincipalLoader
	CreatePrincipal(ctx context.Context, p *Principal) error
	UpdatePrincipal(ctx context.Context, p *Principal) error
	AddPrincipalRole(ctx context.Context, principalID, roleID string) (bool, error)
	RemovePrincipalRole(ctx context.Context, principalID, roleID string) (bool, error)
	AddDirectGrant(ctx context.Context, g DirectGrant) (bool, error)
	RemoveDirectGrant(ctx context.Context, g DirectGrant) (bool, error)
}

// AuditStore persists the administrative audit trail.
type AuditStore interface {
	AppendAudit(ctx context.Context, entry *AuditLog) error
	ListAudit(ctx context.Context, filter AuditLogFilter) ([]AuditLog, error)
}

// Store is the storage collaborator the Service runs against.
type Store interface {
	PermissionStore
	RoleStore
	PrincipalStore
	AuditStore

	// WithinTx runs fn against a transactional view of the store.
	// If fn returns an error nothing it did is persisted.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error

	// Health reports whether the store can serve requests.
	Health(ctx context.Context) dbkit.HealthStatus
}

// Invalidator drops cached resolutions named by refs.
type Invalidator interface {
	Invalidate(ctx context.Context, refs ...Invalidation) error
}
