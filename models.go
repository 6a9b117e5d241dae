package scopekit

import (
	"slices"
	"time"

	"github.com/uptrace/bun"
)

// Permission is a (resource, action) pair the platform understands.
// Permissions are immutable once registered.
type Permission struct {
	bun.BaseModel `bun:"table:permissions,alias:p"`

	ID          string    `bun:"id,pk"`
	Resource    string    `bun:"resource,notnull"`
	Action      string    `bun:"action,notnull"`
	Description string    `bun:"description"`
	CreatedAt   time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// Key returns the (resource, action) identity of the permission.
func (p *Permission) Key() PermissionKey {
	return PermissionKey{Resource: p.Resource, Action: p.Action}
}

// RoleScope tells whether a role applies across all tenants or within one.
type RoleScope string

const (
	RoleScopeSystem   RoleScope = "system"
	RoleScopeBusiness RoleScope = "business"
)

// Valid reports whether s is a known scope.
func (s RoleScope) Valid() bool {
	return s == RoleScopeSystem || s == RoleScopeBusiness
}

// Role is a named bundle of permissions.
// Business roles carry the id of the business that owns them; system roles carry none.
type Role struct {
	bun.BaseModel `bun:"table:roles,alias:r"`

	ID           string    `bun:"id,pk"`
	Name         string    `bun:"name,notnull"`
	Scope        RoleScope `bun:"scope,notnull"`
	BusinessID   string    `bun:"business_id,nullzero"`
	IsSystemRole bool      `bun:"is_system_role,notnull"`
	CreatedAt    time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt    time.Time `bun:"updated_at,notnull,default:current_timestamp"`

	// Loaded from role_permissions
	PermissionIDs []string `bun:"-"`
}

// HasPermission reports whether the role references the permission id.
func (r *Role) HasPermission(permissionID string) bool {
	return slices.Contains(r.PermissionIDs, permissionID)
}

func (r *Role) clone() *Role {
	c := *r
	c.PermissionIDs = slices.Clone(r.PermissionIDs)
	return &c
}

// RolePermission links a role to a permission.
type RolePermission struct {
	bun.BaseModel `bun:"table:role_permissions,alias:rp"`

	RoleID       string `bun:"role_id,pk"`
	PermissionID string `bun:"permission_id,pk"`
}

// Principal is an authenticated actor.
// The legacy role is kept for backward compatibility and feeds the same
// resolution as RBAC roles.
type Principal struct {
	bun.BaseModel `bun:"table:principals,alias:pr"`

	ID         string     `bun:"id,pk"`
	LegacyRole LegacyRole `bun:"legacy_role,notnull"`
	BusinessID string     `bun:"business_id,nullzero"`
	IsActive   bool       `bun:"is_active,notnull"`
	CreatedAt  time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt  time.Time  `bun:"updated_at,notnull,default:current_timestamp"`

	// Loaded from principal_roles and direct_grants
	RoleIDs      []string      `bun:"-"`
	DirectGrants []DirectGrant `bun:"-"`
}

func (p *Principal) clone() *Principal {
	c := *p
	c.RoleIDs = slices.Clone(p.RoleIDs)
	c.DirectGrants = slices.Clone(p.DirectGrants)
	return &c
}

// PrincipalRole links a principal to a role.
type PrincipalRole struct {
	bun.BaseModel `bun:"table:principal_roles,alias:prr"`

	PrincipalID string `bun:"principal_id,pk"`
	RoleID      string `bun:"role_id,pk"`
}

// DirectGrant gives a principal a permission outside of any role.
// An empty BusinessID means the grant is global.
type DirectGrant struct {
	bun.BaseModel `bun:"table:direct_grants,alias:dg"`

	PrincipalID  string `bun:"principal_id,pk"`
	PermissionID string `bun:"permission_id,pk"`
	BusinessID   string `bun:"business_id,pk"`
}

// AuditLog records administrative mutations for compliance and debugging.
type AuditLog struct {
	bun.BaseModel `bun:"table:authz_audit_log,alias:al"`

	ID        string    `bun:"id,pk,type:uuid,default:gen_random_uuid()"`
	Timestamp time.Time `bun:"timestamp,notnull,default:current_timestamp"`

	// Who performed the action
	ActorID string `bun:"actor_id,notnull"`

	// What was done, and to what
	Action     string `bun:"action,notnull"`
	TargetKind string `bun:"target_kind,notnull"`
	TargetID   string `bun:"target_id,notnull"`
	BusinessID string `bun:"business_id"`

	// Request metadata for forensics
	IPAddress string `bun:"ip_address"`
	UserAgent string `bun:"user_agent"`
	RequestID string `bun:"request_id"`

	Metadata map[string]any `bun:"metadata,type:jsonb"`
}

// AuditAction represents the type of action in the audit log.
type AuditAction string

const (
	AuditPermissionRegistered AuditAction = "permission.registered"
	AuditRoleCreated          AuditAction = "role.created"
	AuditRoleRenamed          AuditAction = "role.renamed"
	AuditRoleDeleted          AuditAction = "role.deleted"
	AuditPermissionAttached   AuditAction = "role.permission_attached"
	AuditPermissionDetached   AuditAction = "role.permission_detached"
	AuditPrincipalCreated     AuditAction = "principal.created"
	AuditRoleAssigned         AuditAction = "principal.role_assigned"
	AuditRoleRevoked          AuditAction = "principal.role_revoked"
	AuditPermissionGranted    AuditAction = "principal.permission_granted"
	AuditPermissionRevoked    AuditAction = "principal.permission_revoked"
	AuditPrincipalActivated   AuditAction = "principal.activated"
	AuditPrincipalDeactivated AuditAction = "principal.deactivated"
	AuditBusinessChanged      AuditAction = "principal.business_changed"
	AuditLegacyRoleChanged    AuditAction = "principal.legacy_role_changed"
)

// AuditEntry is used to create new audit log entries.
type AuditEntry struct {
	Action     AuditAction
	TargetKind InvalidationKind
	TargetID   string
	BusinessID string
	Metadata   map[string]any
}

// ToModel converts an AuditEntry to an AuditLog stamped with the request's audit context.
func (e *AuditEntry) ToModel(ac AuditContext, now time.Time) *AuditLog {
	return &AuditLog{
		Timestamp:  now,
		ActorID:    ac.ActorID,
		Action:     string(e.Action),
		TargetKind: string(e.TargetKind),
		TargetID:   e.TargetID,
		BusinessID: e.BusinessID,
		IPAddress:  ac.IPAddress,
		UserAgent:  ac.UserAgent,
		RequestID:  ac.RequestID,
		Metadata:   e.Metadata,
	}
}
