package scopekit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// Blueprint declares a permission catalog and the roles built from it.
// It is created at startup and applied to a Service with Install; business
// roles are stamped out per tenant with Provision.
type Blueprint struct {
	mu            sync.RWMutex
	permissions   []PermissionDefinition
	systemRoles   []*RoleDefinition
	businessRoles []*RoleDefinition
}

// PermissionDefinition declares one catalog entry.
type PermissionDefinition struct {
	Key         PermissionKey
	Description string
}

// RoleDefinition declares a role and the permissions it grants.
type RoleDefinition struct {
	name      string
	scope     RoleScope
	protected bool
	grants    []PermissionKey
	blueprint *Blueprint
}

// NewBlueprint creates an empty blueprint.
func NewBlueprint() *Blueprint {
	return &Blueprint{}
}

// Permission declares a catalog entry.
//
// Example:
//
//	bp := scopekit.NewBlueprint().
//	    Permission("order", "read", "View orders").
//	    Permission("order", "refund", "Refund orders")
func (b *Blueprint) Permission(resource, action, description string) *Blueprint {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.permissions = append(b.permissions, PermissionDefinition{Key: Key(resource, action), Description: description})
	return b
}

// SystemRole starts declaring a protected system role.
//
// Example:
//
//	bp.SystemRole("support").Grants(scopekit.Key("order", "read"))
func (b *Blueprint) SystemRole(name string) *RoleDefinition {
	return b.role(name, RoleScopeSystem)
}

// BusinessRole starts declaring a role created once per business by Provision.
func (b *Blueprint) BusinessRole(name string) *RoleDefinition {
	return b.role(name, RoleScopeBusiness)
}

func (b *Blueprint) role(name string, scope RoleScope) *RoleDefinition {
	b.mu.Lock()
	defer b.mu.Unlock()

	rd := &RoleDefinition{name: name, scope: scope, protected: scope == RoleScopeSystem, blueprint: b}
	if scope == RoleScopeSystem {
		b.systemRoles = append(b.systemRoles, rd)
	} else {
		b.businessRoles = append(b.businessRoles, rd)
	}
	return rd
}

// Grants adds permissions to the role.
func (rd *RoleDefinition) Grants(keys ...PermissionKey) *RoleDefinition {
	rd.blueprint.mu.Lock()
	defer rd.blueprint.mu.Unlock()
	rd.grants = append(rd.grants, keys...)
	return rd
}

// Protected marks a business role as protected from rename and delete by
// non-elevated actors. System roles are always protected.
func (rd *RoleDefinition) Protected() *RoleDefinition {
	rd.blueprint.mu.Lock()
	defer rd.blueprint.mu.Unlock()
	rd.protected = true
	return rd
}

// SystemRole continues the chain with a new system role.
func (rd *RoleDefinition) SystemRole(name string) *RoleDefinition {
	return rd.blueprint.SystemRole(name)
}

// BusinessRole continues the chain with a new business role.
func (rd *RoleDefinition) BusinessRole(name string) *RoleDefinition {
	return rd.blueprint.BusinessRole(name)
}

// Blueprint returns the blueprint the role belongs to.
func (rd *RoleDefinition) Blueprint() *Blueprint {
	return rd.blueprint
}

// Name returns the role name.
func (rd *RoleDefinition) Name() string {
	return rd.name
}

// Permissions returns the declared catalog entries.
func (b *Blueprint) Permissions() []PermissionDefinition {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]PermissionDefinition, len(b.permissions))
	copy(out, b.permissions)
	return out
}

// Validate checks that every key is well formed and every granted key is declared.
func (b *Blueprint) Validate() error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	declared := make(map[PermissionKey]struct{}, len(b.permissions))
	for _, p := range b.permissions {
		if err := p.Key.Validate(); err != nil {
			return err
		}
		declared[p.Key] = struct{}{}
	}
	for _, rd := range append(append([]*RoleDefinition{}, b.systemRoles...), b.businessRoles...) {
		for _, key := range rd.grants {
			if _, ok := declared[key]; !ok {
				return NewError(ErrPermissionNotFound, fmt.Sprintf("role %q grants undeclared permission", rd.name)).
					WithRole(rd.name).
					WithPermission(key)
			}
		}
	}
	return nil
}

// Install registers the declared permissions and system roles on svc.
// Entries that already exist are left as they are, so Install can run on
// every start.
func (b *Blueprint) Install(ctx context.Context, svc *Service) error {
	if err := b.Validate(); err != nil {
		return err
	}

	perms := b.Permissions()
	for _, p := range perms {
		_, err := svc.RegisterPermission(ctx, p.Key.Resource, p.Key.Action, p.Description)
		if err != nil && !errors.Is(err, ErrDuplicatePermission) {
			return err
		}
	}

	b.mu.RLock()
	roles := append([]*RoleDefinition{}, b.systemRoles...)
	b.mu.RUnlock()

	for _, rd := range roles {
		if _, err := b.ensureRole(ctx, svc, rd, ""); err != nil {
			return err
		}
	}
	svc.logger.InfoContext(ctx, "blueprint installed",
		slog.Int("permissions", len(perms)),
		slog.Int("system_roles", len(roles)))
	return nil
}

// Provision creates the declared business roles for businessID and returns
// them by name. Roles the business already has are returned unchanged.
func (b *Blueprint) Provision(ctx context.Context, svc *Service, businessID string) (map[string]*Role, error) {
	if businessID == "" {
		return nil, NewError(ErrInvalidScope, "business roles require a business id")
	}

	b.mu.RLock()
	roles := append([]*RoleDefinition{}, b.businessRoles...)
	b.mu.RUnlock()

	out := make(map[string]*Role, len(roles))
	for _, rd := range roles {
		role, err := b.ensureRole(ctx, svc, rd, businessID)
		if err != nil {
			return nil, err
		}
		out[rd.name] = role
	}
	return out, nil
}

func (b *Blueprint) ensureRole(ctx context.Context, svc *Service, rd *RoleDefinition, businessID string) (*Role, error) {
	existing, err := svc.FindRoleByName(ctx, rd.name, businessID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrRoleNotFound) {
		return nil, err
	}

	role, err := svc.CreateRole(ctx, RoleInput{
		Name:           rd.name,
		Scope:          rd.scope,
		BusinessID:     businessID,
		PermissionKeys: slices.Clone(rd.grants),
		IsSystemRole:   rd.protected,
	})
	if errors.Is(err, ErrDuplicateRole) {
		// created concurrently
		return svc.FindRoleByName(ctx, rd.name, businessID)
	}
	return role, err
}

// DefaultBlueprint returns the restaurant platform catalog with its standard roles.
func DefaultBlueprint() *Blueprint {
	bp := NewBlueprint().
		Permission("business", "create", "Create businesses").
		Permission("business", "read", "View business settings").
		Permission("business", "update", "Change business settings").
		Permission("menu", "read", "View the menu").
		Permission("menu", "write", "Edit the menu").
		Permission("order", "read", "View orders").
		Permission("order", "write", "Create and update orders").
		Permission("order", "refund", "Refund orders").
		Permission("table", "read", "View tables").
		Permission("table", "write", "Manage tables").
		Permission("reservation", "read", "View reservations").
		Permission("reservation", "write", "Manage reservations").
		Permission("staff", "read", "View staff").
		Permission("staff", "write", "Manage staff").
		Permission("payment", "read", "View payments").
		Permission("payment", "capture", "Capture payments").
		Permission("report", "read", "View reports")

	all := make([]PermissionKey, 0, len(bp.permissions))
	for _, p := range bp.permissions {
		all = append(all, p.Key)
	}

	bp.SystemRole(string(LegacySuperAdmin)).Grants(all...).
		SystemRole(string(LegacySystemAdmin)).Grants(all...).
		BusinessRole(string(LegacyRestaurantAdmin)).Protected().Grants(
		Key("business", "read"), Key("business", "update"),
		Key("menu", "read"), Key("menu", "write"),
		Key("order", "read"), Key("order", "write"), Key("order", "refund"),
		Key("table", "read"), Key("table", "write"),
		Key("reservation", "read"), Key("reservation", "write"),
		Key("staff", "read"), Key("staff", "write"),
		Key("payment", "read"), Key("payment", "capture"),
		Key("report", "read"),
	).
		BusinessRole(string(LegacyManager)).Grants(
		Key("menu", "read"), Key("menu", "write"),
		Key("order", "read"), Key("order", "write"), Key("order", "refund"),
		Key("table", "read"), Key("table", "write"),
		Key("reservation", "read"), Key("reservation", "write"),
		Key("staff", "read"),
		Key("report", "read"),
	).
		BusinessRole(string(LegacyStaff)).Grants(
		Key("menu", "read"),
		Key("order", "read"), Key("order", "write"),
		Key("table", "read"),
		Key("reservation", "read"), Key("reservation", "write"),
	)
	return bp
}
