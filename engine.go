package scopekit

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Engine merges a principal's legacy role, RBAC roles and direct grants into
// one EffectivePermissionSet. For a given PrincipalContext and catalog state
// the result is always the same.
type Engine struct {
	roles       RoleLoader
	permissions PermissionLoader
	logger      *slog.Logger
	now         func() time.Time
}

// NewEngine creates an engine reading roles and permissions from the given loaders.
func NewEngine(roles RoleLoader, permissions PermissionLoader, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = discardLogger()
	}
	return &Engine{
		roles:       roles,
		permissions: permissions,
		logger:      logger,
		now:         time.Now,
	}
}

// Compute resolves the effective permission set of a principal.
//
// Resolution order:
//   - an inactive principal resolves to the empty, unscoped set
//   - the scope starts pinned to the principal's business
//   - an elevated legacy role (or an elevated system role) widens it to global
//   - system roles always contribute; business roles only for the principal's business
//   - unqualified direct grants apply wherever the scope reaches; a grant
//     qualified with a business applies only to that business's resources
//
// Dangling role or permission references are skipped. Any other load failure
// is returned as ErrStorageUnavailable.
func (e *Engine) Compute(ctx context.Context, pc PrincipalContext) (*EffectivePermissionSet, error) {
	if !pc.IsActive {
		set := inactiveSet(pc.PrincipalID)
		set.computedAt = e.now()
		return set, nil
	}

	set := newPermissionSet(pc.PrincipalID, ScopeDescriptor{Kind: ScopeBusiness, BusinessID: pc.BusinessID})
	if pc.LegacyRole.Elevated() {
		set.scope.Kind = ScopeGlobal
	}

	for _, roleID := range pc.RoleIDs {
		set.roleIDs[roleID] = struct{}{}

		role, err := e.roles.LoadRole(ctx, roleID)
		if errors.Is(err, ErrRoleNotFound) {
			e.logger.DebugContext(ctx, "skipping dangling role reference",
				slog.String("principal_id", pc.PrincipalID), slog.String("role_id", roleID))
			continue
		}
		if err != nil {
			return nil, storageError("load role "+roleID, err)
		}

		switch role.Scope {
		case RoleScopeSystem:
			if role.IsSystemRole && LegacyRole(role.Name).Elevated() {
				set.scope.Kind = ScopeGlobal
			}
		case RoleScopeBusiness:
			if role.BusinessID == "" || role.BusinessID != pc.BusinessID {
				set.ignoredRoles = append(set.ignoredRoles, role.ID)
				e.logger.DebugContext(ctx, "ignoring business role of another business",
					slog.String("principal_id", pc.PrincipalID),
					slog.String("role_id", role.ID),
					slog.String("role_business_id", role.BusinessID),
					slog.String("principal_business_id", pc.BusinessID))
				continue
			}
		default:
			continue
		}

		for _, permissionID := range role.PermissionIDs {
			if err := e.addPermission(ctx, set, permissionID); err != nil {
				return nil, err
			}
		}
	}

	// Scope is final here. A business-scoped principal can never reach a
	// resource of another business, so grants qualified for one are dropped.
	for _, grant := range pc.DirectGrants {
		if grant.BusinessID != "" && !set.scope.Global() && grant.BusinessID != pc.BusinessID {
			continue
		}
		if err := e.addGrant(ctx, set, grant); err != nil {
			return nil, err
		}
	}

	set.computedAt = e.now()
	return set, nil
}

func (e *Engine) addPermission(ctx context.Context, set *EffectivePermissionSet, permissionID string) error {
	return e.addQualified(ctx, set, permissionID, "")
}

func (e *Engine) addGrant(ctx context.Context, set *EffectivePermissionSet, grant DirectGrant) error {
	return e.addQualified(ctx, set, grant.PermissionID, grant.BusinessID)
}

func (e *Engine) addQualified(ctx context.Context, set *EffectivePermissionSet, permissionID, businessID string) error {
	p, err := e.permissions.LoadPermission(ctx, permissionID)
	if errors.Is(err, ErrPermissionNotFound) {
		e.logger.DebugContext(ctx, "skipping dangling permission reference",
			slog.String("principal_id", set.principalID), slog.String("permission_id", permissionID))
		return nil
	}
	if err != nil {
		return storageError("load permission "+permissionID, err)
	}
	set.addFor(p, businessID)
	return nil
}
