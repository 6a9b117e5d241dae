package scopekit

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RoleInput describes a role to create.
type RoleInput struct {
	Name          string
	Scope         RoleScope
	BusinessID    string // required iff Scope is RoleScopeBusiness
	PermissionIDs []string
	// PermissionKeys are resolved to ids in the same transaction that creates the role.
	PermissionKeys []PermissionKey
	IsSystemRole   bool // protects the role from rename and delete by tenant admins
}

// Validate checks the name and the scope/business pairing.
func (in RoleInput) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return NewError(ErrInvalidRole, "role name is required")
	}
	switch in.Scope {
	case RoleScopeSystem:
		if in.BusinessID != "" {
			return NewError(ErrInvalidScope, "system roles must not carry a business id").
				WithRole(in.Name).
				WithBusiness(in.BusinessID)
		}
	case RoleScopeBusiness:
		if in.BusinessID == "" {
			return NewError(ErrInvalidScope, "business roles require a business id").WithRole(in.Name)
		}
	default:
		return NewError(ErrInvalidScope, fmt.Sprintf("unknown scope %q", in.Scope)).WithRole(in.Name)
	}
	return nil
}

// CreateRole creates a role holding the given permissions.
//
// Example:
//
//	role, err := svc.CreateRole(ctx, scopekit.RoleInput{
//	    Name:          "restaurant_admin",
//	    Scope:         scopekit.RoleScopeBusiness,
//	    BusinessID:    "biz-1",
//	    PermissionIDs: []string{orderRead.ID},
//	})
func (s *Service) CreateRole(ctx context.Context, in RoleInput) (*Role, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	now := s.now().UTC().Truncate(time.Microsecond)
	role := &Role{
		ID:            uuid.NewString(),
		Name:          in.Name,
		Scope:         in.Scope,
		BusinessID:    in.BusinessID,
		IsSystemRole:  in.IsSystemRole,
		PermissionIDs: dedupe(in.PermissionIDs),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err := s.mutate(ctx, "CreateRole", func(ctx context.Context, tx Store) ([]Invalidation, *AuditEntry, error) {
		if len(in.PermissionKeys) > 0 {
			ids, err := resolvePermissionIDs(ctx, tx, in.PermissionKeys)
			if err != nil {
				return nil, nil, err
			}
			role.PermissionIDs = dedupe(append(slices.Clone(in.PermissionIDs), ids...))
		}
		for _, id := range role.PermissionIDs {
			if _, err := tx.LoadPermission(ctx, id); err != nil {
				return nil, nil, err
			}
		}
		if err := tx.CreateRole(ctx, role); err != nil {
			return nil, nil, err
		}
		return []Invalidation{RoleRef(role.ID)}, &AuditEntry{
			Action:     AuditRoleCreated,
			TargetKind: InvalidateRole,
			TargetID:   role.ID,
			BusinessID: role.BusinessID,
			Metadata: map[string]any{
				"name":        role.Name,
				"scope":       string(role.Scope),
				"permissions": role.PermissionIDs,
			},
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return role, nil
}

// AttachPermission adds a permission to a role. Attaching a permission the
// role already holds is a no-op.
func (s *Service) AttachPermission(ctx context.Context, roleID, permissionID string) error {
	return s.mutate(ctx, "AttachPermission", func(ctx context.Context, tx Store) ([]Invalidation, *AuditEntry, error) {
		role, err := tx.LoadRole(ctx, roleID)
		if err != nil {
			return nil, nil, err
		}
		if _, err := tx.LoadPermission(ctx, permissionID); err != nil {
			return nil, nil, err
		}
		changed, err := tx.AttachPermission(ctx, roleID, permissionID)
		if err != nil {
			return nil, nil, err
		}

		refs := []Invalidation{RoleRef(roleID), PermissionRef(permissionID)}
		if !changed {
			return refs, nil, nil
		}
		return refs, &AuditEntry{
			Action:     AuditPermissionAttached,
			TargetKind: InvalidateRole,
			TargetID:   roleID,
			BusinessID: role.BusinessID,
			Metadata:   map[string]any{"permission_id": permissionID},
		}, nil
	})
}

// DetachPermission removes a permission from a role. Detaching a permission
// the role does not hold is a no-op.
func (s *Service) DetachPermission(ctx context.Context, roleID, permissionID string) error {
	return s.mutate(ctx, "DetachPermission", func(ctx context.Context, tx Store) ([]Invalidation, *AuditEntry, error) {
		role, err := tx.LoadRole(ctx, roleID)
		if err != nil {
			return nil, nil, err
		}
		changed, err := tx.DetachPermission(ctx, roleID, permissionID)
		if err != nil {
			return nil, nil, err
		}

		refs := []Invalidation{RoleRef(roleID), PermissionRef(permissionID)}
		if !changed {
			return refs, nil, nil
		}
		return refs, &AuditEntry{
			Action:     AuditPermissionDetached,
			TargetKind: InvalidateRole,
			TargetID:   roleID,
			BusinessID: role.BusinessID,
			Metadata:   map[string]any{"permission_id": permissionID},
		}, nil
	})
}

// RenameRole renames a role. Protected roles can only be renamed by an
// elevated actor (see WithActorID).
func (s *Service) RenameRole(ctx context.Context, roleID, name string) error {
	if strings.TrimSpace(name) == "" {
		return NewError(ErrInvalidRole, "role name is required").WithRole(roleID)
	}
	return s.mutate(ctx, "RenameRole", func(ctx context.Context, tx Store) ([]Invalidation, *AuditEntry, error) {
		role, err := tx.LoadRole(ctx, roleID)
		if err != nil {
			return nil, nil, err
		}
		if role.IsSystemRole {
			if err := requireElevatedActor(ctx, tx, role); err != nil {
				return nil, nil, err
			}
		}
		if err := tx.RenameRole(ctx, roleID, name); err != nil {
			return nil, nil, err
		}
		return []Invalidation{RoleRef(roleID)}, &AuditEntry{
			Action:     AuditRoleRenamed,
			TargetKind: InvalidateRole,
			TargetID:   roleID,
			BusinessID: role.BusinessID,
			Metadata:   map[string]any{"from": role.Name, "to": name},
		}, nil
	})
}

// DeleteRole deletes a role and its assignments. Every principal holding it
// loses its permissions immediately. Protected roles can only be deleted by an
// elevated actor.
func (s *Service) DeleteRole(ctx context.Context, roleID string) error {
	return s.mutate(ctx, "DeleteRole", func(ctx context.Context, tx Store) ([]Invalidation, *AuditEntry, error) {
		role, err := tx.LoadRole(ctx, roleID)
		if err != nil {
			return nil, nil, err
		}
		if role.IsSystemRole {
			if err := requireElevatedActor(ctx, tx, role); err != nil {
				return nil, nil, err
			}
		}
		if err := tx.DeleteRole(ctx, roleID); err != nil {
			return nil, nil, err
		}
		return []Invalidation{RoleRef(roleID)}, &AuditEntry{
			Action:     AuditRoleDeleted,
			TargetKind: InvalidateRole,
			TargetID:   roleID,
			BusinessID: role.BusinessID,
			Metadata:   map[string]any{"name": role.Name},
		}, nil
	})
}

// GetRole loads a role by id.
func (s *Service) GetRole(ctx context.Context, roleID string) (*Role, error) {
	r, err := s.store.LoadRole(ctx, roleID)
	return r, readErr("GetRole", err)
}

// FindRoleByName finds a role by name. An empty businessID searches system
// roles; otherwise the roles of that business are searched.
func (s *Service) FindRoleByName(ctx context.Context, name, businessID string) (*Role, error) {
	r, err := s.store.FindRoleByName(ctx, name, businessID)
	return r, readErr("FindRoleByName", err)
}

// ListRoles lists system roles (empty businessID) or the roles of one business.
func (s *Service) ListRoles(ctx context.Context, businessID string) ([]Role, error) {
	roles, err := s.store.ListRoles(ctx, businessID)
	return roles, readErr("ListRoles", err)
}

// requireElevatedActor allows the mutation of a protected role only when the
// actor in ctx is an active principal with global authority.
func requireElevatedActor(ctx context.Context, tx Store, role *Role) error {
	denied := func(actorID string) error {
		return NewError(ErrProtectedRole, "protected roles require an elevated actor").
			WithRole(role.Name).
			WithBusiness(role.BusinessID).
			WithActor(actorID)
	}

	actorID := GetActorID(ctx)
	if actorID == "" {
		return denied("")
	}
	actor, err := tx.LoadPrincipal(ctx, actorID)
	if IsNotFound(err) {
		return denied(actorID)
	}
	if err != nil {
		return err
	}
	if !actor.IsActive {
		return denied(actorID)
	}
	if actor.LegacyRole.Elevated() {
		return nil
	}
	for _, id := range actor.RoleIDs {
		r, err := tx.LoadRole(ctx, id)
		if IsNotFound(err) {
			continue
		}
		if err != nil {
			return err
		}
		if r.Scope == RoleScopeSystem && r.IsSystemRole && LegacyRole(r.Name).Elevated() {
			return nil
		}
	}
	return denied(actorID)
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

func logAttr(role *Role) slog.Attr {
	return slog.Group("role",
		slog.String("id", role.ID),
		slog.String("name", role.Name),
		slog.String("business_id", role.BusinessID))
}
