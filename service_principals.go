package scopekit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// NewPrincipal returns an active principal ready for CreatePrincipal.
func NewPrincipal(id string, legacyRole LegacyRole, businessID string) Principal {
	return Principal{
		ID:         id,
		LegacyRole: legacyRole,
		BusinessID: businessID,
		IsActive:   true,
	}
}

// CreatePrincipal stores a new principal with its role refs and direct grants.
// An empty ID is replaced with a generated one.
func (s *Service) CreatePrincipal(ctx context.Context, p Principal) (*Principal, error) {
	if !p.LegacyRole.Valid() {
		return nil, NewError(ErrInvalidLegacyRole, string(p.LegacyRole)).WithPrincipal(p.ID)
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := s.now().UTC().Truncate(time.Microsecond)
	p.CreatedAt, p.UpdatedAt = now, now
	p.RoleIDs = dedupe(p.RoleIDs)
	for i := range p.DirectGrants {
		p.DirectGrants[i].PrincipalID = p.ID
	}

	err := s.mutate(ctx, "CreatePrincipal", func(ctx context.Context, tx Store) ([]Invalidation, *AuditEntry, error) {
		for _, id := range p.RoleIDs {
			if _, err := tx.LoadRole(ctx, id); err != nil {
				return nil, nil, err
			}
		}
		for _, g := range p.DirectGrants {
			if _, err := tx.LoadPermission(ctx, g.PermissionID); err != nil {
				return nil, nil, err
			}
		}
		if err := tx.CreatePrincipal(ctx, &p); err != nil {
			return nil, nil, err
		}
		return []Invalidation{PrincipalRef(p.ID)}, &AuditEntry{
			Action:     AuditPrincipalCreated,
			TargetKind: InvalidatePrincipal,
			TargetID:   p.ID,
			BusinessID: p.BusinessID,
			Metadata:   map[string]any{"legacy_role": string(p.LegacyRole)},
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPrincipal loads a principal with its role refs and direct grants.
func (s *Service) GetPrincipal(ctx context.Context, principalID string) (*Principal, error) {
	p, err := s.store.LoadPrincipal(ctx, principalID)
	return p, readErr("GetPrincipal", err)
}

// AssignRole gives a principal a role. Assigning a role the principal already
// holds is a no-op. A business role of another business can be assigned but
// contributes nothing until the principal's business matches.
func (s *Service) AssignRole(ctx context.Context, principalID, roleID string) error {
	return s.mutate(ctx, "AssignRole", func(ctx context.Context, tx Store) ([]Invalidation, *AuditEntry, error) {
		p, err := tx.LoadPrincipal(ctx, principalID)
		if err != nil {
			return nil, nil, err
		}
		role, err := tx.LoadRole(ctx, roleID)
		if err != nil {
			return nil, nil, err
		}
		if role.Scope == RoleScopeBusiness && role.BusinessID != p.BusinessID {
			s.logger.WarnContext(ctx, "assigned business role does not match principal business",
				slog.String("principal_id", principalID),
				slog.String("principal_business_id", p.BusinessID),
				logAttr(role))
		}
		changed, err := tx.AddPrincipalRole(ctx, principalID, roleID)
		if err != nil {
			return nil, nil, err
		}
		return principalChange(principalID, changed, AuditRoleAssigned, role.BusinessID,
			map[string]any{"role_id": roleID, "role": role.Name})
	})
}

// RevokeRole removes a role from a principal. Revoking a role the principal
// does not hold is a no-op.
func (s *Service) RevokeRole(ctx context.Context, principalID, roleID string) error {
	return s.mutate(ctx, "RevokeRole", func(ctx context.Context, tx Store) ([]Invalidation, *AuditEntry, error) {
		changed, err := tx.RemovePrincipalRole(ctx, principalID, roleID)
		if err != nil {
			return nil, nil, err
		}
		return principalChange(principalID, changed, AuditRoleRevoked, "",
			map[string]any{"role_id": roleID})
	})
}

// GrantPermission gives a principal a permission outside of any role.
// With an empty businessID the grant is global; otherwise it only applies
// while the principal belongs to that business.
func (s *Service) GrantPermission(ctx context.Context, principalID, permissionID, businessID string) error {
	return s.mutate(ctx, "GrantPermission", func(ctx context.Context, tx Store) ([]Invalidation, *AuditEntry, error) {
		if _, err := tx.LoadPermission(ctx, permissionID); err != nil {
			return nil, nil, err
		}
		changed, err := tx.AddDirectGrant(ctx, DirectGrant{
			PrincipalID:  principalID,
			PermissionID: permissionID,
			BusinessID:   businessID,
		})
		if err != nil {
			return nil, nil, err
		}
		return principalChange(principalID, changed, AuditPermissionGranted, businessID,
			map[string]any{"permission_id": permissionID})
	})
}

// RevokePermission removes a direct grant. businessID must match the one the
// grant was made with.
func (s *Service) RevokePermission(ctx context.Context, principalID, permissionID, businessID string) error {
	return s.mutate(ctx, "RevokePermission", func(ctx context.Context, tx Store) ([]Invalidation, *AuditEntry, error) {
		changed, err := tx.RemoveDirectGrant(ctx, DirectGrant{
			PrincipalID:  principalID,
			PermissionID: permissionID,
			BusinessID:   businessID,
		})
		if err != nil {
			return nil, nil, err
		}
		return principalChange(principalID, changed, AuditPermissionRevoked, businessID,
			map[string]any{"permission_id": permissionID})
	})
}

// SetActive activates or deactivates a principal. An inactive principal is
// denied everything regardless of its assignments.
func (s *Service) SetActive(ctx context.Context, principalID string, active bool) error {
	action := AuditPrincipalDeactivated
	if active {
		action = AuditPrincipalActivated
	}
	return s.updatePrincipal(ctx, "SetActive", principalID, action, func(p *Principal) map[string]any {
		p.IsActive = active
		return nil
	})
}

// SetBusiness moves a principal to another business. Business roles of the
// previous business stop contributing.
func (s *Service) SetBusiness(ctx context.Context, principalID, businessID string) error {
	return s.updatePrincipal(ctx, "SetBusiness", principalID, AuditBusinessChanged, func(p *Principal) map[string]any {
		from := p.BusinessID
		p.BusinessID = businessID
		return map[string]any{"from": from, "to": businessID}
	})
}

// SetLegacyRole changes the legacy role of a principal.
func (s *Service) SetLegacyRole(ctx context.Context, principalID string, role LegacyRole) error {
	if !role.Valid() {
		return NewError(ErrInvalidLegacyRole, string(role)).WithPrincipal(principalID)
	}
	return s.updatePrincipal(ctx, "SetLegacyRole", principalID, AuditLegacyRoleChanged, func(p *Principal) map[string]any {
		from := p.LegacyRole
		p.LegacyRole = role
		return map[string]any{"from": string(from), "to": string(role)}
	})
}

func (s *Service) updatePrincipal(ctx context.Context, op, principalID string, action AuditAction, apply func(p *Principal) map[string]any) error {
	return s.mutate(ctx, op, func(ctx context.Context, tx Store) ([]Invalidation, *AuditEntry, error) {
		p, err := tx.LoadPrincipal(ctx, principalID)
		if err != nil {
			return nil, nil, err
		}
		metadata := apply(p)
		if err := tx.UpdatePrincipal(ctx, p); err != nil {
			return nil, nil, err
		}
		return []Invalidation{PrincipalRef(principalID)}, &AuditEntry{
			Action:     action,
			TargetKind: InvalidatePrincipal,
			TargetID:   principalID,
			BusinessID: p.BusinessID,
			Metadata:   metadata,
		}, nil
	})
}

func principalChange(principalID string, changed bool, action AuditAction, businessID string, metadata map[string]any) ([]Invalidation, *AuditEntry, error) {
	refs := []Invalidation{PrincipalRef(principalID)}
	if !changed {
		return refs, nil, nil
	}
	return refs, &AuditEntry{
		Action:     action,
		TargetKind: InvalidatePrincipal,
		TargetID:   principalID,
		BusinessID: businessID,
		Metadata:   metadata,
	}, nil
}
