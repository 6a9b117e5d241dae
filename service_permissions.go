package scopekit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RegisterPermission adds a (resource, action) pair to the catalog.
// Returns ErrDuplicatePermission if the pair exists and ErrInvalidPermission
// if either half is not an identifier.
//
// Example:
//
//	p, err := svc.RegisterPermission(ctx, "order", "read", "View orders")
func (s *Service) RegisterPermission(ctx context.Context, resource, action, description string) (*Permission, error) {
	key := Key(resource, action)
	if err := key.Validate(); err != nil {
		return nil, err
	}

	p := &Permission{
		ID:          uuid.NewString(),
		Resource:    resource,
		Action:      action,
		Description: description,
		CreatedAt:   s.now().UTC().Truncate(time.Microsecond),
	}
	err := s.mutate(ctx, "RegisterPermission", func(ctx context.Context, tx Store) ([]Invalidation, *AuditEntry, error) {
		if err := tx.CreatePermission(ctx, p); err != nil {
			return nil, nil, err
		}
		return []Invalidation{PermissionRef(p.ID)}, &AuditEntry{
			Action:     AuditPermissionRegistered,
			TargetKind: InvalidatePermission,
			TargetID:   p.ID,
			Metadata:   map[string]any{"permission": key.String()},
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// LookupPermission finds a permission by its (resource, action) pair.
func (s *Service) LookupPermission(ctx context.Context, resource, action string) (*Permission, error) {
	p, err := s.store.FindPermission(ctx, Key(resource, action))
	return p, readErr("LookupPermission", err)
}

// GetPermission finds a permission by id.
func (s *Service) GetPermission(ctx context.Context, id string) (*Permission, error) {
	p, err := s.store.LoadPermission(ctx, id)
	return p, readErr("GetPermission", err)
}

// ListPermissions returns the catalog ordered by key.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	ps, err := s.store.ListPermissions(ctx)
	return ps, readErr("ListPermissions", err)
}

// resolvePermissionIDs maps keys to permission ids within tx.
func resolvePermissionIDs(ctx context.Context, tx Store, keys []PermissionKey) ([]string, error) {
	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		p, err := tx.FindPermission(ctx, key)
		if err != nil {
			return nil, err
		}
		ids = append(ids, p.ID)
	}
	return ids, nil
}
