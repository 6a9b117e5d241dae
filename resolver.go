package scopekit

import (
	"context"
	"errors"
	"slices"
)

// PrincipalContext is the raw, unmerged authorization input of one principal.
type PrincipalContext struct {
	PrincipalID  string
	LegacyRole   LegacyRole
	RoleIDs      []string
	DirectGrants []DirectGrant
	BusinessID   string
	IsActive     bool
}

// Resolver reads principals from the principal store.
type Resolver struct {
	principals PrincipalLoader
}

// NewResolver creates a resolver over the given principal store.
func NewResolver(principals PrincipalLoader) *Resolver {
	return &Resolver{principals: principals}
}

// Resolve loads the principal's authorization input. It performs no merging.
// Returns ErrPrincipalNotFound for unknown principals and ErrStorageUnavailable
// when the store fails.
func (r *Resolver) Resolve(ctx context.Context, principalID string) (PrincipalContext, error) {
	if principalID == "" {
		return PrincipalContext{}, NewError(ErrPrincipalNotFound, "empty principal id")
	}

	p, err := r.principals.LoadPrincipal(ctx, principalID)
	if errors.Is(err, ErrPrincipalNotFound) {
		return PrincipalContext{}, err
	}
	if err != nil {
		return PrincipalContext{}, storageError("load principal "+principalID, err)
	}

	return PrincipalContext{
		PrincipalID:  p.ID,
		LegacyRole:   p.LegacyRole,
		RoleIDs:      slices.Clone(p.RoleIDs),
		DirectGrants: slices.Clone(p.DirectGrants),
		BusinessID:   p.BusinessID,
		IsActive:     p.IsActive,
	}, nil
}
