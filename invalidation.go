package scopekit

import (
	"context"
	"errors"
)

// InvalidationKind names what an invalidation refers to.
type InvalidationKind string

const (
	InvalidatePrincipal  InvalidationKind = "principal"
	InvalidateRole       InvalidationKind = "role"
	InvalidatePermission InvalidationKind = "permission"
)

// Invalidation names a principal, role or permission whose cached
// resolutions must be dropped.
type Invalidation struct {
	Kind InvalidationKind `json:"kind"`
	ID   string           `json:"id"`
}

// PrincipalRef names a principal.
func PrincipalRef(id string) Invalidation {
	return Invalidation{Kind: InvalidatePrincipal, ID: id}
}

// RoleRef names a role. Every principal holding it is affected.
func RoleRef(id string) Invalidation {
	return Invalidation{Kind: InvalidateRole, ID: id}
}

// PermissionRef names a permission. Every principal whose set contains it is affected.
func PermissionRef(id string) Invalidation {
	return Invalidation{Kind: InvalidatePermission, ID: id}
}

// String returns "kind:id".
func (i Invalidation) String() string {
	return string(i.Kind) + ":" + i.ID
}

// Invalidators fans an invalidation out to several targets.
// Every target is attempted; errors are joined.
type Invalidators []Invalidator

// Invalidate implements Invalidator.
func (m Invalidators) Invalidate(ctx context.Context, refs ...Invalidation) error {
	var errs []error
	for _, inv := range m {
		if inv == nil {
			continue
		}
		if err := inv.Invalidate(ctx, refs...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type noopInvalidator struct{}

func (noopInvalidator) Invalidate(context.Context, ...Invalidation) error { return nil }
