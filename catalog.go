package scopekit

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Catalog holds every permission the platform understands.
// It is populated at startup and should be treated as read-mostly afterwards.
type Catalog struct {
	mu    sync.RWMutex
	byID  map[string]*Permission
	byKey map[PermissionKey]*Permission
}

// NewCatalog creates an empty permission catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		byID:  make(map[string]*Permission),
		byKey: make(map[PermissionKey]*Permission),
	}
}

// Register adds a (resource, action) pair to the catalog.
// Returns ErrDuplicatePermission if the pair already exists.
//
// Example:
//
//	catalog.Register("order", "read", "View orders of a restaurant")
func (c *Catalog) Register(resource, action, description string) (*Permission, error) {
	p := &Permission{
		ID:          uuid.NewString(),
		Resource:    resource,
		Action:      action,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
	if err := c.insert(p); err != nil {
		return nil, err
	}
	cp := *p
	return &cp, nil
}

// MustRegister is like Register but panics on error.
func (c *Catalog) MustRegister(resource, action, description string) *Permission {
	p, err := c.Register(resource, action, description)
	if err != nil {
		panic(err)
	}
	return p
}

func (c *Catalog) insert(p *Permission) error {
	key := p.Key()
	if err := key.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.byKey[key]; ok {
		return NewError(ErrDuplicatePermission, fmt.Sprintf("%s already registered", key)).WithPermission(key)
	}
	if _, ok := c.byID[p.ID]; ok {
		return NewError(ErrDuplicatePermission, fmt.Sprintf("permission id %q already registered", p.ID)).WithPermission(key)
	}
	c.byID[p.ID] = p
	c.byKey[key] = p
	return nil
}

// Lookup finds a permission by its (resource, action) pair.
func (c *Catalog) Lookup(resource, action string) (*Permission, error) {
	key := Key(resource, action)

	c.mu.RLock()
	p, ok := c.byKey[key]
	c.mu.RUnlock()

	if !ok {
		return nil, NewError(ErrPermissionNotFound, key.String()).WithPermission(key)
	}
	cp := *p
	return &cp, nil
}

// Get finds a permission by id.
func (c *Catalog) Get(id string) (*Permission, error) {
	c.mu.RLock()
	p, ok := c.byID[id]
	c.mu.RUnlock()

	if !ok {
		return nil, NewError(ErrPermissionNotFound, fmt.Sprintf("permission id %q", id))
	}
	cp := *p
	return &cp, nil
}

// LoadPermission implements PermissionLoader.
func (c *Catalog) LoadPermission(_ context.Context, id string) (*Permission, error) {
	return c.Get(id)
}

// All returns every permission ordered by key.
func (c *Catalog) All() []Permission {
	c.mu.RLock()
	out := make([]Permission, 0, len(c.byID))
	for _, p := range c.byID {
		out = append(out, *p)
	}
	c.mu.RUnlock()

	sortPermissions(out)
	return out
}

// Len returns the number of registered permissions.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byID)
}

func (c *Catalog) clone() *Catalog {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cp := NewCatalog()
	for id, p := range c.byID {
		cp.byID[id] = p
		cp.byKey[p.Key()] = p
	}
	return cp
}

func sortPermissions(ps []Permission) {
	slices.SortFunc(ps, func(a, b Permission) int {
		return comparePermissionKeys(a.Key(), b.Key())
	})
}
