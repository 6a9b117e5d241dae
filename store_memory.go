package scopekit

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fernandezvara/dbkit"
	"github.com/google/uuid"
)

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*memoryState)(nil)
)

// MemoryStore is an in-process Store. Reads run concurrently; writes and
// transactions are serialized. A failed transaction restores the state it
// started from.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memoryState
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemoryState()}
}

// NewMemoryStoreWithCatalog creates a store whose permissions are those of catalog.
func NewMemoryStoreWithCatalog(catalog *Catalog) *MemoryStore {
	st := newMemoryState()
	st.permissions = catalog.clone()
	return &MemoryStore{state: st}
}

// WithinTx implements Store.
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	if err := fn(ctx, s.state); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

// Health implements Store. An in-process store is always healthy.
func (s *MemoryStore) Health(context.Context) dbkit.HealthStatus {
	return dbkit.HealthStatus{Healthy: true}
}

func (s *MemoryStore) LoadPermission(ctx context.Context, id string) (*Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.LoadPermission(ctx, id)
}

func (s *MemoryStore) CreatePermission(ctx context.Context, p *Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.CreatePermission(ctx, p)
}

func (s *MemoryStore) FindPermission(ctx context.Context, key PermissionKey) (*Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.FindPermission(ctx, key)
}

func (s *MemoryStore) ListPermissions(ctx context.Context) ([]Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ListPermissions(ctx)
}

func (s *MemoryStore) LoadRole(ctx context.Context, id string) (*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.LoadRole(ctx, id)
}

func (s *MemoryStore) CreateRole(ctx context.Context, r *Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.CreateRole(ctx, r)
}

func (s *MemoryStore) FindRoleByName(ctx context.Context, name, businessID string) (*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.FindRoleByName(ctx, name, businessID)
}

func (s *MemoryStore) ListRoles(ctx context.Context, businessID string) ([]Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ListRoles(ctx, businessID)
}

func (s *MemoryStore) RenameRole(ctx context.Context, id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.RenameRole(ctx, id, name)
}

func (s *MemoryStore) DeleteRole(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.DeleteRole(ctx, id)
}

func (s *MemoryStore) AttachPermission(ctx context.Context, roleID, permissionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.AttachPermission(ctx, roleID, permissionID)
}

func (s *MemoryStore) DetachPermission(ctx context.Context, roleID, permissionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.DetachPermission(ctx, roleID, permissionID)
}

func (s *MemoryStore) LoadPrincipal(ctx context.Context, id string) (*Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.LoadPrincipal(ctx, id)
}

func (s *MemoryStore) CreatePrincipal(ctx context.Context, p *Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.CreatePrincipal(ctx, p)
}

func (s *MemoryStore) UpdatePrincipal(ctx context.Context, p *Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.UpdatePrincipal(ctx, p)
}

func (s *MemoryStore) AddPrincipalRole(ctx context.Context, principalID, roleID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.AddPrincipalRole(ctx, principalID, roleID)
}

func (s *MemoryStore) RemovePrincipalRole(ctx context.Context, principalID, roleID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.RemovePrincipalRole(ctx, principalID, roleID)
}

func (s *MemoryStore) AddDirectGrant(ctx context.Context, g DirectGrant) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.AddDirectGrant(ctx, g)
}

func (s *MemoryStore) RemoveDirectGrant(ctx context.Context, g DirectGrant) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.RemoveDirectGrant(ctx, g)
}

func (s *MemoryStore) AppendAudit(ctx context.Context, entry *AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.AppendAudit(ctx, entry)
}

func (s *MemoryStore) ListAudit(ctx context.Context, filter AuditLogFilter) ([]AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ListAudit(ctx, filter)
}

// memoryState is the unlocked data behind MemoryStore. It doubles as the
// transactional view handed to WithinTx callbacks.
type memoryState struct {
	permissions *Catalog
	roles       map[string]*Role
	principals  map[string]*Principal
	audit       []AuditLog
}

func newMemoryState() *memoryState {
	return &memoryState{
		permissions: NewCatalog(),
		roles:       make(map[string]*Role),
		principals:  make(map[string]*Principal),
	}
}

func (st *memoryState) clone() *memoryState {
	cp := &memoryState{
		permissions: st.permissions.clone(),
		roles:       make(map[string]*Role, len(st.roles)),
		principals:  make(map[string]*Principal, len(st.principals)),
		audit:       slices.Clone(st.audit),
	}
	for id, r := range st.roles {
		cp.roles[id] = r.clone()
	}
	for id, p := range st.principals {
		cp.principals[id] = p.clone()
	}
	return cp
}

func (st *memoryState) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	return fn(ctx, st)
}

func (st *memoryState) Health(context.Context) dbkit.HealthStatus {
	return dbkit.HealthStatus{Healthy: true}
}

func (st *memoryState) LoadPermission(_ context.Context, id string) (*Permission, error) {
	return st.permissions.Get(id)
}

func (st *memoryState) CreatePermission(_ context.Context, p *Permission) error {
	cp := *p
	return st.permissions.insert(&cp)
}

func (st *memoryState) FindPermission(_ context.Context, key PermissionKey) (*Permission, error) {
	return st.permissions.Lookup(key.Resource, key.Action)
}

func (st *memoryState) ListPermissions(context.Context) ([]Permission, error) {
	return st.permissions.All(), nil
}

func (st *memoryState) LoadRole(_ context.Context, id string) (*Role, error) {
	r, ok := st.roles[id]
	if !ok {
		return nil, NewError(ErrRoleNotFound, fmt.Sprintf("role id %q", id)).WithRole(id)
	}
	return r.clone(), nil
}

func (st *memoryState) CreateRole(_ context.Context, r *Role) error {
	if _, ok := st.roles[r.ID]; ok {
		return NewError(ErrDuplicateRole, fmt.Sprintf("role id %q already exists", r.ID)).WithRole(r.ID)
	}
	if st.nameTaken(r.Name, r.Scope, r.BusinessID, "") {
		return NewError(ErrDuplicateRole, fmt.Sprintf("role %q already exists", r.Name)).
			WithRole(r.Name).
			WithBusiness(r.BusinessID)
	}
	for _, id := range r.PermissionIDs {
		if _, err := st.permissions.Get(id); err != nil {
			return err
		}
	}
	st.roles[r.ID] = r.clone()
	return nil
}

func (st *memoryState) nameTaken(name string, scope RoleScope, businessID, exceptID string) bool {
	for _, existing := range st.roles {
		if existing.ID == exceptID {
			continue
		}
		if existing.Name == name && existing.Scope == scope && existing.BusinessID == businessID {
			return true
		}
	}
	return false
}

func (st *memoryState) FindRoleByName(_ context.Context, name, businessID string) (*Role, error) {
	scope := RoleScopeBusiness
	if businessID == "" {
		scope = RoleScopeSystem
	}
	for _, r := range st.roles {
		if r.Name == name && r.Scope == scope && r.BusinessID == businessID {
			return r.clone(), nil
		}
	}
	return nil, NewError(ErrRoleNotFound, fmt.Sprintf("role %q", name)).
		WithRole(name).
		WithBusiness(businessID)
}

func (st *memoryState) ListRoles(_ context.Context, businessID string) ([]Role, error) {
	scope := RoleScopeBusiness
	if businessID == "" {
		scope = RoleScopeSystem
	}
	out := make([]Role, 0)
	for _, r := range st.roles {
		if r.Scope == scope && r.BusinessID == businessID {
			out = append(out, *r.clone())
		}
	}
	slices.SortFunc(out, func(a, b Role) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out, nil
}

func (st *memoryState) RenameRole(_ context.Context, id, name string) error {
	r, ok := st.roles[id]
	if !ok {
		return NewError(ErrRoleNotFound, fmt.Sprintf("role id %q", id)).WithRole(id)
	}
	if st.nameTaken(name, r.Scope, r.BusinessID, id) {
		return NewError(ErrDuplicateRole, fmt.Sprintf("role %q already exists", name)).
			WithRole(name).
			WithBusiness(r.BusinessID)
	}
	r.Name = name
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (st *memoryState) DeleteRole(_ context.Context, id string) error {
	if _, ok := st.roles[id]; !ok {
		return NewError(ErrRoleNotFound, fmt.Sprintf("role id %q", id)).WithRole(id)
	}
	delete(st.roles, id)
	for _, p := range st.principals {
		p.RoleIDs = slices.DeleteFunc(p.RoleIDs, func(rid string) bool { return rid == id })
	}
	return nil
}

func (st *memoryState) AttachPermission(_ context.Context, roleID, permissionID string) (bool, error) {
	r, ok := st.roles[roleID]
	if !ok {
		return false, NewError(ErrRoleNotFound, fmt.Sprintf("role id %q", roleID)).WithRole(roleID)
	}
	if _, err := st.permissions.Get(permissionID); err != nil {
		return false, err
	}
	if r.HasPermission(permissionID) {
		return false, nil
	}
	r.PermissionIDs = append(r.PermissionIDs, permissionID)
	r.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (st *memoryState) DetachPermission(_ context.Context, roleID, permissionID string) (bool, error) {
	r, ok := st.roles[roleID]
	if !ok {
		return false, NewError(ErrRoleNotFound, fmt.Sprintf("role id %q", roleID)).WithRole(roleID)
	}
	if !r.HasPermission(permissionID) {
		return false, nil
	}
	r.PermissionIDs = slices.DeleteFunc(r.PermissionIDs, func(id string) bool { return id == permissionID })
	r.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (st *memoryState) LoadPrincipal(_ context.Context, id string) (*Principal, error) {
	p, ok := st.principals[id]
	if !ok {
		return nil, NewError(ErrPrincipalNotFound, fmt.Sprintf("principal id %q", id)).WithPrincipal(id)
	}
	return p.clone(), nil
}

func (st *memoryState) CreatePrincipal(_ context.Context, p *Principal) error {
	if _, ok := st.principals[p.ID]; ok {
		return NewError(ErrPrincipalExists, fmt.Sprintf("principal id %q", p.ID)).WithPrincipal(p.ID)
	}
	st.principals[p.ID] = p.clone()
	return nil
}

func (st *memoryState) UpdatePrincipal(_ context.Context, p *Principal) error {
	existing, ok := st.principals[p.ID]
	if !ok {
		return NewError(ErrPrincipalNotFound, fmt.Sprintf("principal id %q", p.ID)).WithPrincipal(p.ID)
	}
	existing.LegacyRole = p.LegacyRole
	existing.BusinessID = p.BusinessID
	existing.IsActive = p.IsActive
	existing.UpdatedAt = time.Now().UTC()
	return nil
}

func (st *memoryState) AddPrincipalRole(_ context.Context, principalID, roleID string) (bool, error) {
	p, ok := st.principals[principalID]
	if !ok {
		return false, NewError(ErrPrincipalNotFound, fmt.Sprintf("principal id %q", principalID)).WithPrincipal(principalID)
	}
	if _, ok := st.roles[roleID]; !ok {
		return false, NewError(ErrRoleNotFound, fmt.Sprintf("role id %q", roleID)).WithRole(roleID)
	}
	if slices.Contains(p.RoleIDs, roleID) {
		return false, nil
	}
	p.RoleIDs = append(p.RoleIDs, roleID)
	return true, nil
}

func (st *memoryState) RemovePrincipalRole(_ context.Context, principalID, roleID string) (bool, error) {
	p, ok := st.principals[principalID]
	if !ok {
		return false, NewError(ErrPrincipalNotFound, fmt.Sprintf("principal id %q", principalID)).WithPrincipal(principalID)
	}
	if !slices.Contains(p.RoleIDs, roleID) {
		return false, nil
	}
	p.RoleIDs = slices.DeleteFunc(p.RoleIDs, func(id string) bool { return id == roleID })
	return true, nil
}

func (st *memoryState) AddDirectGrant(_ context.Context, g DirectGrant) (bool, error) {
	p, ok := st.principals[g.PrincipalID]
	if !ok {
		return false, NewError(ErrPrincipalNotFound, fmt.Sprintf("principal id %q", g.PrincipalID)).WithPrincipal(g.PrincipalID)
	}
	if _, err := st.permissions.Get(g.PermissionID); err != nil {
		return false, err
	}
	if slices.ContainsFunc(p.DirectGrants, sameGrant(g)) {
		return false, nil
	}
	p.DirectGrants = append(p.DirectGrants, g)
	return true, nil
}

func (st *memoryState) RemoveDirectGrant(_ context.Context, g DirectGrant) (bool, error) {
	p, ok := st.principals[g.PrincipalID]
	if !ok {
		return false, NewError(ErrPrincipalNotFound, fmt.Sprintf("principal id %q", g.PrincipalID)).WithPrincipal(g.PrincipalID)
	}
	if !slices.ContainsFunc(p.DirectGrants, sameGrant(g)) {
		return false, nil
	}
	p.DirectGrants = slices.DeleteFunc(p.DirectGrants, sameGrant(g))
	return true, nil
}

func sameGrant(g DirectGrant) func(DirectGrant) bool {
	return func(other DirectGrant) bool {
		return other.PermissionID == g.PermissionID && other.BusinessID == g.BusinessID
	}
}

func (st *memoryState) AppendAudit(_ context.Context, entry *AuditLog) error {
	cp := *entry
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.Timestamp.IsZero() {
		cp.Timestamp = time.Now().UTC()
	}
	cp.Metadata = maps.Clone(entry.Metadata)
	st.audit = append(st.audit, cp)
	return nil
}

func (st *memoryState) ListAudit(_ context.Context, filter AuditLogFilter) ([]AuditLog, error) {
	var matched []AuditLog
	for i := len(st.audit) - 1; i >= 0; i-- {
		if filter.matches(&st.audit[i]) {
			matched = append(matched, st.audit[i])
		}
	}
	slices.SortStableFunc(matched, func(a, b AuditLog) int {
		return b.Timestamp.Compare(a.Timestamp)
	})

	offset := max(filter.Offset, 0)
	if offset >= len(matched) {
		return []AuditLog{}, nil
	}
	matched = matched[offset:]
	if limit := filter.limit(); len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}
