package scopekit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fernandezvara/dbkit"
	"github.com/uptrace/bun"
)

var _ Store = (*BunStore)(nil)

// BunStore is a Store backed by PostgreSQL through dbkit and bun.
// Run Migrations before first use.
type BunStore struct {
	db dbkit.IDB
}

// NewBunStore creates a store on top of a dbkit connection or transaction.
//
// Example:
//
//	db, _ := dbkit.New(dbkit.Config{URL: os.Getenv("DATABASE_URL")})
//	store := scopekit.NewBunStore(db)
func NewBunStore(db dbkit.IDB) *BunStore {
	return &BunStore{db: db}
}

// OpenBunStore connects to cfg.DatabaseURL, applies the pool settings and
// runs pending migrations. The caller owns the returned DBKit and must Close it.
func OpenBunStore(ctx context.Context, cfg Config, logger *slog.Logger) (*BunStore, *dbkit.DBKit, error) {
	if logger == nil {
		logger = discardLogger()
	}
	if cfg.DatabaseURL == "" {
		return nil, nil, NewError(ErrInvalidConfig, "database URL is required")
	}

	db, err := dbkit.New(dbkit.Config{URL: cfg.DatabaseURL})
	if err != nil {
		return nil, nil, storageError("connect", err)
	}

	bunDB := db.Bun()
	if cfg.DBMaxOpenConns > 0 {
		bunDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		bunDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
	bunDB.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	bunDB.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)
	logger.InfoContext(ctx, "connection pool configured",
		slog.Int("max_open", cfg.DBMaxOpenConns),
		slog.Int("max_idle", cfg.DBMaxIdleConns),
		slog.Duration("max_lifetime", cfg.DBConnMaxLifetime),
		slog.Duration("max_idle_time", cfg.DBConnMaxIdleTime))

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, storageError("ping", err)
	}
	if err := Migrate(ctx, db, logger); err != nil {
		db.Close()
		return nil, nil, err
	}
	return NewBunStore(db), db, nil
}

// WithinTx implements Store. Nested calls run inside a savepoint.
func (s *BunStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	switch db := s.db.(type) {
	case *dbkit.Tx:
		return db.Transaction(ctx, func(tx *dbkit.Tx) error {
			return fn(ctx, &BunStore{db: tx})
		})
	case *dbkit.DBKit:
		return db.Transaction(ctx, func(tx *dbkit.Tx) error {
			return fn(ctx, &BunStore{db: tx})
		})
	}
	return NewError(ErrStorageUnavailable, "transactions require a dbkit.DBKit or dbkit.Tx")
}

// Health implements Store.
func (s *BunStore) Health(ctx context.Context) dbkit.HealthStatus {
	if db, ok := s.db.(*dbkit.DBKit); ok {
		return db.Health(ctx)
	}

	var one int
	if err := s.db.NewRaw("SELECT 1").Scan(ctx, &one); err != nil {
		return dbkit.HealthStatus{Healthy: false, Error: err.Error()}
	}
	return dbkit.HealthStatus{Healthy: true}
}

// ============================================================================
// PERMISSIONS
// ============================================================================

func (s *BunStore) CreatePermission(ctx context.Context, p *Permission) error {
	_, err := s.db.NewInsert().Model(p).Exec(ctx)
	if dbkit.IsDuplicate(err) {
		return NewError(ErrDuplicatePermission, fmt.Sprintf("%s already registered", p.Key())).WithPermission(p.Key())
	}
	return dbkit.WithErr1(err, "CreatePermission").Err()
}

func (s *BunStore) LoadPermission(ctx context.Context, id string) (*Permission, error) {
	var p Permission
	err := s.db.NewSelect().Model(&p).Where("p.id = ?", id).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewError(ErrPermissionNotFound, fmt.Sprintf("permission id %q", id))
	}
	if err := dbkit.WithErr1(err, "LoadPermission").Err(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *BunStore) FindPermission(ctx context.Context, key PermissionKey) (*Permission, error) {
	var p Permission
	err := s.db.NewSelect().Model(&p).
		Where("p.resource = ? AND p.action = ?", key.Resource, key.Action).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewError(ErrPermissionNotFound, key.String()).WithPermission(key)
	}
	if err := dbkit.WithErr1(err, "FindPermission").Err(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *BunStore) ListPermissions(ctx context.Context) ([]Permission, error) {
	var ps []Permission
	err := s.db.NewSelect().Model(&ps).Order("p.resource ASC", "p.action ASC").Scan(ctx)
	if err := dbkit.WithErr1(err, "ListPermissions").Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return ps, nil
}

// ============================================================================
// ROLES
// ============================================================================

func (s *BunStore) CreateRole(ctx context.Context, r *Role) error {
	_, err := s.db.NewInsert().Model(r).Exec(ctx)
	if dbkit.IsDuplicate(err) {
		return NewError(ErrDuplicateRole, fmt.Sprintf("role %q already exists", r.Name)).
			WithRole(r.Name).
			WithBusiness(r.BusinessID)
	}
	if err := dbkit.WithErr1(err, "CreateRole").Err(); err != nil {
		return err
	}

	if len(r.PermissionIDs) == 0 {
		return nil
	}
	links := make([]RolePermission, 0, len(r.PermissionIDs))
	for _, id := range r.PermissionIDs {
		links = append(links, RolePermission{RoleID: r.ID, PermissionID: id})
	}
	_, err = s.db.NewInsert().Model(&links).On("CONFLICT DO NOTHING").Exec(ctx)
	return dbkit.WithErr1(err, "CreateRolePermissions").Err()
}

func (s *BunStore) LoadRole(ctx context.Context, id string) (*Role, error) {
	var r Role
	err := s.db.NewSelect().Model(&r).Where("r.id = ?", id).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewError(ErrRoleNotFound, fmt.Sprintf("role id %q", id)).WithRole(id)
	}
	if err := dbkit.WithErr1(err, "LoadRole").Err(); err != nil {
		return nil, err
	}
	if err := s.loadRolePermissions(ctx, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *BunStore) FindRoleByName(ctx context.Context, name, businessID string) (*Role, error) {
	var r Role
	q := s.db.NewSelect().Model(&r).Where("r.name = ?", name)
	if businessID == "" {
		q = q.Where("r.scope = ?", RoleScopeSystem)
	} else {
		q = q.Where("r.scope = ? AND r.business_id = ?", RoleScopeBusiness, businessID)
	}
	err := q.Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewError(ErrRoleNotFound, fmt.Sprintf("role %q", name)).
			WithRole(name).
			WithBusiness(businessID)
	}
	if err := dbkit.WithErr1(err, "FindRoleByName").Err(); err != nil {
		return nil, err
	}
	if err := s.loadRolePermissions(ctx, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *BunStore) ListRoles(ctx context.Context, businessID string) ([]Role, error) {
	var roles []Role
	q := s.db.NewSelect().Model(&roles)
	if businessID == "" {
		q = q.Where("r.scope = ?", RoleScopeSystem)
	} else {
		q = q.Where("r.scope = ? AND r.business_id = ?", RoleScopeBusiness, businessID)
	}
	err := q.Order("r.name ASC").Scan(ctx)
	if err := dbkit.WithErr1(err, "ListRoles").Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if len(roles) == 0 {
		return roles, nil
	}

	ids := make([]string, 0, len(roles))
	for _, r := range roles {
		ids = append(ids, r.ID)
	}
	var links []RolePermission
	err = s.db.NewSelect().Model(&links).Where("rp.role_id IN (?)", bun.In(ids)).Order("rp.permission_id ASC").Scan(ctx)
	if err := dbkit.WithErr1(err, "ListRolePermissions").Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	byRole := make(map[string][]string, len(roles))
	for _, l := range links {
		byRole[l.RoleID] = append(byRole[l.RoleID], l.PermissionID)
	}
	for i := range roles {
		roles[i].PermissionIDs = byRole[roles[i].ID]
	}
	return roles, nil
}

func (s *BunStore) loadRolePermissions(ctx context.Context, r *Role) error {
	var ids []string
	err := s.db.NewSelect().Model((*RolePermission)(nil)).
		Column("permission_id").
		Where("role_id = ?", r.ID).
		Order("permission_id ASC").
		Scan(ctx, &ids)
	if err := dbkit.WithErr1(err, "LoadRolePermissions").Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	r.PermissionIDs = ids
	return nil
}

func (s *BunStore) RenameRole(ctx context.Context, id, name string) error {
	result, err := s.db.NewUpdate().Model((*Role)(nil)).
		Set("name = ?", name).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	if dbkit.IsDuplicate(err) {
		return NewError(ErrDuplicateRole, fmt.Sprintf("role %q already exists", name)).WithRole(name)
	}
	if err := dbkit.WithErr1(err, "RenameRole").Err(); err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return NewError(ErrRoleNotFound, fmt.Sprintf("role id %q", id)).WithRole(id)
	}
	return nil
}

// DeleteRole removes the role. Permission links and principal assignments
// are removed by ON DELETE CASCADE.
func (s *BunStore) DeleteRole(ctx context.Context, id string) error {
	result, err := s.db.NewDelete().Model((*Role)(nil)).Where("id = ?", id).Exec(ctx)
	if err := dbkit.WithErr1(err, "DeleteRole").Err(); err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return NewError(ErrRoleNotFound, fmt.Sprintf("role id %q", id)).WithRole(id)
	}
	return nil
}

func (s *BunStore) AttachPermission(ctx context.Context, roleID, permissionID string) (bool, error) {
	link := &RolePermission{RoleID: roleID, PermissionID: permissionID}
	result, err := s.db.NewInsert().Model(link).On("CONFLICT DO NOTHING").Exec(ctx)
	if err := dbkit.WithErr1(err, "AttachPermission").Err(); err != nil {
		return false, err
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

func (s *BunStore) DetachPermission(ctx context.Context, roleID, permissionID string) (bool, error) {
	result, err := s.db.NewDelete().Model((*RolePermission)(nil)).
		Where("role_id = ? AND permission_id = ?", roleID, permissionID).
		Exec(ctx)
	if err := dbkit.WithErr1(err, "DetachPermission").Err(); err != nil {
		return false, err
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// ============================================================================
// PRINCIPALS
// ============================================================================

func (s *BunStore) LoadPrincipal(ctx context.Context, id string) (*Principal, error) {
	var p Principal
	err := s.db.NewSelect().Model(&p).Where("pr.id = ?", id).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewError(ErrPrincipalNotFound, fmt.Sprintf("principal id %q", id)).WithPrincipal(id)
	}
	if err := dbkit.WithErr1(err, "LoadPrincipal").Err(); err != nil {
		return nil, err
	}

	var roleIDs []string
	err = s.db.NewSelect().Model((*PrincipalRole)(nil)).
		Column("role_id").
		Where("principal_id = ?", id).
		Order("role_id ASC").
		Scan(ctx, &roleIDs)
	if err := dbkit.WithErr1(err, "LoadPrincipalRoles").Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	var grants []DirectGrant
	err = s.db.NewSelect().Model(&grants).
		Where("dg.principal_id = ?", id).
		Order("dg.permission_id ASC", "dg.business_id ASC").
		Scan(ctx)
	if err := dbkit.WithErr1(err, "LoadDirectGrants").Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	p.RoleIDs = roleIDs
	p.DirectGrants = grants
	return &p, nil
}

func (s *BunStore) CreatePrincipal(ctx context.Context, p *Principal) error {
	_, err := s.db.NewInsert().Model(p).Exec(ctx)
	if dbkit.IsDuplicate(err) {
		return NewError(ErrPrincipalExists, fmt.Sprintf("principal id %q", p.ID)).WithPrincipal(p.ID)
	}
	if err := dbkit.WithErr1(err, "CreatePrincipal").Err(); err != nil {
		return err
	}

	for _, roleID := range p.RoleIDs {
		if _, err := s.AddPrincipalRole(ctx, p.ID, roleID); err != nil {
			return err
		}
	}
	for _, g := range p.DirectGrants {
		g.PrincipalID = p.ID
		if _, err := s.AddDirectGrant(ctx, g); err != nil {
			return err
		}
	}
	return nil
}

func (s *BunStore) UpdatePrincipal(ctx context.Context, p *Principal) error {
	row := *p
	row.UpdatedAt = time.Now().UTC()
	result, err := s.db.NewUpdate().Model(&row).
		Column("legacy_role", "business_id", "is_active", "updated_at").
		WherePK().
		Exec(ctx)
	if err := dbkit.WithErr1(err, "UpdatePrincipal").Err(); err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return NewError(ErrPrincipalNotFound, fmt.Sprintf("principal id %q", p.ID)).WithPrincipal(p.ID)
	}
	return nil
}

func (s *BunStore) AddPrincipalRole(ctx context.Context, principalID, roleID string) (bool, error) {
	link := &PrincipalRole{PrincipalID: principalID, RoleID: roleID}
	result, err := s.db.NewInsert().Model(link).On("CONFLICT DO NOTHING").Exec(ctx)
	if err := dbkit.WithErr1(err, "AddPrincipalRole").Err(); err != nil {
		return false, err
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

func (s *BunStore) RemovePrincipalRole(ctx context.Context, principalID, roleID string) (bool, error) {
	result, err := s.db.NewDelete().Model((*PrincipalRole)(nil)).
		Where("principal_id = ? AND role_id = ?", principalID, roleID).
		Exec(ctx)
	if err := dbkit.WithErr1(err, "RemovePrincipalRole").Err(); err != nil {
		return false, err
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

func (s *BunStore) AddDirectGrant(ctx context.Context, g DirectGrant) (bool, error) {
	result, err := s.db.NewInsert().Model(&g).On("CONFLICT DO NOTHING").Exec(ctx)
	if err := dbkit.WithErr1(err, "AddDirectGrant").Err(); err != nil {
		return false, err
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

func (s *BunStore) RemoveDirectGrant(ctx context.Context, g DirectGrant) (bool, error) {
	result, err := s.db.NewDelete().Model((*DirectGrant)(nil)).
		Where("principal_id = ? AND permission_id = ? AND business_id = ?", g.PrincipalID, g.PermissionID, g.BusinessID).
		Exec(ctx)
	if err := dbkit.WithErr1(err, "RemoveDirectGrant").Err(); err != nil {
		return false, err
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// ============================================================================
// AUDIT
// ============================================================================

func (s *BunStore) AppendAudit(ctx context.Context, entry *AuditLog) error {
	_, err := s.db.NewInsert().Model(entry).Exec(ctx)
	return dbkit.WithErr1(err, "AppendAudit").Err()
}

func (s *BunStore) ListAudit(ctx context.Context, filter AuditLogFilter) ([]AuditLog, error) {
	var logs []AuditLog
	q := s.db.NewSelect().Model(&logs)
	if filter.ActorID != "" {
		q = q.Where("actor_id = ?", filter.ActorID)
	}
	if filter.Action != "" {
		q = q.Where("action = ?", filter.Action)
	}
	if filter.TargetKind != "" {
		q = q.Where("target_kind = ?", filter.TargetKind)
	}
	if filter.TargetID != "" {
		q = q.Where("target_id = ?", filter.TargetID)
	}
	if filter.BusinessID != "" {
		q = q.Where("business_id = ?", filter.BusinessID)
	}
	if !filter.Since.IsZero() {
		q = q.Where("timestamp >= ?", filter.Since)
	}
	if !filter.Until.IsZero() {
		q = q.Where("timestamp <= ?", filter.Until)
	}

	q = q.Limit(filter.limit())
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	q = q.Order("timestamp DESC")
	err := dbkit.WithErr1(q.Scan(ctx), "ListAudit").Err()
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return logs, nil
}
