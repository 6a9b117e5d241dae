package scopekit

import (
	"context"
	"log/slog"

	"github.com/fernandezvara/dbkit"
)

// Migrations returns all database migrations required by BunStore.
// Run them with dbkit:
//
//	result, err := db.Migrate(ctx, scopekit.Migrations())
func Migrations() []dbkit.Migration {
	return []dbkit.Migration{
		{
			ID:          "scopekit-001",
			Description: "Create permissions table",
			SQL: `
                CREATE TABLE IF NOT EXISTS permissions (
                    id TEXT PRIMARY KEY,
                    resource TEXT NOT NULL,
                    action TEXT NOT NULL,
                    description TEXT NOT NULL DEFAULT '',
                    created_at TIMESTAMPTZ NOT NULL DEFAULT current_timestamp,
                    CONSTRAINT permissions_resource_action_key UNIQUE (resource, action)
                )`,
		},
		{
			ID:          "scopekit-002",
			Description: "Create roles table",
			SQL: `
                CREATE TABLE IF NOT EXISTS roles (
                    id TEXT PRIMARY KEY,
                    name TEXT NOT NULL,
                    scope TEXT NOT NULL,
                    business_id TEXT,
                    is_system_role BOOLEAN NOT NULL DEFAULT false,
                    created_at TIMESTAMPTZ NOT NULL DEFAULT current_timestamp,
                    updated_at TIMESTAMPTZ NOT NULL DEFAULT current_timestamp,
                    CONSTRAINT roles_scope_business_check CHECK (
                        (scope = 'system' AND business_id IS NULL) OR
                        (scope = 'business' AND business_id IS NOT NULL)
                    )
                )`,
		},
		{
			ID:          "scopekit-003",
			Description: "Create unique system role name index",
			SQL: `
                CREATE UNIQUE INDEX IF NOT EXISTS idx_roles_system_name
                    ON roles (name) WHERE scope = 'system'`,
		},
		{
			ID:          "scopekit-004",
			Description: "Create unique business role name index",
			SQL: `
                CREATE UNIQUE INDEX IF NOT EXISTS idx_roles_business_name
                    ON roles (business_id, name) WHERE scope = 'business'`,
		},
		{
			ID:          "scopekit-005",
			Description: "Create role_permissions table",
			SQL: `
                CREATE TABLE IF NOT EXISTS role_permissions (
                    role_id TEXT NOT NULL REFERENCES roles (id) ON DELETE CASCADE,
                    permission_id TEXT NOT NULL REFERENCES permissions (id) ON DELETE CASCADE,
                    PRIMARY KEY (role_id, permission_id)
                )`,
		},
		{
			ID:          "scopekit-006",
			Description: "Create principals table",
			SQL: `
                CREATE TABLE IF NOT EXISTS principals (
                    id TEXT PRIMARY KEY,
                    legacy_role TEXT NOT NULL,
                    business_id TEXT,
                    is_active BOOLEAN NOT NULL DEFAULT true,
                    created_at TIMESTAMPTZ NOT NULL DEFAULT current_timestamp,
                    updated_at TIMESTAMPTZ NOT NULL DEFAULT current_timestamp
                )`,
		},
		{
			ID:          "scopekit-007",
			Description: "Create principal_roles table",
			SQL: `
                CREATE TABLE IF NOT EXISTS principal_roles (
                    principal_id TEXT NOT NULL REFERENCES principals (id) ON DELETE CASCADE,
                    role_id TEXT NOT NULL REFERENCES roles (id) ON DELETE CASCADE,
                    PRIMARY KEY (principal_id, role_id)
                )`,
		},
		{
			ID:          "scopekit-008",
			Description: "Create principal_roles role index",
			SQL:         `CREATE INDEX IF NOT EXISTS idx_principal_roles_role ON principal_roles (role_id)`,
		},
		{
			ID:          "scopekit-009",
			Description: "Create direct_grants table",
			SQL: `
                CREATE TABLE IF NOT EXISTS direct_grants (
                    principal_id TEXT NOT NULL REFERENCES principals (id) ON DELETE CASCADE,
                    permission_id TEXT NOT NULL REFERENCES permissions (id) ON DELETE CASCADE,
                    business_id TEXT NOT NULL DEFAULT '',
                    PRIMARY KEY (principal_id, permission_id, business_id)
                )`,
		},
		{
			ID:          "scopekit-010",
			Description: "Create authz_audit_log table",
			SQL: `
                CREATE TABLE IF NOT EXISTS authz_audit_log (
                    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
                    timestamp TIMESTAMPTZ NOT NULL DEFAULT current_timestamp,
                    actor_id TEXT NOT NULL,
                    action TEXT NOT NULL,
                    target_kind TEXT NOT NULL,
                    target_id TEXT NOT NULL,
                    business_id TEXT,
                    ip_address TEXT,
                    user_agent TEXT,
                    request_id TEXT,
                    metadata JSONB
                )`,
		},
		{
			ID:          "scopekit-011",
			Description: "Create audit log target index",
			SQL: `
                CREATE INDEX IF NOT EXISTS idx_authz_audit_log_target
                    ON authz_audit_log (target_kind, target_id, timestamp DESC)`,
		},
	}
}

// Migrate applies pending migrations and logs the ones it ran.
func Migrate(ctx context.Context, db *dbkit.DBKit, logger *slog.Logger) error {
	if logger == nil {
		logger = discardLogger()
	}
	result, err := db.Migrate(ctx, Migrations())
	if err != nil {
		return storageError("migrate", err)
	}
	for _, m := range result.Applied {
		logger.InfoContext(ctx, "migration applied", slog.String("id", m.ID))
	}
	return nil
}
