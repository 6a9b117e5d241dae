package scopekit

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeFixture seeds rows with a unique suffix so the suite can share a database.
type storeFixture struct {
	t      *testing.T
	ctx    context.Context
	store  Store
	suffix string
}

func newStoreFixture(t *testing.T, store Store) *storeFixture {
	return &storeFixture{
		t:      t,
		ctx:    context.Background(),
		store:  store,
		suffix: strings.ReplaceAll(uuid.NewString()[:8], "-", ""),
	}
}

func (f *storeFixture) name(s string) string {
	return s + "_" + f.suffix
}

func (f *storeFixture) permission(resource, action string) *Permission {
	f.t.Helper()
	p := &Permission{
		ID:        uuid.NewString(),
		Resource:  f.name(resource),
		Action:    action,
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(f.t, f.store.CreatePermission(f.ctx, p))
	return p
}

func (f *storeFixture) role(name string, scope RoleScope, businessID string, permissionIDs ...string) *Role {
	f.t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	r := &Role{
		ID:            uuid.NewString(),
		Name:          name,
		Scope:         scope,
		BusinessID:    businessID,
		PermissionIDs: permissionIDs,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(f.t, f.store.CreateRole(f.ctx, r))
	return r
}

func (f *storeFixture) principal(businessID string, roleIDs ...string) *Principal {
	f.t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	p := &Principal{
		ID:         uuid.NewString(),
		LegacyRole: LegacyStaff,
		BusinessID: businessID,
		IsActive:   true,
		RoleIDs:    roleIDs,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(f.t, f.store.CreatePrincipal(f.ctx, p))
	return p
}

// testStore runs the behavior every Store implementation must share.
func testStore(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("Permissions", func(t *testing.T) {
		f := newStoreFixture(t, newStore(t))
		p := f.permission("order", "read")

		loaded, err := f.store.LoadPermission(f.ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, p.Key(), loaded.Key())

		found, err := f.store.FindPermission(f.ctx, p.Key())
		require.NoError(t, err)
		assert.Equal(t, p.ID, found.ID)

		dup := &Permission{ID: uuid.NewString(), Resource: p.Resource, Action: p.Action}
		assert.ErrorIs(t, f.store.CreatePermission(f.ctx, dup), ErrDuplicatePermission)

		_, err = f.store.LoadPermission(f.ctx, uuid.NewString())
		assert.ErrorIs(t, err, ErrPermissionNotFound)
		_, err = f.store.FindPermission(f.ctx, Key(p.Resource, "write"))
		assert.ErrorIs(t, err, ErrPermissionNotFound)

		all, err := f.store.ListPermissions(f.ctx)
		require.NoError(t, err)
		var ids []string
		for _, q := range all {
			ids = append(ids, q.ID)
		}
		assert.Contains(t, ids, p.ID)
	})

	t.Run("Roles", func(t *testing.T) {
		f := newStoreFixture(t, newStore(t))
		read := f.permission("order", "read")
		write := f.permission("order", "write")
		biz := f.name("biz")

		role := f.role("manager", RoleScopeBusiness, biz, read.ID, write.ID)
		sys := f.role(f.name("auditor"), RoleScopeSystem, "")

		loaded, err := f.store.LoadRole(f.ctx, role.ID)
		require.NoError(t, err)
		assert.Equal(t, biz, loaded.BusinessID)
		assert.ElementsMatch(t, []string{read.ID, write.ID}, loaded.PermissionIDs)

		found, err := f.store.FindRoleByName(f.ctx, "manager", biz)
		require.NoError(t, err)
		assert.Equal(t, role.ID, found.ID)

		found, err = f.store.FindRoleByName(f.ctx, sys.Name, "")
		require.NoError(t, err)
		assert.Equal(t, sys.ID, found.ID)

		_, err = f.store.FindRoleByName(f.ctx, "manager", "")
		assert.ErrorIs(t, err, ErrRoleNotFound)

		dup := &Role{ID: uuid.NewString(), Name: "manager", Scope: RoleScopeBusiness, BusinessID: biz}
		assert.ErrorIs(t, f.store.CreateRole(f.ctx, dup), ErrDuplicateRole)

		listed, err := f.store.ListRoles(f.ctx, biz)
		require.NoError(t, err)
		require.Len(t, listed, 1)
		assert.ElementsMatch(t, []string{read.ID, write.ID}, listed[0].PermissionIDs)

		require.NoError(t, f.store.RenameRole(f.ctx, role.ID, "shift_lead"))
		loaded, err = f.store.LoadRole(f.ctx, role.ID)
		require.NoError(t, err)
		assert.Equal(t, "shift_lead", loaded.Name)
		assert.ErrorIs(t, f.store.RenameRole(f.ctx, uuid.NewString(), "x"), ErrRoleNotFound)
	})

	t.Run("AttachDetachIdempotent", func(t *testing.T) {
		f := newStoreFixture(t, newStore(t))
		read := f.permission("order", "read")
		role := f.role("manager", RoleScopeBusiness, f.name("biz"))

		changed, err := f.store.AttachPermission(f.ctx, role.ID, read.ID)
		require.NoError(t, err)
		assert.True(t, changed)
		changed, err = f.store.AttachPermission(f.ctx, role.ID, read.ID)
		require.NoError(t, err)
		assert.False(t, changed)

		changed, err = f.store.DetachPermission(f.ctx, role.ID, read.ID)
		require.NoError(t, err)
		assert.True(t, changed)
		changed, err = f.store.DetachPermission(f.ctx, role.ID, read.ID)
		require.NoError(t, err)
		assert.False(t, changed)

		loaded, err := f.store.LoadRole(f.ctx, role.ID)
		require.NoError(t, err)
		assert.Empty(t, loaded.PermissionIDs)
	})

	t.Run("Principals", func(t *testing.T) {
		f := newStoreFixture(t, newStore(t))
		read := f.permission("order", "read")
		biz := f.name("biz")
		role := f.role("manager", RoleScopeBusiness, biz, read.ID)
		p := f.principal(biz, role.ID)

		loaded, err := f.store.LoadPrincipal(f.ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{role.ID}, loaded.RoleIDs)
		assert.True(t, loaded.IsActive)

		assert.ErrorIs(t, f.store.CreatePrincipal(f.ctx, p), ErrPrincipalExists)
		_, err = f.store.LoadPrincipal(f.ctx, uuid.NewString())
		assert.ErrorIs(t, err, ErrPrincipalNotFound)

		loaded.IsActive = false
		loaded.LegacyRole = LegacyManager
		loaded.BusinessID = f.name("other")
		require.NoError(t, f.store.UpdatePrincipal(f.ctx, loaded))
		updated, err := f.store.LoadPrincipal(f.ctx, p.ID)
		require.NoError(t, err)
		assert.False(t, updated.IsActive)
		assert.Equal(t, LegacyManager, updated.LegacyRole)
		assert.Equal(t, f.name("other"), updated.BusinessID)

		changed, err := f.store.AddPrincipalRole(f.ctx, p.ID, role.ID)
		require.NoError(t, err)
		assert.False(t, changed)
		changed, err = f.store.RemovePrincipalRole(f.ctx, p.ID, role.ID)
		require.NoError(t, err)
		assert.True(t, changed)
		changed, err = f.store.RemovePrincipalRole(f.ctx, p.ID, role.ID)
		require.NoError(t, err)
		assert.False(t, changed)
	})

	t.Run("DirectGrants", func(t *testing.T) {
		f := newStoreFixture(t, newStore(t))
		read := f.permission("report", "read")
		p := f.principal(f.name("biz"))

		global := DirectGrant{PrincipalID: p.ID, PermissionID: read.ID}
		scoped := DirectGrant{PrincipalID: p.ID, PermissionID: read.ID, BusinessID: f.name("biz")}

		for _, g := range []DirectGrant{global, scoped} {
			changed, err := f.store.AddDirectGrant(f.ctx, g)
			require.NoError(t, err)
			assert.True(t, changed)
		}
		changed, err := f.store.AddDirectGrant(f.ctx, global)
		require.NoError(t, err)
		assert.False(t, changed)

		loaded, err := f.store.LoadPrincipal(f.ctx, p.ID)
		require.NoError(t, err)
		assert.Len(t, loaded.DirectGrants, 2)

		changed, err = f.store.RemoveDirectGrant(f.ctx, scoped)
		require.NoError(t, err)
		assert.True(t, changed)

		loaded, err = f.store.LoadPrincipal(f.ctx, p.ID)
		require.NoError(t, err)
		require.Len(t, loaded.DirectGrants, 1)
		assert.Empty(t, loaded.DirectGrants[0].BusinessID)
	})

	t.Run("DeleteRoleRemovesAssignments", func(t *testing.T) {
		f := newStoreFixture(t, newStore(t))
		read := f.permission("order", "read")
		role := f.role("manager", RoleScopeBusiness, f.name("biz"), read.ID)
		p := f.principal(f.name("biz"), role.ID)

		require.NoError(t, f.store.DeleteRole(f.ctx, role.ID))

		_, err := f.store.LoadRole(f.ctx, role.ID)
		assert.ErrorIs(t, err, ErrRoleNotFound)
		loaded, err := f.store.LoadPrincipal(f.ctx, p.ID)
		require.NoError(t, err)
		assert.Empty(t, loaded.RoleIDs)

		assert.ErrorIs(t, f.store.DeleteRole(f.ctx, role.ID), ErrRoleNotFound)
	})

	t.Run("TransactionRollback", func(t *testing.T) {
		f := newStoreFixture(t, newStore(t))
		read := f.permission("order", "read")
		role := f.role("manager", RoleScopeBusiness, f.name("biz"))

		err := f.store.WithinTx(f.ctx, func(ctx context.Context, tx Store) error {
			if _, err := tx.AttachPermission(ctx, role.ID, read.ID); err != nil {
				return err
			}
			if err := tx.RenameRole(ctx, role.ID, "renamed"); err != nil {
				return err
			}
			return errBoom
		})
		assert.ErrorIs(t, err, errBoom)

		loaded, err := f.store.LoadRole(f.ctx, role.ID)
		require.NoError(t, err)
		assert.Equal(t, "manager", loaded.Name)
		assert.Empty(t, loaded.PermissionIDs)
	})

	t.Run("TransactionCommit", func(t *testing.T) {
		f := newStoreFixture(t, newStore(t))
		read := f.permission("order", "read")
		role := f.role("manager", RoleScopeBusiness, f.name("biz"))

		err := f.store.WithinTx(f.ctx, func(ctx context.Context, tx Store) error {
			_, err := tx.AttachPermission(ctx, role.ID, read.ID)
			return err
		})
		require.NoError(t, err)

		loaded, err := f.store.LoadRole(f.ctx, role.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{read.ID}, loaded.PermissionIDs)
	})

	t.Run("Audit", func(t *testing.T) {
		f := newStoreFixture(t, newStore(t))
		target := uuid.NewString()
		base := time.Now().UTC().Truncate(time.Millisecond)

		for i, action := range []AuditAction{AuditRoleCreated, AuditRoleRenamed, AuditRoleDeleted} {
			require.NoError(t, f.store.AppendAudit(f.ctx, &AuditLog{
				ID:         uuid.NewString(),
				Timestamp:  base.Add(time.Duration(i) * time.Second),
				ActorID:    "admin",
				Action:     string(action),
				TargetKind: string(InvalidateRole),
				TargetID:   target,
				BusinessID: f.name("biz"),
				Metadata:   map[string]any{"step": "x"},
			}))
		}

		entries, err := f.store.ListAudit(f.ctx, NewAuditLogFilter().WithTarget(InvalidateRole, target))
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.Equal(t, string(AuditRoleDeleted), entries[0].Action)
		assert.Equal(t, "x", entries[0].Metadata["step"])

		entries, err = f.store.ListAudit(f.ctx, NewAuditLogFilter().
			WithTarget(InvalidateRole, target).
			WithAction(AuditRoleRenamed))
		require.NoError(t, err)
		assert.Len(t, entries, 1)

		entries, err = f.store.ListAudit(f.ctx, NewAuditLogFilter().
			WithTarget(InvalidateRole, target).
			WithPagination(2, 2))
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, string(AuditRoleCreated), entries[0].Action)
	})
}
