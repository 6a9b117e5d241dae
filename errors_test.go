package scopekit

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{"sentinel only", NewError(ErrRoleNotFound, ""), "scopekit: role not found"},
		{"with message", NewError(ErrRoleNotFound, `role "manager"`), `scopekit: role not found: role "manager"`},
		{"with cause", NewError(ErrStorageUnavailable, "LoadRole").WithCause(errBoom), "scopekit: storage unavailable: LoadRole: connection refused"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestErrorContext(t *testing.T) {
	err := NewError(ErrOutOfScope, "").
		WithPrincipal("u1").
		WithBusiness("biz-2").
		WithRole("manager").
		WithPermission(Key("order", "read")).
		WithActor("admin")

	assert.Equal(t, "u1", err.PrincipalID)
	assert.Equal(t, "biz-2", err.BusinessID)
	assert.Equal(t, "manager", err.Role)
	assert.Equal(t, "order:read", err.Permission)
	assert.Equal(t, "admin", err.ActorID)
}

func TestErrorUnwrap(t *testing.T) {
	err := fmt.Errorf("authorize: %w", NewError(ErrStorageUnavailable, "LoadPrincipal").WithCause(errBoom))

	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.ErrorIs(t, err, errBoom)

	var e *Error
	assert.True(t, errors.As(err, &e))
	assert.Equal(t, "LoadPrincipal", e.Message)
}

func TestStorageError(t *testing.T) {
	assert.NoError(t, storageError("op", nil))

	wrapped := storageError("LoadRole", errBoom)
	assert.True(t, IsStorageUnavailable(wrapped))
	assert.ErrorIs(t, wrapped, errBoom)
	assert.False(t, IsDenied(wrapped))

	// already typed failures are not wrapped twice
	assert.Same(t, wrapped, storageError("Authorize", wrapped))
}

func TestErrorPredicates(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		denied    bool
		notFound  bool
		storage   bool
		outScope  bool
		missing   bool
		invalidSc bool
	}{
		{"out of scope", ErrOutOfScope, true, false, false, true, false, false},
		{"permission missing", ErrPermissionMissing, true, false, false, false, true, false},
		{"inactive", ErrPrincipalInactive, true, false, false, false, false, false},
		{"principal not found", ErrPrincipalNotFound, true, true, false, false, false, false},
		{"role not found", ErrRoleNotFound, false, true, false, false, false, false},
		{"storage", ErrStorageUnavailable, false, false, true, false, false, false},
		{"cache", ErrCacheUnavailable, false, false, true, false, false, false},
		{"invalid scope", ErrInvalidScope, false, false, false, false, false, true},
		{"unrelated", errBoom, false, false, false, false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewError(tt.err, "x")
			assert.Equal(t, tt.denied, IsDenied(err))
			assert.Equal(t, tt.notFound, IsNotFound(err))
			assert.Equal(t, tt.storage, IsStorageUnavailable(err))
			assert.Equal(t, tt.outScope, IsOutOfScope(err))
			assert.Equal(t, tt.missing, IsPermissionMissing(err))
			assert.Equal(t, tt.invalidSc, IsInvalidScope(err))
		})
	}
}
