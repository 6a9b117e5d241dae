package scopekit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextPrincipalID(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetPrincipalID(ctx))
	assert.Panics(t, func() { MustGetPrincipalID(ctx) })

	ctx = WithPrincipalID(ctx, "u1")
	assert.Equal(t, "u1", GetPrincipalID(ctx))
	assert.Equal(t, "u1", MustGetPrincipalID(ctx))
}

func TestContextActorFallsBackToPrincipal(t *testing.T) {
	ctx := WithPrincipalID(context.Background(), "u1")
	assert.Equal(t, "u1", GetActorID(ctx))

	ctx = WithActorID(ctx, "admin")
	assert.Equal(t, "admin", GetActorID(ctx))
}

func TestContextBusinessID(t *testing.T) {
	_, ok := GetBusinessID(context.Background())
	assert.False(t, ok)

	// an explicit empty business targets global resources
	id, ok := GetBusinessID(WithBusinessID(context.Background(), GlobalResource))
	assert.True(t, ok)
	assert.Empty(t, id)

	id, ok = GetBusinessID(WithBusinessID(context.Background(), "biz-1"))
	assert.True(t, ok)
	assert.Equal(t, "biz-1", id)
}

func TestContextChecker(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))

	checker := NewChecker(testSet(ScopeDescriptor{Kind: ScopeGlobal}))
	assert.Same(t, checker, FromContext(WithChecker(context.Background(), checker)))
}

func TestAuditContextRoundTrip(t *testing.T) {
	ac := AuditContext{
		ActorID:   "admin",
		IPAddress: "192.0.2.10",
		UserAgent: "curl/8.0",
		RequestID: "req-42",
	}
	ctx := WithAuditContext(context.Background(), ac)

	assert.Equal(t, ac, GetAuditContext(ctx))
	assert.Equal(t, "192.0.2.10", GetIPAddress(ctx))
	assert.Equal(t, "curl/8.0", GetUserAgent(ctx))
	assert.Equal(t, "req-42", GetRequestID(ctx))

	// empty fields leave existing values alone
	ctx = WithAuditContext(ctx, AuditContext{RequestID: "req-43"})
	assert.Equal(t, "admin", GetActorID(ctx))
	assert.Equal(t, "req-43", GetRequestID(ctx))
}
