package scopekit

import (
	"context"
)

// Context keys for scopekit values.
type contextKey string

const (
	contextKeyPrincipalID contextKey = "scopekit:principal_id"
	contextKeyActorID     contextKey = "scopekit:actor_id"
	contextKeyBusinessID  contextKey = "scopekit:business_id"
	contextKeyIPAddress   contextKey = "scopekit:ip_address"
	contextKeyUserAgent   contextKey = "scopekit:user_agent"
	contextKeyRequestID   contextKey = "scopekit:request_id"
	contextKeyChecker     contextKey = "scopekit:checker"
)

// WithPrincipalID adds a principal ID to the context.
// This is the principal being checked for permissions.
func WithPrincipalID(ctx context.Context, principalID string) context.Context {
	return context.WithValue(ctx, contextKeyPrincipalID, principalID)
}

// GetPrincipalID retrieves the principal ID from context.
// Returns empty string if not set.
func GetPrincipalID(ctx context.Context) string {
	return stringValue(ctx, contextKeyPrincipalID)
}

// MustGetPrincipalID retrieves the principal ID from context.
// Panics if not set.
func MustGetPrincipalID(ctx context.Context) string {
	id := GetPrincipalID(ctx)
	if id == "" {
		panic("scopekit: principal ID not in context")
	}
	return id
}

// WithActorID adds an actor ID to the context.
// This is the principal performing an administrative change. It is recorded
// in the audit log and decides who may touch protected roles.
func WithActorID(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, contextKeyActorID, actorID)
}

// GetActorID retrieves the actor ID from context.
// Falls back to the principal ID if no actor is set.
func GetActorID(ctx context.Context) string {
	if id := stringValue(ctx, contextKeyActorID); id != "" {
		return id
	}
	return GetPrincipalID(ctx)
}

// WithBusinessID records the business a request targets, for extractors
// that read it from context (see BusinessFromContext).
func WithBusinessID(ctx context.Context, businessID string) context.Context {
	return context.WithValue(ctx, contextKeyBusinessID, businessID)
}

// GetBusinessID retrieves the target business from context.
func GetBusinessID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(contextKeyBusinessID).(string)
	return v, ok
}

// WithIPAddress adds the client IP address to the context (for audit).
func WithIPAddress(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, contextKeyIPAddress, ip)
}

// GetIPAddress retrieves the IP address from context.
func GetIPAddress(ctx context.Context) string {
	return stringValue(ctx, contextKeyIPAddress)
}

// WithUserAgent adds the user agent to the context (for audit).
func WithUserAgent(ctx context.Context, ua string) context.Context {
	return context.WithValue(ctx, contextKeyUserAgent, ua)
}

// GetUserAgent retrieves the user agent from context.
func GetUserAgent(ctx context.Context) string {
	return stringValue(ctx, contextKeyUserAgent)
}

// WithRequestID adds a request ID to the context (for audit and correlation).
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, contextKeyRequestID, requestID)
}

// GetRequestID retrieves the request ID from context.
func GetRequestID(ctx context.Context) string {
	return stringValue(ctx, contextKeyRequestID)
}

// WithChecker adds a Checker to the context.
// This is set by middleware and can be retrieved in handlers.
func WithChecker(ctx context.Context, checker *Checker) context.Context {
	return context.WithValue(ctx, contextKeyChecker, checker)
}

// FromContext retrieves the Checker from context.
// Returns nil if not set.
func FromContext(ctx context.Context) *Checker {
	if c, ok := ctx.Value(contextKeyChecker).(*Checker); ok {
		return c
	}
	return nil
}

func stringValue(ctx context.Context, key contextKey) string {
	if s, ok := ctx.Value(key).(string); ok {
		return s
	}
	return ""
}

// AuditContext holds all audit-related information from context.
type AuditContext struct {
	ActorID   string
	IPAddress string
	UserAgent string
	RequestID string
}

// GetAuditContext extracts all audit information from context.
func GetAuditContext(ctx context.Context) AuditContext {
	return AuditContext{
		ActorID:   GetActorID(ctx),
		IPAddress: GetIPAddress(ctx),
		UserAgent: GetUserAgent(ctx),
		RequestID: GetRequestID(ctx),
	}
}

// WithAuditContext adds all audit information to context at once.
func WithAuditContext(ctx context.Context, ac AuditContext) context.Context {
	if ac.ActorID != "" {
		ctx = WithActorID(ctx, ac.ActorID)
	}
	if ac.IPAddress != "" {
		ctx = WithIPAddress(ctx, ac.IPAddress)
	}
	if ac.UserAgent != "" {
		ctx = WithUserAgent(ctx, ac.UserAgent)
	}
	if ac.RequestID != "" {
		ctx = WithRequestID(ctx, ac.RequestID)
	}
	return ctx
}
