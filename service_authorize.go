package scopekit

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Authorize decides whether principalID may perform key on a resource owned
// by targetBusinessID. Pass GlobalResource for resources no tenant owns.
//
// Denials, including unknown and inactive principals, are returned as a
// Decision with a nil error. A non-nil error means permissions could not be
// determined (ErrStorageUnavailable); callers may fail closed but must not
// record it as a denial.
//
// Example:
//
//	d, err := svc.Authorize(ctx, "u1", scopekit.Key("order", "read"), "biz-1")
//	switch {
//	case err != nil:
//	    // 503
//	case d.Reason == scopekit.ReasonOutOfScope:
//	    // 403, tenant mismatch
//	case !d.Allowed:
//	    // 403
//	}
func (s *Service) Authorize(ctx context.Context, principalID string, key PermissionKey, targetBusinessID string) (Decision, error) {
	set, err := s.EffectivePermissions(ctx, principalID)
	if errors.Is(err, ErrPrincipalNotFound) {
		d := Deny(ReasonPrincipalNotFound, principalID, key, targetBusinessID)
		s.record(ctx, d)
		return d, nil
	}
	if err != nil {
		s.metrics.storageError()
		s.logger.ErrorContext(ctx, "authorization undetermined",
			slog.String("principal_id", principalID),
			slog.String("permission", key.String()),
			slog.String("business_id", targetBusinessID),
			slog.Any("error", err))
		return Decision{}, err
	}

	d := Enforce(set, key, targetBusinessID)
	s.record(ctx, d)
	return d, nil
}

// Can is a convenience wrapper around Authorize that fails closed.
func (s *Service) Can(ctx context.Context, principalID string, key PermissionKey, targetBusinessID string) bool {
	d, err := s.Authorize(ctx, principalID, key, targetBusinessID)
	return err == nil && d.Allowed
}

func (s *Service) record(ctx context.Context, d Decision) {
	s.metrics.decision(d)

	level := slog.LevelDebug
	if d.Reason == ReasonOutOfScope {
		// cross-tenant attempts are kept for audit
		level = slog.LevelInfo
	}
	s.logger.Log(ctx, level, "authorization decision",
		slog.String("principal_id", d.PrincipalID),
		slog.String("permission", d.Permission.String()),
		slog.String("business_id", d.BusinessID),
		slog.String("outcome", d.Label()))
}

// EffectivePermissions returns the principal's effective permission set,
// from the cache when one is configured.
func (s *Service) EffectivePermissions(ctx context.Context, principalID string) (*EffectivePermissionSet, error) {
	if s.cache == nil {
		return s.compute(ctx, principalID)
	}
	return s.cache.GetOrCompute(ctx, principalID, s.compute)
}

func (s *Service) compute(ctx context.Context, principalID string) (*EffectivePermissionSet, error) {
	start := time.Now()
	defer s.metrics.computed(start)

	pc, err := s.resolver.Resolve(ctx, principalID)
	if err != nil {
		return nil, err
	}
	return s.engine.Compute(ctx, pc)
}

// GetChecker resolves the principal and returns a Checker over its effective set.
// Returns ErrPrincipalNotFound for unknown principals.
func (s *Service) GetChecker(ctx context.Context, principalID string) (*Checker, error) {
	set, err := s.EffectivePermissions(ctx, principalID)
	if err != nil {
		return nil, err
	}
	return NewChecker(set), nil
}

// Invalidate drops cached resolutions named by refs, locally and on every
// configured invalidation target. Administrative collaborators that mutate
// the store directly must call it after every mutation; the Service's own
// mutators already do.
func (s *Service) Invalidate(ctx context.Context, refs ...Invalidation) error {
	if err := s.invalidator.Invalidate(ctx, refs...); err != nil {
		return NewError(ErrCacheUnavailable, "invalidate").WithCause(err)
	}
	return nil
}
