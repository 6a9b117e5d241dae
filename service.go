package scopekit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fernandezvara/dbkit"
	"github.com/google/uuid"
)

// SystemActor is recorded as the actor of mutations made without an actor in context.
const SystemActor = "system"

// Service is the entry point of the authorization core. It answers
// authorization checks and applies administrative mutations, keeping the
// resolution cache coherent with the store.
//
// Example:
//
//	store := scopekit.NewMemoryStore()
//	cache := scopekit.NewCache(0, time.Minute)
//	svc := scopekit.NewService(store, scopekit.WithCache(cache))
//
//	decision, err := svc.Authorize(ctx, "u1", scopekit.Key("order", "read"), "biz-1")
//	if err != nil {
//	    // storage failed: permissions could not be determined
//	}
//	if !decision.Allowed {
//	    return decision.Err()
//	}
type Service struct {
	store       Store
	resolver    *Resolver
	engine      *Engine
	cache       *Cache
	invalidator Invalidators
	metrics     *Metrics
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures the Service.
type Option func(*Service)

// WithCache fronts resolution with c. Without a cache every check recomputes.
func WithCache(c *Cache) Option {
	return func(s *Service) {
		s.cache = c
	}
}

// WithInvalidator adds a target that receives every invalidation after the
// local cache, e.g. a RedisBroadcaster.
func WithInvalidator(inv Invalidator) Option {
	return func(s *Service) {
		s.invalidator = append(s.invalidator, inv)
	}
}

// WithMetrics records decisions and resolution timings.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// WithClock overrides the clock used for audit timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a new Service over store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: discardLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.resolver = NewResolver(store)
	s.engine = NewEngine(store, store, s.logger)
	if s.cache != nil {
		s.invalidator = append(Invalidators{s.cache}, s.invalidator...)
	}
	return s
}

// Store returns the underlying store.
func (s *Service) Store() Store {
	return s.store
}

// Cache returns the resolution cache, or nil when none is configured.
func (s *Service) Cache() *Cache {
	return s.cache
}

// mutation persists a change and names the cached resolutions it affects.
// A nil audit entry skips the audit row.
type mutation func(ctx context.Context, tx Store) ([]Invalidation, *AuditEntry, error)

// mutate runs fn, its audit row and its invalidation in one transaction.
// If the invalidation fails the change is rolled back. Once committed the
// invalidation is emitted again, so a resolution computed between the first
// emit and the commit can not survive in the cache.
func (s *Service) mutate(ctx context.Context, op string, fn mutation) error {
	var refs []Invalidation

	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Store) error {
		r, entry, err := fn(ctx, tx)
		if err != nil {
			return err
		}
		refs = r

		if entry != nil {
			row := entry.ToModel(s.auditContext(ctx), s.now().UTC())
			row.ID = uuid.NewString()
			if err := tx.AppendAudit(ctx, row); err != nil {
				return storageError(op+": audit", err)
			}
		}

		if err := s.invalidator.Invalidate(ctx, refs...); err != nil {
			return NewError(ErrCacheUnavailable, op).WithCause(err)
		}
		return nil
	})
	if err != nil {
		if !isDomainError(err) {
			err = storageError(op, err)
		}
		s.logger.WarnContext(ctx, "mutation failed", slog.String("op", op), slog.Any("error", err))
		return err
	}

	if err := s.invalidator.Invalidate(ctx, refs...); err != nil {
		s.logger.ErrorContext(ctx, "post-commit invalidation failed",
			slog.String("op", op), slog.Any("refs", refs), slog.Any("error", err))
	}
	s.logger.DebugContext(ctx, "mutation applied", slog.String("op", op), slog.Any("refs", refs))
	return nil
}

func (s *Service) auditContext(ctx context.Context) AuditContext {
	ac := GetAuditContext(ctx)
	if ac.ActorID == "" {
		ac.ActorID = SystemActor
	}
	return ac
}

// isDomainError reports whether err is one of the typed outcomes rather than
// a storage failure.
func isDomainError(err error) bool {
	var e *Error
	return errors.As(err, &e)
}

// readErr passes typed not-found errors through and wraps everything else
// as a storage failure.
func readErr(op string, err error) error {
	if err == nil || IsNotFound(err) {
		return err
	}
	return storageError(op, err)
}

// HealthReport summarizes the health of the service's collaborators.
type HealthReport struct {
	Healthy bool
	Checks  map[string]dbkit.HealthStatus
}

// Pinger is implemented by invalidation targets that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health checks the store and every invalidation target that implements Pinger.
func (s *Service) Health(ctx context.Context) HealthReport {
	report := HealthReport{
		Healthy: true,
		Checks:  map[string]dbkit.HealthStatus{"store": s.store.Health(ctx)},
	}
	for _, inv := range s.invalidator {
		p, ok := inv.(Pinger)
		if !ok {
			continue
		}
		status := dbkit.HealthStatus{Healthy: true}
		if err := p.Ping(ctx); err != nil {
			status = dbkit.HealthStatus{Healthy: false, Error: err.Error()}
		}
		report.Checks["invalidation"] = status
	}
	for _, c := range report.Checks {
		if !c.Healthy {
			report.Healthy = false
		}
	}
	return report
}
