package scopekit

import "time"

// DefaultAuditLimit caps audit queries that set no limit.
const DefaultAuditLimit = 100

// AuditLogFilter provides options for filtering audit log queries.
type AuditLogFilter struct {
	// Filter by actor who performed the action
	ActorID string

	// Filter by action type, e.g. "role.created"
	Action string

	// Filter by target ("principal", "role" or "permission") and its id
	TargetKind string
	TargetID   string

	// Filter by the business the mutation concerned
	BusinessID string

	// Filter by time range
	Since time.Time
	Until time.Time

	// Pagination
	Limit  int
	Offset int
}

// NewAuditLogFilter creates a new AuditLogFilter with default values.
func NewAuditLogFilter() AuditLogFilter {
	return AuditLogFilter{
		Limit: DefaultAuditLimit,
	}
}

// WithActor sets the actor ID filter.
func (f AuditLogFilter) WithActor(actorID string) AuditLogFilter {
	f.ActorID = actorID
	return f
}

// WithAction sets the action filter.
func (f AuditLogFilter) WithAction(action AuditAction) AuditLogFilter {
	f.Action = string(action)
	return f
}

// WithTarget sets the target filter.
func (f AuditLogFilter) WithTarget(kind InvalidationKind, id string) AuditLogFilter {
	f.TargetKind = string(kind)
	f.TargetID = id
	return f
}

// WithBusiness sets the business filter.
func (f AuditLogFilter) WithBusiness(businessID string) AuditLogFilter {
	f.BusinessID = businessID
	return f
}

// WithTimeRange sets the time range filter.
func (f AuditLogFilter) WithTimeRange(since, until time.Time) AuditLogFilter {
	f.Since = since
	f.Until = until
	return f
}

// WithPagination sets both limit and offset.
func (f AuditLogFilter) WithPagination(limit, offset int) AuditLogFilter {
	f.Limit = limit
	f.Offset = offset
	return f
}

func (f AuditLogFilter) limit() int {
	if f.Limit <= 0 {
		return DefaultAuditLimit
	}
	return f.Limit
}

// matches applies the filter to one entry, for stores that filter in memory.
func (f AuditLogFilter) matches(l *AuditLog) bool {
	switch {
	case f.ActorID != "" && l.ActorID != f.ActorID:
		return false
	case f.Action != "" && l.Action != f.Action:
		return false
	case f.TargetKind != "" && l.TargetKind != f.TargetKind:
		return false
	case f.TargetID != "" && l.TargetID != f.TargetID:
		return false
	case f.BusinessID != "" && l.BusinessID != f.BusinessID:
		return false
	case !f.Since.IsZero() && l.Timestamp.Before(f.Since):
		return false
	case !f.Until.IsZero() && l.Timestamp.After(f.Until):
		return false
	}
	return true
}
