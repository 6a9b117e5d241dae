package scopekit

import "context"

// GetAuditLog returns audit entries matching filter, newest first.
//
// Example:
//
//	entries, err := svc.GetAuditLog(ctx, scopekit.NewAuditLogFilter().
//	    WithBusiness("biz-1").
//	    WithAction(scopekit.AuditRoleAssigned).
//	    WithPagination(50, 0))
func (s *Service) GetAuditLog(ctx context.Context, filter AuditLogFilter) ([]AuditLog, error) {
	entries, err := s.store.ListAudit(ctx, filter)
	if err != nil {
		return nil, storageError("GetAuditLog", err)
	}
	return entries, nil
}
