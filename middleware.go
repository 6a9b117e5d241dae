package scopekit

import (
	"errors"
	"log/slog"
	"net/http"
)

// Middleware provides HTTP middleware for permission checking.
type Middleware struct {
	service        *Service
	getPrincipalID func(*http.Request) string
	errorHandler   func(http.ResponseWriter, *http.Request, error)
}

// MiddlewareOption configures the Middleware.
type MiddlewareOption func(*Middleware)

// NewMiddleware creates a new Middleware instance.
//
// Example:
//
//	mw := scopekit.NewMiddleware(svc,
//	    scopekit.WithPrincipalIDExtractor(func(r *http.Request) string {
//	        return r.Header.Get("X-Principal-ID")
//	    }),
//	)
func NewMiddleware(service *Service, opts ...MiddlewareOption) *Middleware {
	m := &Middleware{
		service:        service,
		getPrincipalID: defaultGetPrincipalID,
		errorHandler:   defaultErrorHandler,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// WithPrincipalIDExtractor sets a custom function to extract the principal ID from a request.
func WithPrincipalIDExtractor(fn func(*http.Request) string) MiddlewareOption {
	return func(m *Middleware) {
		m.getPrincipalID = fn
	}
}

// WithErrorHandler sets a custom error handler for middleware.
func WithErrorHandler(fn func(http.ResponseWriter, *http.Request, error)) MiddlewareOption {
	return func(m *Middleware) {
		m.errorHandler = fn
	}
}

func defaultGetPrincipalID(r *http.Request) string {
	return GetPrincipalID(r.Context())
}

// StatusCode maps a scopekit error to an HTTP status.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, ErrNoPrincipalID), errors.Is(err, ErrPrincipalNotFound):
		return http.StatusUnauthorized
	case errors.Is(err, ErrPrincipalInactive), errors.Is(err, ErrOutOfScope), errors.Is(err, ErrPermissionMissing):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalidBusiness), errors.Is(err, ErrInvalidPermission):
		return http.StatusBadRequest
	case IsStorageUnavailable(err):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func defaultErrorHandler(w http.ResponseWriter, r *http.Request, err error) {
	code := StatusCode(err)
	http.Error(w, http.StatusText(code), code)
}

// BusinessExtractor extracts the business owning the requested resource.
// Returning GlobalResource targets a resource no tenant owns.
type BusinessExtractor func(*http.Request) (string, error)

// BusinessFromParam creates a BusinessExtractor that reads the business ID
// from a path parameter.
//
// Example:
//
//	// For route /businesses/{businessID}/orders
//	mw.RequirePermission(scopekit.Key("order", "read"), scopekit.BusinessFromParam("businessID"))
func BusinessFromParam(paramName string) BusinessExtractor {
	return func(r *http.Request) (string, error) {
		businessID := r.PathValue(paramName)
		if businessID == "" {
			// Try context (set by router middleware)
			if s, ok := r.Context().Value(paramName).(string); ok {
				businessID = s
			}
		}
		if businessID == "" {
			return "", NewError(ErrInvalidBusiness, "business ID not found in path")
		}
		return businessID, nil
	}
}

// BusinessFromQuery creates a BusinessExtractor that reads the business ID
// from a query parameter.
//
// Example:
//
//	// For route /api/orders?business_id=biz-1
//	mw.RequirePermission(scopekit.Key("order", "read"), scopekit.BusinessFromQuery("business_id"))
func BusinessFromQuery(queryParam string) BusinessExtractor {
	return func(r *http.Request) (string, error) {
		businessID := r.URL.Query().Get(queryParam)
		if businessID == "" {
			return "", NewError(ErrInvalidBusiness, "business ID not found in query")
		}
		return businessID, nil
	}
}

// BusinessFromHeader creates a BusinessExtractor that reads the business ID from a header.
func BusinessFromHeader(headerName string) BusinessExtractor {
	return func(r *http.Request) (string, error) {
		businessID := r.Header.Get(headerName)
		if businessID == "" {
			return "", NewError(ErrInvalidBusiness, "business ID not found in header")
		}
		return businessID, nil
	}
}

// BusinessFromContext creates a BusinessExtractor that reads the business ID
// set with WithBusinessID. A value of GlobalResource is accepted.
func BusinessFromContext() BusinessExtractor {
	return func(r *http.Request) (string, error) {
		businessID, ok := GetBusinessID(r.Context())
		if !ok {
			return "", NewError(ErrInvalidBusiness, "business ID not found in context")
		}
		return businessID, nil
	}
}

// GlobalBusiness targets resources no tenant owns. Only principals with a
// global scope pass.
//
// Example:
//
//	mw.RequirePermission(scopekit.Key("business", "create"), scopekit.GlobalBusiness())
func GlobalBusiness() BusinessExtractor {
	return func(*http.Request) (string, error) {
		return GlobalResource, nil
	}
}

// RequirePermission creates middleware that requires key on the business
// returned by extractor. On success the principal's Checker is added to the
// request context.
//
// Example:
//
//	mux.Handle("POST /businesses/{businessID}/orders/{orderID}/refund",
//	    mw.RequirePermission(scopekit.Key("order", "refund"), scopekit.BusinessFromParam("businessID"))(refundHandler))
func (m *Middleware) RequirePermission(key PermissionKey, extractor BusinessExtractor) func(http.Handler) http.Handler {
	return m.RequireAny([]PermissionKey{key}, extractor)
}

// RequireAny creates middleware that requires any of keys on the business
// returned by extractor. Scope is still checked first, so a request against
// another tenant fails with ErrOutOfScope.
func (m *Middleware) RequireAny(keys []PermissionKey, extractor BusinessExtractor) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			principalID := m.getPrincipalID(r)
			if principalID == "" {
				m.errorHandler(w, r, ErrNoPrincipalID)
				return
			}

			businessID, err := extractor(r)
			if err != nil {
				m.errorHandler(w, r, err)
				return
			}

			checker, err := m.service.GetChecker(ctx, principalID)
			if err != nil {
				m.errorHandler(w, r, err)
				return
			}

			var denied Decision
			allowed := false
			for _, key := range keys {
				d := checker.Authorize(key, businessID)
				m.service.record(ctx, d)
				if d.Allowed {
					allowed = true
					break
				}
				// scope denials win over a missing permission
				if denied.Reason != ReasonOutOfScope {
					denied = d
				}
			}
			if !allowed {
				if len(keys) == 0 {
					denied = Deny(ReasonPermissionMissing, principalID, PermissionKey{}, businessID)
				}
				m.errorHandler(w, r, denied.Err())
				return
			}

			next.ServeHTTP(w, r.WithContext(WithChecker(ctx, checker)))
		})
	}
}

// LoadChecker creates middleware that loads the principal's Checker into context.
// Use this when you want to do permission checks in the handler rather than middleware.
//
// Example:
//
//	mux.Handle("GET /dashboard", mw.LoadChecker()(dashboardHandler))
//
//	func dashboardHandler(w http.ResponseWriter, r *http.Request) {
//	    checker := scopekit.FromContext(r.Context())
//	    if checker != nil && checker.Can(scopekit.Key("report", "read"), businessID) {
//	        // Show reports
//	    }
//	}
func (m *Middleware) LoadChecker() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			principalID := m.getPrincipalID(r)
			if principalID == "" {
				next.ServeHTTP(w, r)
				return
			}

			checker, err := m.service.GetChecker(ctx, principalID)
			if err != nil {
				// No checker: handlers that need one treat the request as anonymous.
				m.service.logger.WarnContext(ctx, "checker not loaded",
					slog.String("principal_id", principalID),
					slog.Any("error", err))
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithChecker(ctx, checker)))
		})
	}
}

// InjectAuditContext creates middleware that extracts audit information from the request
// and adds it to the context for use in administrative operations.
//
// Example:
//
//	handler = mw.InjectAuditContext()(handler)
func (m *Middleware) InjectAuditContext() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			ip := r.Header.Get("X-Forwarded-For")
			if ip == "" {
				ip = r.Header.Get("X-Real-IP")
			}
			if ip == "" {
				ip = r.RemoteAddr
			}
			ctx = WithIPAddress(ctx, ip)
			ctx = WithUserAgent(ctx, r.UserAgent())

			if requestID := r.Header.Get("X-Request-ID"); requestID != "" {
				ctx = WithRequestID(ctx, requestID)
			}

			if principalID := m.getPrincipalID(r); principalID != "" {
				ctx = WithActorID(ctx, principalID)
				ctx = WithPrincipalID(ctx, principalID)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
