// Package scopekit is the authorization core of a multi-tenant restaurant platform.
//
// It decides whether a principal may perform an action on a resource owned by
// a business (a tenant). Authentication is out of scope: callers supply an
// already verified principal ID.
//
// # Core Concepts
//
// Permission: a (resource, action) pair registered in the catalog, such as
// ("order", "read"). There are no wildcards; an action is allowed only by the
// exact pair.
//
// Role: a named bundle of permissions. System roles apply across all
// businesses. Business roles belong to one business and contribute only to
// principals of that business.
//
// Principal: an authenticated actor with a legacy single role, zero or more
// role assignments, zero or more direct grants, an optional home business
// and an active flag.
//
// Scope: a principal is either global (legacy super_admin or system_admin,
// or an elevated protected system role) or pinned to its home business. Scope
// is checked before permissions, so a tenant admin acting on another
// business is denied with ReasonOutOfScope even when it holds the permission.
//
// # Basic Usage
//
//	store := scopekit.NewMemoryStore()
//	cache := scopekit.NewCache(scopekit.DefaultCacheSize, scopekit.DefaultCacheTTL)
//	svc := scopekit.NewService(store, scopekit.WithCache(cache))
//
//	bp := scopekit.DefaultBlueprint()
//	if err := bp.Install(ctx, svc); err != nil {
//	    return err
//	}
//	roles, err := bp.Provision(ctx, svc, "biz-1")
//
//	u1 := scopekit.NewPrincipal("u1", scopekit.LegacyRestaurantAdmin, "biz-1")
//	u1.RoleIDs = []string{roles["restaurant_admin"].ID}
//	_, err = svc.CreatePrincipal(ctx, u1)
//
//	d, err := svc.Authorize(ctx, "u1", scopekit.Key("order", "read"), "biz-2")
//	// d.Allowed == false, d.Reason == scopekit.ReasonOutOfScope
//
// # Storage
//
// MemoryStore keeps everything in process and suits tests and single-node
// tools. BunStore persists to PostgreSQL through dbkit; run Migrate first:
//
//	store, db, err := scopekit.OpenBunStore(ctx, cfg, logger)
//
// Every administrative change runs in one transaction together with its
// audit row and its cache invalidation. If the invalidation cannot be
// delivered the change is rolled back.
//
// # Caching
//
// The Cache keeps effective permission sets for a bounded time. Changing a
// role or permission drops every cached set derived from it. With several
// instances, add a RedisBroadcaster so invalidations reach the others.
//
// # HTTP Middleware
//
//	mw := scopekit.NewMiddleware(svc)
//	mux.Handle("GET /businesses/{businessID}/orders",
//	    mw.RequirePermission(scopekit.Key("order", "read"), scopekit.BusinessFromParam("businessID"))(listOrders))
//
// # Error Handling
//
// Denials are Decision values, not errors. An error from Authorize means
// permissions could not be determined:
//
//	d, err := svc.Authorize(ctx, id, key, businessID)
//	if scopekit.IsStorageUnavailable(err) {
//	    // 503, never logged as a denial
//	}
package scopekit
