// Package rbac answers "may user U perform action A on resource R in tenant T?"
// for a multi-tenant performance-management platform.
//
// # Model
//
// A user belongs to a tenant through a Membership, which carries a lifecycle
// status (ACTIVE, SUSPENDED, LEFT), a primary role, optional additional roles
// and organizational metadata (department, team, managerId).
//
// A Role is a named set of permissions. Each permission is a resource.action
// key granted at a Scope:
//
//	ORG / unset  - any target in the tenant
//	TEAM         - targets in the same department or team, or direct reports
//	SELF         - only the acting user
//
// System roles (owner, hr_admin, manager, employee) are shared by every tenant
// and come from the built-in seed (see DefaultSeed and Store.ApplySeed).
// Tenants may define additional custom roles.
//
// # Checking
//
//	engine := rbac.NewEngine(reader, reader, rbac.WithLogger(log), rbac.WithMetrics(metrics))
//	decision := engine.CheckPermission(ctx, rbac.CheckInput{
//		TenantID: tenantID,
//		UserID:   userID,
//		Resource: rbac.ResourceGoal,
//		Action:   rbac.ActionRead,
//		Context:  &rbac.CheckContext{TargetUserID: ownerID},
//	})
//
// CheckPermission never returns an error. Store failures and panics become a
// deny with Code CodeInternalError; the detail is logged. Roles are consulted
// in membership order (primary first) and the first grant whose scope is
// satisfied wins, so MatchedPermission names that role.
//
// GetUserPermissions lists the union of a user's grants with the broadest
// scope per key. It is for display and must not be used for gating.
//
// # Caching
//
// CachedReader fronts the Store with a Cache (MemoryCache or RedisCache).
// Entries expire after DefaultCacheTTL; management operations call the
// Invalidator methods so changes are visible immediately on this instance.
//
// # HTTP
//
// Handlers exposes the check API and PermissionMiddleware gates other handlers
// on the identity established by pkg/middleware.
package rbac
