// Package middleware establishes who is calling and how often they may call.
//
// IdentityMiddleware reads the tenant and user asserted by the upstream
// gateway (X-Tenant-ID, X-User-ID) and stores them on the request context;
// GetIdentity returns them to handlers and to the rbac permission middleware.
//
// RateLimitMiddleware budgets requests per tenant user, falling back to the
// client IP when no identity is present. RateLimiter is an in-process token
// bucket; DistributedRateLimiter is a Redis fixed window shared by every
// instance.
//
//	limits := middleware.NewRateLimitMiddleware(
//		middleware.NewDistributedRateLimiter(redisClient, middleware.PerUserRateLimitConfig(), ""),
//		middleware.NewRateLimiter(middleware.DefaultRateLimitConfig()),
//		log,
//	)
//	api.Use(identity.Handler, limits.Handler)
package middleware
