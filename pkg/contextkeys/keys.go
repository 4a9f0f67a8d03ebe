// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//
//	import "github.com/platinummonkey/perfhub/pkg/contextkeys"
//	ctx = contextkeys.WithIdentity(ctx, tenantID, userID)
//	tenantID, userID := contextkeys.GetIdentity(ctx)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// TenantIDKey contains the acting tenant ID string
	// Set by: middleware.IdentityMiddleware (pkg/middleware/identity.go)
	// Required by: RBAC middleware, check handlers
	TenantIDKey Key = "tenant_id"

	// UserIDKey contains the acting user ID string
	// Set by: middleware.IdentityMiddleware
	// Used by: RBAC middleware, logger, audit trail
	UserIDKey Key = "user_id"

	// RequestIDKey contains request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: Logger, audit trail, distributed tracing
	RequestIDKey Key = "request_id"

	// LoggerKey contains a logrus.FieldLogger
	// Set by: httputil.LoggingMiddleware
	// Used by: Handlers that need structured logging with request context
	LoggerKey Key = "logger"

	// AuditSinkKey contains audit.Sink
	// Set by: audit.Middleware (pkg/audit/sink.go)
	// Used by: RBAC middleware and management handlers that record audit events
	AuditSinkKey Key = "audit_sink"
)

// WithIdentity adds the acting tenant and user to the context
func WithIdentity(ctx context.Context, tenantID, userID string) context.Context {
	ctx = context.WithValue(ctx, TenantIDKey, tenantID)
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetIdentity retrieves the acting tenant and user from context
func GetIdentity(ctx context.Context) (tenantID, userID string) {
	tenantID, _ = ctx.Value(TenantIDKey).(string)
	userID, _ = ctx.Value(UserIDKey).(string)
	return tenantID, userID
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// WithAuditSink adds audit sink to the context
func WithAuditSink(ctx context.Context, sink interface{}) context.Context {
	return context.WithValue(ctx, AuditSinkKey, sink)
}
