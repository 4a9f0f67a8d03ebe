package middleware

import (
	"net/http"
	"strings"

	"github.com/platinummonkey/perfhub/pkg/contextkeys"
	"github.com/platinummonkey/perfhub/pkg/httputil"
)

// Headers set by the upstream gateway after it has authenticated the caller
const (
	TenantHeader = "X-Tenant-ID"
	UserHeader   = "X-User-ID"
)

// Identity is the authenticated principal of a request
type Identity struct {
	TenantID string
	UserID   string
}

// IdentityMiddleware extracts the gateway-asserted tenant and user
type IdentityMiddleware struct {
	optional bool // If true, allow requests without identity
}

// NewIdentityMiddleware creates a new identity middleware
func NewIdentityMiddleware(optional bool) *IdentityMiddleware {
	return &IdentityMiddleware{optional: optional}
}

// Handler wraps an HTTP handler with identity extraction
func (m *IdentityMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := strings.TrimSpace(r.Header.Get(TenantHeader))
		userID := strings.TrimSpace(r.Header.Get(UserHeader))

		if tenantID == "" || userID == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteErrorMessage(w, http.StatusUnauthorized, "missing tenant or user identity")
			return
		}

		ctx := contextkeys.WithIdentity(r.Context(), tenantID, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireIdentity rejects requests that reached it without an identity. Pair it
// with an optional IdentityMiddleware when something in between, such as the
// anonymous rate limiter, must see unauthenticated requests.
func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetIdentity(r) == nil {
			httputil.WriteErrorMessage(w, http.StatusUnauthorized, "missing tenant or user identity")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetIdentity returns the request's identity, or nil when none was established
func GetIdentity(r *http.Request) *Identity {
	tenantID, userID := contextkeys.GetIdentity(r.Context())
	if tenantID == "" || userID == "" {
		return nil
	}
	return &Identity{TenantID: tenantID, UserID: userID}
}
