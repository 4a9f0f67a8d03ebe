package rbac

import (
	"context"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultCacheTTL bounds how stale a cached membership or role may be
const DefaultCacheTTL = 5 * time.Minute

// DefaultCacheSize is the per-kind entry limit of the in-process cache
const DefaultCacheSize = 10000

// Cache memoizes membership and role lookups. Implementations must be safe for
// concurrent use and must only ever store fully resolved values. A miss is
// reported as (nil, nil).
type Cache interface {
	GetMembership(ctx context.Context, tenantID, userID string) (*Membership, error)
	SetMembership(ctx context.Context, m *Membership) error
	GetRole(ctx context.Context, roleID string) (*Role, error)
	SetRole(ctx context.Context, r *Role) error

	// InvalidateMembership drops the cached membership for (tenantID, userID)
	InvalidateMembership(ctx context.Context, tenantID, userID string) error
	// InvalidateRole drops the cached role
	InvalidateRole(ctx context.Context, roleID string) error
	// Clear drops every entry
	Clear(ctx context.Context) error
}

// Invalidator is implemented by anything that can drop cached access-control state
type Invalidator interface {
	InvalidateMembership(ctx context.Context, tenantID, userID string) error
	InvalidateRole(ctx context.Context, roleID string) error
	Clear(ctx context.Context) error
}

func membershipCacheKey(tenantID, userID string) string {
	return tenantID + ":" + userID
}

// CacheStats reports lookup counters
type CacheStats struct {
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Memberships int   `json:"memberships"`
	Roles       int   `json:"roles"`
}

// MemoryCache is an in-process Cache backed by expirable LRUs. Every entry
// carries its own deadline; there is no sweeper goroutine.
type MemoryCache struct {
	memberships *lru.LRU[string, *Membership]
	roles       *lru.LRU[string, *Role]
	hits        atomic.Int64
	misses      atomic.Int64
}

// NewMemoryCache creates an in-process cache. Non-positive arguments fall back
// to DefaultCacheSize and DefaultCacheTTL.
func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &MemoryCache{
		memberships: lru.NewLRU[string, *Membership](size, nil, ttl),
		roles:       lru.NewLRU[string, *Role](size, nil, ttl),
	}
}

// GetMembership returns a copy of the cached membership
func (c *MemoryCache) GetMembership(_ context.Context, tenantID, userID string) (*Membership, error) {
	m, ok := c.memberships.Get(membershipCacheKey(tenantID, userID))
	if !ok {
		c.misses.Add(1)
		return nil, nil
	}
	c.hits.Add(1)
	return m.Clone(), nil
}

// SetMembership stores a copy of m
func (c *MemoryCache) SetMembership(_ context.Context, m *Membership) error {
	if m == nil {
		return nil
	}
	c.memberships.Add(membershipCacheKey(m.TenantID, m.UserID), m.Clone())
	return nil
}

// GetRole returns a copy of the cached role
func (c *MemoryCache) GetRole(_ context.Context, roleID string) (*Role, error) {
	r, ok := c.roles.Get(roleID)
	if !ok {
		c.misses.Add(1)
		return nil, nil
	}
	c.hits.Add(1)
	return r.Clone(), nil
}

// SetRole stores a copy of r
func (c *MemoryCache) SetRole(_ context.Context, r *Role) error {
	if r == nil {
		return nil
	}
	c.roles.Add(r.ID, r.Clone())
	return nil
}

// InvalidateMembership drops one membership entry
func (c *MemoryCache) InvalidateMembership(_ context.Context, tenantID, userID string) error {
	c.memberships.Remove(membershipCacheKey(tenantID, userID))
	return nil
}

// InvalidateRole drops one role entry
func (c *MemoryCache) InvalidateRole(_ context.Context, roleID string) error {
	c.roles.Remove(roleID)
	return nil
}

// Clear drops every entry
func (c *MemoryCache) Clear(_ context.Context) error {
	c.memberships.Purge()
	c.roles.Purge()
	return nil
}

// Stats returns the current counters
func (c *MemoryCache) Stats() CacheStats {
	return CacheStats{
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Memberships: c.memberships.Len(),
		Roles:       c.roles.Len(),
	}
}
