package rbac

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// MembershipReader resolves a user's membership in a tenant. It returns
// (nil, nil) when no membership exists.
type MembershipReader interface {
	FindMembership(ctx context.Context, tenantID, userID string) (*Membership, error)
}

// RoleReader resolves a role with its permissions. It returns (nil, nil) when
// the role does not exist.
type RoleReader interface {
	FindRole(ctx context.Context, roleID string) (*Role, error)
}

// MetricsRecorder receives decision and cache measurements
type MetricsRecorder interface {
	ObserveDecision(allowed bool, code string, duration time.Duration)
	ObserveCacheLookup(kind string, hit bool)
}

type noopRecorder struct{}

func (noopRecorder) ObserveDecision(bool, string, time.Duration) {}
func (noopRecorder) ObserveCacheLookup(string, bool)             {}

// DefaultLookupTimeout bounds a shared store read
const DefaultLookupTimeout = 10 * time.Second

// CachedReader fronts a membership and role store with a Cache. Concurrent
// misses for the same key share one store read, which runs detached from any
// single caller's cancellation; each caller still stops waiting when its own
// context is done.
type CachedReader struct {
	members MembershipReader
	roles   RoleReader
	cache   Cache
	group   singleflight.Group
	log     logrus.FieldLogger
	metrics MetricsRecorder
	timeout time.Duration
}

// ReaderOption configures a CachedReader
type ReaderOption func(*CachedReader)

// WithReaderLogger sets the logger used for cache failures
func WithReaderLogger(log logrus.FieldLogger) ReaderOption {
	return func(r *CachedReader) { r.log = log }
}

// WithReaderMetrics sets the recorder for cache hits and misses
func WithReaderMetrics(m MetricsRecorder) ReaderOption {
	return func(r *CachedReader) { r.metrics = m }
}

// WithLookupTimeout bounds each shared store read. Zero disables the bound.
func WithLookupTimeout(d time.Duration) ReaderOption {
	return func(r *CachedReader) { r.timeout = d }
}

// NewCachedReader creates a cached reader. A nil cache disables caching.
func NewCachedReader(members MembershipReader, roles RoleReader, cache Cache, opts ...ReaderOption) *CachedReader {
	r := &CachedReader{
		members: members,
		roles:   roles,
		cache:   cache,
		log:     logrus.StandardLogger(),
		metrics: noopRecorder{},
		timeout: DefaultLookupTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// FindMembership returns the membership for (tenantID, userID), consulting the cache first
func (r *CachedReader) FindMembership(ctx context.Context, tenantID, userID string) (*Membership, error) {
	if r.cache != nil {
		m, err := r.cache.GetMembership(ctx, tenantID, userID)
		if err != nil {
			r.log.WithError(err).WithField("tenant_id", tenantID).Warn("membership cache read failed")
		} else if m != nil {
			r.metrics.ObserveCacheLookup("membership", true)
			return m, nil
		}
		r.metrics.ObserveCacheLookup("membership", false)
	}

	key := "m:" + membershipCacheKey(tenantID, userID)
	v, err := r.shared(ctx, key, func(ctx context.Context) (interface{}, error) {
		m, err := r.members.FindMembership(ctx, tenantID, userID)
		if err != nil {
			return nil, err
		}
		// absent memberships are not cached so a fresh invite is visible immediately
		if m != nil && r.cache != nil {
			if err := r.cache.SetMembership(ctx, m); err != nil {
				r.log.WithError(err).Warn("membership cache write failed")
			}
		}
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	m, _ := v.(*Membership)
	return m.Clone(), nil
}

// FindRole returns the role, consulting the cache first
func (r *CachedReader) FindRole(ctx context.Context, roleID string) (*Role, error) {
	if r.cache != nil {
		role, err := r.cache.GetRole(ctx, roleID)
		if err != nil {
			r.log.WithError(err).WithField("role_id", roleID).Warn("role cache read failed")
		} else if role != nil {
			r.metrics.ObserveCacheLookup("role", true)
			return role, nil
		}
		r.metrics.ObserveCacheLookup("role", false)
	}

	v, err := r.shared(ctx, "r:"+roleID, func(ctx context.Context) (interface{}, error) {
		role, err := r.roles.FindRole(ctx, roleID)
		if err != nil {
			return nil, err
		}
		if role != nil && r.cache != nil {
			if err := r.cache.SetRole(ctx, role); err != nil {
				r.log.WithError(err).Warn("role cache write failed")
			}
		}
		return role, nil
	})
	if err != nil {
		return nil, err
	}
	role, _ := v.(*Role)
	return role.Clone(), nil
}

// shared runs fn once per key across concurrent callers. fn gets a context that
// keeps the first caller's values but not its cancellation.
func (r *CachedReader) shared(ctx context.Context, key string, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	ch := r.group.DoChan(key, func() (interface{}, error) {
		lookupCtx := context.WithoutCancel(ctx)
		if r.timeout > 0 {
			var cancel context.CancelFunc
			lookupCtx, cancel = context.WithTimeout(lookupCtx, r.timeout)
			defer cancel()
		}
		return fn(lookupCtx)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.Val, res.Err
	}
}

// InvalidateMembership drops the cached membership
func (r *CachedReader) InvalidateMembership(ctx context.Context, tenantID, userID string) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.InvalidateMembership(ctx, tenantID, userID)
}

// InvalidateRole drops the cached role
func (r *CachedReader) InvalidateRole(ctx context.Context, roleID string) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.InvalidateRole(ctx, roleID)
}

// Clear drops every cached entry
func (r *CachedReader) Clear(ctx context.Context) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.Clear(ctx)
}
