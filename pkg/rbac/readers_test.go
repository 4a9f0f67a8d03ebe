package rbac

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachedReader_CachesResolvedValues(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.putRole(systemRole("owner", "Owner", grant("goal.read", ScopeUnset)))
	store.putMembership(&Membership{TenantID: tenant1, UserID: "U1", PrimaryRoleID: "owner"})
	metrics := newFakeMetrics()
	reader := NewCachedReader(store, store, NewMemoryCache(100, time.Minute), WithReaderMetrics(metrics))

	for i := 0; i < 3; i++ {
		m, err := reader.FindMembership(ctx, tenant1, "U1")
		require.NoError(t, err)
		require.NotNil(t, m)
		r, err := reader.FindRole(ctx, "owner")
		require.NoError(t, err)
		require.NotNil(t, r)
	}

	assert.Equal(t, int64(1), store.membershipCalls.Load())
	assert.Equal(t, int64(1), store.roleCalls.Load())
	assert.Equal(t, 2, metrics.lookups["membership:hit"])
	assert.Equal(t, 1, metrics.lookups["membership:miss"])
}

func TestCachedReader_DoesNotCacheAbsentMembership(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	reader := NewCachedReader(store, store, NewMemoryCache(100, time.Minute))

	m, err := reader.FindMembership(ctx, tenant1, "U1")
	require.NoError(t, err)
	assert.Nil(t, m)

	store.putMembership(&Membership{TenantID: tenant1, UserID: "U1"})
	m, err = reader.FindMembership(ctx, tenant1, "U1")
	require.NoError(t, err)
	assert.NotNil(t, m, "a new membership is visible without waiting for expiry")
}

func TestCachedReader_StaleUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.putRole(systemRole("owner", "Owner", grant("staff.read", ScopeUnset)))
	store.putMembership(&Membership{TenantID: tenant1, UserID: "U4", PrimaryRoleID: "owner"})
	reader := NewCachedReader(store, store, NewMemoryCache(100, time.Minute))
	engine := newTestEngine(store)
	engine.members, engine.roles, engine.scopes = reader, reader, NewScopeEvaluator(reader)

	require.True(t, engine.CheckPermission(ctx, check(tenant1, "U4", "staff.read", nil)).Allowed)

	store.putMembership(&Membership{TenantID: tenant1, UserID: "U4", Status: StatusSuspended, PrimaryRoleID: "owner"})
	assert.True(t, engine.CheckPermission(ctx, check(tenant1, "U4", "staff.read", nil)).Allowed,
		"cached membership is served until invalidated or expired")

	require.NoError(t, reader.InvalidateMembership(ctx, tenant1, "U4"))
	d := engine.CheckPermission(ctx, check(tenant1, "U4", "staff.read", nil))
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "SUSPENDED")
}

func TestCachedReader_RoleInvalidation(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.putRole(systemRole("lead", "Lead", grant("goal.read", ScopeTeam)))
	reader := NewCachedReader(store, store, NewMemoryCache(100, time.Minute))

	r, err := reader.FindRole(ctx, "lead")
	require.NoError(t, err)
	require.Len(t, r.Permissions, 1)

	store.putRole(systemRole("lead", "Lead", grant("goal.read", ScopeTeam), grant("goal.update", ScopeTeam)))
	r, _ = reader.FindRole(ctx, "lead")
	assert.Len(t, r.Permissions, 1)

	require.NoError(t, reader.InvalidateRole(ctx, "lead"))
	r, _ = reader.FindRole(ctx, "lead")
	assert.Len(t, r.Permissions, 2)

	require.NoError(t, reader.Clear(ctx))
}

type failingCache struct {
	*MemoryCache
}

func (failingCache) GetMembership(context.Context, string, string) (*Membership, error) {
	return nil, errors.New("redis: connection pool timeout")
}

func TestCachedReader_FallsThroughOnCacheError(t *testing.T) {
	logger, hook := test.NewNullLogger()
	store := newFakeStore()
	store.putMembership(&Membership{TenantID: tenant1, UserID: "U1"})
	reader := NewCachedReader(store, store, failingCache{NewMemoryCache(10, time.Minute)}, WithReaderLogger(logger))

	m, err := reader.FindMembership(context.Background(), tenant1, "U1")

	require.NoError(t, err)
	assert.NotNil(t, m)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "membership cache read failed", hook.LastEntry().Message)
}

func TestCachedReader_PropagatesStoreErrors(t *testing.T) {
	store := newFakeStore()
	store.membershipErr = errors.New("db down")
	cache := NewMemoryCache(10, time.Minute)
	reader := NewCachedReader(store, store, cache)

	_, err := reader.FindMembership(context.Background(), tenant1, "U1")

	assert.Error(t, err)
	assert.Equal(t, 0, cache.Stats().Memberships)
}

func TestCachedReader_WithoutCache(t *testing.T) {
	store := newFakeStore()
	store.putRole(systemRole("r1", "R1"))
	reader := NewCachedReader(store, store, nil)

	for i := 0; i < 2; i++ {
		_, err := reader.FindRole(context.Background(), "r1")
		require.NoError(t, err)
	}

	assert.Equal(t, int64(2), store.roleCalls.Load())
	assert.NoError(t, reader.InvalidateRole(context.Background(), "r1"))
	assert.NoError(t, reader.Clear(context.Background()))
}

// blockingStore holds every role read until released so concurrent misses overlap
type blockingStore struct {
	*fakeStore
	release chan struct{}
}

func (b *blockingStore) FindRole(ctx context.Context, roleID string) (*Role, error) {
	<-b.release
	return b.fakeStore.FindRole(ctx, roleID)
}

func TestCachedReader_CoalescesConcurrentMisses(t *testing.T) {
	store := newFakeStore()
	store.putRole(systemRole("owner", "Owner"))
	blocking := &blockingStore{fakeStore: store, release: make(chan struct{})}
	reader := NewCachedReader(store, blocking, NewMemoryCache(10, time.Minute))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := reader.FindRole(context.Background(), "owner")
			assert.NoError(t, err)
			assert.NotNil(t, r)
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(blocking.release)
	wg.Wait()

	assert.Equal(t, int64(1), store.roleCalls.Load())
}

// ctxStore blocks membership reads until released and honours cancellation
type ctxStore struct {
	*fakeStore
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (c *ctxStore) FindMembership(ctx context.Context, tenantID, userID string) (*Membership, error) {
	c.once.Do(func() { close(c.entered) })
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.release:
	}
	return c.fakeStore.FindMembership(ctx, tenantID, userID)
}

func TestCachedReader_CancelledCallerDoesNotFailSharedLookup(t *testing.T) {
	store := newFakeStore()
	store.putRole(systemRole("employee", "Employee", grant("goal.read", ScopeSelf)))
	store.putMembership(&Membership{TenantID: tenant1, UserID: "U1", PrimaryRoleID: "employee"})
	blocking := &ctxStore{fakeStore: store, entered: make(chan struct{}), release: make(chan struct{})}
	reader := NewCachedReader(blocking, store, NewMemoryCache(10, time.Minute))
	engine := newTestEngine(store)
	engine.members, engine.roles, engine.scopes = reader, reader, NewScopeEvaluator(reader)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := reader.FindMembership(ctxA, tenant1, "U1")
		errA <- err
	}()
	<-blocking.entered

	decisionB := make(chan Decision, 1)
	go func() {
		decisionB <- engine.CheckPermission(context.Background(), check(tenant1, "U1", "goal.read", nil))
	}()
	time.Sleep(50 * time.Millisecond)

	cancelA()
	select {
	case err := <-errA:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller kept waiting on the shared lookup")
	}

	close(blocking.release)
	d := <-decisionB
	assert.True(t, d.Allowed, "reason=%s code=%s", d.Reason, d.Code)
}

func TestCachedReader_LookupTimeout(t *testing.T) {
	store := newFakeStore()
	store.putMembership(&Membership{TenantID: tenant1, UserID: "U1"})
	blocking := &ctxStore{fakeStore: store, entered: make(chan struct{}), release: make(chan struct{})}
	reader := NewCachedReader(blocking, store, nil, WithLookupTimeout(20*time.Millisecond))

	_, err := reader.FindMembership(context.Background(), tenant1, "U1")

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
