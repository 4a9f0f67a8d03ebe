package rbac

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// fakeStore is an in-memory MembershipReader and RoleReader
type fakeStore struct {
	mu          sync.Mutex
	memberships map[string]*Membership
	roles       map[string]*Role

	membershipErr error
	roleErr       error
	panicOnRole   bool

	membershipCalls atomic.Int64
	roleCalls       atomic.Int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		memberships: make(map[string]*Membership),
		roles:       make(map[string]*Role),
	}
}

func (f *fakeStore) putMembership(m *Membership) *Membership {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m.Status == "" {
		m.Status = StatusActive
	}
	if m.ID == "" {
		m.ID = "m-" + m.TenantID + "-" + m.UserID
	}
	f.memberships[membershipCacheKey(m.TenantID, m.UserID)] = m
	return m
}

func (f *fakeStore) putRole(r *Role) *Role {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roles[r.ID] = r
	return r
}

func (f *fakeStore) FindMembership(_ context.Context, tenantID, userID string) (*Membership, error) {
	f.membershipCalls.Add(1)
	if f.membershipErr != nil {
		return nil, f.membershipErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.memberships[membershipCacheKey(tenantID, userID)].Clone(), nil
}

func (f *fakeStore) FindRole(_ context.Context, roleID string) (*Role, error) {
	f.roleCalls.Add(1)
	if f.panicOnRole {
		panic("corrupt role row")
	}
	if f.roleErr != nil {
		return nil, f.roleErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.roles[roleID].Clone(), nil
}

// grant builds a role permission from a "resource.action" key
func grant(key string, scope Scope) RolePermission {
	p, err := ParsePermissionKey(key)
	if err != nil {
		panic(err)
	}
	return RolePermission{Permission: p, Scope: scope}
}

func systemRole(id, name string, grants ...RolePermission) *Role {
	return &Role{ID: id, Key: id, Name: name, IsSystem: true, Permissions: grants}
}

func tenantRole(tenantID, id, name string, grants ...RolePermission) *Role {
	return &Role{ID: id, TenantID: &tenantID, Key: id, Name: name, IsEditable: true, Permissions: grants}
}

type recordedDecision struct {
	allowed bool
	code    string
}

type fakeMetrics struct {
	mu        sync.Mutex
	decisions []recordedDecision
	lookups   map[string]int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{lookups: make(map[string]int)}
}

func (m *fakeMetrics) ObserveDecision(allowed bool, code string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions = append(m.decisions, recordedDecision{allowed: allowed, code: code})
}

func (m *fakeMetrics) ObserveCacheLookup(kind string, hit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hit {
		m.lookups[kind+":hit"]++
	} else {
		m.lookups[kind+":miss"]++
	}
}
