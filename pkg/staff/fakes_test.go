package staff

import (
	"context"
	"sync"

	"github.com/platinummonkey/perfhub/pkg/audit"
	"github.com/platinummonkey/perfhub/pkg/rbac"
)

type memRepo struct {
	mu          sync.Mutex
	memberships map[string]*rbac.Membership
	roles       map[string]*rbac.Role
	users       map[string]*rbac.User

	createErr error
	updateErr error
}

func newMemRepo() *memRepo {
	return &memRepo{
		memberships: make(map[string]*rbac.Membership),
		roles:       make(map[string]*rbac.Role),
		users:       make(map[string]*rbac.User),
	}
}

func memberKey(tenantID, userID string) string { return tenantID + ":" + userID }

func (r *memRepo) putRole(role *rbac.Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roles[role.ID] = role.Clone()
}

func (r *memRepo) putMembership(m *rbac.Membership) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.memberships[memberKey(m.TenantID, m.UserID)] = m.Clone()
}

func (r *memRepo) stored(tenantID, userID string) *rbac.Membership {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.memberships[memberKey(tenantID, userID)].Clone()
}

func (r *memRepo) FindMembership(_ context.Context, tenantID, userID string) (*rbac.Membership, error) {
	return r.stored(tenantID, userID), nil
}

func (r *memRepo) CreateMembership(_ context.Context, m *rbac.Membership) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	key := memberKey(m.TenantID, m.UserID)
	if _, ok := r.memberships[key]; ok {
		return rbac.ErrMembershipExists
	}
	r.memberships[key] = m.Clone()
	return nil
}

func (r *memRepo) UpdateMembership(_ context.Context, m *rbac.Membership) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return r.updateErr
	}
	key := memberKey(m.TenantID, m.UserID)
	if _, ok := r.memberships[key]; !ok {
		return rbac.ErrMembershipNotFound
	}
	r.memberships[key] = m.Clone()
	return nil
}

func (r *memRepo) FindUser(_ context.Context, userID string) (*rbac.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return nil, rbac.ErrUserNotFound
	}
	c := *u
	return &c, nil
}

func (r *memRepo) FindRole(_ context.Context, roleID string) (*rbac.Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.roles[roleID].Clone(), nil
}

func (r *memRepo) FindRoleByKey(_ context.Context, tenantID, key string) (*rbac.Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var shared *rbac.Role
	for _, role := range r.roles {
		if role.Key != key {
			continue
		}
		if role.TenantID != nil && *role.TenantID == tenantID {
			return role.Clone(), nil
		}
		if role.TenantID == nil {
			shared = role
		}
	}
	if shared == nil {
		return nil, rbac.ErrRoleNotFound
	}
	return shared.Clone(), nil
}

func (r *memRepo) ListRoles(_ context.Context, tenantID string) ([]*rbac.Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var roles []*rbac.Role
	for _, role := range r.roles {
		if role.VisibleTo(tenantID) {
			roles = append(roles, role.Clone())
		}
	}
	return roles, nil
}

func (r *memRepo) CreateRole(_ context.Context, role *rbac.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.roles {
		if existing.Key == role.Key && existing.TenantID != nil && role.TenantID != nil && *existing.TenantID == *role.TenantID {
			return rbac.ErrRoleExists
		}
	}
	r.roles[role.ID] = role.Clone()
	return nil
}

func (r *memRepo) UpdateRole(_ context.Context, role *rbac.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.roles[role.ID]
	if !ok {
		return rbac.ErrRoleNotFound
	}
	existing.Name = role.Name
	existing.Description = role.Description
	return nil
}

func (r *memRepo) DeleteRole(_ context.Context, roleID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.roles[roleID]; !ok {
		return rbac.ErrRoleNotFound
	}
	for _, m := range r.memberships {
		if m.References(roleID) {
			return rbac.ErrRoleInUse
		}
	}
	delete(r.roles, roleID)
	return nil
}

func (r *memRepo) SetRolePermissions(_ context.Context, roleID string, perms []rbac.RolePermission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	role, ok := r.roles[roleID]
	if !ok {
		return rbac.ErrRoleNotFound
	}
	role.Permissions = append([]rbac.RolePermission(nil), perms...)
	return nil
}

type fakeInvalidator struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeInvalidator) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeInvalidator) InvalidateMembership(_ context.Context, tenantID, userID string) error {
	return f.record("membership:" + tenantID + ":" + userID)
}

func (f *fakeInvalidator) InvalidateRole(_ context.Context, roleID string) error {
	return f.record("role:" + roleID)
}

func (f *fakeInvalidator) Clear(context.Context) error {
	return f.record("clear")
}

type recordingSink struct {
	mu     sync.Mutex
	events []*audit.Event
	err    error
}

func (s *recordingSink) Record(_ context.Context, e *audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return s.err
}

func (s *recordingSink) types() []audit.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make([]audit.EventType, 0, len(s.events))
	for _, e := range s.events {
		types = append(types, e.Type)
	}
	return types
}

func (s *recordingSink) last() *audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return nil
	}
	return s.events[len(s.events)-1]
}

func grant(key string, scope rbac.Scope) rbac.RolePermission {
	p, err := rbac.ParsePermissionKey(key)
	if err != nil {
		panic(err)
	}
	return rbac.RolePermission{Permission: p, Scope: scope}
}

func strPtr(s string) *string { return &s }
