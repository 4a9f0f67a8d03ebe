package rbac

import (
	"time"
)

// MembershipStatus is the lifecycle state of a user's membership in a tenant
type MembershipStatus string

const (
	StatusActive    MembershipStatus = "ACTIVE"
	StatusSuspended MembershipStatus = "SUSPENDED"
	StatusLeft      MembershipStatus = "LEFT" // terminal
)

// Valid reports whether s is a known membership status
func (s MembershipStatus) Valid() bool {
	switch s {
	case StatusActive, StatusSuspended, StatusLeft:
		return true
	}
	return false
}

// Metadata carries the organizational attributes used for TEAM scope comparisons.
// It plays no part in permission resolution itself.
type Metadata struct {
	Department string            `json:"department,omitempty" yaml:"department,omitempty"`
	Team       string            `json:"team,omitempty" yaml:"team,omitempty"`
	ManagerID  string            `json:"managerId,omitempty" yaml:"managerId,omitempty"`
	Extra      map[string]string `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// Membership binds a user to a tenant. There is at most one per (tenant, user).
type Membership struct {
	ID                string           `json:"id"`
	TenantID          string           `json:"tenant_id"`
	UserID            string           `json:"user_id"`
	Status            MembershipStatus `json:"status"`
	PrimaryRoleID     string           `json:"primary_role_id"`
	AdditionalRoleIDs []string         `json:"additional_role_ids,omitempty"`
	Metadata          Metadata         `json:"metadata"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// RoleIDs returns the primary role followed by the additional roles, skipping
// blanks and duplicates. The order decides which role is reported when more
// than one could grant the same permission.
func (m *Membership) RoleIDs() []string {
	ids := make([]string, 0, 1+len(m.AdditionalRoleIDs))
	seen := make(map[string]struct{}, 1+len(m.AdditionalRoleIDs))
	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	add(m.PrimaryRoleID)
	for _, id := range m.AdditionalRoleIDs {
		add(id)
	}
	return ids
}

// References reports whether the membership holds roleID as primary or additional role
func (m *Membership) References(roleID string) bool {
	if m.PrimaryRoleID == roleID {
		return true
	}
	for _, id := range m.AdditionalRoleIDs {
		if id == roleID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so cached values cannot be mutated through callers
func (m *Membership) Clone() *Membership {
	if m == nil {
		return nil
	}
	c := *m
	if m.AdditionalRoleIDs != nil {
		c.AdditionalRoleIDs = append([]string(nil), m.AdditionalRoleIDs...)
	}
	if m.Metadata.Extra != nil {
		c.Metadata.Extra = make(map[string]string, len(m.Metadata.Extra))
		for k, v := range m.Metadata.Extra {
			c.Metadata.Extra[k] = v
		}
	}
	return &c
}

// User is a person known to the platform. LegacyRole is the single role key
// carried from before memberships existed; it is only read when backfilling.
type User struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	LegacyRole string `json:"legacy_role,omitempty"`
}

// RolePermission pairs a permission with the scope it is granted at
type RolePermission struct {
	Permission Permission `json:"permission"`
	Scope      Scope      `json:"scope"`
}

// Role is a named set of scoped permissions
type Role struct {
	ID          string           `json:"id"`
	TenantID    *string          `json:"tenant_id,omitempty"` // nil for shared system roles
	Key         string           `json:"key"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	IsSystem    bool             `json:"is_system"`
	IsEditable  bool             `json:"is_editable"`
	Permissions []RolePermission `json:"permissions"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// VisibleTo reports whether the role can be held by members of tenantID
func (r *Role) VisibleTo(tenantID string) bool {
	return r.TenantID == nil || *r.TenantID == tenantID
}

// Clone returns a deep copy of the role
func (r *Role) Clone() *Role {
	if r == nil {
		return nil
	}
	c := *r
	if r.TenantID != nil {
		t := *r.TenantID
		c.TenantID = &t
	}
	if r.Permissions != nil {
		c.Permissions = append([]RolePermission(nil), r.Permissions...)
	}
	return &c
}

// CheckContext narrows a permission check to a target. Extra is carried for
// callers and never read by scope evaluation.
type CheckContext struct {
	TargetUserID     string                 `json:"targetUserId,omitempty"`
	TargetDepartment string                 `json:"targetDepartment,omitempty"`
	TargetTeam       string                 `json:"targetTeam,omitempty"`
	Extra            map[string]interface{} `json:"extra,omitempty"`
}

// CheckInput is a single authorization question
type CheckInput struct {
	TenantID string        `json:"tenantId"`
	UserID   string        `json:"userId"`
	Resource string        `json:"resource"`
	Action   string        `json:"action"`
	Context  *CheckContext `json:"context,omitempty"`
}

// Key returns the permission key the input asks for
func (in CheckInput) Key() string {
	return PermissionKey(in.Resource, in.Action)
}

func (in CheckInput) targetUserID() string {
	if in.Context == nil {
		return ""
	}
	return in.Context.TargetUserID
}

// MatchedPermission identifies the grant that allowed a check
type MatchedPermission struct {
	Key      string `json:"key"`
	Scope    Scope  `json:"scope"`
	RoleID   string `json:"roleId"`
	RoleName string `json:"roleName"`
}

// Decision is the outcome of a permission check
type Decision struct {
	Allowed           bool               `json:"allowed"`
	Reason            string             `json:"reason,omitempty"`
	Code              DenyCode           `json:"code,omitempty"`
	MatchedPermission *MatchedPermission `json:"matchedPermission,omitempty"`
	CheckedAt         time.Time          `json:"checkedAt"`
}

// EffectivePermission is one entry of a user's permission listing
type EffectivePermission struct {
	Key   string `json:"key"`
	Scope Scope  `json:"scope"`
}
