package staff

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/perfhub/pkg/audit"
	"github.com/platinummonkey/perfhub/pkg/rbac"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNoLegacyRole = errors.New("user has no legacy role")
)

// Repository is the persistence the service needs. *rbac.Store implements it.
type Repository interface {
	FindMembership(ctx context.Context, tenantID, userID string) (*rbac.Membership, error)
	CreateMembership(ctx context.Context, m *rbac.Membership) error
	UpdateMembership(ctx context.Context, m *rbac.Membership) error
	FindUser(ctx context.Context, userID string) (*rbac.User, error)

	FindRole(ctx context.Context, roleID string) (*rbac.Role, error)
	FindRoleByKey(ctx context.Context, tenantID, key string) (*rbac.Role, error)
	ListRoles(ctx context.Context, tenantID string) ([]*rbac.Role, error)
	CreateRole(ctx context.Context, role *rbac.Role) error
	UpdateRole(ctx context.Context, role *rbac.Role) error
	DeleteRole(ctx context.Context, roleID string) error
	SetRolePermissions(ctx context.Context, roleID string, perms []rbac.RolePermission) error
}

// Service applies membership and role changes
type Service struct {
	repo        Repository
	invalidator rbac.Invalidator
	sink        audit.Sink
	log         logrus.FieldLogger
	newID       func() string
}

// Option configures a Service
type Option func(*Service)

// WithInvalidator sets the cache to invalidate after changes
func WithInvalidator(inv rbac.Invalidator) Option {
	return func(s *Service) { s.invalidator = inv }
}

// WithAuditSink records events to sink instead of the sink carried by the request context
func WithAuditSink(sink audit.Sink) Option {
	return func(s *Service) { s.sink = sink }
}

// WithLogger sets the logger
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Service) { s.log = log }
}

// NewService creates a new staff service
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:  repo,
		log:   logrus.StandardLogger(),
		newID: func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InviteInput describes a new membership
type InviteInput struct {
	TenantID          string        `json:"tenantId"`
	UserID            string        `json:"userId"`
	PrimaryRoleID     string        `json:"primaryRoleId"`
	AdditionalRoleIDs []string      `json:"additionalRoleIds,omitempty"`
	Metadata          rbac.Metadata `json:"metadata"`
}

func (in InviteInput) validate() error {
	if strings.TrimSpace(in.TenantID) == "" || strings.TrimSpace(in.UserID) == "" {
		return fmt.Errorf("%w: tenant and user are required", ErrInvalidInput)
	}
	if strings.TrimSpace(in.PrimaryRoleID) == "" {
		return fmt.Errorf("%w: primary role is required", ErrInvalidInput)
	}
	return nil
}

// Invite creates an active membership. It fails with rbac.ErrMembershipExists
// when the user already belongs to the tenant.
func (s *Service) Invite(ctx context.Context, in InviteInput) (*rbac.Membership, error) {
	m, err := s.createMembership(ctx, in)
	if err != nil {
		return nil, err
	}
	s.record(ctx, membershipEvent(ctx, audit.EventTypeMembershipCreate, m, "membership invited"))
	return m, nil
}

// AcceptInvitation creates the membership, returning the existing one when the
// user already belongs to the tenant
func (s *Service) AcceptInvitation(ctx context.Context, in InviteInput) (*rbac.Membership, error) {
	m, err := s.createMembership(ctx, in)
	if errors.Is(err, rbac.ErrMembershipExists) {
		return s.membership(ctx, in.TenantID, in.UserID)
	}
	if err != nil {
		return nil, err
	}
	s.record(ctx, membershipEvent(ctx, audit.EventTypeMembershipCreate, m, "invitation accepted"))
	return m, nil
}

// BackfillMembership gives a user without a membership one whose primary role is
// the tenant's role matching the user's legacy role key
func (s *Service) BackfillMembership(ctx context.Context, tenantID, userID string) (*rbac.Membership, error) {
	if existing, err := s.repo.FindMembership(ctx, tenantID, userID); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	user, err := s.repo.FindUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.LegacyRole == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoLegacyRole, userID)
	}
	role, err := s.repo.FindRoleByKey(ctx, tenantID, user.LegacyRole)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve legacy role %q: %w", user.LegacyRole, err)
	}

	m, err := s.createMembership(ctx, InviteInput{TenantID: tenantID, UserID: userID, PrimaryRoleID: role.ID})
	if errors.Is(err, rbac.ErrMembershipExists) {
		return s.membership(ctx, tenantID, userID)
	}
	if err != nil {
		return nil, err
	}

	event := membershipEvent(ctx, audit.EventTypeMembershipCreate, m, "membership backfilled from legacy role")
	event.Metadata["legacy_role"] = user.LegacyRole
	s.record(ctx, event)
	return m, nil
}

func (s *Service) createMembership(ctx context.Context, in InviteInput) (*rbac.Membership, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if err := s.checkRoles(ctx, in.TenantID, in.PrimaryRoleID, in.AdditionalRoleIDs); err != nil {
		return nil, err
	}

	m := &rbac.Membership{
		ID:                s.newID(),
		TenantID:          in.TenantID,
		UserID:            in.UserID,
		Status:            rbac.StatusActive,
		PrimaryRoleID:     in.PrimaryRoleID,
		AdditionalRoleIDs: in.AdditionalRoleIDs,
		Metadata:          in.Metadata,
	}
	if err := s.repo.CreateMembership(ctx, m); err != nil {
		return nil, err
	}
	s.invalidateMembership(ctx, m.TenantID, m.UserID)
	return m, nil
}

// GetMembership returns the user's membership in the tenant
func (s *Service) GetMembership(ctx context.Context, tenantID, userID string) (*rbac.Membership, error) {
	return s.membership(ctx, tenantID, userID)
}

// MembershipUpdate changes roles and metadata. Nil fields are left alone.
type MembershipUpdate struct {
	PrimaryRoleID     *string        `json:"primaryRoleId,omitempty"`
	AdditionalRoleIDs *[]string      `json:"additionalRoleIds,omitempty"`
	Metadata          *rbac.Metadata `json:"metadata,omitempty"`
}

// UpdateMembership changes the roles or metadata of a membership that has not left
func (s *Service) UpdateMembership(ctx context.Context, tenantID, userID string, upd MembershipUpdate) (*rbac.Membership, error) {
	m, err := s.membership(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}
	if m.Status == rbac.StatusLeft {
		return nil, fmt.Errorf("%w: membership has left", rbac.ErrInvalidTransition)
	}

	before := membershipState(m)
	if upd.PrimaryRoleID != nil {
		if strings.TrimSpace(*upd.PrimaryRoleID) == "" {
			return nil, fmt.Errorf("%w: primary role is required", ErrInvalidInput)
		}
		m.PrimaryRoleID = *upd.PrimaryRoleID
	}
	if upd.AdditionalRoleIDs != nil {
		m.AdditionalRoleIDs = *upd.AdditionalRoleIDs
	}
	if upd.Metadata != nil {
		m.Metadata = *upd.Metadata
	}
	if err := s.checkRoles(ctx, tenantID, m.PrimaryRoleID, m.AdditionalRoleIDs); err != nil {
		return nil, err
	}

	if err := s.repo.UpdateMembership(ctx, m); err != nil {
		return nil, err
	}
	s.invalidateMembership(ctx, tenantID, userID)

	event := membershipEvent(ctx, audit.EventTypeMembershipUpdate, m, "membership updated")
	event.Changes = &audit.ChangeDetails{Before: before, After: membershipState(m)}
	s.record(ctx, event)
	return m, nil
}

// Suspend blocks an active member. Suspended members keep their roles.
func (s *Service) Suspend(ctx context.Context, tenantID, userID string) (*rbac.Membership, error) {
	return s.transition(ctx, tenantID, userID, rbac.StatusSuspended, audit.EventTypeMembershipSuspend)
}

// Reactivate restores a suspended member. Members who left cannot come back
// through reactivation.
func (s *Service) Reactivate(ctx context.Context, tenantID, userID string) (*rbac.Membership, error) {
	return s.transition(ctx, tenantID, userID, rbac.StatusActive, audit.EventTypeMembershipReactivate)
}

// Leave ends a membership for good
func (s *Service) Leave(ctx context.Context, tenantID, userID string) (*rbac.Membership, error) {
	return s.transition(ctx, tenantID, userID, rbac.StatusLeft, audit.EventTypeMembershipLeave)
}

func canTransition(from, to rbac.MembershipStatus) bool {
	switch from {
	case rbac.StatusActive:
		return to == rbac.StatusSuspended || to == rbac.StatusLeft
	case rbac.StatusSuspended:
		return to == rbac.StatusActive || to == rbac.StatusLeft
	default:
		return false
	}
}

func (s *Service) transition(ctx context.Context, tenantID, userID string, to rbac.MembershipStatus, eventType audit.EventType) (*rbac.Membership, error) {
	m, err := s.membership(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}
	if m.Status == to {
		return m, nil
	}
	if !canTransition(m.Status, to) {
		return nil, fmt.Errorf("%w: %s to %s", rbac.ErrInvalidTransition, m.Status, to)
	}

	from := m.Status
	m.Status = to
	if err := s.repo.UpdateMembership(ctx, m); err != nil {
		return nil, err
	}
	s.invalidateMembership(ctx, tenantID, userID)

	event := membershipEvent(ctx, eventType, m, fmt.Sprintf("membership %s", strings.ToLower(string(to))))
	event.Changes = &audit.ChangeDetails{
		Before: map[string]interface{}{"status": string(from)},
		After:  map[string]interface{}{"status": string(to)},
	}
	s.record(ctx, event)
	return m, nil
}

func (s *Service) membership(ctx context.Context, tenantID, userID string) (*rbac.Membership, error) {
	m, err := s.repo.FindMembership(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, rbac.ErrMembershipNotFound
	}
	return m, nil
}

// checkRoles verifies every role exists and can be held in the tenant
func (s *Service) checkRoles(ctx context.Context, tenantID, primary string, additional []string) error {
	for _, id := range append([]string{primary}, additional...) {
		role, err := s.repo.FindRole(ctx, id)
		if err != nil {
			return err
		}
		if role == nil || !role.VisibleTo(tenantID) {
			return fmt.Errorf("%w: %s", rbac.ErrRoleNotFound, id)
		}
	}
	return nil
}

// ListRoles returns the system roles and the tenant's custom roles
func (s *Service) ListRoles(ctx context.Context, tenantID string) ([]*rbac.Role, error) {
	return s.repo.ListRoles(ctx, tenantID)
}

// CreateRoleInput describes a custom role
type CreateRoleInput struct {
	TenantID    string                `json:"tenantId"`
	Key         string                `json:"key"`
	Name        string                `json:"name"`
	Description string                `json:"description,omitempty"`
	Permissions []rbac.RolePermission `json:"permissions"`
}

// CreateRole creates an editable role owned by the tenant
func (s *Service) CreateRole(ctx context.Context, in CreateRoleInput) (*rbac.Role, error) {
	if strings.TrimSpace(in.TenantID) == "" || strings.TrimSpace(in.Key) == "" || strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("%w: tenant, key and name are required", ErrInvalidInput)
	}
	if err := validateGrants(in.Permissions); err != nil {
		return nil, err
	}

	tenantID := in.TenantID
	role := &rbac.Role{
		ID:          s.newID(),
		TenantID:    &tenantID,
		Key:         in.Key,
		Name:        in.Name,
		Description: in.Description,
		IsEditable:  true,
		Permissions: in.Permissions,
	}
	if err := s.repo.CreateRole(ctx, role); err != nil {
		return nil, err
	}

	event := roleEvent(ctx, audit.EventTypeRoleCreate, role, "role created")
	event.Metadata["permissions"] = grantKeys(role.Permissions)
	s.record(ctx, event)
	return role, nil
}

// RoleUpdate changes a role's display fields. Nil fields are left alone.
type RoleUpdate struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

// UpdateRole renames or redescribes a custom role
func (s *Service) UpdateRole(ctx context.Context, tenantID, roleID string, upd RoleUpdate) (*rbac.Role, error) {
	role, err := s.editableRole(ctx, tenantID, roleID)
	if err != nil {
		return nil, err
	}

	before := map[string]interface{}{"name": role.Name, "description": role.Description}
	if upd.Name != nil {
		if strings.TrimSpace(*upd.Name) == "" {
			return nil, fmt.Errorf("%w: name must not be blank", ErrInvalidInput)
		}
		role.Name = *upd.Name
	}
	if upd.Description != nil {
		role.Description = *upd.Description
	}

	if err := s.repo.UpdateRole(ctx, role); err != nil {
		return nil, err
	}
	s.invalidateRole(ctx, roleID)

	event := roleEvent(ctx, audit.EventTypeRoleUpdate, role, "role updated")
	event.Changes = &audit.ChangeDetails{
		Before: before,
		After:  map[string]interface{}{"name": role.Name, "description": role.Description},
	}
	s.record(ctx, event)
	return role, nil
}

// DeleteRole removes a custom role no membership references
func (s *Service) DeleteRole(ctx context.Context, tenantID, roleID string) error {
	role, err := s.editableRole(ctx, tenantID, roleID)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteRole(ctx, roleID); err != nil {
		return err
	}
	s.invalidateRole(ctx, roleID)

	s.record(ctx, roleEvent(ctx, audit.EventTypeRoleDelete, role, "role deleted"))
	return nil
}

// SetRolePermissions replaces the grants of a custom role
func (s *Service) SetRolePermissions(ctx context.Context, tenantID, roleID string, perms []rbac.RolePermission) (*rbac.Role, error) {
	role, err := s.editableRole(ctx, tenantID, roleID)
	if err != nil {
		return nil, err
	}
	if err := validateGrants(perms); err != nil {
		return nil, err
	}

	before := grantKeys(role.Permissions)
	if err := s.repo.SetRolePermissions(ctx, roleID, perms); err != nil {
		return nil, err
	}
	s.invalidateRole(ctx, roleID)
	role.Permissions = perms

	event := roleEvent(ctx, audit.EventTypeRolePermissions, role, "role permissions replaced")
	event.Changes = &audit.ChangeDetails{
		Before: map[string]interface{}{"permissions": before},
		After:  map[string]interface{}{"permissions": grantKeys(perms)},
	}
	s.record(ctx, event)
	return role, nil
}

// editableRole loads a role the tenant may change
func (s *Service) editableRole(ctx context.Context, tenantID, roleID string) (*rbac.Role, error) {
	role, err := s.repo.FindRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if role == nil || !role.VisibleTo(tenantID) {
		return nil, rbac.ErrRoleNotFound
	}
	if role.IsSystem || !role.IsEditable {
		return nil, rbac.ErrSystemRole
	}
	return role, nil
}

func validateGrants(perms []rbac.RolePermission) error {
	for _, rp := range perms {
		if rp.Permission.Resource == "" || rp.Permission.Action == "" {
			return fmt.Errorf("%w: permission resource and action are required", ErrInvalidInput)
		}
		if !rp.Scope.Valid() {
			return fmt.Errorf("%w: %s", rbac.ErrInvalidScope, rp.Permission.Key())
		}
	}
	return nil
}

// grantKeys renders grants as "key" or "key@SCOPE"
func grantKeys(perms []rbac.RolePermission) []string {
	keys := make([]string, 0, len(perms))
	for _, rp := range perms {
		key := rp.Permission.Key()
		if rp.Scope != rbac.ScopeUnset {
			key += "@" + rp.Scope.String()
		}
		keys = append(keys, key)
	}
	return keys
}

func (s *Service) invalidateMembership(ctx context.Context, tenantID, userID string) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.InvalidateMembership(ctx, tenantID, userID); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"tenant_id": tenantID,
			"user_id":   userID,
		}).Warn("failed to invalidate cached membership")
	}
}

func (s *Service) invalidateRole(ctx context.Context, roleID string) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.InvalidateRole(ctx, roleID); err != nil {
		s.log.WithError(err).WithField("role_id", roleID).Warn("failed to invalidate cached role")
	}
}

func (s *Service) record(ctx context.Context, event *audit.Event) {
	sink := s.sink
	if sink == nil {
		sink = audit.FromContext(ctx)
	}
	if err := sink.Record(ctx, event); err != nil {
		s.log.WithError(err).WithField("event_type", event.Type).Warn("failed to record audit event")
	}
}

func membershipEvent(ctx context.Context, eventType audit.EventType, m *rbac.Membership, msg string) *audit.Event {
	event := audit.NewEvent(ctx, eventType, audit.EventStatusSuccess)
	event.ResourceType = audit.ResourceTypeMembership
	event.ResourceID = m.ID
	event.Message = msg
	event.Metadata["tenant_id"] = m.TenantID
	event.Metadata["user_id"] = m.UserID
	return event
}

func roleEvent(ctx context.Context, eventType audit.EventType, role *rbac.Role, msg string) *audit.Event {
	event := audit.NewEvent(ctx, eventType, audit.EventStatusSuccess)
	event.ResourceType = audit.ResourceTypeRole
	event.ResourceID = role.ID
	event.Message = msg
	event.Metadata["role_key"] = role.Key
	return event
}

func membershipState(m *rbac.Membership) map[string]interface{} {
	return map[string]interface{}{
		"primary_role_id":     m.PrimaryRoleID,
		"additional_role_ids": append([]string(nil), m.AdditionalRoleIDs...),
		"metadata":            m.Metadata,
	}
}
