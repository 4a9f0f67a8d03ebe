package audit

import (
	"context"
	"time"

	"github.com/platinummonkey/perfhub/pkg/contextkeys"
)

// EventType represents the category of audit event
type EventType string

const (
	// Authorization events
	EventTypeAuthzDecision     EventType = "authz.decision"
	EventTypeAuthzAccessDenied EventType = "authz.access_denied"
	EventTypeAuthzCacheFlush   EventType = "authz.cache_invalidate"

	// Membership lifecycle
	EventTypeMembershipCreate     EventType = "membership.create"
	EventTypeMembershipUpdate     EventType = "membership.update"
	EventTypeMembershipSuspend    EventType = "membership.suspend"
	EventTypeMembershipReactivate EventType = "membership.reactivate"
	EventTypeMembershipLeave      EventType = "membership.leave"

	// Role management
	EventTypeRoleCreate      EventType = "role.create"
	EventTypeRoleUpdate      EventType = "role.update"
	EventTypeRoleDelete      EventType = "role.delete"
	EventTypeRolePermissions EventType = "role.permissions_set"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// ResourceType represents the type of resource an event is about
type ResourceType string

const (
	ResourceTypeMembership ResourceType = "membership"
	ResourceTypeRole       ResourceType = "role"
	ResourceTypePermission ResourceType = "permission"
	ResourceTypeCache      ResourceType = "cache"
)

// Event is a single audit record
type Event struct {
	ID        int64       `json:"id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Type      EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor
	TenantID    string `json:"tenant_id,omitempty"`
	ActorUserID string `json:"actor_user_id,omitempty"`

	// Subject
	ResourceType ResourceType `json:"resource_type,omitempty"`
	ResourceID   string       `json:"resource_id,omitempty"`

	RequestID string                 `json:"request_id,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Changes   *ChangeDetails         `json:"changes,omitempty"`
}

// ChangeDetails tracks before/after values for updates
type ChangeDetails struct {
	Before map[string]interface{} `json:"before,omitempty"`
	After  map[string]interface{} `json:"after,omitempty"`
}

// NewEvent builds an event stamped with the acting identity and request ID
// found in ctx
func NewEvent(ctx context.Context, eventType EventType, status EventStatus) *Event {
	tenantID, userID := contextkeys.GetIdentity(ctx)
	return &Event{
		Timestamp:   time.Now().UTC(),
		Type:        eventType,
		Status:      status,
		TenantID:    tenantID,
		ActorUserID: userID,
		RequestID:   contextkeys.GetRequestID(ctx),
		Metadata:    make(map[string]interface{}),
	}
}
