package rbac

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Resources known to the performance-management platform. The vocabulary is
// open: new resources only need new permission rows, not new constants.
const (
	ResourceStaff      = "staff"
	ResourceRole       = "role"
	ResourceTenant     = "tenant"
	ResourceGoal       = "goal"
	ResourceCompetency = "competency"
	ResourceReview     = "review"
	ResourcePIP        = "pip"
	ResourceIDP        = "idp"
	ResourceReport     = "report"
	ResourceAI         = "ai"
)

// Common actions
const (
	ActionRead     = "read"
	ActionCreate   = "create"
	ActionUpdate   = "update"
	ActionDelete   = "delete"
	ActionManage   = "manage"
	ActionInvite   = "invite"
	ActionApprove  = "approve"
	ActionExport   = "export"
	ActionGenerate = "generate"
)

// Permission is an immutable (resource, action) definition
type Permission struct {
	Resource    string `json:"resource" yaml:"resource"`
	Action      string `json:"action" yaml:"action"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Key returns the canonical "resource.action" key
func (p Permission) Key() string {
	return PermissionKey(p.Resource, p.Action)
}

// String returns the permission key
func (p Permission) String() string {
	return p.Key()
}

// PermissionKey builds the canonical key for a resource and action
func PermissionKey(resource, action string) string {
	return resource + "." + action
}

// ParsePermissionKey splits "resource.action" back into a permission
func ParsePermissionKey(key string) (Permission, error) {
	resource, action, ok := strings.Cut(key, ".")
	if !ok || resource == "" || action == "" {
		return Permission{}, fmt.Errorf("%w: malformed key %q", ErrUnknownPermission, key)
	}
	return Permission{Resource: resource, Action: action}, nil
}

// Catalog is the registry of permission definitions
type Catalog struct {
	mu    sync.RWMutex
	perms map[string]Permission
}

// NewCatalog creates a catalog holding perms
func NewCatalog(perms ...Permission) *Catalog {
	c := &Catalog{perms: make(map[string]Permission, len(perms))}
	for _, p := range perms {
		c.perms[p.Key()] = p
	}
	return c
}

// Register adds or replaces a permission definition
func (c *Catalog) Register(p Permission) error {
	if p.Resource == "" || p.Action == "" {
		return fmt.Errorf("permission resource and action are required")
	}
	if strings.Contains(p.Resource, ".") {
		return fmt.Errorf("permission resource %q must not contain '.'", p.Resource)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.perms[p.Key()] = p
	return nil
}

// Lookup returns the definition for resource and action
func (c *Catalog) Lookup(resource, action string) (Permission, bool) {
	return c.LookupKey(PermissionKey(resource, action))
}

// LookupKey returns the definition for a permission key
func (c *Catalog) LookupKey(key string) (Permission, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.perms[key]
	return p, ok
}

// All returns every definition sorted by key
func (c *Catalog) All() []Permission {
	c.mu.RLock()
	perms := make([]Permission, 0, len(c.perms))
	for _, p := range c.perms {
		perms = append(perms, p)
	}
	c.mu.RUnlock()

	sort.Slice(perms, func(i, j int) bool { return perms[i].Key() < perms[j].Key() })
	return perms
}

// Len returns the number of definitions
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.perms)
}
