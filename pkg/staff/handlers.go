package staff

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/perfhub/pkg/httputil"
	"github.com/platinummonkey/perfhub/pkg/middleware"
	"github.com/platinummonkey/perfhub/pkg/rbac"
)

// Handlers serves membership and role management
type Handlers struct {
	service *Service
	perms   *rbac.PermissionMiddleware
	log     logrus.FieldLogger
}

// NewHandlers creates new staff handlers. Every route is gated by checker.
func NewHandlers(service *Service, checker rbac.Checker, log logrus.FieldLogger) *Handlers {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handlers{
		service: service,
		perms:   rbac.NewPermissionMiddleware(checker, log),
		log:     log,
	}
}

// GrantRequest is one permission grant in a role payload
type GrantRequest struct {
	Key   string     `json:"key"`
	Scope rbac.Scope `json:"scope"`
}

// CreateRoleRequest is the body of a role creation
type CreateRoleRequest struct {
	Key         string         `json:"key"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Permissions []GrantRequest `json:"permissions"`
}

// SetPermissionsRequest replaces a role's grants
type SetPermissionsRequest struct {
	Permissions []GrantRequest `json:"permissions"`
}

// RegisterRoutes registers management routes on a router that already carries identity middleware
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	target := rbac.TargetFromPathVar("userID")
	guard := func(resource, action string, tf rbac.TargetFunc, fn http.HandlerFunc) http.Handler {
		return h.perms.RequirePermission(resource, action, tf)(fn)
	}

	router.Handle("/staff", guard(rbac.ResourceStaff, rbac.ActionInvite, nil, h.Invite)).Methods(http.MethodPost)
	router.Handle("/staff/{userID}",
		h.perms.RequireSelfOrPermission("userID", rbac.ResourceStaff, rbac.ActionRead)(http.HandlerFunc(h.GetMembership)),
	).Methods(http.MethodGet)
	router.Handle("/staff/{userID}", guard(rbac.ResourceStaff, rbac.ActionUpdate, target, h.UpdateMembership)).Methods(http.MethodPatch)
	router.Handle("/staff/{userID}/backfill", guard(rbac.ResourceStaff, rbac.ActionManage, nil, h.Backfill)).Methods(http.MethodPost)
	router.Handle("/staff/{userID}/suspend", guard(rbac.ResourceStaff, rbac.ActionManage, target, h.Suspend)).Methods(http.MethodPost)
	router.Handle("/staff/{userID}/reactivate", guard(rbac.ResourceStaff, rbac.ActionManage, target, h.Reactivate)).Methods(http.MethodPost)
	router.Handle("/staff/{userID}/leave",
		h.perms.RequireSelfOrPermission("userID", rbac.ResourceStaff, rbac.ActionManage)(http.HandlerFunc(h.Leave)),
	).Methods(http.MethodPost)

	router.Handle("/roles", guard(rbac.ResourceRole, rbac.ActionRead, nil, h.ListRoles)).Methods(http.MethodGet)
	router.Handle("/roles", guard(rbac.ResourceRole, rbac.ActionManage, nil, h.CreateRole)).Methods(http.MethodPost)
	router.Handle("/roles/{roleID}", guard(rbac.ResourceRole, rbac.ActionManage, nil, h.UpdateRole)).Methods(http.MethodPatch)
	router.Handle("/roles/{roleID}", guard(rbac.ResourceRole, rbac.ActionManage, nil, h.DeleteRole)).Methods(http.MethodDelete)
	router.Handle("/roles/{roleID}/permissions", guard(rbac.ResourceRole, rbac.ActionManage, nil, h.SetRolePermissions)).Methods(http.MethodPut)
}

// Invite adds a user to the caller's tenant
func (h *Handlers) Invite(w http.ResponseWriter, r *http.Request) {
	var in InviteInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	id := middleware.GetIdentity(r)
	if in.TenantID == "" {
		in.TenantID = id.TenantID
	}
	if in.TenantID != id.TenantID {
		httputil.WriteForbidden(w, "tenant does not match caller")
		return
	}

	m, err := h.service.Invite(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, m)
}

// GetMembership returns a membership in the caller's tenant
func (h *Handlers) GetMembership(w http.ResponseWriter, r *http.Request) {
	h.withMember(w, r, func(tenantID, userID string) (*rbac.Membership, error) {
		return h.service.GetMembership(r.Context(), tenantID, userID)
	})
}

// UpdateMembership changes roles or metadata
func (h *Handlers) UpdateMembership(w http.ResponseWriter, r *http.Request) {
	var upd MembershipUpdate
	if !httputil.ParseJSONOrError(w, r, &upd) {
		return
	}
	h.withMember(w, r, func(tenantID, userID string) (*rbac.Membership, error) {
		return h.service.UpdateMembership(r.Context(), tenantID, userID, upd)
	})
}

// Backfill creates a membership from the user's legacy role
func (h *Handlers) Backfill(w http.ResponseWriter, r *http.Request) {
	h.withMember(w, r, func(tenantID, userID string) (*rbac.Membership, error) {
		return h.service.BackfillMembership(r.Context(), tenantID, userID)
	})
}

// Suspend suspends a member
func (h *Handlers) Suspend(w http.ResponseWriter, r *http.Request) {
	h.withMember(w, r, func(tenantID, userID string) (*rbac.Membership, error) {
		return h.service.Suspend(r.Context(), tenantID, userID)
	})
}

// Reactivate reactivates a suspended member
func (h *Handlers) Reactivate(w http.ResponseWriter, r *http.Request) {
	h.withMember(w, r, func(tenantID, userID string) (*rbac.Membership, error) {
		return h.service.Reactivate(r.Context(), tenantID, userID)
	})
}

// Leave ends a membership
func (h *Handlers) Leave(w http.ResponseWriter, r *http.Request) {
	h.withMember(w, r, func(tenantID, userID string) (*rbac.Membership, error) {
		return h.service.Leave(r.Context(), tenantID, userID)
	})
}

func (h *Handlers) withMember(w http.ResponseWriter, r *http.Request, fn func(tenantID, userID string) (*rbac.Membership, error)) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "userID")
	if !ok {
		return
	}
	m, err := fn(middleware.GetIdentity(r).TenantID, userID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, m)
}

// ListRoles lists the roles available in the caller's tenant
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context(), middleware.GetIdentity(r).TenantID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if roles == nil {
		roles = []*rbac.Role{}
	}
	httputil.WriteSuccess(w, roles)
}

// CreateRole creates a custom role in the caller's tenant
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	var req CreateRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	grants, ok := parseGrants(w, req.Permissions)
	if !ok {
		return
	}

	role, err := h.service.CreateRole(r.Context(), CreateRoleInput{
		TenantID:    middleware.GetIdentity(r).TenantID,
		Key:         req.Key,
		Name:        req.Name,
		Description: req.Description,
		Permissions: grants,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, role)
}

// UpdateRole renames a custom role
func (h *Handlers) UpdateRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathStringOrError(w, r, "roleID")
	if !ok {
		return
	}
	var upd RoleUpdate
	if !httputil.ParseJSONOrError(w, r, &upd) {
		return
	}

	role, err := h.service.UpdateRole(r.Context(), middleware.GetIdentity(r).TenantID, roleID, upd)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, role)
}

// DeleteRole deletes an unused custom role
func (h *Handlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathStringOrError(w, r, "roleID")
	if !ok {
		return
	}
	if err := h.service.DeleteRole(r.Context(), middleware.GetIdentity(r).TenantID, roleID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// SetRolePermissions replaces the grants of a custom role
func (h *Handlers) SetRolePermissions(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathStringOrError(w, r, "roleID")
	if !ok {
		return
	}
	var req SetPermissionsRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	grants, ok := parseGrants(w, req.Permissions)
	if !ok {
		return
	}

	role, err := h.service.SetRolePermissions(r.Context(), middleware.GetIdentity(r).TenantID, roleID, grants)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, role)
}

func parseGrants(w http.ResponseWriter, reqs []GrantRequest) ([]rbac.RolePermission, bool) {
	grants := make([]rbac.RolePermission, 0, len(reqs))
	for _, g := range reqs {
		p, err := rbac.ParsePermissionKey(g.Key)
		if err != nil {
			httputil.WriteBadRequest(w, err.Error())
			return nil, false
		}
		grants = append(grants, rbac.RolePermission{Permission: p, Scope: g.Scope})
	}
	return grants, true
}

func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, rbac.ErrInvalidScope),
		errors.Is(err, rbac.ErrUnknownPermission):
		httputil.WriteBadRequest(w, err.Error())
	case errors.Is(err, rbac.ErrMembershipNotFound),
		errors.Is(err, rbac.ErrRoleNotFound),
		errors.Is(err, rbac.ErrUserNotFound):
		httputil.WriteErrorMessage(w, http.StatusNotFound, err.Error())
	case errors.Is(err, rbac.ErrSystemRole):
		httputil.WriteForbidden(w, err.Error())
	case errors.Is(err, rbac.ErrMembershipExists),
		errors.Is(err, rbac.ErrRoleExists),
		errors.Is(err, rbac.ErrRoleInUse),
		errors.Is(err, rbac.ErrInvalidTransition),
		errors.Is(err, ErrNoLegacyRole):
		httputil.WriteErrorMessage(w, http.StatusConflict, err.Error())
	default:
		httputil.LoggerFromRequest(r, h.log).WithError(err).Error("staff operation failed")
		httputil.WriteInternalError(w)
	}
}
