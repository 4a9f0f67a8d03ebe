package rbac

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/perfhub/pkg/audit"
	"github.com/platinummonkey/perfhub/pkg/httputil"
	"github.com/platinummonkey/perfhub/pkg/middleware"
)

// MaxBatchChecks bounds the size of a batch check request
const MaxBatchChecks = 100

// Batch modes
const (
	BatchModeEach = "each"
	BatchModeAny  = "any"
	BatchModeAll  = "all"
)

// BatchCheckRequest is the body of a batch check
type BatchCheckRequest struct {
	Checks []CheckInput `json:"checks"`
	Mode   string       `json:"mode,omitempty"`
}

// BatchCheckResponse carries positional decisions and, for any/all, the combined result
type BatchCheckResponse struct {
	Allowed   *bool      `json:"allowed,omitempty"`
	Decisions []Decision `json:"decisions"`
}

// UserPermissionsResponse lists a user's effective permissions
type UserPermissionsResponse struct {
	TenantID    string                `json:"tenantId"`
	UserID      string                `json:"userId"`
	Permissions []EffectivePermission `json:"permissions"`
}

// InvalidateRequest names what to drop from the cache: a membership (userId,
// tenant defaults to the caller's) or a role visible to the caller's tenant.
type InvalidateRequest struct {
	TenantID string `json:"tenantId,omitempty"`
	UserID   string `json:"userId,omitempty"`
	RoleID   string `json:"roleId,omitempty"`
}

// Handlers serves the check API
type Handlers struct {
	checker     Checker
	invalidator Invalidator
	roles       RoleReader
	perms       *PermissionMiddleware
	log         logrus.FieldLogger
}

// NewHandlers creates new check API handlers. invalidator may be nil when no
// cache is configured; roles resolves role ownership for invalidation.
func NewHandlers(checker Checker, invalidator Invalidator, roles RoleReader, log logrus.FieldLogger) *Handlers {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handlers{
		checker:     checker,
		invalidator: invalidator,
		roles:       roles,
		perms:       NewPermissionMiddleware(checker, log),
		log:         log,
	}
}

// RegisterRoutes registers the check API on a router that already carries identity middleware
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/authz/check", h.CheckPermission).Methods(http.MethodPost)
	router.HandleFunc("/authz/check-batch", h.CheckBatch).Methods(http.MethodPost)

	router.Handle("/tenants/{tenantID}/users/{userID}/permissions",
		h.perms.RequireSelfOrPermission("userID", ResourceStaff, ActionRead)(http.HandlerFunc(h.GetUserPermissions)),
	).Methods(http.MethodGet)

	router.Handle("/authz/cache/invalidate",
		h.perms.RequirePermission(ResourceRole, ActionManage, nil)(http.HandlerFunc(h.InvalidateCache)),
	).Methods(http.MethodPost)
}

// CheckPermission answers a single check. Denials are a 200 with allowed=false.
// Checking another user requires staff.read on that user.
func (h *Handlers) CheckPermission(w http.ResponseWriter, r *http.Request) {
	var in CheckInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	if !h.bindIdentity(w, r, &in, nil) {
		return
	}

	httputil.WriteSuccess(w, h.checker.CheckPermission(r.Context(), in))
}

// CheckBatch answers several checks in order
func (h *Handlers) CheckBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchCheckRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if len(req.Checks) > MaxBatchChecks {
		httputil.WriteBadRequest(w, fmt.Sprintf("at most %d checks per batch", MaxBatchChecks))
		return
	}

	mode := req.Mode
	if mode == "" {
		mode = BatchModeEach
	}
	if mode != BatchModeEach && mode != BatchModeAny && mode != BatchModeAll {
		httputil.WriteBadRequest(w, fmt.Sprintf("unknown mode %q", req.Mode))
		return
	}

	cleared := make(map[string]bool)
	for i := range req.Checks {
		if !h.bindIdentity(w, r, &req.Checks[i], cleared) {
			return
		}
	}

	var resp BatchCheckResponse
	switch mode {
	case BatchModeAny:
		allowed, decisions := h.checker.CheckAny(r.Context(), req.Checks)
		resp.Allowed, resp.Decisions = &allowed, decisions
	case BatchModeAll:
		allowed, decisions := h.checker.CheckAll(r.Context(), req.Checks)
		resp.Allowed, resp.Decisions = &allowed, decisions
	default:
		resp.Decisions = h.checker.CheckPermissions(r.Context(), req.Checks)
	}

	httputil.WriteSuccess(w, resp)
}

// GetUserPermissions lists the effective permissions of a user in the caller's tenant
func (h *Handlers) GetUserPermissions(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathStringOrError(w, r, "tenantID")
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathStringOrError(w, r, "userID")
	if !ok {
		return
	}
	if id := middleware.GetIdentity(r); id == nil || id.TenantID != tenantID {
		httputil.WriteForbidden(w, "tenant does not match caller")
		return
	}

	perms, err := h.checker.GetUserPermissions(r.Context(), tenantID, userID)
	if err != nil {
		httputil.LoggerFromRequest(r, h.log).WithError(err).Error("failed to list user permissions")
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteSuccess(w, UserPermissionsResponse{TenantID: tenantID, UserID: userID, Permissions: perms})
}

// InvalidateCache drops cached memberships or roles after an out-of-band change
func (h *Handlers) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	var req InvalidateRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if h.invalidator == nil {
		httputil.WriteNoContent(w)
		return
	}

	id := middleware.GetIdentity(r)
	if req.TenantID == "" {
		req.TenantID = id.TenantID
	}
	if req.TenantID != id.TenantID {
		httputil.WriteForbidden(w, "tenant does not match caller")
		return
	}

	ctx := r.Context()
	var err error
	switch {
	case req.RoleID != "":
		if !h.roleVisible(w, r, req.RoleID, id.TenantID) {
			return
		}
		err = h.invalidator.InvalidateRole(ctx, req.RoleID)
	case req.UserID != "":
		err = h.invalidator.InvalidateMembership(ctx, req.TenantID, req.UserID)
	default:
		httputil.WriteBadRequest(w, "one of userId or roleId is required")
		return
	}
	if err != nil {
		httputil.LoggerFromRequest(r, h.log).WithError(err).Error("failed to invalidate cache")
		httputil.WriteInternalError(w)
		return
	}

	h.recordInvalidation(ctx, req)
	httputil.WriteNoContent(w)
}

func (h *Handlers) recordInvalidation(ctx context.Context, req InvalidateRequest) {
	event := audit.NewEvent(ctx, audit.EventTypeAuthzCacheFlush, audit.EventStatusSuccess)
	event.ResourceType = audit.ResourceTypeCache
	if req.RoleID != "" {
		event.ResourceID = "role:" + req.RoleID
	} else {
		event.ResourceID = "membership:" + req.TenantID + ":" + req.UserID
	}
	event.Message = "authorization cache invalidated"

	if err := audit.FromContext(ctx).Record(ctx, event); err != nil {
		h.log.WithError(err).Warn("failed to record audit event")
	}
}

// roleVisible writes a 404 unless the role is shared or owned by tenantID
func (h *Handlers) roleVisible(w http.ResponseWriter, r *http.Request, roleID, tenantID string) bool {
	if h.roles == nil {
		httputil.WriteErrorMessage(w, http.StatusNotFound, "role not found")
		return false
	}
	role, err := h.roles.FindRole(r.Context(), roleID)
	if err != nil {
		httputil.LoggerFromRequest(r, h.log).WithError(err).Error("failed to resolve role")
		httputil.WriteInternalError(w)
		return false
	}
	if role == nil || (role.TenantID != nil && *role.TenantID != tenantID) {
		httputil.WriteErrorMessage(w, http.StatusNotFound, "role not found")
		return false
	}
	return true
}

// bindIdentity defaults the check's tenant and user to the caller's, rejects
// checks against another tenant and requires staff.read to check another user.
// cleared, when set, remembers targets already allowed within one request.
func (h *Handlers) bindIdentity(w http.ResponseWriter, r *http.Request, in *CheckInput, cleared map[string]bool) bool {
	id := middleware.GetIdentity(r)
	if id == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return false
	}
	if in.TenantID == "" {
		in.TenantID = id.TenantID
	}
	if in.UserID == "" {
		in.UserID = id.UserID
	}
	if in.TenantID != id.TenantID {
		httputil.WriteForbidden(w, "tenant does not match caller")
		return false
	}
	if in.UserID == id.UserID || cleared[in.UserID] {
		return true
	}

	guard := CheckInput{
		TenantID: id.TenantID,
		UserID:   id.UserID,
		Resource: ResourceStaff,
		Action:   ActionRead,
		Context:  &CheckContext{TargetUserID: in.UserID},
	}
	if decision := h.checker.CheckPermission(r.Context(), guard); !decision.Allowed {
		h.perms.denied(w, r, guard, decision)
		return false
	}
	if cleared != nil {
		cleared[in.UserID] = true
	}
	return true
}
