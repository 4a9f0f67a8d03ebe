package rbac

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/perfhub/pkg/async"
	"github.com/platinummonkey/perfhub/pkg/audit"
	"github.com/platinummonkey/perfhub/pkg/httputil"
	"github.com/platinummonkey/perfhub/pkg/middleware"
)

const auditTimeout = 5 * time.Second

// TargetFunc derives the check context of a request, typically from its path
type TargetFunc func(r *http.Request) *CheckContext

// TargetFromPathVar targets the user named by the path variable
func TargetFromPathVar(name string) TargetFunc {
	return func(r *http.Request) *CheckContext {
		userID := mux.Vars(r)[name]
		if userID == "" {
			return nil
		}
		return &CheckContext{TargetUserID: userID}
	}
}

// PermissionMiddleware gates handlers on permission checks for the request identity
type PermissionMiddleware struct {
	checker Checker
	log     logrus.FieldLogger
}

// NewPermissionMiddleware creates a new permission middleware
func NewPermissionMiddleware(checker Checker, log logrus.FieldLogger) *PermissionMiddleware {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &PermissionMiddleware{checker: checker, log: log}
}

// RequirePermission requires resource.action, narrowed by target when given
func (pm *PermissionMiddleware) RequirePermission(resource, action string, target TargetFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := middleware.GetIdentity(r)
			if id == nil {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			in := CheckInput{TenantID: id.TenantID, UserID: id.UserID, Resource: resource, Action: action}
			if target != nil {
				in.Context = target(r)
			}

			decision := pm.checker.CheckPermission(r.Context(), in)
			if !decision.Allowed {
				pm.denied(w, r, in, decision)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireSelfOrPermission passes requests where the path variable names the
// acting user, and otherwise requires resource.action on that user
func (pm *PermissionMiddleware) RequireSelfOrPermission(pathVar, resource, action string) func(http.Handler) http.Handler {
	guarded := pm.RequirePermission(resource, action, TargetFromPathVar(pathVar))
	return func(next http.Handler) http.Handler {
		checked := guarded(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id := middleware.GetIdentity(r); id != nil && mux.Vars(r)[pathVar] == id.UserID {
				next.ServeHTTP(w, r)
				return
			}
			checked.ServeHTTP(w, r)
		})
	}
}

// RequireAny requires at least one of the permissions
func (pm *PermissionMiddleware) RequireAny(perms ...Permission) func(http.Handler) http.Handler {
	return pm.requireSet(perms, pm.checker.CheckAny)
}

// RequireAll requires every permission. An empty set denies.
func (pm *PermissionMiddleware) RequireAll(perms ...Permission) func(http.Handler) http.Handler {
	return pm.requireSet(perms, pm.checker.CheckAll)
}

func (pm *PermissionMiddleware) requireSet(perms []Permission, check func(context.Context, []CheckInput) (bool, []Decision)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := middleware.GetIdentity(r)
			if id == nil {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			inputs := make([]CheckInput, len(perms))
			for i, p := range perms {
				inputs[i] = CheckInput{TenantID: id.TenantID, UserID: id.UserID, Resource: p.Resource, Action: p.Action}
			}

			allowed, decisions := check(r.Context(), inputs)
			if !allowed {
				in, decision := firstDenied(inputs, decisions)
				pm.denied(w, r, in, decision)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func firstDenied(inputs []CheckInput, decisions []Decision) (CheckInput, Decision) {
	for i, d := range decisions {
		if !d.Allowed {
			return inputs[i], d
		}
	}
	return CheckInput{}, Decision{Reason: ReasonNotGranted, Code: CodePermissionNotGranted}
}

func (pm *PermissionMiddleware) denied(w http.ResponseWriter, r *http.Request, in CheckInput, decision Decision) {
	httputil.WriteCodedError(w, http.StatusForbidden, string(decision.Code), decision.Reason)

	sink := audit.FromContext(r.Context())
	event := audit.NewEvent(r.Context(), audit.EventTypeAuthzAccessDenied, audit.EventStatusDenied)
	event.ResourceType = audit.ResourceTypePermission
	event.ResourceID = in.Key()
	event.Message = decision.Reason
	event.Metadata["code"] = string(decision.Code)
	event.Metadata["path"] = r.URL.Path
	if cc := in.Context; cc != nil {
		for k, v := range map[string]string{
			"target_user_id":    cc.TargetUserID,
			"target_department": cc.TargetDepartment,
			"target_team":       cc.TargetTeam,
		} {
			if v != "" {
				event.Metadata[k] = v
			}
		}
	}

	async.SafeGo(r.Context(), pm.log, auditTimeout, "audit access denial", func(ctx context.Context) error {
		return sink.Record(ctx, event)
	})
}
