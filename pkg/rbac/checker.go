package rbac

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Checker answers authorization questions
type Checker interface {
	// CheckPermission never fails; errors become deny decisions
	CheckPermission(ctx context.Context, in CheckInput) Decision

	// CheckPermissions checks each input independently, preserving order
	CheckPermissions(ctx context.Context, inputs []CheckInput) []Decision

	// CheckAny reports whether at least one input is allowed
	CheckAny(ctx context.Context, inputs []CheckInput) (bool, []Decision)

	// CheckAll reports whether every input is allowed; an empty list is denied
	CheckAll(ctx context.Context, inputs []CheckInput) (bool, []Decision)

	// GetUserPermissions lists every permission key reachable by the user
	GetUserPermissions(ctx context.Context, tenantID, userID string) ([]EffectivePermission, error)
}

// batchConcurrency bounds parallel evaluation inside CheckPermissions
const batchConcurrency = 8

// Engine resolves membership, roles and scopes to decide checks
type Engine struct {
	members MembershipReader
	roles   RoleReader
	scopes  *ScopeEvaluator
	log     logrus.FieldLogger
	metrics MetricsRecorder
	tracer  trace.Tracer
	now     func() time.Time
}

var _ Checker = (*Engine)(nil)

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the decision logger
func WithLogger(log logrus.FieldLogger) Option {
	return func(e *Engine) { e.log = log }
}

// WithMetrics sets the decision recorder
func WithMetrics(m MetricsRecorder) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracer sets the tracer used for check spans
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// NewEngine creates an engine. members and roles are usually the same CachedReader.
func NewEngine(members MembershipReader, roles RoleReader, opts ...Option) *Engine {
	e := &Engine{
		members: members,
		roles:   roles,
		scopes:  NewScopeEvaluator(members),
		log:     logrus.StandardLogger(),
		metrics: noopRecorder{},
		tracer:  otel.Tracer("github.com/platinummonkey/perfhub/pkg/rbac"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CheckPermission decides whether the user may perform resource.action in the
// tenant. It fails closed: store errors and panics produce a deny decision with
// a generic reason, and the detail goes to the log only.
func (e *Engine) CheckPermission(ctx context.Context, in CheckInput) (decision Decision) {
	start := e.now()
	ctx, span := e.tracer.Start(ctx, "rbac.CheckPermission", trace.WithAttributes(
		attribute.String("tenant.id", in.TenantID),
		attribute.String("authz.permission", in.Key()),
	))

	log := e.log.WithFields(logrus.Fields{
		"tenant_id":  in.TenantID,
		"user_id":    in.UserID,
		"permission": in.Key(),
	})
	if target := in.targetUserID(); target != "" {
		log = log.WithField("target_user_id", target)
	}

	defer func() {
		if rec := recover(); rec != nil {
			log.WithField("panic", fmt.Sprint(rec)).WithField("stack", string(debug.Stack())).
				Error("permission check panicked")
			decision = e.deny(CodeInternalError, ReasonInternalError)
		}

		e.metrics.ObserveDecision(decision.Allowed, string(decision.Code), e.now().Sub(start))
		span.SetAttributes(attribute.Bool("authz.allowed", decision.Allowed))
		if decision.Code == CodeInternalError {
			span.SetStatus(codes.Error, decision.Reason)
		}
		span.End()

		if decision.Allowed {
			log.WithFields(logrus.Fields{
				"role":  decision.MatchedPermission.RoleName,
				"scope": decision.MatchedPermission.Scope.String(),
			}).Debug("permission granted")
		} else {
			log.WithFields(logrus.Fields{
				"code":   decision.Code,
				"reason": decision.Reason,
			}).Info("permission denied")
		}
	}()

	if in.TenantID == "" || in.UserID == "" || in.Resource == "" || in.Action == "" {
		return e.deny(CodeInvalidInput, ReasonInvalidInput)
	}

	decision, err := e.evaluate(ctx, in, log)
	if err != nil {
		log.WithError(err).Error("permission check failed")
		span.RecordError(err)
		return e.deny(CodeInternalError, ReasonInternalError)
	}
	return decision
}

func (e *Engine) evaluate(ctx context.Context, in CheckInput, log logrus.FieldLogger) (Decision, error) {
	membership, err := e.members.FindMembership(ctx, in.TenantID, in.UserID)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to get membership: %w", err)
	}
	if membership == nil {
		return e.deny(CodeNoMembership, ReasonNoMembership), nil
	}
	if membership.Status != StatusActive {
		return e.deny(CodeInactiveMembership, inactiveReason(membership.Status)), nil
	}

	key := in.Key()
	for _, roleID := range membership.RoleIDs() {
		role, err := e.roles.FindRole(ctx, roleID)
		if err != nil {
			return Decision{}, fmt.Errorf("failed to get role %s: %w", roleID, err)
		}
		if role == nil {
			log.WithField("role_id", roleID).Warn("membership references missing role")
			continue
		}
		if !role.VisibleTo(membership.TenantID) {
			log.WithField("role_id", roleID).Warn("membership references role owned by another tenant")
			continue
		}

		for _, rp := range role.Permissions {
			if rp.Permission.Key() != key {
				continue
			}
			ok, err := e.scopes.Evaluate(ctx, rp.Scope, membership, in.Context)
			if err != nil {
				return Decision{}, err
			}
			if ok {
				return Decision{
					Allowed: true,
					MatchedPermission: &MatchedPermission{
						Key:      key,
						Scope:    rp.Scope,
						RoleID:   role.ID,
						RoleName: role.Name,
					},
					CheckedAt: e.now(),
				}, nil
			}
		}
	}

	return e.deny(CodePermissionNotGranted, ReasonNotGranted), nil
}

func (e *Engine) deny(code DenyCode, reason string) Decision {
	return Decision{
		Allowed:   false,
		Reason:    reason,
		Code:      code,
		CheckedAt: e.now(),
	}
}

// CheckPermissions evaluates every input independently. Results are positional.
func (e *Engine) CheckPermissions(ctx context.Context, inputs []CheckInput) []Decision {
	results := make([]Decision, len(inputs))
	if len(inputs) == 0 {
		return results
	}

	var g errgroup.Group
	g.SetLimit(batchConcurrency)
	for i := range inputs {
		i := i
		g.Go(func() error {
			results[i] = e.CheckPermission(ctx, inputs[i])
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// CheckAny reports whether at least one input is allowed
func (e *Engine) CheckAny(ctx context.Context, inputs []CheckInput) (bool, []Decision) {
	results := e.CheckPermissions(ctx, inputs)
	return AnyAllowed(results), results
}

// CheckAll reports whether every input is allowed. An empty list is denied.
func (e *Engine) CheckAll(ctx context.Context, inputs []CheckInput) (bool, []Decision) {
	results := e.CheckPermissions(ctx, inputs)
	return AllAllowed(results), results
}

// AnyAllowed reports whether any decision allows
func AnyAllowed(decisions []Decision) bool {
	for _, d := range decisions {
		if d.Allowed {
			return true
		}
	}
	return false
}

// AllAllowed reports whether every decision allows. An empty list is false.
func AllAllowed(decisions []Decision) bool {
	if len(decisions) == 0 {
		return false
	}
	for _, d := range decisions {
		if !d.Allowed {
			return false
		}
	}
	return true
}

// GetUserPermissions returns the union of permission keys granted by the
// user's roles, keeping the broadest scope seen for each key. Missing or
// inactive memberships yield an empty list. This is for display, not gating.
func (e *Engine) GetUserPermissions(ctx context.Context, tenantID, userID string) ([]EffectivePermission, error) {
	membership, err := e.members.FindMembership(ctx, tenantID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	if membership == nil || membership.Status != StatusActive {
		return []EffectivePermission{}, nil
	}

	broadest := make(map[string]Scope)
	for _, roleID := range membership.RoleIDs() {
		role, err := e.roles.FindRole(ctx, roleID)
		if err != nil {
			return nil, fmt.Errorf("failed to get role %s: %w", roleID, err)
		}
		if role == nil || !role.VisibleTo(tenantID) {
			continue
		}
		for _, rp := range role.Permissions {
			key := rp.Permission.Key()
			current, seen := broadest[key]
			if !seen || rp.Scope.Broader(current) {
				broadest[key] = rp.Scope
			}
		}
	}

	perms := make([]EffectivePermission, 0, len(broadest))
	for key, scope := range broadest {
		// unknown scopes grant nothing
		if scope == scopeUnknown {
			continue
		}
		perms = append(perms, EffectivePermission{Key: key, Scope: scope})
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i].Key < perms[j].Key })

	return perms, nil
}
