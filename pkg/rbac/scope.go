package rbac

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scope is the breadth of a permission grant. The zero value is unset, which
// is treated like ScopeOrg.
type Scope uint8

const (
	ScopeUnset Scope = iota
	ScopeSelf
	ScopeTeam
	ScopeOrg
	scopeUnknown
)

// ParseScope parses the stored representation. Unrecognised values map to an
// unknown scope that never evaluates to true.
func ParseScope(s string) Scope {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "":
		return ScopeUnset
	case "SELF":
		return ScopeSelf
	case "TEAM":
		return ScopeTeam
	case "ORG", "ORGANIZATION":
		return ScopeOrg
	default:
		return scopeUnknown
	}
}

// ParseScopeStrict is ParseScope but rejects unknown values
func ParseScopeStrict(s string) (Scope, error) {
	scope := ParseScope(s)
	if scope == scopeUnknown {
		return scope, fmt.Errorf("%w: %q", ErrInvalidScope, s)
	}
	return scope, nil
}

func (s Scope) String() string {
	switch s {
	case ScopeUnset:
		return ""
	case ScopeSelf:
		return "SELF"
	case ScopeTeam:
		return "TEAM"
	case ScopeOrg:
		return "ORG"
	default:
		return "UNKNOWN"
	}
}

// rank orders scopes by breadth; unset counts as ORG
func (s Scope) rank() int {
	switch s {
	case ScopeUnset, ScopeOrg:
		return 3
	case ScopeTeam:
		return 2
	case ScopeSelf:
		return 1
	default:
		return 0
	}
}

// Broader reports whether s grants strictly more than other
func (s Scope) Broader(other Scope) bool {
	return s.rank() > other.rank()
}

// Valid reports whether s is unset or a known scope
func (s Scope) Valid() bool {
	return s < scopeUnknown
}

// MarshalJSON encodes unset as null
func (s Scope) MarshalJSON() ([]byte, error) {
	if s == ScopeUnset {
		return []byte("null"), nil
	}
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts null or a scope name
func (s *Scope) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = ScopeUnset
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseScopeStrict(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// UnmarshalYAML accepts a scope name
func (s *Scope) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := ParseScopeStrict(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ScopeEvaluator decides whether the acting membership's relationship to the
// target of a check satisfies a scope
type ScopeEvaluator struct {
	members MembershipReader
}

// NewScopeEvaluator creates an evaluator that resolves target memberships through members
func NewScopeEvaluator(members MembershipReader) *ScopeEvaluator {
	return &ScopeEvaluator{members: members}
}

// Evaluate returns whether scope is satisfied. Only TEAM with a target performs
// I/O; a lookup error is returned so the caller can fail closed.
func (e *ScopeEvaluator) Evaluate(ctx context.Context, scope Scope, acting *Membership, cc *CheckContext) (bool, error) {
	target := ""
	if cc != nil {
		target = cc.TargetUserID
	}

	switch scope {
	case ScopeUnset, ScopeOrg:
		return true, nil
	case ScopeSelf:
		return target == "" || target == acting.UserID, nil
	case ScopeTeam:
		if target == "" || target == acting.UserID {
			return true, nil
		}
		return e.sameTeam(ctx, acting, target)
	default:
		return false, nil
	}
}

func (e *ScopeEvaluator) sameTeam(ctx context.Context, acting *Membership, targetUserID string) (bool, error) {
	if e.members == nil {
		return false, nil
	}
	target, err := e.members.FindMembership(ctx, acting.TenantID, targetUserID)
	if err != nil {
		return false, fmt.Errorf("failed to resolve target membership: %w", err)
	}
	if target == nil {
		return false, nil
	}

	if target.Metadata.ManagerID != "" && target.Metadata.ManagerID == acting.UserID {
		return true, nil
	}
	if acting.Metadata.Department != "" && acting.Metadata.Department == target.Metadata.Department {
		return true, nil
	}
	if acting.Metadata.Team != "" && acting.Metadata.Team == target.Metadata.Team {
		return true, nil
	}
	return false, nil
}
