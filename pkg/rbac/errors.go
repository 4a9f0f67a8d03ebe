package rbac

import (
	"errors"
	"fmt"
)

// DenyCode classifies why a check was denied
type DenyCode string

const (
	CodeNoMembership         DenyCode = "no_membership"
	CodeInactiveMembership   DenyCode = "inactive_membership"
	CodePermissionNotGranted DenyCode = "permission_not_granted"
	CodeInternalError        DenyCode = "internal_error"
	CodeInvalidInput         DenyCode = "invalid_input"
)

// Deny reasons returned to callers. Internal detail is logged, never placed here.
const (
	ReasonNoMembership   = "no active membership found"
	ReasonNotGranted     = "permission not granted by any role"
	ReasonInternalError  = "internal error during permission check"
	ReasonInvalidInput   = "invalid permission check input"
	reasonInactiveFormat = "membership is %s"
)

func inactiveReason(status MembershipStatus) string {
	return fmt.Sprintf(reasonInactiveFormat, status)
}

// Store and management errors
var (
	ErrRoleNotFound       = errors.New("role not found")
	ErrMembershipNotFound = errors.New("membership not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrMembershipExists   = errors.New("membership already exists")
	ErrRoleExists         = errors.New("role key already exists in tenant")
	ErrRoleInUse          = errors.New("role is referenced by a membership")
	ErrSystemRole         = errors.New("system roles cannot be modified")
	ErrUnknownPermission  = errors.New("unknown permission")
	ErrInvalidScope       = errors.New("invalid scope")
	ErrInvalidTransition  = errors.New("invalid membership status transition")
)
