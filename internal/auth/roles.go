package auth

import "strings"

// Role represents a user role.
type Role string

const (
	// RoleViewer can watch readings and alerts.
	RoleViewer Role = "viewer"
	// RoleOperator can acknowledge alerts and run sessions.
	RoleOperator Role = "operator"
	// RoleAdmin can change settings and manage queued work.
	RoleAdmin Role = "admin"
)

// NormalizeRole validates and normalizes a role string.
func NormalizeRole(value string) (Role, bool) {
	switch role := Role(strings.ToLower(strings.TrimSpace(value))); role {
	case RoleViewer, RoleOperator, RoleAdmin:
		return role, true
	default:
		return "", false
	}
}

// RoleAtLeast returns true when role satisfies required role.
func RoleAtLeast(role Role, required Role) bool {
	return roleRank(role) >= roleRank(required)
}

func roleRank(role Role) int {
	switch role {
	case RoleViewer:
		return 1
	case RoleOperator:
		return 2
	case RoleAdmin:
		return 3
	default:
		return 0
	}
}
