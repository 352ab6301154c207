// Package auth - scopes.go maps dashboard roles to permission scopes and provides HasScope
// helpers for request-time authorization.
package auth

import "github.com/sales-dashboard/sales-dashboard/internal/db/models"

// Scope represents a permission
type Scope string

const (
	ScopeUsersRead  Scope = "users:read"
	ScopeUsersWrite Scope = "users:write"

	// Team listing for supervisors
	ScopeTeamRead Scope = "team:read"

	ScopeProjectsRead  Scope = "projects:read"
	ScopeProjectsWrite Scope = "projects:write"

	ScopeReportsRead   Scope = "reports:read"
	ScopeReportsExport Scope = "reports:export"

	ScopeAuditRead Scope = "audit:read"

	// Admin scope (wildcard - all permissions)
	ScopeAdmin Scope = "admin"
)

// ScopesForRole returns the scopes granted to role. Unknown roles get none.
func ScopesForRole(role models.Role) []string {
	switch role {
	case models.RoleAdmin:
		return []string{string(ScopeAdmin)}
	case models.RoleSupervisor:
		return []string{
			string(ScopeTeamRead),
			string(ScopeProjectsRead),
			string(ScopeReportsRead),
			string(ScopeReportsExport),
		}
	case models.RoleSales:
		return []string{
			string(ScopeProjectsRead),
			string(ScopeReportsRead),
		}
	}
	return []string{}
}

// HasScope checks if a user has a required scope.
// Supports wildcard admin scope; write implies read.
func HasScope(userScopes []string, required Scope) bool {
	for _, scope := range userScopes {
		if scope == string(required) || scope == string(ScopeAdmin) {
			return true
		}
		if required == ScopeUsersRead && scope == string(ScopeUsersWrite) {
			return true
		}
		if required == ScopeProjectsRead && scope == string(ScopeProjectsWrite) {
			return true
		}
	}
	return false
}

// HasAnyScope checks if a user has at least one of the required scopes
func HasAnyScope(userScopes []string, requiredScopes []Scope) bool {
	for _, required := range requiredScopes {
		if HasScope(userScopes, required) {
			return true
		}
	}
	return false
}
