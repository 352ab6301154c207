// Package models - audit_log.go defines the AuditLog model for recording authenticated
// mutations (user approvals, project edits, report exports) with actor, action, and client IP.
package models

import "time"

// AuditLog represents an audit log entry for tracking user actions
type AuditLog struct {
	ID           string                 `json:"id"`
	UserID       *string                `json:"user_id,omitempty"` // Nullable for anonymous actions (registration)
	Role         *string                `json:"role,omitempty"`
	Action       string                 `json:"action"` // "POST /api/v1/users/:id/approve"
	ResourceType *string                `json:"resource_type,omitempty"`
	ResourceID   *string                `json:"resource_id,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"` // JSONB: additional context
	IPAddress    *string                `json:"ip_address,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}
