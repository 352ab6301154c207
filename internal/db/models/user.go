// Package models - user.go defines the User model for dashboard accounts with role, approval
// status, supervisor reference, and per-project sales code assignments.
package models

import (
	"errors"
	"fmt"
	"time"
)

// Role is the dashboard role of a user
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleSupervisor Role = "supervisor"
	RoleSales      Role = "sales"
)

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleSupervisor, RoleSales:
		return true
	}
	return false
}

// UserStatus is the account lifecycle state
type UserStatus string

const (
	UserStatusActive          UserStatus = "active"
	UserStatusInactive        UserStatus = "inactive"
	UserStatusPendingApproval UserStatus = "pending_approval"
)

// Valid reports whether s is one of the known statuses
func (s UserStatus) Valid() bool {
	switch s {
	case UserStatusActive, UserStatusInactive, UserStatusPendingApproval:
		return true
	}
	return false
}

// ProjectAssignment binds a user to a project under a sales code
type ProjectAssignment struct {
	ProjectID string `json:"project_id" db:"project_id"`
	SalesCode string `json:"sales_code" db:"sales_code"`
}

// User represents a dashboard account
type User struct {
	ID              string              `json:"id" db:"id"`
	Name            string              `json:"name" db:"name"`
	Email           string              `json:"email" db:"email"`
	PasswordHash    string              `json:"-" db:"password_hash"`
	Role            Role                `json:"role" db:"role"`
	Status          UserStatus          `json:"status" db:"status"`
	SupervisorID    *string             `json:"supervisor_id,omitempty" db:"supervisor_id"`
	LegacySalesCode *string             `json:"legacy_sales_code,omitempty" db:"legacy_sales_code"`
	Assignments     []ProjectAssignment `json:"assignments" db:"-"`
	CreatedAt       time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at" db:"updated_at"`
}

var (
	ErrSalesNeedsAssignment = errors.New("sales users need at least one project assignment")
	ErrSalesNeedsSupervisor = errors.New("sales users need a supervisor")
	ErrNonSalesAssignment   = errors.New("only sales users can hold project assignments")
	ErrNonSalesSupervisor   = errors.New("only sales users can have a supervisor")
)

// Validate checks the role-dependent shape of a user
func (u *User) Validate() error {
	if !u.Role.Valid() {
		return fmt.Errorf("invalid role: %q", u.Role)
	}
	if !u.Status.Valid() {
		return fmt.Errorf("invalid status: %q", u.Status)
	}

	if u.Role == RoleSales {
		if len(u.Assignments) == 0 {
			return ErrSalesNeedsAssignment
		}
		if u.SupervisorID == nil || *u.SupervisorID == "" {
			return ErrSalesNeedsSupervisor
		}
		for _, a := range u.Assignments {
			if a.ProjectID == "" || a.SalesCode == "" {
				return fmt.Errorf("assignment requires project_id and sales_code")
			}
		}
		return nil
	}

	if len(u.Assignments) > 0 {
		return ErrNonSalesAssignment
	}
	if u.SupervisorID != nil {
		return ErrNonSalesSupervisor
	}
	return nil
}

// SalesCodes returns the user's assignment codes followed by the legacy code, if any.
// Blank and duplicate codes are skipped.
func (u *User) SalesCodes() []string {
	seen := make(map[string]bool, len(u.Assignments)+1)
	codes := make([]string, 0, len(u.Assignments)+1)
	for _, a := range u.Assignments {
		if a.SalesCode == "" || seen[a.SalesCode] {
			continue
		}
		seen[a.SalesCode] = true
		codes = append(codes, a.SalesCode)
	}
	if u.LegacySalesCode != nil && *u.LegacySalesCode != "" && !seen[*u.LegacySalesCode] {
		codes = append(codes, *u.LegacySalesCode)
	}
	return codes
}

// IsActive reports whether the user may sign in
func (u *User) IsActive() bool {
	return u.Status == UserStatusActive
}
