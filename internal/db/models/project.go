// Package models - project.go defines the Project model: a sales programme with its own
// report column layout and optional per-report commission fees.
package models

import (
	"strings"
	"time"
)

// ProjectStatus is the lifecycle state of a project
type ProjectStatus string

const (
	ProjectStatusActive   ProjectStatus = "active"
	ProjectStatusInactive ProjectStatus = "inactive"
)

// Project represents a sales project whose reports are browsed in the dashboard
type Project struct {
	ID            string        `json:"id" db:"id"`
	Name          string        `json:"name" db:"name"`
	Status        ProjectStatus `json:"status" db:"status"`
	ReportHeaders []string      `json:"report_headers" db:"-"`
	SalesFee      *float64      `json:"sales_fee,omitempty" db:"sales_fee"`
	SupervisorFee *float64      `json:"supervisor_fee,omitempty" db:"supervisor_fee"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at" db:"updated_at"`
}

// ProjectIdentifier derives the key stored on report rows from a project name:
// lowercased, spaces replaced by underscores.
func ProjectIdentifier(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}

// Identifier returns the denormalized key that report rows carry in their project_id column
func (p *Project) Identifier() string {
	return ProjectIdentifier(p.Name)
}

// Configured reports whether the project has a column layout for report browsing
func (p *Project) Configured() bool {
	return len(p.ReportHeaders) > 0
}

// IsActive reports whether the project is visible to non-admin users
func (p *Project) IsActive() bool {
	return p.Status == ProjectStatusActive
}
