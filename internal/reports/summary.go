package reports

import (
	"context"

	"github.com/sales-dashboard/sales-dashboard/internal/db/models"
)

// Summary is the commission overview of one project for a viewer
type Summary struct {
	ProjectID     string  `json:"project_id"`
	Role          string  `json:"role"`
	ReportCount   int     `json:"report_count"`
	SalesFee      float64 `json:"sales_fee"`
	SupervisorFee float64 `json:"supervisor_fee"`

	// SalesEarnings is ReportCount x SalesFee; SupervisorEarnings is ReportCount x SupervisorFee.
	// Each role sees its own figure; admins see both.
	SalesEarnings      float64 `json:"sales_earnings"`
	SupervisorEarnings float64 `json:"supervisor_earnings"`
}

// Summarize counts the reports visible through engine and applies the project's fees for the
// viewer's role. An empty scope produces zeros without querying.
func Summarize(ctx context.Context, engine *Engine, project *models.Project, role models.Role) (*Summary, error) {
	s := &Summary{ProjectID: project.ID, Role: string(role)}
	if project.SalesFee != nil {
		s.SalesFee = *project.SalesFee
	}
	if project.SupervisorFee != nil {
		s.SupervisorFee = *project.SupervisorFee
	}

	n, err := engine.Count(ctx, nil)
	if err != nil {
		return nil, err
	}
	s.ReportCount = n

	switch role {
	case models.RoleSales:
		s.SalesEarnings = float64(n) * s.SalesFee
	case models.RoleSupervisor:
		s.SupervisorEarnings = float64(n) * s.SupervisorFee
	case models.RoleAdmin:
		s.SalesEarnings = float64(n) * s.SalesFee
		s.SupervisorEarnings = float64(n) * s.SupervisorFee
	}
	return s, nil
}
