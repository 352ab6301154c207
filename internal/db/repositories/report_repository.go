// report_repository.go implements ReportRepository: keyset-paginated, scope-filtered reads
// over the externally ingested reports table.
package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sales-dashboard/sales-dashboard/internal/db/models"
)

// ReportQuery describes one page read over the reports of a project.
//
// Predicates are applied in a fixed order: project identifier, sales-code membership (skipped
// when AllSalesCodes is set), then the optional field equality. Results are ordered by id.
type ReportQuery struct {
	ProjectID     string
	SalesCodes    []string
	AllSalesCodes bool

	// FilterField/FilterValue add data->>FilterField = FilterValue when FilterField is set
	FilterField string
	FilterValue string

	// At most one of After/Before is set. Before returns the rows immediately preceding the
	// marker, still in ascending id order.
	After  string
	Before string
	Limit  int
}

// ReportRepository handles report database operations
type ReportRepository struct {
	db *sqlx.DB
}

// NewReportRepository creates a new ReportRepository
func NewReportRepository(db *sqlx.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

const reportColumns = `id, project_id, sales_code, data, created_at`

// where builds the shared predicate list and its arguments
func (q ReportQuery) where() (string, []interface{}) {
	args := []interface{}{q.ProjectID}
	clause := ` WHERE project_id = $1`

	if !q.AllSalesCodes {
		args = append(args, pq.Array(q.SalesCodes))
		clause += fmt.Sprintf(` AND sales_code = ANY($%d)`, len(args))
	}
	if q.FilterField != "" {
		args = append(args, q.FilterField, q.FilterValue)
		clause += fmt.Sprintf(` AND data->>$%d = $%d`, len(args)-1, len(args))
	}
	return clause, args
}

// QueryReports returns one page of reports in ascending id order
func (r *ReportRepository) QueryReports(ctx context.Context, q ReportQuery) ([]*models.Report, error) {
	if q.After != "" && q.Before != "" {
		return nil, fmt.Errorf("report query cannot page in both directions")
	}

	clause, args := q.where()
	order := ` ORDER BY id ASC`
	switch {
	case q.After != "":
		args = append(args, q.After)
		clause += fmt.Sprintf(` AND id > $%d`, len(args))
	case q.Before != "":
		args = append(args, q.Before)
		clause += fmt.Sprintf(` AND id < $%d`, len(args))
		order = ` ORDER BY id DESC`
	}

	query := `SELECT ` + reportColumns + ` FROM reports` + clause + order
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	reports := make([]*models.Report, 0)
	if err := r.db.SelectContext(ctx, &reports, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}

	if q.Before != "" {
		for i, j := 0, len(reports)-1; i < j; i, j = i+1, j-1 {
			reports[i], reports[j] = reports[j], reports[i]
		}
	}
	return reports, nil
}

// CountReports returns the number of reports matching the query predicates. Cursor and limit
// fields are ignored.
func (r *ReportRepository) CountReports(ctx context.Context, q ReportQuery) (int, error) {
	clause, args := q.where()

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM reports`+clause, args...); err != nil {
		return 0, fmt.Errorf("failed to count reports: %w", err)
	}
	return total, nil
}

// GetReport retrieves a single report; returns nil when not found
func (r *ReportRepository) GetReport(ctx context.Context, id string) (*models.Report, error) {
	report := &models.Report{}
	err := r.db.GetContext(ctx, report, `SELECT `+reportColumns+` FROM reports WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return report, nil
}
