// project_repository.go implements ProjectRepository: CRUD for sales projects and their
// ordered report column layouts.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sales-dashboard/sales-dashboard/internal/db/models"
)

// ProjectRepository handles project database operations
type ProjectRepository struct {
	db *sqlx.DB
}

// NewProjectRepository creates a new ProjectRepository
func NewProjectRepository(db *sqlx.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

const projectColumns = `id, name, status, report_headers, sales_fee, supervisor_fee, created_at, updated_at`

func scanProject(row rowScanner) (*models.Project, error) {
	var p models.Project
	var headersJSON []byte
	if err := row.Scan(&p.ID, &p.Name, &p.Status, &headersJSON, &p.SalesFee, &p.SupervisorFee, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.ReportHeaders = make([]string, 0)
	if len(headersJSON) > 0 {
		if err := json.Unmarshal(headersJSON, &p.ReportHeaders); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

func marshalHeaders(headers []string) ([]byte, error) {
	if headers == nil {
		headers = []string{}
	}
	return json.Marshal(headers)
}

// CreateProject inserts a new project
func (r *ProjectRepository) CreateProject(ctx context.Context, project *models.Project) error {
	headersJSON, err := marshalHeaders(project.ReportHeaders)
	if err != nil {
		return err
	}

	project.ID = uuid.New().String()
	project.CreatedAt = time.Now()
	project.UpdatedAt = project.CreatedAt
	if project.Status == "" {
		project.Status = models.ProjectStatusActive
	}

	query := `INSERT INTO projects (` + projectColumns + `)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err = r.db.ExecContext(ctx, query,
		project.ID, project.Name, project.Status, headersJSON,
		project.SalesFee, project.SupervisorFee, project.CreatedAt, project.UpdatedAt)
	return err
}

// GetProject retrieves a project by ID; returns nil when not found
func (r *ProjectRepository) GetProject(ctx context.Context, id string) (*models.Project, error) {
	p, err := scanProject(r.db.QueryRowxContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// GetProjectByName retrieves a project by its unique name; returns nil when not found
func (r *ProjectRepository) GetProjectByName(ctx context.Context, name string) (*models.Project, error) {
	p, err := scanProject(r.db.QueryRowxContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE name = $1`, name))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListProjects returns projects ordered by name. activeOnly hides inactive ones.
func (r *ProjectRepository) ListProjects(ctx context.Context, activeOnly bool) ([]*models.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects`
	args := []interface{}{}
	if activeOnly {
		query += ` WHERE status = $1`
		args = append(args, models.ProjectStatusActive)
	}
	query += ` ORDER BY name`

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	projects := make([]*models.Project, 0)
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// UpdateProject rewrites a project's mutable fields
func (r *ProjectRepository) UpdateProject(ctx context.Context, project *models.Project) error {
	headersJSON, err := marshalHeaders(project.ReportHeaders)
	if err != nil {
		return err
	}
	project.UpdatedAt = time.Now()

	query := `UPDATE projects
			  SET name = $2, status = $3, report_headers = $4, sales_fee = $5, supervisor_fee = $6, updated_at = $7
			  WHERE id = $1`
	_, err = r.db.ExecContext(ctx, query,
		project.ID, project.Name, project.Status, headersJSON,
		project.SalesFee, project.SupervisorFee, project.UpdatedAt)
	return err
}

// DeleteProject deletes a project; assignments to it cascade. Reports are left untouched.
func (r *ProjectRepository) DeleteProject(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM projects WHERE id = $1`, id)
	return err
}
