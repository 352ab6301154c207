// projects.go implements handlers for sales project management, including each project's
// report column layout and commission fees.
package admin

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/sales-dashboard/sales-dashboard/internal/config"
	"github.com/sales-dashboard/sales-dashboard/internal/db/models"
	"github.com/sales-dashboard/sales-dashboard/internal/db/repositories"
	"github.com/sales-dashboard/sales-dashboard/internal/middleware"
)

// ProjectHandlers handles project endpoints
type ProjectHandlers struct {
	cfg         *config.Config
	projectRepo *repositories.ProjectRepository
}

// NewProjectHandlers creates a new ProjectHandlers instance
func NewProjectHandlers(cfg *config.Config, db *sqlx.DB) *ProjectHandlers {
	return &ProjectHandlers{
		cfg:         cfg,
		projectRepo: repositories.NewProjectRepository(db),
	}
}

// ProjectRequest is the body of project create and update. On update, nil fields are kept.
type ProjectRequest struct {
	Name          *string               `json:"name"`
	Status        *models.ProjectStatus `json:"status"`
	ReportHeaders *[]string             `json:"report_headers"`
	SalesFee      *float64              `json:"sales_fee"`
	SupervisorFee *float64              `json:"supervisor_fee"`
}

// normalizeHeaders trims headers and drops blanks and duplicates, keeping the first occurrence
func normalizeHeaders(headers []string) []string {
	seen := make(map[string]bool, len(headers))
	out := make([]string, 0, len(headers))
	for _, h := range headers {
		h = strings.TrimSpace(h)
		if h == "" || seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, h)
	}
	return out
}

// ListProjectsHandler lists projects. Admins see every project, everyone else only active ones.
// GET /api/v1/projects
func (h *ProjectHandlers) ListProjectsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		activeOnly := c.GetString(middleware.ContextRole) != string(models.RoleAdmin)
		projects, err := h.projectRepo.ListProjects(c.Request.Context(), activeOnly)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list projects"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"projects": projects})
	}
}

// GetProjectHandler retrieves a project
// GET /api/v1/projects/:id
func (h *ProjectHandlers) GetProjectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		project, err := h.projectRepo.GetProject(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve project"})
			return
		}
		if project == nil || (!project.IsActive() && c.GetString(middleware.ContextRole) != string(models.RoleAdmin)) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Project not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"project": project})
	}
}

// CreateProjectHandler creates a project. Names are unique because report rows are keyed by
// the identifier derived from them.
// POST /api/v1/projects
func (h *ProjectHandlers) CreateProjectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ProjectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
			return
		}
		if req.Name == nil || strings.TrimSpace(*req.Name) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Project name is required"})
			return
		}

		project := &models.Project{
			Name:          strings.TrimSpace(*req.Name),
			Status:        models.ProjectStatusActive,
			ReportHeaders: []string{},
			SalesFee:      req.SalesFee,
			SupervisorFee: req.SupervisorFee,
		}
		if req.Status != nil {
			project.Status = *req.Status
		}
		if req.ReportHeaders != nil {
			project.ReportHeaders = normalizeHeaders(*req.ReportHeaders)
		}
		if msg := validateProject(project); msg != "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": msg})
			return
		}

		ctx := c.Request.Context()
		existing, err := h.projectRepo.GetProjectByName(ctx, project.Name)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check existing project"})
			return
		}
		if existing != nil {
			c.JSON(http.StatusConflict, gin.H{"error": "Project with this name already exists"})
			return
		}

		if err := h.projectRepo.CreateProject(ctx, project); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create project"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"project": project})
	}
}

// UpdateProjectHandler updates a project. Renaming changes the identifier, so reports already
// ingested under the old name stop matching; the response says so.
// PUT /api/v1/projects/:id
func (h *ProjectHandlers) UpdateProjectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ProjectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
			return
		}

		ctx := c.Request.Context()
		project, err := h.projectRepo.GetProject(ctx, c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve project"})
			return
		}
		if project == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Project not found"})
			return
		}

		oldIdentifier := project.Identifier()
		if req.Name != nil && strings.TrimSpace(*req.Name) != project.Name {
			name := strings.TrimSpace(*req.Name)
			other, err := h.projectRepo.GetProjectByName(ctx, name)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check existing project"})
				return
			}
			if other != nil && other.ID != project.ID {
				c.JSON(http.StatusConflict, gin.H{"error": "Project with this name already exists"})
				return
			}
			project.Name = name
		}
		if req.Status != nil {
			project.Status = *req.Status
		}
		if req.ReportHeaders != nil {
			project.ReportHeaders = normalizeHeaders(*req.ReportHeaders)
		}
		if req.SalesFee != nil {
			project.SalesFee = req.SalesFee
		}
		if req.SupervisorFee != nil {
			project.SupervisorFee = req.SupervisorFee
		}
		if msg := validateProject(project); msg != "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": msg})
			return
		}

		if err := h.projectRepo.UpdateProject(ctx, project); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update project"})
			return
		}

		resp := gin.H{"project": project}
		if project.Identifier() != oldIdentifier {
			resp["warning"] = "Project identifier changed from " + oldIdentifier + "; existing reports keep the old identifier"
		}
		c.JSON(http.StatusOK, resp)
	}
}

// DeleteProjectHandler deletes a project
// DELETE /api/v1/projects/:id
func (h *ProjectHandlers) DeleteProjectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		project, err := h.projectRepo.GetProject(ctx, c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve project"})
			return
		}
		if project == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Project not found"})
			return
		}
		if err := h.projectRepo.DeleteProject(ctx, project.ID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete project"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Project deleted successfully"})
	}
}

func validateProject(p *models.Project) string {
	if p.Status != models.ProjectStatusActive && p.Status != models.ProjectStatusInactive {
		return "Invalid project status"
	}
	if p.SalesFee != nil && *p.SalesFee < 0 {
		return "sales_fee cannot be negative"
	}
	if p.SupervisorFee != nil && *p.SupervisorFee < 0 {
		return "supervisor_fee cannot be negative"
	}
	return ""
}
