// Package reporting implements the report browsing endpoints: the project tab bar, cursor paging,
// totals, commission summaries, single-record detail and CSV exports.
//
// Every endpoint resolves the caller's scope on each request, so a supervisor whose team
// changed sees the new scope on the next fetch and the page engine resets its cursors.
package reporting

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/sales-dashboard/sales-dashboard/internal/db/models"
	"github.com/sales-dashboard/sales-dashboard/internal/db/repositories"
	"github.com/sales-dashboard/sales-dashboard/internal/export"
	"github.com/sales-dashboard/sales-dashboard/internal/middleware"
	"github.com/sales-dashboard/sales-dashboard/internal/reports"
	"github.com/sales-dashboard/sales-dashboard/internal/storage"
)

// ReportHandlers handles report browsing endpoints
type ReportHandlers struct {
	projectRepo *repositories.ProjectRepository
	reportRepo  *repositories.ReportRepository
	resolver    *reports.ScopeResolver
	switcher    *reports.Switcher
	formatter   *reports.Formatter
	exporter    *export.Exporter
	exports     storage.Storage
}

// NewReportHandlers creates the report handlers. exporter and exports may be nil when no
// export storage is configured; the export endpoints then answer 503.
func NewReportHandlers(db *sqlx.DB, cursors reports.CursorStore, formatter *reports.Formatter, exporter *export.Exporter, exports storage.Storage) *ReportHandlers {
	userRepo := repositories.NewUserRepository(db)
	projectRepo := repositories.NewProjectRepository(db)
	reportRepo := repositories.NewReportRepository(db)
	return &ReportHandlers{
		projectRepo: projectRepo,
		reportRepo:  reportRepo,
		resolver:    reports.NewScopeResolver(userRepo),
		switcher:    reports.NewSwitcher(projectRepo, userRepo, reportRepo, cursors),
		formatter:   formatter,
		exporter:    exporter,
		exports:     exports,
	}
}

// Switcher exposes the tab switcher so logout can drop a session's tabs
func (h *ReportHandlers) Switcher() *reports.Switcher {
	return h.switcher
}

// tabRequest is the resolved context of a per-project report request
type tabRequest struct {
	user    *models.User
	project *models.Project
	scope   reports.Scope
	member  *models.User
	filter  *reports.FieldFilter
}

// resolveTab loads the caller, the :id project and the effective scope. It writes the error
// response and returns false when the request cannot proceed.
func (h *ReportHandlers) resolveTab(c *gin.Context) (*tabRequest, bool) {
	ctx := c.Request.Context()
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return nil, false
	}

	project, err := h.projectRepo.GetProject(ctx, c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve project"})
		return nil, false
	}
	if project == nil || (!project.IsActive() && user.Role != models.RoleAdmin) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Project not found"})
		return nil, false
	}

	req := &tabRequest{user: user, project: project}
	if memberID := c.Query("member"); memberID != "" {
		req.scope, req.member, err = h.resolver.ResolveMember(ctx, user, memberID)
	} else {
		req.scope, err = h.resolver.Resolve(ctx, user)
	}
	if errors.Is(err, reports.ErrNotInTeam) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Member is not part of your team"})
		return nil, false
	}
	if err != nil {
		slog.Error("failed to resolve report scope", "user_id", user.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to resolve report scope"})
		return nil, false
	}

	if field := strings.TrimSpace(c.Query("field")); field != "" {
		req.filter = &reports.FieldFilter{Field: field, Value: c.Query("value")}
	}
	return req, true
}

// ListTabsHandler lists the projects the caller may browse, first one selected
// GET /api/v1/reports/tabs
func (h *ReportHandlers) ListTabsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		user, ok := middleware.CurrentUser(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}

		scope, err := h.resolver.Resolve(ctx, user)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to resolve report scope"})
			return
		}
		tabs, err := h.switcher.Tabs(ctx, user, scope)
		if err != nil {
			slog.Error("failed to list report tabs", "user_id", user.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list projects"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"tabs": tabs})
	}
}

// PageResponse is one rendered page of a project tab
type PageResponse struct {
	*reports.Table

	// Reset is set when a scope or filter change sent the tab back to page 1
	Reset bool `json:"reset,omitempty"`
	// Error carries a store failure; the table is empty and a first fetch retries
	Error string `json:"error,omitempty"`

	Member *models.User         `json:"member,omitempty"`
	Filter *reports.FieldFilter `json:"filter,omitempty"`
	Search string               `json:"search,omitempty"`
}

// GetPageHandler fetches a page of the project's reports relative to the tab's cursors and
// renders it with the project's columns. q filters the fetched page only.
// GET /api/v1/reports/projects/:id/page?direction=first|next|previous&member=&field=&value=&q=
func (h *ReportHandlers) GetPageHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		dir, err := reports.ParseDirection(c.Query("direction"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "direction must be first, next or previous"})
			return
		}

		req, ok := h.resolveTab(c)
		if !ok {
			return
		}

		if !req.project.Configured() {
			c.JSON(http.StatusOK, PageResponse{
				Table: reports.BuildTable(req.project, &reports.Page{PageNumber: 1}, h.formatter),
			})
			return
		}

		engine := h.switcher.Engine(middleware.SessionID(c), req.project, req.scope)
		page, err := engine.Fetch(c.Request.Context(), dir, req.filter)
		switch {
		case errors.Is(err, reports.ErrNoNextPage):
			c.JSON(http.StatusConflict, gin.H{"error": "There is no next page"})
			return
		case errors.Is(err, reports.ErrNoPreviousPage):
			c.JSON(http.StatusConflict, gin.H{"error": "There is no previous page"})
			return
		case errors.Is(err, reports.ErrStale):
			c.JSON(http.StatusConflict, gin.H{"error": "A newer request for this tab superseded this one"})
			return
		case err != nil:
			slog.Error("failed to fetch report page", "project_id", req.project.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load reports"})
			return
		}

		search := strings.TrimSpace(c.Query("q"))
		resp := PageResponse{
			Table:  reports.BuildTable(req.project, page, h.formatter).Search(search),
			Reset:  page.Reset,
			Member: req.member,
			Filter: req.filter,
			Search: search,
		}
		if page.Err != nil {
			resp.Error = "Failed to load reports; try again"
		}
		c.JSON(http.StatusOK, resp)
	}
}

// CountHandler returns the total number of visible reports and the resulting page count
// GET /api/v1/reports/projects/:id/count?member=&field=&value=
func (h *ReportHandlers) CountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		req, ok := h.resolveTab(c)
		if !ok {
			return
		}

		engine := h.switcher.Engine(middleware.SessionID(c), req.project, req.scope)
		total, err := engine.Count(c.Request.Context(), req.filter)
		if err != nil {
			slog.Error("failed to count reports", "project_id", req.project.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count reports"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"total":     total,
			"pages":     (total + reports.PageSize - 1) / reports.PageSize,
			"page_size": reports.PageSize,
		})
	}
}

// SummaryHandler returns the caller's commission summary for the project
// GET /api/v1/reports/projects/:id/summary?member=
func (h *ReportHandlers) SummaryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		req, ok := h.resolveTab(c)
		if !ok {
			return
		}

		role := req.user.Role
		if req.member != nil {
			role = req.member.Role
		}

		engine := h.switcher.Engine(middleware.SessionID(c), req.project, req.scope)
		summary, err := reports.Summarize(c.Request.Context(), engine, req.project, role)
		if err != nil {
			slog.Error("failed to summarize reports", "project_id", req.project.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to summarize reports"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"summary": summary})
	}
}

// CloseTabHandler drops the tab's cursors; the next page request starts from page 1
// DELETE /api/v1/reports/projects/:id/tab
func (h *ReportHandlers) CloseTabHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := h.switcher.Close(c.Request.Context(), middleware.SessionID(c), c.Param("id")); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to close tab"})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// GetRecordHandler returns every field of one report. Reports outside the caller's scope are
// reported as missing.
// GET /api/v1/reports/records/:id
func (h *ReportHandlers) GetRecordHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		user, ok := middleware.CurrentUser(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}

		report, err := h.reportRepo.GetReport(ctx, c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve report"})
			return
		}
		if report == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Report not found"})
			return
		}

		scope, err := h.resolver.Resolve(ctx, user)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to resolve report scope"})
			return
		}
		if !scope.Contains(report.SalesCode) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Report not found"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"record": reports.BuildDetail(report, h.formatter)})
	}
}

// ExportHandler writes every visible report of the project (after member and field filters)
// to CSV in export storage and returns a time-limited download link.
// POST /api/v1/reports/projects/:id/export?member=&field=&value=
func (h *ReportHandlers) ExportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.exporter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Report export is not configured"})
			return
		}

		req, ok := h.resolveTab(c)
		if !ok {
			return
		}

		engine := h.switcher.Engine(middleware.SessionID(c), req.project, req.scope)
		result, err := h.exporter.Export(c.Request.Context(), export.Request{
			UserID:  req.user.ID,
			Project: req.project,
			Source:  engine,
			Filter:  req.filter,
		})
		if errors.Is(err, reports.ErrNotConfigured) {
			c.JSON(http.StatusConflict, gin.H{"error": reports.NotConfiguredMessage})
			return
		}
		if err != nil {
			slog.Error("report export failed", "project_id", req.project.ID, "user_id", req.user.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to export reports"})
			return
		}

		middleware.AddAuditMetadata(c, "rows", result.Rows)
		middleware.AddAuditMetadata(c, "path", result.Path)
		if req.filter != nil {
			middleware.AddAuditMetadata(c, "filter_field", req.filter.Field)
		}
		c.JSON(http.StatusCreated, gin.H{"export": result})
	}
}

// DownloadExportHandler streams an export written by the local storage backend. Only the user
// who created it, or an admin, may download it.
// GET /api/v1/reports/exports/*path
func (h *ReportHandlers) DownloadExportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.exports == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Report export is not configured"})
			return
		}
		user, ok := middleware.CurrentUser(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}

		objectPath := strings.TrimPrefix(c.Param("path"), "/")
		if user.Role != models.RoleAdmin && !export.OwnedBy(objectPath, user.ID) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Export not found"})
			return
		}

		rc, err := h.exports.Download(c.Request.Context(), objectPath)
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Export not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read export"})
			return
		}
		defer rc.Close()

		c.Header("Content-Type", "text/csv; charset=utf-8")
		c.Header("Content-Disposition", `attachment; filename="`+path.Base(objectPath)+`"`)
		c.Status(http.StatusOK)
		if _, err := io.Copy(c.Writer, rc); err != nil {
			slog.Warn("export download interrupted", "path", objectPath, "error", err)
		}
	}
}
