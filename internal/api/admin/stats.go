// stats.go implements the admin overview: account, project and report totals.
package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
)

// StatsHandler handles stats-related API requests
type StatsHandler struct {
	db *sqlx.DB
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler(database *sqlx.DB) *StatsHandler {
	return &StatsHandler{
		db: database,
	}
}

// DashboardStats represents the response for dashboard statistics
type DashboardStats struct {
	Users     UserStats      `json:"users"`
	Projects  ProjectStats   `json:"projects"`
	Reports   ReportStats    `json:"reports"`
	ByProject []ProjectCount `json:"by_project"`
}

// UserStats counts accounts by role and lifecycle state
type UserStats struct {
	Total       int64 `json:"total"`
	Admins      int64 `json:"admins"`
	Supervisors int64 `json:"supervisors"`
	Sales       int64 `json:"sales"`
	Pending     int64 `json:"pending"`
}

// ProjectStats counts projects; Unconfigured have no report headers yet
type ProjectStats struct {
	Total        int64 `json:"total"`
	Active       int64 `json:"active"`
	Unconfigured int64 `json:"unconfigured"`
}

// ReportStats counts ingested reports
type ReportStats struct {
	Total    int64 `json:"total"`
	LastWeek int64 `json:"last_week"`
}

// ProjectCount is the report count of one project identifier
type ProjectCount struct {
	ProjectID string `json:"project_id"`
	Count     int64  `json:"count"`
}

// GetDashboardStats returns dashboard statistics using a single database round-trip for the
// totals plus an optional per-project breakdown.
// GET /api/v1/admin/stats
func (h *StatsHandler) GetDashboardStats(c *gin.Context) {
	ctx := c.Request.Context()

	query := `
		SELECT
			(SELECT COUNT(*) FROM users) AS user_count,
			(SELECT COUNT(*) FROM users WHERE role = 'admin') AS admin_count,
			(SELECT COUNT(*) FROM users WHERE role = 'supervisor') AS supervisor_count,
			(SELECT COUNT(*) FROM users WHERE role = 'sales') AS sales_count,
			(SELECT COUNT(*) FROM users WHERE status = 'pending_approval') AS pending_count,
			(SELECT COUNT(*) FROM projects) AS project_count,
			(SELECT COUNT(*) FROM projects WHERE status = 'active') AS active_project_count,
			(SELECT COUNT(*) FROM projects WHERE jsonb_array_length(report_headers) = 0) AS unconfigured_count,
			(SELECT COUNT(*) FROM reports) AS report_count,
			(SELECT COUNT(*) FROM reports WHERE created_at >= NOW() - INTERVAL '7 days') AS recent_report_count
	`

	var stats DashboardStats
	err := h.db.QueryRowContext(ctx, query).Scan(
		&stats.Users.Total,
		&stats.Users.Admins,
		&stats.Users.Supervisors,
		&stats.Users.Sales,
		&stats.Users.Pending,
		&stats.Projects.Total,
		&stats.Projects.Active,
		&stats.Projects.Unconfigured,
		&stats.Reports.Total,
		&stats.Reports.LastWeek,
	)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load dashboard statistics"})
		return
	}

	// Top projects by report volume; the overview still renders if this fails.
	stats.ByProject = []ProjectCount{}
	if rows, qerr := h.db.QueryContext(ctx, `
		SELECT project_id, COUNT(*) AS count
		FROM reports
		GROUP BY project_id
		ORDER BY count DESC
		LIMIT 8
	`); qerr == nil {
		defer rows.Close()
		for rows.Next() {
			var entry ProjectCount
			if scanErr := rows.Scan(&entry.ProjectID, &entry.Count); scanErr == nil {
				stats.ByProject = append(stats.ByProject, entry)
			}
		}
	}

	c.JSON(http.StatusOK, stats)
}
