// audit.go implements the read-only audit log listing for administrators.
package admin

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/sales-dashboard/sales-dashboard/internal/db/repositories"
)

// AuditHandlers handles audit log endpoints
type AuditHandlers struct {
	auditRepo *repositories.AuditRepository
}

// NewAuditHandlers creates a new AuditHandlers instance
func NewAuditHandlers(db *sqlx.DB) *AuditHandlers {
	return &AuditHandlers{auditRepo: repositories.NewAuditRepository(db)}
}

// ListAuditLogsHandler lists audit entries, newest first
// GET /api/v1/audit-logs?page=1&per_page=50&user_id=&role=&resource_type=&start_date=&end_date=
func (h *AuditHandlers) ListAuditLogsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "50"))
		if page < 1 {
			page = 1
		}
		if perPage < 1 || perPage > 200 {
			perPage = 50
		}

		var filters repositories.AuditFilters
		if v := c.Query("user_id"); v != "" {
			filters.UserID = &v
		}
		if v := c.Query("role"); v != "" {
			filters.Role = &v
		}
		if v := c.Query("action"); v != "" {
			filters.Action = &v
		}
		if v := c.Query("resource_type"); v != "" {
			filters.ResourceType = &v
		}
		for param, dst := range map[string]**time.Time{
			"start_date": &filters.StartDate,
			"end_date":   &filters.EndDate,
		} {
			v := c.Query(param)
			if v == "" {
				continue
			}
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": param + " must be an RFC3339 timestamp"})
				return
			}
			*dst = &t
		}

		logs, total, err := h.auditRepo.ListAuditLogs(c.Request.Context(), filters, perPage, (page-1)*perPage)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list audit logs"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"logs": logs,
			"pagination": gin.H{
				"page":     page,
				"per_page": perPage,
				"total":    total,
			},
		})
	}
}
