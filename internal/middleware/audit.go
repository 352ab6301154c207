// audit.go records authenticated mutations (user approvals, project edits, report exports)
// to the audit log table.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sales-dashboard/sales-dashboard/internal/config"
	"github.com/sales-dashboard/sales-dashboard/internal/db/models"
	"github.com/sales-dashboard/sales-dashboard/internal/safego"
)

// ContextAuditMetadata holds extra key/values a handler wants on its audit entry
const ContextAuditMetadata = "audit_metadata"

// AuditWriter persists audit entries
type AuditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// AddAuditMetadata attaches a key/value to the audit entry of the current request
func AddAuditMetadata(c *gin.Context, key string, value interface{}) {
	meta, _ := c.Get(ContextAuditMetadata)
	m, ok := meta.(map[string]interface{})
	if !ok {
		m = make(map[string]interface{})
		c.Set(ContextAuditMetadata, m)
	}
	m[key] = value
}

// resourceTypes maps route segments to audit resource types, most specific first
var resourceTypes = []struct{ segment, resource string }{
	{"/reports/", "report"},
	{"/users", "user"},
	{"/team", "user"},
	{"/projects", "project"},
	{"/auth/", "session"},
}

func resourceType(route string) string {
	for _, rt := range resourceTypes {
		if strings.Contains(route, rt.segment) {
			return rt.resource
		}
	}
	return ""
}

// AuditMiddleware writes one audit entry per request after the handler ran. By default only
// successful writes are recorded; cfg can add reads and failed requests. A nil writer or a
// disabled config makes it a no-op.
func AuditMiddleware(writer AuditWriter, cfg *config.AuditConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if writer == nil || (cfg != nil && !cfg.Enabled) {
			return
		}

		method := c.Request.Method
		if method == http.MethodOptions || method == http.MethodHead {
			return
		}

		isRead := method == http.MethodGet
		isFailed := c.Writer.Status() >= 400
		if isRead && (cfg == nil || !cfg.LogReadOperations) {
			return
		}
		if isFailed && (cfg == nil || !cfg.LogFailedRequests) {
			return
		}

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		entry := &models.AuditLog{
			Action:    method + " " + route,
			CreatedAt: time.Now(),
		}
		ip := c.ClientIP()
		entry.IPAddress = &ip

		if id := c.GetString(ContextUserID); id != "" {
			entry.UserID = &id
		}
		if role := c.GetString(ContextRole); role != "" {
			entry.Role = &role
		}
		if rt := resourceType(route); rt != "" {
			entry.ResourceType = &rt
		}
		if id := c.Param("id"); id != "" {
			entry.ResourceID = &id
		}

		metadata := map[string]interface{}{"status_code": c.Writer.Status()}
		if rid := c.GetString(RequestIDKey); rid != "" {
			metadata["request_id"] = rid
		}
		if extra, ok := c.Get(ContextAuditMetadata); ok {
			if m, ok := extra.(map[string]interface{}); ok {
				for k, v := range m {
					metadata[k] = v
				}
			}
		}
		entry.Metadata = metadata

		safego.Go(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := writer.CreateAuditLog(ctx, entry); err != nil {
				slog.Error("failed to write audit log", "action", entry.Action, "error", err)
			}
		})
	}
}
