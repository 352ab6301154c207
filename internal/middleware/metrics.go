package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sales-dashboard/sales-dashboard/internal/telemetry"
)

// noRouteLabel is the path label of requests that matched no route
const noRouteLabel = "<no-route>"

// MetricsMiddleware records http_requests_total and http_request_duration_seconds for every
// request. The path label is the matched route template (c.FullPath()), so
// /api/v1/reports/projects/:id/page is one series regardless of project id.
//
// Register after gin.Recovery() so statuses written by the recovery handler are counted.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = noRouteLabel
		}
		method := c.Request.Method

		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
