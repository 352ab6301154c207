// Package telemetry provides application-level observability for the sales dashboard.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are served on the
// side-channel HTTP server started by main.go:
//
//	GET http://<host>:<SDB_TELEMETRY_METRICS_PORT>/metrics
//
// Default port: 9090. The endpoint is not served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Report page fetches by direction and outcome, store failures, superseded fetches
//   - Report exports by storage backend and outcome, expired exports removed
//   - Cursor state and database connection pool gauges
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /api/v1/reports/projects/:id/page)
// rather than the raw request URL. Report metrics never carry project or user identifiers.
package telemetry

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, labelled by method, route template and status code.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Report paging metrics, recorded by the page engine.
//
// ReportPageFetchesTotal has labels {direction, outcome}; outcome is one of
// ok, empty_scope, refused, stale, store_error.
//
// Example PromQL queries:
//   - Store failure ratio:  sum(rate(report_page_fetches_total{outcome="store_error"}[5m])) / sum(rate(report_page_fetches_total[5m]))
//   - Superseded fetches:   rate(report_page_fetches_total{outcome="stale"}[5m])
var (
	ReportPageFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "report_page_fetches_total",
			Help: "Total number of report page fetches, by direction and outcome.",
		},
		[]string{"direction", "outcome"},
	)

	ReportFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "report_fetch_duration_seconds",
			Help:    "Latency of report store page queries, by direction.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"direction"},
	)

	ReportStoreErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "report_store_errors_total",
			Help: "Total number of failed report store queries (page and count).",
		},
	)
)

// ReportExportsTotal counts CSV exports by storage backend and outcome (ok, error).
var ReportExportsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "report_exports_total",
		Help: "Total number of report CSV exports, by storage backend and outcome.",
	},
	[]string{"backend", "outcome"},
)

// ReportExportsExpiredTotal counts export objects removed by the retention job.
var ReportExportsExpiredTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "report_exports_expired_total",
		Help: "Total number of stored report exports deleted after the retention window.",
	},
)

// CursorTabsTracked is the number of tabs with cursor state held in process. Only the memory
// cursor backend reports it.
var CursorTabsTracked = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "cursor_tabs_tracked",
		Help: "Current number of report tabs with in-process cursor state.",
	},
)

// DBOpenConnections tracks the number of open connections held by the pool. It is sampled
// every 30 seconds by StartDBStatsCollector.
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector samples pool statistics every 30 seconds until ctx is done or the
// database becomes unreachable.
func StartDBStatsCollector(ctx context.Context, db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			if err := db.PingContext(ctx); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}()
}
