// Package api wires together all HTTP routes for the sales dashboard backend.
//
// Route grouping:
//   - /health, /ready and /version are public probes.
//   - /api/v1/auth/register, /api/v1/auth/login and the /api/v1/auth/oidc/* single sign-on
//     endpoints are public and rate limited per client IP.
//   - Everything else under /api/v1 requires a session token and the permission scope of the
//     route. Report routes additionally filter every query by the caller's sales-code scope.
package api

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/sales-dashboard/sales-dashboard/internal/api/admin"
	"github.com/sales-dashboard/sales-dashboard/internal/api/reporting"
	"github.com/sales-dashboard/sales-dashboard/internal/audit"
	"github.com/sales-dashboard/sales-dashboard/internal/auth"
	"github.com/sales-dashboard/sales-dashboard/internal/auth/oidc"
	"github.com/sales-dashboard/sales-dashboard/internal/config"
	"github.com/sales-dashboard/sales-dashboard/internal/db/repositories"
	"github.com/sales-dashboard/sales-dashboard/internal/export"
	"github.com/sales-dashboard/sales-dashboard/internal/jobs"
	"github.com/sales-dashboard/sales-dashboard/internal/middleware"
	"github.com/sales-dashboard/sales-dashboard/internal/reports"
	"github.com/sales-dashboard/sales-dashboard/internal/safego"
	"github.com/sales-dashboard/sales-dashboard/internal/storage"
	"github.com/sales-dashboard/sales-dashboard/internal/telemetry"

	// Import storage backends to register them
	_ "github.com/sales-dashboard/sales-dashboard/internal/storage/azure"
	_ "github.com/sales-dashboard/sales-dashboard/internal/storage/gcs"
	_ "github.com/sales-dashboard/sales-dashboard/internal/storage/local"
	_ "github.com/sales-dashboard/sales-dashboard/internal/storage/s3"
)

// Version is reported by /version
const Version = "0.1.0"

// BackgroundServices holds the goroutines started by NewRouter. The caller (cmd/server) calls
// Shutdown after the HTTP server has drained.
type BackgroundServices struct {
	rateLimiters  []*middleware.RateLimiter
	stopSweep     context.CancelFunc
	auditShipper  *audit.MultiShipper
	exportCleaner *jobs.ExportCleaner
}

// Shutdown stops all background goroutines
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.stopSweep != nil {
		bg.stopSweep()
	}
	if bg.exportCleaner != nil {
		bg.exportCleaner.Stop()
	}
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	if bg.auditShipper != nil {
		if err := bg.auditShipper.Close(); err != nil {
			slog.Warn("failed to close audit shippers", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// limiterFactory builds the limiter of one route class. With Redis every instance shares the
// budget; otherwise each process keeps its own buckets.
type limiterFactory struct {
	rdb   *redis.Client
	owned []*middleware.RateLimiter
}

func (f *limiterFactory) build(name string, cfg middleware.RateLimitConfig) middleware.Limiter {
	if f.rdb != nil {
		return middleware.NewRedisRateLimiter(f.rdb, name, cfg)
	}
	rl := middleware.NewRateLimiter(cfg)
	f.owned = append(f.owned, rl)
	return rl
}

// newCursorStore picks the tab cursor backend. The memory backend gets a sweep loop that drops
// idle tabs and publishes the tracked tab count.
func newCursorStore(cfg *config.Config, rdb *redis.Client, bg *BackgroundServices) reports.CursorStore {
	if cfg.Reports.CursorBackend == "redis" {
		if rdb != nil {
			slog.Info("report cursors stored in redis", "ttl", cfg.Reports.CursorTTL)
			return reports.NewRedisCursorStore(rdb, cfg.Reports.CursorTTL)
		}
		slog.Warn("cursor backend redis requested without a redis address; using memory")
	}

	store := reports.NewMemoryCursorStore(cfg.Reports.CursorTTL)
	interval := cfg.Reports.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	bg.stopSweep = cancel
	safego.Go(func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := store.Sweep(); n > 0 {
					slog.Debug("dropped idle report tabs", "count", n)
				}
				telemetry.CursorTabsTracked.Set(float64(store.Len()))
			}
		}
	})
	return store
}

// newFormatter builds the report formatter from the configured locale and timezone
func newFormatter(cfg *config.Config) (*reports.Formatter, error) {
	locale, err := reports.ParseLocale(cfg.Reports.Locale)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Reports.Location()
	if err != nil {
		return nil, fmt.Errorf("invalid reports.timezone: %w", err)
	}
	return reports.NewFormatter(locale, loc), nil
}

// NewRouter creates and configures the Gin router. rdb may be nil.
func NewRouter(cfg *config.Config, db *sqlx.DB, rdb *redis.Client) (*gin.Engine, *BackgroundServices, error) {
	router := gin.New()
	bg := &BackgroundServices{}

	formatter, err := newFormatter(cfg)
	if err != nil {
		return nil, nil, err
	}

	var sso *oidc.Provider
	if cfg.Auth.OIDC.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		sso, err = oidc.NewProvider(ctx, &cfg.Auth.OIDC)
		cancel()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize OIDC provider: %w", err)
		}
		slog.Info("oidc single sign-on enabled", "issuer", cfg.Auth.OIDC.IssuerURL)
	}

	shipper, err := audit.NewMultiShipper(&cfg.Audit)
	if err != nil {
		return nil, nil, err
	}

	// Export storage is optional; without it the export endpoints answer 503
	var exportStore storage.Storage
	var exporter *export.Exporter
	if cfg.Storage.DefaultBackend != "" {
		exportStore, err = storage.NewStorage(cfg)
		if err != nil {
			_ = shipper.Close()
			return nil, nil, fmt.Errorf("failed to initialize export storage: %w", err)
		}
		exporter = export.NewExporter(exportStore, cfg.Storage.DefaultBackend, formatter, cfg.Storage.URLTTL, cfg.Reports.ExportMaxRows)
		slog.Info("export storage initialized", "backend", cfg.Storage.DefaultBackend)

		if cfg.Storage.Retention > 0 {
			cleaner := jobs.NewExportCleaner(exportStore, cfg.Storage.Retention, cfg.Storage.CleanupInterval)
			safego.Go(func() { cleaner.Start(context.Background()) })
			bg.exportCleaner = cleaner
		}
	}

	cursors := newCursorStore(cfg, rdb, bg)

	userRepo := repositories.NewUserRepository(db)

	var auditShipper audit.Shipper
	if shipper.Len() > 0 {
		auditShipper = shipper
		bg.auditShipper = shipper
		slog.Info("audit shipping enabled", "destinations", shipper.Len())
	}
	auditWriter := audit.NewRecorder(repositories.NewAuditRepository(db), auditShipper)

	reportHandlers := reporting.NewReportHandlers(db, cursors, formatter, exporter, exportStore)
	authHandlers := admin.NewAuthHandlers(cfg, db, reportHandlers.Switcher())
	if sso != nil {
		authHandlers.WithSSO(sso)
	}
	userHandlers := admin.NewUserHandlers(cfg, db)
	projectHandlers := admin.NewProjectHandlers(cfg, db)
	auditHandlers := admin.NewAuditHandlers(db)
	statsHandlers := admin.NewStatsHandler(db)

	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware(middleware.SecurityHeadersFromConfig(cfg)))
	router.Use(CORSMiddleware(cfg))

	router.GET("/health", healthCheckHandler(db.DB))
	router.GET("/ready", readinessHandler(db.DB, exportStore))
	router.GET("/version", versionHandler())

	limiters := &limiterFactory{rdb: rdb}
	passthrough := func(c *gin.Context) { c.Next() }
	authLimit, generalLimit, exportLimit := gin.HandlerFunc(passthrough), gin.HandlerFunc(passthrough), gin.HandlerFunc(passthrough)
	if cfg.Security.RateLimiting.Enabled {
		general := middleware.DefaultRateLimitConfig()
		if cfg.Security.RateLimiting.RequestsPerMinute > 0 {
			general.RequestsPerMinute = cfg.Security.RateLimiting.RequestsPerMinute
		}
		if cfg.Security.RateLimiting.Burst > 0 {
			general.BurstSize = cfg.Security.RateLimiting.Burst
		}
		authLimit = middleware.RateLimitMiddleware(limiters.build("auth", middleware.AuthRateLimitConfig()))
		generalLimit = middleware.RateLimitMiddleware(limiters.build("general", general))
		exportLimit = middleware.RateLimitMiddleware(limiters.build("export", middleware.ExportRateLimitConfig()))
	}
	bg.rateLimiters = limiters.owned

	apiV1 := router.Group("/api/v1")
	{
		// Public authentication endpoints
		authGroup := apiV1.Group("/auth")
		authGroup.Use(authLimit)
		{
			authGroup.POST("/register", authHandlers.RegisterHandler())
			authGroup.POST("/login", authHandlers.LoginHandler())
			authGroup.GET("/oidc/login", authHandlers.OIDCLoginHandler())
			authGroup.GET("/oidc/callback", authHandlers.OIDCCallbackHandler())
		}

		authenticated := apiV1.Group("")
		authenticated.Use(middleware.AuthMiddleware(userRepo))
		authenticated.Use(generalLimit)
		authenticated.Use(middleware.AuditMiddleware(auditWriter, &cfg.Audit))
		{
			authenticated.GET("/auth/me", authHandlers.MeHandler())
			authenticated.POST("/auth/logout", authHandlers.LogoutHandler())

			usersRead := authenticated.Group("/users")
			usersRead.Use(middleware.RequireScope(auth.ScopeUsersRead))
			{
				usersRead.GET("", userHandlers.ListUsersHandler())
				usersRead.GET("/pending", userHandlers.ListPendingUsersHandler())
				usersRead.GET("/:id", userHandlers.GetUserHandler())
			}

			usersWrite := authenticated.Group("/users")
			usersWrite.Use(middleware.RequireScope(auth.ScopeUsersWrite))
			{
				usersWrite.POST("", userHandlers.CreateUserHandler())
				usersWrite.PUT("/:id", userHandlers.UpdateUserHandler())
				usersWrite.DELETE("/:id", userHandlers.DeleteUserHandler())
				usersWrite.POST("/:id/approve", userHandlers.ApproveUserHandler())
				usersWrite.POST("/:id/reject", userHandlers.RejectUserHandler())
			}

			authenticated.GET("/team", middleware.RequireAnyScope(auth.ScopeTeamRead, auth.ScopeUsersRead), userHandlers.ListTeamHandler())

			projects := authenticated.Group("/projects")
			{
				projects.GET("", middleware.RequireScope(auth.ScopeProjectsRead), projectHandlers.ListProjectsHandler())
				projects.GET("/:id", middleware.RequireScope(auth.ScopeProjectsRead), projectHandlers.GetProjectHandler())
				projects.POST("", middleware.RequireScope(auth.ScopeProjectsWrite), projectHandlers.CreateProjectHandler())
				projects.PUT("/:id", middleware.RequireScope(auth.ScopeProjectsWrite), projectHandlers.UpdateProjectHandler())
				projects.DELETE("/:id", middleware.RequireScope(auth.ScopeProjectsWrite), projectHandlers.DeleteProjectHandler())
			}

			reportsGroup := authenticated.Group("/reports")
			reportsGroup.Use(middleware.RequireScope(auth.ScopeReportsRead))
			{
				reportsGroup.GET("/tabs", reportHandlers.ListTabsHandler())
				reportsGroup.GET("/projects/:id/page", reportHandlers.GetPageHandler())
				reportsGroup.GET("/projects/:id/count", reportHandlers.CountHandler())
				reportsGroup.GET("/projects/:id/summary", reportHandlers.SummaryHandler())
				reportsGroup.DELETE("/projects/:id/tab", reportHandlers.CloseTabHandler())
				reportsGroup.GET("/records/:id", reportHandlers.GetRecordHandler())
				reportsGroup.POST("/projects/:id/export",
					exportLimit,
					middleware.RequireScope(auth.ScopeReportsExport),
					reportHandlers.ExportHandler())
				// Download links of the local backend point here
				reportsGroup.GET("/exports/*path",
					middleware.RequireScope(auth.ScopeReportsExport),
					reportHandlers.DownloadExportHandler())
			}

			authenticated.GET("/audit-logs", middleware.RequireScope(auth.ScopeAuditRead), auditHandlers.ListAuditLogsHandler())
			authenticated.GET("/admin/stats", middleware.RequireScope(auth.ScopeAdmin), statsHandlers.GetDashboardStats)
		}
	}

	return router, bg, nil
}

// healthCheckHandler returns the liveness status of the service
// GET /health
func healthCheckHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// readinessHandler returns the readiness status of the service. Unlike /health it also probes
// the export storage backend when one is configured.
// GET /ready
func readinessHandler(db *sql.DB, exportStore storage.Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		if err := db.PingContext(c.Request.Context()); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		if exportStore != nil {
			// A known-absent path exercises credentials and connectivity without creating state
			if _, err := exportStore.Exists(c.Request.Context(), ".readiness-probe"); err != nil {
				checks["storage"] = "unhealthy"
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"ready":  false,
					"checks": checks,
					"error":  "storage backend not ready",
				})
				return
			}
			checks["storage"] = "healthy"
		}

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// versionHandler returns the API version
// GET /version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     Version,
			"api_version": "v1",
			"page_size":   reports.PageSize,
		})
	}
}

// LoggerMiddleware emits one structured record per request. The slog handler installed by
// telemetry.SetupLogger decides between JSON and text output.
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logRequest(c, level, time.Since(start), path, query)
	}
}

func logRequest(c *gin.Context, level slog.Level, latency time.Duration, path, query string) {
	requestID, _ := c.Get(middleware.RequestIDKey)
	slog.LogAttrs(
		c.Request.Context(),
		level,
		"http request",
		slog.String("method", c.Request.Method),
		slog.String("path", path),
		slog.String("query", query),
		slog.Int("status", c.Writer.Status()),
		slog.Int("size", c.Writer.Size()),
		slog.Duration("latency", latency),
		slog.String("ip", c.ClientIP()),
		slog.String("request_id", fmt.Sprintf("%v", requestID)),
		slog.String("user_id", c.GetString(middleware.ContextUserID)),
		slog.String("user_agent", c.Request.UserAgent()),
	)
}

// CORSMiddleware handles CORS
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	methods := "GET, POST, PUT, DELETE, OPTIONS"
	if len(cfg.Security.CORS.AllowedMethods) > 0 {
		methods = strings.Join(cfg.Security.CORS.AllowedMethods, ", ")
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
			}
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", methods)
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
