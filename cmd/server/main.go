// Package main is the entry point for the sales dashboard server binary.
// It dispatches three subcommands (serve, migrate and version) via a switch on os.Args.
// serve runs migrations on startup so a fresh container needs no separate migration step.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof" // #nosec G108 -- served only on the internal profiling port, never on the API listener
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/sales-dashboard/sales-dashboard/internal/api"
	"github.com/sales-dashboard/sales-dashboard/internal/auth"
	"github.com/sales-dashboard/sales-dashboard/internal/config"
	"github.com/sales-dashboard/sales-dashboard/internal/db"
	"github.com/sales-dashboard/sales-dashboard/internal/db/models"
	"github.com/sales-dashboard/sales-dashboard/internal/db/repositories"
	"github.com/sales-dashboard/sales-dashboard/internal/safego"
	"github.com/sales-dashboard/sales-dashboard/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	if command == "version" {
		fmt.Printf("Sales Dashboard v%s\n", api.Version)
		return nil
	}

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	switch command {
	case "serve":
		return serve(cfg)
	case "migrate":
		if len(os.Args) < 3 {
			return fmt.Errorf("usage: %s migrate <up|down>", os.Args[0])
		}
		return runMigrations(cfg, os.Args[2])
	default:
		return fmt.Errorf("unknown command: %s\nAvailable commands: serve, migrate, version", command)
	}
}

func connect(ctx context.Context, cfg *config.Config) (*sqlx.DB, error) {
	database, err := db.Connect(ctx, cfg.Database.GetDSN(), db.PoolOptions{
		MaxOpen:         cfg.Database.MaxConnections,
		MaxIdle:         cfg.Database.MinIdleConnections,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("connected to database",
		"host", cfg.Database.Host, "port", cfg.Database.Port,
		"name", cfg.Database.Name, "sslmode", cfg.Database.SSLMode)
	return database, nil
}

func serve(cfg *config.Config) error {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := auth.ValidateJWTSecret(); err != nil {
		return fmt.Errorf("security configuration error: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	telemetry.StartDBStatsCollector(ctx, database.DB)

	if err := db.RunMigrations(database, "up"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if v, dirty, err := db.MigrationVersion(database); err != nil {
		slog.Warn("failed to read migration version", "error", err)
	} else {
		slog.Info("database schema ready", "version", v, "dirty", dirty)
	}

	if err := bootstrapAdmin(ctx, repositories.NewUserRepository(database)); err != nil {
		slog.Warn("admin bootstrap failed", "error", err)
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		slog.Info("connected to redis", "addr", cfg.Redis.Address)
	}

	// Metrics and pprof get their own ports so neither is reachable through the API ingress.
	if cfg.Telemetry.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		startSideServer("metrics", fmt.Sprintf(":%d", cfg.Telemetry.Metrics.PrometheusPort), mux, 10*time.Second)
	}
	if cfg.Telemetry.Profiling.Enabled {
		startSideServer("pprof", fmt.Sprintf(":%d", cfg.Telemetry.Profiling.Port), http.DefaultServeMux, 30*time.Second)
	}

	router, bgServices, err := api.NewRouter(cfg, database, rdb)
	if err != nil {
		return fmt.Errorf("failed to build router: %w", err)
	}

	server := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	safego.Go(func() {
		slog.Info("starting server",
			"addr", cfg.Server.GetAddress(),
			"base_url", cfg.Server.BaseURL,
			"export_backend", cfg.Storage.DefaultBackend,
			"cursor_backend", cfg.Reports.CursorBackend,
			"tls", cfg.Security.TLS.Enabled)

		var err error
		if cfg.Security.TLS.Enabled {
			err = server.ListenAndServeTLS(cfg.Security.TLS.CertFile, cfg.Security.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	})

	select {
	case err := <-serverErr:
		bgServices.Shutdown()
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	bgServices.Shutdown()

	slog.Info("server stopped")
	return nil
}

func startSideServer(name, addr string, handler http.Handler, timeout time.Duration) {
	safego.Go(func() {
		slog.Info("starting side server", "name", name, "addr", addr)
		srv := &http.Server{ //nolint:gosec // internal-only port
			Addr:         addr,
			Handler:      handler,
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
		}
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("side server error", "name", name, "error", err)
		}
	})
}

// bootstrapAdmin creates the first admin from SDB_BOOTSTRAP_ADMIN_EMAIL and
// SDB_BOOTSTRAP_ADMIN_PASSWORD. It does nothing once any admin exists, so the
// variables can stay set across restarts.
func bootstrapAdmin(ctx context.Context, users *repositories.UserRepository) error {
	email := os.Getenv("SDB_BOOTSTRAP_ADMIN_EMAIL")
	password := os.Getenv("SDB_BOOTSTRAP_ADMIN_PASSWORD")
	if email == "" || password == "" {
		return nil
	}

	counts, err := users.CountUsers(ctx)
	if err != nil {
		return fmt.Errorf("failed to count users: %w", err)
	}
	if counts[models.RoleAdmin] > 0 {
		return nil
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	name := os.Getenv("SDB_BOOTSTRAP_ADMIN_NAME")
	if name == "" {
		name = "Administrator"
	}
	admin := &models.User{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         models.RoleAdmin,
		Status:       models.UserStatusActive,
	}
	if err := admin.Validate(); err != nil {
		return err
	}
	if err := users.CreateUser(ctx, admin); err != nil {
		return fmt.Errorf("failed to create admin: %w", err)
	}

	slog.Info("bootstrap admin created", "email", email, "user_id", admin.ID)
	return nil
}

func runMigrations(cfg *config.Config, direction string) error {
	ctx := context.Background()
	database, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	slog.Info("running migrations", "direction", direction)
	if err := db.RunMigrations(database, direction); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	v, dirty, err := db.MigrationVersion(database)
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}
	slog.Info("migration completed", "version", v, "dirty", dirty)
	return nil
}
