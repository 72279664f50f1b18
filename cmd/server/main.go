// Movi - conversational transport operations server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/transitops/movi/internal/api"
	"github.com/transitops/movi/internal/audit"
	"github.com/transitops/movi/internal/capability"
	"github.com/transitops/movi/internal/checkpoint"
	"github.com/transitops/movi/internal/config"
	"github.com/transitops/movi/internal/fleet"
	"github.com/transitops/movi/internal/middleware"
	"github.com/transitops/movi/internal/orchestrator"
	"github.com/transitops/movi/internal/reasoning"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Fleet database.
	repo, err := fleet.Open(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close fleet repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	if cfg.SeedFleet {
		if err := repo.Seed(context.Background()); err != nil {
			slog.Error("Failed to seed fleet data", "error", err)
			os.Exit(1)
		}
	}

	// Checkpoint store.
	var checkpoints checkpoint.Store
	switch cfg.CheckpointBackend {
	case config.CheckpointBackendRedis:
		checkpoints = checkpoint.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB,
			checkpoint.WithTTL(cfg.ThreadTTL))
		slog.Info("Checkpoint store ready", "backend", "redis", "addr", cfg.RedisAddr)
	default:
		sqliteStore, err := checkpoint.NewSQLite(repo.DB())
		if err != nil {
			slog.Error("Failed to initialize checkpoint store", "error", err)
			os.Exit(1)
		}
		checkpoints = sqliteStore
		slog.Info("Checkpoint store ready", "backend", "sqlite")
	}
	defer func() {
		if closeErr := checkpoints.Close(); closeErr != nil {
			slog.Error("Failed to close checkpoint store", "error", closeErr)
		}
	}()

	// Capability registry over the fleet.
	registry := capability.NewRegistry()
	if err := capability.RegisterFleet(registry, repo); err != nil {
		slog.Error("Failed to register capabilities", "error", err)
		os.Exit(1)
	}
	slog.Info("Capability registry ready", "capabilities", len(registry.Definitions()))

	// Reasoning gateway.
	gateway, err := reasoning.NewOpenAI(reasoning.OpenAIConfig{
		APIKey:  cfg.Reasoning.APIKey,
		Model:   cfg.Reasoning.Model,
		BaseURL: cfg.Reasoning.BaseURL,
		Timeout: cfg.Reasoning.Timeout,
	}, nil)
	if err != nil {
		slog.Error("Failed to initialize reasoning gateway", "error", err)
		os.Exit(1)
	}

	// Turn audit log.
	auditor, err := audit.NewLogger(audit.Config{
		Enabled:   cfg.AuditLog.Enabled,
		Dir:       cfg.AuditLog.Dir,
		QueueSize: cfg.AuditLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize audit logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := auditor.Close(); closeErr != nil {
			slog.Error("Failed to close audit logger", "error", closeErr)
		}
	}()

	engine := orchestrator.NewEngine(gateway, registry, checkpoints, repo, auditor, logger,
		orchestrator.Options{MaxToolRounds: cfg.MaxToolRounds})

	handler := api.NewHandler(engine, repo)

	// Setup router.
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))

	corsOrigins := []string{"*"}
	if !cfg.IsDevelopment() {
		corsOrigins = []string{cfg.FrontendURL}
	}
	r.Use(middleware.CORS(corsOrigins))

	handler.RegisterRoutes(r)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // reasoning turns can be slow
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checkpoint.StartJanitor(ctx, checkpoints, cfg.ThreadTTL)

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
