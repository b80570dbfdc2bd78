// CityCast - traffic anomaly forecast server
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

	"github.com/ashureev/citycast/internal/api"
	"github.com/ashureev/citycast/internal/app"
	"github.com/ashureev/citycast/internal/config"
	"github.com/ashureev/citycast/internal/middleware"
	"github.com/ashureev/citycast/internal/session"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server",
		"port", cfg.Port,
		"app_name", cfg.AppName,
		"agent_backend", cfg.Agent.Backend,
		"warehouse", cfg.Warehouse.Driver,
		"lookback", cfg.Warehouse.Lookback,
		"session_policy", cfg.SessionPolicy,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	deps, err := app.New(ctx, cfg, logger)
	if err != nil {
		slog.Error("Failed to initialize application", "error", err)
		os.Exit(1)
	}
	defer deps.Close()

	startupCtx, cancelStartup := context.WithTimeout(ctx, cfg.Timeout.HealthCheck)
	if err := deps.Warehouse.Ping(startupCtx); err != nil {
		slog.Warn("Warehouse health check failed, continuing", "error", err)
	}
	cancelStartup()

	session.StartReaper(ctx, deps.Sessions, cfg.SessionTTL, logger)

	// Initialize handlers.
	queryHandler := api.NewQueryHandler(cfg.AppName, cfg.AllowedOrigins, deps.Sessions, deps.Pipeline, logger)
	healthHandler := api.NewHealthHandler(deps.Warehouse, deps.Backend, cfg.Timeout.HealthCheck)
	limiter := middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	limiter.StartSweeper(ctx, cfg.RateLimit.ClientTTL)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	if cfg.RateLimit.TrustProxy {
		r.Use(chiMiddleware.RealIP)
	}
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Public routes.
	healthHandler.RegisterHealth(r)

	// Query routes are rate limited per client.
	r.Group(func(r chi.Router) {
		r.Use(limiter.Middleware)
		queryHandler.RegisterRoutes(r)
	})

	// Create server.
	// A pipeline run chains several model calls, so there is no write timeout;
	// each agent invocation is bounded by AGENT_TIMEOUT instead.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       120 * time.Second,
	}

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			stop()
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		return
	}

	slog.Info("Server stopped successfully")
}
