// Echo - multi-tenant command dispatch agent server
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

	"github.com/echolabs/echo-agent/internal/api"
	"github.com/echolabs/echo-agent/internal/app"
	"github.com/echolabs/echo-agent/internal/chat"
	"github.com/echolabs/echo-agent/internal/config"
	"github.com/echolabs/echo-agent/internal/identity"
	"github.com/echolabs/echo-agent/internal/logging"
	"github.com/echolabs/echo-agent/internal/middleware"
)

const idleSweepInterval = time.Minute

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger, logCloser, err := logging.New(cfg.Log, os.Stdout)
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "agent", cfg.AgentName)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := app.New(ctx, cfg, logger)
	if err != nil {
		slog.Error("Failed to initialize runtime", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := rt.Close(); closeErr != nil {
			slog.Error("Failed to close runtime", "error", closeErr)
		}
	}()

	if err := rt.Store.Ping(ctx); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	// Initialize handlers.
	sessions := chat.NewSessionManager()
	baseHandler := api.NewHandler(rt.Manager, sessions, logger)
	agentHandler := api.NewAgentHandler(baseHandler, rt.Store).WithPrompter(rt.Reasoner)
	serviceHandler := api.NewServiceHandler(baseHandler, rt.Store)
	healthHandler := api.NewHealthHandler(api.HealthConfig{
		DB:       rt.Store,
		Registry: rt.RegistryPinger(),
		AI:       rt.Reasoner,
		Agents:   rt.Manager,
		Gatherer: rt.Registry,
		Timeout:  cfg.Timeout.HealthCheck,
	})
	wsHandler := chat.NewHandler(rt.Manager, rt.Store, sessions, cfg.AllowedOrigins, cfg.AgentName, logger)
	limiter := middleware.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Public routes.
	healthHandler.RegisterRoutes(r)

	// WebSocket endpoint. Identity comes from the path.
	r.Get("/ws/agent/{userID}", wsHandler.ServeHTTP)

	// REST routes resolve identity from the trusted header or the anonymous
	// cookie.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(rt.Store, identity.Options{
			IsDev:           cfg.IsDevelopment(),
			TrustUserHeader: cfg.TrustUserHeader,
		}))
		r.Use(limiter.Middleware)
		agentHandler.RegisterRoutes(r)
		serviceHandler.RegisterRoutes(r)
	})

	// Create server. WebSocket connections are long-lived, so there is no
	// write timeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Start background workers.
	rt.Manager.StartIdleSweeper(ctx, cfg.SessionTTL, idleSweepInterval)
	limiter.StartEviction(ctx.Done())
	app.StartRetentionWorker(ctx, rt.Store, cfg.Agent.HistoryRetention, logger)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeout.Shutdown)
	defer cancel()

	sessions.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		return
	}

	slog.Info("Server stopped successfully")
}
