package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	serviceName       = "echo-agent"
	serviceVersion    = "1.0.0"
	websocketEndpoint = "/ws/agent/{user_id}"
)

// Pinger is anything with a reachability check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// AIInfo describes the configured reasoning provider.
type AIInfo interface {
	Enabled() bool
	ProviderName() string
}

// AgentCounter reports how many agents are live.
type AgentCounter interface {
	Count() int
}

// HealthConfig wires a HealthHandler.
type HealthConfig struct {
	DB       Pinger
	Registry Pinger // nil when running against the simulated backend
	AI       AIInfo
	Agents   AgentCounter
	Gatherer prometheus.Gatherer
	Timeout  time.Duration
}

// HealthHandler handles the root, health check and metrics endpoints.
type HealthHandler struct {
	cfg HealthConfig
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(cfg HealthConfig) *HealthHandler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &HealthHandler{cfg: cfg}
}

// Info describes the API.
func (h *HealthHandler) Info(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]string{
		"message":            "Echo Agent API",
		"status":             "running",
		"websocket_endpoint": websocketEndpoint,
	})
}

// Health returns the health status of the API and its dependencies. A
// database failure makes the service unavailable; an unreachable registry
// only degrades it.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.Timeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := "healthy"
	statusCode := http.StatusOK

	if err := h.cfg.DB.Ping(ctx); err != nil {
		slog.Error("Health check failed", "check", "database", "error", err)
		checks["database"] = "unreachable"
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	switch {
	case h.cfg.Registry == nil:
		checks["registry"] = "simulated"
	case h.cfg.Registry.Ping(ctx) != nil:
		slog.Warn("Health check failed", "check", "registry")
		checks["registry"] = "unreachable"
		status = "degraded"
	default:
		checks["registry"] = "ok"
	}

	aiProvider := "none"
	if h.cfg.AI != nil && h.cfg.AI.Enabled() {
		aiProvider = h.cfg.AI.ProviderName()
	}
	active := 0
	if h.cfg.Agents != nil {
		active = h.cfg.Agents.Count()
	}

	JSON(w, statusCode, map[string]any{
		"status":             status,
		"service":            serviceName,
		"version":            serviceVersion,
		"timestamp":          time.Now().UTC(),
		"checks":             checks,
		"ai_provider":        aiProvider,
		"active_user_agents": active,
		"websocket_endpoint": websocketEndpoint,
	})
}

// RegisterRoutes registers the public routes.
func (h *HealthHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.Info)
	r.Get("/health", h.Health)
	if h.cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.cfg.Gatherer, promhttp.HandlerOpts{}))
	}
}
