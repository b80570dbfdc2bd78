package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker reports whether the agent backend can serve requests.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	warehouse Pinger
	agents    HealthChecker
	timeout   time.Duration
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(warehouse Pinger, agents HealthChecker, timeout time.Duration) *HealthHandler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthHandler{warehouse: warehouse, agents: agents, timeout: timeout}
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]any{"status": "healthy", "checks": checks}
	statusCode := http.StatusOK

	degrade := func(name string, err error) {
		slog.Error("Health check failed", "dependency", name, "error", err)
		status["status"] = "degraded"
		checks[name] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	}

	if err := h.warehouse.Ping(ctx); err != nil {
		degrade("warehouse", err)
	} else {
		checks["warehouse"] = "ok"
	}

	if err := h.agents.Health(ctx); err != nil {
		degrade("agents", err)
	} else {
		checks["agents"] = "ok"
	}

	JSON(w, statusCode, status)
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}
