package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"portfolio-analytics/pkg/logger"
)

// Pinger is a backing service whose health is reported
type Pinger interface {
	Health(ctx context.Context) error
}

// HealthHandler handles health check requests
type HealthHandler struct {
	checks  map[string]Pinger
	version string
	logger  *logger.Logger
}

// NewHealthHandler creates a new health handler. Nil checks are skipped.
func NewHealthHandler(checks map[string]Pinger, version string, log *logger.Logger) *HealthHandler {
	active := make(map[string]Pinger, len(checks))
	for name, c := range checks {
		if c != nil {
			active[name] = c
		}
	}
	return &HealthHandler{
		checks:  active,
		version: version,
		logger:  log,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Service   string            `json:"service"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// Check handles GET /health. The service stays up when optional backends fail,
// so a failing check degrades the status without changing the HTTP code.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   h.version,
		Service:   "portfolio-analytics",
	}

	if len(h.checks) > 0 {
		response.Checks = make(map[string]string, len(h.checks))
		for name, c := range h.checks {
			if err := c.Health(ctx); err != nil {
				h.logger.WithError(err).WithField("check", name).Warn("Health check failed")
				response.Checks[name] = "unhealthy"
				response.Status = "degraded"
				continue
			}
			response.Checks[name] = "healthy"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.WithError(err).Error("Failed to encode health check response")
	}
}
