package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"
)

// CheckFunc reports whether one dependency is reachable.
type CheckFunc func(ctx context.Context) error

type namedCheck struct {
	name string
	fn   CheckFunc
}

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	checks  []namedCheck
	timeout time.Duration
	logger  *slog.Logger
}

// NewHealthHandler creates a HealthHandler with the provided logger.
func NewHealthHandler(logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		timeout: 2 * time.Second,
		logger:  logHandler(logger, "health"),
	}
}

// WithCheck adds a dependency probe, such as a database ping.
func (h *HealthHandler) WithCheck(name string, fn CheckFunc) *HealthHandler {
	h.checks = append(h.checks, namedCheck{name: name, fn: fn})
	sort.Slice(h.checks, func(i, j int) bool { return h.checks[i].name < h.checks[j].name })
	return h
}

// HealthCheck responds with the server status and the result of every
// dependency probe. Any failing probe turns the response into a 503.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	status, code := "ok", http.StatusOK
	results := make(map[string]string, len(h.checks))
	for _, c := range h.checks {
		if err := c.fn(ctx); err != nil {
			h.logger.WarnContext(ctx, "handler: health check failed",
				slog.String("check", c.name),
				slog.String("error", err.Error()),
			)
			results[c.name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		results[c.name] = "ok"
	}

	writeJSON(w, code, map[string]any{
		"status":    status,
		"checks":    results,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
