package api

import (
	"context"
	"net/http"
	"time"

	"github.com/dukerupert/aroma/internal/handler"
	"golang.org/x/sync/errgroup"
)

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// HealthHandler reports whether the server's dependencies answer.
type HealthHandler struct {
	checks  map[string]HealthCheck
	timeout time.Duration
}

// NewHealthHandler creates a health handler. Checks run concurrently, each
// bounded by timeout.
func NewHealthHandler(checks map[string]HealthCheck, timeout time.Duration) *HealthHandler {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HealthHandler{checks: checks, timeout: timeout}
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// ServeHTTP handles GET /health
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	results := make([]string, len(names))

	var g errgroup.Group
	for i, name := range names {
		check := h.checks[name]
		g.Go(func() error {
			if err := check(ctx); err != nil {
				results[i] = err.Error()
				return err
			}
			results[i] = "ok"
			return nil
		})
	}
	failed := g.Wait() != nil

	resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(names))}
	for i, name := range names {
		resp.Checks[name] = results[i]
	}

	status := http.StatusOK
	if failed {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	handler.JSON(w, status, resp)
}
