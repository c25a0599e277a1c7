package routes

import (
	"net/http"

	"github.com/dukerupert/aroma/internal/handler"
	"github.com/dukerupert/aroma/internal/router"
)

// RegisterSystemRoutes registers /health, /metrics and the JSON fallback for
// unmatched paths.
//
// /metrics should be firewalled in production; it is not authenticated.
func RegisterSystemRoutes(r *router.Router, deps SystemDeps) {
	if deps.Health != nil {
		r.Handle(http.MethodGet, "/health", deps.Health)
	}
	if deps.Metrics != nil {
		r.Handle(http.MethodGet, "/metrics", deps.Metrics)
	}
	r.NotFound(handler.NotFoundResponse)
}
