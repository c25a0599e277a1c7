package routes

import (
	"github.com/dukerupert/aroma/internal/middleware"
	"github.com/dukerupert/aroma/internal/router"
)

// RegisterWebhookRoutes registers the payment provider's webhook route.
//
// Webhook routes carry no cart token. The handler authenticates each push by
// its signature header.
func RegisterWebhookRoutes(r *router.Router, deps WebhookDeps) {
	g := r.Group(middleware.MaxBodySize(middleware.WebhookMaxBodySize))
	g.Handle("POST", "/api/"+deps.Provider+"/webhook/{$}", deps.Handler)
}
