package routes

import (
	"net/http"

	"github.com/dukerupert/aroma/internal/handler/api"
	"github.com/dukerupert/aroma/internal/router"
)

// CartDeps contains dependencies for cart routes
type CartDeps struct {
	Handler *api.CartHandler
}

// CheckoutDeps contains dependencies for checkout and order routes
type CheckoutDeps struct {
	Handler *api.CheckoutHandler

	// InitializeLimit throttles payment initialization, which calls the
	// provider. Nil means no extra limit.
	InitializeLimit router.Middleware
}

// WebhookDeps contains dependencies for webhook routes
type WebhookDeps struct {
	// Provider names the path segment: /api/{provider}/webhook/.
	Provider string
	Handler  http.Handler
}

// SystemDeps contains dependencies for operational routes
type SystemDeps struct {
	Health  http.Handler
	Metrics http.Handler
}
