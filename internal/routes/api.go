package routes

import (
	"github.com/dukerupert/aroma/internal/middleware"
	"github.com/dukerupert/aroma/internal/router"
)

// RegisterCartRoutes registers the cart endpoints under /api/cart/.
// Every route reads the cart token from X-Cart-ID.
func RegisterCartRoutes(r *router.Router, deps CartDeps) {
	g := r.Group(middleware.MaxBodySize(), middleware.WithCartToken)
	h := deps.Handler

	g.Get("/api/cart/{$}", h.Get)
	g.Post("/api/cart/items/{$}", h.AddItem)
	g.Patch("/api/cart/items/{id}/{$}", h.UpdateItem)
	g.Put("/api/cart/items/{id}/{$}", h.UpdateItem)
	g.Delete("/api/cart/items/{id}/{$}", h.RemoveItem)
	g.Delete("/api/cart/clear/{$}", h.Clear)
	g.Post("/api/cart/apply-promo/{$}", h.ApplyPromo)
	g.Post("/api/cart/remove-promo/{$}", h.RemovePromo)
}

// RegisterCheckoutRoutes registers payment and order endpoints.
//
// The /api/paystack/ paths are what storefront clients already call; they
// route to whichever provider is configured.
func RegisterCheckoutRoutes(r *router.Router, deps CheckoutDeps) {
	g := r.Group(middleware.MaxBodySize(), middleware.WithCartToken)
	h := deps.Handler

	var initLimit []router.Middleware
	if deps.InitializeLimit != nil {
		initLimit = append(initLimit, deps.InitializeLimit)
	}

	for _, prefix := range []string{"/api/paystack", "/api/checkout"} {
		g.Post(prefix+"/initialize/{$}", h.Initialize, initLimit...)
		g.Get(prefix+"/verify/{reference}", h.Verify)
		g.Post(prefix+"/verify/{reference}", h.Verify)
		g.Get(prefix+"/verify/{reference}/{$}", h.Verify)
		g.Post(prefix+"/verify/{reference}/{$}", h.Verify)
		g.Get(prefix+"/verify/{$}", h.Verify)
		g.Post(prefix+"/verify/{$}", h.Verify)
	}

	g.Get("/api/orders/{orderNumber}/{$}", h.GetOrder)
}
