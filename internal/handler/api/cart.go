package api

import (
	"net/http"
	"strconv"

	"github.com/dukerupert/aroma/internal/domain"
	"github.com/dukerupert/aroma/internal/handler"
	"github.com/dukerupert/aroma/internal/middleware"
)

// CartHandler serves the cart endpoints. The cart token arrives in the
// X-Cart-ID request header and the current token is echoed in the same
// response header on every success, including when a new cart was minted.
type CartHandler struct {
	carts domain.CartService
}

// NewCartHandler creates a new cart handler
func NewCartHandler(carts domain.CartService) *CartHandler {
	return &CartHandler{carts: carts}
}

// Get handles GET /api/cart/
func (h *CartHandler) Get(w http.ResponseWriter, r *http.Request) {
	cart, err := h.carts.Resolve(r.Context(), middleware.GetCartToken(r.Context()))
	h.respond(w, r, http.StatusOK, cart, err)
}

// AddItem handles POST /api/cart/items/
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := handler.DecodeJSON(r, &req); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	cart, err := h.carts.AddItem(r.Context(), middleware.GetCartToken(r.Context()), req.toDomain())
	h.respond(w, r, http.StatusCreated, cart, err)
}

// UpdateItem handles PATCH and PUT /api/cart/items/{id}/
func (h *CartHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	itemID, err := itemIDFromPath(r)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	var req updateItemRequest
	if err := handler.DecodeJSON(r, &req); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	if req.Quantity == nil {
		handler.ValidationErrorResponse(w, r, domain.NewValidationError("cart.update", "quantity", "This field is required"))
		return
	}

	cart, err := h.carts.UpdateQuantity(r.Context(), middleware.GetCartToken(r.Context()), itemID, *req.Quantity)
	h.respond(w, r, http.StatusOK, cart, err)
}

// RemoveItem handles DELETE /api/cart/items/{id}/
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	itemID, err := itemIDFromPath(r)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	cart, err := h.carts.RemoveItem(r.Context(), middleware.GetCartToken(r.Context()), itemID)
	h.respond(w, r, http.StatusOK, cart, err)
}

// Clear handles DELETE /api/cart/clear/
// The response carries a new token; the old one no longer resolves.
func (h *CartHandler) Clear(w http.ResponseWriter, r *http.Request) {
	cart, err := h.carts.Clear(r.Context(), middleware.GetCartToken(r.Context()))
	h.respond(w, r, http.StatusOK, cart, err)
}

// ApplyPromo handles POST /api/cart/apply-promo/
func (h *CartHandler) ApplyPromo(w http.ResponseWriter, r *http.Request) {
	var req promoRequest
	if err := handler.DecodeJSON(r, &req); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	if domain.NormalizePromoCode(req.Code) == "" {
		handler.ValidationErrorResponse(w, r, domain.NewValidationError("cart.apply_promo", "code", "Promo code is required"))
		return
	}

	cart, err := h.carts.ApplyPromo(r.Context(), middleware.GetCartToken(r.Context()), req.Code)
	h.respond(w, r, http.StatusOK, cart, err)
}

// RemovePromo handles POST /api/cart/remove-promo/
func (h *CartHandler) RemovePromo(w http.ResponseWriter, r *http.Request) {
	cart, err := h.carts.RemovePromo(r.Context(), middleware.GetCartToken(r.Context()))
	h.respond(w, r, http.StatusOK, cart, err)
}

func (h *CartHandler) respond(w http.ResponseWriter, r *http.Request, status int, cart *domain.Cart, err error) {
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	w.Header().Set(middleware.CartTokenHeader, cart.Token)
	handler.JSON(w, status, NewCartResponse(cart))
}

func itemIDFromPath(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id < 1 {
		return 0, domain.NewValidationError("cart.item", "id", "Item id must be a positive integer")
	}
	return id, nil
}
