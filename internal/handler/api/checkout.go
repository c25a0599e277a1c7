package api

import (
	"net/http"
	"strings"

	"github.com/dukerupert/aroma/internal/domain"
	"github.com/dukerupert/aroma/internal/handler"
	"github.com/dukerupert/aroma/internal/middleware"
)

// CheckoutHandler serves payment initialization, verification and order
// lookup.
type CheckoutHandler struct {
	settlement domain.SettlementService
}

// NewCheckoutHandler creates a new checkout handler
func NewCheckoutHandler(settlement domain.SettlementService) *CheckoutHandler {
	return &CheckoutHandler{settlement: settlement}
}

// Initialize handles POST /api/paystack/initialize/
//
// The charge is always the server-side cart total; the request's amount is
// only compared against it.
func (h *CheckoutHandler) Initialize(w http.ResponseWriter, r *http.Request) {
	var req domain.InitializeRequest
	if err := handler.DecodeJSON(r, &req); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	req.CartToken = middleware.GetCartToken(r.Context())

	result, err := h.settlement.Initialize(r.Context(), req)
	if err != nil {
		if domain.IsValidationError(err) {
			handler.ValidationErrorResponse(w, r, err)
			return
		}
		handler.ErrorResponse(w, r, err)
		return
	}

	handler.JSON(w, http.StatusOK, InitializeResponse{
		Status:           true,
		Reference:        result.Reference,
		AuthorizationURL: result.AuthorizationURL,
		AccessCode:       result.AccessCode,
		Amount:           result.AmountMinorUnits,
		Currency:         result.Currency,
	})
}

// Verify handles GET and POST /api/paystack/verify/{reference}.
// The reference may also come from ?reference= or a {"reference"} body, the
// way the provider's callback and older clients send it. Calling it again
// for a settled reference returns the same order.
func (h *CheckoutHandler) Verify(w http.ResponseWriter, r *http.Request) {
	reference := r.PathValue("reference")
	if reference == "" {
		reference = r.URL.Query().Get("reference")
	}
	if reference == "" && r.Method == http.MethodPost {
		var req verifyRequest
		if err := handler.DecodeJSON(r, &req); err != nil {
			handler.ErrorResponse(w, r, err)
			return
		}
		reference = req.Reference
	}

	result, err := h.settlement.Verify(r.Context(), strings.TrimSpace(reference))
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	handler.JSON(w, http.StatusOK, newVerifyResponse(result))
}

// GetOrder handles GET /api/orders/{orderNumber}/
func (h *CheckoutHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.settlement.GetOrder(r.Context(), r.PathValue("orderNumber"))
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	handler.JSON(w, http.StatusOK, NewOrderResponse(order))
}
