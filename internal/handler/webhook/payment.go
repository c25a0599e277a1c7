// Package webhook receives payment provider notifications.
package webhook

import (
	"errors"
	"io"
	"net/http"

	"github.com/dukerupert/aroma/internal/domain"
	"github.com/dukerupert/aroma/internal/handler"
	"github.com/dukerupert/aroma/internal/middleware"
)

// PaymentHandler authenticates a provider push and settles the reference it
// confirms. Settlement is idempotent, so provider retries and a concurrent
// verify from the shopper's browser resolve to the same order.
type PaymentHandler struct {
	settlement      domain.SettlementService
	signatureHeader string
}

// NewPaymentHandler creates a webhook handler that reads the signature from
// signatureHeader (x-paystack-signature, Stripe-Signature).
func NewPaymentHandler(settlement domain.SettlementService, signatureHeader string) *PaymentHandler {
	return &PaymentHandler{settlement: settlement, signatureHeader: signatureHeader}
}

type webhookResponse struct {
	Status      string `json:"status"`
	EventType   string `json:"event_type,omitempty"`
	OrderNumber string `json:"order_number,omitempty"`
}

// ServeHTTP handles POST /api/paystack/webhook/ and /api/stripe/webhook/.
//
// Unauthenticated and malformed pushes get 4xx and are not retried by the
// provider. Storage or provider failures get 5xx so the provider retries.
func (h *PaymentHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := middleware.GetLogger(r.Context())

	signature := r.Header.Get(h.signatureHeader)
	if signature == "" {
		handler.ErrorResponse(w, r, domain.Errorf(domain.EUNAUTHORIZED, "webhook", "Missing signature"))
		return
	}

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			handler.ErrorResponse(w, r, domain.Errorf(domain.ETOOLARGE, "webhook", "Request body too large"))
			return
		}
		handler.ErrorResponse(w, r, domain.WrapError(err, domain.EINVALID, "webhook", "Error reading request body"))
		return
	}

	result, err := h.settlement.HandleWebhook(r.Context(), payload, signature)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	resp := webhookResponse{Status: "success", EventType: result.EventType}
	if v := result.Settled; v != nil {
		if v.Order != nil {
			resp.OrderNumber = v.Order.OrderNumber
		}
		logger.Info("webhook settled reference",
			"event_type", result.EventType,
			"status", v.Status,
			"order_number", resp.OrderNumber,
		)
	}

	handler.JSON(w, http.StatusOK, resp)
}
