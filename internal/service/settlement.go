package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/dukerupert/aroma/internal/billing"
	"github.com/dukerupert/aroma/internal/domain"
	"github.com/dukerupert/aroma/internal/pricing"
	"github.com/dukerupert/aroma/internal/telemetry"
	"github.com/getsentry/sentry-go"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// DefaultCurrency is charged when the checkout form names none.
	DefaultCurrency = "GHS"

	// DefaultProviderTimeout bounds every call to the payment provider.
	DefaultProviderTimeout = 30 * time.Second
)

// SettlementConfig configures the settlement service.
type SettlementConfig struct {
	// Currency is the default ISO currency code. Default: DefaultCurrency.
	Currency string

	// CallbackURL is where the provider returns the shopper when the form
	// does not say. Typically ${APP_URL}/success.
	CallbackURL string

	// ProviderTimeout bounds each provider call. Default: DefaultProviderTimeout.
	ProviderTimeout time.Duration

	Metrics *telemetry.BusinessMetrics
	Logger  *slog.Logger
	Now     func() time.Time
}

type settlementService struct {
	carts    domain.CartStore
	sessions domain.PaymentSessionStore
	orders   domain.OrderStore
	provider billing.Provider
	validate *validator.Validate

	cfg     SettlementConfig
	metrics *telemetry.BusinessMetrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewSettlementService creates the service that turns confirmed payments
// into orders.
func NewSettlementService(
	carts domain.CartStore,
	sessions domain.PaymentSessionStore,
	orders domain.OrderStore,
	provider billing.Provider,
	cfg SettlementConfig,
) domain.SettlementService {
	if cfg.Currency == "" {
		cfg.Currency = DefaultCurrency
	}
	cfg.Currency = strings.ToUpper(cfg.Currency)
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = DefaultProviderTimeout
	}
	if cfg.Metrics == nil {
		cfg.Metrics = telemetry.NewBusinessMetrics("", prometheus.NewRegistry())
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &settlementService{
		carts:    carts,
		sessions: sessions,
		orders:   orders,
		provider: provider,
		validate: newValidator(),
		cfg:      cfg,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger.With("provider", provider.Name()),
		now:      cfg.Now,
	}
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// =============================================================================
// INITIATED
// =============================================================================

func (s *settlementService) Initialize(ctx context.Context, req domain.InitializeRequest) (*domain.InitializeResult, error) {
	const op = "settlement.initialize"

	req.Email = strings.TrimSpace(req.Email)
	req.ShippingAddress = strings.TrimSpace(req.ShippingAddress)
	if err := s.validateRequest(op, req); err != nil {
		return nil, err
	}

	cart, err := s.carts.GetCart(ctx, req.CartToken)
	if err != nil {
		if errors.Is(err, domain.ErrCartNotFound) {
			return nil, domain.ErrEmptyCart
		}
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	if cart.IsEmpty() {
		return nil, domain.ErrEmptyCart
	}

	amount := pricing.ToMinorUnits(cart.Total)
	if amount <= 0 {
		return nil, domain.Invalid(op, "Order total must be greater than zero")
	}
	if req.ClientAmount.Valid && !req.ClientAmount.Decimal.Equal(cart.Total) {
		s.logger.WarnContext(ctx, "client amount differs from cart total; charging cart total",
			"cart_id", cart.ID,
			"client_amount", req.ClientAmount.Decimal.String(),
			"cart_total", cart.Total.StringFixed(pricing.MinorUnitPlaces),
		)
	}

	currency := strings.ToUpper(req.Currency)
	if currency == "" {
		currency = s.cfg.Currency
	}
	callbackURL := req.CallbackURL
	if callbackURL == "" {
		callbackURL = s.cfg.CallbackURL
	}

	snapshot := snapshotCart(cart, req)
	metadata, err := snapshot.asMap()
	if err != nil {
		return nil, domain.Internal(err, op, "failed to encode payment metadata")
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	defer cancel()

	start := time.Now()
	tx, err := s.provider.InitializeTransaction(callCtx, billing.InitializeParams{
		Email:            req.Email,
		AmountMinorUnits: amount,
		Currency:         currency,
		CallbackURL:      callbackURL,
		Metadata:         metadata,
	})
	s.metrics.ProviderAPILatency.WithLabelValues(s.provider.Name(), "initialize").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, s.providerError(ctx, op, err)
	}

	now := s.now()
	session := &domain.PaymentSession{
		Reference:        tx.Reference,
		Provider:         s.provider.Name(),
		AuthorizationURL: tx.AuthorizationURL,
		AccessCode:       tx.AccessCode,
		CartID:           cart.ID,
		Email:            req.Email,
		AmountMinorUnits: amount,
		Currency:         currency,
		CallbackURL:      callbackURL,
		Metadata:         snapshot.SessionMetadata,
		State:            domain.SettlementInitiated,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.sessions.CreatePaymentSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save payment session: %w", err)
	}

	s.metrics.CheckoutStarted.WithLabelValues(s.provider.Name()).Inc()
	s.logger.InfoContext(ctx, "payment initialized",
		"reference", tx.Reference,
		"cart_id", cart.ID,
		"amount_minor", amount,
		"currency", currency,
	)

	return &domain.InitializeResult{
		Reference:        tx.Reference,
		AuthorizationURL: tx.AuthorizationURL,
		AccessCode:       tx.AccessCode,
		AmountMinorUnits: amount,
		Currency:         currency,
	}, nil
}

func (s *settlementService) validateRequest(op string, req domain.InitializeRequest) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return domain.Internal(err, op, "failed to validate request")
	}

	ve := &domain.ValidationError{Op: op, Fields: make(map[string]string, len(fieldErrs))}
	for _, fe := range fieldErrs {
		ve.Fields[fe.Field()] = validationMessage(fe)
	}
	return ve
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required"
	case "email":
		return "Must be a valid email address"
	case "url":
		return "Must be a valid URL"
	case "max":
		return "Must be at most " + fe.Param() + " characters"
	case "len":
		return "Must be exactly " + fe.Param() + " characters"
	case "alpha":
		return "Must contain only letters"
	default:
		return "Is invalid"
	}
}

// =============================================================================
// VERIFYING
// =============================================================================

// Verify settles reference. An order that already exists for the reference
// is returned unchanged; otherwise the provider is asked and, on success,
// exactly one order is created even if several calls race.
func (s *settlementService) Verify(ctx context.Context, reference string) (*domain.VerifyResult, error) {
	const op = "settlement.verify"

	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, domain.NewValidationError(op, "reference", "Payment reference is required")
	}
	logger := s.logger.With("reference", reference)

	if order, err := s.orders.GetOrderByPaymentReference(ctx, reference); err == nil {
		s.metrics.SettlementReplay.WithLabelValues("lookup").Inc()
		logger.DebugContext(ctx, "reference already settled", "order_number", order.OrderNumber)
		return settled(order), nil
	} else if !errors.Is(err, domain.ErrOrderNotFound) {
		return nil, fmt.Errorf("failed to look up order: %w", err)
	}

	session, err := s.sessions.GetPaymentSession(ctx, reference)
	switch {
	case err == nil:
		if session.State == domain.SettlementFailed {
			return &domain.VerifyResult{Status: domain.VerifyFailed, Message: "Payment failed"}, nil
		}
		if err := s.sessions.UpdateSettlementState(ctx, reference, domain.SettlementVerifying); err != nil {
			logger.WarnContext(ctx, "failed to mark session verifying", "error", err)
		}
	case errors.Is(err, domain.ErrPaymentSessionNotFound):
		session = nil
		logger.WarnContext(ctx, "verifying reference without a local payment session")
	default:
		return nil, fmt.Errorf("failed to load payment session: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	defer cancel()

	start := time.Now()
	tx, err := s.provider.VerifyTransaction(callCtx, reference)
	s.metrics.ProviderAPILatency.WithLabelValues(s.provider.Name(), "verify").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, s.providerError(ctx, op, err)
	}

	if !tx.Status.Succeeded() {
		s.metrics.PaymentFailed.WithLabelValues(s.provider.Name(), string(tx.Status)).Inc()
		if tx.Status.Failed() && session != nil {
			if err := s.sessions.UpdateSettlementState(ctx, reference, domain.SettlementFailed); err != nil {
				logger.WarnContext(ctx, "failed to mark session failed", "error", err)
			}
		}
		logger.InfoContext(ctx, "payment not successful", "status", tx.Status, "gateway_response", tx.GatewayResponse)

		msg := tx.GatewayResponse
		if msg == "" {
			msg = "Payment was not successful"
		}
		return &domain.VerifyResult{Status: domain.VerifyFailed, Message: msg}, nil
	}

	order := s.buildOrder(ctx, reference, tx, session)
	event, err := settledEvent(order, s.now())
	if err != nil {
		return nil, domain.Internal(err, op, "failed to encode settlement event")
	}

	stored, created, err := s.orders.CreateOrder(ctx, order, event)
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	if !created {
		s.metrics.SettlementReplay.WithLabelValues("race").Inc()
		logger.InfoContext(ctx, "concurrent verify settled first", "order_number", stored.OrderNumber)
		return settled(stored), nil
	}

	s.metrics.PaymentSucceeded.WithLabelValues(s.provider.Name()).Inc()
	s.metrics.OrdersCreated.WithLabelValues(s.provider.Name()).Inc()
	s.metrics.OrderValue.WithLabelValues(stored.Currency).Observe(stored.TotalAmount.InexactFloat64())
	logger.InfoContext(ctx, "order created",
		"order_number", stored.OrderNumber,
		"total", stored.TotalAmount.StringFixed(pricing.MinorUnitPlaces),
		"currency", stored.Currency,
		"items", len(stored.Items),
	)
	return settled(stored), nil
}

func settled(order *domain.Order) *domain.VerifyResult {
	return &domain.VerifyResult{Status: domain.VerifySuccess, Message: "Payment verified", Order: order}
}

// buildOrder derives the order from the provider's confirmed amount and email.
// Line items come from the snapshot taken at initiation, or from the
// provider-echoed metadata when this server never saw the initiation.
func (s *settlementService) buildOrder(ctx context.Context, reference string, tx *billing.Transaction, session *domain.PaymentSession) *domain.Order {
	var meta domain.SessionMetadata
	if session != nil {
		meta = session.Metadata
		if session.AmountMinorUnits != tx.AmountMinorUnits {
			s.logger.WarnContext(ctx, "provider amount differs from initiated amount",
				"reference", reference,
				"initiated_minor", session.AmountMinorUnits,
				"confirmed_minor", tx.AmountMinorUnits,
			)
			telemetry.CaptureMessage("settlement amount mismatch", sentry.LevelWarning, map[string]interface{}{
				"reference":       reference,
				"initiated_minor": session.AmountMinorUnits,
				"confirmed_minor": tx.AmountMinorUnits,
			})
		}
	} else {
		var err error
		meta, err = metadataFromProvider(tx.Metadata)
		if err != nil {
			s.logger.WarnContext(ctx, "provider metadata unreadable, order lines may be missing",
				"reference", reference,
				"error", err,
			)
		}
	}

	email := tx.CustomerEmail
	currency := tx.Currency
	if session != nil {
		if email == "" {
			email = session.Email
		}
		if currency == "" {
			currency = session.Currency
		}
	}
	if currency == "" {
		currency = s.cfg.Currency
	}

	return &domain.Order{
		ID:               uuid.New(),
		OrderNumber:      domain.NewOrderNumber(s.now()),
		PaymentReference: reference,
		Status:           domain.OrderStatusCompleted,
		Email:            email,
		FullName:         meta.FullName,
		Phone:            meta.Phone,
		ShippingAddress:  meta.ShippingAddress,
		Currency:         currency,
		PromoCode:        meta.PromoCode,
		TotalAmount:      pricing.FromMinorUnits(tx.AmountMinorUnits),
		Items:            meta.OrderItems(),
		CreatedAt:        s.now(),
	}
}

func settledEvent(order *domain.Order, now time.Time) (*domain.OutboxEvent, error) {
	itemCount := 0
	for _, it := range order.Items {
		itemCount += it.Quantity
	}

	payload, err := json.Marshal(domain.OrderSettledEvent{
		OrderID:          order.ID,
		OrderNumber:      order.OrderNumber,
		PaymentReference: order.PaymentReference,
		Email:            order.Email,
		FullName:         order.FullName,
		Currency:         order.Currency,
		TotalAmount:      order.TotalAmount.StringFixed(pricing.MinorUnitPlaces),
		ItemCount:        itemCount,
		SettledAt:        now,
	})
	if err != nil {
		return nil, err
	}

	return &domain.OutboxEvent{
		ID:        uuid.New(),
		Topic:     domain.TopicOrderSettled,
		Key:       order.PaymentReference,
		Payload:   payload,
		CreatedAt: now,
	}, nil
}

// =============================================================================
// WEBHOOKS AND LOOKUPS
// =============================================================================

func (s *settlementService) HandleWebhook(ctx context.Context, payload []byte, signature string) (*domain.WebhookResult, error) {
	const op = "settlement.webhook"

	ev, err := s.provider.ParseWebhook(payload, signature)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrInvalidWebhookSignature):
			s.metrics.WebhookFailed.WithLabelValues(s.provider.Name(), "signature").Inc()
			return nil, fmt.Errorf("%w: %w", domain.ErrInvalidSignature, err)
		case errors.Is(err, billing.ErrNotConfigured):
			return nil, s.providerError(ctx, op, err)
		default:
			s.metrics.WebhookFailed.WithLabelValues(s.provider.Name(), "decode").Inc()
			return nil, domain.WrapError(err, domain.EINVALID, op, "Malformed webhook payload")
		}
	}

	s.metrics.WebhookReceived.WithLabelValues(s.provider.Name(), ev.Type).Inc()
	result := &domain.WebhookResult{EventType: ev.Type}
	if !ev.Settles || ev.Reference == "" {
		s.logger.DebugContext(ctx, "ignoring webhook event", "event_type", ev.Type, "event_id", ev.ID)
		return result, nil
	}

	start := time.Now()
	verified, err := s.Verify(ctx, ev.Reference)
	s.metrics.WebhookLatency.WithLabelValues(s.provider.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.WebhookFailed.WithLabelValues(s.provider.Name(), "verify").Inc()
		return nil, err
	}
	result.Settled = verified
	return result, nil
}

func (s *settlementService) GetOrder(ctx context.Context, orderNumber string) (*domain.Order, error) {
	order, err := s.orders.GetOrderByNumber(ctx, strings.TrimSpace(orderNumber))
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}

// providerError maps billing failures onto the domain taxonomy. Missing
// credentials are an operator problem and never reach the shopper verbatim.
func (s *settlementService) providerError(ctx context.Context, op string, err error) error {
	var pe *billing.ProviderError
	switch {
	case errors.Is(err, billing.ErrNotConfigured):
		s.logger.ErrorContext(ctx, "payment provider is not configured", "op", op)
		telemetry.CaptureErrorFromContext(ctx, err, map[string]interface{}{"op": op, "provider": s.provider.Name()})
		return fmt.Errorf("%w: %w", domain.ErrPaymentNotConfigured, err)

	case errors.Is(err, billing.ErrTransactionNotFound):
		return fmt.Errorf("%w: %w", domain.ErrPaymentSessionNotFound, err)

	case errors.Is(err, billing.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		s.logger.WarnContext(ctx, "payment provider unavailable", "op", op, "error", err)
		return domain.Unavailable(err, op, "The payment provider did not respond. Please try again.")

	case errors.As(err, &pe) && pe.IsTemporary():
		s.logger.WarnContext(ctx, "payment provider error", "op", op, "status", pe.StatusCode, "error", err)
		return domain.Unavailable(err, op, "The payment provider did not respond. Please try again.")

	case errors.As(err, &pe):
		s.logger.InfoContext(ctx, "payment provider rejected request", "op", op, "status", pe.StatusCode, "message", pe.Message)
		msg := pe.Message
		if msg == "" {
			msg = "The payment provider rejected the request"
		}
		return domain.WrapError(err, domain.EINVALID, op, msg)
	}

	telemetry.CaptureErrorFromContext(ctx, err, map[string]interface{}{"op": op, "provider": s.provider.Name()})
	return domain.Internal(err, op, "payment provider call failed")
}
