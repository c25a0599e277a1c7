package service

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/aroma/internal/billing"
	"github.com/dukerupert/aroma/internal/domain"
	"github.com/dukerupert/aroma/internal/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type settlementFixture struct {
	store    *memory.Store
	carts    domain.CartService
	provider *billing.MockProvider
	svc      domain.SettlementService
}

func newSettlementFixture(t *testing.T, cfg SettlementConfig) *settlementFixture {
	t.Helper()
	store := newSeededStore(t)
	provider := billing.NewMockProvider()
	if cfg.CallbackURL == "" {
		cfg.CallbackURL = "https://shop.example/success"
	}

	return &settlementFixture{
		store:    store,
		carts:    NewCartService(store, store, store, CartServiceConfig{}),
		provider: provider,
		svc:      NewSettlementService(store, store, store, provider, cfg),
	}
}

// cartWithPromo builds scenario 2: two of product 5 with SAVE10, total 45.00.
func (f *settlementFixture) cartWithPromo(t *testing.T) *domain.Cart {
	t.Helper()
	ctx := context.Background()
	cart, err := f.carts.AddItem(ctx, "", domain.AddItemRequest{ProductID: 5, Quantity: qty(2)})
	require.NoError(t, err)
	cart, err = f.carts.ApplyPromo(ctx, cart.Token, "SAVE10")
	require.NoError(t, err)
	return cart
}

func (f *settlementFixture) initialize(t *testing.T, cart *domain.Cart) *domain.InitializeResult {
	t.Helper()
	res, err := f.svc.Initialize(context.Background(), domain.InitializeRequest{
		CartToken:       cart.Token,
		Email:           "ama@example.com",
		FullName:        "Ama Mensah",
		Phone:           "+233200000000",
		ShippingAddress: "12 Ring Road, Accra",
	})
	require.NoError(t, err)
	return res
}

func TestInitialize_ChargesServerSideTotal(t *testing.T) {
	f := newSettlementFixture(t, SettlementConfig{})
	ctx := context.Background()
	cart := f.cartWithPromo(t)

	res, err := f.svc.Initialize(ctx, domain.InitializeRequest{
		CartToken:       cart.Token,
		Email:           "ama@example.com",
		ShippingAddress: "12 Ring Road, Accra",
		ClientAmount:    decimal.NewNullDecimal(dec("1.00")),
		Metadata:        map[string]any{"source": "web"},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(4500), res.AmountMinorUnits)
	assert.Equal(t, "GHS", res.Currency)
	assert.NotEmpty(t, res.Reference)
	assert.NotEmpty(t, res.AuthorizationURL)
	assert.Equal(t, []string{"InitializeTransaction(4500, GHS)"}, f.provider.Calls())

	session, err := f.store.GetPaymentSession(ctx, res.Reference)
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementInitiated, session.State)
	assert.Equal(t, "https://shop.example/success", session.CallbackURL)
	assert.Equal(t, cart.ID, session.CartID)
	assert.Equal(t, "SAVE10", session.Metadata.PromoCode)
	assert.Equal(t, "web", session.Metadata.Client["source"])
	require.Len(t, session.Metadata.Items, 1)
	assert.Equal(t, domain.KindProduct, session.Metadata.Items[0].Kind)
	assert.Equal(t, int64(5), session.Metadata.Items[0].ProductID)
	assert.Equal(t, 2, session.Metadata.Items[0].Quantity)
}

func TestInitialize_Validation(t *testing.T) {
	f := newSettlementFixture(t, SettlementConfig{})
	cart := f.cartWithPromo(t)

	_, err := f.svc.Initialize(context.Background(), domain.InitializeRequest{
		CartToken:   cart.Token,
		Email:       "not-an-email",
		Currency:    "CEDIS",
		CallbackURL: "::nope",
	})

	require.True(t, domain.IsValidationError(err))
	fields := domain.GetValidationFields(err)
	assert.Contains(t, fields, "email")
	assert.Contains(t, fields, "shipping_address")
	assert.Contains(t, fields, "currency")
	assert.Contains(t, fields, "callback_url")
	assert.Empty(t, f.provider.Calls())
}

func TestInitialize_EmptyOrUnknownCart(t *testing.T) {
	f := newSettlementFixture(t, SettlementConfig{})
	ctx := context.Background()
	empty, err := f.carts.Resolve(ctx, "")
	require.NoError(t, err)

	for _, token := range []string{empty.Token, "unknown", ""} {
		_, err := f.svc.Initialize(ctx, domain.InitializeRequest{
			CartToken:       token,
			Email:           "ama@example.com",
			ShippingAddress: "Accra",
		})
		assert.ErrorIs(t, err, domain.ErrEmptyCart)
	}
	assert.Empty(t, f.provider.Calls())
}

func TestInitialize_ProviderNotConfigured(t *testing.T) {
	f := newSettlementFixture(t, SettlementConfig{})
	f.provider.InitializeFunc = func(ctx context.Context, params billing.InitializeParams) (*billing.Transaction, error) {
		return nil, billing.ErrNotConfigured
	}
	cart := f.cartWithPromo(t)

	_, err := f.svc.Initialize(context.Background(), domain.InitializeRequest{
		CartToken:       cart.Token,
		Email:           "ama@example.com",
		ShippingAddress: "Accra",
	})

	require.ErrorIs(t, err, domain.ErrPaymentNotConfigured)
	assert.Equal(t, domain.EINTERNAL, domain.ErrorCode(err))
	assert.Equal(t, "An internal error occurred. Please try again later.", domain.ErrorMessage(err))
}

func TestInitialize_ProviderTimeout(t *testing.T) {
	f := newSettlementFixture(t, SettlementConfig{ProviderTimeout: 20 * time.Millisecond})
	f.provider.InitializeFunc = func(ctx context.Context, params billing.InitializeParams) (*billing.Transaction, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	cart := f.cartWithPromo(t)

	start := time.Now()
	_, err := f.svc.Initialize(context.Background(), domain.InitializeRequest{
		CartToken:       cart.Token,
		Email:           "ama@example.com",
		ShippingAddress: "Accra",
	})

	assert.Equal(t, domain.EUNAVAILABLE, domain.ErrorCode(err))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestInitialize_ProviderRejection(t *testing.T) {
	f := newSettlementFixture(t, SettlementConfig{})
	f.provider.InitializeFunc = func(ctx context.Context, params billing.InitializeParams) (*billing.Transaction, error) {
		return nil, &billing.ProviderError{Provider: "mock", StatusCode: 400, Message: "Currency not supported by merchant"}
	}
	cart := f.cartWithPromo(t)

	_, err := f.svc.Initialize(context.Background(), domain.InitializeRequest{
		CartToken:       cart.Token,
		Email:           "ama@example.com",
		ShippingAddress: "Accra",
	})

	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
	assert.Equal(t, "Currency not supported by merchant", domain.ErrorMessage(err))
}

func TestVerify_IsIdempotent(t *testing.T) {
	f := newSettlementFixture(t, SettlementConfig{})
	ctx := context.Background()
	res := f.initialize(t, f.cartWithPromo(t))
	f.provider.Complete(res.Reference)

	first, err := f.svc.Verify(ctx, res.Reference)
	require.NoError(t, err)
	require.Equal(t, domain.VerifySuccess, first.Status)
	require.NotNil(t, first.Order)

	second, err := f.svc.Verify(ctx, res.Reference)
	require.NoError(t, err)
	assert.Equal(t, domain.VerifySuccess, second.Status)
	assert.Equal(t, first.Order.OrderNumber, second.Order.OrderNumber)
	assert.Equal(t, first.Order.ID, second.Order.ID)

	order := first.Order
	assert.Regexp(t, `^ORD-\d{14}-[0-9A-F]{6}$`, order.OrderNumber)
	assert.Equal(t, domain.OrderStatusCompleted, order.Status)
	assertDecimal(t, "45.00", order.TotalAmount)
	assert.Equal(t, "ama@example.com", order.Email)
	assert.Equal(t, "Ama Mensah", order.FullName)
	assert.Equal(t, "12 Ring Road, Accra", order.ShippingAddress)
	assert.Equal(t, "SAVE10", order.PromoCode)
	require.Len(t, order.Items, 1)
	assertDecimal(t, "50.00", order.Items[0].Subtotal)

	session, err := f.store.GetPaymentSession(ctx, res.Reference)
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementSettled, session.State)

	promo, err := f.store.GetPromoByCode(ctx, "SAVE10")
	require.NoError(t, err)
	assert.Equal(t, 1, promo.TimesUsed)

	events, err := f.store.FetchPendingEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.TopicOrderSettled, events[0].Topic)

	verifyCalls := 0
	for _, c := range f.provider.Calls() {
		if c == "VerifyTransaction("+res.Reference+")" {
			verifyCalls++
		}
	}
	assert.Equal(t, 1, verifyCalls, "a settled reference is answered without the provider")
}

func TestVerify_ConcurrentCallsCreateOneOrder(t *testing.T) {
	f := newSettlementFixture(t, SettlementConfig{})
	ctx := context.Background()
	res := f.initialize(t, f.cartWithPromo(t))
	f.provider.Complete(res.Reference)

	const callers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers = map[string]bool{}
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := f.svc.Verify(ctx, res.Reference)
			if !assert.NoError(t, err) || !assert.NotNil(t, result.Order) {
				return
			}
			mu.Lock()
			numbers[result.Order.OrderNumber] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, numbers, 1)
	events, err := f.store.FetchPendingEvents(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestVerify_FailedPaymentIsTerminal(t *testing.T) {
	f := newSettlementFixture(t, SettlementConfig{})
	ctx := context.Background()
	res := f.initialize(t, f.cartWithPromo(t))
	f.provider.Decline(res.Reference)

	result, err := f.svc.Verify(ctx, res.Reference)
	require.NoError(t, err)
	assert.Equal(t, domain.VerifyFailed, result.Status)
	assert.Nil(t, result.Order)
	assert.Equal(t, "Declined", result.Message)

	session, err := f.store.GetPaymentSession(ctx, res.Reference)
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementFailed, session.State)

	// A later success report cannot revive a failed session.
	f.provider.Complete(res.Reference)
	calls := len(f.provider.Calls())
	result, err = f.svc.Verify(ctx, res.Reference)
	require.NoError(t, err)
	assert.Equal(t, domain.VerifyFailed, result.Status)
	assert.Len(t, f.provider.Calls(), calls)

	_, err = f.store.GetOrderByPaymentReference(ctx, res.Reference)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestVerify_PendingPaymentCanStillSettle(t *testing.T) {
	f := newSettlementFixture(t, SettlementConfig{})
	ctx := context.Background()
	res := f.initialize(t, f.cartWithPromo(t))

	result, err := f.svc.Verify(ctx, res.Reference)
	require.NoError(t, err)
	assert.Equal(t, domain.VerifyFailed, result.Status)

	session, err := f.store.GetPaymentSession(ctx, res.Reference)
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementVerifying, session.State)

	f.provider.Complete(res.Reference)
	result, err = f.svc.Verify(ctx, res.Reference)
	require.NoError(t, err)
	assert.Equal(t, domain.VerifySuccess, result.Status)
}

func TestVerify_UsesProviderAmount(t *testing.T) {
	f := newSettlementFixture(t, SettlementConfig{})
	res := f.initialize(t, f.cartWithPromo(t))
	f.provider.VerifyFunc = func(ctx context.Context, reference string) (*billing.Transaction, error) {
		return &billing.Transaction{
			Reference:        reference,
			Status:           billing.StatusSuccess,
			AmountMinorUnits: 4000,
			Currency:         "GHS",
			CustomerEmail:    "paid-as@example.com",
		}, nil
	}

	result, err := f.svc.Verify(context.Background(), res.Reference)

	require.NoError(t, err)
	assertDecimal(t, "40.00", result.Order.TotalAmount)
	assert.Equal(t, "paid-as@example.com", result.Order.Email)
}

func TestVerify_WithoutLocalSessionUsesProviderMetadata(t *testing.T) {
	f := newSettlementFixture(t, SettlementConfig{})
	f.provider.VerifyFunc = func(ctx context.Context, reference string) (*billing.Transaction, error) {
		return &billing.Transaction{
			Reference:        reference,
			Status:           billing.StatusSuccess,
			AmountMinorUnits: 2500,
			Currency:         "GHS",
			CustomerEmail:    "kofi@example.com",
			Metadata: map[string]any{
				"full_name":        "Kofi",
				"shipping_address": "Kumasi",
				"cart_items": []any{
					map[string]any{"kind": "dupe", "product_id": 1, "name": "Baccarat Rouge Inspired", "size": "50ml", "quantity": 1, "price": "25.00"},
				},
			},
		}, nil
	}

	result, err := f.svc.Verify(context.Background(), "ref_external")

	require.NoError(t, err)
	require.Equal(t, domain.VerifySuccess, result.Status)
	assert.Equal(t, "Kofi", result.Order.FullName)
	require.Len(t, result.Order.Items, 1)
	assert.Equal(t, domain.ProductReference{Kind: domain.KindDupe, ID: 1}, result.Order.Items[0].Reference)
}

func TestVerify_UnreadableProviderMetadataIsLogged(t *testing.T) {
	var logs bytes.Buffer
	f := newSettlementFixture(t, SettlementConfig{
		Logger: slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelWarn})),
	})
	f.provider.VerifyFunc = func(ctx context.Context, reference string) (*billing.Transaction, error) {
		return &billing.Transaction{
			Reference:        reference,
			Status:           billing.StatusSuccess,
			AmountMinorUnits: 2500,
			Currency:         "GHS",
			CustomerEmail:    "kofi@example.com",
			Metadata: map[string]any{
				"full_name":  "Kofi",
				"cart_items": "not a list",
			},
		}, nil
	}

	result, err := f.svc.Verify(context.Background(), "ref_garbled")

	require.NoError(t, err)
	require.Equal(t, domain.VerifySuccess, result.Status)
	assert.Equal(t, "Kofi", result.Order.FullName, "readable fields are kept")
	assert.Empty(t, result.Order.Items)
	assert.Contains(t, logs.String(), "provider metadata unreadable")
	assert.Contains(t, logs.String(), "reference=ref_garbled")
}

func TestMetadataFromProvider(t *testing.T) {
	meta, err := metadataFromProvider(nil)
	require.NoError(t, err)
	assert.Empty(t, meta.Items)

	meta, err = metadataFromProvider(map[string]any{"phone": "0241234567", "cart_items": 7})
	assert.Error(t, err)
	assert.Equal(t, "0241234567", meta.Phone)
}

func TestVerify_Errors(t *testing.T) {
	f := newSettlementFixture(t, SettlementConfig{})
	ctx := context.Background()

	_, err := f.svc.Verify(ctx, " ")
	assert.True(t, domain.IsValidationError(err))

	_, err = f.svc.Verify(ctx, "ref_unknown")
	assert.ErrorIs(t, err, domain.ErrPaymentSessionNotFound)
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))

	f.provider.VerifyFunc = func(ctx context.Context, reference string) (*billing.Transaction, error) {
		return nil, billing.ErrUnavailable
	}
	_, err = f.svc.Verify(ctx, "ref_unknown")
	assert.Equal(t, domain.EUNAVAILABLE, domain.ErrorCode(err))
}

func TestHandleWebhook(t *testing.T) {
	f := newSettlementFixture(t, SettlementConfig{})
	ctx := context.Background()
	res := f.initialize(t, f.cartWithPromo(t))
	f.provider.Complete(res.Reference)

	_, err := f.svc.HandleWebhook(ctx, []byte(res.Reference), "forged")
	require.ErrorIs(t, err, domain.ErrInvalidSignature)
	assert.Equal(t, domain.EUNAUTHORIZED, domain.ErrorCode(err))

	out, err := f.svc.HandleWebhook(ctx, []byte(res.Reference), "valid")
	require.NoError(t, err)
	require.NotNil(t, out.Settled)
	assert.Equal(t, domain.VerifySuccess, out.Settled.Status)

	again, err := f.svc.HandleWebhook(ctx, []byte(res.Reference), "valid")
	require.NoError(t, err)
	assert.Equal(t, out.Settled.Order.OrderNumber, again.Settled.Order.OrderNumber)

	order, err := f.svc.GetOrder(ctx, out.Settled.Order.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, res.Reference, order.PaymentReference)

	_, err = f.svc.GetOrder(ctx, "ORD-missing")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestHandleWebhook_IgnoresOtherEvents(t *testing.T) {
	f := newSettlementFixture(t, SettlementConfig{})
	f.provider.ParseWebhookFunc = func(payload []byte, signature string) (*billing.WebhookEvent, error) {
		return &billing.WebhookEvent{Type: "transfer.success", Reference: "trf_1"}, nil
	}

	out, err := f.svc.HandleWebhook(context.Background(), []byte(`{}`), "sig")

	require.NoError(t, err)
	assert.Equal(t, "transfer.success", out.EventType)
	assert.Nil(t, out.Settled)
}
