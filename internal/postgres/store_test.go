package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/aroma/internal"
	"github.com/dukerupert/aroma/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx := context.Background()
	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, internal.MigratePool(pool))
	return New(pool)
}

var amberNights = domain.ProductReference{Kind: domain.KindProduct, ID: 5}

func addAmber(c *domain.Cart) error {
	return c.AddLine(domain.LineItem{
		Reference:   amberNights,
		ProductName: "Amber Nights",
		Size:        "50ml",
		Quantity:    1,
		UnitPrice:   decimal.RequireFromString("25.00"),
	})
}

func TestStore(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	t.Run("seeded catalog and promos", func(t *testing.T) {
		listing, err := s.Lookup(ctx, amberNights)
		require.NoError(t, err)
		assert.Equal(t, "Amber Nights", listing.Name)
		assert.True(t, listing.UnitPrice.Equal(decimal.RequireFromString("25.00")))
		assert.True(t, listing.Active)
		assert.Nil(t, listing.Stock)

		_, err = s.Lookup(ctx, domain.ProductReference{Kind: domain.KindDupe, ID: 999})
		assert.ErrorIs(t, err, domain.ErrInvalidReference)

		promo, err := s.GetPromoByCode(ctx, " save10 ")
		require.NoError(t, err)
		assert.Equal(t, "SAVE10", promo.Code)
		assert.True(t, promo.DiscountValue.Equal(decimal.RequireFromString("0.10")))
		assert.True(t, promo.MinimumOrderAmount.Equal(decimal.RequireFromString("20.00")))
		assert.False(t, promo.MaximumDiscountAmount.Valid)

		welcome, err := s.GetPromoByCode(ctx, "WELCOME10")
		require.NoError(t, err)
		require.True(t, welcome.MaximumDiscountAmount.Valid)
		assert.True(t, welcome.MaximumDiscountAmount.Decimal.Equal(decimal.RequireFromString("20.00")))

		_, err = s.GetPromoByCode(ctx, "NOPE")
		assert.ErrorIs(t, err, domain.ErrPromoNotFound)
	})

	t.Run("upsert listing tracks stock", func(t *testing.T) {
		stock := 3
		ref := domain.ProductReference{Kind: domain.KindPerfumeOil, ID: 42}
		require.NoError(t, s.UpsertListing(ctx, domain.CatalogListing{
			Reference: ref, Name: "Rose Oil", UnitPrice: decimal.RequireFromString("9.99"), Active: true, Stock: &stock,
		}))

		listing, err := s.Lookup(ctx, ref)
		require.NoError(t, err)
		require.NotNil(t, listing.Stock)
		assert.Equal(t, 3, *listing.Stock)
	})

	t.Run("cart round trip", func(t *testing.T) {
		cart := domain.NewCart("tok-round-trip", time.Now(), time.Hour)
		require.NoError(t, s.CreateCart(ctx, cart))
		assert.True(t, domain.IsCode(s.CreateCart(ctx, cart), domain.ECONFLICT))

		updated, err := s.UpdateCart(ctx, cart.Token, addAmber)
		require.NoError(t, err)
		require.Len(t, updated.Items, 1)
		assert.NotZero(t, updated.Items[0].ID)
		assert.Equal(t, int64(1), updated.Version)

		promo, err := s.GetPromoByCode(ctx, "SAVE10")
		require.NoError(t, err)
		updated, err = s.UpdateCart(ctx, cart.Token, func(c *domain.Cart) error {
			if err := addAmber(c); err != nil {
				return err
			}
			return c.ApplyPromo(promo, time.Now())
		})
		require.NoError(t, err)

		loaded, err := s.GetCart(ctx, cart.Token)
		require.NoError(t, err)
		assert.Equal(t, updated.Version, loaded.Version)
		require.Len(t, loaded.Items, 1)
		assert.Equal(t, 2, loaded.Items[0].Quantity)
		require.NotNil(t, loaded.Promo)
		assert.Equal(t, "SAVE10", loaded.Promo.Code)
		assert.True(t, loaded.DiscountAmount.Equal(decimal.RequireFromString("5.00")))
		assert.True(t, loaded.Total.Equal(decimal.RequireFromString("45.00")))

		itemID := loaded.Items[0].ID
		loaded, err = s.UpdateCart(ctx, cart.Token, func(c *domain.Cart) error {
			return c.RemoveLine(itemID)
		})
		require.NoError(t, err)
		assert.Empty(t, loaded.Items)

		require.NoError(t, s.DeleteCart(ctx, cart.Token))
		_, err = s.GetCart(ctx, cart.Token)
		assert.ErrorIs(t, err, domain.ErrCartNotFound)
	})

	t.Run("update persists extended expiry", func(t *testing.T) {
		cart := domain.NewCart("tok-expiry", time.Now(), time.Minute)
		require.NoError(t, s.CreateCart(ctx, cart))

		extended := time.Now().Add(time.Hour).UTC().Truncate(time.Millisecond)
		_, err := s.UpdateCart(ctx, cart.Token, func(c *domain.Cart) error {
			c.ExpiresAt = extended
			return addAmber(c)
		})
		require.NoError(t, err)

		loaded, err := s.GetCart(ctx, cart.Token)
		require.NoError(t, err)
		assert.WithinDuration(t, extended, loaded.ExpiresAt, time.Millisecond)
	})

	t.Run("failed callback writes nothing", func(t *testing.T) {
		cart := domain.NewCart("tok-rollback", time.Now(), time.Hour)
		require.NoError(t, s.CreateCart(ctx, cart))

		boom := errors.New("boom")
		_, err := s.UpdateCart(ctx, cart.Token, func(c *domain.Cart) error {
			if err := addAmber(c); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		loaded, err := s.GetCart(ctx, cart.Token)
		require.NoError(t, err)
		assert.Empty(t, loaded.Items)
		assert.Equal(t, int64(0), loaded.Version)
	})

	t.Run("concurrent writers are serialized", func(t *testing.T) {
		cart := domain.NewCart("tok-concurrent", time.Now(), time.Hour)
		require.NoError(t, s.CreateCart(ctx, cart))

		const writers = 20
		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.UpdateCart(ctx, cart.Token, addAmber)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		loaded, err := s.GetCart(ctx, cart.Token)
		require.NoError(t, err)
		require.Len(t, loaded.Items, 1)
		assert.Equal(t, writers, loaded.Items[0].Quantity)
		assert.Equal(t, int64(writers), loaded.Version)
	})

	t.Run("expired carts", func(t *testing.T) {
		cart := domain.NewCart("tok-expired", time.Now().Add(-2*time.Hour), time.Hour)
		require.NoError(t, s.CreateCart(ctx, cart))

		_, err := s.GetCart(ctx, cart.Token)
		assert.ErrorIs(t, err, domain.ErrCartNotFound)
		_, err = s.UpdateCart(ctx, cart.Token, addAmber)
		assert.ErrorIs(t, err, domain.ErrCartNotFound)

		n, err := s.DeleteExpiredCarts(ctx, time.Now())
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, int64(1))
	})

	t.Run("settlement state is sticky once terminal", func(t *testing.T) {
		session := newSession("ref-sticky")
		require.NoError(t, s.CreatePaymentSession(ctx, session))

		require.NoError(t, s.UpdateSettlementState(ctx, session.Reference, domain.SettlementVerifying))
		require.NoError(t, s.UpdateSettlementState(ctx, session.Reference, domain.SettlementFailed))
		require.NoError(t, s.UpdateSettlementState(ctx, session.Reference, domain.SettlementVerifying))

		loaded, err := s.GetPaymentSession(ctx, session.Reference)
		require.NoError(t, err)
		assert.Equal(t, domain.SettlementFailed, loaded.State)
		assert.Equal(t, "Ama Mensah", loaded.Metadata.FullName)
		require.Len(t, loaded.Metadata.Items, 1)
		assert.True(t, loaded.Metadata.Items[0].UnitPrice.Equal(decimal.RequireFromString("25.00")))

		err = s.UpdateSettlementState(ctx, "ref-missing", domain.SettlementVerifying)
		assert.ErrorIs(t, err, domain.ErrPaymentSessionNotFound)
		_, err = s.GetPaymentSession(ctx, "ref-missing")
		assert.ErrorIs(t, err, domain.ErrPaymentSessionNotFound)
	})

	t.Run("order is created exactly once per reference", func(t *testing.T) {
		session := newSession("ref-once")
		require.NoError(t, s.CreatePaymentSession(ctx, session))

		before, err := s.GetPromoByCode(ctx, "SAVE10")
		require.NoError(t, err)

		const callers = 12
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			created int
			numbers = map[string]bool{}
		)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				order := newOrder(session, fmt.Sprintf("ORD-20260101000000-%06X", i))
				stored, ok, err := s.CreateOrder(ctx, order, settledEvent(order))
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				defer mu.Unlock()
				if ok {
					created++
				}
				numbers[stored.OrderNumber] = true
			}(i)
		}
		wg.Wait()

		assert.Equal(t, 1, created)
		assert.Len(t, numbers, 1)

		order, err := s.GetOrderByPaymentReference(ctx, session.Reference)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusCompleted, order.Status)
		assert.True(t, order.TotalAmount.Equal(decimal.RequireFromString("45.00")))
		require.Len(t, order.Items, 1)
		assert.Equal(t, amberNights, order.Items[0].Reference)
		assert.True(t, order.Items[0].Subtotal.Equal(decimal.RequireFromString("50.00")))

		byNumber, err := s.GetOrderByNumber(ctx, order.OrderNumber)
		require.NoError(t, err)
		assert.Equal(t, order.ID, byNumber.ID)

		loaded, err := s.GetPaymentSession(ctx, session.Reference)
		require.NoError(t, err)
		assert.Equal(t, domain.SettlementSettled, loaded.State)

		after, err := s.GetPromoByCode(ctx, "SAVE10")
		require.NoError(t, err)
		assert.Equal(t, before.TimesUsed+1, after.TimesUsed)

		events, err := s.FetchPendingEvents(ctx, 10)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, domain.TopicOrderSettled, events[0].Topic)
		assert.Equal(t, order.OrderNumber, events[0].Key)

		var payload domain.OrderSettledEvent
		require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
		assert.Equal(t, session.Reference, payload.PaymentReference)

		require.NoError(t, s.MarkEventSent(ctx, events[0].ID))
		events, err = s.FetchPendingEvents(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, events)

		_, err = s.GetOrderByNumber(ctx, "ORD-MISSING")
		assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	})
}

func newSession(reference string) *domain.PaymentSession {
	now := time.Now()
	return &domain.PaymentSession{
		Reference:        reference,
		Provider:         "paystack",
		AuthorizationURL: "https://checkout.paystack.com/" + reference,
		CartID:           uuid.New(),
		Email:            "ama@example.com",
		AmountMinorUnits: 4500,
		Currency:         "GHS",
		CallbackURL:      "https://shop.example/success",
		Metadata: domain.SessionMetadata{
			FullName:        "Ama Mensah",
			ShippingAddress: "12 Ring Road, Accra",
			PromoCode:       "SAVE10",
			Items: []domain.SessionItem{{
				Kind: domain.KindProduct, ProductID: 5, Name: "Amber Nights",
				Size: "50ml", Quantity: 2, UnitPrice: decimal.RequireFromString("25.00"),
			}},
		},
		State:     domain.SettlementInitiated,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func newOrder(session *domain.PaymentSession, number string) *domain.Order {
	return &domain.Order{
		OrderNumber:      number,
		PaymentReference: session.Reference,
		Status:           domain.OrderStatusCompleted,
		Email:            session.Email,
		FullName:         session.Metadata.FullName,
		ShippingAddress:  session.Metadata.ShippingAddress,
		Currency:         session.Currency,
		PromoCode:        session.Metadata.PromoCode,
		TotalAmount:      decimal.RequireFromString("45.00"),
		Items:            session.Metadata.OrderItems(),
	}
}

func settledEvent(order *domain.Order) *domain.OutboxEvent {
	payload, _ := json.Marshal(domain.OrderSettledEvent{
		OrderNumber:      order.OrderNumber,
		PaymentReference: order.PaymentReference,
		Email:            order.Email,
		Currency:         order.Currency,
		TotalAmount:      order.TotalAmount.StringFixed(2),
	})
	return &domain.OutboxEvent{
		Topic:   domain.TopicOrderSettled,
		Key:     order.OrderNumber,
		Payload: payload,
	}
}
