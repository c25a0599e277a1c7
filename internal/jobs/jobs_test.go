package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/dukerupert/aroma/internal/domain"
	"github.com/dukerupert/aroma/internal/email"
	"github.com/dukerupert/aroma/internal/events"
	"github.com/dukerupert/aroma/internal/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	published []events.Message
	failAfter int
}

func (p *recordingPublisher) Publish(ctx context.Context, msg events.Message) error {
	if p.failAfter >= 0 && len(p.published) >= p.failAfter {
		return errors.New("nats: connection closed")
	}
	p.published = append(p.published, msg)
	return nil
}

func settle(t *testing.T, s *memory.Store, reference, number string, at time.Time) *domain.Order {
	t.Helper()
	order := &domain.Order{
		OrderNumber:      number,
		PaymentReference: reference,
		Status:           domain.OrderStatusCompleted,
		Email:            "ama@example.com",
		Currency:         "GHS",
		TotalAmount:      decimal.RequireFromString("25.00"),
		Items: []domain.OrderItem{{
			Reference:   domain.ProductReference{Kind: domain.KindProduct, ID: 5},
			ProductName: "Amber Nights",
			UnitPrice:   decimal.RequireFromString("25.00"),
			Quantity:    1,
			Size:        "50ml",
			Subtotal:    decimal.RequireFromString("25.00"),
		}},
	}
	payload, err := json.Marshal(domain.OrderSettledEvent{OrderNumber: number, PaymentReference: reference})
	require.NoError(t, err)

	stored, created, err := s.CreateOrder(context.Background(), order, &domain.OutboxEvent{
		Topic:     domain.TopicOrderSettled,
		Key:       number,
		Payload:   payload,
		CreatedAt: at,
	})
	require.NoError(t, err)
	require.True(t, created)
	return stored
}

func TestRelayOutbox(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()
	base := time.Now()
	settle(t, s, "ref-1", "ORD-1", base)
	settle(t, s, "ref-2", "ORD-2", base.Add(time.Second))

	pub := &recordingPublisher{failAfter: -1}
	result, err := RelayOutbox(ctx, s, pub, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Published)
	assert.Equal(t, 2, result.ByTopic[domain.TopicOrderSettled])

	require.Len(t, pub.published, 2)
	assert.Equal(t, "ORD-1", pub.published[0].Key)
	assert.Equal(t, "ORD-2", pub.published[1].Key)
	assert.NotEmpty(t, pub.published[0].ID)

	// nothing left to relay
	result, err = RelayOutbox(ctx, s, pub, 10)
	require.NoError(t, err)
	assert.Zero(t, result.Published)
	assert.Len(t, pub.published, 2)
}

func TestRelayOutbox_StopsAtFirstFailure(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()
	base := time.Now()
	settle(t, s, "ref-1", "ORD-1", base)
	settle(t, s, "ref-2", "ORD-2", base.Add(time.Second))

	pub := &recordingPublisher{failAfter: 1}
	result, err := RelayOutbox(ctx, s, pub, 10)
	require.Error(t, err)
	assert.Equal(t, 1, result.Published)

	pending, err := s.FetchPendingEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "ORD-2", pending[0].Key)
}

func TestCleanupExpiredCarts(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()
	now := time.Now()

	require.NoError(t, s.CreateCart(ctx, domain.NewCart("old", now.Add(-48*time.Hour), 24*time.Hour)))
	require.NoError(t, s.CreateCart(ctx, domain.NewCart("live", now, 24*time.Hour)))

	result, err := CleanupExpiredCarts(ctx, s, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.CartsDeleted)

	_, err = s.GetCart(ctx, "live")
	assert.NoError(t, err)
}

type recordingMailer struct {
	sent []email.OrderConfirmationEmail
}

func (m *recordingMailer) SendOrderConfirmation(ctx context.Context, data email.OrderConfirmationEmail) error {
	m.sent = append(m.sent, data)
	return nil
}

func TestProcessOrderConfirmation(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()
	settle(t, s, "ref-1", "ORD-1", time.Now())

	pending, err := s.FetchPendingEvents(ctx, 1)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	mailer := &recordingMailer{}
	msg := events.Message{Topic: domain.TopicOrderSettled, Key: "ORD-1", Data: pending[0].Payload}
	require.NoError(t, ProcessOrderConfirmation(ctx, msg, s, mailer))

	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "ORD-1", mailer.sent[0].OrderNumber)
	assert.Equal(t, "ama@example.com", mailer.sent[0].Email)
	assert.Equal(t, "25.00", mailer.sent[0].Total)
	require.Len(t, mailer.sent[0].Items, 1)
	assert.Equal(t, "Amber Nights", mailer.sent[0].Items[0].ProductName)
}

func TestProcessOrderConfirmation_Errors(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore()
	mailer := &recordingMailer{}

	err := ProcessOrderConfirmation(ctx, events.Message{Data: []byte("{not json")}, s, mailer)
	assert.Error(t, err)

	err = ProcessOrderConfirmation(ctx, events.Message{Data: []byte(`{}`)}, s, mailer)
	assert.Error(t, err)

	err = ProcessOrderConfirmation(ctx, events.Message{Data: []byte(`{"order_number":"ORD-404"}`)}, s, mailer)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)

	assert.Empty(t, mailer.sent)
}
