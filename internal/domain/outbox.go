package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Outbox topics.
const (
	TopicOrderSettled = "orders.settled"
)

// OutboxEvent is a message recorded in the same transaction as the state
// change it describes, and relayed to the broker afterwards.
type OutboxEvent struct {
	ID        uuid.UUID
	Topic     string
	Key       string
	Payload   []byte
	CreatedAt time.Time
	SentAt    *time.Time
}

// OutboxStore reads and acknowledges pending outbox events.
type OutboxStore interface {
	FetchPendingEvents(ctx context.Context, limit int) ([]OutboxEvent, error)
	MarkEventSent(ctx context.Context, id uuid.UUID) error
}

// OrderSettledEvent is the payload published on TopicOrderSettled.
type OrderSettledEvent struct {
	OrderID          uuid.UUID `json:"order_id"`
	OrderNumber      string    `json:"order_number"`
	PaymentReference string    `json:"payment_reference"`
	Email            string    `json:"email"`
	FullName         string    `json:"full_name,omitempty"`
	Currency         string    `json:"currency"`
	TotalAmount      string    `json:"total_amount"`
	ItemCount        int       `json:"item_count"`
	SettledAt        time.Time `json:"settled_at"`
}
