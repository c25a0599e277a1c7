// Package events carries outbox events between processes over NATS.
package events

import (
	"context"
	"errors"
)

// HeaderKey carries the event's partition key, usually an order number.
const HeaderKey = "Aroma-Event-Key"

// HeaderEventID carries the outbox row ID so consumers can drop duplicates.
const HeaderEventID = "Aroma-Event-Id"

// ErrClosed is returned when publishing on a closed connection.
var ErrClosed = errors.New("events: connection closed")

// Message is one delivered event.
type Message struct {
	ID    string
	Topic string
	Key   string
	Data  []byte
}

// Publisher sends events to subscribers of a topic.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Handler processes a delivered message. A returned error is logged; the
// message is not redelivered.
type Handler func(ctx context.Context, msg Message) error
