package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultHandlerTimeout bounds a single handler invocation.
const DefaultHandlerTimeout = 30 * time.Second

// Bus publishes and subscribes over a NATS connection.
type Bus struct {
	conn   *nats.Conn
	logger *slog.Logger
}

var _ Publisher = (*Bus)(nil)

// Connect dials url and returns a Bus that reconnects indefinitely.
func Connect(url, name string, logger *slog.Logger) (*Bus, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	return NewBus(conn, logger), nil
}

// NewBus wraps an existing connection.
func NewBus(conn *nats.Conn, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{conn: conn, logger: logger}
}

// Publish sends msg on its topic and flushes so a nil error means the
// server accepted it.
func (b *Bus) Publish(ctx context.Context, msg Message) error {
	if b.conn.IsClosed() {
		return ErrClosed
	}

	m := nats.NewMsg(msg.Topic)
	m.Data = msg.Data
	m.Header.Set(HeaderKey, msg.Key)
	m.Header.Set(HeaderEventID, msg.ID)

	if err := b.conn.PublishMsg(m); err != nil {
		return fmt.Errorf("failed to publish %s: %w", msg.Topic, err)
	}
	if err := b.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("failed to flush %s: %w", msg.Topic, err)
	}
	return nil
}

// Subscribe delivers topic to handler. Subscribers sharing a queue name split
// the stream between them.
func (b *Bus) Subscribe(topic, queue string, handler Handler) (*nats.Subscription, error) {
	sub, err := b.conn.QueueSubscribe(topic, queue, func(m *nats.Msg) {
		ctx, cancel := context.WithTimeout(context.Background(), DefaultHandlerTimeout)
		defer cancel()

		msg := Message{
			Topic: m.Subject,
			Data:  m.Data,
		}
		if m.Header != nil {
			msg.Key = m.Header.Get(HeaderKey)
			msg.ID = m.Header.Get(HeaderEventID)
		}

		if err := handler(ctx, msg); err != nil {
			b.logger.Error("event handler failed",
				"topic", msg.Topic,
				"key", msg.Key,
				"event_id", msg.ID,
				"error", err,
			)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}
	return sub, nil
}

// Healthy reports whether the connection is usable.
func (b *Bus) Healthy() bool {
	return b.conn.IsConnected()
}

// Close drains subscriptions and closes the connection.
func (b *Bus) Close() error {
	return b.conn.Drain()
}

// Nop discards everything it is asked to publish.
type Nop struct{}

func (Nop) Publish(context.Context, Message) error { return nil }
