package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/dukerupert/aroma/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func insertOutboxEvent(ctx context.Context, tx pgx.Tx, event *domain.OutboxEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO outbox (id, topic, key, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		event.ID, event.Topic, event.Key, event.Payload, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}
	return nil
}

// FetchPendingEvents returns unsent events oldest first.
func (s *Store) FetchPendingEvents(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, topic, key, payload, created_at
		FROM outbox
		WHERE sent_at IS NULL
		ORDER BY created_at
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch outbox events: %w", err)
	}

	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.OutboxEvent, error) {
		var ev domain.OutboxEvent
		err := row.Scan(&ev.ID, &ev.Topic, &ev.Key, &ev.Payload, &ev.CreatedAt)
		return ev, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan outbox events: %w", err)
	}
	return events, nil
}

// MarkEventSent records that an event reached the broker.
func (s *Store) MarkEventSent(ctx context.Context, id uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, `UPDATE outbox SET sent_at = now() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to mark outbox event sent: %w", err)
	}
	return nil
}
