package jobs

import (
	"context"
	"fmt"

	"github.com/dukerupert/aroma/internal/domain"
	"github.com/dukerupert/aroma/internal/events"
)

// DefaultRelayBatchSize is how many outbox rows one relay run publishes.
const DefaultRelayBatchSize = 100

// RelayResult reports one relay run.
type RelayResult struct {
	Published int
	ByTopic   map[string]int
}

// RelayOutbox publishes pending outbox events oldest first and marks each
// sent once the broker accepts it. It stops at the first publish failure so
// later events are never delivered ahead of an earlier one for the same run.
// An event published but not marked is published again next run; consumers
// drop duplicates by event ID.
func RelayOutbox(ctx context.Context, store domain.OutboxStore, pub events.Publisher, batchSize int) (*RelayResult, error) {
	if batchSize <= 0 {
		batchSize = DefaultRelayBatchSize
	}

	pending, err := store.FetchPendingEvents(ctx, batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending events: %w", err)
	}

	result := &RelayResult{ByTopic: make(map[string]int)}
	for _, ev := range pending {
		err := pub.Publish(ctx, events.Message{
			ID:    ev.ID.String(),
			Topic: ev.Topic,
			Key:   ev.Key,
			Data:  ev.Payload,
		})
		if err != nil {
			return result, fmt.Errorf("failed to publish event %s: %w", ev.ID, err)
		}

		if err := store.MarkEventSent(ctx, ev.ID); err != nil {
			return result, fmt.Errorf("failed to mark event %s sent: %w", ev.ID, err)
		}

		result.Published++
		result.ByTopic[ev.Topic]++
	}

	return result, nil
}
