package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dukerupert/aroma/internal/domain"
	"github.com/dukerupert/aroma/internal/email"
	"github.com/dukerupert/aroma/internal/events"
)

// OrderConfirmationSender is the part of email.Service the job needs.
type OrderConfirmationSender interface {
	SendOrderConfirmation(ctx context.Context, data email.OrderConfirmationEmail) error
}

// ProcessOrderConfirmation handles an orders.settled event by mailing the
// shopper. The order is reloaded so the email shows stored line items rather
// than whatever the event carried.
func ProcessOrderConfirmation(ctx context.Context, msg events.Message, orders domain.OrderStore, mailer OrderConfirmationSender) error {
	var event domain.OrderSettledEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		return fmt.Errorf("failed to unmarshal order settled event: %w", err)
	}
	if event.OrderNumber == "" {
		return errors.New("order settled event has no order number")
	}

	order, err := orders.GetOrderByNumber(ctx, event.OrderNumber)
	if err != nil {
		return fmt.Errorf("failed to load order %s: %w", event.OrderNumber, err)
	}

	if err := mailer.SendOrderConfirmation(ctx, email.NewOrderConfirmation(order)); err != nil {
		return fmt.Errorf("failed to send confirmation for %s: %w", order.OrderNumber, err)
	}
	return nil
}
