package email

import (
	"context"
	"errors"
)

// ErrNoRecipient is returned when a message has no To address.
var ErrNoRecipient = errors.New("email: no recipient")

// Email represents an email message to be sent.
type Email struct {
	To       []string          // Recipient email addresses
	From     string            // Sender address; the sender's default when empty
	Subject  string            // Email subject
	TextBody string            // Plain text body
	HTMLBody string            // HTML body (optional)
	Headers  map[string]string // Custom headers (optional)
}

// Sender delivers composed messages.
type Sender interface {
	// Send returns a message ID when the transport provides one.
	Send(ctx context.Context, email *Email) (string, error)
}
