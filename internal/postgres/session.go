package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dukerupert/aroma/internal/domain"
	"github.com/jackc/pgx/v5"
)

// CreatePaymentSession records a session registered with the provider.
func (s *Store) CreatePaymentSession(ctx context.Context, session *domain.PaymentSession) error {
	metadata, err := json.Marshal(session.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode session metadata: %w", err)
	}

	state := session.State
	if state == "" {
		state = domain.SettlementInitiated
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO payment_sessions (reference, provider, authorization_url, access_code,
			cart_id, email, amount_minor, currency, callback_url, metadata, state,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		session.Reference, session.Provider, session.AuthorizationURL, session.AccessCode,
		session.CartID, session.Email, session.AmountMinorUnits, session.Currency,
		session.CallbackURL, metadata, string(state), session.CreatedAt, session.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Conflict("postgres.create_payment_session", "payment reference already registered")
		}
		return fmt.Errorf("failed to create payment session: %w", err)
	}
	return nil
}

// GetPaymentSession loads a session by provider reference.
func (s *Store) GetPaymentSession(ctx context.Context, reference string) (*domain.PaymentSession, error) {
	var (
		session  domain.PaymentSession
		metadata []byte
		state    string
	)

	err := s.pool.QueryRow(ctx, `
		SELECT reference, provider, authorization_url, access_code, cart_id, email,
			amount_minor, currency, callback_url, metadata, state, created_at, updated_at
		FROM payment_sessions
		WHERE reference = $1`,
		reference,
	).Scan(
		&session.Reference, &session.Provider, &session.AuthorizationURL, &session.AccessCode,
		&session.CartID, &session.Email, &session.AmountMinorUnits, &session.Currency,
		&session.CallbackURL, &metadata, &state, &session.CreatedAt, &session.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPaymentSessionNotFound
		}
		return nil, fmt.Errorf("failed to get payment session: %w", err)
	}

	if err := json.Unmarshal(metadata, &session.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode session metadata: %w", err)
	}
	session.State = domain.SettlementState(state)
	return &session, nil
}

// UpdateSettlementState moves a non-terminal session to state. A session
// already settled or failed is left as it is.
func (s *Store) UpdateSettlementState(ctx context.Context, reference string, state domain.SettlementState) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE payment_sessions
		SET state = $2, updated_at = now()
		WHERE reference = $1 AND state NOT IN ('settled', 'failed')`,
		reference, string(state),
	)
	if err != nil {
		return fmt.Errorf("failed to update settlement state: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM payment_sessions WHERE reference = $1)`, reference,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check payment session: %w", err)
	}
	if !exists {
		return domain.ErrPaymentSessionNotFound
	}
	return nil
}
