package billing

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MockProvider is a mock billing provider for testing.
// Simulates hosted-page payments without calling a real provider. Safe for
// concurrent use.
type MockProvider struct {
	// InitializeFunc allows customizing transaction initialization behavior
	InitializeFunc func(ctx context.Context, params InitializeParams) (*Transaction, error)

	// VerifyFunc allows customizing verification behavior
	VerifyFunc func(ctx context.Context, reference string) (*Transaction, error)

	// ParseWebhookFunc allows customizing webhook parsing behavior
	ParseWebhookFunc func(payload []byte, signature string) (*WebhookEvent, error)

	mu sync.Mutex

	// Transactions stores initialized transactions for verification
	Transactions map[string]*Transaction

	// CallLog tracks method calls for test assertions
	CallLog []string
}

var _ Provider = (*MockProvider)(nil)

// NewMockProvider creates a new mock billing provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Transactions: make(map[string]*Transaction),
		CallLog:      []string{},
	}
}

// Name implements Provider.
func (m *MockProvider) Name() string { return "mock" }

// SignatureHeader implements Provider.
func (m *MockProvider) SignatureHeader() string { return "X-Mock-Signature" }

func (m *MockProvider) logCall(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallLog = append(m.CallLog, call)
}

// Calls returns a copy of the call log.
func (m *MockProvider) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.CallLog...)
}

// InitializeTransaction records a pending transaction.
func (m *MockProvider) InitializeTransaction(ctx context.Context, params InitializeParams) (*Transaction, error) {
	m.logCall(fmt.Sprintf("InitializeTransaction(%d, %s)", params.AmountMinorUnits, params.Currency))

	if m.InitializeFunc != nil {
		return m.InitializeFunc(ctx, params)
	}

	ref := "ref_" + uuid.New().String()
	tx := &Transaction{
		Reference:        ref,
		AuthorizationURL: "https://checkout.example.test/" + ref,
		AccessCode:       "ac_" + uuid.New().String()[:8],
		Status:           StatusPending,
		AmountMinorUnits: params.AmountMinorUnits,
		Currency:         params.Currency,
		CustomerEmail:    params.Email,
		Metadata:         params.Metadata,
	}

	m.mu.Lock()
	m.Transactions[ref] = tx
	m.mu.Unlock()

	out := *tx
	return &out, nil
}

// VerifyTransaction returns the stored transaction.
func (m *MockProvider) VerifyTransaction(ctx context.Context, reference string) (*Transaction, error) {
	m.logCall(fmt.Sprintf("VerifyTransaction(%s)", reference))

	if m.VerifyFunc != nil {
		return m.VerifyFunc(ctx, reference)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.Transactions[reference]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, reference)
	}
	out := *tx
	return &out, nil
}

// ParseWebhook treats the signature "valid" as authentic and the payload as
// the reference of a successful charge.
func (m *MockProvider) ParseWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	m.logCall("ParseWebhook")

	if m.ParseWebhookFunc != nil {
		return m.ParseWebhookFunc(payload, signature)
	}
	if signature != "valid" {
		return nil, ErrInvalidWebhookSignature
	}
	return &WebhookEvent{Type: "charge.success", Reference: string(payload), Settles: true}, nil
}

// Complete marks a stored transaction as paid, as if the shopper finished
// on the hosted page.
func (m *MockProvider) Complete(reference string) {
	m.setStatus(reference, StatusSuccess, "Approved")
}

// Decline marks a stored transaction as failed.
func (m *MockProvider) Decline(reference string) {
	m.setStatus(reference, StatusFailed, "Declined")
}

func (m *MockProvider) setStatus(reference string, status TransactionStatus, gateway string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tx, ok := m.Transactions[reference]; ok {
		tx.Status = status
		tx.GatewayResponse = gateway
	}
}
