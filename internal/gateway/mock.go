package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MockProvider is a mock payment gateway for testing.
// Simulates charge flows without calling the real API.
type MockProvider struct {
	// CreateCustomerFunc allows customizing customer creation behavior
	CreateCustomerFunc func(ctx context.Context, params CreateCustomerParams) (string, error)

	// AttachPaymentMethodFunc allows customizing card attachment behavior
	AttachPaymentMethodFunc func(ctx context.Context, params AttachParams) (*Card, error)

	// CreatePaymentIntentFunc allows customizing intent creation behavior
	CreatePaymentIntentFunc func(ctx context.Context, params CreateIntentParams) (*Intent, error)

	// ConfirmPaymentIntentFunc allows customizing intent confirmation behavior
	ConfirmPaymentIntentFunc func(ctx context.Context, params ConfirmIntentParams) (*Intent, error)

	// Intents stores created payment intents for retrieval
	Intents map[string]*Intent

	// Customers maps customer id to the uid it was created for
	Customers map[string]string

	// Events is the ordered event log served by ListEvents
	Events []Event

	// SeenIdempotencyKeys records every idempotency key passed in,
	// so tests can assert stable keys across retries
	SeenIdempotencyKeys []string

	// CallLog tracks method calls for test assertions
	CallLog []string
}

var _ Provider = (*MockProvider)(nil)

// NewMockProvider creates a new mock gateway provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Intents:   make(map[string]*Intent),
		Customers: make(map[string]string),
		CallLog:   []string{},
	}
}

// CreateCustomer creates a mock customer.
func (m *MockProvider) CreateCustomer(ctx context.Context, params CreateCustomerParams) (string, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("CreateCustomer(%s)", params.UID))
	m.SeenIdempotencyKeys = append(m.SeenIdempotencyKeys, params.IdempotencyKey)

	if m.CreateCustomerFunc != nil {
		return m.CreateCustomerFunc(ctx, params)
	}

	id := "cus_" + uuid.New().String()[:8]
	m.Customers[id] = params.UID
	return id, nil
}

// AttachPaymentMethod attaches a mock card.
func (m *MockProvider) AttachPaymentMethod(ctx context.Context, params AttachParams) (*Card, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("AttachPaymentMethod(%s, %s)", params.CustomerID, params.PaymentMethodID))
	m.SeenIdempotencyKeys = append(m.SeenIdempotencyKeys, params.IdempotencyKey)

	if m.AttachPaymentMethodFunc != nil {
		return m.AttachPaymentMethodFunc(ctx, params)
	}

	return &Card{ID: params.PaymentMethodID, Brand: "visa", Last4: "4242"}, nil
}

// DetachPaymentMethod detaches a mock card.
func (m *MockProvider) DetachPaymentMethod(ctx context.Context, paymentMethodID string) error {
	m.CallLog = append(m.CallLog, fmt.Sprintf("DetachPaymentMethod(%s)", paymentMethodID))
	return nil
}

// CreatePaymentIntent creates a mock payment intent that succeeds immediately.
func (m *MockProvider) CreatePaymentIntent(ctx context.Context, params CreateIntentParams) (*Intent, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("CreatePaymentIntent(%d, %s)", params.AmountCents, params.CustomerID))
	m.SeenIdempotencyKeys = append(m.SeenIdempotencyKeys, params.IdempotencyKey)

	if m.CreatePaymentIntentFunc != nil {
		return m.CreatePaymentIntentFunc(ctx, params)
	}

	pi := &Intent{
		ID:          "pi_" + uuid.New().String(),
		AmountCents: params.AmountCents,
		Status:      IntentStatusSucceeded,
		CreatedAt:   time.Now(),
	}
	m.Intents[pi.ID] = pi
	return pi, nil
}

// ConfirmPaymentIntent confirms a mock payment intent.
func (m *MockProvider) ConfirmPaymentIntent(ctx context.Context, params ConfirmIntentParams) (*Intent, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("ConfirmPaymentIntent(%s)", params.IntentID))
	m.SeenIdempotencyKeys = append(m.SeenIdempotencyKeys, params.IdempotencyKey)

	if m.ConfirmPaymentIntentFunc != nil {
		return m.ConfirmPaymentIntentFunc(ctx, params)
	}

	pi, exists := m.Intents[params.IntentID]
	if !exists {
		return nil, ErrIntentNotFound
	}
	pi.Status = IntentStatusSucceeded
	return pi, nil
}

// GetPaymentIntent retrieves a mock payment intent.
func (m *MockProvider) GetPaymentIntent(ctx context.Context, intentID string) (*Intent, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("GetPaymentIntent(%s)", intentID))

	pi, exists := m.Intents[intentID]
	if !exists {
		return nil, ErrIntentNotFound
	}
	return pi, nil
}

// CancelPaymentIntent cancels a mock payment intent.
func (m *MockProvider) CancelPaymentIntent(ctx context.Context, intentID, idempotencyKey string) error {
	m.CallLog = append(m.CallLog, fmt.Sprintf("CancelPaymentIntent(%s)", intentID))
	m.SeenIdempotencyKeys = append(m.SeenIdempotencyKeys, idempotencyKey)

	pi, exists := m.Intents[intentID]
	if !exists {
		return ErrIntentNotFound
	}
	if pi.Status == IntentStatusSucceeded || pi.Status == IntentStatusCanceled {
		// Terminal intents stay put, mirroring how the real provider
		// swallows the unexpected-state error.
		return nil
	}
	pi.Status = IntentStatusCanceled
	return nil
}

// ListEvents serves the mock event log after the given cursor.
func (m *MockProvider) ListEvents(ctx context.Context, cursor string, limit int) ([]Event, string, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("ListEvents(%s)", cursor))

	start := 0
	if cursor != "" {
		for i, e := range m.Events {
			if e.ID == cursor {
				start = i + 1
				break
			}
		}
	}
	if start >= len(m.Events) {
		return nil, cursor, nil
	}

	end := len(m.Events)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	out := make([]Event, end-start)
	copy(out, m.Events[start:end])
	return out, out[len(out)-1].ID, nil
}

// PushEvent appends an event to the mock log.
// Used in tests to simulate gateway notifications.
func (m *MockProvider) PushEvent(eventType, intentID string) string {
	e := Event{
		ID:       "evt_" + uuid.New().String()[:8],
		Type:     eventType,
		IntentID: intentID,
		Created:  time.Now(),
	}
	m.Events = append(m.Events, e)
	return e.ID
}

// SimulateDeclinedIntent makes intent creation and confirmation fail
// with a card decline until reset.
func (m *MockProvider) SimulateDeclinedIntent(declineCode string) {
	fail := func() error {
		return &GatewayError{
			Message:     "your card was declined",
			Code:        "card_declined",
			DeclineCode: declineCode,
		}
	}
	m.CreatePaymentIntentFunc = func(ctx context.Context, params CreateIntentParams) (*Intent, error) {
		return nil, fail()
	}
	m.ConfirmPaymentIntentFunc = func(ctx context.Context, params ConfirmIntentParams) (*Intent, error) {
		return nil, fail()
	}
}

// SimulateActionRequired makes intent creation return an intent stuck in
// requires_action, as when 3DS authentication is needed.
func (m *MockProvider) SimulateActionRequired() {
	m.CreatePaymentIntentFunc = func(ctx context.Context, params CreateIntentParams) (*Intent, error) {
		pi := &Intent{
			ID:          "pi_" + uuid.New().String(),
			AmountCents: params.AmountCents,
			Status:      IntentStatusRequiresAction,
			CreatedAt:   time.Now(),
		}
		m.Intents[pi.ID] = pi
		return pi, nil
	}
}

// Reset clears custom behaviors, keeping stored state.
func (m *MockProvider) Reset() {
	m.CreateCustomerFunc = nil
	m.AttachPaymentMethodFunc = nil
	m.CreatePaymentIntentFunc = nil
	m.ConfirmPaymentIntentFunc = nil
}
