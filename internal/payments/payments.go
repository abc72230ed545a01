package payments

import (
	"context"

	"github.com/google/uuid"

	"github.com/dukerupert/gullveig/internal/domain"
)

// Service manages gateway customers and registered cards for users.
// Gateway calls never run inside a store transaction: the record is
// prepared first, the gateway call follows, and the result is applied in
// a second transaction with first-write-wins semantics, so a crash
// between the two is healed by retrying.
type Service interface {
	// EnablePayments provisions a billing customer for the user: a local
	// record with a fresh idempotency seed, then the gateway customer.
	// Fails with ECONFLICT if payments are already enabled; a retry after
	// a partial failure resumes provisioning instead.
	EnablePayments(ctx context.Context, uid uuid.UUID) error

	// GetCustomerID returns the gateway customer id for the user.
	GetCustomerID(ctx context.Context, uid uuid.UUID) (string, error)

	// AddCard attaches a payment method to the user's gateway customer
	// and registers it locally. The user's first card becomes the
	// default. Adding an already-registered card returns the existing
	// record unchanged.
	AddCard(ctx context.Context, uid uuid.UUID, paymentMethodID string) (*domain.PaymentMethod, error)

	// RemoveCard detaches and deletes a card. Removing the default
	// promotes an arbitrary remaining card. Returns false without error
	// when the card is unknown or belongs to another user.
	RemoveCard(ctx context.Context, uid uuid.UUID, paymentMethodID string) (bool, error)

	// MakeDefault makes the card the user's only default. Returns false
	// without error when the card is unknown, foreign, or already the
	// default.
	MakeDefault(ctx context.Context, uid uuid.UUID, paymentMethodID string) (bool, error)

	// ListCards returns the user's registered cards.
	ListCards(ctx context.Context, uid uuid.UUID) ([]*domain.PaymentMethod, error)
}
