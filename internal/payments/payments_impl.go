package payments

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/gullveig/internal/domain"
	"github.com/dukerupert/gullveig/internal/gateway"
	"github.com/dukerupert/gullveig/internal/store"
)

// ServiceImpl implements Service over the store and the payment gateway.
type ServiceImpl struct {
	store    store.Store
	provider gateway.Provider
	logger   *slog.Logger
}

var _ Service = (*ServiceImpl)(nil)

func NewService(s store.Store, provider gateway.Provider, logger *slog.Logger) *ServiceImpl {
	return &ServiceImpl{
		store:    s,
		provider: provider,
		logger:   logger,
	}
}

// =============================================================================
// Customer provisioning
// =============================================================================

func (s *ServiceImpl) EnablePayments(ctx context.Context, uid uuid.UUID) error {
	const op = "payments.enablePayments"

	// Phase 1: ensure the local record with its idempotency seed exists.
	var seed string
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		existing, err := tx.GetBillingCustomer(ctx, uid)
		if err != nil {
			return err
		}
		if existing != nil {
			if existing.CustomerID != "" {
				return domain.Conflict(op, "payments already enabled")
			}
			// Provisioning was interrupted before the gateway customer
			// was applied; resume with the stored seed.
			seed = existing.IdempotencySeed
			return nil
		}
		seed = uuid.NewString()
		return tx.CreateBillingCustomer(ctx, &domain.BillingCustomer{
			UID:             uid,
			IdempotencySeed: seed,
			CreatedAt:       time.Now(),
		})
	})
	if err != nil {
		return err
	}

	// Phase 2: gateway call, outside any transaction. The stable key
	// makes a repeat of this step return the same customer.
	customerID, err := s.provider.CreateCustomer(ctx, gateway.CreateCustomerParams{
		UID:            uid.String(),
		IdempotencyKey: Key(seed, "customer", ""),
	})
	if err != nil {
		return domain.Internal(err, op, "failed to create gateway customer")
	}

	// Phase 3: apply the id, first-write-wins.
	return s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		applied, err := tx.ApplyCustomerID(ctx, uid, customerID)
		if err != nil {
			return err
		}
		if !applied {
			s.logger.Info("gateway customer id already applied",
				slog.String("uid", uid.String()))
		}
		return nil
	})
}

func (s *ServiceImpl) GetCustomerID(ctx context.Context, uid uuid.UUID) (string, error) {
	var customerID string
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		c, err := CustomerFor(ctx, tx, uid)
		if err != nil {
			return err
		}
		customerID = c.CustomerID
		return nil
	})
	return customerID, err
}

// =============================================================================
// Card management
// =============================================================================

func (s *ServiceImpl) AddCard(ctx context.Context, uid uuid.UUID, paymentMethodID string) (*domain.PaymentMethod, error) {
	const op = "payments.addCard"

	if paymentMethodID == "" {
		return nil, domain.Invalid(op, "payment method id is required")
	}

	var (
		customer *domain.BillingCustomer
		existing *domain.PaymentMethod
	)
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		c, err := CustomerFor(ctx, tx, uid)
		if err != nil {
			return err
		}
		customer = c
		existing, err = tx.GetPaymentMethod(ctx, paymentMethodID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.UID != uid {
			return nil, domain.Forbidden(op, "payment method belongs to another user")
		}
		return existing, nil
	}

	card, err := s.provider.AttachPaymentMethod(ctx, gateway.AttachParams{
		CustomerID:      customer.CustomerID,
		PaymentMethodID: paymentMethodID,
		IdempotencyKey:  Key(customer.IdempotencySeed, "attach:"+paymentMethodID, ""),
	})
	if err != nil {
		return nil, domain.Internal(err, op, "failed to attach payment method")
	}

	var method *domain.PaymentMethod
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		// A concurrent AddCard for the same card may have won; keep its row.
		current, err := tx.GetPaymentMethod(ctx, paymentMethodID)
		if err != nil {
			return err
		}
		if current != nil {
			method = current
			return nil
		}

		others, err := tx.ListPaymentMethods(ctx, uid)
		if err != nil {
			return err
		}
		method = &domain.PaymentMethod{
			ID:        card.ID,
			UID:       uid,
			Brand:     card.Brand,
			Last4:     card.Last4,
			IsDefault: len(others) == 0,
			CreatedAt: time.Now(),
		}
		return tx.CreatePaymentMethod(ctx, method)
	})
	if err != nil {
		return nil, err
	}
	return method, nil
}

func (s *ServiceImpl) RemoveCard(ctx context.Context, uid uuid.UUID, paymentMethodID string) (bool, error) {
	const op = "payments.removeCard"

	var known bool
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		m, err := tx.GetPaymentMethod(ctx, paymentMethodID)
		if err != nil {
			return err
		}
		known = m != nil && m.UID == uid
		return nil
	})
	if err != nil || !known {
		return false, err
	}

	// Detach first so a crash leaves a local row pointing at a detached
	// card, which a repeated RemoveCard cleans up.
	if err := s.provider.DetachPaymentMethod(ctx, paymentMethodID); err != nil {
		return false, domain.Internal(err, op, "failed to detach payment method")
	}

	var removed bool
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		m, err := tx.GetPaymentMethod(ctx, paymentMethodID)
		if err != nil {
			return err
		}
		if m == nil || m.UID != uid {
			return nil
		}
		removed, err = tx.DeletePaymentMethod(ctx, paymentMethodID)
		if err != nil || !removed || !m.IsDefault {
			return err
		}

		// The default was removed; promote an arbitrary remaining card.
		remaining, err := tx.ListPaymentMethods(ctx, uid)
		if err != nil || len(remaining) == 0 {
			return err
		}
		return tx.SetDefaultPaymentMethod(ctx, uid, remaining[0].ID)
	})
	return removed, err
}

func (s *ServiceImpl) MakeDefault(ctx context.Context, uid uuid.UUID, paymentMethodID string) (bool, error) {
	var changed bool
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		m, err := tx.GetPaymentMethod(ctx, paymentMethodID)
		if err != nil {
			return err
		}
		if m == nil || m.UID != uid || m.IsDefault {
			return nil
		}
		if err := tx.SetDefaultPaymentMethod(ctx, uid, paymentMethodID); err != nil {
			return err
		}
		changed = true
		return nil
	})
	return changed, err
}

func (s *ServiceImpl) ListCards(ctx context.Context, uid uuid.UUID) ([]*domain.PaymentMethod, error) {
	var cards []*domain.PaymentMethod
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		cards, err = tx.ListPaymentMethods(ctx, uid)
		return err
	})
	return cards, err
}
