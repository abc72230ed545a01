package payments

import (
	"context"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/gullveig/internal/domain"
	"github.com/dukerupert/gullveig/internal/gateway"
	"github.com/dukerupert/gullveig/internal/store"
)

func newTestService(t *testing.T) (*ServiceImpl, *store.Memory, *gateway.MockProvider) {
	t.Helper()
	st := store.NewMemory()
	provider := gateway.NewMockProvider()
	svc := NewService(st, provider, slog.Default())
	return svc, st, provider
}

func enable(t *testing.T, svc *ServiceImpl, uid uuid.UUID) {
	t.Helper()
	require.NoError(t, svc.EnablePayments(context.Background(), uid))
}

func TestEnablePayments(t *testing.T) {
	svc, st, provider := newTestService(t)
	ctx := context.Background()
	uid := uuid.New()

	require.NoError(t, svc.EnablePayments(ctx, uid))

	var customer *domain.BillingCustomer
	require.NoError(t, st.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		customer, err = tx.GetBillingCustomer(ctx, uid)
		return err
	}))
	require.NotNil(t, customer)
	assert.NotEmpty(t, customer.CustomerID)
	assert.NotEmpty(t, customer.IdempotencySeed)

	// Second enable is a conflict.
	err := svc.EnablePayments(ctx, uid)
	assert.True(t, domain.IsCode(err, domain.ECONFLICT))

	// Exactly one gateway customer was created.
	assert.Len(t, provider.Customers, 1)
}

func TestEnablePaymentsResumesAfterGatewayFailure(t *testing.T) {
	svc, _, provider := newTestService(t)
	ctx := context.Background()
	uid := uuid.New()

	provider.CreateCustomerFunc = func(ctx context.Context, params gateway.CreateCustomerParams) (string, error) {
		return "", &gateway.GatewayError{Code: "api_connection_error", Message: "down"}
	}
	require.Error(t, svc.EnablePayments(ctx, uid))

	provider.Reset()
	require.NoError(t, svc.EnablePayments(ctx, uid))

	id, err := svc.GetCustomerID(ctx, uid)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	// The resumed attempt reused the stored seed, so both gateway calls
	// carried the same idempotency key.
	require.Len(t, provider.SeenIdempotencyKeys, 2)
	assert.Equal(t, provider.SeenIdempotencyKeys[0], provider.SeenIdempotencyKeys[1])
}

func TestAddCardFirstBecomesDefault(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	uid := uuid.New()
	enable(t, svc, uid)

	first, err := svc.AddCard(ctx, uid, "pm_first")
	require.NoError(t, err)
	assert.True(t, first.IsDefault)

	second, err := svc.AddCard(ctx, uid, "pm_second")
	require.NoError(t, err)
	assert.False(t, second.IsDefault)

	// Re-adding returns the existing record.
	again, err := svc.AddCard(ctx, uid, "pm_first")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.True(t, again.IsDefault)
}

func TestAddCardRequiresEnabledPayments(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.AddCard(context.Background(), uuid.New(), "pm_x")
	assert.True(t, domain.IsCode(err, domain.EINVALID))
}

func TestRemoveCardPromotesNewDefault(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	uid := uuid.New()
	enable(t, svc, uid)

	_, err := svc.AddCard(ctx, uid, "pm_a")
	require.NoError(t, err)
	_, err = svc.AddCard(ctx, uid, "pm_b")
	require.NoError(t, err)

	removed, err := svc.RemoveCard(ctx, uid, "pm_a")
	require.NoError(t, err)
	assert.True(t, removed)

	cards, err := svc.ListCards(ctx, uid)
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Equal(t, "pm_b", cards[0].ID)
	assert.True(t, cards[0].IsDefault)

	// Removing again is a no-op.
	removed, err = svc.RemoveCard(ctx, uid, "pm_a")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestMakeDefault(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	uid := uuid.New()
	enable(t, svc, uid)

	_, err := svc.AddCard(ctx, uid, "pm_a")
	require.NoError(t, err)
	_, err = svc.AddCard(ctx, uid, "pm_b")
	require.NoError(t, err)

	changed, err := svc.MakeDefault(ctx, uid, "pm_b")
	require.NoError(t, err)
	assert.True(t, changed)

	cards, err := svc.ListCards(ctx, uid)
	require.NoError(t, err)
	for _, c := range cards {
		assert.Equal(t, c.ID == "pm_b", c.IsDefault, c.ID)
	}

	// Already default: no-op.
	changed, err = svc.MakeDefault(ctx, uid, "pm_b")
	require.NoError(t, err)
	assert.False(t, changed)

	// Unknown card: no-op.
	changed, err = svc.MakeDefault(ctx, uid, "pm_zzz")
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestRegisterIntentRejectsDuplicates(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()

	err := st.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return RegisterIntent(ctx, tx, "pi_1", 500, domain.DepositOperation{Amount: 500})
	})
	require.NoError(t, err)

	err = st.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return RegisterIntent(ctx, tx, "pi_1", 500, domain.DepositOperation{Amount: 500})
	})
	assert.True(t, domain.IsCode(err, domain.ECONFLICT))
}

func TestIntentSettlement(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, st.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return RegisterIntent(ctx, tx, "pi_1", 500, domain.DepositOperation{Amount: 500})
	}))

	// Unknown intent: false, no error.
	require.NoError(t, st.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		ok, err := IntentSuccess(ctx, tx, "pi_unknown")
		assert.False(t, ok)
		return err
	}))

	// First success settles.
	require.NoError(t, st.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		ok, err := IntentSuccess(ctx, tx, "pi_1")
		assert.True(t, ok)
		return err
	}))

	// Duplicate success and late cancel are both skipped.
	require.NoError(t, st.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		ok, err := IntentSuccess(ctx, tx, "pi_1")
		require.NoError(t, err)
		assert.False(t, ok)
		ok, err = IntentCancel(ctx, tx, "pi_1")
		assert.False(t, ok)
		return err
	}))
}

func TestCreatePaymentIdempotentByRetryKey(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	uid := uuid.New()
	op := domain.DepositOperation{Amount: 500}

	var first, second *domain.Payment
	require.NoError(t, st.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		var created bool
		first, created, err = Create(ctx, tx, uuid.New(), uid, 500, op, "retry-1")
		assert.True(t, created)
		return err
	}))
	require.NoError(t, st.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		var created bool
		second, created, err = Create(ctx, tx, uuid.New(), uid, 500, op, "retry-1")
		assert.False(t, created)
		return err
	}))
	assert.Equal(t, first.ID, second.ID)

	// Empty retry key always creates a fresh payment.
	var third *domain.Payment
	require.NoError(t, st.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		third, _, err = Create(ctx, tx, uuid.New(), uid, 500, op, "")
		return err
	}))
	assert.NotEqual(t, first.ID, third.ID)
}

func TestSetStateGuards(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	uid := uuid.New()

	var p *domain.Payment
	require.NoError(t, st.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		p, _, err = Create(ctx, tx, uuid.New(), uid, 500, domain.DepositOperation{Amount: 500}, "")
		return err
	}))

	require.NoError(t, st.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return SetState(ctx, tx, p.ID, domain.PaymentSuccess)
	}))

	// Same state again: no-op.
	require.NoError(t, st.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return SetState(ctx, tx, p.ID, domain.PaymentSuccess)
	}))

	// Out of terminal: rejected.
	err := st.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return SetState(ctx, tx, p.ID, domain.PaymentPending)
	})
	assert.True(t, domain.IsCode(err, domain.ESTATE))
}

func TestKeyDerivation(t *testing.T) {
	assert.Equal(t, "seed:customer", Key("seed", "customer", ""))
	assert.Equal(t, "seed:intent:r1", Key("seed", "intent", "r1"))
}
