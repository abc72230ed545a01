package events

import (
	"context"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/gullveig/internal/domain"
	"github.com/dukerupert/gullveig/internal/gateway"
	"github.com/dukerupert/gullveig/internal/ledger"
	"github.com/dukerupert/gullveig/internal/payments"
	"github.com/dukerupert/gullveig/internal/route"
	"github.com/dukerupert/gullveig/internal/store"
	"github.com/dukerupert/gullveig/internal/subscription"
	"github.com/dukerupert/gullveig/internal/telemetry"
)

type nopCanceler struct{}

func (nopCanceler) ScheduleCancel(context.Context, uuid.UUID) error { return nil }

type fixture struct {
	reader   *Reader
	store    *store.Memory
	provider *gateway.MockProvider
	ledger   ledger.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemory()
	provider := gateway.NewMockProvider()
	logger := slog.Default()
	led := ledger.NewService(nil, nil, logger)
	subs := subscription.NewService(st, led, nopCanceler{}, nil, logger)
	router := route.New(led, subs)

	metrics := telemetry.NewMetricsOn(prometheus.NewRegistry(), "test")
	return &fixture{
		reader:   NewReader(st, provider, router, metrics, logger),
		store:    st,
		provider: provider,
		ledger:   led,
	}
}

func TestNilMetricsReadersCoexist(t *testing.T) {
	st := store.NewMemory()
	provider := gateway.NewMockProvider()
	logger := slog.Default()

	assert.NotPanics(t, func() {
		NewReader(st, provider, nil, nil, logger)
		NewReader(st, provider, nil, nil, logger)
	})
}

// pendingDeposit creates a gateway-funded deposit with its intent
// already registered, as the execution scheduler would leave it.
func (f *fixture) pendingDeposit(t *testing.T, uid uuid.UUID, amount int64) (uuid.UUID, string) {
	t.Helper()
	intentID := "pi_" + uuid.NewString()[:8]
	var p *domain.Payment
	require.NoError(t, f.store.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		_, p, err = f.ledger.DepositAsync(ctx, tx, uid, amount, "")
		if err != nil {
			return err
		}
		if err := payments.RegisterIntent(ctx, tx, intentID, amount, p.Operation); err != nil {
			return err
		}
		return tx.SetPaymentIntentID(ctx, p.ID, intentID)
	}))
	return p.ID, intentID
}

func (f *fixture) payment(t *testing.T, id uuid.UUID) *domain.Payment {
	t.Helper()
	var p *domain.Payment
	require.NoError(t, f.store.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		p, err = tx.GetPayment(ctx, id)
		return err
	}))
	return p
}

func (f *fixture) wallet(t *testing.T, uid uuid.UUID) *domain.Wallet {
	t.Helper()
	var w *domain.Wallet
	require.NoError(t, f.store.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		w, err = tx.GetWallet(ctx, uid)
		return err
	}))
	return w
}

func (f *fixture) cursor(t *testing.T) *domain.EventCursor {
	t.Helper()
	var c *domain.EventCursor
	require.NoError(t, f.store.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		c, err = tx.GetCursor(ctx, ReaderName)
		return err
	}))
	return c
}

func TestSucceededEventCommitsDeposit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	uid := uuid.New()
	paymentID, intentID := f.pendingDeposit(t, uid, 500)

	evID := f.provider.PushEvent(gateway.EventIntentSucceeded, intentID)
	require.NoError(t, f.reader.Run(ctx))

	assert.Equal(t, domain.PaymentSuccess, f.payment(t, paymentID).State)
	assert.Equal(t, int64(500), f.wallet(t, uid).Balance)

	c := f.cursor(t)
	require.NotNil(t, c)
	assert.Equal(t, ReaderVersion, c.Version)
	assert.Equal(t, evID, c.Cursor)
}

func TestDuplicateEventsApplyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	uid := uuid.New()
	_, intentID := f.pendingDeposit(t, uid, 500)

	f.provider.PushEvent(gateway.EventIntentSucceeded, intentID)
	f.provider.PushEvent(gateway.EventIntentSucceeded, intentID)
	require.NoError(t, f.reader.Run(ctx))

	assert.Equal(t, int64(500), f.wallet(t, uid).Balance)

	// Re-running from the committed cursor does nothing either.
	require.NoError(t, f.reader.Run(ctx))
	assert.Equal(t, int64(500), f.wallet(t, uid).Balance)
}

func TestForeignIntentEventsSkipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	evID := f.provider.PushEvent(gateway.EventIntentSucceeded, "pi_not_ours")
	require.NoError(t, f.reader.Run(ctx))

	// Skipped, but the cursor still advances past it.
	c := f.cursor(t)
	require.NotNil(t, c)
	assert.Equal(t, evID, c.Cursor)
}

func TestUnhandledEventTypesSkipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	uid := uuid.New()
	paymentID, intentID := f.pendingDeposit(t, uid, 500)

	f.provider.PushEvent("charge.refunded", intentID)
	require.NoError(t, f.reader.Run(ctx))

	assert.Equal(t, domain.PaymentPending, f.payment(t, paymentID).State)
	assert.NotNil(t, f.cursor(t))
}

func TestFailedThenSucceededRecovers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	uid := uuid.New()
	paymentID, intentID := f.pendingDeposit(t, uid, 500)

	f.provider.PushEvent(gateway.EventIntentFailed, intentID)
	require.NoError(t, f.reader.Run(ctx))
	assert.Equal(t, domain.PaymentFailing, f.payment(t, paymentID).State)
	assert.True(t, f.wallet(t, uid).IsLocked)

	f.provider.PushEvent(gateway.EventIntentSucceeded, intentID)
	require.NoError(t, f.reader.Run(ctx))
	assert.Equal(t, domain.PaymentSuccess, f.payment(t, paymentID).State)
	assert.False(t, f.wallet(t, uid).IsLocked)
	assert.Equal(t, int64(500), f.wallet(t, uid).Balance)
}

func TestStaleFailingSignalAfterSettlement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	uid := uuid.New()
	paymentID, intentID := f.pendingDeposit(t, uid, 500)

	f.provider.PushEvent(gateway.EventIntentSucceeded, intentID)
	f.provider.PushEvent(gateway.EventIntentFailed, intentID)
	require.NoError(t, f.reader.Run(ctx))

	// The late failure signal is discarded.
	assert.Equal(t, domain.PaymentSuccess, f.payment(t, paymentID).State)
	assert.False(t, f.wallet(t, uid).IsLocked)
}

func TestCanceledEventRefundsTransferWalletPortion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	from, to := uuid.New(), uuid.New()

	intentID := "pi_" + uuid.NewString()[:8]
	var p *domain.Payment
	require.NoError(t, f.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := f.ledger.DepositInstant(ctx, tx, from, 300); err != nil {
			return err
		}
		var err error
		_, p, err = f.ledger.TransferAsync(ctx, tx, from, to, 1000, "")
		if err != nil {
			return err
		}
		if err := payments.RegisterIntent(ctx, tx, intentID, p.Amount, p.Operation); err != nil {
			return err
		}
		return tx.SetPaymentIntentID(ctx, p.ID, intentID)
	}))

	// 300 came from the wallet, the rest was to be charged.
	require.Equal(t, int64(0), f.wallet(t, from).Balance)

	f.provider.PushEvent(gateway.EventIntentCanceled, intentID)
	require.NoError(t, f.reader.Run(ctx))

	assert.Equal(t, domain.PaymentCanceled, f.payment(t, p.ID).State)
	assert.Equal(t, int64(300), f.wallet(t, from).Balance)
	assert.Zero(t, f.wallet(t, to).Balance)
}

func TestCursorResumesAcrossRuns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	uid := uuid.New()
	_, first := f.pendingDeposit(t, uid, 500)

	f.provider.PushEvent(gateway.EventIntentSucceeded, first)
	require.NoError(t, f.reader.Run(ctx))
	assert.Equal(t, int64(500), f.wallet(t, uid).Balance)

	_, second := f.pendingDeposit(t, uid, 200)
	evID := f.provider.PushEvent(gateway.EventIntentSucceeded, second)
	require.NoError(t, f.reader.Run(ctx))

	assert.Equal(t, int64(700), f.wallet(t, uid).Balance)
	assert.Equal(t, evID, f.cursor(t).Cursor)
}
