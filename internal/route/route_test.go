package route

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/gullveig/internal/domain"
	"github.com/dukerupert/gullveig/internal/ledger"
	"github.com/dukerupert/gullveig/internal/store"
	"github.com/dukerupert/gullveig/internal/subscription"
)

type nopCanceler struct{}

func (nopCanceler) ScheduleCancel(context.Context, uuid.UUID) error { return nil }

func newRouter(t *testing.T) (*Router, *store.Memory, ledger.Service, subscription.Service) {
	t.Helper()
	st := store.NewMemory()
	led := ledger.NewService(ledger.NopPublisher{}, nil, slog.Default())
	subs := subscription.NewService(st, led, nopCanceler{}, nil, slog.Default())
	return New(led, subs), st, led, subs
}

func TestRouteDeposit(t *testing.T) {
	r, st, led, _ := newRouter(t)
	ctx := context.Background()
	uid := uuid.New()

	var tr *domain.WalletTransaction
	require.NoError(t, st.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		tr, _, err = led.DepositAsync(ctx, tx, uid, 500, "")
		return err
	}))

	require.NoError(t, st.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return r.Route(ctx, tx, tr.Operation, domain.OutcomeSuccess)
	}))

	require.NoError(t, st.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		w, err := tx.GetWallet(ctx, uid)
		if err != nil {
			return err
		}
		assert.Equal(t, int64(500), w.Balance)
		got, err := tx.GetTransaction(ctx, tr.ID)
		if err != nil {
			return err
		}
		assert.Equal(t, domain.TxSuccess, got.Status)
		return nil
	}))
}

func TestRouteTransferCancel(t *testing.T) {
	r, st, led, _ := newRouter(t)
	ctx := context.Background()
	sender, receiver := uuid.New(), uuid.New()

	require.NoError(t, st.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := led.DepositInstant(ctx, tx, sender, 100)
		return err
	}))

	var out *domain.WalletTransaction
	require.NoError(t, st.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, _, err = led.TransferAsync(ctx, tx, sender, receiver, 300, "")
		return err
	}))

	require.NoError(t, st.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return r.Route(ctx, tx, out.Operation, domain.OutcomeCanceled)
	}))

	require.NoError(t, st.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		w, err := tx.GetWallet(ctx, sender)
		if err != nil {
			return err
		}
		assert.Equal(t, int64(100), w.Balance)
		return nil
	}))
}

func TestRouteSubscriptionReachesBothModules(t *testing.T) {
	r, st, _, subs := newRouter(t)
	ctx := context.Background()
	uid := uuid.New()

	var sub *domain.Subscription
	require.NoError(t, st.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		sub, err = subs.Create(ctx, tx, subscription.CreateParams{
			UID:      uid,
			Amount:   1000,
			Interval: domain.IntervalMonth,
			Product:  "premium",
			Start:    time.Now(),
		})
		return err
	}))

	// Recover the operation from the period's payment.
	var op domain.Operation
	require.NoError(t, st.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		p, err := tx.GetPeriod(ctx, sub.ID, 1)
		if err != nil {
			return err
		}
		payment, err := tx.GetPayment(ctx, *p.PaymentID)
		if err != nil {
			return err
		}
		op = payment.Operation
		return nil
	}))

	require.NoError(t, st.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return r.Route(ctx, tx, op, domain.OutcomeSuccess)
	}))

	// Billing engine saw it.
	require.NoError(t, st.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		p, err := tx.GetPeriod(ctx, sub.ID, 1)
		if err != nil {
			return err
		}
		assert.Equal(t, domain.PeriodSuccess, p.State)
		// And the ledger settled the transaction and payment.
		sop := op.(domain.SubscriptionOperation)
		tr, err := tx.GetTransaction(ctx, sop.TxID)
		if err != nil {
			return err
		}
		assert.Equal(t, domain.TxSuccess, tr.Status)
		payment, err := tx.GetPayment(ctx, *sop.PaymentID)
		if err != nil {
			return err
		}
		assert.Equal(t, domain.PaymentSuccess, payment.State)
		return nil
	}))
}

func TestRouteRejectsUnroutableOperations(t *testing.T) {
	r, st, _, _ := newRouter(t)
	ctx := context.Background()

	err := st.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return r.Route(ctx, tx, domain.IncomeOperation{Amount: 100}, domain.OutcomeSuccess)
	})
	assert.True(t, domain.IsCode(err, domain.EINTERNAL))

	// The receiver leg settles with its sender leg and must never be
	// routed on its own.
	err = st.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return r.Route(ctx, tx, domain.TransferInOperation{WalletAmount: 100}, domain.OutcomeSuccess)
	})
	assert.True(t, domain.IsCode(err, domain.EINTERNAL))

	err = st.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return r.Route(ctx, tx, nil, domain.OutcomeSuccess)
	})
	assert.True(t, domain.IsCode(err, domain.EINTERNAL))

	err = st.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return r.Route(ctx, tx, domain.DepositOperation{Amount: 100}, domain.Outcome("exploded"))
	})
	assert.True(t, domain.IsCode(err, domain.EINTERNAL))
}
