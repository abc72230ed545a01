package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/gullveig/internal/gateway"
	"github.com/dukerupert/gullveig/internal/ledger"
	"github.com/dukerupert/gullveig/internal/payments"
	"github.com/dukerupert/gullveig/internal/store"
	"github.com/dukerupert/gullveig/internal/subscription"
)

type fixture struct {
	server   *Server
	store    *store.Memory
	provider *gateway.MockProvider
}

type nopCanceler struct{}

func (nopCanceler) ScheduleCancel(context.Context, uuid.UUID) error { return nil }

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.NewMemory()
	provider := gateway.NewMockProvider()

	led := ledger.NewService(nil, nil, logger)
	subs := subscription.NewService(st, led, nopCanceler{}, nil, logger)
	pay := payments.NewService(st, provider, logger)

	return &fixture{
		server:   New(st, led, subs, pay, logger),
		store:    st,
		provider: provider,
	}
}

func (f *fixture) request(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.server.echo.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

// ============================================================================
// Wallets and deposits
// ============================================================================

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t)
	rec := f.request(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetWalletCreatesOnFirstAccess(t *testing.T) {
	f := newFixture(t)
	uid := uuid.New()

	rec := f.request(t, http.MethodGet, "/v1/wallets/"+uid.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	w := decode[walletResponse](t, rec)
	assert.Equal(t, uid.String(), w.UID)
	assert.Equal(t, int64(0), w.Balance)
	assert.False(t, w.IsLocked)
}

func TestGetWalletRejectsBadUUID(t *testing.T) {
	f := newFixture(t)
	rec := f.request(t, http.MethodGet, "/v1/wallets/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInstantDepositCreditsWallet(t *testing.T) {
	f := newFixture(t)
	uid := uuid.New()

	rec := f.request(t, http.MethodPost, "/v1/deposits", depositRequest{
		UID: uid.String(), Amount: 1500, Instant: true,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	resp := decode[chargeResponse](t, rec)
	assert.Equal(t, "success", resp.Transaction.Status)
	assert.Nil(t, resp.Payment)

	rec = f.request(t, http.MethodGet, "/v1/wallets/"+uid.String(), nil)
	w := decode[walletResponse](t, rec)
	assert.Equal(t, int64(1500), w.Balance)
}

func TestAsyncDepositCreatesPendingPayment(t *testing.T) {
	f := newFixture(t)
	uid := uuid.New()

	rec := f.request(t, http.MethodPost, "/v1/deposits", depositRequest{
		UID: uid.String(), Amount: 2000, RetryKey: "dep-1",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	resp := decode[chargeResponse](t, rec)
	assert.Equal(t, "pending", resp.Transaction.Status)
	require.NotNil(t, resp.Payment)
	assert.Equal(t, "pending", resp.Payment.State)
	assert.Equal(t, int64(2000), resp.Payment.Amount)

	// Balance is only credited once the gateway charge settles.
	rec = f.request(t, http.MethodGet, "/v1/wallets/"+uid.String(), nil)
	w := decode[walletResponse](t, rec)
	assert.Equal(t, int64(0), w.Balance)
}

func TestAsyncDepositRetryKeyDeduplicates(t *testing.T) {
	f := newFixture(t)
	uid := uuid.New()
	body := depositRequest{UID: uid.String(), Amount: 2000, RetryKey: "dep-dup"}

	first := decode[chargeResponse](t, f.request(t, http.MethodPost, "/v1/deposits", body))
	second := decode[chargeResponse](t, f.request(t, http.MethodPost, "/v1/deposits", body))

	require.NotNil(t, first.Payment)
	require.NotNil(t, second.Payment)
	assert.Equal(t, first.Payment.ID, second.Payment.ID)
	assert.Equal(t, first.Transaction.ID, second.Transaction.ID)
}

func TestDepositValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		body depositRequest
	}{
		{"zero amount", depositRequest{UID: uuid.New().String(), Amount: 0}},
		{"negative amount", depositRequest{UID: uuid.New().String(), Amount: -5}},
		{"missing uid", depositRequest{Amount: 100}},
		{"bad uid", depositRequest{UID: "nope", Amount: 100}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.request(t, http.MethodPost, "/v1/deposits", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

// ============================================================================
// Transfers and purchases
// ============================================================================

func TestBalanceTransferMovesFunds(t *testing.T) {
	f := newFixture(t)
	from, to := uuid.New(), uuid.New()
	f.request(t, http.MethodPost, "/v1/deposits", depositRequest{UID: from.String(), Amount: 1000, Instant: true})

	rec := f.request(t, http.MethodPost, "/v1/transfers", transferRequest{
		From: from.String(), To: to.String(), Amount: 400, BalanceOnly: true,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	sender := decode[walletResponse](t, f.request(t, http.MethodGet, "/v1/wallets/"+from.String(), nil))
	receiver := decode[walletResponse](t, f.request(t, http.MethodGet, "/v1/wallets/"+to.String(), nil))
	assert.Equal(t, int64(600), sender.Balance)
	assert.Equal(t, int64(400), receiver.Balance)
}

func TestBalanceTransferInsufficientFunds(t *testing.T) {
	f := newFixture(t)
	rec := f.request(t, http.MethodPost, "/v1/transfers", transferRequest{
		From: uuid.New().String(), To: uuid.New().String(), Amount: 100, BalanceOnly: true,
	})
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
}

func TestSelfTransferRejected(t *testing.T) {
	f := newFixture(t)
	uid := uuid.New().String()
	rec := f.request(t, http.MethodPost, "/v1/transfers", transferRequest{
		From: uid, To: uid, Amount: 100, BalanceOnly: true,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAsyncTransferSplitsWalletAndGateway(t *testing.T) {
	f := newFixture(t)
	from, to := uuid.New(), uuid.New()
	f.request(t, http.MethodPost, "/v1/deposits", depositRequest{UID: from.String(), Amount: 300, Instant: true})

	rec := f.request(t, http.MethodPost, "/v1/transfers", transferRequest{
		From: from.String(), To: to.String(), Amount: 1000,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	resp := decode[chargeResponse](t, rec)
	require.NotNil(t, resp.Payment)
	assert.Equal(t, int64(700), resp.Payment.Amount)

	sender := decode[walletResponse](t, f.request(t, http.MethodGet, "/v1/wallets/"+from.String(), nil))
	assert.Equal(t, int64(0), sender.Balance)
}

func TestPurchaseInstantDebitsWallet(t *testing.T) {
	f := newFixture(t)
	uid := uuid.New()
	f.request(t, http.MethodPost, "/v1/deposits", depositRequest{UID: uid.String(), Amount: 1000, Instant: true})

	rec := f.request(t, http.MethodPost, "/v1/purchases", purchaseRequest{
		UID: uid.String(), Product: "sticker-pack", Amount: 250, BalanceOnly: true,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	resp := decode[chargeResponse](t, rec)
	assert.Equal(t, "success", resp.Transaction.Status)
	assert.Nil(t, resp.Payment)

	w := decode[walletResponse](t, f.request(t, http.MethodGet, "/v1/wallets/"+uid.String(), nil))
	assert.Equal(t, int64(750), w.Balance)
}

// ============================================================================
// Subscriptions
// ============================================================================

func TestCreateAndGetSubscription(t *testing.T) {
	f := newFixture(t)
	uid := uuid.New()
	f.request(t, http.MethodPost, "/v1/deposits", depositRequest{UID: uid.String(), Amount: 5000, Instant: true})

	rec := f.request(t, http.MethodPost, "/v1/subscriptions", createSubscriptionRequest{
		UID: uid.String(), Amount: 999, Interval: "month", Product: "premium",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	created := decode[subscriptionResponse](t, rec)
	assert.Equal(t, "started", created.State)
	assert.Equal(t, 1, created.CurrentPeriod)

	rec = f.request(t, http.MethodGet, "/v1/subscriptions/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[subscriptionResponse](t, rec)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "premium", got.Product)
}

func TestCreateSubscriptionValidatesInterval(t *testing.T) {
	f := newFixture(t)
	rec := f.request(t, http.MethodPost, "/v1/subscriptions", createSubscriptionRequest{
		UID: uuid.New().String(), Amount: 999, Interval: "day", Product: "premium",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetUnknownSubscription(t *testing.T) {
	f := newFixture(t)
	rec := f.request(t, http.MethodGet, "/v1/subscriptions/"+uuid.New().String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelSubscription(t *testing.T) {
	f := newFixture(t)
	uid := uuid.New()
	f.request(t, http.MethodPost, "/v1/deposits", depositRequest{UID: uid.String(), Amount: 5000, Instant: true})

	created := decode[subscriptionResponse](t, f.request(t, http.MethodPost, "/v1/subscriptions", createSubscriptionRequest{
		UID: uid.String(), Amount: 999, Interval: "week", Product: "premium",
	}))

	rec := f.request(t, http.MethodDelete, "/v1/subscriptions/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[map[string]bool](t, rec)
	assert.True(t, resp["canceled"])

	got := decode[subscriptionResponse](t, f.request(t, http.MethodGet, "/v1/subscriptions/"+created.ID, nil))
	assert.Equal(t, "canceled", got.State)
}

func TestSubscriptionExpiryEstimate(t *testing.T) {
	f := newFixture(t)
	uid := uuid.New()
	f.request(t, http.MethodPost, "/v1/deposits", depositRequest{UID: uid.String(), Amount: 5000, Instant: true})

	created := decode[subscriptionResponse](t, f.request(t, http.MethodPost, "/v1/subscriptions", createSubscriptionRequest{
		UID: uid.String(), Amount: 999, Interval: "week", Product: "premium",
	}))

	rec := f.request(t, http.MethodGet, "/v1/subscriptions/"+created.ID+"/expiry", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[map[string]string](t, rec)
	assert.NotEmpty(t, resp["expires_at"])
}

// ============================================================================
// Billing customers and cards
// ============================================================================

func TestEnablePaymentsAndManageCards(t *testing.T) {
	f := newFixture(t)
	uid := uuid.New()

	rec := f.request(t, http.MethodPost, "/v1/payments/enable", enablePaymentsRequest{UID: uid.String()})
	require.Equal(t, http.StatusCreated, rec.Code)

	// Enabling twice conflicts.
	rec = f.request(t, http.MethodPost, "/v1/payments/enable", enablePaymentsRequest{UID: uid.String()})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.request(t, http.MethodPost, "/v1/cards", addCardRequest{UID: uid.String(), PaymentMethodID: "pm_test_1"})
	require.Equal(t, http.StatusCreated, rec.Code)
	card := decode[cardResponse](t, rec)
	assert.Equal(t, "pm_test_1", card.ID)
	assert.True(t, card.IsDefault)

	rec = f.request(t, http.MethodPost, "/v1/cards", addCardRequest{UID: uid.String(), PaymentMethodID: "pm_test_2"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.request(t, http.MethodGet, "/v1/cards?uid="+uid.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cards := decode[[]cardResponse](t, rec)
	require.Len(t, cards, 2)

	rec = f.request(t, http.MethodPost, "/v1/cards/pm_test_2/default", makeDefaultRequest{UID: uid.String()})
	require.Equal(t, http.StatusOK, rec.Code)
	changed := decode[map[string]bool](t, rec)
	assert.True(t, changed["changed"])

	rec = f.request(t, http.MethodDelete, fmt.Sprintf("/v1/cards/pm_test_1?uid=%s", uid), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.request(t, http.MethodGet, "/v1/cards?uid="+uid.String(), nil)
	cards = decode[[]cardResponse](t, rec)
	require.Len(t, cards, 1)
	assert.Equal(t, "pm_test_2", cards[0].ID)
	assert.True(t, cards[0].IsDefault)
}

func TestRemoveUnknownCard(t *testing.T) {
	f := newFixture(t)
	uid := uuid.New()
	require.Equal(t, http.StatusCreated,
		f.request(t, http.MethodPost, "/v1/payments/enable", enablePaymentsRequest{UID: uid.String()}).Code)

	rec := f.request(t, http.MethodDelete, fmt.Sprintf("/v1/cards/pm_missing?uid=%s", uid), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAddCardWithoutEnablingPayments(t *testing.T) {
	f := newFixture(t)
	rec := f.request(t, http.MethodPost, "/v1/cards", addCardRequest{
		UID: uuid.New().String(), PaymentMethodID: "pm_test",
	})
	// No billing customer exists yet.
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
