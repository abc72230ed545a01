package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dukerupert/gullveig/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// Compile-time check.
var _ Store = (*Postgres)(nil)

// NewPostgres creates a Store backed by the given pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// RunInTx runs fn in a serializable transaction. Serialization failures
// (SQLSTATE 40001) bubble up to the caller, which may retry.
func (p *Postgres) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// pgTx implements Tx on a single pgx transaction handle.
type pgTx struct {
	tx pgx.Tx
}

var _ Tx = (*pgTx)(nil)

// =============================================================================
// Wallets
// =============================================================================

func (t *pgTx) GetWallet(ctx context.Context, uid uuid.UUID) (*domain.Wallet, error) {
	w := &domain.Wallet{UID: uid}
	err := t.tx.QueryRow(ctx, `
		SELECT balance, balance_locked, is_locked, updated_at
		FROM wallets WHERE uid = $1`, uid,
	).Scan(&w.Balance, &w.BalanceLocked, &w.IsLocked, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// Lazy creation on first access.
		now := time.Now().UTC()
		_, err = t.tx.Exec(ctx, `
			INSERT INTO wallets (uid, balance, balance_locked, is_locked, updated_at)
			VALUES ($1, 0, 0, false, $2)`, uid, now)
		if err != nil {
			return nil, fmt.Errorf("failed to create wallet: %w", err)
		}
		w.UpdatedAt = now
		return w, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load wallet: %w", err)
	}
	return w, nil
}

func (t *pgTx) SaveWalletBalance(ctx context.Context, uid uuid.UUID, balance, locked int64) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE wallets SET balance = $2, balance_locked = $3, updated_at = now()
		WHERE uid = $1`, uid, balance, locked)
	if err != nil {
		return fmt.Errorf("failed to update wallet balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("store.wallet", "wallet", uid.String())
	}
	return nil
}

func (t *pgTx) SetWalletLocked(ctx context.Context, uid uuid.UUID, locked bool) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE wallets SET is_locked = $2, updated_at = now() WHERE uid = $1`, uid, locked)
	if err != nil {
		return fmt.Errorf("failed to update wallet lock: %w", err)
	}
	return nil
}

// =============================================================================
// Wallet transactions
// =============================================================================

func (t *pgTx) CreateTransaction(ctx context.Context, wtx *domain.WalletTransaction) error {
	opType, opData, err := domain.EncodeOperation(wtx.Operation)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO wallet_transactions (id, uid, status, op_type, op_data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())`,
		wtx.ID, wtx.UID, wtx.Status, opType, opData)
	if err != nil {
		return fmt.Errorf("failed to create wallet transaction: %w", err)
	}
	return nil
}

func (t *pgTx) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.WalletTransaction, error) {
	wtx := &domain.WalletTransaction{ID: id}
	var opType domain.OperationType
	var opData []byte
	err := t.tx.QueryRow(ctx, `
		SELECT uid, status, op_type, op_data, created_at, updated_at
		FROM wallet_transactions WHERE id = $1`, id,
	).Scan(&wtx.UID, &wtx.Status, &opType, &opData, &wtx.CreatedAt, &wtx.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound("store.transaction", "wallet transaction", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load wallet transaction: %w", err)
	}
	if wtx.Operation, err = domain.DecodeOperation(opType, opData); err != nil {
		return nil, err
	}
	return wtx, nil
}

func (t *pgTx) SetTransactionStatus(ctx context.Context, id uuid.UUID, status domain.TransactionStatus) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE wallet_transactions SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("failed to update transaction status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("store.transaction", "wallet transaction", id.String())
	}
	return nil
}

// =============================================================================
// Payments
// =============================================================================

func (t *pgTx) CreatePayment(ctx context.Context, p *domain.Payment) error {
	opType, opData, err := domain.EncodeOperation(p.Operation)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO payments (id, uid, amount, state, op_type, op_data, retry_key, intent_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())`,
		p.ID, p.UID, p.Amount, p.State, opType, opData, p.RetryKey, p.IntentID)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

func (t *pgTx) scanPayment(row pgx.Row, p *domain.Payment) error {
	var opType domain.OperationType
	var opData []byte
	err := row.Scan(&p.ID, &p.UID, &p.Amount, &p.State, &opType, &opData,
		&p.RetryKey, &p.IntentID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return err
	}
	p.Operation, err = domain.DecodeOperation(opType, opData)
	return err
}

const paymentColumns = `id, uid, amount, state, op_type, op_data, retry_key, intent_id, created_at, updated_at`

func (t *pgTx) GetPayment(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	p := &domain.Payment{}
	err := t.scanPayment(t.tx.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id), p)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound("store.payment", "payment", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load payment: %w", err)
	}
	return p, nil
}

func (t *pgTx) GetPaymentByRetryKey(ctx context.Context, uid uuid.UUID, retryKey string) (*domain.Payment, error) {
	p := &domain.Payment{}
	err := t.scanPayment(t.tx.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE uid = $1 AND retry_key = $2`, uid, retryKey), p)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load payment by retry key: %w", err)
	}
	return p, nil
}

func (t *pgTx) SetPaymentState(ctx context.Context, id uuid.UUID, state domain.PaymentState) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE payments SET state = $2, updated_at = now() WHERE id = $1`, id, state)
	if err != nil {
		return fmt.Errorf("failed to update payment state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("store.payment", "payment", id.String())
	}
	return nil
}

func (t *pgTx) SetPaymentIntentID(ctx context.Context, id uuid.UUID, intentID string) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE payments SET intent_id = $2, updated_at = now() WHERE id = $1`, id, intentID)
	if err != nil {
		return fmt.Errorf("failed to update payment intent id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("store.payment", "payment", id.String())
	}
	return nil
}

func (t *pgTx) ListPendingPayments(ctx context.Context) ([]*domain.Payment, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE state IN ('pending', 'failing')
		ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending payments: %w", err)
	}
	defer rows.Close()

	var out []*domain.Payment
	for rows.Next() {
		p := &domain.Payment{}
		if err := t.scanPayment(rows, p); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (t *pgTx) CountFailingPayments(ctx context.Context, uid uuid.UUID) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `
		SELECT count(*) FROM payments WHERE uid = $1 AND state = 'failing'`, uid).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count failing payments: %w", err)
	}
	return n, nil
}

// =============================================================================
// Payment intents
// =============================================================================

func (t *pgTx) CreateIntent(ctx context.Context, intent *domain.PaymentIntent) error {
	opType, opData, err := domain.EncodeOperation(intent.Operation)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO payment_intents (id, amount, state, op_type, op_data, created_at)
		VALUES ($1, $2, $3, $4, $5, now())`,
		intent.ID, intent.Amount, intent.State, opType, opData)
	if err != nil {
		return fmt.Errorf("failed to create payment intent: %w", err)
	}
	return nil
}

func (t *pgTx) GetIntent(ctx context.Context, id string) (*domain.PaymentIntent, error) {
	intent := &domain.PaymentIntent{ID: id}
	var opType domain.OperationType
	var opData []byte
	err := t.tx.QueryRow(ctx, `
		SELECT amount, state, op_type, op_data, created_at
		FROM payment_intents WHERE id = $1`, id,
	).Scan(&intent.Amount, &intent.State, &opType, &opData, &intent.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load payment intent: %w", err)
	}
	if intent.Operation, err = domain.DecodeOperation(opType, opData); err != nil {
		return nil, err
	}
	return intent, nil
}

func (t *pgTx) SetIntentState(ctx context.Context, id string, state domain.IntentState) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE payment_intents SET state = $2 WHERE id = $1`, id, state)
	if err != nil {
		return fmt.Errorf("failed to update intent state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("store.intent", "payment intent", id)
	}
	return nil
}

// =============================================================================
// Payment scheduling
// =============================================================================

func (t *pgTx) GetScheduling(ctx context.Context, paymentID uuid.UUID) (*domain.PaymentScheduling, error) {
	s := &domain.PaymentScheduling{PaymentID: paymentID}
	err := t.tx.QueryRow(ctx, `
		SELECT attempt, failures_count, last_failure_at, in_progress
		FROM payment_schedulings WHERE payment_id = $1`, paymentID,
	).Scan(&s.Attempt, &s.FailuresCount, &s.LastFailureAt, &s.InProgress)
	if errors.Is(err, pgx.ErrNoRows) {
		_, err = t.tx.Exec(ctx, `
			INSERT INTO payment_schedulings (payment_id, attempt, failures_count, in_progress)
			VALUES ($1, 0, 0, false)`, paymentID)
		if err != nil {
			return nil, fmt.Errorf("failed to create payment scheduling: %w", err)
		}
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load payment scheduling: %w", err)
	}
	return s, nil
}

func (t *pgTx) SaveScheduling(ctx context.Context, s *domain.PaymentScheduling) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE payment_schedulings
		SET attempt = $2, failures_count = $3, last_failure_at = $4, in_progress = $5
		WHERE payment_id = $1`,
		s.PaymentID, s.Attempt, s.FailuresCount, s.LastFailureAt, s.InProgress)
	if err != nil {
		return fmt.Errorf("failed to save payment scheduling: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("store.scheduling", "payment scheduling", s.PaymentID.String())
	}
	return nil
}

func (t *pgTx) SaveSchedulingIfAttempt(ctx context.Context, s *domain.PaymentScheduling, expectedAttempt int) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE payment_schedulings
		SET attempt = $2, failures_count = $3, last_failure_at = $4, in_progress = $5
		WHERE payment_id = $1 AND attempt = $6`,
		s.PaymentID, s.Attempt, s.FailuresCount, s.LastFailureAt, s.InProgress, expectedAttempt)
	if err != nil {
		return false, fmt.Errorf("failed to save payment scheduling: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// =============================================================================
// Billing customers and payment methods
// =============================================================================

func (t *pgTx) CreateBillingCustomer(ctx context.Context, c *domain.BillingCustomer) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO billing_customers (uid, customer_id, idempotency_seed, created_at)
		VALUES ($1, $2, $3, now())`, c.UID, c.CustomerID, c.IdempotencySeed)
	if err != nil {
		return fmt.Errorf("failed to create billing customer: %w", err)
	}
	return nil
}

func (t *pgTx) GetBillingCustomer(ctx context.Context, uid uuid.UUID) (*domain.BillingCustomer, error) {
	c := &domain.BillingCustomer{UID: uid}
	err := t.tx.QueryRow(ctx, `
		SELECT customer_id, idempotency_seed, created_at
		FROM billing_customers WHERE uid = $1`, uid,
	).Scan(&c.CustomerID, &c.IdempotencySeed, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load billing customer: %w", err)
	}
	return c, nil
}

func (t *pgTx) ApplyCustomerID(ctx context.Context, uid uuid.UUID, customerID string) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE billing_customers SET customer_id = $2
		WHERE uid = $1 AND customer_id = ''`, uid, customerID)
	if err != nil {
		return false, fmt.Errorf("failed to apply customer id: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (t *pgTx) CreatePaymentMethod(ctx context.Context, m *domain.PaymentMethod) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO payment_methods (id, uid, brand, last4, is_default, created_at)
		VALUES ($1, $2, $3, $4, $5, now())`, m.ID, m.UID, m.Brand, m.Last4, m.IsDefault)
	if err != nil {
		return fmt.Errorf("failed to create payment method: %w", err)
	}
	return nil
}

func (t *pgTx) GetPaymentMethod(ctx context.Context, id string) (*domain.PaymentMethod, error) {
	m := &domain.PaymentMethod{ID: id}
	err := t.tx.QueryRow(ctx, `
		SELECT uid, brand, last4, is_default, created_at
		FROM payment_methods WHERE id = $1`, id,
	).Scan(&m.UID, &m.Brand, &m.Last4, &m.IsDefault, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load payment method: %w", err)
	}
	return m, nil
}

func (t *pgTx) ListPaymentMethods(ctx context.Context, uid uuid.UUID) ([]*domain.PaymentMethod, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, uid, brand, last4, is_default, created_at
		FROM payment_methods WHERE uid = $1 ORDER BY created_at`, uid)
	if err != nil {
		return nil, fmt.Errorf("failed to list payment methods: %w", err)
	}
	defer rows.Close()

	var out []*domain.PaymentMethod
	for rows.Next() {
		m := &domain.PaymentMethod{}
		if err := rows.Scan(&m.ID, &m.UID, &m.Brand, &m.Last4, &m.IsDefault, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment method: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (t *pgTx) DeletePaymentMethod(ctx context.Context, id string) (bool, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM payment_methods WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete payment method: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (t *pgTx) SetDefaultPaymentMethod(ctx context.Context, uid uuid.UUID, id string) error {
	if _, err := t.tx.Exec(ctx, `
		UPDATE payment_methods SET is_default = false WHERE uid = $1 AND is_default`, uid); err != nil {
		return fmt.Errorf("failed to clear default payment method: %w", err)
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE payment_methods SET is_default = true WHERE id = $1 AND uid = $2`, id, uid)
	if err != nil {
		return fmt.Errorf("failed to set default payment method: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("store.paymentMethod", "payment method", id)
	}
	return nil
}

// =============================================================================
// Subscriptions and periods
// =============================================================================

func (t *pgTx) CreateSubscription(ctx context.Context, s *domain.Subscription) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO subscriptions (id, uid, amount, interval, start_at, product, state, current_period, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())`,
		s.ID, s.UID, s.Amount, s.Interval, s.Start, s.Product, s.State, s.CurrentPeriodIndex)
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

func (t *pgTx) GetSubscription(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	s := &domain.Subscription{ID: id}
	err := t.tx.QueryRow(ctx, `
		SELECT uid, amount, interval, start_at, product, state, current_period, created_at, updated_at
		FROM subscriptions WHERE id = $1`, id,
	).Scan(&s.UID, &s.Amount, &s.Interval, &s.Start, &s.Product, &s.State,
		&s.CurrentPeriodIndex, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound("store.subscription", "subscription", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	return s, nil
}

func (t *pgTx) SaveSubscription(ctx context.Context, s *domain.Subscription) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE subscriptions SET state = $2, current_period = $3, updated_at = now()
		WHERE id = $1`, s.ID, s.State, s.CurrentPeriodIndex)
	if err != nil {
		return fmt.Errorf("failed to save subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("store.subscription", "subscription", s.ID.String())
	}
	return nil
}

func (t *pgTx) ListActiveSubscriptions(ctx context.Context) ([]*domain.Subscription, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, uid, amount, interval, start_at, product, state, current_period, created_at, updated_at
		FROM subscriptions WHERE state <> 'expired' ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active subscriptions: %w", err)
	}
	defer rows.Close()

	var out []*domain.Subscription
	for rows.Next() {
		s := &domain.Subscription{}
		if err := rows.Scan(&s.ID, &s.UID, &s.Amount, &s.Interval, &s.Start, &s.Product,
			&s.State, &s.CurrentPeriodIndex, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (t *pgTx) CreatePeriod(ctx context.Context, p *domain.SubscriptionPeriod) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO subscription_periods (subscription_id, idx, start_at, state, payment_id, need_cancel, scheduled_cancel)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.SubscriptionID, p.Index, p.Start, p.State, p.PaymentID, p.NeedCancel, p.ScheduledCancel)
	if err != nil {
		return fmt.Errorf("failed to create subscription period: %w", err)
	}
	return nil
}

func (t *pgTx) GetPeriod(ctx context.Context, subscriptionID uuid.UUID, index int) (*domain.SubscriptionPeriod, error) {
	p := &domain.SubscriptionPeriod{SubscriptionID: subscriptionID, Index: index}
	err := t.tx.QueryRow(ctx, `
		SELECT start_at, state, payment_id, need_cancel, scheduled_cancel
		FROM subscription_periods WHERE subscription_id = $1 AND idx = $2`,
		subscriptionID, index,
	).Scan(&p.Start, &p.State, &p.PaymentID, &p.NeedCancel, &p.ScheduledCancel)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound("store.period", "subscription period",
			fmt.Sprintf("%s/%d", subscriptionID, index))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription period: %w", err)
	}
	return p, nil
}

func (t *pgTx) SavePeriod(ctx context.Context, p *domain.SubscriptionPeriod) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE subscription_periods
		SET start_at = $3, state = $4, payment_id = $5, need_cancel = $6, scheduled_cancel = $7
		WHERE subscription_id = $1 AND idx = $2`,
		p.SubscriptionID, p.Index, p.Start, p.State, p.PaymentID, p.NeedCancel, p.ScheduledCancel)
	if err != nil {
		return fmt.Errorf("failed to save subscription period: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("store.period", "subscription period",
			fmt.Sprintf("%s/%d", p.SubscriptionID, p.Index))
	}
	return nil
}

func (t *pgTx) ListPeriodsAwaitingCancel(ctx context.Context) ([]*domain.SubscriptionPeriod, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT subscription_id, idx, start_at, state, payment_id, need_cancel, scheduled_cancel
		FROM subscription_periods WHERE need_cancel AND NOT scheduled_cancel`)
	if err != nil {
		return nil, fmt.Errorf("failed to list periods awaiting cancel: %w", err)
	}
	defer rows.Close()

	var out []*domain.SubscriptionPeriod
	for rows.Next() {
		p := &domain.SubscriptionPeriod{}
		if err := rows.Scan(&p.SubscriptionID, &p.Index, &p.Start, &p.State,
			&p.PaymentID, &p.NeedCancel, &p.ScheduledCancel); err != nil {
			return nil, fmt.Errorf("failed to scan subscription period: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// =============================================================================
// Event cursors
// =============================================================================

func (t *pgTx) GetCursor(ctx context.Context, name string) (*domain.EventCursor, error) {
	c := &domain.EventCursor{Name: name}
	err := t.tx.QueryRow(ctx, `
		SELECT version, cursor, updated_at FROM event_cursors WHERE name = $1`, name,
	).Scan(&c.Version, &c.Cursor, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load event cursor: %w", err)
	}
	return c, nil
}

func (t *pgTx) SaveCursor(ctx context.Context, c *domain.EventCursor) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO event_cursors (name, version, cursor, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (name) DO UPDATE SET version = $2, cursor = $3, updated_at = now()`,
		c.Name, c.Version, c.Cursor)
	if err != nil {
		return fmt.Errorf("failed to save event cursor: %w", err)
	}
	return nil
}
