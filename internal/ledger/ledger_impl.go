package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/gullveig/internal/domain"
	"github.com/dukerupert/gullveig/internal/funds"
	"github.com/dukerupert/gullveig/internal/payments"
	"github.com/dukerupert/gullveig/internal/store"
	"github.com/dukerupert/gullveig/internal/telemetry"
)

// ServiceImpl implements the wallet ledger.
type ServiceImpl struct {
	events  Publisher
	metrics *telemetry.Metrics
	logger  *slog.Logger
}

var _ Service = (*ServiceImpl)(nil)

func NewService(events Publisher, metrics *telemetry.Metrics, logger *slog.Logger) *ServiceImpl {
	if events == nil {
		events = NopPublisher{}
	}
	if metrics == nil {
		metrics = telemetry.NewNopMetrics()
	}
	return &ServiceImpl{
		events:  events,
		metrics: metrics,
		logger:  logger,
	}
}

// =============================================================================
// Wallet queries
// =============================================================================

func (s *ServiceImpl) GetWallet(ctx context.Context, tx store.Tx, uid uuid.UUID) (*domain.Wallet, error) {
	return tx.GetWallet(ctx, uid)
}

func (s *ServiceImpl) FailingPaymentCount(ctx context.Context, tx store.Tx, uid uuid.UUID) (int, error) {
	return tx.CountFailingPayments(ctx, uid)
}

// =============================================================================
// Deposits
// =============================================================================

func (s *ServiceImpl) DepositInstant(ctx context.Context, tx store.Tx, uid uuid.UUID, amount int64) (*domain.WalletTransaction, error) {
	const op = "ledger.depositInstant"

	if !funds.ValidPositive(amount) {
		return nil, domain.Invalid(op, "amount must be a positive safe integer")
	}

	txID := uuid.New()
	tr, err := s.createTransaction(ctx, tx, uid, txID, domain.TxSuccess, domain.DepositOperation{
		Amount: amount,
		TxID:   txID,
	})
	if err != nil {
		return nil, err
	}
	if err := s.credit(ctx, tx, uid, amount, "deposit"); err != nil {
		return nil, err
	}
	return tr, nil
}

func (s *ServiceImpl) DepositAsync(ctx context.Context, tx store.Tx, uid uuid.UUID, amount int64, retryKey string) (*domain.WalletTransaction, *domain.Payment, error) {
	const op = "ledger.depositAsync"

	// The entire deposit is charged externally, so it must clear the
	// gateway minimum on its own.
	if !funds.ValidCharge(amount) {
		return nil, nil, domain.Invalid(op, "amount must be a positive safe integer of at least 100")
	}

	txID, paymentID := uuid.New(), uuid.New()
	operation := domain.DepositOperation{
		Amount:    amount,
		TxID:      txID,
		PaymentID: &paymentID,
	}
	payment, created, err := payments.Create(ctx, tx, paymentID, uid, amount, operation, retryKey)
	if err != nil {
		return nil, nil, err
	}
	if !created {
		// Replayed request: the original transaction already exists.
		existing, ok := payment.Operation.(domain.DepositOperation)
		if !ok {
			return nil, nil, domain.Errorf(domain.EINTERNAL, op, "retry key %q reused across operation kinds", retryKey)
		}
		tr, err := tx.GetTransaction(ctx, existing.TxID)
		if err != nil {
			return nil, nil, err
		}
		return tr, payment, nil
	}

	tr, err := s.createTransaction(ctx, tx, uid, txID, domain.TxPending, operation)
	if err != nil {
		return nil, nil, err
	}
	return tr, payment, nil
}

func (s *ServiceImpl) DepositCommit(ctx context.Context, tx store.Tx, op domain.DepositOperation) error {
	tr, err := s.takeTransaction(ctx, tx, op.TxID, domain.OpDeposit, "ledger.depositCommit")
	if err != nil {
		return err
	}
	if err := s.setStatus(ctx, tx, tr, domain.TxSuccess); err != nil {
		return err
	}
	if err := s.credit(ctx, tx, tr.UID, op.Amount, "deposit"); err != nil {
		return err
	}
	return s.settlePayment(ctx, tx, tr.UID, op.PaymentID, domain.PaymentSuccess)
}

func (s *ServiceImpl) DepositCancel(ctx context.Context, tx store.Tx, op domain.DepositOperation) error {
	tr, err := s.takeTransaction(ctx, tx, op.TxID, domain.OpDeposit, "ledger.depositCancel")
	if err != nil {
		return err
	}
	if err := s.setStatus(ctx, tx, tr, domain.TxCanceled); err != nil {
		return err
	}
	return s.settlePayment(ctx, tx, tr.UID, op.PaymentID, domain.PaymentCanceled)
}

func (s *ServiceImpl) DepositFailing(ctx context.Context, tx store.Tx, op domain.DepositOperation) error {
	return s.markPayment(ctx, tx, op.PaymentID, domain.PaymentFailing, "ledger.depositFailing")
}

func (s *ServiceImpl) DepositActionNeeded(ctx context.Context, tx store.Tx, op domain.DepositOperation) error {
	return s.markPayment(ctx, tx, op.PaymentID, domain.PaymentActionRequired, "ledger.depositActionNeeded")
}

// =============================================================================
// Transfers
// =============================================================================

func (s *ServiceImpl) TransferBalance(ctx context.Context, tx store.Tx, from, to uuid.UUID, amount int64) (*domain.WalletTransaction, error) {
	const op = "ledger.transferBalance"

	if err := validateTransfer(op, from, to, amount); err != nil {
		return nil, err
	}
	if err := s.debit(ctx, tx, from, amount, "transfer_out"); err != nil {
		return nil, err
	}

	outTxID, inTxID := uuid.New(), uuid.New()
	tr, err := s.createTransaction(ctx, tx, from, outTxID, domain.TxSuccess, domain.TransferOperation{
		CounterpartUID: to,
		WalletAmount:   amount,
		OutTxID:        outTxID,
		InTxID:         inTxID,
	})
	if err != nil {
		return nil, err
	}
	if _, err := s.createTransaction(ctx, tx, to, inTxID, domain.TxSuccess, domain.TransferInOperation{
		CounterpartUID: from,
		WalletAmount:   amount,
		OutTxID:        outTxID,
	}); err != nil {
		return nil, err
	}
	if err := s.credit(ctx, tx, to, amount, "transfer_in"); err != nil {
		return nil, err
	}
	return tr, nil
}

func (s *ServiceImpl) TransferAsync(ctx context.Context, tx store.Tx, from, to uuid.UUID, amount int64, retryKey string) (*domain.WalletTransaction, *domain.Payment, error) {
	const op = "ledger.transferAsync"

	if err := validateTransfer(op, from, to, amount); err != nil {
		return nil, nil, err
	}

	wallet, err := tx.GetWallet(ctx, from)
	if err != nil {
		return nil, nil, err
	}
	split, err := funds.Allocate(wallet.AvailableBalance(), amount)
	if err != nil {
		return nil, nil, err
	}
	if split.ChargePortion == 0 {
		tr, err := s.TransferBalance(ctx, tx, from, to, amount)
		return tr, nil, err
	}

	outTxID, inTxID, paymentID := uuid.New(), uuid.New(), uuid.New()
	operation := domain.TransferOperation{
		CounterpartUID: to,
		WalletAmount:   split.WalletPortion,
		ChargeAmount:   split.ChargePortion,
		OutTxID:        outTxID,
		InTxID:         inTxID,
		PaymentID:      &paymentID,
	}
	payment, created, err := payments.Create(ctx, tx, paymentID, from, split.ChargePortion, operation, retryKey)
	if err != nil {
		return nil, nil, err
	}
	if !created {
		existing, ok := payment.Operation.(domain.TransferOperation)
		if !ok {
			return nil, nil, domain.Errorf(domain.EINTERNAL, op, "retry key %q reused across operation kinds", retryKey)
		}
		tr, err := tx.GetTransaction(ctx, existing.OutTxID)
		if err != nil {
			return nil, nil, err
		}
		return tr, payment, nil
	}

	// The wallet-covered part is debited up front; a cancel outcome
	// refunds it.
	if err := s.debit(ctx, tx, from, split.WalletPortion, "transfer_out"); err != nil {
		return nil, nil, err
	}

	tr, err := s.createTransaction(ctx, tx, from, outTxID, domain.TxPending, operation)
	if err != nil {
		return nil, nil, err
	}
	if _, err := s.createTransaction(ctx, tx, to, inTxID, domain.TxPending, domain.TransferInOperation{
		CounterpartUID: from,
		WalletAmount:   split.WalletPortion,
		ChargeAmount:   split.ChargePortion,
		OutTxID:        outTxID,
		PaymentID:      &paymentID,
	}); err != nil {
		return nil, nil, err
	}
	return tr, payment, nil
}

func (s *ServiceImpl) TransferCommit(ctx context.Context, tx store.Tx, op domain.TransferOperation) error {
	const opName = "ledger.transferCommit"

	out, err := s.takeTransaction(ctx, tx, op.OutTxID, domain.OpTransferOut, opName)
	if err != nil {
		return err
	}
	in, err := s.takeTransaction(ctx, tx, op.InTxID, domain.OpTransferIn, opName)
	if err != nil {
		return err
	}
	if err := s.setStatus(ctx, tx, out, domain.TxSuccess); err != nil {
		return err
	}
	if err := s.setStatus(ctx, tx, in, domain.TxSuccess); err != nil {
		return err
	}
	if err := s.credit(ctx, tx, in.UID, op.WalletAmount+op.ChargeAmount, "transfer_in"); err != nil {
		return err
	}
	return s.settlePayment(ctx, tx, out.UID, op.PaymentID, domain.PaymentSuccess)
}

func (s *ServiceImpl) TransferCancel(ctx context.Context, tx store.Tx, op domain.TransferOperation) error {
	const opName = "ledger.transferCancel"

	out, err := s.takeTransaction(ctx, tx, op.OutTxID, domain.OpTransferOut, opName)
	if err != nil {
		return err
	}
	in, err := s.takeTransaction(ctx, tx, op.InTxID, domain.OpTransferIn, opName)
	if err != nil {
		return err
	}
	if err := s.setStatus(ctx, tx, out, domain.TxCanceled); err != nil {
		return err
	}
	if err := s.setStatus(ctx, tx, in, domain.TxCanceled); err != nil {
		return err
	}
	if op.WalletAmount > 0 {
		if err := s.credit(ctx, tx, out.UID, op.WalletAmount, "refund"); err != nil {
			return err
		}
	}
	return s.settlePayment(ctx, tx, out.UID, op.PaymentID, domain.PaymentCanceled)
}

func (s *ServiceImpl) TransferFailing(ctx context.Context, tx store.Tx, op domain.TransferOperation) error {
	return s.markPayment(ctx, tx, op.PaymentID, domain.PaymentFailing, "ledger.transferFailing")
}

func (s *ServiceImpl) TransferActionNeeded(ctx context.Context, tx store.Tx, op domain.TransferOperation) error {
	return s.markPayment(ctx, tx, op.PaymentID, domain.PaymentActionRequired, "ledger.transferActionNeeded")
}

// =============================================================================
// Subscription charges
// =============================================================================

func (s *ServiceImpl) SubscriptionBalance(ctx context.Context, tx store.Tx, uid, subscriptionID uuid.UUID, periodIndex int, amount int64) (*domain.WalletTransaction, error) {
	const op = "ledger.subscriptionBalance"

	if !funds.ValidPositive(amount) {
		return nil, domain.Invalid(op, "amount must be a positive safe integer")
	}
	if err := s.debit(ctx, tx, uid, amount, "subscription"); err != nil {
		return nil, err
	}

	txID := uuid.New()
	return s.createTransaction(ctx, tx, uid, txID, domain.TxSuccess, domain.SubscriptionOperation{
		SubscriptionID: subscriptionID,
		PeriodIndex:    periodIndex,
		WalletAmount:   amount,
		TxID:           txID,
	})
}

func (s *ServiceImpl) SubscriptionCharge(ctx context.Context, tx store.Tx, uid, subscriptionID uuid.UUID, periodIndex int, amount int64, retryKey string) (*domain.WalletTransaction, *domain.Payment, error) {
	const op = "ledger.subscriptionCharge"

	wallet, err := tx.GetWallet(ctx, uid)
	if err != nil {
		return nil, nil, err
	}
	split, err := funds.Allocate(wallet.AvailableBalance(), amount)
	if err != nil {
		return nil, nil, err
	}
	if split.ChargePortion == 0 {
		tr, err := s.SubscriptionBalance(ctx, tx, uid, subscriptionID, periodIndex, amount)
		return tr, nil, err
	}

	txID, paymentID := uuid.New(), uuid.New()
	operation := domain.SubscriptionOperation{
		SubscriptionID: subscriptionID,
		PeriodIndex:    periodIndex,
		WalletAmount:   split.WalletPortion,
		ChargeAmount:   split.ChargePortion,
		TxID:           txID,
		PaymentID:      &paymentID,
	}
	payment, created, err := payments.Create(ctx, tx, paymentID, uid, split.ChargePortion, operation, retryKey)
	if err != nil {
		return nil, nil, err
	}
	if !created {
		existing, ok := payment.Operation.(domain.SubscriptionOperation)
		if !ok {
			return nil, nil, domain.Errorf(domain.EINTERNAL, op, "retry key %q reused across operation kinds", retryKey)
		}
		tr, err := tx.GetTransaction(ctx, existing.TxID)
		if err != nil {
			return nil, nil, err
		}
		return tr, payment, nil
	}

	if split.WalletPortion > 0 {
		if err := s.debit(ctx, tx, uid, split.WalletPortion, "subscription"); err != nil {
			return nil, nil, err
		}
	}
	tr, err := s.createTransaction(ctx, tx, uid, txID, domain.TxPending, operation)
	if err != nil {
		return nil, nil, err
	}
	return tr, payment, nil
}

func (s *ServiceImpl) SubscriptionCommit(ctx context.Context, tx store.Tx, op domain.SubscriptionOperation) error {
	tr, err := s.takeTransaction(ctx, tx, op.TxID, domain.OpSubscription, "ledger.subscriptionCommit")
	if err != nil {
		return err
	}
	if err := s.setStatus(ctx, tx, tr, domain.TxSuccess); err != nil {
		return err
	}
	return s.settlePayment(ctx, tx, tr.UID, op.PaymentID, domain.PaymentSuccess)
}

func (s *ServiceImpl) SubscriptionCancel(ctx context.Context, tx store.Tx, op domain.SubscriptionOperation) error {
	tr, err := s.takeTransaction(ctx, tx, op.TxID, domain.OpSubscription, "ledger.subscriptionCancel")
	if err != nil {
		return err
	}
	if err := s.setStatus(ctx, tx, tr, domain.TxCanceled); err != nil {
		return err
	}
	if op.WalletAmount > 0 {
		if err := s.credit(ctx, tx, tr.UID, op.WalletAmount, "refund"); err != nil {
			return err
		}
	}
	return s.settlePayment(ctx, tx, tr.UID, op.PaymentID, domain.PaymentCanceled)
}

func (s *ServiceImpl) SubscriptionFailing(ctx context.Context, tx store.Tx, op domain.SubscriptionOperation) error {
	return s.markPayment(ctx, tx, op.PaymentID, domain.PaymentFailing, "ledger.subscriptionFailing")
}

func (s *ServiceImpl) SubscriptionActionNeeded(ctx context.Context, tx store.Tx, op domain.SubscriptionOperation) error {
	return s.markPayment(ctx, tx, op.PaymentID, domain.PaymentActionRequired, "ledger.subscriptionActionNeeded")
}

// =============================================================================
// Purchases
// =============================================================================

func (s *ServiceImpl) PurchaseInstant(ctx context.Context, tx store.Tx, uid uuid.UUID, product string, amount int64) (*domain.WalletTransaction, error) {
	const op = "ledger.purchaseInstant"

	if product == "" {
		return nil, domain.Invalid(op, "product is required")
	}
	if !funds.ValidPositive(amount) {
		return nil, domain.Invalid(op, "amount must be a positive safe integer")
	}
	if err := s.debit(ctx, tx, uid, amount, "purchase"); err != nil {
		return nil, err
	}

	txID := uuid.New()
	return s.createTransaction(ctx, tx, uid, txID, domain.TxSuccess, domain.PurchaseOperation{
		Product:      product,
		WalletAmount: amount,
		TxID:         txID,
	})
}

func (s *ServiceImpl) PurchaseCreated(ctx context.Context, tx store.Tx, uid uuid.UUID, product string, amount int64, retryKey string) (*domain.WalletTransaction, *domain.Payment, error) {
	const op = "ledger.purchaseCreated"

	if product == "" {
		return nil, nil, domain.Invalid(op, "product is required")
	}

	wallet, err := tx.GetWallet(ctx, uid)
	if err != nil {
		return nil, nil, err
	}
	split, err := funds.Allocate(wallet.AvailableBalance(), amount)
	if err != nil {
		return nil, nil, err
	}
	if split.ChargePortion == 0 {
		tr, err := s.PurchaseInstant(ctx, tx, uid, product, amount)
		return tr, nil, err
	}

	txID, paymentID := uuid.New(), uuid.New()
	operation := domain.PurchaseOperation{
		Product:      product,
		WalletAmount: split.WalletPortion,
		ChargeAmount: split.ChargePortion,
		TxID:         txID,
		PaymentID:    &paymentID,
	}
	payment, created, err := payments.Create(ctx, tx, paymentID, uid, split.ChargePortion, operation, retryKey)
	if err != nil {
		return nil, nil, err
	}
	if !created {
		existing, ok := payment.Operation.(domain.PurchaseOperation)
		if !ok {
			return nil, nil, domain.Errorf(domain.EINTERNAL, op, "retry key %q reused across operation kinds", retryKey)
		}
		tr, err := tx.GetTransaction(ctx, existing.TxID)
		if err != nil {
			return nil, nil, err
		}
		return tr, payment, nil
	}

	if split.WalletPortion > 0 {
		if err := s.debit(ctx, tx, uid, split.WalletPortion, "purchase"); err != nil {
			return nil, nil, err
		}
	}
	tr, err := s.createTransaction(ctx, tx, uid, txID, domain.TxPending, operation)
	if err != nil {
		return nil, nil, err
	}
	return tr, payment, nil
}

func (s *ServiceImpl) PurchaseCommit(ctx context.Context, tx store.Tx, op domain.PurchaseOperation) error {
	tr, err := s.takeTransaction(ctx, tx, op.TxID, domain.OpPurchase, "ledger.purchaseCommit")
	if err != nil {
		return err
	}
	if err := s.setStatus(ctx, tx, tr, domain.TxSuccess); err != nil {
		return err
	}
	return s.settlePayment(ctx, tx, tr.UID, op.PaymentID, domain.PaymentSuccess)
}

func (s *ServiceImpl) PurchaseCancel(ctx context.Context, tx store.Tx, op domain.PurchaseOperation) error {
	tr, err := s.takeTransaction(ctx, tx, op.TxID, domain.OpPurchase, "ledger.purchaseCancel")
	if err != nil {
		return err
	}
	if err := s.setStatus(ctx, tx, tr, domain.TxCanceled); err != nil {
		return err
	}
	if op.WalletAmount > 0 {
		if err := s.credit(ctx, tx, tr.UID, op.WalletAmount, "refund"); err != nil {
			return err
		}
	}
	return s.settlePayment(ctx, tx, tr.UID, op.PaymentID, domain.PaymentCanceled)
}

func (s *ServiceImpl) PurchaseFailing(ctx context.Context, tx store.Tx, op domain.PurchaseOperation) error {
	return s.markPayment(ctx, tx, op.PaymentID, domain.PaymentFailing, "ledger.purchaseFailing")
}

func (s *ServiceImpl) PurchaseActionNeeded(ctx context.Context, tx store.Tx, op domain.PurchaseOperation) error {
	return s.markPayment(ctx, tx, op.PaymentID, domain.PaymentActionRequired, "ledger.purchaseActionNeeded")
}

// =============================================================================
// Internals
// =============================================================================

func validateTransfer(op string, from, to uuid.UUID, amount int64) error {
	if from == to {
		return domain.Invalid(op, "cannot transfer to yourself")
	}
	if !funds.ValidPositive(amount) {
		return domain.Invalid(op, "amount must be a positive safe integer")
	}
	return nil
}

func (s *ServiceImpl) createTransaction(ctx context.Context, tx store.Tx, uid, id uuid.UUID, status domain.TransactionStatus, op domain.Operation) (*domain.WalletTransaction, error) {
	now := time.Now()
	tr := &domain.WalletTransaction{
		ID:        id,
		UID:       uid,
		Status:    status,
		Operation: op,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.CreateTransaction(ctx, tr); err != nil {
		return nil, err
	}
	s.events.Publish(domain.UpdateEvent{
		UID:           uid,
		Kind:          domain.UpdateTransaction,
		TransactionID: &tr.ID,
		Status:        string(status),
		At:            now,
	})
	return tr, nil
}

// takeTransaction loads a transaction for an outcome handler and checks
// its preconditions: it must exist, carry the expected operation kind,
// and still be pending.
func (s *ServiceImpl) takeTransaction(ctx context.Context, tx store.Tx, id uuid.UUID, typ domain.OperationType, op string) (*domain.WalletTransaction, error) {
	tr, err := tx.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if tr.Operation == nil || tr.Operation.OperationType() != typ {
		return nil, domain.InvalidState(op, "transaction carries a different operation kind")
	}
	if tr.Status.Terminal() {
		return nil, domain.InvalidState(op, "transaction already terminal")
	}
	return tr, nil
}

func (s *ServiceImpl) setStatus(ctx context.Context, tx store.Tx, tr *domain.WalletTransaction, status domain.TransactionStatus) error {
	if err := tx.SetTransactionStatus(ctx, tr.ID, status); err != nil {
		return err
	}
	s.events.Publish(domain.UpdateEvent{
		UID:           tr.UID,
		Kind:          domain.UpdateTransaction,
		TransactionID: &tr.ID,
		Status:        string(status),
		At:            time.Now(),
	})
	return nil
}

func (s *ServiceImpl) credit(ctx context.Context, tx store.Tx, uid uuid.UUID, amount int64, kind string) error {
	w, err := tx.GetWallet(ctx, uid)
	if err != nil {
		return err
	}
	if err := s.saveBalance(ctx, tx, w, w.Balance+amount); err != nil {
		return err
	}
	s.metrics.WalletCredits.WithLabelValues(kind).Add(float64(amount))
	return nil
}

func (s *ServiceImpl) debit(ctx context.Context, tx store.Tx, uid uuid.UUID, amount int64, kind string) error {
	w, err := tx.GetWallet(ctx, uid)
	if err != nil {
		return err
	}
	if w.AvailableBalance() < amount {
		return domain.ErrInsufficientFunds
	}
	if err := s.saveBalance(ctx, tx, w, w.Balance-amount); err != nil {
		return err
	}
	s.metrics.WalletDebits.WithLabelValues(kind).Add(float64(amount))
	return nil
}

func (s *ServiceImpl) saveBalance(ctx context.Context, tx store.Tx, w *domain.Wallet, balance int64) error {
	if err := tx.SaveWalletBalance(ctx, w.UID, balance, w.BalanceLocked); err != nil {
		return err
	}
	s.events.Publish(domain.UpdateEvent{
		UID:     w.UID,
		Kind:    domain.UpdateBalance,
		Balance: balance,
		At:      time.Now(),
	})
	return nil
}

// settlePayment moves a payment into its terminal state when the
// operation carried one, then refreshes the user's lock flag.
func (s *ServiceImpl) settlePayment(ctx context.Context, tx store.Tx, uid uuid.UUID, paymentID *uuid.UUID, state domain.PaymentState) error {
	if paymentID == nil {
		return nil
	}
	if err := payments.SetState(ctx, tx, *paymentID, state); err != nil {
		return err
	}
	return s.refreshLock(ctx, tx, uid, state)
}

// markPayment is the failing / action-needed path: no ledger state
// changes, only the payment state and lock flag. Idempotent.
func (s *ServiceImpl) markPayment(ctx context.Context, tx store.Tx, paymentID *uuid.UUID, state domain.PaymentState, op string) error {
	if paymentID == nil {
		return domain.Errorf(domain.EINTERNAL, op, "payment reference missing")
	}
	p, err := tx.GetPayment(ctx, *paymentID)
	if err != nil {
		return err
	}
	if p.State.Terminal() {
		// Stale signal for an already-settled payment; discard.
		return nil
	}
	if err := payments.SetState(ctx, tx, *paymentID, state); err != nil {
		return err
	}
	return s.refreshLock(ctx, tx, p.UID, state)
}

func (s *ServiceImpl) refreshLock(ctx context.Context, tx store.Tx, uid uuid.UUID, state domain.PaymentState) error {
	n, err := tx.CountFailingPayments(ctx, uid)
	if err != nil {
		return err
	}
	if err := tx.SetWalletLocked(ctx, uid, n > 0); err != nil {
		return err
	}
	s.events.Publish(domain.UpdateEvent{
		UID:    uid,
		Kind:   domain.UpdatePaymentStatus,
		Status: string(state),
		At:     time.Now(),
	})
	return nil
}
