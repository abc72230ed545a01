package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dukerupert/gullveig/internal/domain"
	"github.com/google/uuid"
)

// Memory is an in-memory Store for tests. Transactions copy the whole
// state on begin and swap it back on commit, so a failed callback leaves
// no partial writes, matching the Postgres rollback behavior. The single
// mutex gives serializable semantics trivially.
type Memory struct {
	mu sync.Mutex
	st *memState
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{st: newMemState()}
}

func (m *Memory) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.st.clone()
	if err := fn(ctx, &memTx{st: next}); err != nil {
		return err
	}
	m.st = next
	return nil
}

type memState struct {
	wallets   map[uuid.UUID]domain.Wallet
	txs       map[uuid.UUID]domain.WalletTransaction
	payments  map[uuid.UUID]domain.Payment
	payOrder  []uuid.UUID
	intents   map[string]domain.PaymentIntent
	scheds    map[uuid.UUID]domain.PaymentScheduling
	customers map[uuid.UUID]domain.BillingCustomer
	methods   map[string]domain.PaymentMethod
	pmOrder   []string
	subs      map[uuid.UUID]domain.Subscription
	subOrder  []uuid.UUID
	periods   map[string]domain.SubscriptionPeriod
	perOrder  []string
	cursors   map[string]domain.EventCursor
}

func newMemState() *memState {
	return &memState{
		wallets:   map[uuid.UUID]domain.Wallet{},
		txs:       map[uuid.UUID]domain.WalletTransaction{},
		payments:  map[uuid.UUID]domain.Payment{},
		intents:   map[string]domain.PaymentIntent{},
		scheds:    map[uuid.UUID]domain.PaymentScheduling{},
		customers: map[uuid.UUID]domain.BillingCustomer{},
		methods:   map[string]domain.PaymentMethod{},
		subs:      map[uuid.UUID]domain.Subscription{},
		periods:   map[string]domain.SubscriptionPeriod{},
		cursors:   map[string]domain.EventCursor{},
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.wallets {
		c.wallets[k] = v
	}
	for k, v := range s.txs {
		c.txs[k] = v
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	c.payOrder = append(c.payOrder, s.payOrder...)
	for k, v := range s.intents {
		c.intents[k] = v
	}
	for k, v := range s.scheds {
		c.scheds[k] = v
	}
	for k, v := range s.customers {
		c.customers[k] = v
	}
	for k, v := range s.methods {
		c.methods[k] = v
	}
	c.pmOrder = append(c.pmOrder, s.pmOrder...)
	for k, v := range s.subs {
		c.subs[k] = v
	}
	c.subOrder = append(c.subOrder, s.subOrder...)
	for k, v := range s.periods {
		c.periods[k] = v
	}
	c.perOrder = append(c.perOrder, s.perOrder...)
	for k, v := range s.cursors {
		c.cursors[k] = v
	}
	return c
}

func periodKey(subscriptionID uuid.UUID, index int) string {
	return fmt.Sprintf("%s/%d", subscriptionID, index)
}

type memTx struct {
	st *memState
}

var _ Tx = (*memTx)(nil)

func (t *memTx) GetWallet(_ context.Context, uid uuid.UUID) (*domain.Wallet, error) {
	w, ok := t.st.wallets[uid]
	if !ok {
		w = domain.Wallet{UID: uid, UpdatedAt: time.Now().UTC()}
		t.st.wallets[uid] = w
	}
	out := w
	return &out, nil
}

func (t *memTx) SaveWalletBalance(_ context.Context, uid uuid.UUID, balance, locked int64) error {
	w, ok := t.st.wallets[uid]
	if !ok {
		return domain.NotFound("store.wallet", "wallet", uid.String())
	}
	w.Balance = balance
	w.BalanceLocked = locked
	w.UpdatedAt = time.Now().UTC()
	t.st.wallets[uid] = w
	return nil
}

func (t *memTx) SetWalletLocked(_ context.Context, uid uuid.UUID, locked bool) error {
	w, ok := t.st.wallets[uid]
	if !ok {
		return nil
	}
	w.IsLocked = locked
	t.st.wallets[uid] = w
	return nil
}

func (t *memTx) CreateTransaction(_ context.Context, wtx *domain.WalletTransaction) error {
	if _, ok := t.st.txs[wtx.ID]; ok {
		return domain.Conflict("store.transaction", "transaction id already exists")
	}
	cp := *wtx
	now := time.Now().UTC()
	cp.CreatedAt, cp.UpdatedAt = now, now
	t.st.txs[wtx.ID] = cp
	return nil
}

func (t *memTx) GetTransaction(_ context.Context, id uuid.UUID) (*domain.WalletTransaction, error) {
	wtx, ok := t.st.txs[id]
	if !ok {
		return nil, domain.NotFound("store.transaction", "wallet transaction", id.String())
	}
	out := wtx
	return &out, nil
}

func (t *memTx) SetTransactionStatus(_ context.Context, id uuid.UUID, status domain.TransactionStatus) error {
	wtx, ok := t.st.txs[id]
	if !ok {
		return domain.NotFound("store.transaction", "wallet transaction", id.String())
	}
	wtx.Status = status
	wtx.UpdatedAt = time.Now().UTC()
	t.st.txs[id] = wtx
	return nil
}

func (t *memTx) CreatePayment(_ context.Context, p *domain.Payment) error {
	if _, ok := t.st.payments[p.ID]; ok {
		return domain.Conflict("store.payment", "payment id already exists")
	}
	cp := *p
	now := time.Now().UTC()
	cp.CreatedAt, cp.UpdatedAt = now, now
	t.st.payments[p.ID] = cp
	t.st.payOrder = append(t.st.payOrder, p.ID)
	return nil
}

func (t *memTx) GetPayment(_ context.Context, id uuid.UUID) (*domain.Payment, error) {
	p, ok := t.st.payments[id]
	if !ok {
		return nil, domain.NotFound("store.payment", "payment", id.String())
	}
	out := p
	return &out, nil
}

func (t *memTx) GetPaymentByRetryKey(_ context.Context, uid uuid.UUID, retryKey string) (*domain.Payment, error) {
	for _, id := range t.st.payOrder {
		p := t.st.payments[id]
		if p.UID == uid && p.RetryKey == retryKey {
			out := p
			return &out, nil
		}
	}
	return nil, nil
}

func (t *memTx) SetPaymentState(_ context.Context, id uuid.UUID, state domain.PaymentState) error {
	p, ok := t.st.payments[id]
	if !ok {
		return domain.NotFound("store.payment", "payment", id.String())
	}
	p.State = state
	p.UpdatedAt = time.Now().UTC()
	t.st.payments[id] = p
	return nil
}

func (t *memTx) SetPaymentIntentID(_ context.Context, id uuid.UUID, intentID string) error {
	p, ok := t.st.payments[id]
	if !ok {
		return domain.NotFound("store.payment", "payment", id.String())
	}
	p.IntentID = intentID
	t.st.payments[id] = p
	return nil
}

func (t *memTx) ListPendingPayments(_ context.Context) ([]*domain.Payment, error) {
	var out []*domain.Payment
	for _, id := range t.st.payOrder {
		p := t.st.payments[id]
		if p.State == domain.PaymentPending || p.State == domain.PaymentFailing {
			cp := p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (t *memTx) CountFailingPayments(_ context.Context, uid uuid.UUID) (int, error) {
	n := 0
	for _, p := range t.st.payments {
		if p.UID == uid && p.State == domain.PaymentFailing {
			n++
		}
	}
	return n, nil
}

func (t *memTx) CreateIntent(_ context.Context, intent *domain.PaymentIntent) error {
	if _, ok := t.st.intents[intent.ID]; ok {
		return domain.Conflict("store.intent", "intent id already exists")
	}
	cp := *intent
	cp.CreatedAt = time.Now().UTC()
	t.st.intents[intent.ID] = cp
	return nil
}

func (t *memTx) GetIntent(_ context.Context, id string) (*domain.PaymentIntent, error) {
	intent, ok := t.st.intents[id]
	if !ok {
		return nil, nil
	}
	out := intent
	return &out, nil
}

func (t *memTx) SetIntentState(_ context.Context, id string, state domain.IntentState) error {
	intent, ok := t.st.intents[id]
	if !ok {
		return domain.NotFound("store.intent", "payment intent", id)
	}
	intent.State = state
	t.st.intents[id] = intent
	return nil
}

func (t *memTx) GetScheduling(_ context.Context, paymentID uuid.UUID) (*domain.PaymentScheduling, error) {
	s, ok := t.st.scheds[paymentID]
	if !ok {
		s = domain.PaymentScheduling{PaymentID: paymentID}
		t.st.scheds[paymentID] = s
	}
	out := s
	return &out, nil
}

func (t *memTx) SaveScheduling(_ context.Context, s *domain.PaymentScheduling) error {
	if _, ok := t.st.scheds[s.PaymentID]; !ok {
		return domain.NotFound("store.scheduling", "payment scheduling", s.PaymentID.String())
	}
	t.st.scheds[s.PaymentID] = *s
	return nil
}

func (t *memTx) SaveSchedulingIfAttempt(_ context.Context, s *domain.PaymentScheduling, expectedAttempt int) (bool, error) {
	cur, ok := t.st.scheds[s.PaymentID]
	if !ok || cur.Attempt != expectedAttempt {
		return false, nil
	}
	t.st.scheds[s.PaymentID] = *s
	return true, nil
}

func (t *memTx) CreateBillingCustomer(_ context.Context, c *domain.BillingCustomer) error {
	if _, ok := t.st.customers[c.UID]; ok {
		return domain.Conflict("store.customer", "billing customer already exists")
	}
	cp := *c
	cp.CreatedAt = time.Now().UTC()
	t.st.customers[c.UID] = cp
	return nil
}

func (t *memTx) GetBillingCustomer(_ context.Context, uid uuid.UUID) (*domain.BillingCustomer, error) {
	c, ok := t.st.customers[uid]
	if !ok {
		return nil, nil
	}
	out := c
	return &out, nil
}

func (t *memTx) ApplyCustomerID(_ context.Context, uid uuid.UUID, customerID string) (bool, error) {
	c, ok := t.st.customers[uid]
	if !ok || c.CustomerID != "" {
		return false, nil
	}
	c.CustomerID = customerID
	t.st.customers[uid] = c
	return true, nil
}

func (t *memTx) CreatePaymentMethod(_ context.Context, m *domain.PaymentMethod) error {
	if _, ok := t.st.methods[m.ID]; ok {
		return domain.Conflict("store.paymentMethod", "payment method already exists")
	}
	cp := *m
	cp.CreatedAt = time.Now().UTC()
	t.st.methods[m.ID] = cp
	t.st.pmOrder = append(t.st.pmOrder, m.ID)
	return nil
}

func (t *memTx) GetPaymentMethod(_ context.Context, id string) (*domain.PaymentMethod, error) {
	m, ok := t.st.methods[id]
	if !ok {
		return nil, nil
	}
	out := m
	return &out, nil
}

func (t *memTx) ListPaymentMethods(_ context.Context, uid uuid.UUID) ([]*domain.PaymentMethod, error) {
	var out []*domain.PaymentMethod
	for _, id := range t.st.pmOrder {
		m, ok := t.st.methods[id]
		if ok && m.UID == uid {
			cp := m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (t *memTx) DeletePaymentMethod(_ context.Context, id string) (bool, error) {
	if _, ok := t.st.methods[id]; !ok {
		return false, nil
	}
	delete(t.st.methods, id)
	return true, nil
}

func (t *memTx) SetDefaultPaymentMethod(_ context.Context, uid uuid.UUID, id string) error {
	target, ok := t.st.methods[id]
	if !ok || target.UID != uid {
		return domain.NotFound("store.paymentMethod", "payment method", id)
	}
	for mid, m := range t.st.methods {
		if m.UID == uid && m.IsDefault {
			m.IsDefault = false
			t.st.methods[mid] = m
		}
	}
	target.IsDefault = true
	t.st.methods[id] = target
	return nil
}

func (t *memTx) CreateSubscription(_ context.Context, s *domain.Subscription) error {
	if _, ok := t.st.subs[s.ID]; ok {
		return domain.Conflict("store.subscription", "subscription already exists")
	}
	cp := *s
	now := time.Now().UTC()
	cp.CreatedAt, cp.UpdatedAt = now, now
	t.st.subs[s.ID] = cp
	t.st.subOrder = append(t.st.subOrder, s.ID)
	return nil
}

func (t *memTx) GetSubscription(_ context.Context, id uuid.UUID) (*domain.Subscription, error) {
	s, ok := t.st.subs[id]
	if !ok {
		return nil, domain.NotFound("store.subscription", "subscription", id.String())
	}
	out := s
	return &out, nil
}

func (t *memTx) SaveSubscription(_ context.Context, s *domain.Subscription) error {
	cur, ok := t.st.subs[s.ID]
	if !ok {
		return domain.NotFound("store.subscription", "subscription", s.ID.String())
	}
	cur.State = s.State
	cur.CurrentPeriodIndex = s.CurrentPeriodIndex
	cur.UpdatedAt = time.Now().UTC()
	t.st.subs[s.ID] = cur
	return nil
}

func (t *memTx) ListActiveSubscriptions(_ context.Context) ([]*domain.Subscription, error) {
	var out []*domain.Subscription
	for _, id := range t.st.subOrder {
		s := t.st.subs[id]
		if s.State.Active() {
			cp := s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (t *memTx) CreatePeriod(_ context.Context, p *domain.SubscriptionPeriod) error {
	key := periodKey(p.SubscriptionID, p.Index)
	if _, ok := t.st.periods[key]; ok {
		return domain.Conflict("store.period", "subscription period already exists")
	}
	t.st.periods[key] = *p
	t.st.perOrder = append(t.st.perOrder, key)
	return nil
}

func (t *memTx) GetPeriod(_ context.Context, subscriptionID uuid.UUID, index int) (*domain.SubscriptionPeriod, error) {
	p, ok := t.st.periods[periodKey(subscriptionID, index)]
	if !ok {
		return nil, domain.NotFound("store.period", "subscription period",
			periodKey(subscriptionID, index))
	}
	out := p
	return &out, nil
}

func (t *memTx) SavePeriod(_ context.Context, p *domain.SubscriptionPeriod) error {
	key := periodKey(p.SubscriptionID, p.Index)
	if _, ok := t.st.periods[key]; !ok {
		return domain.NotFound("store.period", "subscription period", key)
	}
	t.st.periods[key] = *p
	return nil
}

func (t *memTx) ListPeriodsAwaitingCancel(_ context.Context) ([]*domain.SubscriptionPeriod, error) {
	var out []*domain.SubscriptionPeriod
	for _, key := range t.st.perOrder {
		p := t.st.periods[key]
		if p.NeedCancel && !p.ScheduledCancel {
			cp := p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (t *memTx) GetCursor(_ context.Context, name string) (*domain.EventCursor, error) {
	c, ok := t.st.cursors[name]
	if !ok {
		return nil, nil
	}
	out := c
	return &out, nil
}

func (t *memTx) SaveCursor(_ context.Context, c *domain.EventCursor) error {
	cp := *c
	cp.UpdatedAt = time.Now().UTC()
	t.st.cursors[c.Name] = cp
	return nil
}
