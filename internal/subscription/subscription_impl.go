package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/gullveig/internal/domain"
	"github.com/dukerupert/gullveig/internal/funds"
	"github.com/dukerupert/gullveig/internal/ledger"
	"github.com/dukerupert/gullveig/internal/store"
	"github.com/dukerupert/gullveig/internal/telemetry"
)

// ServiceImpl implements the billing engine over the store and ledger.
type ServiceImpl struct {
	store    store.Store
	ledger   ledger.Service
	canceler CancelScheduler
	metrics  *telemetry.Metrics
	logger   *slog.Logger

	now func() time.Time
}

var _ Service = (*ServiceImpl)(nil)

func NewService(s store.Store, l ledger.Service, canceler CancelScheduler, metrics *telemetry.Metrics, logger *slog.Logger) *ServiceImpl {
	if metrics == nil {
		metrics = telemetry.NewNopMetrics()
	}
	return &ServiceImpl{
		store:    s,
		ledger:   l,
		canceler: canceler,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// transition moves a subscription to a new state and counts the edge.
func (s *ServiceImpl) transition(sub *domain.Subscription, to domain.SubscriptionState) {
	s.metrics.SubscriptionTransitions.WithLabelValues(string(sub.State), string(to)).Inc()
	sub.State = to
}

// =============================================================================
// Lifecycle
// =============================================================================

func (s *ServiceImpl) Create(ctx context.Context, tx store.Tx, params CreateParams) (*domain.Subscription, error) {
	const op = "subscription.create"

	if !params.Interval.Valid() {
		return nil, domain.Invalid(op, "interval must be week or month")
	}
	if !funds.ValidCharge(params.Amount) {
		return nil, domain.Invalid(op, "amount must be a positive safe integer of at least 100")
	}
	if params.Product == "" {
		return nil, domain.Invalid(op, "product is required")
	}
	if params.Start.IsZero() {
		params.Start = s.now()
	}

	now := s.now()
	sub := &domain.Subscription{
		ID:                 uuid.New(),
		UID:                params.UID,
		Amount:             params.Amount,
		Interval:           params.Interval,
		Start:              params.Start,
		Product:            params.Product,
		State:              domain.SubStarted,
		CurrentPeriodIndex: 1,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := tx.CreateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	period := &domain.SubscriptionPeriod{
		SubscriptionID: sub.ID,
		Index:          1,
		Start:          params.Start,
		State:          domain.PeriodPending,
	}
	if err := s.chargePeriod(ctx, tx, sub, period); err != nil {
		return nil, err
	}
	if err := tx.CreatePeriod(ctx, period); err != nil {
		return nil, err
	}
	s.metrics.SubscriptionsCreated.WithLabelValues(string(sub.Interval)).Inc()
	return sub, nil
}

func (s *ServiceImpl) Get(ctx context.Context, tx store.Tx, id uuid.UUID) (*domain.Subscription, error) {
	return tx.GetSubscription(ctx, id)
}

func (s *ServiceImpl) TryCancel(ctx context.Context, tx store.Tx, id uuid.UUID) (bool, error) {
	sub, err := tx.GetSubscription(ctx, id)
	if err != nil {
		return false, err
	}
	switch sub.State {
	case domain.SubCanceled, domain.SubExpired:
		return true, nil
	case domain.SubRetrying:
		// A retrying subscription must lapse naturally: its in-flight
		// payment is still being driven to an outcome.
		return false, nil
	}
	s.transition(sub, domain.SubCanceled)
	sub.UpdatedAt = s.now()
	if err := tx.SaveSubscription(ctx, sub); err != nil {
		return false, err
	}
	s.metrics.SubscriptionCancelations.WithLabelValues("user").Inc()
	return true, nil
}

func (s *ServiceImpl) ExpiryEstimate(ctx context.Context, tx store.Tx, id uuid.UUID, now time.Time) (time.Time, error) {
	sub, err := tx.GetSubscription(ctx, id)
	if err != nil {
		return time.Time{}, err
	}
	period, err := tx.GetPeriod(ctx, sub.ID, sub.CurrentPeriodIndex)
	if err != nil {
		return time.Time{}, err
	}

	switch sub.State {
	case domain.SubGracePeriod:
		return period.Start.Add(sub.Interval.GracePeriod()), nil
	case domain.SubRetrying:
		return period.Start.Add(domain.RetryCancelAfter), nil
	default:
		// started, canceled and expired all lapse at the period boundary.
		return sub.Interval.PeriodEnd(period.Start), nil
	}
}

// =============================================================================
// Payment outcomes (current period only)
// =============================================================================

func (s *ServiceImpl) OutcomeSuccess(ctx context.Context, tx store.Tx, op domain.SubscriptionOperation) error {
	sub, period, err := s.takeCurrentPeriod(ctx, tx, op, "subscription.outcomeSuccess")
	if err != nil {
		return err
	}

	period.State = domain.PeriodSuccess
	switch sub.State {
	case domain.SubGracePeriod:
		s.transition(sub, domain.SubStarted)
	case domain.SubRetrying:
		// Recovery after suspension restarts the billing clock.
		s.transition(sub, domain.SubStarted)
		period.Start = s.now()
	}
	return s.save(ctx, tx, sub, period)
}

func (s *ServiceImpl) OutcomeFailing(ctx context.Context, tx store.Tx, op domain.SubscriptionOperation) error {
	return s.applyFailure(ctx, tx, op, "subscription.outcomeFailing")
}

// OutcomeActionNeeded is treated like a failure for billing purposes:
// the user must intervene, and the grace clock gives them the window.
func (s *ServiceImpl) OutcomeActionNeeded(ctx context.Context, tx store.Tx, op domain.SubscriptionOperation) error {
	return s.applyFailure(ctx, tx, op, "subscription.outcomeActionNeeded")
}

func (s *ServiceImpl) applyFailure(ctx context.Context, tx store.Tx, op domain.SubscriptionOperation, opName string) error {
	sub, period, err := s.takeCurrentPeriod(ctx, tx, op, opName)
	if err != nil {
		return err
	}

	period.State = domain.PeriodFailing
	// A subscription that never had a successful period simply expires
	// on schedule; only later periods earn a grace window.
	if sub.State == domain.SubStarted && op.PeriodIndex > 1 {
		s.transition(sub, domain.SubGracePeriod)
	}
	return s.save(ctx, tx, sub, period)
}

func (s *ServiceImpl) OutcomeCanceled(ctx context.Context, tx store.Tx, op domain.SubscriptionOperation) error {
	sub, period, err := s.takeCurrentPeriod(ctx, tx, op, "subscription.outcomeCanceled")
	if err != nil {
		return err
	}

	period.State = domain.PeriodCanceled
	if sub.State == domain.SubRetrying {
		s.transition(sub, domain.SubExpired)
		s.metrics.SubscriptionCancelations.WithLabelValues("payment_failed").Inc()
	}
	return s.save(ctx, tx, sub, period)
}

// =============================================================================
// Time-driven scheduling
// =============================================================================

func (s *ServiceImpl) DoScheduling(ctx context.Context, now time.Time) error {
	var subs []*domain.Subscription
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		subs, err = tx.ListActiveSubscriptions(ctx)
		return err
	})
	if err != nil {
		return err
	}

	for _, sub := range subs {
		if err := s.scheduleOne(ctx, sub.ID, now); err != nil {
			s.logger.Error("subscription scheduling failed",
				slog.String("subscription_id", sub.ID.String()),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

func (s *ServiceImpl) scheduleOne(ctx context.Context, id uuid.UUID, now time.Time) error {
	return s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		sub, err := tx.GetSubscription(ctx, id)
		if err != nil {
			return err
		}
		if !sub.State.Active() {
			return nil
		}
		period, err := tx.GetPeriod(ctx, sub.ID, sub.CurrentPeriodIndex)
		if err != nil {
			return err
		}
		periodEnd := sub.Interval.PeriodEnd(period.Start)

		switch sub.State {
		case domain.SubCanceled:
			if now.After(periodEnd) {
				s.transition(sub, domain.SubExpired)
				return s.save(ctx, tx, sub, nil)
			}

		case domain.SubGracePeriod:
			if now.After(period.Start.Add(sub.Interval.GracePeriod())) {
				s.transition(sub, domain.SubRetrying)
				return s.save(ctx, tx, sub, nil)
			}

		case domain.SubRetrying:
			if now.After(period.Start.Add(domain.RetryCancelAfter)) && !period.NeedCancel {
				period.NeedCancel = true
				return s.save(ctx, tx, nil, period)
			}

		case domain.SubStarted:
			if period.State != domain.PeriodSuccess {
				// First payment never completed in time.
				if sub.CurrentPeriodIndex == 1 && now.After(periodEnd) {
					s.transition(sub, domain.SubExpired)
					s.metrics.SubscriptionCancelations.WithLabelValues("never_paid").Inc()
					return s.save(ctx, tx, sub, nil)
				}
				return nil
			}
			if now.After(periodEnd.Add(-domain.NextPeriodWindow)) {
				return s.openNextPeriod(ctx, tx, sub, periodEnd)
			}
		}
		return nil
	})
}

// openNextPeriod creates and charges the next billing period and
// advances the current index, all in the caller's transaction.
func (s *ServiceImpl) openNextPeriod(ctx context.Context, tx store.Tx, sub *domain.Subscription, start time.Time) error {
	period := &domain.SubscriptionPeriod{
		SubscriptionID: sub.ID,
		Index:          sub.CurrentPeriodIndex + 1,
		Start:          start,
		State:          domain.PeriodPending,
	}
	if err := s.chargePeriod(ctx, tx, sub, period); err != nil {
		return err
	}
	if err := tx.CreatePeriod(ctx, period); err != nil {
		return err
	}
	sub.CurrentPeriodIndex = period.Index
	s.metrics.SubscriptionRenewals.WithLabelValues(string(sub.Interval)).Inc()
	return s.save(ctx, tx, sub, nil)
}

// chargePeriod charges one period through the allocation rule. A charge
// fully covered by the wallet settles immediately; otherwise the period
// keeps a reference to the pending payment. The retry key is derived
// from the period identity, so a replayed scheduling run cannot
// double-charge.
func (s *ServiceImpl) chargePeriod(ctx context.Context, tx store.Tx, sub *domain.Subscription, period *domain.SubscriptionPeriod) error {
	retryKey := fmt.Sprintf("sub:%s:%d", sub.ID, period.Index)
	_, payment, err := s.ledger.SubscriptionCharge(ctx, tx, sub.UID, sub.ID, period.Index, sub.Amount, retryKey)
	if err != nil {
		return err
	}
	if payment == nil {
		period.State = domain.PeriodSuccess
		return nil
	}
	period.PaymentID = &payment.ID
	return nil
}

func (s *ServiceImpl) CollectCancellations(ctx context.Context) error {
	var pending []*domain.SubscriptionPeriod
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		periods, err := tx.ListPeriodsAwaitingCancel(ctx)
		if err != nil {
			return err
		}
		for _, p := range periods {
			p.ScheduledCancel = true
			p.State = domain.PeriodCanceling
			if err := tx.SavePeriod(ctx, p); err != nil {
				return err
			}
		}
		pending = periods
		return nil
	})
	if err != nil {
		return err
	}

	// Enqueue after the flags committed: a crash here loses the task but
	// never enqueues it twice.
	for _, p := range pending {
		if p.PaymentID == nil {
			s.logger.Error("period awaiting cancel has no payment",
				slog.String("subscription_id", p.SubscriptionID.String()),
				slog.Int("period", p.Index))
			continue
		}
		if err := s.canceler.ScheduleCancel(ctx, *p.PaymentID); err != nil {
			s.logger.Error("failed to schedule payment cancellation",
				slog.String("payment_id", p.PaymentID.String()),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

// =============================================================================
// Internals
// =============================================================================

// takeCurrentPeriod loads the subscription and its current period for an
// outcome handler. Outcomes for any other period index indicate a stale
// or duplicate event and are rejected, as are outcomes against a period
// already terminal.
func (s *ServiceImpl) takeCurrentPeriod(ctx context.Context, tx store.Tx, op domain.SubscriptionOperation, opName string) (*domain.Subscription, *domain.SubscriptionPeriod, error) {
	sub, err := tx.GetSubscription(ctx, op.SubscriptionID)
	if err != nil {
		return nil, nil, err
	}
	if op.PeriodIndex != sub.CurrentPeriodIndex {
		return nil, nil, domain.InvalidState(opName, fmt.Sprintf("outcome for period %d but current period is %d", op.PeriodIndex, sub.CurrentPeriodIndex))
	}
	period, err := tx.GetPeriod(ctx, sub.ID, op.PeriodIndex)
	if err != nil {
		return nil, nil, err
	}
	if period.State.Terminal() {
		return nil, nil, domain.InvalidState(opName, "period already terminal")
	}
	return sub, period, nil
}

func (s *ServiceImpl) save(ctx context.Context, tx store.Tx, sub *domain.Subscription, period *domain.SubscriptionPeriod) error {
	if sub != nil {
		sub.UpdatedAt = s.now()
		if err := tx.SaveSubscription(ctx, sub); err != nil {
			return err
		}
	}
	if period != nil {
		if err := tx.SavePeriod(ctx, period); err != nil {
			return err
		}
	}
	return nil
}
