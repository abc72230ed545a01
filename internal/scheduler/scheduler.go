// Package scheduler executes gateway charges for pending payments. The
// poll loop claims payments due for an attempt and dispatches tasks to
// the worker queue; workers run the gateway calls and apply the
// resulting outcome through the router. The attempt counter on the
// scheduling record makes every dispatch single-winner, so duplicate
// deliveries and superseded workers never double-apply.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/gullveig/internal/domain"
	"github.com/dukerupert/gullveig/internal/gateway"
	"github.com/dukerupert/gullveig/internal/payments"
	"github.com/dukerupert/gullveig/internal/route"
	"github.com/dukerupert/gullveig/internal/store"
	"github.com/dukerupert/gullveig/internal/subscription"
	"github.com/dukerupert/gullveig/internal/telemetry"
)

const (
	// ImmediateRetries is how many recorded failures retry on the next
	// poll tick before the cooldown applies.
	ImmediateRetries = 2

	// RetryCooldown is the minimum wait between attempts once immediate
	// retries are exhausted.
	RetryCooldown = time.Hour
)

// Scheduler is both sides of the execution pipeline: Poll dispatches,
// Execute works.
type Scheduler struct {
	store    store.Store
	provider gateway.Provider
	router   *route.Router
	queue    Queue
	metrics  *telemetry.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

var _ subscription.CancelScheduler = (*Scheduler)(nil)

func New(st store.Store, provider gateway.Provider, router *route.Router, queue Queue, metrics *telemetry.Metrics, logger *slog.Logger) *Scheduler {
	if metrics == nil {
		metrics = telemetry.NewNopMetrics()
	}
	return &Scheduler{
		store:    st,
		provider: provider,
		router:   router,
		queue:    queue,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// SetRouter installs the outcome router. Separate from New because the
// router depends on the subscription engine, which needs the scheduler
// as its cancellation sink.
func (s *Scheduler) SetRouter(r *route.Router) {
	s.router = r
}

// Start registers the scheduler as the queue's worker.
func (s *Scheduler) Start() error {
	return s.queue.OnWork(s.Execute)
}

// =============================================================================
// Dispatch side
// =============================================================================

// Poll scans pending payments and enqueues one execution task for each
// payment due an attempt. Safe to run on every instance concurrently.
func (s *Scheduler) Poll(ctx context.Context) error {
	var due []*domain.Payment
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		due, err = tx.ListPendingPayments(ctx)
		return err
	})
	if err != nil {
		return err
	}

	for _, p := range due {
		if err := s.dispatch(ctx, p.ID); err != nil {
			s.logger.Error("failed to dispatch payment attempt",
				slog.String("payment_id", p.ID.String()),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

// dispatch claims the next attempt for a payment and enqueues it. The
// claim and the attempt increment commit together, so concurrent
// pollers cannot dispatch the same attempt twice.
func (s *Scheduler) dispatch(ctx context.Context, paymentID uuid.UUID) error {
	var task *Task
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		p, err := tx.GetPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		if p.State.Terminal() {
			return nil
		}
		sched, err := tx.GetScheduling(ctx, paymentID)
		if err != nil {
			return err
		}
		if !shouldAttempt(sched, s.now()) {
			return nil
		}
		sched.Attempt++
		sched.InProgress = true
		if err := tx.SaveScheduling(ctx, sched); err != nil {
			return err
		}
		task = &Task{PaymentID: paymentID, Attempt: sched.Attempt}
		return nil
	})
	if err != nil || task == nil {
		return err
	}

	if err := s.queue.Enqueue(ctx, *task); err != nil {
		// Claimed but never dispatched; release so the next poll retries.
		s.release(ctx, task.PaymentID, task.Attempt)
		return err
	}
	s.metrics.TasksEnqueued.WithLabelValues("charge").Inc()
	return nil
}

// ScheduleCancel enqueues cancellation of a payment's in-flight charge.
func (s *Scheduler) ScheduleCancel(ctx context.Context, paymentID uuid.UUID) error {
	if err := s.queue.Enqueue(ctx, Task{PaymentID: paymentID, Cancel: true}); err != nil {
		return err
	}
	s.metrics.TasksEnqueued.WithLabelValues("cancel").Inc()
	return nil
}

// shouldAttempt decides whether a payment is due for an execution
// attempt. Early failures retry on the next tick; after that the
// cooldown applies. A claimed attempt blocks further dispatch until the
// worker releases or finishes it.
func shouldAttempt(sched *domain.PaymentScheduling, now time.Time) bool {
	if sched.InProgress {
		return false
	}
	if sched.FailuresCount < ImmediateRetries {
		return true
	}
	if sched.LastFailureAt == nil {
		return true
	}
	return now.Sub(*sched.LastFailureAt) >= RetryCooldown
}

// =============================================================================
// Worker side
// =============================================================================

// Execute handles one task from the queue.
func (s *Scheduler) Execute(ctx context.Context, task Task) {
	taskType := "charge"
	run := s.executeCharge
	if task.Cancel {
		taskType = "cancel"
		run = s.executeCancel
	}

	if err := run(ctx, task); err != nil {
		s.metrics.TasksFailed.WithLabelValues(taskType, gateway.Classify(err).String()).Inc()
		s.logger.Error("payment task failed",
			slog.String("payment_id", task.PaymentID.String()),
			slog.String("task_type", taskType),
			slog.String("error", err.Error()))
		return
	}
	s.metrics.TasksProcessed.WithLabelValues(taskType).Inc()
}

// chargeContext is everything the gateway phase needs, loaded in one
// read transaction before any external call.
type chargeContext struct {
	payment  *domain.Payment
	sched    *domain.PaymentScheduling
	customer *domain.BillingCustomer
	card     *domain.PaymentMethod
}

func (s *Scheduler) executeCharge(ctx context.Context, task Task) error {
	started := s.now()

	cc, skip, err := s.loadCharge(ctx, task)
	if err != nil || skip {
		return err
	}

	outcome, intentID, err := s.attempt(ctx, cc, task.Attempt)
	if errors.Is(err, gateway.ErrNoDefaultCard) {
		// Nothing to charge against. Surfaces as a failing payment so the
		// user is prompted to register a card.
		outcome, intentID, err = domain.OutcomeFailing, cc.payment.IntentID, nil
	}
	if err != nil {
		// Unclassifiable failure, gateway unreachable or store error.
		// Release without counting a card failure; the next poll retries.
		s.release(ctx, task.PaymentID, task.Attempt)
		return err
	}
	if outcome == "" {
		// Still processing at the gateway; the event reader finishes it.
		s.release(ctx, task.PaymentID, task.Attempt)
		return nil
	}

	if err := s.applyOutcome(ctx, cc, task, outcome, intentID); err != nil {
		return err
	}

	s.metrics.ChargeLatency.WithLabelValues("charge").Observe(s.now().Sub(started).Seconds())
	switch outcome {
	case domain.OutcomeSuccess:
		s.metrics.ChargeSucceeded.WithLabelValues("charge").Inc()
	case domain.OutcomeFailing:
		s.metrics.ChargeFailed.WithLabelValues("charge", "declined").Inc()
	case domain.OutcomeActionNeeded:
		s.metrics.ChargeFailed.WithLabelValues("charge", "action_required").Inc()
	}
	return nil
}

func (s *Scheduler) loadCharge(ctx context.Context, task Task) (*chargeContext, bool, error) {
	cc := &chargeContext{}
	skip := false
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		p, err := tx.GetPayment(ctx, task.PaymentID)
		if err != nil {
			return err
		}
		sched, err := tx.GetScheduling(ctx, task.PaymentID)
		if err != nil {
			return err
		}
		// A terminal payment needs no attempt; a mismatched attempt means
		// this delivery was superseded and a newer one owns the record.
		if p.State.Terminal() || sched.Attempt != task.Attempt {
			skip = true
			return nil
		}
		cc.payment, cc.sched = p, sched
		cc.customer, err = tx.GetBillingCustomer(ctx, p.UID)
		if err != nil {
			return err
		}
		cc.card, err = payments.DefaultCardFor(ctx, tx, p.UID)
		return err
	})
	return cc, skip, err
}

// attempt drives the gateway side of one charge attempt. An empty
// outcome means the charge is still in flight.
func (s *Scheduler) attempt(ctx context.Context, cc *chargeContext, attemptNo int) (domain.Outcome, string, error) {
	if cc.customer == nil || cc.customer.CustomerID == "" || cc.card == nil {
		return "", "", gateway.ErrNoDefaultCard
	}
	if cc.payment.IntentID == "" {
		return s.createIntent(ctx, cc)
	}
	return s.driveIntent(ctx, cc, attemptNo)
}

func (s *Scheduler) createIntent(ctx context.Context, cc *chargeContext) (domain.Outcome, string, error) {
	p := cc.payment

	// The retry token is the recorded failure count: a crash-and-redeliver
	// of the same attempt replays the same gateway call, while a retry
	// after a counted failure gets a fresh intent.
	key := payments.Key(cc.customer.IdempotencySeed, "intent:"+p.ID.String(), strconv.Itoa(cc.sched.FailuresCount))

	s.metrics.ChargeAttempts.WithLabelValues("create").Inc()
	callStart := s.now()
	intent, err := s.provider.CreatePaymentIntent(ctx, gateway.CreateIntentParams{
		AmountCents:     p.Amount,
		CustomerID:      cc.customer.CustomerID,
		PaymentMethodID: cc.card.ID,
		Metadata:        map[string]string{"payment_id": p.ID.String()},
		IdempotencyKey:  key,
	})
	s.metrics.GatewayLatency.WithLabelValues("create_intent").Observe(s.now().Sub(callStart).Seconds())
	if err != nil {
		return s.classifyError(err)
	}

	err = s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := payments.RegisterIntent(ctx, tx, intent.ID, p.Amount, p.Operation); err != nil {
			if domain.IsCode(err, domain.ECONFLICT) {
				// Replayed create returned an intent we already track.
				return nil
			}
			return err
		}
		return tx.SetPaymentIntentID(ctx, p.ID, intent.ID)
	})
	if err != nil {
		return "", "", err
	}
	return outcomeForStatus(intent.Status), intent.ID, nil
}

func (s *Scheduler) driveIntent(ctx context.Context, cc *chargeContext, attemptNo int) (domain.Outcome, string, error) {
	p := cc.payment

	intent, err := s.provider.GetPaymentIntent(ctx, p.IntentID)
	if err != nil {
		return s.classifyError(err)
	}
	switch intent.Status {
	case gateway.IntentStatusSucceeded, gateway.IntentStatusCanceled:
		return outcomeForStatus(intent.Status), p.IntentID, nil
	case gateway.IntentStatusProcessing:
		return "", p.IntentID, nil
	}

	// Failed or stuck awaiting action: confirm again with the current
	// default card. The attempt number keys the confirmation, so each
	// attempt confirms at most once no matter how often it is delivered.
	key := payments.Key(cc.customer.IdempotencySeed, "confirm:"+p.ID.String(), strconv.Itoa(attemptNo))

	s.metrics.ChargeAttempts.WithLabelValues("confirm").Inc()
	callStart := s.now()
	confirmed, err := s.provider.ConfirmPaymentIntent(ctx, gateway.ConfirmIntentParams{
		IntentID:        p.IntentID,
		PaymentMethodID: cc.card.ID,
		IdempotencyKey:  key,
	})
	s.metrics.GatewayLatency.WithLabelValues("confirm_intent").Observe(s.now().Sub(callStart).Seconds())
	if err != nil {
		return s.classifyError(err)
	}
	if confirmed.Status == gateway.IntentStatusProcessing {
		return "", p.IntentID, nil
	}
	return outcomeForStatus(confirmed.Status), p.IntentID, nil
}

// classifyError maps a gateway error onto an outcome. Retryable and
// unknown errors propagate so the attempt is released and retried.
func (s *Scheduler) classifyError(err error) (domain.Outcome, string, error) {
	class := gateway.Classify(err)
	s.metrics.GatewayErrors.WithLabelValues(class.String()).Inc()
	switch class {
	case gateway.ClassDeclined:
		return domain.OutcomeFailing, "", nil
	case gateway.ClassActionRequired:
		return domain.OutcomeActionNeeded, "", nil
	default:
		return "", "", err
	}
}

func outcomeForStatus(status gateway.IntentStatus) domain.Outcome {
	switch status {
	case gateway.IntentStatusSucceeded:
		return domain.OutcomeSuccess
	case gateway.IntentStatusCanceled:
		return domain.OutcomeCanceled
	case gateway.IntentStatusRequiresAction:
		return domain.OutcomeActionNeeded
	default:
		return domain.OutcomeFailing
	}
}

// applyOutcome routes the outcome and updates the scheduling record in
// one transaction, guarded by the attempt counter so a superseded
// worker's result is discarded.
func (s *Scheduler) applyOutcome(ctx context.Context, cc *chargeContext, task Task, outcome domain.Outcome, intentID string) error {
	now := s.now()
	return s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		sched, err := tx.GetScheduling(ctx, task.PaymentID)
		if err != nil {
			return err
		}
		if sched.Attempt != task.Attempt {
			return nil
		}

		// Terminal outcomes settle the intent first; losing that race to
		// the event reader means the outcome is already applied.
		apply := true
		switch outcome {
		case domain.OutcomeSuccess:
			apply, err = payments.IntentSuccess(ctx, tx, intentID)
		case domain.OutcomeCanceled:
			apply, err = payments.IntentCancel(ctx, tx, intentID)
		}
		if err != nil {
			return err
		}
		if apply {
			if err := s.router.Route(ctx, tx, cc.payment.Operation, outcome); err != nil {
				return err
			}
		}

		sched.InProgress = false
		if outcome == domain.OutcomeFailing || outcome == domain.OutcomeActionNeeded {
			sched.FailuresCount++
			sched.LastFailureAt = &now
		}
		_, err = tx.SaveSchedulingIfAttempt(ctx, sched, task.Attempt)
		return err
	})
}

// executeCancel abandons a payment's charge: cancel the gateway intent
// if one exists, then settle everything as canceled. When the charge
// completed before the cancel reached it, the success wins.
func (s *Scheduler) executeCancel(ctx context.Context, task Task) error {
	var (
		payment  *domain.Payment
		customer *domain.BillingCustomer
	)
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		p, err := tx.GetPayment(ctx, task.PaymentID)
		if err != nil {
			return err
		}
		payment = p
		if p.State.Terminal() {
			return nil
		}
		customer, err = tx.GetBillingCustomer(ctx, p.UID)
		return err
	})
	if err != nil || payment.State.Terminal() {
		return err
	}

	outcome := domain.OutcomeCanceled
	if payment.IntentID != "" && customer != nil {
		key := payments.Key(customer.IdempotencySeed, "cancel:"+payment.ID.String(), "")
		callStart := s.now()
		err := s.provider.CancelPaymentIntent(ctx, payment.IntentID, key)
		s.metrics.GatewayLatency.WithLabelValues("cancel_intent").Observe(s.now().Sub(callStart).Seconds())
		if err != nil && !errors.Is(err, gateway.ErrIntentNotFound) {
			return err
		}
		if intent, err := s.provider.GetPaymentIntent(ctx, payment.IntentID); err == nil &&
			intent.Status == gateway.IntentStatusSucceeded {
			outcome = domain.OutcomeSuccess
		}
	}

	return s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		p, err := tx.GetPayment(ctx, task.PaymentID)
		if err != nil {
			return err
		}
		if p.State.Terminal() {
			return nil
		}
		if p.IntentID != "" {
			var ok bool
			if outcome == domain.OutcomeSuccess {
				ok, err = payments.IntentSuccess(ctx, tx, p.IntentID)
			} else {
				ok, err = payments.IntentCancel(ctx, tx, p.IntentID)
			}
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
		}
		return s.router.Route(ctx, tx, p.Operation, outcome)
	})
}

// release clears the in-progress flag for an attempt the worker could
// not finish, so the next poll can redispatch.
func (s *Scheduler) release(ctx context.Context, paymentID uuid.UUID, attempt int) {
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		sched, err := tx.GetScheduling(ctx, paymentID)
		if err != nil {
			return err
		}
		if sched.Attempt != attempt || !sched.InProgress {
			return nil
		}
		sched.InProgress = false
		_, err = tx.SaveSchedulingIfAttempt(ctx, sched, attempt)
		return err
	})
	if err != nil {
		s.logger.Error("failed to release payment attempt",
			slog.String("payment_id", paymentID.String()),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))
	}
}
