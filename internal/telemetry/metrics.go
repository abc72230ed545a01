package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for monetary-core observability.
type Metrics struct {
	// Charge execution
	ChargeAttempts  *prometheus.CounterVec
	ChargeSucceeded *prometheus.CounterVec
	ChargeFailed    *prometheus.CounterVec
	ChargeLatency   *prometheus.HistogramVec

	// Gateway
	GatewayErrors  *prometheus.CounterVec
	GatewayLatency *prometheus.HistogramVec

	// Ledger
	WalletCredits *prometheus.CounterVec
	WalletDebits  *prometheus.CounterVec

	// Subscriptions
	SubscriptionsCreated     *prometheus.CounterVec
	SubscriptionTransitions  *prometheus.CounterVec
	SubscriptionRenewals     *prometheus.CounterVec
	SubscriptionCancelations *prometheus.CounterVec

	// Event reconciliation
	EventsRead    *prometheus.CounterVec
	EventsApplied *prometheus.CounterVec
	EventsSkipped *prometheus.CounterVec

	// Background work
	TasksEnqueued  *prometheus.CounterVec
	TasksProcessed *prometheus.CounterVec
	TasksFailed    *prometheus.CounterVec
}

// NewMetrics creates all metrics under namespace and registers them on
// the default Prometheus registry.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsOn(prometheus.DefaultRegisterer, namespace)
}

// NewNopMetrics creates metrics on a throwaway registry. Components that
// are constructed without metrics use this so two such components in one
// process never collide on registration.
func NewNopMetrics() *Metrics {
	return NewMetricsOn(prometheus.NewRegistry(), "")
}

// NewMetricsOn creates all metrics under namespace and registers them on reg.
func NewMetricsOn(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "gullveig"
	}

	subsystem := "core"
	factory := promauto.With(reg)

	m := &Metrics{
		// =======================================================================
		// Charge Execution
		// =======================================================================
		ChargeAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "charge_attempts_total",
				Help:      "Total gateway charge attempts dispatched",
			},
			[]string{"kind"}, // kind: create, confirm, cancel
		),
		ChargeSucceeded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "charge_succeeded_total",
				Help:      "Total charge attempts that reached a successful intent",
			},
			[]string{"kind"},
		),
		ChargeFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "charge_failed_total",
				Help:      "Total charge attempts that failed",
			},
			[]string{"kind", "class"}, // class: declined, retryable, action_required, unknown
		),
		ChargeLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "charge_duration_seconds",
				Help:      "Full charge attempt duration including gateway round trips",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"kind"},
		),

		// =======================================================================
		// Gateway
		// =======================================================================
		GatewayErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "gateway_errors_total",
				Help:      "Total gateway call errors by classification",
			},
			[]string{"class"},
		),
		GatewayLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "gateway_api_duration_seconds",
				Help:      "Gateway API call duration (differentiates app slowness from gateway issues)",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"operation"}, // operation: create_intent, confirm_intent, cancel_intent, create_customer
		),

		// =======================================================================
		// Ledger
		// =======================================================================
		WalletCredits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "wallet_credit_cents",
				Help:      "Total credited wallet volume in cents",
			},
			[]string{"operation"}, // operation: deposit, transfer_in, refund
		),
		WalletDebits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "wallet_debit_cents",
				Help:      "Total debited wallet volume in cents",
			},
			[]string{"operation"}, // operation: transfer_out, subscription, purchase
		),

		// =======================================================================
		// Subscriptions
		// =======================================================================
		SubscriptionsCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "subscriptions_created_total",
				Help:      "Total subscriptions created",
			},
			[]string{"interval"}, // interval: week, month
		),
		SubscriptionTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "subscription_transitions_total",
				Help:      "Total subscription state transitions",
			},
			[]string{"from", "to"},
		),
		SubscriptionRenewals: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "subscription_renewals_total",
				Help:      "Total billing periods opened past the first",
			},
			[]string{"interval"},
		),
		SubscriptionCancelations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "subscription_cancelations_total",
				Help:      "Total subscriptions ended",
			},
			[]string{"reason"}, // reason: user, payment_failed, never_paid
		),

		// =======================================================================
		// Event Reconciliation
		// =======================================================================
		EventsRead: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "gateway_events_read_total",
				Help:      "Total gateway events fetched by the reader",
			},
			[]string{"event_type"},
		),
		EventsApplied: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "gateway_events_applied_total",
				Help:      "Total gateway events routed into the ledger",
			},
			[]string{"outcome"},
		),
		EventsSkipped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "gateway_events_skipped_total",
				Help:      "Total gateway events skipped (unknown intent, duplicate, foreign)",
			},
			[]string{"reason"}, // reason: unknown_intent, already_settled, unhandled_type
		),

		// =======================================================================
		// Background Work
		// =======================================================================
		TasksEnqueued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "tasks_enqueued_total",
				Help:      "Total execution tasks enqueued",
			},
			[]string{"task_type"}, // task_type: charge, cancel
		),
		TasksProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "tasks_processed_total",
				Help:      "Total execution tasks completed",
			},
			[]string{"task_type"},
		),
		TasksFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "tasks_failed_total",
				Help:      "Total execution tasks that errored",
			},
			[]string{"task_type", "error_type"},
		),
	}

	return m
}

// Global instance for easy access from services
var Core *Metrics

// InitMetrics initializes the global metrics instance
func InitMetrics(namespace string) *Metrics {
	Core = NewMetrics(namespace)
	return Core
}
