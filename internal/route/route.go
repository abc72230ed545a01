// Package route maps gateway charge outcomes onto ledger and billing
// transitions. The router is pure dispatch: constructed once at startup
// with its targets, it holds no state and performs no I/O of its own.
package route

import (
	"context"

	"github.com/dukerupert/gullveig/internal/domain"
	"github.com/dukerupert/gullveig/internal/ledger"
	"github.com/dukerupert/gullveig/internal/store"
	"github.com/dukerupert/gullveig/internal/subscription"
)

// Router dispatches (operation, outcome) pairs. The operation set is
// closed; an unknown tag reaching the router means a producer outside
// the known set exists, which is a fatal inconsistency.
type Router struct {
	ledger ledger.Service
	subs   subscription.Service
}

func New(l ledger.Service, s subscription.Service) *Router {
	return &Router{ledger: l, subs: s}
}

// Route applies outcome to the operation's owning modules inside the
// caller's transaction. Subscription charges touch the ledger first and
// the billing engine second, so the billing state machine always
// observes settled ledger state.
func (r *Router) Route(ctx context.Context, tx store.Tx, op domain.Operation, outcome domain.Outcome) error {
	const opName = "route"

	switch o := op.(type) {
	case domain.DepositOperation:
		switch outcome {
		case domain.OutcomeSuccess:
			return r.ledger.DepositCommit(ctx, tx, o)
		case domain.OutcomeCanceled:
			return r.ledger.DepositCancel(ctx, tx, o)
		case domain.OutcomeFailing:
			return r.ledger.DepositFailing(ctx, tx, o)
		case domain.OutcomeActionNeeded:
			return r.ledger.DepositActionNeeded(ctx, tx, o)
		}

	case domain.TransferOperation:
		switch outcome {
		case domain.OutcomeSuccess:
			return r.ledger.TransferCommit(ctx, tx, o)
		case domain.OutcomeCanceled:
			return r.ledger.TransferCancel(ctx, tx, o)
		case domain.OutcomeFailing:
			return r.ledger.TransferFailing(ctx, tx, o)
		case domain.OutcomeActionNeeded:
			return r.ledger.TransferActionNeeded(ctx, tx, o)
		}

	case domain.SubscriptionOperation:
		switch outcome {
		case domain.OutcomeSuccess:
			if err := r.ledger.SubscriptionCommit(ctx, tx, o); err != nil {
				return err
			}
			return r.subs.OutcomeSuccess(ctx, tx, o)
		case domain.OutcomeCanceled:
			if err := r.ledger.SubscriptionCancel(ctx, tx, o); err != nil {
				return err
			}
			return r.subs.OutcomeCanceled(ctx, tx, o)
		case domain.OutcomeFailing:
			if err := r.ledger.SubscriptionFailing(ctx, tx, o); err != nil {
				return err
			}
			return r.subs.OutcomeFailing(ctx, tx, o)
		case domain.OutcomeActionNeeded:
			if err := r.ledger.SubscriptionActionNeeded(ctx, tx, o); err != nil {
				return err
			}
			return r.subs.OutcomeActionNeeded(ctx, tx, o)
		}

	case domain.PurchaseOperation:
		switch outcome {
		case domain.OutcomeSuccess:
			return r.ledger.PurchaseCommit(ctx, tx, o)
		case domain.OutcomeCanceled:
			return r.ledger.PurchaseCancel(ctx, tx, o)
		case domain.OutcomeFailing:
			return r.ledger.PurchaseFailing(ctx, tx, o)
		case domain.OutcomeActionNeeded:
			return r.ledger.PurchaseActionNeeded(ctx, tx, o)
		}

	case domain.TransferInOperation:
		// The receiver leg settles together with its sender leg; routing
		// it alone would double-apply the transfer.
		return domain.Errorf(domain.EINTERNAL, opName, "transfer_in operations are never routed")

	case domain.IncomeOperation:
		// Income settles together with its parent transaction and must
		// never carry a payment of its own.
		return domain.Errorf(domain.EINTERNAL, opName, "income operations are never routed")

	default:
		return domain.Errorf(domain.EINTERNAL, opName, "unknown operation type %T", op)
	}

	return domain.Errorf(domain.EINTERNAL, opName, "unknown outcome %q", outcome)
}
