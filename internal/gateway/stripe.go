package gateway

import (
	"context"
	"errors"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/event"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/paymentmethod"
)

// StripeProvider implements Provider using Stripe.
type StripeProvider struct {
	currency string
}

// Compile-time check.
var _ Provider = (*StripeProvider)(nil)

// NewStripeProvider configures the Stripe SDK and returns the provider.
// Amounts are charged in the given ISO currency (e.g. "usd").
func NewStripeProvider(apiKey, currency string) *StripeProvider {
	stripe.Key = apiKey
	if currency == "" {
		currency = "usd"
	}
	return &StripeProvider{currency: currency}
}

func (s *StripeProvider) CreateCustomer(ctx context.Context, params CreateCustomerParams) (string, error) {
	p := &stripe.CustomerParams{}
	p.Context = ctx
	p.SetIdempotencyKey(params.IdempotencyKey)
	p.AddMetadata("uid", params.UID)

	c, err := customer.New(p)
	if err != nil {
		return "", wrapStripeError(err)
	}
	return c.ID, nil
}

func (s *StripeProvider) AttachPaymentMethod(ctx context.Context, params AttachParams) (*Card, error) {
	p := &stripe.PaymentMethodAttachParams{
		Customer: stripe.String(params.CustomerID),
	}
	p.Context = ctx
	p.SetIdempotencyKey(params.IdempotencyKey)

	pm, err := paymentmethod.Attach(params.PaymentMethodID, p)
	if err != nil {
		return nil, wrapStripeError(err)
	}

	card := &Card{ID: pm.ID}
	if pm.Card != nil {
		card.Brand = string(pm.Card.Brand)
		card.Last4 = pm.Card.Last4
	}
	return card, nil
}

func (s *StripeProvider) DetachPaymentMethod(ctx context.Context, paymentMethodID string) error {
	p := &stripe.PaymentMethodDetachParams{}
	p.Context = ctx
	if _, err := paymentmethod.Detach(paymentMethodID, p); err != nil {
		return wrapStripeError(err)
	}
	return nil
}

func (s *StripeProvider) CreatePaymentIntent(ctx context.Context, params CreateIntentParams) (*Intent, error) {
	p := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(params.AmountCents),
		Currency:      stripe.String(s.currency),
		Customer:      stripe.String(params.CustomerID),
		PaymentMethod: stripe.String(params.PaymentMethodID),
		// Off-session confirm: the customer is not present, the saved
		// card is charged directly.
		OffSession: stripe.Bool(true),
		Confirm:    stripe.Bool(true),
	}
	p.Context = ctx
	p.SetIdempotencyKey(params.IdempotencyKey)
	for k, v := range params.Metadata {
		p.AddMetadata(k, v)
	}

	pi, err := paymentintent.New(p)
	if err != nil {
		return nil, wrapStripeError(err)
	}
	return mapIntent(pi), nil
}

func (s *StripeProvider) ConfirmPaymentIntent(ctx context.Context, params ConfirmIntentParams) (*Intent, error) {
	p := &stripe.PaymentIntentConfirmParams{
		PaymentMethod: stripe.String(params.PaymentMethodID),
		OffSession:    stripe.Bool(true),
	}
	p.Context = ctx
	p.SetIdempotencyKey(params.IdempotencyKey)

	pi, err := paymentintent.Confirm(params.IntentID, p)
	if err != nil {
		return nil, wrapStripeError(err)
	}
	return mapIntent(pi), nil
}

func (s *StripeProvider) GetPaymentIntent(ctx context.Context, intentID string) (*Intent, error) {
	p := &stripe.PaymentIntentParams{}
	p.Context = ctx

	pi, err := paymentintent.Get(intentID, p)
	if err != nil {
		return nil, wrapStripeError(err)
	}
	return mapIntent(pi), nil
}

func (s *StripeProvider) CancelPaymentIntent(ctx context.Context, intentID, idempotencyKey string) error {
	p := &stripe.PaymentIntentCancelParams{}
	p.Context = ctx
	p.SetIdempotencyKey(idempotencyKey)

	if _, err := paymentintent.Cancel(intentID, p); err != nil {
		ge := wrapStripeError(err)
		var g *GatewayError
		// Canceling an intent that already reached a terminal state is
		// tolerated; the event reader reconciles the real outcome.
		if errors.As(ge, &g) && g.Code == "payment_intent_unexpected_state" {
			return nil
		}
		return ge
	}
	return nil
}

// ListEvents pages intent events newer than cursor. Stripe lists newest
// first, so one page is fetched and reversed to restore log order; the
// returned cursor is the newest event id seen.
func (s *StripeProvider) ListEvents(ctx context.Context, cursor string, limit int) ([]Event, string, error) {
	if limit <= 0 {
		limit = 100
	}
	p := &stripe.EventListParams{
		Types: []*string{
			stripe.String(EventIntentSucceeded),
			stripe.String(EventIntentFailed),
			stripe.String(EventIntentRequiresAction),
			stripe.String(EventIntentCanceled),
		},
	}
	p.Context = ctx
	p.Limit = stripe.Int64(int64(limit))
	if cursor != "" {
		p.EndingBefore = stripe.String(cursor)
	}

	var newestFirst []Event
	it := event.List(p)
	for it.Next() {
		e := it.Event()
		ev := Event{
			ID:      e.ID,
			Type:    string(e.Type),
			Created: timeFromUnix(e.Created),
		}
		if obj, ok := e.Data.Object["id"].(string); ok {
			ev.IntentID = obj
		}
		newestFirst = append(newestFirst, ev)
	}
	if err := it.Err(); err != nil {
		return nil, cursor, wrapStripeError(err)
	}
	if len(newestFirst) == 0 {
		return nil, cursor, nil
	}

	events := make([]Event, 0, len(newestFirst))
	for i := len(newestFirst) - 1; i >= 0; i-- {
		events = append(events, newestFirst[i])
	}
	return events, newestFirst[0].ID, nil
}

func timeFromUnix(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func mapIntent(pi *stripe.PaymentIntent) *Intent {
	return &Intent{
		ID:          pi.ID,
		AmountCents: pi.Amount,
		Status:      mapIntentStatus(pi.Status),
		CreatedAt:   timeFromUnix(pi.Created),
	}
}

func mapIntentStatus(status stripe.PaymentIntentStatus) IntentStatus {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return IntentStatusSucceeded
	case stripe.PaymentIntentStatusRequiresAction, stripe.PaymentIntentStatusRequiresConfirmation:
		return IntentStatusRequiresAction
	case stripe.PaymentIntentStatusProcessing:
		return IntentStatusProcessing
	case stripe.PaymentIntentStatusCanceled:
		return IntentStatusCanceled
	default:
		// requires_payment_method after a failed confirmation.
		return IntentStatusFailed
	}
}
