package gateway

import (
	"errors"
	"fmt"

	stripe "github.com/stripe/stripe-go/v82"
)

var (
	// ErrNoDefaultCard is returned when a charge is attempted for a user
	// without a default payment method.
	ErrNoDefaultCard = errors.New("gateway: no default payment method")

	// ErrIntentNotFound is returned when the gateway does not know the intent.
	ErrIntentNotFound = errors.New("gateway: payment intent not found")
)

// ErrorClass buckets gateway failures for the execution scheduler:
// declined charges are retried, action-required waits for the user,
// anything unknown is rethrown as fatal.
type ErrorClass int

const (
	// ClassUnknown covers errors we cannot safely retry or ignore.
	ClassUnknown ErrorClass = iota
	// ClassDeclined covers card declines and insufficient card funds.
	ClassDeclined
	// ClassRetryable covers transient gateway conditions (rate limits,
	// connectivity).
	ClassRetryable
	// ClassActionRequired covers charges needing user authentication.
	ClassActionRequired
)

// String returns the class name used as a metric label.
func (c ErrorClass) String() string {
	switch c {
	case ClassDeclined:
		return "declined"
	case ClassRetryable:
		return "retryable"
	case ClassActionRequired:
		return "action_required"
	default:
		return "unknown"
	}
}

// GatewayError wraps a gateway API error with the detail the scheduler
// needs to classify it.
type GatewayError struct {
	Message       string
	Code          string // gateway error code (e.g., "card_declined")
	DeclineCode   string // card decline reason, if any
	RequestID     string // gateway request id for debugging
	OriginalError error
}

func (e *GatewayError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway: %s (code: %s)", e.Message, e.Code)
	}
	return fmt.Sprintf("gateway: %s", e.Message)
}

func (e *GatewayError) Unwrap() error {
	return e.OriginalError
}

// IsDeclined returns true if the error is due to a card decline.
func (e *GatewayError) IsDeclined() bool {
	return e.Code == "card_declined" || e.Code == "insufficient_funds" || e.DeclineCode != ""
}

// IsTemporary returns true if the error is likely transient and retryable.
func (e *GatewayError) IsTemporary() bool {
	return e.Code == "rate_limit" || e.Code == "api_connection_error" || e.Code == "lock_timeout"
}

// IsActionRequired returns true if the charge needs user authentication.
func (e *GatewayError) IsActionRequired() bool {
	return e.Code == "authentication_required" || e.Code == "payment_intent_authentication_failure"
}

// Classify buckets err for the retry policy. Non-gateway errors are
// ClassUnknown.
func Classify(err error) ErrorClass {
	var ge *GatewayError
	if !errors.As(err, &ge) {
		return ClassUnknown
	}
	switch {
	case ge.IsActionRequired():
		return ClassActionRequired
	case ge.IsDeclined():
		return ClassDeclined
	case ge.IsTemporary():
		return ClassRetryable
	default:
		return ClassUnknown
	}
}

// wrapStripeError converts a Stripe SDK error into a GatewayError.
func wrapStripeError(err error) error {
	if err == nil {
		return nil
	}
	var se *stripe.Error
	if !errors.As(err, &se) {
		return &GatewayError{Message: err.Error(), OriginalError: err}
	}
	return &GatewayError{
		Message:       se.Msg,
		Code:          string(se.Code),
		DeclineCode:   string(se.DeclineCode),
		RequestID:     se.RequestID,
		OriginalError: err,
	}
}
