package domain

import (
	"errors"
	"fmt"
)

// Application error codes.
// These map to HTTP status codes and determine user-facing messages.
const (
	ECONFLICT  = "conflict"         // 409 - Resource conflict (duplicate intent, etc.)
	EINTERNAL  = "internal"         // 500 - Internal server error (hide details)
	EINVALID   = "invalid"          // 400 - Validation error (bad input)
	ENOTFOUND  = "not_found"        // 404 - Resource not found
	EFORBIDDEN = "forbidden"        // 403 - Operation not permitted for this user
	EPAYMENT   = "payment_required" // 402 - Payment failed or required
	ESTATE     = "invalid_state"    // 409 - Entity is in the wrong state for the transition
)

// ErrInsufficientFunds is returned when a debit exceeds the available balance.
// Distinct from generic validation so callers can surface it to the user.
var ErrInsufficientFunds = &Error{
	Code:    EPAYMENT,
	Message: "insufficient funds",
}

// Error represents an application error with a code and message.
// It implements the error interface and supports error wrapping.
type Error struct {
	// Code is a machine-readable error code (e.g., EINVALID, ENOTFOUND).
	Code string

	// Message is a human-readable error message safe to show to users.
	Message string

	// Op is the operation where the error occurred (e.g., "ledger.deposit").
	// Used for debugging and logging, not shown to users.
	Op string

	// Err is the underlying error, if any. Used for error wrapping.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		if e.Op != "" {
			return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap implements error unwrapping for errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorCode extracts the error code from an error.
// Returns EINTERNAL for nil or non-domain errors.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}

	return EINTERNAL
}

// ErrorMessage extracts a user-facing message from an error.
// For internal errors, returns a generic message to avoid leaking details.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}

	var e *Error
	if errors.As(err, &e) {
		if e.Code == EINTERNAL {
			return "An internal error occurred. Please try again later."
		}
		return e.Message
	}

	return "An internal error occurred. Please try again later."
}

// IsCode returns true if err has the given error code.
func IsCode(err error, code string) bool {
	return ErrorCode(err) == code
}

// Errorf creates a new domain error with formatted message.
// Example: domain.Errorf(domain.EINVALID, "funds.allocate", "amount below minimum: %d", amount)
func Errorf(code, op, format string, args ...interface{}) error {
	return &Error{
		Code:    code,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// NotFound creates a not found error for a resource.
// Example: domain.NotFound("payments.get", "payment", id.String())
func NotFound(op, resource, identifier string) error {
	return &Error{
		Code:    ENOTFOUND,
		Op:      op,
		Message: fmt.Sprintf("%s not found: %s", resource, identifier),
	}
}

// Invalid creates a validation error for a single issue.
// Example: domain.Invalid("ledger.deposit", "amount must be a positive integer")
func Invalid(op, message string) error {
	return &Error{
		Code:    EINVALID,
		Op:      op,
		Message: message,
	}
}

// Conflict creates a conflict error.
// Example: domain.Conflict("payments.registerIntent", "intent already registered")
func Conflict(op, message string) error {
	return &Error{
		Code:    ECONFLICT,
		Op:      op,
		Message: message,
	}
}

// Forbidden creates a forbidden error.
// Example: domain.Forbidden("ledger.commit", "transaction belongs to another user")
func Forbidden(op, message string) error {
	return &Error{
		Code:    EFORBIDDEN,
		Op:      op,
		Message: message,
	}
}

// InvalidState creates an error for a transition attempted against the wrong state.
// Example: domain.InvalidState("ledger.commit", "transaction already terminal")
func InvalidState(op, message string) error {
	return &Error{
		Code:    ESTATE,
		Op:      op,
		Message: message,
	}
}

// Internal creates an internal error (wraps underlying error).
// The message shown to users will be generic; the underlying error is for logging.
// Example: domain.Internal(err, "store.wallet", "failed to load wallet")
func Internal(err error, op, message string) error {
	return &Error{
		Code:    EINTERNAL,
		Op:      op,
		Message: message,
		Err:     err,
	}
}
