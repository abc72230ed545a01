package gateway

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{
			name: "card declined",
			err:  &GatewayError{Code: "card_declined", DeclineCode: "generic_decline"},
			want: ClassDeclined,
		},
		{
			name: "insufficient card funds",
			err:  &GatewayError{Code: "insufficient_funds"},
			want: ClassDeclined,
		},
		{
			name: "decline code without card_declined code",
			err:  &GatewayError{Code: "processing_error", DeclineCode: "do_not_honor"},
			want: ClassDeclined,
		},
		{
			name: "authentication required",
			err:  &GatewayError{Code: "authentication_required"},
			want: ClassActionRequired,
		},
		{
			name: "rate limited",
			err:  &GatewayError{Code: "rate_limit"},
			want: ClassRetryable,
		},
		{
			name: "connection error",
			err:  &GatewayError{Code: "api_connection_error"},
			want: ClassRetryable,
		},
		{
			name: "unknown gateway code",
			err:  &GatewayError{Code: "something_new"},
			want: ClassUnknown,
		},
		{
			name: "plain error",
			err:  errors.New("boom"),
			want: ClassUnknown,
		},
		{
			name: "wrapped gateway error",
			err:  fmt.Errorf("confirm: %w", &GatewayError{Code: "card_declined"}),
			want: ClassDeclined,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestErrorClassString(t *testing.T) {
	// Classes feed metric labels directly; every value must render as a
	// readable name, never a numeric rune.
	assert.Equal(t, "unknown", ClassUnknown.String())
	assert.Equal(t, "declined", ClassDeclined.String())
	assert.Equal(t, "retryable", ClassRetryable.String())
	assert.Equal(t, "action_required", ClassActionRequired.String())
	assert.Equal(t, "unknown", ErrorClass(42).String())

	assert.Equal(t, "declined", Classify(&GatewayError{Code: "card_declined"}).String())
}

func TestGatewayErrorMessage(t *testing.T) {
	e := &GatewayError{Message: "card declined", Code: "card_declined"}
	assert.Equal(t, "gateway: card declined (code: card_declined)", e.Error())

	e = &GatewayError{Message: "boom"}
	assert.Equal(t, "gateway: boom", e.Error())
}
