package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
)

type timeoutNetError struct{ timeout bool }

func (e *timeoutNetError) Error() string   { return "net error" }
func (e *timeoutNetError) Timeout() bool   { return e.timeout }
func (e *timeoutNetError) Temporary() bool { return e.timeout }

var _ net.Error = (*timeoutNetError)(nil)

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"wrapped deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), true},
		{"configuration", fmt.Errorf("%w: OPENAI_API_KEY", ErrConfiguration), false},
		{"schema violation", &SchemaError{Reason: "missing field"}, false},
		{"wrapped schema violation", fmt.Errorf("generate: %w", &SchemaError{Reason: "x"}), false},
		{"net timeout", &timeoutNetError{timeout: true}, true},
		{"net non-timeout", &timeoutNetError{timeout: false}, false},
		{"http 429", &HTTPError{StatusCode: 429, Message: "rate limited"}, true},
		{"http 503", &HTTPError{StatusCode: 503, Message: "unavailable"}, true},
		{"http 408", &HTTPError{StatusCode: 408, Message: "timeout"}, true},
		{"http 400", &HTTPError{StatusCode: 400, Message: "bad request"}, false},
		{"http 404", &HTTPError{StatusCode: 404, Message: "gone"}, false},
		{"plain error", errors.New("boom"), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsRetryable(tc.err); got != tc.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}
