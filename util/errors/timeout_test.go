package errors

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"testing"
	"time"

	"github.com/failsafe-go/failsafe-go/timeout"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type dialTimeout struct{}

func (dialTimeout) Error() string   { return "i/o timeout" }
func (dialTimeout) Timeout() bool   { return true }
func (dialTimeout) Temporary() bool { return true }

var _ net.Error = dialTimeout{}

func TestTimeoutErrorMessage(t *testing.T) {
	tests := []struct {
		err  *TimeoutError
		want string
	}{
		{
			NewTimeoutError("post message", "https://chat.example.org", 10*time.Second, timeout.ErrExceeded),
			"post message timed out against https://chat.example.org after 10s: timeout exceeded",
		},
		{
			NewTimeoutError("list rooms", "", 0, context.DeadlineExceeded),
			"list rooms timed out: context deadline exceeded",
		},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("got %q, want %q", got, tt.want)
		}
	}
}

func TestTimeoutErrorUnwrapAndRetryable(t *testing.T) {
	err := NewTimeoutError("create room", "https://chat.example.org", time.Second, context.DeadlineExceeded)
	if err.Unwrap() != context.DeadlineExceeded {
		t.Fatal("Unwrap returned wrong error")
	}
	if !err.Timeout() || !err.Retryable() {
		t.Fatal("TimeoutError must be a retryable timeout")
	}
	if !IsRetryable(fmt.Errorf("provision: %w", err)) {
		t.Fatal("wrapped TimeoutError must be retryable")
	}
}

func TestIsTimeout(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"DeadlineExceeded", context.DeadlineExceeded, true},
		{"TimeoutError", NewTimeoutError("post message", "h", 0, fmt.Errorf("x")), true},
		{"wrapped DeadlineExceeded", fmt.Errorf("wrap: %w", context.DeadlineExceeded), true},
		{"failsafe timeout", fmt.Errorf("post: %w", timeout.ErrExceeded), true},
		{"http client timeout", &url.Error{Op: "Post", URL: "https://chat.example.org", Err: dialTimeout{}}, true},
		{"gRPC DeadlineExceeded", status.Error(codes.DeadlineExceeded, "timeout"), true},
		{"gRPC Unavailable", status.Error(codes.Unavailable, "unavailable"), false},
		{"regular error", fmt.Errorf("some error"), false},
		{"context.Canceled", context.Canceled, false},
		{"canceled TimeoutError", NewTimeoutError("post message", "h", 0, context.Canceled), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTimeout(tt.err); got != tt.want {
				t.Fatalf("IsTimeout(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
