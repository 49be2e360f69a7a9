package errors

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/failsafe-go/failsafe-go/timeout"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// TimeoutError is returned when a chat backend or bridge call runs past its
// time budget.
type TimeoutError struct {
	Operation string        // e.g. "post message"
	Target    string        // homeserver URL or bridge address
	Budget    time.Duration // zero when the deadline came from the caller
	Err       error
}

func (e *TimeoutError) Error() string {
	msg := e.Operation + " timed out"
	if e.Target != "" {
		msg += " against " + e.Target
	}
	if e.Budget > 0 {
		msg += fmt.Sprintf(" after %v", e.Budget)
	}
	return msg + ": " + e.Err.Error()
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// Timeout marks the error as a timeout for callers that test net.Error style.
func (e *TimeoutError) Timeout() bool { return true }

// Retryable reports that a later attempt may succeed.
func (e *TimeoutError) Retryable() bool { return true }

// NewTimeoutError wraps err for operation against target. budget is the
// per-call limit that expired, or zero if unknown.
func NewTimeoutError(operation, target string, budget time.Duration, err error) *TimeoutError {
	return &TimeoutError{Operation: operation, Target: target, Budget: budget, Err: err}
}

type timeouter interface {
	Timeout() bool
}

// IsTimeout reports whether err means a call ran out of time: a TimeoutError,
// an expired context deadline, failsafe's timeout policy, a gRPC
// DeadlineExceeded status or a transport error whose Timeout method says so.
// Cancellation is not a timeout.
func IsTimeout(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, timeout.ErrExceeded) {
		return true
	}
	var t timeouter
	if errors.As(err, &t) && t.Timeout() {
		return true
	}
	if s, ok := status.FromError(err); ok {
		return s.Code() == codes.DeadlineExceeded
	}
	return false
}
