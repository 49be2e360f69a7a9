package errors

import (
	"errors"
	"net"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// retryable is implemented by errors that know whether a later attempt may
// succeed, such as chat.HTTPError.
type retryable interface {
	Retryable() bool
}

// IsRetryable reports whether a later attempt of the failed operation may
// succeed: timeouts, an open circuit breaker, network failures, gRPC
// Unavailable or ResourceExhausted, and errors that declare themselves
// retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsTimeout(err) || IsUnavailable(err) {
		return true
	}
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return true
	}
	var r retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if s, ok := status.FromError(err); ok {
		return s.Code() == codes.ResourceExhausted
	}
	return false
}

// IsUnavailable reports whether err means the remote end could not be
// reached at all.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	if s, ok := status.FromError(err); ok {
		return s.Code() == codes.Unavailable
	}
	return false
}
