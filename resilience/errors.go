package resilience

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for resilience operations.
var (
	// ErrCircuitOpen is returned when the circuit breaker rejects a call.
	ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

	// ErrMaxRetriesExceeded is returned when max retry attempts are exhausted.
	ErrMaxRetriesExceeded = errors.New("resilience: max retries exceeded")

	// ErrRateLimitExceeded is returned when the rate limit is exceeded.
	ErrRateLimitExceeded = errors.New("resilience: rate limit exceeded")

	// ErrBulkheadFull is returned when the bulkhead is at capacity.
	ErrBulkheadFull = errors.New("resilience: bulkhead at capacity")

	// ErrTimeout is returned when an operation times out.
	ErrTimeout = errors.New("resilience: operation timed out")

	// ErrPanic wraps a value recovered from a panicking operation.
	ErrPanic = errors.New("resilience: operation panicked")
)

// Kind classifies a failure for retry decisions.
type Kind int

const (
	// KindTransient is a failure worth retrying.
	KindTransient Kind = iota
	// KindTimeout is a deadline that elapsed before a response. Retryable.
	KindTimeout
	// KindNonRetryable is a caller-fault failure (auth, validation, not found).
	KindNonRetryable
	// KindCircuitOpen means the breaker rejected the call without attempting it.
	KindCircuitOpen
	// KindExhausted means all retry attempts failed.
	KindExhausted
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindTimeout:
		return "timeout"
	case KindNonRetryable:
		return "non-retryable"
	case KindCircuitOpen:
		return "circuit-open"
	case KindExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// CallError is the failure value surfaced by a resilient call.
type CallError struct {
	Kind     Kind
	Function string
	Attempts int
	Err      error
}

func (e *CallError) Error() string {
	switch e.Kind {
	case KindCircuitOpen:
		return fmt.Sprintf("resilience: circuit open for %q", e.Function)
	case KindExhausted:
		return fmt.Sprintf("resilience: %q failed after %d attempts: %v", e.Function, e.Attempts, e.Err)
	default:
		return fmt.Sprintf("resilience: %q %s: %v", e.Function, e.Kind, e.Err)
	}
}

func (e *CallError) Unwrap() error { return e.Err }

// Is lets errors.Is match the sentinel that corresponds to the kind.
func (e *CallError) Is(target error) bool {
	switch target {
	case ErrCircuitOpen:
		return e.Kind == KindCircuitOpen
	case ErrMaxRetriesExceeded:
		return e.Kind == KindExhausted
	case ErrTimeout:
		return e.Kind == KindTimeout
	}
	return false
}

// permanentError marks the wrapped error as non-retryable.
type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retryable. Transports use it for caller-fault
// responses such as authentication or validation failures.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// KindOf classifies err. A nil error reports KindTransient.
func KindOf(err error) Kind {
	if err == nil {
		return KindTransient
	}
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	var pe permanentError
	if errors.As(err, &pe) {
		return KindNonRetryable
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, ErrCircuitOpen) {
		return KindCircuitOpen
	}
	return KindTransient
}

// IsRetryable reports whether another attempt could succeed.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case KindTransient, KindTimeout:
		return true
	default:
		return false
	}
}

// IsNonRetryable reports whether err carries a do-not-retry classification.
func IsNonRetryable(err error) bool {
	return err != nil && KindOf(err) == KindNonRetryable
}
