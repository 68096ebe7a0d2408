package taskqueue

import (
	"errors"
	"fmt"

	"github.com/jonwraymond/storyjobs/resilience"
)

var (
	// ErrNoHandler is the terminal failure of a task whose type has no
	// registered handler.
	ErrNoHandler = errors.New("taskqueue: no handler registered")

	// ErrTaskNotFound is returned for unknown or pruned task IDs.
	ErrTaskNotFound = errors.New("taskqueue: task not found")

	// ErrDuplicateTask is returned when TaskID names an existing task.
	ErrDuplicateTask = errors.New("taskqueue: duplicate task id")

	// ErrInvalidType is returned for an empty task type or nil handler.
	ErrInvalidType = errors.New("taskqueue: invalid task type")

	// ErrQueueStopped is returned by Add and Start after Stop.
	ErrQueueStopped = errors.New("taskqueue: queue stopped")

	// ErrHandlerPanic wraps a recovered handler panic.
	ErrHandlerPanic = errors.New("taskqueue: handler panicked")
)

// NoRetry marks an error as terminal for the task: it is failed without
// consuming further retries.
//
//	return nil, taskqueue.NoRetry(fmt.Errorf("bad input: %w", err))
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return noRetryError{err: err}
}

// IsNoRetry reports whether err is wrapped with NoRetry.
func IsNoRetry(err error) bool {
	var e noRetryError
	return errors.As(err, &e)
}

type noRetryError struct{ err error }

func (e noRetryError) Error() string { return fmt.Sprintf("no-retry: %v", e.err) }
func (e noRetryError) Unwrap() error { return e.err }

// isTerminal reports whether a handler error must not be retried at the task
// level. Non-retryable remote failures fall in this class so a task does not
// keep re-triggering the same caller-fault error.
func isTerminal(err error) bool {
	return IsNoRetry(err) || errors.Is(err, ErrNoHandler) || resilience.IsNonRetryable(err)
}
