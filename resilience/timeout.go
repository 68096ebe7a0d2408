package resilience

import (
	"context"
	"fmt"
	"time"
)

// Invoke runs op with a deadline and returns its result. When the deadline
// elapses first, op's context is cancelled and Invoke returns ErrTimeout without
// waiting for op to return. Cancellation of the parent ctx returns ctx.Err().
func Invoke[T any](ctx context.Context, timeout time.Duration, op func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return op(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		val T
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		v, err := recovered(ctx, op)
		done <- outcome{val: v, err: err}
	}()

	var zero T
	select {
	case out := <-done:
		return out.val, out.err
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return zero, ErrTimeout
		}
		return zero, ctx.Err()
	}
}

func recovered[T any](ctx context.Context, op func(context.Context) (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			v, err = zero, Permanent(fmt.Errorf("%w: %v", ErrPanic, r))
		}
	}()
	return op(ctx)
}
