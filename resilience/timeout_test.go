package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestInvoke_ReturnsResult(t *testing.T) {
	got, err := Invoke(context.Background(), time.Second, func(context.Context) (string, error) {
		return "once upon a time", nil
	})

	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if got != "once upon a time" {
		t.Errorf("Invoke() = %q", got)
	}
}

func TestInvoke_PropagatesError(t *testing.T) {
	want := errors.New("bad gateway")
	_, err := Invoke(context.Background(), time.Second, func(context.Context) (int, error) {
		return 0, want
	})

	if err != want {
		t.Errorf("Invoke() error = %v, want %v", err, want)
	}
}

func TestInvoke_DeadlineAbandonsCall(t *testing.T) {
	cancelled := make(chan struct{})

	start := time.Now()
	_, err := Invoke(context.Background(), 20*time.Millisecond, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		close(cancelled)
		time.Sleep(200 * time.Millisecond)
		return 1, nil
	})

	if err != ErrTimeout {
		t.Fatalf("Invoke() error = %v, want ErrTimeout", err)
	}
	if KindOf(err) != KindTimeout {
		t.Errorf("KindOf = %v, want timeout", KindOf(err))
	}
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Errorf("Invoke waited %v for an abandoned call", elapsed)
	}

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Error("in-flight call context was not cancelled")
	}
}

func TestInvoke_ParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	_, err := Invoke(ctx, time.Second, func(ctx context.Context) (int, error) {
		cancel()
		<-ctx.Done()
		return 0, ctx.Err()
	})

	if err != context.Canceled {
		t.Errorf("Invoke() error = %v, want context.Canceled", err)
	}
}

func TestInvoke_ZeroTimeoutRunsInline(t *testing.T) {
	got, err := Invoke(context.Background(), 0, func(ctx context.Context) (bool, error) {
		_, hasDeadline := ctx.Deadline()
		return hasDeadline, nil
	})

	if err != nil || got {
		t.Errorf("Invoke() = %v, %v; want no deadline", got, err)
	}
}

func TestInvoke_RecoversPanic(t *testing.T) {
	for _, timeout := range []time.Duration{0, time.Second} {
		_, err := Invoke(context.Background(), timeout, func(context.Context) (int, error) {
			panic("boom")
		})
		if !errors.Is(err, ErrPanic) {
			t.Fatalf("timeout %v: Invoke() error = %v, want ErrPanic", timeout, err)
		}
		if !IsNonRetryable(err) {
			t.Errorf("timeout %v: recovered panic should be non-retryable", timeout)
		}
	}
}
