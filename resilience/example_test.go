package resilience_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonwraymond/storyjobs/resilience"
)

func ExampleNewCircuitBreaker() {
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		MaxFailures:  2,
		ResetTimeout: time.Minute,
	})

	fmt.Println("initial:", cb.State())

	for i := 0; i < 2; i++ {
		if cb.Allow() == nil {
			cb.RecordFailure()
		}
	}
	fmt.Println("after failures:", cb.State())

	err := cb.Allow()
	fmt.Println("rejected:", errors.Is(err, resilience.ErrCircuitOpen))

	cb.Reset()
	fmt.Println("after reset:", cb.State())
	// Output:
	// initial: closed
	// after failures: open
	// rejected: true
	// after reset: closed
}

func ExampleRetry_Do() {
	r := resilience.NewRetry(resilience.RetryConfig{
		MaxAttempts: 3,
		Schedule:    []time.Duration{time.Millisecond},
	})

	attempts, err := r.Do(context.Background(), func(_ context.Context, attempt int) error {
		if attempt == 0 {
			return errors.New("connection reset")
		}
		return nil
	})

	fmt.Println(attempts, err)
	// Output:
	// 2 <nil>
}

func ExamplePermanent() {
	r := resilience.NewRetry(resilience.RetryConfig{MaxAttempts: 5})

	attempts, err := r.Do(context.Background(), func(context.Context, int) error {
		return resilience.Permanent(errors.New("401 unauthorized"))
	})

	fmt.Println(attempts, resilience.KindOf(err))
	// Output:
	// 1 non-retryable
}

func ExampleInvoke() {
	text, err := resilience.Invoke(context.Background(), time.Second, func(context.Context) (string, error) {
		return "The dragon fell asleep.", nil
	})

	fmt.Println(text, err)
	// Output:
	// The dragon fell asleep. <nil>
}
