package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// BackoffStrategy defines how delays increase between retries.
type BackoffStrategy int

const (
	// BackoffSchedule walks a fixed list of delays, repeating the last one.
	BackoffSchedule BackoffStrategy = iota
	// BackoffExponential multiplies the delay each attempt.
	BackoffExponential
)

// DefaultSchedule is the escalating delay schedule used for remote calls.
var DefaultSchedule = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

// RetryConfig configures the retry behavior.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial).
	// Default: 1
	MaxAttempts int

	// Strategy is the backoff strategy.
	// Default: BackoffSchedule
	Strategy BackoffStrategy

	// Schedule lists the delays before retry 1, 2, ... for BackoffSchedule.
	// Attempts past the end reuse the last value. Default: DefaultSchedule
	Schedule []time.Duration

	// InitialDelay is the delay before the first retry for BackoffExponential.
	// Default: 1s
	InitialDelay time.Duration

	// MaxDelay caps the maximum delay between retries.
	// Default: 30s
	MaxDelay time.Duration

	// Multiplier is the backoff multiplier for exponential backoff.
	// Default: 2.0
	Multiplier float64

	// Jitter adds up to 25% random delay.
	Jitter bool

	// RetryIf determines if an error should trigger a retry.
	// Default: IsRetryable
	RetryIf func(err error) bool

	// OnRetry is called before each retry attempt.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Retry implements retry with backoff.
type Retry struct {
	config RetryConfig
}

// NewRetry creates a new retry handler.
func NewRetry(config RetryConfig) *Retry {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if len(config.Schedule) == 0 {
		config.Schedule = DefaultSchedule
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = time.Second
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}
	if config.RetryIf == nil {
		config.RetryIf = IsRetryable
	}

	return &Retry{config: config}
}

// Do runs op until it succeeds, returns a non-retryable error, or MaxAttempts
// is reached. op receives the zero-based attempt number. Do returns the number
// of attempts made and the last error.
func (r *Retry) Do(ctx context.Context, op func(ctx context.Context, attempt int) error) (int, error) {
	var lastErr error

	for attempt := 0; attempt < r.config.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := r.Delay(attempt)
			if r.config.OnRetry != nil {
				r.config.OnRetry(attempt, lastErr, delay)
			}
			if err := sleep(ctx, delay); err != nil {
				return attempt, err
			}
		}

		err := op(ctx, attempt)
		if err == nil {
			return attempt + 1, nil
		}
		lastErr = err

		if !r.config.RetryIf(err) {
			return attempt + 1, err
		}
	}

	return r.config.MaxAttempts, lastErr
}

// Delay returns the wait before the given retry (1 = first retry).
func (r *Retry) Delay(retry int) time.Duration {
	if retry < 1 {
		return 0
	}

	var delay time.Duration
	switch r.config.Strategy {
	case BackoffSchedule:
		idx := retry - 1
		if idx >= len(r.config.Schedule) {
			idx = len(r.config.Schedule) - 1
		}
		return r.withJitter(r.config.Schedule[idx])

	case BackoffExponential:
		multiplier := math.Pow(r.config.Multiplier, float64(retry-1))
		delay = time.Duration(float64(r.config.InitialDelay) * multiplier)
	}

	if delay > r.config.MaxDelay {
		delay = r.config.MaxDelay
	}
	return r.withJitter(delay)
}

func (r *Retry) withJitter(delay time.Duration) time.Duration {
	if !r.config.Jitter || delay < 4 {
		return delay
	}
	// #nosec G404 -- jitter is non-cryptographic timing variance.
	return delay + time.Duration(rand.Int64N(int64(delay/4)))
}

// Config returns the retry configuration.
func (r *Retry) Config() RetryConfig {
	return r.config
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
