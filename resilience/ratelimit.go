package resilience

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterConfig configures the rate limiter.
type RateLimiterConfig struct {
	// Rate is the number of operations allowed per second.
	// Default: 100
	Rate float64

	// Burst is the maximum burst size.
	// Default: 10
	Burst int

	// WaitOnLimit waits for a token instead of returning error.
	// Default: false
	WaitOnLimit bool

	// MaxWait is the maximum time to wait for a token.
	// Default: 1 second
	MaxWait time.Duration
}

// RateLimiter is a token bucket limiter guarding calls to one remote function.
type RateLimiter struct {
	config  RateLimiterConfig
	limiter *rate.Limiter
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.Rate <= 0 {
		config.Rate = 100
	}
	if config.Burst <= 0 {
		config.Burst = 10
	}
	if config.MaxWait <= 0 {
		config.MaxWait = time.Second
	}

	return &RateLimiter{
		config:  config,
		limiter: rate.NewLimiter(rate.Limit(config.Rate), config.Burst),
	}
}

// Allow checks if a request is allowed under the rate limit.
func (rl *RateLimiter) Allow() bool {
	return rl.limiter.Allow()
}

// Wait blocks until a token is available, MaxWait elapses, or ctx is cancelled.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r := rl.limiter.Reserve()
	if !r.OK() {
		return ErrRateLimitExceeded
	}
	delay := r.Delay()
	if delay == 0 {
		return nil
	}
	if delay > rl.config.MaxWait {
		r.Cancel()
		return ErrRateLimitExceeded
	}

	if err := sleep(ctx, delay); err != nil {
		r.Cancel()
		return err
	}
	return nil
}

// Acquire takes a token according to the configured wait policy.
func (rl *RateLimiter) Acquire(ctx context.Context) error {
	if rl.config.WaitOnLimit {
		return rl.Wait(ctx)
	}
	if !rl.Allow() {
		return ErrRateLimitExceeded
	}
	return nil
}

// Tokens returns the current number of available tokens.
func (rl *RateLimiter) Tokens() float64 {
	return rl.limiter.Tokens()
}
