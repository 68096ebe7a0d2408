package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"github.com/jonwraymond/storyjobs/health"
	"github.com/jonwraymond/storyjobs/observe"
	"github.com/jonwraymond/storyjobs/resilience"
)

// Transport performs a single attempt against a named remote function.
// Implementations should honor ctx cancellation so timed-out attempts are
// abandoned promptly.
type Transport interface {
	Call(ctx context.Context, function string, payload any) ([]byte, error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, function string, payload any) ([]byte, error)

// Call implements Transport.
func (f TransportFunc) Call(ctx context.Context, function string, payload any) ([]byte, error) {
	return f(ctx, function, payload)
}

// Config configures an Executor.
type Config struct {
	// Timeout bounds each attempt. Default: 30s
	Timeout time.Duration

	// MaxRetries is the number of retries after the first attempt.
	// Zero disables retries.
	MaxRetries int

	// RetryDelays is the wait before retry 1, 2, ... The last value repeats.
	// Default: 1s, 2s, 4s
	RetryDelays []time.Duration

	// Jitter adds up to 25% to each retry delay.
	Jitter bool

	// HistoryCapacity is the number of RemoteCall records retained.
	// Default: 1000
	HistoryCapacity int

	// Breaker configures the per-function circuit breakers.
	Breaker resilience.CircuitBreakerConfig

	// RateLimit caps calls per second to each function. Zero disables it.
	RateLimit float64
	// RateBurst is the burst allowance for RateLimit. Default: 1
	RateBurst int

	// MaxInFlight caps concurrent calls to each function. Zero disables it.
	MaxInFlight int

	// Thresholds drive FunctionStats.IsHealthy and the health report.
	Thresholds health.Thresholds

	// Middleware wraps every Execute with tracing, metrics and logging.
	Middleware *observe.Middleware
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if len(c.RetryDelays) == 0 {
		c.RetryDelays = resilience.DefaultSchedule
	}
	if c.HistoryCapacity <= 0 {
		c.HistoryCapacity = 1000
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 1
	}
	c.Thresholds = c.Thresholds.WithDefaults()
	if c.Middleware == nil {
		c.Middleware = observe.NopMiddleware()
	}
	return c
}

// Option adjusts a single Execute call.
type Option func(*callOptions)

type callOptions struct {
	timeout     time.Duration
	maxRetries  int
	skipBreaker bool
}

// WithTimeout overrides the per-attempt timeout for one call.
func WithTimeout(d time.Duration) Option {
	return func(o *callOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithMaxRetries overrides the retry budget for one call.
func WithMaxRetries(n int) Option {
	return func(o *callOptions) {
		if n >= 0 {
			o.maxRetries = n
		}
	}
}

// SkipCircuitBreaker bypasses breaker gating and bookkeeping for one call.
func SkipCircuitBreaker() Option {
	return func(o *callOptions) { o.skipBreaker = true }
}

// guards are the optional per-function admission limits.
type guards struct {
	limiter  *resilience.RateLimiter
	bulkhead *resilience.Bulkhead
}

// Executor performs gated, retried, timed-out remote calls and keeps the
// resulting call history and per-function statistics.
type Executor struct {
	transport Transport
	config    Config
	breakers  *resilience.Breakers
	history   *history
	stats     statsStore
	now       func() time.Time

	guardsMu sync.Mutex
	guards   map[string]*guards
}

// NewExecutor creates an executor that sends attempts through transport.
func NewExecutor(transport Transport, config Config) *Executor {
	config = config.withDefaults()

	e := &Executor{
		transport: transport,
		config:    config,
		history:   newHistory(config.HistoryCapacity),
		now:       time.Now,
		guards:    make(map[string]*guards),
	}
	if config.Breaker.Clock != nil {
		e.now = config.Breaker.Clock
	}
	e.breakers = resilience.NewBreakers(config.Breaker, e.onStateChange)
	return e
}

func (e *Executor) onStateChange(name string, from, to resilience.State) {
	ctx := context.Background()
	e.config.Middleware.Logger().Warn(ctx, "circuit state changed",
		observe.String("function", name),
		observe.String("from", from.String()),
		observe.String("to", to.String()),
	)
	e.config.Middleware.Metrics().RecordStateChange(ctx, name, from.String(), to.String())
}

// Execute invokes function with payload and returns the raw response.
//
// Failures are *resilience.CallError values: KindCircuitOpen when the breaker
// rejected the call without an attempt, KindNonRetryable for caller-fault
// errors, and KindExhausted once the retry budget is spent. Cancelling ctx
// stops the call and returns ctx.Err().
func (e *Executor) Execute(ctx context.Context, function string, payload any, opts ...Option) ([]byte, error) {
	o := callOptions{timeout: e.config.Timeout, maxRetries: e.config.MaxRetries}
	for _, opt := range opts {
		opt(&o)
	}

	id := uuid.NewString()
	meta := observe.OpMeta{Kind: observe.KindRemoteCall, Name: function, ID: id}
	out, err := e.config.Middleware.Wrap(func(ctx context.Context, _ observe.OpMeta, _ any) (any, error) {
		return e.execute(ctx, id, function, payload, o)
	})(ctx, meta, payload)
	if err != nil {
		return nil, err
	}
	return out.([]byte), nil
}

func (e *Executor) execute(ctx context.Context, id, function string, payload any, o callOptions) ([]byte, error) {
	var breaker *resilience.CircuitBreaker
	if !o.skipBreaker {
		breaker = e.breakers.Get(function)
		if err := breaker.Allow(); err != nil {
			return nil, &resilience.CallError{Kind: resilience.KindCircuitOpen, Function: function, Err: err}
		}
	}

	release, err := e.admit(ctx, function)
	if err != nil {
		if breaker != nil {
			breaker.Release()
		}
		return nil, fmt.Errorf("remote: %s: %w", function, err)
	}
	defer release()

	call := RemoteCall{
		ID:        id,
		Function:  function,
		StartTime: e.now(),
		Payload:   payload,
	}

	meta := observe.OpMeta{Kind: observe.KindRemoteCall, Name: function, ID: id}
	retry := resilience.NewRetry(resilience.RetryConfig{
		MaxAttempts: o.maxRetries + 1,
		Strategy:    resilience.BackoffSchedule,
		Schedule:    e.config.RetryDelays,
		Jitter:      e.config.Jitter,
		RetryIf: func(err error) bool {
			return ctx.Err() == nil && resilience.IsRetryable(err)
		},
		OnRetry: func(attempt int, err error, delay time.Duration) {
			e.config.Middleware.Metrics().RecordRetry(ctx, meta)
			e.config.Middleware.Logger().Debug(ctx, "retrying remote call",
				observe.String("function", function),
				observe.Int("attempt", attempt),
				observe.Duration("delay", delay),
				observe.Err(err),
			)
		},
	})

	var resp []byte
	attempts, err := retry.Do(ctx, func(ctx context.Context, _ int) error {
		r, err := resilience.Invoke(ctx, o.timeout, func(ctx context.Context) ([]byte, error) {
			return e.transport.Call(ctx, function, payload)
		})
		if err != nil {
			return err
		}
		resp = r
		return nil
	})

	call.EndTime = e.now()
	call.Duration = call.EndTime.Sub(call.StartTime)
	call.RetryCount = max(attempts-1, 0)

	switch {
	case err == nil:
		call.Success = true
		call.Response = resp
		if breaker != nil {
			breaker.RecordSuccess()
		}
		e.finish(call)
		return resp, nil

	case ctx.Err() != nil:
		if breaker != nil {
			breaker.Release()
		}
		call.Error = ctx.Err().Error()
		e.finish(call)
		return nil, fmt.Errorf("remote: %s: %w", function, ctx.Err())

	case resilience.IsNonRetryable(err):
		if breaker != nil {
			breaker.Release()
		}
		call.Error = err.Error()
		e.finish(call)
		return nil, &resilience.CallError{Kind: resilience.KindNonRetryable, Function: function, Attempts: attempts, Err: err}

	default:
		if breaker != nil {
			breaker.RecordFailure()
		}
		call.Error = err.Error()
		e.finish(call)
		return nil, &resilience.CallError{Kind: resilience.KindExhausted, Function: function, Attempts: attempts, Err: err}
	}
}

// admit applies the optional rate limit and in-flight cap for function. The
// returned release must be called once the call finishes.
func (e *Executor) admit(ctx context.Context, function string) (func(), error) {
	g := e.guardsFor(function)
	if g.limiter != nil {
		if err := g.limiter.Acquire(ctx); err != nil {
			return nil, err
		}
	}
	if g.bulkhead != nil {
		if err := g.bulkhead.Acquire(ctx); err != nil {
			return nil, err
		}
		return g.bulkhead.Release, nil
	}
	return func() {}, nil
}

func (e *Executor) guardsFor(function string) *guards {
	e.guardsMu.Lock()
	defer e.guardsMu.Unlock()

	g, ok := e.guards[function]
	if ok {
		return g
	}
	g = &guards{}
	if e.config.RateLimit > 0 {
		g.limiter = resilience.NewRateLimiter(resilience.RateLimiterConfig{
			Rate:        e.config.RateLimit,
			Burst:       e.config.RateBurst,
			WaitOnLimit: true,
			MaxWait:     e.config.Timeout,
		})
	}
	if e.config.MaxInFlight > 0 {
		g.bulkhead = resilience.NewBulkhead(resilience.BulkheadConfig{MaxConcurrent: e.config.MaxInFlight})
	}
	e.guards[function] = g
	return g
}

// GuardStats reports the admission limits applied to one function.
type GuardStats struct {
	// RateLimitTokens is the number of tokens left in the rate limit bucket.
	RateLimitTokens *float64                    `json:"rate_limit_tokens,omitempty"`
	Bulkhead        *resilience.BulkheadMetrics `json:"bulkhead,omitempty"`
}

// Guards returns the rate limit and in-flight state for function. It reports
// false when no guard is configured or function has not been called yet.
func (e *Executor) Guards(function string) (GuardStats, bool) {
	e.guardsMu.Lock()
	g, ok := e.guards[function]
	e.guardsMu.Unlock()
	if !ok || (g.limiter == nil && g.bulkhead == nil) {
		return GuardStats{}, false
	}

	var st GuardStats
	if g.limiter != nil {
		tokens := g.limiter.Tokens()
		st.RateLimitTokens = &tokens
	}
	if g.bulkhead != nil {
		m := g.bulkhead.Metrics()
		st.Bulkhead = &m
	}
	return st, true
}

func (e *Executor) finish(call RemoteCall) {
	e.history.add(call)
	e.stats.record(call)
}

// Call executes function and decodes the JSON response into T.
func Call[T any](ctx context.Context, e *Executor, function string, payload any, opts ...Option) (T, error) {
	var out T
	raw, err := e.Execute(ctx, function, payload, opts...)
	if err != nil {
		return out, err
	}
	if len(raw) == 0 {
		return out, nil
	}
	if err := sonic.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("%w: %s: %w", ErrDecodeResponse, function, err)
	}
	return out, nil
}

// Stats returns the aggregate for function, or false when it has never been
// called.
func (e *Executor) Stats(function string) (FunctionStats, bool) {
	return e.stats.snapshot(function, e.config.Thresholds)
}

// AllStats returns the aggregate for every function called so far.
func (e *Executor) AllStats() map[string]FunctionStats {
	names := e.stats.names()
	out := make(map[string]FunctionStats, len(names))
	for _, name := range names {
		if st, ok := e.stats.snapshot(name, e.config.Thresholds); ok {
			out[name] = st
		}
	}
	return out
}

// CircuitStates returns a snapshot of every breaker created so far.
func (e *Executor) CircuitStates() map[string]resilience.CircuitBreakerState {
	return e.breakers.States()
}

// ResetCircuit closes the breaker for function. It reports false when no
// breaker exists for that name.
func (e *Executor) ResetCircuit(function string) bool {
	return e.breakers.Reset(function)
}

// IsCallAllowed reports whether function's breaker would admit a call now.
// In half-open state this consumes the probe slot, so callers that do not
// follow up with a call should use CircuitStates instead.
func (e *Executor) IsCallAllowed(function string) bool {
	return e.breakers.IsCallAllowed(function)
}

// History returns the retained call records, oldest first.
func (e *Executor) History() []RemoteCall {
	return e.history.snapshot()
}

// FunctionHistory returns the retained call records for function, oldest first.
func (e *Executor) FunctionHistory(function string) []RemoteCall {
	return e.history.forFunction(function)
}

// Thresholds returns the thresholds used for health classification.
func (e *Executor) Thresholds() health.Thresholds {
	return e.config.Thresholds
}

// IsCircuitOpen reports whether err is a breaker rejection.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, resilience.ErrCircuitOpen)
}
