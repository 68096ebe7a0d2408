package resilience

import (
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed means the circuit is operating normally.
	StateClosed State = iota
	// StateOpen means the circuit is blocking all requests.
	StateOpen
	// StateHalfOpen means the circuit is letting a single probe through.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// MarshalText renders the state as its name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// CircuitBreakerConfig configures the circuit breaker.
type CircuitBreakerConfig struct {
	// MaxFailures is the number of failures before opening the circuit.
	// Default: 5
	MaxFailures int

	// ResetTimeout is how long the circuit stays open before a probe is allowed.
	// Default: 60 seconds
	ResetTimeout time.Duration

	// HalfOpenMaxRequests is the max requests allowed in half-open state.
	// Default: 1
	HalfOpenMaxRequests int

	// OnStateChange is called when the circuit state changes.
	OnStateChange func(from, to State)

	// Clock returns the current time. Default: time.Now
	Clock func() time.Time
}

func (c CircuitBreakerConfig) withDefaults() CircuitBreakerConfig {
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 60 * time.Second
	}
	if c.HalfOpenMaxRequests <= 0 {
		c.HalfOpenMaxRequests = 1
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}

// CircuitBreaker implements the circuit breaker pattern for one remote function.
type CircuitBreaker struct {
	config CircuitBreakerConfig

	mu            sync.Mutex
	state         State
	failures      int
	lastFailure   time.Time
	nextAttempt   time.Time
	halfOpenCount int
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		config: config.withDefaults(),
		state:  StateClosed,
	}
}

// Allow reports whether a call may be attempted now. In half-open state only
// HalfOpenMaxRequests callers are admitted until one of them records an outcome.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.currentStateLocked() {
	case StateOpen:
		return ErrCircuitOpen
	case StateHalfOpen:
		if cb.halfOpenCount >= cb.config.HalfOpenMaxRequests {
			return ErrCircuitOpen
		}
		cb.halfOpenCount++
	}
	return nil
}

// RecordSuccess closes the circuit and clears the failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.transitionLocked(StateClosed)
}

// RecordFailure counts a failure and opens the circuit once the threshold is reached.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.config.Clock()
	cb.currentStateLocked()
	cb.failures++
	cb.lastFailure = now

	if cb.failures >= cb.config.MaxFailures {
		cb.nextAttempt = now.Add(cb.config.ResetTimeout)
		cb.transitionLocked(StateOpen)
		return
	}
	if cb.state == StateHalfOpen {
		// Probe failed below threshold (only possible after a manual reset race).
		cb.transitionLocked(StateClosed)
	}
}

// Release returns a half-open probe slot without recording an outcome.
// Used when the probe ended in a way that says nothing about remote health.
func (cb *CircuitBreaker) Release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen && cb.halfOpenCount > 0 {
		cb.halfOpenCount--
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentStateLocked()
}

// Reset resets the circuit breaker to closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.lastFailure = time.Time{}
	cb.nextAttempt = time.Time{}
	cb.transitionLocked(StateClosed)
}

func (cb *CircuitBreaker) currentStateLocked() State {
	if cb.state == StateOpen && !cb.config.Clock().Before(cb.nextAttempt) {
		cb.transitionLocked(StateHalfOpen)
	}
	return cb.state
}

func (cb *CircuitBreaker) transitionLocked(to State) {
	from := cb.state
	cb.state = to
	if to != StateHalfOpen {
		cb.halfOpenCount = 0
	}
	if to != StateOpen {
		cb.nextAttempt = time.Time{}
	}
	if from != to && cb.config.OnStateChange != nil {
		cb.config.OnStateChange(from, to)
	}
}

// Snapshot returns the current breaker state for operators.
func (cb *CircuitBreaker) Snapshot() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return CircuitBreakerState{
		State:           cb.currentStateLocked(),
		FailureCount:    cb.failures,
		LastFailureTime: cb.lastFailure,
		NextAttemptTime: cb.nextAttempt,
		Threshold:       cb.config.MaxFailures,
		Timeout:         cb.config.ResetTimeout,
	}
}

// CircuitBreakerState contains circuit breaker statistics.
type CircuitBreakerState struct {
	State           State         `json:"state"`
	FailureCount    int           `json:"failure_count"`
	LastFailureTime time.Time     `json:"last_failure_time,omitzero"`
	NextAttemptTime time.Time     `json:"next_attempt_time,omitzero"`
	Threshold       int           `json:"threshold"`
	Timeout         time.Duration `json:"timeout"`
}

// Breakers keeps one independent circuit breaker per remote function name.
// Calls against different names never share a lock beyond the map lookup.
type Breakers struct {
	config   CircuitBreakerConfig
	onChange func(name string, from, to State)

	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
}

// NewBreakers creates a registry whose breakers share config. onChange may be nil.
func NewBreakers(config CircuitBreakerConfig, onChange func(name string, from, to State)) *Breakers {
	return &Breakers{
		config:   config.withDefaults(),
		onChange: onChange,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker for name, creating a closed one on first use.
func (b *Breakers) Get(name string) *CircuitBreaker {
	b.mu.RLock()
	cb, ok := b.breakers[name]
	b.mu.RUnlock()
	if ok {
		return cb
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if cb, ok = b.breakers[name]; ok {
		return cb
	}
	cfg := b.config
	if b.onChange != nil {
		cfg.OnStateChange = func(from, to State) { b.onChange(name, from, to) }
	}
	cb = NewCircuitBreaker(cfg)
	b.breakers[name] = cb
	return cb
}

// IsCallAllowed reports whether a call to name may be attempted. A true
// result in half-open state reserves the probe slot.
func (b *Breakers) IsCallAllowed(name string) bool {
	return b.Get(name).Allow() == nil
}

// RecordSuccess records a successful call to name.
func (b *Breakers) RecordSuccess(name string) { b.Get(name).RecordSuccess() }

// RecordFailure records a failed call to name.
func (b *Breakers) RecordFailure(name string) { b.Get(name).RecordFailure() }

// Release frees a reserved half-open probe slot for name.
func (b *Breakers) Release(name string) { b.Get(name).Release() }

// Reset closes the breaker for name. It reports whether a breaker existed.
func (b *Breakers) Reset(name string) bool {
	b.mu.RLock()
	cb, ok := b.breakers[name]
	b.mu.RUnlock()
	if !ok {
		return false
	}
	cb.Reset()
	return true
}

// States returns a snapshot of every tracked breaker keyed by function name.
func (b *Breakers) States() map[string]CircuitBreakerState {
	b.mu.RLock()
	names := make([]string, 0, len(b.breakers))
	for name := range b.breakers {
		names = append(names, name)
	}
	b.mu.RUnlock()

	out := make(map[string]CircuitBreakerState, len(names))
	for _, name := range names {
		out[name] = b.Get(name).Snapshot()
	}
	return out
}
