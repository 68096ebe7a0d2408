package resilience

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeClock is a manually advanced clock for breaker tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})

	if cb.State() != StateClosed {
		t.Errorf("Initial state = %v, want closed", cb.State())
	}
	if cb.config.MaxFailures != 5 {
		t.Errorf("MaxFailures = %d, want 5", cb.config.MaxFailures)
	}
	if cb.config.ResetTimeout != 60*time.Second {
		t.Errorf("ResetTimeout = %v, want 60s", cb.config.ResetTimeout)
	}
	if cb.config.HalfOpenMaxRequests != 1 {
		t.Errorf("HalfOpenMaxRequests = %d, want 1", cb.config.HalfOpenMaxRequests)
	}
}

func TestCircuitBreaker_OpensAtThreshold(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:  3,
		ResetTimeout: time.Minute,
		Clock:        clock.Now,
	})

	for i := 0; i < 2; i++ {
		cb.RecordFailure()
		if cb.State() != StateClosed {
			t.Fatalf("after %d failures state = %v, want closed", i+1, cb.State())
		}
	}

	cb.RecordFailure()
	snap := cb.Snapshot()
	if snap.State != StateOpen {
		t.Fatalf("after 3 failures state = %v, want open", snap.State)
	}
	if want := clock.Now().Add(time.Minute); !snap.NextAttemptTime.Equal(want) {
		t.Errorf("NextAttemptTime = %v, want %v", snap.NextAttemptTime, want)
	}
	if err := cb.Allow(); err != ErrCircuitOpen {
		t.Errorf("Allow() while open = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreaker_SingleProbeAfterTimeout(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:  2,
		ResetTimeout: 30 * time.Second,
		Clock:        clock.Now,
	})
	cb.RecordFailure()
	cb.RecordFailure()

	clock.Advance(29 * time.Second)
	if cb.State() != StateOpen {
		t.Fatalf("state before window elapsed = %v, want open", cb.State())
	}

	clock.Advance(time.Second)
	if cb.State() != StateHalfOpen {
		t.Fatalf("state after window = %v, want half-open", cb.State())
	}

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if cb.Allow() == nil {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := admitted.Load(); got != 1 {
		t.Errorf("admitted probes = %d, want 1", got)
	}
}

func TestCircuitBreaker_ProbeOutcome(t *testing.T) {
	tests := []struct {
		name         string
		record       func(cb *CircuitBreaker)
		wantState    State
		wantFailures int
	}{
		{"success closes", (*CircuitBreaker).RecordSuccess, StateClosed, 0},
		{"failure reopens", (*CircuitBreaker).RecordFailure, StateOpen, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			cb := NewCircuitBreaker(CircuitBreakerConfig{
				MaxFailures:  1,
				ResetTimeout: time.Second,
				Clock:        clock.Now,
			})
			cb.RecordFailure()
			clock.Advance(time.Second)

			if err := cb.Allow(); err != nil {
				t.Fatalf("probe Allow() = %v", err)
			}
			tt.record(cb)

			snap := cb.Snapshot()
			if snap.State != tt.wantState {
				t.Errorf("State = %v, want %v", snap.State, tt.wantState)
			}
			if snap.FailureCount != tt.wantFailures {
				t.Errorf("FailureCount = %d, want %d", snap.FailureCount, tt.wantFailures)
			}
		})
	}
}

func TestCircuitBreaker_ReleaseFreesProbe(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Second, Clock: clock.Now})
	cb.RecordFailure()
	clock.Advance(time.Second)

	if err := cb.Allow(); err != nil {
		t.Fatalf("first probe = %v", err)
	}
	if err := cb.Allow(); err != ErrCircuitOpen {
		t.Fatalf("second probe = %v, want ErrCircuitOpen", err)
	}
	cb.Release()
	if err := cb.Allow(); err != nil {
		t.Errorf("probe after Release = %v", err)
	}
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 3, ResetTimeout: time.Hour})

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	if cb.State() != StateClosed {
		t.Errorf("State = %v, want closed", cb.State())
	}
	if got := cb.Snapshot().FailureCount; got != 2 {
		t.Errorf("FailureCount = %d, want 2", got)
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	clock := newFakeClock()
	var transitions [][2]State
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:  1,
		ResetTimeout: time.Second,
		Clock:        clock.Now,
		OnStateChange: func(from, to State) {
			transitions = append(transitions, [2]State{from, to})
		},
	})

	cb.RecordFailure()
	clock.Advance(time.Second)
	_ = cb.Allow()
	cb.RecordSuccess()

	want := [][2]State{
		{StateClosed, StateOpen},
		{StateOpen, StateHalfOpen},
		{StateHalfOpen, StateClosed},
	}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, transitions[i], want[i])
		}
	}
}

func TestBreakers_IndependentPerName(t *testing.T) {
	b := NewBreakers(CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour}, nil)

	b.RecordFailure("generate-story")
	b.RecordFailure("generate-story")

	if b.IsCallAllowed("generate-story") {
		t.Error("generate-story should be rejected after reaching threshold")
	}
	if !b.IsCallAllowed("text-to-speech") {
		t.Error("text-to-speech should not be affected by another function's failures")
	}

	states := b.States()
	if states["generate-story"].State != StateOpen {
		t.Errorf("generate-story state = %v, want open", states["generate-story"].State)
	}
	if states["text-to-speech"].State != StateClosed {
		t.Errorf("text-to-speech state = %v, want closed", states["text-to-speech"].State)
	}
}

func TestBreakers_Reset(t *testing.T) {
	var changes []string
	b := NewBreakers(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour}, func(name string, from, to State) {
		changes = append(changes, name+":"+from.String()+"->"+to.String())
	})

	if b.Reset("unknown") {
		t.Error("Reset() of untracked function = true, want false")
	}

	b.RecordFailure("workflow-webhook")
	if !b.Reset("workflow-webhook") {
		t.Fatal("Reset() = false, want true")
	}
	if !b.IsCallAllowed("workflow-webhook") {
		t.Error("call should be allowed after reset")
	}

	want := []string{"workflow-webhook:closed->open", "workflow-webhook:open->closed"}
	if len(changes) != len(want) || changes[0] != want[0] || changes[1] != want[1] {
		t.Errorf("changes = %v, want %v", changes, want)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("State.String() = %v, want %v", got, tt.want)
			}
		})
	}
}
