package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestSentinelErrors(t *testing.T) {
	for _, err := range []error{
		ErrCircuitOpen, ErrMaxRetriesExceeded, ErrRateLimitExceeded, ErrBulkheadFull, ErrTimeout,
	} {
		if err.Error() == "" {
			t.Errorf("%#v has empty message", err)
		}
	}
}

func TestKindOf(t *testing.T) {
	plain := errors.New("connection refused")

	tests := []struct {
		name      string
		err       error
		want      Kind
		retryable bool
	}{
		{"plain error", plain, KindTransient, true},
		{"wrapped plain", fmt.Errorf("llm: %w", plain), KindTransient, true},
		{"timeout sentinel", ErrTimeout, KindTimeout, true},
		{"context deadline", context.DeadlineExceeded, KindTimeout, true},
		{"permanent", Permanent(plain), KindNonRetryable, false},
		{"wrapped permanent", fmt.Errorf("tts: %w", Permanent(plain)), KindNonRetryable, false},
		{"circuit open sentinel", ErrCircuitOpen, KindCircuitOpen, false},
		{"call error exhausted", &CallError{Kind: KindExhausted, Function: "f", Attempts: 3, Err: plain}, KindExhausted, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
			if got := IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.retryable)
			}
		})
	}

	if IsRetryable(nil) || IsNonRetryable(nil) {
		t.Error("nil error must be neither retryable nor non-retryable")
	}
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) must be nil")
	}
}

func TestCallError_MatchesSentinels(t *testing.T) {
	cause := errors.New("503 service unavailable")

	open := &CallError{Kind: KindCircuitOpen, Function: "generate-story"}
	if !errors.Is(open, ErrCircuitOpen) {
		t.Error("circuit-open CallError should match ErrCircuitOpen")
	}

	exhausted := &CallError{Kind: KindExhausted, Function: "generate-story", Attempts: 4, Err: cause}
	if !errors.Is(exhausted, ErrMaxRetriesExceeded) {
		t.Error("exhausted CallError should match ErrMaxRetriesExceeded")
	}
	if !errors.Is(exhausted, cause) {
		t.Error("exhausted CallError should unwrap to its last cause")
	}
	if errors.Is(exhausted, ErrCircuitOpen) {
		t.Error("exhausted CallError must not match ErrCircuitOpen")
	}
	if got := exhausted.Error(); got == "" {
		t.Error("empty message")
	}
}
