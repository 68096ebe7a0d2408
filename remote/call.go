package remote

import (
	"slices"
	"sync"
	"time"
)

// RemoteCall is the record of one Execute invocation, including any retries
// it performed internally.
type RemoteCall struct {
	ID         string        `json:"id"`
	Function   string        `json:"function"`
	StartTime  time.Time     `json:"start_time"`
	EndTime    time.Time     `json:"end_time"`
	Duration   time.Duration `json:"duration"`
	Success    bool          `json:"success"`
	Payload    any           `json:"-"`
	Response   []byte        `json:"-"`
	Error      string        `json:"error,omitempty"`
	RetryCount int           `json:"retry_count"`
}

// history is a fixed-capacity ring of finished calls. Once full, the oldest
// record is overwritten.
type history struct {
	mu    sync.Mutex
	buf   []RemoteCall
	next  int
	count int
}

func newHistory(capacity int) *history {
	return &history{buf: make([]RemoteCall, capacity)}
}

func (h *history) add(c RemoteCall) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.buf[h.next] = c
	h.next = (h.next + 1) % len(h.buf)
	if h.count < len(h.buf) {
		h.count++
	}
}

// snapshot returns the retained calls, oldest first.
func (h *history) snapshot() []RemoteCall {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]RemoteCall, 0, h.count)
	start := (h.next - h.count + len(h.buf)) % len(h.buf)
	for i := 0; i < h.count; i++ {
		out = append(out, h.buf[(start+i)%len(h.buf)])
	}
	return out
}

// forFunction returns the retained calls to name, oldest first.
func (h *history) forFunction(name string) []RemoteCall {
	return slices.DeleteFunc(h.snapshot(), func(c RemoteCall) bool {
		return c.Function != name
	})
}
