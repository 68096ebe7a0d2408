package taskqueue

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jonwraymond/storyjobs/health"
)

type counters struct {
	total     atomic.Int64
	pending   atomic.Int64
	running   atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	cancelled atomic.Int64
}

// Stats summarizes queue activity. Completed, Failed and Cancelled are
// lifetime totals and are not reduced by retention pruning.
type Stats struct {
	Total                 int64         `json:"total"`
	Pending               int64         `json:"pending"`
	Running               int64         `json:"running"`
	Completed             int64         `json:"completed"`
	Failed                int64         `json:"failed"`
	Cancelled             int64         `json:"cancelled"`
	AverageProcessingTime time.Duration `json:"average_processing_time"`
	// Throughput is finished tasks per minute over the trailing window.
	Throughput float64       `json:"throughput_per_minute"`
	Window     time.Duration `json:"window"`
}

// Stats returns current counts, mean processing time and recent throughput.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	q.pruneLocked(q.cfg.Clock())
	recent := len(q.completions)
	mean := time.Duration(q.meanProc)
	q.mu.Unlock()

	return Stats{
		Total:                 q.counts.total.Load(),
		Pending:               q.counts.pending.Load(),
		Running:               q.counts.running.Load(),
		Completed:             q.counts.completed.Load(),
		Failed:                q.counts.failed.Load(),
		Cancelled:             q.counts.cancelled.Load(),
		AverageProcessingTime: mean,
		Throughput:            float64(recent) / q.cfg.ThroughputWindow.Minutes(),
		Window:                q.cfg.ThroughputWindow,
	}
}

// Checker reports the queue as critical once stopped and healthy otherwise.
func (q *Queue) Checker() health.Checker {
	return health.NewCheckerFunc("taskqueue", func(context.Context) health.Result {
		st := q.Stats()
		details := map[string]any{
			"pending": st.Pending,
			"running": st.Running,
			"failed":  st.Failed,
		}
		if q.isStopped() {
			return health.Critical("task queue stopped", ErrQueueStopped).WithDetails(details)
		}
		return health.Healthy(fmt.Sprintf("%d running, %d pending", st.Running, st.Pending)).WithDetails(details)
	})
}
