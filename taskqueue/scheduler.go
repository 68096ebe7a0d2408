package taskqueue

import (
	"container/heap"
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/jonwraymond/storyjobs/observe"
)

// loop is the single scheduler goroutine. It sleeps until a task is added or
// finishes, or the earliest delayed task becomes eligible.
func (q *Queue) loop(ctx context.Context) {
	defer close(q.done)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		q.mu.Lock()
		now := q.cfg.Clock()
		q.dispatchLocked(ctx, now)

		var due <-chan time.Time
		if len(q.delayed) > 0 {
			timer.Reset(q.delayed[0].at.Sub(now))
			due = timer.C
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			q.markStopped()
			q.log.Warn(context.WithoutCancel(ctx), "task queue context ended, scheduler stopped")
			return
		case <-q.stopCh:
			return
		case <-q.wake:
		case <-due:
		}
	}
}

// dispatchLocked promotes due tasks and starts as many ready tasks as the
// concurrency cap allows.
func (q *Queue) dispatchLocked(ctx context.Context, now time.Time) {
	for len(q.delayed) > 0 && !q.delayed[0].at.After(now) {
		heap.Push(&q.ready, heap.Pop(&q.delayed))
	}

	for q.running < q.cfg.MaxConcurrent && len(q.ready) > 0 {
		it := heap.Pop(&q.ready).(item)
		if !q.markRunning(it.e, now) {
			continue
		}
		q.running++
		q.wg.Add(1)
		go q.run(ctx, it.e)
	}
}

// markRunning moves a pending task to running. Cancelled tasks left in the
// heap are skipped here.
func (q *Queue) markRunning(e *entry, now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.task.Status != StatusPending {
		return false
	}
	e.task.Status = StatusRunning
	e.task.StartedAt = now
	e.task.Progress = 0
	q.counts.pending.Add(-1)
	q.counts.running.Add(1)
	return true
}

func (q *Queue) run(ctx context.Context, e *entry) {
	defer q.wg.Done()

	task := e.snapshot()
	start := q.cfg.Clock()
	result, err := q.invoke(ctx, e, task)
	q.complete(e, result, err, start)
}

func (q *Queue) invoke(ctx context.Context, e *entry, task Task) (any, error) {
	h, ok := q.handler(task.Type)
	if !ok {
		err := fmt.Errorf("%w: %q", ErrNoHandler, task.Type)
		q.log.Error(ctx, "no handler registered for task type",
			observe.String("id", task.ID),
			observe.String("type", task.Type),
		)
		return nil, err
	}

	ctx = withReporter(ctx, func(p int) { q.progress(e, p) })
	if q.cfg.ProgressInterval > 0 {
		stop := q.simulateProgress(e)
		defer stop()
	}

	meta := observe.OpMeta{Kind: observe.KindTaskRun, Name: task.Type, ID: task.ID}
	return q.cfg.Middleware.Wrap(func(ctx context.Context, _ observe.OpMeta, _ any) (out any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
				q.log.Error(ctx, "task handler panicked",
					observe.String("id", task.ID),
					observe.String("type", task.Type),
					observe.Any("panic", r),
					observe.String("stack", string(debug.Stack())),
				)
			}
		}()
		return h(ctx, task)
	})(ctx, meta, task.Payload)
}

// complete applies the handler outcome: completed, failed, or pending again
// after backoff.
func (q *Queue) complete(e *entry, result any, err error, start time.Time) {
	if err == nil {
		q.progress(e, 100)
	}

	now := q.cfg.Clock()
	took := now.Sub(start)

	e.mu.Lock()
	var retryAt time.Time
	switch {
	case err == nil:
		e.task.Status = StatusCompleted
		e.task.Result = result
		e.task.Error = ""
		e.task.Err = nil
	case isTerminal(err):
		e.task.Status = StatusFailed
	default:
		if e.task.Retries < e.task.MaxRetries {
			e.task.Retries++
		}
		if e.task.Retries >= e.task.MaxRetries {
			e.task.Status = StatusFailed
		} else {
			e.task.Status = StatusPending
			retryAt = now.Add(q.backoff(e.task.Retries))
			e.task.ScheduledAt = retryAt
			e.task.Progress = 0
		}
	}
	if err != nil {
		e.task.Error = err.Error()
		e.task.Err = err
	}
	if e.task.Status.IsTerminal() {
		e.task.FinishedAt = now
	}
	task := e.task
	e.mu.Unlock()

	q.counts.running.Add(-1)
	fields := []observe.Field{
		observe.String("id", task.ID),
		observe.String("type", task.Type),
		observe.Int("retries", task.Retries),
		observe.Duration("duration", took),
	}
	switch task.Status {
	case StatusCompleted:
		q.counts.completed.Add(1)
		q.log.Debug(context.Background(), "task completed", fields...)
	case StatusFailed:
		q.counts.failed.Add(1)
		q.log.Warn(context.Background(), "task failed", append(fields, observe.Err(err))...)
	case StatusPending:
		q.counts.pending.Add(1)
		q.log.Debug(context.Background(), "task retry scheduled",
			append(fields, observe.Duration("delay", retryAt.Sub(now)), observe.Err(err))...)
	}

	q.mu.Lock()
	q.running--
	if task.Status == StatusPending {
		q.enqueueLocked(e, retryAt, now)
	} else {
		q.recordFinishedLocked(task.ID, now, task.Status, took)
	}
	q.mu.Unlock()

	q.signal()
}

// backoff returns RetryBase * 2^retries, capped at MaxRetryDelay.
func (q *Queue) backoff(retries int) time.Duration {
	return q.retry.Delay(retries + 1)
}

// progress records a new progress value for a running task and forwards it
// to the task's callback.
func (q *Queue) progress(e *entry, p int) {
	e.progressMu.Lock()
	defer e.progressMu.Unlock()

	e.mu.Lock()
	if e.task.Status != StatusRunning || p <= e.task.Progress {
		e.mu.Unlock()
		return
	}
	e.task.Progress = p
	cb, id := e.onProgress, e.task.ID
	e.mu.Unlock()

	if cb == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			q.log.Error(context.Background(), "progress callback panicked",
				observe.String("id", id),
				observe.Any("panic", r),
			)
		}
	}()
	cb(p)
}

// simulateProgress advances a coarse estimate toward 90 until stopped.
func (q *Queue) simulateProgress(e *entry) (stop func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(q.cfg.ProgressInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				current := e.snapshot().Progress
				if current >= 90 {
					continue
				}
				q.progress(e, min(current+10, 90))
			}
		}
	}()
	return func() { close(done) }
}
