package taskqueue

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jonwraymond/storyjobs/observe"
	"github.com/jonwraymond/storyjobs/resilience"
)

// Config configures a Queue.
type Config struct {
	// MaxConcurrent caps the number of running tasks. Default: 3
	MaxConcurrent int

	// RetryBase is the backoff unit: a task that failed n times waits
	// RetryBase * 2^n before its next run. Default: 1s
	RetryBase time.Duration

	// MaxRetryDelay caps the backoff between runs. Default: 10m
	MaxRetryDelay time.Duration

	// FinishedCapacity is how many terminal tasks are kept for status
	// queries. Default: 1000
	FinishedCapacity int

	// Retention is how long terminal tasks are kept. Negative keeps them
	// until FinishedCapacity evicts them. Default: 1h
	Retention time.Duration

	// ProgressInterval enables coarse synthetic progress while a task runs.
	// Zero forwards only what handlers report via ReportProgress.
	ProgressInterval time.Duration

	// ThroughputWindow is the trailing window for Stats.Throughput.
	// Default: 1m
	ThroughputWindow time.Duration

	// Middleware wraps each handler run with tracing, metrics and logging.
	Middleware *observe.Middleware

	// Clock returns the current time. Default: time.Now
	Clock func() time.Time
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = time.Second
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = 10 * time.Minute
	}
	if c.FinishedCapacity <= 0 {
		c.FinishedCapacity = 1000
	}
	if c.Retention == 0 {
		c.Retention = time.Hour
	}
	if c.ThroughputWindow <= 0 {
		c.ThroughputWindow = time.Minute
	}
	if c.Middleware == nil {
		c.Middleware = observe.NopMiddleware()
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}

// entry is the queue-owned record behind a Task.
type entry struct {
	mu         sync.Mutex
	task       Task
	seq        uint64
	onProgress func(int)

	// progressMu serializes callback delivery so values arrive in order.
	progressMu sync.Mutex
}

func (e *entry) snapshot() Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.task
}

type finishedRef struct {
	id string
	at time.Time
}

// Queue is an in-process priority task scheduler with a global concurrency
// cap and per-task retry.
type Queue struct {
	cfg Config
	log observe.Logger

	handlersMu sync.RWMutex
	handlers   map[string]Handler

	tasks sync.Map // id -> *entry
	seq   atomic.Uint64

	// mu guards the scheduling state below. Task records have their own locks.
	mu          sync.Mutex
	ready       readyHeap
	delayed     delayHeap
	running     int
	finished    []finishedRef
	completions []time.Time
	meanProc    float64
	procCount   int64

	counts counters

	retry *resilience.Retry

	wake chan struct{}

	lifeMu  sync.Mutex
	started bool
	stopped bool
	halted  bool
	stopCh  chan struct{}
	done    chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a queue. Processing starts on Start or on the first Add.
func New(cfg Config) *Queue {
	cfg = cfg.withDefaults()
	return &Queue{
		cfg:      cfg,
		log:      cfg.Middleware.Logger(),
		handlers: make(map[string]Handler),
		wake:     make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
		retry: resilience.NewRetry(resilience.RetryConfig{
			Strategy:     resilience.BackoffExponential,
			InitialDelay: cfg.RetryBase,
			MaxDelay:     cfg.MaxRetryDelay,
		}),
	}
}

// RegisterHandler associates a task type with its handler, replacing any
// previous registration.
func (q *Queue) RegisterHandler(taskType string, h Handler) error {
	if taskType == "" || h == nil {
		return ErrInvalidType
	}
	q.handlersMu.Lock()
	q.handlers[taskType] = h
	q.handlersMu.Unlock()
	return nil
}

func (q *Queue) handler(taskType string) (Handler, bool) {
	q.handlersMu.RLock()
	defer q.handlersMu.RUnlock()
	h, ok := q.handlers[taskType]
	return h, ok
}

// Add enqueues a pending task and returns its ID. Tasks of a type with no
// registered handler are accepted and fail with ErrNoHandler when picked up.
func (q *Queue) Add(taskType string, payload any, opts ...Option) (string, error) {
	if taskType == "" {
		return "", ErrInvalidType
	}
	if q.isStopped() {
		return "", ErrQueueStopped
	}

	o := options{maxRetries: DefaultMaxRetries}
	for _, opt := range opts {
		opt(&o)
	}
	if o.id == "" {
		o.id = uuid.NewString()
	}

	now := q.cfg.Clock()
	e := &entry{
		seq:        q.seq.Add(1),
		onProgress: o.onProgress,
		task: Task{
			ID:         o.id,
			Type:       taskType,
			Payload:    payload,
			Priority:   o.priority,
			MaxRetries: o.maxRetries,
			Status:     StatusPending,
			CreatedAt:  now,
		},
	}
	if o.delay > 0 {
		e.task.ScheduledAt = now.Add(o.delay)
	}
	at := e.task.ScheduledAt

	if _, loaded := q.tasks.LoadOrStore(o.id, e); loaded {
		return "", fmt.Errorf("%w: %s", ErrDuplicateTask, o.id)
	}
	q.counts.total.Add(1)
	q.counts.pending.Add(1)

	q.mu.Lock()
	q.enqueueLocked(e, at, now)
	q.mu.Unlock()

	q.log.Debug(context.Background(), "task queued",
		observe.String("id", o.id),
		observe.String("type", taskType),
		observe.Int("priority", o.priority),
		observe.Duration("delay", o.delay),
	)

	if err := q.Start(context.Background()); err != nil {
		return "", err
	}
	q.signal()
	return o.id, nil
}

// Get returns a copy of the task, or false when the ID is unknown or the
// task has been pruned.
func (q *Queue) Get(id string) (Task, bool) {
	v, ok := q.tasks.Load(id)
	if !ok {
		return Task{}, false
	}
	return v.(*entry).snapshot(), true
}

// Cancel cancels a pending task. It returns false when the task is unknown,
// running or already terminal; running handlers are never interrupted.
func (q *Queue) Cancel(id string) bool {
	v, ok := q.tasks.Load(id)
	if !ok {
		return false
	}
	e := v.(*entry)
	now := q.cfg.Clock()

	e.mu.Lock()
	if e.task.Status != StatusPending {
		e.mu.Unlock()
		return false
	}
	e.task.Status = StatusCancelled
	e.task.FinishedAt = now
	taskType := e.task.Type
	e.mu.Unlock()

	q.counts.pending.Add(-1)
	q.counts.cancelled.Add(1)

	q.mu.Lock()
	q.recordFinishedLocked(id, now, StatusCancelled, 0)
	q.mu.Unlock()

	q.log.Info(context.Background(), "task cancelled",
		observe.String("id", id),
		observe.String("type", taskType),
	)
	return true
}

// Start launches the scheduler. It is idempotent; ctx bounds the scheduler
// and every handler it runs. Once ctx ends the queue is stopped and Add
// returns ErrQueueStopped.
func (q *Queue) Start(ctx context.Context) error {
	q.lifeMu.Lock()
	defer q.lifeMu.Unlock()

	if q.stopped {
		return ErrQueueStopped
	}
	if q.started {
		return nil
	}
	q.started = true

	runCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	go q.loop(runCtx)
	return nil
}

// Stop halts scheduling and waits for running handlers to return. When ctx
// ends first, handler contexts are cancelled and ctx.Err() is returned.
// Pending tasks stay pending. A stopped queue cannot be restarted.
func (q *Queue) Stop(ctx context.Context) error {
	q.lifeMu.Lock()
	q.stopped = true
	started := q.started
	if started && !q.halted {
		q.halted = true
		close(q.stopCh)
	}
	q.lifeMu.Unlock()

	if !started {
		return nil
	}
	<-q.done

	idle := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(idle)
	}()

	defer q.cancel()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// markStopped records that the scheduler exited on its own because the
// context given to Start ended.
func (q *Queue) markStopped() {
	q.lifeMu.Lock()
	defer q.lifeMu.Unlock()
	q.stopped = true
}

func (q *Queue) isStopped() bool {
	q.lifeMu.Lock()
	defer q.lifeMu.Unlock()
	return q.stopped
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// enqueueLocked places e in the ready or delayed heap.
func (q *Queue) enqueueLocked(e *entry, at, now time.Time) {
	it := item{e: e, priority: e.task.Priority, seq: e.seq, at: at}
	if at.After(now) {
		heap.Push(&q.delayed, it)
		return
	}
	heap.Push(&q.ready, it)
}

// recordFinishedLocked tracks a terminal task for retention and throughput.
func (q *Queue) recordFinishedLocked(id string, now time.Time, status Status, took time.Duration) {
	q.finished = append(q.finished, finishedRef{id: id, at: now})
	if status != StatusCancelled {
		q.completions = append(q.completions, now)
		q.procCount++
		q.meanProc += (float64(took) - q.meanProc) / float64(q.procCount)
	}
	q.pruneLocked(now)
}

// pruneLocked drops terminal tasks beyond capacity or retention, oldest first.
func (q *Queue) pruneLocked(now time.Time) {
	cut := 0
	for cut < len(q.finished) {
		f := q.finished[cut]
		over := len(q.finished)-cut > q.cfg.FinishedCapacity
		expired := q.cfg.Retention > 0 && now.Sub(f.at) > q.cfg.Retention
		if !over && !expired {
			break
		}
		q.tasks.Delete(f.id)
		cut++
	}
	if cut > 0 {
		q.finished = append(q.finished[:0], q.finished[cut:]...)
	}

	horizon := now.Add(-q.cfg.ThroughputWindow)
	cut = 0
	for cut < len(q.completions) && q.completions[cut].Before(horizon) {
		cut++
	}
	if cut > 0 {
		q.completions = append(q.completions[:0], q.completions[cut:]...)
	}
}
