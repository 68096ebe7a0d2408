package taskqueue

import "time"

// DefaultMaxRetries is the retry budget of a task added without MaxRetries.
const DefaultMaxRetries = 3

type options struct {
	id         string
	priority   int
	maxRetries int
	delay      time.Duration
	onProgress func(int)
}

// Option configures a task at Add time.
type Option func(*options)

// TaskID sets a custom ID for the task. If not provided, a random UUID is generated.
func TaskID(id string) Option {
	return func(o *options) {
		o.id = id
	}
}

// Priority sets the scheduling priority. Higher runs first.
func Priority(p int) Option {
	return func(o *options) {
		o.priority = p
	}
}

// MaxRetries sets how many times a failing task is retried before it is
// marked failed. Negative values are treated as zero.
func MaxRetries(n int) Option {
	return func(o *options) {
		o.maxRetries = max(n, 0)
	}
}

// Delay makes the task ineligible until d has elapsed.
func Delay(d time.Duration) Option {
	return func(o *options) {
		o.delay = max(d, 0)
	}
}

// OnProgress registers a callback that receives progress values in 0..100
// while the task runs.
func OnProgress(fn func(percent int)) Option {
	return func(o *options) {
		o.onProgress = fn
	}
}
