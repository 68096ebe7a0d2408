// Package taskqueue is an in-process priority scheduler for background work
// such as story generation and narration.
//
// Callers register one Handler per task type and Add tasks with a payload.
// The scheduler runs eligible tasks highest priority first, oldest first
// among equals, never more than Config.MaxConcurrent at a time. A task added
// with Delay, or waiting out a retry backoff, is not eligible before its
// scheduled time.
//
// # Lifecycle
//
//	pending -> running -> completed
//	                   -> pending (retry after RetryBase * 2^retries)
//	                   -> failed
//	pending -> cancelled
//
// A failing handler is retried until the task's retry count reaches
// MaxRetries. Errors wrapped with NoRetry, non-retryable remote errors from
// package resilience and ErrNoHandler fail the task immediately.
//
// Handlers report progress with ReportProgress; values reach the task's
// OnProgress callback in order.
package taskqueue
