// Package observe provides logging, tracing and metrics for remote calls and
// task runs.
//
// NewObserver builds the OpenTelemetry providers and a zerolog-backed Logger
// from Config. Middleware wraps an operation so each run produces one span
// ("remote.call.<function>" or "task.run.<type>"), one execution measurement
// and one log line. Consumers that do not care about telemetry use
// NopMiddleware.
package observe
