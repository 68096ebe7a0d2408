package observe

import (
	"context"
	"time"
)

// ExecuteFunc is the signature of an instrumented operation.
type ExecuteFunc func(ctx context.Context, op OpMeta, input any) (any, error)

// Middleware wraps operations with tracing, metrics and logging.
//
// Contract:
//   - Concurrency: Wrap() returns a thread-safe ExecuteFunc.
//   - Context: Propagates context through tracing spans.
//   - Errors: Errors from wrapped function are recorded and propagated unchanged.
//   - Ownership: Input/output values are passed through without modification.
type Middleware struct {
	tracer  Tracer
	metrics Metrics
	logger  Logger
}

// NewMiddleware creates a new Middleware. Nil components are replaced with
// no-ops.
func NewMiddleware(tracer Tracer, metrics Metrics, logger Logger) *Middleware {
	if tracer == nil {
		tracer = NopTracer()
	}
	if metrics == nil {
		metrics = NopMetrics()
	}
	if logger == nil {
		logger = NopLogger()
	}
	return &Middleware{
		tracer:  tracer,
		metrics: metrics,
		logger:  logger,
	}
}

// NopMiddleware returns a Middleware that only runs the wrapped function.
func NopMiddleware() *Middleware {
	return NewMiddleware(nil, nil, nil)
}

// MiddlewareFromObserver creates a Middleware from an Observer.
func MiddlewareFromObserver(obs Observer) (*Middleware, error) {
	if obs == nil {
		return nil, ErrNilObserver
	}
	metrics, err := NewMetrics(obs.Meter())
	if err != nil {
		return nil, err
	}
	return NewMiddleware(NewTracer(obs.Tracer()), metrics, obs.Logger()), nil
}

// Metrics returns the metrics recorder.
func (m *Middleware) Metrics() Metrics { return m.metrics }

// Logger returns the logger.
func (m *Middleware) Logger() Logger { return m.logger }

// Wrap wraps an ExecuteFunc with tracing, metrics, and logging.
func (m *Middleware) Wrap(fn ExecuteFunc) ExecuteFunc {
	return func(ctx context.Context, op OpMeta, input any) (any, error) {
		ctx, span := m.tracer.StartSpan(ctx, op)
		start := time.Now()

		result, err := fn(ctx, op, input)

		duration := time.Since(start)
		m.tracer.EndSpan(span, err)
		m.metrics.RecordExecution(ctx, op, duration, err)

		fields := []Field{
			String("op", op.SpanName()),
			Duration("duration", duration),
		}
		if op.ID != "" {
			fields = append(fields, String("id", op.ID))
		}
		if err != nil {
			m.logger.Warn(ctx, "operation failed", append(fields, Err(err))...)
		} else {
			m.logger.Debug(ctx, "operation completed", fields...)
		}

		return result, err
	}
}
