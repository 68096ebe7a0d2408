package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records execution metrics for remote calls and task runs.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must honor cancellation/deadlines and return quickly.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordExecution records an operation with duration and error status.
	RecordExecution(ctx context.Context, meta OpMeta, duration time.Duration, err error)

	// RecordRetry counts one retry of the operation.
	RecordRetry(ctx context.Context, meta OpMeta)

	// RecordStateChange counts a circuit breaker transition for a function.
	RecordStateChange(ctx context.Context, function, from, to string)
}

type metricsImpl struct {
	totalCount   metric.Int64Counter
	errorCount   metric.Int64Counter
	retryCount   metric.Int64Counter
	transitions  metric.Int64Counter
	durationHist metric.Float64Histogram
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	totalCount, err := meter.Int64Counter(
		"storyjobs.op.total",
		metric.WithDescription("Total number of operations"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	errorCount, err := meter.Int64Counter(
		"storyjobs.op.errors",
		metric.WithDescription("Total number of failed operations"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	retryCount, err := meter.Int64Counter(
		"storyjobs.op.retries",
		metric.WithDescription("Total number of retry attempts"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, err
	}

	transitions, err := meter.Int64Counter(
		"storyjobs.circuit.transitions",
		metric.WithDescription("Circuit breaker state transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, err
	}

	durationHist, err := meter.Float64Histogram(
		"storyjobs.op.duration_ms",
		metric.WithDescription("Operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &metricsImpl{
		totalCount:   totalCount,
		errorCount:   errorCount,
		retryCount:   retryCount,
		transitions:  transitions,
		durationHist: durationHist,
	}, nil
}

func opAttrs(meta OpMeta) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("op.kind", meta.Kind),
		attribute.String("op.name", meta.Name),
	)
}

func (m *metricsImpl) RecordExecution(ctx context.Context, meta OpMeta, duration time.Duration, err error) {
	opt := opAttrs(meta)

	m.totalCount.Add(ctx, 1, opt)
	if err != nil {
		m.errorCount.Add(ctx, 1, opt)
	}
	m.durationHist.Record(ctx, float64(duration.Milliseconds()), opt)
}

func (m *metricsImpl) RecordRetry(ctx context.Context, meta OpMeta) {
	m.retryCount.Add(ctx, 1, opAttrs(meta))
}

func (m *metricsImpl) RecordStateChange(ctx context.Context, function, from, to string) {
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op.name", function),
		attribute.String("circuit.from", from),
		attribute.String("circuit.to", to),
	))
}

type noopMetrics struct{}

// NopMetrics returns a Metrics that records nothing.
func NopMetrics() Metrics { return noopMetrics{} }

func (noopMetrics) RecordExecution(context.Context, OpMeta, time.Duration, error) {}
func (noopMetrics) RecordRetry(context.Context, OpMeta)                            {}
func (noopMetrics) RecordStateChange(context.Context, string, string, string)      {}
