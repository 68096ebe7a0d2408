package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Operation kinds.
const (
	KindRemoteCall = "remote.call"
	KindTaskRun    = "task.run"
)

// OpMeta describes one instrumented operation: a remote function call or a
// task handler run.
type OpMeta struct {
	Kind string // KindRemoteCall or KindTaskRun
	Name string // remote function name or task type (required)
	ID   string // call or task id (optional)
}

// SpanName returns the deterministic span name, e.g. "remote.call.generate-story".
func (m OpMeta) SpanName() string {
	return m.Kind + "." + m.Name
}

func (m OpMeta) attrs() []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("op.kind", m.Kind),
		attribute.String("op.name", m.Name),
	}
	if m.ID != "" {
		attrs = append(attrs, attribute.String("op.id", m.ID))
	}
	return attrs
}

// Tracer wraps OpenTelemetry tracing with operation span management.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: EndSpan must be best-effort and must not panic.
type Tracer interface {
	// StartSpan starts a new span for the operation.
	StartSpan(ctx context.Context, meta OpMeta) (context.Context, trace.Span)

	// EndSpan ends the span, recording any error.
	EndSpan(span trace.Span, err error)
}

type tracerImpl struct {
	tracer trace.Tracer
}

// NewTracer creates a Tracer wrapping the given OpenTelemetry tracer.
func NewTracer(t trace.Tracer) Tracer {
	return &tracerImpl{tracer: t}
}

func (t *tracerImpl) StartSpan(ctx context.Context, meta OpMeta) (context.Context, trace.Span) {
	kind := trace.SpanKindInternal
	if meta.Kind == KindRemoteCall {
		kind = trace.SpanKindClient
	}

	return t.tracer.Start(ctx, meta.SpanName(),
		trace.WithAttributes(append(meta.attrs(), attribute.Bool("op.error", false))...),
		trace.WithSpanKind(kind),
	)
}

func (t *tracerImpl) EndSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.Bool("op.error", true))
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

type noopTracer struct {
	noop trace.Tracer
}

// NopTracer returns a tracer that records nothing.
func NopTracer() Tracer {
	return &noopTracer{noop: tracenoop.NewTracerProvider().Tracer("noop")}
}

func (t *noopTracer) StartSpan(ctx context.Context, meta OpMeta) (context.Context, trace.Span) {
	return t.noop.Start(ctx, meta.SpanName())
}

func (t *noopTracer) EndSpan(span trace.Span, _ error) {
	span.End()
}
