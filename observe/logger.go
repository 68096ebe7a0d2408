package observe

import (
	"context"
	"io"
	"os"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// Logger is a minimal structured logging interface.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: the span in ctx, if any, is attached to the entry.
// - Errors: logging must be best-effort and must not panic.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...Field)
	Info(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)

	// With returns a logger that adds fields to every entry.
	With(fields ...Field) Logger
}

// Field represents a structured log field.
type Field struct {
	Key   string
	Value any
}

// String returns a string field.
func String(key, value string) Field { return Field{Key: key, Value: value} }

// Int returns an int field.
func Int(key string, value int) Field { return Field{Key: key, Value: value} }

// Duration returns a duration field.
func Duration(key string, value time.Duration) Field { return Field{Key: key, Value: value} }

// Err returns an "error" field. A nil error yields a field that is skipped.
func Err(err error) Field { return Field{Key: "error", Value: err} }

// Any returns a field holding an arbitrary value.
func Any(key string, value any) Field { return Field{Key: key, Value: value} }

// ParseLogLevel parses a string log level. Unknown values map to info.
func ParseLogLevel(s string) zerolog.Level {
	switch s {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

type zeroLogger struct {
	zl     zerolog.Logger
	fields []Field
}

// NewLogger creates a JSON logger writing to stderr.
func NewLogger(level string) Logger {
	return NewLoggerWithWriter(level, "json", os.Stderr)
}

// NewLoggerWithWriter creates a logger with a custom writer. Format "console"
// renders human-readable lines; anything else writes JSON.
func NewLoggerWithWriter(level, format string, w io.Writer) Logger {
	if format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	zl := zerolog.New(w).
		Level(ParseLogLevel(level)).
		With().Timestamp().Logger()
	return &zeroLogger{zl: zl}
}

func defaultLogWriter() io.Writer { return os.Stderr }

func (l *zeroLogger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	return &zeroLogger{
		zl:     l.zl,
		fields: append(slices.Clip(l.fields), fields...),
	}
}

func (l *zeroLogger) Debug(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, l.zl.Debug(), msg, fields)
}

func (l *zeroLogger) Info(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, l.zl.Info(), msg, fields)
}

func (l *zeroLogger) Warn(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, l.zl.Warn(), msg, fields)
}

func (l *zeroLogger) Error(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, l.zl.Error(), msg, fields)
}

func (l *zeroLogger) log(ctx context.Context, e *zerolog.Event, msg string, fields []Field) {
	// Disabled levels return a nil event.
	if e == nil {
		return
	}

	if ctx != nil {
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			e.Str("trace_id", sc.TraceID().String()).
				Str("span_id", sc.SpanID().String())
		}
	}

	for _, f := range l.fields {
		appendField(e, f)
	}
	for _, f := range fields {
		appendField(e, f)
	}
	e.Msg(msg)
}

func appendField(e *zerolog.Event, f Field) {
	if isRedactedField(f.Key) {
		e.Str(f.Key, "[REDACTED]")
		return
	}
	switch v := f.Value.(type) {
	case nil:
	case string:
		e.Str(f.Key, v)
	case int:
		e.Int(f.Key, v)
	case int64:
		e.Int64(f.Key, v)
	case float64:
		e.Float64(f.Key, v)
	case bool:
		e.Bool(f.Key, v)
	case time.Duration:
		e.Dur(f.Key, v)
	case time.Time:
		e.Time(f.Key, v)
	case error:
		e.AnErr(f.Key, v)
	default:
		e.Interface(f.Key, v)
	}
}

func isRedactedField(key string) bool {
	return slices.Contains(RedactedFields, key)
}

type nopLogger struct{}

// NopLogger returns a logger that discards everything.
func NopLogger() Logger { return nopLogger{} }

func (nopLogger) Debug(context.Context, string, ...Field) {}
func (nopLogger) Info(context.Context, string, ...Field)  {}
func (nopLogger) Warn(context.Context, string, ...Field)  {}
func (nopLogger) Error(context.Context, string, ...Field) {}
func (l nopLogger) With(...Field) Logger                  { return l }
