package observe

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := sonic.UnmarshalString(line, &entry); err != nil {
			t.Fatalf("failed to parse log output as JSON: %v\nOutput: %s", err, line)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestLogger_StructuredFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", "json", &buf).With(String("component", "taskqueue"))

	logger.Info(context.Background(), "task completed",
		String("task_id", "t-1"),
		Int("retries", 2),
		Duration("elapsed", 1500*time.Millisecond),
		Err(errors.New("ignored")),
		Err(nil),
	)

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]

	if e["level"] != "info" || e["message"] != "task completed" {
		t.Errorf("level/message = %v/%v", e["level"], e["message"])
	}
	if e["component"] != "taskqueue" || e["task_id"] != "t-1" {
		t.Errorf("string fields missing: %v", e)
	}
	if e["retries"] != float64(2) {
		t.Errorf("retries = %v, want 2", e["retries"])
	}
	if e["elapsed"] != float64(1500) {
		t.Errorf("elapsed = %v, want 1500 (ms)", e["elapsed"])
	}
	if e["error"] != "ignored" {
		t.Errorf("error = %v, want 'ignored'", e["error"])
	}
	if _, ok := e["time"]; !ok {
		t.Error("expected a timestamp")
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	tests := []struct {
		level string
		want  []string
	}{
		{"debug", []string{"debug", "info", "warn", "error"}},
		{"info", []string{"info", "warn", "error"}},
		{"warn", []string{"warn", "error"}},
		{"error", []string{"error"}},
		{"bogus", []string{"info", "warn", "error"}},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLoggerWithWriter(tt.level, "json", &buf)
			ctx := context.Background()

			logger.Debug(ctx, "d")
			logger.Info(ctx, "i")
			logger.Warn(ctx, "w")
			logger.Error(ctx, "e")

			entries := decodeLines(t, &buf)
			if len(entries) != len(tt.want) {
				t.Fatalf("got %d entries, want %d", len(entries), len(tt.want))
			}
			for i, e := range entries {
				if e["level"] != tt.want[i] {
					t.Errorf("entry %d level = %v, want %v", i, e["level"], tt.want[i])
				}
			}
		})
	}
}

func TestLogger_Redaction(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("debug", "json", &buf)

	logger.Info(context.Background(), "submitting",
		Any("payload", map[string]any{"childName": "Mia"}),
		String("api_key", "sk-123"),
		String("authorization", "Bearer x"),
		String("type", "story.generate"),
	)

	e := decodeLines(t, &buf)[0]
	for _, key := range []string{"payload", "api_key", "authorization"} {
		if e[key] != "[REDACTED]" {
			t.Errorf("%s = %v, want [REDACTED]", key, e[key])
		}
	}
	if e["type"] != "story.generate" {
		t.Errorf("type = %v, want story.generate", e["type"])
	}
	if strings.Contains(buf.String(), "Mia") {
		t.Error("payload content leaked into logs")
	}
}

func TestLogger_WithDoesNotShareFields(t *testing.T) {
	var buf bytes.Buffer
	base := NewLoggerWithWriter("info", "json", &buf).With(String("a", "1"))

	left := base.With(String("side", "left"))
	right := base.With(String("side", "right"))

	left.Info(context.Background(), "l")
	right.Info(context.Background(), "r")

	entries := decodeLines(t, &buf)
	if entries[0]["side"] != "left" || entries[1]["side"] != "right" {
		t.Errorf("derived loggers leaked fields: %v", entries)
	}
}

func TestLogger_TraceCorrelation(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", "json", &buf)

	tp := sdktrace.NewTracerProvider()
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	logger.Info(ctx, "inside span")

	e := decodeLines(t, &buf)[0]
	if e["trace_id"] != span.SpanContext().TraceID().String() {
		t.Errorf("trace_id = %v, want %s", e["trace_id"], span.SpanContext().TraceID())
	}
	if e["span_id"] == nil {
		t.Error("expected span_id")
	}
}

func TestLogger_ConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", "console", &buf)

	logger.Warn(context.Background(), "circuit opened", String("function", "generate-story"))

	out := buf.String()
	if !strings.Contains(out, "circuit opened") || !strings.Contains(out, "function=") {
		t.Errorf("console output = %q", out)
	}
}

func TestNopLogger(t *testing.T) {
	l := NopLogger()
	l.Info(context.Background(), "discarded", String("k", "v"))
	if l.With(String("k", "v")) == nil {
		t.Fatal("With should return non-nil logger")
	}
}
