package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonwraymond/storyjobs/health"
	"github.com/jonwraymond/storyjobs/remote"
	"github.com/jonwraymond/storyjobs/resilience"
	"github.com/jonwraymond/storyjobs/taskqueue"
)

var errUpstream = errors.New("upstream unavailable")

type fixture struct {
	srv      *httptest.Server
	queue    *taskqueue.Queue
	executor *remote.Executor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	q := taskqueue.New(taskqueue.Config{RetryBase: time.Millisecond})
	t.Cleanup(func() { _ = q.Stop(context.Background()) })
	require.NoError(t, q.RegisterHandler("echo", func(_ context.Context, task taskqueue.Task) (any, error) {
		return map[string]any{"echo": task.Payload}, nil
	}))

	ex := remote.NewExecutor(remote.TransportFunc(func(_ context.Context, fn string, _ any) ([]byte, error) {
		if fn == "broken" {
			return nil, errUpstream
		}
		return []byte(`{"ok":true}`), nil
	}), remote.Config{
		RetryDelays: []time.Duration{time.Millisecond},
		Breaker:     resilience.CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	})

	agg := health.NewAggregator()
	agg.Register(q.Checker())
	agg.Register(ex.Checker())

	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "# metrics\n")
	})

	s := New(Config{Queue: q, Executor: ex, Health: agg, Metrics: metrics})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	return &fixture{srv: srv, queue: q, executor: ex}
}

func (f *fixture) do(t *testing.T, method, path, body string) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, r)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func TestSubmitAndGetTask(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodPost, "/tasks", `{"type":"echo","payload":{"name":"Mila"},"priority":2}`)
	require.Equal(t, http.StatusAccepted, code, string(body))

	var submitted SubmitTaskResponse
	require.NoError(t, sonic.Unmarshal(body, &submitted))
	require.NotEmpty(t, submitted.ID)
	assert.Equal(t, taskqueue.StatusPending, submitted.Status)

	var task struct {
		ID       string         `json:"id"`
		Status   string         `json:"status"`
		Priority int            `json:"priority"`
		Progress int            `json:"progress"`
		Result   map[string]any `json:"result"`
	}
	require.Eventually(t, func() bool {
		code, body := f.do(t, http.MethodGet, "/tasks/"+submitted.ID, "")
		if code != http.StatusOK || sonic.Unmarshal(body, &task) != nil {
			return false
		}
		return task.Status == string(taskqueue.StatusCompleted)
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 2, task.Priority)
	assert.Equal(t, 100, task.Progress)
	assert.Equal(t, map[string]any{"name": "Mila"}, task.Result["echo"])
}

func TestSubmitTask_Validation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"malformed json", `{"type":`, http.StatusBadRequest},
		{"missing type", `{"payload":{}}`, http.StatusBadRequest},
		{"bad delay", `{"type":"echo","delay":"soon"}`, http.StatusBadRequest},
		{"negative delay", `{"type":"echo","delay":"-1s"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := f.do(t, http.MethodPost, "/tasks", tt.body)
			assert.Equal(t, tt.code, code, string(body))
		})
	}
}

func TestSubmitTask_BodyTooLarge(t *testing.T) {
	q := taskqueue.New(taskqueue.Config{})
	t.Cleanup(func() { _ = q.Stop(context.Background()) })
	h := New(Config{Queue: q}).Handler()

	body := `{"type":"echo","payload":"` + strings.Repeat("x", MaxBodyBytes) + `"}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/tasks", strings.NewReader(body)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestSubmitTask_DuplicateID(t *testing.T) {
	f := newFixture(t)

	body := `{"id":"story-1","type":"echo","delay":"1h"}`
	code, _ := f.do(t, http.MethodPost, "/tasks", body)
	require.Equal(t, http.StatusAccepted, code)

	code, _ = f.do(t, http.MethodPost, "/tasks", body)
	assert.Equal(t, http.StatusConflict, code)
}

func TestCancelTask(t *testing.T) {
	f := newFixture(t)

	id, err := f.queue.Add("echo", nil, taskqueue.Delay(time.Hour))
	require.NoError(t, err)

	code, _ := f.do(t, http.MethodDelete, "/tasks/"+id, "")
	assert.Equal(t, http.StatusNoContent, code)

	task, ok := f.queue.Get(id)
	require.True(t, ok)
	assert.Equal(t, taskqueue.StatusCancelled, task.Status)

	code, body := f.do(t, http.MethodDelete, "/tasks/"+id, "")
	assert.Equal(t, http.StatusConflict, code)
	assert.Contains(t, string(body), "cancelled")

	code, _ = f.do(t, http.MethodDelete, "/tasks/nope", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = f.do(t, http.MethodGet, "/tasks/nope", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestQueueStats(t *testing.T) {
	f := newFixture(t)

	_, err := f.queue.Add("echo", nil, taskqueue.Delay(time.Hour))
	require.NoError(t, err)

	code, body := f.do(t, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, code)

	var st taskqueue.Stats
	require.NoError(t, sonic.Unmarshal(body, &st))
	assert.Equal(t, int64(1), st.Total)
	assert.Equal(t, int64(1), st.Pending)
}

func TestFunctions(t *testing.T) {
	f := newFixture(t)

	_, err := f.executor.Execute(context.Background(), "generate-story", map[string]string{"theme": "space"})
	require.NoError(t, err)

	code, body := f.do(t, http.MethodGet, "/functions", "")
	require.Equal(t, http.StatusOK, code)
	var all map[string]remote.FunctionStats
	require.NoError(t, sonic.Unmarshal(body, &all))
	require.Contains(t, all, "generate-story")
	assert.Equal(t, int64(1), all["generate-story"].SuccessfulCalls)

	code, body = f.do(t, http.MethodGet, "/functions/generate-story", "")
	require.Equal(t, http.StatusOK, code)
	var fn struct {
		Stats   remote.FunctionStats `json:"stats"`
		Circuit map[string]any       `json:"circuit"`
		History []remote.RemoteCall  `json:"history"`
	}
	require.NoError(t, sonic.Unmarshal(body, &fn))
	assert.Equal(t, int64(1), fn.Stats.TotalCalls)
	assert.Equal(t, "closed", fn.Circuit["state"])
	require.Len(t, fn.History, 1)
	assert.True(t, fn.History[0].Success)

	code, _ = f.do(t, http.MethodGet, "/functions/unknown", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestCircuits(t *testing.T) {
	f := newFixture(t)

	_, err := f.executor.Execute(context.Background(), "broken", nil)
	require.Error(t, err)
	_, err = f.executor.Execute(context.Background(), "broken", nil)
	require.True(t, remote.IsCircuitOpen(err))

	code, body := f.do(t, http.MethodGet, "/circuits", "")
	require.Equal(t, http.StatusOK, code)
	var states map[string]map[string]any
	require.NoError(t, sonic.Unmarshal(body, &states))
	assert.Equal(t, "open", states["broken"]["state"])

	code, _ = f.do(t, http.MethodPost, "/circuits/broken/reset", "")
	assert.Equal(t, http.StatusNoContent, code)
	assert.True(t, f.executor.IsCallAllowed("broken"))

	code, _ = f.do(t, http.MethodPost, "/circuits/unknown/reset", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestHealthEndpoints(t *testing.T) {
	f := newFixture(t)

	code, _ := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, code)

	code, _ = f.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, code)

	code, body := f.do(t, http.MethodGet, "/health/report", "")
	require.Equal(t, http.StatusOK, code)
	var report remote.HealthReport
	require.NoError(t, sonic.Unmarshal(body, &report))
	assert.Zero(t, report.TotalFunctions)

	_, err := f.executor.Execute(context.Background(), "broken", nil)
	require.Error(t, err)

	code, body = f.do(t, http.MethodGet, "/health/report", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	require.NoError(t, sonic.Unmarshal(body, &report))
	assert.Equal(t, []string{"broken"}, report.Critical)

	code, _ = f.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	code, body = f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, string(body), `"remote"`)
	assert.Contains(t, string(body), `"taskqueue"`)
}

func TestMetrics(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "# metrics\n", string(body))
}

func TestSingleHealthCheck(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodGet, "/health/taskqueue", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), `"status":"healthy"`)

	code, _ = f.do(t, http.MethodGet, "/health/nope", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestFunction_ReportsGuards(t *testing.T) {
	q := taskqueue.New(taskqueue.Config{})
	t.Cleanup(func() { _ = q.Stop(context.Background()) })
	ex := remote.NewExecutor(remote.TransportFunc(func(context.Context, string, any) ([]byte, error) {
		return []byte(`{}`), nil
	}), remote.Config{MaxInFlight: 2})
	h := New(Config{Queue: q, Executor: ex}).Handler()

	_, err := ex.Execute(context.Background(), "text-to-speech", nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/functions/text-to-speech", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var fn FunctionResponse
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &fn))
	require.NotNil(t, fn.Guards)
	require.NotNil(t, fn.Guards.Bulkhead)
	assert.Equal(t, 2, fn.Guards.Bulkhead.MaxConcurrent)
	assert.Equal(t, 1, fn.Guards.Bulkhead.MaxActive)
}
