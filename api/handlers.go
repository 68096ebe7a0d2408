package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"

	"github.com/jonwraymond/storyjobs/health"
	"github.com/jonwraymond/storyjobs/observe"
	"github.com/jonwraymond/storyjobs/remote"
	"github.com/jonwraymond/storyjobs/resilience"
	"github.com/jonwraymond/storyjobs/taskqueue"
)

// SubmitTaskRequest is the JSON body for POST /tasks.
type SubmitTaskRequest struct {
	ID         string          `json:"id,omitempty"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Priority   int             `json:"priority,omitempty"`
	MaxRetries *int            `json:"max_retries,omitempty"`
	// Delay is a Go duration string such as "30s".
	Delay string `json:"delay,omitempty"`
}

// SubmitTaskResponse is the 202 response body.
type SubmitTaskResponse struct {
	ID     string           `json:"id"`
	Status taskqueue.Status `json:"status"`
}

// FunctionResponse is the GET /functions/{name} response body.
type FunctionResponse struct {
	Stats   remote.FunctionStats            `json:"stats"`
	Circuit *resilience.CircuitBreakerState `json:"circuit,omitempty"`
	Guards  *remote.GuardStats              `json:"guards,omitempty"`
	History []remote.RemoteCall             `json:"history"`
}

func (s *Server) submitTask(w http.ResponseWriter, r *http.Request) {
	var req SubmitTaskRequest
	if err := decodeBody(r, &req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Type) == "" {
		writeError(w, http.StatusBadRequest, "field 'type' is required")
		return
	}

	opts := []taskqueue.Option{taskqueue.Priority(req.Priority)}
	if req.ID != "" {
		opts = append(opts, taskqueue.TaskID(req.ID))
	}
	if req.MaxRetries != nil {
		opts = append(opts, taskqueue.MaxRetries(*req.MaxRetries))
	}
	if req.Delay != "" {
		d, err := time.ParseDuration(req.Delay)
		if err != nil || d < 0 {
			writeError(w, http.StatusBadRequest, "field 'delay' must be a non-negative duration")
			return
		}
		opts = append(opts, taskqueue.Delay(d))
	}

	var payload any
	if len(req.Payload) > 0 && string(req.Payload) != "null" {
		payload = req.Payload
	}

	id, err := s.queue.Add(req.Type, payload, opts...)
	switch {
	case err == nil:
	case errors.Is(err, taskqueue.ErrDuplicateTask):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, taskqueue.ErrQueueStopped):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case errors.Is(err, taskqueue.ErrInvalidType):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	default:
		s.log.Error(r.Context(), "failed to queue task", observe.String("type", req.Type), observe.Err(err))
		writeError(w, http.StatusInternalServerError, "failed to queue task")
		return
	}

	writeJSON(w, http.StatusAccepted, SubmitTaskResponse{ID: id, Status: taskqueue.StatusPending})
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	task, ok := s.queue.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) cancelTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.queue.Cancel(id) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	task, ok := s.queue.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeError(w, http.StatusConflict, "task is "+string(task.Status))
}

func (s *Server) queueStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.queue.Stats())
}

func (s *Server) listFunctions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.executor.AllStats())
}

func (s *Server) getFunction(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	st, ok := s.executor.Stats(name)
	if !ok {
		writeError(w, http.StatusNotFound, "function has no recorded calls")
		return
	}
	resp := FunctionResponse{Stats: st, History: s.executor.FunctionHistory(name)}
	if cb, ok := s.executor.CircuitStates()[name]; ok {
		resp.Circuit = &cb
	}
	if g, ok := s.executor.Guards(name); ok {
		resp.Guards = &g
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) listCircuits(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.executor.CircuitStates())
}

func (s *Server) resetCircuit(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !s.executor.ResetCircuit(name) {
		writeError(w, http.StatusNotFound, "no circuit breaker for function")
		return
	}
	s.log.Info(r.Context(), "circuit reset", observe.String("function", name))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) healthReport(w http.ResponseWriter, _ *http.Request) {
	report := s.executor.HealthReport()
	writeJSON(w, health.StatusCode(report.Status), report)
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	health.SingleCheckHandler(s.health, chi.URLParam(r, "name")).ServeHTTP(w, r)
}

func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	return sonic.Unmarshal(body, v)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	body, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
