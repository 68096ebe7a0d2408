// Package api exposes the task queue and remote executor over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/jonwraymond/storyjobs/health"
	"github.com/jonwraymond/storyjobs/observe"
	"github.com/jonwraymond/storyjobs/remote"
	"github.com/jonwraymond/storyjobs/taskqueue"
)

// MaxBodyBytes caps request bodies.
const MaxBodyBytes = 1 << 20

// Config wires a Server to its components.
type Config struct {
	Queue    *taskqueue.Queue
	Executor *remote.Executor
	Health   *health.Aggregator

	// Metrics serves /metrics when non-nil.
	Metrics http.Handler

	// Logger receives one line per request. Default: no-op
	Logger observe.Logger
}

// Server serves the storyjobs REST API.
type Server struct {
	queue    *taskqueue.Queue
	executor *remote.Executor
	health   *health.Aggregator
	metrics  http.Handler
	log      observe.Logger
}

// New creates a Server.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = observe.NopLogger()
	}
	if cfg.Health == nil {
		cfg.Health = health.NewAggregator()
	}
	return &Server{
		queue:    cfg.Queue,
		executor: cfg.Executor,
		health:   cfg.Health,
		metrics:  cfg.Metrics,
		log:      cfg.Logger,
	}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger(s.log))

	r.Get("/healthz", health.LivenessHandler())
	r.Get("/readyz", health.ReadinessHandler(s.health))
	r.Get("/health", health.DetailedHandler(s.health))
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(maxBodySize(MaxBodyBytes))

		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", s.submitTask)
			r.Get("/{id}", s.getTask)
			r.Delete("/{id}", s.cancelTask)
		})
		r.Get("/stats", s.queueStats)

		r.Route("/functions", func(r chi.Router) {
			r.Get("/", s.listFunctions)
			r.Get("/{name}", s.getFunction)
		})
		r.Route("/circuits", func(r chi.Router) {
			r.Get("/", s.listCircuits)
			r.Post("/{name}/reset", s.resetCircuit)
		})
		r.Get("/health/report", s.healthReport)
		r.Get("/health/{name}", s.healthCheck)
	})
	return r
}

// NewHTTPServer returns an http.Server for h with the service's timeouts.
func NewHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
