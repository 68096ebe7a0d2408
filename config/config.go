// Package config loads storyjobs settings from YAML files, environment and
// flags, and converts them into component configurations.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jonwraymond/storyjobs/health"
	"github.com/jonwraymond/storyjobs/observe"
	"github.com/jonwraymond/storyjobs/remote"
	"github.com/jonwraymond/storyjobs/resilience"
	"github.com/jonwraymond/storyjobs/taskqueue"
)

// EnvPrefix prefixes environment overrides, e.g. STORYJOBS_QUEUE_MAX_CONCURRENT.
const EnvPrefix = "STORYJOBS"

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("config: invalid")

// Config holds typed configuration for the storyjobs service.
type Config struct {
	HTTP      HTTPConfig        `mapstructure:"http"`
	Queue     QueueConfig       `mapstructure:"queue"`
	Remote    RemoteConfig      `mapstructure:"remote"`
	Health    health.Thresholds `mapstructure:"health"`
	Observe   observe.Config    `mapstructure:"observe"`
	Endpoints map[string]string `mapstructure:"endpoints"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// QueueConfig configures the task queue.
type QueueConfig struct {
	MaxConcurrent    int           `mapstructure:"max_concurrent"`
	RetryBase        time.Duration `mapstructure:"retry_base"`
	FinishedCapacity int           `mapstructure:"finished_capacity"`
	Retention        time.Duration `mapstructure:"retention"`
	ProgressInterval time.Duration `mapstructure:"progress_interval"`
	ThroughputWindow time.Duration `mapstructure:"throughput_window"`
}

// RemoteConfig configures the remote call executor.
type RemoteConfig struct {
	Timeout          time.Duration   `mapstructure:"timeout"`
	MaxRetries       int             `mapstructure:"max_retries"`
	RetryDelays      []time.Duration `mapstructure:"retry_delays"`
	Jitter           bool            `mapstructure:"jitter"`
	HistoryCapacity  int             `mapstructure:"history_capacity"`
	BreakerThreshold int             `mapstructure:"breaker_threshold"`
	BreakerTimeout   time.Duration   `mapstructure:"breaker_timeout"`
	RateLimit        float64         `mapstructure:"rate_limit"`
	Burst            int             `mapstructure:"burst"`
	MaxInFlight      int             `mapstructure:"max_in_flight"`
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ShutdownTimeout: 15 * time.Second,
		},
		Queue: QueueConfig{
			MaxConcurrent:    3,
			RetryBase:        time.Second,
			FinishedCapacity: 1000,
			Retention:        time.Hour,
			ThroughputWindow: time.Minute,
		},
		Remote: RemoteConfig{
			Timeout:          30 * time.Second,
			MaxRetries:       3,
			RetryDelays:      append([]time.Duration(nil), resilience.DefaultSchedule...),
			HistoryCapacity:  1000,
			BreakerThreshold: 5,
			BreakerTimeout:   60 * time.Second,
			Burst:            1,
		},
		Health: health.DefaultThresholds(),
		Observe: observe.Config{
			ServiceName: "storyjobs",
			Tracing:     observe.TracingConfig{Exporter: "none", SamplePct: 1.0},
			Metrics:     observe.MetricsConfig{Enabled: true, Exporter: "prometheus"},
			Logging:     observe.LoggingConfig{Enabled: true, Level: "info", Format: "json"},
		},
		Endpoints: map[string]string{},
	}
}

// SetDefaults registers every default with v so environment overrides are
// visible to Unmarshal.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("http.addr", d.HTTP.Addr)
	v.SetDefault("http.shutdown_timeout", d.HTTP.ShutdownTimeout)

	v.SetDefault("queue.max_concurrent", d.Queue.MaxConcurrent)
	v.SetDefault("queue.retry_base", d.Queue.RetryBase)
	v.SetDefault("queue.finished_capacity", d.Queue.FinishedCapacity)
	v.SetDefault("queue.retention", d.Queue.Retention)
	v.SetDefault("queue.progress_interval", d.Queue.ProgressInterval)
	v.SetDefault("queue.throughput_window", d.Queue.ThroughputWindow)

	v.SetDefault("remote.timeout", d.Remote.Timeout)
	v.SetDefault("remote.max_retries", d.Remote.MaxRetries)
	v.SetDefault("remote.retry_delays", d.Remote.RetryDelays)
	v.SetDefault("remote.jitter", d.Remote.Jitter)
	v.SetDefault("remote.history_capacity", d.Remote.HistoryCapacity)
	v.SetDefault("remote.breaker_threshold", d.Remote.BreakerThreshold)
	v.SetDefault("remote.breaker_timeout", d.Remote.BreakerTimeout)
	v.SetDefault("remote.rate_limit", d.Remote.RateLimit)
	v.SetDefault("remote.burst", d.Remote.Burst)
	v.SetDefault("remote.max_in_flight", d.Remote.MaxInFlight)

	v.SetDefault("health.warning_error_rate", d.Health.WarningErrorRate)
	v.SetDefault("health.critical_error_rate", d.Health.CriticalErrorRate)
	v.SetDefault("health.warning_latency", d.Health.WarningLatency)
	v.SetDefault("health.critical_latency", d.Health.CriticalLatency)

	v.SetDefault("observe.service_name", d.Observe.ServiceName)
	v.SetDefault("observe.version", d.Observe.Version)
	v.SetDefault("observe.tracing.enabled", d.Observe.Tracing.Enabled)
	v.SetDefault("observe.tracing.exporter", d.Observe.Tracing.Exporter)
	v.SetDefault("observe.tracing.endpoint", d.Observe.Tracing.Endpoint)
	v.SetDefault("observe.tracing.insecure", d.Observe.Tracing.Insecure)
	v.SetDefault("observe.tracing.sample_pct", d.Observe.Tracing.SamplePct)
	v.SetDefault("observe.metrics.enabled", d.Observe.Metrics.Enabled)
	v.SetDefault("observe.metrics.exporter", d.Observe.Metrics.Exporter)
	v.SetDefault("observe.metrics.endpoint", d.Observe.Metrics.Endpoint)
	v.SetDefault("observe.metrics.insecure", d.Observe.Metrics.Insecure)
	v.SetDefault("observe.logging.enabled", d.Observe.Logging.Enabled)
	v.SetDefault("observe.logging.level", d.Observe.Logging.Level)
	v.SetDefault("observe.logging.format", d.Observe.Logging.Format)

	v.SetDefault("endpoints", d.Endpoints)
}

// BindEnv enables STORYJOBS_* environment overrides on v.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads configuration from v, which should already have any config
// file read in, expands ${VAR} references in endpoint URLs and validates it.
func Load(v *viper.Viper) (Config, error) {
	SetDefaults(v)

	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	if cfg.Endpoints == nil {
		cfg.Endpoints = map[string]string{}
	}
	if err := expandEndpoints(cfg.Endpoints); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values no component can run with.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
		}
	}

	check(c.HTTP.Addr != "", "http.addr is empty")
	check(c.HTTP.ShutdownTimeout > 0, "http.shutdown_timeout must be positive")

	check(c.Queue.MaxConcurrent >= 1, "queue.max_concurrent must be at least 1, got %d", c.Queue.MaxConcurrent)
	check(c.Queue.RetryBase > 0, "queue.retry_base must be positive")
	check(c.Queue.FinishedCapacity >= 1, "queue.finished_capacity must be at least 1")
	check(c.Queue.ProgressInterval >= 0, "queue.progress_interval must not be negative")

	check(c.Remote.Timeout > 0, "remote.timeout must be positive")
	check(c.Remote.MaxRetries >= 0, "remote.max_retries must not be negative")
	check(len(c.Remote.RetryDelays) > 0, "remote.retry_delays is empty")
	for i, d := range c.Remote.RetryDelays {
		check(d >= 0, "remote.retry_delays[%d] is negative", i)
	}
	check(c.Remote.HistoryCapacity >= 1, "remote.history_capacity must be at least 1")
	check(c.Remote.BreakerThreshold >= 1, "remote.breaker_threshold must be at least 1")
	check(c.Remote.BreakerTimeout > 0, "remote.breaker_timeout must be positive")
	check(c.Remote.RateLimit >= 0, "remote.rate_limit must not be negative")
	check(c.Remote.MaxInFlight >= 0, "remote.max_in_flight must not be negative")

	for name, raw := range c.Endpoints {
		u, err := url.Parse(raw)
		check(err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "",
			"endpoints.%s: %q is not an http(s) URL", name, raw)
	}

	if err := c.Health.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Observe.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// TaskQueue converts the queue section into a taskqueue.Config.
func (c Config) TaskQueue(mw *observe.Middleware) taskqueue.Config {
	return taskqueue.Config{
		MaxConcurrent:    c.Queue.MaxConcurrent,
		RetryBase:        c.Queue.RetryBase,
		FinishedCapacity: c.Queue.FinishedCapacity,
		Retention:        c.Queue.Retention,
		ProgressInterval: c.Queue.ProgressInterval,
		ThroughputWindow: c.Queue.ThroughputWindow,
		Middleware:       mw,
	}
}

// Executor converts the remote and health sections into a remote.Config.
func (c Config) Executor(mw *observe.Middleware) remote.Config {
	return remote.Config{
		Timeout:         c.Remote.Timeout,
		MaxRetries:      c.Remote.MaxRetries,
		RetryDelays:     c.Remote.RetryDelays,
		Jitter:          c.Remote.Jitter,
		HistoryCapacity: c.Remote.HistoryCapacity,
		Breaker: resilience.CircuitBreakerConfig{
			MaxFailures:  c.Remote.BreakerThreshold,
			ResetTimeout: c.Remote.BreakerTimeout,
		},
		RateLimit:   c.Remote.RateLimit,
		RateBurst:   c.Remote.Burst,
		MaxInFlight: c.Remote.MaxInFlight,
		Thresholds:  c.Health,
		Middleware:  mw,
	}
}
