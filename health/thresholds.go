package health

import (
	"fmt"
	"time"
)

// Thresholds are the error-rate and latency limits used to classify a remote
// function. Error rates are percentages in [0, 100].
type Thresholds struct {
	// WarningErrorRate is exceeded for StatusWarning. Default: 10
	WarningErrorRate float64 `mapstructure:"warning_error_rate" json:"warning_error_rate"`

	// CriticalErrorRate is exceeded for StatusCritical. Default: 25
	CriticalErrorRate float64 `mapstructure:"critical_error_rate" json:"critical_error_rate"`

	// WarningLatency is exceeded for StatusWarning. Default: 10s
	WarningLatency time.Duration `mapstructure:"warning_latency" json:"warning_latency"`

	// CriticalLatency is exceeded for StatusCritical. Default: 20s
	CriticalLatency time.Duration `mapstructure:"critical_latency" json:"critical_latency"`
}

// DefaultThresholds returns the stock classification limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		WarningErrorRate:  10,
		CriticalErrorRate: 25,
		WarningLatency:    10 * time.Second,
		CriticalLatency:   20 * time.Second,
	}
}

// WithDefaults fills zero fields from DefaultThresholds.
func (t Thresholds) WithDefaults() Thresholds {
	d := DefaultThresholds()
	if t.WarningErrorRate <= 0 {
		t.WarningErrorRate = d.WarningErrorRate
	}
	if t.CriticalErrorRate <= 0 {
		t.CriticalErrorRate = d.CriticalErrorRate
	}
	if t.WarningLatency <= 0 {
		t.WarningLatency = d.WarningLatency
	}
	if t.CriticalLatency <= 0 {
		t.CriticalLatency = d.CriticalLatency
	}
	return t
}

// Validate reports inconsistent limits.
func (t Thresholds) Validate() error {
	if t.WarningErrorRate < 0 || t.CriticalErrorRate > 100 {
		return fmt.Errorf("%w: error rates must be within 0..100", ErrInvalidThresholds)
	}
	if t.CriticalErrorRate < t.WarningErrorRate {
		return fmt.Errorf("%w: critical error rate %.1f below warning %.1f",
			ErrInvalidThresholds, t.CriticalErrorRate, t.WarningErrorRate)
	}
	if t.CriticalLatency < t.WarningLatency {
		return fmt.Errorf("%w: critical latency %v below warning %v",
			ErrInvalidThresholds, t.CriticalLatency, t.WarningLatency)
	}
	return nil
}

// IsHealthy reports whether both error rate and mean latency are under the
// warning limits.
func (t Thresholds) IsHealthy(errorRate float64, avg time.Duration) bool {
	return errorRate < t.WarningErrorRate && avg < t.WarningLatency
}

// Classify buckets a function by its error rate and mean latency.
func (t Thresholds) Classify(errorRate float64, avg time.Duration) Status {
	switch {
	case errorRate > t.CriticalErrorRate || avg > t.CriticalLatency:
		return StatusCritical
	case errorRate > t.WarningErrorRate || avg > t.WarningLatency:
		return StatusWarning
	default:
		return StatusHealthy
	}
}
