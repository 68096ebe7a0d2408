package remote

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/jonwraymond/storyjobs/health"
)

// HealthReport buckets every tracked function by health status.
type HealthReport struct {
	Status         health.Status            `json:"status"`
	Healthy        []string                 `json:"healthy"`
	Warning        []string                 `json:"warning"`
	Critical       []string                 `json:"critical"`
	TotalFunctions int                      `json:"total_functions"`
	Functions      map[string]FunctionStats `json:"functions"`
	Thresholds     health.Thresholds        `json:"thresholds"`
	GeneratedAt    time.Time                `json:"generated_at"`
}

// HealthReport classifies every function seen so far. Bucket lists are
// sorted by name.
func (e *Executor) HealthReport() HealthReport {
	all := e.AllStats()

	report := HealthReport{
		Healthy:        []string{},
		Warning:        []string{},
		Critical:       []string{},
		TotalFunctions: len(all),
		Functions:      all,
		Thresholds:     e.config.Thresholds,
		GeneratedAt:    e.now(),
	}
	for name, st := range all {
		switch st.Status {
		case health.StatusCritical:
			report.Critical = append(report.Critical, name)
		case health.StatusWarning:
			report.Warning = append(report.Warning, name)
		default:
			report.Healthy = append(report.Healthy, name)
		}
		report.Status = report.Status.Worse(st.Status)
	}
	slices.Sort(report.Healthy)
	slices.Sort(report.Warning)
	slices.Sort(report.Critical)
	return report
}

// Checker exposes the health report as a health.Checker named "remote".
func (e *Executor) Checker() health.Checker {
	return health.NewCheckerFunc("remote", func(context.Context) health.Result {
		report := e.HealthReport()
		details := map[string]any{
			"healthy":  report.Healthy,
			"warning":  report.Warning,
			"critical": report.Critical,
		}

		switch report.Status {
		case health.StatusCritical:
			return health.Critical(fmt.Sprintf("critical functions: %v", report.Critical), nil).WithDetails(details)
		case health.StatusWarning:
			return health.Warning(fmt.Sprintf("degraded functions: %v", report.Warning)).WithDetails(details)
		default:
			return health.Healthy(fmt.Sprintf("%d functions healthy", report.TotalFunctions)).WithDetails(details)
		}
	})
}
