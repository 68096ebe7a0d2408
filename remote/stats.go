package remote

import (
	"sync"
	"time"

	"github.com/jonwraymond/storyjobs/health"
)

// FunctionStats is the rolling aggregate for one remote function.
type FunctionStats struct {
	Name            string        `json:"name"`
	TotalCalls      int64         `json:"total_calls"`
	SuccessfulCalls int64         `json:"successful_calls"`
	FailedCalls     int64         `json:"failed_calls"`
	AverageDuration time.Duration `json:"average_duration"`
	ErrorRate       float64       `json:"error_rate"`
	LastCall        time.Time     `json:"last_call"`
	IsHealthy       bool          `json:"is_healthy"`
	Status          health.Status `json:"status"`
}

type functionStats struct {
	mu        sync.Mutex
	total     int64
	succeeded int64
	failed    int64
	meanNanos float64
	lastCall  time.Time
}

// statsStore keeps one independently locked aggregate per function, so
// concurrent calls to different functions never contend.
type statsStore struct {
	funcs sync.Map // string -> *functionStats
}

func (s *statsStore) get(name string) *functionStats {
	if v, ok := s.funcs.Load(name); ok {
		return v.(*functionStats)
	}
	v, _ := s.funcs.LoadOrStore(name, &functionStats{})
	return v.(*functionStats)
}

// record folds one finished call into its function's aggregate.
func (s *statsStore) record(c RemoteCall) {
	fs := s.get(c.Function)

	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.total++
	if c.Success {
		fs.succeeded++
	} else {
		fs.failed++
	}
	fs.meanNanos += (float64(c.Duration) - fs.meanNanos) / float64(fs.total)
	fs.lastCall = c.EndTime
}

func (s *statsStore) snapshot(name string, th health.Thresholds) (FunctionStats, bool) {
	v, ok := s.funcs.Load(name)
	if !ok {
		return FunctionStats{}, false
	}
	fs := v.(*functionStats)

	fs.mu.Lock()
	defer fs.mu.Unlock()

	out := FunctionStats{
		Name:            name,
		TotalCalls:      fs.total,
		SuccessfulCalls: fs.succeeded,
		FailedCalls:     fs.failed,
		AverageDuration: time.Duration(fs.meanNanos),
		LastCall:        fs.lastCall,
	}
	if fs.total > 0 {
		out.ErrorRate = float64(fs.failed) / float64(fs.total) * 100
	}
	out.IsHealthy = th.IsHealthy(out.ErrorRate, out.AverageDuration)
	out.Status = th.Classify(out.ErrorRate, out.AverageDuration)
	return out, true
}

func (s *statsStore) names() []string {
	var names []string
	s.funcs.Range(func(k, _ any) bool {
		names = append(names, k.(string))
		return true
	})
	return names
}
