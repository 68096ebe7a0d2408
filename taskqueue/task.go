package taskqueue

import (
	"context"
	"time"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Task is a point-in-time copy of a queued work item.
type Task struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Payload     any       `json:"payload,omitempty"`
	Priority    int       `json:"priority"`
	Retries     int       `json:"retries"`
	MaxRetries  int       `json:"max_retries"`
	Status      Status    `json:"status"`
	Progress    int       `json:"progress"`
	CreatedAt   time.Time `json:"created_at"`
	ScheduledAt time.Time `json:"scheduled_at,omitzero"`
	StartedAt   time.Time `json:"started_at,omitzero"`
	FinishedAt  time.Time `json:"finished_at,omitzero"`
	Result      any       `json:"result,omitempty"`
	Error       string    `json:"error,omitempty"`

	// Err is the handler error behind Error.
	Err error `json:"-"`
}

// Handler performs the work for one task type. The returned value is stored
// as the task result on success.
type Handler func(ctx context.Context, task Task) (any, error)
