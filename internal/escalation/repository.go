package escalation

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates the requested task does not exist
var ErrNotFound = errors.New("escalation: task not found")

// TaskRepository persists escalation tasks
type TaskRepository interface {
	Create(ctx context.Context, task *Task) error
	FindByID(ctx context.Context, id string) (*Task, error)
	Update(ctx context.Context, task *Task) error
	ListOpen(ctx context.Context, limit int) ([]*Task, error)
	// ListOverdue returns OPEN/IN_PROGRESS tasks with sla_due_at before now.
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]*Task, error)
}
