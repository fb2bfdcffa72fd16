package escalation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/carebridge/go-oce/internal/observability/metrics"
	"github.com/carebridge/go-oce/internal/triage"
)

// Manager creates, assigns and resolves escalation tasks
type Manager struct {
	repo    TaskRepository
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewManager creates a task manager. Metrics may be nil.
func NewManager(repo TaskRepository, m *metrics.Metrics, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{repo: repo, metrics: m, logger: logger}
}

// Create raises an open task for a triage match. Callers only invoke this
// when the triggered rule list is non-empty.
func (m *Manager) Create(ctx context.Context, episodeID, attemptID string, reasonCodes []string, severity triage.Severity) (*Task, error) {
	if len(reasonCodes) == 0 {
		return nil, fmt.Errorf("create task: no reason codes")
	}

	task := NewTask(uuid.New().String(), episodeID, attemptID, reasonCodes, severity, time.Now().UTC())
	if err := m.repo.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	m.logger.Info("escalation task created",
		zap.String("task_id", task.ID),
		zap.String("episode_id", episodeID),
		zap.String("severity", string(severity)),
		zap.String("priority", string(task.Priority)),
		zap.Time("sla_due_at", task.SLADueAt),
		zap.Strings("reason_codes", reasonCodes))

	if m.metrics != nil {
		m.metrics.TasksCreated.WithLabelValues(string(severity)).Inc()
	}
	return task, nil
}

// Assign claims an open task for a user
func (m *Manager) Assign(ctx context.Context, taskID, userID string) (*Task, error) {
	task, err := m.repo.FindByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := task.Assign(userID, time.Now().UTC()); err != nil {
		return nil, err
	}
	if err := m.repo.Update(ctx, task); err != nil {
		return nil, fmt.Errorf("assign task: %w", err)
	}
	m.logger.Info("escalation task assigned",
		zap.String("task_id", taskID),
		zap.String("user_id", userID))
	return task, nil
}

// Resolve closes a task with an outcome code and notes
func (m *Manager) Resolve(ctx context.Context, taskID, outcomeCode, notes string) (*Task, error) {
	task, err := m.repo.FindByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := task.Resolve(outcomeCode, notes, time.Now().UTC()); err != nil {
		return nil, err
	}
	if err := m.repo.Update(ctx, task); err != nil {
		return nil, fmt.Errorf("resolve task: %w", err)
	}
	m.logger.Info("escalation task resolved",
		zap.String("task_id", taskID),
		zap.String("outcome", outcomeCode))
	if m.metrics != nil {
		m.metrics.TasksResolved.Inc()
	}
	return task, nil
}

// ExpireOverdue marks unresolved tasks past their SLA deadline as EXPIRED.
// Expired tasks stay visible for human follow-up; nothing is auto-resolved.
func (m *Manager) ExpireOverdue(ctx context.Context, now time.Time) (int, error) {
	overdue, err := m.repo.ListOverdue(ctx, now, 500)
	if err != nil {
		return 0, fmt.Errorf("list overdue tasks: %w", err)
	}

	expired := 0
	for _, task := range overdue {
		if err := task.Expire(now); err != nil {
			continue
		}
		if err := m.repo.Update(ctx, task); err != nil {
			m.logger.Error("failed to expire task",
				zap.String("task_id", task.ID),
				zap.Error(err))
			continue
		}
		m.logger.Warn("escalation task expired past SLA",
			zap.String("task_id", task.ID),
			zap.String("severity", string(task.Severity)),
			zap.Time("sla_due_at", task.SLADueAt))
		if m.metrics != nil {
			m.metrics.TasksExpired.Inc()
		}
		expired++
	}
	return expired, nil
}
