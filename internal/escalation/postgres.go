package escalation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/carebridge/go-oce/internal/infrastructure/postgres"
	"github.com/carebridge/go-oce/internal/infrastructure/redpanda"
)

// PGTaskRepository is the pgx-backed task repository. Writes also append a
// task event to the transactional outbox in the same transaction.
type PGTaskRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPGTaskRepository creates a task repository
func NewPGTaskRepository(pool *pgxpool.Pool, logger *zap.Logger) *PGTaskRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PGTaskRepository{pool: pool, logger: logger}
}

const taskColumns = `id, episode_id, source_attempt_id, reason_codes, severity, priority, status,
	sla_due_at, assigned_to, assigned_at, outcome_code, resolution_notes, resolved_at,
	created_at, updated_at`

func scanTask(row pgx.Row) (*Task, error) {
	t := &Task{}
	err := row.Scan(
		&t.ID, &t.EpisodeID, &t.SourceAttemptID, &t.ReasonCodes, &t.Severity, &t.Priority, &t.Status,
		&t.SLADueAt, &t.AssignedTo, &t.AssignedAt, &t.OutcomeCode, &t.ResolutionNotes, &t.ResolvedAt,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}
	return t, nil
}

// taskEvent is the outbox payload for task lifecycle events
type taskEvent struct {
	TaskID          string    `json:"task_id"`
	EpisodeID       string    `json:"episode_id"`
	SourceAttemptID string    `json:"source_attempt_id"`
	Severity        string    `json:"severity"`
	Priority        string    `json:"priority"`
	Status          string    `json:"status"`
	ReasonCodes     []string  `json:"reason_codes"`
	SLADueAt        time.Time `json:"sla_due_at"`
}

func (r *PGTaskRepository) writeTaskEvent(ctx context.Context, tx pgx.Tx, task *Task, eventType string) error {
	payload, err := json.Marshal(taskEvent{
		TaskID:          task.ID,
		EpisodeID:       task.EpisodeID,
		SourceAttemptID: task.SourceAttemptID,
		Severity:        string(task.Severity),
		Priority:        string(task.Priority),
		Status:          string(task.Status),
		ReasonCodes:     task.ReasonCodes,
		SLADueAt:        task.SLADueAt,
	})
	if err != nil {
		return fmt.Errorf("marshal task event: %w", err)
	}
	return postgres.WriteEntry(ctx, tx, &postgres.OutboxEntry{
		AggregateID:   task.ID,
		AggregateType: "escalation_task",
		EventType:     eventType,
		Payload:       payload,
		KafkaTopic:    redpanda.TopicEscalationEvents,
		KafkaKey:      task.EpisodeID,
	})
}

// Create inserts a task and its creation event atomically
func (r *PGTaskRepository) Create(ctx context.Context, task *Task) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO escalation_tasks (` + taskColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err = tx.Exec(ctx, query,
		task.ID, task.EpisodeID, task.SourceAttemptID, task.ReasonCodes, task.Severity,
		task.Priority, task.Status, task.SLADueAt, task.AssignedTo, task.AssignedAt,
		task.OutcomeCode, task.ResolutionNotes, task.ResolvedAt, task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}

	if err := r.writeTaskEvent(ctx, tx, task, "task.created"); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// FindByID loads a task
func (r *PGTaskRepository) FindByID(ctx context.Context, id string) (*Task, error) {
	query := `SELECT ` + taskColumns + ` FROM escalation_tasks WHERE id = $1`
	return scanTask(r.pool.QueryRow(ctx, query, id))
}

// Update persists task state and its lifecycle event atomically
func (r *PGTaskRepository) Update(ctx context.Context, task *Task) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE escalation_tasks
		SET status = $1, assigned_to = $2, assigned_at = $3, outcome_code = $4,
		    resolution_notes = $5, resolved_at = $6, updated_at = $7
		WHERE id = $8
	`
	_, err = tx.Exec(ctx, query,
		task.Status, task.AssignedTo, task.AssignedAt, task.OutcomeCode,
		task.ResolutionNotes, task.ResolvedAt, task.UpdatedAt, task.ID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}

	if err := r.writeTaskEvent(ctx, tx, task, "task.updated"); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListOpen returns unassigned and in-progress tasks, most urgent first
func (r *PGTaskRepository) ListOpen(ctx context.Context, limit int) ([]*Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM escalation_tasks
		WHERE status IN ('OPEN', 'IN_PROGRESS')
		ORDER BY sla_due_at ASC
		LIMIT $1
	`
	return r.queryTasks(ctx, query, limit)
}

// ListOverdue returns open tasks past their SLA deadline
func (r *PGTaskRepository) ListOverdue(ctx context.Context, now time.Time, limit int) ([]*Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM escalation_tasks
		WHERE status IN ('OPEN', 'IN_PROGRESS')
		  AND sla_due_at < $1
		ORDER BY sla_due_at ASC
		LIMIT $2
	`
	return r.queryTasks(ctx, query, now, limit)
}

func (r *PGTaskRepository) queryTasks(ctx context.Context, query string, args ...any) ([]*Task, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
