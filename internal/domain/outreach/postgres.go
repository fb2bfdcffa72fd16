package outreach

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

// PGPlanRepository is the pgx-backed plan repository. Status changes also
// append a plan event to the transactional outbox in the same transaction.
type PGPlanRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPGPlanRepository creates a plan repository
func NewPGPlanRepository(pool *pgxpool.Pool, logger *zap.Logger) *PGPlanRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PGPlanRepository{pool: pool, logger: logger}
}

const planColumns = `id, episode_id, patient_id, patient_contact, condition_code, language,
	preferred_channel, fallback_channel, window_start, window_end, max_attempts,
	active_hour_start, active_hour_end, timezone, status, created_at, updated_at`

func scanPlan(row pgx.Row) (*Plan, error) {
	p := &Plan{}
	err := row.Scan(
		&p.ID, &p.EpisodeID, &p.PatientID, &p.PatientContact, &p.Condition, &p.Language,
		&p.PreferredChannel, &p.FallbackChannel, &p.WindowStart, &p.WindowEnd, &p.MaxAttempts,
		&p.ActiveHourStart, &p.ActiveHourEnd, &p.Timezone, &p.Status, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan plan: %w", err)
	}
	return p, nil
}

// planEvent is the outbox payload for plan lifecycle events
type planEvent struct {
	PlanID    string    `json:"plan_id"`
	EpisodeID string    `json:"episode_id"`
	PatientID string    `json:"patient_id"`
	Condition string    `json:"condition"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

func writePlanEvent(ctx context.Context, tx pgx.Tx, plan *Plan, eventType string) error {
	payload, err := json.Marshal(planEvent{
		PlanID:    plan.ID,
		EpisodeID: plan.EpisodeID,
		PatientID: plan.PatientID,
		Condition: plan.Condition,
		Status:    string(plan.Status),
		UpdatedAt: plan.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal plan event: %w", err)
	}
	return postgres.WriteEntry(ctx, tx, &postgres.OutboxEntry{
		AggregateID:   plan.ID,
		AggregateType: "outreach_plan",
		EventType:     eventType,
		Payload:       payload,
		KafkaTopic:    redpanda.TopicOutreachEvents,
		KafkaKey:      plan.EpisodeID,
	})
}

// Create inserts a plan and its creation event atomically. The partial
// unique index on (episode_id) for non-terminal statuses enforces one
// active plan per episode.
func (r *PGPlanRepository) Create(ctx context.Context, plan *Plan) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO outreach_plans (` + planColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`
	_, err = tx.Exec(ctx, query,
		plan.ID, plan.EpisodeID, plan.PatientID, plan.PatientContact, plan.Condition, plan.Language,
		plan.PreferredChannel, plan.FallbackChannel, plan.WindowStart, plan.WindowEnd, plan.MaxAttempts,
		plan.ActiveHourStart, plan.ActiveHourEnd, plan.Timezone, plan.Status, plan.CreatedAt, plan.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert plan: %w", err)
	}

	if err := writePlanEvent(ctx, tx, plan, "plan.created"); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// FindByID loads a plan
func (r *PGPlanRepository) FindByID(ctx context.Context, id string) (*Plan, error) {
	query := `SELECT ` + planColumns + ` FROM outreach_plans WHERE id = $1`
	return scanPlan(r.pool.QueryRow(ctx, query, id))
}

// Update persists the plan status and its lifecycle event atomically
func (r *PGPlanRepository) Update(ctx context.Context, plan *Plan) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE outreach_plans
		SET status = $1, updated_at = $2
		WHERE id = $3
	`
	_, err = tx.Exec(ctx, query, plan.Status, plan.UpdatedAt, plan.ID)
	if err != nil {
		return fmt.Errorf("update plan: %w", err)
	}

	if err := writePlanEvent(ctx, tx, plan, "plan.updated"); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListDue returns plans whose contact window contains now
func (r *PGPlanRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*Plan, error) {
	query := `
		SELECT ` + planColumns + `
		FROM outreach_plans
		WHERE status IN ('PENDING', 'SCHEDULED')
		  AND window_start <= $1
		  AND window_end >= $1
		ORDER BY window_start ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query due plans: %w", err)
	}
	defer rows.Close()

	var plans []*Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

// PGAttemptRepository is the pgx-backed attempt repository
type PGAttemptRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPGAttemptRepository creates an attempt repository
func NewPGAttemptRepository(pool *pgxpool.Pool, logger *zap.Logger) *PGAttemptRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PGAttemptRepository{pool: pool, logger: logger}
}

const attemptColumns = `id, plan_id, attempt_number, channel, status, connected,
	scheduled_at, started_at, completed_at, created_at`

func scanAttempt(row pgx.Row) (*Attempt, error) {
	a := &Attempt{}
	err := row.Scan(
		&a.ID, &a.PlanID, &a.AttemptNumber, &a.Channel, &a.Status, &a.Connected,
		&a.ScheduledAt, &a.StartedAt, &a.CompletedAt, &a.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan attempt: %w", err)
	}
	return a, nil
}

// Create inserts an attempt. The unique constraint on
// (plan_id, attempt_number) backstops the per-plan serialization.
func (r *PGAttemptRepository) Create(ctx context.Context, attempt *Attempt) error {
	query := `
		INSERT INTO outreach_attempts (` + attemptColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.pool.Exec(ctx, query,
		attempt.ID, attempt.PlanID, attempt.AttemptNumber, attempt.Channel, attempt.Status,
		attempt.Connected, attempt.ScheduledAt, attempt.StartedAt, attempt.CompletedAt, attempt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

// FindByID loads an attempt
func (r *PGAttemptRepository) FindByID(ctx context.Context, id string) (*Attempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM outreach_attempts WHERE id = $1`
	return scanAttempt(r.pool.QueryRow(ctx, query, id))
}

// Update persists attempt status and timestamps
func (r *PGAttemptRepository) Update(ctx context.Context, attempt *Attempt) error {
	query := `
		UPDATE outreach_attempts
		SET status = $1, connected = $2, started_at = $3, completed_at = $4
		WHERE id = $5
	`
	_, err := r.pool.Exec(ctx, query,
		attempt.Status, attempt.Connected, attempt.StartedAt, attempt.CompletedAt, attempt.ID,
	)
	if err != nil {
		return fmt.Errorf("update attempt: %w", err)
	}
	return nil
}

// ListByPlan returns a plan's attempts in attempt order
func (r *PGAttemptRepository) ListByPlan(ctx context.Context, planID string) ([]*Attempt, error) {
	query := `
		SELECT ` + attemptColumns + `
		FROM outreach_attempts
		WHERE plan_id = $1
		ORDER BY attempt_number ASC
	`
	rows, err := r.pool.Query(ctx, query, planID)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// ListOverdueScheduled returns scheduled attempts past their scheduled time
func (r *PGAttemptRepository) ListOverdueScheduled(ctx context.Context, now time.Time, limit int) ([]*Attempt, error) {
	query := `
		SELECT ` + attemptColumns + `
		FROM outreach_attempts
		WHERE status = 'SCHEDULED'
		  AND scheduled_at <= $1
		ORDER BY scheduled_at ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query overdue attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// PGResponseRepository is the pgx-backed response repository
type PGResponseRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPGResponseRepository creates a response repository
func NewPGResponseRepository(pool *pgxpool.Pool, logger *zap.Logger) *PGResponseRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PGResponseRepository{pool: pool, logger: logger}
}

// Create inserts a captured response
func (r *PGResponseRepository) Create(ctx context.Context, response *Response) error {
	query := `
		INSERT INTO outreach_responses
		(id, attempt_id, question_code, question_version, response_type,
		 value_text, value_number, value_bool, value_choices, raw_reply,
		 red_flag_severity, red_flag_code, captured_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := r.pool.Exec(ctx, query,
		response.ID, response.AttemptID, response.QuestionCode, response.QuestionVersion,
		response.ResponseType, response.ValueText, response.ValueNumber, response.ValueBool,
		response.ValueChoices, response.RawReply, response.RedFlagSeverity, response.RedFlagCode,
		response.CapturedAt,
	)
	if err != nil {
		return fmt.Errorf("insert response: %w", err)
	}
	return nil
}

// Update rewrites only the red-flag annotation; the captured value is
// immutable.
func (r *PGResponseRepository) Update(ctx context.Context, response *Response) error {
	query := `
		UPDATE outreach_responses
		SET red_flag_severity = $1, red_flag_code = $2
		WHERE id = $3
	`
	_, err := r.pool.Exec(ctx, query, response.RedFlagSeverity, response.RedFlagCode, response.ID)
	if err != nil {
		return fmt.Errorf("update response: %w", err)
	}
	return nil
}

// ListByAttempt returns an attempt's responses in capture order
func (r *PGResponseRepository) ListByAttempt(ctx context.Context, attemptID string) ([]*Response, error) {
	query := `
		SELECT id, attempt_id, question_code, question_version, response_type,
		       value_text, value_number, value_bool, value_choices, raw_reply,
		       red_flag_severity, red_flag_code, captured_at
		FROM outreach_responses
		WHERE attempt_id = $1
		ORDER BY captured_at ASC
	`
	rows, err := r.pool.Query(ctx, query, attemptID)
	if err != nil {
		return nil, fmt.Errorf("query responses: %w", err)
	}
	defer rows.Close()

	var responses []*Response
	for rows.Next() {
		resp := &Response{}
		err := rows.Scan(
			&resp.ID, &resp.AttemptID, &resp.QuestionCode, &resp.QuestionVersion, &resp.ResponseType,
			&resp.ValueText, &resp.ValueNumber, &resp.ValueBool, &resp.ValueChoices, &resp.RawReply,
			&resp.RedFlagSeverity, &resp.RedFlagCode, &resp.CapturedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan response: %w", err)
		}
		responses = append(responses, resp)
	}
	return responses, rows.Err()
}

// PGInteractionRepository is the pgx-backed interaction repository
type PGInteractionRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPGInteractionRepository creates an interaction repository
func NewPGInteractionRepository(pool *pgxpool.Pool, logger *zap.Logger) *PGInteractionRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PGInteractionRepository{pool: pool, logger: logger}
}

// Create inserts an interaction record
func (r *PGInteractionRepository) Create(ctx context.Context, interaction *Interaction) error {
	query := `
		INSERT INTO outreach_interactions
		(id, attempt_id, channel, agent_id, message_count, goal_achieved, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.pool.Exec(ctx, query,
		interaction.ID, interaction.AttemptID, interaction.Channel, interaction.AgentID,
		interaction.MessageCount, interaction.GoalAchieved, interaction.StartedAt, interaction.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert interaction: %w", err)
	}
	return nil
}

// Update persists interaction completion metadata
func (r *PGInteractionRepository) Update(ctx context.Context, interaction *Interaction) error {
	query := `
		UPDATE outreach_interactions
		SET message_count = $1, goal_achieved = $2, completed_at = $3
		WHERE id = $4
	`
	_, err := r.pool.Exec(ctx, query,
		interaction.MessageCount, interaction.GoalAchieved, interaction.CompletedAt, interaction.ID,
	)
	if err != nil {
		return fmt.Errorf("update interaction: %w", err)
	}
	return nil
}
