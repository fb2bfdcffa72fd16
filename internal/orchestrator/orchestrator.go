// Package orchestrator drives one outreach plan through its contact
// attempts: channel selection, dialogue execution, triage and plan-state
// updates.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/carebridge/go-oce/internal/channel"
	"github.com/carebridge/go-oce/internal/dialogue"
	"github.com/carebridge/go-oce/internal/domain/outreach"
	"github.com/carebridge/go-oce/internal/escalation"
	"github.com/carebridge/go-oce/internal/observability/metrics"
	"github.com/carebridge/go-oce/internal/triage"
)

// Config holds orchestration configuration
type Config struct {
	// AgentID identifies this engine instance on interaction records.
	AgentID string
	// RetryBackoff is the fixed offset between a failed attempt's
	// scheduled time and the next attempt's. The source policy is a flat
	// 24 hours regardless of severity or channel.
	RetryBackoff time.Duration
}

// DefaultConfig returns the fixed-backoff defaults
func DefaultConfig() Config {
	return Config{
		AgentID:      "oce-engine",
		RetryBackoff: 24 * time.Hour,
	}
}

// Orchestrator coordinates a single plan's contact lifecycle
type Orchestrator struct {
	config       Config
	plans        outreach.PlanRepository
	attempts     outreach.AttemptRepository
	responses    outreach.ResponseRepository
	interactions outreach.InteractionRepository
	questions    dialogue.QuestionRepository
	rules        triage.RuleRepository
	evaluator    *triage.Evaluator
	tasks        *escalation.Manager
	runner       *dialogue.Runner
	transportFor channel.Selector
	metrics      *metrics.Metrics
	logger       *zap.Logger
	tracer       trace.Tracer
	now          func() time.Time
}

// Deps bundles the orchestrator's collaborators
type Deps struct {
	Plans        outreach.PlanRepository
	Attempts     outreach.AttemptRepository
	Responses    outreach.ResponseRepository
	Interactions outreach.InteractionRepository
	Questions    dialogue.QuestionRepository
	Rules        triage.RuleRepository
	Evaluator    *triage.Evaluator
	Tasks        *escalation.Manager
	Runner       *dialogue.Runner
	TransportFor channel.Selector
	Metrics      *metrics.Metrics
}

// New creates an orchestrator
func New(cfg Config, deps Deps, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultConfig().RetryBackoff
	}
	return &Orchestrator{
		config:       cfg,
		plans:        deps.Plans,
		attempts:     deps.Attempts,
		responses:    deps.Responses,
		interactions: deps.Interactions,
		questions:    deps.Questions,
		rules:        deps.Rules,
		evaluator:    deps.Evaluator,
		tasks:        deps.Tasks,
		runner:       deps.Runner,
		transportFor: deps.TransportFor,
		metrics:      deps.Metrics,
		logger:       logger,
		tracer:       otel.Tracer("outreach-orchestrator"),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// channelFor applies the channel-selection policy. priorAttempts is the
// count of attempts already made on the plan.
func channelFor(plan *outreach.Plan, priorAttempts int) outreach.Channel {
	switch {
	case priorAttempts == 0:
		return plan.PreferredChannel
	case priorAttempts == 1:
		return plan.FallbackChannel
	case priorAttempts%2 == 0:
		return outreach.ChannelSMS
	default:
		return outreach.ChannelVoice
	}
}

// Orchestrate runs one contact cycle for the plan. It is idempotent per
// invocation: the next attempt number is re-derived from the persisted
// attempt list, an in-flight attempt short-circuits, and a future
// scheduled attempt is left alone.
func (o *Orchestrator) Orchestrate(ctx context.Context, planID string) error {
	ctx, span := o.tracer.Start(ctx, "orchestrate",
		trace.WithAttributes(attribute.String("plan_id", planID)))
	defer span.End()

	now := o.now()

	plan, err := o.plans.FindByID(ctx, planID)
	if err != nil {
		return fmt.Errorf("load plan: %w", err)
	}
	if plan.Status.Terminal() {
		return nil
	}

	attempts, err := o.attempts.ListByPlan(ctx, planID)
	if err != nil {
		return fmt.Errorf("load attempts: %w", err)
	}

	// Exhaustion is terminal, not an error.
	if len(attempts) >= plan.MaxAttempts && !hasRunnable(attempts, now) {
		return o.finalizeExhausted(ctx, plan, attempts)
	}

	var attempt *outreach.Attempt
	if len(attempts) > 0 {
		latest := attempts[len(attempts)-1]
		switch {
		case latest.Status == outreach.AttemptInProgress:
			// Another orchestration owns this attempt.
			return nil
		case latest.Status == outreach.AttemptScheduled && !latest.Due(now):
			// Backoff still running; next cycle will pick it up.
			return nil
		case latest.Status == outreach.AttemptScheduled:
			attempt = latest
		}
	}

	if !plan.InActiveHours(now) {
		o.logger.Debug("outside active hours, skipping plan",
			zap.String("plan_id", planID))
		return nil
	}

	if attempt == nil {
		attempt = outreach.NewAttempt(
			uuid.New().String(), plan.ID, len(attempts)+1,
			channelFor(plan, len(attempts)), now,
		)
		attempt.Start(now)
		if err := o.attempts.Create(ctx, attempt); err != nil {
			return fmt.Errorf("create attempt: %w", err)
		}
	} else {
		attempt.Start(now)
		if err := o.attempts.Update(ctx, attempt); err != nil {
			return fmt.Errorf("start attempt: %w", err)
		}
	}

	if err := plan.SetStatus(outreach.PlanInProgress); err == nil {
		if err := o.plans.Update(ctx, plan); err != nil {
			return fmt.Errorf("update plan: %w", err)
		}
	}

	if o.metrics != nil {
		o.metrics.AttemptsStarted.Inc()
	}
	span.SetAttributes(
		attribute.Int("attempt_number", attempt.AttemptNumber),
		attribute.String("channel", string(attempt.Channel)),
	)

	return o.executeAttempt(ctx, plan, attempt, attempts)
}

// hasRunnable reports whether any attempt is still in flight or due
func hasRunnable(attempts []*outreach.Attempt, now time.Time) bool {
	for _, a := range attempts {
		if a.Status == outreach.AttemptInProgress || a.Due(now) {
			return true
		}
	}
	return false
}

// executeAttempt runs the dialogue for one started attempt and settles
// attempt, plan, response and escalation state from the outcome.
func (o *Orchestrator) executeAttempt(ctx context.Context, plan *outreach.Plan, attempt *outreach.Attempt, prior []*outreach.Attempt) error {
	interaction := outreach.NewInteraction(uuid.New().String(), attempt.ID, attempt.Channel, o.config.AgentID)
	if err := o.interactions.Create(ctx, interaction); err != nil {
		return fmt.Errorf("create interaction: %w", err)
	}

	result, runErr := o.runDialogue(ctx, plan, attempt)

	// Responses are persisted and triaged before the final plan-status
	// update, so an escalation task can exist on a plan that is about to
	// be marked COMPLETED.
	var triageErr error
	if len(result.Responses) > 0 {
		triageErr = o.persistAndTriage(ctx, plan, attempt, result.Responses)
	}

	now := o.now()
	if runErr == nil {
		attempt.Finish(outreach.AttemptCompleted, result.Connected, now)
	} else {
		status := outreach.AttemptFailed
		if result.MessageCount > 0 && !result.Connected {
			status = outreach.AttemptNoAnswer
		}
		attempt.Finish(status, result.Connected, now)
	}
	if err := o.attempts.Update(ctx, attempt); err != nil {
		return fmt.Errorf("finish attempt: %w", err)
	}
	if o.metrics != nil {
		o.metrics.AttemptsCompleted.WithLabelValues(string(attempt.Status)).Inc()
	}

	interaction.Complete(result.MessageCount, runErr == nil, now)
	if err := o.interactions.Update(ctx, interaction); err != nil {
		o.logger.Error("failed to complete interaction record",
			zap.String("attempt_id", attempt.ID), zap.Error(err))
	}

	if runErr == nil {
		// One successful contact ends the plan; it does not wait for the
		// remaining configured attempts.
		if err := o.completePlan(ctx, plan); err != nil {
			return err
		}
		o.logger.Info("check-in completed",
			zap.String("plan_id", plan.ID),
			zap.Int("attempt_number", attempt.AttemptNumber),
			zap.Int("responses", len(result.Responses)),
			zap.Int("message_count", result.MessageCount))
		return triageErr
	}

	o.logger.Warn("contact attempt failed",
		zap.String("plan_id", plan.ID),
		zap.Int("attempt_number", attempt.AttemptNumber),
		zap.String("channel", string(attempt.Channel)),
		zap.Error(runErr))

	if err := o.scheduleRetry(ctx, plan, attempt, prior); err != nil {
		return err
	}
	return triageErr
}

func (o *Orchestrator) runDialogue(ctx context.Context, plan *outreach.Plan, attempt *outreach.Attempt) (*dialogue.Result, error) {
	script, err := o.questions.ListScript(ctx, plan.Condition, plan.Language)
	if err != nil {
		return &dialogue.Result{}, fmt.Errorf("load script: %w", err)
	}

	transport, err := o.transportFor(attempt.Channel)
	if err != nil {
		return &dialogue.Result{}, err
	}

	return o.runner.Run(ctx, attempt.ID, script, transport, plan.PatientContact)
}

// persistAndTriage stores captured responses, evaluates them against the
// red-flag catalog and raises an escalation task when any rule matched.
func (o *Orchestrator) persistAndTriage(ctx context.Context, plan *outreach.Plan, attempt *outreach.Attempt, responses []*outreach.Response) error {
	for _, resp := range responses {
		if err := o.responses.Create(ctx, resp); err != nil {
			return fmt.Errorf("persist response: %w", err)
		}
	}

	rules, err := o.rules.ListActiveByCondition(ctx, plan.Condition)
	if err != nil {
		// Configuration-missing degrades gracefully; the check-in stands.
		o.logger.Error("failed to load red-flag rules, skipping triage",
			zap.String("condition", plan.Condition), zap.Error(err))
		return nil
	}

	triggered, severity := o.evaluator.Evaluate(rules, responses)
	if len(triggered) == 0 {
		return nil
	}

	for _, resp := range responses {
		if resp.RedFlagSeverity != outreach.RedFlagNone {
			if err := o.responses.Update(ctx, resp); err != nil {
				o.logger.Error("failed to annotate response",
					zap.String("response_id", resp.ID), zap.Error(err))
			}
		}
	}

	codes := make([]string, 0, len(triggered))
	for _, rule := range triggered {
		codes = append(codes, rule.Code)
	}

	task, err := o.tasks.Create(ctx, plan.EpisodeID, attempt.ID, codes, severity)
	if err != nil {
		// A lost escalation is the one thing this engine must not
		// swallow.
		return fmt.Errorf("create escalation task: %w", err)
	}

	o.logger.Info("red flags escalated",
		zap.String("plan_id", plan.ID),
		zap.String("task_id", task.ID),
		zap.String("severity", string(severity)),
		zap.Strings("reason_codes", codes))
	return nil
}

func (o *Orchestrator) completePlan(ctx context.Context, plan *outreach.Plan) error {
	if err := plan.SetStatus(outreach.PlanCompleted); err != nil {
		return err
	}
	if err := o.plans.Update(ctx, plan); err != nil {
		return fmt.Errorf("complete plan: %w", err)
	}
	if o.metrics != nil {
		o.metrics.PlansCompleted.Inc()
	}
	return nil
}

// scheduleRetry applies the fixed 24h backoff, or closes the plan when
// the attempt budget is spent.
func (o *Orchestrator) scheduleRetry(ctx context.Context, plan *outreach.Plan, failed *outreach.Attempt, prior []*outreach.Attempt) error {
	if failed.AttemptNumber >= plan.MaxAttempts {
		return o.finalizeExhausted(ctx, plan, append(prior, failed))
	}

	next := outreach.NewAttempt(
		uuid.New().String(), plan.ID, failed.AttemptNumber+1,
		channelFor(plan, failed.AttemptNumber),
		failed.ScheduledAt.Add(o.config.RetryBackoff),
	)
	if err := o.attempts.Create(ctx, next); err != nil {
		return fmt.Errorf("schedule retry: %w", err)
	}
	if err := plan.SetStatus(outreach.PlanScheduled); err == nil {
		if err := o.plans.Update(ctx, plan); err != nil {
			return fmt.Errorf("update plan: %w", err)
		}
	}

	o.logger.Info("next attempt scheduled",
		zap.String("plan_id", plan.ID),
		zap.Int("attempt_number", next.AttemptNumber),
		zap.String("channel", string(next.Channel)),
		zap.Time("scheduled_at", next.ScheduledAt))
	return nil
}

// finalizeExhausted closes a plan whose attempt budget is spent:
// NO_CONTACT when the patient never engaged, COMPLETED otherwise.
func (o *Orchestrator) finalizeExhausted(ctx context.Context, plan *outreach.Plan, attempts []*outreach.Attempt) error {
	status := outreach.PlanNoContact
	for _, a := range attempts {
		if a.Connected {
			status = outreach.PlanCompleted
			break
		}
	}
	if err := plan.SetStatus(status); err != nil {
		return nil // already terminal
	}
	if err := o.plans.Update(ctx, plan); err != nil {
		return fmt.Errorf("finalize plan: %w", err)
	}
	if o.metrics != nil {
		if status == outreach.PlanNoContact {
			o.metrics.PlansNoContact.Inc()
		} else {
			o.metrics.PlansCompleted.Inc()
		}
	}
	o.logger.Info("plan attempt budget exhausted",
		zap.String("plan_id", plan.ID),
		zap.String("status", string(status)),
		zap.Int("attempts", len(attempts)))
	return nil
}
