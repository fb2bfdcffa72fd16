package dialogue

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
	"github.com/carebridge/go-oce/internal/domain/outreach"
	"github.com/carebridge/go-oce/internal/observability/metrics"
)

// Config holds dialogue execution configuration
type Config struct {
	// ReplyTimeout bounds each wait for a patient reply.
	ReplyTimeout time.Duration
	// Greeting and Closing frame every check-in.
	Greeting string
	Closing  string
}

// DefaultConfig returns sensible defaults for SMS-paced check-ins
func DefaultConfig() Config {
	return Config{
		ReplyTimeout: 10 * time.Minute,
		Greeting:     "Hi, this is your care team checking in after your recent hospital stay. A few quick questions.",
		Closing:      "Thank you. Your care team will follow up if anything needs attention.",
	}
}

// Result is the outcome of one dialogue execution
type Result struct {
	Responses []*outreach.Response
	// MessageCount counts all sent and received turns including the
	// greeting and closing, for billing/audit only.
	MessageCount int
	Connected    bool
}

// Runner executes a check-in script sequentially over one transport
type Runner struct {
	config     Config
	normalizer Normalizer
	metrics    *metrics.Metrics
	logger     *zap.Logger
	tracer     trace.Tracer
}

// NewRunner creates a dialogue runner. Normalizer and metrics may be nil.
func NewRunner(cfg Config, normalizer Normalizer, m *metrics.Metrics, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = DefaultConfig().ReplyTimeout
	}
	if cfg.Greeting == "" {
		cfg.Greeting = DefaultConfig().Greeting
	}
	if cfg.Closing == "" {
		cfg.Closing = DefaultConfig().Closing
	}
	return &Runner{
		config:     cfg,
		normalizer: normalizer,
		metrics:    m,
		logger:     logger,
		tracer:     otel.Tracer("dialogue-runner"),
	}
}

// Run executes the script in order: greeting, then one send/await/normalize
// cycle per question, then the closing message. An empty script fails
// immediately with no contact made; that is reported up, never retried
// here.
func (r *Runner) Run(ctx context.Context, attemptID string, script []Question, transport channel.Transport, contact string) (*Result, error) {
	result := &Result{}

	if len(script) == 0 {
		r.logger.Warn("no questions configured for check-in", zap.String("attempt_id", attemptID))
		return result, fmt.Errorf("dialogue: empty script")
	}

	ctx, span := r.tracer.Start(ctx, "dialogue_run",
		trace.WithAttributes(
			attribute.String("attempt_id", attemptID),
			attribute.String("channel", string(transport.Kind())),
			attribute.Int("script_len", len(script)),
		))
	defer span.End()

	if err := r.send(ctx, transport, contact, r.config.Greeting, result); err != nil {
		span.RecordError(err)
		return result, fmt.Errorf("greeting: %w", err)
	}

	for _, question := range script {
		if err := r.send(ctx, transport, contact, r.formatQuestion(question), result); err != nil {
			span.RecordError(err)
			return result, fmt.Errorf("question %s: %w", question.Code, err)
		}

		reply, err := r.awaitReply(ctx, transport, contact)
		if err != nil {
			span.RecordError(err)
			return result, fmt.Errorf("question %s: %w", question.Code, err)
		}
		result.MessageCount++
		result.Connected = true
		if r.metrics != nil {
			r.metrics.DialogueMessages.Inc()
		}

		response := r.capture(ctx, attemptID, question, reply)
		result.Responses = append(result.Responses, response)
	}

	if err := r.send(ctx, transport, contact, r.config.Closing, result); err != nil {
		// The check-in itself succeeded; a lost closing message is not
		// worth failing the attempt over.
		r.logger.Warn("closing message failed", zap.String("attempt_id", attemptID), zap.Error(err))
	}

	span.SetAttributes(attribute.Int("responses", len(result.Responses)))
	return result, nil
}

func (r *Runner) send(ctx context.Context, transport channel.Transport, contact, text string, result *Result) error {
	if err := transport.Send(ctx, contact, text); err != nil {
		return err
	}
	result.MessageCount++
	if r.metrics != nil {
		r.metrics.DialogueMessages.Inc()
	}
	return nil
}

func (r *Runner) awaitReply(ctx context.Context, transport channel.Transport, contact string) (string, error) {
	waitCtx, cancel := context.WithTimeout(ctx, r.config.ReplyTimeout)
	defer cancel()
	return transport.AwaitReply(waitCtx, contact)
}

// capture normalizes the reply into a typed response
func (r *Runner) capture(ctx context.Context, attemptID string, question Question, reply string) *outreach.Response {
	value, usedFallback := normalize(ctx, question, reply, r.normalizer)
	if usedFallback && r.metrics != nil {
		r.metrics.NormalizerFallbacks.Inc()
	}

	response := outreach.NewResponse(uuid.New().String(), attemptID, question.Code, question.Version, question.ResponseType)
	response.RawReply = reply
	response.ValueText = value.Text
	response.ValueNumber = value.Number
	response.ValueBool = value.Bool
	response.ValueChoices = value.Choices
	return response
}

// formatQuestion renders the outbound question text, appending numbered
// choices for forced-choice questions.
func (r *Runner) formatQuestion(q Question) string {
	if len(q.Choices) == 0 {
		return q.Text
	}
	text := q.Text
	for i, c := range q.Choices {
		text += fmt.Sprintf("\n%d. %s", i+1, c)
	}
	return text
}
