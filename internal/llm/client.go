// Package llm provides the completion-service client used as the last
// normalization tier for free-text patient replies. The service is
// best-effort: forced-choice questions never depend on it.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/carebridge/go-oce/internal/dialogue"
	"github.com/carebridge/go-oce/internal/domain/outreach"
	"github.com/carebridge/go-oce/pkg/circuitbreaker"
)

// Config holds completion-service configuration
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// DefaultConfig returns defaults for an OpenAI-compatible endpoint
func DefaultConfig() Config {
	return Config{
		BaseURL: "https://api.openai.com/v1",
		Model:   "gpt-4o-mini",
		Timeout: 15 * time.Second,
	}
}

// Client calls an OpenAI-compatible chat-completions endpoint
type Client struct {
	config  Config
	http    *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewClient creates a completion client. Breaker may be nil.
func NewClient(cfg Config, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Client{
		config:  cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		logger:  logger,
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Normalize asks the model to reduce the raw reply to a single typed value.
// A malformed model reply degrades to the raw text rather than an error;
// only transport failures are returned as errors.
func (c *Client) Normalize(ctx context.Context, question dialogue.Question, rawReply string) (dialogue.TypedValue, error) {
	prompt := buildPrompt(question, rawReply)

	completion, err := c.complete(ctx, prompt)
	if err != nil {
		return dialogue.TypedValue{}, err
	}

	value, ok := parseCompletion(question, completion)
	if !ok {
		c.logger.Debug("unusable completion, degrading to raw text",
			zap.String("question", question.Code),
			zap.String("completion", completion))
		return dialogue.TypedValue{Text: rawReply}, nil
	}
	return value, nil
}

func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: "You normalize patient replies for a post-discharge check-in system. Answer with the value only, no explanation."},
			{Role: "user", Content: prompt},
		},
		Temperature: 0,
		MaxTokens:   16,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	call := func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.config.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("completion service returned %d", resp.StatusCode)
		}

		var parsed chatResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		if len(parsed.Choices) == 0 {
			return "", nil
		}
		return parsed.Choices[0].Message.Content, nil
	}

	var result interface{}
	if c.breaker != nil {
		result, err = c.breaker.Execute(ctx, call)
	} else {
		result, err = call()
	}
	if err != nil {
		return "", fmt.Errorf("completion call: %w", err)
	}
	completion, _ := result.(string)
	return strings.TrimSpace(completion), nil
}

func buildPrompt(q dialogue.Question, rawReply string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", q.Text)
	fmt.Fprintf(&b, "Patient reply: %s\n", rawReply)
	switch q.ResponseType {
	case outreach.ResponseYesNo:
		b.WriteString("Answer YES or NO.")
	case outreach.ResponseNumeric:
		b.WriteString("Answer with the number only.")
	case outreach.ResponseSingleChoice:
		fmt.Fprintf(&b, "Answer with exactly one of: %s.", strings.Join(q.Choices, ", "))
	case outreach.ResponseMultiChoice:
		fmt.Fprintf(&b, "Answer with a comma-separated subset of: %s.", strings.Join(q.Choices, ", "))
	default:
		b.WriteString("Answer with a short summary of the reply.")
	}
	return b.String()
}

// parseCompletion interprets the model output against the question type
func parseCompletion(q dialogue.Question, completion string) (dialogue.TypedValue, bool) {
	answer := strings.TrimSpace(strings.Trim(completion, `"'.`))
	if answer == "" {
		return dialogue.TypedValue{}, false
	}

	switch q.ResponseType {
	case outreach.ResponseYesNo:
		switch strings.ToUpper(answer) {
		case "YES":
			v := true
			return dialogue.TypedValue{Bool: &v}, true
		case "NO":
			v := false
			return dialogue.TypedValue{Bool: &v}, true
		}
	case outreach.ResponseNumeric:
		if n, err := strconv.ParseFloat(answer, 64); err == nil {
			return dialogue.TypedValue{Number: &n}, true
		}
	case outreach.ResponseSingleChoice:
		for _, c := range q.Choices {
			if strings.EqualFold(answer, c) {
				return dialogue.TypedValue{Choices: []string{c}}, true
			}
		}
	case outreach.ResponseMultiChoice:
		var matched []string
		for _, part := range strings.Split(answer, ",") {
			part = strings.TrimSpace(part)
			for _, c := range q.Choices {
				if strings.EqualFold(part, c) {
					matched = append(matched, c)
				}
			}
		}
		if len(matched) > 0 {
			return dialogue.TypedValue{Choices: matched}, true
		}
	default:
		return dialogue.TypedValue{Text: answer}, true
	}
	return dialogue.TypedValue{}, false
}
