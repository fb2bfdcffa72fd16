package triage

import (
	"strings"

	"go.uber.org/zap"

	"github.com/carebridge/go-oce/internal/domain/outreach"
)

// Evaluator matches responses against the red-flag catalog
type Evaluator struct {
	logger *zap.Logger
}

// NewEvaluator creates an evaluator
func NewEvaluator(logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{logger: logger}
}

// Evaluate matches every response against the rules targeting its question
// code and reduces all matches to the highest-ranked severity. Triggered
// rules retro-annotate their source response. An empty catalog is not an
// error: the check-in completes with no red flags.
func (e *Evaluator) Evaluate(rules []RedFlagRule, responses []*outreach.Response) ([]RedFlagRule, Severity) {
	if len(rules) == 0 {
		e.logger.Info("no active red-flag rules for condition, skipping triage")
		return nil, SeverityNone
	}

	var triggered []RedFlagRule
	max := SeverityNone

	for _, resp := range responses {
		for _, rule := range rules {
			if !rule.Active || rule.QuestionCode != resp.QuestionCode {
				continue
			}
			if !matches(&rule, resp) {
				continue
			}
			triggered = append(triggered, rule)
			max = Max(max, rule.Severity)
			resp.Flag(string(rule.Severity), rule.Code)
		}
	}

	return triggered, max
}

// matches applies the rule's comparison to the response value. A rule whose
// expected value type is absent from the response is a silent no-op.
func matches(rule *RedFlagRule, resp *outreach.Response) bool {
	if rule.ValueNumber != nil {
		if resp.ValueNumber == nil {
			return false
		}
		return rule.compareNumber(*resp.ValueNumber)
	}

	// Discrete comparison: only equality applies.
	if rule.Operator != OpEQ {
		return false
	}
	expected := strings.ToUpper(strings.TrimSpace(rule.ValueText))
	if expected == "" {
		return false
	}

	if resp.ValueBool != nil {
		actual := "NO"
		if *resp.ValueBool {
			actual = "YES"
		}
		return actual == expected
	}
	for _, choice := range resp.ValueChoices {
		if strings.EqualFold(choice, expected) {
			return true
		}
	}
	if resp.ValueText != "" {
		return strings.EqualFold(strings.TrimSpace(resp.ValueText), expected)
	}
	return false
}
