package triage

import (
	"context"
	"time"
)

// Operator is one of the five supported comparison operators
type Operator string

const (
	OpGTE Operator = ">="
	OpGT  Operator = ">"
	OpLTE Operator = "<="
	OpLT  Operator = "<"
	OpEQ  Operator = "="
)

// RedFlagRule is a static, condition-specific threshold rule. The catalog
// is authored elsewhere and read-only from this engine's perspective.
type RedFlagRule struct {
	Code         string
	Condition    string
	QuestionCode string
	Operator     Operator
	ValueNumber  *float64
	ValueText    string
	Severity     Severity
	Active       bool
	CreatedAt    time.Time
}

// compareNumber applies the rule's operator to a numeric response value
func (r *RedFlagRule) compareNumber(v float64) bool {
	if r.ValueNumber == nil {
		return false
	}
	threshold := *r.ValueNumber
	switch r.Operator {
	case OpGTE:
		return v >= threshold
	case OpGT:
		return v > threshold
	case OpLTE:
		return v <= threshold
	case OpLT:
		return v < threshold
	case OpEQ:
		return v == threshold
	}
	return false
}

// RuleRepository provides read access to the red-flag catalog
type RuleRepository interface {
	ListActiveByCondition(ctx context.Context, condition string) ([]RedFlagRule, error)
}
