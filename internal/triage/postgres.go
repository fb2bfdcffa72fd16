package triage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PGRuleRepository reads the red-flag catalog from Postgres
type PGRuleRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPGRuleRepository creates a rule repository
func NewPGRuleRepository(pool *pgxpool.Pool, logger *zap.Logger) *PGRuleRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PGRuleRepository{pool: pool, logger: logger}
}

// ListActiveByCondition returns the active rules for one condition,
// severity-ranked first. The catalog is never ranked by recency.
func (r *PGRuleRepository) ListActiveByCondition(ctx context.Context, condition string) ([]RedFlagRule, error) {
	query := `
		SELECT code, condition_code, question_code, operator, value_number, value_text, severity, active, created_at
		FROM red_flag_rules
		WHERE condition_code = $1
		  AND active = TRUE
		ORDER BY CASE severity
			WHEN 'CRITICAL' THEN 0
			WHEN 'HIGH' THEN 1
			WHEN 'MODERATE' THEN 2
			WHEN 'LOW' THEN 3
			ELSE 4
		END
	`
	rows, err := r.pool.Query(ctx, query, condition)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	var rules []RedFlagRule
	for rows.Next() {
		var rule RedFlagRule
		err := rows.Scan(
			&rule.Code, &rule.Condition, &rule.QuestionCode, &rule.Operator,
			&rule.ValueNumber, &rule.ValueText, &rule.Severity, &rule.Active, &rule.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}
