// Package dialogue executes a condition's scripted check-in over one
// channel and normalizes each patient reply into a typed response.
package dialogue

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/carebridge/go-oce/internal/domain/outreach"
)

// Question is one scripted check-in question for a condition/language pair
type Question struct {
	Code         string
	Version      int
	Condition    string
	Language     string
	Ordinal      int
	Text         string
	ResponseType outreach.ResponseType
	Choices      []string
}

// QuestionRepository reads the question catalog
type QuestionRepository interface {
	// ListScript returns the ordered script for a condition/language pair.
	ListScript(ctx context.Context, condition, language string) ([]Question, error)
}

// PGQuestionRepository reads the question catalog from Postgres
type PGQuestionRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPGQuestionRepository creates a question repository
func NewPGQuestionRepository(pool *pgxpool.Pool, logger *zap.Logger) *PGQuestionRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PGQuestionRepository{pool: pool, logger: logger}
}

// ListScript returns the active script in ordinal order
func (r *PGQuestionRepository) ListScript(ctx context.Context, condition, language string) ([]Question, error) {
	query := `
		SELECT code, version, condition_code, language, ordinal, question_text, response_type, choices
		FROM checkin_questions
		WHERE condition_code = $1
		  AND language = $2
		  AND active = TRUE
		ORDER BY ordinal ASC
	`
	rows, err := r.pool.Query(ctx, query, condition, language)
	if err != nil {
		return nil, fmt.Errorf("query questions: %w", err)
	}
	defer rows.Close()

	var script []Question
	for rows.Next() {
		var q Question
		err := rows.Scan(&q.Code, &q.Version, &q.Condition, &q.Language, &q.Ordinal, &q.Text, &q.ResponseType, &q.Choices)
		if err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		script = append(script, q)
	}
	return script, rows.Err()
}
