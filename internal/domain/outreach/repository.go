package outreach

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates the requested entity does not exist
var ErrNotFound = errors.New("outreach: not found")

// PlanRepository persists outreach plans
type PlanRepository interface {
	Create(ctx context.Context, plan *Plan) error
	FindByID(ctx context.Context, id string) (*Plan, error)
	Update(ctx context.Context, plan *Plan) error
	// ListDue returns non-terminal plans whose contact window contains now.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*Plan, error)
}

// AttemptRepository persists contact attempts
type AttemptRepository interface {
	Create(ctx context.Context, attempt *Attempt) error
	FindByID(ctx context.Context, id string) (*Attempt, error)
	Update(ctx context.Context, attempt *Attempt) error
	ListByPlan(ctx context.Context, planID string) ([]*Attempt, error)
	// ListOverdueScheduled returns SCHEDULED attempts whose scheduled time
	// has passed.
	ListOverdueScheduled(ctx context.Context, now time.Time, limit int) ([]*Attempt, error)
}

// ResponseRepository persists captured responses
type ResponseRepository interface {
	Create(ctx context.Context, response *Response) error
	Update(ctx context.Context, response *Response) error
	ListByAttempt(ctx context.Context, attemptID string) ([]*Response, error)
}

// InteractionRepository persists dialogue interaction records
type InteractionRepository interface {
	Create(ctx context.Context, interaction *Interaction) error
	Update(ctx context.Context, interaction *Interaction) error
}
