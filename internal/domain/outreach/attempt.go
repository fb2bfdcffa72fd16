package outreach

import "time"

// AttemptStatus mirrors the plan status vocabulary at attempt granularity
type AttemptStatus string

const (
	AttemptScheduled  AttemptStatus = "SCHEDULED"
	AttemptInProgress AttemptStatus = "IN_PROGRESS"
	AttemptCompleted  AttemptStatus = "COMPLETED"
	AttemptFailed     AttemptStatus = "FAILED"
	AttemptNoAnswer   AttemptStatus = "NO_ANSWER"
)

// Attempt is one concrete contact try within a plan. Attempt numbers are
// 1-based and strictly sequential per plan; the count never exceeds the
// plan's configured max.
type Attempt struct {
	ID            string
	PlanID        string
	AttemptNumber int
	Channel       Channel
	Status        AttemptStatus
	Connected     bool
	ScheduledAt   time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	CreatedAt     time.Time
}

// NewAttempt creates an attempt scheduled for the given time
func NewAttempt(id, planID string, number int, channel Channel, scheduledAt time.Time) *Attempt {
	return &Attempt{
		ID:            id,
		PlanID:        planID,
		AttemptNumber: number,
		Channel:       channel,
		Status:        AttemptScheduled,
		ScheduledAt:   scheduledAt,
		CreatedAt:     time.Now().UTC(),
	}
}

// Start marks the attempt in progress and stamps the start time
func (a *Attempt) Start(now time.Time) {
	a.Status = AttemptInProgress
	a.StartedAt = &now
}

// Finish records the outcome of the contact try
func (a *Attempt) Finish(status AttemptStatus, connected bool, now time.Time) {
	a.Status = status
	a.Connected = connected
	a.CompletedAt = &now
}

// Due reports whether a scheduled attempt is ready to execute
func (a *Attempt) Due(now time.Time) bool {
	return a.Status == AttemptScheduled && !now.Before(a.ScheduledAt)
}
