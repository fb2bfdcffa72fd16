package outreach

import "time"

// Interaction is the billing/audit record for one dialogue execution.
// It tracks message volume and duration, never control flow.
type Interaction struct {
	ID           string
	AttemptID    string
	Channel      Channel
	AgentID      string
	MessageCount int
	GoalAchieved bool
	StartedAt    time.Time
	CompletedAt  *time.Time
}

// NewInteraction opens an interaction record for an attempt
func NewInteraction(id, attemptID string, channel Channel, agentID string) *Interaction {
	return &Interaction{
		ID:        id,
		AttemptID: attemptID,
		Channel:   channel,
		AgentID:   agentID,
		StartedAt: time.Now().UTC(),
	}
}

// Complete closes the record with the dialogue outcome
func (i *Interaction) Complete(messageCount int, goalAchieved bool, now time.Time) {
	i.MessageCount = messageCount
	i.GoalAchieved = goalAchieved
	i.CompletedAt = &now
}

// Duration returns the elapsed interaction time, zero while still open
func (i *Interaction) Duration() time.Duration {
	if i.CompletedAt == nil {
		return 0
	}
	return i.CompletedAt.Sub(i.StartedAt)
}
