// Package outreach implements the outreach plan, attempt and response entities.
package outreach

import (
	"errors"
	"time"
)

// PlanStatus represents the lifecycle state of an outreach plan
type PlanStatus string

const (
	PlanPending    PlanStatus = "PENDING"
	PlanScheduled  PlanStatus = "SCHEDULED"
	PlanInProgress PlanStatus = "IN_PROGRESS"
	PlanCompleted  PlanStatus = "COMPLETED"
	PlanFailed     PlanStatus = "FAILED"
	PlanNoContact  PlanStatus = "NO_CONTACT"
	PlanDeclined   PlanStatus = "DECLINED"
	PlanExcluded   PlanStatus = "EXCLUDED"
)

// Terminal reports whether the status ends the plan lifecycle
func (s PlanStatus) Terminal() bool {
	switch s {
	case PlanCompleted, PlanFailed, PlanNoContact, PlanDeclined, PlanExcluded:
		return true
	}
	return false
}

// Channel identifies an outbound contact channel
type Channel string

const (
	ChannelSMS   Channel = "SMS"
	ChannelVoice Channel = "VOICE"
)

// ErrPlanTerminal indicates a mutation was attempted on a finished plan
var ErrPlanTerminal = errors.New("plan is in a terminal state")

// Plan is the contact policy for one clinical episode. At most one active
// plan exists per episode; only the orchestrator and scheduler mutate it.
type Plan struct {
	ID               string
	EpisodeID        string
	PatientID        string
	PatientContact   string
	Condition        string
	Language         string
	PreferredChannel Channel
	FallbackChannel  Channel
	WindowStart      time.Time
	WindowEnd        time.Time
	MaxAttempts      int
	ActiveHourStart  int // local hour, inclusive; 0/0 disables the gate
	ActiveHourEnd    int // local hour, exclusive
	Timezone         string
	Status           PlanStatus
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewPlan creates a pending plan for an episode
func NewPlan(id, episodeID, patientID, contact, condition, language string) *Plan {
	now := time.Now().UTC()
	return &Plan{
		ID:               id,
		EpisodeID:        episodeID,
		PatientID:        patientID,
		PatientContact:   contact,
		Condition:        condition,
		Language:         language,
		PreferredChannel: ChannelSMS,
		FallbackChannel:  ChannelVoice,
		MaxAttempts:      3,
		Status:           PlanPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// SetStatus transitions the plan, rejecting writes to terminal plans
func (p *Plan) SetStatus(status PlanStatus) error {
	if p.Status.Terminal() {
		return ErrPlanTerminal
	}
	p.Status = status
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// WindowContains reports whether the contact window covers the given instant
func (p *Plan) WindowContains(now time.Time) bool {
	return !now.Before(p.WindowStart) && !now.After(p.WindowEnd)
}

// InActiveHours reports whether the plan-local hour falls inside the
// configured active-hours gate. A zero window means the gate is disabled.
func (p *Plan) InActiveHours(now time.Time) bool {
	if p.ActiveHourStart == 0 && p.ActiveHourEnd == 0 {
		return true
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil || p.Timezone == "" {
		loc = time.UTC
	}
	hour := now.In(loc).Hour()
	if p.ActiveHourStart <= p.ActiveHourEnd {
		return hour >= p.ActiveHourStart && hour < p.ActiveHourEnd
	}
	// window wraps midnight
	return hour >= p.ActiveHourStart || hour < p.ActiveHourEnd
}
