// Package escalation implements SLA-bound escalation tasks raised from
// triage matches.
package escalation

import (
	"errors"
	"time"

	"github.com/carebridge/go-oce/internal/triage"
)

// Status represents the escalation task lifecycle
type Status string

const (
	StatusOpen       Status = "OPEN"
	StatusInProgress Status = "IN_PROGRESS"
	StatusResolved   Status = "RESOLVED"
	StatusCancelled  Status = "CANCELLED"
	StatusExpired    Status = "EXPIRED"
)

// Terminal reports whether the status ends the task lifecycle
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusCancelled || s == StatusExpired
}

// Priority is derived 1:1 from severity, never configured independently
type Priority string

const (
	PriorityUrgent Priority = "URGENT"
	PriorityHigh   Priority = "HIGH"
	PriorityNormal Priority = "NORMAL"
	PriorityLow    Priority = "LOW"
)

// PriorityFor maps a severity to its task priority
func PriorityFor(severity triage.Severity) Priority {
	switch severity {
	case triage.SeverityCritical:
		return PriorityUrgent
	case triage.SeverityHigh:
		return PriorityHigh
	case triage.SeverityModerate:
		return PriorityNormal
	default:
		return PriorityLow
	}
}

// slaWindows is the fixed severity-to-SLA lookup table
var slaWindows = map[triage.Severity]time.Duration{
	triage.SeverityCritical: 30 * time.Minute,
	triage.SeverityHigh:     2 * time.Hour,
	triage.SeverityModerate: 24 * time.Hour,
	triage.SeverityLow:      48 * time.Hour,
	triage.SeverityNone:     48 * time.Hour,
}

// SLAWindow returns the SLA window for a severity
func SLAWindow(severity triage.Severity) time.Duration {
	if w, ok := slaWindows[severity]; ok {
		return w
	}
	return slaWindows[triage.SeverityNone]
}

var (
	// ErrTaskTerminal indicates a mutation on a closed task
	ErrTaskTerminal = errors.New("task is in a terminal state")
	// ErrInvalidTransition indicates an out-of-order state change
	ErrInvalidTransition = errors.New("invalid task state transition")
)

// Task is a human-actionable work item created from a triage match.
// Severity, priority and the SLA deadline are immutable after creation;
// tasks are never deleted, only terminal-stated.
type Task struct {
	ID              string
	EpisodeID       string
	SourceAttemptID string
	ReasonCodes     []string
	Severity        triage.Severity
	Priority        Priority
	Status          Status
	SLADueAt        time.Time
	AssignedTo      string
	AssignedAt      *time.Time
	OutcomeCode     string
	ResolutionNotes string
	ResolvedAt      *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewTask creates an open task with the SLA deadline fixed at creation
func NewTask(id, episodeID, attemptID string, reasonCodes []string, severity triage.Severity, now time.Time) *Task {
	return &Task{
		ID:              id,
		EpisodeID:       episodeID,
		SourceAttemptID: attemptID,
		ReasonCodes:     reasonCodes,
		Severity:        severity,
		Priority:        PriorityFor(severity),
		Status:          StatusOpen,
		SLADueAt:        now.Add(SLAWindow(severity)),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Assign claims the task and stamps the pickup time
func (t *Task) Assign(userID string, now time.Time) error {
	if t.Status.Terminal() {
		return ErrTaskTerminal
	}
	if t.Status != StatusOpen {
		return ErrInvalidTransition
	}
	t.Status = StatusInProgress
	t.AssignedTo = userID
	t.AssignedAt = &now
	t.UpdatedAt = now
	return nil
}

// Resolve closes the task with an outcome
func (t *Task) Resolve(outcomeCode, notes string, now time.Time) error {
	if t.Status.Terminal() {
		return ErrTaskTerminal
	}
	t.Status = StatusResolved
	t.OutcomeCode = outcomeCode
	t.ResolutionNotes = notes
	t.ResolvedAt = &now
	t.UpdatedAt = now
	return nil
}

// Expire marks an unresolved task past its SLA deadline
func (t *Task) Expire(now time.Time) error {
	if t.Status.Terminal() {
		return ErrTaskTerminal
	}
	t.Status = StatusExpired
	t.UpdatedAt = now
	return nil
}

// Overdue reports whether the open task has blown its SLA
func (t *Task) Overdue(now time.Time) bool {
	return !t.Status.Terminal() && now.After(t.SLADueAt)
}
