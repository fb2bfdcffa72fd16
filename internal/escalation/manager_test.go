package escalation

import (
	"context"
	"testing"
	"time"

	"github.com/carebridge/go-oce/internal/triage"
)

// fakeTaskRepo is an in-memory TaskRepository
type fakeTaskRepo struct {
	tasks map[string]*Task
}

func newFakeTaskRepo() *fakeTaskRepo {
	return &fakeTaskRepo{tasks: make(map[string]*Task)}
}

func (f *fakeTaskRepo) Create(_ context.Context, task *Task) error {
	cp := *task
	f.tasks[task.ID] = &cp
	return nil
}

func (f *fakeTaskRepo) FindByID(_ context.Context, id string) (*Task, error) {
	t, ok := f.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeTaskRepo) Update(_ context.Context, task *Task) error {
	cp := *task
	f.tasks[task.ID] = &cp
	return nil
}

func (f *fakeTaskRepo) ListOpen(_ context.Context, limit int) ([]*Task, error) {
	var out []*Task
	for _, t := range f.tasks {
		if !t.Status.Terminal() {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeTaskRepo) ListOverdue(_ context.Context, now time.Time, limit int) ([]*Task, error) {
	var out []*Task
	for _, t := range f.tasks {
		if t.Overdue(now) {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func TestManagerCreateAssignResolve(t *testing.T) {
	repo := newFakeTaskRepo()
	m := NewManager(repo, nil, nil)
	ctx := context.Background()

	task, err := m.Create(ctx, "ep-1", "att-1", []string{"HF_WEIGHT_GAIN"}, triage.SeverityHigh)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if task.Priority != PriorityHigh || task.Status != StatusOpen {
		t.Errorf("unexpected task: %+v", task)
	}
	if got := task.SLADueAt.Sub(task.CreatedAt); got != 2*time.Hour {
		t.Errorf("HIGH SLA window = %s, want 2h", got)
	}

	assigned, err := m.Assign(ctx, task.ID, "nurse-3")
	if err != nil {
		t.Fatalf("assign failed: %v", err)
	}
	if assigned.Status != StatusInProgress {
		t.Errorf("expected IN_PROGRESS, got %s", assigned.Status)
	}

	resolved, err := m.Resolve(ctx, task.ID, "PATIENT_CONTACTED", "symptoms improving")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if resolved.Status != StatusResolved || resolved.OutcomeCode != "PATIENT_CONTACTED" {
		t.Errorf("unexpected resolved task: %+v", resolved)
	}
}

func TestManagerCreateRequiresReasonCodes(t *testing.T) {
	m := NewManager(newFakeTaskRepo(), nil, nil)
	if _, err := m.Create(context.Background(), "ep-1", "att-1", nil, triage.SeverityHigh); err == nil {
		t.Fatal("expected error for empty reason codes")
	}
}

func TestManagerExpireOverdue(t *testing.T) {
	repo := newFakeTaskRepo()
	m := NewManager(repo, nil, nil)
	ctx := context.Background()

	created := time.Now().UTC().Add(-3 * time.Hour)
	overdue := NewTask("t-1", "ep-1", "att-1", []string{"R1"}, triage.SeverityCritical, created)
	fresh := NewTask("t-2", "ep-2", "att-2", []string{"R2"}, triage.SeverityModerate, time.Now().UTC())
	repo.Create(ctx, overdue)
	repo.Create(ctx, fresh)

	n, err := m.ExpireOverdue(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("expire failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 expired task, got %d", n)
	}

	got, _ := repo.FindByID(ctx, "t-1")
	if got.Status != StatusExpired {
		t.Errorf("overdue task status = %s, want EXPIRED", got.Status)
	}
	kept, _ := repo.FindByID(ctx, "t-2")
	if kept.Status != StatusOpen {
		t.Errorf("fresh task status = %s, want OPEN", kept.Status)
	}
}
