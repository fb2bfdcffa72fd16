package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/carebridge/go-oce/internal/domain/outreach"
	"github.com/carebridge/go-oce/internal/escalation"
	"github.com/carebridge/go-oce/internal/triage"
	"github.com/carebridge/go-oce/pkg/workerpool"
)

type stubPlans struct {
	due []*outreach.Plan
}

func (s *stubPlans) Create(context.Context, *outreach.Plan) error { return nil }
func (s *stubPlans) FindByID(context.Context, string) (*outreach.Plan, error) {
	return nil, outreach.ErrNotFound
}
func (s *stubPlans) Update(context.Context, *outreach.Plan) error { return nil }
func (s *stubPlans) ListDue(_ context.Context, _ time.Time, _ int) ([]*outreach.Plan, error) {
	return s.due, nil
}

type stubAttempts struct {
	overdue []*outreach.Attempt
}

func (s *stubAttempts) Create(context.Context, *outreach.Attempt) error { return nil }
func (s *stubAttempts) FindByID(context.Context, string) (*outreach.Attempt, error) {
	return nil, outreach.ErrNotFound
}
func (s *stubAttempts) Update(context.Context, *outreach.Attempt) error { return nil }
func (s *stubAttempts) ListByPlan(context.Context, string) ([]*outreach.Attempt, error) {
	return nil, nil
}
func (s *stubAttempts) ListOverdueScheduled(_ context.Context, _ time.Time, _ int) ([]*outreach.Attempt, error) {
	return s.overdue, nil
}

type stubTaskRepo struct {
	tasks   []*escalation.Task
	updated int
}

func (s *stubTaskRepo) Create(context.Context, *escalation.Task) error { return nil }
func (s *stubTaskRepo) FindByID(context.Context, string) (*escalation.Task, error) {
	return nil, escalation.ErrNotFound
}
func (s *stubTaskRepo) Update(context.Context, *escalation.Task) error {
	s.updated++
	return nil
}
func (s *stubTaskRepo) ListOpen(context.Context, int) ([]*escalation.Task, error) { return nil, nil }
func (s *stubTaskRepo) ListOverdue(_ context.Context, _ time.Time, _ int) ([]*escalation.Task, error) {
	return s.tasks, nil
}

// recorder tracks orchestrate invocations per plan
type recorder struct {
	mu    sync.Mutex
	calls map[string]int
	gate  chan struct{} // when set, orchestrate blocks until closed
	done  chan string
}

func newRecorder() *recorder {
	return &recorder{calls: map[string]int{}, done: make(chan string, 16)}
}

func (r *recorder) orchestrate(_ context.Context, planID string) error {
	r.mu.Lock()
	r.calls[planID]++
	r.mu.Unlock()
	if r.gate != nil {
		<-r.gate
	}
	r.done <- planID
	return nil
}

func (r *recorder) count(planID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[planID]
}

func duePlan(id string) *outreach.Plan {
	plan := outreach.NewPlan(id, "ep-"+id, "pat-1", "+15550100", "HEART_FAILURE", "en")
	plan.WindowStart = time.Now().Add(-time.Hour)
	plan.WindowEnd = time.Now().Add(time.Hour)
	return plan
}

func newWorker(t *testing.T, plans *stubPlans, attempts *stubAttempts, taskRepo *stubTaskRepo, rec *recorder) *Worker {
	t.Helper()
	poolCfg := workerpool.DefaultConfig()
	poolCfg.Workers = 4
	w, err := New(DefaultConfig(), plans, attempts, escalation.NewManager(taskRepo, nil, nil), rec.orchestrate, poolCfg, nil, nil)
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	w.pool.Start()
	t.Cleanup(func() { w.pool.Stop() })
	go w.drainResults()
	return w
}

func awaitDone(t *testing.T, rec *recorder, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-rec.done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for orchestrations")
		}
	}
}

func TestRunPassSubmitsDuePlans(t *testing.T) {
	plans := &stubPlans{due: []*outreach.Plan{duePlan("plan-1"), duePlan("plan-2")}}
	rec := newRecorder()
	w := newWorker(t, plans, &stubAttempts{}, &stubTaskRepo{}, rec)

	w.RunPass(context.Background())
	awaitDone(t, rec, 2)

	if rec.count("plan-1") != 1 || rec.count("plan-2") != 1 {
		t.Errorf("calls = %v, want each plan once", rec.calls)
	}
}

func TestRunPassMergesOverdueAttemptPlans(t *testing.T) {
	plans := &stubPlans{due: []*outreach.Plan{duePlan("plan-1")}}
	attempts := &stubAttempts{overdue: []*outreach.Attempt{
		// plan-1 appears via both sources, plan-3 only via its retry attempt.
		outreach.NewAttempt("att-1", "plan-1", 2, outreach.ChannelSMS, time.Now().Add(-time.Hour)),
		outreach.NewAttempt("att-2", "plan-3", 2, outreach.ChannelVoice, time.Now().Add(-time.Hour)),
	}}
	rec := newRecorder()
	w := newWorker(t, plans, attempts, &stubTaskRepo{}, rec)

	w.RunPass(context.Background())
	awaitDone(t, rec, 2)

	if rec.count("plan-1") != 1 {
		t.Errorf("plan-1 submitted %d times, want 1", rec.count("plan-1"))
	}
	if rec.count("plan-3") != 1 {
		t.Errorf("plan-3 submitted %d times, want 1", rec.count("plan-3"))
	}
}

func TestRunPassSkipsInFlightPlans(t *testing.T) {
	plans := &stubPlans{due: []*outreach.Plan{duePlan("plan-1")}}
	rec := newRecorder()
	rec.gate = make(chan struct{})
	w := newWorker(t, plans, &stubAttempts{}, &stubTaskRepo{}, rec)

	w.RunPass(context.Background())

	// Wait until the worker has claimed the plan.
	deadline := time.Now().Add(2 * time.Second)
	for rec.count("plan-1") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("orchestration never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Second pass while the first orchestration is still blocked.
	w.RunPass(context.Background())
	close(rec.gate)
	awaitDone(t, rec, 1)

	if got := rec.count("plan-1"); got != 1 {
		t.Errorf("plan-1 orchestrated %d times, want 1", got)
	}
}

func TestSweepExpiredTasks(t *testing.T) {
	overdue := escalation.NewTask("task-1", "ep-1", "att-1", []string{"HF_WEIGHT_GAIN"},
		triage.SeverityCritical, time.Now().Add(-2*time.Hour))
	repo := &stubTaskRepo{tasks: []*escalation.Task{overdue}}
	rec := newRecorder()
	w := newWorker(t, &stubPlans{}, &stubAttempts{}, repo, rec)

	w.SweepExpiredTasks(context.Background())

	if overdue.Status != escalation.StatusExpired {
		t.Errorf("task status = %s, want EXPIRED", overdue.Status)
	}
	if repo.updated != 1 {
		t.Errorf("expected 1 repo update, got %d", repo.updated)
	}
}
