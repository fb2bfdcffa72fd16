package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/carebridge/go-oce/internal/channel"
	"github.com/carebridge/go-oce/internal/dialogue"
	"github.com/carebridge/go-oce/internal/domain/outreach"
	"github.com/carebridge/go-oce/internal/escalation"
	"github.com/carebridge/go-oce/internal/triage"
)

// --- in-memory fakes ---

type memPlans struct {
	plans map[string]*outreach.Plan
}

func newMemPlans(ps ...*outreach.Plan) *memPlans {
	m := &memPlans{plans: map[string]*outreach.Plan{}}
	for _, p := range ps {
		m.plans[p.ID] = p
	}
	return m
}

func (m *memPlans) Create(_ context.Context, p *outreach.Plan) error {
	m.plans[p.ID] = p
	return nil
}

func (m *memPlans) FindByID(_ context.Context, id string) (*outreach.Plan, error) {
	p, ok := m.plans[id]
	if !ok {
		return nil, outreach.ErrNotFound
	}
	return p, nil
}

func (m *memPlans) Update(_ context.Context, p *outreach.Plan) error {
	m.plans[p.ID] = p
	return nil
}

func (m *memPlans) ListDue(_ context.Context, now time.Time, limit int) ([]*outreach.Plan, error) {
	var due []*outreach.Plan
	for _, p := range m.plans {
		if !p.Status.Terminal() && p.WindowContains(now) {
			due = append(due, p)
		}
	}
	return due, nil
}

type memAttempts struct {
	attempts []*outreach.Attempt
}

func (m *memAttempts) Create(_ context.Context, a *outreach.Attempt) error {
	m.attempts = append(m.attempts, a)
	return nil
}

func (m *memAttempts) FindByID(_ context.Context, id string) (*outreach.Attempt, error) {
	for _, a := range m.attempts {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, outreach.ErrNotFound
}

func (m *memAttempts) Update(_ context.Context, a *outreach.Attempt) error {
	for i, existing := range m.attempts {
		if existing.ID == a.ID {
			m.attempts[i] = a
			return nil
		}
	}
	return outreach.ErrNotFound
}

func (m *memAttempts) ListByPlan(_ context.Context, planID string) ([]*outreach.Attempt, error) {
	var out []*outreach.Attempt
	for _, a := range m.attempts {
		if a.PlanID == planID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memAttempts) ListOverdueScheduled(_ context.Context, now time.Time, limit int) ([]*outreach.Attempt, error) {
	var out []*outreach.Attempt
	for _, a := range m.attempts {
		if a.Due(now) {
			out = append(out, a)
		}
	}
	return out, nil
}

type memResponses struct {
	created []*outreach.Response
	updated []*outreach.Response
}

func (m *memResponses) Create(_ context.Context, r *outreach.Response) error {
	m.created = append(m.created, r)
	return nil
}

func (m *memResponses) Update(_ context.Context, r *outreach.Response) error {
	m.updated = append(m.updated, r)
	return nil
}

func (m *memResponses) ListByAttempt(_ context.Context, attemptID string) ([]*outreach.Response, error) {
	var out []*outreach.Response
	for _, r := range m.created {
		if r.AttemptID == attemptID {
			out = append(out, r)
		}
	}
	return out, nil
}

type memInteractions struct {
	interactions []*outreach.Interaction
}

func (m *memInteractions) Create(_ context.Context, i *outreach.Interaction) error {
	m.interactions = append(m.interactions, i)
	return nil
}

func (m *memInteractions) Update(_ context.Context, i *outreach.Interaction) error {
	return nil
}

type memTasks struct {
	tasks []*escalation.Task
}

func (m *memTasks) Create(_ context.Context, t *escalation.Task) error {
	m.tasks = append(m.tasks, t)
	return nil
}

func (m *memTasks) FindByID(_ context.Context, id string) (*escalation.Task, error) {
	for _, t := range m.tasks {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, escalation.ErrNotFound
}

func (m *memTasks) Update(_ context.Context, t *escalation.Task) error { return nil }

func (m *memTasks) ListOpen(_ context.Context, limit int) ([]*escalation.Task, error) {
	return m.tasks, nil
}

func (m *memTasks) ListOverdue(_ context.Context, now time.Time, limit int) ([]*escalation.Task, error) {
	return nil, nil
}

type stubQuestions struct {
	script []dialogue.Question
	calls  int
}

func (s *stubQuestions) ListScript(_ context.Context, condition, language string) ([]dialogue.Question, error) {
	s.calls++
	return s.script, nil
}

type stubRules struct {
	rules []triage.RedFlagRule
}

func (s *stubRules) ListActiveByCondition(_ context.Context, condition string) ([]triage.RedFlagRule, error) {
	return s.rules, nil
}

// scriptedTransport replays canned replies; Send failures are injectable
type scriptedTransport struct {
	kind    outreach.Channel
	replies []string
	next    int
	sendErr error
	sent    int
}

func (s *scriptedTransport) Kind() outreach.Channel { return s.kind }

func (s *scriptedTransport) Send(_ context.Context, _, _ string) error {
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent++
	return nil
}

func (s *scriptedTransport) AwaitReply(ctx context.Context, _ string) (string, error) {
	if s.next >= len(s.replies) {
		return "", channel.ErrNoReply
	}
	reply := s.replies[s.next]
	s.next++
	return reply, nil
}

// --- fixture ---

type fixture struct {
	orch      *Orchestrator
	plans     *memPlans
	attempts  *memAttempts
	responses *memResponses
	tasks     *memTasks
	transport *scriptedTransport
	questions *stubQuestions
}

func hfPlan() *outreach.Plan {
	plan := outreach.NewPlan("plan-1", "ep-1", "pat-1", "+15550100", "HEART_FAILURE", "en")
	plan.WindowStart = time.Now().Add(-time.Hour)
	plan.WindowEnd = time.Now().Add(72 * time.Hour)
	return plan
}

func hfRules() []triage.RedFlagRule {
	three := 3.0
	return []triage.RedFlagRule{{
		Code:         "HF_WEIGHT_GAIN",
		Condition:    "HEART_FAILURE",
		QuestionCode: "WEIGHT_CHANGE_LBS",
		Operator:     triage.OpGTE,
		ValueNumber:  &three,
		Severity:     triage.SeverityHigh,
		Active:       true,
	}}
}

func newFixture(plan *outreach.Plan, replies []string, rules []triage.RedFlagRule) *fixture {
	f := &fixture{
		plans:     newMemPlans(plan),
		attempts:  &memAttempts{},
		responses: &memResponses{},
		tasks:     &memTasks{},
		transport: &scriptedTransport{kind: outreach.ChannelSMS, replies: replies},
		questions: &stubQuestions{script: []dialogue.Question{
			{Code: "WEIGHT_CHANGE_LBS", Version: 1, Ordinal: 1, Text: "How many pounds has your weight changed?", ResponseType: outreach.ResponseNumeric},
			{Code: "SHORTNESS_OF_BREATH", Version: 1, Ordinal: 2, Text: "Are you more short of breath than usual?", ResponseType: outreach.ResponseYesNo},
		}},
	}

	selector := func(ch outreach.Channel) (channel.Transport, error) {
		return f.transport, nil
	}

	f.orch = New(DefaultConfig(), Deps{
		Plans:        f.plans,
		Attempts:     f.attempts,
		Responses:    f.responses,
		Interactions: &memInteractions{},
		Questions:    f.questions,
		Rules:        &stubRules{rules: rules},
		Evaluator:    triage.NewEvaluator(nil),
		Tasks:        escalation.NewManager(f.tasks, nil, nil),
		Runner:       dialogue.NewRunner(dialogue.DefaultConfig(), nil, nil, nil),
		TransportFor: selector,
	}, nil)
	return f
}

// --- tests ---

func TestChannelPolicy(t *testing.T) {
	plan := hfPlan()
	plan.PreferredChannel = outreach.ChannelVoice
	plan.FallbackChannel = outreach.ChannelSMS

	cases := []struct {
		prior int
		want  outreach.Channel
	}{
		{0, outreach.ChannelVoice}, // preferred
		{1, outreach.ChannelSMS},   // fallback
		{2, outreach.ChannelSMS},   // parity: even
		{3, outreach.ChannelVoice}, // parity: odd
		{4, outreach.ChannelSMS},
	}
	for _, c := range cases {
		if got := channelFor(plan, c.prior); got != c.want {
			t.Errorf("prior=%d: got %s, want %s", c.prior, got, c.want)
		}
	}
}

func TestOrchestrateSuccessWithRedFlagEscalates(t *testing.T) {
	plan := hfPlan()
	f := newFixture(plan, []string{"5", "yes"}, hfRules())

	if err := f.orch.Orchestrate(context.Background(), plan.ID); err != nil {
		t.Fatalf("orchestrate failed: %v", err)
	}

	if plan.Status != outreach.PlanCompleted {
		t.Errorf("plan status = %s, want COMPLETED", plan.Status)
	}
	if len(f.attempts.attempts) != 1 {
		t.Fatalf("expected 1 attempt, got %d", len(f.attempts.attempts))
	}
	attempt := f.attempts.attempts[0]
	if attempt.Status != outreach.AttemptCompleted || !attempt.Connected {
		t.Errorf("attempt = %s connected=%v", attempt.Status, attempt.Connected)
	}

	if len(f.responses.created) != 2 {
		t.Fatalf("expected 2 persisted responses, got %d", len(f.responses.created))
	}

	// The weight answer crossed the 3lb threshold: a HIGH task exists even
	// though the plan itself completed.
	if len(f.tasks.tasks) != 1 {
		t.Fatalf("expected 1 escalation task, got %d", len(f.tasks.tasks))
	}
	task := f.tasks.tasks[0]
	if task.Severity != triage.SeverityHigh {
		t.Errorf("task severity = %s, want HIGH", task.Severity)
	}
	if len(task.ReasonCodes) != 1 || task.ReasonCodes[0] != "HF_WEIGHT_GAIN" {
		t.Errorf("reason codes = %v", task.ReasonCodes)
	}

	// The matched response carries the annotation and was re-persisted.
	if len(f.responses.updated) != 1 {
		t.Fatalf("expected 1 annotated response update, got %d", len(f.responses.updated))
	}
	if f.responses.updated[0].RedFlagCode != "HF_WEIGHT_GAIN" {
		t.Errorf("annotation = %+v", f.responses.updated[0])
	}
}

func TestOrchestrateCleanCheckInCreatesNoTask(t *testing.T) {
	plan := hfPlan()
	f := newFixture(plan, []string{"1", "no"}, hfRules())

	if err := f.orch.Orchestrate(context.Background(), plan.ID); err != nil {
		t.Fatalf("orchestrate failed: %v", err)
	}
	if plan.Status != outreach.PlanCompleted {
		t.Errorf("plan status = %s, want COMPLETED", plan.Status)
	}
	if len(f.tasks.tasks) != 0 {
		t.Errorf("no rule matched, no task expected, got %d", len(f.tasks.tasks))
	}
}

func TestOrchestrateFailureSchedulesRetryOnFallbackChannel(t *testing.T) {
	plan := hfPlan()
	f := newFixture(plan, nil, nil)
	f.transport.sendErr = errors.New("gateway down")

	if err := f.orch.Orchestrate(context.Background(), plan.ID); err != nil {
		t.Fatalf("orchestrate failed: %v", err)
	}

	if len(f.attempts.attempts) != 2 {
		t.Fatalf("expected failed attempt + scheduled retry, got %d", len(f.attempts.attempts))
	}
	failed, retry := f.attempts.attempts[0], f.attempts.attempts[1]
	if failed.Status != outreach.AttemptFailed {
		t.Errorf("first attempt = %s, want FAILED", failed.Status)
	}
	if retry.Status != outreach.AttemptScheduled {
		t.Errorf("retry = %s, want SCHEDULED", retry.Status)
	}
	if retry.Channel != plan.FallbackChannel {
		t.Errorf("retry channel = %s, want fallback %s", retry.Channel, plan.FallbackChannel)
	}
	if got := retry.ScheduledAt.Sub(failed.ScheduledAt); got != 24*time.Hour {
		t.Errorf("retry backoff = %s, want 24h", got)
	}
	if plan.Status != outreach.PlanScheduled {
		t.Errorf("plan status = %s, want SCHEDULED", plan.Status)
	}
}

func TestOrchestrateExhaustionMarksNoContact(t *testing.T) {
	plan := hfPlan()
	plan.MaxAttempts = 2
	f := newFixture(plan, nil, nil)

	past := time.Now().Add(-48 * time.Hour)
	for i := 1; i <= 2; i++ {
		a := outreach.NewAttempt(
			fmt.Sprintf("att-old-%d", i), plan.ID, i, outreach.ChannelSMS, past.Add(time.Duration(i)*time.Hour))
		a.Finish(outreach.AttemptFailed, false, past)
		f.attempts.attempts = append(f.attempts.attempts, a)
	}

	if err := f.orch.Orchestrate(context.Background(), plan.ID); err != nil {
		t.Fatalf("orchestrate failed: %v", err)
	}
	if plan.Status != outreach.PlanNoContact {
		t.Errorf("plan status = %s, want NO_CONTACT", plan.Status)
	}
	if len(f.attempts.attempts) != 2 {
		t.Errorf("no new attempts past the budget, got %d", len(f.attempts.attempts))
	}
}

func TestOrchestrateIsIdempotentWhileAttemptInFlight(t *testing.T) {
	plan := hfPlan()
	f := newFixture(plan, nil, nil)

	inflight := outreach.NewAttempt("att-1", plan.ID, 1, outreach.ChannelSMS, time.Now())
	inflight.Start(time.Now())
	f.attempts.attempts = append(f.attempts.attempts, inflight)

	if err := f.orch.Orchestrate(context.Background(), plan.ID); err != nil {
		t.Fatalf("orchestrate failed: %v", err)
	}
	if len(f.attempts.attempts) != 1 {
		t.Errorf("in-flight attempt must short-circuit, got %d attempts", len(f.attempts.attempts))
	}
	if f.questions.calls != 0 {
		t.Error("no dialogue should run while an attempt is in flight")
	}
}

func TestOrchestrateLeavesFutureScheduledAttemptAlone(t *testing.T) {
	plan := hfPlan()
	f := newFixture(plan, nil, nil)

	future := outreach.NewAttempt("att-1", plan.ID, 1, outreach.ChannelSMS, time.Now().Add(12*time.Hour))
	f.attempts.attempts = append(f.attempts.attempts, future)

	if err := f.orch.Orchestrate(context.Background(), plan.ID); err != nil {
		t.Fatalf("orchestrate failed: %v", err)
	}
	if future.Status != outreach.AttemptScheduled {
		t.Errorf("future attempt mutated: %s", future.Status)
	}
	if f.questions.calls != 0 {
		t.Error("no dialogue should run before the scheduled time")
	}
}

func TestOrchestrateExecutesDueScheduledAttempt(t *testing.T) {
	plan := hfPlan()
	f := newFixture(plan, []string{"1", "no"}, nil)

	due := outreach.NewAttempt("att-1", plan.ID, 1, outreach.ChannelSMS, time.Now().Add(-time.Minute))
	f.attempts.attempts = append(f.attempts.attempts, due)

	if err := f.orch.Orchestrate(context.Background(), plan.ID); err != nil {
		t.Fatalf("orchestrate failed: %v", err)
	}
	if len(f.attempts.attempts) != 1 {
		t.Fatalf("due attempt must be reused, got %d attempts", len(f.attempts.attempts))
	}
	if due.Status != outreach.AttemptCompleted {
		t.Errorf("due attempt = %s, want COMPLETED", due.Status)
	}
	if plan.Status != outreach.PlanCompleted {
		t.Errorf("plan status = %s, want COMPLETED", plan.Status)
	}
}

func TestOrchestrateRespectsActiveHours(t *testing.T) {
	plan := hfPlan()
	plan.Timezone = "UTC"
	plan.ActiveHourStart = 9
	plan.ActiveHourEnd = 20
	f := newFixture(plan, []string{"1", "no"}, nil)

	// Pin the clock to 03:00 UTC, outside the gate.
	f.orch.now = func() time.Time {
		return time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)
	}

	if err := f.orch.Orchestrate(context.Background(), plan.ID); err != nil {
		t.Fatalf("orchestrate failed: %v", err)
	}
	if len(f.attempts.attempts) != 0 {
		t.Errorf("no attempt should start outside active hours, got %d", len(f.attempts.attempts))
	}

	// Inside the gate the same plan proceeds.
	f.orch.now = func() time.Time {
		return time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	}
	if err := f.orch.Orchestrate(context.Background(), plan.ID); err != nil {
		t.Fatalf("orchestrate failed: %v", err)
	}
	if len(f.attempts.attempts) != 1 {
		t.Errorf("attempt expected inside active hours, got %d", len(f.attempts.attempts))
	}
}

func TestOrchestrateTerminalPlanIsNoop(t *testing.T) {
	plan := hfPlan()
	plan.Status = outreach.PlanCompleted
	f := newFixture(plan, nil, nil)

	if err := f.orch.Orchestrate(context.Background(), plan.ID); err != nil {
		t.Fatalf("orchestrate failed: %v", err)
	}
	if len(f.attempts.attempts) != 0 {
		t.Error("terminal plan must not produce attempts")
	}
}
