// Package scheduler runs the periodic passes that keep outreach moving:
// due plans are fanned across a worker pool and overdue escalation tasks
// are expired past their SLA.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/carebridge/go-oce/internal/domain/outreach"
	"github.com/carebridge/go-oce/internal/escalation"
	"github.com/carebridge/go-oce/internal/observability/metrics"
	"github.com/carebridge/go-oce/pkg/workerpool"
)

// Config holds scheduler configuration
type Config struct {
	// PassInterval is how often due plans are collected
	PassInterval time.Duration
	// BatchSize caps the plans picked up per pass
	BatchSize int
	// SLASweepInterval is how often overdue tasks are expired
	SLASweepInterval time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		PassInterval:     time.Minute,
		BatchSize:        500,
		SLASweepInterval: 5 * time.Minute,
	}
}

// OrchestrateFunc runs one contact cycle for a plan
type OrchestrateFunc func(ctx context.Context, planID string) error

// Worker drives the periodic scheduling passes
type Worker struct {
	config      Config
	plans       outreach.PlanRepository
	attempts    outreach.AttemptRepository
	tasks       *escalation.Manager
	orchestrate OrchestrateFunc
	pool        *workerpool.Pool
	metrics     *metrics.Metrics
	logger      *zap.Logger
	now         func() time.Time

	// inFlight guards against double-submitting a plan whose previous
	// orchestration is still running when the next pass starts.
	mu       sync.Mutex
	inFlight map[string]struct{}
}

// New creates a scheduler worker. Metrics may be nil.
func New(cfg Config, plans outreach.PlanRepository, attempts outreach.AttemptRepository, tasks *escalation.Manager, orchestrate OrchestrateFunc, poolCfg workerpool.Config, m *metrics.Metrics, logger *zap.Logger) (*Worker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PassInterval <= 0 {
		cfg.PassInterval = DefaultConfig().PassInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.SLASweepInterval <= 0 {
		cfg.SLASweepInterval = DefaultConfig().SLASweepInterval
	}

	w := &Worker{
		config:      cfg,
		plans:       plans,
		attempts:    attempts,
		tasks:       tasks,
		orchestrate: orchestrate,
		metrics:     m,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
		inFlight:    make(map[string]struct{}),
	}

	pool, err := workerpool.New(poolCfg, w.work, logger)
	if err != nil {
		return nil, err
	}
	w.pool = pool
	return w, nil
}

// Run blocks, executing passes until the context is cancelled
func (w *Worker) Run(ctx context.Context) error {
	w.pool.Start()
	defer w.pool.Stop()

	go w.drainResults()

	passTicker := time.NewTicker(w.config.PassInterval)
	defer passTicker.Stop()
	slaTicker := time.NewTicker(w.config.SLASweepInterval)
	defer slaTicker.Stop()

	w.logger.Info("scheduler started",
		zap.Duration("pass_interval", w.config.PassInterval),
		zap.Int("batch_size", w.config.BatchSize))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("scheduler stopping")
			return ctx.Err()
		case <-passTicker.C:
			w.RunPass(ctx)
		case <-slaTicker.C:
			w.SweepExpiredTasks(ctx)
		}
	}
}

// RunPass collects plans that need attention and submits each to the pool.
// A plan already in flight from a previous pass is skipped; orchestration
// itself is idempotent, so a duplicate submission would be harmless but
// wasteful.
func (w *Worker) RunPass(ctx context.Context) {
	start := time.Now()
	now := w.now()

	submitted := 0
	for _, planID := range w.collectDue(ctx, now) {
		if !w.claim(planID) {
			continue
		}
		task := &workerpool.Task{ID: planID, Payload: planID, Context: ctx}
		if err := w.pool.Submit(task); err != nil {
			w.release(planID)
			w.logger.Warn("failed to submit plan",
				zap.String("plan_id", planID), zap.Error(err))
			continue
		}
		submitted++
	}

	if w.metrics != nil {
		w.metrics.SchedulerPassDuration.Observe(time.Since(start).Seconds())
	}
	if submitted > 0 {
		w.logger.Info("scheduler pass complete",
			zap.Int("submitted", submitted),
			zap.Duration("elapsed", time.Since(start)))
	}
}

// collectDue merges plans inside their contact window with plans whose
// scheduled retry attempt has come due, deduplicated by plan ID.
func (w *Worker) collectDue(ctx context.Context, now time.Time) []string {
	seen := make(map[string]struct{})
	var ids []string

	due, err := w.plans.ListDue(ctx, now, w.config.BatchSize)
	if err != nil {
		w.logger.Error("failed to list due plans", zap.Error(err))
	}
	for _, plan := range due {
		if _, ok := seen[plan.ID]; ok {
			continue
		}
		seen[plan.ID] = struct{}{}
		ids = append(ids, plan.ID)
	}

	overdue, err := w.attempts.ListOverdueScheduled(ctx, now, w.config.BatchSize)
	if err != nil {
		w.logger.Error("failed to list overdue attempts", zap.Error(err))
	}
	for _, attempt := range overdue {
		if _, ok := seen[attempt.PlanID]; ok {
			continue
		}
		seen[attempt.PlanID] = struct{}{}
		ids = append(ids, attempt.PlanID)
	}

	return ids
}

// SweepExpiredTasks expires escalation tasks past their SLA deadline
func (w *Worker) SweepExpiredTasks(ctx context.Context) {
	expired, err := w.tasks.ExpireOverdue(ctx, w.now())
	if err != nil {
		w.logger.Error("SLA sweep failed", zap.Error(err))
		return
	}
	if expired > 0 {
		w.logger.Warn("SLA sweep expired tasks", zap.Int("count", expired))
	}
}

func (w *Worker) work(ctx context.Context, task *workerpool.Task) *workerpool.Result {
	planID := task.Payload.(string)
	defer w.release(planID)

	if err := w.orchestrate(ctx, planID); err != nil {
		return &workerpool.Result{TaskID: task.ID, Success: false, Error: err}
	}
	return &workerpool.Result{TaskID: task.ID, Success: true}
}

// drainResults keeps the pool's result channel from backing up. Failures
// were already logged at the source; one plan failing never blocks a pass.
func (w *Worker) drainResults() {
	for range w.pool.Results() {
	}
}

func (w *Worker) claim(planID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.inFlight[planID]; ok {
		return false
	}
	w.inFlight[planID] = struct{}{}
	return true
}

func (w *Worker) release(planID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.inFlight, planID)
}
