package reaper

import (
	"context"
	"sync"
	"time"

	"github.com/ihmeuw-scicomp/jobmon/internal/fsm"
	"github.com/ihmeuw-scicomp/jobmon/internal/jmlog"
	"github.com/ihmeuw-scicomp/jobmon/internal/metrics"
	"github.com/ihmeuw-scicomp/jobmon/internal/model"
	"github.com/ihmeuw-scicomp/jobmon/internal/store"
)

// leaseKey is the fixed pg_try_advisory_lock key every Reaper process
// contends for. One lease, one active sweeper at a time.
const leaseKey = 0x4a4f424d4f4e // "JOBMON" packed into an int64

// Config controls sweep cadence and staleness thresholds.
type Config struct {
	PollInterval time.Duration
	// WorkflowRunHeartbeatTimeout is how long a workflow-run may go
	// without a heartbeat before its non-terminal tasks are reaped.
	// Callers derive this from grace_period_multiplier * poll_interval;
	// the Reaper itself just applies the resulting duration.
	WorkflowRunHeartbeatTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.WorkflowRunHeartbeatTimeout <= 0 {
		c.WorkflowRunHeartbeatTimeout = 5 * time.Minute
	}
	return c
}

// Reaper sweeps the store on a fixed interval, terminalizing
// workflow-runs and task-instances the distributor has stopped
// reporting on.
type Reaper struct {
	store store.Store
	tasks *fsm.TaskInstanceEngine
	cfg   Config

	mu     sync.Mutex
	stopCh chan struct{}
}

// New constructs a Reaper. tasks must be the same TaskInstanceEngine
// the Coordination API uses, so aggregation semantics never diverge
// between the two callers.
func New(st store.Store, tasks *fsm.TaskInstanceEngine, cfg Config) *Reaper {
	return &Reaper{store: st, tasks: tasks, cfg: cfg.withDefaults(), stopCh: make(chan struct{})}
}

// Start runs the sweep loop in a goroutine until Stop is called or ctx
// is canceled.
func (r *Reaper) Start(ctx context.Context) {
	go r.run(ctx)
}

// Stop halts the sweep loop.
func (r *Reaper) Stop() {
	close(r.stopCh)
}

func (r *Reaper) run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	jmlog.WithComponent("reaper").Info().Dur("poll_interval", r.cfg.PollInterval).Msg("reaper started")

	for {
		select {
		case <-ticker.C:
			if err := r.sweep(ctx); err != nil {
				jmlog.WithComponent("reaper").Error().Err(err).Msg("sweep cycle failed")
			}
		case <-ctx.Done():
			jmlog.WithComponent("reaper").Info().Msg("reaper stopped")
			return
		case <-r.stopCh:
			jmlog.WithComponent("reaper").Info().Msg("reaper stopped")
			return
		}
	}
}

// sweep performs one reaping cycle, skipping entirely if this process
// doesn't currently hold the advisory lease.
func (r *Reaper) sweep(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	tx, err := r.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	held, err := tx.TryAdvisoryLock(ctx, leaseKey)
	if err != nil {
		return err
	}
	if !held {
		jmlog.WithComponent("reaper").Debug().Msg("lease held elsewhere, skipping cycle")
		return nil
	}
	defer func() {
		if err := tx.AdvisoryUnlock(ctx, leaseKey); err != nil {
			jmlog.WithComponent("reaper").Warn().Err(err).Msg("failed to release advisory lock")
		}
	}()

	if err := r.sweepWorkflowRuns(ctx, tx); err != nil {
		jmlog.WithComponent("reaper").Error().Err(err).Msg("sweepWorkflowRuns failed")
	}
	if err := r.sweepTaskInstances(ctx, tx); err != nil {
		jmlog.WithComponent("reaper").Error().Err(err).Msg("sweepTaskInstances failed")
	}

	return tx.Commit()
}

// sweepWorkflowRuns terminalizes runs whose heartbeat has gone stale
// (the owning distributor is presumed dead), mirroring
// reconcileNodes's now.Sub(LastHeartbeat) > threshold check.
func (r *Reaper) sweepWorkflowRuns(ctx context.Context, tx store.Tx) error {
	now, err := tx.Now(ctx)
	if err != nil {
		return err
	}
	cutoff := now.Add(-r.cfg.WorkflowRunHeartbeatTimeout)

	stale, err := tx.ListStaleWorkflowRuns(ctx, cutoff)
	if err != nil {
		return err
	}

	var reaped int
	for _, run := range stale {
		jmlog.WithComponent("reaper").Warn().
			Int64("workflow_run_id", run.ID).
			Time("last_heartbeat", run.HeartbeatDate).
			Msg("workflow run heartbeat stale, terminalizing")

		if err := tx.UpdateWorkflowRunStatus(ctx, run.ID, model.WorkflowRunColdResumed); err != nil {
			jmlog.WithComponent("reaper").Error().Err(err).Int64("workflow_run_id", run.ID).
				Msg("failed to terminalize stale workflow run")
			continue
		}
		if err := r.reapTaskInstancesForRun(ctx, tx, run.ID, now); err != nil {
			jmlog.WithComponent("reaper").Error().Err(err).Int64("workflow_run_id", run.ID).
				Msg("failed to reap task instances for stale workflow run")
			continue
		}
		reaped++
	}
	if reaped > 0 {
		metrics.WorkflowRunsReapedTotal.Add(float64(reaped))
	}
	return nil
}

// reapTaskInstancesForRun marks every still-active instance under a
// just-terminalized run as TINoHeartbeat and aggregates it onto its
// parent task, so a dead run never leaves a task row stuck in O or R.
func (r *Reaper) reapTaskInstancesForRun(ctx context.Context, tx store.Tx, workflowRunID int64, now time.Time) error {
	active, err := tx.ListTaskInstancesByStatus(ctx, workflowRunID, []model.TaskInstanceStatus{
		model.TILaunched, model.TIRunning, model.TIInstantiated,
	})
	if err != nil {
		return err
	}
	for _, ti := range active {
		if _, err := r.tasks.Aggregate(ctx, tx, ti, model.TINoHeartbeat); err != nil {
			return err
		}
	}
	return nil
}

// sweepTaskInstances reaps individual instances past their own
// report_by_date regardless of their run's heartbeat, catching a
// single wedged worker under an otherwise-healthy run. No grace
// window applies here: report_by_date is already the deadline a
// heartbeat must beat, so overdue means now() has passed it.
func (r *Reaper) sweepTaskInstances(ctx context.Context, tx store.Tx) error {
	now, err := tx.Now(ctx)
	if err != nil {
		return err
	}

	overdue, err := tx.ListTaskInstancesPastReportBy(ctx, now, []model.TaskInstanceStatus{
		model.TILaunched, model.TIRunning,
	})
	if err != nil {
		return err
	}

	for _, ti := range overdue {
		jmlog.WithComponent("reaper").Warn().
			Int64("task_instance_id", ti.ID).Time("report_by_date", ti.ReportByDate).
			Msg("task instance missed its report-by deadline")
		if _, err := r.tasks.Aggregate(ctx, tx, ti, model.TINoHeartbeat); err != nil {
			jmlog.WithComponent("reaper").Error().Err(err).Int64("task_instance_id", ti.ID).
				Msg("failed to reap overdue task instance")
			continue
		}
	}
	if len(overdue) > 0 {
		metrics.TaskInstancesReapedTotal.Add(float64(len(overdue)))
	}
	return nil
}
