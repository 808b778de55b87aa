package distributor

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/ihmeuw-scicomp/jobmon/internal/apiclient"
	"github.com/ihmeuw-scicomp/jobmon/internal/distributor/plugin"
	"github.com/ihmeuw-scicomp/jobmon/internal/jmlog"
	"github.com/ihmeuw-scicomp/jobmon/internal/metrics"
)

// ResourceScalingPolicy computes the next resource request string for
// a task that exhausted its current allotment with a Z (resource
// exhausted) outcome (spec §4.5), injected so callers can wire in
// cluster-specific scaling rules without changing the loop.
type ResourceScalingPolicy func(currentResourceRequest string, attempt int) string

// DefaultResourceScalingPolicy leaves the request unchanged; callers
// targeting a real cluster backend should supply something that
// actually scales memory/runtime.
func DefaultResourceScalingPolicy(current string, _ int) string { return current }

// Config controls one Loop instance.
type Config struct {
	WorkflowRunID     int64
	ArrayID           int64
	TaskResourcesID   int64
	HeartbeatInterval time.Duration
	PollInterval      time.Duration
	PluginTimeout     time.Duration
	KillWatchInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 2 * time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 15 * time.Second
	}
	if c.PluginTimeout <= 0 {
		c.PluginTimeout = 30 * time.Second
	}
	if c.KillWatchInterval <= 0 {
		c.KillWatchInterval = 15 * time.Second
	}
	return c
}

// submission tracks one in-flight task instance so the poll cycle can
// translate a plugin status report back into a Coordination API call.
type submission struct {
	taskInstanceID  int64
	distributorID   plugin.DistributorID
	batchNum        int
	resourceRequest string
	attempt         int
}

// Loop is the Distributor Loop: one goroutine per concern, coordinated
// entirely through channels and a shared, mutex-guarded submission
// table — no goroutine reaches into another's state directly.
type Loop struct {
	api     *apiclient.Client
	cluster plugin.Cluster
	breaker *gobreaker.CircuitBreaker[any]
	scaling ResourceScalingPolicy
	cfg     Config

	submitCh chan []int64
	killCh   chan []plugin.DistributorID
	stopCh   chan struct{}

	mu          sync.Mutex
	submissions map[plugin.DistributorID]*submission
}

// New constructs a Loop. scaling may be nil, in which case
// DefaultResourceScalingPolicy is used.
func New(api *apiclient.Client, cluster plugin.Cluster, scaling ResourceScalingPolicy, cfg Config) *Loop {
	if scaling == nil {
		scaling = DefaultResourceScalingPolicy
	}
	return &Loop{
		api:     api,
		cluster: cluster,
		scaling: scaling,
		cfg:     cfg.withDefaults(),

		breaker: gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
			Name:    "cluster-plugin",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),

		submitCh:    make(chan []int64, 64),
		killCh:      make(chan []plugin.DistributorID, 16),
		stopCh:      make(chan struct{}),
		submissions: make(map[plugin.DistributorID]*submission),
	}
}

// Submit enqueues task IDs for the next drain-submit cycle. While the
// channel's buffer is full it blocks until submitLoop takes the IDs or
// Stop is called.
func (l *Loop) Submit(taskIDs []int64) {
	select {
	case l.submitCh <- taskIDs:
	case <-l.stopCh:
	}
}

// Kill hands the given distributor IDs to killLoop, which asks the
// plugin to terminate them as soon as it receives them.
func (l *Loop) Kill(ids []plugin.DistributorID) {
	select {
	case l.killCh <- ids:
	case <-l.stopCh:
	}
}

// Start launches the loop's five goroutines. Stop (or ctx
// cancellation) tears all five down together.
func (l *Loop) Start(ctx context.Context) {
	go l.heartbeatLoop(ctx)
	go l.submitLoop(ctx)
	go l.pollLoop(ctx)
	go l.killLoop(ctx)
	go l.killWatchLoop(ctx)
}

// Stop halts all five goroutines.
func (l *Loop) Stop() {
	close(l.stopCh)
}

func (l *Loop) pluginCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, l.cfg.PluginTimeout)
}

// heartbeatLoop sends log_heartbeat for every task instance this loop
// has in flight, pushing out each instance's report_by_date. It does
// not refresh the workflow run's own heartbeat_date.
func (l *Loop) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.HeartbeatInterval)
	defer ticker.Stop()

	log := jmlog.WithComponent("distributor").With().Int64("array_id", l.cfg.ArrayID).Logger()
	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			ids := make([]int64, 0, len(l.submissions))
			for _, s := range l.submissions {
				ids = append(ids, s.taskInstanceID)
			}
			l.mu.Unlock()

			for _, tiID := range ids {
				if err := l.api.LogHeartbeat(ctx, tiID); err != nil {
					log.Warn().Err(err).Int64("task_instance_id", tiID).Msg("heartbeat failed")
				}
			}
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		}
	}
}

// submitLoop drains queued task IDs, asks the Coordination API to
// batch them, submits the batch to the plugin, and reports the
// resulting distributor IDs back.
func (l *Loop) submitLoop(ctx context.Context) {
	log := jmlog.WithComponent("distributor").With().Int64("array_id", l.cfg.ArrayID).Logger()

	for {
		select {
		case taskIDs := <-l.submitCh:
			if err := l.drainAndSubmit(ctx, taskIDs); err != nil {
				log.Error().Err(err).Int("num_tasks", len(taskIDs)).Msg("submit cycle failed")
			}
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		}
	}
}

func (l *Loop) drainAndSubmit(ctx context.Context, taskIDs []int64) error {
	queued, err := l.api.QueueTaskBatch(ctx, l.cfg.ArrayID, apiclient.QueueTaskBatchRequest{
		TaskIDs:         taskIDs,
		TaskResourcesID: l.cfg.TaskResourcesID,
		WorkflowRunID:   l.cfg.WorkflowRunID,
	})
	if err != nil {
		return err
	}
	if err := l.api.InstantiateTaskInstances(ctx, queued.TaskInstanceIDs); err != nil {
		return err
	}

	batch := plugin.Batch{
		ArrayID:         l.cfg.ArrayID,
		BatchNumber:     queued.BatchNumber,
		TaskInstanceIDs: queued.TaskInstanceIDs,
	}

	pctx, cancel := l.pluginCtx(ctx)
	defer cancel()
	timer := metrics.NewTimer()
	result, err := l.breaker.Execute(func() (any, error) {
		return l.cluster.SubmitArray(pctx, batch)
	})
	timer.ObserveDuration(metrics.DistributorSubmitDuration)
	if err != nil {
		metrics.DistributorPluginErrorsTotal.WithLabelValues("submit").Inc()
		for _, tiID := range queued.TaskInstanceIDs {
			if err := l.api.LogNoDistributorID(ctx, tiID); err != nil {
				jmlog.WithComponent("distributor").Error().Err(err).Int64("task_instance_id", tiID).
					Msg("failed to log missing distributor id")
			}
		}
		return err
	}

	results := result.([]plugin.SubmissionResult)
	l.mu.Lock()
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		l.submissions[r.DistributorID] = &submission{
			taskInstanceID: r.TaskInstanceID,
			distributorID:  r.DistributorID,
			batchNum:       queued.BatchNumber,
		}
	}
	l.mu.Unlock()

	for _, r := range results {
		if r.Err != nil {
			if err := l.api.LogNoDistributorID(ctx, r.TaskInstanceID); err != nil {
				jmlog.WithComponent("distributor").Error().Err(err).Int64("task_instance_id", r.TaskInstanceID).
					Msg("failed to log missing distributor id")
			}
			continue
		}
		if err := l.api.LogDistributorID(ctx, r.TaskInstanceID, string(r.DistributorID)); err != nil {
			jmlog.WithComponent("distributor").Error().Err(err).Int64("task_instance_id", r.TaskInstanceID).
				Msg("failed to log distributor id")
		}
	}

	return l.api.TransitionToLaunched(ctx, l.cfg.ArrayID, queued.BatchNumber, int(l.cfg.HeartbeatInterval.Seconds()))
}

// pollLoop periodically asks the plugin for the status of every
// outstanding submission and translates terminal statuses into
// Coordination API calls.
func (l *Loop) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	log := jmlog.WithComponent("distributor").With().Int64("array_id", l.cfg.ArrayID).Logger()
	for {
		select {
		case <-ticker.C:
			if err := l.pollOnce(ctx); err != nil {
				log.Error().Err(err).Msg("poll cycle failed")
			}
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		}
	}
}

func (l *Loop) pollOnce(ctx context.Context) error {
	l.mu.Lock()
	ids := make([]plugin.DistributorID, 0, len(l.submissions))
	for id := range l.submissions {
		ids = append(ids, id)
	}
	l.mu.Unlock()
	if len(ids) == 0 {
		return nil
	}

	pctx, cancel := l.pluginCtx(ctx)
	defer cancel()
	timer := metrics.NewTimer()
	result, err := l.breaker.Execute(func() (any, error) {
		return l.cluster.Poll(pctx, ids)
	})
	timer.ObserveDuration(metrics.DistributorPollDuration)
	if err != nil {
		metrics.DistributorPluginErrorsTotal.WithLabelValues("poll").Inc()
		return err
	}

	for _, report := range result.([]plugin.StatusReport) {
		l.mu.Lock()
		sub, ok := l.submissions[report.DistributorID]
		l.mu.Unlock()
		if !ok {
			continue
		}
		if report.Status == plugin.StatusRunning {
			continue
		}

		l.mu.Lock()
		delete(l.submissions, report.DistributorID)
		l.mu.Unlock()

		if err := l.reportTerminal(ctx, sub, report); err != nil {
			jmlog.WithComponent("distributor").Error().Err(err).
				Int64("task_instance_id", sub.taskInstanceID).Msg("failed to report terminal status")
		}
	}
	return nil
}

func (l *Loop) reportTerminal(ctx context.Context, sub *submission, report plugin.StatusReport) error {
	switch report.Status {
	case plugin.StatusDone:
		return l.api.LogDone(ctx, sub.taskInstanceID, report.MaxrssBytes, report.RuntimeSeconds)
	case plugin.StatusResource:
		sub.attempt++
		sub.resourceRequest = l.scaling(sub.resourceRequest, sub.attempt)
		return l.api.LogError(ctx, "log_error_worker_node", sub.taskInstanceID, report.Description, string(report.Status),
			report.MaxrssBytes, report.RuntimeSeconds)
	case plugin.StatusError:
		return l.api.LogError(ctx, "log_known_error", sub.taskInstanceID, report.Description, string(report.Status),
			report.MaxrssBytes, report.RuntimeSeconds)
	default:
		return l.api.LogError(ctx, "log_unknown_error", sub.taskInstanceID, report.Description, string(report.Status),
			report.MaxrssBytes, report.RuntimeSeconds)
	}
}

// killWatchLoop periodically asks the Coordination API which of this
// run's task instances are parked in K (TIKillSelf) and forwards the
// ones this loop actually submitted to killLoop. A workflow may span
// several distributors (one per array); each only acts on the
// distributor IDs it has in flight.
func (l *Loop) killWatchLoop(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.KillWatchInterval)
	defer ticker.Stop()

	log := jmlog.WithComponent("distributor").With().Int64("array_id", l.cfg.ArrayID).Logger()
	for {
		select {
		case <-ticker.C:
			reqs, err := l.api.ListKillRequests(ctx, l.cfg.WorkflowRunID)
			if err != nil {
				log.Warn().Err(err).Msg("list kill requests failed")
				continue
			}
			l.mu.Lock()
			var ids []plugin.DistributorID
			for _, req := range reqs {
				if _, ok := l.submissions[plugin.DistributorID(req.DistributorID)]; ok {
					ids = append(ids, plugin.DistributorID(req.DistributorID))
				}
			}
			l.mu.Unlock()
			if len(ids) > 0 {
				l.Kill(ids)
			}
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		}
	}
}

// killLoop watches for kill requests, asks the plugin to terminate
// them, and tells the Coordination API to finalize the affected
// batches once the plugin confirms (or at least accepts) the kill.
func (l *Loop) killLoop(ctx context.Context) {
	log := jmlog.WithComponent("distributor").With().Int64("array_id", l.cfg.ArrayID).Logger()
	for {
		select {
		case ids := <-l.killCh:
			pctx, cancel := l.pluginCtx(ctx)
			_, err := l.breaker.Execute(func() (any, error) {
				return nil, l.cluster.Kill(pctx, ids)
			})
			cancel()
			if err != nil {
				metrics.DistributorPluginErrorsTotal.WithLabelValues("kill").Inc()
				log.Error().Err(err).Int("num_ids", len(ids)).Msg("plugin kill failed")
				continue
			}

			l.mu.Lock()
			batches := map[int]bool{}
			for _, id := range ids {
				if sub, ok := l.submissions[id]; ok {
					batches[sub.batchNum] = true
					delete(l.submissions, id)
				}
			}
			l.mu.Unlock()

			for batchNum := range batches {
				if err := l.api.TransitionToKilled(ctx, l.cfg.ArrayID, batchNum); err != nil {
					log.Error().Err(err).Int("batch_number", batchNum).Msg("transition to killed failed")
				}
			}
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		}
	}
}
