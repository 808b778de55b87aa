// Package metrics exposes the Prometheus vectors the Coordination API,
// Reaper, and Distributor Loop publish, all under the jobmon_*
// namespace.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Coordination API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobmon_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jobmon_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// FSM metrics
	TaskTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobmon_task_transitions_total",
			Help: "Total number of task status transitions by from/to status",
		},
		[]string{"from", "to"},
	)

	TaskInstanceTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobmon_task_instance_transitions_total",
			Help: "Total number of task-instance status transitions by from/to status",
		},
		[]string{"from", "to"},
	)

	// Reaper metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "jobmon_reaper_sweep_duration_seconds",
			Help:    "Time taken for a reaper sweep cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jobmon_reaper_sweep_cycles_total",
			Help: "Total number of reaper sweep cycles completed",
		},
	)

	WorkflowRunsReapedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jobmon_reaper_workflow_runs_reaped_total",
			Help: "Total number of workflow-runs terminalized by the reaper for stale heartbeats",
		},
	)

	TaskInstancesReapedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jobmon_reaper_task_instances_reaped_total",
			Help: "Total number of task-instances transitioned to X by the reaper",
		},
	)

	// Distributor metrics
	DistributorSubmitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "jobmon_distributor_submit_duration_seconds",
			Help:    "Time taken to submit an array batch to the cluster plugin",
			Buckets: prometheus.DefBuckets,
		},
	)

	DistributorPollDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "jobmon_distributor_poll_duration_seconds",
			Help:    "Time taken to poll the cluster plugin for outstanding distributor ids",
			Buckets: prometheus.DefBuckets,
		},
	)

	DistributorPluginErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobmon_distributor_plugin_errors_total",
			Help: "Total number of cluster plugin call failures by operation",
		},
		[]string{"operation"},
	)
)

func init() {
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(TaskTransitionsTotal)
	prometheus.MustRegister(TaskInstanceTransitionsTotal)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(WorkflowRunsReapedTotal)
	prometheus.MustRegister(TaskInstancesReapedTotal)
	prometheus.MustRegister(DistributorSubmitDuration)
	prometheus.MustRegister(DistributorPollDuration)
	prometheus.MustRegister(DistributorPluginErrorsTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}
