/*
Package plugin defines the Cluster SPI: the pluggable boundary between
the Distributor Loop and whatever actually runs a task (Slurm, k8s, a
bare process pool). Generalized from pkg/runtime.ContainerRuntime's
create/start/kill/status verb set (a single containerd backend) into a
batch-oriented interface, since a distributor submits and polls whole
array batches at once rather than one container at a time.
*/
package plugin

import "context"

// Batch describes one array batch ready for submission.
type Batch struct {
	ArrayID               int64
	BatchNumber           int
	TaskInstanceIDs       []int64
	Command               string
	ResourceRequest       string
	TaskTemplateVersionID int64
}

// DistributorID is the cluster-native identifier (a Slurm job ID, a
// PID, a pod name) a plugin assigns to one submitted task instance.
type DistributorID string

// SubmissionResult pairs a task instance with the DistributorID the
// plugin assigned it, or an error if that one instance failed to
// submit while the rest of the batch succeeded.
type SubmissionResult struct {
	TaskInstanceID int64
	DistributorID  DistributorID
	Err            error
}

// Status is a poll result for one previously submitted instance.
type Status string

const (
	StatusRunning  Status = "running"
	StatusDone     Status = "done"
	StatusError    Status = "error"
	StatusResource Status = "resource_error"
	StatusUnknown  Status = "unknown"
)

// StatusReport is one plugin poll result.
type StatusReport struct {
	DistributorID  DistributorID
	Status         Status
	Description    string
	MaxrssBytes    *int64
	RuntimeSeconds *float64
}

// Cluster is the interface every submission backend implements. All
// three methods must return promptly or respect ctx's deadline: the
// Distributor Loop wraps every call in both a per-call timeout and a
// circuit breaker (spec §5).
type Cluster interface {
	// SubmitArray submits every task instance in batch and returns one
	// SubmissionResult per instance, in no particular order.
	SubmitArray(ctx context.Context, batch Batch) ([]SubmissionResult, error)
	// Poll reports the current status of previously submitted
	// distributor IDs.
	Poll(ctx context.Context, ids []DistributorID) ([]StatusReport, error)
	// Kill requests termination of the given distributor IDs. Best
	// effort: a plugin that cannot confirm termination should still
	// return nil and let the next poll observe the outcome.
	Kill(ctx context.Context, ids []DistributorID) error
}
