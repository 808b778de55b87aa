/*
Package store defines the Persistent Store contract (spec §4.1): the
durable record of every Jobmon entity, with the row-level locking and
bulk-update primitives the FSM Engine needs to enforce legal status
transitions under concurrent writers.

Package postgres (a sibling package) is the only production
implementation. Package storetest is an in-memory fake used by unit
tests in internal/fsm and internal/api so FSM legality can be exercised
without a live database.

Every state-mutating caller follows the same shape:

	tx, err := st.BeginTx(ctx)
	if err != nil { return err }
	defer tx.Rollback() // no-op once Commit succeeds
	...
	return tx.Commit()

No Tx may be used outside the scope in which it was acquired — the
"workflow.py:380-395" anti-pattern spec §4.3 calls out by name.
*/
package store

import (
	"context"
	"time"

	"github.com/ihmeuw-scicomp/jobmon/internal/model"
)

// Store is the top-level handle a process holds for its lifetime.
type Store interface {
	BeginTx(ctx context.Context) (Tx, error)
	Close() error
}

// Tx is one short transaction: begun by BeginTx, ended by exactly one
// of Commit or Rollback.
type Tx interface {
	Commit() error
	Rollback() error

	// Now returns the store's authoritative clock (spec §4.1: "avoid
	// clock skew between app hosts").
	Now(ctx context.Context) (time.Time, error)

	ToolStore
	ToolVersionStore
	TaskTemplateStore
	NodeStore
	DAGStore
	WorkflowStore
	WorkflowRunStore
	TaskStore
	ArrayStore
	TaskInstanceStore
	LeaseStore
}

type ToolStore interface {
	CreateTool(ctx context.Context, t *model.Tool) error
	GetToolByName(ctx context.Context, name string) (*model.Tool, error)
}

type ToolVersionStore interface {
	CreateToolVersion(ctx context.Context, tv *model.ToolVersion) error
	GetToolVersion(ctx context.Context, id int64) (*model.ToolVersion, error)
}

type TaskTemplateStore interface {
	CreateTaskTemplate(ctx context.Context, tt *model.TaskTemplate) error
	GetTaskTemplateByName(ctx context.Context, toolID int64, name string) (*model.TaskTemplate, error)
	CreateTaskTemplateVersion(ctx context.Context, ttv *model.TaskTemplateVersion) error
	GetTaskTemplateVersion(ctx context.Context, id int64) (*model.TaskTemplateVersion, error)
	ListTaskTemplateDAG(ctx context.Context, workflowID int64) ([]TaskTemplateEdge, error)
}

// TaskTemplateEdge is the shape returned by the
// GET /task_template_dag query endpoint (spec §6).
type TaskTemplateEdge struct {
	Name                     string `json:"name" db:"name"`
	DownstreamTaskTemplateID int64  `json:"downstream_task_template_id" db:"downstream_task_template_id"`
}

type NodeStore interface {
	CreateNode(ctx context.Context, n *model.Node) error
	GetNodeByHash(ctx context.Context, taskTemplateVersionID int64, nodeArgsHash string) (*model.Node, error)
	CreateEdge(ctx context.Context, e *model.Edge) error
	ListUpstreamNodes(ctx context.Context, dagID, nodeID int64) ([]*model.Node, error)
	ListDownstreamNodes(ctx context.Context, dagID, nodeID int64) ([]*model.Node, error)
}

type DAGStore interface {
	CreateDAG(ctx context.Context, d *model.DAG) error
	GetDAGByHash(ctx context.Context, hash string) (*model.DAG, error)
}

type WorkflowStore interface {
	CreateWorkflow(ctx context.Context, w *model.Workflow) error
	GetWorkflow(ctx context.Context, id int64) (*model.Workflow, error)
	GetWorkflowByHash(ctx context.Context, hash string) (*model.Workflow, error)
	UpdateWorkflowStatus(ctx context.Context, id int64, status model.WorkflowStatus) error
	UpdateWorkflowMaxConcurrentlyRunning(ctx context.Context, id int64, max int) error
	SetWorkflowResumableHot(ctx context.Context, id int64, resumable bool) error
}

type WorkflowRunStore interface {
	CreateWorkflowRun(ctx context.Context, wr *model.WorkflowRun) error
	GetWorkflowRun(ctx context.Context, id int64) (*model.WorkflowRun, error)
	GetNonTerminalWorkflowRun(ctx context.Context, workflowID int64) (*model.WorkflowRun, error)
	UpdateWorkflowRunHeartbeat(ctx context.Context, id int64, at time.Time) error
	UpdateWorkflowRunStatus(ctx context.Context, id int64, status model.WorkflowRunStatus) error
	ListStaleWorkflowRuns(ctx context.Context, cutoff time.Time) ([]*model.WorkflowRun, error)
}

type TaskStore interface {
	CreateTask(ctx context.Context, t *model.Task) error
	GetTask(ctx context.Context, id int64) (*model.Task, error)
	LockTaskForUpdate(ctx context.Context, id int64) (*model.Task, error)
	UpdateTaskStatus(ctx context.Context, id int64, status model.TaskStatus, statusDate time.Time) error
	IncrementTaskAttempts(ctx context.Context, id int64) error
	UpdateTaskResourceRequest(ctx context.Context, id int64, resourceRequest string) error
	AppendTaskStatusAudit(ctx context.Context, a *model.TaskStatusAudit) error
	ListTaskStatusAudit(ctx context.Context, taskID int64) ([]*model.TaskStatusAudit, error)
	ListTasksByWorkflow(ctx context.Context, workflowID int64) ([]*model.Task, error)
	ListTasksForResume(ctx context.Context, workflowID int64, excludeRunning bool) ([]*model.Task, error)
	BulkResetTasksToRegistering(ctx context.Context, taskIDs []int64, at time.Time) error
	CountTasksByStatus(ctx context.Context, workflowID int64) (map[model.TaskStatus]int, error)
	BulkUpdateTaskStatus(ctx context.Context, ids []int64, fromAny []model.TaskStatus, to model.TaskStatus, at time.Time) ([]int64, error)
	ListDownstreamTaskIDs(ctx context.Context, taskIDs []int64) ([]int64, error)
}

type ArrayStore interface {
	GetArray(ctx context.Context, id int64) (*model.Array, error)
	CreateArray(ctx context.Context, a *model.Array) error
	UpdateArrayMaxConcurrentlyRunning(ctx context.Context, arrayID int64, max int) error
	NextArrayBatchNum(ctx context.Context, arrayID int64) (int, error)
	LockArrayTasksInStatuses(ctx context.Context, arrayID int64, statuses []model.TaskStatus) ([]*model.Task, error)
	ListArrayBatchTaskIDs(ctx context.Context, arrayID int64, batchNum int) ([]int64, error)
}

type TaskInstanceStore interface {
	CreateTaskInstance(ctx context.Context, ti *model.TaskInstance) error
	GetTaskInstance(ctx context.Context, id int64) (*model.TaskInstance, error)
	LockTaskInstanceForUpdate(ctx context.Context, id int64) (*model.TaskInstance, error)
	UpdateTaskInstanceStatus(ctx context.Context, id int64, status model.TaskInstanceStatus, at time.Time) error
	UpdateTaskInstanceReportByDate(ctx context.Context, id int64, at time.Time) error
	SetTaskInstanceDistributorID(ctx context.Context, id int64, distributorID string) error
	UpdateTaskInstanceResourceUsage(ctx context.Context, id int64, maxrssBytes int64, runtimeSeconds float64) error
	ListTaskInstancesQueued(ctx context.Context, workflowRunID int64, limit int) ([]*model.TaskInstance, error)
	ListTaskInstancesByStatus(ctx context.Context, workflowRunID int64, statuses []model.TaskInstanceStatus) ([]*model.TaskInstance, error)
	ListTaskInstancesPastReportBy(ctx context.Context, cutoff time.Time, statuses []model.TaskInstanceStatus) ([]*model.TaskInstance, error)
	ListTaskInstancesByWorkflowRun(ctx context.Context, workflowRunID int64) ([]*model.TaskInstance, error)
	ListTaskInstancesForBatch(ctx context.Context, arrayID int64, batchNum int) ([]*model.TaskInstance, error)
	AppendTaskInstanceErrorLog(ctx context.Context, e *model.TaskInstanceErrorLog) error
	ListTaskInstanceErrorLogs(ctx context.Context, taskInstanceID int64) ([]*model.TaskInstanceErrorLog, error)
	ListResourceUsageSamples(ctx context.Context, taskTemplateVersionID int64) ([]ResourceSample, error)
}

// ResourceSample is one completed task-instance's observed resource
// consumption, the raw input to internal/stats.ResourceUsage.
type ResourceSample struct {
	MaxrssBytes    int64   `db:"maxrss_bytes"`
	RuntimeSeconds float64 `db:"runtime_seconds"`
}

// LeaseStore backs the Reaper's cross-instance coordination (spec
// §4.4): a Postgres advisory lock keeps the database the only shared
// mutable resource (spec §5) instead of introducing a second
// coordination primitive.
type LeaseStore interface {
	TryAdvisoryLock(ctx context.Context, key int64) (bool, error)
	AdvisoryUnlock(ctx context.Context, key int64) error
}
