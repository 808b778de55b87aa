// Package model defines the Jobmon core's persistent entities (spec §3)
// and their status spaces. It has no dependency on the store or API
// layers: every other package imports model, never the reverse.
package model

import "time"

// Tool is an immutable namespace a set of ToolVersions belongs to.
type Tool struct {
	ID   int64  `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}

// ToolVersion binds a TaskTemplateVersion set to one Tool generation.
type ToolVersion struct {
	ID     int64 `db:"id" json:"id"`
	ToolID int64 `db:"tool_id" json:"tool_id"`
}

// TaskTemplate is a named shape for a command, identifying a "kind of
// task" across workflows.
type TaskTemplate struct {
	ID     int64  `db:"id" json:"id"`
	ToolID int64  `db:"tool_id" json:"tool_id"`
	Name   string `db:"name" json:"name"`
}

// TaskTemplateVersion binds a TaskTemplate's argument/op-arg/node-arg
// placeholders to a specific ToolVersion.
type TaskTemplateVersion struct {
	ID              int64  `db:"id" json:"id"`
	TaskTemplateID  int64  `db:"task_template_id" json:"task_template_id"`
	ToolVersionID   int64  `db:"tool_version_id" json:"tool_version_id"`
	CommandTemplate string     `db:"command_template" json:"command_template"`
	NodeArgs        StringList `db:"node_args" json:"node_args"`
	TaskArgs        StringList `db:"task_args" json:"task_args"`
	OpArgs          StringList `db:"op_args" json:"op_args"`
}

// Node is the DAG's vertex identity: a (task-template-version,
// node-args-hash) pair shared across workflows.
type Node struct {
	ID                    int64     `db:"id" json:"id"`
	TaskTemplateVersionID int64     `db:"task_template_version_id" json:"task_template_version_id"`
	NodeArgsHash          string    `db:"node_args_hash" json:"node_args_hash"`
	NodeArgs              StringMap `db:"node_args" json:"node_args"`
}

// Edge is a directed dependency between two nodes within one DAG.
type Edge struct {
	DAGID        int64 `db:"dag_id" json:"dag_id"`
	UpstreamID   int64 `db:"upstream_node_id" json:"upstream_node_id"`
	DownstreamID int64 `db:"downstream_node_id" json:"downstream_node_id"`
}

// DAG is a content-addressed set of nodes and edges.
type DAG struct {
	ID   int64  `db:"id" json:"id"`
	Hash string `db:"hash" json:"hash"`
}

// Workflow is a (tool-version, dag, workflow-args-hash) triple, unique
// by Hash (invariant 5).
type Workflow struct {
	ID                     int64          `db:"id" json:"id"`
	ToolVersionID          int64          `db:"tool_version_id" json:"tool_version_id"`
	DAGID                  int64          `db:"dag_id" json:"dag_id"`
	WorkflowArgsHash       string         `db:"workflow_args_hash" json:"workflow_args_hash"`
	Hash                   string         `db:"hash" json:"hash"`
	Name                   string         `db:"name" json:"name"`
	MaxConcurrentlyRunning int            `db:"max_concurrently_running" json:"max_concurrently_running"`
	Status                 WorkflowStatus `db:"status" json:"status"`
	ResumableHot           bool           `db:"resumable_hot" json:"resumable_hot"`
	UserID                 string         `db:"user_id" json:"user_id"`
	CreatedAt              time.Time      `db:"created_at" json:"created_at"`
}

// WorkflowRun is one attempt to execute a Workflow.
type WorkflowRun struct {
	ID            int64             `db:"id" json:"id"`
	WorkflowID    int64             `db:"workflow_id" json:"workflow_id"`
	Status        WorkflowRunStatus `db:"status" json:"status"`
	HeartbeatDate time.Time         `db:"heartbeat_date" json:"heartbeat_date"`
	UserID        string            `db:"user_id" json:"user_id"`
	CreatedAt     time.Time         `db:"created_at" json:"created_at"`
	StatusDate    time.Time         `db:"status_date" json:"status_date"`
}

// Array groups tasks sharing a template under a workflow: the unit of
// batched dispatch.
type Array struct {
	ID                     int64 `db:"id" json:"id"`
	WorkflowID             int64 `db:"workflow_id" json:"workflow_id"`
	TaskTemplateVersionID  int64 `db:"task_template_version_id" json:"task_template_version_id"`
	MaxConcurrentlyRunning int   `db:"max_concurrently_running" json:"max_concurrently_running"`
	MaxBatchNum            int   `db:"max_batch_num" json:"max_batch_num"`
}

// Task is an instance of a Node bound to a Workflow.
type Task struct {
	ID             int64      `db:"id" json:"id"`
	WorkflowID     int64      `db:"workflow_id" json:"workflow_id"`
	NodeID         int64      `db:"node_id" json:"node_id"`
	ArrayID        *int64     `db:"array_id" json:"array_id,omitempty"`
	TaskArgsHash   string     `db:"task_args_hash" json:"task_args_hash"`
	Name           string     `db:"name" json:"name"`
	Command        string     `db:"command" json:"command"`
	Status         TaskStatus `db:"status" json:"status"`
	NumAttempts    int        `db:"num_attempts" json:"num_attempts"`
	MaxAttempts    int        `db:"max_attempts" json:"max_attempts"`
	ResourceRequest string    `db:"resource_request" json:"resource_request"`
	StatusDate     time.Time  `db:"status_date" json:"status_date"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}

// TaskInstance is a single execution attempt of a Task.
type TaskInstance struct {
	ID             int64              `db:"id" json:"id"`
	TaskID         int64              `db:"task_id" json:"task_id"`
	WorkflowRunID  int64              `db:"workflow_run_id" json:"workflow_run_id"`
	ArrayID        *int64             `db:"array_id" json:"array_id,omitempty"`
	ArrayBatchNum  *int               `db:"array_batch_num" json:"array_batch_num,omitempty"`
	Status         TaskInstanceStatus `db:"status" json:"status"`
	DistributorID  string             `db:"distributor_id" json:"distributor_id,omitempty"`
	Hostname       string             `db:"hostname" json:"hostname,omitempty"`
	StdoutTail     string             `db:"stdout_tail" json:"stdout_tail,omitempty"`
	StderrTail     string             `db:"stderr_tail" json:"stderr_tail,omitempty"`
	MaxrssBytes    *int64             `db:"maxrss_bytes" json:"maxrss_bytes,omitempty"`
	RuntimeSeconds *float64           `db:"runtime_seconds" json:"runtime_seconds,omitempty"`
	ReportByDate   time.Time          `db:"report_by_date" json:"report_by_date"`
	StatusDate     time.Time          `db:"status_date" json:"status_date"`
	CreatedAt      time.Time          `db:"created_at" json:"created_at"`
}

// TaskInstanceErrorLog is an append-only error description attached to
// a TaskInstance.
type TaskInstanceErrorLog struct {
	ID             int64     `db:"id" json:"id"`
	TaskInstanceID int64     `db:"task_instance_id" json:"task_instance_id"`
	Description    string    `db:"description" json:"description"`
	ErrorState     string    `db:"error_state" json:"error_state"`
	LoggedAt       time.Time `db:"logged_at" json:"logged_at"`
}

// TaskStatusAudit is an append-only log of a Task's status history.
type TaskStatusAudit struct {
	ID       int64      `db:"id" json:"id"`
	TaskID   int64      `db:"task_id" json:"task_id"`
	Previous TaskStatus `db:"previous" json:"previous"`
	New      TaskStatus `db:"new" json:"new"`
	At       time.Time  `db:"at" json:"at"`
}
