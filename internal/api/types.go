package api

// Request/response bodies for the Coordination API's lifecycle,
// query, and admin handlers (spec §6). Struct tags carry both JSON
// wire names and go-playground/validator constraints.

type queueTaskBatchRequest struct {
	TaskIDs          []int64 `json:"task_ids" validate:"required,min=1"`
	TaskResourcesID  int64   `json:"task_resources_id"`
	WorkflowRunID    int64   `json:"workflow_run_id" validate:"required"`
}

type queueTaskBatchResponse struct {
	TaskInstanceIDs []int64 `json:"task_instance_ids"`
	BatchNumber     int     `json:"batch_number"`
}

type transitionToLaunchedRequest struct {
	BatchNumber           int `json:"batch_number" validate:"required"`
	NextReportIncrementS  int `json:"next_report_increment"`
}

type transitionToKilledRequest struct {
	BatchNumber int `json:"batch_number" validate:"required"`
}

type instantiateTaskInstancesRequest struct {
	TaskInstanceIDs []int64 `json:"task_instance_ids" validate:"required,min=1"`
}

type logRunningRequest struct {
	Hostname string `json:"hostname"`
}

type logHeartbeatRequest struct{}

type logDoneRequest struct {
	MaxrssBytes    *int64   `json:"maxrss_bytes"`
	RuntimeSeconds *float64 `json:"runtime_seconds"`
}

type logErrorRequest struct {
	Description    string   `json:"description"`
	ErrorState     string   `json:"error_state"`
	MaxrssBytes    *int64   `json:"maxrss_bytes"`
	RuntimeSeconds *float64 `json:"runtime_seconds"`
}

type logNoDistributorIDRequest struct{}

type logDistributorIDRequest struct {
	DistributorID string `json:"distributor_id" validate:"required"`
}

type setResumeStateRequest struct {
	ResetIfRunning bool `json:"reset_if_running"`
	ColdResume     bool `json:"cold_resume"`
}

type setResumeStateResponse struct {
	ResetTaskIDs []int64 `json:"reset_task_ids"`
}

type updateMaxConcurrentlyRunningRequest struct {
	MaxTasks int `json:"max_tasks" validate:"required,min=1"`
}

type updateArrayMaxConcurrentlyRunningRequest struct {
	TaskTemplateVersionID int64 `json:"task_template_version_id" validate:"required"`
	MaxTasks              int   `json:"max_tasks" validate:"required,min=1"`
}

type bindWorkflowRequest struct {
	ToolVersionID          int64  `json:"tool_version_id" validate:"required"`
	DAGHash                string `json:"dag_hash" validate:"required"`
	WorkflowArgsHash       string `json:"workflow_args_hash" validate:"required"`
	Name                   string `json:"name" validate:"required"`
	MaxConcurrentlyRunning int    `json:"max_concurrently_running"`
	UserID                 string `json:"user_id" validate:"required"`
}

type bindWorkflowResponse struct {
	WorkflowID int64  `json:"workflow_id"`
	Status     string `json:"status"`
}

type createWorkflowRunRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

type createWorkflowRunResponse struct {
	WorkflowRunID int64  `json:"workflow_run_id"`
	Status        string `json:"status"`
}

type stopWorkflowRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

type killRequest struct {
	TaskInstanceID int64  `json:"task_instance_id"`
	ArrayID        int64  `json:"array_id"`
	ArrayBatchNum  int    `json:"array_batch_num"`
	DistributorID  string `json:"distributor_id"`
}

type listKillRequestsResponse struct {
	KillRequests []killRequest `json:"kill_requests"`
}

type taskTemplateDAGEdge struct {
	Name                     string `json:"name"`
	DownstreamTaskTemplateID int64  `json:"downstream_task_template_id"`
}

type adminBulkUpdateTaskStatusRequest struct {
	TaskIDs       []int64 `json:"task_ids" validate:"required,min=1"`
	FromAny       []string `json:"from_any" validate:"required,min=1"`
	To            string   `json:"to" validate:"required"`
	Recursive     bool     `json:"recursive"`
}

type adminBulkUpdateTaskStatusResponse struct {
	UpdatedTaskIDs []int64 `json:"updated_task_ids"`
}

// adminBulkUpdateCeiling is the non-recursive-per-call limit spec §4.3
// calls for; the recursive case is held to the same ceiling per
// request (no call above it, recursive or not).
const adminBulkUpdateCeiling = 10000
