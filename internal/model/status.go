package model

// TaskStatus is one of the nine states a Task can occupy (spec §4.2).
type TaskStatus string

const (
	TaskRegistering        TaskStatus = "G"
	TaskQueued              TaskStatus = "Q"
	TaskInstantiating       TaskStatus = "I"
	TaskLaunched            TaskStatus = "O"
	TaskRunning             TaskStatus = "R"
	TaskAdjustingResources  TaskStatus = "A"
	TaskDone                TaskStatus = "D"
	TaskErrorFatal          TaskStatus = "F"
	TaskHalted              TaskStatus = "H"
)

// taskTransitions enumerates every legal (from, to) pair for a Task.
// Built from spec §4.2's transition list; D and F only regress to G via
// the resume protocol, which bypasses this table entirely (ResumeEngine
// writes G directly under its own lock discipline).
var taskTransitions = map[TaskStatus]map[TaskStatus]bool{
	TaskRegistering: {
		TaskQueued: true,
	},
	TaskQueued: {
		TaskInstantiating: true,
		TaskErrorFatal:    true,
	},
	TaskInstantiating: {
		TaskLaunched:   true,
		TaskErrorFatal: true,
	},
	TaskLaunched: {
		TaskRunning:            true,
		TaskAdjustingResources: true,
		TaskErrorFatal:         true,
	},
	TaskRunning: {
		TaskDone:               true,
		TaskAdjustingResources: true,
		TaskErrorFatal:         true,
	},
	TaskAdjustingResources: {
		TaskQueued:     true,
		TaskErrorFatal: true,
	},
	TaskHalted: {
		TaskQueued: true,
	},
}

// IsLegalTaskTransition reports whether from->to appears in the legal
// transition graph. Same-state "transitions" are handled separately by
// the FSM engine (idempotent success, spec §7), not by this table.
func IsLegalTaskTransition(from, to TaskStatus) bool {
	return taskTransitions[from][to]
}

// TaskIsTerminal reports whether a task status has no further automatic
// transitions except via resume.
func TaskIsTerminal(s TaskStatus) bool {
	return s == TaskDone || s == TaskErrorFatal
}

// TaskInstanceStatus is one of the states a TaskInstance can occupy.
type TaskInstanceStatus string

const (
	TIQueued            TaskInstanceStatus = "Q"
	TIInstantiated       TaskInstanceStatus = "I"
	TILaunched           TaskInstanceStatus = "O"
	TIRunning            TaskInstanceStatus = "R"
	TIDone               TaskInstanceStatus = "D"
	TIError              TaskInstanceStatus = "E"
	TIResourceError      TaskInstanceStatus = "Z"
	TIUnknownError       TaskInstanceStatus = "U"
	TIKillSelf           TaskInstanceStatus = "K"
	TIErrorFatal         TaskInstanceStatus = "F"
	TINoHeartbeat        TaskInstanceStatus = "X"
	TINoDistributorID    TaskInstanceStatus = "W"
	TIBatchSubmitted     TaskInstanceStatus = "B"
)

var taskInstanceTerminal = map[TaskInstanceStatus]bool{
	TIDone:         true,
	TIError:        true,
	TIResourceError: true,
	TIUnknownError: true,
	TIErrorFatal:   true,
	TINoHeartbeat:  true,
}

// TaskInstanceIsTerminal reports whether the instance will never
// transition again (spec invariant: every task-instance under a
// terminal workflow-run must itself be terminal).
func TaskInstanceIsTerminal(s TaskInstanceStatus) bool {
	return taskInstanceTerminal[s]
}

var taskInstanceTransitions = map[TaskInstanceStatus]map[TaskInstanceStatus]bool{
	TIQueued:         {TIInstantiated: true, TIKillSelf: true},
	TIInstantiated:   {TILaunched: true, TIKillSelf: true, TINoHeartbeat: true},
	TILaunched:       {TIRunning: true, TIKillSelf: true, TINoHeartbeat: true, TINoDistributorID: true},
	TIRunning:        {TIDone: true, TIError: true, TIResourceError: true, TIUnknownError: true, TIKillSelf: true, TINoHeartbeat: true},
	TIKillSelf:       {TIErrorFatal: true},
	TIBatchSubmitted: {TILaunched: true, TIKillSelf: true},
}

// IsLegalTaskInstanceTransition mirrors IsLegalTaskTransition for
// TaskInstance status.
func IsLegalTaskInstanceTransition(from, to TaskInstanceStatus) bool {
	return taskInstanceTransitions[from][to]
}

// WorkflowStatus tracks the aggregate status of a Workflow (derived
// from its current WorkflowRun's tasks, not independently transitioned
// except by admin/resume operations).
type WorkflowStatus string

const (
	WorkflowRegistering WorkflowStatus = "REGISTERING"
	WorkflowQueued       WorkflowStatus = "QUEUED"
	WorkflowRunning      WorkflowStatus = "RUNNING"
	WorkflowDone         WorkflowStatus = "DONE"
	WorkflowFailed       WorkflowStatus = "FAILED"
	WorkflowHalted       WorkflowStatus = "HALTED"
)

// WorkflowRunStatus is the lifecycle state of one attempt to run a
// Workflow. Non-terminal statuses are the ones invariant 7 allows only
// one of per workflow.
type WorkflowRunStatus string

const (
	WorkflowRunRegistering  WorkflowRunStatus = "G"
	WorkflowRunLaunched      WorkflowRunStatus = "LAUNCHED"
	WorkflowRunBound         WorkflowRunStatus = "BOUND"
	WorkflowRunInstantiated  WorkflowRunStatus = "INSTANTIATED"
	WorkflowRunRunning       WorkflowRunStatus = "RUNNING"
	WorkflowRunDone          WorkflowRunStatus = "DONE"
	WorkflowRunError         WorkflowRunStatus = "ERROR"
	WorkflowRunStopped       WorkflowRunStatus = "STOPPED"
	WorkflowRunColdResumed   WorkflowRunStatus = "COLD_RESUMED" // terminalized by reaper heartbeat expiry
	WorkflowRunHotResumed    WorkflowRunStatus = "HOT_RESUMED"
)

// nonTerminalWorkflowRunStatuses backs invariant 7: at most one
// workflow-run per workflow in one of these states.
var nonTerminalWorkflowRunStatuses = map[WorkflowRunStatus]bool{
	WorkflowRunLaunched:     true,
	WorkflowRunRunning:      true,
	WorkflowRunBound:        true,
	WorkflowRunInstantiated: true,
}

// WorkflowRunIsNonTerminal reports whether a run occupies one of the
// four live states enumerated by spec invariant 7.
func WorkflowRunIsNonTerminal(s WorkflowRunStatus) bool {
	return nonTerminalWorkflowRunStatuses[s]
}

// ArrayBatchState is not a persisted column; it is the logical phase a
// dispatch batch moves through and is exposed purely for documentation
// of the three bulk operations in spec §4.2.
type ArrayBatchState string

const (
	ArrayBatchQueued   ArrayBatchState = "queued"
	ArrayBatchLaunched ArrayBatchState = "launched"
	ArrayBatchKilled   ArrayBatchState = "killed"
)
