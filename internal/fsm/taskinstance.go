package fsm

import (
	"context"
	"fmt"

	"github.com/ihmeuw-scicomp/jobmon/internal/jmerr"
	"github.com/ihmeuw-scicomp/jobmon/internal/jmlog"
	"github.com/ihmeuw-scicomp/jobmon/internal/model"
	"github.com/ihmeuw-scicomp/jobmon/internal/store"
)

// TaskInstanceEngine transitions TaskInstance rows and implements the
// aggregation rule that propagates a terminal instance status up to
// its parent Task.
type TaskInstanceEngine struct {
	tasks *TaskEngine
}

// NewTaskInstanceEngine constructs a TaskInstanceEngine.
func NewTaskInstanceEngine(tasks *TaskEngine) *TaskInstanceEngine {
	return &TaskInstanceEngine{tasks: tasks}
}

// TransitionTaskInstance validates and writes a task-instance status
// change. Unlike TransitionTask, no audit row is appended: a
// task-instance's history is reconstructable from its terminal state
// and its error logs (spec §4.2).
func (e *TaskInstanceEngine) TransitionTaskInstance(ctx context.Context, tx store.Tx, ti *model.TaskInstance, to model.TaskInstanceStatus) (model.TaskInstanceStatus, error) {
	if ti.Status == to {
		return ti.Status, nil
	}
	if !model.IsLegalTaskInstanceTransition(ti.Status, to) {
		return ti.Status, jmerr.InvalidTransition(fmt.Sprintf(
			"task instance %d: %s -> %s is not a legal transition", ti.ID, ti.Status, to))
	}

	now, err := tx.Now(ctx)
	if err != nil {
		return "", fmt.Errorf("transition task instance %d: %w", ti.ID, err)
	}
	if err := tx.UpdateTaskInstanceStatus(ctx, ti.ID, to, now); err != nil {
		return "", fmt.Errorf("transition task instance %d: %w", ti.ID, err)
	}
	ti.Status = to
	return to, nil
}

// MarkForKill transitions every active instance under workflowRunID
// into K (TIKillSelf), the hold point a kill request parks an instance
// in until the distributor confirms the backend process actually
// stopped. It does not touch the parent task: that happens once
// ArrayEngine.TransitionToKilled moves the corresponding batch from
// K to F after the plugin kill succeeds.
func (e *TaskInstanceEngine) MarkForKill(ctx context.Context, tx store.Tx, workflowRunID int64) ([]*model.TaskInstance, error) {
	active, err := tx.ListTaskInstancesByStatus(ctx, workflowRunID, []model.TaskInstanceStatus{
		model.TIQueued, model.TIInstantiated, model.TILaunched, model.TIRunning, model.TIBatchSubmitted,
	})
	if err != nil {
		return nil, fmt.Errorf("mark for kill: workflow run %d: %w", workflowRunID, err)
	}

	marked := make([]*model.TaskInstance, 0, len(active))
	for _, ti := range active {
		locked, err := tx.LockTaskInstanceForUpdate(ctx, ti.ID)
		if err != nil {
			return nil, fmt.Errorf("mark for kill: lock instance %d: %w", ti.ID, err)
		}
		if !model.IsLegalTaskInstanceTransition(locked.Status, model.TIKillSelf) {
			continue
		}
		if _, err := e.TransitionTaskInstance(ctx, tx, locked, model.TIKillSelf); err != nil {
			return nil, fmt.Errorf("mark for kill: instance %d: %w", ti.ID, err)
		}
		marked = append(marked, locked)
	}
	return marked, nil
}

// Aggregate implements the aggregation rule (spec §4.2): when a
// task-instance reaches a terminal status, its parent task is
// re-evaluated. The parent task row MUST be locked before the
// instance's own status is written — omitting this lock permits an
// interleaved writer to leave the task in R while its only instance is
// F. Callers therefore pass the still-non-terminal instance; Aggregate
// locks the task first, then performs both writes within the same tx.
func (e *TaskInstanceEngine) Aggregate(ctx context.Context, tx store.Tx, ti *model.TaskInstance, terminal model.TaskInstanceStatus) (model.TaskStatus, error) {
	task, err := tx.LockTaskForUpdate(ctx, ti.TaskID)
	if err != nil {
		return "", fmt.Errorf("aggregate task instance %d: lock parent task: %w", ti.ID, err)
	}

	nextTaskStatus, fromStatus, ok := nextTaskStatusForAggregation(task, terminal)
	if ok {
		if _, err := e.tasks.TransitionTask(ctx, tx, task.ID, fromStatus, nextTaskStatus); err != nil {
			return "", fmt.Errorf("aggregate task instance %d: %w", ti.ID, err)
		}
	} else {
		nextTaskStatus = task.Status
	}

	if _, err := e.TransitionTaskInstance(ctx, tx, ti, terminal); err != nil {
		return "", fmt.Errorf("aggregate task instance %d: %w", ti.ID, err)
	}

	jmlog.WithComponent("fsm").Debug().
		Int64("task_instance_id", ti.ID).Int64("task_id", task.ID).
		Str("terminal", string(terminal)).Str("task_status", string(nextTaskStatus)).
		Msg("aggregated task instance terminal status")
	return nextTaskStatus, nil
}

// nextTaskStatusForAggregation decides the parent task's next status
// per the aggregation rule. Every terminal error kind (Z resource,
// E/U/X/W general) routes through A (adjusting-resources) when
// retries remain: the legal-transition table only permits O|R -> A,
// never O|R -> Q directly, so a retryable task always passes through
// A's resource-rebind step (spec's A -> Q transition) regardless of
// which error kind triggered it. Exhausted retries route to F. ok is
// false when terminal doesn't warrant a task transition (shouldn't
// happen for any terminal instance status, but keeps this function
// total).
func nextTaskStatusForAggregation(task *model.Task, terminal model.TaskInstanceStatus) (to model.TaskStatus, from model.TaskStatus, ok bool) {
	from = task.Status
	switch terminal {
	case model.TIDone:
		return model.TaskDone, from, true
	case model.TIResourceError, model.TIError, model.TIUnknownError, model.TINoHeartbeat, model.TINoDistributorID:
		if task.NumAttempts < task.MaxAttempts {
			return model.TaskAdjustingResources, from, true
		}
		return model.TaskErrorFatal, from, true
	case model.TIErrorFatal:
		return model.TaskErrorFatal, from, true
	default:
		return "", from, false
	}
}
