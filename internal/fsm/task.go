package fsm

import (
	"context"
	"fmt"

	"github.com/ihmeuw-scicomp/jobmon/internal/jmerr"
	"github.com/ihmeuw-scicomp/jobmon/internal/jmlog"
	"github.com/ihmeuw-scicomp/jobmon/internal/model"
	"github.com/ihmeuw-scicomp/jobmon/internal/store"
)

// TaskEngine transitions Task rows under the legal-transition table in
// internal/model/status.go, appending one TaskStatusAudit row per
// successful transition.
type TaskEngine struct{}

// NewTaskEngine constructs a TaskEngine. It carries no state of its
// own; every call takes the tx it must operate within.
func NewTaskEngine() *TaskEngine { return &TaskEngine{} }

// TransitionTask locks the task row, validates from->to against the
// legal-transition graph, and writes the new status plus an audit row.
//
// Failure semantics (spec §4.2): if the task's observed status already
// equals to, the call is idempotent success and returns the current
// status unchanged — no audit row is appended for a no-op request. Any
// other mismatch between from and the observed status, or any
// transition absent from the legal graph, returns InvalidTransition;
// callers MUST NOT retry it.
func (e *TaskEngine) TransitionTask(ctx context.Context, tx store.Tx, taskID int64, from, to model.TaskStatus) (model.TaskStatus, error) {
	task, err := tx.LockTaskForUpdate(ctx, taskID)
	if err != nil {
		return "", fmt.Errorf("transition task %d: %w", taskID, err)
	}

	if task.Status == to {
		return task.Status, nil
	}
	if task.Status != from {
		return task.Status, jmerr.InvalidTransition(fmt.Sprintf(
			"task %d: requested from=%s but observed=%s", taskID, from, task.Status))
	}
	if !model.IsLegalTaskTransition(from, to) {
		return task.Status, jmerr.InvalidTransition(fmt.Sprintf(
			"task %d: %s -> %s is not a legal transition", taskID, from, to))
	}

	now, err := tx.Now(ctx)
	if err != nil {
		return "", fmt.Errorf("transition task %d: %w", taskID, err)
	}
	if err := tx.UpdateTaskStatus(ctx, taskID, to, now); err != nil {
		return "", fmt.Errorf("transition task %d: %w", taskID, err)
	}
	if err := tx.AppendTaskStatusAudit(ctx, &model.TaskStatusAudit{
		TaskID: taskID, Previous: from, New: to,
	}); err != nil {
		return "", fmt.Errorf("transition task %d: append audit: %w", taskID, err)
	}

	jmlog.WithComponent("fsm").Debug().
		Int64("task_id", taskID).Str("from", string(from)).Str("to", string(to)).
		Msg("task transition")
	return to, nil
}
