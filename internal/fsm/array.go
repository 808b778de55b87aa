package fsm

import (
	"context"
	"fmt"
	"time"

	"github.com/ihmeuw-scicomp/jobmon/internal/jmerr"
	"github.com/ihmeuw-scicomp/jobmon/internal/model"
	"github.com/ihmeuw-scicomp/jobmon/internal/store"
)

// ArrayEngine implements the three array-level bulk transitions (spec
// §4.2): arrays are the granularity of dispatch, so these operate on a
// whole batch of tasks/instances per call instead of one row at a
// time.
type ArrayEngine struct {
	tasks *TaskEngine
}

// NewArrayEngine constructs an ArrayEngine.
func NewArrayEngine(tasks *TaskEngine) *ArrayEngine {
	return &ArrayEngine{tasks: tasks}
}

// QueueBatch moves the given tasks (which must currently be in G or A)
// to Q, increments their attempt counters, and creates one
// TaskInstance per task stamped with the new array batch number.
func (e *ArrayEngine) QueueBatch(ctx context.Context, tx store.Tx, arrayID, workflowRunID int64, taskIDs []int64) ([]int64, int, error) {
	if len(taskIDs) == 0 {
		return nil, 0, nil
	}

	locked, err := tx.LockArrayTasksInStatuses(ctx, arrayID, []model.TaskStatus{model.TaskRegistering, model.TaskAdjustingResources})
	if err != nil {
		return nil, 0, fmt.Errorf("queue batch for array %d: %w", arrayID, err)
	}
	byID := make(map[int64]*model.Task, len(locked))
	for _, t := range locked {
		byID[t.ID] = t
	}

	batchNum, err := tx.NextArrayBatchNum(ctx, arrayID)
	if err != nil {
		return nil, 0, fmt.Errorf("queue batch for array %d: %w", arrayID, err)
	}

	instanceIDs := make([]int64, 0, len(taskIDs))
	for _, id := range taskIDs {
		task, ok := byID[id]
		if !ok {
			return nil, 0, jmerr.InvalidTransition(fmt.Sprintf(
				"task %d is not in G or A for array %d", id, arrayID))
		}

		if _, err := e.tasks.TransitionTask(ctx, tx, id, task.Status, model.TaskQueued); err != nil {
			return nil, 0, fmt.Errorf("queue batch for array %d: %w", arrayID, err)
		}
		if err := tx.IncrementTaskAttempts(ctx, id); err != nil {
			return nil, 0, fmt.Errorf("queue batch for array %d: %w", arrayID, err)
		}

		ti := &model.TaskInstance{
			TaskID:        id,
			WorkflowRunID: workflowRunID,
			ArrayID:       &arrayID,
			ArrayBatchNum: &batchNum,
			Status:        model.TIQueued,
		}
		if err := tx.CreateTaskInstance(ctx, ti); err != nil {
			return nil, 0, fmt.Errorf("queue batch for array %d: create instance: %w", arrayID, err)
		}
		instanceIDs = append(instanceIDs, ti.ID)
	}

	return instanceIDs, batchNum, nil
}

// TransitionToLaunched moves every task-instance in the given batch
// that is currently I to O, bumps its report-by deadline by
// nextReportIncrement, and transitions each distinct parent task
// I -> O.
func (e *ArrayEngine) TransitionToLaunched(ctx context.Context, tx store.Tx, arrayID int64, batchNum int, nextReportIncrement time.Duration) error {
	instances, err := tx.ListTaskInstancesForBatch(ctx, arrayID, batchNum)
	if err != nil {
		return fmt.Errorf("transition to launched array %d batch %d: %w", arrayID, batchNum, err)
	}

	now, err := tx.Now(ctx)
	if err != nil {
		return fmt.Errorf("transition to launched array %d batch %d: %w", arrayID, batchNum, err)
	}

	tiEngine := NewTaskInstanceEngine(e.tasks)
	seenTasks := map[int64]bool{}
	for _, ti := range instances {
		if ti.Status != model.TIInstantiated {
			continue
		}
		if _, err := tiEngine.TransitionTaskInstance(ctx, tx, ti, model.TILaunched); err != nil {
			return fmt.Errorf("transition to launched array %d batch %d: %w", arrayID, batchNum, err)
		}
		if err := tx.UpdateTaskInstanceReportByDate(ctx, ti.ID, now.Add(nextReportIncrement)); err != nil {
			return fmt.Errorf("transition to launched array %d batch %d: instance %d: %w", arrayID, batchNum, ti.ID, err)
		}
		if seenTasks[ti.TaskID] {
			continue
		}
		seenTasks[ti.TaskID] = true
		if _, err := e.tasks.TransitionTask(ctx, tx, ti.TaskID, model.TaskInstantiating, model.TaskLaunched); err != nil {
			return fmt.Errorf("transition to launched array %d batch %d: task %d: %w", arrayID, batchNum, ti.TaskID, err)
		}
	}
	return nil
}

// TransitionToKilled terminalizes a batch under kill. The task phase
// runs first, the instance phase second: this order guarantees no
// parent task is left live after its instances are terminalized (spec
// §4.2's array-level-transitions ordering requirement). Instances must
// already be parked in K — see TaskInstanceEngine.MarkForKill — before
// this runs; it only ever moves K to F, never drives the kill itself.
func (e *ArrayEngine) TransitionToKilled(ctx context.Context, tx store.Tx, arrayID int64, batchNum int) error {
	taskIDs, err := tx.ListArrayBatchTaskIDs(ctx, arrayID, batchNum)
	if err != nil {
		return fmt.Errorf("transition to killed array %d batch %d: %w", arrayID, batchNum, err)
	}

	for _, taskID := range taskIDs {
		task, err := tx.LockTaskForUpdate(ctx, taskID)
		if err != nil {
			return fmt.Errorf("transition to killed array %d batch %d: lock task %d: %w", arrayID, batchNum, taskID, err)
		}
		if task.Status != model.TaskLaunched && task.Status != model.TaskRunning {
			continue
		}
		if _, err := e.tasks.TransitionTask(ctx, tx, taskID, task.Status, model.TaskErrorFatal); err != nil {
			return fmt.Errorf("transition to killed array %d batch %d: task %d: %w", arrayID, batchNum, taskID, err)
		}
	}

	instances, err := tx.ListTaskInstancesForBatch(ctx, arrayID, batchNum)
	if err != nil {
		return fmt.Errorf("transition to killed array %d batch %d: %w", arrayID, batchNum, err)
	}
	tiEngine := NewTaskInstanceEngine(e.tasks)
	for _, ti := range instances {
		if ti.Status != model.TIKillSelf {
			continue
		}
		if _, err := tiEngine.TransitionTaskInstance(ctx, tx, ti, model.TIErrorFatal); err != nil {
			return fmt.Errorf("transition to killed array %d batch %d: instance %d: %w", arrayID, batchNum, ti.ID, err)
		}
	}
	return nil
}
