package fsm_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ihmeuw-scicomp/jobmon/internal/fsm"
	"github.com/ihmeuw-scicomp/jobmon/internal/model"
	"github.com/ihmeuw-scicomp/jobmon/internal/store/storetest"
)

// TestKillPath_MarkForKillThenTransitionToKilled exercises the full
// kill route: a queued batch gets parked in K by MarkForKill, then
// ArrayEngine.TransitionToKilled moves the batch's tasks to F and its
// parked instances from K to F.
func TestKillPath_MarkForKillThenTransitionToKilled(t *testing.T) {
	st := storetest.New()
	ctx := context.Background()

	tx, err := st.BeginTx(ctx)
	require.NoError(t, err)

	array := &model.Array{WorkflowID: 1, TaskTemplateVersionID: 1}
	require.NoError(t, tx.CreateArray(ctx, array))

	task := &model.Task{Name: "t", Command: "true", Status: model.TaskRegistering, MaxAttempts: 3, ArrayID: &array.ID}
	require.NoError(t, tx.CreateTask(ctx, task))
	require.NoError(t, tx.Commit())

	tasks := fsm.NewTaskEngine()
	arrays := fsm.NewArrayEngine(tasks)
	instances := fsm.NewTaskInstanceEngine(tasks)

	tx, err = st.BeginTx(ctx)
	require.NoError(t, err)
	instanceIDs, batchNum, err := arrays.QueueBatch(ctx, tx, array.ID, 7, []int64{task.ID})
	require.NoError(t, err)
	require.Len(t, instanceIDs, 1)
	require.NoError(t, tx.Commit())

	// Simulate the task instance having progressed to running before the
	// workflow is stopped.
	tx, err = st.BeginTx(ctx)
	require.NoError(t, err)
	ti, err := tx.LockTaskInstanceForUpdate(ctx, instanceIDs[0])
	require.NoError(t, err)
	_, err = instances.TransitionTaskInstance(ctx, tx, ti, model.TIInstantiated)
	require.NoError(t, err)
	_, err = instances.TransitionTaskInstance(ctx, tx, ti, model.TILaunched)
	require.NoError(t, err)
	_, err = instances.TransitionTaskInstance(ctx, tx, ti, model.TIRunning)
	require.NoError(t, err)
	_, err = tasks.TransitionTask(ctx, tx, task.ID, model.TaskQueued, model.TaskInstantiating)
	require.NoError(t, err)
	_, err = tasks.TransitionTask(ctx, tx, task.ID, model.TaskInstantiating, model.TaskLaunched)
	require.NoError(t, err)
	_, err = tasks.TransitionTask(ctx, tx, task.ID, model.TaskLaunched, model.TaskRunning)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	// The workflow is stopped: MarkForKill parks the running instance in K.
	tx, err = st.BeginTx(ctx)
	require.NoError(t, err)
	marked, err := instances.MarkForKill(ctx, tx, 7)
	require.NoError(t, err)
	require.Len(t, marked, 1)
	assert.Equal(t, model.TIKillSelf, marked[0].Status)
	require.NoError(t, tx.Commit())

	// The distributor confirms the plugin kill and the Coordination API
	// finalizes the batch.
	tx, err = st.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, arrays.TransitionToKilled(ctx, tx, array.ID, batchNum))
	require.NoError(t, tx.Commit())

	tx, err = st.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	gotTask, err := tx.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskErrorFatal, gotTask.Status)

	gotTI, err := tx.GetTaskInstance(ctx, instanceIDs[0])
	require.NoError(t, err)
	assert.Equal(t, model.TIErrorFatal, gotTI.Status,
		"an instance parked in K by MarkForKill must come out the other side as F once the batch is killed")
}

// TestKillPath_QueuedInstanceNeverSubmittedStillResolves covers an
// instance killed before the distributor ever submitted it (no
// distributor ID assigned): it must still resolve to F once its batch
// is transitioned, not get stuck in K forever.
func TestKillPath_QueuedInstanceNeverSubmittedStillResolves(t *testing.T) {
	st := storetest.New()
	ctx := context.Background()

	tx, err := st.BeginTx(ctx)
	require.NoError(t, err)
	array := &model.Array{WorkflowID: 1, TaskTemplateVersionID: 1}
	require.NoError(t, tx.CreateArray(ctx, array))
	task := &model.Task{Name: "t", Command: "true", Status: model.TaskRegistering, MaxAttempts: 3, ArrayID: &array.ID}
	require.NoError(t, tx.CreateTask(ctx, task))
	require.NoError(t, tx.Commit())

	tasks := fsm.NewTaskEngine()
	arrays := fsm.NewArrayEngine(tasks)
	instances := fsm.NewTaskInstanceEngine(tasks)

	tx, err = st.BeginTx(ctx)
	require.NoError(t, err)
	instanceIDs, batchNum, err := arrays.QueueBatch(ctx, tx, array.ID, 7, []int64{task.ID})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	tx, err = st.BeginTx(ctx)
	require.NoError(t, err)
	marked, err := instances.MarkForKill(ctx, tx, 7)
	require.NoError(t, err)
	require.Len(t, marked, 1)
	require.NoError(t, tx.Commit())

	tx, err = st.BeginTx(ctx)
	require.NoError(t, err)
	// The parent task is still Q (never instantiated), so the task-phase
	// of TransitionToKilled is a no-op; only the instance-phase applies.
	require.NoError(t, arrays.TransitionToKilled(ctx, tx, array.ID, batchNum))
	require.NoError(t, tx.Commit())

	tx, err = st.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback()
	gotTI, err := tx.GetTaskInstance(ctx, instanceIDs[0])
	require.NoError(t, err)
	assert.Equal(t, model.TIErrorFatal, gotTI.Status)
}
