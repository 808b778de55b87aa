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

func newRunningTaskWithInstance(t *testing.T, st *storetest.Store, maxAttempts, numAttempts int) (taskID, tiID int64) {
	t.Helper()
	ctx := context.Background()
	tx, err := st.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	task := &model.Task{Name: "t", Command: "true", Status: model.TaskRunning,
		MaxAttempts: maxAttempts, NumAttempts: numAttempts}
	require.NoError(t, tx.CreateTask(ctx, task))

	ti := &model.TaskInstance{TaskID: task.ID, Status: model.TIRunning}
	require.NoError(t, tx.CreateTaskInstance(ctx, ti))
	require.NoError(t, tx.Commit())
	return task.ID, ti.ID
}

func TestAggregate_DoneRoutesTaskToDone(t *testing.T) {
	st := storetest.New()
	taskID, tiID := newRunningTaskWithInstance(t, st, 3, 0)
	instances := fsm.NewTaskInstanceEngine(fsm.NewTaskEngine())

	ctx := context.Background()
	tx, err := st.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	ti, err := tx.LockTaskInstanceForUpdate(ctx, tiID)
	require.NoError(t, err)

	taskStatus, err := instances.Aggregate(ctx, tx, ti, model.TIDone)
	require.NoError(t, err)
	assert.Equal(t, model.TaskDone, taskStatus)
	assert.Equal(t, model.TIDone, ti.Status)
	require.NoError(t, tx.Commit())

	task, err := getTask(t, st, taskID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskDone, task.Status)
}

func TestAggregate_RetryableErrorRoutesThroughAdjustingResources(t *testing.T) {
	st := storetest.New()
	taskID, tiID := newRunningTaskWithInstance(t, st, 3, 1)
	instances := fsm.NewTaskInstanceEngine(fsm.NewTaskEngine())

	ctx := context.Background()
	tx, err := st.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	ti, err := tx.LockTaskInstanceForUpdate(ctx, tiID)
	require.NoError(t, err)

	taskStatus, err := instances.Aggregate(ctx, tx, ti, model.TIResourceError)
	require.NoError(t, err)
	assert.Equal(t, model.TaskAdjustingResources, taskStatus,
		"a retryable terminal instance status must never push the task straight back to Q")
	require.NoError(t, tx.Commit())

	task, err := getTask(t, st, taskID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskAdjustingResources, task.Status)
}

func TestAggregate_ExhaustedRetriesRouteToErrorFatal(t *testing.T) {
	st := storetest.New()
	taskID, tiID := newRunningTaskWithInstance(t, st, 3, 3)
	instances := fsm.NewTaskInstanceEngine(fsm.NewTaskEngine())

	ctx := context.Background()
	tx, err := st.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	ti, err := tx.LockTaskInstanceForUpdate(ctx, tiID)
	require.NoError(t, err)

	taskStatus, err := instances.Aggregate(ctx, tx, ti, model.TIError)
	require.NoError(t, err)
	assert.Equal(t, model.TaskErrorFatal, taskStatus)
	require.NoError(t, tx.Commit())

	task, err := getTask(t, st, taskID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskErrorFatal, task.Status)
}

func getTask(t *testing.T, st *storetest.Store, id int64) (*model.Task, error) {
	t.Helper()
	ctx := context.Background()
	tx, err := st.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback()
	return tx.GetTask(ctx, id)
}
