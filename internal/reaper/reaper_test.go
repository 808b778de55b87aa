package reaper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ihmeuw-scicomp/jobmon/internal/fsm"
	"github.com/ihmeuw-scicomp/jobmon/internal/model"
	"github.com/ihmeuw-scicomp/jobmon/internal/store/storetest"
)

func TestSweep_ReapsStaleWorkflowRunAndItsRunningInstances(t *testing.T) {
	st := storetest.New()
	ctx := context.Background()

	tx, err := st.BeginTx(ctx)
	require.NoError(t, err)

	wr := &model.WorkflowRun{WorkflowID: 1, Status: model.WorkflowRunRunning}
	require.NoError(t, tx.CreateWorkflowRun(ctx, wr))

	task := &model.Task{Name: "t", Command: "true", Status: model.TaskRunning, MaxAttempts: 3}
	require.NoError(t, tx.CreateTask(ctx, task))

	ti := &model.TaskInstance{TaskID: task.ID, WorkflowRunID: wr.ID, Status: model.TIRunning}
	require.NoError(t, tx.CreateTaskInstance(ctx, ti))
	require.NoError(t, tx.Commit())

	// Backdate the run's heartbeat past the configured timeout, the way
	// a distributor that stopped reporting would leave it.
	wr.HeartbeatDate = time.Now().UTC().Add(-time.Hour)

	tasks := fsm.NewTaskInstanceEngine(fsm.NewTaskEngine())
	r := New(st, tasks, Config{WorkflowRunHeartbeatTimeout: time.Minute, PollInterval: time.Hour})

	require.NoError(t, r.sweep(ctx))

	tx2, err := st.BeginTx(ctx)
	require.NoError(t, err)
	defer tx2.Rollback()

	gotRun, err := tx2.GetWorkflowRun(ctx, wr.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WorkflowRunColdResumed, gotRun.Status)

	gotTask, err := tx2.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskAdjustingResources, gotTask.Status,
		"a reaped instance with retries remaining routes the parent task through A, not straight to Q")

	gotTI, err := tx2.GetTaskInstance(ctx, ti.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TINoHeartbeat, gotTI.Status)
}

func TestSweep_SkipsWhenLeaseHeldElsewhere(t *testing.T) {
	st := storetest.New()
	ctx := context.Background()

	tx, err := st.BeginTx(ctx)
	require.NoError(t, err)
	held, err := tx.TryAdvisoryLock(ctx, leaseKey)
	require.NoError(t, err)
	require.True(t, held)
	require.NoError(t, tx.Commit())

	tasks := fsm.NewTaskInstanceEngine(fsm.NewTaskEngine())
	r := New(st, tasks, Config{})

	// The lease is already held (simulating another reaper instance), so
	// this sweep must be a clean no-op rather than erroring or double
	// -releasing the lock.
	assert.NoError(t, r.sweep(ctx))
}
