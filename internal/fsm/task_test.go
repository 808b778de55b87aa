package fsm_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ihmeuw-scicomp/jobmon/internal/fsm"
	"github.com/ihmeuw-scicomp/jobmon/internal/jmerr"
	"github.com/ihmeuw-scicomp/jobmon/internal/model"
	"github.com/ihmeuw-scicomp/jobmon/internal/store"
	"github.com/ihmeuw-scicomp/jobmon/internal/store/storetest"
)

func newTask(t *testing.T, st store.Store, status model.TaskStatus) int64 {
	t.Helper()
	ctx := context.Background()
	tx, err := st.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	task := &model.Task{Name: "t", Command: "true", Status: status, MaxAttempts: 3}
	require.NoError(t, tx.CreateTask(ctx, task))
	require.NoError(t, tx.Commit())
	return task.ID
}

func TestTransitionTask_LegalMovesSucceed(t *testing.T) {
	cases := []struct {
		from, to model.TaskStatus
	}{
		{model.TaskRegistering, model.TaskQueued},
		{model.TaskQueued, model.TaskInstantiating},
		{model.TaskInstantiating, model.TaskLaunched},
		{model.TaskLaunched, model.TaskRunning},
		{model.TaskRunning, model.TaskDone},
		{model.TaskAdjustingResources, model.TaskQueued},
	}
	for _, c := range cases {
		t.Run(string(c.from)+"_to_"+string(c.to), func(t *testing.T) {
			st := storetest.New()
			taskID := newTask(t, st, c.from)
			engine := fsm.NewTaskEngine()

			ctx := context.Background()
			tx, err := st.BeginTx(ctx)
			require.NoError(t, err)
			defer tx.Rollback()

			got, err := engine.TransitionTask(ctx, tx, taskID, c.from, c.to)
			require.NoError(t, err)
			assert.Equal(t, c.to, got)
			require.NoError(t, tx.Commit())

			audit := mustAudit(t, st, taskID)
			require.Len(t, audit, 1)
			assert.Equal(t, c.from, audit[0].Previous)
			assert.Equal(t, c.to, audit[0].New)
		})
	}
}

func TestTransitionTask_IllegalMoveIsInvalidTransition(t *testing.T) {
	st := storetest.New()
	taskID := newTask(t, st, model.TaskQueued)
	engine := fsm.NewTaskEngine()

	ctx := context.Background()
	tx, err := st.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	_, err = engine.TransitionTask(ctx, tx, taskID, model.TaskQueued, model.TaskRunning)
	require.Error(t, err)

	je, ok := jmerr.As(err)
	require.True(t, ok, "expected a *jmerr.Error, got %T", err)
	assert.Equal(t, jmerr.KindInvalidTransition, je.Kind)
}

func TestTransitionTask_ObservedMismatchIsInvalidTransition(t *testing.T) {
	st := storetest.New()
	taskID := newTask(t, st, model.TaskRunning)
	engine := fsm.NewTaskEngine()

	ctx := context.Background()
	tx, err := st.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	_, err = engine.TransitionTask(ctx, tx, taskID, model.TaskQueued, model.TaskInstantiating)
	require.Error(t, err)
	je, ok := jmerr.As(err)
	require.True(t, ok)
	assert.Equal(t, jmerr.KindInvalidTransition, je.Kind)
}

func TestTransitionTask_SameStatusIsIdempotent(t *testing.T) {
	st := storetest.New()
	taskID := newTask(t, st, model.TaskRunning)
	engine := fsm.NewTaskEngine()

	ctx := context.Background()
	tx, err := st.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	got, err := engine.TransitionTask(ctx, tx, taskID, model.TaskLaunched, model.TaskRunning)
	require.NoError(t, err)
	assert.Equal(t, model.TaskRunning, got)
	require.NoError(t, tx.Commit())

	assert.Empty(t, mustAudit(t, st, taskID), "idempotent no-op must not append an audit row")
}

func mustAudit(t *testing.T, st store.Store, taskID int64) []*model.TaskStatusAudit {
	t.Helper()
	ctx := context.Background()
	tx, err := st.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	rows, err := tx.ListTaskStatusAudit(ctx, taskID)
	require.NoError(t, err)
	return rows
}
