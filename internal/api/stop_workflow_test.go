package api_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ihmeuw-scicomp/jobmon/internal/api"
	"github.com/ihmeuw-scicomp/jobmon/internal/model"
	"github.com/ihmeuw-scicomp/jobmon/internal/store"
	"github.com/ihmeuw-scicomp/jobmon/internal/store/storetest"
)

// TestStopWorkflow_ParksRunningInstancesInKAndSurfacesKillRequests
// covers spec §8's kill scenario end to end at the Coordination API
// layer: stopping a workflow must park its run's active instances in
// K, and a distributor-facing poll must then see exactly the ones
// that already have a distributor ID to hand to its cluster plugin.
func TestStopWorkflow_ParksRunningInstancesInKAndSurfacesKillRequests(t *testing.T) {
	st := storetest.New()
	ctx := context.Background()

	workflowID, runID, runningID, queuedID := seedRunningWorkflow(t, st)

	srv := api.NewServer("", st, api.NewEngines(), api.Config{Versions: []string{"v1"}})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp := doJSON(t, http.MethodPost, fmt.Sprintf("%s/api/v1/workflow/%d/stop", ts.URL, workflowID),
		map[string]any{"user_id": "user-1"}, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var killed struct {
		KillRequests []struct {
			TaskInstanceID int64  `json:"task_instance_id"`
			DistributorID  string `json:"distributor_id"`
		} `json:"kill_requests"`
	}
	resp2 := doJSON(t, http.MethodGet, fmt.Sprintf("%s/api/v1/workflow_run/%d/kill_requests", ts.URL, runID), nil, &killed)
	assert.Equal(t, http.StatusOK, resp2.StatusCode)

	require.Len(t, killed.KillRequests, 1, "only the instance with a distributor ID is a kill request")
	assert.Equal(t, runningID, killed.KillRequests[0].TaskInstanceID)
	assert.Equal(t, "local-1", killed.KillRequests[0].DistributorID)

	tx, err := st.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	gotRunning, err := tx.GetTaskInstance(ctx, runningID)
	require.NoError(t, err)
	assert.Equal(t, model.TIKillSelf, gotRunning.Status)

	gotQueued, err := tx.GetTaskInstance(ctx, queuedID)
	require.NoError(t, err)
	assert.Equal(t, model.TIKillSelf, gotQueued.Status,
		"an instance never submitted to a distributor still gets parked in K so its batch resolves cleanly")
}

// seedRunningWorkflow writes a workflow with one non-terminal run and
// two active instances directly through the store, bypassing the
// distributor entirely: this test only cares about the Coordination
// API's half of the kill path.
func seedRunningWorkflow(t *testing.T, st store.Store) (workflowID, runID, runningID, queuedID int64) {
	t.Helper()
	ctx := context.Background()
	tx, err := st.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	dag := &model.DAG{Hash: "dag-hash-stop"}
	require.NoError(t, tx.CreateDAG(ctx, dag))

	// Auth is disabled for this server (api.Config{}.AuthEnabled is
	// false), so every request resolves to the "anonymous" identity;
	// the workflow must be owned by that identity for handleStopWorkflow's
	// auth.RequireOwner check to pass.
	wf := &model.Workflow{DAGID: dag.ID, Hash: "wf-hash-stop", Name: "stoppable", Status: model.WorkflowRunning, UserID: "anonymous"}
	require.NoError(t, tx.CreateWorkflow(ctx, wf))

	wr := &model.WorkflowRun{WorkflowID: wf.ID, Status: model.WorkflowRunRunning, UserID: "anonymous"}
	require.NoError(t, tx.CreateWorkflowRun(ctx, wr))

	array := &model.Array{WorkflowID: wf.ID, TaskTemplateVersionID: 1}
	require.NoError(t, tx.CreateArray(ctx, array))
	batchNum := 1

	running := &model.TaskInstance{
		WorkflowRunID: wr.ID, ArrayID: &array.ID, ArrayBatchNum: &batchNum,
		Status: model.TIRunning, DistributorID: "local-1",
	}
	require.NoError(t, tx.CreateTaskInstance(ctx, running))

	queued := &model.TaskInstance{
		WorkflowRunID: wr.ID, ArrayID: &array.ID, ArrayBatchNum: &batchNum,
		Status: model.TIQueued,
	}
	require.NoError(t, tx.CreateTaskInstance(ctx, queued))

	require.NoError(t, tx.Commit())
	return wf.ID, wr.ID, running.ID, queued.ID
}
