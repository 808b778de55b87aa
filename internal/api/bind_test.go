package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ihmeuw-scicomp/jobmon/internal/api"
	"github.com/ihmeuw-scicomp/jobmon/internal/model"
	"github.com/ihmeuw-scicomp/jobmon/internal/store/storetest"
)

func newTestServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	st := storetest.New()

	ctx := context.Background()
	tx, err := st.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.CreateDAG(ctx, &model.DAG{Hash: "dag-hash-1"}))
	require.NoError(t, tx.Commit())

	srv := api.NewServer("", st, api.NewEngines(), api.Config{Versions: []string{"v1"}})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, "/api/v1"
}

func doJSON(t *testing.T, method, url string, body any, out any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestBindWorkflow_IsIdempotentByHash(t *testing.T) {
	ts, prefix := newTestServer(t)

	reqBody := map[string]any{
		"tool_version_id":          1,
		"dag_hash":                 "dag-hash-1",
		"workflow_args_hash":       "args-hash-1",
		"name":                     "my-workflow",
		"max_concurrently_running": 5,
		"user_id":                  "user-1",
	}

	var first, second struct {
		WorkflowID int64  `json:"workflow_id"`
		Status     string `json:"status"`
	}
	resp1 := doJSON(t, http.MethodPost, ts.URL+prefix+"/workflow/bind", reqBody, &first)
	assert.Equal(t, http.StatusOK, resp1.StatusCode)

	resp2 := doJSON(t, http.MethodPost, ts.URL+prefix+"/workflow/bind", reqBody, &second)
	assert.Equal(t, http.StatusOK, resp2.StatusCode)

	assert.Equal(t, first.WorkflowID, second.WorkflowID,
		"binding the same (tool_version, dag, args_hash) twice must return the same workflow")
}

func TestCreateWorkflowRun_RejectsSecondNonTerminalRun(t *testing.T) {
	ts, prefix := newTestServer(t)

	var bound struct {
		WorkflowID int64 `json:"workflow_id"`
	}
	doJSON(t, http.MethodPost, ts.URL+prefix+"/workflow/bind", map[string]any{
		"tool_version_id":    1,
		"dag_hash":           "dag-hash-1",
		"workflow_args_hash": "args-hash-2",
		"name":               "another-workflow",
		"user_id":            "user-1",
	}, &bound)
	require.NotZero(t, bound.WorkflowID)

	runURL := fmt.Sprintf("%s%s/workflow/%d/workflow_run", ts.URL, prefix, bound.WorkflowID)

	resp1 := doJSON(t, http.MethodPost, runURL, map[string]any{"user_id": "user-1"}, nil)
	assert.Equal(t, http.StatusOK, resp1.StatusCode)

	resp2 := doJSON(t, http.MethodPost, runURL, map[string]any{"user_id": "user-1"}, nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp2.StatusCode,
		"a workflow may have at most one non-terminal run; Conflict maps to 503 as a retryable status")
}
