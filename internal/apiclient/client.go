/*
Package apiclient is the distributor's HTTP/JSON client against the
Coordination API: one struct wrapping a connection, one thin method
per RPC, over a plain net/http.Client. The Coordination API has no
mutual-TLS requirement, so there is no certificate directory to
manage.
*/
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client calls one version of the Coordination API over HTTP/JSON.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New constructs a Client. baseURL should include the version segment,
// e.g. "http://coordination:8080/api/v1". token is sent as a Bearer
// credential on every request when non-empty.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, detail)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}

// QueueTaskBatchRequest mirrors the Coordination API's request body.
type QueueTaskBatchRequest struct {
	TaskIDs         []int64 `json:"task_ids"`
	TaskResourcesID int64   `json:"task_resources_id"`
	WorkflowRunID   int64   `json:"workflow_run_id"`
}

// QueueTaskBatchResponse mirrors the Coordination API's response body.
type QueueTaskBatchResponse struct {
	TaskInstanceIDs []int64 `json:"task_instance_ids"`
	BatchNumber     int     `json:"batch_number"`
}

func (c *Client) QueueTaskBatch(ctx context.Context, arrayID int64, req QueueTaskBatchRequest) (*QueueTaskBatchResponse, error) {
	var out QueueTaskBatchResponse
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/array/%d/queue_task_batch", arrayID), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) TransitionToLaunched(ctx context.Context, arrayID int64, batchNumber int, nextReportIncrementS int) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/array/%d/transition_to_launched", arrayID), map[string]any{
		"batch_number":           batchNumber,
		"next_report_increment": nextReportIncrementS,
	}, nil)
}

func (c *Client) TransitionToKilled(ctx context.Context, arrayID int64, batchNumber int) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/array/%d/transition_to_killed", arrayID), map[string]any{
		"batch_number": batchNumber,
	}, nil)
}

// KillRequest names one task instance a distributor should hand to its
// cluster plugin's Kill method.
type KillRequest struct {
	TaskInstanceID int64  `json:"task_instance_id"`
	ArrayID        int64  `json:"array_id"`
	ArrayBatchNum  int    `json:"array_batch_num"`
	DistributorID  string `json:"distributor_id"`
}

type listKillRequestsResponse struct {
	KillRequests []KillRequest `json:"kill_requests"`
}

// ListKillRequests reports instances under workflowRunID currently
// parked in K (TIKillSelf) with a distributor ID already assigned.
func (c *Client) ListKillRequests(ctx context.Context, workflowRunID int64) ([]KillRequest, error) {
	var out listKillRequestsResponse
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/workflow_run/%d/kill_requests", workflowRunID), nil, &out); err != nil {
		return nil, err
	}
	return out.KillRequests, nil
}

func (c *Client) InstantiateTaskInstances(ctx context.Context, taskInstanceIDs []int64) error {
	return c.do(ctx, http.MethodPost, "/task_instance/instantiate_task_instances", map[string]any{
		"task_instance_ids": taskInstanceIDs,
	}, nil)
}

func (c *Client) LogRunning(ctx context.Context, taskInstanceID int64, hostname string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/task_instance/%d/log_running", taskInstanceID),
		map[string]any{"hostname": hostname}, nil)
}

func (c *Client) LogHeartbeat(ctx context.Context, taskInstanceID int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/task_instance/%d/log_heartbeat", taskInstanceID), nil, nil)
}

func (c *Client) LogDone(ctx context.Context, taskInstanceID int64, maxrssBytes *int64, runtimeSeconds *float64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/task_instance/%d/log_done", taskInstanceID), map[string]any{
		"maxrss_bytes":    maxrssBytes,
		"runtime_seconds": runtimeSeconds,
	}, nil)
}

// LogError reports one of the non-fatal/fatal error outcomes
// (log_known_error, log_unknown_error, log_error_worker_node) — which
// route is called is the caller's decision, not this client's.
func (c *Client) LogError(ctx context.Context, route string, taskInstanceID int64, description, errorState string, maxrssBytes *int64, runtimeSeconds *float64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/task_instance/%d/%s", taskInstanceID, route), map[string]any{
		"description":     description,
		"error_state":     errorState,
		"maxrss_bytes":    maxrssBytes,
		"runtime_seconds": runtimeSeconds,
	}, nil)
}

func (c *Client) LogNoDistributorID(ctx context.Context, taskInstanceID int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/task_instance/%d/log_no_distributor_id", taskInstanceID), nil, nil)
}

func (c *Client) LogDistributorID(ctx context.Context, taskInstanceID int64, distributorID string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/task_instance/%d/log_distributor_id", taskInstanceID),
		map[string]any{"distributor_id": distributorID}, nil)
}
