package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ihmeuw-scicomp/jobmon/internal/model"
)

func (t *Tx) CreateWorkflow(ctx context.Context, w *model.Workflow) error {
	return t.tx.QueryRowContext(ctx, `
		INSERT INTO workflow
			(tool_version_id, dag_id, workflow_args_hash, hash, name,
			 max_concurrently_running, status, resumable_hot, user_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		RETURNING id, created_at`,
		w.ToolVersionID, w.DAGID, w.WorkflowArgsHash, w.Hash, w.Name,
		w.MaxConcurrentlyRunning, w.Status, w.ResumableHot, w.UserID,
	).Scan(&w.ID, &w.CreatedAt)
}

func (t *Tx) GetWorkflow(ctx context.Context, id int64) (*model.Workflow, error) {
	var w model.Workflow
	err := t.tx.GetContext(ctx, &w, `
		SELECT id, tool_version_id, dag_id, workflow_args_hash, hash, name,
		       max_concurrently_running, status, resumable_hot, user_id, created_at
		FROM workflow WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	return &w, nil
}

func (t *Tx) GetWorkflowByHash(ctx context.Context, hash string) (*model.Workflow, error) {
	var w model.Workflow
	err := t.tx.GetContext(ctx, &w, `
		SELECT id, tool_version_id, dag_id, workflow_args_hash, hash, name,
		       max_concurrently_running, status, resumable_hot, user_id, created_at
		FROM workflow WHERE hash = $1`, hash)
	if err != nil {
		return nil, fmt.Errorf("get workflow by hash: %w", err)
	}
	return &w, nil
}

func (t *Tx) UpdateWorkflowStatus(ctx context.Context, id int64, status model.WorkflowStatus) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE workflow SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("update workflow status: %w", err)
	}
	return nil
}

func (t *Tx) UpdateWorkflowMaxConcurrentlyRunning(ctx context.Context, id int64, max int) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE workflow SET max_concurrently_running = $1 WHERE id = $2`, max, id)
	if err != nil {
		return fmt.Errorf("update workflow max concurrency: %w", err)
	}
	return nil
}

func (t *Tx) SetWorkflowResumableHot(ctx context.Context, id int64, resumable bool) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE workflow SET resumable_hot = $1 WHERE id = $2`, resumable, id)
	if err != nil {
		return fmt.Errorf("set workflow resumable: %w", err)
	}
	return nil
}

func (t *Tx) CreateWorkflowRun(ctx context.Context, wr *model.WorkflowRun) error {
	return t.tx.QueryRowContext(ctx, `
		INSERT INTO workflow_run (workflow_id, status, heartbeat_date, user_id, created_at, status_date)
		VALUES ($1, $2, now(), $3, now(), now())
		RETURNING id, heartbeat_date, created_at, status_date`,
		wr.WorkflowID, wr.Status, wr.UserID,
	).Scan(&wr.ID, &wr.HeartbeatDate, &wr.CreatedAt, &wr.StatusDate)
}

func (t *Tx) GetWorkflowRun(ctx context.Context, id int64) (*model.WorkflowRun, error) {
	var wr model.WorkflowRun
	err := t.tx.GetContext(ctx, &wr, `
		SELECT id, workflow_id, status, heartbeat_date, user_id, created_at, status_date
		FROM workflow_run WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get workflow run: %w", err)
	}
	return &wr, nil
}

// GetNonTerminalWorkflowRun enforces invariant 7 by construction: it is
// the lookup the FSM's CreateWorkflowRun path consults before inserting
// a new row, so at most one non-terminal run ever exists per workflow.
func (t *Tx) GetNonTerminalWorkflowRun(ctx context.Context, workflowID int64) (*model.WorkflowRun, error) {
	var wr model.WorkflowRun
	err := t.tx.GetContext(ctx, &wr, `
		SELECT id, workflow_id, status, heartbeat_date, user_id, created_at, status_date
		FROM workflow_run
		WHERE workflow_id = $1
		  AND status IN ('LAUNCHED', 'RUNNING', 'BOUND', 'INSTANTIATED')
		FOR UPDATE`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("get non-terminal workflow run: %w", err)
	}
	return &wr, nil
}

func (t *Tx) UpdateWorkflowRunHeartbeat(ctx context.Context, id int64, at time.Time) error {
	// Monotonic by construction: GREATEST() never lets a delayed/retried
	// heartbeat write regress heartbeat_date (spec invariant 6).
	_, err := t.tx.ExecContext(ctx, `
		UPDATE workflow_run SET heartbeat_date = GREATEST(heartbeat_date, $1) WHERE id = $2`,
		at, id)
	if err != nil {
		return fmt.Errorf("update workflow run heartbeat: %w", err)
	}
	return nil
}

func (t *Tx) UpdateWorkflowRunStatus(ctx context.Context, id int64, status model.WorkflowRunStatus) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE workflow_run SET status = $1, status_date = now() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("update workflow run status: %w", err)
	}
	return nil
}

func (t *Tx) ListStaleWorkflowRuns(ctx context.Context, cutoff time.Time) ([]*model.WorkflowRun, error) {
	var runs []*model.WorkflowRun
	err := t.tx.SelectContext(ctx, &runs, `
		SELECT id, workflow_id, status, heartbeat_date, user_id, created_at, status_date
		FROM workflow_run
		WHERE heartbeat_date < $1
		  AND status IN ('LAUNCHED', 'RUNNING', 'BOUND', 'INSTANTIATED')
		FOR UPDATE SKIP LOCKED`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale workflow runs: %w", err)
	}
	return runs, nil
}
