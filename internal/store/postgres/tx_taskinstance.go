package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ihmeuw-scicomp/jobmon/internal/model"
	"github.com/ihmeuw-scicomp/jobmon/internal/store"
)

const taskInstanceColumns = `
	id, task_id, workflow_run_id, array_id, array_batch_num, status,
	distributor_id, hostname, stdout_tail, stderr_tail, maxrss_bytes,
	runtime_seconds, report_by_date, status_date, created_at`

func (t *Tx) CreateTaskInstance(ctx context.Context, ti *model.TaskInstance) error {
	return t.tx.QueryRowContext(ctx, `
		INSERT INTO task_instance
			(task_id, workflow_run_id, array_id, array_batch_num, status,
			 report_by_date, status_date, created_at)
		VALUES ($1, $2, $3, $4, $5, now() + interval '10 minutes', now(), now())
		RETURNING id, report_by_date, status_date, created_at`,
		ti.TaskID, ti.WorkflowRunID, ti.ArrayID, ti.ArrayBatchNum, ti.Status,
	).Scan(&ti.ID, &ti.ReportByDate, &ti.StatusDate, &ti.CreatedAt)
}

func (t *Tx) GetTaskInstance(ctx context.Context, id int64) (*model.TaskInstance, error) {
	var ti model.TaskInstance
	err := t.tx.GetContext(ctx, &ti, `SELECT `+taskInstanceColumns+` FROM task_instance WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get task instance: %w", err)
	}
	return &ti, nil
}

func (t *Tx) LockTaskInstanceForUpdate(ctx context.Context, id int64) (*model.TaskInstance, error) {
	var ti model.TaskInstance
	err := t.tx.GetContext(ctx, &ti,
		`SELECT `+taskInstanceColumns+` FROM task_instance WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, fmt.Errorf("lock task instance for update: %w", err)
	}
	return &ti, nil
}

func (t *Tx) UpdateTaskInstanceStatus(ctx context.Context, id int64, status model.TaskInstanceStatus, at time.Time) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE task_instance SET status = $1, status_date = $2 WHERE id = $3`, status, at, id)
	if err != nil {
		return fmt.Errorf("update task instance status: %w", err)
	}
	return nil
}

func (t *Tx) UpdateTaskInstanceReportByDate(ctx context.Context, id int64, at time.Time) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE task_instance SET report_by_date = $1 WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("update task instance report-by date: %w", err)
	}
	return nil
}

func (t *Tx) SetTaskInstanceDistributorID(ctx context.Context, id int64, distributorID string) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE task_instance SET distributor_id = $1 WHERE id = $2`, distributorID, id)
	if err != nil {
		return fmt.Errorf("set task instance distributor id: %w", err)
	}
	return nil
}

func (t *Tx) UpdateTaskInstanceResourceUsage(ctx context.Context, id int64, maxrssBytes int64, runtimeSeconds float64) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE task_instance SET maxrss_bytes = $1, runtime_seconds = $2 WHERE id = $3`,
		maxrssBytes, runtimeSeconds, id)
	if err != nil {
		return fmt.Errorf("update task instance resource usage: %w", err)
	}
	return nil
}

func (t *Tx) ListTaskInstancesQueued(ctx context.Context, workflowRunID int64, limit int) ([]*model.TaskInstance, error) {
	var instances []*model.TaskInstance
	err := t.tx.SelectContext(ctx, &instances, `
		SELECT `+taskInstanceColumns+`
		FROM task_instance
		WHERE workflow_run_id = $1 AND status = 'Q'
		ORDER BY created_at ASC
		LIMIT $2`, workflowRunID, limit)
	if err != nil {
		return nil, fmt.Errorf("list queued task instances: %w", err)
	}
	return instances, nil
}

func (t *Tx) ListTaskInstancesByStatus(ctx context.Context, workflowRunID int64, statuses []model.TaskInstanceStatus) ([]*model.TaskInstance, error) {
	query, args, err := sqlx.In(`
		SELECT `+taskInstanceColumns+`
		FROM task_instance WHERE workflow_run_id = ? AND status IN (?)`, workflowRunID, statuses)
	if err != nil {
		return nil, fmt.Errorf("build list by status query: %w", err)
	}
	query = t.tx.Rebind(query)

	var instances []*model.TaskInstance
	if err := t.tx.SelectContext(ctx, &instances, query, args...); err != nil {
		return nil, fmt.Errorf("list task instances by status: %w", err)
	}
	return instances, nil
}

func (t *Tx) ListTaskInstancesPastReportBy(ctx context.Context, cutoff time.Time, statuses []model.TaskInstanceStatus) ([]*model.TaskInstance, error) {
	query, args, err := sqlx.In(`
		SELECT `+taskInstanceColumns+`
		FROM task_instance
		WHERE report_by_date < ? AND status IN (?)
		FOR UPDATE SKIP LOCKED`, cutoff, statuses)
	if err != nil {
		return nil, fmt.Errorf("build past-report-by query: %w", err)
	}
	query = t.tx.Rebind(query)

	var instances []*model.TaskInstance
	if err := t.tx.SelectContext(ctx, &instances, query, args...); err != nil {
		return nil, fmt.Errorf("list task instances past report-by: %w", err)
	}
	return instances, nil
}

func (t *Tx) ListTaskInstancesByWorkflowRun(ctx context.Context, workflowRunID int64) ([]*model.TaskInstance, error) {
	var instances []*model.TaskInstance
	err := t.tx.SelectContext(ctx, &instances,
		`SELECT `+taskInstanceColumns+` FROM task_instance WHERE workflow_run_id = $1`, workflowRunID)
	if err != nil {
		return nil, fmt.Errorf("list task instances by workflow run: %w", err)
	}
	return instances, nil
}

func (t *Tx) ListTaskInstancesForBatch(ctx context.Context, arrayID int64, batchNum int) ([]*model.TaskInstance, error) {
	var instances []*model.TaskInstance
	err := t.tx.SelectContext(ctx, &instances, `
		SELECT `+taskInstanceColumns+`
		FROM task_instance WHERE array_id = $1 AND array_batch_num = $2
		FOR UPDATE`, arrayID, batchNum)
	if err != nil {
		return nil, fmt.Errorf("list task instances for batch: %w", err)
	}
	return instances, nil
}

func (t *Tx) AppendTaskInstanceErrorLog(ctx context.Context, e *model.TaskInstanceErrorLog) error {
	return t.tx.QueryRowContext(ctx, `
		INSERT INTO task_instance_error_log (task_instance_id, description, error_state, logged_at)
		VALUES ($1, $2, $3, now()) RETURNING id, logged_at`,
		e.TaskInstanceID, e.Description, e.ErrorState,
	).Scan(&e.ID, &e.LoggedAt)
}

func (t *Tx) ListTaskInstanceErrorLogs(ctx context.Context, taskInstanceID int64) ([]*model.TaskInstanceErrorLog, error) {
	var logs []*model.TaskInstanceErrorLog
	err := t.tx.SelectContext(ctx, &logs, `
		SELECT id, task_instance_id, description, error_state, logged_at
		FROM task_instance_error_log WHERE task_instance_id = $1 ORDER BY logged_at ASC`, taskInstanceID)
	if err != nil {
		return nil, fmt.Errorf("list task instance error logs: %w", err)
	}
	return logs, nil
}

func (t *Tx) ListResourceUsageSamples(ctx context.Context, taskTemplateVersionID int64) ([]store.ResourceSample, error) {
	var samples []store.ResourceSample
	err := t.tx.SelectContext(ctx, &samples, `
		SELECT ti.maxrss_bytes AS maxrss_bytes, ti.runtime_seconds AS runtime_seconds
		FROM task_instance ti
		JOIN task t ON t.id = ti.task_id
		JOIN node n ON n.id = t.node_id
		WHERE n.task_template_version_id = $1
		  AND ti.status = 'D'
		  AND ti.maxrss_bytes IS NOT NULL
		  AND ti.runtime_seconds IS NOT NULL`, taskTemplateVersionID)
	if err != nil {
		return nil, fmt.Errorf("list resource usage samples: %w", err)
	}
	return samples, nil
}

func (t *Tx) TryAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	var locked bool
	if err := t.tx.GetContext(ctx, &locked, `SELECT pg_try_advisory_lock($1)`, key); err != nil {
		return false, fmt.Errorf("try advisory lock: %w", err)
	}
	return locked, nil
}

func (t *Tx) AdvisoryUnlock(ctx context.Context, key int64) error {
	if _, err := t.tx.ExecContext(ctx, `SELECT pg_advisory_unlock($1)`, key); err != nil {
		return fmt.Errorf("advisory unlock: %w", err)
	}
	return nil
}
