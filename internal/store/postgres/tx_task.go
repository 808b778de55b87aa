package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ihmeuw-scicomp/jobmon/internal/model"
)

func (t *Tx) CreateTask(ctx context.Context, task *model.Task) error {
	return t.tx.QueryRowContext(ctx, `
		INSERT INTO task
			(workflow_id, node_id, array_id, task_args_hash, name, command,
			 status, num_attempts, max_attempts, resource_request, status_date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9, now(), now())
		RETURNING id, status_date, created_at`,
		task.WorkflowID, task.NodeID, task.ArrayID, task.TaskArgsHash, task.Name,
		task.Command, task.Status, task.MaxAttempts, task.ResourceRequest,
	).Scan(&task.ID, &task.StatusDate, &task.CreatedAt)
}

func (t *Tx) GetTask(ctx context.Context, id int64) (*model.Task, error) {
	var task model.Task
	err := t.tx.GetContext(ctx, &task, `
		SELECT id, workflow_id, node_id, array_id, task_args_hash, name, command,
		       status, num_attempts, max_attempts, resource_request, status_date, created_at
		FROM task WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return &task, nil
}

// LockTaskForUpdate acquires the per-row lock spec §4.1/§4.2 requires
// before any status mutation: the aggregation rule in particular
// depends on this lock being held before the task-instance's own
// status write (spec §4.2).
func (t *Tx) LockTaskForUpdate(ctx context.Context, id int64) (*model.Task, error) {
	var task model.Task
	err := t.tx.GetContext(ctx, &task, `
		SELECT id, workflow_id, node_id, array_id, task_args_hash, name, command,
		       status, num_attempts, max_attempts, resource_request, status_date, created_at
		FROM task WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, fmt.Errorf("lock task for update: %w", err)
	}
	return &task, nil
}

func (t *Tx) UpdateTaskStatus(ctx context.Context, id int64, status model.TaskStatus, statusDate time.Time) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE task SET status = $1, status_date = $2 WHERE id = $3`, status, statusDate, id)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	return nil
}

func (t *Tx) IncrementTaskAttempts(ctx context.Context, id int64) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE task SET num_attempts = num_attempts + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("increment task attempts: %w", err)
	}
	return nil
}

func (t *Tx) UpdateTaskResourceRequest(ctx context.Context, id int64, resourceRequest string) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE task SET resource_request = $1 WHERE id = $2`, resourceRequest, id)
	if err != nil {
		return fmt.Errorf("update task resource request: %w", err)
	}
	return nil
}

func (t *Tx) AppendTaskStatusAudit(ctx context.Context, a *model.TaskStatusAudit) error {
	return t.tx.QueryRowContext(ctx, `
		INSERT INTO task_status_audit (task_id, previous, new, at)
		VALUES ($1, $2, $3, now()) RETURNING id, at`,
		a.TaskID, a.Previous, a.New,
	).Scan(&a.ID, &a.At)
}

func (t *Tx) ListTaskStatusAudit(ctx context.Context, taskID int64) ([]*model.TaskStatusAudit, error) {
	var rows []*model.TaskStatusAudit
	err := t.tx.SelectContext(ctx, &rows, `
		SELECT id, task_id, previous, new, at FROM task_status_audit
		WHERE task_id = $1 ORDER BY at ASC, id ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list task status audit: %w", err)
	}
	return rows, nil
}

func (t *Tx) ListTasksByWorkflow(ctx context.Context, workflowID int64) ([]*model.Task, error) {
	var tasks []*model.Task
	err := t.tx.SelectContext(ctx, &tasks, `
		SELECT id, workflow_id, node_id, array_id, task_args_hash, name, command,
		       status, num_attempts, max_attempts, resource_request, status_date, created_at
		FROM task WHERE workflow_id = $1`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list tasks by workflow: %w", err)
	}
	return tasks, nil
}

// ListTasksForResume selects the tasks the resume protocol (spec
// §4.2) will reset: everything not already in D or G, optionally
// excluding R when reset_if_running=false.
func (t *Tx) ListTasksForResume(ctx context.Context, workflowID int64, excludeRunning bool) ([]*model.Task, error) {
	query := `
		SELECT id, workflow_id, node_id, array_id, task_args_hash, name, command,
		       status, num_attempts, max_attempts, resource_request, status_date, created_at
		FROM task
		WHERE workflow_id = $1 AND status NOT IN ('D', 'G')`
	if excludeRunning {
		query += ` AND status != 'R'`
	}
	query += ` FOR UPDATE`

	var tasks []*model.Task
	if err := t.tx.SelectContext(ctx, &tasks, query, workflowID); err != nil {
		return nil, fmt.Errorf("list tasks for resume: %w", err)
	}
	return tasks, nil
}

func (t *Tx) BulkResetTasksToRegistering(ctx context.Context, taskIDs []int64, at time.Time) error {
	if len(taskIDs) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`
		UPDATE task SET status = 'G', num_attempts = 0, status_date = ?
		WHERE id IN (?)`, at, taskIDs)
	if err != nil {
		return fmt.Errorf("build bulk reset query: %w", err)
	}
	query = t.tx.Rebind(query)
	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("bulk reset tasks: %w", err)
	}
	return nil
}

func (t *Tx) CountTasksByStatus(ctx context.Context, workflowID int64) (map[model.TaskStatus]int, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT status, count(*) FROM task WHERE workflow_id = $1 GROUP BY status`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("count tasks by status: %w", err)
	}
	defer rows.Close()

	counts := map[model.TaskStatus]int{}
	for rows.Next() {
		var status model.TaskStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan task status count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// BulkUpdateTaskStatus implements the bulk `UPDATE ... WHERE id IN (...)
// AND status IN (...)` primitive spec §4.1 calls for, returning the ids
// that actually matched (so callers know which tasks were already in a
// different state and skipped).
func (t *Tx) BulkUpdateTaskStatus(ctx context.Context, ids []int64, fromAny []model.TaskStatus, to model.TaskStatus, at time.Time) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`
		UPDATE task SET status = ?, status_date = ?
		WHERE id IN (?) AND status IN (?)
		RETURNING id`, to, at, ids, fromAny)
	if err != nil {
		return nil, fmt.Errorf("build bulk update query: %w", err)
	}
	query = t.tx.Rebind(query)

	var updated []int64
	if err := t.tx.SelectContext(ctx, &updated, query, args...); err != nil {
		return nil, fmt.Errorf("bulk update task status: %w", err)
	}
	return updated, nil
}

func (t *Tx) ListDownstreamTaskIDs(ctx context.Context, taskIDs []int64) ([]int64, error) {
	if len(taskIDs) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`
		SELECT DISTINCT t2.id
		FROM task t1
		JOIN edge e ON e.upstream_node_id = t1.node_id
		JOIN task t2 ON t2.node_id = e.downstream_node_id AND t2.workflow_id = t1.workflow_id
		WHERE t1.id IN (?)`, taskIDs)
	if err != nil {
		return nil, fmt.Errorf("build downstream task query: %w", err)
	}
	query = t.tx.Rebind(query)

	var ids []int64
	if err := t.tx.SelectContext(ctx, &ids, query, args...); err != nil {
		return nil, fmt.Errorf("list downstream task ids: %w", err)
	}
	return ids, nil
}
