package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/ihmeuw-scicomp/jobmon/internal/model"
)

func (t *Tx) GetArray(ctx context.Context, id int64) (*model.Array, error) {
	var a model.Array
	err := t.tx.GetContext(ctx, &a, `
		SELECT id, workflow_id, task_template_version_id, max_concurrently_running, max_batch_num
		FROM task_array WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get array: %w", err)
	}
	return &a, nil
}

func (t *Tx) CreateArray(ctx context.Context, a *model.Array) error {
	return t.tx.QueryRowContext(ctx, `
		INSERT INTO task_array (workflow_id, task_template_version_id, max_concurrently_running, max_batch_num)
		VALUES ($1, $2, $3, 0) RETURNING id`,
		a.WorkflowID, a.TaskTemplateVersionID, a.MaxConcurrentlyRunning,
	).Scan(&a.ID)
}

func (t *Tx) UpdateArrayMaxConcurrentlyRunning(ctx context.Context, arrayID int64, max int) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE task_array SET max_concurrently_running = $1 WHERE id = $2`, max, arrayID)
	if err != nil {
		return fmt.Errorf("update array max concurrency: %w", err)
	}
	return nil
}

// NextArrayBatchNum atomically increments and returns the array's
// batch counter under the row lock implicit in the UPDATE ... RETURNING.
func (t *Tx) NextArrayBatchNum(ctx context.Context, arrayID int64) (int, error) {
	var next int
	err := t.tx.QueryRowContext(ctx, `
		UPDATE task_array SET max_batch_num = max_batch_num + 1
		WHERE id = $1 RETURNING max_batch_num`, arrayID,
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next array batch num: %w", err)
	}
	return next, nil
}

// LockArrayTasksInStatuses is phase one of the array-level bulk
// transitions (spec §4.2): lock the task rows before any task-instance
// row is touched.
func (t *Tx) LockArrayTasksInStatuses(ctx context.Context, arrayID int64, statuses []model.TaskStatus) ([]*model.Task, error) {
	query, args, err := sqlx.In(`
		SELECT id, workflow_id, node_id, array_id, task_args_hash, name, command,
		       status, num_attempts, max_attempts, resource_request, status_date, created_at
		FROM task WHERE array_id = ? AND status IN (?) FOR UPDATE`, arrayID, statuses)
	if err != nil {
		return nil, fmt.Errorf("build lock array tasks query: %w", err)
	}
	query = t.tx.Rebind(query)

	var tasks []*model.Task
	if err := t.tx.SelectContext(ctx, &tasks, query, args...); err != nil {
		return nil, fmt.Errorf("lock array tasks: %w", err)
	}
	return tasks, nil
}

func (t *Tx) ListArrayBatchTaskIDs(ctx context.Context, arrayID int64, batchNum int) ([]int64, error) {
	var ids []int64
	err := t.tx.SelectContext(ctx, &ids, `
		SELECT DISTINCT task_id FROM task_instance
		WHERE array_id = $1 AND array_batch_num = $2`, arrayID, batchNum)
	if err != nil {
		return nil, fmt.Errorf("list array batch task ids: %w", err)
	}
	return ids, nil
}
