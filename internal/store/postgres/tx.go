package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/ihmeuw-scicomp/jobmon/internal/model"
	"github.com/ihmeuw-scicomp/jobmon/internal/store"
)

// Tx wraps a single sqlx.Tx. Every method below issues exactly the SQL
// it needs within the caller's transaction; none of them commit or
// roll back internally.
type Tx struct {
	tx  *sqlx.Tx
	log zerolog.Logger
}

func (t *Tx) Commit() error   { return t.tx.Commit() }
func (t *Tx) Rollback() error { return t.tx.Rollback() }

// Now reads the database's clock so app hosts never disagree about
// "current time" (spec §4.1).
func (t *Tx) Now(ctx context.Context) (time.Time, error) {
	var now time.Time
	if err := t.tx.GetContext(ctx, &now, `SELECT now()`); err != nil {
		return time.Time{}, fmt.Errorf("select now(): %w", err)
	}
	return now, nil
}

func (t *Tx) CreateTool(ctx context.Context, tool *model.Tool) error {
	return t.tx.QueryRowContext(ctx,
		`INSERT INTO tool (name) VALUES ($1) RETURNING id`, tool.Name,
	).Scan(&tool.ID)
}

func (t *Tx) GetToolByName(ctx context.Context, name string) (*model.Tool, error) {
	var tool model.Tool
	err := t.tx.GetContext(ctx, &tool, `SELECT id, name FROM tool WHERE name = $1`, name)
	if err != nil {
		return nil, fmt.Errorf("get tool by name: %w", err)
	}
	return &tool, nil
}

func (t *Tx) CreateToolVersion(ctx context.Context, tv *model.ToolVersion) error {
	return t.tx.QueryRowContext(ctx,
		`INSERT INTO tool_version (tool_id) VALUES ($1) RETURNING id`, tv.ToolID,
	).Scan(&tv.ID)
}

func (t *Tx) GetToolVersion(ctx context.Context, id int64) (*model.ToolVersion, error) {
	var tv model.ToolVersion
	err := t.tx.GetContext(ctx, &tv, `SELECT id, tool_id FROM tool_version WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get tool version: %w", err)
	}
	return &tv, nil
}

func (t *Tx) CreateTaskTemplate(ctx context.Context, tt *model.TaskTemplate) error {
	return t.tx.QueryRowContext(ctx,
		`INSERT INTO task_template (tool_id, name) VALUES ($1, $2) RETURNING id`,
		tt.ToolID, tt.Name,
	).Scan(&tt.ID)
}

func (t *Tx) GetTaskTemplateByName(ctx context.Context, toolID int64, name string) (*model.TaskTemplate, error) {
	var tt model.TaskTemplate
	err := t.tx.GetContext(ctx, &tt,
		`SELECT id, tool_id, name FROM task_template WHERE tool_id = $1 AND name = $2`,
		toolID, name,
	)
	if err != nil {
		return nil, fmt.Errorf("get task template by name: %w", err)
	}
	return &tt, nil
}

func (t *Tx) CreateTaskTemplateVersion(ctx context.Context, ttv *model.TaskTemplateVersion) error {
	return t.tx.QueryRowContext(ctx, `
		INSERT INTO task_template_version
			(task_template_id, tool_version_id, command_template, node_args, task_args, op_args)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		ttv.TaskTemplateID, ttv.ToolVersionID, ttv.CommandTemplate,
		ttv.NodeArgs, ttv.TaskArgs, ttv.OpArgs,
	).Scan(&ttv.ID)
}

func (t *Tx) GetTaskTemplateVersion(ctx context.Context, id int64) (*model.TaskTemplateVersion, error) {
	var ttv model.TaskTemplateVersion
	err := t.tx.GetContext(ctx, &ttv, `
		SELECT id, task_template_id, tool_version_id, command_template, node_args, task_args, op_args
		FROM task_template_version WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get task template version: %w", err)
	}
	return &ttv, nil
}

func (t *Tx) ListTaskTemplateDAG(ctx context.Context, workflowID int64) ([]store.TaskTemplateEdge, error) {
	var edges []store.TaskTemplateEdge
	err := t.tx.SelectContext(ctx, &edges, `
		SELECT DISTINCT tt_up.name AS name, tt_down.id AS downstream_task_template_id
		FROM edge e
		JOIN node n_up ON n_up.id = e.upstream_node_id
		JOIN node n_down ON n_down.id = e.downstream_node_id
		JOIN task_template_version ttv_up ON ttv_up.id = n_up.task_template_version_id
		JOIN task_template_version ttv_down ON ttv_down.id = n_down.task_template_version_id
		JOIN task_template tt_up ON tt_up.id = ttv_up.task_template_id
		JOIN task_template tt_down ON tt_down.id = ttv_down.task_template_id
		JOIN task t ON t.node_id = n_up.id AND t.workflow_id = $1
		WHERE e.dag_id = (SELECT dag_id FROM workflow WHERE id = $1)`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list task template dag: %w", err)
	}
	return edges, nil
}

func (t *Tx) CreateNode(ctx context.Context, n *model.Node) error {
	return t.tx.QueryRowContext(ctx, `
		INSERT INTO node (task_template_version_id, node_args_hash, node_args)
		VALUES ($1, $2, $3) RETURNING id`,
		n.TaskTemplateVersionID, n.NodeArgsHash, n.NodeArgs,
	).Scan(&n.ID)
}

func (t *Tx) GetNodeByHash(ctx context.Context, taskTemplateVersionID int64, nodeArgsHash string) (*model.Node, error) {
	var n model.Node
	err := t.tx.GetContext(ctx, &n, `
		SELECT id, task_template_version_id, node_args_hash, node_args
		FROM node WHERE task_template_version_id = $1 AND node_args_hash = $2`,
		taskTemplateVersionID, nodeArgsHash)
	if err != nil {
		return nil, fmt.Errorf("get node by hash: %w", err)
	}
	return &n, nil
}

func (t *Tx) CreateEdge(ctx context.Context, e *model.Edge) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO edge (dag_id, upstream_node_id, downstream_node_id)
		VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
		e.DAGID, e.UpstreamID, e.DownstreamID)
	if err != nil {
		return fmt.Errorf("create edge: %w", err)
	}
	return nil
}

func (t *Tx) ListUpstreamNodes(ctx context.Context, dagID, nodeID int64) ([]*model.Node, error) {
	var nodes []*model.Node
	err := t.tx.SelectContext(ctx, &nodes, `
		SELECT n.id, n.task_template_version_id, n.node_args_hash, n.node_args
		FROM edge e JOIN node n ON n.id = e.upstream_node_id
		WHERE e.dag_id = $1 AND e.downstream_node_id = $2`, dagID, nodeID)
	if err != nil {
		return nil, fmt.Errorf("list upstream nodes: %w", err)
	}
	return nodes, nil
}

func (t *Tx) ListDownstreamNodes(ctx context.Context, dagID, nodeID int64) ([]*model.Node, error) {
	var nodes []*model.Node
	err := t.tx.SelectContext(ctx, &nodes, `
		SELECT n.id, n.task_template_version_id, n.node_args_hash, n.node_args
		FROM edge e JOIN node n ON n.id = e.downstream_node_id
		WHERE e.dag_id = $1 AND e.upstream_node_id = $2`, dagID, nodeID)
	if err != nil {
		return nil, fmt.Errorf("list downstream nodes: %w", err)
	}
	return nodes, nil
}

func (t *Tx) CreateDAG(ctx context.Context, d *model.DAG) error {
	return t.tx.QueryRowContext(ctx,
		`INSERT INTO dag (hash) VALUES ($1) RETURNING id`, d.Hash,
	).Scan(&d.ID)
}

func (t *Tx) GetDAGByHash(ctx context.Context, hash string) (*model.DAG, error) {
	var d model.DAG
	err := t.tx.GetContext(ctx, &d, `SELECT id, hash FROM dag WHERE hash = $1`, hash)
	if err != nil {
		return nil, fmt.Errorf("get dag by hash: %w", err)
	}
	return &d, nil
}
