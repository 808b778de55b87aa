// Package storetest is an in-memory fake of store.Store, letting
// internal/fsm and internal/api exercise FSM legality and handler
// wiring without a live Postgres instance.
//
// The fake serializes every transaction behind a single mutex held for
// the transaction's lifetime — a deliberately coarse stand-in for row
// locking that is sufficient for single-goroutine table-driven tests
// but must never back a production deployment.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ihmeuw-scicomp/jobmon/internal/model"
	"github.com/ihmeuw-scicomp/jobmon/internal/store"
)

// Store is the in-memory fake's top-level handle.
type Store struct {
	mu sync.Mutex

	nextID int64

	tools             map[int64]*model.Tool
	toolVersions      map[int64]*model.ToolVersion
	taskTemplates     map[int64]*model.TaskTemplate
	taskTemplateVers  map[int64]*model.TaskTemplateVersion
	nodes             map[int64]*model.Node
	edges             []*model.Edge
	dags              map[int64]*model.DAG
	workflows         map[int64]*model.Workflow
	workflowRuns      map[int64]*model.WorkflowRun
	arrays            map[int64]*model.Array
	tasks             map[int64]*model.Task
	taskInstances     map[int64]*model.TaskInstance
	taskStatusAudit   []*model.TaskStatusAudit
	errorLogs         []*model.TaskInstanceErrorLog
	advisoryLocks     map[int64]bool
}

// New constructs an empty in-memory store.
func New() *Store {
	return &Store{
		tools:            map[int64]*model.Tool{},
		toolVersions:     map[int64]*model.ToolVersion{},
		taskTemplates:    map[int64]*model.TaskTemplate{},
		taskTemplateVers: map[int64]*model.TaskTemplateVersion{},
		nodes:            map[int64]*model.Node{},
		dags:             map[int64]*model.DAG{},
		workflows:        map[int64]*model.Workflow{},
		workflowRuns:     map[int64]*model.WorkflowRun{},
		arrays:           map[int64]*model.Array{},
		tasks:            map[int64]*model.Task{},
		taskInstances:    map[int64]*model.TaskInstance{},
		advisoryLocks:    map[int64]bool{},
	}
}

func (s *Store) nextIDLocked() int64 {
	s.nextID++
	return s.nextID
}

// BeginTx acquires the store-wide mutex for the transaction's
// duration.
func (s *Store) BeginTx(ctx context.Context) (store.Tx, error) {
	s.mu.Lock()
	return &tx{s: s}, nil
}

// Close is a no-op for the in-memory fake.
func (s *Store) Close() error { return nil }

type tx struct {
	s    *Store
	done bool
}

func (t *tx) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	t.s.mu.Unlock()
	return nil
}

func (t *tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.s.mu.Unlock()
	return nil
}

func (t *tx) Now(ctx context.Context) (time.Time, error) {
	return time.Now().UTC(), nil
}

// --- Tool ---

func (t *tx) CreateTool(ctx context.Context, tool *model.Tool) error {
	tool.ID = t.s.nextIDLocked()
	t.s.tools[tool.ID] = tool
	return nil
}

func (t *tx) GetToolByName(ctx context.Context, name string) (*model.Tool, error) {
	for _, tl := range t.s.tools {
		if tl.Name == name {
			return tl, nil
		}
	}
	return nil, fmt.Errorf("tool %q: %w", name, errNotFound)
}

// --- ToolVersion ---

func (t *tx) CreateToolVersion(ctx context.Context, tv *model.ToolVersion) error {
	tv.ID = t.s.nextIDLocked()
	t.s.toolVersions[tv.ID] = tv
	return nil
}

func (t *tx) GetToolVersion(ctx context.Context, id int64) (*model.ToolVersion, error) {
	if tv, ok := t.s.toolVersions[id]; ok {
		return tv, nil
	}
	return nil, fmt.Errorf("tool version %d: %w", id, errNotFound)
}

// --- TaskTemplate / TaskTemplateVersion ---

func (t *tx) CreateTaskTemplate(ctx context.Context, tt *model.TaskTemplate) error {
	tt.ID = t.s.nextIDLocked()
	t.s.taskTemplates[tt.ID] = tt
	return nil
}

func (t *tx) GetTaskTemplateByName(ctx context.Context, toolID int64, name string) (*model.TaskTemplate, error) {
	for _, tt := range t.s.taskTemplates {
		if tt.ToolID == toolID && tt.Name == name {
			return tt, nil
		}
	}
	return nil, fmt.Errorf("task template %q: %w", name, errNotFound)
}

func (t *tx) CreateTaskTemplateVersion(ctx context.Context, ttv *model.TaskTemplateVersion) error {
	ttv.ID = t.s.nextIDLocked()
	t.s.taskTemplateVers[ttv.ID] = ttv
	return nil
}

func (t *tx) GetTaskTemplateVersion(ctx context.Context, id int64) (*model.TaskTemplateVersion, error) {
	if v, ok := t.s.taskTemplateVers[id]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("task template version %d: %w", id, errNotFound)
}

func (t *tx) ListTaskTemplateDAG(ctx context.Context, workflowID int64) ([]store.TaskTemplateEdge, error) {
	wf, ok := t.s.workflows[workflowID]
	if !ok {
		return nil, fmt.Errorf("workflow %d: %w", workflowID, errNotFound)
	}
	var out []store.TaskTemplateEdge
	for _, e := range t.s.edges {
		if e.DAGID != wf.DAGID {
			continue
		}
		up, down := t.s.nodes[e.UpstreamID], t.s.nodes[e.DownstreamID]
		if up == nil || down == nil {
			continue
		}
		upTTV := t.s.taskTemplateVers[up.TaskTemplateVersionID]
		downTTV := t.s.taskTemplateVers[down.TaskTemplateVersionID]
		if upTTV == nil || downTTV == nil {
			continue
		}
		upTT := t.s.taskTemplates[upTTV.TaskTemplateID]
		if upTT == nil {
			continue
		}
		out = append(out, store.TaskTemplateEdge{
			Name:                     upTT.Name,
			DownstreamTaskTemplateID: downTTV.TaskTemplateID,
		})
	}
	return out, nil
}

// --- Node / Edge ---

func (t *tx) CreateNode(ctx context.Context, n *model.Node) error {
	n.ID = t.s.nextIDLocked()
	t.s.nodes[n.ID] = n
	return nil
}

func (t *tx) GetNodeByHash(ctx context.Context, taskTemplateVersionID int64, nodeArgsHash string) (*model.Node, error) {
	for _, n := range t.s.nodes {
		if n.TaskTemplateVersionID == taskTemplateVersionID && n.NodeArgsHash == nodeArgsHash {
			return n, nil
		}
	}
	return nil, fmt.Errorf("node hash %q: %w", nodeArgsHash, errNotFound)
}

func (t *tx) CreateEdge(ctx context.Context, e *model.Edge) error {
	for _, existing := range t.s.edges {
		if *existing == *e {
			return nil
		}
	}
	t.s.edges = append(t.s.edges, e)
	return nil
}

func (t *tx) ListUpstreamNodes(ctx context.Context, dagID, nodeID int64) ([]*model.Node, error) {
	var out []*model.Node
	for _, e := range t.s.edges {
		if e.DAGID == dagID && e.DownstreamID == nodeID {
			out = append(out, t.s.nodes[e.UpstreamID])
		}
	}
	return out, nil
}

func (t *tx) ListDownstreamNodes(ctx context.Context, dagID, nodeID int64) ([]*model.Node, error) {
	var out []*model.Node
	for _, e := range t.s.edges {
		if e.DAGID == dagID && e.UpstreamID == nodeID {
			out = append(out, t.s.nodes[e.DownstreamID])
		}
	}
	return out, nil
}

// --- DAG ---

func (t *tx) CreateDAG(ctx context.Context, d *model.DAG) error {
	d.ID = t.s.nextIDLocked()
	t.s.dags[d.ID] = d
	return nil
}

func (t *tx) GetDAGByHash(ctx context.Context, hash string) (*model.DAG, error) {
	for _, d := range t.s.dags {
		if d.Hash == hash {
			return d, nil
		}
	}
	return nil, fmt.Errorf("dag hash %q: %w", hash, errNotFound)
}

// --- Workflow / WorkflowRun ---

func (t *tx) CreateWorkflow(ctx context.Context, w *model.Workflow) error {
	w.ID = t.s.nextIDLocked()
	w.CreatedAt = time.Now().UTC()
	t.s.workflows[w.ID] = w
	return nil
}

func (t *tx) GetWorkflow(ctx context.Context, id int64) (*model.Workflow, error) {
	if w, ok := t.s.workflows[id]; ok {
		return w, nil
	}
	return nil, fmt.Errorf("workflow %d: %w", id, errNotFound)
}

func (t *tx) GetWorkflowByHash(ctx context.Context, hash string) (*model.Workflow, error) {
	for _, w := range t.s.workflows {
		if w.Hash == hash {
			return w, nil
		}
	}
	return nil, fmt.Errorf("workflow hash %q: %w", hash, errNotFound)
}

func (t *tx) UpdateWorkflowStatus(ctx context.Context, id int64, status model.WorkflowStatus) error {
	w, ok := t.s.workflows[id]
	if !ok {
		return fmt.Errorf("workflow %d: %w", id, errNotFound)
	}
	w.Status = status
	return nil
}

func (t *tx) UpdateWorkflowMaxConcurrentlyRunning(ctx context.Context, id int64, max int) error {
	w, ok := t.s.workflows[id]
	if !ok {
		return fmt.Errorf("workflow %d: %w", id, errNotFound)
	}
	w.MaxConcurrentlyRunning = max
	return nil
}

func (t *tx) SetWorkflowResumableHot(ctx context.Context, id int64, resumable bool) error {
	w, ok := t.s.workflows[id]
	if !ok {
		return fmt.Errorf("workflow %d: %w", id, errNotFound)
	}
	w.ResumableHot = resumable
	return nil
}

func (t *tx) CreateWorkflowRun(ctx context.Context, wr *model.WorkflowRun) error {
	wr.ID = t.s.nextIDLocked()
	now := time.Now().UTC()
	wr.CreatedAt, wr.StatusDate, wr.HeartbeatDate = now, now, now
	t.s.workflowRuns[wr.ID] = wr
	return nil
}

func (t *tx) GetWorkflowRun(ctx context.Context, id int64) (*model.WorkflowRun, error) {
	if wr, ok := t.s.workflowRuns[id]; ok {
		return wr, nil
	}
	return nil, fmt.Errorf("workflow run %d: %w", id, errNotFound)
}

func (t *tx) GetNonTerminalWorkflowRun(ctx context.Context, workflowID int64) (*model.WorkflowRun, error) {
	for _, wr := range t.s.workflowRuns {
		if wr.WorkflowID == workflowID && model.WorkflowRunIsNonTerminal(wr.Status) {
			return wr, nil
		}
	}
	return nil, fmt.Errorf("non-terminal workflow run for workflow %d: %w", workflowID, errNotFound)
}

func (t *tx) UpdateWorkflowRunHeartbeat(ctx context.Context, id int64, at time.Time) error {
	wr, ok := t.s.workflowRuns[id]
	if !ok {
		return fmt.Errorf("workflow run %d: %w", id, errNotFound)
	}
	if at.After(wr.HeartbeatDate) {
		wr.HeartbeatDate = at
	}
	return nil
}

func (t *tx) UpdateWorkflowRunStatus(ctx context.Context, id int64, status model.WorkflowRunStatus) error {
	wr, ok := t.s.workflowRuns[id]
	if !ok {
		return fmt.Errorf("workflow run %d: %w", id, errNotFound)
	}
	wr.Status = status
	wr.StatusDate = time.Now().UTC()
	return nil
}

func (t *tx) ListStaleWorkflowRuns(ctx context.Context, cutoff time.Time) ([]*model.WorkflowRun, error) {
	var out []*model.WorkflowRun
	for _, wr := range t.s.workflowRuns {
		if wr.HeartbeatDate.Before(cutoff) && model.WorkflowRunIsNonTerminal(wr.Status) {
			out = append(out, wr)
		}
	}
	sortWorkflowRuns(out)
	return out, nil
}

func sortWorkflowRuns(runs []*model.WorkflowRun) {
	sort.Slice(runs, func(i, j int) bool { return runs[i].ID < runs[j].ID })
}

// --- Task ---

func (t *tx) CreateTask(ctx context.Context, task *model.Task) error {
	task.ID = t.s.nextIDLocked()
	now := time.Now().UTC()
	task.StatusDate, task.CreatedAt = now, now
	t.s.tasks[task.ID] = task
	return nil
}

func (t *tx) GetTask(ctx context.Context, id int64) (*model.Task, error) {
	if task, ok := t.s.tasks[id]; ok {
		return task, nil
	}
	return nil, fmt.Errorf("task %d: %w", id, errNotFound)
}

func (t *tx) LockTaskForUpdate(ctx context.Context, id int64) (*model.Task, error) {
	return t.GetTask(ctx, id)
}

func (t *tx) UpdateTaskStatus(ctx context.Context, id int64, status model.TaskStatus, statusDate time.Time) error {
	task, ok := t.s.tasks[id]
	if !ok {
		return fmt.Errorf("task %d: %w", id, errNotFound)
	}
	task.Status = status
	task.StatusDate = statusDate
	return nil
}

func (t *tx) IncrementTaskAttempts(ctx context.Context, id int64) error {
	task, ok := t.s.tasks[id]
	if !ok {
		return fmt.Errorf("task %d: %w", id, errNotFound)
	}
	task.NumAttempts++
	return nil
}

func (t *tx) UpdateTaskResourceRequest(ctx context.Context, id int64, resourceRequest string) error {
	task, ok := t.s.tasks[id]
	if !ok {
		return fmt.Errorf("task %d: %w", id, errNotFound)
	}
	task.ResourceRequest = resourceRequest
	return nil
}

func (t *tx) AppendTaskStatusAudit(ctx context.Context, a *model.TaskStatusAudit) error {
	a.ID = t.s.nextIDLocked()
	a.At = time.Now().UTC()
	t.s.taskStatusAudit = append(t.s.taskStatusAudit, a)
	return nil
}

func (t *tx) ListTaskStatusAudit(ctx context.Context, taskID int64) ([]*model.TaskStatusAudit, error) {
	var out []*model.TaskStatusAudit
	for _, a := range t.s.taskStatusAudit {
		if a.TaskID == taskID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (t *tx) ListTasksByWorkflow(ctx context.Context, workflowID int64) ([]*model.Task, error) {
	var out []*model.Task
	for _, task := range t.s.tasks {
		if task.WorkflowID == workflowID {
			out = append(out, task)
		}
	}
	sortTasks(out)
	return out, nil
}

func sortTasks(tasks []*model.Task) {
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
}

func (t *tx) ListTasksForResume(ctx context.Context, workflowID int64, excludeRunning bool) ([]*model.Task, error) {
	var out []*model.Task
	for _, task := range t.s.tasks {
		if task.WorkflowID != workflowID {
			continue
		}
		if task.Status == model.TaskDone || task.Status == model.TaskRegistering {
			continue
		}
		if excludeRunning && task.Status == model.TaskRunning {
			continue
		}
		out = append(out, task)
	}
	sortTasks(out)
	return out, nil
}

func (t *tx) BulkResetTasksToRegistering(ctx context.Context, taskIDs []int64, at time.Time) error {
	for _, id := range taskIDs {
		task, ok := t.s.tasks[id]
		if !ok {
			continue
		}
		task.Status = model.TaskRegistering
		task.NumAttempts = 0
		task.StatusDate = at
	}
	return nil
}

func (t *tx) CountTasksByStatus(ctx context.Context, workflowID int64) (map[model.TaskStatus]int, error) {
	counts := map[model.TaskStatus]int{}
	for _, task := range t.s.tasks {
		if task.WorkflowID == workflowID {
			counts[task.Status]++
		}
	}
	return counts, nil
}

func (t *tx) BulkUpdateTaskStatus(ctx context.Context, ids []int64, fromAny []model.TaskStatus, to model.TaskStatus, at time.Time) ([]int64, error) {
	allowed := map[model.TaskStatus]bool{}
	for _, s := range fromAny {
		allowed[s] = true
	}
	var updated []int64
	for _, id := range ids {
		task, ok := t.s.tasks[id]
		if !ok || !allowed[task.Status] {
			continue
		}
		task.Status = to
		task.StatusDate = at
		updated = append(updated, id)
	}
	return updated, nil
}

func (t *tx) ListDownstreamTaskIDs(ctx context.Context, taskIDs []int64) ([]int64, error) {
	set := map[int64]bool{}
	for _, id := range taskIDs {
		set[id] = true
	}
	var downstreamNodes []int64
	for _, e := range t.s.edges {
		for _, id := range taskIDs {
			task, ok := t.s.tasks[id]
			if ok && task.NodeID == e.UpstreamID {
				downstreamNodes = append(downstreamNodes, e.DownstreamID)
			}
		}
	}
	var out []int64
	for _, task := range t.s.tasks {
		for _, n := range downstreamNodes {
			if task.NodeID == n {
				out = append(out, task.ID)
			}
		}
	}
	return out, nil
}

// --- Array ---

func (t *tx) GetArray(ctx context.Context, id int64) (*model.Array, error) {
	if a, ok := t.s.arrays[id]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("array %d: %w", id, errNotFound)
}

func (t *tx) CreateArray(ctx context.Context, a *model.Array) error {
	a.ID = t.s.nextIDLocked()
	t.s.arrays[a.ID] = a
	return nil
}

func (t *tx) UpdateArrayMaxConcurrentlyRunning(ctx context.Context, arrayID int64, max int) error {
	a, ok := t.s.arrays[arrayID]
	if !ok {
		return fmt.Errorf("array %d: %w", arrayID, errNotFound)
	}
	a.MaxConcurrentlyRunning = max
	return nil
}

func (t *tx) NextArrayBatchNum(ctx context.Context, arrayID int64) (int, error) {
	a, ok := t.s.arrays[arrayID]
	if !ok {
		return 0, fmt.Errorf("array %d: %w", arrayID, errNotFound)
	}
	a.MaxBatchNum++
	return a.MaxBatchNum, nil
}

func (t *tx) LockArrayTasksInStatuses(ctx context.Context, arrayID int64, statuses []model.TaskStatus) ([]*model.Task, error) {
	allowed := map[model.TaskStatus]bool{}
	for _, s := range statuses {
		allowed[s] = true
	}
	var out []*model.Task
	for _, task := range t.s.tasks {
		if task.ArrayID != nil && *task.ArrayID == arrayID && allowed[task.Status] {
			out = append(out, task)
		}
	}
	sortTasks(out)
	return out, nil
}

func (t *tx) ListArrayBatchTaskIDs(ctx context.Context, arrayID int64, batchNum int) ([]int64, error) {
	set := map[int64]bool{}
	for _, ti := range t.s.taskInstances {
		if ti.ArrayID != nil && *ti.ArrayID == arrayID && ti.ArrayBatchNum != nil && *ti.ArrayBatchNum == batchNum {
			set[ti.TaskID] = true
		}
	}
	var out []int64
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// --- TaskInstance ---

func (t *tx) CreateTaskInstance(ctx context.Context, ti *model.TaskInstance) error {
	ti.ID = t.s.nextIDLocked()
	now := time.Now().UTC()
	ti.CreatedAt, ti.StatusDate = now, now
	ti.ReportByDate = now.Add(10 * time.Minute)
	t.s.taskInstances[ti.ID] = ti
	return nil
}

func (t *tx) GetTaskInstance(ctx context.Context, id int64) (*model.TaskInstance, error) {
	if ti, ok := t.s.taskInstances[id]; ok {
		return ti, nil
	}
	return nil, fmt.Errorf("task instance %d: %w", id, errNotFound)
}

func (t *tx) LockTaskInstanceForUpdate(ctx context.Context, id int64) (*model.TaskInstance, error) {
	return t.GetTaskInstance(ctx, id)
}

func (t *tx) UpdateTaskInstanceStatus(ctx context.Context, id int64, status model.TaskInstanceStatus, at time.Time) error {
	ti, ok := t.s.taskInstances[id]
	if !ok {
		return fmt.Errorf("task instance %d: %w", id, errNotFound)
	}
	ti.Status = status
	ti.StatusDate = at
	return nil
}

func (t *tx) UpdateTaskInstanceReportByDate(ctx context.Context, id int64, at time.Time) error {
	ti, ok := t.s.taskInstances[id]
	if !ok {
		return fmt.Errorf("task instance %d: %w", id, errNotFound)
	}
	ti.ReportByDate = at
	return nil
}

func (t *tx) SetTaskInstanceDistributorID(ctx context.Context, id int64, distributorID string) error {
	ti, ok := t.s.taskInstances[id]
	if !ok {
		return fmt.Errorf("task instance %d: %w", id, errNotFound)
	}
	ti.DistributorID = distributorID
	return nil
}

func (t *tx) UpdateTaskInstanceResourceUsage(ctx context.Context, id int64, maxrssBytes int64, runtimeSeconds float64) error {
	ti, ok := t.s.taskInstances[id]
	if !ok {
		return fmt.Errorf("task instance %d: %w", id, errNotFound)
	}
	ti.MaxrssBytes, ti.RuntimeSeconds = &maxrssBytes, &runtimeSeconds
	return nil
}

func (t *tx) ListTaskInstancesQueued(ctx context.Context, workflowRunID int64, limit int) ([]*model.TaskInstance, error) {
	var out []*model.TaskInstance
	for _, ti := range t.s.taskInstances {
		if ti.WorkflowRunID == workflowRunID && ti.Status == model.TIQueued {
			out = append(out, ti)
		}
	}
	sortInstances(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortInstances(instances []*model.TaskInstance) {
	sort.Slice(instances, func(i, j int) bool { return instances[i].ID < instances[j].ID })
}

func (t *tx) ListTaskInstancesByStatus(ctx context.Context, workflowRunID int64, statuses []model.TaskInstanceStatus) ([]*model.TaskInstance, error) {
	allowed := map[model.TaskInstanceStatus]bool{}
	for _, s := range statuses {
		allowed[s] = true
	}
	var out []*model.TaskInstance
	for _, ti := range t.s.taskInstances {
		if ti.WorkflowRunID == workflowRunID && allowed[ti.Status] {
			out = append(out, ti)
		}
	}
	sortInstances(out)
	return out, nil
}

func (t *tx) ListTaskInstancesPastReportBy(ctx context.Context, cutoff time.Time, statuses []model.TaskInstanceStatus) ([]*model.TaskInstance, error) {
	allowed := map[model.TaskInstanceStatus]bool{}
	for _, s := range statuses {
		allowed[s] = true
	}
	var out []*model.TaskInstance
	for _, ti := range t.s.taskInstances {
		if ti.ReportByDate.Before(cutoff) && allowed[ti.Status] {
			out = append(out, ti)
		}
	}
	sortInstances(out)
	return out, nil
}

func (t *tx) ListTaskInstancesByWorkflowRun(ctx context.Context, workflowRunID int64) ([]*model.TaskInstance, error) {
	var out []*model.TaskInstance
	for _, ti := range t.s.taskInstances {
		if ti.WorkflowRunID == workflowRunID {
			out = append(out, ti)
		}
	}
	sortInstances(out)
	return out, nil
}

func (t *tx) ListTaskInstancesForBatch(ctx context.Context, arrayID int64, batchNum int) ([]*model.TaskInstance, error) {
	var out []*model.TaskInstance
	for _, ti := range t.s.taskInstances {
		if ti.ArrayID != nil && *ti.ArrayID == arrayID && ti.ArrayBatchNum != nil && *ti.ArrayBatchNum == batchNum {
			out = append(out, ti)
		}
	}
	sortInstances(out)
	return out, nil
}

func (t *tx) AppendTaskInstanceErrorLog(ctx context.Context, e *model.TaskInstanceErrorLog) error {
	e.ID = t.s.nextIDLocked()
	e.LoggedAt = time.Now().UTC()
	t.s.errorLogs = append(t.s.errorLogs, e)
	return nil
}

func (t *tx) ListTaskInstanceErrorLogs(ctx context.Context, taskInstanceID int64) ([]*model.TaskInstanceErrorLog, error) {
	var out []*model.TaskInstanceErrorLog
	for _, e := range t.s.errorLogs {
		if e.TaskInstanceID == taskInstanceID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (t *tx) ListResourceUsageSamples(ctx context.Context, taskTemplateVersionID int64) ([]store.ResourceSample, error) {
	var out []store.ResourceSample
	for _, ti := range t.s.taskInstances {
		if ti.Status != model.TIDone || ti.MaxrssBytes == nil || ti.RuntimeSeconds == nil {
			continue
		}
		task, ok := t.s.tasks[ti.TaskID]
		if !ok {
			continue
		}
		node, ok := t.s.nodes[task.NodeID]
		if !ok || node.TaskTemplateVersionID != taskTemplateVersionID {
			continue
		}
		out = append(out, store.ResourceSample{MaxrssBytes: *ti.MaxrssBytes, RuntimeSeconds: *ti.RuntimeSeconds})
	}
	return out, nil
}

func (t *tx) TryAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	if t.s.advisoryLocks[key] {
		return false, nil
	}
	t.s.advisoryLocks[key] = true
	return true, nil
}

func (t *tx) AdvisoryUnlock(ctx context.Context, key int64) error {
	delete(t.s.advisoryLocks, key)
	return nil
}

var errNotFound = fmt.Errorf("not found")
