package api

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ihmeuw-scicomp/jobmon/internal/auth"
	"github.com/ihmeuw-scicomp/jobmon/internal/jmerr"
	"github.com/ihmeuw-scicomp/jobmon/internal/jmlog"
	"github.com/ihmeuw-scicomp/jobmon/internal/model"
)

// Every lifecycle handler follows the same shape: decode+validate,
// open exactly one session via store.BeginTx, perform all reads and
// writes within it, commit on normal return. defer tx.Rollback()
// immediately after BeginTx is a no-op once Commit succeeds — this is
// the "no handler may use a session outside its own scope" rule spec
// §4.3 states by name.

func pathInt64(r *http.Request, key string) (int64, error) {
	return parseInt64(chi.URLParam(r, key), key)
}

func parseInt64(s, key string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, jmerr.SchemaViolation(fmt.Sprintf("%s must be an integer", key), err)
	}
	return id, nil
}

func (s *Server) handleQueueTaskBatch(w http.ResponseWriter, r *http.Request) {
	arrayID, err := pathInt64(r, "array_id")
	if err != nil {
		writeErr(w, err)
		return
	}
	var req queueTaskBatchRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	tx, err := s.store.BeginTx(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	defer tx.Rollback()

	instanceIDs, batchNum, err := s.engines.Array.QueueBatch(r.Context(), tx, arrayID, req.WorkflowRunID, req.TaskIDs)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := tx.Commit(); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, queueTaskBatchResponse{TaskInstanceIDs: instanceIDs, BatchNumber: batchNum})
}

func (s *Server) handleTransitionToLaunched(w http.ResponseWriter, r *http.Request) {
	arrayID, err := pathInt64(r, "array_id")
	if err != nil {
		writeErr(w, err)
		return
	}
	var req transitionToLaunchedRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	tx, err := s.store.BeginTx(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	defer tx.Rollback()

	increment := time.Duration(req.NextReportIncrementS) * time.Second
	if increment <= 0 {
		increment = 10 * time.Minute
	}
	if err := s.engines.Array.TransitionToLaunched(r.Context(), tx, arrayID, req.BatchNumber, increment); err != nil {
		writeErr(w, err)
		return
	}
	if err := tx.Commit(); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleTransitionToKilled MUST be implemented in every version the
// distributor targets (spec §6); it is not gated behind a feature
// flag the way some other admin routes might be.
func (s *Server) handleTransitionToKilled(w http.ResponseWriter, r *http.Request) {
	arrayID, err := pathInt64(r, "array_id")
	if err != nil {
		writeErr(w, err)
		return
	}
	var req transitionToKilledRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	tx, err := s.store.BeginTx(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	defer tx.Rollback()

	if err := s.engines.Array.TransitionToKilled(r.Context(), tx, arrayID, req.BatchNumber); err != nil {
		writeErr(w, err)
		return
	}
	if err := tx.Commit(); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleListKillRequests reports every task instance a distributor for
// this run should hand to its cluster plugin's Kill method: an
// instance parked in K (TIKillSelf) with a distributor ID already
// assigned. A distributor polls this alongside its own status sweep
// rather than receiving a push, since the Coordination API has no
// persistent connection to the distributor to push over.
func (s *Server) handleListKillRequests(w http.ResponseWriter, r *http.Request) {
	workflowRunID, err := pathInt64(r, "workflow_run_id")
	if err != nil {
		writeErr(w, err)
		return
	}

	tx, err := s.store.BeginTx(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	defer tx.Rollback()

	parked, err := tx.ListTaskInstancesByStatus(r.Context(), workflowRunID, []model.TaskInstanceStatus{model.TIKillSelf})
	if err != nil {
		writeErr(w, err)
		return
	}

	reqs := make([]killRequest, 0, len(parked))
	for _, ti := range parked {
		if ti.DistributorID == "" || ti.ArrayID == nil || ti.ArrayBatchNum == nil {
			continue
		}
		reqs = append(reqs, killRequest{
			TaskInstanceID: ti.ID,
			ArrayID:        *ti.ArrayID,
			ArrayBatchNum:  *ti.ArrayBatchNum,
			DistributorID:  ti.DistributorID,
		})
	}
	writeJSON(w, http.StatusOK, listKillRequestsResponse{KillRequests: reqs})
}

func (s *Server) handleInstantiateTaskInstances(w http.ResponseWriter, r *http.Request) {
	var req instantiateTaskInstancesRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	tx, err := s.store.BeginTx(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	defer tx.Rollback()

	for _, tiID := range req.TaskInstanceIDs {
		ti, err := tx.LockTaskInstanceForUpdate(r.Context(), tiID)
		if err != nil {
			writeErr(w, err)
			return
		}
		if _, err := s.engines.TaskInstance.TransitionTaskInstance(r.Context(), tx, ti, model.TIInstantiated); err != nil {
			writeErr(w, err)
			return
		}
		if _, err := s.engines.Task.TransitionTask(r.Context(), tx, ti.TaskID, model.TaskQueued, model.TaskInstantiating); err != nil {
			writeErr(w, err)
			return
		}
	}
	if err := tx.Commit(); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleLogRunning(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		writeErr(w, err)
		return
	}
	var req logRunningRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	tx, err := s.store.BeginTx(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	defer tx.Rollback()

	ti, err := tx.LockTaskInstanceForUpdate(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	if req.Hostname != "" {
		jmlog.WithComponent("api").Debug().Int64("task_instance_id", id).Str("hostname", req.Hostname).Msg("task instance running")
	}
	if _, err := s.engines.TaskInstance.TransitionTaskInstance(r.Context(), tx, ti, model.TIRunning); err != nil {
		writeErr(w, err)
		return
	}
	if _, err := s.engines.Task.TransitionTask(r.Context(), tx, ti.TaskID, model.TaskLaunched, model.TaskRunning); err != nil {
		if je, ok := jmerr.As(err); !ok || je.Kind != jmerr.KindInvalidTransition {
			writeErr(w, err)
			return
		}
		// The parent task is neither O nor R (TransitionTask returns
		// success for a task already in R): the instance's own R
		// transition stands and the task's status is left as it is.
	}
	now, err := tx.Now(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := tx.UpdateTaskInstanceReportByDate(r.Context(), id, now.Add(10*time.Minute)); err != nil {
		writeErr(w, err)
		return
	}
	if err := tx.Commit(); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleLogHeartbeat(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		writeErr(w, err)
		return
	}
	tx, err := s.store.BeginTx(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	defer tx.Rollback()

	now, err := tx.Now(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := tx.UpdateTaskInstanceReportByDate(r.Context(), id, now.Add(10*time.Minute)); err != nil {
		writeErr(w, err)
		return
	}
	if err := tx.Commit(); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleLogDone(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		writeErr(w, err)
		return
	}
	var req logDoneRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	tx, err := s.store.BeginTx(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	defer tx.Rollback()

	ti, err := tx.LockTaskInstanceForUpdate(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	if req.MaxrssBytes != nil && req.RuntimeSeconds != nil {
		if err := tx.UpdateTaskInstanceResourceUsage(r.Context(), id, *req.MaxrssBytes, *req.RuntimeSeconds); err != nil {
			writeErr(w, err)
			return
		}
	}
	if _, err := s.engines.TaskInstance.Aggregate(r.Context(), tx, ti, model.TIDone); err != nil {
		writeErr(w, err)
		return
	}
	if err := tx.Commit(); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) logErrorHandler(terminal model.TaskInstanceStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathInt64(r, "id")
		if err != nil {
			writeErr(w, err)
			return
		}
		var req logErrorRequest
		if err := decodeAndValidate(r, &req); err != nil {
			writeErr(w, err)
			return
		}

		tx, err := s.store.BeginTx(r.Context())
		if err != nil {
			writeErr(w, err)
			return
		}
		defer tx.Rollback()

		ti, err := tx.LockTaskInstanceForUpdate(r.Context(), id)
		if err != nil {
			writeErr(w, err)
			return
		}
		if req.Description != "" {
			if err := tx.AppendTaskInstanceErrorLog(r.Context(), &model.TaskInstanceErrorLog{
				TaskInstanceID: id, Description: req.Description, ErrorState: req.ErrorState,
			}); err != nil {
				writeErr(w, err)
				return
			}
		}
		if req.MaxrssBytes != nil && req.RuntimeSeconds != nil {
			if err := tx.UpdateTaskInstanceResourceUsage(r.Context(), id, *req.MaxrssBytes, *req.RuntimeSeconds); err != nil {
				writeErr(w, err)
				return
			}
		}
		if _, err := s.engines.TaskInstance.Aggregate(r.Context(), tx, ti, terminal); err != nil {
			writeErr(w, err)
			return
		}
		if err := tx.Commit(); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

func (s *Server) handleLogKnownError(w http.ResponseWriter, r *http.Request) {
	s.logErrorHandler(model.TIError)(w, r)
}

func (s *Server) handleLogUnknownError(w http.ResponseWriter, r *http.Request) {
	s.logErrorHandler(model.TIUnknownError)(w, r)
}

func (s *Server) handleLogErrorWorkerNode(w http.ResponseWriter, r *http.Request) {
	s.logErrorHandler(model.TIResourceError)(w, r)
}

func (s *Server) handleLogNoDistributorID(w http.ResponseWriter, r *http.Request) {
	s.logErrorHandler(model.TINoDistributorID)(w, r)
}

func (s *Server) handleLogDistributorID(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		writeErr(w, err)
		return
	}
	var req logDistributorIDRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	tx, err := s.store.BeginTx(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	defer tx.Rollback()

	if err := tx.SetTaskInstanceDistributorID(r.Context(), id, req.DistributorID); err != nil {
		writeErr(w, err)
		return
	}
	if err := tx.Commit(); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleGetTaskInstanceErrorLogs(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		writeErr(w, err)
		return
	}
	tx, err := s.store.BeginTx(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	defer tx.Rollback()

	logs, err := tx.ListTaskInstanceErrorLogs(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (s *Server) handleSetResumeState(w http.ResponseWriter, r *http.Request) {
	workflowID, err := pathInt64(r, "workflow_id")
	if err != nil {
		writeErr(w, err)
		return
	}
	var req setResumeStateRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	tx, err := s.store.BeginTx(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	defer tx.Rollback()

	ids, err := s.engines.Resume.Resume(r.Context(), tx, workflowID, req.ResetIfRunning, req.ColdResume)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := tx.Commit(); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, setResumeStateResponse{ResetTaskIDs: ids})
}

func (s *Server) handleUpdateWorkflowMaxConcurrentlyRunning(w http.ResponseWriter, r *http.Request) {
	workflowID, err := pathInt64(r, "workflow_id")
	if err != nil {
		writeErr(w, err)
		return
	}
	var req updateMaxConcurrentlyRunningRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	tx, err := s.store.BeginTx(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	defer tx.Rollback()

	wf, err := tx.GetWorkflow(r.Context(), workflowID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := auth.RequireOwner(auth.FromContext(r.Context()), wf.UserID); err != nil {
		writeErr(w, err)
		return
	}
	if err := tx.UpdateWorkflowMaxConcurrentlyRunning(r.Context(), workflowID, req.MaxTasks); err != nil {
		writeErr(w, err)
		return
	}
	if err := tx.Commit(); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleUpdateArrayMaxConcurrentlyRunning(w http.ResponseWriter, r *http.Request) {
	workflowID, err := pathInt64(r, "workflow_id")
	if err != nil {
		writeErr(w, err)
		return
	}
	var req updateArrayMaxConcurrentlyRunningRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	tx, err := s.store.BeginTx(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	defer tx.Rollback()

	wf, err := tx.GetWorkflow(r.Context(), workflowID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := auth.RequireOwner(auth.FromContext(r.Context()), wf.UserID); err != nil {
		writeErr(w, err)
		return
	}

	// There is one array per (workflow, task_template_version); find it
	// by scanning the workflow's tasks for a node on that template
	// version, since the fake and production stores alike key arrays
	// by id, not by (workflow,ttv).
	tasks, err := tx.ListTasksByWorkflow(r.Context(), workflowID)
	if err != nil {
		writeErr(w, err)
		return
	}
	var arrayID int64
	for _, t := range tasks {
		if t.ArrayID == nil {
			continue
		}
		arr, err := tx.GetArray(r.Context(), *t.ArrayID)
		if err != nil {
			writeErr(w, err)
			return
		}
		if arr.TaskTemplateVersionID == req.TaskTemplateVersionID {
			arrayID = arr.ID
			break
		}
	}
	if arrayID == 0 {
		writeErr(w, jmerr.NotFound("no array found for workflow/task-template-version"))
		return
	}
	if err := tx.UpdateArrayMaxConcurrentlyRunning(r.Context(), arrayID, req.MaxTasks); err != nil {
		writeErr(w, err)
		return
	}
	if err := tx.Commit(); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleBindWorkflow implements "bind workflow": an idempotent
// get-or-create keyed by the workflow's content hash (invariant 5).
// The client is assumed to have already registered the Tool,
// ToolVersion, TaskTemplate(s), and DAG (Non-goal: no client
// DAG-construction API is provided by this server, but the resulting
// dag_hash is what bind_workflow keys off).
func (s *Server) handleBindWorkflow(w http.ResponseWriter, r *http.Request) {
	var req bindWorkflowRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	tx, err := s.store.BeginTx(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	defer tx.Rollback()

	dag, err := tx.GetDAGByHash(r.Context(), req.DAGHash)
	if err != nil {
		writeErr(w, err)
		return
	}

	hash := workflowHash(req.ToolVersionID, dag.ID, req.WorkflowArgsHash)
	if existing, err := tx.GetWorkflowByHash(r.Context(), hash); err == nil {
		_ = tx.Commit()
		writeJSON(w, http.StatusOK, bindWorkflowResponse{WorkflowID: existing.ID, Status: string(existing.Status)})
		return
	}

	wf := &model.Workflow{
		ToolVersionID:          req.ToolVersionID,
		DAGID:                  dag.ID,
		WorkflowArgsHash:       req.WorkflowArgsHash,
		Hash:                   hash,
		Name:                   req.Name,
		MaxConcurrentlyRunning: req.MaxConcurrentlyRunning,
		Status:                 model.WorkflowRegistering,
		UserID:                 req.UserID,
	}
	if err := tx.CreateWorkflow(r.Context(), wf); err != nil {
		writeErr(w, err)
		return
	}
	if err := tx.Commit(); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bindWorkflowResponse{WorkflowID: wf.ID, Status: string(wf.Status)})
}

func workflowHash(toolVersionID, dagID int64, workflowArgsHash string) string {
	sum := sha1.Sum([]byte(fmt.Sprintf("%d:%d:%s", toolVersionID, dagID, workflowArgsHash)))
	return hex.EncodeToString(sum[:])
}

// handleCreateWorkflowRun enforces invariant 7 by delegating the
// non-terminal-run lookup to the store before inserting.
func (s *Server) handleCreateWorkflowRun(w http.ResponseWriter, r *http.Request) {
	workflowID, err := pathInt64(r, "workflow_id")
	if err != nil {
		writeErr(w, err)
		return
	}
	var req createWorkflowRunRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	tx, err := s.store.BeginTx(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	defer tx.Rollback()

	if existing, err := tx.GetNonTerminalWorkflowRun(r.Context(), workflowID); err == nil {
		writeErr(w, jmerr.Conflict(
			fmt.Sprintf("workflow %d already has a non-terminal run %d", workflowID, existing.ID), nil))
		return
	}

	wr := &model.WorkflowRun{WorkflowID: workflowID, Status: model.WorkflowRunLaunched, UserID: req.UserID}
	if err := tx.CreateWorkflowRun(r.Context(), wr); err != nil {
		writeErr(w, err)
		return
	}
	if err := tx.UpdateWorkflowStatus(r.Context(), workflowID, model.WorkflowQueued); err != nil {
		writeErr(w, err)
		return
	}
	if err := tx.Commit(); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, createWorkflowRunResponse{WorkflowRunID: wr.ID, Status: string(wr.Status)})
}

func (s *Server) handleStopWorkflow(w http.ResponseWriter, r *http.Request) {
	workflowID, err := pathInt64(r, "workflow_id")
	if err != nil {
		writeErr(w, err)
		return
	}
	var req stopWorkflowRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	tx, err := s.store.BeginTx(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	defer tx.Rollback()

	wf, err := tx.GetWorkflow(r.Context(), workflowID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := auth.RequireOwner(auth.FromContext(r.Context()), wf.UserID); err != nil {
		writeErr(w, err)
		return
	}
	if err := tx.UpdateWorkflowStatus(r.Context(), workflowID, model.WorkflowHalted); err != nil {
		writeErr(w, err)
		return
	}
	var killed []*model.TaskInstance
	if run, err := tx.GetNonTerminalWorkflowRun(r.Context(), workflowID); err == nil {
		if err := tx.UpdateWorkflowRunStatus(r.Context(), run.ID, model.WorkflowRunStopped); err != nil {
			writeErr(w, err)
			return
		}
		killed, err = s.engines.TaskInstance.MarkForKill(r.Context(), tx, run.ID)
		if err != nil {
			writeErr(w, err)
			return
		}
	}
	if err := tx.Commit(); err != nil {
		writeErr(w, err)
		return
	}
	if len(killed) > 0 {
		jmlog.WithComponent("api").Info().Int64("workflow_id", workflowID).Int("num_instances", len(killed)).
			Msg("marked task instances for kill")
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
