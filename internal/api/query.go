package api

import (
	"net/http"

	"github.com/ihmeuw-scicomp/jobmon/internal/jmerr"
	"github.com/ihmeuw-scicomp/jobmon/internal/model"
	"github.com/ihmeuw-scicomp/jobmon/internal/stats"
)

// Query handlers never touch the FSM engines; each opens a read-only
// session purely to run one or more store lookups.

func (s *Server) handleGetTaskTemplateDAG(w http.ResponseWriter, r *http.Request) {
	workflowID, err := pathInt64(r, "workflow_id")
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

	edges, err := tx.ListTaskTemplateDAG(r.Context(), workflowID)
	if err != nil {
		writeErr(w, err)
		return
	}
	out := make([]taskTemplateDAGEdge, 0, len(edges))
	for _, e := range edges {
		out = append(out, taskTemplateDAGEdge{Name: e.Name, DownstreamTaskTemplateID: e.DownstreamTaskTemplateID})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleGetWorkflowOverview reports the task-status histogram the
// controller UI polls to render a workflow's progress bar.
func (s *Server) handleGetWorkflowOverview(w http.ResponseWriter, r *http.Request) {
	workflowID, err := pathInt64(r, "workflow_id")
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

	wf, err := tx.GetWorkflow(r.Context(), workflowID)
	if err != nil {
		writeErr(w, err)
		return
	}
	counts, err := tx.CountTasksByStatus(r.Context(), workflowID)
	if err != nil {
		writeErr(w, err)
		return
	}
	run, err := tx.GetNonTerminalWorkflowRun(r.Context(), workflowID)
	var runStatus string
	if err == nil {
		runStatus = string(run.Status)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"workflow_id":       wf.ID,
		"name":              wf.Name,
		"status":            wf.Status,
		"task_status_counts": counts,
		"current_run_status": runStatus,
	})
}

func (s *Server) handleGetTaskTable(w http.ResponseWriter, r *http.Request) {
	workflowID, err := pathInt64(r, "workflow_id")
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

	tasks, err := tx.ListTasksByWorkflow(r.Context(), workflowID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

// handleGetClusteredErrors groups the workflow's F tasks by their last
// audited status transition ("previous->new"), a cheap stand-in for the
// "clustered errors" view without an NLP dependency the pack never carries.
func (s *Server) handleGetClusteredErrors(w http.ResponseWriter, r *http.Request) {
	workflowID, err := pathInt64(r, "workflow_id")
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

	tasks, err := tx.ListTasksByWorkflow(r.Context(), workflowID)
	if err != nil {
		writeErr(w, err)
		return
	}

	clusters := map[string][]int64{}
	for _, t := range tasks {
		if t.Status != model.TaskErrorFatal {
			continue
		}
		audit, err := tx.ListTaskStatusAudit(r.Context(), t.ID)
		if err != nil || len(audit) == 0 {
			continue
		}
		key := string(audit[len(audit)-1].Previous) + "->" + string(audit[len(audit)-1].New)
		clusters[key] = append(clusters[key], t.ID)
	}
	writeJSON(w, http.StatusOK, clusters)
}

func (s *Server) handleGetMaxConcurrentlyRunning(w http.ResponseWriter, r *http.Request) {
	workflowID, err := pathInt64Query(r, "workflow_id")
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

	wf, err := tx.GetWorkflow(r.Context(), workflowID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"max_concurrently_running": wf.MaxConcurrentlyRunning})
}

// handleGetResourceUsage answers the confidence-interval query spec §6
// exposes to operators picking resource requests for a task template,
// delegating the statistics to internal/stats.
func (s *Server) handleGetResourceUsage(w http.ResponseWriter, r *http.Request) {
	ttvID, err := pathInt64(r, "task_template_version_id")
	if err != nil {
		writeErr(w, err)
		return
	}
	confidence := r.URL.Query().Get("confidence")

	tx, err := s.store.BeginTx(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	defer tx.Rollback()

	samples, err := tx.ListResourceUsageSamples(r.Context(), ttvID)
	if err != nil {
		writeErr(w, err)
		return
	}
	summary, err := stats.ResourceUsage(samples, confidence)
	if err != nil {
		writeErr(w, jmerr.SchemaViolation("invalid confidence", err))
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func pathInt64Query(r *http.Request, key string) (int64, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return 0, jmerr.SchemaViolation(key+" query parameter is required", nil)
	}
	return parseInt64(s, key)
}
