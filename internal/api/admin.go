package api

import (
	"fmt"
	"net/http"

	"github.com/ihmeuw-scicomp/jobmon/internal/jmerr"
	"github.com/ihmeuw-scicomp/jobmon/internal/model"
)

var validTaskStatuses = map[string]model.TaskStatus{
	"G": model.TaskRegistering,
	"Q": model.TaskQueued,
	"I": model.TaskInstantiating,
	"O": model.TaskLaunched,
	"R": model.TaskRunning,
	"A": model.TaskAdjustingResources,
	"D": model.TaskDone,
	"F": model.TaskErrorFatal,
	"H": model.TaskHalted,
}

// handleAdminBulkUpdateTaskStatus is the one operation that bypasses
// the FSM engine's per-transition legality table by design: an
// operator forcing tasks out of a wedged state is expected to name an
// arbitrary target. It still goes through the store's single bulk
// statement rather than a per-task loop, and is bounded at
// adminBulkUpdateCeiling regardless of the recursive flag.
func (s *Server) handleAdminBulkUpdateTaskStatus(w http.ResponseWriter, r *http.Request) {
	var req adminBulkUpdateTaskStatusRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if len(req.TaskIDs) > adminBulkUpdateCeiling {
		writeErr(w, jmerr.SchemaViolation(
			fmt.Sprintf("task_ids exceeds the %d-task bulk update ceiling", adminBulkUpdateCeiling), nil))
		return
	}

	to, ok := validTaskStatuses[req.To]
	if !ok {
		writeErr(w, jmerr.SchemaViolation(fmt.Sprintf("unknown target status %q", req.To), nil))
		return
	}
	fromAny := make([]model.TaskStatus, 0, len(req.FromAny))
	for _, f := range req.FromAny {
		st, ok := validTaskStatuses[f]
		if !ok {
			writeErr(w, jmerr.SchemaViolation(fmt.Sprintf("unknown source status %q", f), nil))
			return
		}
		fromAny = append(fromAny, st)
	}

	tx, err := s.store.BeginTx(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	defer tx.Rollback()

	taskIDs := req.TaskIDs
	if req.Recursive {
		downstream, err := tx.ListDownstreamTaskIDs(r.Context(), req.TaskIDs)
		if err != nil {
			writeErr(w, err)
			return
		}
		taskIDs = append(taskIDs, downstream...)
		if len(taskIDs) > adminBulkUpdateCeiling {
			writeErr(w, jmerr.SchemaViolation(
				fmt.Sprintf("recursive expansion exceeds the %d-task bulk update ceiling", adminBulkUpdateCeiling), nil))
			return
		}
	}

	now, err := tx.Now(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	updated, err := tx.BulkUpdateTaskStatus(r.Context(), taskIDs, fromAny, to, now)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := tx.Commit(); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, adminBulkUpdateTaskStatusResponse{UpdatedTaskIDs: updated})
}
