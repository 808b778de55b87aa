package fsm

import (
	"context"
	"fmt"

	"github.com/ihmeuw-scicomp/jobmon/internal/jmerr"
	"github.com/ihmeuw-scicomp/jobmon/internal/model"
	"github.com/ihmeuw-scicomp/jobmon/internal/store"
)

// ResumeEngine implements the resume protocol (spec §4.2): the one
// path that regresses tasks back to G.
type ResumeEngine struct{}

// NewResumeEngine constructs a ResumeEngine.
func NewResumeEngine() *ResumeEngine { return &ResumeEngine{} }

// Resume executes the four-step resume sequence within the caller's
// transaction and returns the ids of the tasks it reset. coldResume
// bypasses the hot-resume check (the workflow's recorded
// resumable_hot flag) for an operator-initiated cold resume; a
// non-cold resume on a workflow that never signaled hot-resume is
// rejected.
func (e *ResumeEngine) Resume(ctx context.Context, tx store.Tx, workflowID int64, resetIfRunning, coldResume bool) ([]int64, error) {
	wf, err := tx.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("resume workflow %d: %w", workflowID, err)
	}
	if !coldResume && !wf.ResumableHot {
		return nil, jmerr.InvalidTransition(fmt.Sprintf(
			"workflow %d is not marked hot-resumable; request a cold resume or re-signal hot-resume", workflowID))
	}

	tasks, err := tx.ListTasksForResume(ctx, workflowID, !resetIfRunning)
	if err != nil {
		return nil, fmt.Errorf("resume workflow %d: %w", workflowID, err)
	}
	if len(tasks) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
		if err := tx.AppendTaskStatusAudit(ctx, &model.TaskStatusAudit{
			TaskID: t.ID, Previous: t.Status, New: model.TaskRegistering,
		}); err != nil {
			return nil, fmt.Errorf("resume workflow %d: append audit for task %d: %w", workflowID, t.ID, err)
		}
	}

	now, err := tx.Now(ctx)
	if err != nil {
		return nil, fmt.Errorf("resume workflow %d: %w", workflowID, err)
	}
	if err := tx.BulkResetTasksToRegistering(ctx, ids, now); err != nil {
		return nil, fmt.Errorf("resume workflow %d: %w", workflowID, err)
	}

	return ids, nil
}
