package local

import (
	"context"
	"testing"
	"time"

	"github.com/ihmeuw-scicomp/jobmon/internal/distributor/plugin"
)

func waitForTerminal(t *testing.T, p *Plugin, id plugin.DistributorID) plugin.StatusReport {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		reports, err := p.Poll(context.Background(), []plugin.DistributorID{id})
		if err != nil {
			t.Fatalf("poll: %v", err)
		}
		if reports[0].Status != plugin.StatusRunning {
			return reports[0]
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("process %s never reached a terminal status", id)
	return plugin.StatusReport{}
}

func TestPlugin_SubmitArray_SuccessfulCommand(t *testing.T) {
	p := New(0)

	results, err := p.SubmitArray(context.Background(), plugin.Batch{
		TaskInstanceIDs: []int64{1, 2},
		Command:         "true",
	})
	if err != nil {
		t.Fatalf("submit array: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for _, r := range results {
		if r.Err != nil {
			t.Errorf("task instance %d: unexpected submit error: %v", r.TaskInstanceID, r.Err)
		}
		report := waitForTerminal(t, p, r.DistributorID)
		if report.Status != plugin.StatusDone {
			t.Errorf("task instance %d: expected Done, got %s (%s)", r.TaskInstanceID, report.Status, report.Description)
		}
	}
}

func TestPlugin_SubmitArray_FailingCommandReportsError(t *testing.T) {
	p := New(0)

	results, err := p.SubmitArray(context.Background(), plugin.Batch{
		TaskInstanceIDs: []int64{1},
		Command:         "exit 1",
	})
	if err != nil {
		t.Fatalf("submit array: %v", err)
	}

	report := waitForTerminal(t, p, results[0].DistributorID)
	if report.Status != plugin.StatusError {
		t.Errorf("expected Error, got %s", report.Status)
	}
}

func TestPlugin_Poll_UnknownDistributorID(t *testing.T) {
	p := New(0)

	reports, err := p.Poll(context.Background(), []plugin.DistributorID{"local-999"})
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if reports[0].Status != plugin.StatusUnknown {
		t.Errorf("expected Unknown for unregistered id, got %s", reports[0].Status)
	}
}

func TestPlugin_Kill_StopsRunningProcess(t *testing.T) {
	p := New(0)

	results, err := p.SubmitArray(context.Background(), plugin.Batch{
		TaskInstanceIDs: []int64{1},
		Command:         "sleep 5",
	})
	if err != nil {
		t.Fatalf("submit array: %v", err)
	}
	id := results[0].DistributorID

	if err := p.Kill(context.Background(), []plugin.DistributorID{id}); err != nil {
		t.Fatalf("kill: %v", err)
	}

	report := waitForTerminal(t, p, id)
	if report.Status == plugin.StatusRunning {
		t.Errorf("expected process to leave Running after kill")
	}
}
