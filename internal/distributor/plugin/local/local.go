/*
Package local is a reference plugin.Cluster implementation that runs
each task instance as a local OS process via os/exec: command +
timeout, captured stderr, exit-code-derived result. It exists
for tests and single-node demos; a production deployment targets a
real scheduler (Slurm, k8s) through a separate plugin binary, not
implemented here.
*/
package local

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/ihmeuw-scicomp/jobmon/internal/distributor/plugin"
)

type process struct {
	cmd       *exec.Cmd
	startedAt time.Time
	done      bool
	exitErr   error
	stderr    *bytes.Buffer
}

// Plugin runs batches as local processes, keyed by a monotonically
// increasing distributor ID (stringified PID-like counter, not an
// actual PID reuse hazard since it never repeats within a process
// lifetime).
type Plugin struct {
	mu      sync.Mutex
	next    int64
	procs   map[plugin.DistributorID]*process
	timeout time.Duration
}

// New constructs a local Plugin. timeout bounds each task instance's
// wall-clock runtime; zero means no timeout beyond ctx's own deadline.
func New(timeout time.Duration) *Plugin {
	return &Plugin{procs: make(map[plugin.DistributorID]*process), timeout: timeout}
}

func (p *Plugin) SubmitArray(ctx context.Context, batch plugin.Batch) ([]plugin.SubmissionResult, error) {
	results := make([]plugin.SubmissionResult, 0, len(batch.TaskInstanceIDs))
	for _, tiID := range batch.TaskInstanceIDs {
		id, err := p.submitOne(ctx, batch.Command)
		results = append(results, plugin.SubmissionResult{TaskInstanceID: tiID, DistributorID: id, Err: err})
	}
	return results, nil
}

func (p *Plugin) submitOne(ctx context.Context, command string) (plugin.DistributorID, error) {
	if command == "" {
		return "", fmt.Errorf("empty command")
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if p.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, p.timeout)
	}

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	// A killed shell can leave children holding the stderr pipe open;
	// bound how long Wait keeps reading after the shell itself exits.
	cmd.WaitDelay = 100 * time.Millisecond

	if err := cmd.Start(); err != nil {
		if cancel != nil {
			cancel()
		}
		return "", fmt.Errorf("start command: %w", err)
	}

	p.mu.Lock()
	p.next++
	id := plugin.DistributorID("local-" + strconv.FormatInt(p.next, 10))
	proc := &process{cmd: cmd, startedAt: time.Now(), stderr: &stderr}
	p.procs[id] = proc
	p.mu.Unlock()

	go func() {
		if cancel != nil {
			defer cancel()
		}
		err := cmd.Wait()
		p.mu.Lock()
		proc.done = true
		proc.exitErr = err
		p.mu.Unlock()
	}()

	return id, nil
}

func (p *Plugin) Poll(ctx context.Context, ids []plugin.DistributorID) ([]plugin.StatusReport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	reports := make([]plugin.StatusReport, 0, len(ids))
	for _, id := range ids {
		proc, ok := p.procs[id]
		if !ok {
			reports = append(reports, plugin.StatusReport{DistributorID: id, Status: plugin.StatusUnknown,
				Description: "no such distributor id"})
			continue
		}
		if !proc.done {
			reports = append(reports, plugin.StatusReport{DistributorID: id, Status: plugin.StatusRunning})
			continue
		}

		runtime := time.Since(proc.startedAt).Seconds()
		if proc.exitErr == nil {
			reports = append(reports, plugin.StatusReport{
				DistributorID: id, Status: plugin.StatusDone, RuntimeSeconds: &runtime,
			})
			continue
		}

		status := plugin.StatusError
		var exitErr *exec.ExitError
		if !asExitError(proc.exitErr, &exitErr) {
			status = plugin.StatusUnknown
		}
		reports = append(reports, plugin.StatusReport{
			DistributorID:  id,
			Status:         status,
			Description:    fmt.Sprintf("%v: %s", proc.exitErr, proc.stderr.String()),
			RuntimeSeconds: &runtime,
		})
	}
	return reports, nil
}

func asExitError(err error, target **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError)
	if ok {
		*target = ee
	}
	return ok
}

func (p *Plugin) Kill(ctx context.Context, ids []plugin.DistributorID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, id := range ids {
		proc, ok := p.procs[id]
		if !ok || proc.done || proc.cmd.Process == nil {
			continue
		}
		_ = proc.cmd.Process.Kill()
	}
	return nil
}
