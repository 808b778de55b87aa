/*
Package reaper implements the Reaper (spec §4.4): a ticker-driven sweep
that terminalizes work the Distributor Loop has stopped reporting on,
either because the distributor process died or because a cluster
backend silently dropped a task.

Structurally this is a run()/reconcile() two-phase loop — ticker,
mutex-guarded single-flight cycle, per-phase error logged but never
fatal to the loop — taken from a node/container liveness loop and
applied instead to workflow-run/task-instance liveness. More than one Reaper may run
against the same store (for availability); each tick first attempts
the store's Postgres advisory lock and skips the tick entirely if it
doesn't hold the lease.
*/
package reaper
