/*
Package distributor implements the Distributor Loop (spec §4.5): the
process that drives queued tasks to a terminal state by submitting
them to a pluggable plugin.Cluster backend and reporting outcomes back
to the Coordination API.

One struct wraps a plugin handle, logger, and stopCh, with Start/Stop
bound to a goroutine set per spec §5's "plugin callbacks post to a
channel-like queue" requirement: a heartbeat refresher, a drain-submit
cycle, a poll cycle, a kill-watcher, and a kill executor, each an
independent ticker or channel consumer communicating over buffered
channels rather than sharing state directly.
*/
package distributor
