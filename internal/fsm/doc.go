// Package fsm is the sole writer of status columns (spec §4.2). It has
// no knowledge of HTTP, JSON, or the cluster plugin: the Coordination
// API, Reaper, and Distributor Loop are its only callers, each
// supplying an already-open store.Tx.
//
// Every engine method takes (entityID, observedPrevious, requestedNew)
// or an equivalent tuple and performs exactly one locked read followed
// by one write, the same dispatch shape as an Apply(cmd) switch over a
// command log, minus the log itself: there is no consensus layer
// here, so the tuple goes straight to the store instead of through a
// replicated log.
package fsm
