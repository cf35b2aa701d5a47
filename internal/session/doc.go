// Package session owns the host<->debug-agent session lifecycle.
//
// Ownership boundary:
// - connect/disconnect state machine and the pending connection
// - transaction table and reply correlation
// - notification dispatch
//
// All mutable session state is confined to the session loop goroutine; the
// public API posts work into the loop and completion callbacks run on it.
// The only cross-goroutine handoffs are the read loop and the pending
// connection posting their results back into the loop.
package session
