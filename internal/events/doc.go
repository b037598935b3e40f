// Package events fans job progress out to listeners. Each job gets its own
// sequence and a small ring of recent events; channel subscribers attach
// live (no replay) and are disconnected rather than ever blocking a publish,
// while cursor-based Fetch supports HTTP long-polling across reconnects.
// Streams close for subscribers when a job reaches a terminal state and the
// job's ring is retired after a grace period.
package events
