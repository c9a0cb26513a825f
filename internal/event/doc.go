// Package event defines the event bus and event types that decouple the
// orchestration core from its consumers. The core (conversation log, step
// manager, workflow runner, chat orchestrator) publishes events as state
// changes happen; UI layers subscribe and re-read immutable snapshots from
// the owning component. Events deliberately carry identifiers and status
// strings rather than full state, so subscribers never hold a mutable
// reference into the core.
//
// Dispatch is synchronous and ordered: a subscriber observing event N has
// already had events 1..N-1 delivered, which is what lets the UI treat the
// snapshot it re-reads as at-least-as-new as the event that announced it.
package event
