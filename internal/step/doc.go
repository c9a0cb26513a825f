// Package step tracks the ordered list of progress steps shown to the user
// while a turn or workflow node is being processed.
//
// Steps move through a small state machine: waiting → processing →
// {completed | error}, with error → processing reachable only through an
// explicit retry. Steps are declared (waiting) up front so the UI can show
// the full plan before any work starts, then filled in as the orchestrator
// advances. Every mutation republishes a snapshot of the full list through
// the manager's notification callback; callers own rendering and diffing.
//
// Two kinds of steps exist outside the initial batch: ad hoc info steps
// (AddStep, e.g. a trailing error description) and per-node workflow steps
// (AddWorkflowStep), which are keyed by node index and node id so steps
// from different nodes never collide, and are removed from the live list
// once folded into a turn's frozen snapshot.
package step
