// Package orchestrator coordinates plans end to end: it turns a user goal
// into approval-gated steps via a planning agent, streams the planning
// reasoning and execution output through per-plan sessions, and dispatches
// accepted steps to the team's execution agents.
//
// The orchestrator is the only writer of plan and step state. Each live plan
// has one run goroutine (generation phase then dispatch phase) and a per-plan
// mutex that serializes every mutation, so approval calls, clarification
// answers, cancellation, and the run itself interleave deterministically.
package orchestrator
