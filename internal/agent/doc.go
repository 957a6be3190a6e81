// Package agent runs the model-backed agents that execute plan steps.
//
// # Runtimes
//
// A [Runtime] wraps one agent: a model client, optional exclusive ownership
// of a tool gateway connection, and the agent's spec from its team
// descriptor. Invoke is the only operation: it streams the agent's text
// output and internally drives the tool loop, one model round per tool
// call, feeding each tool result back as an observation until the model
// produces an answer or exhausts its turn budget. Transient tool failures
// are retried with doubling backoff; a failure that survives the retry
// bound ends the invocation with an error chunk.
//
// # Teams
//
// [Factory.CreateTeam] builds runtimes strictly in descriptor order. If
// agent k fails to build, agents 1..k-1 are closed in reverse order before
// the error surfaces, so a partially open team never escapes. [CloseTeam]
// applies the same reverse-order discipline at end of plan.
//
// # Shared context
//
// Agents publish located resources as "Using <key>: <value>" lines.
// [ExtractToken] pulls the most recent value for a key out of the plan
// transcript; when a runtime whose spec declares a context key finds one,
// it satisfies the agent's discovery tool from the token instead of
// re-invoking it.
package agent
