// Package plan defines the core domain types of the orchestration engine:
// plans, steps, transcript messages, their status vocabularies, and the pure
// progress arithmetic that decides when a plan is ready to complete.
package plan
