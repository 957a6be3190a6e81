// ABOUTME: Core plan and step domain types with their status vocabularies.
// ABOUTME: Defines the legal plan status transitions and terminal-state rules.

package plan

import "time"

// Status is the overall lifecycle state of a plan.
type Status string

const (
	StatusCreated               Status = "created"
	StatusStreaming             Status = "streaming"
	StatusAwaitingApproval      Status = "awaiting_approval"
	StatusInProgress            Status = "in_progress"
	StatusAwaitingClarification Status = "awaiting_clarification"
	StatusCompleted             Status = "completed"
	StatusFailed                Status = "failed"
	StatusCancelled             Status = "cancelled"
)

// Terminal reports whether the status is final. Terminal plans never change
// status again.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// transitions is the set of legal non-terminal status moves. Failed and
// Cancelled are reachable from any non-terminal status and are not listed.
var transitions = map[Status][]Status{
	StatusCreated:               {StatusStreaming},
	StatusStreaming:             {StatusAwaitingApproval},
	StatusAwaitingApproval:      {StatusInProgress, StatusCompleted},
	StatusInProgress:            {StatusAwaitingClarification, StatusCompleted},
	StatusAwaitingClarification: {StatusInProgress},
}

// CanTransition reports whether a plan may move from one status to another.
// Leaving a terminal status is never legal.
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	if to == StatusFailed || to == StatusCancelled {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ExecStatus is the execution state of a single step.
type ExecStatus string

const (
	ExecPending   ExecStatus = "pending"
	ExecRunning   ExecStatus = "running"
	ExecCompleted ExecStatus = "completed"
	ExecFailed    ExecStatus = "failed"
)

// Terminal reports whether the execution status is final.
func (s ExecStatus) Terminal() bool {
	return s == ExecCompleted || s == ExecFailed
}

// Approval is the human decision state of a single step.
type Approval string

const (
	ApprovalPlanned  Approval = "planned"
	ApprovalAccepted Approval = "accepted"
	ApprovalRejected Approval = "rejected"
)

// Decided reports whether a human has ruled on the step.
func (a Approval) Decided() bool {
	return a == ApprovalAccepted || a == ApprovalRejected
}

// Plan is a user goal decomposed into approval-gated steps.
type Plan struct {
	ID        string
	SessionID string
	Goal      string
	TeamID    string
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time

	// Version is the optimistic concurrency stamp; every persisted update
	// increments it.
	Version int64
}

// Step is one unit of plan work, assigned to a named team agent.
type Step struct {
	ID            string
	PlanID        string
	SequenceIndex int
	Description   string
	AssignedAgent string
	ExecStatus    ExecStatus
	Approval      Approval
	Result        string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Version       int64
}

// Message is one transcript entry for a plan. The ordered transcript is the
// input context for execution agents and the seed for follow-up plans.
type Message struct {
	ID        string
	PlanID    string
	Author    string
	Kind      MessageKind
	Content   string
	CreatedAt time.Time
}

// MessageKind classifies transcript entries.
type MessageKind string

const (
	MessageGoal                  MessageKind = "goal"
	MessageReasoning             MessageKind = "reasoning"
	MessageClarificationQuestion MessageKind = "clarification_question"
	MessageClarificationAnswer   MessageKind = "clarification_answer"
	MessageStepResult            MessageKind = "step_result"
	MessageSeed                  MessageKind = "seed"
)
