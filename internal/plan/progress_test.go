// ABOUTME: Tests for progress measurement and dispatch-eligibility selection.
// ABOUTME: Covers rejected-step accounting and partial out-of-order approval.

package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// makeStep builds a step with the given shape for progress tests.
func makeStep(seq int, exec ExecStatus, approval Approval) *Step {
	return &Step{
		ID:            "step-" + string(rune('0'+seq)),
		SequenceIndex: seq,
		ExecStatus:    exec,
		Approval:      approval,
	}
}

func TestMeasure_Empty(t *testing.T) {
	p := Measure(nil)
	assert.Equal(t, 0, p.Total)
	assert.False(t, p.Ready, "a plan with no steps is never ready")
}

func TestMeasure_CountsTerminalSteps(t *testing.T) {
	steps := []*Step{
		makeStep(1, ExecCompleted, ApprovalAccepted),
		makeStep(2, ExecRunning, ApprovalAccepted),
		makeStep(3, ExecPending, ApprovalPlanned),
		makeStep(4, ExecFailed, ApprovalAccepted),
	}

	p := Measure(steps)
	assert.Equal(t, 2, p.Completed)
	assert.Equal(t, 4, p.Total)
	assert.False(t, p.Ready)
}

func TestMeasure_RejectedCountsTowardCompletion(t *testing.T) {
	// A rejected step is forced to completed at decision time; a plan whose
	// remaining steps all finished is ready even though one was skipped.
	steps := []*Step{
		makeStep(1, ExecCompleted, ApprovalAccepted),
		makeStep(2, ExecCompleted, ApprovalRejected),
		makeStep(3, ExecCompleted, ApprovalAccepted),
	}

	p := Measure(steps)
	assert.Equal(t, 3, p.Completed)
	assert.True(t, p.Ready)
}

func TestMeasure_AllRejected(t *testing.T) {
	steps := []*Step{
		makeStep(1, ExecCompleted, ApprovalRejected),
		makeStep(2, ExecCompleted, ApprovalRejected),
	}

	p := Measure(steps)
	assert.True(t, p.Ready, "a fully rejected plan completes")
}

func TestNextDispatchable_Order(t *testing.T) {
	steps := []*Step{
		makeStep(3, ExecPending, ApprovalAccepted),
		makeStep(1, ExecCompleted, ApprovalAccepted),
		makeStep(2, ExecPending, ApprovalAccepted),
	}

	next := NextDispatchable(steps)
	require.NotNil(t, next)
	assert.Equal(t, 2, next.SequenceIndex, "lowest pending accepted step dispatches first")
}

func TestNextDispatchable_SkipsUndecidedAndRejected(t *testing.T) {
	// Step 1 awaits approval, step 2 was rejected: step 3 is eligible anyway.
	steps := []*Step{
		makeStep(1, ExecPending, ApprovalPlanned),
		makeStep(2, ExecCompleted, ApprovalRejected),
		makeStep(3, ExecPending, ApprovalAccepted),
	}

	next := NextDispatchable(steps)
	require.NotNil(t, next)
	assert.Equal(t, 3, next.SequenceIndex)
}

func TestNextDispatchable_NothingEligible(t *testing.T) {
	steps := []*Step{
		makeStep(1, ExecRunning, ApprovalAccepted),
		makeStep(2, ExecPending, ApprovalPlanned),
	}

	assert.Nil(t, NextDispatchable(steps))
	assert.Equal(t, 1, Running(steps))
}

func TestSort(t *testing.T) {
	steps := []*Step{
		makeStep(2, ExecPending, ApprovalPlanned),
		makeStep(3, ExecPending, ApprovalPlanned),
		makeStep(1, ExecPending, ApprovalPlanned),
	}

	Sort(steps)
	assert.Equal(t, 1, steps[0].SequenceIndex)
	assert.Equal(t, 2, steps[1].SequenceIndex)
	assert.Equal(t, 3, steps[2].SequenceIndex)
}
