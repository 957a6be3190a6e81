// ABOUTME: Tests for the in-memory mock store used by orchestrator and gateway tests.
// ABOUTME: Verifies it mirrors SQLite semantics: version conflicts and copy isolation.

package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stillwater-labs/steward/internal/plan"
)

func TestMockStore_VersionConflict(t *testing.T) {
	m := NewMockStore()
	ctx := t.Context()

	p := makePlan(plan.StatusCreated)
	require.NoError(t, m.CreatePlan(ctx, p))

	first, err := m.GetPlan(ctx, p.ID)
	require.NoError(t, err)
	second, err := m.GetPlan(ctx, p.ID)
	require.NoError(t, err)

	first.Status = plan.StatusStreaming
	require.NoError(t, m.UpdatePlan(ctx, first))

	second.Status = plan.StatusCancelled
	assert.ErrorIs(t, m.UpdatePlan(ctx, second), ErrVersionConflict)
}

func TestMockStore_CopyIsolation(t *testing.T) {
	m := NewMockStore()
	ctx := t.Context()

	p := makePlan(plan.StatusCreated)
	require.NoError(t, m.CreatePlan(ctx, p))

	// Mutating the caller's copy must not leak into the store.
	p.Goal = "mutated after create"

	got, err := m.GetPlan(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Forecast Q3 revenue using the sales dataset", got.Goal)

	got.Status = plan.StatusFailed
	reread, err := m.GetPlan(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, plan.StatusCreated, reread.Status)
}

func TestMockStore_FailUpdates(t *testing.T) {
	m := NewMockStore()
	ctx := t.Context()

	p := makePlan(plan.StatusCreated)
	require.NoError(t, m.CreatePlan(ctx, p))
	steps := makeSteps(p.ID, 1)
	require.NoError(t, m.CreateSteps(ctx, steps))

	boom := errors.New("disk full")
	m.FailUpdates = boom

	assert.ErrorIs(t, m.UpdatePlan(ctx, p), boom)
	assert.ErrorIs(t, m.UpdateStep(ctx, steps[0]), boom)

	m.FailUpdates = nil
	assert.NoError(t, m.UpdatePlan(ctx, p))
}

func TestMockStore_StepConflictAndNotFound(t *testing.T) {
	m := NewMockStore()
	ctx := t.Context()

	p := makePlan(plan.StatusAwaitingApproval)
	require.NoError(t, m.CreatePlan(ctx, p))
	steps := makeSteps(p.ID, 2)
	require.NoError(t, m.CreateSteps(ctx, steps))
	assert.ErrorIs(t, m.CreateSteps(ctx, steps), ErrDuplicate)

	a, err := m.GetStep(ctx, steps[0].ID)
	require.NoError(t, err)
	b, err := m.GetStep(ctx, steps[0].ID)
	require.NoError(t, err)

	a.Approval = plan.ApprovalAccepted
	require.NoError(t, m.UpdateStep(ctx, a))
	b.Approval = plan.ApprovalRejected
	assert.ErrorIs(t, m.UpdateStep(ctx, b), ErrVersionConflict)

	_, err = m.GetStep(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMockStore_ListActivePlans(t *testing.T) {
	m := NewMockStore()
	ctx := t.Context()

	active := makePlan(plan.StatusAwaitingClarification)
	done := makePlan(plan.StatusCompleted)
	require.NoError(t, m.CreatePlan(ctx, active))
	require.NoError(t, m.CreatePlan(ctx, done))

	got, err := m.ListActivePlans(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, active.ID, got[0].ID)
}
