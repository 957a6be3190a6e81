// ABOUTME: Store interface and errors for plan, step, transcript, and event persistence.
// ABOUTME: Implemented by SQLiteStore for production and MockStore for tests.

package store

import (
	"context"
	"errors"

	"github.com/stillwater-labs/steward/internal/plan"
	"github.com/stillwater-labs/steward/internal/stream"
)

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrVersionConflict indicates an update carried a stale version stamp.
// The caller lost a race and must re-read before retrying.
var ErrVersionConflict = errors.New("version conflict")

// ErrDuplicate indicates an insert collided with an existing record.
var ErrDuplicate = errors.New("duplicate record")

// Store persists plans, steps, transcript messages, and stream events.
//
// Updates use optimistic concurrency: UpdatePlan and UpdateStep match on the
// version stamp the caller read and return ErrVersionConflict when another
// writer got there first.
type Store interface {
	CreatePlan(ctx context.Context, p *plan.Plan) error
	GetPlan(ctx context.Context, id string) (*plan.Plan, error)
	UpdatePlan(ctx context.Context, p *plan.Plan) error
	ListPlans(ctx context.Context, limit int) ([]*plan.Plan, error)
	ListActivePlans(ctx context.Context) ([]*plan.Plan, error)

	CreateSteps(ctx context.Context, steps []*plan.Step) error
	GetStep(ctx context.Context, id string) (*plan.Step, error)
	UpdateStep(ctx context.Context, s *plan.Step) error
	ListSteps(ctx context.Context, planID string) ([]*plan.Step, error)

	SaveMessage(ctx context.Context, m *plan.Message) error
	ListMessages(ctx context.Context, planID string) ([]*plan.Message, error)

	SaveStreamEvent(ctx context.Context, planID string, ev stream.Event) error
	ListStreamEvents(ctx context.Context, planID string) ([]stream.Event, error)

	Close() error
}
