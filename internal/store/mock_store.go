// ABOUTME: In-memory Store implementation for orchestrator and gateway tests
// ABOUTME: Mirrors SQLite semantics including version-stamp conflict detection

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/stillwater-labs/steward/internal/plan"
	"github.com/stillwater-labs/steward/internal/stream"
)

// MockStore is an in-memory Store for tests. All values are copied on the
// way in and out so callers cannot mutate stored state.
type MockStore struct {
	mu       sync.RWMutex
	plans    map[string]*plan.Plan
	steps    map[string]*plan.Step
	messages map[string][]*plan.Message
	events   map[string][]stream.Event
	order    []string

	// FailUpdates forces UpdatePlan/UpdateStep to return the given error,
	// letting tests exercise dispatcher persistence failures.
	FailUpdates error
}

// NewMockStore creates an empty in-memory store.
func NewMockStore() *MockStore {
	return &MockStore{
		plans:    make(map[string]*plan.Plan),
		steps:    make(map[string]*plan.Step),
		messages: make(map[string][]*plan.Message),
		events:   make(map[string][]stream.Event),
	}
}

func copyPlan(p *plan.Plan) *plan.Plan {
	cp := *p
	return &cp
}

func copyStep(s *plan.Step) *plan.Step {
	cp := *s
	return &cp
}

// CreatePlan stores a new plan with version 1.
func (m *MockStore) CreatePlan(_ context.Context, p *plan.Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.plans[p.ID]; exists {
		return ErrDuplicate
	}
	p.Version = 1
	m.plans[p.ID] = copyPlan(p)
	m.order = append(m.order, p.ID)
	return nil
}

// GetPlan returns a copy of the stored plan.
func (m *MockStore) GetPlan(_ context.Context, id string) (*plan.Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.plans[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyPlan(p), nil
}

// UpdatePlan applies an optimistic-concurrency update.
func (m *MockStore) UpdatePlan(_ context.Context, p *plan.Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailUpdates != nil {
		return m.FailUpdates
	}

	current, ok := m.plans[p.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != p.Version {
		return ErrVersionConflict
	}

	p.Version++
	p.UpdatedAt = time.Now().UTC()
	m.plans[p.ID] = copyPlan(p)
	return nil
}

// ListPlans returns plans newest first.
func (m *MockStore) ListPlans(_ context.Context, limit int) ([]*plan.Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	var plans []*plan.Plan
	for i := len(m.order) - 1; i >= 0 && len(plans) < limit; i-- {
		plans = append(plans, copyPlan(m.plans[m.order[i]]))
	}
	return plans, nil
}

// ListActivePlans returns non-terminal plans in creation order.
func (m *MockStore) ListActivePlans(_ context.Context) ([]*plan.Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var plans []*plan.Plan
	for _, id := range m.order {
		if p := m.plans[id]; !p.Status.Terminal() {
			plans = append(plans, copyPlan(p))
		}
	}
	return plans, nil
}

// CreateSteps stores a batch of steps with version 1.
func (m *MockStore) CreateSteps(_ context.Context, steps []*plan.Step) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, st := range steps {
		if _, exists := m.steps[st.ID]; exists {
			return ErrDuplicate
		}
	}
	for _, st := range steps {
		st.Version = 1
		m.steps[st.ID] = copyStep(st)
	}
	return nil
}

// GetStep returns a copy of the stored step.
func (m *MockStore) GetStep(_ context.Context, id string) (*plan.Step, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.steps[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyStep(st), nil
}

// UpdateStep applies an optimistic-concurrency update.
func (m *MockStore) UpdateStep(_ context.Context, st *plan.Step) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailUpdates != nil {
		return m.FailUpdates
	}

	current, ok := m.steps[st.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != st.Version {
		return ErrVersionConflict
	}

	st.Version++
	st.UpdatedAt = time.Now().UTC()
	m.steps[st.ID] = copyStep(st)
	return nil
}

// ListSteps returns a plan's steps ordered by sequence index.
func (m *MockStore) ListSteps(_ context.Context, planID string) ([]*plan.Step, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var steps []*plan.Step
	for _, st := range m.steps {
		if st.PlanID == planID {
			steps = append(steps, copyStep(st))
		}
	}
	sort.Slice(steps, func(i, j int) bool {
		return steps[i].SequenceIndex < steps[j].SequenceIndex
	})
	return steps, nil
}

// SaveMessage appends one transcript message.
func (m *MockStore) SaveMessage(_ context.Context, msg *plan.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *msg
	m.messages[msg.PlanID] = append(m.messages[msg.PlanID], &cp)
	return nil
}

// ListMessages returns a plan's transcript in insertion order.
func (m *MockStore) ListMessages(_ context.Context, planID string) ([]*plan.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := make([]*plan.Message, 0, len(m.messages[planID]))
	for _, msg := range m.messages[planID] {
		cp := *msg
		msgs = append(msgs, &cp)
	}
	return msgs, nil
}

// SaveStreamEvent appends one stream event to the plan's durable log.
func (m *MockStore) SaveStreamEvent(_ context.Context, planID string, ev stream.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.events[planID] = append(m.events[planID], ev)
	return nil
}

// ListStreamEvents returns a plan's durable event log ordered by sequence.
func (m *MockStore) ListStreamEvents(_ context.Context, planID string) ([]stream.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]stream.Event, len(m.events[planID]))
	copy(events, m.events[planID])
	sort.Slice(events, func(i, j int) bool { return events[i].Seq < events[j].Seq })
	return events, nil
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}
