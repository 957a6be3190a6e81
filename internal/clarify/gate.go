// ABOUTME: Single-slot clarification mailbox per plan: one outstanding
// ABOUTME: question at a time, answered by a human or abandoned on cancel

package clarify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrSlotOccupied means the plan already has an unanswered question.
	ErrSlotOccupied = errors.New("clarification already pending for plan")

	// ErrNoPending means there is no outstanding question to answer.
	ErrNoPending = errors.New("no pending clarification for plan")

	// ErrAbandoned means the question was cleared before an answer arrived.
	ErrAbandoned = errors.New("clarification abandoned")
)

// Request is one question an agent needs answered before it can continue.
type Request struct {
	PlanID   string
	StepID   string
	Question string
	AskedAt  time.Time
}

// pendingClarification tracks one question awaiting its answer.
type pendingClarification struct {
	req        Request
	answerChan chan string
	done       chan struct{}
}

// Gate routes clarification answers to suspended agent invocations. Each
// plan has at most one outstanding question: a second Ask before the first
// is answered fails with ErrSlotOccupied.
type Gate struct {
	mu      sync.Mutex
	pending map[string]*pendingClarification
	logger  *slog.Logger
}

// NewGate creates an empty gate.
func NewGate() *Gate {
	return &Gate{
		pending: make(map[string]*pendingClarification),
		logger:  slog.Default().With("component", "clarify"),
	}
}

// Ask registers a question and returns the channel its answer will arrive
// on. The channel is closed without a value if ctx ends first; the slot is
// cleared either way.
func (g *Gate) Ask(ctx context.Context, req Request) (<-chan string, error) {
	if req.AskedAt.IsZero() {
		req.AskedAt = time.Now().UTC()
	}

	answerChan := make(chan string, 1)
	done := make(chan struct{})

	g.mu.Lock()
	if _, exists := g.pending[req.PlanID]; exists {
		g.mu.Unlock()
		return nil, ErrSlotOccupied
	}
	g.pending[req.PlanID] = &pendingClarification{
		req:        req,
		answerChan: answerChan,
		done:       done,
	}
	g.mu.Unlock()

	g.logger.Info("clarification requested", "plan_id", req.PlanID, "step_id", req.StepID)

	// Clear the slot if the asker gives up before an answer lands.
	go func() {
		select {
		case <-ctx.Done():
			g.mu.Lock()
			if pq, ok := g.pending[req.PlanID]; ok && pq.done == done {
				delete(g.pending, req.PlanID)
				close(pq.answerChan)
			}
			g.mu.Unlock()
		case <-done:
		}
	}()

	return answerChan, nil
}

// Answer delivers the human's answer to the waiting asker and clears the
// slot. Returns ErrNoPending if nothing is waiting.
func (g *Gate) Answer(planID, answer string) error {
	g.mu.Lock()
	pq, ok := g.pending[planID]
	if ok {
		delete(g.pending, planID)
	}
	g.mu.Unlock()

	if !ok {
		return ErrNoPending
	}

	// Buffered send never blocks; close lets Await distinguish delivery
	// from abandonment.
	pq.answerChan <- answer
	close(pq.answerChan)
	close(pq.done)

	g.logger.Info("clarification answered", "plan_id", planID)
	return nil
}

// Pending returns the outstanding question for the plan, if any.
func (g *Gate) Pending(planID string) (Request, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	pq, ok := g.pending[planID]
	if !ok {
		return Request{}, false
	}
	return pq.req, true
}

// Await blocks until an answer arrives on the channel returned by Ask, the
// question is abandoned, or ctx ends.
func Await(ctx context.Context, answers <-chan string) (string, error) {
	select {
	case answer, ok := <-answers:
		if !ok {
			return "", ErrAbandoned
		}
		return answer, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
