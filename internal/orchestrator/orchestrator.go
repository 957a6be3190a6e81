// ABOUTME: Plan orchestrator: owns plan and step state, drives generation and
// ABOUTME: dispatch tasks per plan, and serializes every mutation per plan

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stillwater-labs/steward/internal/agent"
	"github.com/stillwater-labs/steward/internal/clarify"
	"github.com/stillwater-labs/steward/internal/debounce"
	"github.com/stillwater-labs/steward/internal/model"
	"github.com/stillwater-labs/steward/internal/plan"
	"github.com/stillwater-labs/steward/internal/store"
	"github.com/stillwater-labs/steward/internal/stream"
	"github.com/stillwater-labs/steward/internal/team"
	"github.com/stillwater-labs/steward/internal/tools"
)

var (
	// ErrPlanNotFound means the plan ID resolves to nothing.
	ErrPlanNotFound = errors.New("plan not found")

	// ErrStepNotFound means the step ID resolves to nothing in the plan.
	ErrStepNotFound = errors.New("step not found")

	// ErrInvalidState means the operation is not legal in the plan's
	// current status.
	ErrInvalidState = errors.New("operation not valid in current plan state")

	// ErrStateConflict means a concurrent update won the race; the caller
	// must re-fetch state before retrying.
	ErrStateConflict = errors.New("conflicting concurrent update")

	// ErrAttachThrottled means a stream attach arrived inside the
	// re-attach debounce window.
	ErrAttachThrottled = errors.New("stream attach throttled")

	// ErrShuttingDown means the orchestrator no longer accepts work.
	ErrShuttingDown = errors.New("orchestrator shutting down")

	// ErrValidation means the request itself is malformed. Validation
	// failures never mutate state.
	ErrValidation = errors.New("invalid request")
)

// persistTimeout bounds background writes of stream events and messages
// that happen outside a caller's request context.
const persistTimeout = 3 * time.Second

// Config tunes the orchestrator.
type Config struct {
	// AttachDebounce is the minimum interval between stream attaches for
	// one plan.
	AttachDebounce time.Duration

	// StepTimeout bounds one step's agent invocation.
	StepTimeout time.Duration

	// Agent tunes the execution runtimes the orchestrator builds.
	Agent agent.Options
}

func (c Config) withDefaults() Config {
	if c.AttachDebounce <= 0 {
		c.AttachDebounce = time.Second
	}
	if c.StepTimeout <= 0 {
		c.StepTimeout = 2 * time.Minute
	}
	return c
}

// planRun is the live state of one plan: its session, its per-plan mutex,
// and the signals its generation and dispatcher tasks coordinate through.
type planRun struct {
	planID  string
	session *stream.Session

	// mu serializes every mutation of this plan's state: approval calls,
	// clarification delivery, cancellation, and the run tasks themselves.
	mu sync.Mutex

	cancel context.CancelFunc
	kick   chan struct{}
	done   chan struct{}
}

// kickDispatcher wakes the dispatcher without blocking.
func (r *planRun) kickDispatcher() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// Orchestrator coordinates plans end to end. It is the only writer of plan
// and step state.
type Orchestrator struct {
	store    store.Store
	registry *team.Registry
	client   model.Client
	factory  *agent.Factory
	gate     *clarify.Gate
	limiter  *debounce.Limiter
	cfg      Config
	logger   *slog.Logger

	mu     sync.Mutex
	runs   map[string]*planRun
	closed bool
	wg     sync.WaitGroup
}

// New creates an orchestrator. client backs both planning and execution
// agents; dialer opens tool gateway connections and may be nil when no tool
// service is configured.
func New(st store.Store, registry *team.Registry, client model.Client, dialer tools.Dialer, cfg Config) *Orchestrator {
	cfg = cfg.withDefaults()
	o := &Orchestrator{
		store:    st,
		registry: registry,
		client:   client,
		gate:     clarify.NewGate(),
		limiter:  debounce.New(cfg.AttachDebounce, 4096),
		cfg:      cfg,
		runs:     make(map[string]*planRun),
		logger:   slog.Default().With("component", "orchestrator"),
	}
	o.factory = agent.NewFactory(client, dialer, o, cfg.Agent)
	return o
}

// Snapshot is a read-only view of a plan for API responses.
type Snapshot struct {
	Plan     *plan.Plan
	Steps    []*plan.Step
	Progress plan.Progress

	// Question is the outstanding clarification, empty if none.
	Question string
}

// CreatePlan validates the request, persists the plan, and starts its
// generation task. The returned plan is in Created status; generation moves
// it to Streaming immediately after.
func (o *Orchestrator) CreatePlan(ctx context.Context, sessionID, goal, teamID string) (*plan.Plan, error) {
	goal = strings.TrimSpace(goal)
	if goal == "" {
		return nil, fmt.Errorf("%w: goal is required", ErrValidation)
	}

	t, err := o.registry.Get(teamID)
	if err != nil {
		return nil, err
	}

	return o.startPlan(ctx, sessionID, goal, t, "")
}

// CreateFollowUpPlan starts a fresh plan against a completed one, seeding
// the new plan's context with the prior transcript. Clarifications only
// resume an active plan; anything submitted against a terminal plan goes
// through here so approval and step semantics start clean.
func (o *Orchestrator) CreateFollowUpPlan(ctx context.Context, priorPlanID, goal string) (*plan.Plan, error) {
	goal = strings.TrimSpace(goal)
	if goal == "" {
		return nil, fmt.Errorf("%w: goal is required", ErrValidation)
	}

	prior, err := o.store.GetPlan(ctx, priorPlanID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, priorPlanID)
		}
		return nil, err
	}
	if prior.Status != plan.StatusCompleted {
		return nil, fmt.Errorf("%w: follow-up requires a completed plan, prior is %s", ErrInvalidState, prior.Status)
	}

	t, err := o.registry.Get(prior.TeamID)
	if err != nil {
		return nil, err
	}

	msgs, err := o.store.ListMessages(ctx, prior.ID)
	if err != nil {
		return nil, fmt.Errorf("loading prior transcript: %w", err)
	}

	return o.startPlan(ctx, prior.SessionID, goal, t, transcriptText(msgs))
}

// startPlan persists a new plan and spawns its run.
func (o *Orchestrator) startPlan(ctx context.Context, sessionID, goal string, t *team.Team, seed string) (*plan.Plan, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, ErrShuttingDown
	}
	o.mu.Unlock()

	now := time.Now().UTC()
	p := &plan.Plan{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Goal:      goal,
		TeamID:    t.ID,
		Status:    plan.StatusCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.store.CreatePlan(ctx, p); err != nil {
		return nil, fmt.Errorf("persisting plan: %w", err)
	}

	if seed != "" {
		o.saveMessage(ctx, p.ID, "system", plan.MessageSeed, seed)
	}
	o.saveMessage(ctx, p.ID, "user", plan.MessageGoal, goal)

	runCtx, cancel := context.WithCancel(context.Background())
	run := &planRun{
		planID:  p.ID,
		session: stream.NewSession(p.ID, o.logger),
		cancel:  cancel,
		kick:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		cancel()
		return nil, ErrShuttingDown
	}
	o.runs[p.ID] = run
	o.wg.Add(1)
	o.mu.Unlock()

	go o.runPlan(runCtx, run, p.ID, t, seed)

	o.logger.Info("plan created", "plan_id", p.ID, "team", t.ID, "session_id", sessionID)
	return p, nil
}

// StreamPlan attaches the caller to the plan's event stream. A live plan
// streams from its session; a finished plan replays its persisted events
// and closes. Attaches inside the debounce window fail with
// ErrAttachThrottled; a second concurrent subscriber gets
// stream.ErrAlreadyStreaming.
func (o *Orchestrator) StreamPlan(ctx context.Context, planID string) (<-chan stream.Event, error) {
	run := o.lookupRun(planID)
	if run == nil {
		// No live run: the plan must exist and be finished, in which case
		// its persisted events replay.
		p, err := o.store.GetPlan(ctx, planID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
			}
			return nil, err
		}
		if !p.Status.Terminal() {
			return nil, fmt.Errorf("%w: plan %s has no active stream", ErrInvalidState, planID)
		}

		if !o.limiter.Allow(planID) {
			return nil, fmt.Errorf("%w: plan %s", ErrAttachThrottled, planID)
		}

		events, err := o.store.ListStreamEvents(ctx, planID)
		if err != nil {
			return nil, fmt.Errorf("loading stream events: %w", err)
		}
		if n := len(events); n == 0 || events[n-1].Type != stream.TypeDone {
			events = append(events, stream.Event{
				Seq:  uint64(n + 1),
				Type: stream.TypeDone,
				At:   time.Now().UTC(),
			})
		}
		return stream.Rehydrate(planID, events, o.logger).Subscribe(ctx)
	}

	if !o.limiter.Allow(planID) {
		return nil, fmt.Errorf("%w: plan %s", ErrAttachThrottled, planID)
	}
	return run.session.Subscribe(ctx)
}

// GetPlan returns a read-only snapshot of a plan and its steps.
func (o *Orchestrator) GetPlan(ctx context.Context, planID string) (*Snapshot, error) {
	p, err := o.store.GetPlan(ctx, planID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
		}
		return nil, err
	}

	steps, err := o.store.ListSteps(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("loading steps: %w", err)
	}

	snap := &Snapshot{
		Plan:     p,
		Steps:    steps,
		Progress: plan.Measure(steps),
	}
	if req, ok := o.gate.Pending(planID); ok {
		snap.Question = req.Question
	}
	return snap, nil
}

// ListPlans returns the most recent plans, newest first.
func (o *Orchestrator) ListPlans(ctx context.Context, limit int) ([]*plan.Plan, error) {
	return o.store.ListPlans(ctx, limit)
}

// ApproveStep records a human decision on one step. Accepted steps are
// enqueued for dispatch; rejected steps are marked completed without
// dispatch and count toward plan completion. Exactly one decision per step
// takes effect; later calls fail with ErrStateConflict.
func (o *Orchestrator) ApproveStep(ctx context.Context, planID, stepID string, decision plan.Approval) error {
	if decision != plan.ApprovalAccepted && decision != plan.ApprovalRejected {
		return fmt.Errorf("%w: decision must be accepted or rejected", ErrValidation)
	}

	run := o.lookupRun(planID)
	if run != nil {
		run.mu.Lock()
		defer run.mu.Unlock()
	}

	p, err := o.store.GetPlan(ctx, planID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
		}
		return err
	}

	st, err := o.store.GetStep(ctx, stepID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrStepNotFound, stepID)
		}
		return err
	}
	if st.PlanID != planID {
		return fmt.Errorf("%w: step %s belongs to another plan", ErrStepNotFound, stepID)
	}

	// A decided step is a lost race no matter how far the plan advanced
	// since, so this check precedes the plan status guard.
	if st.Approval.Decided() {
		return fmt.Errorf("%w: step already %s", ErrStateConflict, st.Approval)
	}
	if p.Status != plan.StatusAwaitingApproval && p.Status != plan.StatusInProgress {
		return fmt.Errorf("%w: plan is %s", ErrInvalidState, p.Status)
	}

	st.Approval = decision
	if decision == plan.ApprovalRejected {
		// Rejected steps complete without dispatch. They count toward
		// completion but are skipped.
		st.ExecStatus = plan.ExecCompleted
		st.Result = "skipped: rejected by user"
	}

	if err := o.store.UpdateStep(ctx, st); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			return fmt.Errorf("%w: step %s", ErrStateConflict, stepID)
		}
		return fmt.Errorf("updating step: %w", err)
	}

	o.logger.Info("step decided", "plan_id", planID, "step", st.SequenceIndex, "decision", decision)
	if run != nil {
		run.kickDispatcher()
	}
	return nil
}

// SubmitClarification delivers the human answer to the suspended agent and
// moves the plan back to InProgress.
func (o *Orchestrator) SubmitClarification(ctx context.Context, planID, answer string) error {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return fmt.Errorf("%w: answer is required", ErrValidation)
	}

	run := o.lookupRun(planID)
	if run == nil {
		p, err := o.store.GetPlan(ctx, planID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
			}
			return err
		}
		return fmt.Errorf("%w: plan is %s", clarify.ErrNoPending, p.Status)
	}

	run.mu.Lock()
	defer run.mu.Unlock()

	p, err := o.store.GetPlan(ctx, planID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
		}
		return err
	}
	if p.Status != plan.StatusAwaitingClarification {
		return fmt.Errorf("%w: plan is %s", clarify.ErrNoPending, p.Status)
	}

	// Deliver first: a failed delivery must leave no trace in the
	// transcript.
	if err := o.gate.Answer(planID, answer); err != nil {
		return err
	}

	o.saveMessage(ctx, planID, "user", plan.MessageClarificationAnswer, answer)

	if err := o.setStatus(ctx, p, plan.StatusInProgress); err != nil {
		return err
	}

	o.logger.Info("clarification answered", "plan_id", planID)
	run.kickDispatcher()
	return nil
}

// CancelPlan moves a non-terminal plan to Cancelled and signals its tasks.
// In-flight tool invocations finish on their own timeouts; their results
// are discarded.
func (o *Orchestrator) CancelPlan(ctx context.Context, planID string) error {
	run := o.lookupRun(planID)
	if run == nil {
		p, err := o.store.GetPlan(ctx, planID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
			}
			return err
		}
		if p.Status.Terminal() {
			return fmt.Errorf("%w: plan is %s", ErrInvalidState, p.Status)
		}
		// Orphaned active plan (no run survives a restart): close it out
		// directly.
		if err := o.setStatus(ctx, p, plan.StatusCancelled); err != nil {
			return err
		}
		return nil
	}

	run.mu.Lock()
	defer run.mu.Unlock()

	p, err := o.store.GetPlan(ctx, planID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
		}
		return err
	}
	if p.Status.Terminal() {
		return fmt.Errorf("%w: plan is %s", ErrInvalidState, p.Status)
	}

	if err := o.setStatus(ctx, p, plan.StatusCancelled); err != nil {
		return err
	}

	o.emit(run, stream.Event{Type: stream.TypeError, Text: "plan cancelled by user"})
	o.emit(run, stream.Event{Type: stream.TypeDone})
	run.cancel()

	o.logger.Info("plan cancelled", "plan_id", planID)
	return nil
}

// RecoverStalePlans fails every non-terminal plan found at startup. Their
// run tasks did not survive the restart, so the only honest status is
// Failed; the stored event log gets a closing ERROR and DONE so replays
// terminate.
func (o *Orchestrator) RecoverStalePlans(ctx context.Context) error {
	stale, err := o.store.ListActivePlans(ctx)
	if err != nil {
		return fmt.Errorf("listing active plans: %w", err)
	}

	for _, p := range stale {
		if err := o.setStatus(ctx, p, plan.StatusFailed); err != nil {
			o.logger.Error("failed to recover plan", "plan_id", p.ID, "error", err)
			continue
		}

		events, err := o.store.ListStreamEvents(ctx, p.ID)
		if err != nil {
			o.logger.Error("failed to load events for recovery", "plan_id", p.ID, "error", err)
			continue
		}
		seq := uint64(len(events))
		if seq == 0 || events[seq-1].Type != stream.TypeDone {
			o.appendStoredEvent(ctx, p.ID, stream.Event{
				Seq: seq + 1, Type: stream.TypeError, Text: "plan interrupted by gateway restart",
			})
			o.appendStoredEvent(ctx, p.ID, stream.Event{Seq: seq + 2, Type: stream.TypeDone})
		}

		o.logger.Warn("recovered stale plan", "plan_id", p.ID)
	}

	if len(stale) > 0 {
		o.logger.Info("startup recovery finished", "plans_failed", len(stale))
	}
	return nil
}

// Close stops accepting work, cancels every live run, and waits for run
// tasks to finish or ctx to expire.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	runs := make([]*planRun, 0, len(o.runs))
	for _, r := range o.runs {
		runs = append(runs, r)
	}
	o.mu.Unlock()

	for _, r := range runs {
		r.cancel()
	}

	finished := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(finished)
	}()

	defer o.limiter.Close()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for plan tasks: %w", ctx.Err())
	}
}

// lookupRun returns the live run for a plan, or nil.
func (o *Orchestrator) lookupRun(planID string) *planRun {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.runs[planID]
}

// setStatus transitions a plan and persists it. Illegal transitions return
// ErrInvalidState; lost races return ErrStateConflict.
func (o *Orchestrator) setStatus(ctx context.Context, p *plan.Plan, to plan.Status) error {
	if !plan.CanTransition(p.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidState, p.Status, to)
	}

	from := p.Status
	p.Status = to
	if err := o.store.UpdatePlan(ctx, p); err != nil {
		p.Status = from
		if errors.Is(err, store.ErrVersionConflict) {
			return fmt.Errorf("%w: plan %s", ErrStateConflict, p.ID)
		}
		return fmt.Errorf("updating plan status: %w", err)
	}

	o.logger.Debug("plan status", "plan_id", p.ID, "from", from, "to", to)
	return nil
}

// emit appends an event to the live session and records it durably. Events
// appended after the session closed are dropped.
func (o *Orchestrator) emit(run *planRun, ev stream.Event) {
	filled, err := run.session.Append(ev)
	if err != nil {
		return
	}
	o.appendStoredEvent(context.Background(), run.planID, filled)
}

// appendStoredEvent persists one event with a bounded write deadline.
func (o *Orchestrator) appendStoredEvent(ctx context.Context, planID string, ev stream.Event) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if err := o.store.SaveStreamEvent(pctx, planID, ev); err != nil {
		o.logger.Warn("failed to persist stream event", "plan_id", planID, "seq", ev.Seq, "error", err)
	}
}

// saveMessage persists one transcript message with a bounded deadline.
// Transcript writes must not fail the surrounding operation.
func (o *Orchestrator) saveMessage(ctx context.Context, planID, author string, kind plan.MessageKind, content string) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	err := o.store.SaveMessage(pctx, &plan.Message{
		ID:        uuid.NewString(),
		PlanID:    planID,
		Author:    author,
		Kind:      kind,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		o.logger.Warn("failed to persist message", "plan_id", planID, "kind", kind, "error", err)
	}
}

// transcriptText flattens a plan's messages into the prompt text later
// agents receive. Context markers inside message content survive verbatim.
func transcriptText(msgs []*plan.Message) string {
	var sb strings.Builder
	for _, m := range msgs {
		switch m.Kind {
		case plan.MessageSeed:
			sb.WriteString(m.Content)
			sb.WriteString("\n")
		case plan.MessageClarificationQuestion:
			fmt.Fprintf(&sb, "%s asked: %s\n", m.Author, m.Content)
		case plan.MessageClarificationAnswer:
			fmt.Fprintf(&sb, "user answered: %s\n", m.Content)
		default:
			fmt.Fprintf(&sb, "%s: %s\n", m.Author, m.Content)
		}
	}
	return sb.String()
}
