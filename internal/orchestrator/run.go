// ABOUTME: Per-plan run tasks: the generation phase that turns a goal into
// ABOUTME: approval-gated steps, and the dispatcher that executes accepted ones

package orchestrator

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stillwater-labs/steward/internal/agent"
	"github.com/stillwater-labs/steward/internal/clarify"
	"github.com/stillwater-labs/steward/internal/model"
	"github.com/stillwater-labs/steward/internal/plan"
	"github.com/stillwater-labs/steward/internal/stream"
	"github.com/stillwater-labs/steward/internal/team"
)

// stepLineRe matches one planner output line: "1. [agent_name] description".
// The agent name charset mirrors the team registry's validation rule.
var stepLineRe = regexp.MustCompile(`(?m)^\s*\d+[.)]\s*\[([a-z0-9][a-z0-9_-]*)\]\s*(.+?)\s*$`)

// parsedStep is one step as extracted from planner output.
type parsedStep struct {
	agent       string
	description string
}

// parsePlanSteps extracts the plan's step lines from the planner's full
// output, in order of appearance. Lines not matching the step grammar are
// reasoning and are ignored.
func parsePlanSteps(text string) []parsedStep {
	matches := stepLineRe.FindAllStringSubmatch(text, -1)
	steps := make([]parsedStep, 0, len(matches))
	for _, m := range matches {
		steps = append(steps, parsedStep{agent: m[1], description: m[2]})
	}
	return steps
}

// plannerSystem builds the planning agent's system instruction for a team.
func plannerSystem(t *team.Team) string {
	var sb strings.Builder

	if t.Planner.Instructions != "" {
		sb.WriteString(t.Planner.Instructions)
	} else {
		sb.WriteString("You are the planning agent for a team of specialized agents. ")
		sb.WriteString("Break the user's goal into the smallest sequence of concrete steps, ")
		sb.WriteString("each assignable to exactly one team agent. Think through the goal ")
		sb.WriteString("first, then produce the plan.")
	}

	sb.WriteString("\n\nTeam agents:\n")
	for _, a := range t.Agents {
		fmt.Fprintf(&sb, "- %s: %s\n", a.Name, a.Description)
	}

	sb.WriteString("\nAfter your reasoning, output the plan as numbered lines, one step per line,\n")
	sb.WriteString("with the assigned agent's name in brackets:\n")
	sb.WriteString("1. [agent_name] step description\n")
	sb.WriteString("2. [agent_name] step description\n")
	sb.WriteString("Use only agents from the team list.")

	return sb.String()
}

// plannerInput assembles the planner prompt from the optional seed transcript
// and the user goal.
func plannerInput(seed, goal string) string {
	if seed == "" {
		return "User goal: " + goal
	}
	return fmt.Sprintf("Context from the previous plan:\n%s\nUser goal: %s", seed, goal)
}

// runPlan is the lifetime of one plan: the generation phase followed by the
// dispatch phase. It is the only goroutine that moves the plan through its
// non-terminal statuses.
func (o *Orchestrator) runPlan(ctx context.Context, run *planRun, planID string, t *team.Team, seed string) {
	defer o.finishRun(run)

	if !o.generate(ctx, run, planID, t, seed) {
		return
	}
	o.dispatch(ctx, run, planID, t)
}

// finishRun retires a completed run from the registry.
func (o *Orchestrator) finishRun(run *planRun) {
	o.mu.Lock()
	delete(o.runs, run.planID)
	o.mu.Unlock()

	close(run.done)
	o.wg.Done()
}

// generate drives the planning model, streams its reasoning, and persists
// the resulting steps. Returns false when the plan cannot proceed to
// dispatch (failure or cancellation); the plan status and stream are already
// settled in that case.
func (o *Orchestrator) generate(ctx context.Context, run *planRun, planID string, t *team.Team, seed string) bool {
	run.mu.Lock()
	p, err := o.store.GetPlan(ctx, planID)
	if err == nil {
		err = o.setStatus(ctx, p, plan.StatusStreaming)
	}
	run.mu.Unlock()
	if err != nil {
		o.logger.Error("failed to start generation", "plan_id", planID, "error", err)
		o.failPlan(run, planID, "plan generation could not start")
		return false
	}

	o.emit(run, stream.Event{Type: stream.TypeProcessing, Text: fmt.Sprintf("analyzing goal with team %s", t.ID)})

	chunks, err := o.client.Stream(ctx, model.Request{
		Model:  t.Planner.Model,
		System: plannerSystem(t),
		Input:  plannerInput(seed, p.Goal),
	})
	if err != nil {
		o.failPlan(run, planID, fmt.Sprintf("plan generation failed: %v", err))
		return false
	}

	var reasoning strings.Builder
	for chunk := range chunks {
		if chunk.Err != nil {
			if ctx.Err() != nil {
				return false
			}
			o.failPlan(run, planID, fmt.Sprintf("plan generation failed: %v", chunk.Err))
			return false
		}
		reasoning.WriteString(chunk.Text)
		o.emit(run, stream.Event{Type: stream.TypeContent, Text: chunk.Text})
	}
	if ctx.Err() != nil {
		return false
	}

	o.emit(run, stream.Event{Type: stream.TypeReasoningComplete})
	o.saveMessage(ctx, planID, "planner", plan.MessageReasoning, reasoning.String())

	parsed := parsePlanSteps(reasoning.String())
	if len(parsed) == 0 {
		o.failPlan(run, planID, "planner produced no steps")
		return false
	}
	for _, ps := range parsed {
		if t.Agent(ps.agent) == nil {
			o.failPlan(run, planID, fmt.Sprintf("planner assigned a step to unknown agent %q", ps.agent))
			return false
		}
	}

	approval := plan.ApprovalPlanned
	if t.AutoApprove {
		approval = plan.ApprovalAccepted
	}

	now := time.Now().UTC()
	steps := make([]*plan.Step, len(parsed))
	for i, ps := range parsed {
		steps[i] = &plan.Step{
			ID:            uuid.NewString(),
			PlanID:        planID,
			SequenceIndex: i + 1,
			Description:   ps.description,
			AssignedAgent: ps.agent,
			ExecStatus:    plan.ExecPending,
			Approval:      approval,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
	}
	if err := o.store.CreateSteps(ctx, steps); err != nil {
		o.failPlan(run, planID, fmt.Sprintf("persisting steps: %v", err))
		return false
	}

	o.emit(run, stream.Event{Type: stream.TypePlanReady, Count: len(steps)})
	o.emit(run, stream.Event{Type: stream.TypeResult, Count: len(steps)})

	run.mu.Lock()
	p, err = o.store.GetPlan(ctx, planID)
	if err == nil {
		err = o.setStatus(ctx, p, plan.StatusAwaitingApproval)
	}
	run.mu.Unlock()
	if err != nil {
		o.failPlan(run, planID, "plan could not await approval")
		return false
	}

	if t.AutoApprove {
		o.emit(run, stream.Event{Type: stream.TypeProcessing, Text: "steps auto-approved by team policy"})
	} else {
		o.emit(run, stream.Event{Type: stream.TypeProcessing, Text: "awaiting step approval"})
	}

	o.logger.Info("plan generated", "plan_id", planID, "steps", len(steps), "auto_approve", t.AutoApprove)
	return true
}

// dispatch executes accepted steps in sequence order until every step is
// terminal, then completes the plan. Steps run concurrently up to the team's
// max_parallel bound. The loop wakes on approval, clarification, and
// step-completion kicks and exits on cancellation.
func (o *Orchestrator) dispatch(ctx context.Context, run *planRun, planID string, t *team.Team) {
	var runtimes []*agent.Runtime
	var workers sync.WaitGroup
	defer func() {
		workers.Wait()
		if err := agent.CloseTeam(runtimes); err != nil {
			o.logger.Error("closing agent team", "plan_id", planID, "error", err)
		}
	}()

	limit := t.MaxParallel
	if limit < 1 {
		limit = 1
	}

	for {
		if ctx.Err() != nil {
			return
		}

		steps, err := o.store.ListSteps(ctx, planID)
		if err != nil {
			o.failPlan(run, planID, fmt.Sprintf("loading steps: %v", err))
			return
		}

		if prog := plan.Measure(steps); prog.Ready {
			o.completePlan(run, planID, prog)
			return
		}

		next := plan.NextDispatchable(steps)
		if next == nil || plan.Running(steps) >= limit {
			o.awaitKick(ctx, run)
			continue
		}

		if runtimes == nil {
			runtimes, err = o.factory.CreateTeam(ctx, t)
			if err != nil {
				o.failPlan(run, planID, fmt.Sprintf("building agent team: %v", err))
				return
			}
		}

		rt := runtimeFor(runtimes, next.AssignedAgent)
		if rt == nil {
			// Guarded at generation time; a miss here is a registry edit
			// under a live plan.
			o.failPlan(run, planID, fmt.Sprintf("no runtime for agent %q", next.AssignedAgent))
			return
		}

		if !o.startStep(ctx, run, planID, next) {
			// The plan or step moved underneath us. Re-read after the next
			// state change instead of spinning.
			if p, perr := o.store.GetPlan(ctx, planID); perr == nil && p.Status.Terminal() {
				return
			}
			o.awaitKick(ctx, run)
			continue
		}

		workers.Add(1)
		go func(st *plan.Step, rt *agent.Runtime) {
			defer workers.Done()
			defer run.kickDispatcher()

			o.emit(run, stream.Event{
				Type: stream.TypeProcessing,
				Text: fmt.Sprintf("step %d (%s): %s", st.SequenceIndex, st.AssignedAgent, st.Description),
			})

			output, invErr := o.executeStep(ctx, run, rt, st)
			if ctx.Err() != nil {
				// Cancelled mid-step: the result is discarded and the plan
				// was already moved to Cancelled by CancelPlan.
				return
			}

			o.finishStep(ctx, run, st.ID, output, invErr)
		}(next, rt)
	}
}

// awaitKick blocks until a state-change kick arrives or the run is cancelled.
func (o *Orchestrator) awaitKick(ctx context.Context, run *planRun) {
	select {
	case <-run.kick:
	case <-ctx.Done():
	}
}

// startStep transitions the plan to InProgress if needed and marks the step
// running. Returns false when the step or plan moved underneath us; the
// dispatch loop re-reads and retries.
func (o *Orchestrator) startStep(ctx context.Context, run *planRun, planID string, st *plan.Step) bool {
	run.mu.Lock()
	defer run.mu.Unlock()

	p, err := o.store.GetPlan(ctx, planID)
	if err != nil {
		return false
	}
	switch p.Status {
	case plan.StatusAwaitingApproval:
		if err := o.setStatus(ctx, p, plan.StatusInProgress); err != nil {
			return false
		}
	case plan.StatusInProgress:
	default:
		return false
	}

	fresh, err := o.store.GetStep(ctx, st.ID)
	if err != nil || fresh.Approval != plan.ApprovalAccepted || fresh.ExecStatus != plan.ExecPending {
		return false
	}

	fresh.ExecStatus = plan.ExecRunning
	if err := o.store.UpdateStep(ctx, fresh); err != nil {
		return false
	}

	o.logger.Info("step dispatched", "plan_id", planID, "step", fresh.SequenceIndex, "agent", fresh.AssignedAgent)
	return true
}

// executeStep invokes the assigned agent and streams its output into the
// plan's session, returning the accumulated text.
func (o *Orchestrator) executeStep(ctx context.Context, run *planRun, rt *agent.Runtime, st *plan.Step) (string, error) {
	invCtx, cancel := context.WithTimeout(ctx, o.cfg.StepTimeout)
	defer cancel()

	msgs, err := o.store.ListMessages(invCtx, st.PlanID)
	if err != nil {
		return "", fmt.Errorf("loading transcript: %w", err)
	}

	chunks, err := rt.Invoke(invCtx, agent.Invocation{
		PlanID:     st.PlanID,
		StepID:     st.ID,
		Task:       st.Description,
		Transcript: transcriptText(msgs),
	})
	if err != nil {
		return "", err
	}

	var output strings.Builder
	for chunk := range chunks {
		if chunk.Err != nil {
			return output.String(), chunk.Err
		}
		output.WriteString(chunk.Text)
		o.emit(run, stream.Event{Type: stream.TypeContent, Text: chunk.Text})
	}
	return output.String(), nil
}

// finishStep records the step's terminal state. A failed step fails only
// itself: later approved steps keep dispatching and completed work stays
// visible.
func (o *Orchestrator) finishStep(ctx context.Context, run *planRun, stepID, output string, invErr error) {
	run.mu.Lock()
	defer run.mu.Unlock()

	st, err := o.store.GetStep(ctx, stepID)
	if err != nil {
		o.logger.Error("failed to load step for finish", "step_id", stepID, "error", err)
		return
	}

	if invErr != nil {
		o.resumeIfAbandoned(ctx, run, st)
		st.ExecStatus = plan.ExecFailed
		st.Result = invErr.Error()
	} else {
		st.ExecStatus = plan.ExecCompleted
		st.Result = agent.FinalAnswer(output)
	}

	if err := o.store.UpdateStep(ctx, st); err != nil {
		o.logger.Error("failed to persist step result", "step_id", stepID, "error", err)
		return
	}

	if invErr != nil {
		o.logger.Warn("step failed", "plan_id", st.PlanID, "step", st.SequenceIndex, "error", invErr)
		o.emit(run, stream.Event{
			Type: stream.TypeProcessing,
			Text: fmt.Sprintf("step %d failed: %v", st.SequenceIndex, invErr),
		})
		return
	}

	// The full output, not just the answer, goes into the transcript so
	// context marker lines survive for later agents.
	o.saveMessage(ctx, st.PlanID, st.AssignedAgent, plan.MessageStepResult, output)
	o.emit(run, stream.Event{Type: stream.TypeSuccess, Text: st.Result})
	o.logger.Info("step completed", "plan_id", st.PlanID, "step", st.SequenceIndex)
}

// resumeIfAbandoned returns the plan to InProgress when a failed invocation
// left it suspended on a question nobody answered. A pending question owned
// by a different step stays outstanding and the plan stays suspended.
// Caller holds run.mu.
func (o *Orchestrator) resumeIfAbandoned(ctx context.Context, run *planRun, st *plan.Step) {
	p, err := o.store.GetPlan(ctx, st.PlanID)
	if err != nil || p.Status != plan.StatusAwaitingClarification {
		return
	}
	if req, ok := o.gate.Pending(st.PlanID); ok && req.StepID != st.ID {
		return
	}

	if err := o.setStatus(ctx, p, plan.StatusInProgress); err != nil {
		o.logger.Error("failed to resume plan after abandoned clarification", "plan_id", st.PlanID, "error", err)
		return
	}

	o.emit(run, stream.Event{
		Type: stream.TypeProcessing,
		Text: fmt.Sprintf("clarification for step %d went unanswered", st.SequenceIndex),
	})
	o.logger.Warn("clarification abandoned", "plan_id", st.PlanID, "step", st.SequenceIndex)
}

// completePlan moves the plan to Completed and closes its stream.
func (o *Orchestrator) completePlan(run *planRun, planID string, prog plan.Progress) {
	pctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	run.mu.Lock()
	p, err := o.store.GetPlan(pctx, planID)
	if err == nil && !p.Status.Terminal() {
		err = o.setStatus(pctx, p, plan.StatusCompleted)
	}
	run.mu.Unlock()
	if err != nil {
		o.logger.Error("failed to complete plan", "plan_id", planID, "error", err)
		o.failPlan(run, planID, "plan could not be completed")
		return
	}
	if p.Status.Terminal() && p.Status != plan.StatusCompleted {
		return
	}

	o.emit(run, stream.Event{
		Type: stream.TypeSuccess,
		Text: fmt.Sprintf("plan completed (%d/%d steps)", prog.Completed, prog.Total),
	})
	o.emit(run, stream.Event{Type: stream.TypeDone})
	o.logger.Info("plan completed", "plan_id", planID, "steps", prog.Total)
}

// failPlan moves the plan to Failed and closes its stream with an error
// event. Already-terminal plans are left alone; the stream is still closed
// so subscribers do not hang.
func (o *Orchestrator) failPlan(run *planRun, planID, message string) {
	pctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	run.mu.Lock()
	p, err := o.store.GetPlan(pctx, planID)
	if err == nil && !p.Status.Terminal() {
		if serr := o.setStatus(pctx, p, plan.StatusFailed); serr != nil {
			o.logger.Error("failed to mark plan failed", "plan_id", planID, "error", serr)
		}
	}
	run.mu.Unlock()

	o.emit(run, stream.Event{Type: stream.TypeError, Text: message})
	o.emit(run, stream.Event{Type: stream.TypeDone})
	o.logger.Error("plan failed", "plan_id", planID, "reason", message)
}

// Ask implements agent.Clarifier. It registers the question with the gate,
// suspends the plan in AwaitingClarification, and announces the question on
// the stream. The returned channel delivers the human's answer.
func (o *Orchestrator) Ask(ctx context.Context, req clarify.Request) (<-chan string, error) {
	run := o.lookupRun(req.PlanID)
	if run == nil {
		return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, req.PlanID)
	}

	answers, err := o.gate.Ask(ctx, req)
	if err != nil {
		return nil, err
	}

	run.mu.Lock()
	p, perr := o.store.GetPlan(ctx, req.PlanID)
	if perr == nil {
		perr = o.setStatus(ctx, p, plan.StatusAwaitingClarification)
	}
	run.mu.Unlock()
	if perr != nil {
		// The slot clears when the asking invocation's context ends.
		return nil, fmt.Errorf("suspending plan for clarification: %w", perr)
	}

	o.saveMessage(ctx, req.PlanID, "agent", plan.MessageClarificationQuestion, req.Question)
	o.emit(run, stream.Event{Type: stream.TypeClarificationRequest, Text: req.Question})

	return answers, nil
}

// runtimeFor finds the runtime built for the named agent.
func runtimeFor(runtimes []*agent.Runtime, name string) *agent.Runtime {
	for _, rt := range runtimes {
		if rt.Name() == name {
			return rt
		}
	}
	return nil
}

var _ agent.Clarifier = (*Orchestrator)(nil)
