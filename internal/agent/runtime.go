// ABOUTME: Agent runtime: one model-backed agent with an optional tool gateway
// ABOUTME: Invoke streams text chunks and drives the tool loop to a final answer

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/stillwater-labs/steward/internal/clarify"
	"github.com/stillwater-labs/steward/internal/model"
	"github.com/stillwater-labs/steward/internal/team"
	"github.com/stillwater-labs/steward/internal/tools"
)

var (
	// ErrRuntimeClosed means Invoke was called after Close.
	ErrRuntimeClosed = errors.New("agent runtime closed")

	// ErrTooManyToolTurns means the agent kept calling tools past the
	// configured turn budget without producing an answer.
	ErrTooManyToolTurns = errors.New("tool turn budget exceeded")
)

// chunkBuffer is the send buffer on an invocation's chunk stream.
const chunkBuffer = 64

// Clarifier suspends an invocation on a question only a human can answer.
// The orchestrator's implementation also moves the plan status and emits
// the clarification stream event before delegating to the gate.
type Clarifier interface {
	Ask(ctx context.Context, req clarify.Request) (<-chan string, error)
}

// Options tune runtime behavior. Zero values get sensible defaults.
type Options struct {
	// MaxToolTurns bounds model rounds per invocation.
	MaxToolTurns int

	// MaxRetries is the retry bound for a failed tool invocation.
	MaxRetries int

	// RetryBackoff is the first retry delay; it doubles per attempt.
	RetryBackoff time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxToolTurns <= 0 {
		o.MaxToolTurns = 6
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 100 * time.Millisecond
	}
	return o
}

// Invocation is one unit of work handed to a runtime.
type Invocation struct {
	PlanID string
	StepID string

	// Task is the step description the agent must carry out.
	Task string

	// Transcript is the full prior plan transcript, including earlier
	// agents' results and any context markers they published.
	Transcript string
}

// Runtime wraps one model-backed agent. A runtime with tool access owns
// exactly one gateway connection, released by Close on every exit path.
type Runtime struct {
	spec      team.AgentSpec
	client    model.Client
	gateway   tools.Gateway
	clarifier Clarifier
	opts      Options
	logger    *slog.Logger

	mu       sync.Mutex
	closed   bool
	toolList []tools.Tool
	toolSet  map[string]struct{}
}

// NewRuntime builds a runtime for one agent spec. gateway may be nil for
// agents without tool access; clarifier may be nil to disable ask_user.
func NewRuntime(spec team.AgentSpec, client model.Client, gateway tools.Gateway, clarifier Clarifier, opts Options) *Runtime {
	return &Runtime{
		spec:      spec,
		client:    client,
		gateway:   gateway,
		clarifier: clarifier,
		opts:      opts.withDefaults(),
		logger:    slog.Default().With("component", "agent", "agent", spec.Name),
	}
}

// Name returns the agent's name from its spec.
func (r *Runtime) Name() string {
	return r.spec.Name
}

// Invoke runs one task and returns its chunk stream. The stream carries
// every model text chunk in order; a chunk with Err set is terminal and
// means the invocation failed. Each call is a fresh invocation.
func (r *Runtime) Invoke(ctx context.Context, inv Invocation) (<-chan model.Chunk, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRuntimeClosed
	}
	r.mu.Unlock()

	out := make(chan model.Chunk, chunkBuffer)
	go func() {
		defer close(out)
		if err := r.run(ctx, inv, out); err != nil {
			sendChunk(ctx, out, model.Chunk{Err: err})
		}
	}()
	return out, nil
}

// run drives the model round loop until a final answer or a failure.
func (r *Runtime) run(ctx context.Context, inv Invocation, out chan<- model.Chunk) error {
	if r.gateway != nil {
		if err := r.ensureTools(ctx); err != nil {
			return err
		}
	}

	token, haveToken := "", false
	if r.spec.ContextKey != "" {
		token, haveToken = ExtractToken(inv.Transcript, r.spec.ContextKey)
	}

	input := r.buildInput(inv, token)

	for turn := 0; turn < r.opts.MaxToolTurns; turn++ {
		content, err := r.streamRound(ctx, input, out)
		if err != nil {
			return err
		}

		action, actionInput := parseAction(content)
		if action == "" {
			r.logger.Debug("invocation finished", "plan_id", inv.PlanID, "turns", turn+1)
			return nil
		}

		observation, err := r.performAction(ctx, inv, action, actionInput, token, haveToken)
		if err != nil {
			return err
		}

		input = input + "\n" + content + "\n" + formatObservation(observation)
	}

	return fmt.Errorf("%w: %d turns without an answer", ErrTooManyToolTurns, r.opts.MaxToolTurns)
}

// streamRound runs one model call, forwarding chunks and returning the
// round's accumulated text.
func (r *Runtime) streamRound(ctx context.Context, input string, out chan<- model.Chunk) (string, error) {
	chunks, err := r.client.Stream(ctx, model.Request{
		Model:  r.spec.Model,
		System: r.buildSystem(),
		Input:  input,
	})
	if err != nil {
		return "", fmt.Errorf("starting generation: %w", err)
	}

	var content strings.Builder
	for chunk := range chunks {
		if chunk.Err != nil {
			return "", fmt.Errorf("generation failed: %w", chunk.Err)
		}
		content.WriteString(chunk.Text)
		if !sendChunk(ctx, out, chunk) {
			return "", ctx.Err()
		}
	}
	return content.String(), nil
}

// performAction executes one parsed directive and returns the observation
// text for the next round.
func (r *Runtime) performAction(ctx context.Context, inv Invocation, action, actionInput, token string, haveToken bool) (string, error) {
	if action == askUserAction {
		return r.askUser(ctx, inv, parseQuestion(actionInput))
	}

	if r.gateway == nil {
		return "", fmt.Errorf("%w: %s (agent %s has no tool access)", tools.ErrToolNotFound, action, r.spec.Name)
	}
	if _, ok := r.toolSet[action]; !ok {
		return "", fmt.Errorf("%w: %s", tools.ErrToolNotFound, action)
	}

	// A known context token satisfies the discovery tool without a call:
	// the resource was already located by an earlier agent.
	if haveToken && action == r.spec.DiscoveryTool {
		r.logger.Info("skipping discovery, context token present",
			"plan_id", inv.PlanID, "tool", action, "key", r.spec.ContextKey)
		return MarkerLine(r.spec.ContextKey, token), nil
	}

	return r.invokeTool(ctx, action, parseActionArgs(actionInput))
}

// askUser suspends the invocation until the clarification gate delivers an
// answer.
func (r *Runtime) askUser(ctx context.Context, inv Invocation, question string) (string, error) {
	if r.clarifier == nil {
		return "", fmt.Errorf("clarification requested but no clarifier is wired")
	}
	if question == "" {
		return "", fmt.Errorf("clarification requested with empty question")
	}

	answers, err := r.clarifier.Ask(ctx, clarify.Request{
		PlanID:   inv.PlanID,
		StepID:   inv.StepID,
		Question: question,
	})
	if err != nil {
		return "", fmt.Errorf("requesting clarification: %w", err)
	}

	answer, err := clarify.Await(ctx, answers)
	if err != nil {
		return "", fmt.Errorf("awaiting clarification: %w", err)
	}

	return fmt.Sprintf("The user answered: %s", answer), nil
}

// invokeTool calls one tool, retrying transient failures with doubling
// backoff up to the configured bound.
func (r *Runtime) invokeTool(ctx context.Context, name string, args map[string]any) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= r.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.opts.RetryBackoff * (1 << (attempt - 1))
			r.logger.Warn("retrying tool", "tool", name, "attempt", attempt+1, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		result, err := r.gateway.Invoke(ctx, name, args)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, tools.ErrToolNotFound) || errors.Is(err, context.Canceled) {
			return "", err
		}
		lastErr = err
	}

	return "", fmt.Errorf("tool %s failed after %d attempts: %w", name, r.opts.MaxRetries+1, lastErr)
}

// ensureTools discovers the service's tool set once per runtime.
func (r *Runtime) ensureTools(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.toolSet != nil {
		return nil
	}

	list, err := r.gateway.Discover(ctx)
	if err != nil {
		return fmt.Errorf("discovering tools: %w", err)
	}

	r.toolList = list
	r.toolSet = make(map[string]struct{}, len(list))
	for _, t := range list {
		r.toolSet[t.Name] = struct{}{}
	}
	return nil
}

// buildSystem assembles the agent's system instruction, including the tool
// protocol when the agent has tool access.
func (r *Runtime) buildSystem() string {
	var sb strings.Builder
	sb.WriteString(r.spec.Instructions)

	if r.gateway != nil {
		sb.WriteString("\n\nTo call a tool, reply with exactly:\n")
		sb.WriteString("<ACTION>tool_name</ACTION>\n<ACTION_INPUT>{\"arg\": \"value\"}</ACTION_INPUT>\n")
		sb.WriteString("and wait for the <OBSERVATION> block before continuing.\n")
		sb.WriteString("Available tools:\n")
		for _, t := range r.toolList {
			fmt.Fprintf(&sb, "- %s: %s\n", t.Name, t.Description)
		}
	}

	if r.clarifier != nil {
		sb.WriteString("\nIf you need information only the user has, reply with:\n")
		sb.WriteString("<ACTION>ask_user</ACTION>\n<ACTION_INPUT>{\"question\": \"...\"}</ACTION_INPUT>\n")
	}

	if r.spec.ContextKey != "" {
		fmt.Fprintf(&sb, "\nWhen you locate your working resource, publish it on its own line as:\nUsing %s: <value>\n", r.spec.ContextKey)
	}

	sb.WriteString("\nWhen the task is complete, reply with <ANSWER>your result</ANSWER>.")
	return sb.String()
}

// buildInput assembles the invocation prompt from the transcript and task.
func (r *Runtime) buildInput(inv Invocation, token string) string {
	var sb strings.Builder

	if inv.Transcript != "" {
		sb.WriteString("Prior work on this plan:\n")
		sb.WriteString(inv.Transcript)
		sb.WriteString("\n\n")
	}
	if token != "" {
		fmt.Fprintf(&sb, "%s (already located, do not rediscover it)\n\n", MarkerLine(r.spec.ContextKey, token))
	}

	sb.WriteString("Your task: ")
	sb.WriteString(inv.Task)
	return sb.String()
}

// Close releases the runtime and its gateway connection. Idempotent.
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if r.gateway == nil {
		return nil
	}
	if err := r.gateway.Close(); err != nil {
		return fmt.Errorf("closing tool gateway for %s: %w", r.spec.Name, err)
	}
	return nil
}

// sendChunk delivers one chunk unless ctx ends first.
func sendChunk(ctx context.Context, out chan<- model.Chunk, ch model.Chunk) bool {
	select {
	case out <- ch:
		return true
	case <-ctx.Done():
		return false
	}
}
