// ABOUTME: In-memory Gateway and Dialer for agent and orchestrator tests
// ABOUTME: Scriptable results, transient-failure injection, call recording

package tools

import (
	"context"
	"fmt"
	"sync"
)

// Invocation records one Invoke call seen by a MockGateway.
type Invocation struct {
	Name string
	Args map[string]any
}

// MockGateway implements Gateway in memory. Results maps tool name to the
// text returned on success. FailFirst injects that many transient failures
// before invocations start succeeding, for retry tests.
type MockGateway struct {
	mu          sync.Mutex
	tools       []Tool
	results     map[string]string
	failFirst   int
	failures    int
	invocations []Invocation
	closeCount  int
}

// NewMockGateway creates a gateway offering the given tools. Each tool's
// result defaults to "ok: <name>".
func NewMockGateway(tools ...Tool) *MockGateway {
	results := make(map[string]string, len(tools))
	for _, t := range tools {
		results[t.Name] = "ok: " + t.Name
	}
	return &MockGateway{tools: tools, results: results}
}

// SetResult sets the text returned when name is invoked.
func (g *MockGateway) SetResult(name, result string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.results[name] = result
}

// FailFirst makes the next n invocations fail with a transient error.
func (g *MockGateway) FailFirst(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failFirst = n
	g.failures = 0
}

// Discover lists the configured tools.
func (g *MockGateway) Discover(_ context.Context) ([]Tool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closeCount > 0 {
		return nil, ErrGatewayClosed
	}
	out := make([]Tool, len(g.tools))
	copy(out, g.tools)
	return out, nil
}

// Invoke records the call and returns the scripted result.
func (g *MockGateway) Invoke(_ context.Context, name string, args map[string]any) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closeCount > 0 {
		return "", ErrGatewayClosed
	}

	g.invocations = append(g.invocations, Invocation{Name: name, Args: args})

	if g.failures < g.failFirst {
		g.failures++
		return "", fmt.Errorf("transient failure %d invoking %s", g.failures, name)
	}

	result, ok := g.results[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return result, nil
}

// Close marks the gateway closed. Idempotent; counts calls.
func (g *MockGateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closeCount++
	return nil
}

// Invocations returns a copy of the recorded calls.
func (g *MockGateway) Invocations() []Invocation {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Invocation, len(g.invocations))
	copy(out, g.invocations)
	return out
}

// CloseCount reports how many times Close was called.
func (g *MockGateway) CloseCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closeCount
}

// Closed reports whether Close was called at least once.
func (g *MockGateway) Closed() bool {
	return g.CloseCount() > 0
}

// MockDialer implements Dialer by handing out pre-built gateways, one per
// Dial in order. FailAt makes the n-th Dial (1-based) fail, for partial
// team cleanup tests.
type MockDialer struct {
	mu       sync.Mutex
	gateways []*MockGateway
	dials    int
	failAt   int
}

// NewMockDialer creates a dialer that returns the given gateways in order.
func NewMockDialer(gateways ...*MockGateway) *MockDialer {
	return &MockDialer{gateways: gateways}
}

// FailAt makes the n-th Dial call (1-based) return an error.
func (d *MockDialer) FailAt(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failAt = n
}

// Dial returns the next gateway, or an injected failure.
func (d *MockDialer) Dial(_ context.Context) (Gateway, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials++
	if d.failAt > 0 && d.dials == d.failAt {
		return nil, fmt.Errorf("injected dial failure %d", d.dials)
	}
	if d.dials > len(d.gateways) {
		return nil, fmt.Errorf("no gateway configured for dial %d", d.dials)
	}
	return d.gateways[d.dials-1], nil
}

// Dials reports how many times Dial was called.
func (d *MockDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}
