// ABOUTME: Tool gateway contract: discovery and invocation of named tools
// ABOUTME: exposed by an external MCP tool service

package tools

import (
	"context"
	"errors"
)

var (
	// ErrToolNotFound means the named tool is not offered by the service
	// or not permitted for the calling agent.
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolFailed means the tool ran and reported failure.
	ErrToolFailed = errors.New("tool execution failed")

	// ErrGatewayClosed means the connection was already released.
	ErrGatewayClosed = errors.New("tool gateway closed")
)

// Tool describes one invocable tool offered by the service.
type Tool struct {
	Name        string
	Description string
}

// Gateway is one connection to an external tool service. A gateway is owned
// by exactly one agent runtime and released via Close, which is idempotent.
type Gateway interface {
	// Discover lists the tools the service offers.
	Discover(ctx context.Context) ([]Tool, error)

	// Invoke calls one tool and returns its text result. A tool-reported
	// failure wraps ErrToolFailed.
	Invoke(ctx context.Context, name string, args map[string]any) (string, error)

	// Close releases the connection. Safe to call more than once.
	Close() error
}

// Dialer opens gateway connections. Each Dial returns an independent
// connection owned by its caller.
type Dialer interface {
	Dial(ctx context.Context) (Gateway, error)
}
