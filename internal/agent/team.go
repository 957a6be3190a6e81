// ABOUTME: Agent team factory: builds runtimes from a team descriptor in
// ABOUTME: declaration order, with reverse-order cleanup on partial failure

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/stillwater-labs/steward/internal/model"
	"github.com/stillwater-labs/steward/internal/team"
	"github.com/stillwater-labs/steward/internal/tools"
)

// Factory builds agent teams. Every tool-access agent gets its own gateway
// connection from the dialer.
type Factory struct {
	client    model.Client
	dialer    tools.Dialer
	clarifier Clarifier
	opts      Options
	logger    *slog.Logger
}

// NewFactory creates a factory. dialer may be nil when no tool service is
// configured; teams declaring tool access then fail to build.
func NewFactory(client model.Client, dialer tools.Dialer, clarifier Clarifier, opts Options) *Factory {
	return &Factory{
		client:    client,
		dialer:    dialer,
		clarifier: clarifier,
		opts:      opts,
		logger:    slog.Default().With("component", "agent"),
	}
}

// CreateTeam builds one runtime per agent spec, strictly in declaration
// order. If building agent k fails, agents 1..k-1 are closed in reverse
// order before the error is returned; a partially open team never escapes.
func (f *Factory) CreateTeam(ctx context.Context, t *team.Team) ([]*Runtime, error) {
	runtimes := make([]*Runtime, 0, len(t.Agents))

	for i := range t.Agents {
		spec := t.Agents[i]

		var gw tools.Gateway
		if spec.ToolAccess {
			if f.dialer == nil {
				f.closeAll(runtimes)
				return nil, fmt.Errorf("agent %s requires tool access but no tool endpoint is configured", spec.Name)
			}
			var err error
			gw, err = f.dialer.Dial(ctx)
			if err != nil {
				f.closeAll(runtimes)
				return nil, fmt.Errorf("opening tool gateway for agent %s: %w", spec.Name, err)
			}
		}

		runtimes = append(runtimes, NewRuntime(spec, f.client, gw, f.clarifier, f.opts))
		f.logger.Debug("agent created", "team", t.ID, "agent", spec.Name, "tool_access", spec.ToolAccess)
	}

	return runtimes, nil
}

// closeAll tears down already-built runtimes in reverse creation order.
func (f *Factory) closeAll(runtimes []*Runtime) {
	if err := CloseTeam(runtimes); err != nil {
		f.logger.Error("cleanup after partial team failure", "error", err)
	}
}

// CloseTeam closes every runtime in reverse creation order and joins any
// close errors. Safe to call on a nil or empty slice.
func CloseTeam(runtimes []*Runtime) error {
	var errs []error
	for i := len(runtimes) - 1; i >= 0; i-- {
		if err := runtimes[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
