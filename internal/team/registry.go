// ABOUTME: TOML-backed registry of agent team descriptors for steward-gateway.
// ABOUTME: Loads, validates, and resolves team and agent specs at startup.

package team

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"github.com/BurntSushi/toml"
)

// ErrUnknownTeam indicates the requested team ID is not in the registry.
var ErrUnknownTeam = errors.New("unknown team")

// agentNameRe constrains agent names to the characters the step parser
// accepts inside [agent] brackets.
var agentNameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// AgentSpec describes one agent in a team. Specs are validated at load time;
// a runtime is only ever built from a valid spec.
type AgentSpec struct {
	Name         string `toml:"name"`
	Description  string `toml:"description"`
	Model        string `toml:"model"`
	Instructions string `toml:"instructions"`
	ToolAccess   bool   `toml:"tool_access"`

	// DiscoveryTool names the tool this agent calls to locate its working
	// resource when no shared context token is available. ContextKey is the
	// token key the agent publishes and later agents reuse.
	DiscoveryTool string `toml:"discovery_tool"`
	ContextKey    string `toml:"context_key"`
}

// PlannerSpec overrides the engine's default planner for one team.
type PlannerSpec struct {
	Model        string `toml:"model"`
	Instructions string `toml:"instructions"`
}

// Team is a validated team descriptor. Agents execute in declaration order
// at creation time; AutoApprove persists every generated step as accepted.
type Team struct {
	ID          string      `toml:"id"`
	Description string      `toml:"description"`
	AutoApprove bool        `toml:"auto_approve"`
	MaxParallel int         `toml:"max_parallel"`
	Planner     PlannerSpec `toml:"planner"`
	Agents      []AgentSpec `toml:"agents"`
}

// Agent returns the named agent spec, or nil if the team has no such agent.
func (t *Team) Agent(name string) *AgentSpec {
	for i := range t.Agents {
		if t.Agents[i].Name == name {
			return &t.Agents[i]
		}
	}
	return nil
}

// registryFile is the on-disk shape of the team registry.
type registryFile struct {
	Teams []*Team `toml:"teams"`
}

// Registry holds the loaded team descriptors. It is immutable after load and
// safe for concurrent readers.
type Registry struct {
	teams map[string]*Team
	order []string
}

// LoadFile reads and validates a TOML team registry.
// Invalid descriptors fail the load; nothing is registered partially.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading team registry: %w", err)
	}
	return Parse(data)
}

// Parse validates a TOML team registry from raw bytes.
func Parse(data []byte) (*Registry, error) {
	var file registryFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing team registry: %w", err)
	}

	if len(file.Teams) == 0 {
		return nil, fmt.Errorf("team registry declares no teams")
	}

	reg := &Registry{teams: make(map[string]*Team, len(file.Teams))}
	for _, t := range file.Teams {
		if err := validateTeam(t); err != nil {
			return nil, err
		}
		if _, exists := reg.teams[t.ID]; exists {
			return nil, fmt.Errorf("team %q declared twice", t.ID)
		}
		if t.MaxParallel == 0 {
			t.MaxParallel = 1
		}
		reg.teams[t.ID] = t
		reg.order = append(reg.order, t.ID)
	}

	return reg, nil
}

// Get resolves a team by ID. Returns ErrUnknownTeam if absent.
func (r *Registry) Get(id string) (*Team, error) {
	t, ok := r.teams[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTeam, id)
	}
	return t, nil
}

// List returns all teams in declaration order.
func (r *Registry) List() []*Team {
	teams := make([]*Team, 0, len(r.order))
	for _, id := range r.order {
		teams = append(teams, r.teams[id])
	}
	return teams
}

// validateTeam checks a single team descriptor.
func validateTeam(t *Team) error {
	if t.ID == "" {
		return fmt.Errorf("team with empty id")
	}
	if len(t.Agents) == 0 {
		return fmt.Errorf("team %q: at least one agent is required", t.ID)
	}
	if t.MaxParallel < 0 {
		return fmt.Errorf("team %q: max_parallel cannot be negative", t.ID)
	}

	seen := make(map[string]struct{}, len(t.Agents))
	for i := range t.Agents {
		a := &t.Agents[i]
		if err := validateAgent(a); err != nil {
			return fmt.Errorf("team %q: %w", t.ID, err)
		}
		if _, dup := seen[a.Name]; dup {
			return fmt.Errorf("team %q: agent %q declared twice", t.ID, a.Name)
		}
		seen[a.Name] = struct{}{}
	}

	return nil
}

// validateAgent checks a single agent spec.
func validateAgent(a *AgentSpec) error {
	if a.Name == "" {
		return fmt.Errorf("agent with empty name")
	}
	if !agentNameRe.MatchString(a.Name) {
		return fmt.Errorf("agent %q: name must match %s", a.Name, agentNameRe.String())
	}
	if a.DiscoveryTool != "" && !a.ToolAccess {
		return fmt.Errorf("agent %q: discovery_tool requires tool_access", a.Name)
	}
	if a.ContextKey != "" && a.DiscoveryTool == "" {
		return fmt.Errorf("agent %q: context_key requires discovery_tool", a.Name)
	}
	return nil
}
