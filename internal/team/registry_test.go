// ABOUTME: Tests for the team registry covering TOML loading and descriptor validation.
// ABOUTME: Validates fail-fast behavior on malformed descriptors and lookup semantics.

package team

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validRegistry = `
[[teams]]
id = "revenue-analytics"
description = "Forecasting and revenue analysis"
auto_approve = false
max_parallel = 1

  [teams.planner]
  model = "gemini-2.0-flash"

  [[teams.agents]]
  name = "data-scout"
  description = "Locates and profiles datasets"
  model = "gemini-2.0-flash"
  tool_access = true
  discovery_tool = "list_datasets"
  context_key = "dataset_id"

  [[teams.agents]]
  name = "forecaster"
  description = "Runs metric forecasts"
  model = "gemini-2.0-flash"
  tool_access = true
  discovery_tool = "list_datasets"
  context_key = "dataset_id"

[[teams]]
id = "triage"
auto_approve = true

  [[teams.agents]]
  name = "responder"
`

func TestParse_ValidRegistry(t *testing.T) {
	reg, err := Parse([]byte(validRegistry))
	require.NoError(t, err)

	teams := reg.List()
	require.Len(t, teams, 2)
	assert.Equal(t, "revenue-analytics", teams[0].ID)
	assert.Equal(t, "triage", teams[1].ID)

	got, err := reg.Get("revenue-analytics")
	require.NoError(t, err)
	require.Len(t, got.Agents, 2)
	assert.False(t, got.AutoApprove)
	assert.Equal(t, 1, got.MaxParallel)
	assert.Equal(t, "gemini-2.0-flash", got.Planner.Model)

	scout := got.Agent("data-scout")
	require.NotNil(t, scout)
	assert.True(t, scout.ToolAccess)
	assert.Equal(t, "list_datasets", scout.DiscoveryTool)
	assert.Equal(t, "dataset_id", scout.ContextKey)

	assert.Nil(t, got.Agent("nobody"))
}

func TestParse_DefaultsMaxParallel(t *testing.T) {
	reg, err := Parse([]byte(validRegistry))
	require.NoError(t, err)

	triage, err := reg.Get("triage")
	require.NoError(t, err)
	assert.Equal(t, 1, triage.MaxParallel, "unset max_parallel defaults to sequential")
	assert.True(t, triage.AutoApprove)
}

func TestGet_UnknownTeam(t *testing.T) {
	reg, err := Parse([]byte(validRegistry))
	require.NoError(t, err)

	_, err = reg.Get("ghost-team")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownTeam))
}

func TestParse_InvalidDescriptors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errLike string
	}{
		{
			name:    "empty registry",
			content: ``,
			errLike: "no teams",
		},
		{
			name: "team without id",
			content: `
[[teams]]
description = "nameless"
  [[teams.agents]]
  name = "a"
`,
			errLike: "empty id",
		},
		{
			name: "team without agents",
			content: `
[[teams]]
id = "empty-team"
`,
			errLike: "at least one agent",
		},
		{
			name: "duplicate team id",
			content: `
[[teams]]
id = "twice"
  [[teams.agents]]
  name = "a"
[[teams]]
id = "twice"
  [[teams.agents]]
  name = "b"
`,
			errLike: "declared twice",
		},
		{
			name: "duplicate agent name",
			content: `
[[teams]]
id = "dup-agents"
  [[teams.agents]]
  name = "a"
  [[teams.agents]]
  name = "a"
`,
			errLike: "declared twice",
		},
		{
			name: "agent name with invalid characters",
			content: `
[[teams]]
id = "bad-name"
  [[teams.agents]]
  name = "Data Scout"
`,
			errLike: "must match",
		},
		{
			name: "discovery tool without tool access",
			content: `
[[teams]]
id = "no-tools"
  [[teams.agents]]
  name = "a"
  discovery_tool = "list_datasets"
`,
			errLike: "requires tool_access",
		},
		{
			name: "context key without discovery tool",
			content: `
[[teams]]
id = "no-discovery"
  [[teams.agents]]
  name = "a"
  tool_access = true
  context_key = "dataset_id"
`,
			errLike: "requires discovery_tool",
		},
		{
			name: "negative max_parallel",
			content: `
[[teams]]
id = "neg"
max_parallel = -2
  [[teams.agents]]
  name = "a"
`,
			errLike: "cannot be negative",
		},
		{
			name: "malformed toml",
			content: `[[teams]`,
			errLike: "parsing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errLike)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "teams.toml")
	require.NoError(t, os.WriteFile(path, []byte(validRegistry), 0644))

	reg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, reg.List(), 2)

	_, err = LoadFile(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}
