// ABOUTME: Tests for team creation order and partial-failure cleanup.

package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stillwater-labs/steward/internal/model"
	"github.com/stillwater-labs/steward/internal/team"
	"github.com/stillwater-labs/steward/internal/tools"
)

func twoAgentTeam() *team.Team {
	return &team.Team{
		ID: "revenue-analytics",
		Agents: []team.AgentSpec{
			{Name: "data-scout", ToolAccess: true, DiscoveryTool: "list_datasets", ContextKey: "dataset_id"},
			{Name: "forecaster", ToolAccess: true},
			{Name: "writer"},
		},
	}
}

func TestFactory_CreateTeamInOrder(t *testing.T) {
	first := tools.NewMockGateway()
	second := tools.NewMockGateway()
	dialer := tools.NewMockDialer(first, second)

	f := NewFactory(model.NewScriptedClient(), dialer, nil, Options{})
	runtimes, err := f.CreateTeam(t.Context(), twoAgentTeam())
	require.NoError(t, err)
	require.Len(t, runtimes, 3)

	assert.Equal(t, "data-scout", runtimes[0].Name())
	assert.Equal(t, "forecaster", runtimes[1].Name())
	assert.Equal(t, "writer", runtimes[2].Name())
	assert.Equal(t, 2, dialer.Dials())

	require.NoError(t, CloseTeam(runtimes))
	assert.True(t, first.Closed())
	assert.True(t, second.Closed())
}

func TestFactory_PartialFailureClosesOpenedAgents(t *testing.T) {
	first := tools.NewMockGateway()
	dialer := tools.NewMockDialer(first)
	dialer.FailAt(2)

	f := NewFactory(model.NewScriptedClient(), dialer, nil, Options{})
	runtimes, err := f.CreateTeam(t.Context(), twoAgentTeam())
	require.Error(t, err)
	assert.Nil(t, runtimes)

	// The agent opened before the failure was torn down.
	assert.True(t, first.Closed())
}

func TestFactory_ToolAccessWithoutDialer(t *testing.T) {
	f := NewFactory(model.NewScriptedClient(), nil, nil, Options{})

	_, err := f.CreateTeam(t.Context(), twoAgentTeam())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no tool endpoint")
}

func TestFactory_NoToolAgentsNeedNoDialer(t *testing.T) {
	f := NewFactory(model.NewScriptedClient(), nil, nil, Options{})

	runtimes, err := f.CreateTeam(t.Context(), &team.Team{
		ID:     "editorial",
		Agents: []team.AgentSpec{{Name: "writer"}, {Name: "editor"}},
	})
	require.NoError(t, err)
	assert.Len(t, runtimes, 2)
	require.NoError(t, CloseTeam(runtimes))
}
