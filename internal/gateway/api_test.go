// ABOUTME: Tests for the REST and SSE surface: status codes, JSON shapes,
// ABOUTME: and the wire marker framing of the stream endpoint.

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stillwater-labs/steward/internal/agent"
	"github.com/stillwater-labs/steward/internal/config"
	"github.com/stillwater-labs/steward/internal/model"
	"github.com/stillwater-labs/steward/internal/orchestrator"
	"github.com/stillwater-labs/steward/internal/plan"
	"github.com/stillwater-labs/steward/internal/store"
	"github.com/stillwater-labs/steward/internal/team"
)

const testTeamsTOML = `
[[teams]]
id = "writers"
description = "Research and writing"

[[teams.agents]]
name = "researcher"
description = "gathers inputs"

[[teams.agents]]
name = "writer"
description = "drafts summaries"

[[teams]]
id = "solo"
description = "One agent, auto-approved"
auto_approve = true

[[teams.agents]]
name = "analyst"
description = "analyzes data"
`

type testGateway struct {
	*Gateway
	store  *store.MockStore
	client *model.ScriptedClient
}

func newTestGateway(t *testing.T) *testGateway {
	t.Helper()

	reg, err := team.Parse([]byte(testTeamsTOML))
	require.NoError(t, err)

	st := store.NewMockStore()
	client := model.NewScriptedClient()

	orch := orchestrator.New(st, reg, client, nil, orchestrator.Config{
		AttachDebounce: time.Millisecond,
		Agent:          agent.Options{RetryBackoff: time.Millisecond},
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = orch.Close(ctx)
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	g := newGateway(config.Default(), logger, st, reg, client, orch)
	return &testGateway{Gateway: g, store: st, client: client}
}

func (g *testGateway) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)
	return rec
}

func (g *testGateway) waitStatus(t *testing.T, planID string, want plan.Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		p, err := g.store.GetPlan(context.Background(), planID)
		return err == nil && p.Status == want
	}, 2*time.Second, 5*time.Millisecond, "plan never reached %s", want)
}

func decodeResponse[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestCreatePlan_Created(t *testing.T) {
	g := newTestGateway(t)
	g.client.SetFallback("1. [researcher] gather sources\n")

	rec := g.do(t, http.MethodPost, "/api/plans", CreatePlanRequest{
		Goal:   "write a report",
		TeamID: "writers",
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decodeResponse[CreatePlanResponse](t, rec)
	assert.NotEmpty(t, resp.PlanID)

	g.waitStatus(t, resp.PlanID, plan.StatusAwaitingApproval)
}

func TestCreatePlan_UnknownTeam(t *testing.T) {
	g := newTestGateway(t)

	rec := g.do(t, http.MethodPost, "/api/plans", CreatePlanRequest{
		Goal:   "write a report",
		TeamID: "nope",
	})

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreatePlan_EmptyGoal(t *testing.T) {
	g := newTestGateway(t)

	rec := g.do(t, http.MethodPost, "/api/plans", CreatePlanRequest{
		TeamID: "writers",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreatePlan_InvalidJSON(t *testing.T) {
	g := newTestGateway(t)

	req := httptest.NewRequest(http.MethodPost, "/api/plans", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetPlan_Snapshot(t *testing.T) {
	g := newTestGateway(t)
	g.client.SetFallback("1. [researcher] gather sources\n2. [writer] draft summary\n")

	created := decodeResponse[CreatePlanResponse](t, g.do(t, http.MethodPost, "/api/plans", CreatePlanRequest{
		Goal:   "write a report",
		TeamID: "writers",
	}))
	g.waitStatus(t, created.PlanID, plan.StatusAwaitingApproval)

	rec := g.do(t, http.MethodGet, "/api/plans/"+created.PlanID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeResponse[PlanResponse](t, rec)
	assert.Equal(t, created.PlanID, resp.ID)
	assert.Equal(t, "write a report", resp.Goal)
	assert.Equal(t, string(plan.StatusAwaitingApproval), resp.Status)
	assert.Equal(t, 2, resp.TotalSteps)
	assert.Equal(t, 0, resp.CompletedSteps)
	require.Len(t, resp.Steps, 2)
	assert.Equal(t, "researcher", resp.Steps[0].AssignedAgent)
	assert.Equal(t, string(plan.ApprovalPlanned), resp.Steps[0].Approval)
}

func TestGetPlan_NotFound(t *testing.T) {
	g := newTestGateway(t)

	rec := g.do(t, http.MethodGet, "/api/plans/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListPlans(t *testing.T) {
	g := newTestGateway(t)
	g.client.SetFallback("1. [researcher] gather sources\n")

	created := decodeResponse[CreatePlanResponse](t, g.do(t, http.MethodPost, "/api/plans", CreatePlanRequest{
		Goal:   "write a report",
		TeamID: "writers",
	}))
	g.waitStatus(t, created.PlanID, plan.StatusAwaitingApproval)

	rec := g.do(t, http.MethodGet, "/api/plans", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeResponse[[]PlanResponse](t, rec)
	require.Len(t, resp, 1)
	assert.Equal(t, created.PlanID, resp[0].ID)
}

func TestApproval_FlowAndConflicts(t *testing.T) {
	g := newTestGateway(t)
	g.client.Enqueue("1. [researcher] gather sources\n")
	g.client.Enqueue("sources gathered")

	created := decodeResponse[CreatePlanResponse](t, g.do(t, http.MethodPost, "/api/plans", CreatePlanRequest{
		Goal:   "write a report",
		TeamID: "writers",
	}))
	g.waitStatus(t, created.PlanID, plan.StatusAwaitingApproval)

	steps, err := g.store.ListSteps(context.Background(), created.PlanID)
	require.NoError(t, err)
	require.Len(t, steps, 1)

	base := "/api/plans/" + created.PlanID + "/steps/" + steps[0].ID + "/approval"

	rec := g.do(t, http.MethodPost, base, ApprovalRequest{Decision: "maybe"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = g.do(t, http.MethodPost, base, ApprovalRequest{Decision: "accepted"})
	assert.Equal(t, http.StatusOK, rec.Code)

	g.waitStatus(t, created.PlanID, plan.StatusCompleted)

	// A repeat decision after the race is settled conflicts.
	rec = g.do(t, http.MethodPost, base, ApprovalRequest{Decision: "rejected"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestApproval_UnknownStep(t *testing.T) {
	g := newTestGateway(t)
	g.client.SetFallback("1. [researcher] gather sources\n")

	created := decodeResponse[CreatePlanResponse](t, g.do(t, http.MethodPost, "/api/plans", CreatePlanRequest{
		Goal:   "write a report",
		TeamID: "writers",
	}))
	g.waitStatus(t, created.PlanID, plan.StatusAwaitingApproval)

	rec := g.do(t, http.MethodPost, "/api/plans/"+created.PlanID+"/steps/ghost/approval",
		ApprovalRequest{Decision: "accepted"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestClarification_NoPending(t *testing.T) {
	g := newTestGateway(t)
	g.client.SetFallback("1. [researcher] gather sources\n")

	created := decodeResponse[CreatePlanResponse](t, g.do(t, http.MethodPost, "/api/plans", CreatePlanRequest{
		Goal:   "write a report",
		TeamID: "writers",
	}))
	g.waitStatus(t, created.PlanID, plan.StatusAwaitingApproval)

	rec := g.do(t, http.MethodPost, "/api/plans/"+created.PlanID+"/clarification",
		ClarificationRequest{Answer: "yes"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCancel_ThenTerminal(t *testing.T) {
	g := newTestGateway(t)
	g.client.SetFallback("1. [researcher] gather sources\n")

	created := decodeResponse[CreatePlanResponse](t, g.do(t, http.MethodPost, "/api/plans", CreatePlanRequest{
		Goal:   "write a report",
		TeamID: "writers",
	}))
	g.waitStatus(t, created.PlanID, plan.StatusAwaitingApproval)

	rec := g.do(t, http.MethodPost, "/api/plans/"+created.PlanID+"/cancel", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	g.waitStatus(t, created.PlanID, plan.StatusCancelled)

	// Cancelling a terminal plan conflicts.
	rec = g.do(t, http.MethodPost, "/api/plans/"+created.PlanID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestFollowUp_RequiresCompletedPlan(t *testing.T) {
	g := newTestGateway(t)
	g.client.Enqueue("1. [analyst] compute totals\n")
	g.client.Enqueue("totals computed")
	g.client.Enqueue("1. [analyst] compare to last quarter\n")

	created := decodeResponse[CreatePlanResponse](t, g.do(t, http.MethodPost, "/api/plans", CreatePlanRequest{
		Goal:   "quarterly numbers",
		TeamID: "solo",
	}))
	g.waitStatus(t, created.PlanID, plan.StatusCompleted)

	rec := g.do(t, http.MethodPost, "/api/plans/"+created.PlanID+"/follow-up",
		FollowUpRequest{Goal: "compare to last quarter"})
	require.Equal(t, http.StatusCreated, rec.Code)

	next := decodeResponse[CreatePlanResponse](t, rec)
	assert.NotEqual(t, created.PlanID, next.PlanID)
	g.waitStatus(t, next.PlanID, plan.StatusAwaitingApproval)

	// Follow-up off a non-terminal plan conflicts.
	rec = g.do(t, http.MethodPost, "/api/plans/"+next.PlanID+"/follow-up",
		FollowUpRequest{Goal: "too soon"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStreamPlan_ReplayWireFraming(t *testing.T) {
	g := newTestGateway(t)
	g.client.Enqueue("1. [analyst] compute totals\n")
	g.client.Enqueue("totals computed")

	created := decodeResponse[CreatePlanResponse](t, g.do(t, http.MethodPost, "/api/plans", CreatePlanRequest{
		Goal:   "quarterly numbers",
		TeamID: "solo",
	}))
	g.waitStatus(t, created.PlanID, plan.StatusCompleted)

	rec := g.do(t, http.MethodGet, "/api/plans/"+created.PlanID+"/stream", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "data: "), "SSE frames start with data:")

	var tokens []string
	for _, line := range strings.Split(body, "\n") {
		if tok, ok := strings.CutPrefix(line, "data: "); ok {
			tokens = append(tokens, tok)
		}
	}
	require.NotEmpty(t, tokens)
	assert.Equal(t, "[DONE]", tokens[len(tokens)-1])
	assert.Contains(t, tokens, "[PLAN_READY]{\"step_count\":1}")

	var sawSuccess bool
	for _, tok := range tokens {
		if strings.HasPrefix(tok, "[SUCCESS]") {
			sawSuccess = true
		}
	}
	assert.True(t, sawSuccess, "expected a [SUCCESS] frame")
}

func TestStreamPlan_NotFound(t *testing.T) {
	g := newTestGateway(t)

	rec := g.do(t, http.MethodGet, "/api/plans/missing/stream", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListTeams(t *testing.T) {
	g := newTestGateway(t)

	rec := g.do(t, http.MethodGet, "/api/teams", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeResponse[[]TeamResponse](t, rec)
	require.Len(t, resp, 2)

	byID := map[string]TeamResponse{}
	for _, tm := range resp {
		byID[tm.ID] = tm
	}
	assert.Equal(t, []string{"researcher", "writer"}, byID["writers"].Agents)
	assert.True(t, byID["solo"].AutoApprove)
}

func TestUnknownPlanRoute(t *testing.T) {
	g := newTestGateway(t)

	rec := g.do(t, http.MethodGet, "/api/plans/p-1/nonsense", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	g := newTestGateway(t)

	rec := g.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = g.do(t, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
