// ABOUTME: REST handlers for plans, steps, clarifications, and teams.
// ABOUTME: Translates JSON requests into orchestrator calls and errors into status codes.

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/stillwater-labs/steward/internal/clarify"
	"github.com/stillwater-labs/steward/internal/orchestrator"
	"github.com/stillwater-labs/steward/internal/plan"
	"github.com/stillwater-labs/steward/internal/stream"
	"github.com/stillwater-labs/steward/internal/team"
)

// maxBodySize bounds JSON request bodies.
const maxBodySize = 1 << 20

// CreatePlanRequest is the JSON body for POST /api/plans.
type CreatePlanRequest struct {
	Goal      string `json:"goal"`
	TeamID    string `json:"team_id"`
	SessionID string `json:"session_id"`
}

// CreatePlanResponse is the JSON response for plan creation.
type CreatePlanResponse struct {
	PlanID string `json:"plan_id"`
}

// ApprovalRequest is the JSON body for the step approval endpoint.
type ApprovalRequest struct {
	Decision string `json:"decision"`
}

// ClarificationRequest is the JSON body for the clarification endpoint.
type ClarificationRequest struct {
	Answer string `json:"answer"`
}

// FollowUpRequest is the JSON body for the follow-up endpoint.
type FollowUpRequest struct {
	Goal string `json:"goal"`
}

// StepResponse is one step in a plan snapshot.
type StepResponse struct {
	ID            string `json:"id"`
	SequenceIndex int    `json:"sequence_index"`
	Description   string `json:"description"`
	AssignedAgent string `json:"assigned_agent"`
	ExecStatus    string `json:"execution_status"`
	Approval      string `json:"human_approval_status"`
	Result        string `json:"result,omitempty"`
}

// PlanResponse is the JSON snapshot for GET /api/plans/{id}.
type PlanResponse struct {
	ID             string         `json:"id"`
	SessionID      string         `json:"session_id"`
	Goal           string         `json:"goal"`
	TeamID         string         `json:"team_id"`
	Status         string         `json:"status"`
	CreatedAt      string         `json:"created_at"`
	CompletedSteps int            `json:"completed_steps"`
	TotalSteps     int            `json:"total_steps"`
	Question       string         `json:"question,omitempty"`
	Steps          []StepResponse `json:"steps"`
}

// TeamResponse is one entry in the GET /api/teams listing.
type TeamResponse struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	AutoApprove bool     `json:"auto_approve"`
	Agents      []string `json:"agents"`
}

// errorResponse is the JSON error envelope.
type errorResponse struct {
	Error string `json:"error"`
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Error("failed to encode response", "error", err)
	}
}

func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.writeJSON(w, status, errorResponse{Error: message})
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("reading body: %w", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("parsing body: %w", err)
	}
	return nil
}

// statusFor maps a domain error to its HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrPlanNotFound),
		errors.Is(err, orchestrator.ErrStepNotFound),
		errors.Is(err, team.ErrUnknownTeam):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrInvalidState),
		errors.Is(err, orchestrator.ErrStateConflict),
		errors.Is(err, clarify.ErrNoPending),
		errors.Is(err, clarify.ErrSlotOccupied):
		return http.StatusConflict
	case errors.Is(err, orchestrator.ErrAttachThrottled),
		errors.Is(err, stream.ErrAlreadyStreaming):
		return http.StatusTooManyRequests
	case errors.Is(err, orchestrator.ErrShuttingDown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// sendDomainError writes err with its mapped status, hiding internals on 500.
func (g *Gateway) sendDomainError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		g.logger.Error("internal error", "error", err)
		g.sendJSONError(w, status, "internal server error")
		return
	}
	g.sendJSONError(w, status, err.Error())
}

// handlePlans handles the /api/plans collection: POST creates a plan, GET
// lists recent plans.
func (g *Gateway) handlePlans(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		g.handleCreatePlan(w, r)
	case http.MethodGet:
		g.handleListPlans(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (g *Gateway) handleCreatePlan(w http.ResponseWriter, r *http.Request) {
	var req CreatePlanRequest
	if err := decodeJSON(r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	p, err := g.orch.CreatePlan(r.Context(), req.SessionID, req.Goal, req.TeamID)
	if err != nil {
		g.sendDomainError(w, err)
		return
	}

	g.writeJSON(w, http.StatusCreated, CreatePlanResponse{PlanID: p.ID})
}

func (g *Gateway) handleListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := g.orch.ListPlans(r.Context(), 50)
	if err != nil {
		g.sendDomainError(w, err)
		return
	}

	out := make([]PlanResponse, 0, len(plans))
	for _, p := range plans {
		out = append(out, PlanResponse{
			ID:        p.ID,
			SessionID: p.SessionID,
			Goal:      p.Goal,
			TeamID:    p.TeamID,
			Status:    string(p.Status),
			CreatedAt: p.CreatedAt.Format(time.RFC3339),
			Steps:     []StepResponse{},
		})
	}
	g.writeJSON(w, http.StatusOK, out)
}

// handlePlanRoutes dispatches /api/plans/{id} and its subresources.
func (g *Gateway) handlePlanRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/plans/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if parts[0] == "" {
		g.sendJSONError(w, http.StatusNotFound, "plan id required")
		return
	}
	planID := parts[0]

	switch {
	case len(parts) == 1:
		g.handleGetPlan(w, r, planID)
	case len(parts) == 2 && parts[1] == "stream":
		g.handleStreamPlan(w, r, planID)
	case len(parts) == 2 && parts[1] == "clarification":
		g.handleClarification(w, r, planID)
	case len(parts) == 2 && parts[1] == "follow-up":
		g.handleFollowUp(w, r, planID)
	case len(parts) == 2 && parts[1] == "cancel":
		g.handleCancel(w, r, planID)
	case len(parts) == 4 && parts[1] == "steps" && parts[3] == "approval":
		g.handleApproval(w, r, planID, parts[2])
	default:
		g.sendJSONError(w, http.StatusNotFound, "unknown route")
	}
}

func (g *Gateway) handleGetPlan(w http.ResponseWriter, r *http.Request, planID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	snap, err := g.orch.GetPlan(r.Context(), planID)
	if err != nil {
		g.sendDomainError(w, err)
		return
	}

	resp := PlanResponse{
		ID:             snap.Plan.ID,
		SessionID:      snap.Plan.SessionID,
		Goal:           snap.Plan.Goal,
		TeamID:         snap.Plan.TeamID,
		Status:         string(snap.Plan.Status),
		CreatedAt:      snap.Plan.CreatedAt.Format(time.RFC3339),
		CompletedSteps: snap.Progress.Completed,
		TotalSteps:     snap.Progress.Total,
		Question:       snap.Question,
		Steps:          make([]StepResponse, 0, len(snap.Steps)),
	}
	for _, s := range snap.Steps {
		resp.Steps = append(resp.Steps, StepResponse{
			ID:            s.ID,
			SequenceIndex: s.SequenceIndex,
			Description:   s.Description,
			AssignedAgent: s.AssignedAgent,
			ExecStatus:    string(s.ExecStatus),
			Approval:      string(s.Approval),
			Result:        s.Result,
		})
	}
	g.writeJSON(w, http.StatusOK, resp)
}

func (g *Gateway) handleApproval(w http.ResponseWriter, r *http.Request, planID, stepID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req ApprovalRequest
	if err := decodeJSON(r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	err := g.orch.ApproveStep(r.Context(), planID, stepID, plan.Approval(req.Decision))
	if err != nil {
		g.sendDomainError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (g *Gateway) handleClarification(w http.ResponseWriter, r *http.Request, planID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req ClarificationRequest
	if err := decodeJSON(r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := g.orch.SubmitClarification(r.Context(), planID, req.Answer); err != nil {
		g.sendDomainError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (g *Gateway) handleFollowUp(w http.ResponseWriter, r *http.Request, planID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req FollowUpRequest
	if err := decodeJSON(r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	p, err := g.orch.CreateFollowUpPlan(r.Context(), planID, req.Goal)
	if err != nil {
		g.sendDomainError(w, err)
		return
	}
	g.writeJSON(w, http.StatusCreated, CreatePlanResponse{PlanID: p.ID})
}

func (g *Gateway) handleCancel(w http.ResponseWriter, r *http.Request, planID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if err := g.orch.CancelPlan(r.Context(), planID); err != nil {
		g.sendDomainError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (g *Gateway) handleListTeams(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	teams := g.registry.List()
	out := make([]TeamResponse, 0, len(teams))
	for _, t := range teams {
		agents := make([]string, 0, len(t.Agents))
		for _, a := range t.Agents {
			agents = append(agents, a.Name)
		}
		out = append(out, TeamResponse{
			ID:          t.ID,
			Description: t.Description,
			AutoApprove: t.AutoApprove,
			Agents:      agents,
		})
	}
	g.writeJSON(w, http.StatusOK, out)
}
