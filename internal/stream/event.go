// ABOUTME: Typed stream events and their exact wire marker grammar.
// ABOUTME: Marker conversion happens only here; the rest of the engine sees typed events.

package stream

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Type identifies the kind of a stream event.
type Type int

const (
	// TypeContent is raw model output text with no marker.
	TypeContent Type = iota
	// TypeProcessing is an engine lifecycle note.
	TypeProcessing
	// TypeReasoningComplete marks the end of planning reasoning.
	TypeReasoningComplete
	// TypeClarificationRequest carries a question for the human.
	TypeClarificationRequest
	// TypePlanReady announces the generated step count.
	TypePlanReady
	// TypeSuccess reports a completed unit of work.
	TypeSuccess
	// TypeResult summarizes plan generation.
	TypeResult
	// TypeError carries a fatal plan error.
	TypeError
	// TypeDone terminates the stream.
	TypeDone
)

// String returns a human-readable name for the event type.
func (t Type) String() string {
	switch t {
	case TypeContent:
		return "content"
	case TypeProcessing:
		return "processing"
	case TypeReasoningComplete:
		return "reasoning_complete"
	case TypeClarificationRequest:
		return "clarification_request"
	case TypePlanReady:
		return "plan_ready"
	case TypeSuccess:
		return "success"
	case TypeResult:
		return "result"
	case TypeError:
		return "error"
	case TypeDone:
		return "done"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// ParseType maps a type name produced by String back to its Type.
func ParseType(s string) (Type, bool) {
	for t := TypeContent; t <= TypeDone; t++ {
		if t.String() == s {
			return t, true
		}
	}
	return TypeContent, false
}

// Event is one entry in a plan's stream. Seq is assigned by the session and
// is monotonic from 1. Count carries step_count for PlanReady and
// steps_created for Result; it is zero otherwise.
type Event struct {
	Seq   uint64
	Type  Type
	Text  string
	Count int
	At    time.Time
}

// Wire marker prefixes. These are part of the client contract and must not
// change spelling.
const (
	markerProcessing        = "[PROCESSING]"
	markerReasoningComplete = "[REASONING_COMPLETE]"
	markerClarification     = "[CLARIFICATION_REQUEST]"
	markerPlanReady         = "[PLAN_READY]"
	markerSuccess           = "[SUCCESS]"
	markerResult            = "[RESULT]"
	markerError             = "ERROR:"
	markerDone              = "[DONE]"
)

type planReadyPayload struct {
	StepCount int `json:"step_count"`
}

type resultPayload struct {
	StepsCreated int `json:"steps_created"`
}

// MarshalWire renders the event as its wire token. Content events pass
// through untouched.
func (e Event) MarshalWire() string {
	switch e.Type {
	case TypeContent:
		return e.Text
	case TypeProcessing:
		return markerProcessing + e.Text
	case TypeReasoningComplete:
		return markerReasoningComplete
	case TypeClarificationRequest:
		return markerClarification + e.Text
	case TypePlanReady:
		payload, _ := json.Marshal(planReadyPayload{StepCount: e.Count})
		return markerPlanReady + string(payload)
	case TypeSuccess:
		return markerSuccess + e.Text
	case TypeResult:
		payload, _ := json.Marshal(resultPayload{StepsCreated: e.Count})
		return markerResult + string(payload)
	case TypeError:
		return markerError + e.Text
	case TypeDone:
		return markerDone
	default:
		return e.Text
	}
}

// ParseWire decodes a wire token back into an event. Tokens with unknown or
// malformed markers are opaque content; Seq and At are left unset.
func ParseWire(token string) Event {
	switch {
	case token == markerReasoningComplete:
		return Event{Type: TypeReasoningComplete}
	case token == markerDone:
		return Event{Type: TypeDone}
	case strings.HasPrefix(token, markerProcessing):
		return Event{Type: TypeProcessing, Text: token[len(markerProcessing):]}
	case strings.HasPrefix(token, markerClarification):
		return Event{Type: TypeClarificationRequest, Text: token[len(markerClarification):]}
	case strings.HasPrefix(token, markerPlanReady):
		var payload planReadyPayload
		if err := json.Unmarshal([]byte(token[len(markerPlanReady):]), &payload); err != nil {
			return Event{Type: TypeContent, Text: token}
		}
		return Event{Type: TypePlanReady, Count: payload.StepCount}
	case strings.HasPrefix(token, markerSuccess):
		return Event{Type: TypeSuccess, Text: token[len(markerSuccess):]}
	case strings.HasPrefix(token, markerResult):
		var payload resultPayload
		if err := json.Unmarshal([]byte(token[len(markerResult):]), &payload); err != nil {
			return Event{Type: TypeContent, Text: token}
		}
		return Event{Type: TypeResult, Count: payload.StepsCreated}
	case strings.HasPrefix(token, markerError):
		return Event{Type: TypeError, Text: token[len(markerError):]}
	default:
		return Event{Type: TypeContent, Text: token}
	}
}
