// ABOUTME: SSE endpoint streaming a plan's events as wire marker tokens.
// ABOUTME: One data: frame per event, flushed immediately, closed on [DONE].

package gateway

import (
	"fmt"
	"net/http"

	"github.com/stillwater-labs/steward/internal/stream"
)

// handleStreamPlan attaches the caller to a plan's event stream over SSE.
// Each event is one "data: <token>" frame in the wire marker grammar.
// Disconnecting detaches the subscriber without touching the plan.
func (g *Gateway) handleStreamPlan(w http.ResponseWriter, r *http.Request, planID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	events, err := g.orch.StreamPlan(r.Context(), planID)
	if err != nil {
		g.sendDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-events:
			if !open {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", ev.MarshalWire())
			flusher.Flush()
			if ev.Type == stream.TypeDone {
				return
			}
		}
	}
}
