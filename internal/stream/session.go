// ABOUTME: Per-plan streaming session: an ordered, buffered, replayable event log.
// ABOUTME: At most one live subscriber; replay always starts from sequence 1.

package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrAlreadyStreaming indicates a subscriber is already attached to the
// session. Callers treat it as an idempotent no-op signal, not a failure.
var ErrAlreadyStreaming = errors.New("session already has a subscriber")

// ErrSessionClosed indicates an append after the Done event.
var ErrSessionClosed = errors.New("session is closed")

// subscriberBufferSize is the channel buffer for the subscriber.
// Matches the broadcaster pattern used elsewhere in the corpus (64 events).
const subscriberBufferSize = 64

// Session buffers every event a plan emits, in order, with monotonically
// increasing sequence numbers. A subscriber attaching at any point replays
// the full buffer and then follows live appends. Delivery is at-least-once
// across re-attaches; consumers deduplicate by sequence number.
//
// Detaching the subscriber never cancels the work producing events.
type Session struct {
	mu       sync.Mutex
	planID   string
	logger   *slog.Logger
	events   []Event
	notify   chan struct{}
	active   bool
	terminal bool
}

// NewSession creates an empty session for the given plan.
// Pass nil logger for default.
func NewSession(planID string, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		planID: planID,
		logger: logger.With("component", "session", "plan_id", planID),
		notify: make(chan struct{}),
	}
}

// Rehydrate rebuilds a terminal session from previously persisted events,
// preserving their sequence numbers. Used to serve replays for plans whose
// live run is gone.
func Rehydrate(planID string, events []Event, logger *slog.Logger) *Session {
	s := NewSession(planID, logger)
	s.events = events
	s.terminal = len(events) > 0 && events[len(events)-1].Type == TypeDone
	return s
}

// Append assigns the next sequence number and stores the event, waking the
// subscriber if one is following. The filled-in event is returned.
// Appending after Done returns ErrSessionClosed.
func (s *Session) Append(ev Event) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.terminal {
		return Event{}, ErrSessionClosed
	}

	ev.Seq = uint64(len(s.events) + 1)
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	s.events = append(s.events, ev)

	if ev.Type == TypeDone {
		s.terminal = true
	}

	// Wake the follower by retiring the current notify channel
	close(s.notify)
	s.notify = make(chan struct{})

	return ev, nil
}

// Subscribe attaches the sole subscriber and returns its event channel. The
// full buffer replays first, then live events follow. The channel closes
// after Done is delivered or when ctx is cancelled; cancellation detaches
// without touching the underlying work.
func (s *Session) Subscribe(ctx context.Context) (<-chan Event, error) {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return nil, ErrAlreadyStreaming
	}
	s.active = true
	s.mu.Unlock()

	ch := make(chan Event, subscriberBufferSize)
	go s.pump(ctx, ch)

	s.logger.Debug("subscriber attached")
	return ch, nil
}

// pump walks the buffer from the start, blocking on new appends once caught
// up. It owns ch and closes it on exit.
func (s *Session) pump(ctx context.Context, ch chan Event) {
	defer func() {
		s.mu.Lock()
		s.active = false
		s.mu.Unlock()
		close(ch)
		s.logger.Debug("subscriber detached")
	}()

	next := 0
	for {
		s.mu.Lock()
		if next < len(s.events) {
			ev := s.events[next]
			s.mu.Unlock()
			next++

			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
			if ev.Type == TypeDone {
				return
			}
			continue
		}

		if s.terminal {
			s.mu.Unlock()
			return
		}

		wait := s.notify
		s.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return
		}
	}
}

// Active reports whether a subscriber is currently attached.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Terminal reports whether Done has been appended.
func (s *Session) Terminal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminal
}

// Events returns a snapshot of the buffered events.
func (s *Session) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// Len returns the number of buffered events.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}
