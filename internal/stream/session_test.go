// ABOUTME: Tests for the streaming session: replay, live follow, single subscriber.
// ABOUTME: Covers detach/re-attach idempotence and terminal-session behavior.

package stream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recv reads one event or fails the test after a second.
func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed while expecting an event")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
		return Event{}
	}
}

// recvClosed asserts the channel closes within a second.
func recvClosed(t *testing.T, ch <-chan Event) {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.False(t, ok, "expected closed channel, got event %v", ev)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}
}

func TestSession_AppendAssignsSequence(t *testing.T) {
	s := NewSession("plan-1", nil)

	first, err := s.Append(Event{Type: TypeProcessing, Text: "starting"})
	require.NoError(t, err)
	second, err := s.Append(Event{Type: TypeContent, Text: "thinking"})
	require.NoError(t, err)

	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, uint64(2), second.Seq)
	assert.False(t, first.At.IsZero())
	assert.Equal(t, 2, s.Len())
}

func TestSession_SubscribeReplaysBuffer(t *testing.T) {
	s := NewSession("plan-1", nil)
	for _, text := range []string{"one", "two", "three"} {
		_, err := s.Append(Event{Type: TypeContent, Text: text})
		require.NoError(t, err)
	}

	ch, err := s.Subscribe(t.Context())
	require.NoError(t, err)

	for i, text := range []string{"one", "two", "three"} {
		ev := recv(t, ch)
		assert.Equal(t, uint64(i+1), ev.Seq)
		assert.Equal(t, text, ev.Text)
	}
}

func TestSession_LiveFollow(t *testing.T) {
	s := NewSession("plan-1", nil)

	ch, err := s.Subscribe(t.Context())
	require.NoError(t, err)

	_, err = s.Append(Event{Type: TypeProcessing, Text: "live"})
	require.NoError(t, err)

	ev := recv(t, ch)
	assert.Equal(t, TypeProcessing, ev.Type)
	assert.Equal(t, "live", ev.Text)
}

func TestSession_SecondSubscriberRejected(t *testing.T) {
	s := NewSession("plan-1", nil)

	_, err := s.Subscribe(t.Context())
	require.NoError(t, err)

	_, err = s.Subscribe(t.Context())
	assert.ErrorIs(t, err, ErrAlreadyStreaming)
}

func TestSession_ReattachReplaysIdentically(t *testing.T) {
	s := NewSession("plan-1", nil)
	for _, text := range []string{"a", "b"} {
		_, err := s.Append(Event{Type: TypeContent, Text: text})
		require.NoError(t, err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	ch, err := s.Subscribe(ctx)
	require.NoError(t, err)

	firstPass := []uint64{recv(t, ch).Seq, recv(t, ch).Seq}

	// Detach and wait for the pump to release the slot.
	cancel()
	recvClosed(t, ch)

	ch2, err := s.Subscribe(t.Context())
	require.NoError(t, err)

	secondPass := []uint64{recv(t, ch2).Seq, recv(t, ch2).Seq}
	assert.Equal(t, firstPass, secondPass, "replay must repeat the same ordered sequence")
}

func TestSession_DetachDoesNotStopAppends(t *testing.T) {
	s := NewSession("plan-1", nil)

	ctx, cancel := context.WithCancel(t.Context())
	ch, err := s.Subscribe(ctx)
	require.NoError(t, err)
	cancel()
	recvClosed(t, ch)

	// Producer keeps going with nobody attached.
	_, err = s.Append(Event{Type: TypeContent, Text: "still running"})
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())
}

func TestSession_TerminalReplayThenClose(t *testing.T) {
	s := NewSession("plan-1", nil)
	_, err := s.Append(Event{Type: TypeSuccess, Text: "all steps finished"})
	require.NoError(t, err)
	_, err = s.Append(Event{Type: TypeDone})
	require.NoError(t, err)
	assert.True(t, s.Terminal())

	ch, err := s.Subscribe(t.Context())
	require.NoError(t, err)

	assert.Equal(t, TypeSuccess, recv(t, ch).Type)
	assert.Equal(t, TypeDone, recv(t, ch).Type)
	recvClosed(t, ch)
}

func TestSession_AppendAfterDoneRejected(t *testing.T) {
	s := NewSession("plan-1", nil)
	_, err := s.Append(Event{Type: TypeDone})
	require.NoError(t, err)

	_, err = s.Append(Event{Type: TypeContent, Text: "late"})
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestSession_ActiveFlag(t *testing.T) {
	s := NewSession("plan-1", nil)
	assert.False(t, s.Active())

	ctx, cancel := context.WithCancel(t.Context())
	ch, err := s.Subscribe(ctx)
	require.NoError(t, err)
	assert.True(t, s.Active())

	cancel()
	recvClosed(t, ch)
	assert.False(t, s.Active())
}

func TestRehydrate(t *testing.T) {
	events := []Event{
		{Seq: 1, Type: TypeProcessing, Text: "Analyzing goal", At: time.Now().UTC()},
		{Seq: 2, Type: TypePlanReady, Count: 2, At: time.Now().UTC()},
		{Seq: 3, Type: TypeDone, At: time.Now().UTC()},
	}

	s := Rehydrate("plan-1", events, nil)
	assert.True(t, s.Terminal())

	ch, err := s.Subscribe(t.Context())
	require.NoError(t, err)

	assert.Equal(t, uint64(1), recv(t, ch).Seq)
	assert.Equal(t, uint64(2), recv(t, ch).Seq)
	assert.Equal(t, TypeDone, recv(t, ch).Type)
	recvClosed(t, ch)
}
