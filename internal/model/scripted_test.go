// ABOUTME: Tests for the scripted model client used across the test suite.

package model

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// drain collects every chunk until the stream closes or the test times out.
func drain(t *testing.T, ch <-chan Chunk) []Chunk {
	t.Helper()

	var chunks []Chunk
	for {
		select {
		case c, ok := <-ch:
			if !ok {
				return chunks
			}
			chunks = append(chunks, c)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for chunk stream to close")
		}
	}
}

func TestScriptedClient_ReplaysInOrder(t *testing.T) {
	c := NewScriptedClient(
		[]string{"first ", "response"},
		[]string{"second"},
	)

	ch, err := c.Stream(t.Context(), Request{Input: "one"})
	require.NoError(t, err)
	chunks := drain(t, ch)
	require.Len(t, chunks, 2)
	assert.Equal(t, "first ", chunks[0].Text)
	assert.Equal(t, "response", chunks[1].Text)

	ch, err = c.Stream(t.Context(), Request{Input: "two"})
	require.NoError(t, err)
	chunks = drain(t, ch)
	require.Len(t, chunks, 1)
	assert.Equal(t, "second", chunks[0].Text)

	reqs := c.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "one", reqs[0].Input)
	assert.Equal(t, "two", reqs[1].Input)
}

func TestScriptedClient_Exhausted(t *testing.T) {
	c := NewScriptedClient([]string{"only"})

	ch, err := c.Stream(t.Context(), Request{})
	require.NoError(t, err)
	drain(t, ch)

	_, err = c.Stream(t.Context(), Request{})
	assert.ErrorIs(t, err, ErrScriptExhausted)
}

func TestScriptedClient_Fallback(t *testing.T) {
	c := NewScriptedClient()
	c.SetFallback("canned")

	for range 3 {
		ch, err := c.Stream(t.Context(), Request{})
		require.NoError(t, err)
		chunks := drain(t, ch)
		require.Len(t, chunks, 1)
		assert.Equal(t, "canned", chunks[0].Text)
	}
}

func TestScriptedClient_ErrorEntry(t *testing.T) {
	boom := errors.New("model unavailable")
	c := NewScriptedClient()
	c.EnqueueError(boom)

	ch, err := c.Stream(t.Context(), Request{})
	require.NoError(t, err)
	chunks := drain(t, ch)
	require.Len(t, chunks, 1)
	assert.ErrorIs(t, chunks[0].Err, boom)
}

func TestScriptedClient_ContextCancelStopsStream(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	// More chunks than the buffer holds so the producer must block.
	chunks := make([]string, chunkBuffer+8)
	for i := range chunks {
		chunks[i] = "x"
	}
	c := NewScriptedClient(chunks)

	ch, err := c.Stream(ctx, Request{})
	require.NoError(t, err)

	// The stream closes without delivering everything.
	got := drain(t, ch)
	assert.Less(t, len(got), len(chunks))
}
