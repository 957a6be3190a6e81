// ABOUTME: Scripted model client: replays queued responses as chunk streams
// ABOUTME: Used by tests and by the gateway's scripted provider for offline demos

package model

import (
	"context"
	"errors"
	"sync"
)

// ErrScriptExhausted is returned by Stream when the script queue is empty
// and no fallback is configured.
var ErrScriptExhausted = errors.New("scripted client: no responses left")

type scriptEntry struct {
	chunks []string
	err    error
}

// ScriptedClient implements Client by replaying queued responses. Each
// Stream call consumes one queued entry; when the queue is empty the
// fallback response (if set) is replayed instead. Safe for concurrent use.
type ScriptedClient struct {
	mu       sync.Mutex
	queue    []scriptEntry
	fallback []string
	requests []Request
}

// NewScriptedClient creates a client preloaded with the given responses,
// one Stream call each, in order.
func NewScriptedClient(responses ...[]string) *ScriptedClient {
	c := &ScriptedClient{}
	for _, chunks := range responses {
		c.Enqueue(chunks...)
	}
	return c
}

// Enqueue appends one response to the script, delivered as one chunk per
// string.
func (c *ScriptedClient) Enqueue(chunks ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append(c.queue, scriptEntry{chunks: chunks})
}

// EnqueueError appends a response whose stream delivers err and closes.
func (c *ScriptedClient) EnqueueError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append(c.queue, scriptEntry{err: err})
}

// SetFallback sets the response replayed once the queue is exhausted.
func (c *ScriptedClient) SetFallback(chunks ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fallback = chunks
}

// Requests returns a copy of every request seen so far, in order.
func (c *ScriptedClient) Requests() []Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Request, len(c.requests))
	copy(out, c.requests)
	return out
}

// Stream pops the next scripted response and replays it as a chunk stream.
func (c *ScriptedClient) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)

	var entry scriptEntry
	switch {
	case len(c.queue) > 0:
		entry = c.queue[0]
		c.queue = c.queue[1:]
	case c.fallback != nil:
		entry = scriptEntry{chunks: c.fallback}
	default:
		c.mu.Unlock()
		return nil, ErrScriptExhausted
	}
	c.mu.Unlock()

	out := make(chan Chunk, chunkBuffer)
	go func() {
		defer close(out)

		if entry.err != nil {
			deliver(ctx, out, Chunk{Err: entry.err})
			return
		}
		for _, text := range entry.chunks {
			if !deliver(ctx, out, Chunk{Text: text}) {
				return
			}
		}
	}()

	return out, nil
}

// Close is a no-op.
func (c *ScriptedClient) Close() error {
	return nil
}
