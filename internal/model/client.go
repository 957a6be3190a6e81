// ABOUTME: Model client abstraction: a prompt in, a stream of text chunks out
// ABOUTME: Implementations cover the Gemini API and a scripted client for tests

package model

import "context"

// chunkBuffer is the send buffer on every chunk stream. A slow consumer
// backpressures the producer once the buffer fills.
const chunkBuffer = 64

// Request is one generation request. Input carries the full prompt text,
// including any transcript or observations the caller has assembled.
type Request struct {
	// Model overrides the client's default model when non-empty.
	Model string

	// System is the system instruction, empty for none.
	System string

	// Input is the prompt text.
	Input string
}

// Chunk is one unit of streamed model output. A chunk with Err set is
// terminal: the stream closes after delivering it.
type Chunk struct {
	Text string
	Err  error
}

// Client streams model completions. Stream returns immediately; chunks
// arrive on the returned channel, which is closed when generation ends,
// fails, or the context is cancelled.
type Client interface {
	Stream(ctx context.Context, req Request) (<-chan Chunk, error)
	Close() error
}
