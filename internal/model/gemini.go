// ABOUTME: Gemini-backed model client using the google.golang.org/genai SDK
// ABOUTME: Streams partial responses into the Chunk channel contract

package model

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/genai"
)

// GeminiClient implements Client against the Gemini API.
type GeminiClient struct {
	client       *genai.Client
	defaultModel string
	logger       *slog.Logger
}

// NewGeminiClient creates a Gemini-backed client. The API key is required;
// defaultModel is used for requests that do not name a model.
func NewGeminiClient(ctx context.Context, apiKey, defaultModel string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}

	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &GeminiClient{
		client:       c,
		defaultModel: defaultModel,
		logger:       slog.Default().With("component", "model"),
	}, nil
}

// Stream starts a streaming generation and returns the chunk channel.
func (c *GeminiClient) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	modelName := req.Model
	if modelName == "" {
		modelName = c.defaultModel
	}

	var cfg *genai.GenerateContentConfig
	if req.System != "" {
		cfg = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(req.System, genai.RoleUser),
		}
	}

	out := make(chan Chunk, chunkBuffer)
	go func() {
		defer close(out)

		for resp, err := range c.client.Models.GenerateContentStream(ctx, modelName, genai.Text(req.Input), cfg) {
			if err != nil {
				c.logger.Warn("generation stream failed", "model", modelName, "error", err)
				deliver(ctx, out, Chunk{Err: fmt.Errorf("generating content: %w", err)})
				return
			}
			text := resp.Text()
			if text == "" {
				continue
			}
			if !deliver(ctx, out, Chunk{Text: text}) {
				return
			}
		}
	}()

	return out, nil
}

// Close releases the client. The genai SDK holds no persistent connection,
// so this is a no-op.
func (c *GeminiClient) Close() error {
	return nil
}

// deliver sends one chunk unless the context ends first.
func deliver(ctx context.Context, out chan<- Chunk, ch Chunk) bool {
	select {
	case out <- ch:
		return true
	case <-ctx.Done():
		return false
	}
}
