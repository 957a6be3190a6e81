// ABOUTME: MCP-backed tool gateway over streamable HTTP using mark3labs/mcp-go
// ABOUTME: One MCPGateway wraps one initialized client session

package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

const (
	clientName    = "steward-gateway"
	clientVersion = "0.1.0"
)

// MCPDialer opens MCP gateway connections to a streamable HTTP endpoint.
type MCPDialer struct {
	// Endpoint is the tool service URL, e.g. http://localhost:8765/mcp.
	Endpoint string

	// InvokeTimeout bounds each tool call. Zero means no per-call bound.
	InvokeTimeout time.Duration
}

// Dial connects and performs the initialize handshake.
func (d *MCPDialer) Dial(ctx context.Context) (Gateway, error) {
	c, err := client.NewStreamableHttpClient(d.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("creating MCP client for %s: %w", d.Endpoint, err)
	}

	if err := c.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting MCP transport: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    clientName,
		Version: clientVersion,
	}

	if _, err := c.Initialize(ctx, initReq); err != nil {
		c.Close()
		return nil, fmt.Errorf("initializing MCP session: %w", err)
	}

	return &MCPGateway{
		client:        c,
		endpoint:      d.Endpoint,
		invokeTimeout: d.InvokeTimeout,
		logger:        slog.Default().With("component", "tools", "endpoint", d.Endpoint),
	}, nil
}

// MCPGateway implements Gateway over one MCP client session.
type MCPGateway struct {
	client        *client.Client
	endpoint      string
	invokeTimeout time.Duration
	logger        *slog.Logger

	mu     sync.Mutex
	closed bool
}

// Discover lists the tools the MCP service offers.
func (g *MCPGateway) Discover(ctx context.Context) ([]Tool, error) {
	if g.isClosed() {
		return nil, ErrGatewayClosed
	}

	res, err := g.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("listing tools: %w", err)
	}

	out := make([]Tool, 0, len(res.Tools))
	for _, t := range res.Tools {
		out = append(out, Tool{Name: t.Name, Description: t.Description})
	}
	return out, nil
}

// Invoke calls one tool and concatenates the text content of its result.
func (g *MCPGateway) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	if g.isClosed() {
		return "", ErrGatewayClosed
	}

	if g.invokeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.invokeTimeout)
		defer cancel()
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	start := time.Now()
	res, err := g.client.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("calling tool %s: %w", name, err)
	}

	text := textContent(res)
	if res.IsError {
		g.logger.Warn("tool reported failure", "tool", name, "result", text)
		return "", fmt.Errorf("%w: %s: %s", ErrToolFailed, name, text)
	}

	g.logger.Debug("tool invoked", "tool", name, "duration", time.Since(start))
	return text, nil
}

// Close releases the MCP session. Idempotent.
func (g *MCPGateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil
	}
	g.closed = true

	if err := g.client.Close(); err != nil {
		return fmt.Errorf("closing MCP client: %w", err)
	}
	return nil
}

func (g *MCPGateway) isClosed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

// textContent flattens a call result's text blocks into one string.
func textContent(res *mcp.CallToolResult) string {
	var sb strings.Builder
	for _, content := range res.Content {
		if tc, ok := content.(mcp.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}
