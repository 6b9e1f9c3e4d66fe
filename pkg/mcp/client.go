// Package mcp connects the workflow engine to the data platform's MCP tools
// over streamable HTTP. Tool responses are returned as raw payload bytes;
// the normalize package handles their nested envelopes.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/s-p-a-r-r-o-w-ai/agent-bifrost/pkg/metrics"
)

const (
	DefaultListIndicesTool  = "platform_core_list_indices"
	DefaultGetMappingTool   = "platform_core_get_index_mapping"
	DefaultExecuteQueryTool = "platform_core_execute_esql"

	defaultHTTPTimeout = 2 * time.Minute
)

// Config describes the MCP endpoint and tool names to use.
type Config struct {
	Endpoint string
	APIKey   string

	ListIndicesTool  string
	GetMappingTool   string
	ExecuteQueryTool string

	HTTPTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.ListIndicesTool == "" {
		c.ListIndicesTool = DefaultListIndicesTool
	}
	if c.GetMappingTool == "" {
		c.GetMappingTool = DefaultGetMappingTool
	}
	if c.ExecuteQueryTool == "" {
		c.ExecuteQueryTool = DefaultExecuteQueryTool
	}
	if c.HTTPTimeout == 0 {
		c.HTTPTimeout = defaultHTTPTimeout
	}
}

// Toolset implements workflow.Toolset over an MCP session.
type Toolset struct {
	cfg     Config
	session *mcp.ClientSession
}

type apiKeyTransport struct {
	apiKey string
	next   http.RoundTripper
}

func (t *apiKeyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "ApiKey "+t.apiKey)
	return t.next.RoundTrip(req)
}

// Connect establishes an MCP session with the platform server.
func Connect(ctx context.Context, cfg Config) (*Toolset, error) {
	cfg.applyDefaults()
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("MCP endpoint is required")
	}

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	if cfg.APIKey != "" {
		httpClient.Transport = &apiKeyTransport{apiKey: cfg.APIKey, next: http.DefaultTransport}
	}

	client := mcp.NewClient(&mcp.Implementation{Name: "agent-bifrost", Version: "0.1.0"}, nil)
	session, err := client.Connect(ctx, &mcp.StreamableClientTransport{
		Endpoint:   cfg.Endpoint,
		HTTPClient: httpClient,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MCP server %s: %w", cfg.Endpoint, err)
	}

	return &Toolset{cfg: cfg, session: session}, nil
}

// Close tears down the MCP session.
func (t *Toolset) Close() error {
	return t.session.Close()
}

// ListIndices calls the index discovery tool.
func (t *Toolset) ListIndices(ctx context.Context) ([]byte, error) {
	return t.callTool(ctx, t.cfg.ListIndicesTool, map[string]any{})
}

// GetIndexMapping calls the mapping tool for the given indices.
func (t *Toolset) GetIndexMapping(ctx context.Context, indices []string) ([]byte, error) {
	return t.callTool(ctx, t.cfg.GetMappingTool, map[string]any{"indices": indices})
}

// ExecuteQuery calls the query execution tool.
func (t *Toolset) ExecuteQuery(ctx context.Context, query string) ([]byte, error) {
	return t.callTool(ctx, t.cfg.ExecuteQueryTool, map[string]any{"query": query})
}

func (t *Toolset) callTool(ctx context.Context, name string, args map[string]any) ([]byte, error) {
	start := time.Now()
	res, err := t.session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	metrics.RecordToolCall(name, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("tool call %s failed: %w", name, err)
	}
	if res.IsError {
		return nil, fmt.Errorf("tool %s returned error: %s", name, firstText(res))
	}

	if text := firstText(res); text != "" {
		return []byte(text), nil
	}
	// No text block; hand the whole result to the normalizer.
	raw, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s result: %w", name, err)
	}
	return raw, nil
}

func firstText(res *mcp.CallToolResult) string {
	for _, content := range res.Content {
		if tc, ok := content.(*mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}
