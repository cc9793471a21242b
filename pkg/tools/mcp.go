package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

const DefaultMCPTimeout = 5 * time.Second

// MCPSession is the subset of an MCP client used by MCPProvider.
type MCPSession interface {
	ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// Dialer opens an initialized MCP session to url.
type Dialer func(ctx context.Context, url string) (MCPSession, error)

// MCPConfig configures an MCPProvider.
type MCPConfig struct {
	Name    string
	URL     string
	Timeout time.Duration
	Logger  zerolog.Logger
	// Dialer overrides the streamable HTTP transport. Used by tests.
	Dialer Dialer
}

// MCPProvider exposes the tools of a remote MCP server. It connects on first
// use, drops the connection on any transport failure and reconnects on the
// next call.
type MCPProvider struct {
	name    string
	url     string
	timeout time.Duration
	dial    Dialer
	logger  zerolog.Logger

	mu      sync.Mutex
	session MCPSession
	active  bool
	tools   []Tool
	schemas map[string]*gojsonschema.Schema
}

// NewMCPProvider creates an inactive MCP provider.
func NewMCPProvider(cfg MCPConfig) (*MCPProvider, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("mcp url is required")
	}
	if cfg.Name == "" {
		cfg.Name = cfg.URL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultMCPTimeout
	}
	if cfg.Dialer == nil {
		cfg.Dialer = dialStreamableHTTP
	}

	return &MCPProvider{
		name:    cfg.Name,
		url:     strings.TrimRight(cfg.URL, "/"),
		timeout: cfg.Timeout,
		dial:    cfg.Dialer,
		logger:  cfg.Logger.With().Str("mcp", cfg.Name).Logger(),
	}, nil
}

func dialStreamableHTTP(ctx context.Context, url string) (MCPSession, error) {
	c, err := client.NewStreamableHttpClient(url)
	if err != nil {
		return nil, err
	}
	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}

	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{Name: "meshagent", Version: "1.0.0"}
	if _, err := c.Initialize(ctx, req); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// Name implements Provider.
func (p *MCPProvider) Name() string { return p.name }

// Active reports whether the provider currently holds a live session.
func (p *MCPProvider) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Tools implements Provider.
func (p *MCPProvider) Tools() []Tool {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Tool, len(p.tools))
	copy(out, p.tools)
	return out
}

// Discover implements Provider. It connects and lists tools if inactive.
// The dial runs without holding the provider lock, so callers of Tools and
// Active are never queued behind an unreachable server.
func (p *MCPProvider) Discover(ctx context.Context) ([]Tool, error) {
	if out, ok := p.activeTools(); ok {
		return out, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	sess, err := p.dial(dialCtx, p.url)
	if err != nil {
		p.logger.Warn().Err(err).Str("url", p.url).Msg("MCP server unreachable")
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, p.name, err)
	}

	listed, err := sess.ListTools(dialCtx, mcp.ListToolsRequest{})
	if err != nil {
		_ = sess.Close()
		p.logger.Warn().Err(err).Msg("MCP tool discovery failed")
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, p.name, err)
	}

	tools := make([]Tool, 0, len(listed.Tools))
	schemas := make(map[string]*gojsonschema.Schema, len(listed.Tools))
	for _, t := range listed.Tools {
		schemaMap := inputSchema(t)
		tools = append(tools, Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schemaMap,
			Provider:    p.name,
		})
		schema, err := compileSchema(schemaMap)
		if err != nil {
			p.logger.Warn().Err(err).Str("tool", t.Name).Msg("Ignoring unusable tool input schema")
			continue
		}
		schemas[t.Name] = schema
	}

	p.mu.Lock()
	if p.active {
		// Another caller activated the provider while we were dialing.
		out := make([]Tool, len(p.tools))
		copy(out, p.tools)
		p.mu.Unlock()
		_ = sess.Close()
		return out, nil
	}
	p.session = sess
	p.tools = tools
	p.schemas = schemas
	p.active = true
	p.mu.Unlock()

	p.logger.Info().Int("tools", len(tools)).Msg("MCP server activated")

	out := make([]Tool, len(tools))
	copy(out, tools)
	return out, nil
}

func (p *MCPProvider) activeTools() ([]Tool, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active {
		return nil, false
	}
	out := make([]Tool, len(p.tools))
	copy(out, p.tools)
	return out, true
}

// Call implements Provider.
func (p *MCPProvider) Call(ctx context.Context, name string, args map[string]any) (any, error) {
	if _, err := p.Discover(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	sess := p.session
	known := false
	for _, t := range p.tools {
		if t.Name == name {
			known = true
			break
		}
	}
	schema := p.schemas[name]
	p.mu.Unlock()

	if sess == nil {
		return nil, fmt.Errorf("%w: %s: connection lost", ErrUnavailable, p.name)
	}
	if !known {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err := validateArguments(schema, args); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	res, err := sess.CallTool(callCtx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.deactivate(sess)
		p.logger.Warn().Err(err).Str("tool", name).Msg("MCP call failed, provider deactivated")
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, p.name, err)
	}

	text := resultText(res)
	if res.IsError {
		return nil, fmt.Errorf("tool %s failed: %s", name, text)
	}
	if res.StructuredContent != nil {
		return res.StructuredContent, nil
	}
	out, _ := truncateOutput(text)
	return out, nil
}

// deactivate drops sess if it is still the current session.
func (p *MCPProvider) deactivate(sess MCPSession) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session != sess {
		return
	}
	_ = p.session.Close()
	p.session = nil
	p.active = false
}

// Close implements Provider.
func (p *MCPProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = false
	if p.session == nil {
		return nil
	}
	err := p.session.Close()
	p.session = nil
	return err
}

func inputSchema(t mcp.Tool) map[string]any {
	raw := t.RawInputSchema
	if len(raw) == 0 {
		b, err := json.Marshal(t.InputSchema)
		if err != nil {
			return nil
		}
		raw = b
	}
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil
	}
	return schema
}

func resultText(res *mcp.CallToolResult) string {
	parts := make([]string, 0, len(res.Content))
	for _, c := range res.Content {
		if tc, ok := mcp.AsTextContent(c); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
