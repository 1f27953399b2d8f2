// Package mcptool bridges external MCP servers into the pathway tool
// registry.
//
// A [Connector] connects to MCP servers via stdio or streamable-HTTP
// transports using the official MCP Go SDK, discovers their tool
// catalogues, and registers each tool as a delegated-tool pathway.
// Entities then reference MCP tools by name exactly like native tool
// pathways, and the turn executor dispatches them through the same
// registry.
//
// Declared latency hints (estimated_duration_ms in the tool schema or
// description) map onto the pathway's tool cost, so slow external tools
// drain the per-turn budget faster than cheap ones.
package mcptool

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Enntity/cortex-sub003/internal/pathway"
)

// Transport selects how the connector reaches an MCP server.
type Transport string

const (
	// TransportStdio launches the server as a child process and speaks
	// MCP over its stdin/stdout.
	TransportStdio Transport = "stdio"

	// TransportStreamableHTTP connects to a server's streamable-HTTP
	// endpoint.
	TransportStreamableHTTP Transport = "http"
)

// IsValid reports whether t names a supported transport.
func (t Transport) IsValid() bool {
	return t == TransportStdio || t == TransportStreamableHTTP
}

// ServerConfig describes one MCP server to import tools from.
type ServerConfig struct {
	// Name identifies the server; pathway names derive from it.
	Name string `yaml:"name"`

	Transport Transport `yaml:"transport"`

	// Command is the stdio launch line, split on whitespace.
	Command string `yaml:"command"`

	// URL is the streamable-HTTP endpoint.
	URL string `yaml:"url"`

	// Env holds extra environment variables for stdio servers.
	Env map[string]string `yaml:"env"`
}

// callFunc executes one tool on one server. The bool reports an
// application-level tool error (the call itself succeeded).
type callFunc func(ctx context.Context, server, tool string, args map[string]any) (string, bool, error)

// Connector owns the MCP client sessions and the pathways registered
// from them. Safe for concurrent use.
type Connector struct {
	registry *pathway.Registry
	client   *mcpsdk.Client

	mu       sync.Mutex
	sessions map[string]*mcpsdk.ClientSession
	// pathways tracks the pathway names registered per server so a
	// re-registration can identify what it replaces.
	pathways map[string][]string
}

// NewConnector creates a Connector that registers discovered tools into
// reg.
func NewConnector(reg *pathway.Registry) *Connector {
	client := mcpsdk.NewClient(
		&mcpsdk.Implementation{Name: "cortex-mcptool", Version: "1.0.0"},
		nil,
	)
	return &Connector{
		registry: reg,
		client:   client,
		sessions: make(map[string]*mcpsdk.ClientSession),
		pathways: make(map[string][]string),
	}
}

// RegisterServer connects to the server described by cfg and registers
// every discovered tool as a delegated-tool pathway. Re-registering a
// server name closes the previous connection first.
func (c *Connector) RegisterServer(ctx context.Context, cfg ServerConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("mcptool: server config must have a non-empty name")
	}
	if !cfg.Transport.IsValid() {
		return fmt.Errorf("mcptool: unknown transport %q for server %q", cfg.Transport, cfg.Name)
	}

	var transport mcpsdk.Transport
	switch cfg.Transport {
	case TransportStdio:
		executable, args := splitCommand(cfg.Command)
		if executable == "" {
			return fmt.Errorf("mcptool: stdio server %q requires a non-empty command", cfg.Name)
		}
		cmd := exec.CommandContext(ctx, executable, args...)
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}

	case TransportStreamableHTTP:
		if cfg.URL == "" {
			return fmt.Errorf("mcptool: streamable-http server %q requires a non-empty URL", cfg.Name)
		}
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
	}

	session, err := c.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("mcptool: connect to server %q: %w", cfg.Name, err)
	}

	var discovered []mcpsdk.Tool
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return fmt.Errorf("mcptool: list tools for server %q: %w", cfg.Name, err)
		}
		discovered = append(discovered, *tool)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.sessions[cfg.Name]; ok {
		_ = old.Close()
	}
	c.sessions[cfg.Name] = session

	names := make([]string, 0, len(discovered))
	for _, t := range discovered {
		p := buildPathway(cfg.Name, t, c.callTool)
		if err := c.registry.Register(p); err != nil {
			return fmt.Errorf("mcptool: register tool %q from server %q: %w", t.Name, cfg.Name, err)
		}
		names = append(names, p.Name)
	}
	c.pathways[cfg.Name] = names

	return nil
}

// ToolNames returns the pathway names registered for a server.
func (c *Connector) ToolNames(server string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.pathways[server]...)
}

// callTool routes an invocation to the owning server session.
func (c *Connector) callTool(ctx context.Context, server, tool string, args map[string]any) (string, bool, error) {
	c.mu.Lock()
	session, ok := c.sessions[server]
	c.mu.Unlock()
	if !ok {
		return "", false, fmt.Errorf("mcptool: server %q not connected", server)
	}

	res, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      tool,
		Arguments: args,
	})
	if err != nil {
		return "", false, fmt.Errorf("mcptool: call %q on %q: %w", tool, server, err)
	}

	var sb strings.Builder
	for _, content := range res.Content {
		if tc, ok := content.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String(), res.IsError, nil
}

// Close shuts down every server connection. The registered pathways
// remain in the registry but fail on invocation afterwards.
func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for name, session := range c.sessions {
		if err := session.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("mcptool: close server %q: %w", name, err)
		}
		delete(c.sessions, name)
	}
	return firstErr
}

// ─────────────────────────────────────────────────────────────────────────────
// Pathway construction
// ─────────────────────────────────────────────────────────────────────────────

// buildPathway wraps one discovered MCP tool as a delegated-tool
// pathway whose imperative body routes through call.
func buildPathway(server string, t mcpsdk.Tool, call callFunc) *pathway.Pathway {
	p50, _ := extractLatencyHints(t)

	return &pathway.Pathway{
		Name:        "mcp/" + server + "/" + t.Name,
		Description: t.Description,
		ToolDefinition: &pathway.ToolDefinition{
			Type: "function",
			Function: pathway.ToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schemaToMap(t.InputSchema),
			},
			Category: "mcp",
			ToolCost: costFromLatency(p50),
		},
		Execute: func(ctx context.Context, args map[string]any, _ pathway.Runtime) (*pathway.Result, error) {
			text, isErr, err := call(ctx, server, t.Name, args)
			if err != nil {
				return nil, err
			}
			if isErr {
				return nil, fmt.Errorf("mcptool: tool %q reported an error: %s", t.Name, text)
			}
			return &pathway.Result{Result: text}, nil
		},
	}
}

// costFromLatency maps a declared p50 latency to a tool cost: cheap
// tools charge 1, mid-latency 2, slow 3. Missing hints charge 1.
func costFromLatency(p50Ms int64) int {
	switch {
	case p50Ms <= 500:
		return 1
	case p50Ms <= 1500:
		return 2
	default:
		return 3
	}
}

// extractLatencyHints reads estimated_duration_ms and max_duration_ms
// from a tool's schema _metadata property or description-embedded JSON.
func extractLatencyHints(t mcpsdk.Tool) (p50Ms, maxMs int64) {
	p50Ms, maxMs = latencyFromSchema(schemaToMap(t.InputSchema))
	if p50Ms == 0 {
		p50Ms, maxMs = parseLatencyFromDescription(t.Description)
	}
	return p50Ms, maxMs
}

func latencyFromSchema(schema map[string]any) (p50Ms, maxMs int64) {
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		return 0, 0
	}
	meta, ok := props["_metadata"].(map[string]any)
	if !ok {
		return 0, 0
	}
	return extractInt64(meta, "estimated_duration_ms"), extractInt64(meta, "max_duration_ms")
}

func extractInt64(m map[string]any, key string) int64 {
	switch n := m[key].(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	}
	return 0
}

// parseLatencyFromDescription unmarshals a JSON blob embedded in a tool
// description to extract latency hints.
func parseLatencyFromDescription(desc string) (int64, int64) {
	start := strings.Index(desc, "{")
	end := strings.LastIndex(desc, "}")
	if start < 0 || end < start {
		return 0, 0
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(desc[start:end+1]), &m); err != nil {
		return 0, 0
	}
	return extractInt64(m, "estimated_duration_ms"), extractInt64(m, "max_duration_ms")
}

// schemaToMap converts any schema value to a map[string]any, falling
// back to a bare object schema.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil || m == nil {
		return map[string]any{"type": "object"}
	}
	return m
}

// splitCommand splits a launch line into executable and arguments.
func splitCommand(command string) (executable string, args []string) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return "", nil
	}
	return parts[0], parts[1:]
}
