// Package mcphost provides a concrete implementation of the [mcp.Host] interface.
//
// It connects to MCP servers via stdio or streamable-HTTP transports using the
// official MCP Go SDK (github.com/modelcontextprotocol/go-sdk) and maintains a
// concurrent-safe in-memory tool registry. Discovered tool names are prefixed
// with the owning server's name so tools from different servers never collide.
//
// Typical usage:
//
//	h := mcphost.New()
//
//	// Register an external MCP server.
//	err := h.RegisterServer(ctx, mcp.ServerConfig{
//	    Name:      "notionApi",
//	    Transport: mcp.TransportStdio,
//	    Command:   "npx",
//	    Args:      []string{"-y", "@notionhq/notion-mcp-server"},
//	})
//
//	// Or register a built-in Go function.
//	h.RegisterBuiltin(tools.Tool{
//	    Definition: llm.ToolDefinition{Name: "get_current_datetime", ...},
//	    Handler:    currentDatetime,
//	})
//
//	// Enumerate the catalogue and execute a tool.
//	defs := h.Tools()
//	result, err := h.ExecuteTool(ctx, "notionApi_API-post-search", `{"query": "standup"}`)
//
//	// Shut down when done.
//	h.Close()
package mcphost

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/parleyio/parley/internal/mcp"
	"github.com/parleyio/parley/internal/mcp/tools"
	"github.com/parleyio/parley/pkg/provider/llm"
)

// toolEntry holds all metadata for a single registered tool.
type toolEntry struct {
	def        llm.ToolDefinition
	rawName    string // name on the owning server, without the prefix
	serverName string

	// builtinFn is non-nil for in-process tools registered via RegisterBuiltin.
	builtinFn func(ctx context.Context, args string) (string, error)
}

// serverConn holds a live connection to an external MCP server.
type serverConn struct {
	session *mcpsdk.ClientSession
}

// Host is a concrete implementation of [mcp.Host].
//
// It manages connections to one or more MCP servers (external via stdio /
// streamable-HTTP, or internal Go functions) and routes tool calls by
// prefixed tool name.
//
// The zero value is NOT usable; create instances with [New].
type Host struct {
	mu      sync.RWMutex
	tools   map[string]toolEntry  // key: prefixed tool name
	servers map[string]serverConn // key: server name

	// client is reused across all server connections. The official SDK allows
	// a single Client to manage multiple sessions concurrently.
	client *mcpsdk.Client

	logger *slog.Logger
}

// Compile-time check: Host must implement mcp.Host.
var _ mcp.Host = (*Host)(nil)

// Option configures a Host.
type Option func(*Host)

// WithLogger sets the logger used for registration and discovery messages.
func WithLogger(l *slog.Logger) Option {
	return func(h *Host) {
		if l != nil {
			h.logger = l
		}
	}
}

// New creates and returns a ready-to-use Host.
func New(opts ...Option) *Host {
	client := mcpsdk.NewClient(
		&mcpsdk.Implementation{Name: "parley-mcphost", Version: "1.0.0"},
		nil,
	)
	h := &Host{
		tools:   make(map[string]toolEntry),
		servers: make(map[string]serverConn),
		client:  client,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// RegisterServer connects to the MCP server described by cfg and imports its
// tool catalogue into the host. If a server with the same Name is already
// registered, the old connection is closed and replaced.
//
// For [mcp.TransportStdio] transport: cfg.Command and cfg.Args name the
// subprocess; cfg.Env is added on top of the parent environment.
//
// For [mcp.TransportStreamableHTTP] transport: cfg.URL is the endpoint
// address and cfg.Headers are attached to every request.
//
// Returns an error if the transport cannot be established or the initial tool
// listing fails.
func (h *Host) RegisterServer(ctx context.Context, cfg mcp.ServerConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("mcp host: server config must have a non-empty name")
	}
	if !cfg.Transport.IsValid() {
		return fmt.Errorf("mcp host: unknown transport %q for server %q", cfg.Transport, cfg.Name)
	}

	var transport mcpsdk.Transport

	switch cfg.Transport {
	case mcp.TransportStdio:
		if cfg.Command == "" {
			return fmt.Errorf("mcp host: stdio server %q requires a non-empty Command", cfg.Name)
		}
		cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
		cmd.Env = os.Environ()
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}

	case mcp.TransportStreamableHTTP:
		if cfg.URL == "" {
			return fmt.Errorf("mcp host: streamable-http server %q requires a non-empty URL", cfg.Name)
		}
		st := &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
		if len(cfg.Headers) > 0 {
			st.HTTPClient = &http.Client{
				Transport: &headerRoundTripper{headers: cfg.Headers, base: http.DefaultTransport},
			}
		}
		transport = st
	}

	session, err := h.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("mcp host: failed to connect to server %q: %w", cfg.Name, err)
	}

	// Discover tools using the iterator.
	var discoveredTools []mcpsdk.Tool
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return fmt.Errorf("mcp host: failed to list tools for server %q: %w", cfg.Name, err)
		}
		discoveredTools = append(discoveredTools, *tool)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	// Close the old connection if it exists.
	if old, ok := h.servers[cfg.Name]; ok {
		_ = old.session.Close()
		// Remove tools that belonged to this server.
		for name, t := range h.tools {
			if t.serverName == cfg.Name {
				delete(h.tools, name)
			}
		}
	}

	h.servers[cfg.Name] = serverConn{session: session}

	for _, mcpTool := range discoveredTools {
		entry := buildToolEntry(mcpTool, cfg.Name)
		h.tools[entry.def.Name] = entry
	}

	h.logger.Info("registered MCP server",
		"server", cfg.Name,
		"transport", string(cfg.Transport),
		"tools", len(discoveredTools))

	return nil
}

// RegisterBuiltin registers an in-process tool. The definition is taken as-is:
// builtin packages pick their own names and SourceServer tags. A tool with the
// same name replaces the previous registration.
func (h *Host) RegisterBuiltin(t tools.Tool) error {
	if t.Definition.Name == "" {
		return fmt.Errorf("mcp host: builtin tool must have a non-empty name")
	}
	if t.Handler == nil {
		return fmt.Errorf("mcp host: builtin tool %q must have a handler", t.Definition.Name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.tools[t.Definition.Name] = toolEntry{
		def:        t.Definition,
		rawName:    t.Definition.Name,
		serverName: t.Definition.SourceServer,
		builtinFn:  t.Handler,
	}
	return nil
}

// buildToolEntry converts an official SDK Tool into an internal toolEntry,
// applying the "<server>_" name prefix.
func buildToolEntry(t mcpsdk.Tool, serverName string) toolEntry {
	def := llm.ToolDefinition{
		Name:         serverName + "_" + t.Name,
		Description:  t.Description,
		Parameters:   schemaToMap(t.InputSchema),
		SourceServer: serverName,
	}
	return toolEntry{
		def:        def,
		rawName:    t.Name,
		serverName: serverName,
	}
}

// schemaToMap converts any schema value to a map[string]any.
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
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	return m
}

// Tools returns every registered tool definition, sorted by name.
func (h *Host) Tools() []llm.ToolDefinition {
	h.mu.RLock()
	defer h.mu.RUnlock()

	defs := make([]llm.ToolDefinition, 0, len(h.tools))
	for _, e := range h.tools {
		defs = append(defs, e.def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// ExecuteTool calls the named tool with JSON-encoded args and returns the
// result. name must exactly match a [llm.ToolDefinition.Name] returned by
// [Host.Tools].
//
// args must be a valid JSON object string. An empty object ("{}") is valid for
// parameter-less tools.
//
// A non-nil *ToolResult is returned on success even when [mcp.ToolResult.IsError]
// is true (application-level error). A Go error is returned only on transport
// or protocol failure.
func (h *Host) ExecuteTool(ctx context.Context, name string, args string) (*mcp.ToolResult, error) {
	h.mu.RLock()
	entry, ok := h.tools[name]
	h.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("mcp host: tool %q not found", name)
	}

	start := time.Now()

	var result *mcp.ToolResult
	var execErr error

	if entry.builtinFn != nil {
		result, execErr = h.executeBuiltin(ctx, entry, args)
	} else {
		result, execErr = h.executeMCPTool(ctx, entry, args)
	}

	if execErr != nil {
		return nil, execErr
	}
	result.DurationMs = time.Since(start).Milliseconds()
	return result, nil
}

// executeBuiltin calls the in-process handler for a builtin tool.
func (h *Host) executeBuiltin(ctx context.Context, entry toolEntry, args string) (*mcp.ToolResult, error) {
	output, err := entry.builtinFn(ctx, args)
	if err != nil {
		return &mcp.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	return &mcp.ToolResult{Content: output}, nil
}

// executeMCPTool routes the call to the appropriate server session using the
// tool's unprefixed name.
func (h *Host) executeMCPTool(ctx context.Context, entry toolEntry, args string) (*mcp.ToolResult, error) {
	h.mu.RLock()
	conn, ok := h.servers[entry.serverName]
	h.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("mcp host: server %q not found for tool %q", entry.serverName, entry.def.Name)
	}

	// Decode args into a map for the SDK.
	var argsMap map[string]any
	if args != "" && args != "{}" {
		if err := json.Unmarshal([]byte(args), &argsMap); err != nil {
			return nil, fmt.Errorf("mcp host: invalid args JSON for tool %q: %w", entry.def.Name, err)
		}
	}

	callResult, err := conn.session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      entry.rawName,
		Arguments: argsMap,
	})
	if err != nil {
		return nil, fmt.Errorf("mcp host: call to tool %q failed: %w", entry.def.Name, err)
	}

	// Concatenate all text content from the result.
	var sb strings.Builder
	for _, c := range callResult.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}

	return &mcp.ToolResult{
		Content: sb.String(),
		IsError: callResult.IsError,
	}, nil
}

// Close shuts down all server connections and releases associated resources.
// After Close returns the Host must not be used again.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var firstErr error
	for name, conn := range h.servers {
		if err := conn.session.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("mcp host: error closing server %q: %w", name, err)
		}
		delete(h.servers, name)
	}

	// Clear the tool registry.
	h.tools = make(map[string]toolEntry)

	return firstErr
}

// headerRoundTripper attaches static headers to every outgoing request.
type headerRoundTripper struct {
	headers map[string]string
	base    http.RoundTripper
}

func (rt *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	for k, v := range rt.headers {
		clone.Header.Set(k, v)
	}
	return rt.base.RoundTrip(clone)
}
