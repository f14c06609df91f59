// Package mcp defines the interface for a Model Context Protocol (MCP) host.
//
// The MCP host manages connections to one or more MCP servers, maintains a
// catalogue of the tools they expose, and executes tool calls on behalf of
// the agents. Tool names are prefixed with the owning server's name
// ("<server>_<tool>") so that tools from different servers never collide and
// every tool can be traced back to its source.
//
// Lifecycle:
//
//  1. Call [Host.RegisterServer] for each MCP server to connect to.
//  2. Use [Host.Tools] to enumerate the discovered tool catalogue.
//  3. Use [Host.ExecuteTool] to run tools on behalf of agents.
//  4. Call [Host.Close] to release all connections and background goroutines.
//
// All methods must be safe for concurrent use.
package mcp

import (
	"context"

	"github.com/parleyio/parley/pkg/types"
)

// ServerConfig describes how to connect to a single MCP server.
type ServerConfig struct {
	// Name is the identifier for this server. Must be unique within a single
	// [Host]. It becomes the tool-name prefix and the SourceServer tag on
	// every tool the server contributes.
	Name string

	// Transport specifies the connection mechanism. When empty it is
	// inferred: a Command implies [TransportStdio], a URL implies
	// [TransportStreamableHTTP].
	Transport Transport

	// Command is the executable spawned when Transport is stdio.
	Command string

	// Args are the command-line arguments passed to Command.
	Args []string

	// URL is the endpoint address used when Transport is streamable-http.
	URL string

	// Headers holds extra HTTP headers sent on every request when Transport
	// is streamable-http. May be nil.
	Headers map[string]string

	// Env holds additional environment variables injected into the server
	// process when Transport is stdio. May be nil.
	Env map[string]string
}

// ToolResult holds the outcome of a single tool execution.
type ToolResult struct {
	// Content is the tool's textual output, typically a JSON string or
	// human-readable text ready for insertion into an LLM context window.
	Content string

	// IsError indicates that the tool returned an application-level error
	// (as opposed to a transport or protocol failure returned via the Go error
	// return value). When IsError is true, Content contains the error message.
	IsError bool

	// DurationMs is the wall-clock time in milliseconds from when the request
	// was dispatched until the full response was received.
	DurationMs int64
}

// Host manages connections to MCP servers and routes tool calls.
//
// Implementations must be safe for concurrent use.
type Host interface {
	// RegisterServer connects to the MCP server described by cfg and imports
	// its tool catalogue into the host. If a server with the same Name is
	// already registered it is reconnected / refreshed rather than duplicated.
	//
	// Returns an error if the transport cannot be established or the initial
	// tool listing request fails.
	RegisterServer(ctx context.Context, cfg ServerConfig) error

	// Tools returns every discovered tool, sorted by name. Names carry the
	// "<server>_" prefix and each definition's SourceServer names the server
	// that contributed it.
	Tools() []types.ToolDefinition

	// ExecuteTool calls the named tool with JSON-encoded args and returns the
	// result. name must exactly match a [types.ToolDefinition.Name] returned
	// by [Host.Tools].
	//
	// args must be a valid JSON object string conforming to the tool's
	// Parameters schema. An empty object ("{}") is valid for parameter-less tools.
	//
	// A non-nil *ToolResult is returned on success even when [ToolResult.IsError]
	// is true (application-level error). A Go error is returned only on
	// transport or protocol failure.
	ExecuteTool(ctx context.Context, name string, args string) (*ToolResult, error)

	// Close shuts down all server connections and releases associated resources.
	// After Close returns the Host must not be used again.
	Close() error
}
