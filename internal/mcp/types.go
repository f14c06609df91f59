package mcp

import (
	"fmt"
	"strings"
)

// Transport selects the connection mechanism for an MCP server.
type Transport string

const (
	// TransportStdio spawns a subprocess and communicates over stdin/stdout.
	TransportStdio Transport = "stdio"

	// TransportStreamableHTTP communicates via the MCP Streamable HTTP protocol.
	TransportStreamableHTTP Transport = "streamable-http"
)

// IsValid reports whether t is a recognised transport.
func (t Transport) IsValid() bool {
	return t == TransportStdio || t == TransportStreamableHTTP
}

// ParseTransport normalises a transport name from a server catalogue entry.
// Both the "streamable_http" and "http" spellings map to
// [TransportStreamableHTTP]. An empty name is resolved later from the entry's
// other fields, so it parses to "".
func ParseTransport(s string) (Transport, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return "", nil
	case "stdio":
		return TransportStdio, nil
	case "streamable-http", "streamable_http", "http":
		return TransportStreamableHTTP, nil
	default:
		return "", fmt.Errorf("mcp: unsupported transport %q", s)
	}
}
