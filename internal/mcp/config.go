package mcp

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
)

// serversFile mirrors the on-disk JSON server catalogue:
//
//	{
//	  "mcpServers": {
//	    "notionApi": {
//	      "command": "npx",
//	      "args": ["-y", "@notionhq/notion-mcp-server"],
//	      "env": {"OPENAPI_MCP_HEADERS": "${OPENAPI_MCP_HEADERS}"}
//	    },
//	    "search": {
//	      "transport": "streamable_http",
//	      "url": "https://tools.example.com/mcp",
//	      "headers": {"Authorization": "Bearer ${SEARCH_TOKEN}"}
//	    }
//	  }
//	}
type serversFile struct {
	MCPServers map[string]serverEntry `json:"mcpServers"`
}

type serverEntry struct {
	Transport string            `json:"transport"`
	Command   string            `json:"command"`
	Args      []string          `json:"args"`
	URL       string            `json:"url"`
	Headers   map[string]string `json:"headers"`
	Env       map[string]string `json:"env"`
}

// placeholderRe matches ${VAR} references in catalogue values.
var placeholderRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// LoadServers reads an MCP server catalogue from path, expands ${VAR}
// environment references in every string value, and returns the server
// configurations sorted by name.
//
// A ${VAR} reference to an unset environment variable is an error: starting
// with a silently broken credential is worse than failing the boot.
func LoadServers(path string) ([]ServerConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mcp: read server catalogue: %w", err)
	}
	return ParseServers(raw)
}

// ParseServers parses a JSON server catalogue. See [LoadServers].
func ParseServers(raw []byte) ([]ServerConfig, error) {
	var file serversFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("mcp: parse server catalogue: %w", err)
	}
	if len(file.MCPServers) == 0 {
		return nil, fmt.Errorf("mcp: server catalogue has no mcpServers entries")
	}

	names := make([]string, 0, len(file.MCPServers))
	for name := range file.MCPServers {
		names = append(names, name)
	}
	sort.Strings(names)

	configs := make([]ServerConfig, 0, len(names))
	for _, name := range names {
		cfg, err := buildServerConfig(name, file.MCPServers[name])
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

func buildServerConfig(name string, entry serverEntry) (ServerConfig, error) {
	transport, err := ParseTransport(entry.Transport)
	if err != nil {
		return ServerConfig{}, fmt.Errorf("mcp: server %q: %w", name, err)
	}
	if transport == "" {
		switch {
		case entry.Command != "":
			transport = TransportStdio
		case entry.URL != "":
			transport = TransportStreamableHTTP
		default:
			return ServerConfig{}, fmt.Errorf("mcp: server %q: neither command nor url set", name)
		}
	}
	if transport == TransportStdio && entry.Command == "" {
		return ServerConfig{}, fmt.Errorf("mcp: server %q: stdio transport requires a command", name)
	}
	if transport == TransportStreamableHTTP && entry.URL == "" {
		return ServerConfig{}, fmt.Errorf("mcp: server %q: streamable-http transport requires a url", name)
	}

	cfg := ServerConfig{
		Name:      name,
		Transport: transport,
	}
	if cfg.Command, err = expandEnv(name, entry.Command); err != nil {
		return ServerConfig{}, err
	}
	if cfg.URL, err = expandEnv(name, entry.URL); err != nil {
		return ServerConfig{}, err
	}
	for _, arg := range entry.Args {
		expanded, err := expandEnv(name, arg)
		if err != nil {
			return ServerConfig{}, err
		}
		cfg.Args = append(cfg.Args, expanded)
	}
	if cfg.Headers, err = expandEnvMap(name, entry.Headers); err != nil {
		return ServerConfig{}, err
	}
	if cfg.Env, err = expandEnvMap(name, entry.Env); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

func expandEnv(server, value string) (string, error) {
	var missing []string
	expanded := placeholderRe.ReplaceAllStringFunc(value, func(match string) string {
		key := placeholderRe.FindStringSubmatch(match)[1]
		v, ok := os.LookupEnv(key)
		if !ok {
			missing = append(missing, key)
			return match
		}
		return v
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("mcp: server %q: unset environment variable(s) %v", server, missing)
	}
	return expanded, nil
}

func expandEnvMap(server string, values map[string]string) (map[string]string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(values))
	for k, v := range values {
		expanded, err := expandEnv(server, v)
		if err != nil {
			return nil, err
		}
		out[k] = expanded
	}
	return out, nil
}
