// Package composer groups the discovered tool catalogue into specialist
// agent definitions.
//
// Composition runs once at boot, one LLM categorization round per source
// server:
//
//  1. Tools are grouped by their SourceServer tag (catalogue order).
//  2. Each group is rendered into a categorization prompt together with any
//     operator-pinned server rules.
//  3. The model replies through a single "define_agents" tool call whose
//     arguments decode into [agent.Definitions]; a JSON object in plain
//     content is accepted as a fallback.
//  4. Post-processing normalizes agent names, applies policy packs, renders
//     {{KEY}} placeholders, and enforces the assignment invariants on model
//     output: operator-pinned agents are present verbatim, every tool belongs
//     to exactly one agent, and no agent exceeds the per-agent tool cap.
//
// When a categorization round fails outright, the server degrades to a
// single agent holding all of its tools, so a flaky composition model never
// leaves a tool server unreachable.
package composer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/parleyio/parley/internal/agent"
	"github.com/parleyio/parley/pkg/provider/llm"
)

const (
	// defineAgentsToolName is the structured-output tool offered to the model.
	defineAgentsToolName = "define_agents"

	// defaultMaxToolsPerAgent caps agent size when no override is configured.
	defaultMaxToolsPerAgent = 6
)

// composerSystemPrompt pins the model to structured output.
const composerSystemPrompt = "You are an agent-composition engine. Record your answer by calling the " +
	defineAgentsToolName + " tool exactly once with the complete list of agents. Never answer in plain text."

// schemaRepairRule is guaranteed to appear in every composed system message.
const schemaRepairRule = "When a tool call fails with a validation error, consult the tool's args_schema, fix the arguments, and retry at most once."

// ServerRules constrains how one tool server's tools are grouped. Rules are
// rendered into the categorization prompt as the primary source of truth.
type ServerRules struct {
	// DesiredAgents are taken verbatim: the model must create agents with
	// exactly these names and tool assignments.
	DesiredAgents []DesiredAgent

	// BlacklistedTools are filtered out at discovery; they are echoed in the
	// prompt so the model never reintroduces them.
	BlacklistedTools []string
}

// DesiredAgent pins one agent the operator wants composed as-is.
type DesiredAgent struct {
	Name           string   `json:"name"`
	Responsibility string   `json:"responsibility,omitempty"`
	Tools          []string `json:"tools"`
}

// PolicyPack injects system-message fragments into composed agents whose
// tools come from matching servers.
type PolicyPack struct {
	Match  PolicyMatch
	Inject PolicyInject
}

// PolicyMatch selects agents by tool source server. "*" matches every agent.
type PolicyMatch struct {
	SourceServers []string
}

// Matches reports whether the pack applies to agents from the given server.
func (p PolicyPack) Matches(server string) bool {
	for _, s := range p.Match.SourceServers {
		if s == "*" || s == server {
			return true
		}
	}
	return false
}

// PolicyInject holds the fragments merged around the composed system message.
type PolicyInject struct {
	PrependSystemMessage string
	AppendSystemMessage  []string
}

// Composer turns a tool catalogue into agent definitions using an LLM.
// Safe for concurrent use after construction; all fields are immutable.
type Composer struct {
	model        llm.Provider
	logger       *slog.Logger
	maxTools     int
	rules        map[string]ServerRules
	policies     []PolicyPack
	placeholders map[string]string
}

// Option is a functional option for [NewComposer].
type Option func(*Composer)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Composer) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMaxToolsPerAgent caps how many tools the model may assign to one
// agent. Values <= 0 keep the default of 6.
func WithMaxToolsPerAgent(n int) Option {
	return func(c *Composer) {
		if n > 0 {
			c.maxTools = n
		}
	}
}

// WithServerRules pins per-server composition constraints, keyed by server
// name.
func WithServerRules(rules map[string]ServerRules) Option {
	return func(c *Composer) { c.rules = rules }
}

// WithPolicies registers policy packs applied to every composed agent.
func WithPolicies(packs []PolicyPack) Option {
	return func(c *Composer) { c.policies = packs }
}

// WithPlaceholders supplies values for {{KEY}} markers in composed system
// messages. Keys missing here fall back to environment variables.
func WithPlaceholders(values map[string]string) Option {
	return func(c *Composer) { c.placeholders = values }
}

// NewComposer creates a Composer backed by the given model.
func NewComposer(model llm.Provider, opts ...Option) *Composer {
	c := &Composer{
		model:    model,
		logger:   slog.Default(),
		maxTools: defaultMaxToolsPerAgent,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Compose groups the catalogue into agent definitions, one categorization
// round per source server. Servers are processed in catalogue order so
// composition is deterministic for a fixed discovery result.
//
// Compose never fails as a whole: a server whose round errors out falls back
// to a single agent holding all of its tools.
func (c *Composer) Compose(ctx context.Context, catalogue []llm.ToolDefinition) agent.Definitions {
	if len(catalogue) == 0 {
		c.logger.Warn("no tools available, agent definitions will be empty")
		return agent.Definitions{}
	}

	byServer := map[string][]llm.ToolDefinition{}
	var order []string
	for _, def := range catalogue {
		server := def.SourceServer
		if server == "" {
			server = "local"
		}
		if _, ok := byServer[server]; !ok {
			order = append(order, server)
		}
		byServer[server] = append(byServer[server], def)
	}

	var all agent.Definitions
	for _, server := range order {
		defs := c.composeServer(ctx, server, byServer[server])
		all.Agents = append(all.Agents, defs.Agents...)
	}

	c.logger.Info("agent definitions composed", "servers", len(order), "agents", len(all.Agents))
	return all
}

// composeServer runs one categorization round for a single server's tools.
func (c *Composer) composeServer(ctx context.Context, server string, defs []llm.ToolDefinition) agent.Definitions {
	rules, hasRules := c.rules[server]

	c.logger.Info("composing agents",
		"server", server,
		"tools", len(defs),
		"max_tools_per_agent", c.maxTools,
		"has_rules", hasRules)

	composed, err := c.categorize(ctx, server, defs, rules, hasRules)
	enforce := err == nil
	if err != nil {
		c.logger.Error("agent categorization failed, falling back to one agent per server",
			"server", server, "error", err)
		composed = c.fallbackDefinitions(server, defs)
	}

	// The deterministic fallback is correct by construction; only model
	// output needs the assignment invariants enforced.
	return c.postprocess(server, defs, composed, enforce)
}

// categorize builds the prompt for one server and parses the model's
// structured reply.
func (c *Composer) categorize(ctx context.Context, server string, defs []llm.ToolDefinition, rules ServerRules, hasRules bool) (agent.Definitions, error) {
	var rulesPtr *ServerRules
	if hasRules {
		rulesPtr = &rules
	}

	prompt, err := buildPrompt(server, defs, rulesPtr, c.maxTools)
	if err != nil {
		return agent.Definitions{}, err
	}

	resp, err := c.model.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: composerSystemPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Tools:        []llm.ToolDefinition{defineAgentsTool},
	})
	if err != nil {
		return agent.Definitions{}, fmt.Errorf("composer: categorization request: %w", err)
	}
	if resp == nil {
		return agent.Definitions{}, errors.New("composer: empty categorization response")
	}

	raw := ""
	for _, tc := range resp.ToolCalls {
		if tc.Name == defineAgentsToolName {
			raw = tc.Arguments
			break
		}
	}
	if raw == "" {
		raw = extractJSONObject(resp.Content)
	}
	if raw == "" {
		return agent.Definitions{}, errors.New("composer: no structured agent definitions in response")
	}

	var composed agent.Definitions
	if err := json.Unmarshal([]byte(raw), &composed); err != nil {
		return agent.Definitions{}, fmt.Errorf("composer: decode agent definitions: %w", err)
	}
	if len(composed.Agents) == 0 {
		return agent.Definitions{}, errors.New("composer: model returned no agents")
	}
	return composed, nil
}

// fallbackDefinitions covers a server with a single agent holding all of its
// tools.
func (c *Composer) fallbackDefinitions(server string, defs []llm.ToolDefinition) agent.Definitions {
	names := make([]string, 0, len(defs))
	for _, d := range defs {
		names = append(names, d.Name)
	}
	return agent.Definitions{Agents: []agent.Definition{{
		Name:           agent.NormalizeName(server),
		Responsibility: fmt.Sprintf("Handles all operations of the %s tools.", server),
		SystemMessage: fmt.Sprintf("You operate the %s tools. Pick the single best tool for each task and call it with arguments matching its schema. %s",
			server, schemaRepairRule),
		Tools:        names,
		SourceServer: server,
	}}}
}

// defineAgentsTool types the model's structured reply. Its parameter schema
// mirrors [agent.Definitions].
var defineAgentsTool = llm.ToolDefinition{
	Name:        defineAgentsToolName,
	Description: "Record the final agent definitions. Call exactly once with every agent.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"agents": map[string]any{
				"type":        "array",
				"description": "List of agent definitions",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"name": map[string]any{
							"type":        "string",
							"description": "Stable agent identifier",
						},
						"responsibility": map[string]any{
							"type":        "string",
							"description": "Agent responsibility",
						},
						"system_message": map[string]any{
							"type":        "string",
							"description": "Agent system message",
						},
						"tools": map[string]any{
							"type":        "array",
							"items":       map[string]any{"type": "string"},
							"description": "Tool names assigned to this agent",
						},
						"source_server": map[string]any{
							"type":        "string",
							"description": "Source MCP server for this agent",
						},
					},
					"required": []string{"name", "responsibility", "system_message", "tools", "source_server"},
				},
			},
		},
		"required": []string{"agents"},
	},
}

// extractJSONObject returns the first top-level {...} block in s, or "".
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
