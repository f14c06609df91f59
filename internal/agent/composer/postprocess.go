package composer

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/parleyio/parley/internal/agent"
	"github.com/parleyio/parley/pkg/provider/llm"
)

var placeholderRe = regexp.MustCompile(`\{\{([A-Z0-9_]+)\}\}`)

// postprocess normalizes a categorization result: agent names become
// canonical, empty source servers default to the composed server, policy
// packs and placeholders are rendered, and the schema-repair rule is
// guaranteed. With enforce set (model output, not the deterministic
// fallback) it additionally post-checks the assignment invariants: pinned
// agents present verbatim, each tool owned by exactly one agent, coverage of
// the full catalogue, and no agent over the tool cap.
func (c *Composer) postprocess(server string, defs []llm.ToolDefinition, composed agent.Definitions, enforce bool) agent.Definitions {
	if enforce {
		composed = c.ensureDesiredAgents(server, composed)
	}

	for i := range composed.Agents {
		a := &composed.Agents[i]
		a.Name = agent.NormalizeName(a.Name)
		if a.SourceServer == "" {
			a.SourceServer = server
		}

		applied := c.applyPolicies(a)
		if applied > 0 {
			c.logger.Debug("policy packs applied", "agent", a.Name, "server", a.SourceServer, "packs", applied)
		}

		if !strings.Contains(strings.ToLower(a.SystemMessage), "args_schema") {
			a.SystemMessage = strings.TrimSpace(a.SystemMessage + "\n\n" + schemaRepairRule)
		}
	}

	if enforce {
		composed = c.dedupeAssignments(server, defs, composed)
	}

	assigned := map[string]bool{}
	for _, a := range composed.Agents {
		for _, t := range a.Tools {
			assigned[t] = true
		}
	}
	var missing []string
	for _, d := range defs {
		if !assigned[d.Name] {
			missing = append(missing, d.Name)
		}
	}
	if len(missing) > 0 {
		c.logger.Warn("model left tools unassigned", "server", server, "missing", missing)
		c.assignMissing(&composed, missing)
	}

	if enforce {
		composed = c.splitOverflow(server, composed)
	}

	return composed
}

// ensureDesiredAgents makes the operator-pinned agents from the server rules
// present verbatim: an existing agent gets exactly the pinned tool set, and a
// pinned agent the model dropped or renamed away is injected.
func (c *Composer) ensureDesiredAgents(server string, composed agent.Definitions) agent.Definitions {
	for _, da := range c.rules[server].DesiredAgents {
		want := agent.NormalizeName(da.Name)
		found := false
		for i := range composed.Agents {
			if agent.NormalizeName(composed.Agents[i].Name) != want {
				continue
			}
			a := &composed.Agents[i]
			a.Tools = append([]string(nil), da.Tools...)
			if da.Responsibility != "" {
				a.Responsibility = da.Responsibility
			}
			found = true
			break
		}
		if found {
			continue
		}
		c.logger.Warn("pinned agent missing from model output, injecting", "server", server, "agent", want)
		composed.Agents = append(composed.Agents, agent.Definition{
			Name:           want,
			Responsibility: da.Responsibility,
			SystemMessage: fmt.Sprintf("You operate the %s tools. Pick the single best tool for each task and call it with arguments matching its schema.",
				server),
			Tools:        append([]string(nil), da.Tools...),
			SourceServer: server,
		})
	}
	return composed
}

// dedupeAssignments enforces the one-owner rule: a tool assigned to several
// agents stays with its first assignee, operator-pinned agents claiming
// before the rest, and names outside the server's catalogue are dropped.
func (c *Composer) dedupeAssignments(server string, defs []llm.ToolDefinition, composed agent.Definitions) agent.Definitions {
	known := make(map[string]bool, len(defs))
	for _, d := range defs {
		known[d.Name] = true
	}

	pinned := map[string]bool{}
	for _, da := range c.rules[server].DesiredAgents {
		pinned[agent.NormalizeName(da.Name)] = true
	}

	owner := map[string]string{}
	for _, a := range composed.Agents {
		if !pinned[a.Name] {
			continue
		}
		for _, t := range a.Tools {
			if _, ok := owner[t]; !ok {
				owner[t] = a.Name
			}
		}
	}

	for i := range composed.Agents {
		a := &composed.Agents[i]
		kept := make([]string, 0, len(a.Tools))
		seen := map[string]bool{}
		for _, t := range a.Tools {
			if len(known) > 0 && !known[t] {
				c.logger.Warn("dropping tool outside the server catalogue", "server", server, "agent", a.Name, "tool", t)
				continue
			}
			if o, ok := owner[t]; ok && o != a.Name {
				c.logger.Warn("tool assigned to several agents, keeping first assignee",
					"server", server, "tool", t, "kept", o, "dropped_from", a.Name)
				continue
			}
			if seen[t] {
				continue
			}
			owner[t] = a.Name
			seen[t] = true
			kept = append(kept, t)
		}
		a.Tools = kept
	}
	return composed
}

// assignMissing attaches unassigned tools to the first agent with room under
// the cap, falling back to the first agent when every one is full.
func (c *Composer) assignMissing(composed *agent.Definitions, missing []string) {
	if len(composed.Agents) == 0 {
		return
	}
	for _, tool := range missing {
		target := 0
		for i := range composed.Agents {
			if len(composed.Agents[i].Tools) < c.maxTools {
				target = i
				break
			}
		}
		composed.Agents[target].Tools = append(composed.Agents[target].Tools, tool)
	}
}

// splitOverflow re-chunks any agent holding more tools than the cap into
// numbered siblings sharing its responsibility and system message.
func (c *Composer) splitOverflow(server string, composed agent.Definitions) agent.Definitions {
	out := make([]agent.Definition, 0, len(composed.Agents))
	for _, a := range composed.Agents {
		if len(a.Tools) <= c.maxTools {
			out = append(out, a)
			continue
		}
		c.logger.Warn("agent exceeds the tool cap, splitting",
			"server", server, "agent", a.Name, "tools", len(a.Tools), "max_tools_per_agent", c.maxTools)
		tools := a.Tools
		a.Tools = tools[:c.maxTools]
		out = append(out, a)
		for part, rest := 2, tools[c.maxTools:]; len(rest) > 0; part++ {
			sibling := a
			sibling.Name = fmt.Sprintf("%s_%d", a.Name, part)
			n := min(c.maxTools, len(rest))
			sibling.Tools = rest[:n]
			rest = rest[n:]
			out = append(out, sibling)
		}
	}
	composed.Agents = out
	return composed
}

// applyPolicies merges matching policy-pack fragments around the agent's
// system message (prepends, then the original, then appends, joined by blank
// lines) and renders placeholders. Returns how many packs matched.
func (c *Composer) applyPolicies(a *agent.Definition) int {
	var prepends, appends []string
	applied := 0
	for _, pack := range c.policies {
		if !pack.Matches(a.SourceServer) {
			continue
		}
		if s := strings.TrimSpace(pack.Inject.PrependSystemMessage); s != "" {
			prepends = append(prepends, s)
		}
		for _, line := range pack.Inject.AppendSystemMessage {
			if strings.TrimSpace(line) == "" {
				continue
			}
			appends = append(appends, strings.TrimRight(line, " \t\r\n"))
		}
		applied++
	}

	parts := append([]string{}, prepends...)
	parts = append(parts, strings.TrimSpace(a.SystemMessage))
	if len(appends) > 0 {
		parts = append(parts, strings.TrimSpace(strings.Join(appends, "\n")))
	}
	a.SystemMessage = c.renderPlaceholders(strings.TrimSpace(strings.Join(parts, "\n\n")))

	return applied
}

// renderPlaceholders substitutes {{KEY}} markers. Resolution order: the
// configured placeholder map by exact key, then by lowercase key, then the
// environment. Unresolved markers are kept verbatim and logged.
func (c *Composer) renderPlaceholders(text string) string {
	if text == "" {
		return text
	}
	return placeholderRe.ReplaceAllStringFunc(text, func(m string) string {
		key := m[2 : len(m)-2]
		if val := c.resolvePlaceholder(key); val != "" {
			return val
		}
		c.logger.Warn("prompt placeholder unresolved", "key", key)
		return m
	})
}

func (c *Composer) resolvePlaceholder(key string) string {
	if v := c.placeholders[key]; v != "" {
		return v
	}
	if v := c.placeholders[strings.ToLower(key)]; v != "" {
		return v
	}
	return os.Getenv(key)
}
