// Package agent defines the specialist-agent model shared by the composer
// and the supervisor runtime.
//
// A [Definition] names one specialist agent: what it is responsible for, the
// system message it runs under, and the tool names it may call. Definitions
// are produced once at boot by internal/agent/composer from the discovered
// tool catalogue and stay fixed for the lifetime of the process; the
// supervisor uses them to synthesise handoff tools and to run agent turns.
//
// This package lives under internal/ because it encapsulates
// application-private orchestration state and is not intended to be imported
// by external code.
package agent

import "strings"

// Definition describes one specialist agent.
//
// The JSON tags double as the structured-output contract: the composer asks
// the model to reply through a tool call whose arguments decode into
// [Definitions].
type Definition struct {
	// Name is the stable agent identifier (snake_case, prefixed with the
	// source server, e.g. "notionapi_pages"). Handoff tool names are derived
	// from it, so it must not change after composition.
	Name string `json:"name"`

	// Responsibility is a short statement of what the agent handles. The
	// supervisor prompt lists it so the model can route requests.
	Responsibility string `json:"responsibility"`

	// SystemMessage is the system prompt the agent runs under. Policy packs
	// and placeholder rendering are already applied by the composer.
	SystemMessage string `json:"system_message"`

	// Tools lists the tool names this agent may call.
	Tools []string `json:"tools"`

	// SourceServer is the tool server this agent was composed from. Used for
	// policy matching and logging.
	SourceServer string `json:"source_server"`
}

// Definitions is the full set of composed agents, in composition order.
type Definitions struct {
	Agents []Definition `json:"agents"`
}

// Names returns the agent names in definition order.
func (d Definitions) Names() []string {
	names := make([]string, 0, len(d.Agents))
	for _, a := range d.Agents {
		names = append(names, a.Name)
	}
	return names
}

var nameReplacer = strings.NewReplacer(" ", "_", "-", "_")

// NormalizeName canonicalizes an agent or server name to lowercase
// snake_case, e.g. "Notion Pages" -> "notion_pages", "notionApi" ->
// "notionapi".
func NormalizeName(name string) string {
	return strings.ToLower(nameReplacer.Replace(name))
}
