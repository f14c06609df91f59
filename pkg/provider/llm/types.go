package llm

import "github.com/parleyio/parley/pkg/types"

// Message role values, re-exported from pkg/types.
const (
	RoleSystem    = types.RoleSystem
	RoleUser      = types.RoleUser
	RoleAssistant = types.RoleAssistant
	RoleTool      = types.RoleTool
)

// The conversation types are shared with the rest of the gateway through
// pkg/types. They are aliased here so provider implementations and their
// callers can work entirely in terms of this package.
type (
	// Message is a single message in an LLM conversation history.
	Message = types.Message

	// ToolCall is a tool/function invocation requested by the model.
	ToolCall = types.ToolCall

	// ToolDefinition describes a tool that can be offered to the model.
	ToolDefinition = types.ToolDefinition

	// ModelCapabilities describes what an LLM model supports.
	ModelCapabilities = types.ModelCapabilities
)
