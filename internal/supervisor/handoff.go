package supervisor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/parleyio/parley/internal/agent"
	"github.com/parleyio/parley/pkg/provider/llm"
)

// handoffPrefix names the synthesized per-agent transfer tools. The routing
// prompt, the grounding filter, and the run loop all key on it.
const handoffPrefix = "transfer_to_"

// transferBackToolName is the tool agents call to end their turn without a
// closing answer.
const transferBackToolName = "transfer_back_to_supervisor"

// transferBackMessage is the tool result recorded when an agent hands
// control back. The output assembler filters the surrounding messages so
// this text never reaches the user.
const transferBackMessage = "Successfully transferred back to supervisor"

// taskInstructionsDescription documents the single handoff argument. It is
// deliberately demanding: vague instructions are the main cause of agents
// answering without attempting their tools.
const taskInstructionsDescription = "Specify EXACTLY what this agent should do, what data they should retrieve,\n" +
	"and what output you expect back. Include any specific parameters or constraints\n" +
	"that will help the agent complete the task successfully."

// handoffToolName derives the transfer tool name for an agent.
func handoffToolName(agentName string) string {
	return handoffPrefix + agent.NormalizeName(agentName)
}

// newHandoffTool builds the transfer_to_<agent> tool definition offered to
// the supervisor for one agent.
func newHandoffTool(agentName string) llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        handoffToolName(agentName),
		Description: fmt.Sprintf("Ask agent '%s' for help", agentName),
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"task_instructions": map[string]any{
					"type":        "string",
					"description": taskInstructionsDescription,
				},
			},
			"required": []string{"task_instructions"},
		},
		SourceServer: "builtin",
	}
}

// transferBackTool is offered to every agent alongside its own tools.
var transferBackTool = llm.ToolDefinition{
	Name:        transferBackToolName,
	Description: "Signal that your task is complete and hand control back to the supervisor.",
	Parameters: map[string]any{
		"type":       "object",
		"properties": map[string]any{},
		"required":   []string{},
	},
	SourceServer: "builtin",
}

// handoffMessage is the tool result recorded for a transfer call. The target
// agent reads its instructions from this message.
func handoffMessage(agentName, taskInstructions string) string {
	return fmt.Sprintf("Successfully transferred to %s.\n\n[INSTRUCTIONS TO FOLLOW]: %s", agentName, taskInstructions)
}

// handoffArgs is the JSON-decoded input of a transfer tool call.
type handoffArgs struct {
	TaskInstructions string `json:"task_instructions"`
}

// parseHandoffArgs extracts task_instructions from a transfer call. Malformed
// arguments degrade to empty instructions rather than failing the turn; the
// target agent still receives the conversation so far.
func parseHandoffArgs(logger *slog.Logger, args string) string {
	if strings.TrimSpace(args) == "" {
		return ""
	}
	var a handoffArgs
	if err := json.Unmarshal([]byte(args), &a); err != nil {
		logger.Warn("malformed handoff arguments", "error", err)
		return ""
	}
	return strings.TrimSpace(a.TaskInstructions)
}
