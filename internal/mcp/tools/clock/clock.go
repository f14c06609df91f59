// Package clock provides the built-in "get_current_datetime" tool.
//
// The supervisor consults it whenever a user request involves relative dates
// ("today", "tomorrow", "next week") so that downstream tools receive concrete
// timestamps instead of the model guessing.
package clock

import (
	"context"
	"time"

	"github.com/parleyio/parley/internal/mcp/tools"
	"github.com/parleyio/parley/pkg/provider/llm"
)

// Name is the tool name registered with the host.
const Name = "get_current_datetime"

// now is swapped out in tests.
var now = time.Now

// NewTool constructs the datetime tool. It takes no arguments and returns the
// current UTC time in ISO 8601 form.
func NewTool() tools.Tool {
	return tools.Tool{
		Definition: llm.ToolDefinition{
			Name:        Name,
			Description: "Get the current date and time in UTC (ISO 8601). Use this before interpreting relative dates such as 'today' or 'next Friday'.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
				"required":   []string{},
			},
			SourceServer: "builtin",
		},
		Handler: func(_ context.Context, _ string) (string, error) {
			return now().UTC().Format(time.RFC3339), nil
		},
	}
}
