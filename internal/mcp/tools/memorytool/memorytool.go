// Package memorytool provides the built-in "memory_get_context" tool.
//
// The tool exposes the conversation memory (user profile, conversation state,
// recent events) to the supervisor so it can personalise replies. The user and
// conversation identity normally travel on the request context, attached by
// the worker via [WithIdentity]; explicit user_id / conversation_id arguments
// take precedence when the model supplies them.
//
// All handlers are safe for concurrent use.
package memorytool

import (
	"context"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/parleyio/parley/internal/mcp/tools"
	"github.com/parleyio/parley/internal/memory"
	"github.com/parleyio/parley/pkg/provider/llm"
)

// Name is the tool name registered with the host.
const Name = "memory_get_context"

// eventValueLimit caps each string field of a recent event so one verbose
// tool payload cannot flood the supervisor's context window.
const eventValueLimit = 600

// ContextReader is the slice of the memory store the tool depends on.
// *memory.Store satisfies it.
type ContextReader interface {
	GetContext(ctx context.Context, userID, conversationID string) (memory.Context, error)
}

var _ ContextReader = (*memory.Store)(nil)

// identityKey carries the request identity on the context.
type identityKey struct{}

type identity struct {
	userID         string
	conversationID string
}

// WithIdentity returns a context carrying the user and conversation identity
// that [Name] resolves when the model omits the ids.
func WithIdentity(ctx context.Context, userID, conversationID string) context.Context {
	return context.WithValue(ctx, identityKey{}, identity{userID: userID, conversationID: conversationID})
}

// identityFromContext returns the identity attached to ctx, if any.
func identityFromContext(ctx context.Context) (identity, bool) {
	id, ok := ctx.Value(identityKey{}).(identity)
	return id, ok
}

// ─────────────────────────────────────────────────────────────────────────────
// memory_get_context
// ─────────────────────────────────────────────────────────────────────────────

// getContextArgs is the JSON-decoded input for the "memory_get_context" tool.
type getContextArgs struct {
	// UserID overrides the identity on the request context. Usually omitted.
	UserID string `json:"user_id,omitempty"`

	// ConversationID overrides the identity on the request context.
	ConversationID string `json:"conversation_id,omitempty"`
}

// makeGetContextHandler returns the handler for the "memory_get_context" tool.
func makeGetContextHandler(store ContextReader) func(context.Context, string) (string, error) {
	return func(ctx context.Context, args string) (string, error) {
		var a getContextArgs
		if args != "" {
			if err := json.Unmarshal([]byte(args), &a); err != nil {
				return "", fmt.Errorf("memory tool: %s: failed to parse arguments: %w", Name, err)
			}
		}

		userID, conversationID := a.UserID, a.ConversationID
		if id, ok := identityFromContext(ctx); ok {
			if userID == "" {
				userID = id.userID
			}
			if conversationID == "" {
				conversationID = id.conversationID
			}
		}
		if userID == "" {
			return "", fmt.Errorf("memory tool: %s: no user identity on request", Name)
		}

		mc, err := store.GetContext(ctx, userID, conversationID)
		if err != nil {
			return "", fmt.Errorf("memory tool: %s: %w", Name, err)
		}

		payload := map[string]any{
			"user_profile":       mc.UserProfile,
			"conversation_state": mc.ConversationState,
			"recent_events":      truncateEvents(mc.RecentEvents),
		}
		res, err := json.Marshal(payload)
		if err != nil {
			return "", fmt.Errorf("memory tool: %s: failed to encode result: %w", Name, err)
		}
		return string(res), nil
	}
}

// truncateEvents caps every string field of every event at eventValueLimit.
func truncateEvents(events []map[string]any) []map[string]any {
	out := make([]map[string]any, 0, len(events))
	for _, ev := range events {
		compact := make(map[string]any, len(ev))
		for k, v := range ev {
			if s, ok := v.(string); ok && len(s) > eventValueLimit {
				// Cut on a rune boundary so the payload stays valid UTF-8.
				cut := eventValueLimit - 3
				for cut > 0 && !utf8.RuneStart(s[cut]) {
					cut--
				}
				compact[k] = s[:cut] + "..."
				continue
			}
			compact[k] = v
		}
		out = append(out, compact)
	}
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// NewTool
// ─────────────────────────────────────────────────────────────────────────────

// NewTool constructs the memory context tool, wired to the provided store.
func NewTool(store ContextReader) tools.Tool {
	return tools.Tool{
		Definition: llm.ToolDefinition{
			Name:        Name,
			Description: "Fetch the stored memory for the current user and conversation: the user profile, the conversation state, and the most recent interaction events. Call this before answering questions that depend on earlier exchanges or stored preferences.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"user_id": map[string]any{
						"type":        "string",
						"description": "Override the user id. Normally omitted; the request identity is used.",
					},
					"conversation_id": map[string]any{
						"type":        "string",
						"description": "Override the conversation id. Normally omitted; the request identity is used.",
					},
				},
				"required": []string{},
			},
			SourceServer: "builtin",
		},
		Handler: makeGetContextHandler(store),
	}
}
