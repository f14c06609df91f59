package supervisor

import (
	"encoding/json"
	"strings"

	"github.com/parleyio/parley/pkg/provider/llm"
)

// Reply status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Reply is the structured final output of a supervisor run. It is the
// machine-parseable contract between the routing layer and outbound
// delivery: ReplyText must always be safe to send to the user as-is.
type Reply struct {
	// ReplyText is the user-facing reply, already in the desired output
	// language.
	ReplyText string `json:"reply_text"`

	// Status is StatusSuccess or StatusError. It gates the grounded memory
	// write in the worker.
	Status string `json:"status"`

	// Actions lists short descriptions of what the supervisor did, for logs
	// and memory events. Never nil after a successful parse.
	Actions []string `json:"actions"`

	// ErrorMessage is a short user-safe explanation when Status is
	// StatusError.
	ErrorMessage string `json:"error_message,omitempty"`

	// TTSFilePath is the local path of the synthesized audio artifact when
	// the supervisor generated one.
	TTSFilePath string `json:"tts_file_path,omitempty"`

	// TTSFormat is the audio format of TTSFilePath (e.g. "mp3").
	TTSFormat string `json:"tts_format,omitempty"`
}

// parseReply decodes a structured [Reply] from the supervisor's final
// message content. The parse is lenient about surrounding prose and code
// fences but strict about the contract itself: a missing or empty reply_text
// fails the parse. An unknown status degrades to StatusSuccess, matching the
// contract's default.
func parseReply(content string) (Reply, bool) {
	raw := extractJSONObject(content)
	if raw == "" {
		return Reply{}, false
	}
	var r Reply
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return Reply{}, false
	}
	r.ReplyText = strings.TrimSpace(r.ReplyText)
	if r.ReplyText == "" {
		return Reply{}, false
	}
	switch r.Status {
	case StatusSuccess, StatusError:
	default:
		r.Status = StatusSuccess
	}
	if r.Actions == nil {
		r.Actions = []string{}
	}
	return r, true
}

// extractJSONObject returns the first-to-last-brace slice of s, the widest
// candidate for a single JSON object, or "" when s holds none.
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

// internalMessage reports whether m is orchestration plumbing that must
// never surface to the user: tool results, and assistant messages that carry
// a transfer-back call.
func internalMessage(m llm.Message) bool {
	if m.Role == llm.RoleTool {
		return true
	}
	for _, tc := range m.ToolCalls {
		if strings.TrimSpace(tc.Name) == transferBackToolName {
			return true
		}
	}
	return false
}

// assembleReplyText extracts a user-facing reply from a run transcript when
// no structured reply was produced. The supervisor's own last non-empty
// answer wins; otherwise the last non-internal assistant message (typically
// an agent's closing answer) is used; otherwise "".
func assembleReplyText(messages []llm.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if internalMessage(m) || m.Role != llm.RoleAssistant || m.Name != supervisorName {
			continue
		}
		if c := strings.TrimSpace(m.Content); c != "" {
			return c
		}
	}
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if internalMessage(m) || m.Role != llm.RoleAssistant {
			continue
		}
		if c := strings.TrimSpace(m.Content); c != "" {
			return c
		}
	}
	return ""
}
