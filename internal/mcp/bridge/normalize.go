package bridge

import (
	"encoding/json"
	"strings"
	"time"
)

// repeatWindow bounds how long two identical provider validation errors count
// as a repeat.
const repeatWindow = 60 * time.Second

// repeatKey identifies a provider validation error for repeat counting.
type repeatKey struct {
	tool    string
	message string
}

type repeatEntry struct {
	count    int
	lastSeen time.Time
}

// normalizeProviderError detects a provider HTTP 400 validation_error payload
// in a tool result and rewrites it into the stable provider_validation
// contract, so agents can reliably repair or stop. It reports false when the
// result is not such a payload.
func (h *Hardener) normalizeProviderError(tool, result string) (string, bool) {
	txt := extractJSONText(result)
	if txt == "" {
		return "", false
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(txt), &data); err != nil {
		return "", false
	}
	status, _ := data["status"].(float64)
	code, _ := data["code"].(string)
	if status != 400 || code != "validation_error" {
		return "", false
	}

	msg, _ := data["message"].(string)
	count := h.repeatCount(tool, msg)

	payload := marshalPayload(map[string]any{
		"error_type":   "validation_error",
		"source":       "provider_validation",
		"tool":         tool,
		"message":      msg,
		"request_id":   data["request_id"],
		"repeat_count": count,
		"retry_policy": "retry_once_then_stop",
		"guidance": "Fix the request payload to match the provider's documented shapes. " +
			"If repeat_count>=2, stop retrying and ask for clarification.",
		"raw": data,
	})

	h.logger.Warn("normalized provider validation error", "tool", tool, "repeat_count", count)
	return payload, true
}

// repeatCount increments and returns the repeat counter for (tool, message).
// A repeat outside the window restarts at 1.
func (h *Hardener) repeatCount(tool, message string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	key := repeatKey{tool: tool, message: message}
	now := h.now()
	h.sweepRepeatsLocked(now)

	count := 1
	if prev, ok := h.repeats[key]; ok && now.Sub(prev.lastSeen) <= repeatWindow {
		count = prev.count + 1
	}
	h.repeats[key] = repeatEntry{count: count, lastSeen: now}
	return count
}

// sweepRepeatsLocked drops entries whose window has lapsed, at most once per
// window, so the map stays bounded by the distinct errors of the last minute.
func (h *Hardener) sweepRepeatsLocked(now time.Time) {
	if now.Sub(h.lastSweep) < repeatWindow {
		return
	}
	h.lastSweep = now
	for key, entry := range h.repeats {
		if now.Sub(entry.lastSeen) > repeatWindow {
			delete(h.repeats, key)
		}
	}
}

// extractJSONText pulls JSON-ish text out of an MCP tool result. Observed
// shapes include a plain JSON string and a serialized content list like
// [{"type":"text","text":"{...json...}"}].
func extractJSONText(result string) string {
	trimmed := strings.TrimSpace(result)
	if !strings.HasPrefix(trimmed, "[") {
		return trimmed
	}

	var arr []any
	if err := json.Unmarshal([]byte(trimmed), &arr); err != nil || len(arr) == 0 {
		return trimmed
	}
	first, ok := arr[0].(map[string]any)
	if !ok {
		return trimmed
	}
	if txt, ok := first["text"].(string); ok {
		return txt
	}
	return trimmed
}
