package memory

import "strings"

// Limits applied when compacting memory for prompt injection.
const (
	compactMaxEvents = 5
	compactMaxChars  = 500
)

// Compact reduces a memory Context to a small, token-safe blob for the
// supervisor envelope: a handful of profile fields plus the most recent
// events with long strings elided.
func Compact(c Context) map[string]any {
	var profile map[string]any
	if c.UserProfile != nil {
		profile = map[string]any{
			"schema":                            c.UserProfile["schema"],
			"user_id":                           c.UserProfile["user_id"],
			"last_seen_at":                      c.UserProfile["last_seen_at"],
			"last_detected_language":            c.UserProfile["last_detected_language"],
			"reply_in_audio_when_inbound_audio": c.UserProfile["reply_in_audio_when_inbound_audio"],
		}
	}

	events := make([]map[string]any, 0, compactMaxEvents)
	for _, e := range c.RecentEvents {
		if len(events) == compactMaxEvents {
			break
		}
		if e == nil {
			continue
		}
		events = append(events, map[string]any{
			"ts":              e["ts"],
			"conversation_id": e["conversation_id"],
			"original_text":   truncate(str(e["original_text"]), compactMaxChars),
			"english_text":    truncate(str(e["english_text"]), compactMaxChars),
			"reply_text":      truncate(str(e["reply_text"]), compactMaxChars),
			"actions":         stringList(e["actions"]),
		})
	}

	return map[string]any{
		"user_profile":  profile,
		"recent_events": events,
	}
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func stringList(v any) []any {
	if list, ok := v.([]any); ok {
		return list
	}
	return []any{}
}

func truncate(s string, limit int) string {
	s = strings.TrimSpace(s)
	if len(s) <= limit {
		return s
	}
	if limit < 3 {
		return s[:limit]
	}
	return s[:limit-3] + "..."
}
