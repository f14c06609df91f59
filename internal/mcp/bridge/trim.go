package bridge

import (
	"encoding/json"
	"strings"
	"unicode/utf8"
)

// Trimming targets the Notion MCP tools, whose raw JSON payloads routinely
// run 10k-20k prompt tokens when fed back to the model. Summaries carry a
// stable schema marker so agents can rely on the compact shape.
const (
	notionToolPrefix = "notionApi_"
	notionSearchTool = "notionApi_API-post-search"
)

// notionPageTools are the page-retrieval tool names seen across Notion MCP
// server versions.
var notionPageTools = map[string]struct{}{
	"notionApi_API-retrieve-a-page": {},
	"notionApi_API-get-page":        {},
	"notionApi_API-retrieve-page":   {},
}

// maybeTrim compresses oversized outputs of high-volume tools. Outputs of
// tools outside the trimming scope, and payloads that are not JSON objects,
// pass through unchanged.
func (h *Hardener) maybeTrim(toolName string, args map[string]any, result string) string {
	if !strings.HasPrefix(toolName, notionToolPrefix) {
		return result
	}
	if !h.trimEnabled {
		return result
	}

	obj := decodeResultObject(result)
	if obj == nil {
		return result
	}

	switch {
	case toolName == notionSearchTool:
		var query any
		if q, ok := args["query"].(string); ok {
			query = q
		}
		return truncate(marshalPayload(h.summarizeNotionSearch(obj, query)), h.trimMaxChars)

	default:
		if _, ok := notionPageTools[toolName]; ok {
			return truncate(marshalPayload(summarizeNotionPage(obj)), h.trimMaxChars)
		}
	}

	// Other Notion tools: hard cap only when the payload is large.
	dumped, err := json.Marshal(obj)
	if err != nil {
		return result
	}
	if len(dumped) > h.trimMaxChars {
		return truncate(string(dumped), h.trimMaxChars)
	}
	return result
}

// decodeResultObject unwraps the observed MCP result shapes down to a JSON
// object, or nil when the result is not object-shaped.
func decodeResultObject(result string) map[string]any {
	txt := extractJSONText(result)
	if txt == "" {
		return nil
	}
	var data any
	if err := json.Unmarshal([]byte(txt), &data); err != nil {
		return nil
	}
	obj, ok := data.(map[string]any)
	if !ok {
		return nil
	}
	return obj
}

// summarizeNotionSearch compresses a Notion search response into the stable
// notion_search_summary_v1 shape.
func (h *Hardener) summarizeNotionSearch(payload map[string]any, query any) map[string]any {
	results, _ := payload["results"].([]any)

	out := make([]map[string]any, 0, h.trimMaxItems)
	for _, item := range results {
		if len(out) >= h.trimMaxItems {
			break
		}
		page, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, map[string]any{
			"id":               page["id"],
			"title":            extractNotionTitle(page),
			"url":              page["url"],
			"created_time":     page["created_time"],
			"last_edited_time": page["last_edited_time"],
			"parent":           page["parent"],
			"object":           page["object"],
		})
	}

	return map[string]any{
		"schema":      "notion_search_summary_v1",
		"query":       query,
		"count":       len(out),
		"results":     out,
		"has_more":    payload["has_more"],
		"next_cursor": payload["next_cursor"],
	}
}

// summarizeNotionPage compresses a Notion page response into the stable
// notion_page_summary_v1 shape.
func summarizeNotionPage(payload map[string]any) map[string]any {
	return map[string]any{
		"schema":           "notion_page_summary_v1",
		"id":               payload["id"],
		"title":            extractNotionTitle(payload),
		"url":              payload["url"],
		"created_time":     payload["created_time"],
		"last_edited_time": payload["last_edited_time"],
		"parent":           payload["parent"],
		"object":           payload["object"],
	}
}

// extractNotionTitle pulls the plain-text title out of a Notion page object,
// falling back to the page id.
func extractNotionTitle(page map[string]any) string {
	props, _ := page["properties"].(map[string]any)
	titleProp, _ := props["title"].(map[string]any)
	if t, _ := titleProp["type"].(string); t == "title" {
		parts, _ := titleProp["title"].([]any)
		var plain []string
		for _, p := range parts {
			part, ok := p.(map[string]any)
			if !ok {
				continue
			}
			text, _ := part["plain_text"].(string)
			if text == "" {
				if inner, ok := part["text"].(map[string]any); ok {
					text, _ = inner["content"].(string)
				}
			}
			if text = strings.TrimSpace(text); text != "" {
				plain = append(plain, text)
			}
		}
		if len(plain) > 0 {
			return strings.Join(plain, " ")
		}
	}

	id, _ := page["id"].(string)
	return strings.TrimSpace(id)
}

// truncate caps s at limit bytes, eliding with "..." on a rune boundary.
func truncate(s string, limit int) string {
	s = strings.TrimSpace(s)
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := limit - 3
	if cut < 0 {
		cut = 0
	}
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
