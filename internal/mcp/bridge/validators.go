package bridge

// ToolValidator is a tool-specific normalizer and preflight check.
//
// NormalizeArgs may rewrite common structural mistakes into canonical shapes;
// it reports whether anything changed. PreValidate may reject the call before
// it happens by returning a canonical validation payload; an empty string
// means the arguments pass.
type ToolValidator interface {
	NormalizeArgs(toolName string, args map[string]any) (map[string]any, bool)
	PreValidate(toolName string, args map[string]any, schemaJSON map[string]any) string
}

// noopValidator accepts everything unchanged.
type noopValidator struct{}

func (noopValidator) NormalizeArgs(_ string, args map[string]any) (map[string]any, bool) {
	return args, false
}

func (noopValidator) PreValidate(_ string, _ map[string]any, _ map[string]any) string {
	return ""
}

// validators maps tool names to their specific validator. Tools without an
// entry get the noop validator.
var validators = map[string]ToolValidator{
	"notionApi_API-post-page": notionPostPageValidator{},
}

// validatorFor returns the validator registered for the tool, or a noop.
func validatorFor(toolName string) ToolValidator {
	if v, ok := validators[toolName]; ok {
		return v
	}
	return noopValidator{}
}

// ─────────────────────────────────────────────────────────────────────────────
// Notion create-page
// ─────────────────────────────────────────────────────────────────────────────

// notionPostPageValidator hardens the most common Notion create-page mistakes
// that cause HTTP 400: children nested under properties, a spurious
// properties.type marker, a malformed title, and string children.
type notionPostPageValidator struct{}

func (notionPostPageValidator) NormalizeArgs(toolName string, args map[string]any) (map[string]any, bool) {
	if toolName != "notionApi_API-post-page" || args == nil {
		return args, false
	}

	changed := false
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}

	// If children accidentally nested under properties, lift it to top level.
	if props, ok := out["properties"].(map[string]any); ok {
		if children, has := props["children"]; has {
			if _, atTop := out["children"]; !atTop {
				out["children"] = children
				props2 := make(map[string]any, len(props))
				for k, v := range props {
					props2[k] = v
				}
				delete(props2, "children")
				out["properties"] = props2
				changed = true
			}
		}
	}

	// If the model mistakenly sets properties.type="title", remove it.
	if props, ok := out["properties"].(map[string]any); ok {
		if t, _ := props["type"].(string); t == "title" {
			props2 := make(map[string]any, len(props))
			for k, v := range props {
				props2[k] = v
			}
			delete(props2, "type")
			out["properties"] = props2
			changed = true
		}
	}

	return out, changed
}

func (notionPostPageValidator) PreValidate(toolName string, args map[string]any, schemaJSON map[string]any) string {
	if toolName != "notionApi_API-post-page" {
		return ""
	}

	props, ok := args["properties"].(map[string]any)
	if !ok {
		return semanticErrorPayload(toolName,
			"Notion create-page requires properties to be an object.", schemaJSON)
	}

	title, ok := props["title"].(map[string]any)
	if !ok {
		return semanticErrorPayload(toolName,
			`Notion create-page title must be shaped as {"properties":{"title":{"title":[...rich_text...]}}} and children must be a top-level field.`,
			schemaJSON)
	}
	if _, has := title["title"]; !has {
		return semanticErrorPayload(toolName,
			`Notion create-page title must be shaped as {"properties":{"title":{"title":[...rich_text...]}}} and children must be a top-level field.`,
			schemaJSON)
	}

	if children, ok := args["children"].([]any); ok {
		for _, c := range children {
			if _, isString := c.(string); isString {
				return semanticErrorPayload(toolName,
					"Notion create-page children must be an array of block objects (not strings).", schemaJSON)
			}
		}
	}

	return ""
}

// semanticErrorPayload builds the canonical local_semantic_validation payload.
func semanticErrorPayload(tool, message string, schema map[string]any) string {
	return marshalPayload(map[string]any{
		"error_type": "validation_error",
		"source":     "local_semantic_validation",
		"tool":       tool,
		"message":    message,
		"schema":     schema,
	})
}
