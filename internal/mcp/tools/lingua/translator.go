// Package lingua provides the built-in language and speech tools that run
// in-process under the "localAudio" source server:
//
//   - "localAudio_detect_and_translate_to_english" — language detection plus
//     translation into English, the pipeline's working language.
//   - "localAudio_translate_text" — translation into an arbitrary target
//     language, used when composing replies in the user's language.
//   - "localAudio_text_to_speech" — speech synthesis for audio replies.
//
// The detection and translation logic is also used directly by the message
// preprocessor, via [Translator], before any agent runs.
//
// All handlers are safe for concurrent use.
package lingua

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/parleyio/parley/pkg/provider/llm"
)

// SourceServer tags every tool in this package. Grounding treats tools under
// this prefix as non-evidence: translating text is not completed work.
const SourceServer = "localAudio"

// englishNames are the detector outputs that mean "already English".
var englishNames = map[string]struct{}{
	"english": {},
	"en":      {},
	"en-us":   {},
	"en-gb":   {},
}

// IsEnglish reports whether a detected language name or ISO code means English.
func IsEnglish(language string) bool {
	_, ok := englishNames[strings.ToLower(strings.TrimSpace(language))]
	return ok
}

// Translator performs LLM-backed language detection and translation.
type Translator struct {
	model llm.Provider
}

// NewTranslator returns a Translator backed by the given chat model.
func NewTranslator(model llm.Provider) *Translator {
	return &Translator{model: model}
}

// detectSystemPrompt forces the strict JSON response shape.
const detectSystemPrompt = `You are a translation engine. Respond with ONLY a JSON object of the form {"detected_language": "...", "english_text": "..."} and nothing else.`

// DetectToEnglish detects the language of text and translates it to English.
// hint optionally names the language the user is likely to be using. When the
// model's reply cannot be parsed, the text is assumed to already be English.
func (t *Translator) DetectToEnglish(ctx context.Context, text, hint string) (language, english string, err error) {
	var b strings.Builder
	b.WriteString("Task: detect the language of the user's text and translate it to English.\n")
	b.WriteString("Rules:\n")
	b.WriteString("- If text is already English, return english_text equal to the input.\n")
	b.WriteString("- Keep meaning and names.\n")
	b.WriteString("- detected_language can be a common language name (e.g., Hindi) or ISO code.\n")
	if hint != "" {
		fmt.Fprintf(&b, "\nHint: the user may be using: %s\n", hint)
	}
	fmt.Fprintf(&b, "\nUser text:\n%s\n", text)

	resp, err := t.model.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: detectSystemPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: b.String()}},
	})
	if err != nil {
		return "", "", fmt.Errorf("lingua: detect language: %w", err)
	}

	payload, ok := extractJSONObject(resp.Content)
	if !ok {
		return "English", text, nil
	}
	language, _ = payload["detected_language"].(string)
	english, _ = payload["english_text"].(string)
	if language == "" {
		language = "English"
	}
	if english == "" {
		english = text
	}
	return language, english, nil
}

// Translate renders text in the target language. source optionally hints the
// input language; empty means unknown.
func (t *Translator) Translate(ctx context.Context, text, target, source string) (string, error) {
	if target == "" {
		return "", fmt.Errorf("lingua: translate: target language must not be empty")
	}

	var b strings.Builder
	b.WriteString("Task: translate the user's text to the requested target language.\n")
	b.WriteString("Rules:\n")
	b.WriteString("- Preserve meaning and proper nouns.\n")
	b.WriteString("- Return ONLY the translated text (no extra commentary).\n")
	fmt.Fprintf(&b, "- Target language: %s\n", target)
	if source != "" {
		fmt.Fprintf(&b, "- Source language (hint): %s\n", source)
	}
	fmt.Fprintf(&b, "\nText:\n%s\n", text)

	resp, err := t.model.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: b.String()}},
	})
	if err != nil {
		return "", fmt.Errorf("lingua: translate: %w", err)
	}
	out := strings.TrimSpace(resp.Content)
	if out == "" {
		return "", fmt.Errorf("lingua: translate: model returned empty text")
	}
	return out, nil
}

// extractJSONObject parses the first JSON object found in s, tolerating code
// fences and prose around it.
func extractJSONObject(s string) (map[string]any, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return nil, false
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s[start:end+1]), &m); err != nil {
		return nil, false
	}
	return m, true
}
