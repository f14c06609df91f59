package lingua

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/parleyio/parley/internal/mcp/tools"
	"github.com/parleyio/parley/pkg/provider/llm"
	"github.com/parleyio/parley/pkg/provider/tts"
)

// Tool names, as registered with the host.
const (
	DetectToolName    = SourceServer + "_detect_and_translate_to_english"
	TranslateToolName = SourceServer + "_translate_text"
	SpeechToolName    = SourceServer + "_text_to_speech"
)

// ─────────────────────────────────────────────────────────────────────────────
// detect_and_translate_to_english
// ─────────────────────────────────────────────────────────────────────────────

// detectArgs is the JSON-decoded input for the detection tool.
type detectArgs struct {
	// Text is the text whose language should be detected.
	Text string `json:"text"`

	// HintLanguage optionally names the language the user is likely using.
	HintLanguage string `json:"hint_language,omitempty"`
}

// makeDetectHandler returns the handler for the detection tool.
func makeDetectHandler(tr *Translator) func(context.Context, string) (string, error) {
	return func(ctx context.Context, args string) (string, error) {
		var a detectArgs
		if args != "" {
			if err := json.Unmarshal([]byte(args), &a); err != nil {
				return "", fmt.Errorf("lingua tool: %s: failed to parse arguments: %w", DetectToolName, err)
			}
		}
		if a.Text == "" {
			return "", fmt.Errorf("lingua tool: %s: text must not be empty", DetectToolName)
		}

		language, english, err := tr.DetectToEnglish(ctx, a.Text, a.HintLanguage)
		if err != nil {
			return "", fmt.Errorf("lingua tool: %s: %w", DetectToolName, err)
		}

		res, err := json.Marshal(map[string]string{
			"detected_language": language,
			"english_text":      english,
		})
		if err != nil {
			return "", fmt.Errorf("lingua tool: %s: failed to encode result: %w", DetectToolName, err)
		}
		return string(res), nil
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// translate_text
// ─────────────────────────────────────────────────────────────────────────────

// translateArgs is the JSON-decoded input for the translation tool.
type translateArgs struct {
	// Text is the text to translate.
	Text string `json:"text"`

	// TargetLanguage is the language to translate into.
	TargetLanguage string `json:"target_language"`

	// SourceLanguage optionally hints the input language.
	SourceLanguage string `json:"source_language,omitempty"`
}

// makeTranslateHandler returns the handler for the translation tool. The
// result is the translated text itself, not a JSON document.
func makeTranslateHandler(tr *Translator) func(context.Context, string) (string, error) {
	return func(ctx context.Context, args string) (string, error) {
		var a translateArgs
		if args != "" {
			if err := json.Unmarshal([]byte(args), &a); err != nil {
				return "", fmt.Errorf("lingua tool: %s: failed to parse arguments: %w", TranslateToolName, err)
			}
		}
		if a.Text == "" {
			return "", fmt.Errorf("lingua tool: %s: text must not be empty", TranslateToolName)
		}
		if a.TargetLanguage == "" {
			return "", fmt.Errorf("lingua tool: %s: target_language must not be empty", TranslateToolName)
		}

		out, err := tr.Translate(ctx, a.Text, a.TargetLanguage, a.SourceLanguage)
		if err != nil {
			return "", fmt.Errorf("lingua tool: %s: %w", TranslateToolName, err)
		}
		return out, nil
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// text_to_speech
// ─────────────────────────────────────────────────────────────────────────────

// speechArgs is the JSON-decoded input for the speech tool.
type speechArgs struct {
	// Text is the text to speak.
	Text string `json:"text"`

	// Voice overrides the configured default voice.
	Voice string `json:"voice,omitempty"`

	// Model overrides the provider's default synthesis model.
	Model string `json:"model,omitempty"`

	// Format overrides the configured default audio format (e.g. "mp3").
	Format string `json:"format,omitempty"`
}

// speechResult is the JSON-encoded output of the speech tool. The supervisor
// copies FilePath and Format into its structured reply so the worker can pick
// the file up and publish it.
type speechResult struct {
	FilePath string `json:"file_path"`
	Format   string `json:"format"`
}

// makeSpeechHandler returns the handler for the speech tool. Synthesised audio
// is written to the OS temp directory; the worker moves it into the media
// store when it assembles the outbound message.
func makeSpeechHandler(synth tts.Provider, defaultVoice, defaultFormat string) func(context.Context, string) (string, error) {
	return func(ctx context.Context, args string) (string, error) {
		var a speechArgs
		if args != "" {
			if err := json.Unmarshal([]byte(args), &a); err != nil {
				return "", fmt.Errorf("lingua tool: %s: failed to parse arguments: %w", SpeechToolName, err)
			}
		}
		if strings.TrimSpace(a.Text) == "" {
			return "", fmt.Errorf("lingua tool: %s: text must not be empty", SpeechToolName)
		}
		if a.Voice == "" {
			a.Voice = defaultVoice
		}
		if a.Format == "" {
			a.Format = defaultFormat
		}

		out, err := synth.Synthesize(ctx, tts.Request{
			Text:   a.Text,
			Voice:  a.Voice,
			Model:  a.Model,
			Format: a.Format,
		})
		if err != nil {
			return "", fmt.Errorf("lingua tool: %s: %w", SpeechToolName, err)
		}

		u := uuid.New()
		name := "speech-" + hex.EncodeToString(u[:]) + "." + out.Format
		path := filepath.Join(os.TempDir(), name)
		if err := os.WriteFile(path, out.Audio, 0o644); err != nil {
			return "", fmt.Errorf("lingua tool: %s: failed to write audio file: %w", SpeechToolName, err)
		}

		res, err := json.Marshal(speechResult{FilePath: path, Format: out.Format})
		if err != nil {
			return "", fmt.Errorf("lingua tool: %s: failed to encode result: %w", SpeechToolName, err)
		}
		return string(res), nil
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// NewTools
// ─────────────────────────────────────────────────────────────────────────────

// NewTools constructs the three language tools. defaultVoice and defaultFormat
// seed the speech tool when the model omits those arguments; empty values fall
// through to the synthesiser's own defaults.
func NewTools(tr *Translator, synth tts.Provider, defaultVoice, defaultFormat string) []tools.Tool {
	return []tools.Tool{
		{
			Definition: llm.ToolDefinition{
				Name:        DetectToolName,
				Description: "Detect the language of a text and translate it to English. Returns JSON with detected_language and english_text. Use when the user's language is unknown.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"text": map[string]any{
							"type":        "string",
							"description": "The text to analyse and translate.",
						},
						"hint_language": map[string]any{
							"type":        "string",
							"description": "Optional: the language the user is likely using, as a name or ISO code.",
						},
					},
					"required": []string{"text"},
				},
				SourceServer: SourceServer,
			},
			Handler: makeDetectHandler(tr),
		},
		{
			Definition: llm.ToolDefinition{
				Name:        TranslateToolName,
				Description: "Translate text into a target language. Returns only the translated text. Use to render the final reply in the user's language.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"text": map[string]any{
							"type":        "string",
							"description": "The text to translate.",
						},
						"target_language": map[string]any{
							"type":        "string",
							"description": "The language to translate into, as a name or ISO code.",
						},
						"source_language": map[string]any{
							"type":        "string",
							"description": "Optional hint: the language the text is currently in.",
						},
					},
					"required": []string{"text", "target_language"},
				},
				SourceServer: SourceServer,
			},
			Handler: makeTranslateHandler(tr),
		},
		{
			Definition: llm.ToolDefinition{
				Name:        SpeechToolName,
				Description: "Convert text to spoken audio. Returns JSON with file_path and format of the generated audio file. Call this when the user should receive a voice reply, then copy file_path and format into the final answer.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"text": map[string]any{
							"type":        "string",
							"description": "The text to speak.",
						},
						"voice": map[string]any{
							"type":        "string",
							"description": "Optional voice override.",
						},
						"model": map[string]any{
							"type":        "string",
							"description": "Optional synthesis model override.",
						},
						"format": map[string]any{
							"type":        "string",
							"description": "Optional audio format override (e.g. mp3, opus, wav).",
						},
					},
					"required": []string{"text"},
				},
				SourceServer: SourceServer,
			},
			Handler: makeSpeechHandler(synth, defaultVoice, defaultFormat),
		},
	}
}
