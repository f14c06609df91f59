package lingua

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/parleyio/parley/internal/mcp/tools"
	"github.com/parleyio/parley/pkg/provider/llm"
	llmmock "github.com/parleyio/parley/pkg/provider/llm/mock"
	"github.com/parleyio/parley/pkg/provider/tts"
	ttsmock "github.com/parleyio/parley/pkg/provider/tts/mock"
)

// findTool returns the tool with the given name from ts, failing the test if
// it is missing.
func findTool(t *testing.T, ts []tools.Tool, name string) tools.Tool {
	t.Helper()
	for _, tool := range ts {
		if tool.Definition.Name == name {
			return tool
		}
	}
	t.Fatalf("tool %q not found", name)
	return tools.Tool{}
}

func TestNewToolsDefinitions(t *testing.T) {
	t.Parallel()

	ts := NewTools(NewTranslator(&llmmock.Provider{}), &ttsmock.Provider{}, "alloy", "mp3")
	if len(ts) != 3 {
		t.Fatalf("NewTools returned %d tools, want 3", len(ts))
	}

	for _, tool := range ts {
		if !strings.HasPrefix(tool.Definition.Name, SourceServer+"_") {
			t.Errorf("tool %q does not carry the %q prefix", tool.Definition.Name, SourceServer)
		}
		if tool.Definition.SourceServer != SourceServer {
			t.Errorf("tool %q has SourceServer %q, want %q", tool.Definition.Name, tool.Definition.SourceServer, SourceServer)
		}
		if tool.Handler == nil {
			t.Errorf("tool %q has a nil handler", tool.Definition.Name)
		}
		if tool.Definition.Parameters == nil {
			t.Errorf("tool %q has nil parameters", tool.Definition.Name)
		}
	}
}

func TestDetectToolHandler(t *testing.T) {
	t.Parallel()

	model := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: `{"detected_language": "French", "english_text": "Hello"}`,
		},
	}
	ts := NewTools(NewTranslator(model), &ttsmock.Provider{}, "", "")
	tool := findTool(t, ts, DetectToolName)

	out, err := tool.Handler(context.Background(), `{"text": "Bonjour", "hint_language": "French"}`)
	if err != nil {
		t.Fatalf("handler: unexpected error: %v", err)
	}

	var got map[string]string
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("handler output is not JSON: %v", err)
	}
	if got["detected_language"] != "French" {
		t.Errorf("detected_language = %q, want %q", got["detected_language"], "French")
	}
	if got["english_text"] != "Hello" {
		t.Errorf("english_text = %q, want %q", got["english_text"], "Hello")
	}
}

func TestDetectToolHandlerRejectsEmptyText(t *testing.T) {
	t.Parallel()

	ts := NewTools(NewTranslator(&llmmock.Provider{}), &ttsmock.Provider{}, "", "")
	tool := findTool(t, ts, DetectToolName)

	if _, err := tool.Handler(context.Background(), `{}`); err == nil {
		t.Fatal("handler: expected error for empty text, got nil")
	}
	if _, err := tool.Handler(context.Background(), `{"text": `); err == nil {
		t.Fatal("handler: expected error for malformed JSON, got nil")
	}
}

func TestTranslateToolHandler(t *testing.T) {
	t.Parallel()

	model := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "Hola"},
	}
	ts := NewTools(NewTranslator(model), &ttsmock.Provider{}, "", "")
	tool := findTool(t, ts, TranslateToolName)

	out, err := tool.Handler(context.Background(), `{"text": "Hello", "target_language": "Spanish"}`)
	if err != nil {
		t.Fatalf("handler: unexpected error: %v", err)
	}
	if out != "Hola" {
		t.Errorf("handler = %q, want plain translated text %q", out, "Hola")
	}
}

func TestTranslateToolHandlerRequiresTarget(t *testing.T) {
	t.Parallel()

	ts := NewTools(NewTranslator(&llmmock.Provider{}), &ttsmock.Provider{}, "", "")
	tool := findTool(t, ts, TranslateToolName)

	_, err := tool.Handler(context.Background(), `{"text": "Hello"}`)
	if err == nil {
		t.Fatal("handler: expected error for missing target_language, got nil")
	}
	if !strings.Contains(err.Error(), "target_language") {
		t.Errorf("error %q does not name target_language", err)
	}
}

func TestSpeechToolHandler(t *testing.T) {
	t.Parallel()

	synth := &ttsmock.Provider{
		SynthesizeResult: &tts.Result{Audio: []byte("fake-mp3-bytes"), Format: "mp3"},
	}
	ts := NewTools(NewTranslator(&llmmock.Provider{}), synth, "alloy", "mp3")
	tool := findTool(t, ts, SpeechToolName)

	out, err := tool.Handler(context.Background(), `{"text": "Hello there"}`)
	if err != nil {
		t.Fatalf("handler: unexpected error: %v", err)
	}

	var got speechResult
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("handler output is not JSON: %v", err)
	}
	if got.Format != "mp3" {
		t.Errorf("format = %q, want %q", got.Format, "mp3")
	}
	t.Cleanup(func() { os.Remove(got.FilePath) })

	base := filepath.Base(got.FilePath)
	if !strings.HasPrefix(base, "speech-") || !strings.HasSuffix(base, ".mp3") {
		t.Errorf("file name %q does not match speech-<id>.mp3", base)
	}
	data, err := os.ReadFile(got.FilePath)
	if err != nil {
		t.Fatalf("reading synthesised file: %v", err)
	}
	if string(data) != "fake-mp3-bytes" {
		t.Errorf("file content = %q, want the synthesised audio", data)
	}

	if len(synth.SynthesizeCalls) != 1 {
		t.Fatalf("Synthesize called %d times, want 1", len(synth.SynthesizeCalls))
	}
	req := synth.SynthesizeCalls[0]
	if req.Voice != "alloy" {
		t.Errorf("request voice = %q, want default %q", req.Voice, "alloy")
	}
	if req.Format != "mp3" {
		t.Errorf("request format = %q, want default %q", req.Format, "mp3")
	}
}

func TestSpeechToolHandlerOverrides(t *testing.T) {
	t.Parallel()

	synth := &ttsmock.Provider{
		SynthesizeResult: &tts.Result{Audio: []byte("x"), Format: "opus"},
	}
	ts := NewTools(NewTranslator(&llmmock.Provider{}), synth, "alloy", "mp3")
	tool := findTool(t, ts, SpeechToolName)

	out, err := tool.Handler(context.Background(), `{"text": "Hi", "voice": "nova", "format": "opus", "model": "custom"}`)
	if err != nil {
		t.Fatalf("handler: unexpected error: %v", err)
	}
	var got speechResult
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("handler output is not JSON: %v", err)
	}
	t.Cleanup(func() { os.Remove(got.FilePath) })

	req := synth.SynthesizeCalls[0]
	if req.Voice != "nova" || req.Format != "opus" || req.Model != "custom" {
		t.Errorf("overrides not forwarded: %+v", req)
	}
}

func TestSpeechToolHandlerErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		synth *ttsmock.Provider
		args  string
	}{
		{
			name:  "empty text",
			synth: &ttsmock.Provider{},
			args:  `{"text": "   "}`,
		},
		{
			name:  "synthesis failure",
			synth: &ttsmock.Provider{SynthesizeErr: errors.New("voice unavailable")},
			args:  `{"text": "Hello"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ts := NewTools(NewTranslator(&llmmock.Provider{}), tt.synth, "", "")
			tool := findTool(t, ts, SpeechToolName)
			if _, err := tool.Handler(context.Background(), tt.args); err == nil {
				t.Fatal("handler: expected error, got nil")
			}
		})
	}
}
