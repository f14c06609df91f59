package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/parleyio/parley/internal/envelope"
	"github.com/parleyio/parley/internal/grounding"
	"github.com/parleyio/parley/internal/media"
	"github.com/parleyio/parley/internal/memory"
	"github.com/parleyio/parley/internal/stream"
	"github.com/parleyio/parley/internal/supervisor"
	"github.com/parleyio/parley/pkg/provider/stt"
	sttmock "github.com/parleyio/parley/pkg/provider/stt/mock"
	"github.com/parleyio/parley/pkg/provider/tts"
	ttsmock "github.com/parleyio/parley/pkg/provider/tts/mock"
)

// fakeSupervisor returns a scripted result and records every input. When
// groundTool is set, the run records a successful tool event so the memory
// gate sees a grounded exchange.
type fakeSupervisor struct {
	result     *supervisor.Result
	err        error
	groundTool string
	inputs     []string
}

func (f *fakeSupervisor) Run(ctx context.Context, input string) (*supervisor.Result, error) {
	f.inputs = append(f.inputs, input)
	if f.groundTool != "" {
		grounding.Record(ctx, f.groundTool, true)
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeMemory struct {
	context   memory.Context
	getErr    error
	gets      int
	exchanges []memory.Exchange
}

func (f *fakeMemory) GetContext(context.Context, string, string) (memory.Context, error) {
	f.gets++
	if f.getErr != nil {
		return memory.Context{}, f.getErr
	}
	return f.context, nil
}

func (f *fakeMemory) WriteSuccess(_ context.Context, x memory.Exchange) {
	f.exchanges = append(f.exchanges, x)
}

type fakePublisher struct {
	err  error
	outs []envelope.Outbound
}

func (f *fakePublisher) PublishOutbound(_ context.Context, out envelope.Outbound) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.outs = append(f.outs, out)
	return "9-9", nil
}

func structuredResult(text, status string, actions []string) *supervisor.Result {
	return &supervisor.Result{
		Reply:      supervisor.Reply{ReplyText: text, Status: status, Actions: actions},
		Structured: true,
		Text:       text,
	}
}

func newMediaStore(t *testing.T, baseURL string) *media.Store {
	t.Helper()
	store, err := media.NewStore(t.TempDir(), baseURL)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

// voicePreprocessor transcribes every voice note to the given text.
func voicePreprocessor(transcript string, audioReplies bool) *Preprocessor {
	return newTestPreprocessor(
		&sttmock.Provider{TranslateResult: &stt.Result{Text: transcript}},
		&fakeFetcher{data: []byte("voice bytes")},
		&fakeDetector{language: "English", english: transcript},
		PreprocessorConfig{ForceEnglish: true, AudioReplies: audioReplies},
	)
}

func TestHandleTextExchange(t *testing.T) {
	t.Parallel()

	pre := newTestPreprocessor(&sttmock.Provider{}, &fakeFetcher{}, &fakeDetector{language: "Spanish", english: "save a note"}, PreprocessorConfig{})
	sup := &fakeSupervisor{
		result:     structuredResult("¡Listo!", supervisor.StatusSuccess, []string{"notesApi_create"}),
		groundTool: "notesApi_create",
	}
	sup.result.TaskInstructions = []string{"create a note about groceries"}
	mem := &fakeMemory{context: memory.Context{UserProfile: map[string]any{"user_id": "u-1"}}}
	pub := &fakePublisher{}
	synth := &ttsmock.Provider{}

	w := NewWorker(pre, sup, mem, pub, synth, newMediaStore(t, "https://gw.example.com"), WorkerConfig{AudioReplies: true})

	entry := stream.Entry{ID: "1-1", Fields: map[string]string{
		"message_id":      "m-1",
		"source":          "whatsapp",
		"user_id":         "whatsapp:+4915112345678",
		"conversation_id": "c-1",
		"text":            "guarda una nota",
		"timestamp":       "2026-08-25T10:00:00Z",
		"metadata":        `{"num_media":0}`,
	}}
	if err := w.Handle(context.Background(), entry); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if len(sup.inputs) != 1 {
		t.Fatalf("supervisor ran %d times, want 1", len(sup.inputs))
	}
	if !strings.HasPrefix(sup.inputs[0], envelope.SupervisorInputPrefix) {
		t.Errorf("supervisor input missing envelope prefix: %q", sup.inputs[0])
	}
	if !strings.Contains(sup.inputs[0], "memory_context") {
		t.Error("memory snapshot was not injected into the supervisor input")
	}
	if mem.gets != 1 {
		t.Errorf("memory prefetches = %d, want 1", mem.gets)
	}

	if len(pub.outs) != 1 {
		t.Fatalf("published %d payloads, want 1", len(pub.outs))
	}
	out := pub.outs[0]
	if out.OutID == "" {
		t.Error("OutID is empty")
	}
	if out.CorrelationID != "m-1" || out.ConversationID != "c-1" {
		t.Errorf("correlation = %q conversation = %q", out.CorrelationID, out.ConversationID)
	}
	if out.Source != "whatsapp" || out.UserID != "whatsapp:+4915112345678" {
		t.Errorf("addressing = %q %q", out.Source, out.UserID)
	}
	if out.ReplyText != "¡Listo!" || out.Status != envelope.StatusSuccess {
		t.Errorf("reply = %q status = %q", out.ReplyText, out.Status)
	}
	if out.ReplyAudioURL != "" {
		t.Errorf("ReplyAudioURL = %q for a text-only inbound", out.ReplyAudioURL)
	}
	if out.Metadata != `{"num_media":0}` {
		t.Errorf("Metadata = %q", out.Metadata)
	}
	if len(synth.SynthesizeCalls) != 0 {
		t.Errorf("TTS ran %d times for a text-only inbound", len(synth.SynthesizeCalls))
	}

	if len(mem.exchanges) != 1 {
		t.Fatalf("memory writes = %d, want 1", len(mem.exchanges))
	}
	x := mem.exchanges[0]
	if x.UserID != "whatsapp:+4915112345678" || x.ConversationID != "c-1" {
		t.Errorf("exchange identity = %q %q", x.UserID, x.ConversationID)
	}
	if x.OriginalText != "guarda una nota" || x.EnglishText != "save a note" {
		t.Errorf("exchange texts = %q / %q", x.OriginalText, x.EnglishText)
	}
	if x.DetectedLanguage != "Spanish" || x.InboundHasAudio {
		t.Errorf("exchange language = %q audio=%v", x.DetectedLanguage, x.InboundHasAudio)
	}
	if x.ReplyText != "¡Listo!" || x.TaskInstructions != "create a note about groceries" {
		t.Errorf("exchange reply = %q instructions = %q", x.ReplyText, x.TaskInstructions)
	}
	if len(x.Actions) != 1 || x.Actions[0] != "notesApi_create" {
		t.Errorf("exchange actions = %v", x.Actions)
	}
	if !x.WriteUserEvent {
		t.Error("WriteUserEvent = false")
	}
}

func TestHandleImmediateReply(t *testing.T) {
	t.Parallel()

	pre := newTestPreprocessor(&sttmock.Provider{}, &fakeFetcher{}, &fakeDetector{}, PreprocessorConfig{})
	sup := &fakeSupervisor{}
	mem := &fakeMemory{}
	pub := &fakePublisher{}

	w := NewWorker(pre, sup, mem, pub, &ttsmock.Provider{}, newMediaStore(t, ""), WorkerConfig{})

	entry := stream.Entry{ID: "2-1", Fields: map[string]string{
		"message_id": "m-2",
		"source":     "whatsapp",
		"user_id":    "u-2",
		"text":       "   ",
	}}
	if err := w.Handle(context.Background(), entry); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if len(sup.inputs) != 0 {
		t.Errorf("supervisor ran %d times for an empty message", len(sup.inputs))
	}
	if mem.gets != 0 || len(mem.exchanges) != 0 {
		t.Errorf("memory touched: gets=%d writes=%d", mem.gets, len(mem.exchanges))
	}
	if len(pub.outs) != 1 {
		t.Fatalf("published %d payloads, want 1", len(pub.outs))
	}
	if pub.outs[0].ReplyText != emptyMessageReply {
		t.Errorf("ReplyText = %q, want %q", pub.outs[0].ReplyText, emptyMessageReply)
	}
}

func TestHandleVoiceNoteAudioReply(t *testing.T) {
	t.Parallel()

	sup := &fakeSupervisor{
		result:     structuredResult("Saved it.", supervisor.StatusSuccess, []string{"notesApi_create"}),
		groundTool: "notesApi_create",
	}
	mem := &fakeMemory{}
	pub := &fakePublisher{}
	synth := &ttsmock.Provider{SynthesizeResult: &tts.Result{Audio: []byte("mp3 bytes"), Format: "mp3"}}
	store := newMediaStore(t, "https://gw.example.com")

	w := NewWorker(voicePreprocessor("save a note about groceries", true), sup, mem, pub, synth, store, WorkerConfig{
		TTSVoice:     "alloy",
		TTSModel:     "tts-1",
		TTSFormat:    "mp3",
		AudioReplies: true,
	})

	metadata := audioMetadata(t, "https://api.twilio.com/media/abc", "audio/ogg")
	entry := stream.Entry{ID: "3-1", Fields: map[string]string{
		"message_id": "m-3",
		"source":     "whatsapp",
		"user_id":    "u-3",
		"metadata":   metadata,
	}}
	if err := w.Handle(context.Background(), entry); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if len(synth.SynthesizeCalls) != 1 {
		t.Fatalf("TTS ran %d times, want 1", len(synth.SynthesizeCalls))
	}
	call := synth.SynthesizeCalls[0]
	if call.Text != "Saved it." || call.Voice != "alloy" || call.Model != "tts-1" || call.Format != "mp3" {
		t.Errorf("synthesis request = %+v", call)
	}

	if len(pub.outs) != 1 {
		t.Fatalf("published %d payloads, want 1", len(pub.outs))
	}
	out := pub.outs[0]
	if !strings.HasPrefix(out.ReplyAudioURL, "https://gw.example.com/media/tts/") || !strings.HasSuffix(out.ReplyAudioURL, ".mp3") {
		t.Fatalf("ReplyAudioURL = %q", out.ReplyAudioURL)
	}
	if out.ReplyAudioMIMEType != "audio/mpeg" {
		t.Errorf("ReplyAudioMIMEType = %q", out.ReplyAudioMIMEType)
	}

	rel := strings.TrimPrefix(out.ReplyAudioURL, "https://gw.example.com/media/")
	abs, err := store.Resolve(rel)
	if err != nil {
		t.Fatalf("Resolve(%q): %v", rel, err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		t.Fatalf("read stored audio: %v", err)
	}
	if string(data) != "mp3 bytes" {
		t.Errorf("stored audio = %q", data)
	}

	if len(mem.exchanges) != 1 {
		t.Fatalf("memory writes = %d, want 1", len(mem.exchanges))
	}
	if mem.exchanges[0].ReplyAudioURL != out.ReplyAudioURL {
		t.Errorf("exchange audio url = %q, want %q", mem.exchanges[0].ReplyAudioURL, out.ReplyAudioURL)
	}
	if !mem.exchanges[0].InboundHasAudio {
		t.Error("exchange InboundHasAudio = false")
	}
}

func TestHandleSupervisorSpeechFileReused(t *testing.T) {
	t.Parallel()

	speechPath := filepath.Join(t.TempDir(), "speech-abc.ogg")
	if err := os.WriteFile(speechPath, []byte("fake ogg"), 0o644); err != nil {
		t.Fatalf("write speech file: %v", err)
	}

	result := structuredResult("Here you go.", supervisor.StatusSuccess, nil)
	result.Reply.TTSFilePath = speechPath
	result.Reply.TTSFormat = "ogg"
	sup := &fakeSupervisor{result: result}
	synth := &ttsmock.Provider{}
	store := newMediaStore(t, "https://gw.example.com")

	w := NewWorker(voicePreprocessor("hello", true), sup, &fakeMemory{}, &fakePublisher{}, synth, store, WorkerConfig{AudioReplies: true})

	entry := stream.Entry{ID: "4-1", Fields: map[string]string{
		"message_id": "m-4",
		"source":     "whatsapp",
		"user_id":    "u-4",
		"metadata":   audioMetadata(t, "https://api.twilio.com/media/def", "audio/ogg"),
	}}
	if err := w.Handle(context.Background(), entry); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if len(synth.SynthesizeCalls) != 0 {
		t.Errorf("TTS ran %d times despite a supervisor speech file", len(synth.SynthesizeCalls))
	}

	pub := w.publisher.(*fakePublisher)
	out := pub.outs[0]
	if !strings.HasSuffix(out.ReplyAudioURL, ".ogg") {
		t.Errorf("ReplyAudioURL = %q, want .ogg file", out.ReplyAudioURL)
	}
	if out.ReplyAudioMIMEType != "audio/ogg" {
		t.Errorf("ReplyAudioMIMEType = %q", out.ReplyAudioMIMEType)
	}

	rel := strings.TrimPrefix(out.ReplyAudioURL, "https://gw.example.com/media/")
	abs, err := store.Resolve(rel)
	if err != nil {
		t.Fatalf("Resolve(%q): %v", rel, err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		t.Fatalf("read imported audio: %v", err)
	}
	if string(data) != "fake ogg" {
		t.Errorf("imported audio = %q", data)
	}
}

func TestHandleTTSFailureFallsBackToText(t *testing.T) {
	t.Parallel()

	sup := &fakeSupervisor{result: structuredResult("Saved.", supervisor.StatusSuccess, nil)}
	synth := &ttsmock.Provider{SynthesizeErr: errors.New("synthesis unavailable")}
	pub := &fakePublisher{}

	w := NewWorker(voicePreprocessor("hello", true), sup, &fakeMemory{}, pub, synth, newMediaStore(t, "https://gw.example.com"), WorkerConfig{AudioReplies: true})

	entry := stream.Entry{ID: "5-1", Fields: map[string]string{
		"message_id": "m-5",
		"source":     "whatsapp",
		"user_id":    "u-5",
		"metadata":   audioMetadata(t, "https://api.twilio.com/media/ghi", "audio/ogg"),
	}}
	if err := w.Handle(context.Background(), entry); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if len(pub.outs) != 1 {
		t.Fatalf("published %d payloads, want 1", len(pub.outs))
	}
	out := pub.outs[0]
	if out.ReplyText != "Saved." {
		t.Errorf("ReplyText = %q", out.ReplyText)
	}
	if out.ReplyAudioURL != "" || out.ReplyAudioMIMEType != "" {
		t.Errorf("audio fields set after TTS failure: %q %q", out.ReplyAudioURL, out.ReplyAudioMIMEType)
	}
}

func TestHandleNoPublicBaseSkipsAudio(t *testing.T) {
	t.Parallel()

	sup := &fakeSupervisor{result: structuredResult("Saved.", supervisor.StatusSuccess, nil)}
	synth := &ttsmock.Provider{SynthesizeResult: &tts.Result{Audio: []byte("x"), Format: "mp3"}}
	pub := &fakePublisher{}

	w := NewWorker(voicePreprocessor("hello", true), sup, &fakeMemory{}, pub, synth, newMediaStore(t, ""), WorkerConfig{AudioReplies: true})

	entry := stream.Entry{ID: "6-1", Fields: map[string]string{
		"message_id": "m-6",
		"source":     "whatsapp",
		"user_id":    "u-6",
		"metadata":   audioMetadata(t, "https://api.twilio.com/media/jkl", "audio/ogg"),
	}}
	if err := w.Handle(context.Background(), entry); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if len(synth.SynthesizeCalls) != 0 {
		t.Errorf("TTS ran %d times without a public media base", len(synth.SynthesizeCalls))
	}
	if pub.outs[0].ReplyAudioURL != "" {
		t.Errorf("ReplyAudioURL = %q", pub.outs[0].ReplyAudioURL)
	}
}

func TestHandleAudioFailureApologyGetsVoice(t *testing.T) {
	t.Parallel()

	// STT fails, so the user gets the apology; the inbound still carried
	// audio, so the apology itself is synthesized.
	pre := newTestPreprocessor(
		&sttmock.Provider{TranslateErr: errors.New("rate limited")},
		&fakeFetcher{data: []byte("voice bytes")},
		&fakeDetector{},
		PreprocessorConfig{ForceEnglish: true, AudioReplies: true},
	)
	sup := &fakeSupervisor{}
	synth := &ttsmock.Provider{SynthesizeResult: &tts.Result{Audio: []byte("x"), Format: "mp3"}}
	pub := &fakePublisher{}

	w := NewWorker(pre, sup, &fakeMemory{}, pub, synth, newMediaStore(t, "https://gw.example.com"), WorkerConfig{AudioReplies: true})

	entry := stream.Entry{ID: "7-1", Fields: map[string]string{
		"message_id": "m-7",
		"source":     "whatsapp",
		"user_id":    "u-7",
		"metadata":   audioMetadata(t, "https://api.twilio.com/media/mno", "audio/ogg"),
	}}
	if err := w.Handle(context.Background(), entry); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if len(sup.inputs) != 0 {
		t.Errorf("supervisor ran %d times after an STT failure", len(sup.inputs))
	}
	out := pub.outs[0]
	if out.ReplyText != audioFailureReply {
		t.Errorf("ReplyText = %q", out.ReplyText)
	}
	if len(synth.SynthesizeCalls) != 1 || synth.SynthesizeCalls[0].Text != audioFailureReply {
		t.Errorf("synthesis calls = %+v", synth.SynthesizeCalls)
	}
	if out.ReplyAudioURL == "" {
		t.Error("apology has no audio rendition")
	}
}

func TestHandleMemoryGate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		result     *supervisor.Result
		groundTool string
		wantWrite  bool
	}{
		{
			name:       "structured success grounded",
			result:     structuredResult("Done it.", supervisor.StatusSuccess, nil),
			groundTool: "notesApi_create",
			wantWrite:  true,
		},
		{
			name:       "structured error grounded",
			result:     structuredResult("Could not.", supervisor.StatusError, nil),
			groundTool: "notesApi_create",
			wantWrite:  false,
		},
		{
			name:      "structured success ungrounded",
			result:    structuredResult("Done it.", supervisor.StatusSuccess, nil),
			wantWrite: false,
		},
		{
			name:       "unstructured grounded",
			result:     &supervisor.Result{Text: "Done it."},
			groundTool: "notesApi_create",
			wantWrite:  false,
		},
		{
			name:       "local tool only",
			result:     structuredResult("Translated.", supervisor.StatusSuccess, nil),
			groundTool: "localAudio_translate_text",
			wantWrite:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			pre := newTestPreprocessor(&sttmock.Provider{}, &fakeFetcher{}, &fakeDetector{language: "English", english: "do it"}, PreprocessorConfig{})
			sup := &fakeSupervisor{result: tt.result, groundTool: tt.groundTool}
			mem := &fakeMemory{}

			w := NewWorker(pre, sup, mem, &fakePublisher{}, &ttsmock.Provider{}, newMediaStore(t, ""), WorkerConfig{})

			entry := stream.Entry{ID: "8-1", Fields: map[string]string{
				"message_id": "m-8",
				"source":     "whatsapp",
				"user_id":    "u-8",
				"text":       "do it",
			}}
			if err := w.Handle(context.Background(), entry); err != nil {
				t.Fatalf("Handle: %v", err)
			}

			if got := len(mem.exchanges) == 1; got != tt.wantWrite {
				t.Errorf("memory written = %v, want %v", got, tt.wantWrite)
			}
		})
	}
}

func TestHandleDefaultReply(t *testing.T) {
	t.Parallel()

	pre := newTestPreprocessor(&sttmock.Provider{}, &fakeFetcher{}, &fakeDetector{language: "English", english: "hi"}, PreprocessorConfig{})
	sup := &fakeSupervisor{result: &supervisor.Result{Text: "   "}}
	pub := &fakePublisher{}

	w := NewWorker(pre, sup, &fakeMemory{}, pub, &ttsmock.Provider{}, newMediaStore(t, ""), WorkerConfig{})

	entry := stream.Entry{ID: "9-1", Fields: map[string]string{
		"message_id": "m-9",
		"source":     "whatsapp",
		"user_id":    "u-9",
		"text":       "hi",
	}}
	if err := w.Handle(context.Background(), entry); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if pub.outs[0].ReplyText != defaultReply {
		t.Errorf("ReplyText = %q, want %q", pub.outs[0].ReplyText, defaultReply)
	}
}

func TestHandleMemoryPrefetchFailure(t *testing.T) {
	t.Parallel()

	pre := newTestPreprocessor(&sttmock.Provider{}, &fakeFetcher{}, &fakeDetector{language: "English", english: "hi"}, PreprocessorConfig{})
	sup := &fakeSupervisor{result: structuredResult("Hi!", supervisor.StatusSuccess, nil)}
	mem := &fakeMemory{getErr: errors.New("redis down")}
	pub := &fakePublisher{}

	w := NewWorker(pre, sup, mem, pub, &ttsmock.Provider{}, newMediaStore(t, ""), WorkerConfig{})

	entry := stream.Entry{ID: "10-1", Fields: map[string]string{
		"message_id": "m-10",
		"source":     "whatsapp",
		"user_id":    "u-10",
		"text":       "hi",
	}}
	if err := w.Handle(context.Background(), entry); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if len(sup.inputs) != 1 {
		t.Fatalf("supervisor ran %d times, want 1", len(sup.inputs))
	}
	if strings.Contains(sup.inputs[0], "memory_context") {
		t.Error("memory_context injected despite a failed prefetch")
	}
	if len(pub.outs) != 1 {
		t.Errorf("published %d payloads, want 1", len(pub.outs))
	}
}

func TestHandleSupervisorError(t *testing.T) {
	t.Parallel()

	pre := newTestPreprocessor(&sttmock.Provider{}, &fakeFetcher{}, &fakeDetector{language: "English", english: "hi"}, PreprocessorConfig{})
	sup := &fakeSupervisor{err: errors.New("model unreachable")}
	pub := &fakePublisher{}

	w := NewWorker(pre, sup, &fakeMemory{}, pub, &ttsmock.Provider{}, newMediaStore(t, ""), WorkerConfig{})

	entry := stream.Entry{ID: "11-1", Fields: map[string]string{
		"message_id": "m-11",
		"source":     "whatsapp",
		"user_id":    "u-11",
		"text":       "hi",
	}}
	err := w.Handle(context.Background(), entry)
	if err == nil {
		t.Fatal("Handle returned nil after a supervisor failure")
	}
	if len(pub.outs) != 0 {
		t.Errorf("published %d payloads after a failure", len(pub.outs))
	}
}

func TestHandlePublishError(t *testing.T) {
	t.Parallel()

	pre := newTestPreprocessor(&sttmock.Provider{}, &fakeFetcher{}, &fakeDetector{language: "English", english: "hi"}, PreprocessorConfig{})
	sup := &fakeSupervisor{result: structuredResult("Hi!", supervisor.StatusSuccess, nil)}

	w := NewWorker(pre, sup, &fakeMemory{}, &fakePublisher{err: errors.New("stream full")}, &ttsmock.Provider{}, newMediaStore(t, ""), WorkerConfig{})

	entry := stream.Entry{ID: "12-1", Fields: map[string]string{
		"message_id": "m-12",
		"source":     "whatsapp",
		"user_id":    "u-12",
		"text":       "hi",
	}}
	if err := w.Handle(context.Background(), entry); err == nil {
		t.Fatal("Handle returned nil after a publish failure")
	}
}

func TestSanitizeMetadata(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		metadata string
		want     string
	}{
		{"object passthrough", `{"num_media":1}`, `{"num_media":1}`},
		{"array passthrough", `[1,2]`, `[1,2]`},
		{"invalid wrapped", `not json`, `{"raw":"not json"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := sanitizeMetadata(tt.metadata); got != tt.want {
				t.Errorf("sanitizeMetadata(%q) = %q, want %q", tt.metadata, got, tt.want)
			}
		})
	}
}
