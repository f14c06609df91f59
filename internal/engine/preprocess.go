package engine

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/parleyio/parley/internal/envelope"
	"github.com/parleyio/parley/internal/mcp/tools/lingua"
	"github.com/parleyio/parley/internal/observe"
	"github.com/parleyio/parley/pkg/provider/stt"
)

// Replies produced before the supervisor ever runs.
const (
	// audioFailureReply is sent when a voice note cannot be turned into text.
	audioFailureReply = "Sorry, I couldn't process the audio. Please try again."

	// emptyMessageReply is sent when a message carries neither text nor audio.
	emptyMessageReply = "Send a message and I’ll help."
)

// forceEnglishPrompt steers translation-capable STT backends toward English
// output regardless of the spoken language.
const forceEnglishPrompt = "Return the transcript in English."

// MediaFetcher downloads channel-hosted media using the channel's credentials
// (Twilio media URLs require basic auth).
type MediaFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Detector resolves a text's language and its English rendering.
// *lingua.Translator satisfies it.
type Detector interface {
	DetectToEnglish(ctx context.Context, text, hint string) (language, english string, err error)
}

var _ Detector = (*lingua.Translator)(nil)

// PreResult is the preprocessor's verdict on one inbound message: either a
// rendered supervisor envelope, or an ImmediateReply that skips the supervisor
// entirely.
type PreResult struct {
	// SupervisorInput is the rendered input envelope. Empty when
	// ImmediateReply is set.
	SupervisorInput string

	// OriginalText is the user's text, or the voice-note transcript.
	OriginalText string

	// EnglishText is OriginalText rendered in English.
	EnglishText string

	// DetectedLanguage names the language of OriginalText.
	DetectedLanguage string

	// IsEnglish reports whether DetectedLanguage means English.
	IsEnglish bool

	// InboundHasAudio reports whether the message carried an audio item.
	InboundHasAudio bool

	// ImmediateReply, when non-empty, is sent to the user as-is without
	// invoking the supervisor.
	ImmediateReply string
}

// PreprocessorConfig carries the preprocessor's settings.
type PreprocessorConfig struct {
	// ForceEnglish routes voice notes through the STT translation endpoint so
	// transcripts always come back in English.
	ForceEnglish bool

	// AudioReplies mirrors the outbound voice-reply gate into the envelope's
	// reply_in_audio hint, so the supervisor does not prepare audio nobody
	// will deliver.
	AudioReplies bool

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Preprocessor normalizes an inbound message into a supervisor-ready input
// envelope: voice notes are downloaded and transcribed, the language is
// detected, and the text is translated to English, the pipeline's working
// language.
type Preprocessor struct {
	transcriber  stt.Provider
	fetcher      MediaFetcher
	detector     Detector
	forceEnglish bool
	audioReplies bool
	logger       *slog.Logger

	// lookPath locates the transcode binary; swapped in tests.
	lookPath func(file string) (string, error)
}

// NewPreprocessor builds a Preprocessor over the given STT backend, media
// fetcher, and language detector.
func NewPreprocessor(transcriber stt.Provider, fetcher MediaFetcher, detector Detector, cfg PreprocessorConfig) *Preprocessor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Preprocessor{
		transcriber:  transcriber,
		fetcher:      fetcher,
		detector:     detector,
		forceEnglish: cfg.ForceEnglish,
		audioReplies: cfg.AudioReplies,
		logger:       logger,
		lookPath:     exec.LookPath,
	}
}

// Prepare runs the pre-supervisor steps for one inbound message. Failures
// that the user can repair (unusable audio, empty message) come back as an
// ImmediateReply; an error is returned only when the context is canceled, so
// the entry stays pending for redelivery.
func (p *Preprocessor) Prepare(ctx context.Context, streamID string, in envelope.Inbound) (PreResult, error) {
	audio, hasAudio := envelope.PickFirstAudio(in.Metadata)
	res := PreResult{InboundHasAudio: hasAudio}

	text := strings.TrimSpace(in.Text)
	if text == "" && hasAudio {
		transcript, err := p.transcribe(ctx, audio)
		if err != nil {
			if ctx.Err() != nil {
				return PreResult{}, fmt.Errorf("engine: transcribe voice note: %w", err)
			}
			p.logger.Warn("voice note transcription failed",
				"message_id", in.MessageID,
				"content_type", audio.ContentType,
				"error", err)
			res.ImmediateReply = audioFailureReply
			return res, nil
		}
		text = strings.TrimSpace(transcript)
		if text == "" {
			p.logger.Warn("voice note produced an empty transcript", "message_id", in.MessageID)
			res.ImmediateReply = audioFailureReply
			return res, nil
		}
	}

	if text == "" {
		res.ImmediateReply = emptyMessageReply
		return res, nil
	}

	detected, english := p.detect(ctx, text)
	res.OriginalText = text
	res.EnglishText = english
	res.DetectedLanguage = detected
	res.IsEnglish = lingua.IsEnglish(detected)

	env := envelope.Processing{
		Schema:                       envelope.ProcessingSchema,
		Source:                       in.Source,
		UserID:                       in.UserID,
		MessageID:                    in.MessageID,
		ConversationID:               in.ConversationID,
		StreamMessageID:              streamID,
		Timestamp:                    in.Timestamp,
		OriginalText:                 res.OriginalText,
		EnglishText:                  res.EnglishText,
		DetectedLanguage:             res.DetectedLanguage,
		IsEnglish:                    res.IsEnglish,
		RequiresTranslationToEnglish: !res.IsEnglish,
		InboundHasAudio:              hasAudio,
		ReplyInAudio:                 hasAudio && p.audioReplies,
	}
	input, err := env.SupervisorInput()
	if err != nil {
		return PreResult{}, fmt.Errorf("engine: render supervisor input: %w", err)
	}
	res.SupervisorInput = input
	return res, nil
}

// detect resolves the language and English rendering of text. Detection
// failures assume English so a broken translator never blocks the pipeline.
func (p *Preprocessor) detect(ctx context.Context, text string) (language, english string) {
	detected, english, err := p.detector.DetectToEnglish(ctx, text, "")
	if err != nil {
		p.logger.Warn("language detection failed, assuming english", "error", err)
		return "English", text
	}
	if strings.TrimSpace(detected) == "" {
		detected = "English"
	}
	english = strings.TrimSpace(english)
	if english == "" {
		english = text
	}
	return detected, english
}

// transcribe downloads one audio item and turns it into text.
func (p *Preprocessor) transcribe(ctx context.Context, item envelope.MediaItem) (string, error) {
	data, err := p.fetcher.Fetch(ctx, item.URL)
	if err != nil {
		return "", fmt.Errorf("engine: fetch audio media: %w", err)
	}

	filename := "voice-note" + extFromContentType(item.ContentType)
	mimeType := item.ContentType
	if converted, ok := p.maybeTranscode(ctx, filename, data); ok {
		data = converted
		filename = "voice-note.mp3"
		mimeType = "audio/mpeg"
	}

	req := stt.Request{Audio: data, Filename: filename, MIMEType: mimeType}
	start := time.Now()
	var out *stt.Result
	if p.forceEnglish {
		req.Prompt = forceEnglishPrompt
		out, err = p.transcriber.TranslateToEnglish(ctx, req)
	} else {
		out, err = p.transcriber.Transcribe(ctx, req)
	}
	observe.DefaultMetrics().STTDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return "", fmt.Errorf("engine: speech to text: %w", err)
	}
	return out.Text, nil
}

// maybeTranscode converts the audio to MP3 via ffmpeg when the binary is on
// PATH. WhatsApp voice notes arrive as OGG/OPUS, which not every STT backend
// accepts. Any conversion problem falls back to the original bytes.
func (p *Preprocessor) maybeTranscode(ctx context.Context, filename string, data []byte) ([]byte, bool) {
	if strings.HasSuffix(filename, ".mp3") {
		return nil, false
	}
	bin, err := p.lookPath("ffmpeg")
	if err != nil {
		return nil, false
	}

	dir, err := os.MkdirTemp("", "voice-note-")
	if err != nil {
		p.logger.Warn("transcode skipped", "error", err)
		return nil, false
	}
	defer os.RemoveAll(dir)

	src := filepath.Join(dir, filename)
	dst := filepath.Join(dir, "converted.mp3")
	if err := os.WriteFile(src, data, 0o600); err != nil {
		p.logger.Warn("transcode skipped", "error", err)
		return nil, false
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, "-y", "-i", src, dst)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		p.logger.Warn("transcode failed, using original audio",
			"error", err,
			"stderr", lastLine(stderr.String()))
		return nil, false
	}

	converted, err := os.ReadFile(dst)
	if err != nil {
		p.logger.Warn("transcode failed, using original audio", "error", err)
		return nil, false
	}
	return converted, true
}

// extFromContentType maps a channel-reported content type to a file
// extension; STT backends infer the codec from it.
func extFromContentType(contentType string) string {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	switch {
	case strings.HasPrefix(ct, "audio/ogg"):
		return ".ogg"
	case strings.HasPrefix(ct, "audio/opus"):
		return ".opus"
	case strings.HasPrefix(ct, "audio/mpeg"):
		return ".mp3"
	case strings.HasPrefix(ct, "audio/mp4"), strings.HasPrefix(ct, "audio/m4a"):
		return ".m4a"
	case strings.HasPrefix(ct, "audio/wav"):
		return ".wav"
	default:
		return ".bin"
	}
}

// lastLine extracts the final non-empty line, which for ffmpeg carries the
// actual failure reason.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
