// Package engine implements the execution pipeline between the inbound and
// outbound streams: preprocess (media → STT → English envelope), supervise,
// assemble the reply, optionally synthesize an audio reply, gate the memory
// write on grounded success, and publish for delivery.
//
// The consumer-group loop shell lives in [stream.Runner]; [Worker.Handle] is
// the handler it drives. An entry is acknowledged only after the outbound
// publish succeeds — any earlier failure leaves it pending for redelivery.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/parleyio/parley/internal/envelope"
	"github.com/parleyio/parley/internal/grounding"
	"github.com/parleyio/parley/internal/mcp/tools/memorytool"
	"github.com/parleyio/parley/internal/media"
	"github.com/parleyio/parley/internal/memory"
	"github.com/parleyio/parley/internal/observe"
	"github.com/parleyio/parley/internal/stream"
	"github.com/parleyio/parley/internal/supervisor"
	"github.com/parleyio/parley/pkg/provider/tts"
)

// defaultReply is sent when a supervisor run yields no usable text.
const defaultReply = "Done."

// ttsSubdir is the media-root subdirectory for synthesized replies.
const ttsSubdir = "tts"

// Supervisor runs one routed exchange. *supervisor.Supervisor satisfies it.
type Supervisor interface {
	Run(ctx context.Context, input string) (*supervisor.Result, error)
}

var _ Supervisor = (*supervisor.Supervisor)(nil)

// Memory is the slice of the memory store the worker uses: a prefetch before
// the supervisor runs and a best-effort write after a grounded success.
type Memory interface {
	GetContext(ctx context.Context, userID, conversationID string) (memory.Context, error)
	WriteSuccess(ctx context.Context, x memory.Exchange)
}

var _ Memory = (*memory.Store)(nil)

// OutboundPublisher appends delivery payloads to the outbound stream.
// *stream.Publisher satisfies it.
type OutboundPublisher interface {
	PublishOutbound(ctx context.Context, out envelope.Outbound) (string, error)
}

var _ OutboundPublisher = (*stream.Publisher)(nil)

// WorkerConfig carries the worker's reply-synthesis settings.
type WorkerConfig struct {
	// TTSVoice and TTSModel are the synthesis defaults for audio replies.
	TTSVoice string
	TTSModel string

	// TTSFormat is the synthesis output format. Empty means "mp3".
	TTSFormat string

	// AudioReplies gates voice replies on voice inbound.
	AudioReplies bool

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Worker processes one inbound entry end to end. Safe for concurrent use;
// the stream runner invokes Handle from a bounded pool.
type Worker struct {
	pre       *Preprocessor
	sup       Supervisor
	memory    Memory
	publisher OutboundPublisher
	synth     tts.Provider
	media     *media.Store

	ttsVoice     string
	ttsModel     string
	ttsFormat    string
	audioReplies bool
	logger       *slog.Logger
}

// NewWorker wires the pipeline stages together.
func NewWorker(pre *Preprocessor, sup Supervisor, mem Memory, publisher OutboundPublisher, synth tts.Provider, store *media.Store, cfg WorkerConfig) *Worker {
	if cfg.TTSFormat == "" {
		cfg.TTSFormat = "mp3"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		pre:          pre,
		sup:          sup,
		memory:       mem,
		publisher:    publisher,
		synth:        synth,
		media:        store,
		ttsVoice:     cfg.TTSVoice,
		ttsModel:     cfg.TTSModel,
		ttsFormat:    cfg.TTSFormat,
		audioReplies: cfg.AudioReplies,
		logger:       logger,
	}
}

// Handle processes one inbound stream entry. A nil return lets the runner
// acknowledge the entry; it is reached only after the outbound publish
// succeeded.
func (w *Worker) Handle(ctx context.Context, entry stream.Entry) error {
	met := observe.DefaultMetrics()
	met.ActiveExchanges.Add(ctx, 1)
	began := time.Now()
	defer func() {
		met.ActiveExchanges.Add(ctx, -1)
		met.ExchangeDuration.Record(ctx, time.Since(began).Seconds())
	}()

	in := envelope.ParseInbound(entry.ID, entry.Fields)

	if ts, ok := in.Time(); ok {
		lag := time.Since(ts).Seconds()
		met.StreamLag.Record(ctx, lag)
		w.logger.Info("inbound lag",
			"stream_id", entry.ID,
			"lag_s", lag)
	}

	pre, err := w.pre.Prepare(ctx, entry.ID, in)
	if err != nil {
		return err
	}

	var result *supervisor.Result
	replyText := pre.ImmediateReply
	if replyText != "" {
		w.logger.Info("immediate reply", "stream_id", entry.ID, "reply", replyText)
	} else {
		w.logger.Info("processing message",
			"stream_id", entry.ID,
			"source", in.Source,
			"user_id", in.UserID,
			"detected_language", pre.DetectedLanguage,
			"is_english", pre.IsEnglish,
			"inbound_has_audio", pre.InboundHasAudio)

		// Fresh grounding tracker per message; the memory tool resolves the
		// caller's identity from the context.
		ctx = grounding.NewContext(ctx)
		ctx = memorytool.WithIdentity(ctx, in.UserID, in.ConversationID)

		input := w.prefetchMemory(ctx, in, pre.SupervisorInput)

		supStart := time.Now()
		result, err = w.sup.Run(ctx, input)
		met.SupervisorDuration.Record(ctx, time.Since(supStart).Seconds())
		if err != nil {
			return fmt.Errorf("engine: supervisor run: %w", err)
		}
		w.logger.Info("supervisor done", "stream_id", entry.ID, "duration", time.Since(supStart))

		replyText = strings.TrimSpace(result.Text)
		if replyText == "" {
			replyText = defaultReply
		}
	}

	w.logger.Info("reply ready", "stream_id", entry.ID, "chars", len(replyText))

	out := w.buildOutbound(in, replyText)

	if pre.InboundHasAudio && w.audioReplies {
		w.attachAudioReply(ctx, &out, result)
	}

	w.maybeWriteMemory(ctx, entry.ID, in, pre, result, out)

	if _, err := w.publisher.PublishOutbound(ctx, out); err != nil {
		return fmt.Errorf("engine: publish outbound: %w", err)
	}
	return nil
}

// prefetchMemory injects a compact memory snapshot into the supervisor input
// so routing does not need a memory tool call. Best-effort: a failed read
// leaves the input unchanged.
func (w *Worker) prefetchMemory(ctx context.Context, in envelope.Inbound, supervisorInput string) string {
	memCtx, err := w.memory.GetContext(ctx, in.UserID, in.ConversationID)
	if err != nil {
		w.logger.Warn("memory prefetch failed, continuing without memory context",
			"user_id", in.UserID, "error", err)
		return supervisorInput
	}
	return envelope.InjectMemory(supervisorInput, memory.Compact(memCtx))
}

// buildOutbound assembles the delivery payload. Inbound metadata is echoed
// when it is valid JSON, otherwise wrapped so the field stays parseable.
func (w *Worker) buildOutbound(in envelope.Inbound, replyText string) envelope.Outbound {
	out := envelope.Outbound{
		OutID:          uuid.NewString(),
		CorrelationID:  in.MessageID,
		ConversationID: in.ConversationID,
		Source:         in.Source,
		UserID:         in.UserID,
		ReplyText:      replyText,
		Status:         envelope.StatusSuccess,
		Timestamp:      envelope.Now(),
	}
	if in.Metadata != "" {
		out.Metadata = sanitizeMetadata(in.Metadata)
	}
	return out
}

func sanitizeMetadata(metadata string) string {
	if json.Valid([]byte(metadata)) {
		return metadata
	}
	wrapped, err := json.Marshal(map[string]string{"raw": metadata})
	if err != nil {
		return ""
	}
	return string(wrapped)
}

// attachAudioReply adds a voice rendition of the reply to the payload. Any
// failure downgrades to text-only; audio never blocks delivery.
func (w *Worker) attachAudioReply(ctx context.Context, out *envelope.Outbound, result *supervisor.Result) {
	url, mimeType, err := w.buildAudioReply(ctx, out.ReplyText, result)
	if err != nil {
		w.logger.Warn("audio reply failed, sending text only",
			"correlation_id", out.CorrelationID, "error", err)
		return
	}
	if url == "" {
		return
	}
	out.ReplyAudioURL = url
	out.ReplyAudioMIMEType = mimeType
}

// buildAudioReply produces a publicly served audio file for replyText and
// returns its URL and MIME type. A file the supervisor already synthesized
// through the speech tool is reused; otherwise the reply is synthesized here.
func (w *Worker) buildAudioReply(ctx context.Context, replyText string, result *supervisor.Result) (string, string, error) {
	if w.synth == nil || w.media == nil {
		return "", "", nil
	}
	if !w.media.HasPublicBase() {
		w.logger.Warn("audio reply skipped, media_public_base_url is not configured")
		return "", "", nil
	}

	if url, format, ok := w.importSupervisorAudio(result); ok {
		return url, envelope.GuessMIMEFromAudioFormat(format), nil
	}

	synthStart := time.Now()
	synthesized, err := w.synth.Synthesize(ctx, tts.Request{
		Text:   replyText,
		Voice:  w.ttsVoice,
		Model:  w.ttsModel,
		Format: w.ttsFormat,
	})
	observe.DefaultMetrics().TTSDuration.Record(ctx, time.Since(synthStart).Seconds())
	if err != nil {
		return "", "", fmt.Errorf("engine: synthesize reply: %w", err)
	}
	format := synthesized.Format
	if format == "" {
		format = w.ttsFormat
	}
	_, url, err := w.media.Save(ttsSubdir, format, synthesized.Audio)
	if err != nil {
		return "", "", fmt.Errorf("engine: store audio reply: %w", err)
	}
	return url, envelope.GuessMIMEFromAudioFormat(format), nil
}

// importSupervisorAudio copies the speech-tool output named in the structured
// reply under the media root, avoiding a second synthesis pass.
func (w *Worker) importSupervisorAudio(result *supervisor.Result) (url, format string, ok bool) {
	if result == nil || !result.Structured {
		return "", "", false
	}
	src := strings.TrimSpace(result.Reply.TTSFilePath)
	if src == "" {
		return "", "", false
	}
	format = strings.TrimSpace(result.Reply.TTSFormat)
	if format == "" {
		format = w.ttsFormat
	}
	_, url, err := w.media.Import(ttsSubdir, format, src)
	if err != nil {
		w.logger.Warn("supervisor speech file unusable, synthesizing again",
			"path", src, "error", err)
		return "", "", false
	}
	return url, format, true
}

// maybeWriteMemory persists the exchange when the supervisor reported success
// AND at least one non-internal tool call succeeded. Unstructured replies and
// immediate replies never pass the gate.
func (w *Worker) maybeWriteMemory(ctx context.Context, streamID string, in envelope.Inbound, pre PreResult, result *supervisor.Result, out envelope.Outbound) {
	status := ""
	var actions []string
	taskInstructions := ""
	if result != nil {
		if result.Structured {
			status = strings.ToLower(strings.TrimSpace(result.Reply.Status))
			actions = result.Reply.Actions
		}
		if len(result.TaskInstructions) > 0 {
			taskInstructions = result.TaskInstructions[len(result.TaskInstructions)-1]
		}
	}

	grounded := grounding.GroundedSuccess(ctx)
	if status != supervisor.StatusSuccess || !grounded {
		display := status
		if display == "" {
			display = "unknown"
		}
		w.logger.Info("memory write skipped",
			"stream_id", streamID,
			"status", display,
			"grounded", grounded)
		return
	}

	w.memory.WriteSuccess(ctx, memory.Exchange{
		UserID:           in.UserID,
		ConversationID:   in.ConversationID,
		OriginalText:     pre.OriginalText,
		EnglishText:      pre.EnglishText,
		DetectedLanguage: pre.DetectedLanguage,
		InboundHasAudio:  pre.InboundHasAudio,
		ReplyText:        out.ReplyText,
		Actions:          actions,
		TaskInstructions: taskInstructions,
		ReplyAudioURL:    out.ReplyAudioURL,
		WriteUserEvent:   true,
	})
}
