package ingress

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/parleyio/parley/internal/envelope"
	"github.com/parleyio/parley/internal/observe"
	"github.com/parleyio/parley/internal/stream"
	"github.com/parleyio/parley/internal/twilio"
)

// somethingWentWrongReply is sent back through the channel when a message was
// received but could not be queued. The sender sees a reply either way.
const somethingWentWrongReply = "Something went wrong. Please try again."

// InboundPublisher queues a normalized message for the agent workers.
type InboundPublisher interface {
	PublishInbound(ctx context.Context, msg envelope.Inbound) (string, error)
}

var _ InboundPublisher = (*stream.Publisher)(nil)

// SignatureValidator checks a webhook request's provider signature.
type SignatureValidator interface {
	Validate(r *http.Request, form url.Values) bool
}

var _ SignatureValidator = (*twilio.Validator)(nil)

// WhatsAppWebhookConfig configures the WhatsApp ingress handler.
type WhatsAppWebhookConfig struct {
	Publisher InboundPublisher

	// Validator checks X-Twilio-Signature. Required when ValidateSignature
	// is true; a nil validator with validation enabled fails every request
	// rather than silently accepting forgeries.
	Validator         SignatureValidator
	ValidateSignature bool

	Logger *slog.Logger
}

// WhatsAppWebhook normalizes Twilio form posts into inbound envelopes and
// acknowledges them with TwiML. Replies arrive later via the dispatcher,
// never in the webhook response.
type WhatsAppWebhook struct {
	publisher InboundPublisher
	validator SignatureValidator
	validate  bool
	logger    *slog.Logger
}

var _ http.Handler = (*WhatsAppWebhook)(nil)

// NewWhatsAppWebhook builds the handler.
func NewWhatsAppWebhook(cfg WhatsAppWebhookConfig) *WhatsAppWebhook {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &WhatsAppWebhook{
		publisher: cfg.Publisher,
		validator: cfg.Validator,
		validate:  cfg.ValidateSignature,
		logger:    logger,
	}
}

func (h *WhatsAppWebhook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "malformed form payload", http.StatusBadRequest)
		return
	}

	if h.validate {
		if h.validator == nil {
			h.logger.Error("signature validation enabled without credentials")
			http.Error(w, "server misconfigured", http.StatusInternalServerError)
			return
		}
		if !h.validator.Validate(r, r.PostForm) {
			h.logger.Warn("rejected webhook with invalid signature", "remote", r.RemoteAddr)
			http.Error(w, "invalid signature", http.StatusForbidden)
			return
		}
	}

	userID := r.PostForm.Get("From")
	text := r.PostForm.Get("Body")
	messageSID := r.PostForm.Get("MessageSid")
	items := twilio.MediaItemsFromForm(r.PostForm)

	if userID == "" || (text == "" && len(items) == 0) {
		http.Error(w, "missing sender or content", http.StatusBadRequest)
		return
	}

	metadata, err := json.Marshal(struct {
		MessageSID string               `json:"message_sid,omitempty"`
		NumMedia   int                  `json:"num_media"`
		Media      []envelope.MediaItem `json:"media,omitempty"`
	}{
		MessageSID: messageSID,
		NumMedia:   len(items),
		Media:      items,
	})
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	streamID, err := h.publisher.PublishInbound(r.Context(), envelope.Inbound{
		Source:   envelope.SourceWhatsApp,
		UserID:   userID,
		Text:     text,
		Metadata: string(metadata),
	})
	if err != nil {
		// The message is lost, so tell the sender instead of erroring the
		// webhook: the provider would retry and we would rather not double
		// up if the queue recovers mid-retry.
		h.logger.Error("failed to enqueue whatsapp message", "error", err, "user_id", userID)
		writeTwiML(w, twilio.MessageTwiML(somethingWentWrongReply))
		return
	}

	observe.DefaultMetrics().RecordInboundMessage(r.Context(), envelope.SourceWhatsApp)
	h.logger.Info("whatsapp message accepted",
		"user_id", userID,
		"message_sid", messageSID,
		"stream_id", streamID,
		"num_media", len(items),
	)
	writeTwiML(w, twilio.EmptyTwiML)
}

func writeTwiML(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", twilio.TwiMLContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}
