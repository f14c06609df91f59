// Package discord adapts the Discord gateway to the pipeline's channel
// seams: a Bot that turns guild and DM messages into inbound envelopes,
// and a Sender that delivers replies back to the originating channel.
package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/parleyio/parley/internal/envelope"
	"github.com/parleyio/parley/internal/observe"
	"github.com/parleyio/parley/internal/stream"
)

// publishTimeout bounds the stream append for one gateway event. Handlers
// run on discordgo's event goroutines, so the bound comes from here rather
// than from a request context.
const publishTimeout = 10 * time.Second

// InboundPublisher appends normalized messages to the inbound stream.
// *stream.Publisher satisfies it.
type InboundPublisher interface {
	PublishInbound(ctx context.Context, msg envelope.Inbound) (string, error)
}

var _ InboundPublisher = (*stream.Publisher)(nil)

// BotConfig holds the gateway bot's collaborators.
type BotConfig struct {
	// Token is the Discord bot token, without the "Bot " prefix.
	Token string

	// Publisher receives one inbound envelope per user message.
	Publisher InboundPublisher

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Bot owns the Discord gateway connection. Every guild or DM message from
// a human becomes one inbound envelope; replies travel separately through
// the dispatcher, so the bot never answers in the handler.
type Bot struct {
	session   *discordgo.Session
	publisher InboundPublisher
	logger    *slog.Logger
	closeOnce sync.Once
}

// NewBot creates a Bot and registers the message handler. The gateway
// connection is not opened until Run.
func NewBot(cfg BotConfig) (*Bot, error) {
	if cfg.Token == "" {
		return nil, errors.New("discord: bot token is required")
	}
	if cfg.Publisher == nil {
		return nil, errors.New("discord: inbound publisher is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent

	b := &Bot{
		session:   session,
		publisher: cfg.Publisher,
		logger:    logger,
	}
	session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		b.handleMessage(m)
	})
	return b, nil
}

// Run opens the gateway connection and blocks until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("discord: open session: %w", err)
	}
	b.logger.Info("discord bot connected")

	<-ctx.Done()
	if err := b.Close(); err != nil {
		b.logger.Warn("discord session close failed", "error", err)
	}
	return ctx.Err()
}

// Close disconnects from the gateway. Safe to call more than once.
func (b *Bot) Close() error {
	var closeErr error
	b.closeOnce.Do(func() {
		if err := b.session.Close(); err != nil {
			closeErr = fmt.Errorf("discord: close session: %w", err)
		}
		b.logger.Info("discord bot closed")
	})
	return closeErr
}

// handleMessage publishes one MessageCreate event to the inbound stream.
// Bot and webhook authors (this bot included) are dropped so replies can
// never loop back into the pipeline.
func (b *Bot) handleMessage(m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.WebhookID != "" {
		return
	}

	text := strings.TrimSpace(m.Content)
	media := mediaFromAttachments(m.Attachments)
	if text == "" && len(media) == 0 {
		return
	}

	metadata, err := json.Marshal(struct {
		MessageID string               `json:"message_id,omitempty"`
		GuildID   string               `json:"guild_id,omitempty"`
		Username  string               `json:"username,omitempty"`
		NumMedia  int                  `json:"num_media"`
		Media     []envelope.MediaItem `json:"media,omitempty"`
	}{
		MessageID: m.ID,
		GuildID:   m.GuildID,
		Username:  m.Author.Username,
		NumMedia:  len(media),
		Media:     media,
	})
	if err != nil {
		b.logger.Error("discord metadata encode failed", "message_id", m.ID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	// The publisher assigns the message id and timestamp; the channel id
	// becomes the conversation so replies land where the message came from.
	streamID, err := b.publisher.PublishInbound(ctx, envelope.Inbound{
		Source:         envelope.SourceDiscord,
		UserID:         m.Author.ID,
		ConversationID: m.ChannelID,
		Text:           text,
		Metadata:       string(metadata),
	})
	if err != nil {
		b.logger.Error("discord message publish failed",
			"channel_id", m.ChannelID,
			"message_id", m.ID,
			"error", err)
		return
	}

	observe.DefaultMetrics().RecordInboundMessage(ctx, envelope.SourceDiscord)
	b.logger.Info("discord message accepted",
		"user_id", m.Author.ID,
		"channel_id", m.ChannelID,
		"stream_id", streamID,
		"num_media", len(media))
}

// mediaFromAttachments maps message attachments onto the shared media
// metadata contract. Items without a reported content type are dropped;
// the preprocessor cannot act on them.
func mediaFromAttachments(atts []*discordgo.MessageAttachment) []envelope.MediaItem {
	items := make([]envelope.MediaItem, 0, len(atts))
	for _, att := range atts {
		if att == nil || att.URL == "" || att.ContentType == "" {
			continue
		}
		items = append(items, envelope.MediaItem{URL: att.URL, ContentType: att.ContentType})
	}
	return items
}
