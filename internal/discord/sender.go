package discord

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"github.com/parleyio/parley/internal/dispatch"
	"github.com/parleyio/parley/internal/envelope"
)

// maxContentLen is Discord's hard cap on message content.
const maxContentLen = 2000

// messageSender is the slice of the Discord session the sender needs.
type messageSender interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
}

var _ messageSender = (*discordgo.Session)(nil)

// Sender delivers outbound replies over the Discord REST API.
type Sender struct {
	session messageSender
}

var _ dispatch.Sender = (*Sender)(nil)

// NewSender builds a Sender over the bot's session.
func NewSender(b *Bot) *Sender {
	return &Sender{session: b.session}
}

// Send posts one reply to the conversation channel the message arrived in.
// Replies without a conversation id fall back to a DM with the user. The
// returned id is Discord's message id.
func (s *Sender) Send(ctx context.Context, out envelope.Outbound) (string, error) {
	if out.ReplyText == "" {
		return "", errors.New("discord: outbound needs reply_text")
	}

	channelID := out.ConversationID
	if channelID == "" {
		if out.UserID == "" {
			return "", errors.New("discord: outbound needs conversation_id or user_id")
		}
		ch, err := s.session.UserChannelCreate(out.UserID, discordgo.WithContext(ctx))
		if err != nil {
			return "", fmt.Errorf("discord: open dm channel for %s: %w", out.UserID, err)
		}
		channelID = ch.ID
	}

	msg, err := s.session.ChannelMessageSend(channelID, composeContent(out), discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("discord: send to channel %s: %w", channelID, err)
	}
	return msg.ID, nil
}

// composeContent renders the delivery payload as one Discord message. A
// reply audio URL rides on its own line so clients show an inline player,
// and the text is clamped so the URL never gets cut.
func composeContent(out envelope.Outbound) string {
	if out.ReplyAudioURL == "" {
		return clampRunes(out.ReplyText, maxContentLen)
	}
	budget := maxContentLen - utf8.RuneCountInString(out.ReplyAudioURL) - 1
	text := clampRunes(out.ReplyText, budget)
	return text + "\n" + out.ReplyAudioURL
}

// clampRunes cuts s to at most n runes, marking the cut with an ellipsis.
func clampRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}
