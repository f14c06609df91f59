// Package twilio adapts the Twilio SDK to the gateway's channel seams: a
// WhatsApp sender for outbound delivery, webhook signature validation,
// authenticated media download, and TwiML response bodies for the ingress.
package twilio

import (
	"context"
	"errors"
	"fmt"
	"strings"

	twiliosdk "github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/parleyio/parley/internal/dispatch"
	"github.com/parleyio/parley/internal/envelope"
)

// messageCreator is the slice of the Twilio REST client the sender needs.
type messageCreator interface {
	CreateMessageWithCtx(ctx context.Context, params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error)
}

// apiAdapter bridges messageCreator to the Twilio SDK, whose generated
// CreateMessage has no context parameter.
type apiAdapter struct{ api *openapi.ApiService }

func (a apiAdapter) CreateMessageWithCtx(_ context.Context, params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error) {
	return a.api.CreateMessage(params)
}

var _ messageCreator = apiAdapter{}

// Sender delivers outbound replies over Twilio WhatsApp.
type Sender struct {
	api  messageCreator
	from string
}

var _ dispatch.Sender = (*Sender)(nil)

// NewSender builds a WhatsApp sender from Twilio API credentials. The from
// address must carry the whatsapp: prefix (e.g. "whatsapp:+14155238886").
func NewSender(accountSID, authToken, from string) (*Sender, error) {
	if accountSID == "" || authToken == "" {
		return nil, errors.New("twilio: account sid and auth token are required")
	}
	if from == "" {
		return nil, errors.New("twilio: whatsapp from address is required")
	}
	rest := twiliosdk.NewRestClientWithParams(twiliosdk.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &Sender{api: apiAdapter{api: rest.Api}, from: from}, nil
}

// Send delivers one reply to the user's WhatsApp number and returns the
// Twilio message SID. The outbound user_id doubles as the destination:
// inbound already carries the whatsapp:+E.164 form Twilio expects. A reply
// audio URL rides along as a media attachment.
func (s *Sender) Send(ctx context.Context, out envelope.Outbound) (string, error) {
	to := strings.TrimSpace(out.UserID)
	if to == "" || out.ReplyText == "" {
		return "", errors.New("twilio: outbound needs user_id and reply_text")
	}

	params := &openapi.CreateMessageParams{}
	params.SetFrom(s.from)
	params.SetTo(to)
	params.SetBody(out.ReplyText)
	if out.ReplyAudioURL != "" {
		params.SetMediaUrl([]string{out.ReplyAudioURL})
	}

	msg, err := s.api.CreateMessageWithCtx(ctx, params)
	if err != nil {
		return "", fmt.Errorf("twilio: create message: %w", err)
	}
	sid := ""
	if msg.Sid != nil {
		sid = *msg.Sid
	}
	return sid, nil
}
