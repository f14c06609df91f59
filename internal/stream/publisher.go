package stream

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/parleyio/parley/internal/envelope"
)

// Publisher appends normalized envelopes to the gateway streams. It assigns
// message ids and timestamps but never processes payloads.
type Publisher struct {
	client   *Client
	inbound  string
	outbound string
}

// NewPublisher returns a Publisher bound to the inbound and outbound streams.
func NewPublisher(client *Client, inboundStream, outboundStream string) *Publisher {
	return &Publisher{client: client, inbound: inboundStream, outbound: outboundStream}
}

// PublishInbound appends a user message to the inbound stream. A missing
// MessageID gets a fresh UUID, a missing ConversationID defaults to the
// MessageID, and the timestamp is always stamped here. Returns the Redis
// stream entry id.
func (p *Publisher) PublishInbound(ctx context.Context, msg envelope.Inbound) (string, error) {
	if msg.MessageID == "" {
		msg.MessageID = uuid.NewString()
	}
	if msg.ConversationID == "" {
		msg.ConversationID = msg.MessageID
	}
	msg.Timestamp = envelope.Now()

	slog.Info("publishing inbound message",
		"stream", p.inbound,
		"message_id", msg.MessageID,
		"source", msg.Source)

	id, err := p.client.Append(ctx, p.inbound, msg.Fields())
	if err != nil {
		return "", fmt.Errorf("stream: publish inbound: %w", err)
	}
	slog.Debug("inbound message published", "stream", p.inbound, "stream_id", id)
	return id, nil
}

// PublishOutbound appends a delivery payload to the outbound stream and
// returns the Redis stream entry id.
func (p *Publisher) PublishOutbound(ctx context.Context, out envelope.Outbound) (string, error) {
	slog.Info("publishing outbound message",
		"stream", p.outbound,
		"out_id", out.OutID,
		"correlation_id", out.CorrelationID,
		"user_id", out.UserID)

	id, err := p.client.Append(ctx, p.outbound, out.Fields())
	if err != nil {
		return "", fmt.Errorf("stream: publish outbound: %w", err)
	}
	slog.Debug("outbound message published", "stream", p.outbound, "stream_id", id)
	return id, nil
}
