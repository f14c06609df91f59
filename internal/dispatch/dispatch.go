// Package dispatch delivers outbound payloads to their channels. It is the
// egress half of the gateway: the worker publishes replies to the outbound
// stream, and the dispatcher consumes them, suppresses duplicates by out_id,
// and hands each payload to the sender registered for its source.
//
// Acknowledgement discipline mirrors the worker: an entry is acknowledged
// after successful delivery (or an idempotent skip, or when it is poison);
// delivery failures leave it pending for redelivery.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/parleyio/parley/internal/envelope"
	"github.com/parleyio/parley/internal/observe"
	"github.com/parleyio/parley/internal/stream"
)

// Sender delivers one reply to a channel-specific address and returns the
// provider's message id.
type Sender interface {
	Send(ctx context.Context, out envelope.Outbound) (string, error)
}

// SentMarker is the idempotency slice the dispatcher needs.
// *stream.Idempotency satisfies it.
type SentMarker interface {
	WasSent(ctx context.Context, outID string) (bool, error)
	MarkSent(ctx context.Context, outID string) error
}

var _ SentMarker = (*stream.Idempotency)(nil)

// Dispatcher routes outbound entries to channel senders. Construct with
// [New], register senders, then drive Handle from a stream runner.
type Dispatcher struct {
	marks   SentMarker
	senders map[string]Sender
	logger  *slog.Logger
}

// Option configures a Dispatcher during construction.
type Option func(*Dispatcher)

// WithLogger sets the logger used for delivery events.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// New builds a Dispatcher with an empty sender registry.
func New(marks SentMarker, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		marks:   marks,
		senders: make(map[string]Sender),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register binds a sender to a source ("whatsapp", "discord"). Not safe to
// call once Handle is being driven; register everything during bootstrap.
func (d *Dispatcher) Register(source string, sender Sender) {
	d.senders[source] = sender
}

// Handle processes one outbound stream entry. A nil return acknowledges the
// entry: successful delivery, an idempotent skip, or poison that would never
// deliver. Errors leave the entry pending for redelivery.
func (d *Dispatcher) Handle(ctx context.Context, entry stream.Entry) error {
	met := observe.DefaultMetrics()
	out := envelope.ParseOutbound(entry.Fields)

	if !out.Deliverable() {
		d.logger.Warn("invalid outbound payload, draining",
			"stream_id", entry.ID,
			"out_id", out.OutID,
			"source", out.Source,
			"user_id", out.UserID)
		met.RecordDelivery(ctx, out.Source, "poison")
		return nil
	}

	seen, err := d.marks.WasSent(ctx, out.OutID)
	if err != nil {
		return fmt.Errorf("dispatch: idempotency check %s: %w", out.OutID, err)
	}
	if seen {
		d.logger.Info("outbound already delivered, skipping",
			"out_id", out.OutID, "stream_id", entry.ID)
		met.RecordDelivery(ctx, out.Source, "skipped")
		return nil
	}

	sender, ok := d.senders[out.Source]
	if !ok {
		return fmt.Errorf("dispatch: no sender registered for source %q", out.Source)
	}

	d.logger.Info("delivering outbound",
		"out_id", out.OutID,
		"source", out.Source,
		"user_id", out.UserID,
		"has_audio", out.ReplyAudioURL != "")

	met.ActiveDeliveries.Add(ctx, 1)
	providerID, err := sender.Send(ctx, out)
	met.ActiveDeliveries.Add(ctx, -1)
	if err != nil {
		met.RecordDelivery(ctx, out.Source, "failed")
		return fmt.Errorf("dispatch: deliver %s: %w", out.OutID, err)
	}
	d.logger.Debug("delivery succeeded", "out_id", out.OutID, "provider_id", providerID)
	met.RecordDelivery(ctx, out.Source, "delivered")

	if err := d.marks.MarkSent(ctx, out.OutID); err != nil {
		// The send went out but the mark is missing; redelivery may duplicate
		// it, which at-least-once allows.
		return err
	}
	return nil
}
