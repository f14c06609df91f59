// Package envelope defines the wire contracts that flow through the gateway:
// inbound stream entries published by channel ingresses, outbound entries
// published by the worker for delivery, and the JSON envelope handed to the
// supervisor as its user message.
//
// Stream payloads are flat string maps so they survive Redis Streams
// round-trips unchanged. Structured values (metadata, the supervisor
// envelope) are JSON-encoded strings.
package envelope

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Channel sources recognized by the dispatcher.
const (
	SourceWhatsApp = "whatsapp"
	SourceDiscord  = "discord"
)

// Delivery statuses carried on outbound entries.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// SupervisorInputPrefix introduces the JSON envelope in the supervisor's
// user message.
const SupervisorInputPrefix = "INPUT_ENVELOPE_JSON:\n"

// ProcessingSchema is the schema tag of the supervisor input envelope.
const ProcessingSchema = "inbound_envelope_v1"

// ── Inbound ──────────────────────────────────────────────────────────────────

// Inbound is a normalized user message as appended to the inbound stream.
type Inbound struct {
	// MessageID is the logical message id assigned by the ingress.
	MessageID string

	// Source names the originating channel ("whatsapp", "discord").
	Source string

	// UserID is the channel-scoped user address (e.g. "whatsapp:+49151...").
	UserID string

	// ConversationID groups messages into a thread. Defaults to MessageID.
	ConversationID string

	// Text is the trimmed message body. Empty for pure media messages.
	Text string

	// Timestamp is the publish time in RFC 3339 UTC.
	Timestamp string

	// Metadata is an optional JSON blob of channel specifics (media items).
	Metadata string
}

// Fields flattens the message for XADD.
func (in Inbound) Fields() map[string]string {
	fields := map[string]string{
		"message_id":      in.MessageID,
		"source":          in.Source,
		"user_id":         in.UserID,
		"conversation_id": in.ConversationID,
		"text":            in.Text,
		"timestamp":       in.Timestamp,
	}
	if in.Metadata != "" {
		fields["metadata"] = in.Metadata
	}
	return fields
}

// ParseInbound normalizes raw stream fields into an Inbound. Missing ids fall
// back: message_id to the stream entry id, conversation_id to message_id;
// source and user_id default to "unknown".
func ParseInbound(streamID string, fields map[string]string) Inbound {
	in := Inbound{
		MessageID:      strings.TrimSpace(fields["message_id"]),
		Source:         strings.TrimSpace(fields["source"]),
		UserID:         strings.TrimSpace(fields["user_id"]),
		ConversationID: strings.TrimSpace(fields["conversation_id"]),
		Text:           strings.TrimSpace(fields["text"]),
		Timestamp:      fields["timestamp"],
		Metadata:       fields["metadata"],
	}
	if in.Source == "" {
		in.Source = "unknown"
	}
	if in.UserID == "" {
		in.UserID = "unknown"
	}
	if in.MessageID == "" {
		in.MessageID = streamID
	}
	if in.ConversationID == "" {
		in.ConversationID = in.MessageID
	}
	return in
}

// Time parses the inbound timestamp. Timestamps without a zone are assumed
// to be UTC. The second return reports whether parsing succeeded.
func (in Inbound) Time() (time.Time, bool) {
	return parseTimestamp(in.Timestamp)
}

func parseTimestamp(ts string) (time.Time, bool) {
	ts = strings.TrimSpace(ts)
	if ts == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, ts); err == nil {
		return t.UTC(), true
	}
	if t, err := time.Parse("2006-01-02T15:04:05.999999999", ts); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}

// Now formats the current time the way stream timestamps are written.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// ── Outbound ─────────────────────────────────────────────────────────────────

// Outbound is the delivery payload produced by the worker and consumed by the
// dispatcher. All values are string-safe for Redis Streams.
type Outbound struct {
	// OutID uniquely identifies this delivery attempt family (idempotency key).
	OutID string

	// CorrelationID links back to the inbound MessageID.
	CorrelationID string

	ConversationID string
	Source         string
	UserID         string
	ReplyText      string

	// ReplyAudioURL and ReplyAudioMIMEType carry an optional voice reply.
	ReplyAudioURL      string
	ReplyAudioMIMEType string

	// Status is "success" or "error".
	Status string

	// Timestamp is the publish time in RFC 3339 UTC.
	Timestamp string

	// Metadata is an optional JSON string echoed from the inbound entry.
	Metadata string
}

// Fields flattens the payload for XADD. Optional fields are omitted when
// empty so dispatchers can distinguish "absent" from "blank".
func (out Outbound) Fields() map[string]string {
	fields := map[string]string{
		"out_id":          out.OutID,
		"correlation_id":  out.CorrelationID,
		"conversation_id": out.ConversationID,
		"source":          out.Source,
		"user_id":         out.UserID,
		"reply_text":      out.ReplyText,
		"status":          out.Status,
		"timestamp":       out.Timestamp,
	}
	if out.ReplyAudioURL != "" {
		fields["reply_audio_url"] = out.ReplyAudioURL
	}
	if out.ReplyAudioMIMEType != "" {
		fields["reply_audio_mime_type"] = out.ReplyAudioMIMEType
	}
	if out.Metadata != "" {
		fields["metadata"] = out.Metadata
	}
	return fields
}

// ParseOutbound reads raw stream fields back into an Outbound.
func ParseOutbound(fields map[string]string) Outbound {
	return Outbound{
		OutID:              strings.TrimSpace(fields["out_id"]),
		CorrelationID:      strings.TrimSpace(fields["correlation_id"]),
		ConversationID:     strings.TrimSpace(fields["conversation_id"]),
		Source:             strings.TrimSpace(fields["source"]),
		UserID:             strings.TrimSpace(fields["user_id"]),
		ReplyText:          strings.TrimSpace(fields["reply_text"]),
		ReplyAudioURL:      strings.TrimSpace(fields["reply_audio_url"]),
		ReplyAudioMIMEType: strings.TrimSpace(fields["reply_audio_mime_type"]),
		Status:             strings.TrimSpace(fields["status"]),
		Timestamp:          fields["timestamp"],
		Metadata:           fields["metadata"],
	}
}

// Deliverable reports whether the payload carries the minimum fields the
// dispatcher needs. Entries failing this check are poison and get drained.
func (out Outbound) Deliverable() bool {
	return out.OutID != "" && out.UserID != "" && out.ReplyText != ""
}

// ── Supervisor input ─────────────────────────────────────────────────────────

// Processing is the envelope handed to the supervisor as its user message.
// It carries the normalized text in both the original language and English,
// plus routing hints so the supervisor can act without extra tool calls.
type Processing struct {
	Schema                       string `json:"schema"`
	Source                       string `json:"source"`
	UserID                       string `json:"user_id"`
	MessageID                    string `json:"message_id"`
	ConversationID               string `json:"conversation_id"`
	StreamMessageID              string `json:"stream_message_id"`
	Timestamp                    string `json:"timestamp"`
	OriginalText                 string `json:"original_text"`
	EnglishText                  string `json:"english_text"`
	DetectedLanguage             string `json:"detected_language"`
	IsEnglish                    bool   `json:"is_english"`
	RequiresTranslationToEnglish bool   `json:"requires_translation_to_english"`
	InboundHasAudio              bool   `json:"inbound_has_audio"`
	ReplyInAudio                 bool   `json:"reply_in_audio"`
	MemoryContext                any    `json:"memory_context,omitempty"`
}

// SupervisorInput renders the envelope as the supervisor's user message.
func (p Processing) SupervisorInput() (string, error) {
	if p.Schema == "" {
		p.Schema = ProcessingSchema
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("envelope: marshal supervisor input: %w", err)
	}
	return SupervisorInputPrefix + string(raw) + "\n", nil
}

// InjectMemory adds a memory_context value to an already rendered supervisor
// input. Inputs that do not carry the envelope prefix, or whose payload does
// not decode, are returned unchanged.
func InjectMemory(supervisorInput string, memoryContext any) string {
	if !strings.HasPrefix(supervisorInput, SupervisorInputPrefix) {
		return supervisorInput
	}
	raw := strings.TrimSpace(strings.TrimPrefix(supervisorInput, SupervisorInputPrefix))
	var payload map[string]any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return supervisorInput
	}
	payload["memory_context"] = memoryContext
	encoded, err := json.Marshal(payload)
	if err != nil {
		return supervisorInput
	}
	return SupervisorInputPrefix + string(encoded) + "\n"
}
