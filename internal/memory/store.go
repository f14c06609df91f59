// Package memory is the Redis-backed conversational memory layer. Writes are
// deterministic and worker-driven: the gateway records successful exchanges
// itself instead of relying on the model to remember. Documents are small
// versioned JSON blobs under a common key prefix, and reads are a single
// pipelined round trip.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/parleyio/parley/internal/stream"
)

// Document schemas. The version suffix guards future migrations.
const (
	UserProfileSchema       = "user_profile_v1"
	ConversationStateSchema = "conversation_state_v1"
	EventSchema             = "memory_event_v1"
)

// Defaults applied by NewStore.
const (
	DefaultKeyPrefix       = "mem"
	DefaultEventsLimit     = 15
	DefaultConversationTTL = 12 * time.Hour
)

const maxEventsLimit = 200

// Conn is the Redis slice the store needs. *stream.Client satisfies it.
type Conn interface {
	Get(ctx context.Context, key string) (string, error)
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error
	ListPush(ctx context.Context, key, value string) error
	ListTrim(ctx context.Context, key string, keep int64) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	FetchBundle(ctx context.Context, keys []string, listKey string, listCount int64) ([]string, []string, error)
}

var _ Conn = (*stream.Client)(nil)

// Context is one user's memory as read back for a request: the profile
// document, the per-conversation state document, and recent exchange events
// newest first. Absent documents are nil.
type Context struct {
	UserProfile       map[string]any
	ConversationState map[string]any
	RecentEvents      []map[string]any
}

// Exchange is the record of one successfully handled message, written after
// the reply is known.
type Exchange struct {
	UserID           string
	ConversationID   string
	OriginalText     string
	EnglishText      string
	DetectedLanguage string
	InboundHasAudio  bool
	ReplyText        string
	Actions          []string
	TaskInstructions string
	ReplyAudioURL    string

	// WriteUserEvent controls whether the exchange is appended to the user's
	// event history in addition to the profile/state upserts.
	WriteUserEvent bool
}

// Option configures a Store.
type Option func(*Store)

// WithKeyPrefix overrides the key namespace (default "mem").
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) {
		prefix = strings.Trim(prefix, ":")
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithEventsLimit bounds the per-user event history. Values are clamped to
// [1, 200].
func WithEventsLimit(n int) Option {
	return func(s *Store) { s.eventsLimit = clampEvents(n) }
}

// WithConversationTTL overrides how long conversation state lives (default
// 12h). Non-positive values keep the default.
func WithConversationTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.conversationTTL = ttl
		}
	}
}

// WithProfileTTL sets an expiry on user profiles. Zero (the default) keeps
// profiles forever.
func WithProfileTTL(ttl time.Duration) Option {
	return func(s *Store) { s.profileTTL = ttl }
}

// WithEventsTTL sets an expiry on the event history list. Zero (the default)
// keeps it forever.
func WithEventsTTL(ttl time.Duration) Option {
	return func(s *Store) { s.eventsTTL = ttl }
}

// Store reads and writes memory documents.
type Store struct {
	conn            Conn
	prefix          string
	eventsLimit     int
	conversationTTL time.Duration
	profileTTL      time.Duration
	eventsTTL       time.Duration
}

// NewStore builds a Store over a Redis connection.
func NewStore(conn Conn, opts ...Option) *Store {
	s := &Store{
		conn:            conn,
		prefix:          DefaultKeyPrefix,
		eventsLimit:     DefaultEventsLimit,
		conversationTTL: DefaultConversationTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func clampEvents(n int) int {
	if n < 1 {
		return 1
	}
	if n > maxEventsLimit {
		return maxEventsLimit
	}
	return n
}

func (s *Store) key(parts ...string) string {
	safe := make([]string, 0, len(parts)+1)
	safe = append(safe, s.prefix)
	for _, p := range parts {
		if p = strings.Trim(p, ":"); p != "" {
			safe = append(safe, p)
		}
	}
	return strings.Join(safe, ":")
}

func (s *Store) profileKey(userID string) string      { return s.key("user", userID, "profile") }
func (s *Store) stateKey(conversationID string) string { return s.key("conv", conversationID, "state") }
func (s *Store) eventsKey(userID string) string       { return s.key("user", userID, "events") }

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func parseDoc(raw string) map[string]any {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil
	}
	return doc
}

// GetContext fetches the user profile, conversation state, and recent events
// in one pipelined read. Events are newest first.
func (s *Store) GetContext(ctx context.Context, userID, conversationID string) (Context, error) {
	keys := []string{s.profileKey(userID), s.stateKey(conversationID)}
	values, rawEvents, err := s.conn.FetchBundle(ctx, keys, s.eventsKey(userID), int64(s.eventsLimit))
	if err != nil {
		return Context{}, fmt.Errorf("memory: fetch context: %w", err)
	}

	out := Context{
		UserProfile:       parseDoc(values[0]),
		ConversationState: parseDoc(values[1]),
	}
	for _, raw := range rawEvents {
		if doc := parseDoc(raw); doc != nil {
			out.RecentEvents = append(out.RecentEvents, doc)
		}
	}

	slog.Debug("memory read",
		"profile", hitOrMiss(out.UserProfile != nil),
		"conversation_state", hitOrMiss(out.ConversationState != nil),
		"events", len(out.RecentEvents))
	return out, nil
}

func hitOrMiss(hit bool) string {
	if hit {
		return "hit"
	}
	return "miss"
}

// upsertDoc merges patch into the stored document: existing fields first,
// then the base identity fields, then the patch, then updated_at.
func (s *Store) upsertDoc(ctx context.Context, key, schema string, identity map[string]any, patch map[string]any, ttl time.Duration) (map[string]any, error) {
	raw, err := s.conn.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("memory: read %s: %w", key, err)
	}
	existing := parseDoc(raw)
	if existing == nil {
		existing = map[string]any{}
	}

	merged := make(map[string]any, len(existing)+len(patch)+4)
	for k, v := range existing {
		merged[k] = v
	}
	if sc, ok := existing["schema"].(string); ok && sc != "" {
		merged["schema"] = sc
	} else {
		merged["schema"] = schema
	}
	for k, v := range identity {
		merged[k] = v
	}
	if created, ok := existing["created_at"].(string); ok && created != "" {
		merged["created_at"] = created
	} else {
		merged["created_at"] = nowISO()
	}
	for k, v := range patch {
		merged[k] = v
	}
	merged["updated_at"] = nowISO()

	encoded, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("memory: encode %s: %w", key, err)
	}
	if err := s.conn.SetEx(ctx, key, string(encoded), ttl); err != nil {
		return nil, fmt.Errorf("memory: write %s: %w", key, err)
	}
	return merged, nil
}

// UpsertUserProfile merges patch into the user's profile document.
func (s *Store) UpsertUserProfile(ctx context.Context, userID string, patch map[string]any) (map[string]any, error) {
	return s.upsertDoc(ctx, s.profileKey(userID), UserProfileSchema,
		map[string]any{"user_id": userID}, patch, s.profileTTL)
}

// UpsertConversationState merges patch into the conversation state document.
// State always carries a TTL.
func (s *Store) UpsertConversationState(ctx context.Context, conversationID, userID string, patch map[string]any) (map[string]any, error) {
	return s.upsertDoc(ctx, s.stateKey(conversationID), ConversationStateSchema,
		map[string]any{"conversation_id": conversationID, "user_id": userID}, patch, s.conversationTTL)
}

// AppendUserEvent prepends an event to the user's bounded history list.
func (s *Store) AppendUserEvent(ctx context.Context, userID string, event map[string]any) error {
	encoded, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("memory: encode event: %w", err)
	}
	key := s.eventsKey(userID)
	if err := s.conn.ListPush(ctx, key, string(encoded)); err != nil {
		return fmt.Errorf("memory: push event: %w", err)
	}
	if err := s.conn.ListTrim(ctx, key, int64(s.eventsLimit)); err != nil {
		return fmt.Errorf("memory: trim events: %w", err)
	}
	if s.eventsTTL > 0 {
		if err := s.conn.Expire(ctx, key, s.eventsTTL); err != nil {
			return fmt.Errorf("memory: expire events: %w", err)
		}
	}
	return nil
}

// WriteSuccess records a successfully handled exchange: conversation state,
// a minimal profile update, and optionally an event history entry. It is
// best-effort and never returns an error; memory must not break replies.
func (s *Store) WriteSuccess(ctx context.Context, x Exchange) {
	slog.Info("memory write",
		"user_id", x.UserID,
		"conversation_id", x.ConversationID,
		"detected_language", x.DetectedLanguage,
		"inbound_has_audio", x.InboundHasAudio,
		"has_audio_url", x.ReplyAudioURL != "")

	actions := x.Actions
	if actions == nil {
		actions = []string{}
	}

	if _, err := s.UpsertConversationState(ctx, x.ConversationID, x.UserID, map[string]any{
		"last_status":            "success",
		"last_original_text":     x.OriginalText,
		"last_english_text":      x.EnglishText,
		"last_reply_text":        x.ReplyText,
		"last_actions":           actions,
		"last_task_instructions": x.TaskInstructions,
		"detected_language_last": x.DetectedLanguage,
		"inbound_has_audio_last": x.InboundHasAudio,
		"reply_audio_url_last":   x.ReplyAudioURL,
	}); err != nil {
		slog.Warn("memory write skipped", "kind", "conversation_state", "user_id", x.UserID, "error", err)
		return
	}

	profilePatch := map[string]any{
		"last_seen_at":           nowISO(),
		"last_detected_language": x.DetectedLanguage,
	}
	if x.InboundHasAudio {
		profilePatch["reply_in_audio_when_inbound_audio"] = true
	}
	if _, err := s.UpsertUserProfile(ctx, x.UserID, profilePatch); err != nil {
		slog.Warn("memory write skipped", "kind", "user_profile", "user_id", x.UserID, "error", err)
		return
	}

	if !x.WriteUserEvent {
		slog.Info("memory event skipped", "reason", "not_grounded", "user_id", x.UserID, "conversation_id", x.ConversationID)
		return
	}

	event := map[string]any{
		"schema":            EventSchema,
		"event_id":          uuid.NewString(),
		"ts":                nowISO(),
		"user_id":           x.UserID,
		"conversation_id":   x.ConversationID,
		"original_text":     strings.TrimSpace(x.OriginalText),
		"english_text":      strings.TrimSpace(x.EnglishText),
		"reply_text":        x.ReplyText,
		"detected_language": x.DetectedLanguage,
		"inbound_has_audio": x.InboundHasAudio,
		"actions":           actions,
		"task_instructions": x.TaskInstructions,
		"reply_audio_url":   x.ReplyAudioURL,
	}
	if err := s.AppendUserEvent(ctx, x.UserID, event); err != nil {
		slog.Warn("memory write skipped", "kind", "user_event", "user_id", x.UserID, "error", err)
	}
}
