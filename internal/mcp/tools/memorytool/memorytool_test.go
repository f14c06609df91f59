package memorytool

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/parleyio/parley/internal/memory"
)

// fakeStore is a scripted ContextReader.
type fakeStore struct {
	gotUserID         string
	gotConversationID string
	ctx               memory.Context
	err               error
}

func (f *fakeStore) GetContext(_ context.Context, userID, conversationID string) (memory.Context, error) {
	f.gotUserID = userID
	f.gotConversationID = conversationID
	if f.err != nil {
		return memory.Context{}, f.err
	}
	return f.ctx, nil
}

func TestGetContextUsesRequestIdentity(t *testing.T) {
	t.Parallel()

	store := &fakeStore{ctx: memory.Context{
		UserProfile: map[string]any{"last_detected_language": "Hindi"},
	}}
	tool := NewTool(store)

	ctx := WithIdentity(context.Background(), "whatsapp:+491701234567", "conv-9")
	out, err := tool.Handler(ctx, "{}")
	if err != nil {
		t.Fatalf("Handler: %v", err)
	}

	if store.gotUserID != "whatsapp:+491701234567" {
		t.Errorf("store called with user %q, want identity from context", store.gotUserID)
	}
	if store.gotConversationID != "conv-9" {
		t.Errorf("store called with conversation %q, want conv-9", store.gotConversationID)
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("result is not JSON: %v", err)
	}
	profile, _ := payload["user_profile"].(map[string]any)
	if profile["last_detected_language"] != "Hindi" {
		t.Errorf("user_profile = %v, want stored profile", payload["user_profile"])
	}
}

func TestGetContextExplicitArgsWin(t *testing.T) {
	t.Parallel()

	store := &fakeStore{ctx: memory.Context{}}
	tool := NewTool(store)

	ctx := WithIdentity(context.Background(), "ctx-user", "ctx-conv")
	_, err := tool.Handler(ctx, `{"user_id": "arg-user", "conversation_id": "arg-conv"}`)
	if err != nil {
		t.Fatalf("Handler: %v", err)
	}
	if store.gotUserID != "arg-user" || store.gotConversationID != "arg-conv" {
		t.Errorf("store called with (%q, %q), want explicit args to win",
			store.gotUserID, store.gotConversationID)
	}
}

func TestGetContextNoIdentity(t *testing.T) {
	t.Parallel()

	tool := NewTool(&fakeStore{ctx: memory.Context{}})
	if _, err := tool.Handler(context.Background(), "{}"); err == nil {
		t.Error("Handler without identity succeeded, want error")
	}
}

func TestGetContextStoreError(t *testing.T) {
	t.Parallel()

	store := &fakeStore{err: errors.New("redis gone")}
	tool := NewTool(store)

	ctx := WithIdentity(context.Background(), "u1", "c1")
	if _, err := tool.Handler(ctx, "{}"); err == nil {
		t.Error("Handler with failing store succeeded, want error")
	}
}

func TestGetContextTruncatesLongEventValues(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 2000)
	store := &fakeStore{ctx: memory.Context{
		RecentEvents: []map[string]any{
			{"reply_text": long, "ts": "2025-03-14T08:00:00Z"},
		},
	}}
	tool := NewTool(store)

	ctx := WithIdentity(context.Background(), "u1", "c1")
	out, err := tool.Handler(ctx, "{}")
	if err != nil {
		t.Fatalf("Handler: %v", err)
	}

	var payload struct {
		RecentEvents []map[string]any `json:"recent_events"`
	}
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("result is not JSON: %v", err)
	}
	if len(payload.RecentEvents) != 1 {
		t.Fatalf("recent_events count = %d, want 1", len(payload.RecentEvents))
	}
	got, _ := payload.RecentEvents[0]["reply_text"].(string)
	if len(got) != eventValueLimit {
		t.Errorf("truncated value length = %d, want %d", len(got), eventValueLimit)
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("truncated value does not end with ellipsis: %q", got[len(got)-10:])
	}
	if payload.RecentEvents[0]["ts"] != "2025-03-14T08:00:00Z" {
		t.Errorf("short value was altered: %v", payload.RecentEvents[0]["ts"])
	}
}

func TestTruncateEventsCutsOnRuneBoundary(t *testing.T) {
	t.Parallel()

	// 2-byte runes: the byte limit lands mid-rune, so a byte-indexed cut
	// would emit invalid UTF-8.
	long := strings.Repeat("é", eventValueLimit)
	got := truncateEvents([]map[string]any{{"reply_text": long}})

	s, _ := got[0]["reply_text"].(string)
	if !utf8.ValidString(s) {
		t.Fatalf("truncated value is not valid UTF-8: %q", s[len(s)-8:])
	}
	if !strings.HasSuffix(s, "...") {
		t.Errorf("truncated value does not end with ellipsis: %q", s[len(s)-8:])
	}
	if len(s) > eventValueLimit {
		t.Errorf("truncated length = %d, want <= %d", len(s), eventValueLimit)
	}
}
