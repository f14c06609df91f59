package memory

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

type fakeConn struct {
	values map[string]string
	ttls   map[string]time.Duration
	lists  map[string][]string
	trims  map[string]int64

	getErr   error
	setErr   error
	pushErr  error
	fetchErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		values: map[string]string{},
		ttls:   map[string]time.Duration{},
		lists:  map[string][]string{},
		trims:  map[string]int64{},
	}
}

func (f *fakeConn) Get(_ context.Context, key string) (string, error) {
	if f.getErr != nil {
		return "", f.getErr
	}
	return f.values[key], nil
}

func (f *fakeConn) SetEx(_ context.Context, key, value string, ttl time.Duration) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.values[key] = value
	f.ttls[key] = ttl
	return nil
}

func (f *fakeConn) ListPush(_ context.Context, key, value string) error {
	if f.pushErr != nil {
		return f.pushErr
	}
	f.lists[key] = append([]string{value}, f.lists[key]...)
	return nil
}

func (f *fakeConn) ListTrim(_ context.Context, key string, keep int64) error {
	f.trims[key] = keep
	if int64(len(f.lists[key])) > keep {
		f.lists[key] = f.lists[key][:keep]
	}
	return nil
}

func (f *fakeConn) Expire(_ context.Context, key string, ttl time.Duration) error {
	f.ttls[key] = ttl
	return nil
}

func (f *fakeConn) FetchBundle(_ context.Context, keys []string, listKey string, listCount int64) ([]string, []string, error) {
	if f.fetchErr != nil {
		return nil, nil, f.fetchErr
	}
	values := make([]string, len(keys))
	for i, key := range keys {
		values[i] = f.values[key]
	}
	list := f.lists[listKey]
	if int64(len(list)) > listCount {
		list = list[:listCount]
	}
	return values, list, nil
}

func decodeDoc(t *testing.T, raw string) map[string]any {
	t.Helper()
	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		t.Fatalf("decode stored doc: %v", err)
	}
	return doc
}

func TestUpsertUserProfile_CreatesDocument(t *testing.T) {
	conn := newFakeConn()
	store := NewStore(conn)

	merged, err := store.UpsertUserProfile(context.Background(), "whatsapp:+49151", map[string]any{
		"last_detected_language": "Spanish",
	})
	if err != nil {
		t.Fatalf("UpsertUserProfile() error = %v", err)
	}

	if merged["schema"] != UserProfileSchema {
		t.Errorf("schema = %v, want %q", merged["schema"], UserProfileSchema)
	}
	if merged["user_id"] != "whatsapp:+49151" {
		t.Errorf("user_id = %v", merged["user_id"])
	}
	if merged["created_at"] == "" || merged["created_at"] == nil {
		t.Error("created_at missing")
	}
	if merged["updated_at"] == "" || merged["updated_at"] == nil {
		t.Error("updated_at missing")
	}

	stored := decodeDoc(t, conn.values["mem:user:whatsapp:+49151:profile"])
	if stored["last_detected_language"] != "Spanish" {
		t.Errorf("stored patch = %v", stored["last_detected_language"])
	}
}

func TestUpsertUserProfile_PreservesCreatedAtAndMergesPatch(t *testing.T) {
	conn := newFakeConn()
	conn.values["mem:user:u1:profile"] = `{"schema":"user_profile_v1","user_id":"u1","created_at":"2026-01-01T00:00:00Z","nickname":"Sam"}`
	store := NewStore(conn)

	merged, err := store.UpsertUserProfile(context.Background(), "u1", map[string]any{
		"last_detected_language": "German",
	})
	if err != nil {
		t.Fatalf("UpsertUserProfile() error = %v", err)
	}

	if merged["created_at"] != "2026-01-01T00:00:00Z" {
		t.Errorf("created_at = %v, want preserved", merged["created_at"])
	}
	if merged["nickname"] != "Sam" {
		t.Errorf("nickname = %v, want preserved", merged["nickname"])
	}
	if merged["last_detected_language"] != "German" {
		t.Errorf("patch not applied: %v", merged["last_detected_language"])
	}
}

func TestUpsertUserProfile_CorruptExistingIsReplaced(t *testing.T) {
	conn := newFakeConn()
	conn.values["mem:user:u1:profile"] = "{not json"
	store := NewStore(conn)

	merged, err := store.UpsertUserProfile(context.Background(), "u1", map[string]any{"k": "v"})
	if err != nil {
		t.Fatalf("UpsertUserProfile() error = %v", err)
	}
	if merged["schema"] != UserProfileSchema {
		t.Errorf("schema = %v, want fresh document", merged["schema"])
	}
}

func TestUpsertConversationState_AlwaysHasTTL(t *testing.T) {
	conn := newFakeConn()
	store := NewStore(conn)

	_, err := store.UpsertConversationState(context.Background(), "conv-1", "u1", map[string]any{
		"last_status": "success",
	})
	if err != nil {
		t.Fatalf("UpsertConversationState() error = %v", err)
	}

	key := "mem:conv:conv-1:state"
	if conn.ttls[key] != DefaultConversationTTL {
		t.Errorf("ttl = %v, want %v", conn.ttls[key], DefaultConversationTTL)
	}
	stored := decodeDoc(t, conn.values[key])
	if stored["schema"] != ConversationStateSchema {
		t.Errorf("schema = %v", stored["schema"])
	}
	if stored["conversation_id"] != "conv-1" || stored["user_id"] != "u1" {
		t.Errorf("identity = %v/%v", stored["conversation_id"], stored["user_id"])
	}
}

func TestAppendUserEvent_TrimsToLimit(t *testing.T) {
	conn := newFakeConn()
	store := NewStore(conn, WithEventsLimit(2))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := store.AppendUserEvent(ctx, "u1", map[string]any{"n": i}); err != nil {
			t.Fatalf("AppendUserEvent() error = %v", err)
		}
	}

	key := "mem:user:u1:events"
	if conn.trims[key] != 2 {
		t.Errorf("trim keep = %d, want 2", conn.trims[key])
	}
	if len(conn.lists[key]) != 2 {
		t.Errorf("len(events) = %d, want 2", len(conn.lists[key]))
	}
	newest := decodeDoc(t, conn.lists[key][0])
	if newest["n"] != float64(2) {
		t.Errorf("newest event = %v, want n=2 first", newest["n"])
	}
}

func TestWithEventsLimit_Clamps(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{0, 1},
		{-5, 1},
		{15, 15},
		{999, 200},
	}
	for _, tc := range tests {
		s := NewStore(newFakeConn(), WithEventsLimit(tc.in))
		if s.eventsLimit != tc.want {
			t.Errorf("WithEventsLimit(%d) = %d, want %d", tc.in, s.eventsLimit, tc.want)
		}
	}
}

func TestGetContext_ParsesAllDocuments(t *testing.T) {
	conn := newFakeConn()
	conn.values["mem:user:u1:profile"] = `{"schema":"user_profile_v1","user_id":"u1"}`
	conn.values["mem:conv:c1:state"] = `{"schema":"conversation_state_v1","last_status":"success"}`
	conn.lists["mem:user:u1:events"] = []string{
		`{"schema":"memory_event_v1","reply_text":"newest"}`,
		"{corrupt",
		`{"schema":"memory_event_v1","reply_text":"older"}`,
	}
	store := NewStore(conn)

	got, err := store.GetContext(context.Background(), "u1", "c1")
	if err != nil {
		t.Fatalf("GetContext() error = %v", err)
	}
	if got.UserProfile == nil || got.UserProfile["user_id"] != "u1" {
		t.Errorf("UserProfile = %v", got.UserProfile)
	}
	if got.ConversationState == nil || got.ConversationState["last_status"] != "success" {
		t.Errorf("ConversationState = %v", got.ConversationState)
	}
	if len(got.RecentEvents) != 2 {
		t.Fatalf("len(RecentEvents) = %d, want corrupt entry skipped", len(got.RecentEvents))
	}
	if got.RecentEvents[0]["reply_text"] != "newest" {
		t.Errorf("events order: first = %v, want newest", got.RecentEvents[0]["reply_text"])
	}
}

func TestGetContext_MissesAreNil(t *testing.T) {
	store := NewStore(newFakeConn())

	got, err := store.GetContext(context.Background(), "nobody", "nothing")
	if err != nil {
		t.Fatalf("GetContext() error = %v", err)
	}
	if got.UserProfile != nil || got.ConversationState != nil || len(got.RecentEvents) != 0 {
		t.Errorf("GetContext() = %+v, want empty misses", got)
	}
}

func TestWriteSuccess_WritesStateProfileAndEvent(t *testing.T) {
	conn := newFakeConn()
	store := NewStore(conn)

	store.WriteSuccess(context.Background(), Exchange{
		UserID:           "u1",
		ConversationID:   "c1",
		OriginalText:     "hola",
		EnglishText:      "hello",
		DetectedLanguage: "Spanish",
		InboundHasAudio:  true,
		ReplyText:        "hi!",
		Actions:          []string{"notion_search"},
		TaskInstructions: "look it up",
		ReplyAudioURL:    "https://gw/media/tts/x.mp3",
		WriteUserEvent:   true,
	})

	state := decodeDoc(t, conn.values["mem:conv:c1:state"])
	if state["last_reply_text"] != "hi!" {
		t.Errorf("last_reply_text = %v", state["last_reply_text"])
	}
	if state["detected_language_last"] != "Spanish" {
		t.Errorf("detected_language_last = %v", state["detected_language_last"])
	}

	profile := decodeDoc(t, conn.values["mem:user:u1:profile"])
	if profile["reply_in_audio_when_inbound_audio"] != true {
		t.Errorf("reply_in_audio_when_inbound_audio = %v, want true", profile["reply_in_audio_when_inbound_audio"])
	}

	events := conn.lists["mem:user:u1:events"]
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(events))
	}
	event := decodeDoc(t, events[0])
	if event["schema"] != EventSchema {
		t.Errorf("event schema = %v", event["schema"])
	}
	if event["event_id"] == nil || event["event_id"] == "" {
		t.Error("event_id missing")
	}
}

func TestWriteSuccess_SkipsEventWhenNotGrounded(t *testing.T) {
	conn := newFakeConn()
	store := NewStore(conn)

	store.WriteSuccess(context.Background(), Exchange{
		UserID:         "u1",
		ConversationID: "c1",
		ReplyText:      "hi",
		WriteUserEvent: false,
	})

	if len(conn.lists["mem:user:u1:events"]) != 0 {
		t.Error("event written, want skipped")
	}
	if conn.values["mem:conv:c1:state"] == "" {
		t.Error("conversation state missing, want written")
	}
}

func TestWriteSuccess_SwallowsErrors(t *testing.T) {
	conn := newFakeConn()
	conn.setErr = errors.New("redis down")
	store := NewStore(conn)

	// Must not panic or propagate.
	store.WriteSuccess(context.Background(), Exchange{UserID: "u1", ConversationID: "c1", ReplyText: "hi", WriteUserEvent: true})
}

func TestProfileTTL_ZeroMeansNoExpiry(t *testing.T) {
	conn := newFakeConn()
	store := NewStore(conn)

	if _, err := store.UpsertUserProfile(context.Background(), "u1", map[string]any{}); err != nil {
		t.Fatalf("UpsertUserProfile() error = %v", err)
	}
	if conn.ttls["mem:user:u1:profile"] != 0 {
		t.Errorf("profile ttl = %v, want 0", conn.ttls["mem:user:u1:profile"])
	}
}
