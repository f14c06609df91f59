package elevenlabs

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/parleyio/parley/pkg/provider/tts"
)

func TestNewRequiresAPIKey(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Error("New(\"\") succeeded, want error")
	}
}

func TestSynthesize(t *testing.T) {
	t.Parallel()

	var gotPath, gotKey, gotQuery string
	var gotBody synthesisRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("xi-api-key")
		gotQuery = r.URL.RawQuery
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("ID3-fake-mp3"))
	}))
	defer srv.Close()

	p, err := New("xi-key", WithEndpoint(srv.URL), WithHTTPClient(srv.Client()), WithVoiceID("voice-7"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := p.Synthesize(context.Background(), tts.Request{Text: "Hello there", Format: "mp3"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	if string(res.Audio) != "ID3-fake-mp3" {
		t.Errorf("Audio = %q, want response body", res.Audio)
	}
	if res.Format != "mp3" {
		t.Errorf("Format = %q, want mp3", res.Format)
	}
	if gotPath != "/v1/text-to-speech/voice-7" {
		t.Errorf("path = %q, want /v1/text-to-speech/voice-7", gotPath)
	}
	if gotKey != "xi-key" {
		t.Errorf("xi-api-key = %q, want xi-key", gotKey)
	}
	if !strings.Contains(gotQuery, "output_format=mp3_44100_128") {
		t.Errorf("query = %q, want mp3 output format", gotQuery)
	}
	if gotBody.Text != "Hello there" {
		t.Errorf("body text = %q, want Hello there", gotBody.Text)
	}
	if gotBody.ModelID != defaultModel {
		t.Errorf("body model = %q, want %q", gotBody.ModelID, defaultModel)
	}
}

func TestSynthesizeRequestVoiceWins(t *testing.T) {
	t.Parallel()

	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte("audio"))
	}))
	defer srv.Close()

	p, _ := New("xi-key", WithEndpoint(srv.URL), WithHTTPClient(srv.Client()), WithVoiceID("default-voice"))
	if _, err := p.Synthesize(context.Background(), tts.Request{Text: "hi", Voice: "explicit-voice"}); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if gotPath != "/v1/text-to-speech/explicit-voice" {
		t.Errorf("path = %q, want request voice to win", gotPath)
	}
}

func TestSynthesizeErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"detail":"quota exceeded"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p, _ := New("xi-key", WithEndpoint(srv.URL), WithHTTPClient(srv.Client()))
	_, err := p.Synthesize(context.Background(), tts.Request{Text: "hi"})
	if err == nil {
		t.Fatal("Synthesize with 429 succeeded, want error")
	}
	if !strings.Contains(err.Error(), "quota exceeded") {
		t.Errorf("error %q does not carry the provider message", err)
	}
}

func TestSynthesizeEmptyText(t *testing.T) {
	t.Parallel()

	p, _ := New("xi-key")
	if _, err := p.Synthesize(context.Background(), tts.Request{}); err == nil {
		t.Error("Synthesize with empty text succeeded, want error")
	}
}

func TestNormalizeFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in        string
		wantName  string
		wantQuery string
	}{
		{"", "mp3", "mp3_44100_128"},
		{"mp3", "mp3", "mp3_44100_128"},
		{"wav", "pcm", "pcm_24000"},
		{"ogg", "opus", "opus_48000_64"},
		{"weird", "mp3", "mp3_44100_128"},
	}
	for _, tt := range tests {
		name, query := normalizeFormat(tt.in)
		if name != tt.wantName || query != tt.wantQuery {
			t.Errorf("normalizeFormat(%q) = (%q, %q), want (%q, %q)",
				tt.in, name, query, tt.wantName, tt.wantQuery)
		}
	}
}
