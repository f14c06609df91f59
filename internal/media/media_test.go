package media

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSaveAndResolve(t *testing.T) {
	t.Parallel()

	s, err := NewStore(t.TempDir(), "https://gw.example.com")
	if err != nil {
		t.Fatalf("NewStore: unexpected error: %v", err)
	}

	abs, url, err := s.Save("tts", "mp3", []byte("audio-bytes"))
	if err != nil {
		t.Fatalf("Save: unexpected error: %v", err)
	}
	if !strings.HasSuffix(abs, ".mp3") {
		t.Errorf("path = %q, want .mp3 suffix", abs)
	}
	if !strings.HasPrefix(url, "https://gw.example.com/media/tts/") || !strings.HasSuffix(url, ".mp3") {
		t.Errorf("url = %q", url)
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		t.Fatalf("ReadFile: unexpected error: %v", err)
	}
	if string(data) != "audio-bytes" {
		t.Errorf("content = %q", data)
	}

	rel := strings.TrimPrefix(url, "https://gw.example.com/media/")
	resolved, err := s.Resolve(rel)
	if err != nil {
		t.Fatalf("Resolve: unexpected error: %v", err)
	}
	if resolved != abs {
		t.Errorf("Resolve = %q, want %q", resolved, abs)
	}
}

func TestImport(t *testing.T) {
	t.Parallel()

	src := filepath.Join(t.TempDir(), "speech-src.opus")
	if err := os.WriteFile(src, []byte("opus-bytes"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	s, err := NewStore(t.TempDir(), "")
	if err != nil {
		t.Fatalf("NewStore: unexpected error: %v", err)
	}

	abs, url, err := s.Import("tts", "opus", src)
	if err != nil {
		t.Fatalf("Import: unexpected error: %v", err)
	}
	if url != "" {
		t.Errorf("url = %q, want empty without a public base", url)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		t.Fatalf("ReadFile: unexpected error: %v", err)
	}
	if string(data) != "opus-bytes" {
		t.Errorf("content = %q", data)
	}
}

func TestPublicURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		base string
		rel  string
		want string
	}{
		{name: "plain", base: "https://gw.example.com", rel: "tts/a.mp3", want: "https://gw.example.com/media/tts/a.mp3"},
		{name: "trailing slash trimmed", base: "https://gw.example.com/", rel: "tts/a.mp3", want: "https://gw.example.com/media/tts/a.mp3"},
		{name: "leading slash on rel", base: "https://gw.example.com", rel: "/tts/a.mp3", want: "https://gw.example.com/media/tts/a.mp3"},
		{name: "no base", base: "", rel: "tts/a.mp3", want: ""},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, err := NewStore(t.TempDir(), tt.base)
			if err != nil {
				t.Fatalf("NewStore: unexpected error: %v", err)
			}
			if got := s.PublicURL(tt.rel); got != tt.want {
				t.Fatalf("PublicURL = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolveRejectsTraversal(t *testing.T) {
	t.Parallel()

	s, err := NewStore(t.TempDir(), "")
	if err != nil {
		t.Fatalf("NewStore: unexpected error: %v", err)
	}

	for _, rel := range []string{
		"../secret.txt",
		"tts/../../secret.txt",
		"../../etc/passwd",
	} {
		if _, err := s.Resolve(rel); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("Resolve(%q) error = %v, want ErrInvalidPath", rel, err)
		}
	}
}

func TestResolveMissingFile(t *testing.T) {
	t.Parallel()

	s, err := NewStore(t.TempDir(), "")
	if err != nil {
		t.Fatalf("NewStore: unexpected error: %v", err)
	}

	if _, err := s.Resolve("tts/nope.mp3"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Resolve error = %v, want ErrNotFound", err)
	}

	// Directories are not servable.
	if err := os.MkdirAll(filepath.Join(s.Root(), "tts"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if _, err := s.Resolve("tts"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Resolve(dir) error = %v, want ErrNotFound", err)
	}
}

func TestNewStoreValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewStore("  ", ""); err == nil {
		t.Error("NewStore with empty root: expected error, got nil")
	}
}
