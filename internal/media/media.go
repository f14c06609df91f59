// Package media manages the gateway's locally hosted media files.
//
// The worker writes synthesized speech under the media root; the ingress
// serves those files back over GET /media/{path} so channel providers can
// fetch them as message attachments. A [Store] owns the root directory,
// generates collision-free file names, builds the public URLs, and resolves
// inbound request paths safely back under the root.
package media

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Sentinel errors returned by [Store.Resolve]. The ingress maps
// ErrInvalidPath to 400 and ErrNotFound to 404.
var (
	ErrInvalidPath = errors.New("media: path escapes the media root")
	ErrNotFound    = errors.New("media: file not found")
)

// Store hosts generated media files under a single root directory.
// It is safe for concurrent use.
type Store struct {
	root          string
	publicBaseURL string
	logger        *slog.Logger
}

// Option configures a [Store] during construction.
type Option func(*Store)

// WithLogger sets the logger used for write events.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore creates a Store rooted at root. The directory is created when
// absent. publicBaseURL is the externally reachable base (scheme + host) the
// ingress is served under; pass "" when the gateway has no public URL, in
// which case [Store.PublicURL] returns "" and callers skip media delivery.
func NewStore(root, publicBaseURL string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("media: root directory must not be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("media: create root: %w", err)
	}

	s := &Store{
		root:          root,
		publicBaseURL: strings.TrimRight(strings.TrimSpace(publicBaseURL), "/"),
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Save writes data under <root>/<relDir>/<uuid>.<ext> and returns the
// absolute file path together with its public URL ("" when the store has no
// public base URL).
func (s *Store) Save(relDir, ext string, data []byte) (absPath, publicURL string, err error) {
	u := uuid.New()
	name := hex.EncodeToString(u[:]) + "." + strings.TrimPrefix(strings.TrimSpace(ext), ".")
	rel := path.Join(strings.Trim(relDir, "/"), name)

	absPath = filepath.Join(s.root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return "", "", fmt.Errorf("media: create directory: %w", err)
	}
	if err := os.WriteFile(absPath, data, 0o644); err != nil {
		return "", "", fmt.Errorf("media: write file: %w", err)
	}

	s.logger.Debug("media file written", "path", absPath, "bytes", len(data))
	return absPath, s.PublicURL(rel), nil
}

// Import copies the file at srcPath into the store under relDir, keeping the
// given format extension. Used for artifacts produced elsewhere (e.g. the
// speech tool writes to a temp file) that must become publicly servable.
func (s *Store) Import(relDir, ext, srcPath string) (absPath, publicURL string, err error) {
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return "", "", fmt.Errorf("media: read source file: %w", err)
	}
	return s.Save(relDir, ext, data)
}

// HasPublicBase reports whether a public base URL is configured. Without one,
// stored files cannot be fetched by the channels.
func (s *Store) HasPublicBase() bool {
	return s.publicBaseURL != ""
}

// PublicURL returns the externally reachable URL for a file stored under
// relPath, or "" when the store has no public base URL.
func (s *Store) PublicURL(relPath string) string {
	if s.publicBaseURL == "" {
		return ""
	}
	return s.publicBaseURL + "/media/" + strings.TrimLeft(relPath, "/")
}

// Resolve maps a request path from the media route to an absolute file path
// under the root. Paths that escape the root return [ErrInvalidPath]; paths
// that resolve to a missing file or a directory return [ErrNotFound].
func (s *Store) Resolve(relPath string) (string, error) {
	rootAbs, err := filepath.Abs(s.root)
	if err != nil {
		return "", fmt.Errorf("media: resolve root: %w", err)
	}

	candidate := filepath.Join(rootAbs, filepath.FromSlash(strings.TrimLeft(relPath, "/")))
	candidate = filepath.Clean(candidate)
	if candidate != rootAbs && !strings.HasPrefix(candidate, rootAbs+string(filepath.Separator)) {
		return "", ErrInvalidPath
	}

	info, err := os.Stat(candidate)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("media: stat: %w", err)
	}
	if info.IsDir() {
		return "", ErrNotFound
	}
	return candidate, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string {
	return s.root
}
