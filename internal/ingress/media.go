package ingress

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/parleyio/parley/internal/media"
)

// MediaHandler serves files from the media store by their relative path.
// Channels fetch synthesized audio from here using the public URLs the
// workers attach to outbound envelopes.
func MediaHandler(store *media.Store, logger *slog.Logger) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		rel := r.PathValue("path")
		abs, err := store.Resolve(rel)
		switch {
		case errors.Is(err, media.ErrInvalidPath):
			http.Error(w, "invalid media path", http.StatusBadRequest)
			return
		case errors.Is(err, media.ErrNotFound):
			http.NotFound(w, r)
			return
		case err != nil:
			logger.Error("failed to resolve media path", "error", err, "path", rel)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		http.ServeFile(w, r, abs)
	}
}
