// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., OpenAI speech or
// ElevenLabs) and presents a uniform batch interface: one reply text in, one
// encoded audio file out. Messaging channels deliver audio as complete files,
// so there is no streaming surface here.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use. Multiple synthesis requests
// may run in parallel (one per outbound audio reply).
type Provider interface {
	// Synthesize renders req.Text as encoded audio. The returned Result
	// carries the raw file bytes together with the actual format produced,
	// which callers must use when naming and serving the file.
	//
	// Returns an error if the provider cannot be reached, rejects the input,
	// or ctx is cancelled.
	Synthesize(ctx context.Context, req Request) (*Result, error)
}
