// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a batch transcription service (e.g., the OpenAI audio
// API or Deepgram's prerecorded endpoint) and presents a uniform interface for
// turning a recorded voice note into text. Messaging channels deliver complete
// audio files, so the interface is deliberately batch-shaped: one request, one
// transcript.
//
// Implementations must be safe for concurrent use.
package stt

import "context"

// Provider is the abstraction over any STT backend.
//
// Implementations must be safe for concurrent use. Multiple transcriptions may
// run in parallel (one per inbound voice note).
type Provider interface {
	// Transcribe converts the recorded audio in req into text, in the language
	// spoken. The Language field of the request is a hint, not a constraint;
	// providers that auto-detect may ignore it.
	//
	// Returns an error if the provider cannot be reached, rejects the audio,
	// or ctx is cancelled.
	Transcribe(ctx context.Context, req Request) (*Result, error)

	// TranslateToEnglish converts the recorded audio in req directly into an
	// English transcript, regardless of the language spoken. Providers without
	// a native translation endpoint may transcribe instead and leave the
	// translation to a downstream step; callers must not assume the result is
	// English unless the provider documents it.
	TranslateToEnglish(ctx context.Context, req Request) (*Result, error)
}
