package resilience

import (
	"context"

	"github.com/parleyio/parley/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with automatic failover across multiple
// STT backends. Each backend has its own circuit breaker.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

// Compile-time interface assertion.
var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	if cfg.Kind == "" {
		cfg.Kind = "stt"
	}
	return &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional STT provider as a fallback.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Healthy returns an error when every backend's circuit breaker is open.
func (f *STTFallback) Healthy() error {
	return f.group.Healthy()
}

// Transcribe runs the request against the first healthy provider. If the
// primary fails, subsequent fallbacks are tried.
func (f *STTFallback) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	return ExecuteWithResult(ctx, f.group, func(p stt.Provider) (*stt.Result, error) {
		return p.Transcribe(ctx, req)
	})
}

// TranslateToEnglish runs the request against the first healthy provider. If
// the primary fails, subsequent fallbacks are tried.
func (f *STTFallback) TranslateToEnglish(ctx context.Context, req stt.Request) (*stt.Result, error) {
	return ExecuteWithResult(ctx, f.group, func(p stt.Provider) (*stt.Result, error) {
		return p.TranslateToEnglish(ctx, req)
	})
}
