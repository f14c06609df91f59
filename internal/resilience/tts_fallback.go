package resilience

import (
	"context"

	"github.com/parleyio/parley/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] with automatic failover across multiple
// TTS backends. Each backend has its own circuit breaker.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

// Compile-time interface assertion.
var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	if cfg.Kind == "" {
		cfg.Kind = "tts"
	}
	return &TTSFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional TTS provider as a fallback.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Healthy returns an error when every backend's circuit breaker is open.
func (f *TTSFallback) Healthy() error {
	return f.group.Healthy()
}

// Synthesize runs the request against the first healthy provider. If the
// primary fails, subsequent fallbacks are tried.
func (f *TTSFallback) Synthesize(ctx context.Context, req tts.Request) (*tts.Result, error) {
	return ExecuteWithResult(ctx, f.group, func(p tts.Provider) (*tts.Result, error) {
		return p.Synthesize(ctx, req)
	})
}
