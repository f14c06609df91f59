// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider in unit tests to feed controlled audio into the reply pipeline
// without a live synthesis backend.
package mock

import (
	"context"
	"sync"

	"github.com/parleyio/parley/pkg/provider/tts"
)

// Provider is a mock implementation of tts.Provider.
// Zero values for response fields cause Synthesize to return an empty result
// and nil error. Set SynthesizeErr to inject errors.
type Provider struct {
	mu sync.Mutex

	// SynthesizeResult is returned by Synthesize when SynthesizeErr is nil.
	SynthesizeResult *tts.Result

	// SynthesizeErr, if non-nil, is returned as the error from Synthesize.
	SynthesizeErr error

	// SynthesizeCalls records every request in order.
	SynthesizeCalls []tts.Request
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(_ context.Context, req tts.Request) (*tts.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, req)
	if p.SynthesizeErr != nil {
		return nil, p.SynthesizeErr
	}
	if p.SynthesizeResult == nil {
		return &tts.Result{}, nil
	}
	cp := *p.SynthesizeResult
	return &cp, nil
}

// Reset clears all recorded calls without altering response configuration.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
}

// Ensure Provider satisfies the interface at compile time.
var _ tts.Provider = (*Provider)(nil)
