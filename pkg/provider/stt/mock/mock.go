// Package mock provides a test double for the stt.Provider interface.
//
// Use Provider in unit tests to feed controlled transcripts into the message
// pipeline without a live STT backend.
package mock

import (
	"context"
	"sync"

	"github.com/parleyio/parley/pkg/provider/stt"
)

// Provider is a mock implementation of stt.Provider.
// Zero values for response fields cause methods to return zero values and nil
// errors. Set the Err fields to inject errors.
type Provider struct {
	mu sync.Mutex

	// TranscribeResult is returned by Transcribe when TranscribeErr is nil.
	TranscribeResult *stt.Result

	// TranscribeErr, if non-nil, is returned as the error from Transcribe.
	TranscribeErr error

	// TranslateResult is returned by TranslateToEnglish when TranslateErr is nil.
	TranslateResult *stt.Result

	// TranslateErr, if non-nil, is returned as the error from TranslateToEnglish.
	TranslateErr error

	// TranscribeCalls records every Transcribe request in order.
	TranscribeCalls []stt.Request

	// TranslateCalls records every TranslateToEnglish request in order.
	TranslateCalls []stt.Request
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(_ context.Context, req stt.Request) (*stt.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = append(p.TranscribeCalls, req)
	if p.TranscribeErr != nil {
		return nil, p.TranscribeErr
	}
	if p.TranscribeResult == nil {
		return &stt.Result{}, nil
	}
	cp := *p.TranscribeResult
	return &cp, nil
}

// TranslateToEnglish implements stt.Provider.
func (p *Provider) TranslateToEnglish(_ context.Context, req stt.Request) (*stt.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranslateCalls = append(p.TranslateCalls, req)
	if p.TranslateErr != nil {
		return nil, p.TranslateErr
	}
	if p.TranslateResult == nil {
		return &stt.Result{}, nil
	}
	cp := *p.TranslateResult
	return &cp, nil
}

// Reset clears all recorded calls without altering response configuration.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = nil
	p.TranslateCalls = nil
}

// Ensure Provider satisfies the interface at compile time.
var _ stt.Provider = (*Provider)(nil)
