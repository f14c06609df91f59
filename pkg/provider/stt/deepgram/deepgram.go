// Package deepgram provides a Deepgram-backed STT provider using the Deepgram
// prerecorded (batch) REST API. It implements the stt.Provider interface.
package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/parleyio/parley/pkg/provider/stt"
)

const (
	deepgramEndpoint = "https://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultTimeout   = 60 * time.Second
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithEndpoint overrides the API endpoint, e.g. for a self-hosted deployment.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		if c != nil {
			p.httpClient = c
		}
	}
}

// Provider implements stt.Provider backed by the Deepgram prerecorded API.
type Provider struct {
	apiKey     string
	model      string
	endpoint   string
	httpClient *http.Client
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		endpoint:   deepgramEndpoint,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// transcriptionResponse mirrors the slice of the Deepgram response we read.
type transcriptionResponse struct {
	Results struct {
		Channels []struct {
			DetectedLanguage string `json:"detected_language"`
			Alternatives     []struct {
				Transcript string `json:"transcript"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	if len(req.Audio) == 0 {
		return nil, errors.New("deepgram: transcribe: empty audio")
	}

	endpoint, err := p.buildURL(req)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(req.Audio))
	if err != nil {
		return nil, fmt.Errorf("deepgram: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Token "+p.apiKey)
	if req.MIMEType != "" {
		httpReq.Header.Set("Content-Type", req.MIMEType)
	} else {
		httpReq.Header.Set("Content-Type", "application/octet-stream")
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("deepgram: request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("deepgram: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("deepgram: status %d: %s", resp.StatusCode, body)
	}

	var parsed transcriptionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("deepgram: parse response: %w", err)
	}
	channels := parsed.Results.Channels
	if len(channels) == 0 || len(channels[0].Alternatives) == 0 {
		return nil, errors.New("deepgram: response contains no transcript")
	}

	return &stt.Result{
		Text:     channels[0].Alternatives[0].Transcript,
		Language: channels[0].DetectedLanguage,
	}, nil
}

// TranslateToEnglish implements stt.Provider. Deepgram has no translation
// endpoint, so the audio is transcribed in the spoken language and translation
// is left to the language pipeline downstream.
func (p *Provider) TranslateToEnglish(ctx context.Context, req stt.Request) (*stt.Result, error) {
	return p.Transcribe(ctx, req)
}

// buildURL constructs the prerecorded endpoint URL for the given request.
func (p *Provider) buildURL(req stt.Request) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("model", p.model)
	q.Set("smart_format", "true")
	if req.Language != "" {
		q.Set("language", req.Language)
	} else {
		q.Set("detect_language", "true")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)
