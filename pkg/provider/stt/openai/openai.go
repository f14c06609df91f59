// Package openai provides an STT provider backed by the OpenAI audio API.
package openai

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/parleyio/parley/pkg/provider/stt"
)

// Provider implements stt.Provider using the OpenAI transcription and
// translation endpoints.
type Provider struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI STT Provider. model is the transcription model
// name, e.g. "whisper-1".
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		model = string(oai.AudioModelWhisper1)
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	client := oai.NewClient(reqOpts...)
	return &Provider{client: client, model: model}, nil
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	if len(req.Audio) == 0 {
		return nil, fmt.Errorf("openai: transcribe: empty audio")
	}

	params := oai.AudioTranscriptionNewParams{
		Model:          oai.AudioModel(p.model),
		File:           oai.File(bytes.NewReader(req.Audio), filename(req), mimeType(req)),
		ResponseFormat: oai.AudioResponseFormatJSON,
	}
	if req.Language != "" {
		params.Language = oai.String(req.Language)
	}
	if req.Prompt != "" {
		params.Prompt = oai.String(req.Prompt)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: transcription: %w", err)
	}
	return &stt.Result{Text: resp.Text, Language: req.Language}, nil
}

// TranslateToEnglish implements stt.Provider. The OpenAI translations endpoint
// always produces English output.
func (p *Provider) TranslateToEnglish(ctx context.Context, req stt.Request) (*stt.Result, error) {
	if len(req.Audio) == 0 {
		return nil, fmt.Errorf("openai: translate: empty audio")
	}

	params := oai.AudioTranslationNewParams{
		Model: oai.AudioModel(p.model),
		File:  oai.File(bytes.NewReader(req.Audio), filename(req), mimeType(req)),
	}
	if req.Prompt != "" {
		params.Prompt = oai.String(req.Prompt)
	}

	resp, err := p.client.Audio.Translations.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: translation: %w", err)
	}
	return &stt.Result{Text: resp.Text, Language: "en"}, nil
}

// filename returns the multipart filename, which the API uses to sniff the
// container format.
func filename(req stt.Request) string {
	if req.Filename != "" {
		return req.Filename
	}
	switch req.MIMEType {
	case "audio/ogg":
		return "audio.ogg"
	case "audio/opus":
		return "audio.opus"
	case "audio/mpeg":
		return "audio.mp3"
	case "audio/mp4", "audio/m4a":
		return "audio.m4a"
	case "audio/wav", "audio/x-wav":
		return "audio.wav"
	default:
		return "audio.mp3"
	}
}

func mimeType(req stt.Request) string {
	if req.MIMEType != "" {
		return req.MIMEType
	}
	return "application/octet-stream"
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)
