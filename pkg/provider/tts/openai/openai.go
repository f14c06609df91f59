// Package openai provides a TTS provider backed by the OpenAI speech API.
package openai

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/parleyio/parley/pkg/provider/tts"
)

const (
	defaultModel  = "gpt-4o-mini-tts"
	defaultVoice  = "alloy"
	defaultFormat = "mp3"

	// maxAudioBytes caps a single synthesized file read into memory.
	maxAudioBytes = 50 << 20
)

// Provider implements tts.Provider using the OpenAI speech endpoint.
type Provider struct {
	client oai.Client
	model  string
	voice  string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	timeout time.Duration
	voice   string
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

// WithVoice sets the default voice used when a request does not name one.
func WithVoice(voice string) Option {
	return func(c *config) {
		c.voice = voice
	}
}

// New constructs a new OpenAI TTS Provider. model is the speech model name,
// e.g. "gpt-4o-mini-tts" or "tts-1".
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		model = defaultModel
	}

	cfg := &config{voice: defaultVoice}
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
	return &Provider{client: client, model: model, voice: cfg.voice}, nil
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Result, error) {
	if req.Text == "" {
		return nil, fmt.Errorf("openai: synthesize: empty text")
	}

	model := p.model
	if req.Model != "" {
		model = req.Model
	}
	voice := p.voice
	if req.Voice != "" {
		voice = req.Voice
	}
	format := normalizeFormat(req.Format)

	params := oai.AudioSpeechNewParams{
		Model:          oai.SpeechModel(model),
		Voice:          oai.AudioSpeechNewParamsVoice(voice),
		Input:          req.Text,
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormat(format),
	}

	resp, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: speech: %w", err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		return nil, fmt.Errorf("openai: read audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("openai: speech returned no audio")
	}

	return &tts.Result{Audio: audio, Format: format}, nil
}

// normalizeFormat maps a requested format to one the speech endpoint accepts.
// Ogg is delivered as opus (the codec inside an ogg container); anything
// unrecognised falls back to mp3.
func normalizeFormat(format string) string {
	switch format {
	case "mp3", "opus", "aac", "flac", "wav", "pcm":
		return format
	case "ogg":
		return "opus"
	default:
		return defaultFormat
	}
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
