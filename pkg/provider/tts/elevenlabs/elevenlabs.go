// Package elevenlabs provides a TTS provider backed by the ElevenLabs REST
// API. It implements the tts.Provider interface.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/parleyio/parley/pkg/provider/tts"
)

const (
	defaultEndpoint = "https://api.elevenlabs.io"
	defaultModel    = "eleven_multilingual_v2"
	defaultVoiceID  = "21m00Tcm4TlvDq8ikWAM" // "Rachel", the ElevenLabs default
	defaultTimeout  = 60 * time.Second

	// maxAudioBytes caps a single synthesized file read into memory.
	maxAudioBytes = 50 << 20
)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the synthesis model (e.g., "eleven_multilingual_v2").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithVoiceID sets the default voice used when a request does not name one.
func WithVoiceID(voiceID string) Option {
	return func(p *Provider) {
		p.voiceID = voiceID
	}
}

// WithEndpoint overrides the API endpoint.
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

// Provider implements tts.Provider backed by the ElevenLabs REST API.
type Provider struct {
	apiKey     string
	model      string
	voiceID    string
	endpoint   string
	httpClient *http.Client
}

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		voiceID:    defaultVoiceID,
		endpoint:   defaultEndpoint,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// synthesisRequest is the JSON body for the text-to-speech endpoint.
type synthesisRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Result, error) {
	if req.Text == "" {
		return nil, errors.New("elevenlabs: synthesize: empty text")
	}

	voice := p.voiceID
	if req.Voice != "" {
		voice = req.Voice
	}
	model := p.model
	if req.Model != "" {
		model = req.Model
	}
	format, outputQuery := normalizeFormat(req.Format)

	body, err := json.Marshal(synthesisRequest{Text: req.Text, ModelID: model})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: encode request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=%s", p.endpoint, voice, outputQuery)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: build request: %w", err)
	}
	httpReq.Header.Set("xi-api-key", p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("elevenlabs: status %d: %s", resp.StatusCode, msg)
	}

	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: read audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, errors.New("elevenlabs: synthesis returned no audio")
	}

	return &tts.Result{Audio: audio, Format: format}, nil
}

// normalizeFormat maps a requested format to the closest ElevenLabs
// output_format query value. The mp3 fallback keeps unknown requests playable.
func normalizeFormat(format string) (name, query string) {
	switch format {
	case "", "mp3":
		return "mp3", "mp3_44100_128"
	case "pcm", "wav":
		return "pcm", "pcm_24000"
	case "opus", "ogg":
		return "opus", "opus_48000_64"
	default:
		return "mp3", "mp3_44100_128"
	}
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
