// Package openai implements [llm.Provider] on top of the OpenAI chat
// completions API. It is the default backend for the supervisor, the
// specialist agents, and the agent composer.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/parleyio/parley/pkg/provider/llm"
)

// Provider is an OpenAI-backed chat model.
type Provider struct {
	client oai.Client
	model  string
}

var _ llm.Provider = (*Provider)(nil)

type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
}

// Option configures optional Provider settings.
type Option func(*config)

// WithBaseURL points the client at an OpenAI-compatible endpoint instead of
// the public API.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithOrganization sets the OpenAI organization id on every request.
func WithOrganization(org string) Option {
	return func(c *config) { c.organization = org }
}

// WithTimeout bounds each HTTP request.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New builds a Provider for the given model.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	var cfg config
	for _, o := range opts {
		o(&cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Complete sends one chat completion request and returns the full reply.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("openai: build params: %w", err)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty choices in response")
	}

	msg := resp.Choices[0].Message
	out := &llm.CompletionResponse{
		Content: msg.Content,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

// StreamCompletion sends one chat completion request and emits the reply
// incrementally. Tool call fragments are accumulated and attached to the
// final chunk.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("openai: build params: %w", err)
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("openai: start stream: %w", err)
	}

	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)
		defer stream.Close()

		var acc toolCallAccumulator
		for stream.Next() {
			frame := stream.Current()
			if len(frame.Choices) == 0 {
				continue
			}
			choice := frame.Choices[0]
			for _, d := range choice.Delta.ToolCalls {
				acc.ingest(int(d.Index), d.ID, d.Function.Name, d.Function.Arguments)
			}

			out := llm.Chunk{
				Text:         choice.Delta.Content,
				FinishReason: choice.FinishReason,
			}
			if choice.FinishReason != "" {
				out.ToolCalls = acc.calls()
			}

			select {
			case ch <- out:
			case <-ctx.Done():
				return
			}
		}

		if err := stream.Err(); err != nil {
			select {
			case ch <- llm.Chunk{FinishReason: "error", Text: err.Error()}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}

// toolCallAccumulator stitches streamed tool call fragments back together.
// OpenAI splits a call's arguments across many deltas, keyed by index.
type toolCallAccumulator struct {
	byIndex map[int]*llm.ToolCall
	order   []int
}

func (a *toolCallAccumulator) ingest(idx int, id, name, argsFragment string) {
	call, ok := a.byIndex[idx]
	if !ok {
		if a.byIndex == nil {
			a.byIndex = make(map[int]*llm.ToolCall)
		}
		call = &llm.ToolCall{}
		a.byIndex[idx] = call
		a.order = append(a.order, idx)
	}
	if id != "" {
		call.ID = id
	}
	if name != "" {
		call.Name = name
	}
	call.Arguments += argsFragment
}

func (a *toolCallAccumulator) calls() []llm.ToolCall {
	if len(a.order) == 0 {
		return nil
	}
	out := make([]llm.ToolCall, 0, len(a.order))
	for _, idx := range a.order {
		out = append(out, *a.byIndex[idx])
	}
	return out
}

// CountTokens estimates prompt size with the usual ~4 chars/token GPT
// heuristic plus a per-message overhead. Good enough for budget tracking;
// exact counting would need the model's tokenizer.
func (p *Provider) CountTokens(messages []llm.Message) (int, error) {
	total := 0
	for _, m := range messages {
		total += (len(m.Content) + 3) / 4
		total += 4
	}
	return total, nil
}

// Capabilities reports static metadata for the configured model.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	return capabilitiesFor(p.model)
}

// capsRow pairs a model name prefix with its capability set. Rows are matched
// in order, so more specific prefixes come first.
type capsRow struct {
	prefix string
	caps   llm.ModelCapabilities
}

var capsTable = []capsRow{
	{"gpt-4o-mini", llm.ModelCapabilities{SupportsToolCalling: true, SupportsStreaming: true, SupportsVision: true, ContextWindow: 128_000, MaxOutputTokens: 16_384}},
	{"gpt-4o", llm.ModelCapabilities{SupportsToolCalling: true, SupportsStreaming: true, SupportsVision: true, ContextWindow: 128_000, MaxOutputTokens: 16_384}},
	{"gpt-4-turbo", llm.ModelCapabilities{SupportsToolCalling: true, SupportsStreaming: true, SupportsVision: true, ContextWindow: 128_000, MaxOutputTokens: 4_096}},
	{"gpt-4", llm.ModelCapabilities{SupportsToolCalling: true, SupportsStreaming: true, ContextWindow: 8_192, MaxOutputTokens: 4_096}},
	{"gpt-3.5-turbo", llm.ModelCapabilities{SupportsToolCalling: true, SupportsStreaming: true, ContextWindow: 16_385, MaxOutputTokens: 4_096}},
	{"o1-mini", llm.ModelCapabilities{SupportsStreaming: true, ContextWindow: 128_000, MaxOutputTokens: 65_536}},
	{"o1", llm.ModelCapabilities{SupportsToolCalling: true, SupportsStreaming: true, SupportsVision: true, ContextWindow: 200_000, MaxOutputTokens: 100_000}},
	{"o3-mini", llm.ModelCapabilities{SupportsToolCalling: true, SupportsStreaming: true, ContextWindow: 200_000, MaxOutputTokens: 100_000}},
	{"o3", llm.ModelCapabilities{SupportsToolCalling: true, SupportsStreaming: true, SupportsVision: true, ContextWindow: 200_000, MaxOutputTokens: 100_000}},
}

func capabilitiesFor(model string) llm.ModelCapabilities {
	lower := strings.ToLower(model)
	for _, row := range capsTable {
		if strings.HasPrefix(lower, row.prefix) {
			return row.caps
		}
	}
	// Unknown models get conservative tool-capable defaults.
	return llm.ModelCapabilities{
		SupportsToolCalling: true,
		SupportsStreaming:   true,
		ContextWindow:       128_000,
		MaxOutputTokens:     4_096,
	}
}

// buildParams converts a CompletionRequest into SDK params.
func (p *Provider) buildParams(req llm.CompletionRequest) (oai.ChatCompletionNewParams, error) {
	var messages []oai.ChatCompletionMessageParamUnion
	if req.SystemPrompt != "" {
		messages = append(messages, oai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		msg, err := convertMessage(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		messages = append(messages, msg)
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: messages,
	}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	for _, td := range req.Tools {
		params.Tools = append(params.Tools, oai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        td.Name,
				Description: param.NewOpt(td.Description),
				Parameters:  shared.FunctionParameters(td.Parameters),
			},
		})
	}
	return params, nil
}

func convertMessage(m llm.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case llm.RoleSystem:
		return oai.SystemMessage(m.Content), nil

	case llm.RoleUser:
		return oai.UserMessage(m.Content), nil

	case llm.RoleAssistant:
		asst := oai.ChatCompletionAssistantMessageParam{}
		if m.Content != "" {
			asst.Content.OfString = oai.String(m.Content)
		}
		if m.Name != "" {
			asst.Name = oai.String(m.Name)
		}
		for _, tc := range m.ToolCalls {
			asst.ToolCalls = append(asst.ToolCalls, oai.ChatCompletionMessageToolCallParam{
				ID: tc.ID,
				Function: oai.ChatCompletionMessageToolCallFunctionParam{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		return oai.ChatCompletionMessageParamUnion{OfAssistant: &asst}, nil

	case llm.RoleTool:
		return oai.ToolMessage(m.Content, m.ToolCallID), nil

	default:
		return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("openai: unknown message role %q", m.Role)
	}
}
