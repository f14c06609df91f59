package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/parleyio/parley/pkg/provider/llm"
	llmmock "github.com/parleyio/parley/pkg/provider/llm/mock"
)

func newLLMPair(primary, secondary *llmmock.Provider) *LLMFallback {
	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	if secondary != nil {
		fb.AddFallback("secondary", secondary)
	}
	return fb
}

func TestLLMFallbackPrefersPrimary(t *testing.T) {
	primary := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "from primary"},
	}
	secondary := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "from secondary"},
	}
	fb := newLLMPair(primary, secondary)

	resp, err := fb.Complete(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "from primary" {
		t.Errorf("content = %q, want from primary", resp.Content)
	}
	if got := len(secondary.CompleteCalls); got != 0 {
		t.Errorf("secondary called %d times, want 0", got)
	}
}

func TestLLMFallbackFailsOver(t *testing.T) {
	primary := &llmmock.Provider{CompleteErr: errors.New("primary down")}
	secondary := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "from secondary"},
	}
	fb := newLLMPair(primary, secondary)

	resp, err := fb.Complete(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "from secondary" {
		t.Errorf("content = %q, want from secondary", resp.Content)
	}
	if got := len(primary.CompleteCalls); got != 1 {
		t.Errorf("primary called %d times, want 1", got)
	}
}

func TestLLMFallbackAllBackendsDown(t *testing.T) {
	fb := newLLMPair(
		&llmmock.Provider{CompleteErr: errors.New("primary down")},
		&llmmock.Provider{CompleteErr: errors.New("secondary down")},
	)

	_, err := fb.Complete(context.Background(), llm.CompletionRequest{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestLLMFallbackStreamFailsOver(t *testing.T) {
	fb := newLLMPair(
		&llmmock.Provider{StreamErr: errors.New("stream failed")},
		&llmmock.Provider{
			StreamChunks: []llm.Chunk{{Text: "a"}, {Text: "b", FinishReason: "stop"}},
		},
	)

	ch, err := fb.StreamCompletion(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("StreamCompletion: %v", err)
	}
	var text string
	for c := range ch {
		text += c.Text
	}
	if text != "ab" {
		t.Errorf("streamed text = %q, want ab", text)
	}
}

func TestLLMFallbackCountTokens(t *testing.T) {
	fb := newLLMPair(
		&llmmock.Provider{CountTokensErr: errors.New("count failed")},
		&llmmock.Provider{TokenCount: 42},
	)

	count, err := fb.CountTokens([]llm.Message{{Role: llm.RoleUser, Content: "test"}})
	if err != nil {
		t.Fatalf("CountTokens: %v", err)
	}
	if count != 42 {
		t.Errorf("count = %d, want 42", count)
	}
}

func TestLLMFallbackCapabilitiesFromPrimary(t *testing.T) {
	fb := newLLMPair(&llmmock.Provider{
		ModelCapabilities: llm.ModelCapabilities{
			ContextWindow:       128_000,
			SupportsToolCalling: true,
		},
	}, nil)

	caps := fb.Capabilities()
	if caps.ContextWindow != 128_000 || !caps.SupportsToolCalling {
		t.Errorf("capabilities = %+v, want primary's", caps)
	}
}

func TestLLMFallbackHealthy(t *testing.T) {
	primary := &llmmock.Provider{CompleteErr: errors.New("down")}
	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	})

	if err := fb.Healthy(); err != nil {
		t.Fatalf("fresh group should be healthy, got %v", err)
	}

	_, _ = fb.Complete(context.Background(), llm.CompletionRequest{})
	if err := fb.Healthy(); err == nil {
		t.Fatal("group with only an open breaker should be unhealthy")
	}
}
