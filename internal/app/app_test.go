package app

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/parleyio/parley/internal/config"
	"github.com/parleyio/parley/internal/resilience"
	"github.com/parleyio/parley/pkg/provider/llm"
	llmmock "github.com/parleyio/parley/pkg/provider/llm/mock"
	sttmock "github.com/parleyio/parley/pkg/provider/stt/mock"
	ttsmock "github.com/parleyio/parley/pkg/provider/tts/mock"
)

func testProviders() *Providers {
	return &Providers{
		LLM: &llmmock.Provider{},
		STT: &sttmock.Provider{},
		TTS: &ttsmock.Provider{},
	}
}

func TestNewValidatesArguments(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.SetDefaults()

	tests := []struct {
		name      string
		cfg       *config.Config
		providers *Providers
	}{
		{name: "nil config", cfg: nil, providers: testProviders()},
		{name: "nil providers", cfg: cfg, providers: nil},
		{name: "missing llm", cfg: cfg, providers: &Providers{STT: &sttmock.Provider{}, TTS: &ttsmock.Provider{}}},
		{name: "missing stt", cfg: cfg, providers: &Providers{LLM: &llmmock.Provider{}, TTS: &ttsmock.Provider{}}},
		{name: "missing tts", cfg: cfg, providers: &Providers{LLM: &llmmock.Provider{}, STT: &sttmock.Provider{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := New(context.Background(), tt.cfg, tt.providers); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestFilterBlacklisted(t *testing.T) {
	t.Parallel()

	defs := []llm.ToolDefinition{
		{Name: "notionApi_post_page", SourceServer: "notionApi"},
		{Name: "notionApi_search", SourceServer: "notionApi"},
		{Name: "github_post_page", SourceServer: "github"},
	}

	tests := []struct {
		name  string
		rules map[string]config.ServerRules
		want  []string
	}{
		{
			name:  "no rules keeps everything",
			rules: nil,
			want:  []string{"notionApi_post_page", "notionApi_search", "github_post_page"},
		},
		{
			name:  "bare tool name",
			rules: map[string]config.ServerRules{"notionApi": {BlacklistedTools: []string{"post_page"}}},
			want:  []string{"notionApi_search", "github_post_page"},
		},
		{
			name:  "prefixed tool name",
			rules: map[string]config.ServerRules{"notionApi": {BlacklistedTools: []string{"notionApi_post_page"}}},
			want:  []string{"notionApi_search", "github_post_page"},
		},
		{
			name:  "blacklist is scoped to its server",
			rules: map[string]config.ServerRules{"github": {BlacklistedTools: []string{"post_page"}}},
			want:  []string{"notionApi_post_page", "notionApi_search"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := filterBlacklisted(defs, tt.rules, slog.Default())
			names := make([]string, 0, len(got))
			for _, d := range got {
				names = append(names, d.Name)
			}
			if len(names) != len(tt.want) {
				t.Fatalf("kept %v, want %v", names, tt.want)
			}
			for i := range names {
				if names[i] != tt.want[i] {
					t.Fatalf("kept %v, want %v", names, tt.want)
				}
			}
		})
	}
}

func TestProviderCheckerPassesForPlainProviders(t *testing.T) {
	t.Parallel()

	checker := providerChecker(testProviders())
	if err := checker.Check(context.Background()); err != nil {
		t.Fatalf("plain providers should pass the check, got %v", err)
	}
	if checker.Name != "providers" {
		t.Fatalf("Name = %q, want providers", checker.Name)
	}
}

func TestProviderCheckerReportsOpenCircuits(t *testing.T) {
	t.Parallel()

	failing := &llmmock.Provider{CompleteErr: errors.New("backend down")}
	wrapped := resilience.NewLLMFallback(failing, "primary", resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  1,
			ResetTimeout: time.Hour,
		},
	})
	// Trip the only breaker in the group.
	if _, err := wrapped.Complete(context.Background(), llm.CompletionRequest{}); err == nil {
		t.Fatal("expected the wrapped call to fail")
	}

	providers := testProviders()
	providers.LLM = wrapped

	if err := providerChecker(providers).Check(context.Background()); err == nil {
		t.Fatal("expected the check to fail once every llm circuit is open")
	}
}

func TestShutdownRunsClosersInReverse(t *testing.T) {
	t.Parallel()

	var order []string
	a := &App{
		logger: slog.Default(),
		closers: []func() error{
			func() error { order = append(order, "first"); return nil },
			func() error { order = append(order, "second"); return nil },
			func() error { order = append(order, "third"); return errors.New("third failed") },
		},
	}

	err := a.Shutdown(context.Background())
	if err == nil {
		t.Fatal("expected the failing closer's error")
	}
	want := []string{"third", "second", "first"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}

	// Second call is a no-op.
	order = nil
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown returned %v", err)
	}
	if len(order) != 0 {
		t.Fatalf("second Shutdown ran closers: %v", order)
	}
}

func TestShutdownStopsAtDeadline(t *testing.T) {
	t.Parallel()

	var ran int
	a := &App{
		logger: slog.Default(),
		closers: []func() error{
			func() error { ran++; return nil },
			func() error { ran++; return nil },
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := a.Shutdown(ctx); err == nil {
		t.Fatal("expected a deadline error")
	}
	if ran != 0 {
		t.Fatalf("ran %d closers under an expired context, want 0", ran)
	}
}

func TestComposerRuleConversion(t *testing.T) {
	t.Parallel()

	if got := composerRules(nil); got != nil {
		t.Fatalf("composerRules(nil) = %v, want nil", got)
	}
	if got := composerPolicies(nil); got != nil {
		t.Fatalf("composerPolicies(nil) = %v, want nil", got)
	}

	rules := composerRules(map[string]config.ServerRules{
		"notionApi": {
			DesiredAgents:    []config.DesiredAgent{{Name: "notion_pages", Responsibility: "pages", Tools: []string{"a", "b"}}},
			BlacklistedTools: []string{"c"},
		},
	})
	r, ok := rules["notionApi"]
	if !ok {
		t.Fatal("notionApi rules missing after conversion")
	}
	if len(r.DesiredAgents) != 1 || r.DesiredAgents[0].Name != "notion_pages" || len(r.DesiredAgents[0].Tools) != 2 {
		t.Fatalf("desired agents converted badly: %+v", r.DesiredAgents)
	}
	if len(r.BlacklistedTools) != 1 || r.BlacklistedTools[0] != "c" {
		t.Fatalf("blacklist converted badly: %v", r.BlacklistedTools)
	}

	packs := composerPolicies([]config.PolicyPack{{
		Match:  config.PolicyMatch{SourceServers: []string{"*"}},
		Inject: config.PolicyInject{PrependSystemMessage: "pre", AppendSystemMessage: []string{"post"}},
	}})
	if len(packs) != 1 {
		t.Fatalf("got %d packs, want 1", len(packs))
	}
	if !packs[0].Matches("anything") {
		t.Fatal("wildcard pack should match any server")
	}
	if packs[0].Inject.PrependSystemMessage != "pre" || len(packs[0].Inject.AppendSystemMessage) != 1 {
		t.Fatalf("inject converted badly: %+v", packs[0].Inject)
	}
}
