// Command parley is the conversational gateway server: channel webhooks in,
// Redis-stream pipeline through the agent supervisor, channel deliveries out.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/parleyio/parley/internal/app"
	"github.com/parleyio/parley/internal/config"
	"github.com/parleyio/parley/internal/observe"
	"github.com/parleyio/parley/internal/resilience"
	"github.com/parleyio/parley/pkg/provider/llm"
	"github.com/parleyio/parley/pkg/provider/llm/anyllm"
	llmopenai "github.com/parleyio/parley/pkg/provider/llm/openai"
	"github.com/parleyio/parley/pkg/provider/stt"
	"github.com/parleyio/parley/pkg/provider/stt/deepgram"
	sttopenai "github.com/parleyio/parley/pkg/provider/stt/openai"
	"github.com/parleyio/parley/pkg/provider/tts"
	"github.com/parleyio/parley/pkg/provider/tts/elevenlabs"
	ttsopenai "github.com/parleyio/parley/pkg/provider/tts/openai"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// Secrets are read from the environment; a local .env file is honored
	// when present so the YAML can stay free of credentials.
	_ = godotenv.Load()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "parley: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "parley: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	slog.Info("parley starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Log.Level,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	// Must run before anything records a metric, so instruments bind to the
	// real meter provider rather than the no-op global.
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "parley",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		_ = application.Shutdown(context.Background())
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// anyLLMProviders are the chat backends reached through the any-llm client.
// They share one pattern: optional APIKey plus optional BaseURL.
var anyLLMProviders = []string{
	"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a [config.ProviderEntry] and constructs the provider
// from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []llmopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, llmopenai.WithBaseURL(entry.BaseURL))
		}
		return llmopenai.New(entry.APIKey, entry.Model, opts...)
	})

	for _, providerName := range anyLLMProviders {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []sttopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, sttopenai.WithBaseURL(entry.BaseURL))
		}
		return sttopenai.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []ttsopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, ttsopenai.WithBaseURL(entry.BaseURL))
		}
		return ttsopenai.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if voiceID := optString(entry.Options, "voice_id"); voiceID != "" {
			opts = append(opts, elevenlabs.WithVoiceID(voiceID))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithEndpoint(entry.BaseURL))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})
}

// buildProviders instantiates the providers named in cfg and wraps each in a
// resilience fallback group, so every backend gets a circuit breaker and
// request metrics even before a secondary is configured.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	llmPrimary, err := reg.CreateLLM(cfg.LLM.ProviderEntry)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", cfg.LLM.Name, err)
	}
	ps.LLM = resilience.NewLLMFallback(llmPrimary, cfg.LLM.Name, resilience.FallbackConfig{Kind: "llm"})
	slog.Info("provider created", "kind", "llm", "name", cfg.LLM.Name, "model", cfg.LLM.Model)

	// The composer runs once at boot, so its model skips the fallback wrapper.
	if cfg.LLM.ComposerModel != "" {
		entry := cfg.LLM.ProviderEntry
		entry.Model = cfg.LLM.ComposerModel
		p, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, fmt.Errorf("create composer llm %q model %q: %w", entry.Name, entry.Model, err)
		}
		ps.ComposerLLM = p
		slog.Info("provider created", "kind", "llm", "name", entry.Name, "model", entry.Model, "role", "composer")
	}

	sttPrimary, err := reg.CreateSTT(cfg.STT.ProviderEntry)
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", cfg.STT.Name, err)
	}
	sttGroup := resilience.NewSTTFallback(sttPrimary, cfg.STT.Name, resilience.FallbackConfig{Kind: "stt"})
	if fb := cfg.STT.Fallback; fb != nil {
		p, err := reg.CreateSTT(*fb)
		if err != nil {
			return nil, fmt.Errorf("create stt fallback %q: %w", fb.Name, err)
		}
		sttGroup.AddFallback(fb.Name, p)
		slog.Info("provider fallback registered", "kind", "stt", "name", fb.Name)
	}
	ps.STT = sttGroup
	slog.Info("provider created", "kind", "stt", "name", cfg.STT.Name, "model", cfg.STT.Model)

	ttsPrimary, err := reg.CreateTTS(cfg.TTS.ProviderEntry)
	if err != nil {
		return nil, fmt.Errorf("create tts provider %q: %w", cfg.TTS.Name, err)
	}
	ttsGroup := resilience.NewTTSFallback(ttsPrimary, cfg.TTS.Name, resilience.FallbackConfig{Kind: "tts"})
	if fb := cfg.TTS.Fallback; fb != nil {
		p, err := reg.CreateTTS(*fb)
		if err != nil {
			return nil, fmt.Errorf("create tts fallback %q: %w", fb.Name, err)
		}
		ttsGroup.AddFallback(fb.Name, p)
		slog.Info("provider fallback registered", "kind", "tts", "name", fb.Name)
	}
	ps.TTS = ttsGroup
	slog.Info("provider created", "kind", "tts", "name", cfg.TTS.Name, "model", cfg.TTS.Model)

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          Parley — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printSummaryLine("LLM", providerLabel(cfg.LLM.Name, cfg.LLM.Model))
	printSummaryLine("STT", providerLabel(cfg.STT.Name, cfg.STT.Model))
	printSummaryLine("TTS", providerLabel(cfg.TTS.Name, cfg.TTS.Model))
	printSummaryLine("WhatsApp", enabledLabel(cfg.Channels.WhatsApp.Enabled()))
	printSummaryLine("Discord", enabledLabel(cfg.Channels.Discord.Enabled))
	if cfg.MCP.ConfigPath != "" {
		printSummaryLine("Tool servers", cfg.MCP.ConfigPath)
	} else {
		printSummaryLine("Tool servers", "(local only)")
	}
	printSummaryLine("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func providerLabel(name, model string) string {
	if name == "" {
		return "(not configured)"
	}
	if model == "" {
		return name
	}
	return name + " / " + model
}

func enabledLabel(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "(disabled)"
}

func printSummaryLine(kind, value string) {
	if len([]rune(value)) > 22 {
		value = string([]rune(value)[:21]) + "…"
	}
	fmt.Printf("║  %-12s : %-22s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(cfg config.LogConfig) *slog.Logger {
	var lvl slog.Level
	switch cfg.Level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if cfg.Format == config.LogJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
