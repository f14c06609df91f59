// Package app assembles the gateway from its subsystems and owns their
// lifecycle: construction order, the run loop, and teardown.
//
// [New] builds everything in dependency order — Redis, media and memory
// stores, the tool host (remote servers plus local tools), agent composition,
// the hardened tool registry, the supervisor, the engine runners, the
// dispatcher, the ingress HTTP server, and optionally the Discord bot.
// [App.Run] drives the long-running pieces until the context is cancelled;
// [App.Shutdown] releases resources in reverse acquisition order.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/parleyio/parley/internal/agent/composer"
	"github.com/parleyio/parley/internal/config"
	"github.com/parleyio/parley/internal/discord"
	"github.com/parleyio/parley/internal/dispatch"
	"github.com/parleyio/parley/internal/engine"
	"github.com/parleyio/parley/internal/envelope"
	"github.com/parleyio/parley/internal/health"
	"github.com/parleyio/parley/internal/ingress"
	"github.com/parleyio/parley/internal/mcp"
	"github.com/parleyio/parley/internal/mcp/bridge"
	"github.com/parleyio/parley/internal/mcp/mcphost"
	"github.com/parleyio/parley/internal/mcp/tools"
	"github.com/parleyio/parley/internal/mcp/tools/clock"
	"github.com/parleyio/parley/internal/mcp/tools/lingua"
	"github.com/parleyio/parley/internal/mcp/tools/memorytool"
	"github.com/parleyio/parley/internal/media"
	"github.com/parleyio/parley/internal/memory"
	"github.com/parleyio/parley/internal/observe"
	"github.com/parleyio/parley/internal/stream"
	"github.com/parleyio/parley/internal/supervisor"
	"github.com/parleyio/parley/internal/twilio"
	"github.com/parleyio/parley/pkg/provider/llm"
	"github.com/parleyio/parley/pkg/provider/stt"
	"github.com/parleyio/parley/pkg/provider/tts"
)

// Providers bundles the model backends the gateway runs on. All three are
// required: the supervisor and agents need the LLM, inbound voice notes need
// the transcriber, and the local speech tool needs the synthesizer.
type Providers struct {
	LLM llm.Provider
	STT stt.Provider
	TTS tts.Provider

	// ComposerLLM optionally overrides the model used for agent composition.
	// Nil means LLM.
	ComposerLLM llm.Provider
}

// healthReporter is the optional self-check surface resilience-wrapped
// providers expose. Providers without it are assumed healthy.
type healthReporter interface {
	Healthy() error
}

// App is the assembled gateway.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	server     *ingress.Server
	worker     *stream.Runner
	dispatcher *stream.Runner
	bot        *discord.Bot // nil unless the Discord channel is enabled

	closers  []func() error
	stopOnce sync.Once
}

// New constructs the gateway from cfg and the given providers. The returned
// App holds live resources (Redis connection, tool-server processes); call
// [App.Shutdown] when done with it, whether or not Run was started.
func New(ctx context.Context, cfg *config.Config, providers *Providers) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config must not be nil")
	}
	if providers == nil || providers.LLM == nil || providers.STT == nil || providers.TTS == nil {
		return nil, errors.New("app: llm, stt and tts providers are all required")
	}

	logger := slog.Default()
	a := &App{cfg: cfg, logger: logger}

	ok := false
	defer func() {
		if !ok {
			_ = a.closeAll(context.Background())
		}
	}()

	// ── 1. Redis ──────────────────────────────────────────────────────────────
	client, err := stream.New(ctx, cfg.Redis.URL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, client.Close)
	logger.Info("redis connected")

	publisher := stream.NewPublisher(client, cfg.Streams.Inbound.Stream, cfg.Streams.Outbound.Stream)
	idem := stream.NewIdempotency(client, cfg.Idempotency.TTL())

	// ── 2. Media and memory stores ────────────────────────────────────────────
	mediaStore, err := media.NewStore(cfg.Server.MediaRootDir, cfg.Server.MediaPublicBaseURL)
	if err != nil {
		return nil, fmt.Errorf("app: media store: %w", err)
	}

	memStore := memory.NewStore(client,
		memory.WithKeyPrefix(cfg.Memory.KeyPrefix),
		memory.WithEventsLimit(cfg.Memory.RecentEventsLimit),
		memory.WithConversationTTL(cfg.Memory.ConversationStateTTL()),
		memory.WithProfileTTL(cfg.Memory.UserProfileTTL()),
		memory.WithEventsTTL(cfg.Memory.UserEventsTTL()),
	)

	// ── 3. Tool host: remote servers, blacklist, local tools ─────────────────
	host := mcphost.New(mcphost.WithLogger(logger))
	a.closers = append(a.closers, host.Close)

	if cfg.MCP.ConfigPath != "" {
		servers, err := mcp.LoadServers(cfg.MCP.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("app: load tool servers: %w", err)
		}
		for _, sc := range servers {
			// A tool server being down must not keep the gateway from
			// starting; its tools are simply absent this boot.
			if err := host.RegisterServer(ctx, sc); err != nil {
				logger.Error("tool server registration failed", "server", sc.Name, "err", err)
			}
		}
	}

	catalogue := filterBlacklisted(host.Tools(), cfg.MCP.Rules, logger)

	translator := lingua.NewTranslator(providers.LLM)
	local := lingua.NewTools(translator, providers.TTS, cfg.TTS.Voice, cfg.TTS.Format)
	local = append(local, clock.NewTool(), memorytool.NewTool(memStore))
	for _, t := range local {
		if err := host.RegisterBuiltin(t); err != nil {
			return nil, fmt.Errorf("app: register local tool %s: %w", t.Definition.Name, err)
		}
		catalogue = append(catalogue, t.Definition)
	}
	logger.Info("tool host ready", "tools", len(catalogue))

	// ── 4. Agent composition ──────────────────────────────────────────────────
	composerModel := providers.ComposerLLM
	if composerModel == nil {
		composerModel = providers.LLM
	}
	comp := composer.NewComposer(composerModel,
		composer.WithLogger(logger),
		composer.WithMaxToolsPerAgent(cfg.MCP.MaxToolsPerAgent),
		composer.WithServerRules(composerRules(cfg.MCP.Rules)),
		composer.WithPolicies(composerPolicies(cfg.MCP.Policies)),
		composer.WithPlaceholders(cfg.MCP.Placeholders),
	)
	defs := comp.Compose(ctx, catalogue)

	// ── 5. Hardened registry and supervisor ──────────────────────────────────
	registry := make([]tools.Tool, 0, len(catalogue))
	for _, def := range catalogue {
		registry = append(registry, bridge.HostTool(host, def))
	}
	hardener := bridge.NewHardener(
		bridge.WithLogger(logger),
		bridge.WithToolTimeout(cfg.MCP.Hardening.ToolTimeout()),
		bridge.WithTrimming(cfg.MCP.Hardening.TrimEnabled()),
		bridge.WithTrimLimits(cfg.MCP.Hardening.TrimMaxChars, cfg.MCP.Hardening.TrimMaxItems),
	)
	registry = hardener.WrapAll(registry)

	sup, err := supervisor.New(providers.LLM, defs, registry, supervisor.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("app: supervisor: %w", err)
	}

	// ── 6. Engine: preprocessor, worker, inbound runner ───────────────────────
	// The media fetcher serves every channel; its credentials ride only on
	// requests to Twilio hosts.
	fetcher := twilio.NewMediaFetcher(cfg.Channels.WhatsApp.AccountSID, cfg.Channels.WhatsApp.AuthToken)

	pre := engine.NewPreprocessor(providers.STT, fetcher, translator, engine.PreprocessorConfig{
		ForceEnglish: cfg.STT.ForceEnglishEnabled(),
		AudioReplies: cfg.TTS.AudioReplyEnabled(),
		Logger:       logger,
	})
	worker := engine.NewWorker(pre, sup, memStore, publisher, providers.TTS, mediaStore, engine.WorkerConfig{
		TTSVoice:     cfg.TTS.Voice,
		TTSModel:     cfg.TTS.Model,
		TTSFormat:    cfg.TTS.Format,
		AudioReplies: cfg.TTS.AudioReplyEnabled(),
		Logger:       logger,
	})
	a.worker = stream.NewRunner(client, stream.RunnerConfig{
		Name:           "worker",
		Stream:         cfg.Streams.Inbound.Stream,
		Group:          cfg.Streams.Inbound.Group,
		Consumer:       cfg.Streams.Inbound.Consumer,
		Count:          cfg.Streams.ReadCount,
		Block:          cfg.Streams.Block(),
		MaxConcurrency: cfg.Streams.Inbound.MaxConcurrency,
	}, worker.Handle)

	// ── 7. Channels and dispatcher ────────────────────────────────────────────
	disp := dispatch.New(idem, dispatch.WithLogger(logger))

	if cfg.Channels.WhatsApp.Enabled() {
		sender, err := twilio.NewSender(cfg.Channels.WhatsApp.AccountSID, cfg.Channels.WhatsApp.AuthToken, cfg.Channels.WhatsApp.From)
		if err != nil {
			return nil, fmt.Errorf("app: whatsapp sender: %w", err)
		}
		disp.Register(envelope.SourceWhatsApp, sender)
		logger.Info("whatsapp channel enabled", "from", cfg.Channels.WhatsApp.From)
	}
	if cfg.Channels.Discord.Enabled {
		bot, err := discord.NewBot(discord.BotConfig{
			Token:     cfg.Channels.Discord.Token,
			Publisher: publisher,
			Logger:    logger,
		})
		if err != nil {
			return nil, fmt.Errorf("app: discord bot: %w", err)
		}
		a.bot = bot
		a.closers = append(a.closers, bot.Close)
		disp.Register(envelope.SourceDiscord, discord.NewSender(bot))
		logger.Info("discord channel enabled")
	}

	a.dispatcher = stream.NewRunner(client, stream.RunnerConfig{
		Name:           "dispatcher",
		Stream:         cfg.Streams.Outbound.Stream,
		Group:          cfg.Streams.Outbound.Group,
		Consumer:       cfg.Streams.Outbound.Consumer,
		Count:          cfg.Streams.ReadCount,
		Block:          cfg.Streams.Block(),
		MaxConcurrency: cfg.Streams.Outbound.MaxConcurrency,
	}, disp.Handle)

	// ── 8. Ingress HTTP server ────────────────────────────────────────────────
	var webhook http.Handler
	if cfg.Channels.WhatsApp.Enabled() {
		webhook = ingress.NewWhatsAppWebhook(ingress.WhatsAppWebhookConfig{
			Publisher:         publisher,
			Validator:         twilio.NewValidator(cfg.Channels.WhatsApp.AuthToken),
			ValidateSignature: cfg.Channels.WhatsApp.SignatureValidationEnabled(),
			Logger:            logger,
		})
	}

	a.server = ingress.NewServer(ingress.ServerConfig{
		ListenAddr: cfg.Server.ListenAddr,
		Webhook:    webhook,
		Media:      mediaStore,
		Health: health.New(
			health.Checker{Name: "redis", Check: client.Ping},
			health.Checker{Name: "tools", Check: func(context.Context) error {
				if len(host.Tools()) == 0 {
					return errors.New("tool catalogue is empty")
				}
				return nil
			}},
			providerChecker(providers),
		),
		Metrics: observe.DefaultMetrics(),
		Logger:  logger,
	})

	logger.Info("application initialised",
		"agents", len(defs.Agents),
		"tools", len(catalogue),
		"whatsapp", cfg.Channels.WhatsApp.Enabled(),
		"discord", cfg.Channels.Discord.Enabled,
	)

	ok = true
	return a, nil
}

// Run starts the ingress server, both stream runners, and the Discord bot
// when enabled, and blocks until ctx is cancelled or one of them fails. On a
// clean shutdown it returns the context's error.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.server.Run(ctx) })
	g.Go(func() error { return a.worker.Run(ctx) })
	g.Go(func() error { return a.dispatcher.Run(ctx) })
	if a.bot != nil {
		g.Go(func() error { return a.bot.Run(ctx) })
	}
	return g.Wait()
}

// Shutdown releases the application's resources. It is safe to call more
// than once; only the first call does work. The runners stop through Run's
// context; Shutdown closes what they were running on, newest first, until
// ctx expires.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		err = a.closeAll(ctx)
		a.logger.Info("application stopped")
	})
	return err
}

// closeAll runs the closers in reverse acquisition order so nothing is torn
// down before its dependents.
func (a *App) closeAll(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if ctx.Err() != nil {
			errs = append(errs, fmt.Errorf("app: shutdown deadline: %w", ctx.Err()))
			break
		}
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// filterBlacklisted drops catalogue entries named in their source server's
// blacklist. Entries match on the prefixed name ("<server>_<tool>") or the
// bare name as the server exposes it.
func filterBlacklisted(defs []llm.ToolDefinition, rules map[string]config.ServerRules, logger *slog.Logger) []llm.ToolDefinition {
	if len(rules) == 0 {
		return defs
	}
	kept := make([]llm.ToolDefinition, 0, len(defs))
	for _, def := range defs {
		if toolBlacklisted(def, rules[def.SourceServer].BlacklistedTools) {
			logger.Info("tool removed by blacklist", "tool", def.Name, "server", def.SourceServer)
			continue
		}
		kept = append(kept, def)
	}
	return kept
}

func toolBlacklisted(def llm.ToolDefinition, names []string) bool {
	bare := strings.TrimPrefix(def.Name, def.SourceServer+"_")
	for _, n := range names {
		if n == def.Name || n == bare {
			return true
		}
	}
	return false
}

// providerChecker reports provider health for /readyz. Only providers
// wrapped in a resilience fallback group can actually fail the check, by
// having every circuit breaker open.
func providerChecker(providers *Providers) health.Checker {
	kinds := map[string]any{
		"llm": providers.LLM,
		"stt": providers.STT,
		"tts": providers.TTS,
	}
	return health.Checker{
		Name: "providers",
		Check: func(context.Context) error {
			var errs []error
			for kind, p := range kinds {
				hr, ok := p.(healthReporter)
				if !ok {
					continue
				}
				if err := hr.Healthy(); err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", kind, err))
				}
			}
			return errors.Join(errs...)
		},
	}
}

// composerRules converts the config rule map into the composer's types.
func composerRules(rules map[string]config.ServerRules) map[string]composer.ServerRules {
	if len(rules) == 0 {
		return nil
	}
	out := make(map[string]composer.ServerRules, len(rules))
	for server, r := range rules {
		agents := make([]composer.DesiredAgent, 0, len(r.DesiredAgents))
		for _, da := range r.DesiredAgents {
			agents = append(agents, composer.DesiredAgent{
				Name:           da.Name,
				Responsibility: da.Responsibility,
				Tools:          da.Tools,
			})
		}
		out[server] = composer.ServerRules{
			DesiredAgents:    agents,
			BlacklistedTools: r.BlacklistedTools,
		}
	}
	return out
}

// composerPolicies converts the config policy packs into the composer's types.
func composerPolicies(packs []config.PolicyPack) []composer.PolicyPack {
	if len(packs) == 0 {
		return nil
	}
	out := make([]composer.PolicyPack, 0, len(packs))
	for _, p := range packs {
		out = append(out, composer.PolicyPack{
			Match:  composer.PolicyMatch{SourceServers: p.Match.SourceServers},
			Inject: composer.PolicyInject{
				PrependSystemMessage: p.Inject.PrependSystemMessage,
				AppendSystemMessage:  p.Inject.AppendSystemMessage,
			},
		})
	}
	return out
}
