package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"openai", "deepgram"},
	"tts": {"openai", "elevenlabs"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands ${VAR} environment
// references, applies defaults, and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}

	cfg := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(expandEnv(string(raw))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.SetDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandEnv resolves $VAR and ${VAR} references against the process
// environment. Unset variables expand to the empty string and log a warning,
// so a missing secret surfaces instead of a literal "${...}" leaking into
// API requests.
func expandEnv(s string) string {
	return os.Expand(s, func(name string) string {
		v, ok := os.LookupEnv(name)
		if !ok {
			slog.Warn("environment variable referenced in config is not set", "name", name)
		}
		return v
	})
}

// SetDefaults fills in zero-valued fields with their documented defaults.
// [LoadFromReader] calls it before validation; manually constructed configs
// (tests, embedding) should call it themselves.
func (c *Config) SetDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = LogInfo
	}
	if c.Log.Format == "" {
		c.Log.Format = LogText
	}

	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Server.MediaRootDir == "" {
		c.Server.MediaRootDir = "./data/media"
	}

	if c.Redis.URL == "" {
		c.Redis.URL = "redis://localhost:6379/0"
	}

	if c.Streams.Inbound.Stream == "" {
		c.Streams.Inbound.Stream = "inbound_messages"
	}
	if c.Streams.Inbound.Group == "" {
		c.Streams.Inbound.Group = "agent_workers"
	}
	if c.Streams.Inbound.Consumer == "" {
		c.Streams.Inbound.Consumer = "worker-1"
	}
	if c.Streams.Inbound.MaxConcurrency <= 0 {
		c.Streams.Inbound.MaxConcurrency = 10
	}
	if c.Streams.Outbound.Stream == "" {
		c.Streams.Outbound.Stream = "outbound_messages"
	}
	if c.Streams.Outbound.Group == "" {
		c.Streams.Outbound.Group = "outbound_dispatchers"
	}
	if c.Streams.Outbound.Consumer == "" {
		c.Streams.Outbound.Consumer = "dispatcher-1"
	}
	if c.Streams.Outbound.MaxConcurrency <= 0 {
		c.Streams.Outbound.MaxConcurrency = 10
	}
	if c.Streams.ReadCount <= 0 {
		c.Streams.ReadCount = 10
	}
	if c.Streams.BlockMS <= 0 {
		c.Streams.BlockMS = 5000
	}

	if c.Idempotency.TTLSeconds <= 0 {
		c.Idempotency.TTLSeconds = 7 * 24 * 60 * 60
	}

	if c.Memory.KeyPrefix == "" {
		c.Memory.KeyPrefix = "mem"
	}
	if c.Memory.RecentEventsLimit <= 0 {
		c.Memory.RecentEventsLimit = 15
	}
	if c.Memory.ConversationStateTTLSeconds <= 0 {
		c.Memory.ConversationStateTTLSeconds = 12 * 60 * 60
	}

	if c.LLM.Name == "" {
		c.LLM.Name = "openai"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4o-mini"
	}
	if c.STT.Name == "" {
		c.STT.Name = "openai"
	}
	if c.STT.Model == "" {
		c.STT.Model = "whisper-1"
	}
	if c.TTS.Name == "" {
		c.TTS.Name = "openai"
	}
	if c.TTS.Model == "" {
		c.TTS.Model = "tts-1"
	}
	if c.TTS.Voice == "" {
		c.TTS.Voice = "alloy"
	}
	if c.TTS.Format == "" {
		c.TTS.Format = "mp3"
	}

	if c.MCP.MaxToolsPerAgent <= 0 {
		c.MCP.MaxToolsPerAgent = 6
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Log.Level != "" && !cfg.Log.Level.IsValid() {
		errs = append(errs, fmt.Errorf("log.level %q is invalid; valid values: debug, info, warn, error", cfg.Log.Level))
	}
	if cfg.Log.Format != "" && !cfg.Log.Format.IsValid() {
		errs = append(errs, fmt.Errorf("log.format %q is invalid; valid values: text, json", cfg.Log.Format))
	}

	if cfg.Streams.Inbound.Stream != "" && cfg.Streams.Inbound.Stream == cfg.Streams.Outbound.Stream {
		errs = append(errs, fmt.Errorf("streams.inbound.stream and streams.outbound.stream must differ, both are %q", cfg.Streams.Inbound.Stream))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("llm", cfg.LLM.Name)
	validateProviderName("stt", cfg.STT.Name)
	validateProviderName("tts", cfg.TTS.Name)
	if cfg.STT.Fallback != nil {
		if cfg.STT.Fallback.Name == "" {
			errs = append(errs, errors.New("stt.fallback.name is required when stt.fallback is set"))
		} else {
			validateProviderName("stt", cfg.STT.Fallback.Name)
		}
	}
	if cfg.TTS.Fallback != nil {
		if cfg.TTS.Fallback.Name == "" {
			errs = append(errs, errors.New("tts.fallback.name is required when tts.fallback is set"))
		} else {
			validateProviderName("tts", cfg.TTS.Fallback.Name)
		}
	}

	// Composition rules
	for serverName, rules := range cfg.MCP.Rules {
		for i, agent := range rules.DesiredAgents {
			if agent.Name == "" {
				errs = append(errs, fmt.Errorf("mcp.rules[%q].desired_agents[%d].name is required", serverName, i))
			}
		}
	}
	for i, pack := range cfg.MCP.Policies {
		prefix := fmt.Sprintf("mcp.policies[%d]", i)
		if len(pack.Match.SourceServers) == 0 {
			errs = append(errs, fmt.Errorf("%s.match.source_servers must not be empty", prefix))
		}
		if pack.Inject.PrependSystemMessage == "" && len(pack.Inject.AppendSystemMessage) == 0 {
			errs = append(errs, fmt.Errorf("%s.inject must set prepend_system_message or append_system_message", prefix))
		}
	}

	// Channel availability
	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.Token == "" {
		errs = append(errs, errors.New("channels.discord.token is required when channels.discord.enabled is true"))
	}
	if cfg.Channels.WhatsApp.Enabled() && cfg.Channels.WhatsApp.From == "" {
		errs = append(errs, errors.New("channels.whatsapp.from is required when credentials are configured"))
	}
	if !cfg.Channels.WhatsApp.Enabled() && !cfg.Channels.Discord.Enabled {
		slog.Warn("no delivery channel configured; outbound replies can be consumed but not delivered")
	}
	if cfg.Server.MediaPublicBaseURL == "" && cfg.TTS.AudioReplyEnabled() {
		slog.Warn("server.media_public_base_url is empty; audio replies will be skipped")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
