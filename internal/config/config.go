// Package config provides the configuration schema, loader, and provider
// registry for the Parley gateway.
package config

import "time"

// LogLevel controls log verbosity for the gateway.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// LogFormat selects the slog handler flavour.
type LogFormat string

const (
	LogText LogFormat = "text"
	LogJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	return f == LogText || f == LogJSON
}

// Config is the root configuration structure for the gateway.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Log         LogConfig         `yaml:"log"`
	Server      ServerConfig      `yaml:"server"`
	Redis       RedisConfig       `yaml:"redis"`
	Streams     StreamsConfig     `yaml:"streams"`
	Idempotency IdempotencyConfig `yaml:"idempotency"`
	Memory      MemoryConfig      `yaml:"memory"`
	LLM         LLMConfig         `yaml:"llm"`
	STT         STTConfig         `yaml:"stt"`
	TTS         TTSConfig         `yaml:"tts"`
	MCP         MCPConfig         `yaml:"mcp"`
	Channels    ChannelsConfig    `yaml:"channels"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  LogLevel  `yaml:"level"`
	Format LogFormat `yaml:"format"`
}

// ServerConfig holds the ingress HTTP server settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// MediaRootDir is the directory served under /media/. TTS replies are
	// written beneath it.
	MediaRootDir string `yaml:"media_root_dir"`

	// MediaPublicBaseURL is the externally reachable base URL of this server
	// (e.g., "https://gw.example.com"). Required for audio replies: channels
	// fetch media through it.
	MediaPublicBaseURL string `yaml:"media_public_base_url"`
}

// RedisConfig holds the Redis connection settings.
type RedisConfig struct {
	// URL is a redis:// connection string.
	URL string `yaml:"url"`
}

// StreamConfig describes one consumer-group loop.
type StreamConfig struct {
	// Stream is the Redis stream key.
	Stream string `yaml:"stream"`

	// Group is the consumer group name.
	Group string `yaml:"group"`

	// Consumer is this process's consumer name within the group.
	Consumer string `yaml:"consumer"`

	// MaxConcurrency bounds in-flight entry handlers.
	MaxConcurrency int `yaml:"max_concurrency"`
}

// StreamsConfig holds both gateway stream loops plus shared read tuning.
type StreamsConfig struct {
	Inbound  StreamConfig `yaml:"inbound"`
	Outbound StreamConfig `yaml:"outbound"`

	// ReadCount is the XREADGROUP batch size.
	ReadCount int64 `yaml:"read_count"`

	// BlockMS is how long a read blocks waiting for entries, in milliseconds.
	BlockMS int `yaml:"block_ms"`
}

// Block returns the configured read block as a duration.
func (s StreamsConfig) Block() time.Duration {
	return time.Duration(s.BlockMS) * time.Millisecond
}

// IdempotencyConfig bounds the duplicate-delivery suppression window.
type IdempotencyConfig struct {
	// TTLSeconds is how long delivered out_ids are remembered.
	TTLSeconds int `yaml:"ttl_seconds"`
}

// TTL returns the configured window as a duration.
func (c IdempotencyConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// MemoryConfig holds settings for the Redis memory layer.
type MemoryConfig struct {
	// KeyPrefix namespaces all memory keys.
	KeyPrefix string `yaml:"key_prefix"`

	// RecentEventsLimit bounds the per-user event history (clamped to [1, 200]).
	RecentEventsLimit int `yaml:"recent_events_limit"`

	// ConversationStateTTLSeconds is how long conversation state lives.
	ConversationStateTTLSeconds int `yaml:"conversation_state_ttl_seconds"`

	// UserProfileTTLSeconds expires user profiles. Zero keeps them forever.
	UserProfileTTLSeconds int `yaml:"user_profile_ttl_seconds"`

	// UserEventsTTLSeconds expires the event history. Zero keeps it forever.
	UserEventsTTLSeconds int `yaml:"user_events_ttl_seconds"`
}

// ConversationStateTTL returns the state TTL as a duration.
func (m MemoryConfig) ConversationStateTTL() time.Duration {
	return time.Duration(m.ConversationStateTTLSeconds) * time.Second
}

// UserProfileTTL returns the profile TTL as a duration.
func (m MemoryConfig) UserProfileTTL() time.Duration {
	return time.Duration(m.UserProfileTTLSeconds) * time.Second
}

// UserEventsTTL returns the events TTL as a duration.
func (m MemoryConfig) UserEventsTTL() time.Duration {
	return time.Duration(m.UserEventsTTLSeconds) * time.Second
}

// ProviderEntry is the common configuration block shared by all provider
// types. The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o-mini", "whisper-1").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above.
	Options map[string]any `yaml:"options"`
}

// LLMConfig selects the chat model used by the supervisor, agents, and the
// agent composer.
type LLMConfig struct {
	ProviderEntry `yaml:",inline"`

	// ComposerModel optionally overrides the model used for agent
	// composition. Empty means the main model.
	ComposerModel string `yaml:"composer_model"`
}

// STTConfig selects the speech-to-text provider for inbound voice notes.
type STTConfig struct {
	ProviderEntry `yaml:",inline"`

	// ForceEnglish transcribes through the translation endpoint so the
	// transcript always comes back in English. Defaults to true.
	ForceEnglish *bool `yaml:"force_english"`

	// Fallback optionally configures a secondary provider tried when the
	// primary fails.
	Fallback *ProviderEntry `yaml:"fallback"`
}

// ForceEnglishEnabled resolves the ForceEnglish default.
func (c STTConfig) ForceEnglishEnabled() bool {
	return c.ForceEnglish == nil || *c.ForceEnglish
}

// TTSConfig selects the text-to-speech provider for audio replies.
type TTSConfig struct {
	ProviderEntry `yaml:",inline"`

	// Voice is the provider voice id (e.g., "alloy").
	Voice string `yaml:"voice"`

	// Format is the synthesis output format (e.g., "mp3").
	Format string `yaml:"format"`

	// ReplyWithAudioWhenInboundHasAudio gates voice replies on voice inbound.
	// Defaults to true.
	ReplyWithAudioWhenInboundHasAudio *bool `yaml:"reply_with_audio_when_inbound_has_audio"`

	// Fallback optionally configures a secondary provider tried when the
	// primary fails.
	Fallback *ProviderEntry `yaml:"fallback"`
}

// AudioReplyEnabled resolves the ReplyWithAudioWhenInboundHasAudio default.
func (c TTSConfig) AudioReplyEnabled() bool {
	return c.ReplyWithAudioWhenInboundHasAudio == nil || *c.ReplyWithAudioWhenInboundHasAudio
}

// MCPConfig holds tool-server wiring and agent composition settings.
type MCPConfig struct {
	// ConfigPath points at the JSON tool-server catalogue ("mcpServers" map).
	// Empty means no remote tool servers.
	ConfigPath string `yaml:"config_path"`

	// MaxToolsPerAgent caps how many tools the composer assigns to one agent.
	MaxToolsPerAgent int `yaml:"max_tools_per_agent"`

	// Placeholders resolves {{KEY}} markers in composed system messages.
	Placeholders map[string]string `yaml:"placeholders"`

	// Rules configures per-server composition constraints, keyed by server name.
	Rules map[string]ServerRules `yaml:"rules"`

	// Policies inject shared system-message fragments into composed agents.
	Policies []PolicyPack `yaml:"policies"`

	// Hardening tunes the validation wrapper applied to every tool.
	Hardening HardeningConfig `yaml:"hardening"`
}

// HardeningConfig tunes the tool validation and output-trimming wrapper.
type HardeningConfig struct {
	// TrimToolOutput compresses large provider payloads before they are fed
	// back to the model. Defaults to true.
	TrimToolOutput *bool `yaml:"trim_tool_output"`

	// TrimMaxChars hard-caps a trimmed payload (clamped to [500, 20000]).
	TrimMaxChars int `yaml:"trim_max_chars"`

	// TrimMaxItems caps list summaries (clamped to [1, 20]).
	TrimMaxItems int `yaml:"trim_max_items"`

	// ToolTimeoutSeconds bounds each tool execution. Zero means 30 s.
	ToolTimeoutSeconds int `yaml:"tool_timeout_seconds"`
}

// TrimEnabled resolves the TrimToolOutput default.
func (h HardeningConfig) TrimEnabled() bool {
	return h.TrimToolOutput == nil || *h.TrimToolOutput
}

// ToolTimeout returns the per-call deadline as a duration.
func (h HardeningConfig) ToolTimeout() time.Duration {
	if h.ToolTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(h.ToolTimeoutSeconds) * time.Second
}

// ServerRules constrains how one tool server's tools are grouped into agents.
type ServerRules struct {
	// DesiredAgents are taken verbatim by the composer when present.
	DesiredAgents []DesiredAgent `yaml:"desired_agents"`

	// BlacklistedTools are removed at discovery and never assigned.
	BlacklistedTools []string `yaml:"blacklisted_tools"`
}

// DesiredAgent pins an agent the operator wants composed as-is.
type DesiredAgent struct {
	Name           string   `yaml:"name"`
	Responsibility string   `yaml:"responsibility"`
	Tools          []string `yaml:"tools"`
}

// PolicyPack injects system-message fragments into agents whose tools come
// from matching servers.
type PolicyPack struct {
	Match  PolicyMatch  `yaml:"match"`
	Inject PolicyInject `yaml:"inject"`
}

// PolicyMatch selects agents by tool source server. "*" matches every agent.
type PolicyMatch struct {
	SourceServers []string `yaml:"source_servers"`
}

// PolicyInject holds the fragments merged around the composed system message.
type PolicyInject struct {
	PrependSystemMessage string   `yaml:"prepend_system_message"`
	AppendSystemMessage  []string `yaml:"append_system_message"`
}

// ChannelsConfig wires the messaging channels.
type ChannelsConfig struct {
	WhatsApp WhatsAppConfig `yaml:"whatsapp"`
	Discord  DiscordConfig  `yaml:"discord"`
}

// WhatsAppConfig holds Twilio WhatsApp settings. The channel is active when
// both credentials are present.
type WhatsAppConfig struct {
	// From is the Twilio WhatsApp sender (e.g., "whatsapp:+14155238886").
	From string `yaml:"from"`

	// AccountSID and AuthToken are the Twilio API credentials. The auth token
	// also signs webhook validation.
	AccountSID string `yaml:"account_sid"`
	AuthToken  string `yaml:"auth_token"`

	// ValidateSignature verifies X-Twilio-Signature on inbound webhooks.
	// Defaults to true.
	ValidateSignature *bool `yaml:"validate_signature"`
}

// Enabled reports whether the WhatsApp channel is configured.
func (w WhatsAppConfig) Enabled() bool {
	return w.AccountSID != "" && w.AuthToken != ""
}

// SignatureValidationEnabled resolves the ValidateSignature default.
func (w WhatsAppConfig) SignatureValidationEnabled() bool {
	return w.ValidateSignature == nil || *w.ValidateSignature
}

// DiscordConfig holds the Discord channel settings.
type DiscordConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
}
