// Package config provides the configuration schema, loader, hot-reload
// watcher and provider registry for the speaking coach.
package config

import (
	"log/slog"
	"time"

	"github.com/Vaidehi1005/Daily-English-Speaking-Coach/internal/coach"
	"github.com/Vaidehi1005/Daily-English-Speaking-Coach/pkg/audio"
)

// LogLevel controls log verbosity.
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

// Level maps l onto a slog level. Unset and unknown values map to Info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr   = "127.0.0.1:8080"
	DefaultProvider     = "gemini"
	DefaultAPIKeyEnv    = "GEMINI_API_KEY"
	FallbackAPIKeyEnv   = "API_KEY"
	DefaultAudioBackend = "portaudio"
)

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig  `yaml:"server"`
	Provider ProviderEntry `yaml:"provider"`

	// Fallbacks are tried in order when Provider cannot open a session.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`

	Coach CoachConfig `yaml:"coach"`

	// Topics replaces the built-in topic set when non-empty.
	Topics []coach.Topic `yaml:"topics"`

	Audio AudioConfig `yaml:"audio"`
}

// ServerConfig holds the HTTP control surface and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the HTTP server. "off" disables it.
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`

	// AllowedOrigins lists host patterns of browser origins allowed to open
	// the event stream (e.g. "localhost:*").
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// HTTPEnabled reports whether the HTTP server should run.
func (s ServerConfig) HTTPEnabled() bool { return s.ListenAddr != "off" }

// ProviderEntry selects and configures the speech-to-speech service. Name is
// looked up in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider ("gemini", "openai").
	Name string `yaml:"name"`

	// APIKey authenticates with the service. Leave empty to read it from
	// the environment, see [ProviderEntry.ResolveAPIKey].
	APIKey string `yaml:"api_key"`

	// APIKeyEnv names the environment variable holding the key.
	APIKeyEnv string `yaml:"api_key_env"`

	// BaseURL overrides the service endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects the model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific values.
	Options map[string]any `yaml:"options"`
}

// CoachConfig tunes the coach persona.
type CoachConfig struct {
	// Instruction replaces the built-in coach instruction. The topic line is
	// still appended per session.
	Instruction string `yaml:"instruction"`

	// Voice is the provider voice name. Empty keeps the provider default.
	Voice string `yaml:"voice"`

	// MaxDuration ends sessions after the given time (e.g. "15m"). Zero
	// means only the provider limit applies.
	MaxDuration time.Duration `yaml:"max_duration"`
}

// AudioConfig selects the audio backend and stream formats.
type AudioConfig struct {
	// Backend selects the registered audio device factory.
	Backend string `yaml:"backend"`

	// InputDevice and OutputDevice select devices by (partial) name. Empty
	// selects the host defaults.
	InputDevice  string `yaml:"input_device"`
	OutputDevice string `yaml:"output_device"`

	// CaptureQueueDepth bounds the number of microphone blocks waiting to be
	// sent.
	CaptureQueueDepth int `yaml:"capture_queue_depth"`

	// PlaybackSampleRate and PlaybackChannels describe the PCM the service
	// returns.
	PlaybackSampleRate int `yaml:"playback_sample_rate"`
	PlaybackChannels   int `yaml:"playback_channels"`
}

// PlaybackFormat returns the configured decode format.
func (a AudioConfig) PlaybackFormat() audio.Format {
	return audio.Format{SampleRate: a.PlaybackSampleRate, Channels: a.PlaybackChannels}
}

// ApplyDefaults fills unset fields.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Provider.Name == "" {
		cfg.Provider.Name = DefaultProvider
	}
	if cfg.Audio.Backend == "" {
		cfg.Audio.Backend = DefaultAudioBackend
	}
	if cfg.Audio.CaptureQueueDepth == 0 {
		cfg.Audio.CaptureQueueDepth = 32
	}
	if cfg.Audio.PlaybackSampleRate == 0 {
		cfg.Audio.PlaybackSampleRate = audio.PlaybackRate
	}
	if cfg.Audio.PlaybackChannels == 0 {
		cfg.Audio.PlaybackChannels = 1
	}
}

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// TopicsOrDefault returns the configured topics, or the built-in set.
func (c *Config) TopicsOrDefault() []coach.Topic {
	if len(c.Topics) == 0 {
		return coach.DefaultTopics()
	}
	return c.Topics
}
