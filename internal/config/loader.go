package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists the speech providers shipped with the coach.
// [Validate] warns about other names, which may be registered by embedders.
var ValidProviderNames = []string{"gemini", "openai"}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Unknown keys are rejected. An empty document yields
// the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Provider.Name != "" && !slices.Contains(ValidProviderNames, cfg.Provider.Name) {
		slog.Warn("unknown provider name, may be a typo or a custom provider",
			"name", cfg.Provider.Name,
			"known", ValidProviderNames,
		)
	}

	for i, fb := range cfg.Fallbacks {
		switch {
		case fb.Name == "":
			errs = append(errs, fmt.Errorf("fallbacks[%d].name is required", i))
		case fb.Name == cfg.Provider.Name:
			errs = append(errs, fmt.Errorf("fallbacks[%d].name %q duplicates the primary provider", i, fb.Name))
		}
	}

	if cfg.Coach.MaxDuration < 0 {
		errs = append(errs, fmt.Errorf("coach.max_duration %s must not be negative", cfg.Coach.MaxDuration))
	}

	if cfg.Audio.CaptureQueueDepth < 0 {
		errs = append(errs, fmt.Errorf("audio.capture_queue_depth %d must not be negative", cfg.Audio.CaptureQueueDepth))
	}
	if cfg.Audio.PlaybackSampleRate < 0 || cfg.Audio.PlaybackChannels < 0 {
		errs = append(errs, fmt.Errorf("audio playback format %dHz/%dch is invalid", cfg.Audio.PlaybackSampleRate, cfg.Audio.PlaybackChannels))
	}
	if cfg.Audio.PlaybackChannels > 2 {
		errs = append(errs, fmt.Errorf("audio.playback_channels %d is out of range [1, 2]", cfg.Audio.PlaybackChannels))
	}

	seen := make(map[string]int, len(cfg.Topics))
	for i, t := range cfg.Topics {
		prefix := fmt.Sprintf("topics[%d]", i)
		if err := t.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", prefix, err))
		}
		if t.ID == "" {
			continue
		}
		if prev, ok := seen[t.ID]; ok {
			errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of topics[%d]", prefix, t.ID, prev))
		}
		seen[t.ID] = i
	}

	return errors.Join(errs...)
}
