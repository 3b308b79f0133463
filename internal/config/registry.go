package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"

	"github.com/Vaidehi1005/Daily-English-Speaking-Coach/pkg/audio"
	"github.com/Vaidehi1005/Daily-English-Speaking-Coach/pkg/provider/s2s"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// ResolveAPIKey returns APIKey, or the value of the APIKeyEnv environment
// variable, or GEMINI_API_KEY, or API_KEY, in that order.
func (e ProviderEntry) ResolveAPIKey() string {
	if e.APIKey != "" {
		return e.APIKey
	}
	envs := []string{DefaultAPIKeyEnv, FallbackAPIKeyEnv}
	if e.APIKeyEnv != "" {
		envs = append([]string{e.APIKeyEnv}, envs...)
	}
	for _, name := range envs {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

// S2SFactory builds a speech provider from its config entry.
type S2SFactory func(ProviderEntry) (s2s.Provider, error)

// AudioFactory builds the audio device layer from the audio section.
type AudioFactory func(AudioConfig) (audio.Devices, error)

// Registry maps provider names to their constructors. It is safe for
// concurrent use.
type Registry struct {
	mu    sync.RWMutex
	s2s   map[string]S2SFactory
	audio map[string]AudioFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		s2s:   make(map[string]S2SFactory),
		audio: make(map[string]AudioFactory),
	}
}

// RegisterS2S registers a speech provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterS2S(name string, factory S2SFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.s2s[name] = factory
}

// RegisterAudio registers an audio device factory under name.
func (r *Registry) RegisterAudio(name string, factory AudioFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio[name] = factory
}

// CreateS2S instantiates the provider registered under entry.Name.
// Returns [ErrProviderNotRegistered] if there is none.
func (r *Registry) CreateS2S(entry ProviderEntry) (s2s.Provider, error) {
	r.mu.RLock()
	factory, ok := r.s2s[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: s2s/%q (registered: %v)", ErrProviderNotRegistered, entry.Name, r.S2SNames())
	}
	return factory(entry)
}

// CreateAudio instantiates the audio backend registered under cfg.Backend.
func (r *Registry) CreateAudio(cfg AudioConfig) (audio.Devices, error) {
	r.mu.RLock()
	factory, ok := r.audio[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: audio/%q", ErrProviderNotRegistered, cfg.Backend)
	}
	return factory(cfg)
}

// S2SNames returns the registered speech provider names, sorted.
func (r *Registry) S2SNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.s2s))
	for n := range r.s2s {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
