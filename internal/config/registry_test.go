package config_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/Vaidehi1005/Daily-English-Speaking-Coach/internal/config"
	"github.com/Vaidehi1005/Daily-English-Speaking-Coach/pkg/audio"
	audiomock "github.com/Vaidehi1005/Daily-English-Speaking-Coach/pkg/audio/mock"
	"github.com/Vaidehi1005/Daily-English-Speaking-Coach/pkg/provider/s2s"
	s2smock "github.com/Vaidehi1005/Daily-English-Speaking-Coach/pkg/provider/s2s/mock"
)

func TestRegistry_S2S(t *testing.T) {
	t.Parallel()

	r := config.NewRegistry()
	var got config.ProviderEntry
	want := &s2smock.Provider{}
	r.RegisterS2S("gemini", func(e config.ProviderEntry) (s2s.Provider, error) {
		got = e
		return want, nil
	})

	p, err := r.CreateS2S(config.ProviderEntry{Name: "gemini", Model: "m"})
	if err != nil {
		t.Fatalf("CreateS2S: %v", err)
	}
	if p != want || got.Model != "m" {
		t.Errorf("factory not used: %v %+v", p, got)
	}

	_, err = r.CreateS2S(config.ProviderEntry{Name: "nope"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("err = %v, want ErrProviderNotRegistered", err)
	}
	if !strings.Contains(err.Error(), "gemini") {
		t.Errorf("err %q should list registered names", err)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()

	r := config.NewRegistry()
	boom := errors.New("missing api key")
	r.RegisterS2S("openai", func(config.ProviderEntry) (s2s.Provider, error) { return nil, boom })
	if _, err := r.CreateS2S(config.ProviderEntry{Name: "openai"}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}

func TestRegistry_Audio(t *testing.T) {
	t.Parallel()

	r := config.NewRegistry()
	devs := &audiomock.Devices{}
	r.RegisterAudio("mock", func(config.AudioConfig) (audio.Devices, error) { return devs, nil })

	got, err := r.CreateAudio(config.AudioConfig{Backend: "mock"})
	if err != nil || got != devs {
		t.Errorf("CreateAudio = %v, %v", got, err)
	}
	if _, err := r.CreateAudio(config.AudioConfig{Backend: "alsa"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("err = %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistry_S2SNamesSorted(t *testing.T) {
	t.Parallel()

	r := config.NewRegistry()
	for _, n := range []string{"openai", "gemini"} {
		r.RegisterS2S(n, func(config.ProviderEntry) (s2s.Provider, error) { return nil, nil })
	}
	if got := strings.Join(r.S2SNames(), ","); got != "gemini,openai" {
		t.Errorf("S2SNames() = %s", got)
	}
}

func TestResolveAPIKey(t *testing.T) {
	// Not parallel: mutates the environment.
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("API_KEY", "")
	t.Setenv("COACH_KEY", "")

	if got := (config.ProviderEntry{APIKey: "inline"}).ResolveAPIKey(); got != "inline" {
		t.Errorf("inline = %q", got)
	}
	if got := (config.ProviderEntry{}).ResolveAPIKey(); got != "" {
		t.Errorf("no env = %q", got)
	}

	t.Setenv("API_KEY", "generic")
	if got := (config.ProviderEntry{}).ResolveAPIKey(); got != "generic" {
		t.Errorf("API_KEY fallback = %q", got)
	}

	t.Setenv("GEMINI_API_KEY", "gemini")
	if got := (config.ProviderEntry{}).ResolveAPIKey(); got != "gemini" {
		t.Errorf("GEMINI_API_KEY = %q", got)
	}

	t.Setenv("COACH_KEY", "custom")
	if got := (config.ProviderEntry{APIKeyEnv: "COACH_KEY"}).ResolveAPIKey(); got != "custom" {
		t.Errorf("api_key_env = %q", got)
	}
}
