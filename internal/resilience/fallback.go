package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/Vaidehi1005/Daily-English-Speaking-Coach/pkg/provider/s2s"
)

// ErrAllFailed is returned by [Failover.Connect] when no provider could open
// a session.
var ErrAllFailed = errors.New("resilience: all speech providers failed")

var _ s2s.Provider = (*Failover)(nil)

type failoverEntry struct {
	name     string
	provider s2s.Provider
	breaker  *CircuitBreaker
}

// Failover is an [s2s.Provider] that connects through the first healthy
// provider in registration order. Each provider has its own breaker, so a
// provider that keeps failing is skipped without a dial until its reset
// timeout has passed.
type Failover struct {
	cfg     CircuitBreakerConfig
	entries []failoverEntry
}

// NewFailover returns a Failover with primary as its first provider.
func NewFailover(primaryName string, primary s2s.Provider, cfg CircuitBreakerConfig) *Failover {
	f := &Failover{cfg: cfg}
	f.Add(primaryName, primary)
	return f
}

// Add appends a fallback provider. Add is not safe to call concurrently with
// Connect.
func (f *Failover) Add(name string, p s2s.Provider) {
	cbCfg := f.cfg
	cbCfg.Name = name
	f.entries = append(f.entries, failoverEntry{name: name, provider: p, breaker: NewCircuitBreaker(cbCfg)})
}

// Names returns the provider names in the order they are tried.
func (f *Failover) Names() []string {
	names := make([]string, len(f.entries))
	for i, e := range f.entries {
		names[i] = e.name
	}
	return names
}

// State returns the breaker state of the named provider.
func (f *Failover) State(name string) (State, bool) {
	for _, e := range f.entries {
		if e.name == name {
			return e.breaker.State(), true
		}
	}
	return StateClosed, false
}

// Capabilities returns the primary provider's capabilities.
func (f *Failover) Capabilities() s2s.Capabilities {
	return f.entries[0].provider.Capabilities()
}

// Connect tries each provider in order. A voice that a fallback does not
// offer is dropped so the fallback uses its own default. A cancelled ctx
// stops the walk without counting against any breaker.
func (f *Failover) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	var errs []error
	for i, e := range f.entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entryCfg := cfg
		if i > 0 {
			entryCfg = adaptVoice(cfg, e.provider.Capabilities())
		}

		var handle s2s.SessionHandle
		err := e.breaker.Execute(func() error {
			var err error
			handle, err = e.provider.Connect(ctx, entryCfg)
			if err != nil && ctx.Err() != nil {
				// Cancellation is not the provider's fault.
				return nil
			}
			return err
		})
		if err == nil && handle != nil {
			if i > 0 {
				slog.Warn("speech provider failover", "using", e.name, "primary", f.entries[0].name)
			}
			return handle, nil
		}
		if err == nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping speech provider with open circuit", "provider", e.name)
		} else {
			slog.Warn("speech provider failed to connect", "provider", e.name, "err", err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", e.name, err))
	}
	return nil, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}

func adaptVoice(cfg s2s.SessionConfig, caps s2s.Capabilities) s2s.SessionConfig {
	if cfg.Voice != "" && len(caps.Voices) > 0 && !slices.Contains(caps.Voices, cfg.Voice) {
		cfg.Voice = ""
	}
	return cfg
}
