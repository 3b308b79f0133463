// Command speakcoach runs the daily English speaking coach: a live voice
// conversation with a speech-to-speech model about a chosen practice topic.
//
// The terminal shows the transcript and accepts simple commands; the same
// controls and a live event stream are served over HTTP for browser clients.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/Vaidehi1005/Daily-English-Speaking-Coach/internal/app"
	"github.com/Vaidehi1005/Daily-English-Speaking-Coach/internal/bridge"
	"github.com/Vaidehi1005/Daily-English-Speaking-Coach/internal/config"
	"github.com/Vaidehi1005/Daily-English-Speaking-Coach/internal/health"
	"github.com/Vaidehi1005/Daily-English-Speaking-Coach/internal/observe"
	"github.com/Vaidehi1005/Daily-English-Speaking-Coach/internal/resilience"
	"github.com/Vaidehi1005/Daily-English-Speaking-Coach/internal/web"
	"github.com/Vaidehi1005/Daily-English-Speaking-Coach/pkg/audio"
	"github.com/Vaidehi1005/Daily-English-Speaking-Coach/pkg/audio/portaudio"
	"github.com/Vaidehi1005/Daily-English-Speaking-Coach/pkg/provider/s2s"
	geminilive "github.com/Vaidehi1005/Daily-English-Speaking-Coach/pkg/provider/s2s/gemini"
	oais2s "github.com/Vaidehi1005/Daily-English-Speaking-Coach/pkg/provider/s2s/openai"
)

var version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file (optional)")
	envPath := flag.String("env", ".env", "path to a .env file with API keys (optional)")
	topic := flag.String("topic", "", "start a session on this topic ID or title right away")
	listDevices := flag.Bool("list-devices", false, "print the audio devices and exit")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("speakcoach", version)
		return 0
	}

	// ── Environment ───────────────────────────────────────────────────────────
	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "speakcoach: load %s: %v\n", *envPath, err)
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, watchable, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "speakcoach: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("speakcoach starting",
		"version", version,
		"config", *configPath,
		"provider", cfg.Provider.Name,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		RuntimeMetrics: true,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltins(reg)

	devices, err := reg.CreateAudio(cfg.Audio)
	if err != nil {
		slog.Error("failed to open audio host", "backend", cfg.Audio.Backend, "err", err)
		return 1
	}
	if c, ok := devices.(io.Closer); ok {
		defer c.Close()
	}
	if *listDevices {
		return printDevices(os.Stdout, devices)
	}

	provider, err := createProvider(reg, cfg)
	if err != nil {
		slog.Error("failed to create speech provider", "name", cfg.Provider.Name, "err", err)
		return 1
	}

	// ── Application ───────────────────────────────────────────────────────────
	coach := app.New(provider, devices,
		app.WithTopics(cfg.TopicsOrDefault()),
		app.WithInstruction(cfg.Coach.Instruction),
		app.WithVoice(cfg.Coach.Voice),
		app.WithMaxDuration(cfg.Coach.MaxDuration),
		app.WithMetrics(tel.Metrics),
		app.WithProviderName(cfg.Provider.Name),
		app.WithBridgeOptions(
			bridge.WithPlaybackFormat(cfg.Audio.PlaybackFormat()),
			bridge.WithCaptureQueueDepth(cfg.Audio.CaptureQueueDepth),
		),
	)

	g, gctx := errgroup.WithContext(ctx)

	pres := newPresenter(os.Stdout, coach)
	g.Go(func() error { return pres.run(gctx) })

	if cfg.Server.HTTPEnabled() {
		srv := newHTTPServer(cfg, coach, devices, tel)
		g.Go(func() error {
			slog.Info("http server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	if watchable {
		w, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
			applyReload(config.Diff(old, new), new, coach, &level)
		})
		if err != nil {
			slog.Warn("config hot reload disabled", "err", err)
		} else {
			g.Go(func() error { return w.Run(gctx) })
		}
	}

	// The console stops at EOF; it is not part of the group so a closed stdin
	// does not end the process.
	go newConsole(os.Stdin, os.Stdout, coach, stop).run(gctx)

	if *topic != "" {
		if err := startTopic(gctx, coach, *topic); err != nil {
			slog.Error("could not start the session", "topic", *topic, "err", err)
		}
	} else {
		printTopics(os.Stdout, coach.Topics())
	}

	err = g.Wait()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := coach.Shutdown(sctx); serr != nil {
		slog.Error("shutdown error", "err", serr)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// loadConfig loads path. A missing file at the default location yields the
// built-in defaults; watchable reports whether the file exists.
func loadConfig(path string) (cfg *config.Config, watchable bool, err error) {
	cfg, err = config.Load(path)
	if errors.Is(err, fs.ErrNotExist) && !flagSet("config") {
		return config.Default(), false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return cfg, true, nil
}

func flagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// createProvider builds the configured speech provider. With fallbacks
// configured it is wrapped in a [resilience.Failover].
func createProvider(reg *config.Registry, cfg *config.Config) (s2s.Provider, error) {
	primary, err := reg.CreateS2S(cfg.Provider)
	if err != nil {
		return nil, err
	}
	if len(cfg.Fallbacks) == 0 {
		return primary, nil
	}
	f := resilience.NewFailover(cfg.Provider.Name, primary, resilience.CircuitBreakerConfig{})
	for _, entry := range cfg.Fallbacks {
		p, err := reg.CreateS2S(entry)
		if err != nil {
			slog.Warn("skipping fallback speech provider", "name", entry.Name, "err", err)
			continue
		}
		f.Add(entry.Name, p)
	}
	slog.Info("speech provider failover enabled", "order", f.Names())
	return f, nil
}

// registerBuiltins wires the speech providers and the audio backend that
// ship with the coach into reg.
func registerBuiltins(reg *config.Registry) {
	reg.RegisterS2S("gemini", func(entry config.ProviderEntry) (s2s.Provider, error) {
		key := entry.ResolveAPIKey()
		if key == "" {
			return nil, errors.New("no API key: set provider.api_key or GEMINI_API_KEY")
		}
		var opts []geminilive.Option
		if entry.Model != "" {
			opts = append(opts, geminilive.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, geminilive.WithBaseURL(entry.BaseURL))
		}
		return geminilive.New(key, opts...), nil
	})

	reg.RegisterS2S("openai", func(entry config.ProviderEntry) (s2s.Provider, error) {
		if entry.APIKeyEnv == "" {
			entry.APIKeyEnv = "OPENAI_API_KEY"
		}
		key := entry.ResolveAPIKey()
		if key == "" {
			return nil, errors.New("no API key: set provider.api_key or OPENAI_API_KEY")
		}
		var opts []oais2s.Option
		if entry.Model != "" {
			opts = append(opts, oais2s.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oais2s.WithBaseURL(entry.BaseURL))
		}
		return oais2s.New(key, opts...), nil
	})

	reg.RegisterAudio("portaudio", func(a config.AudioConfig) (audio.Devices, error) {
		return portaudio.Open(
			portaudio.WithInputDevice(a.InputDevice),
			portaudio.WithOutputDevice(a.OutputDevice),
		)
	})

	slog.Debug("registered providers", "s2s", reg.S2SNames())
}

// ── HTTP ──────────────────────────────────────────────────────────────────────

type checker interface {
	Check(ctx context.Context) error
}

func newHTTPServer(cfg *config.Config, coach *app.App, devices audio.Devices, tel *observe.Telemetry) *http.Server {
	checks := []health.Checker{health.Func("provider", coach.Ready)}
	if c, ok := devices.(checker); ok {
		checks = append(checks, health.Checker{Name: "audio", Check: c.Check})
	}

	srv := web.New(coach,
		web.WithMetrics(tel.Metrics),
		web.WithHealth(health.New(checks)),
		web.WithMetricsHandler(tel.Handler()),
		web.WithOriginPatterns(cfg.Server.AllowedOrigins...),
	)
	return &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// ── Hot reload ────────────────────────────────────────────────────────────────

func applyReload(d config.ConfigDiff, cfg *config.Config, coach *app.App, level *slog.LevelVar) {
	if d.LogLevelChanged {
		level.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.TopicsChanged {
		coach.SetTopics(cfg.TopicsOrDefault())
		slog.Info("topics reloaded", "count", len(cfg.TopicsOrDefault()), "changes", len(d.TopicChanges))
	}
	if d.CoachChanged {
		coach.SetCoach(cfg.Coach.Instruction, cfg.Coach.Voice)
		coach.SetMaxDuration(cfg.Coach.MaxDuration)
		slog.Info("coach settings reloaded; they apply to the next session")
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("changed settings need a restart", "keys", d.RestartRequired)
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// startTopic resolves query against the catalog and starts a session.
func startTopic(ctx context.Context, coach controller, query string) error {
	t, ok := coach.FindTopic(query)
	if !ok {
		return fmt.Errorf("%w: %q", app.ErrUnknownTopic, query)
	}
	return coach.StartSession(ctx, t.ID)
}

func printDevices(w io.Writer, devices audio.Devices) int {
	host, ok := devices.(*portaudio.Host)
	if !ok {
		fmt.Fprintln(w, "the configured audio backend cannot list devices")
		return 1
	}
	list, err := host.Devices()
	if err != nil {
		fmt.Fprintf(w, "list devices: %v\n", err)
		return 1
	}
	for _, d := range list {
		fmt.Fprintf(w, "%-40s in:%d out:%d %.0fHz (%s)\n",
			d.Name, d.MaxInputChannels, d.MaxOutputChannels, d.DefaultSampleRate, d.HostAPI)
	}
	return 0
}
