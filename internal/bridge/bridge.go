// Package bridge runs one practice session: it connects the learner's
// microphone and speaker to a speech-to-speech session and keeps the two
// directions in step.
//
// A [Bridge] owns every resource of the session. Start opens the speaker and
// the microphone, then the provider session. Once the service acknowledges
// setup the capture pipeline and the session timer start. Inbound messages are
// routed in arrival order by a single goroutine: interruptions flush the
// playback scheduler, audio is decoded and scheduled gaplessly, transcription
// is appended to the transcript. Playback completion callbacks are posted into
// the same goroutine, so the scheduler and the [Listener] only ever see one
// caller at a time.
//
// Every exit path (Stop, the service ending the session, a transport error,
// the duration limit) releases resources in the same order: timer, microphone,
// outbound stream, scheduled playback, speaker.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Vaidehi1005/Daily-English-Speaking-Coach/internal/capture"
	"github.com/Vaidehi1005/Daily-English-Speaking-Coach/internal/observe"
	"github.com/Vaidehi1005/Daily-English-Speaking-Coach/internal/transcript"
	"github.com/Vaidehi1005/Daily-English-Speaking-Coach/pkg/audio"
	"github.com/Vaidehi1005/Daily-English-Speaking-Coach/pkg/audio/playback"
	"github.com/Vaidehi1005/Daily-English-Speaking-Coach/pkg/provider/s2s"
)

const (
	defaultTickInterval = time.Second
	taskBuffer          = 64
)

// ErrAlreadyStarted is returned by Start on a bridge that was already started
// or stopped. A Bridge runs a single session.
var ErrAlreadyStarted = errors.New("bridge: already started")

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for [New].
type Option func(*Bridge)

// WithMaxDuration ends the session normally once it has been open for d.
// The provider's own session limit applies when it is shorter. Zero means no
// limit beyond the provider's.
func WithMaxDuration(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.maxDuration = d
		}
	}
}

// WithTickInterval sets the timer resolution. Default: one second.
func WithTickInterval(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.tickInterval = d
		}
	}
}

// WithPlaybackFormat sets the format coach audio is decoded in and the
// speaker is opened with. Default: 24 kHz mono.
func WithPlaybackFormat(f audio.Format) Option {
	return func(b *Bridge) {
		if f.Valid() {
			b.playbackFormat = f
		}
	}
}

// WithCaptureQueueDepth sets the capture queue depth.
func WithCaptureQueueDepth(n int) Option {
	return func(b *Bridge) {
		if n > 0 {
			b.queueDepth = n
		}
	}
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(b *Bridge) {
		if m != nil {
			b.metrics = m
		}
	}
}

// WithProviderName labels provider error metrics.
func WithProviderName(name string) Option {
	return func(b *Bridge) {
		b.providerName = name
	}
}

// ── Bridge ─────────────────────────────────────────────────────────────────────

// Bridge is one practice session. Create it with [New]; it cannot be
// restarted once stopped.
type Bridge struct {
	id       string
	provider s2s.Provider
	devices  audio.Devices
	listener Listener

	maxDuration    time.Duration
	tickInterval   time.Duration
	playbackFormat audio.Format
	queueDepth     int
	metrics        *observe.Metrics
	providerName   string

	mu            sync.Mutex
	phase         Phase
	started       bool
	stopRequested bool
	cancelStart   context.CancelFunc

	transcript *transcript.Log
	elapsed    atomic.Int64
	speaking   atomic.Bool

	tasks    chan func()
	stopCh   chan struct{}
	stopOnce sync.Once
	loopDone chan struct{}
	done     chan struct{}
	doneOnce sync.Once
}

// New creates a bridge for one session. listener may be nil.
func New(provider s2s.Provider, devices audio.Devices, listener Listener, opts ...Option) *Bridge {
	if listener == nil {
		listener = NopListener{}
	}
	b := &Bridge{
		id:             uuid.NewString(),
		provider:       provider,
		devices:        devices,
		listener:       listener,
		tickInterval:   defaultTickInterval,
		playbackFormat: playback.DefaultFormat,
		queueDepth:     capture.DefaultQueueDepth,
		metrics:        observe.DefaultMetrics(),
		providerName:   "s2s",
		transcript:     transcript.NewLog(nil),
		tasks:          make(chan func(), taskBuffer),
		stopCh:         make(chan struct{}),
		loopDone:       make(chan struct{}),
		done:           make(chan struct{}),
	}
	for _, o := range opts {
		o(b)
	}
	if limit := provider.Capabilities().MaxSessionDuration; limit > 0 {
		if b.maxDuration == 0 || limit < b.maxDuration {
			b.maxDuration = limit
		}
	}
	return b
}

// session is the set of resources owned by a started bridge.
type session struct {
	spk    audio.Speaker
	sched  *playback.Scheduler
	pipe   *capture.Pipeline
	handle s2s.SessionHandle
}

// Start opens the devices and the provider session. It returns once the
// session is connecting; [Listener.PhaseChanged] reports Open when the
// service acknowledges setup. On failure every resource opened so far is
// released, the listener receives the failure message and the bridge ends
// Closed.
func (b *Bridge) Start(ctx context.Context, cfg s2s.SessionConfig) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return ErrAlreadyStarted
	}
	b.started = true
	ctx = observe.WithSessionID(ctx, b.id)
	startCtx, cancel := context.WithCancel(ctx)
	b.cancelStart = cancel
	b.mu.Unlock()
	defer cancel()

	b.setPhase(Connecting)

	startCtx, span := observe.StartSpan(startCtx, "bridge.start",
		trace.WithAttributes(
			attribute.String("session.id", b.id),
			attribute.String("provider", b.providerName),
		),
	)
	defer span.End()

	sess, err := b.open(startCtx, cfg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		b.mu.Lock()
		stopped := b.stopRequested
		b.mu.Unlock()
		if stopped {
			// Stop raced with setup: a requested end, not a failure.
			b.finish()
			return fmt.Errorf("bridge: start: %w", err)
		}

		observe.Logger(ctx).Warn("bridge: session setup failed", "err", err)
		b.metrics.RecordProviderError(ctx, b.providerName, "setup")
		b.setPhase(Error)
		b.listener.Failed(SetupFailedPrefix + err.Error())
		b.finish()
		return fmt.Errorf("bridge: start: %w", err)
	}

	b.metrics.ActiveSessions.Add(ctx, 1)
	runCtx, runCancel := context.WithCancel(context.WithoutCancel(ctx))
	go b.run(runCtx, runCancel, sess)
	return nil
}

// open acquires the session resources in order, releasing what it already
// holds when a later step fails.
func (b *Bridge) open(ctx context.Context, cfg s2s.SessionConfig) (*session, error) {
	spk, err := b.devices.OpenSpeaker(ctx, b.playbackFormat)
	if err != nil {
		return nil, fmt.Errorf("open speaker: %w", err)
	}
	mic, err := b.devices.OpenMicrophone(ctx, capture.Format, capture.BlockSize)
	if err != nil {
		_ = spk.Close()
		return nil, fmt.Errorf("open microphone: %w", err)
	}

	connectStart := time.Now()
	handle, err := b.provider.Connect(ctx, cfg)
	if err != nil {
		_ = mic.Close()
		_ = spk.Close()
		return nil, fmt.Errorf("connect: %w", err)
	}
	b.metrics.ConnectDuration.Record(ctx, time.Since(connectStart).Seconds())

	sess := &session{spk: spk, handle: handle}
	sess.sched = playback.NewScheduler(spk,
		playback.WithFormat(b.playbackFormat),
		playback.WithSpeakingFunc(b.onSpeaking),
		playback.WithEndedFunc(func(ended func()) func() {
			return func() { b.post(ended) }
		}),
	)
	sess.pipe = capture.New(mic, handle,
		capture.WithQueueDepth(b.queueDepth),
		capture.WithMetrics(b.metrics),
		capture.WithLogger(observe.Logger(ctx)),
	)
	return sess, nil
}

// post hands fn to the run loop. Once the loop has exited fn is discarded.
func (b *Bridge) post(fn func()) {
	select {
	case b.tasks <- fn:
	case <-b.loopDone:
	}
}

// outcome describes why the run loop ended.
type outcome struct {
	err     error  // non-nil: failure
	kind    string // metric label for failures
	message string // user-visible failure message
}

func (b *Bridge) run(ctx context.Context, cancel context.CancelFunc, sess *session) {
	log := observe.Logger(ctx)
	var (
		ticker   *time.Ticker
		tick     <-chan time.Time
		openedAt time.Time
		res      outcome
	)
	msgs := sess.handle.Messages()

loop:
	for {
		select {
		case <-b.stopCh:
			break loop

		case fn := <-b.tasks:
			fn()

		case <-tick:
			elapsed := time.Duration(b.elapsed.Add(int64(b.tickInterval)))
			b.listener.TimerTick(elapsed)
			if b.maxDuration > 0 && elapsed >= b.maxDuration {
				log.Info("bridge: session duration limit reached", "limit", b.maxDuration)
				break loop
			}

		case msg, ok := <-msgs:
			if !ok {
				if err := sess.handle.Err(); err != nil {
					res = outcome{err: err, kind: "transport", message: ConnectionErrorMessage}
				} else {
					log.Info("bridge: session closed by service")
				}
				break loop
			}
			if msg.SetupComplete && b.Phase() == Connecting {
				if err := sess.pipe.Start(ctx); err != nil {
					res = outcome{err: err, kind: "setup", message: SetupFailedPrefix + err.Error()}
					break loop
				}
				ticker = time.NewTicker(b.tickInterval)
				tick = ticker.C
				openedAt = time.Now()
				b.setPhase(Open)
				log.Info("bridge: session open")
			}
			b.route(ctx, sess, msg)
		}
	}

	close(b.loopDone)

	if res.err != nil {
		log.Warn("bridge: session failed", "err", res.err)
		b.metrics.RecordProviderError(ctx, b.providerName, res.kind)
		b.setPhase(Error)
		b.listener.Failed(res.message)
	}

	if ticker != nil {
		ticker.Stop()
	}
	b.teardown(log, sess)
	cancel()

	b.metrics.ActiveSessions.Add(ctx, -1)
	if !openedAt.IsZero() {
		b.metrics.SessionDuration.Record(ctx, time.Since(openedAt).Seconds())
	}
	b.finish()
}

// route applies one server message. Within a message the interruption is
// applied first so that it only flushes audio scheduled by earlier messages.
func (b *Bridge) route(ctx context.Context, sess *session, msg s2s.ServerMessage) {
	if b.Phase() != Open {
		return
	}
	log := observe.Logger(ctx)

	if msg.Interrupted {
		n := sess.sched.HandleInterruption()
		b.metrics.Interruptions.Add(ctx, 1)
		log.Debug("bridge: playback interrupted", "flushed", n)
	}

	for _, chunk := range msg.Audio {
		it, err := sess.sched.Enqueue(chunk)
		switch {
		case errors.Is(err, playback.ErrDecode):
			b.metrics.DecodeErrors.Add(ctx, 1)
			log.Warn("bridge: dropping undecodable audio chunk", "mime", chunk.MIMEType, "err", err)
		case err != nil:
			log.Warn("bridge: failed to schedule audio", "err", err)
		case it != nil:
			b.metrics.PlaybackChunks.Add(ctx, 1)
		}
	}

	if msg.InputTranscript != "" {
		b.appendTranscript(ctx, transcript.User, msg.InputTranscript)
	}
	if msg.OutputTranscript != "" {
		b.appendTranscript(ctx, transcript.Coach, msg.OutputTranscript)
	}
	if msg.TurnComplete {
		log.Debug("bridge: coach turn complete")
	}
}

func (b *Bridge) appendTranscript(ctx context.Context, speaker transcript.Speaker, text string) {
	e := b.transcript.Append(speaker, text)
	b.metrics.RecordTranscript(ctx, speaker.String())
	b.listener.TranscriptAppended(e)
}

// teardown releases the session resources: microphone, outbound stream,
// scheduled playback, speaker.
func (b *Bridge) teardown(log *slog.Logger, sess *session) {
	if err := sess.pipe.Stop(); err != nil {
		log.Warn("bridge: release microphone", "err", err)
	}
	go audio.Drain(sess.handle.Messages())
	if err := sess.handle.Close(); err != nil {
		log.Warn("bridge: close session", "err", err)
	}
	sess.sched.Stop()
	if err := sess.spk.Close(); err != nil {
		log.Warn("bridge: close speaker", "err", err)
	}
}

// onSpeaking runs on the loop goroutine.
func (b *Bridge) onSpeaking(speaking bool) {
	b.speaking.Store(speaking)
	b.listener.CoachSpeaking(speaking)
}

func (b *Bridge) setPhase(p Phase) {
	b.mu.Lock()
	if b.phase == p {
		b.mu.Unlock()
		return
	}
	b.phase = p
	b.mu.Unlock()
	b.listener.PhaseChanged(p)
}

// finish moves to Closed and releases Done waiters.
func (b *Bridge) finish() {
	b.doneOnce.Do(func() {
		b.setPhase(Closed)
		close(b.done)
	})
}

// Stop ends the session and waits until every resource is released. It is
// idempotent and safe to call from any goroutine except a [Listener]
// callback. Stopping a bridge that was never started closes it.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	b.stopRequested = true
	if !b.started {
		b.started = true
		b.mu.Unlock()
		b.finish()
		return nil
	}
	if b.cancelStart != nil {
		b.cancelStart()
	}
	b.mu.Unlock()

	b.stopOnce.Do(func() { close(b.stopCh) })
	<-b.done
	return nil
}

// ID returns the session ID.
func (b *Bridge) ID() string { return b.id }

// Phase returns the current lifecycle phase.
func (b *Bridge) Phase() Phase {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.phase
}

// Transcript returns a copy of the transcript so far.
func (b *Bridge) Transcript() []transcript.Entry { return b.transcript.Entries() }

// Elapsed returns the time the session has been open, in whole ticks.
func (b *Bridge) Elapsed() time.Duration { return time.Duration(b.elapsed.Load()) }

// CoachSpeaking reports whether coach audio is scheduled or playing.
func (b *Bridge) CoachSpeaking() bool { return b.speaking.Load() }

// Done is closed once the bridge has reached Closed.
func (b *Bridge) Done() <-chan struct{} { return b.done }
