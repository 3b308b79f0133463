// Package app holds the state of the speaking coach and drives practice
// sessions.
//
// The App follows the learner through four states: choosing a topic (Idle),
// setting up (Preparing), the live session (Speaking) and the review of a
// finished session (Reviewing). It creates one [bridge.Bridge] per session,
// turns the bridge's notifications into state, and publishes every change to
// subscribers such as the terminal presenter and the web event stream.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Vaidehi1005/Daily-English-Speaking-Coach/internal/bridge"
	"github.com/Vaidehi1005/Daily-English-Speaking-Coach/internal/coach"
	"github.com/Vaidehi1005/Daily-English-Speaking-Coach/internal/observe"
	"github.com/Vaidehi1005/Daily-English-Speaking-Coach/internal/transcript"
	"github.com/Vaidehi1005/Daily-English-Speaking-Coach/pkg/audio"
	"github.com/Vaidehi1005/Daily-English-Speaking-Coach/pkg/provider/s2s"
)

var (
	// ErrSessionActive is returned by StartSession while a session is being
	// set up or running.
	ErrSessionActive = errors.New("app: a session is already active")

	// ErrUnknownTopic is returned by StartSession for a topic ID that is not
	// in the catalog.
	ErrUnknownTopic = errors.New("app: unknown topic")
)

// DefaultVoice is the prebuilt voice the coach speaks with.
const DefaultVoice = "Kore"

// Option is a functional option for New.
type Option func(*App)

// WithTopics replaces the built-in topic set.
func WithTopics(topics []coach.Topic) Option {
	return func(a *App) { a.catalog = coach.NewCatalog(topics) }
}

// WithInstruction sets the base coach instruction. The topic line is appended
// per session.
func WithInstruction(s string) Option {
	return func(a *App) { a.instruction = s }
}

// WithVoice sets the coach voice.
func WithVoice(v string) Option {
	return func(a *App) {
		if v != "" {
			a.voice = v
		}
	}
}

// WithMaxDuration ends sessions after d.
func WithMaxDuration(d time.Duration) Option {
	return func(a *App) { a.maxDuration = d }
}

// WithMetrics sets the metrics sink passed to each session.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithProviderName labels session metrics with the provider name.
func WithProviderName(name string) Option {
	return func(a *App) { a.providerName = name }
}

// WithBridgeOptions appends options applied to every session bridge.
func WithBridgeOptions(opts ...bridge.Option) Option {
	return func(a *App) { a.bridgeOpts = append(a.bridgeOpts, opts...) }
}

// App is the application state holder. All exported methods are safe for
// concurrent use.
type App struct {
	provider     s2s.Provider
	devices      audio.Devices
	metrics      *observe.Metrics
	providerName string
	bridgeOpts   []bridge.Option
	hub          *hub

	mu          sync.Mutex
	catalog     *coach.Catalog
	instruction string
	voice       string
	maxDuration time.Duration

	state       State
	topic       *coach.Topic
	current     *bridge.Bridge
	opened      bool
	setupFailed bool
	elapsed     time.Duration
	speaking    bool
	lines       []transcript.Entry
	lastError   string
}

// New creates an App that opens sessions with provider on devices.
func New(provider s2s.Provider, devices audio.Devices, opts ...Option) *App {
	a := &App{
		provider:     provider,
		devices:      devices,
		providerName: "s2s",
		hub:          newHub(),
		catalog:      coach.NewCatalog(coach.DefaultTopics()),
		instruction:  coach.DefaultInstruction,
		voice:        DefaultVoice,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// ─── Sessions ────────────────────────────────────────────────────────────────

// StartSession starts a practice session on the topic with the given ID. It
// returns once the session is connecting; the state moves to Speaking when
// the coach is ready. A setup failure returns the error, records the
// user-visible message and leaves the App in Idle.
func (a *App) StartSession(ctx context.Context, topicID string) error {
	a.mu.Lock()
	if a.state.active() {
		a.mu.Unlock()
		return ErrSessionActive
	}
	topic, ok := a.catalog.Get(topicID)
	if !ok {
		a.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownTopic, topicID)
	}

	l := &sessionListener{a: a}
	opts := []bridge.Option{
		bridge.WithMaxDuration(a.maxDuration),
		bridge.WithMetrics(a.metrics),
		bridge.WithProviderName(a.providerName),
	}
	b := bridge.New(a.provider, a.devices, l, append(opts, a.bridgeOpts...)...)
	l.b = b

	cfg := s2s.SessionConfig{
		Instructions:        coach.BuildInstruction(a.instruction, topic),
		Voice:               a.voice,
		ResponseModalities:  []string{s2s.ModalityAudio},
		InputTranscription:  true,
		OutputTranscription: true,
	}

	a.current = b
	a.topic = &topic
	a.opened = false
	a.setupFailed = false
	a.elapsed = 0
	a.speaking = false
	a.lines = nil
	a.lastError = ""
	a.setStateLocked(Preparing)
	a.mu.Unlock()

	slog.Info("app: starting session", "session_id", b.ID(), "topic", topic.Title)
	if err := b.Start(ctx, cfg); err != nil {
		return fmt.Errorf("app: start session: %w", err)
	}
	return nil
}

// StopSession ends the running session and waits for its resources to be
// released. The App moves to Reviewing. Calling it without an active session
// is a no-op.
func (a *App) StopSession() error {
	a.mu.Lock()
	b := a.current
	if b == nil || !a.state.active() {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	if err := b.Stop(); err != nil {
		return fmt.Errorf("app: stop session: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == b && a.state.active() {
		a.setStateLocked(Reviewing)
	}
	return nil
}

// ResetSession stops any running session and returns to topic selection,
// clearing the topic, transcript, timer and error.
func (a *App) ResetSession() error {
	if err := a.StopSession(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current = nil
	a.topic = nil
	a.elapsed = 0
	a.speaking = false
	a.lines = nil
	a.lastError = ""
	a.state = Idle
	a.hub.publish(Event{Type: EventState, State: Idle.String()})
	return nil
}

// Shutdown stops the running session, if any, and closes every subscription.
// It gives up when ctx expires.
func (a *App) Shutdown(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- a.StopSession() }()
	defer a.hub.close()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		slog.Warn("app: shutdown deadline exceeded while stopping the session")
		return ctx.Err()
	}
}

// ─── Queries ─────────────────────────────────────────────────────────────────

// Snapshot returns the current state.
func (a *App) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := Snapshot{
		State:         a.state,
		Seconds:       int(a.elapsed / time.Second),
		Timer:         FormatTimer(a.elapsed),
		CoachSpeaking: a.speaking,
		Transcript:    append([]transcript.Entry{}, a.lines...),
		Error:         a.lastError,
	}
	if a.topic != nil {
		t := *a.topic
		s.Topic = &t
	}
	if a.current != nil {
		s.SessionID = a.current.ID()
	}
	return s
}

// Subscribe returns a channel of future events and a function that ends the
// subscription. Slow subscribers lose events.
func (a *App) Subscribe() (<-chan Event, func()) {
	return a.hub.subscribe()
}

// Topics returns the topic catalog.
func (a *App) Topics() []coach.Topic {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.catalog.Topics()
}

// FindTopic resolves a topic ID or a free-form title.
func (a *App) FindTopic(query string) (coach.Topic, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.catalog.Find(query)
}

// SetTopics replaces the topic catalog. A running session keeps its topic.
func (a *App) SetTopics(topics []coach.Topic) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.catalog = coach.NewCatalog(topics)
}

// SetCoach updates the instruction and voice used by future sessions. Empty
// values leave the current setting unchanged.
func (a *App) SetCoach(instruction, voice string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if instruction != "" {
		a.instruction = instruction
	}
	if voice != "" {
		a.voice = voice
	}
}

// SetMaxDuration updates the duration limit of future sessions.
func (a *App) SetMaxDuration(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.maxDuration = d
}

// Ready reports whether sessions can be started.
func (a *App) Ready() error {
	var errs []error
	if a.provider == nil {
		errs = append(errs, errors.New("no speech provider configured"))
	}
	if a.devices == nil {
		errs = append(errs, errors.New("no audio devices"))
	}
	return errors.Join(errs...)
}

// ─── State changes ───────────────────────────────────────────────────────────

func (a *App) sessionIDLocked() string {
	if a.current == nil {
		return ""
	}
	return a.current.ID()
}

// setStateLocked must be called with a.mu held.
func (a *App) setStateLocked(s State) {
	if a.state == s {
		return
	}
	a.state = s
	a.hub.publish(Event{Type: EventState, SessionID: a.sessionIDLocked(), State: s.String()})
}

// sessionListener adapts bridge notifications for one session. Notifications
// from a bridge that is no longer current are ignored.
type sessionListener struct {
	a *App
	b *bridge.Bridge
}

var _ bridge.Listener = (*sessionListener)(nil)

// lock acquires the App lock and reports whether the session is current. The
// caller must unlock.
func (l *sessionListener) lock() bool {
	l.a.mu.Lock()
	return l.a.current == l.b
}

func (l *sessionListener) PhaseChanged(p bridge.Phase) {
	a := l.a
	defer a.mu.Unlock()
	if !l.lock() {
		return
	}
	switch p {
	case bridge.Open:
		a.opened = true
		a.setStateLocked(Speaking)
	case bridge.Closed:
		a.speaking = false
		if a.setupFailed {
			a.setStateLocked(Idle)
		} else {
			a.setStateLocked(Reviewing)
		}
	}
}

func (l *sessionListener) TimerTick(elapsed time.Duration) {
	a := l.a
	defer a.mu.Unlock()
	if !l.lock() {
		return
	}
	a.elapsed = elapsed
	a.hub.publish(Event{
		Type:      EventTimer,
		SessionID: a.sessionIDLocked(),
		Seconds:   int(elapsed / time.Second),
		Timer:     FormatTimer(elapsed),
	})
}

func (l *sessionListener) TranscriptAppended(e transcript.Entry) {
	a := l.a
	defer a.mu.Unlock()
	if !l.lock() {
		return
	}
	a.lines = append(a.lines, e)
	a.hub.publish(Event{Type: EventTranscript, SessionID: a.sessionIDLocked(), Entry: &e})
}

func (l *sessionListener) CoachSpeaking(speaking bool) {
	a := l.a
	defer a.mu.Unlock()
	if !l.lock() {
		return
	}
	a.speaking = speaking
	a.hub.publish(Event{Type: EventSpeaking, SessionID: a.sessionIDLocked(), Speaking: &speaking})
}

func (l *sessionListener) Failed(message string) {
	a := l.a
	defer a.mu.Unlock()
	if !l.lock() {
		return
	}
	a.lastError = message
	if !a.opened {
		a.setupFailed = true
	}
	a.hub.publish(Event{Type: EventError, SessionID: a.sessionIDLocked(), Message: message})
}
