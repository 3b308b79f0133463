package bridge_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Vaidehi1005/Daily-English-Speaking-Coach/internal/bridge"
	"github.com/Vaidehi1005/Daily-English-Speaking-Coach/internal/transcript"
	"github.com/Vaidehi1005/Daily-English-Speaking-Coach/pkg/audio"
	"github.com/Vaidehi1005/Daily-English-Speaking-Coach/pkg/audio/mock"
	"github.com/Vaidehi1005/Daily-English-Speaking-Coach/pkg/provider/s2s"
	s2smock "github.com/Vaidehi1005/Daily-English-Speaking-Coach/pkg/provider/s2s/mock"
)

const waitTimeout = 2 * time.Second

// recorder is a Listener that records every notification in order and mirrors
// them onto channels the test can wait on.
type recorder struct {
	mu     sync.Mutex
	events []string

	phases      chan bridge.Phase
	ticks       chan time.Duration
	transcripts chan transcript.Entry
	speaking    chan bool
	failures    chan string

	// calls, when set, also receives a "tick" per TimerTick.
	calls *callLog
}

func newRecorder() *recorder {
	return &recorder{
		phases:      make(chan bridge.Phase, 64),
		ticks:       make(chan time.Duration, 1024),
		transcripts: make(chan transcript.Entry, 256),
		speaking:    make(chan bool, 256),
		failures:    make(chan string, 16),
	}
}

func (r *recorder) record(ev string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) PhaseChanged(p bridge.Phase) {
	r.record("phase:" + p.String())
	r.phases <- p
}

func (r *recorder) TimerTick(d time.Duration) {
	if r.calls != nil {
		r.calls.add("tick")
	}
	select {
	case r.ticks <- d:
	default:
	}
}

func (r *recorder) TranscriptAppended(e transcript.Entry) {
	r.record("transcript:" + e.String())
	r.transcripts <- e
}

func (r *recorder) CoachSpeaking(s bool) {
	if s {
		r.record("speaking:true")
	} else {
		r.record("speaking:false")
	}
	r.speaking <- s
}

func (r *recorder) Failed(msg string) {
	r.record("failed:" + msg)
	r.failures <- msg
}

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) waitPhase(t *testing.T, want bridge.Phase) {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case p := <-r.phases:
			if p == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for phase %v; events: %v", want, r.Events())
		}
	}
}

func (r *recorder) waitTranscript(t *testing.T, text string) transcript.Entry {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case e := <-r.transcripts:
			if e.Text == text {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for transcript %q; events: %v", text, r.Events())
		}
	}
}

func (r *recorder) waitSpeaking(t *testing.T, want bool) {
	t.Helper()
	select {
	case got := <-r.speaking:
		if got != want {
			t.Fatalf("CoachSpeaking(%v), want %v; events: %v", got, want, r.Events())
		}
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for CoachSpeaking(%v); events: %v", want, r.Events())
	}
}

type fixture struct {
	b    *bridge.Bridge
	prov *s2smock.Provider
	sess *s2smock.Session
	mic  *mock.Microphone
	spk  *mock.Speaker
	devs *mock.Devices
	rec  *recorder
	n    int
}

func newFixture(t *testing.T, opts ...bridge.Option) *fixture {
	t.Helper()
	sess := s2smock.NewSession()
	f := &fixture{
		prov: &s2smock.Provider{Session: sess},
		sess: sess,
		mic:  &mock.Microphone{},
		spk:  &mock.Speaker{},
		rec:  newRecorder(),
	}
	f.devs = &mock.Devices{Mic: f.mic, Spk: f.spk}
	f.b = bridge.New(f.prov, f.devs, f.rec, opts...)
	t.Cleanup(func() { _ = f.b.Stop() })
	return f
}

var testConfig = s2s.SessionConfig{
	Instructions:        "coach me",
	Voice:               "Puck",
	InputTranscription:  true,
	OutputTranscription: true,
}

// open starts the bridge and acknowledges setup.
func (f *fixture) open(t *testing.T) {
	t.Helper()
	if err := f.b.Start(context.Background(), testConfig); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.push(t, s2s.ServerMessage{SetupComplete: true})
	f.rec.waitPhase(t, bridge.Open)
}

func (f *fixture) push(t *testing.T, msg s2s.ServerMessage) {
	t.Helper()
	if !f.sess.Push(msg) {
		t.Fatal("Push: session already ended")
	}
}

// sync pushes a marker transcript and waits for it, so every message pushed
// before it has been fully routed.
func (f *fixture) sync(t *testing.T) {
	t.Helper()
	f.n++
	marker := "marker-" + strings.Repeat("x", f.n)
	f.push(t, s2s.ServerMessage{InputTranscript: marker})
	f.rec.waitTranscript(t, marker)
}

// speech returns a chunk of d seconds of 24 kHz silence.
func speech(d time.Duration) audio.EncodedChunk {
	n := int(d.Seconds() * audio.PlaybackRate)
	return audio.Encode(audio.Frame{
		Samples:    make([]float32, n),
		SampleRate: audio.PlaybackRate,
		Channels:   1,
	})
}

func waitDone(t *testing.T, b *bridge.Bridge) {
	t.Helper()
	select {
	case <-b.Done():
	case <-time.After(waitTimeout):
		t.Fatal("bridge did not reach Closed")
	}
}

func assertReleased(t *testing.T, f *fixture) {
	t.Helper()
	if !f.mic.Closed() {
		t.Error("microphone not released")
	}
	if !f.spk.Closed() {
		t.Error("speaker not closed")
	}
	if got := f.sess.Closes(); got != 1 {
		t.Errorf("session Close calls = %d, want 1", got)
	}
	if f.b.Phase() != bridge.Closed {
		t.Errorf("Phase() = %v, want closed", f.b.Phase())
	}
}

// callLog records resource calls from the mocks in the order they happen.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(call string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// traceTeardown hooks the fixture's mocks into a shared callLog. Call it
// before Start.
func (f *fixture) traceTeardown() *callLog {
	l := &callLog{}
	f.rec.calls = l
	f.mic.OnClose = func() { l.add("mic.close") }
	f.sess.OnClose = func() { l.add("session.close") }
	f.spk.OnVoiceStop = func() { l.add("voice.stop") }
	f.spk.OnClose = func() { l.add("speaker.close") }
	return l
}

// assertTeardownOrder checks that the timer stopped ticking before the
// microphone was released, then the session was closed, then the playing
// voice was stopped, then the speaker was closed, each exactly once.
func assertTeardownOrder(t *testing.T, l *callLog) {
	t.Helper()
	calls := l.snapshot()
	first := -1
	for i, c := range calls {
		if c == "mic.close" {
			first = i
			break
		}
	}
	if first < 0 {
		t.Fatalf("microphone never released; calls: %v", calls)
	}
	want := []string{"mic.close", "session.close", "voice.stop", "speaker.close"}
	if got := calls[first:]; strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("teardown calls = %v, want %v", got, want)
	}
	for _, c := range calls[:first] {
		if c != "tick" {
			t.Errorf("%s before the microphone was released; calls: %v", c, calls)
		}
	}
}

// ── Lifecycle ─────────────────────────────────────────────────────────────────

func TestPhase_String(t *testing.T) {
	t.Parallel()

	tests := map[bridge.Phase]string{
		bridge.Idle:       "idle",
		bridge.Connecting: "connecting",
		bridge.Open:       "open",
		bridge.Closed:     "closed",
		bridge.Error:      "error",
		bridge.Phase(42):  "Phase(42)",
	}
	for p, want := range tests {
		if got := p.String(); got != want {
			t.Errorf("Phase(%d).String() = %q, want %q", int(p), got, want)
		}
	}
}

func TestStart_OpensDevicesAndConnects(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if f.b.Phase() != bridge.Idle {
		t.Fatalf("initial phase = %v, want idle", f.b.Phase())
	}
	if f.b.ID() == "" {
		t.Error("empty session ID")
	}
	if err := f.b.Start(context.Background(), testConfig); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.rec.waitPhase(t, bridge.Connecting)

	if got := f.devs.OpenSpeakerCalls; len(got) != 1 || got[0] != (audio.Format{SampleRate: 24000, Channels: 1}) {
		t.Errorf("OpenSpeaker calls = %v", got)
	}
	if got := f.devs.OpenMicrophoneCalls; len(got) != 1 ||
		got[0].Format != (audio.Format{SampleRate: 16000, Channels: 1}) || got[0].BlockSize != 4096 {
		t.Errorf("OpenMicrophone calls = %v", got)
	}
	calls := f.prov.Calls()
	if len(calls) != 1 {
		t.Fatalf("Connect calls = %d, want 1", len(calls))
	}
	if calls[0].Cfg.Instructions != "coach me" || calls[0].Cfg.Voice != "Puck" {
		t.Errorf("Connect cfg = %+v", calls[0].Cfg)
	}
	if f.mic.CallCountStart != 0 {
		t.Error("microphone started before setup was acknowledged")
	}
}

func TestSetupComplete_StartsCapture(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.open(t)

	if f.mic.CallCountStart != 1 {
		t.Fatalf("microphone Start calls = %d, want 1", f.mic.CallCountStart)
	}
	if !f.mic.Emit(make([]float32, 4096)) {
		t.Fatal("capture callback not registered")
	}
	select {
	case <-f.sess.Sent():
	case <-time.After(waitTimeout):
		t.Fatal("no audio sent to the session")
	}
	chunks := f.sess.Chunks()
	if len(chunks) != 1 || chunks[0].MIMEType != "audio/pcm;rate=16000" {
		t.Fatalf("sent chunks = %+v", chunks)
	}
	frame, err := audio.Decode(chunks[0], 16000, 1)
	if err != nil || frame.Len() != 4096 {
		t.Errorf("sent frame len = %d, err = %v; want 4096 samples", frame.Len(), err)
	}
}

func TestStart_Twice(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.open(t)
	if err := f.b.Start(context.Background(), testConfig); !errors.Is(err, bridge.ErrAlreadyStarted) {
		t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
	}
}

func TestStop_BeforeStart(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if err := f.b.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	waitDone(t, f.b)
	if f.b.Phase() != bridge.Closed {
		t.Errorf("Phase() = %v, want closed", f.b.Phase())
	}
	if err := f.b.Start(context.Background(), testConfig); !errors.Is(err, bridge.ErrAlreadyStarted) {
		t.Errorf("Start after Stop = %v, want ErrAlreadyStarted", err)
	}
	if len(f.devs.OpenSpeakerCalls) != 0 {
		t.Error("devices opened by a stopped bridge")
	}
}

func TestStop_Idempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.open(t)
	f.push(t, s2s.ServerMessage{Audio: []audio.EncodedChunk{speech(500 * time.Millisecond)}})
	f.rec.waitSpeaking(t, true)

	for range 3 {
		if err := f.b.Stop(); err != nil {
			t.Fatalf("Stop: %v", err)
		}
	}
	assertReleased(t, f)
	if f.spk.CallCountClose != 1 {
		t.Errorf("speaker Close calls = %d, want 1", f.spk.CallCountClose)
	}
	if f.mic.CallCountClose != 1 {
		t.Errorf("microphone Close calls = %d, want 1", f.mic.CallCountClose)
	}
	if !f.spk.Calls()[0].Voice.Stopped() {
		t.Error("playing voice not stopped on Stop")
	}
	if f.b.CoachSpeaking() {
		t.Error("CoachSpeaking() true after Stop")
	}
	select {
	case msg := <-f.rec.failures:
		t.Errorf("Failed(%q) on a requested stop", msg)
	default:
	}
}

func TestStop_WhileConnecting(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if err := f.b.Start(context.Background(), testConfig); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.b.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	assertReleased(t, f)
	if f.mic.CallCountStart != 0 {
		t.Error("microphone started although setup never completed")
	}
}

// ── Setup failures ────────────────────────────────────────────────────────────

func TestStart_SetupFailureReleasesResources(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		configure func(f *fixture)
		wantMsg   string
		micClosed bool
		spkClosed bool
	}{
		{
			name:    "speaker",
			wantMsg: "no output device",
			configure: func(f *fixture) {
				f.devs.SpeakerError = errors.New("no output device")
			},
		},
		{
			name:      "microphone",
			wantMsg:   "permission denied",
			spkClosed: true,
			configure: func(f *fixture) {
				f.devs.MicError = errors.New("permission denied")
			},
		},
		{
			name:      "connect",
			wantMsg:   "invalid api key",
			micClosed: true,
			spkClosed: true,
			configure: func(f *fixture) {
				f.prov.ConnectErr = errors.New("invalid api key")
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			tc.configure(f)

			err := f.b.Start(context.Background(), testConfig)
			if err == nil {
				t.Fatal("Start: want error, got nil")
			}
			if !strings.Contains(err.Error(), tc.wantMsg) {
				t.Errorf("Start error = %v, want it to mention %q", err, tc.wantMsg)
			}
			waitDone(t, f.b)

			select {
			case msg := <-f.rec.failures:
				if !strings.HasPrefix(msg, bridge.SetupFailedPrefix) || !strings.Contains(msg, tc.wantMsg) {
					t.Errorf("Failed(%q)", msg)
				}
			default:
				t.Error("listener not told about the failure")
			}
			if f.mic.Closed() != tc.micClosed {
				t.Errorf("microphone closed = %v, want %v", f.mic.Closed(), tc.micClosed)
			}
			if f.spk.Closed() != tc.spkClosed {
				t.Errorf("speaker closed = %v, want %v", f.spk.Closed(), tc.spkClosed)
			}
			if f.b.Phase() != bridge.Closed {
				t.Errorf("Phase() = %v, want closed", f.b.Phase())
			}

			want := []string{"phase:connecting", "phase:error"}
			events := f.rec.Events()
			if len(events) < 4 || events[0] != want[0] || events[1] != want[1] || events[3] != "phase:closed" {
				t.Errorf("events = %v", events)
			}
		})
	}
}

func TestSetup_MicrophoneStartFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.mic.StartError = errors.New("device busy")
	if err := f.b.Start(context.Background(), testConfig); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.push(t, s2s.ServerMessage{SetupComplete: true})
	waitDone(t, f.b)

	select {
	case msg := <-f.rec.failures:
		if !strings.HasPrefix(msg, bridge.SetupFailedPrefix) {
			t.Errorf("Failed(%q)", msg)
		}
	default:
		t.Error("listener not told about the failure")
	}
	assertReleased(t, f)
}

// ── Playback ──────────────────────────────────────────────────────────────────

func TestPlayback_GaplessScheduling(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.open(t)

	f.push(t, s2s.ServerMessage{Audio: []audio.EncodedChunk{
		speech(500 * time.Millisecond),
		speech(250 * time.Millisecond),
	}})
	f.push(t, s2s.ServerMessage{Audio: []audio.EncodedChunk{speech(100 * time.Millisecond)}})
	f.sync(t)

	calls := f.spk.Calls()
	if len(calls) != 3 {
		t.Fatalf("Play calls = %d, want 3", len(calls))
	}
	wantAt := []time.Duration{0, 500 * time.Millisecond, 750 * time.Millisecond}
	for i, c := range calls {
		if c.At != wantAt[i] {
			t.Errorf("item %d starts at %v, want %v", i, c.At, wantAt[i])
		}
	}
	if !f.b.CoachSpeaking() {
		t.Error("CoachSpeaking() = false while audio is scheduled")
	}
}

func TestPlayback_SpeakingEndsWhenLastItemFinishes(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.open(t)

	f.push(t, s2s.ServerMessage{Audio: []audio.EncodedChunk{
		speech(100 * time.Millisecond),
		speech(100 * time.Millisecond),
	}})
	f.rec.waitSpeaking(t, true)
	f.sync(t)

	if !f.spk.Finish(0) {
		t.Fatal("Finish(0) did not run a callback")
	}
	f.sync(t)
	if !f.b.CoachSpeaking() {
		t.Error("speaking ended while an item is still active")
	}

	f.spk.Finish(1)
	f.rec.waitSpeaking(t, false)
	if f.b.CoachSpeaking() {
		t.Error("CoachSpeaking() = true after every item finished")
	}
}

// TestTypicalDayInterruption walks through a short practice session on the
// "Your Typical Day" topic: the coach starts a half-second greeting, the
// learner starts talking 200 ms in, and the next coach reply begins at the
// current device time.
func TestTypicalDayInterruption(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.open(t)

	f.push(t, s2s.ServerMessage{
		Audio:            []audio.EncodedChunk{speech(500 * time.Millisecond)},
		OutputTranscript: "Welcome! Tell me about your typical day.",
	})
	f.rec.waitSpeaking(t, true)
	f.rec.waitTranscript(t, "Welcome! Tell me about your typical day.")

	f.spk.Advance(200 * time.Millisecond)
	f.push(t, s2s.ServerMessage{Interrupted: true, InputTranscript: "I wake up at seven."})
	f.rec.waitSpeaking(t, false)
	f.rec.waitTranscript(t, "I wake up at seven.")

	greeting := f.spk.Calls()[0].Voice
	if !greeting.Stopped() {
		t.Error("greeting still playing after the interruption")
	}
	if f.b.CoachSpeaking() {
		t.Error("CoachSpeaking() = true after the interruption")
	}
	if f.spk.Finish(0) {
		t.Error("interrupted item completed naturally")
	}

	f.push(t, s2s.ServerMessage{Audio: []audio.EncodedChunk{speech(300 * time.Millisecond)}})
	f.rec.waitSpeaking(t, true)
	calls := f.spk.Calls()
	if len(calls) != 2 {
		t.Fatalf("Play calls = %d, want 2", len(calls))
	}
	if calls[1].At != 200*time.Millisecond {
		t.Errorf("reply starts at %v, want 200ms", calls[1].At)
	}

	got := f.b.Transcript()
	if len(got) != 2 || got[0].String() != "Coach: Welcome! Tell me about your typical day." || got[1].String() != "User: I wake up at seven." {
		t.Errorf("Transcript() = %v", got)
	}
}

func TestInterruptionWithAudio_FlushesOnlyEarlierItems(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.open(t)

	f.push(t, s2s.ServerMessage{Audio: []audio.EncodedChunk{speech(500 * time.Millisecond)}})
	f.sync(t)
	f.push(t, s2s.ServerMessage{Interrupted: true, Audio: []audio.EncodedChunk{speech(100 * time.Millisecond)}})
	f.sync(t)

	calls := f.spk.Calls()
	if len(calls) != 2 {
		t.Fatalf("Play calls = %d, want 2", len(calls))
	}
	if !calls[0].Voice.Stopped() {
		t.Error("earlier item not flushed")
	}
	if calls[1].Voice.Stopped() {
		t.Error("audio of the interrupting message was flushed")
	}
	if calls[1].At != 0 {
		t.Errorf("new item starts at %v, want 0", calls[1].At)
	}
	if !f.b.CoachSpeaking() {
		t.Error("CoachSpeaking() = false with the new item scheduled")
	}
}

func TestDecodeError_DropsChunk(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.open(t)

	f.push(t, s2s.ServerMessage{Audio: []audio.EncodedChunk{
		{MIMEType: "audio/pcm;rate=24000", Data: "not base64!"},
		speech(100 * time.Millisecond),
	}})
	f.sync(t)

	calls := f.spk.Calls()
	if len(calls) != 1 {
		t.Fatalf("Play calls = %d, want 1", len(calls))
	}
	if f.b.Phase() != bridge.Open {
		t.Errorf("Phase() = %v, want open", f.b.Phase())
	}
	select {
	case msg := <-f.rec.failures:
		t.Errorf("decode error surfaced to the listener: %q", msg)
	default:
	}
}

func TestMessagesBeforeSetupAreIgnored(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if err := f.b.Start(context.Background(), testConfig); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.push(t, s2s.ServerMessage{Audio: []audio.EncodedChunk{speech(100 * time.Millisecond)}, OutputTranscript: "early"})
	f.push(t, s2s.ServerMessage{SetupComplete: true})
	f.rec.waitPhase(t, bridge.Open)
	f.sync(t)

	if n := len(f.spk.Calls()); n != 0 {
		t.Errorf("Play calls = %d, want 0", n)
	}
	for _, e := range f.b.Transcript() {
		if e.Text == "early" {
			t.Error("transcript from before setup was recorded")
		}
	}
}

// ── Transcript ────────────────────────────────────────────────────────────────

func TestTranscript_Ordering(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.open(t)

	f.push(t, s2s.ServerMessage{InputTranscript: "I usually", OutputTranscript: "Go on."})
	f.push(t, s2s.ServerMessage{OutputTranscript: "Nice."})
	f.push(t, s2s.ServerMessage{InputTranscript: "drink coffee"})
	f.rec.waitTranscript(t, "drink coffee")

	want := []string{"User: I usually", "Coach: Go on.", "Coach: Nice.", "User: drink coffee"}
	got := f.b.Transcript()
	if len(got) != len(want) {
		t.Fatalf("Transcript() = %v", got)
	}
	for i := range want {
		if got[i].String() != want[i] {
			t.Errorf("entry %d = %q, want %q", i, got[i].String(), want[i])
		}
	}
}

// ── Session end ───────────────────────────────────────────────────────────────

func TestServerClose_EndsNormally(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.open(t)
	f.push(t, s2s.ServerMessage{Audio: []audio.EncodedChunk{speech(500 * time.Millisecond)}})
	f.rec.waitSpeaking(t, true)

	f.sess.Finish(nil)
	waitDone(t, f.b)

	assertReleased(t, f)
	select {
	case msg := <-f.rec.failures:
		t.Errorf("Failed(%q) on a normal close", msg)
	default:
	}
	for _, ev := range f.rec.Events() {
		if ev == "phase:error" {
			t.Error("normal close passed through the error phase")
		}
	}
	if !f.spk.Calls()[0].Voice.Stopped() {
		t.Error("scheduled playback not drained")
	}
}

func TestTransportError_RecoversToClosed(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.open(t)

	f.sess.Finish(errors.New("connection reset by peer"))
	waitDone(t, f.b)

	select {
	case msg := <-f.rec.failures:
		if msg != bridge.ConnectionErrorMessage {
			t.Errorf("Failed(%q), want %q", msg, bridge.ConnectionErrorMessage)
		}
	default:
		t.Fatal("listener not told about the failure")
	}
	assertReleased(t, f)
	if f.mic.Emit(make([]float32, 16)) {
		t.Error("capture still running after the transport error")
	}

	events := f.rec.Events()
	var phases []string
	for _, ev := range events {
		if strings.HasPrefix(ev, "phase:") {
			phases = append(phases, ev)
		}
	}
	want := []string{"phase:connecting", "phase:open", "phase:error", "phase:closed"}
	if strings.Join(phases, ",") != strings.Join(want, ",") {
		t.Errorf("phases = %v, want %v", phases, want)
	}
}

// ── Timer ─────────────────────────────────────────────────────────────────────

func TestTimer_Ticks(t *testing.T) {
	t.Parallel()

	f := newFixture(t, bridge.WithTickInterval(5*time.Millisecond))
	f.open(t)

	var last time.Duration
	for i := range 3 {
		select {
		case d := <-f.rec.ticks:
			if d <= last {
				t.Errorf("tick %d = %v, not after %v", i, d, last)
			}
			last = d
		case <-time.After(waitTimeout):
			t.Fatal("timer did not tick")
		}
	}
	if last != 15*time.Millisecond {
		t.Errorf("third tick = %v, want 15ms", last)
	}
	if f.b.Elapsed() < 15*time.Millisecond {
		t.Errorf("Elapsed() = %v, want >= 15ms", f.b.Elapsed())
	}
}

func TestTimer_NotRunningBeforeOpen(t *testing.T) {
	t.Parallel()

	f := newFixture(t, bridge.WithTickInterval(time.Millisecond))
	if err := f.b.Start(context.Background(), testConfig); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if f.b.Elapsed() != 0 {
		t.Errorf("Elapsed() = %v before setup completed", f.b.Elapsed())
	}
}

func TestMaxDuration_EndsSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t,
		bridge.WithTickInterval(5*time.Millisecond),
		bridge.WithMaxDuration(20*time.Millisecond),
	)
	f.open(t)
	waitDone(t, f.b)

	assertReleased(t, f)
	if f.b.Elapsed() != 20*time.Millisecond {
		t.Errorf("Elapsed() = %v, want 20ms", f.b.Elapsed())
	}
	select {
	case msg := <-f.rec.failures:
		t.Errorf("Failed(%q) at the duration limit", msg)
	default:
	}
}

func TestMaxDuration_ProviderLimit(t *testing.T) {
	t.Parallel()

	sess := s2smock.NewSession()
	prov := &s2smock.Provider{
		Session:              sess,
		ProviderCapabilities: s2s.Capabilities{MaxSessionDuration: 10 * time.Millisecond},
	}
	rec := newRecorder()
	b := bridge.New(prov, &mock.Devices{}, rec,
		bridge.WithTickInterval(5*time.Millisecond),
		bridge.WithMaxDuration(time.Hour),
	)
	t.Cleanup(func() { _ = b.Stop() })

	if err := b.Start(context.Background(), testConfig); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sess.Push(s2s.ServerMessage{SetupComplete: true})
	waitDone(t, b)
	if b.Elapsed() != 10*time.Millisecond {
		t.Errorf("Elapsed() = %v, want 10ms", b.Elapsed())
	}
}

func TestNew_NilListener(t *testing.T) {
	t.Parallel()

	b := bridge.New(&s2smock.Provider{}, &mock.Devices{}, nil)
	if err := b.Start(context.Background(), testConfig); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := b.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

// ── Teardown order ────────────────────────────────────────────────────────────

func TestTeardownOrder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opts []bridge.Option
		end  func(t *testing.T, f *fixture)
	}{
		{
			name: "stop",
			opts: []bridge.Option{bridge.WithTickInterval(time.Millisecond)},
			end: func(t *testing.T, f *fixture) {
				if err := f.b.Stop(); err != nil {
					t.Fatalf("Stop: %v", err)
				}
			},
		},
		{
			name: "transport error",
			opts: []bridge.Option{bridge.WithTickInterval(time.Millisecond)},
			end: func(t *testing.T, f *fixture) {
				f.sess.Finish(errors.New("connection reset by peer"))
				waitDone(t, f.b)
			},
		},
		{
			name: "duration limit",
			opts: []bridge.Option{
				bridge.WithTickInterval(5 * time.Millisecond),
				bridge.WithMaxDuration(200 * time.Millisecond),
			},
			end: func(t *testing.T, f *fixture) { waitDone(t, f.b) },
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, tc.opts...)
			calls := f.traceTeardown()
			f.open(t)
			f.push(t, s2s.ServerMessage{Audio: []audio.EncodedChunk{speech(time.Second)}})
			f.rec.waitSpeaking(t, true)

			tc.end(t, f)

			assertReleased(t, f)
			assertTeardownOrder(t, calls)
		})
	}
}
