// Package mock provides in-memory implementations of the [audio.Devices],
// [audio.Microphone] and [audio.Speaker] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	spk := &mock.Speaker{}
//	mic := &mock.Microphone{}
//	devs := &mock.Devices{Mic: mic, Spk: spk}
//	// ... run the code under test ...
//	mic.Emit(make([]float32, 4096)) // simulate one capture block
//	spk.Advance(500 * time.Millisecond)
//	spk.Finish(0) // first scheduled voice ends naturally
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/Vaidehi1005/Daily-English-Speaking-Coach/pkg/audio"
)

var (
	_ audio.Devices    = (*Devices)(nil)
	_ audio.Microphone = (*Microphone)(nil)
	_ audio.Speaker    = (*Speaker)(nil)
	_ audio.Voice      = (*Voice)(nil)
)

// ─── Microphone ───────────────────────────────────────────────────────────────

// Microphone is a mock implementation of [audio.Microphone]. Blocks are
// injected with [Microphone.Emit].
type Microphone struct {
	mu sync.Mutex

	// StartError is returned by Start.
	StartError error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	// OnClose, if set, runs after the first Close.
	OnClose func()

	onBlock func([]float32)
	closed  bool
}

// Start implements [audio.Microphone].
func (m *Microphone) Start(onBlock func([]float32)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCountStart++
	if m.StartError != nil {
		return m.StartError
	}
	m.onBlock = onBlock
	return nil
}

// Close implements [audio.Microphone]. After Close, Emit is a no-op.
func (m *Microphone) Close() error {
	m.mu.Lock()
	m.CallCountClose++
	first := !m.closed
	m.closed = true
	m.onBlock = nil
	hook := m.OnClose
	m.mu.Unlock()
	if first && hook != nil {
		hook()
	}
	return nil
}

// Emit delivers one block to the registered callback as the device callback
// thread would. It reports whether a callback was registered.
func (m *Microphone) Emit(block []float32) bool {
	m.mu.Lock()
	cb := m.onBlock
	m.mu.Unlock()
	if cb == nil {
		return false
	}
	cb(block)
	return true
}

// Closed reports whether Close has been called.
func (m *Microphone) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// ─── Speaker ──────────────────────────────────────────────────────────────────

// PlayCall records the arguments of a single [Speaker.Play] invocation.
type PlayCall struct {
	Frame audio.Frame
	At    time.Duration
	Voice *Voice
}

// Voice is a mock [audio.Voice] returned by [Speaker.Play].
type Voice struct {
	mu       sync.Mutex
	onEnded  func()
	onStop   func()
	stopped  bool
	finished bool
}

// Stop implements [audio.Voice].
func (v *Voice) Stop() {
	v.mu.Lock()
	first := !v.stopped && !v.finished
	v.stopped = true
	hook := v.onStop
	v.mu.Unlock()
	if first && hook != nil {
		hook()
	}
}

// Stopped reports whether Stop was called.
func (v *Voice) Stopped() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stopped
}

// finish fires onEnded once unless the voice was stopped.
func (v *Voice) finish() bool {
	v.mu.Lock()
	if v.stopped || v.finished {
		v.mu.Unlock()
		return false
	}
	v.finished = true
	cb := v.onEnded
	v.mu.Unlock()
	if cb != nil {
		cb()
	}
	return true
}

// Speaker is a mock implementation of [audio.Speaker] with a manual clock.
type Speaker struct {
	mu sync.Mutex

	// PlayError is returned by Play.
	PlayError error

	// PlayCalls records all Play invocations in order.
	PlayCalls []PlayCall

	// CallCountClose records how many times Close was called.
	CallCountClose int

	// OnVoiceStop, if set, runs when a playing voice is stopped. Voices that
	// already ended or were stopped do not trigger it again.
	OnVoiceStop func()

	// OnClose, if set, runs after the first Close, once every voice has been
	// stopped.
	OnClose func()

	now    time.Duration
	closed bool
}

// Now implements [audio.Speaker].
func (s *Speaker) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Advance moves the device clock forward by d.
func (s *Speaker) Advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now += d
}

// Play implements [audio.Speaker].
func (s *Speaker) Play(frame audio.Frame, at time.Duration, onEnded func()) (audio.Voice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PlayError != nil {
		return nil, s.PlayError
	}
	v := &Voice{onEnded: onEnded, onStop: s.OnVoiceStop}
	s.PlayCalls = append(s.PlayCalls, PlayCall{Frame: frame, At: at, Voice: v})
	return v, nil
}

// Finish simulates natural completion of the i-th played voice. It reports
// whether the completion callback ran (false for stopped or already finished
// voices).
func (s *Speaker) Finish(i int) bool {
	s.mu.Lock()
	if i < 0 || i >= len(s.PlayCalls) {
		s.mu.Unlock()
		return false
	}
	v := s.PlayCalls[i].Voice
	s.mu.Unlock()
	return v.finish()
}

// Calls returns a copy of the recorded Play calls.
func (s *Speaker) Calls() []PlayCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PlayCall, len(s.PlayCalls))
	copy(out, s.PlayCalls)
	return out
}

// Close implements [audio.Speaker]. Every voice is stopped.
func (s *Speaker) Close() error {
	s.mu.Lock()
	s.CallCountClose++
	first := !s.closed
	s.closed = true
	calls := append([]PlayCall(nil), s.PlayCalls...)
	hook := s.OnClose
	s.mu.Unlock()
	if !first {
		return nil
	}
	for _, c := range calls {
		c.Voice.Stop()
	}
	if hook != nil {
		hook()
	}
	return nil
}

// Closed reports whether Close has been called.
func (s *Speaker) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ─── Devices ──────────────────────────────────────────────────────────────────

// OpenMicrophoneCall records the arguments of a single [Devices.OpenMicrophone] invocation.
type OpenMicrophoneCall struct {
	Format    audio.Format
	BlockSize int
}

// Devices is a mock implementation of [audio.Devices] that hands out the
// configured Mic and Spk.
type Devices struct {
	mu sync.Mutex

	// Mic is returned by OpenMicrophone. If nil a fresh Microphone is created.
	Mic *Microphone

	// Spk is returned by OpenSpeaker. If nil a fresh Speaker is created.
	Spk *Speaker

	// MicError is returned by OpenMicrophone.
	MicError error

	// SpeakerError is returned by OpenSpeaker.
	SpeakerError error

	// OpenMicrophoneCalls records all OpenMicrophone invocations.
	OpenMicrophoneCalls []OpenMicrophoneCall

	// OpenSpeakerCalls records the format of all OpenSpeaker invocations.
	OpenSpeakerCalls []audio.Format
}

// OpenMicrophone implements [audio.Devices].
func (d *Devices) OpenMicrophone(_ context.Context, f audio.Format, blockSize int) (audio.Microphone, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenMicrophoneCalls = append(d.OpenMicrophoneCalls, OpenMicrophoneCall{Format: f, BlockSize: blockSize})
	if d.MicError != nil {
		return nil, d.MicError
	}
	if d.Mic == nil {
		d.Mic = &Microphone{}
	}
	return d.Mic, nil
}

// OpenSpeaker implements [audio.Devices].
func (d *Devices) OpenSpeaker(_ context.Context, f audio.Format) (audio.Speaker, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenSpeakerCalls = append(d.OpenSpeakerCalls, f)
	if d.SpeakerError != nil {
		return nil, d.SpeakerError
	}
	if d.Spk == nil {
		d.Spk = &Speaker{}
	}
	return d.Spk, nil
}
