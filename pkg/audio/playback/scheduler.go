// Package playback turns a stream of encoded audio chunks into gapless output.
//
// [Scheduler] decodes chunks and places them back to back on an output clock,
// tracking the set of active items so it can report when the coach starts and
// stops speaking and flush everything on interruption. [Timeline] is a
// software output clock that a device callback can render from.
package playback

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Vaidehi1005/Daily-English-Speaking-Coach/pkg/audio"
)

// DefaultFormat is the decode format for coach audio: 24 kHz mono.
var DefaultFormat = audio.Format{SampleRate: audio.PlaybackRate, Channels: 1}

var (
	// ErrDecode wraps decode failures returned by [Scheduler.Enqueue]. The
	// chunk is dropped; the scheduler state is unchanged.
	ErrDecode = errors.New("playback: decode failed")

	// ErrClosed is returned when scheduling on a stopped scheduler or a
	// closed timeline.
	ErrClosed = errors.New("playback: closed")
)

// Output is the device side of the scheduler. [audio.Speaker] and [Timeline]
// satisfy it. Play must not invoke onEnded synchronously.
type Output interface {
	Now() time.Duration
	Play(frame audio.Frame, at time.Duration, onEnded func()) (audio.Voice, error)
}

// Item is one decoded frame placed on the output clock.
type Item struct {
	ID       uint64
	Start    time.Duration
	Duration time.Duration

	voice audio.Voice
}

// End returns the time at which the item finishes playing.
func (it *Item) End() time.Duration { return it.Start + it.Duration }

// Option configures a [Scheduler].
type Option func(*Scheduler)

// WithFormat sets the sample rate and interleave factor used to decode
// incoming chunks. Defaults to [DefaultFormat].
func WithFormat(f audio.Format) Option {
	return func(s *Scheduler) {
		if f.Valid() {
			s.format = f
		}
	}
}

// WithSpeakingFunc registers fn to be called when the active set changes
// between empty and non-empty. fn is called after the scheduler's lock is
// released and must not block.
func WithSpeakingFunc(fn func(speaking bool)) Option {
	return func(s *Scheduler) {
		s.onSpeaking = fn
	}
}

// WithEndedFunc wraps every completion callback handed to the output. The
// wrapper receives the scheduler's own handler and decides where to run it;
// the session bridge uses it to serialise completions with message routing.
func WithEndedFunc(wrap func(ended func()) func()) Option {
	return func(s *Scheduler) {
		s.wrapEnded = wrap
	}
}

// Scheduler places frames back to back on an output clock.
//
// The start of every item is max(device clock, end of the previously
// scheduled item), so frames scheduled in arrival order never overlap and
// never leave a gap while audio keeps arriving faster than it plays. The
// clock update and the active set mutation happen under a single lock.
//
// All exported methods are safe for concurrent use.
type Scheduler struct {
	out        Output
	format     audio.Format
	onSpeaking func(bool)
	wrapEnded  func(func()) func()

	mu        sync.Mutex
	nextStart time.Duration
	active    map[uint64]*Item
	seq       uint64
	speaking  bool
	stopped   bool
}

// NewScheduler creates a Scheduler that plays on out.
func NewScheduler(out Output, opts ...Option) *Scheduler {
	s := &Scheduler{
		out:    out,
		format: DefaultFormat,
		active: make(map[uint64]*Item),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Format returns the decode format.
func (s *Scheduler) Format() audio.Format { return s.format }

// Enqueue decodes chunk and schedules it. A chunk without payload is a no-op
// and returns (nil, nil). Decode failures are returned wrapped in [ErrDecode]
// and nothing is scheduled.
func (s *Scheduler) Enqueue(chunk audio.EncodedChunk) (*Item, error) {
	if chunk.Empty() {
		return nil, nil
	}
	frame, err := audio.Decode(chunk, s.format.SampleRate, s.format.Channels)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return s.Schedule(frame)
}

// Schedule places frame at max(device clock, OutputClock) and advances the
// OutputClock by the frame's duration. Empty frames are ignored.
func (s *Scheduler) Schedule(frame audio.Frame) (*Item, error) {
	if frame.Len() == 0 {
		return nil, nil
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	start := max(s.out.Now(), s.nextStart)
	s.seq++
	it := &Item{ID: s.seq, Start: start, Duration: frame.Duration()}

	id := it.ID
	ended := func() { s.ended(id) }
	if s.wrapEnded != nil {
		ended = s.wrapEnded(ended)
	}
	v, err := s.out.Play(frame, start, ended)
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("playback: schedule item %d: %w", id, err)
	}
	it.voice = v
	s.nextStart = it.End()
	s.active[id] = it
	became := !s.speaking
	s.speaking = true
	s.mu.Unlock()

	if became && s.onSpeaking != nil {
		s.onSpeaking(true)
	}
	return it, nil
}

// ended removes a naturally finished item. Items already flushed by an
// interruption are ignored.
func (s *Scheduler) ended(id uint64) {
	s.mu.Lock()
	if _, ok := s.active[id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.active, id)
	silent := len(s.active) == 0 && s.speaking
	if silent {
		s.speaking = false
	}
	s.mu.Unlock()

	if silent && s.onSpeaking != nil {
		s.onSpeaking(false)
	}
}

// HandleInterruption force-stops every active item, empties the active set,
// resets the OutputClock to zero and reports "not speaking" immediately. It
// returns the number of items flushed.
func (s *Scheduler) HandleInterruption() int {
	s.mu.Lock()
	n := s.flushLocked()
	was := s.speaking
	s.speaking = false
	s.mu.Unlock()

	if was && s.onSpeaking != nil {
		s.onSpeaking(false)
	}
	return n
}

// Stop drains the scheduler like [Scheduler.HandleInterruption] and rejects
// further scheduling. Stop is idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()
	s.HandleInterruption()
}

func (s *Scheduler) flushLocked() int {
	n := len(s.active)
	for id, it := range s.active {
		if it.voice != nil {
			it.voice.Stop()
		}
		delete(s.active, id)
	}
	s.nextStart = 0
	return n
}

// Active returns the number of items scheduled or playing.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Clock returns the OutputClock: the end time of the last scheduled item, or
// zero after an interruption.
func (s *Scheduler) Clock() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextStart
}

// Speaking reports whether any item is active.
func (s *Scheduler) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}
