package playback

import (
	"container/heap"
	"fmt"
	"sync"
	"time"

	"github.com/Vaidehi1005/Daily-English-Speaking-Coach/pkg/audio"
)

// voice is one frame placed on a [Timeline].
type voice struct {
	t          *Timeline
	samples    []float32
	frames     int
	startFrame int64
	seq        uint64
	pos        int // next sample frame to render
	onEnded    func()
	stopped    bool // guarded by t.mu
}

// Stop implements [audio.Voice].
func (v *voice) Stop() {
	v.t.mu.Lock()
	v.stopped = true
	v.t.mu.Unlock()
}

// Timeline is a software output clock that mixes scheduled frames into the
// buffers requested by an audio device callback. Its clock advances only by
// the amount of audio actually rendered, so a frame scheduled at time T is
// heard exactly T after the first render.
//
// Render is meant to run on the device callback thread: it never allocates
// per call beyond the voice bookkeeping, never performs I/O and never runs
// user callbacks. Completion callbacks are executed by a notifier goroutine.
//
// All exported methods are safe for concurrent use.
type Timeline struct {
	format audio.Format

	convMu sync.Mutex
	conv   audio.FormatConverter

	mu       sync.Mutex
	rendered int64 // sample frames rendered so far
	seq      uint64
	pending  voiceHeap
	playing  []*voice
	ended    []func()
	closed   bool

	signal chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewTimeline creates a Timeline rendering in format f and starts its
// completion notifier. An invalid format falls back to [DefaultFormat]. Call
// [Timeline.Close] to stop it.
func NewTimeline(f audio.Format) *Timeline {
	if !f.Valid() {
		f = DefaultFormat
	}
	t := &Timeline{
		format: f,
		conv:   audio.FormatConverter{Target: f},
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	heap.Init(&t.pending)
	t.wg.Add(1)
	go t.notifyLoop()
	return t
}

// Format returns the render format.
func (t *Timeline) Format() audio.Format { return t.format }

// Now returns the amount of audio rendered so far.
func (t *Timeline) Now() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.framesToDuration(t.rendered)
}

func (t *Timeline) framesToDuration(n int64) time.Duration {
	return time.Duration(n) * time.Second / time.Duration(t.format.SampleRate)
}

func (t *Timeline) durationToFrames(d time.Duration) int64 {
	return int64((d*time.Duration(t.format.SampleRate) + time.Second/2) / time.Second)
}

// Play schedules frame to start at device time at. Frames in a different
// format are converted to the render format first.
func (t *Timeline) Play(frame audio.Frame, at time.Duration, onEnded func()) (audio.Voice, error) {
	if !frame.Format().Valid() {
		return nil, fmt.Errorf("playback: invalid frame format %s", frame.Format())
	}
	t.convMu.Lock()
	frame = t.conv.Convert(frame)
	t.convMu.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}
	t.seq++
	v := &voice{
		t:          t,
		samples:    frame.Samples,
		frames:     frame.Len(),
		startFrame: t.durationToFrames(at),
		seq:        t.seq,
		onEnded:    onEnded,
	}
	heap.Push(&t.pending, v)
	return v, nil
}

// Render fills out with the next len(out)/channels sample frames of mixed
// audio and advances the clock. Samples are summed and clamped to [-1, 1].
func (t *Timeline) Render(out []float32) {
	clear(out)
	ch := t.format.Channels
	n := len(out) / ch

	t.mu.Lock()
	windowStart := t.rendered
	windowEnd := windowStart + int64(n)
	t.rendered = windowEnd
	if t.closed {
		t.mu.Unlock()
		return
	}

	for t.pending.Len() > 0 && t.pending[0].startFrame < windowEnd {
		v := heap.Pop(&t.pending).(*voice)
		if !v.stopped {
			t.playing = append(t.playing, v)
		}
	}

	var notify bool
	kept := t.playing[:0]
	for _, v := range t.playing {
		if v.stopped {
			continue
		}
		begin := 0
		if v.pos == 0 && v.startFrame > windowStart {
			begin = int(v.startFrame - windowStart)
		}
		for f := begin; f < n && v.pos < v.frames; f++ {
			base := v.pos * ch
			for c := range ch {
				out[f*ch+c] += v.samples[base+c]
			}
			v.pos++
		}
		if v.pos >= v.frames {
			if v.onEnded != nil {
				t.ended = append(t.ended, v.onEnded)
				notify = true
			}
			continue
		}
		kept = append(kept, v)
	}
	clear(t.playing[len(kept):])
	t.playing = kept
	t.mu.Unlock()

	for i, s := range out {
		if s > 1 {
			out[i] = 1
		} else if s < -1 {
			out[i] = -1
		}
	}

	if notify {
		select {
		case t.signal <- struct{}{}:
		default:
		}
	}
}

// Active returns the number of voices that are scheduled or playing.
func (t *Timeline) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, v := range t.pending {
		if !v.stopped {
			n++
		}
	}
	for _, v := range t.playing {
		if !v.stopped {
			n++
		}
	}
	return n
}

// notifyLoop runs completion callbacks outside the render path.
func (t *Timeline) notifyLoop() {
	defer t.wg.Done()
	for {
		select {
		case <-t.done:
			return
		case <-t.signal:
			t.mu.Lock()
			cbs := t.ended
			t.ended = nil
			t.mu.Unlock()
			for _, cb := range cbs {
				cb()
			}
		}
	}
}

// Close stops every voice without running completion callbacks and stops the
// notifier. Close is idempotent.
func (t *Timeline) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	for _, v := range t.pending {
		v.stopped = true
	}
	for _, v := range t.playing {
		v.stopped = true
	}
	t.pending = nil
	t.playing = nil
	t.ended = nil
	t.mu.Unlock()

	close(t.done)
	t.wg.Wait()
	return nil
}
