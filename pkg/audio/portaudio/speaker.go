package portaudio

import (
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/Vaidehi1005/Daily-English-Speaking-Coach/pkg/audio"
	"github.com/Vaidehi1005/Daily-English-Speaking-Coach/pkg/audio/playback"
)

var _ audio.Speaker = (*Speaker)(nil)

// Speaker is a PortAudio output stream. Its callback renders a
// [playback.Timeline], which also provides the device clock.
type Speaker struct {
	stream   *portaudio.Stream
	timeline *playback.Timeline

	closeOnce sync.Once
	closeErr  error
}

func openSpeaker(dev *portaudio.DeviceInfo, f audio.Format) (*Speaker, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("portaudio: invalid output format %s", f)
	}
	s := &Speaker{timeline: playback.NewTimeline(f)}

	p := portaudio.HighLatencyParameters(nil, dev)
	p.Output.Channels = f.Channels
	p.SampleRate = float64(f.SampleRate)

	stream, err := portaudio.OpenStream(p, s.timeline.Render)
	if err != nil {
		_ = s.timeline.Close()
		return nil, fmt.Errorf("portaudio: open output %q at %s: %w", dev.Name, f, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = s.timeline.Close()
		return nil, fmt.Errorf("portaudio: start output: %w", err)
	}
	s.stream = stream
	return s, nil
}

// Now implements [audio.Speaker].
func (s *Speaker) Now() time.Duration { return s.timeline.Now() }

// Play implements [audio.Speaker].
func (s *Speaker) Play(frame audio.Frame, at time.Duration, onEnded func()) (audio.Voice, error) {
	return s.timeline.Play(frame, at, onEnded)
}

// Close stops the stream and every scheduled voice. Idempotent.
func (s *Speaker) Close() error {
	s.closeOnce.Do(func() {
		// Abort discards audio still buffered in the device.
		if err := s.stream.Abort(); err != nil {
			s.closeErr = fmt.Errorf("portaudio: abort output: %w", err)
		}
		if err := s.stream.Close(); err != nil && s.closeErr == nil {
			s.closeErr = fmt.Errorf("portaudio: close output: %w", err)
		}
		_ = s.timeline.Close()
	})
	return s.closeErr
}
