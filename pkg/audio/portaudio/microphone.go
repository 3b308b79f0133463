package portaudio

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"

	"github.com/Vaidehi1005/Daily-English-Speaking-Coach/pkg/audio"
)

var _ audio.Microphone = (*Microphone)(nil)

// Microphone is a PortAudio capture stream delivering fixed-size blocks from
// the PortAudio callback thread.
type Microphone struct {
	stream  *portaudio.Stream
	onBlock atomic.Pointer[func([]float32)]

	mu      sync.Mutex
	started bool
	closed  bool
}

func openMicrophone(dev *portaudio.DeviceInfo, f audio.Format, blockSize int) (*Microphone, error) {
	if !f.Valid() || blockSize <= 0 {
		return nil, fmt.Errorf("portaudio: invalid capture format %s/%d", f, blockSize)
	}
	m := &Microphone{}

	p := portaudio.LowLatencyParameters(dev, nil)
	p.Input.Channels = f.Channels
	p.SampleRate = float64(f.SampleRate)
	p.FramesPerBuffer = blockSize

	stream, err := portaudio.OpenStream(p, m.process)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open input %q at %s: %w", dev.Name, f, err)
	}
	m.stream = stream
	return m, nil
}

// process runs on the PortAudio callback thread.
func (m *Microphone) process(in []float32) {
	if fn := m.onBlock.Load(); fn != nil {
		(*fn)(in)
	}
}

// Start implements [audio.Microphone].
func (m *Microphone) Start(onBlock func([]float32)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("portaudio: microphone closed")
	}
	if m.started {
		return fmt.Errorf("portaudio: microphone already started")
	}
	m.onBlock.Store(&onBlock)
	if err := m.stream.Start(); err != nil {
		m.onBlock.Store(nil)
		return fmt.Errorf("portaudio: start input: %w", err)
	}
	m.started = true
	return nil
}

// Close implements [audio.Microphone].
func (m *Microphone) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.onBlock.Store(nil)

	var stopErr error
	if m.started {
		stopErr = m.stream.Stop()
	}
	if err := m.stream.Close(); err != nil {
		return fmt.Errorf("portaudio: close input: %w", err)
	}
	if stopErr != nil {
		return fmt.Errorf("portaudio: stop input: %w", stopErr)
	}
	return nil
}
