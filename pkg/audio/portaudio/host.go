// Package portaudio implements [audio.Devices] on top of PortAudio.
//
// A [Host] owns the PortAudio library for the lifetime of the process. Each
// session opens a callback-driven capture stream ([Microphone]) and an output
// stream ([Speaker]) whose callback renders a [playback.Timeline], so the
// speaker clock is exactly the amount of audio handed to the device.
//
// Building this package requires cgo and the PortAudio development headers.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/Vaidehi1005/Daily-English-Speaking-Coach/pkg/audio"
)

// ErrNoDevice is returned when no device matches the requested name or the
// host has no default device of the required direction.
var ErrNoDevice = errors.New("portaudio: no matching device")

var _ audio.Devices = (*Host)(nil)

// Option configures a Host.
type Option func(*Host)

// WithInputDevice selects the capture device whose name contains name
// (case-insensitive). Empty selects the host default.
func WithInputDevice(name string) Option {
	return func(h *Host) { h.inputName = name }
}

// WithOutputDevice selects the output device whose name contains name.
func WithOutputDevice(name string) Option {
	return func(h *Host) { h.outputName = name }
}

// Device describes one PortAudio device.
type Device struct {
	Name              string
	HostAPI           string
	MaxInputChannels  int
	MaxOutputChannels int
	DefaultSampleRate float64
}

// Host initialises PortAudio and opens streams on it. Close terminates the
// library; streams must be closed first.
type Host struct {
	inputName  string
	outputName string

	mu     sync.Mutex
	closed bool
}

// Open initialises PortAudio.
func Open(opts ...Option) (*Host, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	h := &Host{}
	for _, o := range opts {
		o(h)
	}
	return h, nil
}

// Close terminates PortAudio. Idempotent.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("portaudio: terminate: %w", err)
	}
	return nil
}

// Devices lists every device the host reports.
func (h *Host) Devices() ([]Device, error) {
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	out := make([]Device, 0, len(infos))
	for _, d := range infos {
		dev := Device{
			Name:              d.Name,
			MaxInputChannels:  d.MaxInputChannels,
			MaxOutputChannels: d.MaxOutputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
		}
		if d.HostApi != nil {
			dev.HostAPI = d.HostApi.Name
		}
		out = append(out, dev)
	}
	return out, nil
}

// Check reports whether both the capture and the output device resolve. It
// serves as a readiness check.
func (h *Host) Check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, inErr := h.inputDevice()
	_, outErr := h.outputDevice()
	return errors.Join(inErr, outErr)
}

// OpenMicrophone implements [audio.Devices].
func (h *Host) OpenMicrophone(ctx context.Context, f audio.Format, blockSize int) (audio.Microphone, error) {
	if err := h.usable(ctx); err != nil {
		return nil, err
	}
	dev, err := h.inputDevice()
	if err != nil {
		return nil, err
	}
	return openMicrophone(dev, f, blockSize)
}

// OpenSpeaker implements [audio.Devices].
func (h *Host) OpenSpeaker(ctx context.Context, f audio.Format) (audio.Speaker, error) {
	if err := h.usable(ctx); err != nil {
		return nil, err
	}
	dev, err := h.outputDevice()
	if err != nil {
		return nil, err
	}
	return openSpeaker(dev, f)
}

func (h *Host) usable(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errors.New("portaudio: host closed")
	}
	return nil
}

func (h *Host) inputDevice() (*portaudio.DeviceInfo, error) {
	if h.inputName == "" {
		d, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("%w: default input: %v", ErrNoDevice, err)
		}
		return d, nil
	}
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	return pickDevice(infos, h.inputName, true)
}

func (h *Host) outputDevice() (*portaudio.DeviceInfo, error) {
	if h.outputName == "" {
		d, err := portaudio.DefaultOutputDevice()
		if err != nil {
			return nil, fmt.Errorf("%w: default output: %v", ErrNoDevice, err)
		}
		return d, nil
	}
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	return pickDevice(infos, h.outputName, false)
}

// pickDevice returns the first device whose name contains name
// (case-insensitive) and that has channels in the wanted direction. An exact
// name match wins over a partial one.
func pickDevice(infos []*portaudio.DeviceInfo, name string, input bool) (*portaudio.DeviceInfo, error) {
	want := strings.ToLower(name)
	var partial *portaudio.DeviceInfo
	for _, d := range infos {
		if input && d.MaxInputChannels == 0 || !input && d.MaxOutputChannels == 0 {
			continue
		}
		got := strings.ToLower(d.Name)
		if got == want {
			return d, nil
		}
		if partial == nil && strings.Contains(got, want) {
			partial = d
		}
	}
	if partial == nil {
		dir := "output"
		if input {
			dir = "input"
		}
		return nil, fmt.Errorf("%w: %s %q", ErrNoDevice, dir, name)
	}
	return partial, nil
}
