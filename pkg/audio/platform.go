// Package audio defines the audio types, the PCM transport codec and the
// device abstractions used by the speaking coach.
//
// The device abstractions are:
//
//   - [Devices] opens a [Microphone] and a [Speaker] for one session.
//   - [Microphone] delivers fixed-size float sample blocks on the platform's
//     audio callback thread.
//   - [Speaker] exposes a device clock and plays frames at absolute times on
//     that clock, returning a stoppable [Voice].
//
// Concrete implementations live in adapter packages (audio/portaudio for real
// hardware, audio/mock for tests). This package lives under pkg/ because the
// interfaces are meant to be implemented outside the module as well.
package audio

import (
	"context"
	"time"
)

// Microphone is a live capture stream.
//
// Implementations must be safe for concurrent use.
type Microphone interface {
	// Start begins capture. onBlock is invoked on the platform's audio
	// callback thread with one block of samples per call; the slice is only
	// valid for the duration of the call, and onBlock must not block.
	Start(onBlock func(block []float32)) error

	// Close stops capture and releases the device. It is safe to call Close
	// more than once; subsequent calls are no-ops and return nil.
	Close() error
}

// Voice is one frame scheduled on a [Speaker].
type Voice interface {
	// Stop silences the voice immediately. The onEnded callback passed to
	// [Speaker.Play] is not invoked for a stopped voice. Stop is idempotent.
	Stop()
}

// Speaker is an output stream with its own clock.
//
// Implementations must be safe for concurrent use.
type Speaker interface {
	// Now returns the current device clock, i.e. the amount of audio that has
	// been rendered since the speaker was opened.
	Now() time.Duration

	// Play schedules frame to start at the absolute device time at. A time in
	// the past starts playback immediately. onEnded (may be nil) is invoked
	// once when the frame finishes naturally; it is never invoked on the
	// audio callback thread.
	Play(frame Frame, at time.Duration, onEnded func()) (Voice, error)

	// Close stops every voice and releases the device. Idempotent.
	Close() error
}

// Devices opens per-session audio devices.
type Devices interface {
	// OpenMicrophone opens a capture stream delivering blocks of blockSize
	// sample frames in format f.
	OpenMicrophone(ctx context.Context, f Format, blockSize int) (Microphone, error)

	// OpenSpeaker opens an output stream in format f.
	OpenSpeaker(ctx context.Context, f Format) (Speaker, error)
}
