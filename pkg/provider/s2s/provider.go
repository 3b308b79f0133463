// Package s2s defines the Provider interface for Speech-to-Speech (S2S) backends.
//
// An S2S provider wraps a real-time voice AI service that accepts raw audio input
// and returns synthesised audio output in a single, stateful session. Examples
// include Gemini Live and the OpenAI Realtime API.
//
// The central abstraction is SessionHandle: a bidirectional stream that accepts
// encoded capture audio and emits [ServerMessage] values carrying audio,
// transcripts and turn signals in arrival order.
//
// All implementations must be safe for concurrent use.
package s2s

import (
	"context"
	"errors"
	"time"

	"github.com/Vaidehi1005/Daily-English-Speaking-Coach/pkg/audio"
)

// ErrSessionClosed is returned by SendAudio after Close.
var ErrSessionClosed = errors.New("s2s: session closed")

// ModalityAudio is the response modality for spoken output.
const ModalityAudio = "AUDIO"

// SessionConfig is the initial configuration for a new S2S session.
type SessionConfig struct {
	// Instructions is the system-level prompt: the coach persona plus the
	// topic of the day.
	Instructions string

	// Voice is the provider-specific prebuilt voice name (e.g. "Kore").
	Voice string

	// ResponseModalities lists the output modalities requested from the model.
	// Defaults to [ModalityAudio] when empty.
	ResponseModalities []string

	// InputTranscription enables transcription of the user's speech.
	InputTranscription bool

	// OutputTranscription enables transcription of the model's speech.
	OutputTranscription bool
}

// Modalities returns ResponseModalities, or [ModalityAudio] if none are set.
func (c SessionConfig) Modalities() []string {
	if len(c.ResponseModalities) == 0 {
		return []string{ModalityAudio}
	}
	return c.ResponseModalities
}

// ServerMessage is one inbound message from the engine. Any combination of
// fields may be set.
type ServerMessage struct {
	// SetupComplete acknowledges the session configuration. The session is
	// open for audio once it has been received.
	SetupComplete bool

	// Audio holds the audio payloads of the message in order.
	Audio []audio.EncodedChunk

	// InputTranscript is recognised user speech.
	InputTranscript string

	// OutputTranscript is the text of the model's speech.
	OutputTranscript string

	// Interrupted signals that the user began speaking over the model; all
	// pending model audio must be discarded.
	Interrupted bool

	// TurnComplete marks the end of a model turn.
	TurnComplete bool
}

// Empty reports whether the message carries nothing the bridge acts on.
func (m ServerMessage) Empty() bool {
	return !m.SetupComplete && len(m.Audio) == 0 && m.InputTranscript == "" &&
		m.OutputTranscript == "" && !m.Interrupted && !m.TurnComplete
}

// Capabilities describes static properties of the S2S provider.
type Capabilities struct {
	// MaxSessionDuration is the provider-imposed upper bound on session
	// lifetime. Zero means no documented limit.
	MaxSessionDuration time.Duration

	// InputSampleRate is the sample rate the provider expects for capture
	// audio after any provider-side conversion.
	InputSampleRate int

	// OutputSampleRate is the sample rate of audio in [ServerMessage.Audio].
	OutputSampleRate int

	// Voices lists the voice names available for this provider.
	Voices []string
}

// SessionHandle represents an open S2S session. It is an interface so that test
// code can supply mock implementations without a live provider connection.
//
// All methods must be safe for concurrent use. Callers must call Close when
// the session is no longer needed.
type SessionHandle interface {
	// SendAudio delivers one encoded capture chunk. Chunks are sent in call
	// order. Returns [ErrSessionClosed] after Close, or the transport error.
	SendAudio(chunk audio.EncodedChunk) error

	// Messages returns the inbound message channel. It is closed when the
	// session ends; call Err afterwards to distinguish a clean close from a
	// transport failure. Consumers must drain it promptly.
	Messages() <-chan ServerMessage

	// Err returns the error that ended the session, or nil if it ended
	// cleanly (either side closed it normally).
	Err() error

	// Close rejects further sends, waits for in-flight sends to finish, sends
	// the close handshake and stops the receive loop. Calling Close more than
	// once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any S2S backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Connect dials the engine and sends the session configuration. It
	// returns once the transport is open; the [ServerMessage.SetupComplete]
	// acknowledgement arrives on Messages.
	//
	// Returns an error if the session cannot be established (e.g., authentication
	// failure, connection refused, or ctx already cancelled). The caller owns the
	// SessionHandle and is responsible for calling Close.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)

	// Capabilities returns static metadata about this provider's underlying model.
	Capabilities() Capabilities
}
