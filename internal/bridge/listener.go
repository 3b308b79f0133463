package bridge

import (
	"fmt"
	"time"

	"github.com/Vaidehi1005/Daily-English-Speaking-Coach/internal/transcript"
)

// Phase is the lifecycle state of a [Bridge].
type Phase int

const (
	// Idle: created, Start not yet called.
	Idle Phase = iota
	// Connecting: devices opened, waiting for the service to acknowledge setup.
	Connecting
	// Open: setup acknowledged; audio flows both ways.
	Open
	// Closed: every resource released. Terminal.
	Closed
	// Error: a failure was reported; teardown follows and ends in Closed.
	Error
)

// String implements fmt.Stringer.
func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closed:
		return "closed"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// User-visible failure messages.
const (
	// SetupFailedPrefix precedes the cause of a failed session start.
	SetupFailedPrefix = "Failed to start the coach: "

	// ConnectionErrorMessage is reported when an open session fails.
	ConnectionErrorMessage = "There was an issue with the connection. Please try again."
)

// Listener receives the bridge's notifications. Calls are made one at a time
// in the order the events happen and must return quickly.
type Listener interface {
	PhaseChanged(p Phase)
	TimerTick(elapsed time.Duration)
	TranscriptAppended(e transcript.Entry)
	CoachSpeaking(speaking bool)
	Failed(message string)
}

// NopListener ignores every notification. Embed it to implement only the
// callbacks you need.
type NopListener struct{}

var _ Listener = NopListener{}

func (NopListener) PhaseChanged(Phase)                  {}
func (NopListener) TimerTick(time.Duration)             {}
func (NopListener) TranscriptAppended(transcript.Entry) {}
func (NopListener) CoachSpeaking(bool)                  {}
func (NopListener) Failed(string)                       {}
