package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/Vaidehi1005/Daily-English-Speaking-Coach/internal/coach"
	"github.com/Vaidehi1005/Daily-English-Speaking-Coach/internal/transcript"
)

// State is the screen the learner is on.
type State int

const (
	// Idle: choosing a topic.
	Idle State = iota
	// Preparing: devices and the coach session are being set up.
	Preparing
	// Speaking: the session is live.
	Speaking
	// Reviewing: the session ended; the transcript and duration are final.
	Reviewing
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Preparing:
		return "PREPARING"
	case Speaking:
		return "SPEAKING"
	case Reviewing:
		return "REVIEWING"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(b []byte) error {
	switch strings.ToUpper(string(b)) {
	case "IDLE":
		*s = Idle
	case "PREPARING":
		*s = Preparing
	case "SPEAKING":
		*s = Speaking
	case "REVIEWING":
		*s = Reviewing
	default:
		return fmt.Errorf("app: unknown state %q", b)
	}
	return nil
}

// active reports whether a session is being set up or running.
func (s State) active() bool { return s == Preparing || s == Speaking }

// FormatTimer renders d as m:ss.
func FormatTimer(d time.Duration) string {
	secs := int(d / time.Second)
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}

// Snapshot is a point-in-time view of the application.
type Snapshot struct {
	State         State              `json:"state"`
	Topic         *coach.Topic       `json:"topic,omitempty"`
	SessionID     string             `json:"session_id,omitempty"`
	Seconds       int                `json:"seconds"`
	Timer         string             `json:"timer"`
	CoachSpeaking bool               `json:"coach_speaking"`
	Transcript    []transcript.Entry `json:"transcript"`
	Error         string             `json:"error,omitempty"`
}

// EventType names the kind of an [Event].
type EventType string

const (
	EventState      EventType = "state"
	EventTimer      EventType = "timer"
	EventTranscript EventType = "transcript"
	EventSpeaking   EventType = "speaking"
	EventError      EventType = "error"
)

// Event is one change published to subscribers. Only the fields relevant to
// Type are set.
type Event struct {
	Type      EventType         `json:"type"`
	SessionID string            `json:"session_id,omitempty"`
	State     string            `json:"state,omitempty"`
	Seconds   int               `json:"seconds,omitempty"`
	Timer     string            `json:"timer,omitempty"`
	Entry     *transcript.Entry `json:"entry,omitempty"`
	Speaking  *bool             `json:"speaking,omitempty"`
	Message   string            `json:"message,omitempty"`
}
