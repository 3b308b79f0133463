// Package transcript holds the live transcription of a practice session.
//
// The speech service streams transcription for both sides of the
// conversation. Each fragment becomes one [Entry], tagged with who said it,
// and is appended to a [Log] in arrival order. The log is append-only for the
// lifetime of a session; [Log.Reset] starts a new one.
package transcript

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Speaker identifies the side of the conversation an entry belongs to.
type Speaker int

const (
	// User is the learner speaking into the microphone.
	User Speaker = iota
	// Coach is the synthesised voice of the speaking coach.
	Coach
)

// String returns the label used when rendering an entry.
func (s Speaker) String() string {
	switch s {
	case User:
		return "User"
	case Coach:
		return "Coach"
	default:
		return fmt.Sprintf("Speaker(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Speaker) MarshalText() ([]byte, error) {
	return []byte(strings.ToLower(s.String())), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. It accepts the labels
// written by MarshalText in any case.
func (s *Speaker) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "user":
		*s = User
	case "coach":
		*s = Coach
	default:
		return fmt.Errorf("transcript: unknown speaker %q", b)
	}
	return nil
}

// Entry is a single transcription fragment.
type Entry struct {
	Speaker Speaker   `json:"speaker"`
	Text    string    `json:"text"`
	At      time.Time `json:"at"`
}

// String renders the entry as "User: text" or "Coach: text".
func (e Entry) String() string {
	return e.Speaker.String() + ": " + e.Text
}

// Log is an append-only, ordered transcript. The zero value is ready to use
// and safe for concurrent use.
type Log struct {
	mu      sync.Mutex
	entries []Entry
	now     func() time.Time
}

// NewLog returns an empty Log. now stamps appended entries; nil means
// time.Now.
func NewLog(now func() time.Time) *Log {
	return &Log{now: now}
}

// Append records text spoken by speaker and returns the stored entry.
// Empty text is stored as-is; the caller decides what is worth recording.
func (l *Log) Append(speaker Speaker, text string) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now
	if l.now != nil {
		now = l.now
	}
	e := Entry{Speaker: speaker, Text: text, At: now()}
	l.entries = append(l.entries, e)
	return e
}

// Entries returns a copy of the entries in append order.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Lines renders every entry with [Entry.String].
func (l *Log) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.String()
	}
	return out
}

// Reset discards all entries.
func (l *Log) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
}
