// Package mock provides test doubles for the s2s package interfaces.
//
// Use Provider to verify Connect calls and feed controlled S2S sessions.
// Use Session to script inbound server messages and inspect the audio the
// code under test sent.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Connect(ctx, cfg)
//	sess.Push(s2s.ServerMessage{SetupComplete: true})
//	sess.Finish(nil) // clean close from the server side
package mock

import (
	"context"
	"sync"

	"github.com/Vaidehi1005/Daily-English-Speaking-Coach/pkg/audio"
	"github.com/Vaidehi1005/Daily-English-Speaking-Coach/pkg/provider/s2s"
)

var (
	_ s2s.Provider      = (*Provider)(nil)
	_ s2s.SessionHandle = (*Session)(nil)
)

// messageBuffer is large enough that scripted tests never block in Push.
const messageBuffer = 256

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg s2s.SessionConfig
}

// Provider is a mock implementation of s2s.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by Connect. If nil, Connect returns
	// a new Session from [NewSession].
	Session s2s.SessionHandle

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ProviderCapabilities is returned by Capabilities.
	ProviderCapabilities s2s.Capabilities

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall

	// CapabilitiesCallCount is the number of times Capabilities was called.
	CapabilitiesCallCount int
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(), nil
}

// Capabilities records the call and returns ProviderCapabilities.
func (p *Provider) Capabilities() s2s.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CapabilitiesCallCount++
	return p.ProviderCapabilities
}

// Calls returns a copy of the recorded Connect calls.
func (p *Provider) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ConnectCall, len(p.ConnectCalls))
	copy(out, p.ConnectCalls)
	return out
}

// Session is a mock implementation of s2s.SessionHandle. Create it with
// [NewSession]. Like a real session, Close closes the Messages channel.
type Session struct {
	mu sync.Mutex

	// SendErr, if non-nil, is returned by SendAudio (the chunk is still
	// recorded).
	SendErr error

	// SentChunks records every chunk passed to SendAudio, in call order.
	SentChunks []audio.EncodedChunk

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	// OnClose, if set, runs after the first Close.
	OnClose func()

	msgs   chan s2s.ServerMessage
	err    error
	ended  bool // Messages closed
	closed bool // Close called
	sent   chan struct{}
}

// NewSession returns a Session with a buffered Messages channel.
func NewSession() *Session {
	return &Session{
		msgs: make(chan s2s.ServerMessage, messageBuffer),
		sent: make(chan struct{}, messageBuffer),
	}
}

// Push delivers msg on the Messages channel. It reports false if the channel
// has already been closed.
func (s *Session) Push(msg s2s.ServerMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return false
	}
	s.msgs <- msg
	return true
}

// Finish ends the session from the server side: Err starts returning err and
// the Messages channel is closed. Subsequent calls are no-ops.
func (s *Session) Finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.err = err
	s.ended = true
	close(s.msgs)
}

// SendAudio records chunk and returns SendErr.
func (s *Session) SendAudio(chunk audio.EncodedChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s2s.ErrSessionClosed
	}
	s.SentChunks = append(s.SentChunks, chunk)
	select {
	case s.sent <- struct{}{}:
	default:
	}
	return s.SendErr
}

// Sent returns a signal channel that receives once per SendAudio call.
func (s *Session) Sent() <-chan struct{} { return s.sent }

// Chunks returns a copy of the chunks sent so far.
func (s *Session) Chunks() []audio.EncodedChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audio.EncodedChunk, len(s.SentChunks))
	copy(out, s.SentChunks)
	return out
}

// Messages returns the scripted message channel.
func (s *Session) Messages() <-chan s2s.ServerMessage { return s.msgs }

// Err returns the error passed to Finish.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close records the call and closes the Messages channel. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	s.CloseCallCount++
	first := !s.closed
	s.closed = true
	if !s.ended {
		s.ended = true
		close(s.msgs)
	}
	hook := s.OnClose
	s.mu.Unlock()
	if first && hook != nil {
		hook()
	}
	return nil
}

// Closes returns the number of Close calls.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount
}
