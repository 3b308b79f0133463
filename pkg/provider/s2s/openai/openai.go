// Package openai implements the s2s.Provider interface for OpenAI's Realtime API.
//
// It establishes a bidirectional WebSocket connection to the OpenAI Realtime
// endpoint and exchanges JSON events according to the Realtime API protocol.
// The Realtime API only accepts 24 kHz PCM16, so capture chunks are resampled
// before they are appended to the input buffer. Server-side voice activity
// detection (input_audio_buffer.speech_started) is surfaced as an interruption.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/Vaidehi1005/Daily-English-Speaking-Coach/pkg/audio"
	"github.com/Vaidehi1005/Daily-English-Speaking-Coach/pkg/provider/s2s"
)

// Compile-time assertions that Provider and session satisfy the s2s interfaces.
var _ s2s.Provider = (*Provider)(nil)
var _ s2s.SessionHandle = (*session)(nil)

const (
	defaultModel   = "gpt-4o-realtime-preview"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"

	// realtimeRate is the only PCM16 rate the Realtime API accepts.
	realtimeRate = 24000

	defaultTranscriptionModel = "whisper-1"
	messageBuffer             = 64
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the OpenAI model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		if url != "" {
			p.baseURL = url
		}
	}
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements s2s.Provider for OpenAI's Realtime API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
}

// New creates a new OpenAI Realtime Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Capabilities returns static metadata about the OpenAI Realtime provider.
func (p *Provider) Capabilities() s2s.Capabilities {
	return s2s.Capabilities{
		MaxSessionDuration: 30 * time.Minute,
		InputSampleRate:    realtimeRate,
		OutputSampleRate:   realtimeRate,
		Voices:             []string{"alloy", "ash", "ballad", "coral", "echo", "sage", "shimmer", "verse"},
	}
}

// Connect dials the Realtime endpoint and sends session.update. The
// session.updated acknowledgement is delivered on Messages as SetupComplete.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	wsURL := p.baseURL + "?model=" + url.QueryEscape(p.model)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + p.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai: dial: %w", err)
	}
	conn.SetReadLimit(8 << 20)

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:             conn,
		msgs:             make(chan s2s.ServerMessage, messageBuffer),
		loopDone:         make(chan struct{}),
		outputTranscript: cfg.OutputTranscription,
		ctx:              sessCtx,
		cancel:           sessCancel,
	}

	if err := sess.sendSessionUpdate(cfg); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("openai: session update: %w", err)
	}

	go sess.receiveLoop()

	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Modalities              []string            `json:"modalities,omitempty"`
	Voice                   string              `json:"voice,omitempty"`
	Instructions            string              `json:"instructions,omitempty"`
	InputAudioFormat        string              `json:"input_audio_format"`
	OutputAudioFormat       string              `json:"output_audio_format"`
	InputAudioTranscription *transcriptionModel `json:"input_audio_transcription,omitempty"`
}

type transcriptionModel struct {
	Model string `json:"model"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

// serverErrorDetail represents the nested error object in an OpenAI Realtime
// error event: {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverEvent struct {
	Type string `json:"type"`

	// response.audio.delta / response.audio_transcript.delta
	Delta string `json:"delta,omitempty"`

	// response.audio_transcript.done /
	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`

	// error event
	Error *serverErrorDetail `json:"error,omitempty"`
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn             *websocket.Conn
	msgs             chan s2s.ServerMessage
	outputTranscript bool

	mu       sync.Mutex
	errVal   error
	closed   bool
	inflight sync.WaitGroup

	// Touched only by receiveLoop.
	setupAcked    bool
	currentTxText strings.Builder

	loopDone chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
}

// sendSessionUpdate sends a session.update event to configure voice,
// instructions, audio formats and transcription.
func (s *session) sendSessionUpdate(cfg s2s.SessionConfig) error {
	params := sessionParams{
		Voice:             cfg.Voice,
		Instructions:      cfg.Instructions,
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
	}
	for _, m := range cfg.Modalities() {
		if strings.EqualFold(m, s2s.ModalityAudio) {
			// The Realtime API requires text alongside audio.
			params.Modalities = []string{"audio", "text"}
		}
	}
	if cfg.InputTranscription {
		params.InputAudioTranscription = &transcriptionModel{Model: defaultTranscriptionModel}
	}
	return s.writeJSON(sessionUpdateMessage{Type: "session.update", Session: params})
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// receiveLoop reads events from the WebSocket and dispatches them.
// It owns msgs: it closes the channel when it exits.
func (s *session) receiveLoop() {
	defer close(s.loopDone)
	defer close(s.msgs)

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil || s.isClosed() {
				return
			}
			if websocket.CloseStatus(err) != -1 {
				return
			}
			s.setErr(fmt.Errorf("openai: read: %w", err))
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}

		if evt.Type == "error" {
			s.setErr(evt.asError())
			return
		}

		msg, ok := s.handleServerEvent(&evt)
		if !ok {
			continue
		}
		select {
		case s.msgs <- msg:
		case <-s.ctx.Done():
			return
		}
	}
}

func (evt *serverEvent) asError() error {
	msg := "unknown error"
	if evt.Error != nil && evt.Error.Message != "" {
		msg = evt.Error.Message
	}
	if evt.Error != nil && evt.Error.Code != "" {
		return fmt.Errorf("openai: server error %s: %s", evt.Error.Code, msg)
	}
	return fmt.Errorf("openai: server error: %s", msg)
}

// handleServerEvent maps one Realtime event onto a ServerMessage. It reports
// false for events the bridge does not act on.
func (s *session) handleServerEvent(evt *serverEvent) (s2s.ServerMessage, bool) {
	switch evt.Type {
	case "session.updated":
		if s.setupAcked {
			return s2s.ServerMessage{}, false
		}
		s.setupAcked = true
		return s2s.ServerMessage{SetupComplete: true}, true

	case "response.audio.delta":
		if evt.Delta == "" {
			return s2s.ServerMessage{}, false
		}
		return s2s.ServerMessage{Audio: []audio.EncodedChunk{{
			MIMEType: audio.PCMMIMEType(realtimeRate),
			Data:     evt.Delta,
		}}}, true

	case "response.audio_transcript.delta":
		s.currentTxText.WriteString(evt.Delta)

	case "response.audio_transcript.done":
		text := evt.Transcript
		if text == "" {
			text = s.currentTxText.String()
		}
		s.currentTxText.Reset()
		if text != "" && s.outputTranscript {
			return s2s.ServerMessage{OutputTranscript: text}, true
		}

	case "conversation.item.input_audio_transcription.completed":
		if evt.Transcript != "" {
			return s2s.ServerMessage{InputTranscript: evt.Transcript}, true
		}

	case "input_audio_buffer.speech_started":
		return s2s.ServerMessage{Interrupted: true}, true

	case "response.done":
		return s2s.ServerMessage{TurnComplete: true}, true
	}
	return s2s.ServerMessage{}, false
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

// ── SessionHandle methods ──────────────────────────────────────────────────────

// SendAudio resamples chunk to 24 kHz and appends it to the input buffer.
func (s *session) SendAudio(chunk audio.EncodedChunk) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return s2s.ErrSessionClosed
	}
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	if chunk.Empty() {
		return nil
	}
	data := chunk.Data
	rate, ok := audio.ParseRate(chunk.MIMEType)
	if !ok {
		rate = audio.CaptureRate
	}
	if rate != realtimeRate {
		pcm, err := base64.StdEncoding.DecodeString(chunk.Data)
		if err != nil {
			return fmt.Errorf("openai: send audio: %w", err)
		}
		data = base64.StdEncoding.EncodeToString(audio.ResampleMono16(pcm, rate, realtimeRate))
	}

	if err := s.writeJSON(appendAudioMessage{Type: "input_audio_buffer.append", Audio: data}); err != nil {
		return fmt.Errorf("openai: send audio: %w", err)
	}
	return nil
}

// Messages returns the channel on which server messages arrive.
func (s *session) Messages() <-chan s2s.ServerMessage { return s.msgs }

// Err returns the first non-nil error that caused the session to terminate.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close waits for in-flight sends, performs the close handshake and stops the
// receive loop. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.inflight.Wait()
	_ = s.conn.Close(websocket.StatusNormalClosure, "session closed")
	s.cancel()
	<-s.loopDone
	return nil
}
