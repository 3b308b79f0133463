// Package web is the HTTP control surface of the speaking coach.
//
// It exposes the topic catalog and the session lifecycle as a small JSON API
// and streams application events to browser clients over a WebSocket:
//
//	GET  /api/topics          topic catalog
//	GET  /api/session         current snapshot
//	POST /api/session/start   {"topic_id": "1"} or {"topic": "typical day"}
//	POST /api/session/stop
//	POST /api/session/reset
//	GET  /api/events          WebSocket; one JSON object per event
//
// Health checks and the Prometheus endpoint are mounted on the same mux.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/Vaidehi1005/Daily-English-Speaking-Coach/internal/app"
	"github.com/Vaidehi1005/Daily-English-Speaking-Coach/internal/coach"
	"github.com/Vaidehi1005/Daily-English-Speaking-Coach/internal/health"
	"github.com/Vaidehi1005/Daily-English-Speaking-Coach/internal/observe"
)

const (
	writeTimeout = 5 * time.Second
	maxBodyBytes = 4 << 10
)

// Coach is the part of [app.App] the HTTP surface drives.
type Coach interface {
	Topics() []coach.Topic
	FindTopic(query string) (coach.Topic, bool)
	Snapshot() app.Snapshot
	StartSession(ctx context.Context, topicID string) error
	StopSession() error
	ResetSession() error
	Subscribe() (<-chan app.Event, func())
}

var _ Coach = (*app.App)(nil)

// Option configures a Server.
type Option func(*Server)

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithHealth mounts the health checks.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithOriginPatterns allows cross-origin WebSocket clients whose Origin host
// matches one of patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.origins = append(s.origins, patterns...) }
}

// Server routes HTTP requests to a Coach.
type Server struct {
	coach          Coach
	metrics        *observe.Metrics
	health         *health.Handler
	metricsHandler http.Handler
	origins        []string
	mux            *http.ServeMux
}

// New builds the route table for c.
func New(c Coach, opts ...Option) *Server {
	s := &Server{
		coach:   c,
		metrics: observe.DefaultMetrics(),
		mux:     http.NewServeMux(),
	}
	for _, o := range opts {
		o(s)
	}

	s.mux.HandleFunc("GET /api/topics", s.handleTopics)
	s.mux.HandleFunc("GET /api/session", s.handleSession)
	s.mux.HandleFunc("POST /api/session/start", s.handleStart)
	s.mux.HandleFunc("POST /api/session/stop", s.handleStop)
	s.mux.HandleFunc("POST /api/session/reset", s.handleReset)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	if s.health != nil {
		s.health.Register(s.mux)
	}
	if s.metricsHandler != nil {
		s.mux.Handle("GET /metrics", s.metricsHandler)
	}
	return s
}

// Handler returns the instrumented root handler.
func (s *Server) Handler() http.Handler {
	return observe.Middleware(s.metrics)(s.mux)
}

// ── JSON API ─────────────────────────────────────────────────────────────────

type startRequest struct {
	TopicID string `json:"topic_id"`
	Topic   string `json:"topic"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleTopics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.coach.Topics())
}

func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.coach.Snapshot())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	id := req.TopicID
	if id == "" && req.Topic != "" {
		if t, ok := s.coach.FindTopic(req.Topic); ok {
			id = t.ID
		}
	}
	if id == "" {
		writeError(w, http.StatusBadRequest, "topic_id or a known topic is required")
		return
	}

	// The session outlives the request.
	ctx := context.WithoutCancel(r.Context())
	if err := s.coach.StartSession(ctx, id); err != nil {
		switch {
		case errors.Is(err, app.ErrUnknownTopic):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, app.ErrSessionActive):
			writeError(w, http.StatusConflict, err.Error())
		default:
			msg := s.coach.Snapshot().Error
			if msg == "" {
				msg = err.Error()
			}
			writeError(w, http.StatusBadGateway, msg)
		}
		return
	}
	writeJSON(w, http.StatusAccepted, s.coach.Snapshot())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.coach.StopSession(); err != nil {
		observe.Logger(r.Context()).Warn("web: stop session", "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.coach.Snapshot())
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.coach.ResetSession(); err != nil {
		observe.Logger(r.Context()).Warn("web: reset session", "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.coach.Snapshot())
}

// ── Event stream ─────────────────────────────────────────────────────────────

// handleEvents upgrades to a WebSocket, sends the current state and then
// forwards every application event until either side goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		// Accept has already written the response.
		slog.Debug("web: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	events, cancel := s.coach.Subscribe()
	defer cancel()

	s.metrics.EventSubscribers.Add(r.Context(), 1)
	defer s.metrics.EventSubscribers.Add(context.WithoutCancel(r.Context()), -1)

	// Inbound messages are not part of the protocol; CloseRead handles
	// control frames and cancels ctx when the client leaves.
	ctx := conn.CloseRead(r.Context())

	snap := s.coach.Snapshot()
	if err := s.send(ctx, conn, app.Event{
		Type:      app.EventState,
		SessionID: snap.SessionID,
		State:     snap.State.String(),
		Seconds:   snap.Seconds,
		Timer:     snap.Timer,
	}); err != nil {
		return
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			if err := s.send(ctx, conn, ev); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) send(ctx context.Context, conn *websocket.Conn, ev app.Event) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, conn, ev); err != nil {
		slog.Debug("web: event write failed", "type", ev.Type, "err", err)
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("web: encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
