// Package observe provides the observability primitives of the speaking
// coach: OpenTelemetry metrics, tracing, trace-aware structured logging and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exposed in
// Prometheus text format by the handler returned from [InitProvider]. A
// package-level [DefaultMetrics] instance backs components that are not given
// one explicitly; tests should use [NewMetrics] with their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/Vaidehi1005/Daily-English-Speaking-Coach"

// Metrics holds the OpenTelemetry instruments of the application. All fields
// are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// ConnectDuration tracks how long it takes to open a speech session with
	// the provider (dial + setup message).
	ConnectDuration metric.Float64Histogram

	// SessionDuration tracks the length of finished practice sessions.
	SessionDuration metric.Float64Histogram

	// --- Audio counters ---

	// CaptureChunks counts encoded microphone chunks handed to the session.
	// Use with attribute.String("status", "sent"|"error").
	CaptureChunks metric.Int64Counter

	// CaptureDropped counts microphone blocks dropped because the send queue
	// was full.
	CaptureDropped metric.Int64Counter

	// PlaybackChunks counts coach audio chunks scheduled for playback.
	PlaybackChunks metric.Int64Counter

	// DecodeErrors counts coach audio chunks dropped because they could not
	// be decoded.
	DecodeErrors metric.Int64Counter

	// Interruptions counts interruption signals that flushed playback.
	Interruptions metric.Int64Counter

	// TranscriptEntries counts transcript fragments. Use with
	// attribute.String("speaker", ...).
	TranscriptEntries metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts session failures. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of open practice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// EventSubscribers tracks the number of connected event stream clients.
	EventSubscribers metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("route", ...), attribute.Int("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries (seconds) for connection setup.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10,
}

// sessionBuckets are histogram boundaries (seconds) for whole sessions.
// Practice speeches last one to two minutes plus the review.
var sessionBuckets = []float64{
	10, 30, 60, 120, 180, 300, 600, 1800,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ConnectDuration, err = m.Float64Histogram("speakcoach.s2s.connect.duration",
		metric.WithDescription("Latency of opening a speech session."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = m.Float64Histogram("speakcoach.session.duration",
		metric.WithDescription("Length of finished practice sessions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.CaptureChunks, err = m.Int64Counter("speakcoach.capture.chunks",
		metric.WithDescription("Microphone chunks handed to the session by status."),
	); err != nil {
		return nil, err
	}
	if met.CaptureDropped, err = m.Int64Counter("speakcoach.capture.dropped",
		metric.WithDescription("Microphone blocks dropped on a full send queue."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackChunks, err = m.Int64Counter("speakcoach.playback.chunks",
		metric.WithDescription("Coach audio chunks scheduled for playback."),
	); err != nil {
		return nil, err
	}
	if met.DecodeErrors, err = m.Int64Counter("speakcoach.playback.decode_errors",
		metric.WithDescription("Coach audio chunks dropped because they failed to decode."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("speakcoach.playback.interruptions",
		metric.WithDescription("Interruption signals that flushed playback."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptEntries, err = m.Int64Counter("speakcoach.transcript.entries",
		metric.WithDescription("Transcript fragments by speaker."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("speakcoach.provider.errors",
		metric.WithDescription("Session failures by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("speakcoach.active_sessions",
		metric.WithDescription("Number of open practice sessions."),
	); err != nil {
		return nil, err
	}
	if met.EventSubscribers, err = m.Int64UpDownCounter("speakcoach.web.subscribers",
		metric.WithDescription("Number of connected event stream clients."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("speakcoach.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordCaptureChunk records one microphone chunk with the given status.
func (m *Metrics) RecordCaptureChunk(ctx context.Context, status string) {
	m.CaptureChunks.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordTranscript records one transcript fragment for speaker.
func (m *Metrics) RecordTranscript(ctx context.Context, speaker string) {
	m.TranscriptEntries.Add(ctx, 1, metric.WithAttributes(attribute.String("speaker", speaker)))
}

// RecordProviderError records a session failure.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
