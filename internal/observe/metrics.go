// Package observe provides application-wide observability primitives for
// Traduvox: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// scopeName is the instrumentation scope shared by every traduvox meter and
// tracer.
const scopeName = "github.com/MrWong99/traduvox"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Pipeline counters ---

	// FramesSent counts source audio frames handed to the gateway.
	FramesSent metric.Int64Counter

	// BytesSent counts source PCM bytes handed to the gateway.
	BytesSent metric.Int64Counter

	// BytesReceived counts translated PCM bytes received from the gateway.
	BytesReceived metric.Int64Counter

	// SegmentsPlayed counts translated segments whose playback completed.
	SegmentsPlayed metric.Int64Counter

	// ControlMessages counts WebSocket control messages. Use with attributes:
	//   attribute.String("direction", "in"|"out"), attribute.String("type", ...)
	ControlMessages metric.Int64Counter

	// --- Gateway counters ---

	// Reconnects counts gateway reconnection attempts.
	Reconnects metric.Int64Counter

	// GatewayErrors counts gateway-reported and transport errors. Use with
	// attribute: attribute.String("kind", ...)
	GatewayErrors metric.Int64Counter

	// --- Gauges ---

	// Drift tracks the current source-minus-playback drift in seconds.
	Drift metric.Float64Gauge

	// SourcePosition tracks how much source audio has been sent, in seconds.
	SourcePosition metric.Float64Gauge

	// PlaybackPosition tracks how much translated audio has finished playing,
	// in seconds.
	PlaybackPosition metric.Float64Gauge

	// --- Latency histograms ---

	// SegmentDuration tracks the playback duration of received segments.
	SegmentDuration metric.Float64Histogram

	// FirstAudioDelay tracks the delay between the first frame sent and the
	// first translated audio received.
	FirstAudioDelay metric.Float64Histogram

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(scopeName)
	var err error
	met := &Metrics{}

	// Pipeline counters.
	if met.FramesSent, err = m.Int64Counter("traduvox.frames.sent",
		metric.WithDescription("Total source audio frames handed to the gateway."),
		metric.WithUnit("{frame}"),
	); err != nil {
		return nil, err
	}
	if met.BytesSent, err = m.Int64Counter("traduvox.audio.sent.bytes",
		metric.WithDescription("Total source PCM bytes handed to the gateway."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.BytesReceived, err = m.Int64Counter("traduvox.audio.received.bytes",
		metric.WithDescription("Total translated PCM bytes received from the gateway."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.SegmentsPlayed, err = m.Int64Counter("traduvox.segments.played",
		metric.WithDescription("Total translated segments whose playback completed."),
		metric.WithUnit("{segment}"),
	); err != nil {
		return nil, err
	}
	if met.ControlMessages, err = m.Int64Counter("traduvox.control.messages",
		metric.WithDescription("Total WebSocket control messages by direction and type."),
	); err != nil {
		return nil, err
	}

	// Gateway counters.
	if met.Reconnects, err = m.Int64Counter("traduvox.gateway.reconnects",
		metric.WithDescription("Total gateway reconnection attempts."),
	); err != nil {
		return nil, err
	}
	if met.GatewayErrors, err = m.Int64Counter("traduvox.gateway.errors",
		metric.WithDescription("Total gateway-reported and transport errors by kind."),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.Drift, err = m.Float64Gauge("traduvox.drift.seconds",
		metric.WithDescription("Current source-minus-playback drift."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if met.SourcePosition, err = m.Float64Gauge("traduvox.source.position.seconds",
		metric.WithDescription("Source audio sent so far."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if met.PlaybackPosition, err = m.Float64Gauge("traduvox.playback.position.seconds",
		metric.WithDescription("Translated audio that has finished playing."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// Latency histograms.
	if met.SegmentDuration, err = m.Float64Histogram("traduvox.segment.duration",
		metric.WithDescription("Playback duration of received translated segments."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FirstAudioDelay, err = m.Float64Histogram("traduvox.first_audio.delay",
		metric.WithDescription("Delay between the first frame sent and the first translated audio received."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("traduvox.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// RecordFrameSent records one source frame of nbytes handed to the gateway.
func (m *Metrics) RecordFrameSent(ctx context.Context, nbytes int) {
	m.FramesSent.Add(ctx, 1)
	m.BytesSent.Add(ctx, int64(nbytes))
}

// RecordAudioReceived records a translated segment of nbytes arriving with
// the given playback duration.
func (m *Metrics) RecordAudioReceived(ctx context.Context, nbytes int, duration time.Duration) {
	m.BytesReceived.Add(ctx, int64(nbytes))
	m.SegmentDuration.Record(ctx, duration.Seconds())
}

// RecordSegmentPlayed records the completed playback of one translated
// segment.
func (m *Metrics) RecordSegmentPlayed(ctx context.Context) {
	m.SegmentsPlayed.Add(ctx, 1)
}

// RecordControlMessage records a WebSocket control message with the standard
// attribute set.
func (m *Metrics) RecordControlMessage(ctx context.Context, direction, msgType string) {
	m.ControlMessages.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("direction", direction),
			attribute.String("type", msgType),
		),
	)
}

// RecordReconnect records one gateway reconnection attempt.
func (m *Metrics) RecordReconnect(ctx context.Context) {
	m.Reconnects.Add(ctx, 1)
}

// RecordGatewayError records a gateway error of the given kind.
func (m *Metrics) RecordGatewayError(ctx context.Context, kind string) {
	m.GatewayErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordDrift records a drift sample together with the positions it was
// derived from.
func (m *Metrics) RecordDrift(ctx context.Context, drift, sourcePos, playbackPos time.Duration) {
	m.Drift.Record(ctx, drift.Seconds())
	m.SourcePosition.Record(ctx, sourcePos.Seconds())
	m.PlaybackPosition.Record(ctx, playbackPos.Seconds())
}

// RecordFirstAudioDelay records the delay between the first frame sent and
// the first translated audio received.
func (m *Metrics) RecordFirstAudioDelay(ctx context.Context, delay time.Duration) {
	m.FirstAudioDelay.Record(ctx, delay.Seconds())
}
