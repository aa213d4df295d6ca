// Package telemetry registers the OpenTelemetry metric instruments the
// gateway reports, alongside the plain-getter metrics already exposed by
// pkg/session.Registry.Snapshot, backed by the Prometheus exporter so they
// can be scraped at GET /metrics.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const meterName = "github.com/lokutor-ai/voicegateway"

var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16}

// Metrics holds every instrument the gateway and the engines report
// through. All instruments are safe for concurrent use.
type Metrics struct {
	SessionsCreated    metric.Int64Counter
	SessionsEnded      metric.Int64Counter
	ActiveSessions     metric.Int64UpDownCounter
	SttReconnections   metric.Int64Counter
	TtsReconnections   metric.Int64Counter
	TtsBufferOverflows metric.Int64Counter
	LlmFallbacks       metric.Int64Counter
	TurnLatency        metric.Float64Histogram
}

// New creates a fully initialized Metrics bound to mp, returning an error if
// any instrument registration fails.
func New(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}
	var err error

	if met.SessionsCreated, err = m.Int64Counter("voicegateway.sessions.created",
		metric.WithDescription("Total voice sessions created.")); err != nil {
		return nil, err
	}
	if met.SessionsEnded, err = m.Int64Counter("voicegateway.sessions.ended",
		metric.WithDescription("Total voice sessions ended.")); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("voicegateway.sessions.active",
		metric.WithDescription("Number of currently open voice sessions.")); err != nil {
		return nil, err
	}
	if met.SttReconnections, err = m.Int64Counter("voicegateway.stt.reconnections",
		metric.WithDescription("Total STT provider reconnection attempts.")); err != nil {
		return nil, err
	}
	if met.TtsReconnections, err = m.Int64Counter("voicegateway.tts.reconnections",
		metric.WithDescription("Total TTS provider reconnection attempts.")); err != nil {
		return nil, err
	}
	if met.TtsBufferOverflows, err = m.Int64Counter("voicegateway.tts.buffer_overflows",
		metric.WithDescription("Total synthesis requests rejected by the reconnection buffer cap.")); err != nil {
		return nil, err
	}
	if met.LlmFallbacks, err = m.Int64Counter("voicegateway.llm.fallbacks",
		metric.WithDescription("Total LLM responses served from a fallback tier."),
	); err != nil {
		return nil, err
	}
	if met.TurnLatency, err = m.Float64Histogram("voicegateway.turn.latency",
		metric.WithDescription("End-to-end latency from audio.end to response.complete."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// Init wires the Prometheus exporter as the process's global OTel metric
// reader and returns an initialized Metrics plus a shutdown func for
// cmd/gateway to defer.
func Init(serviceName string) (*Metrics, func(context.Context) error, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, nil, err
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(mp)

	met, err := New(mp)
	if err != nil {
		return nil, nil, err
	}
	return met, mp.Shutdown, nil
}

func sessionAttr(sessionID string) attribute.KeyValue {
	return attribute.String("sessionId", sessionID)
}

// RecordSessionCreated increments the session counters a channel open emits.
func (m *Metrics) RecordSessionCreated(ctx context.Context) {
	m.SessionsCreated.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
}

// RecordSessionEnded decrements ActiveSessions and increments SessionsEnded.
func (m *Metrics) RecordSessionEnded(ctx context.Context) {
	m.SessionsEnded.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)
}

// RecordSttReconnections adds n to the STT reconnection counter for sessionID.
func (m *Metrics) RecordSttReconnections(ctx context.Context, sessionID string, n int) {
	m.SttReconnections.Add(ctx, int64(n), metric.WithAttributes(sessionAttr(sessionID)))
}

// RecordTtsReconnections adds n to the TTS reconnection counter for sessionID.
func (m *Metrics) RecordTtsReconnections(ctx context.Context, sessionID string, n int) {
	m.TtsReconnections.Add(ctx, int64(n), metric.WithAttributes(sessionAttr(sessionID)))
}

// RecordTtsBufferOverflows adds n to the TTS buffer-overflow counter for sessionID.
func (m *Metrics) RecordTtsBufferOverflows(ctx context.Context, sessionID string, n int) {
	m.TtsBufferOverflows.Add(ctx, int64(n), metric.WithAttributes(sessionAttr(sessionID)))
}

// RecordLlmFallback increments the fallback counter, tagged by tier.
func (m *Metrics) RecordLlmFallback(ctx context.Context, sessionID string, tier int) {
	m.LlmFallbacks.Add(ctx, 1, metric.WithAttributes(
		sessionAttr(sessionID),
		attribute.Int("tier", tier),
	))
}

// RecordTurnLatency records the seconds elapsed between audio.end and the
// matching response.complete.
func (m *Metrics) RecordTurnLatency(ctx context.Context, sessionID string, seconds float64) {
	m.TurnLatency.Record(ctx, seconds, metric.WithAttributes(sessionAttr(sessionID)))
}
