// Package observe provides application-wide observability primitives:
// OpenTelemetry metric instruments and the Prometheus exporter bridge that
// serves them on /metrics.
//
// A package-level default Metrics instance (DefaultMetrics) is provided
// for convenience; tests should use NewMetrics with a custom
// metric.MeterProvider to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all parley metrics.
const meterName = "github.com/parleyhq/parley"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// TurnDuration tracks wall time from speaker start to committed
	// utterance, including retries. Use with attribute.String("phase", ...).
	TurnDuration metric.Float64Histogram

	// TurnsCommitted counts committed full turns. Use with attributes:
	//   attribute.String("phase", ...), attribute.String("speaker", ...)
	TurnsCommitted metric.Int64Counter

	// TokenChunks counts streamed token chunks across all sessions.
	TokenChunks metric.Int64Counter

	// InterruptsFired counts interruptions that fired at a safe boundary.
	InterruptsFired metric.Int64Counter

	// InterruptsCancelled counts pending interrupts that never fired. Use
	// with attribute.String("reason", ...).
	InterruptsCancelled metric.Int64Counter

	// GenerationRetries counts empty-response retry attempts.
	GenerationRetries metric.Int64Counter

	// HumanTurns counts human-authored turns that entered the debate.
	HumanTurns metric.Int64Counter

	// ActiveSessions tracks the number of live or paused sessions.
	ActiveSessions metric.Int64UpDownCounter

	// EventSubscribers tracks connected SSE/WebSocket subscribers.
	EventSubscribers metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// turnBuckets defines histogram bucket boundaries (in seconds) sized for
// streamed LLM turns.
var turnBuckets = []float64{
	0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 60, 120,
}

// NewMetrics creates a fully initialised Metrics struct using the given
// metric.MeterProvider. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TurnDuration, err = m.Float64Histogram("parley.turn.duration",
		metric.WithDescription("Wall time from speaker start to committed utterance."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(turnBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnsCommitted, err = m.Int64Counter("parley.turns.committed",
		metric.WithDescription("Total committed full turns by phase and speaker."),
	); err != nil {
		return nil, err
	}
	if met.TokenChunks, err = m.Int64Counter("parley.token.chunks",
		metric.WithDescription("Total streamed token chunks."),
	); err != nil {
		return nil, err
	}
	if met.InterruptsFired, err = m.Int64Counter("parley.interrupts.fired",
		metric.WithDescription("Total interruptions fired at a safe boundary."),
	); err != nil {
		return nil, err
	}
	if met.InterruptsCancelled, err = m.Int64Counter("parley.interrupts.cancelled",
		metric.WithDescription("Total pending interrupts cancelled before firing, by reason."),
	); err != nil {
		return nil, err
	}
	if met.GenerationRetries, err = m.Int64Counter("parley.generation.retries",
		metric.WithDescription("Total empty-response generation retries."),
	); err != nil {
		return nil, err
	}
	if met.HumanTurns, err = m.Int64Counter("parley.human.turns",
		metric.WithDescription("Total human-authored turns."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("parley.active_sessions",
		metric.WithDescription("Number of live or paused sessions."),
	); err != nil {
		return nil, err
	}
	if met.EventSubscribers, err = m.Int64UpDownCounter("parley.event.subscribers",
		metric.WithDescription("Number of connected event stream subscribers."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("parley.http.request.duration",
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

// DefaultMetrics returns the package-level Metrics instance, creating it on
// first call using otel.GetMeterProvider. Subsequent calls return the same
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

// Attr is a convenience alias for attribute.String to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordTurn records a committed turn with its duration in one call.
func (m *Metrics) RecordTurn(ctx context.Context, phase, speaker string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("phase", phase),
		attribute.String("speaker", speaker),
	)
	m.TurnsCommitted.Add(ctx, 1, attrs)
	m.TurnDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("phase", phase)))
}
