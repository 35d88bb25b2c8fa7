// Package metrics holds the OpenTelemetry instruments kahani records.
//
// Instruments are created against a metric.MeterProvider. Production code
// uses Default, which binds to the global provider (a no-op unless the
// process installs one); tests pass an sdkmetric provider with a manual
// reader to inspect recorded values.
package metrics

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "kahani"

// Metrics holds every instrument. Fields are safe for concurrent use.
type Metrics struct {
	// TransliterateRequests counts suggestion lookups by status
	// ("ok", "fallback", "open", "shared", "cancelled").
	TransliterateRequests metric.Int64Counter

	// TransliterateDuration tracks suggestion round trips.
	TransliterateDuration metric.Float64Histogram

	// BreakerTransitions counts circuit breaker state changes by target state.
	BreakerTransitions metric.Int64Counter

	// ComposerOutcomes counts composer outcomes ("resolved", "fallback", "stale").
	ComposerOutcomes metric.Int64Counter

	// AutosaveWrites counts persistence writes by result ("ok", "error").
	AutosaveWrites metric.Int64Counter

	// AutosavePending tracks documents with unsaved edits.
	AutosavePending metric.Int64UpDownCounter

	// StoreQueryDuration tracks story store operations by op.
	StoreQueryDuration metric.Float64Histogram
}

var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// New creates the instruments on mp.
func New(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TransliterateRequests, err = m.Int64Counter("kahani.transliterate.requests",
		metric.WithDescription("Suggestion lookups by status."),
	); err != nil {
		return nil, err
	}
	if met.TransliterateDuration, err = m.Float64Histogram("kahani.transliterate.duration",
		metric.WithDescription("Latency of suggestion service round trips."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("kahani.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by target state."),
	); err != nil {
		return nil, err
	}
	if met.ComposerOutcomes, err = m.Int64Counter("kahani.composer.outcomes",
		metric.WithDescription("Pending word outcomes by kind."),
	); err != nil {
		return nil, err
	}
	if met.AutosaveWrites, err = m.Int64Counter("kahani.autosave.writes",
		metric.WithDescription("Story writes issued by the autosave coordinator."),
	); err != nil {
		return nil, err
	}
	if met.AutosavePending, err = m.Int64UpDownCounter("kahani.autosave.pending",
		metric.WithDescription("Stories with edits not yet written."),
	); err != nil {
		return nil, err
	}
	if met.StoreQueryDuration, err = m.Float64Histogram("kahani.store.duration",
		metric.WithDescription("Latency of story store operations."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// Default returns instruments bound to the global meter provider.
func Default() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = New(otel.GetMeterProvider())
		if err != nil {
			panic("metrics: create default instruments: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordTransliterate records one lookup and, when d > 0, its latency.
func (m *Metrics) RecordTransliterate(ctx context.Context, status string, d time.Duration) {
	m.TransliterateRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	if d > 0 {
		m.TransliterateDuration.Record(ctx, d.Seconds())
	}
}

// RecordBreaker records a breaker transition.
func (m *Metrics) RecordBreaker(ctx context.Context, name, to string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("breaker", name),
		attribute.String("state", to),
	))
}

// RecordReplacement records a pending word outcome for a surface kind.
func (m *Metrics) RecordReplacement(ctx context.Context, surface, outcome string) {
	m.ComposerOutcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("surface", surface),
		attribute.String("outcome", outcome),
	))
}

// RecordAutosave records one write attempt.
func (m *Metrics) RecordAutosave(ctx context.Context, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.AutosaveWrites.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordStore records the latency of a store operation.
func (m *Metrics) RecordStore(ctx context.Context, op string, start time.Time) {
	m.StoreQueryDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("op", op)))
}
