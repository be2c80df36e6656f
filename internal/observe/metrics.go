// Package observe provides the OpenTelemetry metrics and tracing used by the
// listening pipeline. Metrics are bridged to Prometheus by [InitProvider] so
// they can be scraped from the control server's /metrics endpoint.
//
// Tests should build a [Metrics] with [NewMetrics] over their own
// [metric.MeterProvider], or use [NopMetrics].
package observe

import (
	"context"

	"github.com/petems/admute/internal/audio"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/petems/admute"

// Metrics holds the metric instruments for the pipeline. All fields are safe
// for concurrent use.
type Metrics struct {
	// ChunksCaptured counts chunks pushed by the capture stage.
	ChunksCaptured metric.Int64Counter

	// ChunksProcessed counts chunks acted on by the processing stage. Use
	// with attribute.String("verdict", ...).
	ChunksProcessed metric.Int64Counter

	// SegmentsClassified counts classifier invocations.
	SegmentsClassified metric.Int64Counter

	// ClassifyDuration tracks per-segment classifier latency.
	ClassifyDuration metric.Float64Histogram

	// ClassifyErrors counts segments that failed open.
	ClassifyErrors metric.Int64Counter

	// VolumeErrors counts failed mute/unmute instructions.
	VolumeErrors metric.Int64Counter

	// MuteChanges counts transitions of the output mute state. Use with
	// attribute.String("state", ...).
	MuteChanges metric.Int64Counter

	// QueueDepth tracks chunks waiting between capture and processing.
	QueueDepth metric.Int64UpDownCounter

	// EventsDropped counts status events lost to a full event buffer.
	EventsDropped metric.Int64Counter
}

// latencyBuckets are histogram boundaries in seconds, sized for classifier
// calls on multi-second segments.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates all instruments from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ChunksCaptured, err = m.Int64Counter("admute.chunks.captured",
		metric.WithDescription("Chunks captured from the input device."),
	); err != nil {
		return nil, err
	}
	if met.ChunksProcessed, err = m.Int64Counter("admute.chunks.processed",
		metric.WithDescription("Chunks classified and acted on, by verdict."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsClassified, err = m.Int64Counter("admute.segments.classified",
		metric.WithDescription("Segments passed to the classifier."),
	); err != nil {
		return nil, err
	}
	if met.ClassifyDuration, err = m.Float64Histogram("admute.classify.duration",
		metric.WithDescription("Latency of a single segment classification."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ClassifyErrors, err = m.Int64Counter("admute.classify.errors",
		metric.WithDescription("Segment classifications that failed and were treated as content."),
	); err != nil {
		return nil, err
	}
	if met.VolumeErrors, err = m.Int64Counter("admute.volume.errors",
		metric.WithDescription("Mute or unmute instructions that failed."),
	); err != nil {
		return nil, err
	}
	if met.MuteChanges, err = m.Int64Counter("admute.mute.changes",
		metric.WithDescription("Changes of the system output mute state."),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64UpDownCounter("admute.queue.depth",
		metric.WithDescription("Chunks queued between capture and processing."),
	); err != nil {
		return nil, err
	}
	if met.EventsDropped, err = m.Int64Counter("admute.events.dropped",
		metric.WithDescription("Status events dropped because no listener kept up."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// NopMetrics returns a Metrics whose instruments discard everything.
func NopMetrics() *Metrics {
	m, err := NewMetrics(noop.NewMeterProvider())
	if err != nil {
		panic("observe: noop metrics: " + err.Error())
	}
	return m
}

// RecordChunk records one processed chunk with its verdict.
func (m *Metrics) RecordChunk(ctx context.Context, v audio.Verdict) {
	m.ChunksProcessed.Add(ctx, 1, metric.WithAttributes(attribute.String("verdict", v.String())))
}

// RecordMuteChange records a transition to state.
func (m *Metrics) RecordMuteChange(ctx context.Context, state string) {
	m.MuteChanges.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}
