package observe

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/petems/admute"

// Tracer returns the tracer from the globally registered provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartChunkSpan starts the span covering the processing of one chunk.
func StartChunkSpan(ctx context.Context, session string, seq uint64) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "pipeline.process_chunk",
		trace.WithAttributes(
			attribute.String("session", session),
			attribute.Int64("chunk.seq", int64(seq)),
		),
	)
}
