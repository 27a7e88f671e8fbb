package middleware

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/louiesdad/datacloak-workbench-sub000/job"
)

// tracerName is the instrumentation scope name for queue tracing.
const tracerName = "github.com/louiesdad/datacloak-workbench-sub000"

// Tracing returns middleware that wraps job execution in an
// OpenTelemetry span. Without a globally configured TracerProvider the
// noop tracer is used and this middleware is a pass-through.
//
// Span attributes: queue.job.id, queue.job.type, queue.job.priority,
// queue.job.attempt. On error, the span status is codes.Error with the
// error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided
// tracer, for injecting a specific TracerProvider in tests or when
// multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (json.RawMessage, error) {
		ctx, span := tracer.Start(ctx, "queue.job.execute",
			trace.WithAttributes(
				attribute.String("queue.job.id", j.ID.String()),
				attribute.String("queue.job.type", j.Type),
				attribute.String("queue.job.priority", string(j.Priority)),
				attribute.Int("queue.job.attempt", j.Attempt),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		result, err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return result, err
	}
}
