package middleware

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/louiesdad/datacloak-workbench-sub000/job"
)

// meterName is the instrumentation scope name for queue metrics.
const meterName = "github.com/louiesdad/datacloak-workbench-sub000"

// Metrics returns middleware that records per-job execution metrics
// using the global OTel MeterProvider. Without a configured provider
// the noop instruments make this a pass-through.
//
// Instruments:
//   - queue.job.duration (Float64Histogram): execution time in seconds,
//     attributes: job_type, priority, status ("ok" or "error")
//   - queue.job.executions (Int64Counter): total executions,
//     attributes: job_type, priority, status ("ok" or "error")
func Metrics() Middleware {
	meter := otel.Meter(meterName)
	return MetricsWithMeter(meter)
}

// MetricsWithMeter returns metrics middleware using the provided meter,
// for injecting a specific MeterProvider in tests.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// Instruments are created once at construction time. OTel
	// instruments are safe for concurrent use; on error the API
	// returns noop instruments, so the middleware degrades gracefully.
	duration, dErr := meter.Float64Histogram(
		"queue.job.duration",
		metric.WithDescription("Duration of job execution in seconds"),
		metric.WithUnit("s"),
	)
	_ = dErr // noop fallback guaranteed by OTel API contract

	executions, eErr := meter.Int64Counter(
		"queue.job.executions",
		metric.WithDescription("Total number of job executions"),
		metric.WithUnit("{execution}"),
	)
	_ = eErr // noop fallback guaranteed by OTel API contract

	return func(ctx context.Context, j *job.Job, next Handler) (json.RawMessage, error) {
		start := time.Now()
		result, err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = "error"
		}

		attrs := metric.WithAttributes(
			attribute.String("job_type", j.Type),
			attribute.String("priority", string(j.Priority)),
			attribute.String("status", status),
		)

		duration.Record(ctx, elapsed, attrs)
		executions.Add(ctx, 1, attrs)

		return result, err
	}
}
