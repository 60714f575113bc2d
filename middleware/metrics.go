package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/backlog/job"
)

const meterName = "github.com/xraph/backlog"

// Metrics records handler duration and outcome with the global
// MeterProvider:
//
//   - backlog.job.duration (histogram, seconds)
//   - backlog.job.executions (counter)
//
// Both carry job_type, queue and status ("ok" or "error").
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter is Metrics with an explicit meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// The OTel API hands back noop instruments alongside any error.
	duration, _ := meter.Float64Histogram("backlog.job.duration",
		metric.WithDescription("Duration of job handler execution"),
		metric.WithUnit("s"),
	)
	executions, _ := meter.Int64Counter("backlog.job.executions",
		metric.WithDescription("Job handler executions"),
		metric.WithUnit("{execution}"),
	)

	return func(ctx context.Context, c *job.Claim, next Handler) error {
		start := time.Now()
		err := next(ctx)

		status := "ok"
		if err != nil {
			status = "error"
		}
		attrs := metric.WithAttributes(
			attribute.String("job_type", c.JobType),
			attribute.String("queue", c.Queue),
			attribute.String("status", status),
		)
		duration.Record(ctx, time.Since(start).Seconds(), attrs)
		executions.Add(ctx, 1, attrs)
		return err
	}
}
