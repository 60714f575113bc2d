package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/backlog/ext"
	"github.com/xraph/backlog/job"
)

var (
	_ ext.Extension           = (*MetricsExtension)(nil)
	_ ext.RequestEnqueued     = (*MetricsExtension)(nil)
	_ ext.RequestDeduplicated = (*MetricsExtension)(nil)
	_ ext.JobClaimed          = (*MetricsExtension)(nil)
	_ ext.JobSucceeded        = (*MetricsExtension)(nil)
	_ ext.JobRetried          = (*MetricsExtension)(nil)
	_ ext.JobFailed           = (*MetricsExtension)(nil)
	_ ext.JobLost             = (*MetricsExtension)(nil)
	_ ext.ScheduleFired       = (*MetricsExtension)(nil)
)

const meterName = "github.com/xraph/backlog/observability"

// MetricsExtension counts lifecycle events as OTel counters. Each counter
// carries job_type and queue attributes.
type MetricsExtension struct {
	enqueued     metric.Int64Counter
	deduplicated metric.Int64Counter
	claimed      metric.Int64Counter
	succeeded    metric.Int64Counter
	retried      metric.Int64Counter
	failed       metric.Int64Counter
	lost         metric.Int64Counter
	fired        metric.Int64Counter
}

// NewMetricsExtension uses the global MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter uses the given meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		// Instrument errors come with a usable noop instrument.
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc))
		return c
	}
	return &MetricsExtension{
		enqueued:     counter("backlog.request.enqueued", "Requests admitted"),
		deduplicated: counter("backlog.request.deduplicated", "Requests rejected by admission control"),
		claimed:      counter("backlog.job.claimed", "Requests claimed by a worker"),
		succeeded:    counter("backlog.job.succeeded", "Attempts that succeeded"),
		retried:      counter("backlog.job.retried", "Attempts that failed and were retried"),
		failed:       counter("backlog.job.failed", "Attempts that failed terminally"),
		lost:         counter("backlog.job.lost", "Claims reaped after the claim timeout"),
		fired:        counter("backlog.schedule.fired", "Schedule instants enqueued"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func attrs(jobType, queue string) metric.AddOption {
	return metric.WithAttributes(
		attribute.String("job_type", jobType),
		attribute.String("queue", queue),
	)
}

func (m *MetricsExtension) OnRequestEnqueued(ctx context.Context, r *job.Request) error {
	m.enqueued.Add(ctx, 1, attrs(r.JobType, r.Queue))
	return nil
}

func (m *MetricsExtension) OnRequestDeduplicated(ctx context.Context, r *job.Request) error {
	m.deduplicated.Add(ctx, 1, attrs(r.JobType, r.Queue))
	return nil
}

func (m *MetricsExtension) OnJobClaimed(ctx context.Context, c *job.Claim) error {
	m.claimed.Add(ctx, 1, attrs(c.JobType, c.Queue))
	return nil
}

func (m *MetricsExtension) OnJobSucceeded(ctx context.Context, c *job.Claim, _ time.Duration) error {
	m.succeeded.Add(ctx, 1, attrs(c.JobType, c.Queue))
	return nil
}

func (m *MetricsExtension) OnJobRetried(ctx context.Context, c *job.Claim, _ *job.Request, _ error) error {
	m.retried.Add(ctx, 1, attrs(c.JobType, c.Queue))
	return nil
}

func (m *MetricsExtension) OnJobFailed(ctx context.Context, c *job.Claim, _ error) error {
	m.failed.Add(ctx, 1, attrs(c.JobType, c.Queue))
	return nil
}

func (m *MetricsExtension) OnJobLost(ctx context.Context, c *job.Claim) error {
	m.lost.Add(ctx, 1, attrs(c.JobType, c.Queue))
	return nil
}

func (m *MetricsExtension) OnScheduleFired(ctx context.Context, jobType string, _ time.Time, r *job.Request) error {
	if r == nil {
		return nil
	}
	m.fired.Add(ctx, 1, attrs(jobType, r.Queue))
	return nil
}
