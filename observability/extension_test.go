package observability_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/xraph/backlog/job"
	"github.com/xraph/backlog/observability"
)

func totals(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				out[m.Name] += dp.Value
			}
		}
	}
	return out
}

func TestMetricsExtension_CountsEveryHook(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	e := observability.NewMetricsExtensionWithMeter(mp.Meter("test"))
	ctx := context.Background()

	r := &job.Request{JobType: "digest", Queue: "default"}
	c := &job.Claim{Request: *r}

	require.NoError(t, e.OnRequestEnqueued(ctx, r))
	require.NoError(t, e.OnRequestEnqueued(ctx, r))
	require.NoError(t, e.OnRequestDeduplicated(ctx, r))
	require.NoError(t, e.OnJobClaimed(ctx, c))
	require.NoError(t, e.OnJobSucceeded(ctx, c, time.Second))
	require.NoError(t, e.OnJobRetried(ctx, c, r, errors.New("x")))
	require.NoError(t, e.OnJobFailed(ctx, c, errors.New("x")))
	require.NoError(t, e.OnJobLost(ctx, c))
	require.NoError(t, e.OnScheduleFired(ctx, "digest", time.Now(), r))
	require.NoError(t, e.OnScheduleFired(ctx, "digest", time.Now(), nil))

	assert.Equal(t, map[string]int64{
		"backlog.request.enqueued":     2,
		"backlog.request.deduplicated": 1,
		"backlog.job.claimed":          1,
		"backlog.job.succeeded":        1,
		"backlog.job.retried":          1,
		"backlog.job.failed":           1,
		"backlog.job.lost":             1,
		"backlog.schedule.fired":       1,
	}, totals(t, reader))
}

func TestMetricsExtension_Name(t *testing.T) {
	assert.Equal(t, "observability-metrics", observability.NewMetricsExtension().Name())
}
