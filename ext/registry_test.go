package ext_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/xraph/backlog/ext"
	"github.com/xraph/backlog/job"
)

type recorder struct {
	calls []string
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) OnRequestEnqueued(context.Context, *job.Request) error {
	r.calls = append(r.calls, "enqueued")
	return nil
}

func (r *recorder) OnRequestDeduplicated(context.Context, *job.Request) error {
	r.calls = append(r.calls, "deduplicated")
	return nil
}

func (r *recorder) OnJobClaimed(context.Context, *job.Claim) error {
	r.calls = append(r.calls, "claimed")
	return nil
}

func (r *recorder) OnJobSucceeded(context.Context, *job.Claim, time.Duration) error {
	r.calls = append(r.calls, "succeeded")
	return nil
}

func (r *recorder) OnJobRetried(context.Context, *job.Claim, *job.Request, error) error {
	r.calls = append(r.calls, "retried")
	return nil
}

func (r *recorder) OnJobFailed(context.Context, *job.Claim, error) error {
	r.calls = append(r.calls, "failed")
	return nil
}

func (r *recorder) OnJobLost(context.Context, *job.Claim) error {
	r.calls = append(r.calls, "lost")
	return nil
}

func (r *recorder) OnScheduleFired(context.Context, string, time.Time, *job.Request) error {
	r.calls = append(r.calls, "fired")
	return nil
}

func (r *recorder) OnShutdown(context.Context) error {
	r.calls = append(r.calls, "shutdown")
	return nil
}

type onlyFailed struct {
	n int
}

func (o *onlyFailed) Name() string { return "only-failed" }

func (o *onlyFailed) OnJobFailed(context.Context, *job.Claim, error) error {
	o.n++
	return errors.New("pager unavailable")
}

func TestRegistry_DispatchesEveryHook(t *testing.T) {
	ctx := context.Background()
	r := ext.NewRegistry(slog.Default())
	rec := &recorder{}
	r.Register(rec)

	c := &job.Claim{}
	r.EmitRequestEnqueued(ctx, &job.Request{})
	r.EmitRequestDeduplicated(ctx, &job.Request{})
	r.EmitJobClaimed(ctx, c)
	r.EmitJobSucceeded(ctx, c, time.Second)
	r.EmitJobRetried(ctx, c, &job.Request{}, errors.New("x"))
	r.EmitJobFailed(ctx, c, errors.New("x"))
	r.EmitJobLost(ctx, c)
	r.EmitScheduleFired(ctx, "digest", time.Now(), nil)
	r.EmitShutdown(ctx)

	assert.Equal(t, []string{
		"enqueued", "deduplicated", "claimed", "succeeded", "retried",
		"failed", "lost", "fired", "shutdown",
	}, rec.calls)
}

func TestRegistry_PartialExtensionAndHookErrors(t *testing.T) {
	var buf bytes.Buffer
	r := ext.NewRegistry(slog.New(slog.NewTextHandler(&buf, nil)))
	o := &onlyFailed{}
	r.Register(o)

	r.EmitJobSucceeded(context.Background(), &job.Claim{}, 0)
	r.EmitJobFailed(context.Background(), &job.Claim{}, errors.New("x"))

	assert.Equal(t, 1, o.n)
	assert.Contains(t, buf.String(), "pager unavailable")
	assert.Contains(t, buf.String(), "only-failed")
	assert.Len(t, r.Extensions(), 1)
}

func TestRegistry_NilLoggerFallsBack(t *testing.T) {
	r := ext.NewRegistry(nil)
	r.Register(&onlyFailed{})
	r.EmitJobFailed(context.Background(), &job.Claim{}, errors.New("x"))
}
