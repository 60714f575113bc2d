package retry_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/backlog/backoff"
	"github.com/xraph/backlog/id"
	"github.com/xraph/backlog/job"
	"github.com/xraph/backlog/retry"
)

var errBoom = errors.New("boom")

func TestDecide_RetriesUntilBudgetExhausted(t *testing.T) {
	p := retry.Policy{}
	req := &job.Request{Retries: 2}

	assert.True(t, p.Decide(req, 1, errBoom).Retry)
	assert.True(t, p.Decide(req, 2, errBoom).Retry)
	assert.False(t, p.Decide(req, 3, errBoom).Retry, "third attempt is the last")
}

func TestDecide_ZeroRetries(t *testing.T) {
	assert.False(t, retry.Policy{}.Decide(&job.Request{}, 1, errBoom).Retry)
}

func TestDecide_NilErrorNeverRetries(t *testing.T) {
	assert.False(t, retry.Policy{}.Decide(&job.Request{Retries: 5}, 1, nil).Retry)
}

func TestForDefinition_UsesDefinitionBackoff(t *testing.T) {
	def := job.NewDefinition("x", func(context.Context, struct{}) error { return nil },
		job.WithRetries(3),
		job.WithBackoff(backoff.Constant{Interval: 9 * time.Second}))

	d := retry.ForDefinition(def).Decide(&job.Request{Retries: 3}, 1, errBoom)
	assert.True(t, d.Retry)
	assert.Equal(t, 9*time.Second, d.Delay)
}

func TestDecide_ExponentialDelay(t *testing.T) {
	p := retry.Policy{Delay: backoff.Exponential{Initial: time.Second}.Delay}
	req := &job.Request{Retries: 5}

	assert.Equal(t, time.Second, p.Decide(req, 1, errBoom).Delay)
	assert.Equal(t, 2*time.Second, p.Decide(req, 2, errBoom).Delay)
	assert.Equal(t, 4*time.Second, p.Decide(req, 3, errBoom).Delay)
}

func TestDecide_PermanentErrorSkipsRetries(t *testing.T) {
	err := fmt.Errorf("charge card: %w", retry.Permanent(errBoom))
	d := retry.Policy{}.Decide(&job.Request{Retries: 10}, 1, err)
	assert.False(t, d.Retry)
	assert.ErrorIs(t, err, errBoom)
	assert.Nil(t, retry.Permanent(nil))
}

func TestNext_CarriesRequestForward(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	req := &job.Request{
		ID:             id.NewRequestID(),
		JobType:        "send_welcome",
		Args:           []byte(`{"user_id":42}`),
		Queue:          "mail",
		Priority:       3,
		ConcurrencyKey: "welcome:42",
		Retries:        2,
		Attempt:        1,
		TraceContext:   map[string]string{"traceparent": "00-abc-def-01"},
	}

	next := retry.Next(req, retry.Decision{Retry: true, Delay: 4 * time.Second}, now)

	assert.NotEqual(t, req.ID.String(), next.ID.String())
	assert.Equal(t, 2, next.Attempt)
	assert.Equal(t, req.Retries, next.Retries)
	assert.Equal(t, "welcome:42", next.ConcurrencyKey)
	assert.Equal(t, now.Add(4*time.Second), next.ScheduledFor)
	assert.Equal(t, job.StatusPending, next.Status)
	assert.Equal(t, req.TraceContext, next.TraceContext)
}

type stackErr struct{}

func (stackErr) Error() string      { return "panic: nil map" }
func (stackErr) StackTrace() string { return "goroutine 1 [running]:\nmain.main()" }

func TestTrace(t *testing.T) {
	assert.Empty(t, retry.Trace(nil))

	chain := retry.Trace(fmt.Errorf("outer: %w", errBoom))
	lines := strings.Split(chain, "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "outer: boom")
	assert.Contains(t, lines[1], "boom")

	assert.Equal(t, "goroutine 1 [running]:\nmain.main()", retry.Trace(fmt.Errorf("job: %w", stackErr{})))

	joined := retry.Trace(errors.Join(errBoom, errors.New("second")))
	assert.Contains(t, joined, "second")
}
