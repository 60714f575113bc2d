// Package backoff provides delay strategies. Job definitions use them to
// space out retries (job.WithBackoff) and the worker pool uses one to
// back off from a failing store.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before attempt n (1-indexed) is repeated.
type Strategy interface {
	Delay(attempt int) time.Duration
}

// Func adapts a plain function to Strategy.
type Func func(attempt int) time.Duration

// Delay calls f.
func (f Func) Delay(attempt int) time.Duration { return f(attempt) }

// Constant always waits Interval.
type Constant struct {
	Interval time.Duration
}

// Delay returns the fixed interval.
func (c Constant) Delay(int) time.Duration { return c.Interval }

// Linear waits Initial*attempt, capped at Max when Max is positive.
type Linear struct {
	Initial time.Duration
	Max     time.Duration
}

// Delay returns Initial * attempt.
func (l Linear) Delay(attempt int) time.Duration {
	return capAt(float64(l.Initial)*float64(max(attempt, 1)), l.Max)
}

// Exponential waits Initial*2^(attempt-1), capped at Max when Max is
// positive. With Initial of one second this yields 1s, 2s, 4s, ...
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// Delay returns Initial * 2^(attempt-1).
func (e Exponential) Delay(attempt int) time.Duration {
	return capAt(exp(e.Initial, attempt), e.Max)
}

// Jitter is Exponential with full jitter: a uniform draw from
// [0, Initial*2^(attempt-1)], capped at Max.
type Jitter struct {
	Initial time.Duration
	Max     time.Duration
}

// Delay returns a random duration bounded by the exponential delay.
func (j Jitter) Delay(attempt int) time.Duration {
	ceiling := capAt(exp(j.Initial, attempt), j.Max)
	return time.Duration(rand.Float64() * float64(ceiling)) //nolint:gosec // jitter does not need crypto rand
}

// Polling is the strategy workers use after a store error: jittered,
// starting at 100ms and never exceeding 30s.
func Polling() Strategy {
	return Jitter{Initial: 100 * time.Millisecond, Max: 30 * time.Second}
}

func exp(initial time.Duration, attempt int) float64 {
	return float64(initial) * math.Pow(2, float64(max(attempt, 1)-1))
}

func capAt(d float64, ceiling time.Duration) time.Duration {
	if ceiling > 0 && d > float64(ceiling) {
		return ceiling
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}
