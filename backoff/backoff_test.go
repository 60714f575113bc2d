package backoff_test

import (
	"testing"
	"time"

	"github.com/xraph/backlog/backoff"
)

func TestConstant(t *testing.T) {
	c := backoff.Constant{Interval: 5 * time.Second}
	for attempt := 1; attempt <= 5; attempt++ {
		if got := c.Delay(attempt); got != 5*time.Second {
			t.Errorf("Delay(%d) = %v, want 5s", attempt, got)
		}
	}
}

func TestLinear(t *testing.T) {
	l := backoff.Linear{Initial: time.Second, Max: 5 * time.Second}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{3, 3 * time.Second},
		{10, 5 * time.Second},
	}
	for _, tt := range tests {
		if got := l.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponential_PowersOfTwoSeconds(t *testing.T) {
	e := backoff.Exponential{Initial: time.Second}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{6, 32 * time.Second},
	}
	for _, tt := range tests {
		if got := e.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponential_CapsAndDoesNotOverflow(t *testing.T) {
	e := backoff.Exponential{Initial: time.Second, Max: time.Minute}
	if got := e.Delay(30); got != time.Minute {
		t.Errorf("Delay(30) = %v, want 1m", got)
	}
	uncapped := backoff.Exponential{Initial: time.Second}
	if got := uncapped.Delay(200); got <= 0 {
		t.Errorf("Delay(200) = %v, want positive", got)
	}
}

func TestJitter_StaysInRange(t *testing.T) {
	j := backoff.Jitter{Initial: time.Second, Max: 10 * time.Second}
	for i := 0; i < 200; i++ {
		attempt := 1 + i%8
		ceiling := time.Second << (attempt - 1)
		if ceiling > 10*time.Second {
			ceiling = 10 * time.Second
		}
		if got := j.Delay(attempt); got < 0 || got > ceiling {
			t.Fatalf("Delay(%d) = %v, want within [0, %v]", attempt, got, ceiling)
		}
	}
}

func TestFunc(t *testing.T) {
	var s backoff.Strategy = backoff.Func(func(attempt int) time.Duration {
		return time.Duration(attempt) * time.Millisecond
	})
	if got := s.Delay(7); got != 7*time.Millisecond {
		t.Errorf("Delay(7) = %v, want 7ms", got)
	}
}

func TestPollingIsBounded(t *testing.T) {
	p := backoff.Polling()
	for attempt := 1; attempt < 50; attempt++ {
		if got := p.Delay(attempt); got > 30*time.Second {
			t.Fatalf("Delay(%d) = %v, exceeds 30s", attempt, got)
		}
	}
}
