package queue_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/xraph/backlog/queue"
)

func TestManager_UnconfiguredQueueIsUnlimited(t *testing.T) {
	m := queue.NewManager()
	for i := 0; i < 100; i++ {
		if !m.Acquire("anything") {
			t.Fatal("expected unconfigured queue to admit")
		}
	}
	if got := m.ActiveCount("anything"); got != 0 {
		t.Errorf("ActiveCount = %d, want 0 for unconfigured queue", got)
	}
}

func TestManager_MaxConcurrency(t *testing.T) {
	m := queue.NewManager(queue.Config{Name: "mail", MaxConcurrency: 2})

	if !m.Acquire("mail") || !m.Acquire("mail") {
		t.Fatal("first two acquires should succeed")
	}
	if m.Acquire("mail") {
		t.Fatal("third acquire should be rejected")
	}
	if got := m.Available([]string{"mail", "default"}); len(got) != 1 || got[0] != "default" {
		t.Errorf("Available = %v, want [default]", got)
	}

	m.Release("mail")
	if !m.Acquire("mail") {
		t.Fatal("acquire after release should succeed")
	}
	if got := m.ActiveCount("mail"); got != 2 {
		t.Errorf("ActiveCount = %d, want 2", got)
	}
}

func TestManager_ReleaseNeverGoesNegative(t *testing.T) {
	m := queue.NewManager(queue.Config{Name: "mail", MaxConcurrency: 1})
	m.Release("mail")
	m.Release("mail")
	if got := m.ActiveCount("mail"); got != 0 {
		t.Errorf("ActiveCount = %d, want 0", got)
	}
}

func TestManager_RateLimitBurst(t *testing.T) {
	// One token per hour with a burst of three: exactly three claims pass.
	m := queue.NewManager(queue.Config{Name: "bulk", RateLimit: 1.0 / 3600, RateBurst: 3})

	admitted := 0
	for i := 0; i < 10; i++ {
		if m.Acquire("bulk") {
			m.Commit("bulk")
			m.Release("bulk")
			admitted++
		}
	}
	if admitted != 3 {
		t.Errorf("admitted %d, want 3", admitted)
	}
}

func TestManager_SetConfigKeepsActiveCount(t *testing.T) {
	m := queue.NewManager(queue.Config{Name: "mail", MaxConcurrency: 5})
	m.Acquire("mail")
	m.Acquire("mail")

	m.SetConfig(queue.Config{Name: "mail", MaxConcurrency: 2})
	if m.Acquire("mail") {
		t.Fatal("new cap of 2 should already be reached")
	}
	if got := m.ActiveCount("mail"); got != 2 {
		t.Errorf("ActiveCount = %d, want 2", got)
	}
}

func TestManager_ConcurrentAcquireRespectsCap(t *testing.T) {
	m := queue.NewManager(queue.Config{Name: "mail", MaxConcurrency: 4})

	var (
		wg  sync.WaitGroup
		got atomic.Int64
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.Acquire("mail") {
				got.Add(1)
			}
		}()
	}
	wg.Wait()
	if got.Load() != 4 {
		t.Errorf("acquired %d slots, want 4", got.Load())
	}
}

func TestManager_CancelReturnsToken(t *testing.T) {
	m := queue.NewManager(queue.Config{Name: "bulk", RateLimit: 1.0 / 3600, RateBurst: 1})

	// Lost claims hand their token back.
	for i := 0; i < 10; i++ {
		if !m.Acquire("bulk") {
			t.Fatalf("acquire %d rejected after cancelled claims", i)
		}
		m.Cancel("bulk")
	}
	if got := m.ActiveCount("bulk"); got != 0 {
		t.Errorf("ActiveCount = %d, want 0", got)
	}

	if !m.Acquire("bulk") {
		t.Fatal("acquire should succeed")
	}
	m.Commit("bulk")
	m.Release("bulk")
	if m.Acquire("bulk") {
		t.Fatal("committed token should be spent")
	}
}

func TestManager_HeldTokenBlocksOtherClaims(t *testing.T) {
	m := queue.NewManager(queue.Config{Name: "bulk", RateLimit: 1.0 / 3600, RateBurst: 1})

	if !m.Acquire("bulk") {
		t.Fatal("first acquire should succeed")
	}
	if m.Acquire("bulk") {
		t.Fatal("token is held by the first claim")
	}
	m.Cancel("bulk")
	if !m.Acquire("bulk") {
		t.Fatal("cancelled token should be available again")
	}
}
