package queue

import (
	"sync"

	"golang.org/x/time/rate"
)

// Config sets limits for one named queue.
type Config struct {
	// Name matches job.Request.Queue.
	Name string

	// MaxConcurrency caps how many of the queue's jobs this process runs
	// at once. Zero means only the pool-wide limit applies.
	MaxConcurrency int

	// RateLimit is the sustained number of claims per second. Zero
	// disables rate limiting.
	RateLimit float64

	// RateBurst is the token-bucket burst. Defaults to 1 when RateLimit
	// is set.
	RateBurst int
}

type state struct {
	config  Config
	limiter *rate.Limiter
	active  int
	// held counts rate tokens set aside by Acquire and not yet committed
	// or cancelled.
	held int
}

func newState(cfg Config) *state {
	s := &state{config: cfg}
	if cfg.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(cfg.RateBurst, 1))
	}
	return s
}

func (s *state) saturated() bool {
	return s.config.MaxConcurrency > 0 && s.active >= s.config.MaxConcurrency
}

// Manager gates claims per queue within one worker process. It is safe
// for concurrent use.
type Manager struct {
	mu     sync.Mutex
	queues map[string]*state
}

// NewManager creates a Manager. Queues without a Config are unlimited.
func NewManager(configs ...Config) *Manager {
	m := &Manager{queues: make(map[string]*state, len(configs))}
	for _, cfg := range configs {
		m.queues[cfg.Name] = newState(cfg)
	}
	return m
}

// Acquire reserves a slot on queue and sets aside one rate token without
// spending it. It returns false when the queue is at its concurrency cap
// or has no uncommitted token left. A successful Acquire is followed by
// Commit once the claim is won, or Cancel when it is lost.
func (m *Manager) Acquire(queue string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.queues[queue]
	if s == nil {
		return true
	}
	if s.saturated() {
		return false
	}
	if s.limiter != nil {
		if s.limiter.Tokens()-float64(s.held) < 1 {
			return false
		}
		s.held++
	}
	s.active++
	return true
}

// Commit spends the token held by Acquire. The slot stays taken until
// Release.
func (m *Manager) Commit(queue string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.queues[queue]
	if s == nil || s.limiter == nil || s.held == 0 {
		return
	}
	s.held--
	// Reserve never blocks. A token taken after a concurrent refill only
	// pushes the next one further out.
	s.limiter.Reserve()
}

// Cancel gives back the slot and the token held by Acquire, for claims
// lost to another worker.
func (m *Manager) Cancel(queue string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.queues[queue]
	if s == nil {
		return
	}
	if s.held > 0 {
		s.held--
	}
	if s.active > 0 {
		s.active--
	}
}

// Release frees a slot taken by Acquire and kept by Commit.
func (m *Manager) Release(queue string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s := m.queues[queue]; s != nil && s.active > 0 {
		s.active--
	}
}

// Available filters queues down to those below their concurrency cap, so
// workers do not poll for work they cannot start. Rate limits are not
// consulted because checking one spends a token.
func (m *Manager) Available(queues []string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(queues))
	for _, q := range queues {
		if s := m.queues[q]; s == nil || !s.saturated() {
			out = append(out, q)
		}
	}
	return out
}

// SetConfig adds or replaces a queue's limits, keeping its active count.
func (m *Manager) SetConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := newState(cfg)
	if old := m.queues[cfg.Name]; old != nil {
		s.active = old.active
		if s.limiter != nil {
			s.held = old.held
		}
	}
	m.queues[cfg.Name] = s
}

// ActiveCount returns the number of acquired slots on queue.
func (m *Manager) ActiveCount(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s := m.queues[queue]; s != nil {
		return s.active
	}
	return 0
}
