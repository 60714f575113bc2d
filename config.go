package backlog

import "time"

// Config holds runtime configuration shared by the engine's workers,
// scheduler and reaper.
type Config struct {
	// Concurrency is the number of jobs a process executes in parallel.
	Concurrency int

	// Queues is the list of queues this process polls. Empty means all.
	Queues []string

	// DefaultQueue is used when neither the enqueue call nor the job
	// definition names a queue.
	DefaultQueue string

	// PollInterval is how long an idle worker sleeps between polls.
	PollInterval time.Duration

	// ClaimBatch is how many candidates a worker fetches per poll.
	ClaimBatch int

	// ShutdownTimeout bounds how long Stop waits for in-flight jobs.
	ShutdownTimeout time.Duration

	// ClaimTimeout is how long a claim may be held before the reaper
	// records the job as lost.
	ClaimTimeout time.Duration

	// ResultRetention is how long results are kept. Zero keeps them forever.
	ResultRetention time.Duration

	// ScheduleInterval is the scheduler tick. A zero value disables the
	// scheduler in this process.
	ScheduleInterval time.Duration

	// ReapInterval is the reaper tick. A zero value disables the reaper
	// in this process.
	ReapInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:      10,
		Queues:           []string{"default"},
		DefaultQueue:     "default",
		PollInterval:     time.Second,
		ClaimBatch:       5,
		ShutdownTimeout:  30 * time.Second,
		ClaimTimeout:     time.Hour,
		ResultRetention:  30 * 24 * time.Hour,
		ScheduleInterval: 15 * time.Second,
		ReapInterval:     time.Minute,
	}
}
