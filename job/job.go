package job

import (
	"encoding/json"
	"time"

	"github.com/xraph/backlog/id"
)

// RequestStatus distinguishes waiting requests from claimed ones.
type RequestStatus string

const (
	// StatusPending means the request waits for a worker.
	StatusPending RequestStatus = "pending"
	// StatusClaimed means exactly one worker holds the request.
	StatusClaimed RequestStatus = "claimed"
)

// Request is a unit of work waiting for, or held by, a worker.
type Request struct {
	ID             id.RequestID      `json:"id"`
	JobType        string            `json:"job_type"`
	Args           json.RawMessage   `json:"args"`
	Queue          string            `json:"queue"`
	Priority       int               `json:"priority"`
	ConcurrencyKey string            `json:"concurrency_key,omitempty"`
	ScheduledFor   time.Time         `json:"scheduled_for"`
	Retries        int               `json:"retries"`
	Attempt        int               `json:"attempt"`
	TraceContext   map[string]string `json:"trace_context,omitempty"`
	Status         RequestStatus     `json:"status"`
	CreatedAt      time.Time         `json:"created_at"`

	// Seq is assigned by the store and breaks ordering ties between
	// requests with equal priority and scheduled time.
	Seq int64 `json:"seq"`
}

// Claim is a request held by a worker. The worker that claimed it is the
// only process allowed to finish or retry it.
type Claim struct {
	Request

	WorkerID  id.WorkerID `json:"worker_id"`
	ClaimedAt time.Time   `json:"claimed_at"`
}

// ResultStatus is the terminal outcome recorded for one attempt.
type ResultStatus string

const (
	// ResultSucceeded means the job returned nil.
	ResultSucceeded ResultStatus = "succeeded"
	// ResultFailed means the job errored with no retries left, or its type
	// was unknown.
	ResultFailed ResultStatus = "failed"
	// ResultLost means the claim outlived the claim timeout.
	ResultLost ResultStatus = "lost"
	// ResultRetried means the attempt failed and a new request was queued.
	ResultRetried ResultStatus = "retried"
)

// Result is one immutable row of execution history.
type Result struct {
	ID               id.ResultID     `json:"id"`
	RequestID        id.RequestID    `json:"request_id"`
	JobType          string          `json:"job_type"`
	Args             json.RawMessage `json:"args"`
	Queue            string          `json:"queue"`
	Priority         int             `json:"priority"`
	ConcurrencyKey   string          `json:"concurrency_key,omitempty"`
	Attempt          int             `json:"attempt"`
	Retries          int             `json:"retries"`
	Status           ResultStatus    `json:"status"`
	Error            string          `json:"error,omitempty"`
	Trace            string          `json:"trace,omitempty"`
	WorkerID         id.WorkerID     `json:"worker_id,omitempty"`
	RetriedRequestID id.RequestID    `json:"retried_request_id,omitempty"`
	StartedAt        *time.Time      `json:"started_at,omitempty"`
	EndedAt          time.Time       `json:"ended_at"`
	CreatedAt        time.Time       `json:"created_at"`
}

// NewResult builds a result for the claim's current attempt.
func NewResult(c *Claim, status ResultStatus, startedAt *time.Time, endedAt time.Time) *Result {
	return &Result{
		ID:             id.NewResultID(),
		RequestID:      c.ID,
		JobType:        c.JobType,
		Args:           c.Args,
		Queue:          c.Queue,
		Priority:       c.Priority,
		ConcurrencyKey: c.ConcurrencyKey,
		Attempt:        c.Attempt,
		Retries:        c.Retries,
		Status:         status,
		WorkerID:       c.WorkerID,
		StartedAt:      startedAt,
		EndedAt:        endedAt,
		CreatedAt:      endedAt,
	}
}

// KeyState summarises what the store holds for one concurrency key at the
// moment an admission decision is made.
type KeyState struct {
	// Pending counts requests waiting for a worker.
	Pending int
	// Claimed counts requests held by a worker.
	Claimed int
	// Finished counts results recorded under the key.
	Finished int
}

// Active reports whether any request with the key is pending or claimed.
func (s KeyState) Active() bool { return s.Pending+s.Claimed > 0 }
