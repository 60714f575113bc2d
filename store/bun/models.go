package bunstore

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/backlog/id"
	"github.com/xraph/backlog/job"
)

// ── Request model ─────────────────────────────────────────────────

type requestModel struct {
	bun.BaseModel `bun:"table:backlog_requests"`

	ID             string            `bun:"id,pk"`
	Seq            int64             `bun:"seq,autoincrement"`
	JobType        string            `bun:"job_type,notnull"`
	Args           string            `bun:"args,notnull,type:json"`
	Queue          string            `bun:"queue,notnull"`
	Priority       int               `bun:"priority,notnull"`
	ConcurrencyKey string            `bun:"concurrency_key,notnull"`
	ScheduledFor   time.Time         `bun:"scheduled_for,notnull"`
	Retries        int               `bun:"retries,notnull"`
	Attempt        int               `bun:"attempt,notnull"`
	TraceContext   map[string]string `bun:"trace_context,type:jsonb,nullzero"`
	Status         string            `bun:"status,notnull"`
	WorkerID       *string           `bun:"worker_id"`
	ClaimedAt      *time.Time        `bun:"claimed_at"`
	CreatedAt      time.Time         `bun:"created_at,notnull"`
}

func toRequestModel(r *job.Request) *requestModel {
	status := r.Status
	if status == "" {
		status = job.StatusPending
	}
	return &requestModel{
		ID:             r.ID.String(),
		JobType:        r.JobType,
		Args:           rawArgs(r.Args),
		Queue:          r.Queue,
		Priority:       r.Priority,
		ConcurrencyKey: r.ConcurrencyKey,
		ScheduledFor:   r.ScheduledFor,
		Retries:        r.Retries,
		Attempt:        r.Attempt,
		TraceContext:   r.TraceContext,
		Status:         string(status),
		CreatedAt:      r.CreatedAt,
	}
}

func (m *requestModel) fill(r *job.Request) error {
	parsed, err := id.ParseRequestID(m.ID)
	if err != nil {
		return fmt.Errorf("parse request id %q: %w", m.ID, err)
	}
	r.ID = parsed
	r.Seq = m.Seq
	r.JobType = m.JobType
	r.Args = []byte(m.Args)
	r.Queue = m.Queue
	r.Priority = m.Priority
	r.ConcurrencyKey = m.ConcurrencyKey
	r.ScheduledFor = m.ScheduledFor.UTC()
	r.Retries = m.Retries
	r.Attempt = m.Attempt
	if len(m.TraceContext) > 0 {
		r.TraceContext = m.TraceContext
	}
	r.Status = job.RequestStatus(m.Status)
	r.CreatedAt = m.CreatedAt.UTC()
	return nil
}

func fromRequestModel(m *requestModel) (*job.Request, error) {
	var r job.Request
	if err := m.fill(&r); err != nil {
		return nil, err
	}
	return &r, nil
}

func fromClaimModel(m *requestModel) (*job.Claim, error) {
	var c job.Claim
	if err := m.fill(&c.Request); err != nil {
		return nil, err
	}
	wid, err := parseNullID(m.WorkerID, id.ParseWorkerID)
	if err != nil {
		return nil, fmt.Errorf("parse worker id: %w", err)
	}
	c.WorkerID = wid
	if m.ClaimedAt != nil {
		c.ClaimedAt = m.ClaimedAt.UTC()
	}
	return &c, nil
}

// ── Result model ──────────────────────────────────────────────────

type resultModel struct {
	bun.BaseModel `bun:"table:backlog_results"`

	ID               string     `bun:"id,pk"`
	RequestID        string     `bun:"request_id,notnull"`
	JobType          string     `bun:"job_type,notnull"`
	Args             string     `bun:"args,notnull,type:json"`
	Queue            string     `bun:"queue,notnull"`
	Priority         int        `bun:"priority,notnull"`
	ConcurrencyKey   string     `bun:"concurrency_key,notnull"`
	Attempt          int        `bun:"attempt,notnull"`
	Retries          int        `bun:"retries,notnull"`
	Status           string     `bun:"status,notnull"`
	Error            string     `bun:"error,notnull"`
	Trace            string     `bun:"trace,notnull"`
	WorkerID         *string    `bun:"worker_id"`
	RetriedRequestID *string    `bun:"retried_request_id"`
	StartedAt        *time.Time `bun:"started_at"`
	EndedAt          time.Time  `bun:"ended_at,notnull"`
	CreatedAt        time.Time  `bun:"created_at,notnull"`
}

func toResultModel(res *job.Result) *resultModel {
	return &resultModel{
		ID:               res.ID.String(),
		RequestID:        res.RequestID.String(),
		JobType:          res.JobType,
		Args:             rawArgs(res.Args),
		Queue:            res.Queue,
		Priority:         res.Priority,
		ConcurrencyKey:   res.ConcurrencyKey,
		Attempt:          res.Attempt,
		Retries:          res.Retries,
		Status:           string(res.Status),
		Error:            res.Error,
		Trace:            res.Trace,
		WorkerID:         nullID(res.WorkerID),
		RetriedRequestID: nullID(res.RetriedRequestID),
		StartedAt:        res.StartedAt,
		EndedAt:          res.EndedAt,
		CreatedAt:        res.CreatedAt,
	}
}

func fromResultModel(m *resultModel) (*job.Result, error) {
	res := &job.Result{
		JobType:        m.JobType,
		Args:           []byte(m.Args),
		Queue:          m.Queue,
		Priority:       m.Priority,
		ConcurrencyKey: m.ConcurrencyKey,
		Attempt:        m.Attempt,
		Retries:        m.Retries,
		Status:         job.ResultStatus(m.Status),
		Error:          m.Error,
		Trace:          m.Trace,
		EndedAt:        m.EndedAt.UTC(),
		CreatedAt:      m.CreatedAt.UTC(),
	}

	var err error
	if res.ID, err = id.ParseResultID(m.ID); err != nil {
		return nil, fmt.Errorf("parse result id %q: %w", m.ID, err)
	}
	if res.RequestID, err = id.ParseRequestID(m.RequestID); err != nil {
		return nil, fmt.Errorf("parse request id %q: %w", m.RequestID, err)
	}
	if res.WorkerID, err = parseNullID(m.WorkerID, id.ParseWorkerID); err != nil {
		return nil, fmt.Errorf("parse worker id: %w", err)
	}
	if res.RetriedRequestID, err = parseNullID(m.RetriedRequestID, id.ParseRequestID); err != nil {
		return nil, fmt.Errorf("parse retried request id: %w", err)
	}
	if m.StartedAt != nil {
		t := m.StartedAt.UTC()
		res.StartedAt = &t
	}
	return res, nil
}
