package history

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/id"
	"github.com/xraph/backlog/job"
)

// Enqueuer is the producer Requeue goes through. *enqueue.Enqueuer
// satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType string, args any, opts ...job.EnqueueOption) (*job.Request, error)
}

// Service provides read and requeue operations over a store.
type Service struct {
	store    job.Store
	enqueuer Enqueuer
}

// NewService creates a history service.
func NewService(store job.Store, enqueuer Enqueuer) *Service {
	return &Service{store: store, enqueuer: enqueuer}
}

// Get returns one result.
func (s *Service) Get(ctx context.Context, resultID id.ResultID) (*job.Result, error) {
	return s.store.GetResult(ctx, resultID)
}

// List returns results, newest first.
func (s *Service) List(ctx context.Context, opts job.ResultListOpts) ([]*job.Result, error) {
	return s.store.ListResults(ctx, opts)
}

// Requeue enqueues a new request from a failed or lost result. Other
// statuses return ErrNotRequeueable.
func (s *Service) Requeue(ctx context.Context, resultID id.ResultID) (*job.Request, error) {
	res, err := s.store.GetResult(ctx, resultID)
	if err != nil {
		return nil, err
	}
	if res.Status != job.ResultFailed && res.Status != job.ResultLost {
		return nil, fmt.Errorf("%w: %s is %s", backlog.ErrNotRequeueable, resultID, res.Status)
	}

	opts := []job.EnqueueOption{
		job.OnQueue(res.Queue),
		job.AtPriority(res.Priority),
		job.MaxRetries(res.Retries),
	}
	if res.ConcurrencyKey != "" {
		opts = append(opts, job.Key(res.ConcurrencyKey))
	}
	args := res.Args
	if len(args) == 0 {
		args = json.RawMessage("null")
	}
	return s.enqueuer.Enqueue(ctx, res.JobType, args, opts...)
}
