package history

import (
	"context"
	"fmt"

	"github.com/xraph/backlog/job"
)

// Summary counts requests and results, optionally for one queue.
type Summary struct {
	Queue     string `json:"queue,omitempty"`
	Pending   int64  `json:"pending"`
	Claimed   int64  `json:"claimed"`
	Succeeded int64  `json:"succeeded"`
	Retried   int64  `json:"retried"`
	Failed    int64  `json:"failed"`
	Lost      int64  `json:"lost"`
}

// Summarize counts each request and result status. An empty queue
// counts all queues.
func (s *Service) Summarize(ctx context.Context, queue string) (*Summary, error) {
	sum := &Summary{Queue: queue}

	for status, dst := range map[job.RequestStatus]*int64{
		job.StatusPending: &sum.Pending,
		job.StatusClaimed: &sum.Claimed,
	} {
		n, err := s.store.CountRequests(ctx, job.CountOpts{Queue: queue, Status: string(status)})
		if err != nil {
			return nil, fmt.Errorf("count %s requests: %w", status, err)
		}
		*dst = n
	}

	for status, dst := range map[job.ResultStatus]*int64{
		job.ResultSucceeded: &sum.Succeeded,
		job.ResultRetried:   &sum.Retried,
		job.ResultFailed:    &sum.Failed,
		job.ResultLost:      &sum.Lost,
	} {
		n, err := s.store.CountResults(ctx, job.CountOpts{Queue: queue, Status: string(status)})
		if err != nil {
			return nil, fmt.Errorf("count %s results: %w", status, err)
		}
		*dst = n
	}
	return sum, nil
}
