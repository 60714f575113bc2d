// Package ext lets applications observe the queue without wrapping it.
//
// # Implementing an Extension
//
//	type Auditor struct{ log *slog.Logger }
//
//	func (a *Auditor) Name() string { return "auditor" }
//
//	func (a *Auditor) OnJobFailed(ctx context.Context, c *job.Claim, err error) error {
//	    a.log.Error("job failed", "type", c.JobType, "error", err)
//	    return nil
//	}
//
// # Hooks
//
//   - [RequestEnqueued], [RequestDeduplicated]: the enqueue path
//   - [JobClaimed], [JobSucceeded], [JobRetried], [JobFailed]: workers
//   - [JobLost]: the reaper
//   - [ScheduleFired]: the scheduler
//   - [Shutdown]: engine stop
//
// Hooks run synchronously on the caller's goroutine, so they should be
// quick. Returned errors are logged.
package ext
