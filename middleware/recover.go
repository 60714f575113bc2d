package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/backlog/job"
)

// PanicError is returned in place of a panic raised by a job.
type PanicError struct {
	JobType string
	Value   any
	Stack   []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in job %s: %v", e.JobType, e.Value)
}

// StackTrace returns the goroutine stack captured at the panic. Failed
// results store it as their trace.
func (e *PanicError) StackTrace() string { return string(e.Stack) }

// Unwrap exposes a panicked error value.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Recover converts panics into *PanicError.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, c *job.Claim, next Handler) (err error) {
		defer func() {
			if r := recover(); r != nil {
				pe := &PanicError{JobType: c.JobType, Value: r, Stack: debug.Stack()}
				logger.Error("job panicked",
					slog.String("job_type", c.JobType),
					slog.String("request_id", c.ID.String()),
					slog.Any("panic", r),
				)
				err = pe
			}
		}()
		return next(ctx)
	}
}
