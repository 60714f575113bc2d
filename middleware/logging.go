package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/backlog/job"
)

// Logging logs the start and end of every attempt.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, c *job.Claim, next Handler) error {
		log := logger.With(
			slog.String("job_type", c.JobType),
			slog.String("request_id", c.ID.String()),
			slog.String("queue", c.Queue),
			slog.Int("attempt", c.Attempt),
		)
		log.Debug("job started")

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			log.Warn("job errored", slog.Duration("elapsed", elapsed), slog.String("error", err.Error()))
			return err
		}
		log.Info("job succeeded", slog.Duration("elapsed", elapsed))
		return nil
	}
}
