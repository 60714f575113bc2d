// Package middleware wraps job execution with cross-cutting behaviour.
//
// The engine installs Recover, Metrics and Logging by default, outermost
// first, followed by any application middleware. Recover must stay
// outermost so a panic anywhere in the chain becomes an ordinary job
// error that the retry policy handles.
//
//	audit := func(ctx context.Context, c *job.Claim, next middleware.Handler) error {
//	    log.Printf("running %s attempt %d", c.JobType, c.Attempt)
//	    return next(ctx)
//	}
//	engine.New(store, engine.WithMiddleware(audit))
package middleware
