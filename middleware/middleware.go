package middleware

import (
	"context"

	"github.com/xraph/backlog/job"
)

// Handler runs the job body.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler. It receives the claim being executed and
// must call next unless it deliberately short-circuits.
type Middleware func(ctx context.Context, c *job.Claim, next Handler) error

// Chain composes middleware so the first element is the outermost:
// Chain(a, b)(ctx, c, h) runs a → b → h.
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, c *job.Claim, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			m, inner := mws[i], h
			h = func(ctx context.Context) error { return m(ctx, c, inner) }
		}
		return h(ctx)
	}
}
