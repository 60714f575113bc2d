// Package history exposes the result log: inspection, queue statistics,
// and operator requeue of failed or lost jobs.
//
// Results are append-only. Requeue never modifies the result it starts
// from; it enqueues a fresh request with the same type, arguments, queue,
// priority, retry budget and concurrency key, through the normal
// admission path:
//
//	svc := history.NewService(store, enqueuer)
//	req, err := svc.Requeue(ctx, resultID)
//
// A nil request with a nil error means admission rejected the requeue
// because the key is already pending or claimed.
package history
