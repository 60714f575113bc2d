// Package backlog is a durable background job queue for Go backed by
// Postgres.
//
// Application code enqueues units of deferred work; one or more worker
// processes claim and execute them with priority ordering, retries, and
// at-most-one admission per concurrency key. Recurring jobs fire on a
// five-field cron schedule.
//
// Backlog is a library. Import it, pick a store, register job
// definitions as ordinary Go functions, and start an engine:
//
//	store, _ := postgres.New(ctx, dsn)
//	eng, _ := engine.New(store,
//	    engine.WithConfig(backlog.DefaultConfig()),
//	)
//	engine.Register(eng, SendWelcome)
//	engine.Enqueue(ctx, eng, "send_welcome", Welcome{UserID: 42})
//	eng.Start(ctx)
//
// # Guarantees
//
// Execution is at-least-once. A worker that dies mid-job leaves a claim
// behind that the reaper converts into a "lost" result; lost jobs are not
// retried automatically. Jobs must therefore be idempotent.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based
// identifiers (req_, res_, wkr_).
package backlog
