// Package job defines the data model of the queue, typed job definitions,
// the registry and the store contract.
//
// # Lifecycle
//
// A [Request] is inserted pending, claimed by exactly one worker, and then
// replaced by a [Result]:
//
//	pending → claimed → succeeded
//	pending → claimed → retried   (a new pending request takes its place)
//	pending → claimed → failed
//	pending → claimed → lost      (claim outlived the claim timeout)
//
// Results are append-only history; pending and claimed requests live in
// a separate table so the worker poll only scans live work.
//
// # Defining a Job
//
//	var SendWelcome = job.NewDefinition("send_welcome",
//	    func(ctx context.Context, args Welcome) error {
//	        return mailer.Welcome(ctx, args.UserID)
//	    },
//	    job.WithQueue("mail"),
//	    job.WithRetries(3),
//	    job.WithBackoff(backoff.Exponential{Initial: time.Second}),
//	).KeyedBy(func(a Welcome) string { return fmt.Sprintf("welcome:%d", a.UserID) })
//
// # Concurrency keys
//
// A request with a non-empty ConcurrencyKey is admitted only when the
// definition's [AdmitFunc] approves the key's [KeyState]. The default,
// [AdmitIfIdle], keeps at most one pending-or-claimed request per key.
package job
