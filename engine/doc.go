// Package engine wires the backlog subsystems together and provides the
// application-level API for registering and enqueuing work.
//
// # Building an Engine
//
//	store, err := postgres.New(ctx, dsn)
//	if err != nil {
//	    return err
//	}
//	eng, err := engine.New(store,
//	    engine.WithConfig(cfg),
//	    engine.WithExtension(myExtension),
//	    engine.WithQueueConfig(queue.Config{Name: "mail", RateLimit: 50}),
//	)
//
// # Registering Work
//
//	var SendWelcome = job.NewDefinition("send_welcome",
//	    func(ctx context.Context, w Welcome) error { ... },
//	    job.WithRetries(3),
//	)
//	engine.Register(eng, SendWelcome)
//
// # Enqueuing
//
//	engine.Enqueue(ctx, eng, SendWelcome, Welcome{UserID: 42})
//	engine.Enqueue(ctx, eng, SendWelcome, Welcome{UserID: 42}, job.After(time.Minute))
//
// # Options
//
//   - [WithConfig] sets pool, scheduler and reaper settings
//   - [WithExtension] registers a lifecycle extension
//   - [WithMiddleware] adds a middleware to the execution chain
//   - [WithQueueConfig] configures per-queue rate limits and concurrency
//   - [WithStaticSchedules] adds recurring entries from configuration
//   - [WithTracerProvider] and [WithMeterProvider] set OpenTelemetry providers
package engine
