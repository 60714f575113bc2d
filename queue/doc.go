// Package queue throttles claims per named queue inside one worker
// process.
//
// Queue names group requests (job.Request.Queue); workers poll the queues
// listed in backlog.Config.Queues. A [Config] caps a queue's concurrency
// and claim rate:
//
//	engine.New(store,
//	    engine.WithQueueConfig(
//	        queue.Config{Name: "mail", MaxConcurrency: 5},
//	        queue.Config{Name: "bulk", RateLimit: 5, RateBurst: 10},
//	    ),
//	)
//
// Limits are local to a process. They shape load; they do not replace
// concurrency keys, which are enforced by the store across processes.
package queue
