// Package conveyor provides a durable background job queue and scheduling
// engine for Go. It offers named queues with independent concurrency,
// priority-ordered dispatch, at-least-once delivery backed by leases,
// retry with pluggable backoff, dead-lettering, and recurring jobs.
//
// Conveyor is designed as a library, not a service. Import it, configure a
// store, register handlers as ordinary Go functions, and start the engine.
//
// # Quick Start
//
//	eng, err := engine.New(pgStore,
//	    engine.WithQueueConfig(queue.Config{Name: "notifications", Concurrency: 8}),
//	)
//	engine.Register(eng, job.NewDefinition("notifications", sendSMS))
//	j, err := engine.Enqueue(ctx, eng, "notifications", payload)
//
// # Architecture
//
// Conveyor follows a composable store pattern: each subsystem (job, queue,
// recurring, dlq) defines its own store interface and a single backend
// (memory, redis, postgres) implements all of them. All cross-worker
// coordination — claim exclusivity, dequeue ordering, pause state,
// recurring-tick idempotency — is expressed as atomic operations against
// that store; the claim operation itself is the lock.
//
// Delivery is at-least-once: a claimed job carries a lease that must be
// heartbeated, and jobs whose lease expires are returned to the queue.
// Handlers must therefore be idempotent.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package conveyor
