// Package queue defines the queue entity, its persistence contract, and
// the local dispatch gate with per-queue rate limiting.
//
// Queues are named, independently configured streams of jobs. Each queue
// owns its concurrency budget (how many of its jobs may be active at
// once) and a paused flag. Both live in the store, so pausing a queue in
// one process stops claiming in every process sharing the store.
//
// # Per-Queue Configuration
//
// Use [Config] to declare a queue when building the engine:
//
//	queue.Config{
//	    Name:        "notifications",
//	    Concurrency: 8,     // max 8 active notification jobs
//	    RateLimit:   20,    // max 20 claims/s from this queue
//	    RateBurst:   40,    // allow bursts up to 40
//	}
//
// Queues referenced by an enqueue without prior registration are created
// on first use with Concurrency 1.
//
// # Manager
//
// [Manager] is the local claim gate. Worker slots call Acquire before
// claiming and Release after execution. It enforces the token-bucket rate
// limit (golang.org/x/time/rate) and tracks local active counts; hard
// exclusivity and cross-process concurrency are enforced by the store's
// atomic claim, not here.
package queue
