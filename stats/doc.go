// Package stats provides read-only observability over the store: per
// queue state counts, health checks, and a lifecycle-event recorder.
//
// The [Collector] answers point-in-time questions from the store and
// never mutates it:
//
//	c := stats.NewCollector(s)
//	qs, err := c.QueueStats(ctx, "emails")
//	// qs.Waiting, qs.Active, qs.Dead, ...
//
// [Collector.Health] reports degraded when the store stops responding
// to pings, so worker hosts can expose readiness without touching job
// data.
//
// The [Recorder] is a lifecycle hook that counts enqueues, completions,
// retries, and dead-letters through OpenTelemetry counters. Register it
// on the engine to track throughput without polling:
//
//	eng.RegisterHook(stats.NewRecorder())
package stats
