package stats

import (
	"context"
	"fmt"

	"github.com/conveyorhq/conveyor/job"
	"github.com/conveyorhq/conveyor/queue"
)

// Source is the read surface the collector needs from a store.
type Source interface {
	CountJobs(ctx context.Context, opts job.CountOpts) (int64, error)
	GetQueue(ctx context.Context, name string) (*queue.Queue, error)
	ListQueues(ctx context.Context) ([]*queue.Queue, error)
	Ping(ctx context.Context) error
}

// QueueStats is a point-in-time snapshot of one queue.
type QueueStats struct {
	Queue       string `json:"queue"`
	Waiting     int64  `json:"waiting"`
	Delayed     int64  `json:"delayed"`
	Active      int64  `json:"active"`
	Completed   int64  `json:"completed"`
	Failed      int64  `json:"failed"`
	Dead        int64  `json:"dead"`
	Cancelled   int64  `json:"cancelled"`
	Concurrency int    `json:"concurrency"`
	Paused      bool   `json:"paused"`
}

// Status is the overall health verdict.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
)

// Health reports store reachability.
type Health struct {
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Collector computes stats snapshots from the store. It only reads.
type Collector struct {
	source Source
}

// NewCollector creates a Collector over the given source.
func NewCollector(source Source) *Collector {
	return &Collector{source: source}
}

// QueueStats returns per-state job counts and queue settings for one
// queue. Counts are taken state by state; a snapshot may straddle
// concurrent transitions, which is fine for monitoring.
func (c *Collector) QueueStats(ctx context.Context, name string) (*QueueStats, error) {
	q, err := c.source.GetQueue(ctx, name)
	if err != nil {
		return nil, err
	}

	qs := &QueueStats{
		Queue:       q.Name,
		Concurrency: q.Concurrency,
		Paused:      q.Paused,
	}

	counts := []struct {
		state job.State
		dst   *int64
	}{
		{job.StateWaiting, &qs.Waiting},
		{job.StateDelayed, &qs.Delayed},
		{job.StateActive, &qs.Active},
		{job.StateCompleted, &qs.Completed},
		{job.StateFailed, &qs.Failed},
		{job.StateDead, &qs.Dead},
		{job.StateCancelled, &qs.Cancelled},
	}
	for _, cnt := range counts {
		n, err := c.source.CountJobs(ctx, job.CountOpts{Queue: name, State: cnt.state})
		if err != nil {
			return nil, fmt.Errorf("count %s jobs: %w", cnt.state, err)
		}
		*cnt.dst = n
	}

	return qs, nil
}

// AllQueueStats returns a snapshot for every registered queue.
func (c *Collector) AllQueueStats(ctx context.Context) ([]*QueueStats, error) {
	queues, err := c.source.ListQueues(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]*QueueStats, 0, len(queues))
	for _, q := range queues {
		qs, err := c.QueueStats(ctx, q.Name)
		if err != nil {
			return nil, err
		}
		result = append(result, qs)
	}
	return result, nil
}

// Health pings the store and reports ok or degraded.
func (c *Collector) Health(ctx context.Context) Health {
	if err := c.source.Ping(ctx); err != nil {
		return Health{Status: StatusDegraded, Error: err.Error()}
	}
	return Health{Status: StatusOK}
}
