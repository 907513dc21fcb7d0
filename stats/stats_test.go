package stats_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/conveyorhq/conveyor"
	"github.com/conveyorhq/conveyor/id"
	"github.com/conveyorhq/conveyor/job"
	"github.com/conveyorhq/conveyor/queue"
	"github.com/conveyorhq/conveyor/stats"
	"github.com/conveyorhq/conveyor/store/memory"
)

func seedJob(t *testing.T, s *memory.Store, q string, state job.State) {
	t.Helper()
	j := &job.Job{
		Entity:      conveyor.NewEntity(),
		ID:          id.NewJobID(),
		Queue:       q,
		State:       state,
		MaxAttempts: 3,
		ScheduledAt: time.Now().UTC(),
	}
	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
}

func TestQueueStats(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	q := queue.New(queue.Config{Name: "emails", Concurrency: 4})
	if err := s.CreateQueue(ctx, q); err != nil {
		t.Fatalf("CreateQueue: %v", err)
	}

	seedJob(t, s, "emails", job.StateWaiting)
	seedJob(t, s, "emails", job.StateWaiting)
	seedJob(t, s, "emails", job.StateDelayed)
	seedJob(t, s, "emails", job.StateActive)
	seedJob(t, s, "emails", job.StateCompleted)
	seedJob(t, s, "emails", job.StateDead)
	seedJob(t, s, "other", job.StateWaiting)

	c := stats.NewCollector(s)
	qs, err := c.QueueStats(ctx, "emails")
	if err != nil {
		t.Fatalf("QueueStats: %v", err)
	}

	if qs.Waiting != 2 {
		t.Errorf("Waiting = %d, want 2", qs.Waiting)
	}
	if qs.Delayed != 1 {
		t.Errorf("Delayed = %d, want 1", qs.Delayed)
	}
	if qs.Active != 1 {
		t.Errorf("Active = %d, want 1", qs.Active)
	}
	if qs.Completed != 1 {
		t.Errorf("Completed = %d, want 1", qs.Completed)
	}
	if qs.Dead != 1 {
		t.Errorf("Dead = %d, want 1", qs.Dead)
	}
	if qs.Concurrency != 4 {
		t.Errorf("Concurrency = %d, want 4", qs.Concurrency)
	}
	if qs.Paused {
		t.Error("Paused = true, want false")
	}
}

func TestQueueStats_UnknownQueue(t *testing.T) {
	c := stats.NewCollector(memory.New())
	_, err := c.QueueStats(context.Background(), "nope")
	if !errors.Is(err, conveyor.ErrQueueNotFound) {
		t.Fatalf("expected ErrQueueNotFound, got %v", err)
	}
}

func TestQueueStats_ReflectsPause(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	if err := s.CreateQueue(ctx, queue.New(queue.Config{Name: "emails"})); err != nil {
		t.Fatalf("CreateQueue: %v", err)
	}
	if err := s.SetQueuePaused(ctx, "emails", true); err != nil {
		t.Fatalf("SetQueuePaused: %v", err)
	}

	qs, err := stats.NewCollector(s).QueueStats(ctx, "emails")
	if err != nil {
		t.Fatalf("QueueStats: %v", err)
	}
	if !qs.Paused {
		t.Error("Paused = false, want true")
	}
}

func TestAllQueueStats(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	for _, name := range []string{"a", "b"} {
		if err := s.CreateQueue(ctx, queue.New(queue.Config{Name: name})); err != nil {
			t.Fatalf("CreateQueue: %v", err)
		}
	}
	seedJob(t, s, "b", job.StateWaiting)

	all, err := stats.NewCollector(s).AllQueueStats(ctx)
	if err != nil {
		t.Fatalf("AllQueueStats: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(all))
	}
	if all[0].Queue != "a" || all[1].Queue != "b" {
		t.Errorf("snapshot order: %q, %q", all[0].Queue, all[1].Queue)
	}
	if all[1].Waiting != 1 {
		t.Errorf("b.Waiting = %d, want 1", all[1].Waiting)
	}
}

func TestHealth(t *testing.T) {
	s := memory.New()
	c := stats.NewCollector(s)

	h := c.Health(context.Background())
	if h.Status != stats.StatusOK {
		t.Errorf("Status = %q, want %q", h.Status, stats.StatusOK)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	h = c.Health(context.Background())
	if h.Status != stats.StatusDegraded {
		t.Errorf("Status = %q, want %q", h.Status, stats.StatusDegraded)
	}
	if h.Error == "" {
		t.Error("degraded health should carry the error")
	}
}

func TestRecorder_CountsEvents(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	r := stats.NewRecorderWithMeter(mp.Meter("test"))

	ctx := context.Background()
	j := &job.Job{ID: id.NewJobID(), Queue: "emails"}

	if err := r.OnJobEnqueued(ctx, j); err != nil {
		t.Fatalf("OnJobEnqueued: %v", err)
	}
	if err := r.OnJobEnqueued(ctx, j); err != nil {
		t.Fatalf("OnJobEnqueued: %v", err)
	}
	if err := r.OnJobCompleted(ctx, j, time.Second); err != nil {
		t.Fatalf("OnJobCompleted: %v", err)
	}
	if err := r.OnJobDeadLettered(ctx, j, errors.New("x")); err != nil {
		t.Fatalf("OnJobDeadLettered: %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	want := map[string]int64{
		"conveyor.job.enqueued":      2,
		"conveyor.job.completed":     1,
		"conveyor.job.dead_lettered": 1,
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			expected, ok := want[m.Name]
			if !ok {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Errorf("%s: expected Sum[int64]", m.Name)
				continue
			}
			var total int64
			for _, dp := range sum.DataPoints {
				if v, found := dp.Attributes.Value(attribute.Key("queue")); found && v.AsString() != "emails" {
					continue
				}
				total += dp.Value
			}
			if total != expected {
				t.Errorf("%s = %d, want %d", m.Name, total, expected)
			}
			delete(want, m.Name)
		}
	}
	for name := range want {
		t.Errorf("metric %s not recorded", name)
	}
}
