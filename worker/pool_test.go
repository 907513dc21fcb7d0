package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/conveyorhq/conveyor"
	"github.com/conveyorhq/conveyor/backoff"
	"github.com/conveyorhq/conveyor/dlq"
	"github.com/conveyorhq/conveyor/hook"
	"github.com/conveyorhq/conveyor/id"
	"github.com/conveyorhq/conveyor/job"
	"github.com/conveyorhq/conveyor/middleware"
	"github.com/conveyorhq/conveyor/retry"
	"github.com/conveyorhq/conveyor/store/memory"
	"github.com/conveyorhq/conveyor/worker"
)

func setupTestPool(t *testing.T, concurrency int, pollInterval time.Duration) (
	*worker.Pool, *memory.Store, *job.Registry,
) {
	t.Helper()
	logger := slog.Default()
	s := memory.New()
	reg := job.NewRegistry()
	hooks := hook.NewRegistry(logger)

	dlqSvc := dlq.NewService(s, s)
	backoffs := backoff.NewRegistry(backoff.NewConstant(10 * time.Millisecond))
	retries := retry.NewScheduler(s, dlqSvc, backoffs, hooks, logger)

	executor := worker.NewExecutor(
		reg, hooks, s, retries, logger,
		middleware.Recover(logger),
	)

	pool := worker.NewPool(s, executor, hooks, logger,
		worker.WithPoolConcurrency(concurrency),
		worker.WithPollInterval(pollInterval),
		worker.WithPoolQueues([]string{"default"}),
		worker.WithPromoteInterval(10*time.Millisecond),
		worker.WithReapInterval(20*time.Millisecond),
	)

	return pool, s, reg
}

func enqueueTestJob(t *testing.T, s *memory.Store, payload []byte, opts ...job.Option) *job.Job {
	t.Helper()
	o := job.DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	j := &job.Job{
		Entity:      conveyor.NewEntity(),
		ID:          id.NewJobID(),
		Queue:       "default",
		Payload:     payload,
		State:       job.StateWaiting,
		Priority:    o.Priority,
		MaxAttempts: o.MaxAttempts,
		Backoff:     o.Backoff,
		Timeout:     o.Timeout,
		ScheduledAt: time.Now().UTC(),
	}
	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	return j
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestPool_StartStop(t *testing.T) {
	pool, _, _ := setupTestPool(t, 2, 50*time.Millisecond)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	// Double start should be no-op.
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected double-start error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}
	// Double stop should be no-op.
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("unexpected double-stop error: %v", err)
	}
}

type greeting struct {
	Name string `json:"name"`
}

func TestPool_ProcessesJob(t *testing.T) {
	pool, s, reg := setupTestPool(t, 1, 10*time.Millisecond)

	var processed atomic.Bool
	job.RegisterDefinition(reg, job.NewDefinition("default", func(_ context.Context, p greeting) (string, error) {
		if p.Name != "Alice" {
			t.Errorf("payload.Name = %q, want %q", p.Name, "Alice")
		}
		processed.Store(true)
		return "hello " + p.Name, nil
	}))

	payload, _ := json.Marshal(greeting{Name: "Alice"})
	j := enqueueTestJob(t, s, payload)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopPool(t, pool)

	waitFor(t, 2*time.Second, processed.Load)

	waitFor(t, 2*time.Second, func() bool {
		got, err := s.GetJob(context.Background(), j.ID)
		return err == nil && got.State == job.StateCompleted
	})

	got, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	var result string
	if err := json.Unmarshal(got.Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result != "hello Alice" {
		t.Errorf("Result = %q, want %q", result, "hello Alice")
	}
	if got.Progress != 100 {
		t.Errorf("Progress = %d, want 100", got.Progress)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}
}

func TestPool_FailedJobRetriesThenDies(t *testing.T) {
	pool, s, reg := setupTestPool(t, 1, 10*time.Millisecond)

	var attempts atomic.Int32
	reg.RegisterFunc("default", func(_ context.Context, _ []byte) ([]byte, error) {
		attempts.Add(1)
		return nil, errors.New("always fails")
	})

	j := enqueueTestJob(t, s, nil, job.WithMaxAttempts(2))

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopPool(t, pool)

	waitFor(t, 5*time.Second, func() bool {
		got, err := s.GetJob(context.Background(), j.ID)
		return err == nil && got.State == job.StateDead
	})

	if n := attempts.Load(); n != 2 {
		t.Errorf("handler ran %d times, want 2", n)
	}

	got, _ := s.GetJob(context.Background(), j.ID)
	if got.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", got.Attempts)
	}
	if got.LastError != "always fails" {
		t.Errorf("LastError = %q", got.LastError)
	}

	n, err := s.CountDLQ(context.Background(), "")
	if err != nil {
		t.Fatalf("CountDLQ: %v", err)
	}
	if n != 1 {
		t.Errorf("CountDLQ = %d, want 1", n)
	}
}

func TestPool_PermanentErrorSkipsRetry(t *testing.T) {
	pool, s, reg := setupTestPool(t, 1, 10*time.Millisecond)

	var attempts atomic.Int32
	reg.RegisterFunc("default", func(_ context.Context, _ []byte) ([]byte, error) {
		attempts.Add(1)
		return nil, conveyor.Permanent(errors.New("bad payload"))
	})

	j := enqueueTestJob(t, s, nil, job.WithMaxAttempts(5))

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopPool(t, pool)

	waitFor(t, 2*time.Second, func() bool {
		got, err := s.GetJob(context.Background(), j.ID)
		return err == nil && got.State == job.StateDead
	})

	if n := attempts.Load(); n != 1 {
		t.Errorf("handler ran %d times, want 1", n)
	}
}

func TestPool_PanickingHandlerIsCaught(t *testing.T) {
	pool, s, reg := setupTestPool(t, 1, 10*time.Millisecond)

	reg.RegisterFunc("default", func(_ context.Context, _ []byte) ([]byte, error) {
		panic("boom")
	})

	j := enqueueTestJob(t, s, nil, job.WithMaxAttempts(1))

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopPool(t, pool)

	waitFor(t, 2*time.Second, func() bool {
		got, err := s.GetJob(context.Background(), j.ID)
		return err == nil && got.State == job.StateDead
	})
}

func TestPool_NoHandlerDeadLetters(t *testing.T) {
	pool, s, _ := setupTestPool(t, 1, 10*time.Millisecond)

	j := enqueueTestJob(t, s, nil)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopPool(t, pool)

	waitFor(t, 2*time.Second, func() bool {
		got, err := s.GetJob(context.Background(), j.ID)
		return err == nil && got.State == job.StateDead
	})
}

func TestPool_PromotesDelayedJobs(t *testing.T) {
	pool, s, reg := setupTestPool(t, 1, 10*time.Millisecond)

	var processed atomic.Bool
	reg.RegisterFunc("default", func(_ context.Context, _ []byte) ([]byte, error) {
		processed.Store(true)
		return nil, nil
	})

	j := enqueueTestJob(t, s, nil)
	j.State = job.StateDelayed
	j.ScheduledAt = time.Now().UTC().Add(30 * time.Millisecond)
	if err := s.UpdateJob(context.Background(), j); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopPool(t, pool)

	waitFor(t, 2*time.Second, processed.Load)
}

func TestPool_ReapsExpiredLeases(t *testing.T) {
	pool, s, reg := setupTestPool(t, 1, 10*time.Millisecond)

	var processed atomic.Bool
	reg.RegisterFunc("default", func(_ context.Context, _ []byte) ([]byte, error) {
		processed.Store(true)
		return nil, nil
	})

	// Simulate a job claimed by a crashed worker: active with an
	// expired lease, owned by nobody alive.
	j := enqueueTestJob(t, s, nil)
	dead := time.Now().UTC().Add(-time.Minute)
	j.State = job.StateActive
	j.WorkerID = id.NewWorkerID()
	j.LeaseExpiresAt = &dead
	if err := s.UpdateJob(context.Background(), j); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopPool(t, pool)

	// The reaper returns it to waiting; a claim loop then runs it.
	waitFor(t, 2*time.Second, processed.Load)
}

func TestPool_HookFires(t *testing.T) {
	logger := slog.Default()
	s := memory.New()
	reg := job.NewRegistry()
	hooks := hook.NewRegistry(logger)

	var started, completed atomic.Int32
	hooks.Register(&countingHook{started: &started, completed: &completed})

	dlqSvc := dlq.NewService(s, s)
	backoffs := backoff.NewRegistry(backoff.DefaultStrategy())
	retries := retry.NewScheduler(s, dlqSvc, backoffs, hooks, logger)
	executor := worker.NewExecutor(reg, hooks, s, retries, logger)
	pool := worker.NewPool(s, executor, hooks, logger,
		worker.WithPoolConcurrency(1),
		worker.WithPollInterval(10*time.Millisecond),
	)

	reg.RegisterFunc("default", func(_ context.Context, _ []byte) ([]byte, error) {
		return nil, nil
	})
	enqueueTestJob(t, s, nil)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopPool(t, pool)

	waitFor(t, 2*time.Second, func() bool {
		return started.Load() == 1 && completed.Load() == 1
	})
}

type countingHook struct {
	started   *atomic.Int32
	completed *atomic.Int32
}

func (h *countingHook) Name() string { return "counting" }

func (h *countingHook) OnJobStarted(_ context.Context, _ *job.Job) error {
	h.started.Add(1)
	return nil
}

func (h *countingHook) OnJobCompleted(_ context.Context, _ *job.Job, _ time.Duration) error {
	h.completed.Add(1)
	return nil
}

func stopPool(t *testing.T, pool *worker.Pool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Errorf("Stop: %v", err)
	}
}
