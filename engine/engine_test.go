package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/conveyorhq/conveyor"
	"github.com/conveyorhq/conveyor/backoff"
	"github.com/conveyorhq/conveyor/dlq"
	"github.com/conveyorhq/conveyor/engine"
	"github.com/conveyorhq/conveyor/job"
	"github.com/conveyorhq/conveyor/queue"
	"github.com/conveyorhq/conveyor/recurring"
	"github.com/conveyorhq/conveyor/store/memory"
)

// fastConfig shrinks every timer so tests complete quickly.
func fastConfig() conveyor.Config {
	return conveyor.Config{
		PollInterval:          10 * time.Millisecond,
		ShutdownTimeout:       2 * time.Second,
		HeartbeatInterval:     50 * time.Millisecond,
		LeaseTimeout:          time.Second,
		ReapInterval:          20 * time.Millisecond,
		PromoteInterval:       10 * time.Millisecond,
		RecurringTickInterval: 10 * time.Millisecond,
	}
}

func setupEngine(t *testing.T, opts ...engine.Option) (*engine.Engine, *memory.Store) {
	t.Helper()
	s := memory.New()
	all := append([]engine.Option{
		engine.WithConfig(fastConfig()),
		engine.WithConcurrency(1),
		engine.WithBackoff(backoff.NewConstant(10 * time.Millisecond)),
	}, opts...)
	eng, err := engine.New(s, all...)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	return eng, s
}

func startEngine(t *testing.T, eng *engine.Engine) {
	t.Helper()
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := eng.Stop(ctx); err != nil {
			t.Errorf("Stop: %v", err)
		}
	})
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

func TestEngine_RequiresStore(t *testing.T) {
	_, err := engine.New(nil)
	if !errors.Is(err, conveyor.ErrNoStore) {
		t.Fatalf("err = %v, want ErrNoStore", err)
	}
}

func TestEngine_StartStop(t *testing.T) {
	eng, _ := setupEngine(t)

	ctx := context.Background()
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Double start is a no-op.
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("double Start: %v", err)
	}
	if err := eng.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := eng.Stop(ctx); err != nil {
		t.Fatalf("double Stop: %v", err)
	}
}

type resizePayload struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type resizeResult struct {
	Pixels int `json:"pixels"`
}

func TestEngine_EnqueueAndProcess(t *testing.T) {
	eng, s := setupEngine(t)

	engine.Register(eng, job.NewDefinition("images", func(_ context.Context, p resizePayload) (resizeResult, error) {
		return resizeResult{Pixels: p.Width * p.Height}, nil
	}))

	startEngine(t, eng)

	j, err := engine.Enqueue(context.Background(), eng, "images", resizePayload{Width: 4, Height: 3})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if j.State != job.StateWaiting {
		t.Errorf("State = %q, want waiting", j.State)
	}

	waitFor(t, 2*time.Second, func() bool {
		got, err := s.GetJob(context.Background(), j.ID)
		return err == nil && got.State == job.StateCompleted
	})

	got, err := eng.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if want := `{"pixels":12}`; string(got.Result) != want {
		t.Errorf("Result = %s, want %s", got.Result, want)
	}
	if got.Attempts != 0 {
		t.Errorf("Attempts = %d, want 0 on success", got.Attempts)
	}
}

func TestEngine_EnqueueValidation(t *testing.T) {
	eng, _ := setupEngine(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		queue string
		opts  []job.Option
	}{
		{"empty queue", "", nil},
		{"zero max attempts", "default", []job.Option{job.WithMaxAttempts(0)}},
		{"negative delay", "default", []job.Option{job.WithDelay(-time.Second)}},
		{"negative timeout", "default", []job.Option{job.WithTimeout(-time.Second)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := eng.EnqueueRaw(ctx, tt.queue, nil, tt.opts...)
			if !conveyor.IsValidation(err) {
				t.Errorf("err = %v, want ValidationError", err)
			}
		})
	}

	// Nothing was persisted.
	n, err := eng.Store().CountJobs(ctx, job.CountOpts{})
	if err != nil {
		t.Fatalf("CountJobs: %v", err)
	}
	if n != 0 {
		t.Errorf("CountJobs = %d, want 0", n)
	}
}

func TestEngine_DelayedEnqueue(t *testing.T) {
	eng, s := setupEngine(t)

	var processed atomic.Bool
	eng.RegisterFunc("default", func(_ context.Context, _ []byte) ([]byte, error) {
		processed.Store(true)
		return nil, nil
	})

	j, err := eng.EnqueueRaw(context.Background(), "default", nil, job.WithDelay(50*time.Millisecond))
	if err != nil {
		t.Fatalf("EnqueueRaw: %v", err)
	}
	if j.State != job.StateDelayed {
		t.Errorf("State = %q, want delayed", j.State)
	}

	startEngine(t, eng)

	waitFor(t, 2*time.Second, processed.Load)

	got, _ := s.GetJob(context.Background(), j.ID)
	if got.State != job.StateCompleted {
		t.Errorf("State = %q, want completed", got.State)
	}
}

func TestEngine_PriorityOrdering(t *testing.T) {
	eng, _ := setupEngine(t)
	ctx := context.Background()

	var mu sync.Mutex
	var order []string
	eng.RegisterFunc("default", func(_ context.Context, payload []byte) ([]byte, error) {
		mu.Lock()
		order = append(order, string(payload))
		mu.Unlock()
		return nil, nil
	})

	// Five jobs, priorities 1,5,1,3,5. Expected delivery: highest
	// priority first, creation order within a priority.
	priorities := []int{1, 5, 1, 3, 5}
	for i, p := range priorities {
		_, err := eng.EnqueueRaw(ctx, "default", []byte(fmt.Sprintf("#%d", i+1)), job.WithPriority(p))
		if err != nil {
			t.Fatalf("enqueue #%d: %v", i+1, err)
		}
		time.Sleep(2 * time.Millisecond) // distinct CreatedAt
	}

	startEngine(t, eng)

	waitFor(t, 3*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 5
	})

	want := []string{"#2", "#5", "#4", "#1", "#3"}
	mu.Lock()
	defer mu.Unlock()
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("delivery order = %v, want %v", order, want)
		}
	}
}

func TestEngine_RetryThenDead(t *testing.T) {
	eng, s := setupEngine(t)
	ctx := context.Background()

	var attempts atomic.Int32
	eng.RegisterFunc("default", func(_ context.Context, _ []byte) ([]byte, error) {
		attempts.Add(1)
		return nil, errors.New("flaky downstream")
	})

	j, err := eng.EnqueueRaw(ctx, "default", nil, job.WithMaxAttempts(3))
	if err != nil {
		t.Fatalf("EnqueueRaw: %v", err)
	}

	startEngine(t, eng)

	waitFor(t, 5*time.Second, func() bool {
		got, err := s.GetJob(ctx, j.ID)
		return err == nil && got.State == job.StateDead
	})

	if n := attempts.Load(); n != 3 {
		t.Errorf("handler ran %d times, want exactly 3", n)
	}

	entries, err := eng.DLQ().DLQStore().ListDLQ(ctx, dlq.ListOpts{})
	if err != nil {
		t.Fatalf("ListDLQ: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("DLQ entries = %d, want 1", len(entries))
	}
	if entries[0].JobID != j.ID {
		t.Errorf("DLQ JobID = %v, want %v", entries[0].JobID, j.ID)
	}
	if entries[0].Attempts != 3 {
		t.Errorf("DLQ Attempts = %d, want 3", entries[0].Attempts)
	}
}

func TestEngine_Replay(t *testing.T) {
	eng, s := setupEngine(t)
	ctx := context.Background()

	var fail atomic.Bool
	fail.Store(true)
	var succeeded atomic.Bool
	eng.RegisterFunc("default", func(_ context.Context, _ []byte) ([]byte, error) {
		if fail.Load() {
			return nil, errors.New("not yet")
		}
		succeeded.Store(true)
		return nil, nil
	})

	j, err := eng.EnqueueRaw(ctx, "default", []byte(`{"k":1}`), job.WithMaxAttempts(1))
	if err != nil {
		t.Fatalf("EnqueueRaw: %v", err)
	}

	startEngine(t, eng)

	waitFor(t, 3*time.Second, func() bool {
		got, err := s.GetJob(ctx, j.ID)
		return err == nil && got.State == job.StateDead
	})

	entries, err := eng.DLQ().DLQStore().ListDLQ(ctx, dlq.ListOpts{})
	if err != nil || len(entries) != 1 {
		t.Fatalf("ListDLQ = %v entries, err %v", len(entries), err)
	}

	fail.Store(false)
	replayed, err := eng.Replay(ctx, entries[0].ID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if replayed.ID == j.ID {
		t.Error("replayed job reuses the dead job's ID")
	}
	if replayed.Attempts != 0 {
		t.Errorf("replayed Attempts = %d, want 0", replayed.Attempts)
	}

	waitFor(t, 3*time.Second, succeeded.Load)
}

func TestEngine_PauseResume(t *testing.T) {
	eng, s := setupEngine(t)
	ctx := context.Background()

	var processed atomic.Bool
	eng.RegisterFunc("default", func(_ context.Context, _ []byte) ([]byte, error) {
		processed.Store(true)
		return nil, nil
	})

	// Pause before the pool starts; the queue record is created on
	// first use.
	if err := eng.PauseQueue(ctx, "default"); err != nil {
		t.Fatalf("PauseQueue: %v", err)
	}

	j, err := eng.EnqueueRaw(ctx, "default", nil)
	if err != nil {
		t.Fatalf("EnqueueRaw: %v", err)
	}

	startEngine(t, eng)

	time.Sleep(100 * time.Millisecond)
	if processed.Load() {
		t.Fatal("job processed while queue paused")
	}
	got, _ := s.GetJob(ctx, j.ID)
	if got.State != job.StateWaiting {
		t.Fatalf("State = %q, want waiting while paused", got.State)
	}

	if err := eng.ResumeQueue(ctx, "default"); err != nil {
		t.Fatalf("ResumeQueue: %v", err)
	}

	waitFor(t, 2*time.Second, processed.Load)
}

func TestEngine_CancelWaitingJob(t *testing.T) {
	eng, s := setupEngine(t)
	ctx := context.Background()

	// No Start: the job stays waiting.
	j, err := eng.EnqueueRaw(ctx, "default", nil)
	if err != nil {
		t.Fatalf("EnqueueRaw: %v", err)
	}

	if err := eng.CancelJob(ctx, j.ID); err != nil {
		t.Fatalf("CancelJob: %v", err)
	}

	got, _ := s.GetJob(ctx, j.ID)
	if got.State != job.StateCancelled {
		t.Errorf("State = %q, want cancelled", got.State)
	}

	// Cancelling a terminal job is rejected.
	if err := eng.CancelJob(ctx, j.ID); !errors.Is(err, conveyor.ErrInvalidState) {
		t.Errorf("second CancelJob err = %v, want ErrInvalidState", err)
	}
}

func TestEngine_CancelActiveJob(t *testing.T) {
	eng, s := setupEngine(t)
	ctx := context.Background()

	started := make(chan struct{})
	var sawCancel atomic.Bool
	eng.RegisterFunc("default", func(hctx context.Context, _ []byte) ([]byte, error) {
		close(started)
		<-hctx.Done()
		sawCancel.Store(true)
		return nil, hctx.Err()
	})

	j, err := eng.EnqueueRaw(ctx, "default", nil, job.WithMaxAttempts(1))
	if err != nil {
		t.Fatalf("EnqueueRaw: %v", err)
	}

	startEngine(t, eng)

	<-started

	// Active jobs are rejected with ErrJobActive; the handler context
	// is cancelled as a cooperative signal.
	if err := eng.CancelJob(ctx, j.ID); !errors.Is(err, conveyor.ErrJobActive) {
		t.Fatalf("CancelJob err = %v, want ErrJobActive", err)
	}

	waitFor(t, 2*time.Second, sawCancel.Load)

	// The cancelled run counts as a failure; with one attempt the job
	// dead-letters.
	waitFor(t, 2*time.Second, func() bool {
		got, err := s.GetJob(ctx, j.ID)
		return err == nil && got.State == job.StateDead
	})
}

func TestEngine_ScheduleRecurring(t *testing.T) {
	eng, s := setupEngine(t)
	ctx := context.Background()

	var mu sync.Mutex
	var payloads []string
	eng.RegisterFunc("reports", func(_ context.Context, payload []byte) ([]byte, error) {
		mu.Lock()
		payloads = append(payloads, string(payload))
		mu.Unlock()
		return nil, nil
	})

	spec := &recurring.Spec{
		Name:            "hourly-report",
		Interval:        50 * time.Millisecond,
		Queue:           "reports",
		PayloadTemplate: []byte(`{"kind":"usage"}`),
		MaxAttempts:     2,
	}
	if err := eng.ScheduleRecurring(ctx, spec); err != nil {
		t.Fatalf("ScheduleRecurring: %v", err)
	}
	if spec.NextFireAt == nil {
		t.Fatal("NextFireAt not initialized")
	}
	if !spec.Enabled {
		t.Fatal("spec not enabled")
	}

	// Same name again is idempotent.
	if err := eng.ScheduleRecurring(ctx, &recurring.Spec{
		Name:     "hourly-report",
		Interval: time.Hour,
		Queue:    "reports",
	}); err != nil {
		t.Fatalf("duplicate ScheduleRecurring: %v", err)
	}
	specs, err := s.ListSpecs(ctx)
	if err != nil {
		t.Fatalf("ListSpecs: %v", err)
	}
	if len(specs) != 1 {
		t.Fatalf("ListSpecs = %d specs, want 1", len(specs))
	}

	startEngine(t, eng)

	waitFor(t, 3*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(payloads) >= 2
	})

	mu.Lock()
	defer mu.Unlock()
	for _, p := range payloads {
		if p != `{"kind":"usage"}` {
			t.Errorf("payload = %s, want template", p)
		}
	}
}

func TestEngine_ScheduleRecurringValidation(t *testing.T) {
	eng, _ := setupEngine(t)
	ctx := context.Background()

	err := eng.ScheduleRecurring(ctx, &recurring.Spec{
		Name:  "no-schedule",
		Queue: "default",
	})
	if !conveyor.IsValidation(err) {
		t.Errorf("err = %v, want ValidationError", err)
	}
}

func TestEngine_DisabledRecurringDoesNotFire(t *testing.T) {
	eng, s := setupEngine(t)
	ctx := context.Background()

	var fired atomic.Bool
	eng.RegisterFunc("default", func(_ context.Context, _ []byte) ([]byte, error) {
		fired.Store(true)
		return nil, nil
	})

	spec := &recurring.Spec{
		Name:     "disabled-spec",
		Interval: 20 * time.Millisecond,
		Queue:    "default",
	}
	if err := eng.ScheduleRecurring(ctx, spec); err != nil {
		t.Fatalf("ScheduleRecurring: %v", err)
	}
	if err := eng.SetRecurringEnabled(ctx, spec.ID, false); err != nil {
		t.Fatalf("SetRecurringEnabled: %v", err)
	}

	startEngine(t, eng)

	time.Sleep(150 * time.Millisecond)
	if fired.Load() {
		t.Error("disabled spec fired")
	}

	got, err := s.GetSpec(ctx, spec.ID)
	if err != nil {
		t.Fatalf("GetSpec: %v", err)
	}
	if got.Enabled {
		t.Error("spec still enabled")
	}
}

func TestEngine_QueueStats(t *testing.T) {
	eng, _ := setupEngine(t, engine.WithQueueConfig(queue.Config{Name: "emails", Concurrency: 4}))
	ctx := context.Background()

	startEngine(t, eng)

	for i := 0; i < 3; i++ {
		if _, err := eng.EnqueueRaw(ctx, "emails", nil, job.WithDelay(time.Hour)); err != nil {
			t.Fatalf("EnqueueRaw: %v", err)
		}
	}

	qs, err := eng.GetQueueStats(ctx, "emails")
	if err != nil {
		t.Fatalf("GetQueueStats: %v", err)
	}
	if qs.Delayed != 3 {
		t.Errorf("Delayed = %d, want 3", qs.Delayed)
	}
	if qs.Concurrency != 4 {
		t.Errorf("Concurrency = %d, want 4", qs.Concurrency)
	}
	if qs.Paused {
		t.Error("queue unexpectedly paused")
	}

	all, err := eng.AllQueueStats(ctx)
	if err != nil {
		t.Fatalf("AllQueueStats: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("AllQueueStats = %d queues, want 1", len(all))
	}

	h := eng.Health(ctx)
	if h.Status != "ok" {
		t.Errorf("Health = %q, want ok", h.Status)
	}
}

func TestEngine_QueueStatsAfterImplicitEnqueue(t *testing.T) {
	eng, _ := setupEngine(t, engine.WithQueueConfig(queue.Config{Name: "reports", Concurrency: 4}))
	ctx := context.Background()

	// A queue that only ever saw an enqueue still has a record, so
	// stats and administration work without registration or Start.
	if _, err := eng.EnqueueRaw(ctx, "notifications", []byte(`{}`)); err != nil {
		t.Fatalf("EnqueueRaw: %v", err)
	}

	qs, err := eng.GetQueueStats(ctx, "notifications")
	if err != nil {
		t.Fatalf("GetQueueStats: %v", err)
	}
	if qs.Waiting != 1 {
		t.Errorf("Waiting = %d, want 1", qs.Waiting)
	}
	if qs.Concurrency != 1 {
		t.Errorf("Concurrency = %d, want 1", qs.Concurrency)
	}

	// A configuration registered for the queue applies even when the
	// first reference is an enqueue before Start.
	if _, err := eng.EnqueueRaw(ctx, "reports", []byte(`{}`)); err != nil {
		t.Fatalf("EnqueueRaw: %v", err)
	}
	qs, err = eng.GetQueueStats(ctx, "reports")
	if err != nil {
		t.Fatalf("GetQueueStats: %v", err)
	}
	if qs.Concurrency != 4 {
		t.Errorf("Concurrency = %d, want 4", qs.Concurrency)
	}
}

func TestEngine_CleanQueue(t *testing.T) {
	eng, s := setupEngine(t)
	ctx := context.Background()

	var processed atomic.Int32
	eng.RegisterFunc("default", func(_ context.Context, _ []byte) ([]byte, error) {
		processed.Add(1)
		return nil, nil
	})

	for i := 0; i < 3; i++ {
		if _, err := eng.EnqueueRaw(ctx, "default", nil); err != nil {
			t.Fatalf("EnqueueRaw: %v", err)
		}
	}

	startEngine(t, eng)

	waitFor(t, 3*time.Second, func() bool { return processed.Load() == 3 })

	waitFor(t, 2*time.Second, func() bool {
		n, err := s.CountJobs(ctx, job.CountOpts{State: job.StateCompleted})
		return err == nil && n == 3
	})

	removed, err := eng.CleanQueue(ctx, "default", job.StateCompleted, time.Now().UTC().Add(time.Second))
	if err != nil {
		t.Fatalf("CleanQueue: %v", err)
	}
	if removed != 3 {
		t.Errorf("removed = %d, want 3", removed)
	}

	n, _ := s.CountJobs(ctx, job.CountOpts{})
	if n != 0 {
		t.Errorf("CountJobs = %d after clean, want 0", n)
	}
}
