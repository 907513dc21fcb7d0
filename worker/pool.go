package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/conveyorhq/conveyor/hook"
	"github.com/conveyorhq/conveyor/id"
	"github.com/conveyorhq/conveyor/job"
)

// QueueManager gates execution per queue: concurrency limits and rate
// limiting. The pool calls Acquire before executing a claimed job and
// Release after execution completes.
type QueueManager interface {
	// Acquire checks rate limits and concurrency for the queue.
	// Returns true if the job is allowed to proceed.
	Acquire(queue string) bool
	// Release decrements the active count for the queue.
	Release(queue string)
}

// Pool manages a set of concurrent claim loops that pull jobs from the
// store and execute them through the Executor. It also runs the
// heartbeat loop (lease renewal for active jobs), the reaper loop
// (expired-lease recovery), and the promoter loop (delayed→waiting).
type Pool struct {
	store    job.Store
	executor *Executor
	hooks    *hook.Registry
	logger   *slog.Logger

	concurrency  int
	queues       []string
	pollInterval time.Duration
	workerID     id.WorkerID

	leaseTimeout      time.Duration
	heartbeatInterval time.Duration
	reapInterval      time.Duration
	promoteInterval   time.Duration

	queueManager QueueManager

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	// active tracks cancel funcs for in-flight jobs, keyed by job ID.
	active   map[string]context.CancelFunc
	activeMu sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of concurrent claim goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPoolQueues sets the queues the pool will claim from.
func WithPoolQueues(queues []string) PoolOption {
	return func(p *Pool) { p.queues = queues }
}

// WithPollInterval sets how long a claim loop sleeps when every queue
// is empty.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithLeaseTimeout sets the lease duration stamped on claimed jobs.
func WithLeaseTimeout(d time.Duration) PoolOption {
	return func(p *Pool) { p.leaseTimeout = d }
}

// WithHeartbeatInterval sets how often leases of in-flight jobs are
// renewed. A zero value disables heartbeats.
func WithHeartbeatInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.heartbeatInterval = d }
}

// WithReapInterval sets how often expired leases are reaped. A zero
// value disables the reaper.
func WithReapInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.reapInterval = d }
}

// WithPromoteInterval sets how often due delayed jobs are promoted to
// waiting. A zero value disables the promoter.
func WithPromoteInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.promoteInterval = d }
}

// WithQueueManager sets the queue manager for rate limiting and
// concurrency control.
func WithQueueManager(m QueueManager) PoolOption {
	return func(p *Pool) { p.queueManager = m }
}

// NewPool creates a worker pool.
func NewPool(
	store job.Store,
	executor *Executor,
	hooks *hook.Registry,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		store:             store,
		executor:          executor,
		hooks:             hooks,
		logger:            logger,
		concurrency:       10,
		queues:            []string{"default"},
		pollInterval:      time.Second,
		workerID:          id.NewWorkerID(),
		leaseTimeout:      30 * time.Second,
		heartbeatInterval: 10 * time.Second,
		reapInterval:      15 * time.Second,
		promoteInterval:   time.Second,
		stopCh:            make(chan struct{}),
		active:            make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the claim loops and maintenance goroutines. It
// returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
		slog.Any("queues", p.queues),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.claimLoop()
	}

	if p.heartbeatInterval > 0 {
		p.wg.Add(1)
		go p.heartbeatLoop()
	}
	if p.reapInterval > 0 {
		p.wg.Add(1)
		go p.reaperLoop()
	}
	if p.promoteInterval > 0 {
		p.wg.Add(1)
		go p.promoterLoop()
	}

	return nil
}

// Stop signals all loops to stop and waits for in-flight jobs. If the
// context has a deadline, active jobs are cancelled when time runs out.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active jobs")
		p.cancelActive()
		p.wg.Wait()
	}

	return nil
}

// claimLoop is run by each claim goroutine. It sweeps the configured
// queues in order; when every queue yields nothing it sleeps for the
// poll interval.
func (p *Pool) claimLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		claimed := false
		for _, queueName := range p.queues {
			select {
			case <-p.stopCh:
				return
			default:
			}
			if p.claimOne(queueName) {
				claimed = true
			}
		}

		if !claimed {
			p.sleep()
		}
	}
}

// claimOne claims and executes at most one job from the queue. Returns
// true when a job was executed.
func (p *Pool) claimOne(queueName string) bool {
	// Take a concurrency/rate slot before claiming so a claimed job is
	// never stranded waiting on the local gate.
	if p.queueManager != nil && !p.queueManager.Acquire(queueName) {
		return false
	}
	release := func() {
		if p.queueManager != nil {
			p.queueManager.Release(queueName)
		}
	}

	j, err := p.store.ClaimNext(context.Background(), queueName, p.workerID, p.leaseTimeout)
	if err != nil {
		p.logger.Error("claim error",
			slog.String("queue", queueName),
			slog.String("error", err.Error()),
		)
		release()
		p.sleep()
		return false
	}
	if j == nil {
		release()
		return false
	}

	if p.hooks != nil {
		p.hooks.EmitJobStarted(context.Background(), j)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.track(j.ID.String(), cancel)

	if execErr := p.executor.Execute(ctx, j); execErr != nil {
		p.logger.Debug("job execution failed",
			slog.String("job_id", j.ID.String()),
			slog.String("queue", j.Queue),
			slog.String("error", execErr.Error()),
		)
	}

	p.untrack(j.ID.String())
	cancel()
	release()
	return true
}

// heartbeatLoop renews leases for all in-flight jobs.
func (p *Pool) heartbeatLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.sendHeartbeats()
		}
	}
}

func (p *Pool) sendHeartbeats() {
	p.activeMu.Lock()
	jobIDs := make([]string, 0, len(p.active))
	for jobID := range p.active {
		jobIDs = append(jobIDs, jobID)
	}
	p.activeMu.Unlock()

	for _, jobIDStr := range jobIDs {
		parsedID, parseErr := id.ParseJobID(jobIDStr)
		if parseErr != nil {
			p.logger.Warn("heartbeat: invalid job id", slog.String("job_id", jobIDStr))
			continue
		}
		if err := p.store.ExtendLease(context.Background(), parsedID, p.workerID, p.leaseTimeout); err != nil {
			// The job may have just finished or been reaped; nothing to do.
			p.logger.Warn("lease renewal failed",
				slog.String("job_id", jobIDStr),
				slog.String("error", err.Error()),
			)
		}
	}
}

// reaperLoop returns jobs with expired leases to the queue.
func (p *Pool) reaperLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.reapExpired()
		}
	}
}

func (p *Pool) reapExpired() {
	reaped, err := p.store.ReapExpiredLeases(context.Background())
	if err != nil {
		p.logger.Error("reap expired leases error", slog.String("error", err.Error()))
		return
	}

	for _, j := range reaped {
		p.logger.Info("reclaimed job with expired lease",
			slog.String("job_id", j.ID.String()),
			slog.String("queue", j.Queue),
		)
		if p.hooks != nil {
			p.hooks.EmitJobLeaseExpired(context.Background(), j)
		}
	}
}

// promoterLoop moves due delayed jobs back to waiting.
func (p *Pool) promoterLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.promoteInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			n, err := p.store.PromoteDelayedJobs(context.Background(), time.Now().UTC())
			if err != nil {
				p.logger.Error("promote delayed jobs error", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				p.logger.Debug("promoted delayed jobs", slog.Int64("count", n))
			}
		}
	}
}

func (p *Pool) sleep() {
	select {
	case <-time.After(p.pollInterval):
	case <-p.stopCh:
	}
}

func (p *Pool) track(jobID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.active[jobID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrack(jobID string) {
	p.activeMu.Lock()
	delete(p.active, jobID)
	p.activeMu.Unlock()
}

// CancelLocal cancels the context of a job currently executing on this
// pool. It reports whether the job was found among the locally active
// jobs. Cancellation is cooperative: the handler observes ctx.Done and
// the outcome is routed through the usual failure path.
func (p *Pool) CancelLocal(jobID id.JobID) bool {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	cancel, ok := p.active[jobID.String()]
	if ok {
		cancel()
	}
	return ok
}

func (p *Pool) cancelActive() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for jobID, cancel := range p.active {
		p.logger.Warn("cancelling active job", slog.String("job_id", jobID))
		cancel()
	}
}
