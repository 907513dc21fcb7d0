package job

import (
	"time"

	"github.com/conveyorhq/conveyor"
	"github.com/conveyorhq/conveyor/id"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StateWaiting means the job is ready to be claimed by a worker.
	StateWaiting State = "waiting"
	// StateActive means a worker holds the job under a live lease.
	StateActive State = "active"
	// StateDelayed means the job is parked until ScheduledAt (initial
	// delay or retry backoff).
	StateDelayed State = "delayed"
	// StateCompleted means the job finished successfully.
	StateCompleted State = "completed"
	// StateFailed means the most recent attempt failed; the retry
	// scheduler decides between delayed and dead.
	StateFailed State = "failed"
	// StateDead means the job exhausted its attempts or failed
	// permanently and now sits in the dead letter queue.
	StateDead State = "dead"
	// StateCancelled means the job was cancelled before completion.
	StateCancelled State = "cancelled"
)

// Terminal reports whether s is a terminal state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateDead || s == StateCancelled
}

// Job represents a unit of work owned by exactly one queue.
type Job struct {
	conveyor.Entity

	ID             id.JobID      `json:"id"`
	Queue          string        `json:"queue"`
	Payload        []byte        `json:"payload"`
	State          State         `json:"state"`
	Priority       int           `json:"priority"`
	Attempts       int           `json:"attempts"`
	MaxAttempts    int           `json:"max_attempts"`
	Backoff        string        `json:"backoff,omitempty"`
	Progress       int           `json:"progress"`
	LastError      string        `json:"last_error,omitempty"`
	Result         []byte        `json:"result,omitempty"`
	WorkerID       id.WorkerID   `json:"worker_id,omitempty"`
	ScheduledAt    time.Time     `json:"scheduled_at"`
	LeaseExpiresAt *time.Time    `json:"lease_expires_at,omitempty"`
	StartedAt      *time.Time    `json:"started_at,omitempty"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty"`
	Timeout        time.Duration `json:"timeout,omitempty"`
}

// Ready reports whether the job may be claimed at the given time.
func (j *Job) Ready(now time.Time) bool {
	return j.State == StateWaiting && !j.ScheduledAt.After(now)
}

// LeaseExpired reports whether the job is active with an expired lease.
func (j *Job) LeaseExpired(now time.Time) bool {
	return j.State == StateActive && j.LeaseExpiresAt != nil && j.LeaseExpiresAt.Before(now)
}
