package dlq

import (
	"time"

	"github.com/conveyorhq/conveyor/id"
)

// Entry represents a job that failed permanently and was moved to the
// dead letter queue for inspection or replay.
type Entry struct {
	ID          id.DLQID      `json:"id"`
	JobID       id.JobID      `json:"job_id"`
	Queue       string        `json:"queue"`
	Payload     []byte        `json:"payload"`
	Error       string        `json:"error"`
	Attempts    int           `json:"attempts"`
	MaxAttempts int           `json:"max_attempts"`
	Priority    int           `json:"priority"`
	Backoff     string        `json:"backoff,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
	FailedAt    time.Time     `json:"failed_at"`
	ReplayedAt  *time.Time    `json:"replayed_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}
