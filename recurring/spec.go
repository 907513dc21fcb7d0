package recurring

import (
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/conveyorhq/conveyor"
	"github.com/conveyorhq/conveyor/id"
)

// Spec represents a recurring job schedule.
type Spec struct {
	conveyor.Entity

	ID   id.RecurringID `json:"id"`
	Name string         `json:"name"`

	// Schedule is a cron expression ("0 9 * * 1-5") or a descriptor
	// ("@every 30s"). Mutually exclusive with Interval.
	Schedule string `json:"schedule,omitempty"`

	// Interval is a fixed firing interval, as an alternative to a cron
	// expression. Ignored when Schedule is set.
	Interval time.Duration `json:"interval,omitempty"`

	// Queue is the target queue for materialized jobs.
	Queue string `json:"queue"`

	// PayloadTemplate is the static payload enqueued with every fired job.
	PayloadTemplate []byte `json:"payload_template,omitempty"`

	// Priority and MaxAttempts are carried onto each materialized job.
	Priority    int `json:"priority,omitempty"`
	MaxAttempts int `json:"max_attempts,omitempty"`

	LastFiredAt *time.Time  `json:"last_fired_at,omitempty"`
	NextFireAt  *time.Time  `json:"next_fire_at,omitempty"`
	LockedBy    id.WorkerID `json:"locked_by,omitempty"`
	LockedUntil *time.Time  `json:"locked_until,omitempty"`
	Enabled     bool        `json:"enabled"`
}

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression and returns the schedule.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Timetable resolves the spec's firing schedule: the parsed cron
// expression when Schedule is set, otherwise a fixed-interval schedule
// from Interval.
func (s *Spec) Timetable() (cronlib.Schedule, error) {
	if s.Schedule != "" {
		return ParseSchedule(s.Schedule)
	}
	if s.Interval <= 0 {
		return nil, &conveyor.ValidationError{Field: "interval", Reason: "spec needs a cron schedule or a positive interval"}
	}
	return cronlib.Every(s.Interval), nil
}

// Validate checks that the spec is well-formed enough to persist.
func (s *Spec) Validate() error {
	if s.Name == "" {
		return &conveyor.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if s.Queue == "" {
		return &conveyor.ValidationError{Field: "queue", Reason: "must not be empty"}
	}
	_, err := s.Timetable()
	return err
}
