package queue

import (
	"github.com/conveyorhq/conveyor"
	"github.com/conveyorhq/conveyor/id"
)

// Queue is the persisted record for one named job stream.
type Queue struct {
	conveyor.Entity

	ID          id.QueueID `json:"id"`
	Name        string     `json:"name"`
	Concurrency int        `json:"concurrency"`
	Paused      bool       `json:"paused"`
}

// Config declares a queue at engine build time.
type Config struct {
	// Name is the queue identifier (must match the job.Queue field).
	Name string

	// Concurrency is the maximum number of this queue's jobs that may be
	// active simultaneously. Values below 1 are normalized to 1.
	Concurrency int

	// RateLimit is the maximum sustained jobs per second that may be
	// claimed from this queue by the local pool. Zero disables rate
	// limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

// Normalize applies defaulting rules and returns the adjusted config.
func (c Config) Normalize() Config {
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	if c.RateLimit > 0 && c.RateBurst <= 0 {
		c.RateBurst = 1
	}
	return c
}

// New builds a Queue record from a Config.
func New(cfg Config) *Queue {
	cfg = cfg.Normalize()
	return &Queue{
		Entity:      conveyor.NewEntity(),
		ID:          id.NewQueueID(),
		Name:        cfg.Name,
		Concurrency: cfg.Concurrency,
	}
}
