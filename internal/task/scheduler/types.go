package scheduler

import (
	"time"

	"reminderd/internal/task/engine"
)

const (
	DefaultSpec            = "60s"
	DefaultBatchSize       = 500
	DefaultDeliveryTimeout = 30 * time.Second
)

// Config controls the poll loop.
type Config struct {
	Enabled bool
	// Spec is the poll schedule, see ParseSchedule. Empty means DefaultSpec.
	Spec     string
	Timezone string // IANA TZ for cron specs, e.g. "Asia/Jakarta"

	// BatchSize caps how many due tasks one tick takes.
	BatchSize int

	// DeliveryTimeout bounds a single call to the deliverer.
	DeliveryTimeout time.Duration

	// DeliveryDisabled cancels due tasks instead of delivering them.
	DeliveryDisabled bool

	// BackoffStep is the linear retry step after a failed attempt.
	BackoffStep time.Duration

	// StartDelay postpones the first tick after Start.
	StartDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.Spec == "" {
		c.Spec = DefaultSpec
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = DefaultDeliveryTimeout
	}
	if c.StartDelay < 0 {
		c.StartDelay = 0
	}
	return c
}

// Report summarizes one tick.
type Report struct {
	Due       int
	Sent      int
	Retried   int
	Failed    int
	Cancelled int
	// Skipped counts tasks whose conditional update lost to a concurrent writer.
	Skipped int
	// Errors counts tasks that could not be processed this tick; they stay
	// pending and are picked up again.
	Errors int
}

func (r *Report) add(o outcome) {
	switch o {
	case outcomeSent:
		r.Sent++
	case outcomeRetried:
		r.Retried++
	case outcomeFailed:
		r.Failed++
	case outcomeCancelled:
		r.Cancelled++
	case outcomeSkipped:
		r.Skipped++
	}
}

type outcome int

const (
	outcomeNone outcome = iota
	outcomeSent
	outcomeRetried
	outcomeFailed
	outcomeCancelled
	outcomeSkipped
)

type Snapshot struct {
	Enabled          bool
	Running          bool
	Spec             string
	Timezone         string
	DeliveryDisabled bool
	Next             time.Time
	Prev             time.Time

	LastTick     time.Time
	LastDuration time.Duration
	LastReport   Report
	LastError    string
	Ticks        uint64

	Engine engine.Snapshot
}
