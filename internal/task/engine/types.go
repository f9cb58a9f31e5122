package engine

import (
	"context"
	"time"
)

// Config controls the batch runner.
type Config struct {
	// Workers bounds how many jobs of one batch run at the same time.
	Workers int

	// DefaultTimeout is used when Job.Timeout is 0. 0 means no timeout.
	DefaultTimeout time.Duration

	HistorySize int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.DefaultTimeout < 0 {
		c.DefaultTimeout = 0
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 200
	}
	return c
}

// Job is a unit of work executed by the engine.
type Job struct {
	ID      string
	Name    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// Result is reported in the same order as the submitted jobs.
type Result struct {
	ID       string
	Err      error
	Duration time.Duration
}

type HistoryItem struct {
	ID       string
	Name     string
	Started  time.Time
	Duration time.Duration
	Error    string
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Workers        int
	DefaultTimeout time.Duration
	InFlight       int
	Completed      uint64
	Failed         uint64
	Panics         uint64
	History        []HistoryItem
}
