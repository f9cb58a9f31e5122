package notifier

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUnknownChannel = errors.New("unknown delivery channel")
	ErrNoChannels     = errors.New("no delivery channels")
)

// Config controls delivery throttling and defaults.
type Config struct {
	RatePerSec int
	// DefaultChannels is used for messages that name no channel.
	DefaultChannels []string
	HistorySize     int
}

// Message is one notification instance ready to send.
type Message struct {
	TaskID      string
	ReminderID  string
	Channels    []string
	Title       string
	Text        string
	Priority    int
	ScheduledAt time.Time
}

// Result reports a delivery attempt. Error joins every channel failure.
type Result struct {
	Success bool
	Error   error
}

// Deliverer is what the scheduler loop calls for each due task.
type Deliverer interface {
	Deliver(ctx context.Context, msg Message) Result
}

// Channel is one delivery transport.
type Channel interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

type HistoryItem struct {
	At       time.Time
	TaskID   string
	Channels []string
	Error    string
}
