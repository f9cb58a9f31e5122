// Package delivery models one notification instance as a small state machine.
//
//	pending --succeed--> sent        (terminal)
//	pending --fail-----> pending     (attempts < max, rescheduled by backoff)
//	pending --fail-----> failed      (attempts == max, manual Reset only)
//	pending --cancel---> cancelled   (terminal)
//	failed  --reset----> pending
//
// Transitions are pure. Each returns the next value together with the Expect
// guard the store must match when persisting it.
package delivery

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"reminderd/internal/domain"
)

type State string

const (
	StatePending   State = "pending"
	StateSent      State = "sent"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// DefaultMaxAttempts applies when a task is created with no explicit bound.
const DefaultMaxAttempts = 3

// Terminal reports whether no transition may leave s.
func (s State) Terminal() bool { return s == StateSent || s == StateCancelled }

func (s State) Valid() bool {
	switch s {
	case StatePending, StateSent, StateFailed, StateCancelled:
		return true
	}
	return false
}

type Task struct {
	ID            string    `json:"id"`
	ReminderID    string    `json:"reminder_id"`
	Occurrence    time.Time `json:"occurrence"`
	ScheduledTime time.Time `json:"scheduled_time"`
	Channels      []string  `json:"channels,omitempty"`
	Priority      int       `json:"priority"`
	State         State     `json:"state"`
	AttemptCount  int       `json:"attempt_count"`
	MaxAttempts   int       `json:"max_attempts"`
	// LastError holds the last delivery error, or the note given to Cancel.
	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Expect is the compare-and-swap guard for a task row.
type Expect struct {
	State        State
	AttemptCount int
}

// Guard returns the Expect matching t as currently stored.
func (t Task) Guard() Expect { return Expect{State: t.State, AttemptCount: t.AttemptCount} }

// Due reports whether t is pending and scheduled at or before now.
func (t Task) Due(now time.Time) bool {
	return t.State == StatePending && !t.ScheduledTime.After(now)
}

// NewTasks creates one pending task per timestamp for r's current occurrence.
func NewTasks(r domain.Reminder, times []time.Time, maxAttempts int, now time.Time) []Task {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	out := make([]Task, 0, len(times))
	for _, at := range times {
		out = append(out, Task{
			ID:            uuid.NewString(),
			ReminderID:    r.ID,
			Occurrence:    r.AnchorTime,
			ScheduledTime: at,
			Channels:      slices.Clone(r.Channels),
			Priority:      r.Priority,
			State:         StatePending,
			MaxAttempts:   maxAttempts,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	}
	return out
}

// Less orders due tasks: higher priority first, then earlier scheduled time.
func Less(a, b Task) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.ScheduledTime.Equal(b.ScheduledTime) {
		return a.ScheduledTime.Before(b.ScheduledTime)
	}
	return a.ID < b.ID
}

// Compare is Less in the three-way form used by slices.SortFunc.
func Compare(a, b Task) int {
	switch {
	case Less(a, b):
		return -1
	case Less(b, a):
		return 1
	default:
		return 0
	}
}
