package delivery

import (
	"fmt"
	"time"
)

func (t Task) requirePending(op string) error {
	switch {
	case t.State.Terminal():
		return fmt.Errorf("%s task %s: %w", op, t.ID, ErrTerminal)
	case t.State != StatePending:
		return fmt.Errorf("%s task %s in state %s: %w", op, t.ID, t.State, ErrInvalidTransition)
	}
	return nil
}

func (t Task) bound() int {
	if t.MaxAttempts < 1 {
		return DefaultMaxAttempts
	}
	return t.MaxAttempts
}

// Succeed records a successful attempt.
func (t Task) Succeed(now time.Time) (Task, Expect, error) {
	if err := t.requirePending("succeed"); err != nil {
		return t, Expect{}, err
	}
	guard := t.Guard()
	t.State = StateSent
	t.AttemptCount = min(t.AttemptCount+1, t.bound())
	t.LastError = ""
	t.UpdatedAt = now
	return t, guard, nil
}

// Fail records a failed attempt. Below the bound the task stays pending and
// moves to now+backoff(attempts); at the bound it becomes failed.
func (t Task) Fail(cause error, now time.Time, backoff Backoff) (Task, Expect, error) {
	if err := t.requirePending("fail"); err != nil {
		return t, Expect{}, err
	}
	if backoff == nil {
		backoff = LinearBackoff(DefaultBackoffStep)
	}
	guard := t.Guard()
	t.AttemptCount = min(t.AttemptCount+1, t.bound())
	if cause != nil {
		t.LastError = cause.Error()
	} else {
		t.LastError = "delivery failed"
	}
	t.UpdatedAt = now
	if t.AttemptCount >= t.bound() {
		t.State = StateFailed
		return t, guard, nil
	}
	t.ScheduledTime = now.Add(backoff(t.AttemptCount))
	return t, guard, nil
}

// Cancel moves a pending task to cancelled. A non-empty note replaces LastError.
func (t Task) Cancel(note string, now time.Time) (Task, Expect, error) {
	if err := t.requirePending("cancel"); err != nil {
		return t, Expect{}, err
	}
	guard := t.Guard()
	t.State = StateCancelled
	if note != "" {
		t.LastError = note
	}
	t.UpdatedAt = now
	return t, guard, nil
}

// Reset re-arms a failed task for an immediate retry.
func (t Task) Reset(now time.Time) (Task, Expect, error) {
	if t.State.Terminal() {
		return t, Expect{}, fmt.Errorf("reset task %s: %w", t.ID, ErrTerminal)
	}
	if t.State != StateFailed {
		return t, Expect{}, fmt.Errorf("reset task %s in state %s: %w", t.ID, t.State, ErrInvalidTransition)
	}
	guard := t.Guard()
	t.State = StatePending
	t.AttemptCount = 0
	t.ScheduledTime = now
	t.UpdatedAt = now
	return t, guard, nil
}
