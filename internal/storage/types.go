package storage

import (
	"context"
	"errors"
	"time"

	"reminderd/internal/delivery"
	"reminderd/internal/domain"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("not found")
)

// Config configures storage.
//
// Driver values:
//   - "memory" (default when empty)
//   - "sqlite": SQLite database file at Path
//   - "none": rejected with ErrDisabled, the daemon cannot run without a store
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means 5s
}

type Store interface {
	LoadReminder(ctx context.Context, id string) (domain.Reminder, error)
	SaveReminder(ctx context.Context, r domain.Reminder) error
	// DeleteReminder also removes the reminder's policy and tasks.
	DeleteReminder(ctx context.Context, id string) error
	ListReminders(ctx context.Context) ([]domain.Reminder, error)

	// LoadPolicy returns (nil, nil) when the reminder has no policy.
	LoadPolicy(ctx context.Context, reminderID string) (*domain.NotificationPolicy, error)
	SavePolicy(ctx context.Context, p domain.NotificationPolicy) error
	DeletePolicy(ctx context.Context, reminderID string) error

	CreateTasks(ctx context.Context, tasks ...delivery.Task) error
	GetTask(ctx context.Context, id string) (delivery.Task, error)
	// ListDue returns pending tasks scheduled at or before `before`, highest
	// priority first, then oldest first. limit <= 0 means no limit.
	ListDue(ctx context.Context, before time.Time, limit int) ([]delivery.Task, error)
	ListByReminder(ctx context.Context, reminderID string) ([]delivery.Task, error)
	// CompareAndSwap stores next only if the row still matches expect.
	CompareAndSwap(ctx context.Context, id string, expect delivery.Expect, next delivery.Task) (bool, error)

	Close() error
}
