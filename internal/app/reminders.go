package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"reminderd/internal/domain"
	"reminderd/internal/reminders"
	logx "reminderd/pkg/logx"

	"github.com/google/uuid"
)

// AddReminder validates and stores a new reminder with its optional policy,
// then schedules its first cycle. An empty id is generated.
func (a *App) AddReminder(ctx context.Context, r domain.Reminder, p *domain.NotificationPolicy) (domain.Reminder, []string, error) {
	if strings.TrimSpace(r.ID) == "" {
		r.ID = uuid.NewString()
	}
	if p != nil {
		p.ReminderID = r.ID
	}
	if err := reminders.Validate(r, p); err != nil {
		return r, nil, err
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	r.UpdatedAt = r.CreatedAt

	if err := a.store.SaveReminder(ctx, r); err != nil {
		return r, nil, fmt.Errorf("save reminder %s: %w", r.ID, err)
	}
	if p != nil {
		if err := a.store.SavePolicy(ctx, *p); err != nil {
			return r, nil, fmt.Errorf("save policy %s: %w", r.ID, err)
		}
	}
	ids, err := a.reminders.OnReminderCreated(ctx, r, p)
	if err != nil {
		return r, nil, err
	}
	a.log.Info("reminder added", logx.String("reminder_id", r.ID), logx.Int("tasks", len(ids)))
	return r, ids, nil
}

// CancelReminder deactivates a reminder and cancels its pending tasks.
func (a *App) CancelReminder(ctx context.Context, id string) (int, error) {
	r, err := a.store.LoadReminder(ctx, id)
	if err != nil {
		return 0, err
	}
	if r.IsActive {
		r.IsActive = false
		if err := a.store.SaveReminder(ctx, r); err != nil {
			return 0, fmt.Errorf("save reminder %s: %w", id, err)
		}
	}
	return a.reminders.OnReminderCancelledOrDeleted(ctx, id)
}

// DeleteReminder cancels pending tasks, then removes the reminder with its
// policy and tasks.
func (a *App) DeleteReminder(ctx context.Context, id string) error {
	if _, err := a.reminders.OnReminderCancelledOrDeleted(ctx, id); err != nil {
		return err
	}
	if err := a.store.DeleteReminder(ctx, id); err != nil {
		return fmt.Errorf("delete reminder %s: %w", id, err)
	}
	a.log.Info("reminder deleted", logx.String("reminder_id", id))
	return nil
}
