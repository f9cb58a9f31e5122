package storage

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"reminderd/internal/delivery"
	"reminderd/internal/domain"
	"slices"
	"sync"
	"time"
)

// memoryStore keeps everything in maps guarded by one mutex. Values are
// copied on the way in and out so callers never share slices with it.
type memoryStore struct {
	mu        sync.Mutex
	reminders map[string]domain.Reminder
	policies  map[string]domain.NotificationPolicy
	tasks     map[string]delivery.Task
}

func NewMemory() Store {
	return &memoryStore{
		reminders: map[string]domain.Reminder{},
		policies:  map[string]domain.NotificationPolicy{},
		tasks:     map[string]delivery.Task{},
	}
}

func cloneReminder(r domain.Reminder) domain.Reminder {
	r.Channels = slices.Clone(r.Channels)
	r.RecurrenceConfig = maps.Clone(r.RecurrenceConfig)
	return r
}

func clonePolicy(p domain.NotificationPolicy) domain.NotificationPolicy {
	p.SameDayTimes = slices.Clone(p.SameDayTimes)
	return p
}

func cloneTask(t delivery.Task) delivery.Task {
	t.Channels = slices.Clone(t.Channels)
	return t
}

func (s *memoryStore) LoadReminder(_ context.Context, id string) (domain.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reminders[id]
	if !ok {
		return domain.Reminder{}, fmt.Errorf("reminder %s: %w", id, ErrNotFound)
	}
	return cloneReminder(r), nil
}

func (s *memoryStore) SaveReminder(_ context.Context, r domain.Reminder) error {
	if r.ID == "" {
		return errors.New("save reminder: empty id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reminders[r.ID] = cloneReminder(r)
	return nil
}

func (s *memoryStore) DeleteReminder(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reminders[id]; !ok {
		return fmt.Errorf("reminder %s: %w", id, ErrNotFound)
	}
	delete(s.reminders, id)
	delete(s.policies, id)
	maps.DeleteFunc(s.tasks, func(_ string, t delivery.Task) bool { return t.ReminderID == id })
	return nil
}

func (s *memoryStore) ListReminders(_ context.Context) ([]domain.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Reminder, 0, len(s.reminders))
	for _, r := range s.reminders {
		out = append(out, cloneReminder(r))
	}
	sortReminders(out)
	return out, nil
}

func sortReminders(rs []domain.Reminder) {
	slices.SortFunc(rs, func(a, b domain.Reminder) int {
		if c := a.AnchorTime.Compare(b.AnchorTime); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

func (s *memoryStore) LoadPolicy(_ context.Context, reminderID string) (*domain.NotificationPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.policies[reminderID]
	if !ok {
		return nil, nil
	}
	p = clonePolicy(p)
	return &p, nil
}

func (s *memoryStore) SavePolicy(_ context.Context, p domain.NotificationPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reminders[p.ReminderID]; !ok {
		return fmt.Errorf("policy for reminder %s: %w", p.ReminderID, ErrNotFound)
	}
	s.policies[p.ReminderID] = clonePolicy(p)
	return nil
}

func (s *memoryStore) DeletePolicy(_ context.Context, reminderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.policies, reminderID)
	return nil
}

func (s *memoryStore) CreateTasks(_ context.Context, tasks ...delivery.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tasks {
		if _, ok := s.reminders[t.ReminderID]; !ok {
			return fmt.Errorf("task %s reminder %s: %w", t.ID, t.ReminderID, ErrNotFound)
		}
		if _, dup := s.tasks[t.ID]; dup {
			return fmt.Errorf("task %s already exists", t.ID)
		}
	}
	for _, t := range tasks {
		s.tasks[t.ID] = cloneTask(t)
	}
	return nil
}

func (s *memoryStore) GetTask(_ context.Context, id string) (delivery.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return delivery.Task{}, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return cloneTask(t), nil
}

func (s *memoryStore) ListDue(_ context.Context, before time.Time, limit int) ([]delivery.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []delivery.Task
	for _, t := range s.tasks {
		if t.Due(before) {
			out = append(out, cloneTask(t))
		}
	}
	slices.SortFunc(out, delivery.Compare)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryStore) ListByReminder(_ context.Context, reminderID string) ([]delivery.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []delivery.Task
	for _, t := range s.tasks {
		if t.ReminderID == reminderID {
			out = append(out, cloneTask(t))
		}
	}
	slices.SortFunc(out, func(a, b delivery.Task) int {
		if c := a.ScheduledTime.Compare(b.ScheduledTime); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *memoryStore) CompareAndSwap(_ context.Context, id string, expect delivery.Expect, next delivery.Task) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.tasks[id]
	if !ok {
		return false, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if cur.State != expect.State || cur.AttemptCount != expect.AttemptCount {
		return false, nil
	}
	cur.State = next.State
	cur.AttemptCount = next.AttemptCount
	cur.ScheduledTime = next.ScheduledTime
	cur.LastError = next.LastError
	cur.UpdatedAt = next.UpdatedAt
	s.tasks[id] = cur
	return true, nil
}

func (s *memoryStore) Close() error { return nil }
