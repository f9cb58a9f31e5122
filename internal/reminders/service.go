package reminders

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"reminderd/internal/delivery"
	"reminderd/internal/domain"
	"reminderd/internal/recurrence"
	"reminderd/internal/schedule"
	"reminderd/internal/storage"
	logx "reminderd/pkg/logx"
)

// ErrConflict means a task changed between read and conditional write.
var ErrConflict = errors.New("task changed concurrently")

type Config struct {
	// MaxAttempts is copied onto every new delivery task.
	MaxAttempts int
	Quiet       schedule.QuietWindow
	// MaxCatchUp bounds how many occurrences completion may skip to reach
	// the future.
	MaxCatchUp int
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = delivery.DefaultMaxAttempts
	}
	if c.MaxCatchUp <= 0 {
		c.MaxCatchUp = 1000
	}
	return c
}

// Service reacts to reminder lifecycle events coming from the CRUD side and
// keeps the delivery task set in step with each reminder's current occurrence.
type Service struct {
	store storage.Store
	log   logx.Logger

	mu  sync.RWMutex
	cfg Config
	now func() time.Time

	// completeMu serializes completions so one occurrence is consumed once.
	completeMu sync.Mutex
}

func New(cfg Config, store storage.Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		store: store,
		log:   log.With(logx.String("comp", "reminders")),
		cfg:   cfg.withDefaults(),
		now:   time.Now,
	}
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
}

// SetClock replaces the time source. Intended for tests and previews.
func (s *Service) SetClock(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *Service) snapshot() (Config, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg, s.now()
}

// OnReminderCreated schedules the first cycle of a reminder that the caller
// has already persisted. It returns the ids of the created tasks.
func (s *Service) OnReminderCreated(ctx context.Context, r domain.Reminder, p *domain.NotificationPolicy) ([]string, error) {
	cfg, now := s.snapshot()
	return s.scheduleCycle(ctx, cfg, now, r, p)
}

func (s *Service) scheduleCycle(ctx context.Context, cfg Config, now time.Time, r domain.Reminder, p *domain.NotificationPolicy) ([]string, error) {
	times := schedule.Builder{Quiet: cfg.Quiet}.Build(r, p, now)
	tasks := delivery.NewTasks(r, times, cfg.MaxAttempts, now)
	if err := s.store.CreateTasks(ctx, tasks...); err != nil {
		return nil, fmt.Errorf("create tasks for reminder %s: %w", r.ID, err)
	}
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	s.log.Debug("cycle scheduled",
		logx.String("reminder_id", r.ID),
		logx.Time("anchor", r.AnchorTime),
		logx.Int("tasks", len(tasks)),
	)
	return ids, nil
}

// OnReminderCompleted consumes the current occurrence. Pending tasks are
// cancelled first; a task that was already sent stays sent.
//
// For a one-off reminder it marks the reminder completed and returns the zero
// time. Otherwise it moves the anchor to the next occurrence after now,
// schedules that cycle and returns the new anchor.
//
// The next cycle's tasks are written before the anchor, so a failed call can
// be retried: the retry finds the same next occurrence and reuses its tasks.
func (s *Service) OnReminderCompleted(ctx context.Context, reminderID string) (time.Time, error) {
	s.completeMu.Lock()
	defer s.completeMu.Unlock()

	cfg, now := s.snapshot()
	r, err := s.store.LoadReminder(ctx, reminderID)
	if err != nil {
		return time.Time{}, err
	}

	if !r.IsRecurring() {
		cancelled, err := s.cancelPending(ctx, reminderID, "reminder completed", now, nil)
		if err != nil {
			return time.Time{}, err
		}
		r.IsCompleted = true
		r.UpdatedAt = now
		if err := s.store.SaveReminder(ctx, r); err != nil {
			return time.Time{}, fmt.Errorf("save reminder %s: %w", r.ID, err)
		}
		s.log.Info("reminder completed",
			logx.String("reminder_id", r.ID),
			logx.Int("cancelled", cancelled),
		)
		return time.Time{}, nil
	}

	next, skipped := advance(r.LocalAnchor(), recurrence.Parse(r.RecurrenceKind, r.RecurrenceConfig), now, cfg.MaxCatchUp)
	ofNext := func(t delivery.Task) bool { return t.Occurrence.Equal(next) }

	cancelled, err := s.cancelPending(ctx, reminderID, "reminder completed", now, ofNext)
	if err != nil {
		return time.Time{}, err
	}
	existing, err := s.store.ListByReminder(ctx, r.ID)
	if err != nil {
		return time.Time{}, fmt.Errorf("list tasks for reminder %s: %w", r.ID, err)
	}
	scheduled := slices.ContainsFunc(existing, func(t delivery.Task) bool {
		return ofNext(t) && t.State != delivery.StateCancelled
	})

	r.AnchorTime = next
	r.IsCompleted = false
	r.UpdatedAt = now

	created := 0
	if !scheduled {
		p, err := s.store.LoadPolicy(ctx, r.ID)
		if err != nil {
			return time.Time{}, fmt.Errorf("load policy %s: %w", r.ID, err)
		}
		ids, err := s.scheduleCycle(ctx, cfg, now, r, p)
		if err != nil {
			return time.Time{}, err
		}
		created = len(ids)
	}
	if err := s.store.SaveReminder(ctx, r); err != nil {
		return time.Time{}, fmt.Errorf("save reminder %s: %w", r.ID, err)
	}
	s.log.Info("reminder advanced",
		logx.String("reminder_id", r.ID),
		logx.Time("next", next),
		logx.Int("skipped", skipped),
		logx.Int("cancelled", cancelled),
		logx.Int("tasks", created),
		logx.Bool("reused", scheduled),
	)
	return next, nil
}

// advance steps at least once and keeps stepping while the result is not in
// the future, up to limit steps.
func advance(anchor time.Time, rule recurrence.Rule, now time.Time, limit int) (time.Time, int) {
	next := anchor
	skipped := -1
	for i := 0; i < limit; i++ {
		n, ok := recurrence.Next(next, rule)
		if !ok {
			break
		}
		next = n
		skipped++
		if next.After(now) {
			break
		}
	}
	return next, max(skipped, 0)
}

// OnReminderCancelledOrDeleted cancels every pending task of the reminder and
// returns how many were cancelled. Call it before deleting the row; after a
// delete the cascade has already removed the tasks and this is a no-op.
func (s *Service) OnReminderCancelledOrDeleted(ctx context.Context, reminderID string) (int, error) {
	_, now := s.snapshot()
	n, err := s.cancelPending(ctx, reminderID, "reminder cancelled", now, nil)
	if err != nil {
		return n, err
	}
	s.log.Info("reminder tasks cancelled", logx.String("reminder_id", reminderID), logx.Int("cancelled", n))
	return n, nil
}

// cancelPending cancels the reminder's pending tasks except those keep
// matches. A nil keep cancels all of them.
func (s *Service) cancelPending(ctx context.Context, reminderID, note string, now time.Time, keep func(delivery.Task) bool) (int, error) {
	tasks, err := s.store.ListByReminder(ctx, reminderID)
	if err != nil {
		return 0, fmt.Errorf("list tasks for reminder %s: %w", reminderID, err)
	}
	n := 0
	for _, t := range tasks {
		if t.State != delivery.StatePending || (keep != nil && keep(t)) {
			continue
		}
		next, guard, err := t.Cancel(note, now)
		if err != nil {
			continue
		}
		ok, err := s.store.CompareAndSwap(ctx, t.ID, guard, next)
		if err != nil {
			return n, fmt.Errorf("cancel task %s: %w", t.ID, err)
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// PreviewSchedule returns the notification times a reminder would get now.
// Nothing is written.
func (s *Service) PreviewSchedule(r domain.Reminder, p *domain.NotificationPolicy) []time.Time {
	cfg, now := s.snapshot()
	return schedule.Builder{Quiet: cfg.Quiet}.Build(r, p, now)
}

// Detail is the read model behind a reminder's detail view.
type Detail struct {
	Reminder       domain.Reminder            `json:"reminder"`
	Policy         *domain.NotificationPolicy `json:"policy,omitempty"`
	Upcoming       []time.Time                `json:"upcoming"`
	NextOccurrence *time.Time                 `json:"next_occurrence,omitempty"`
	Tasks          []delivery.Task            `json:"tasks"`
}

func (s *Service) Detail(ctx context.Context, reminderID string) (Detail, error) {
	r, err := s.store.LoadReminder(ctx, reminderID)
	if err != nil {
		return Detail{}, err
	}
	p, err := s.store.LoadPolicy(ctx, reminderID)
	if err != nil {
		return Detail{}, fmt.Errorf("load policy %s: %w", reminderID, err)
	}
	tasks, err := s.store.ListByReminder(ctx, reminderID)
	if err != nil {
		return Detail{}, fmt.Errorf("list tasks for reminder %s: %w", reminderID, err)
	}
	d := Detail{
		Reminder: r,
		Policy:   p,
		Upcoming: s.PreviewSchedule(r, p),
		Tasks:    tasks,
	}
	if r.IsRecurring() {
		if next, ok := recurrence.NextFor(r.LocalAnchor(), r.RecurrenceKind, r.RecurrenceConfig); ok {
			d.NextOccurrence = &next
		}
	}
	return d, nil
}

// RetryTask re-arms a failed task for immediate delivery.
func (s *Service) RetryTask(ctx context.Context, taskID string) (delivery.Task, error) {
	_, now := s.snapshot()
	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return delivery.Task{}, err
	}
	next, guard, err := t.Reset(now)
	if err != nil {
		return t, err
	}
	ok, err := s.store.CompareAndSwap(ctx, t.ID, guard, next)
	if err != nil {
		return t, fmt.Errorf("reset task %s: %w", t.ID, err)
	}
	if !ok {
		return t, fmt.Errorf("reset task %s: %w", t.ID, ErrConflict)
	}
	s.log.Info("task reset for retry", logx.String("task_id", t.ID), logx.String("reminder_id", t.ReminderID))
	return next, nil
}
