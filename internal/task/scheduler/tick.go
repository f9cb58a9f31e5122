package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"reminderd/internal/delivery"
	"reminderd/internal/domain"
	"reminderd/internal/notifier"
	"reminderd/internal/schedule"
	"reminderd/internal/storage"
	"reminderd/internal/task/engine"
	logx "reminderd/pkg/logx"
)

const (
	noteDeliveryDisabled = "delivery disabled"
	noteReminderMissing  = "reminder not found"
	noteReminderInactive = "reminder inactive"
)

// recordTimeout bounds the write of an attempt's outcome. The write does not
// inherit the job deadline, so a delivery that used up the job's time still
// consumes an attempt.
const recordTimeout = 5 * time.Second

var (
	errDeliveryFailed   = errors.New("delivery failed")
	errDeliveryPanicked = errors.New("delivery panicked")
)

// Tick runs one scan-and-dispatch pass and returns once every attempt of
// the pass has been recorded.
//
// A store error while listing due tasks aborts the pass. A store error on a
// single task is counted in Report.Errors and leaves that task pending for
// the next pass. A deliverer that panics or times out costs an attempt like
// any other failed delivery.
func (s *Service) Tick(ctx context.Context) (Report, error) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	cfg, now := s.snapshotCfg()
	start := time.Now()

	due, err := s.store.ListDue(ctx, now, cfg.BatchSize)
	if err != nil {
		err = fmt.Errorf("list due tasks: %w", err)
		s.recordTick(now, time.Since(start), Report{}, err)
		return Report{}, err
	}

	rep := Report{Due: len(due)}
	if len(due) == 0 {
		s.recordTick(now, time.Since(start), rep, nil)
		return rep, nil
	}

	outcomes := make([]outcome, len(due))
	jobs := make([]engine.Job, len(due))
	for i, t := range due {
		run := func(ctx context.Context) error {
			o, err := s.process(ctx, cfg, t)
			outcomes[i] = o
			return err
		}
		if cfg.DeliveryDisabled {
			run = func(ctx context.Context) error {
				o, err := s.cancel(ctx, t, noteDeliveryDisabled)
				outcomes[i] = o
				return err
			}
		}
		jobs[i] = engine.Job{ID: t.ID, Name: "deliver", Run: run}
	}

	for i, res := range s.engine.Run(ctx, jobs) {
		if res.Err != nil {
			rep.Errors++
			s.log.Warn("task not processed",
				logx.String("task_id", due[i].ID),
				logx.String("reminder_id", due[i].ReminderID),
				logx.Err(res.Err),
			)
			continue
		}
		rep.add(outcomes[i])
	}
	s.recordTick(now, time.Since(start), rep, nil)
	return rep, nil
}

// process delivers one due task and records the outcome.
func (s *Service) process(ctx context.Context, cfg Config, t delivery.Task) (outcome, error) {
	r, err := s.store.LoadReminder(ctx, t.ReminderID)
	if errors.Is(err, storage.ErrNotFound) {
		return s.cancel(ctx, t, noteReminderMissing)
	}
	if err != nil {
		return outcomeNone, fmt.Errorf("load reminder: %w", err)
	}
	if !r.IsActive || r.IsCompleted {
		return s.cancel(ctx, t, noteReminderInactive)
	}
	p, err := s.store.LoadPolicy(ctx, t.ReminderID)
	if err != nil {
		return outcomeNone, fmt.Errorf("load policy: %w", err)
	}

	res := s.deliver(ctx, cfg, buildMessage(r, p, t))
	now := s.clock()
	if res.Success {
		next, expect, err := t.Succeed(now)
		if err != nil {
			return outcomeSkipped, nil
		}
		return s.swap(ctx, t, expect, next, outcomeSent)
	}

	cause := res.Error
	if cause == nil {
		cause = errDeliveryFailed
	}
	next, expect, err := t.Fail(cause, now, delivery.LinearBackoff(cfg.BackoffStep))
	if err != nil {
		return outcomeSkipped, nil
	}
	o := outcomeRetried
	if next.State == delivery.StateFailed {
		o = outcomeFailed
		s.log.Warn("delivery gave up",
			logx.String("task_id", t.ID),
			logx.String("reminder_id", t.ReminderID),
			logx.Int("attempts", next.AttemptCount),
			logx.Err(cause),
		)
	}
	return s.swap(ctx, t, expect, next, o)
}

func (s *Service) deliver(ctx context.Context, cfg Config, msg notifier.Message) (res notifier.Result) {
	if s.deliverer == nil {
		return notifier.Result{Error: notifier.ErrNoChannels}
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("deliverer panicked",
				logx.String("task_id", msg.TaskID),
				logx.String("reminder_id", msg.ReminderID),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
			res = notifier.Result{Error: fmt.Errorf("%w: %v", errDeliveryPanicked, r)}
		}
	}()
	dctx, cancel := context.WithTimeout(ctx, cfg.DeliveryTimeout)
	defer cancel()
	return s.deliverer.Deliver(dctx, msg)
}

func (s *Service) cancel(ctx context.Context, t delivery.Task, note string) (outcome, error) {
	next, expect, err := t.Cancel(note, s.clock())
	if err != nil {
		return outcomeSkipped, nil
	}
	return s.swap(ctx, t, expect, next, outcomeCancelled)
}

func (s *Service) swap(ctx context.Context, t delivery.Task, expect delivery.Expect, next delivery.Task, o outcome) (outcome, error) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	ok, err := s.store.CompareAndSwap(rctx, t.ID, expect, next)
	if err != nil {
		return outcomeNone, fmt.Errorf("record %s: %w", next.State, err)
	}
	if !ok {
		s.log.Debug("task changed concurrently; outcome dropped",
			logx.String("task_id", t.ID),
			logx.String("want", string(next.State)),
		)
		return outcomeSkipped, nil
	}
	return o, nil
}

func buildMessage(r domain.Reminder, p *domain.NotificationPolicy, t delivery.Task) notifier.Message {
	tmpl := ""
	if p != nil {
		tmpl = p.MessageTemplate
	}
	channels := t.Channels
	if len(channels) == 0 {
		channels = r.Channels
	}
	return notifier.Message{
		TaskID:      t.ID,
		ReminderID:  r.ID,
		Channels:    channels,
		Title:       r.Title,
		Text:        schedule.Render(tmpl, r, t.ScheduledTime),
		Priority:    t.Priority,
		ScheduledAt: t.ScheduledTime,
	}
}
