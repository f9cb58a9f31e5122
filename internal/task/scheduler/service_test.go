package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"reminderd/internal/delivery"
	"reminderd/internal/domain"
	"reminderd/internal/notifier"
	"reminderd/internal/storage"
	"reminderd/internal/task/engine"
	logx "reminderd/pkg/logx"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeDeliverer struct {
	mu   sync.Mutex
	msgs []notifier.Message
	fn   func(notifier.Message) notifier.Result
}

func (d *fakeDeliverer) Deliver(_ context.Context, msg notifier.Message) notifier.Result {
	d.mu.Lock()
	d.msgs = append(d.msgs, msg)
	fn := d.fn
	d.mu.Unlock()
	if fn == nil {
		return notifier.Result{Success: true}
	}
	return fn(msg)
}

func (d *fakeDeliverer) sent() []notifier.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]notifier.Message, len(d.msgs))
	copy(out, d.msgs)
	return out
}

type brokenStore struct {
	storage.Store
}

func (brokenStore) ListDue(context.Context, time.Time, int) ([]delivery.Task, error) {
	return nil, errors.New("database is locked")
}

var base = time.Date(2025, 3, 8, 9, 0, 0, 0, time.UTC)

func newLoop(t *testing.T, cfg Config, d notifier.Deliverer) (*Service, storage.Store, *fakeClock) {
	t.Helper()
	st := storage.NewMemory()
	clock := &fakeClock{t: base}
	s := New(cfg, st, d, engine.New(engine.Config{Workers: 1}, logx.Nop()), logx.Nop())
	s.SetClock(clock.Now)
	return s, st, clock
}

func addReminder(t *testing.T, st storage.Store, r domain.Reminder, p *domain.NotificationPolicy, at ...time.Time) []delivery.Task {
	t.Helper()
	ctx := context.Background()
	if err := st.SaveReminder(ctx, r); err != nil {
		t.Fatal(err)
	}
	if p != nil {
		if err := st.SavePolicy(ctx, *p); err != nil {
			t.Fatal(err)
		}
	}
	tasks := delivery.NewTasks(r, at, 3, base.Add(-time.Hour))
	if err := st.CreateTasks(ctx, tasks...); err != nil {
		t.Fatal(err)
	}
	return tasks
}

func getTask(t *testing.T, st storage.Store, id string) delivery.Task {
	t.Helper()
	task, err := st.GetTask(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return task
}

func TestTickDeliversDueTasksByPriority(t *testing.T) {
	t.Parallel()
	d := &fakeDeliverer{}
	s, st, _ := newLoop(t, Config{}, d)

	low := addReminder(t, st, domain.Reminder{ID: "low", Title: "Water plants", AnchorTime: base, Priority: 1, IsActive: true}, nil,
		base.Add(-10*time.Minute))
	high := addReminder(t, st, domain.Reminder{ID: "high", Title: "Take pills", AnchorTime: base, Priority: 9, IsActive: true, Channels: []string{"telegram"}}, nil,
		base, base.Add(time.Hour))

	rep, err := s.Tick(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Due != 2 || rep.Sent != 2 || rep.Errors != 0 {
		t.Fatalf("report = %+v", rep)
	}
	msgs := d.sent()
	if len(msgs) != 2 || msgs[0].ReminderID != "high" || msgs[1].ReminderID != "low" {
		t.Fatalf("delivery order = %+v", msgs)
	}
	if msgs[0].Text != "Reminder: Take pills is due now" || msgs[0].Channels[0] != "telegram" || msgs[0].Priority != 9 {
		t.Fatalf("message = %+v", msgs[0])
	}

	if got := getTask(t, st, low[0].ID); got.State != delivery.StateSent || got.AttemptCount != 1 {
		t.Fatalf("low task = %+v", got)
	}
	if got := getTask(t, st, high[1].ID); got.State != delivery.StatePending {
		t.Fatalf("future task = %+v", got)
	}
}

func TestTickRetriesWithBackoffThenFails(t *testing.T) {
	t.Parallel()
	d := &fakeDeliverer{fn: func(notifier.Message) notifier.Result {
		return notifier.Result{Error: errors.New("provider 503")}
	}}
	s, st, clock := newLoop(t, Config{BackoffStep: time.Minute}, d)
	tasks := addReminder(t, st, domain.Reminder{ID: "r", Title: "Call mom", AnchorTime: base, IsActive: true}, nil, base)
	id := tasks[0].ID

	rep, err := s.Tick(context.Background())
	if err != nil || rep.Retried != 1 {
		t.Fatalf("tick 1 = %+v, %v", rep, err)
	}
	got := getTask(t, st, id)
	if got.State != delivery.StatePending || got.AttemptCount != 1 || !got.ScheduledTime.Equal(base.Add(time.Minute)) {
		t.Fatalf("after tick 1 = %+v", got)
	}

	// Not due yet: nothing happens.
	if rep, _ := s.Tick(context.Background()); rep.Due != 0 {
		t.Fatalf("early tick = %+v", rep)
	}

	clock.Advance(time.Minute)
	if rep, _ := s.Tick(context.Background()); rep.Retried != 1 {
		t.Fatalf("tick 2 = %+v", rep)
	}
	clock.Advance(2 * time.Minute)
	if rep, _ := s.Tick(context.Background()); rep.Failed != 1 {
		t.Fatalf("tick 3 = %+v", rep)
	}

	got = getTask(t, st, id)
	if got.State != delivery.StateFailed || got.AttemptCount != 3 || !strings.Contains(got.LastError, "provider 503") {
		t.Fatalf("final = %+v", got)
	}
	clock.Advance(time.Hour)
	if rep, _ := s.Tick(context.Background()); rep.Due != 0 {
		t.Fatalf("failed task picked up again: %+v", rep)
	}
}

func TestTickDeliveryDisabledCancels(t *testing.T) {
	t.Parallel()
	d := &fakeDeliverer{}
	s, st, _ := newLoop(t, Config{DeliveryDisabled: true}, d)
	tasks := addReminder(t, st, domain.Reminder{ID: "r", Title: "x", AnchorTime: base, IsActive: true}, nil, base, base.Add(-time.Minute))

	rep, err := s.Tick(context.Background())
	if err != nil || rep.Cancelled != 2 {
		t.Fatalf("report = %+v, %v", rep, err)
	}
	if len(d.sent()) != 0 {
		t.Fatal("deliverer called while disabled")
	}
	for _, task := range tasks {
		got := getTask(t, st, task.ID)
		if got.State != delivery.StateCancelled || got.LastError != noteDeliveryDisabled || got.AttemptCount != 0 {
			t.Fatalf("task = %+v", got)
		}
	}
}

func TestTickCountsPanickingDeliveryAsAttempt(t *testing.T) {
	t.Parallel()
	d := &fakeDeliverer{fn: func(m notifier.Message) notifier.Result {
		if m.ReminderID == "bad" {
			panic("nil map")
		}
		return notifier.Result{Success: true}
	}}
	s, st, clock := newLoop(t, Config{BackoffStep: time.Minute}, d)
	bad := addReminder(t, st, domain.Reminder{ID: "bad", Title: "x", AnchorTime: base, Priority: 5, IsActive: true}, nil, base)
	good := addReminder(t, st, domain.Reminder{ID: "good", Title: "y", AnchorTime: base, IsActive: true}, nil, base)

	rep, err := s.Tick(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Errors != 0 || rep.Retried != 1 || rep.Sent != 1 {
		t.Fatalf("report = %+v", rep)
	}
	got := getTask(t, st, bad[0].ID)
	if got.State != delivery.StatePending || got.AttemptCount != 1 || !strings.Contains(got.LastError, "panicked") {
		t.Fatalf("bad task = %+v", got)
	}
	if got := getTask(t, st, good[0].ID); got.State != delivery.StateSent {
		t.Fatalf("good task = %+v", got)
	}

	for range 2 {
		clock.Advance(time.Hour)
		if _, err := s.Tick(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if got := getTask(t, st, bad[0].ID); got.State != delivery.StateFailed || got.AttemptCount != 3 {
		t.Fatalf("bad task after retries = %+v", got)
	}
}

func TestTickRecordsAttemptAfterJobDeadline(t *testing.T) {
	t.Parallel()
	st, err := storage.Open(storage.Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "reminderd.db")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	stalled := deliverFunc(func(ctx context.Context, _ notifier.Message) notifier.Result {
		<-ctx.Done()
		return notifier.Result{Error: ctx.Err()}
	})
	eng := engine.New(engine.Config{Workers: 1, DefaultTimeout: 50 * time.Millisecond}, logx.Nop())
	s := New(Config{DeliveryTimeout: 200 * time.Millisecond, BackoffStep: time.Minute}, st, stalled, eng, logx.Nop())
	clock := &fakeClock{t: base}
	s.SetClock(clock.Now)

	tasks := addReminder(t, st, domain.Reminder{ID: "r", Title: "Call mum", AnchorTime: base, IsActive: true}, nil, base)
	for i := 1; i <= 3; i++ {
		rep, err := s.Tick(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if rep.Errors != 0 {
			t.Fatalf("tick %d report = %+v", i, rep)
		}
		if got := getTask(t, st, tasks[0].ID); got.AttemptCount != i {
			t.Fatalf("tick %d task = %+v", i, got)
		}
		clock.Advance(time.Hour)
	}
	if got := getTask(t, st, tasks[0].ID); got.State != delivery.StateFailed {
		t.Fatalf("task = %+v, want failed", got)
	}
}

type deliverFunc func(context.Context, notifier.Message) notifier.Result

func (f deliverFunc) Deliver(ctx context.Context, m notifier.Message) notifier.Result { return f(ctx, m) }

func TestTickCancelsTasksOfInactiveReminders(t *testing.T) {
	t.Parallel()
	d := &fakeDeliverer{}
	s, st, _ := newLoop(t, Config{}, d)
	tasks := addReminder(t, st, domain.Reminder{ID: "paused", Title: "x", AnchorTime: base}, nil, base)

	rep, err := s.Tick(context.Background())
	if err != nil || rep.Cancelled != 1 {
		t.Fatalf("report = %+v, %v", rep, err)
	}
	if got := getTask(t, st, tasks[0].ID); got.State != delivery.StateCancelled || got.LastError != noteReminderInactive {
		t.Fatalf("task = %+v", got)
	}
}

func TestTickRendersPolicyTemplate(t *testing.T) {
	t.Parallel()
	d := &fakeDeliverer{}
	s, st, _ := newLoop(t, Config{}, d)
	anchor := base.Add(48 * time.Hour)
	addReminder(t, st,
		domain.Reminder{ID: "r", Title: "Dentist", AnchorTime: anchor, IsActive: true},
		&domain.NotificationPolicy{ReminderID: "r", MessageTemplate: "{title} on {time}"},
		base)

	if _, err := s.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	msgs := d.sent()
	if len(msgs) != 1 || msgs[0].Text != "Dentist on 2025-03-10 09:00" || msgs[0].Title != "Dentist" {
		t.Fatalf("messages = %+v", msgs)
	}
}

func TestTickAbortsOnStoreError(t *testing.T) {
	t.Parallel()
	d := &fakeDeliverer{}
	s := New(Config{}, brokenStore{Store: storage.NewMemory()}, d, nil, logx.Nop())
	if _, err := s.Tick(context.Background()); err == nil || !strings.Contains(err.Error(), "database is locked") {
		t.Fatalf("err = %v", err)
	}
	if snap := s.Snapshot(); snap.Ticks != 1 || snap.LastError == "" {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestStartRunsKickoffTick(t *testing.T) {
	t.Parallel()
	d := &fakeDeliverer{}
	st := storage.NewMemory()
	s := New(Config{Enabled: true, Spec: "1h"}, st, d, nil, logx.Nop())
	now := time.Now()
	addReminder(t, st, domain.Reminder{ID: "r", Title: "x", AnchorTime: now, IsActive: true}, nil, now.Add(-time.Minute))

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for len(d.sent()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)

	if len(d.sent()) != 1 {
		t.Fatalf("sent = %d, want 1", len(d.sent()))
	}
	if snap := s.Snapshot(); snap.Running || snap.Ticks == 0 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestStartDisabledIsNoop(t *testing.T) {
	t.Parallel()
	s := New(Config{}, storage.NewMemory(), &fakeDeliverer{}, nil, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s.Snapshot().Running {
		t.Fatal("disabled loop is running")
	}
	if err := s.Apply(Config{Enabled: true, Spec: "1h", StartDelay: time.Hour}); err != nil {
		t.Fatal(err)
	}
	if !s.Snapshot().Running {
		t.Fatal("enabling via Apply did not start the loop")
	}
	s.Stop(context.Background())
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "defaults", cfg: Config{}},
		{name: "cron", cfg: Config{Spec: "*/2 * * * *", Timezone: "Asia/Jakarta"}},
		{name: "bad cron", cfg: Config{Spec: "cron:61 * * * *"}, wantErr: true},
		{name: "bad tz", cfg: Config{Timezone: "Mars/Olympus"}, wantErr: true},
		{name: "bad interval", cfg: Config{Spec: "soon"}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if err := tc.cfg.Validate(); (err != nil) != tc.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}
