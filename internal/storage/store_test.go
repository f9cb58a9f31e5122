package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"reminderd/internal/delivery"
	"reminderd/internal/domain"
	logx "reminderd/pkg/logx"
)

var base = time.Date(2025, 3, 8, 9, 0, 0, 0, time.UTC)

func drivers(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			st, err := Open(Config{Driver: "memory"}, logx.Nop())
			if err != nil {
				t.Fatalf("open memory: %v", err)
			}
			return st
		},
		"sqlite": func(t *testing.T) Store {
			path := filepath.Join(t.TempDir(), "data", "reminders.db")
			st, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
			if err != nil {
				t.Fatalf("open sqlite: %v", err)
			}
			t.Cleanup(func() { _ = st.Close() })
			return st
		},
	}
}

func sampleReminder() domain.Reminder {
	return domain.Reminder{
		ID:               "r1",
		OwnerID:          "u1",
		FamilyID:         "f1",
		Title:            "Water plants",
		AnchorTime:       base,
		Timezone:         "UTC",
		RecurrenceKind:   domain.RecurMonthly,
		RecurrenceConfig: map[string]any{"day": 8, "skip_weekend": true},
		Channels:         []string{"log", "telegram"},
		Priority:         1,
		IsActive:         true,
		CreatedAt:        base,
		UpdatedAt:        base,
	}
}

func TestStoreContract(t *testing.T) {
	for name, open := range drivers(t) {
		open := open
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := open(t)

			r := sampleReminder()
			if err := st.SaveReminder(ctx, r); err != nil {
				t.Fatalf("SaveReminder: %v", err)
			}
			got, err := st.LoadReminder(ctx, "r1")
			if err != nil {
				t.Fatalf("LoadReminder: %v", err)
			}
			if got.Title != r.Title || !got.AnchorTime.Equal(r.AnchorTime) || got.FamilyID != "f1" || !got.IsActive {
				t.Fatalf("reminder round trip: %+v", got)
			}
			if len(got.Channels) != 2 || got.Channels[1] != "telegram" {
				t.Fatalf("channels = %v", got.Channels)
			}
			if day, ok := got.RecurrenceConfig["day"]; !ok || day == nil {
				t.Fatalf("recurrence config = %v", got.RecurrenceConfig)
			}
			if _, err := st.LoadReminder(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("missing reminder err = %v", err)
			}

			if p, err := st.LoadPolicy(ctx, "r1"); err != nil || p != nil {
				t.Fatalf("absent policy = %v, %v", p, err)
			}
			pol := domain.NewPolicy("r1")
			pol.AdvanceEnabled = true
			pol.AdvanceLeadDays = 3
			pol.SameDayTimes = []domain.ClockTime{domain.Clock(7, 15), domain.Clock(19, 0)}
			pol.MessageTemplate = "{title} at {time}"
			if err := st.SavePolicy(ctx, pol); err != nil {
				t.Fatalf("SavePolicy: %v", err)
			}
			p, err := st.LoadPolicy(ctx, "r1")
			if err != nil || p == nil {
				t.Fatalf("LoadPolicy: %v, %v", p, err)
			}
			if !p.AdvanceEnabled || p.AdvanceLeadDays != 3 || len(p.SameDayTimes) != 2 || p.SameDayTimes[0] != domain.Clock(7, 15) {
				t.Fatalf("policy round trip: %+v", p)
			}
			if p.AdvanceTimeOfDay != domain.DefaultAdvanceTime || p.QuietHoursFallback != domain.DefaultQuietFallback {
				t.Fatalf("policy clocks: %+v", p)
			}
			if err := st.SavePolicy(ctx, domain.NewPolicy("ghost")); !errors.Is(err, ErrNotFound) {
				t.Fatalf("policy for missing reminder err = %v", err)
			}

			tasks := delivery.NewTasks(r, []time.Time{base.Add(-2 * time.Hour), base.Add(-time.Hour), base.Add(time.Hour)}, 3, base)
			tasks[1].Priority = 9
			if err := st.CreateTasks(ctx, tasks...); err != nil {
				t.Fatalf("CreateTasks: %v", err)
			}
			orphan := delivery.NewTasks(domain.Reminder{ID: "ghost"}, []time.Time{base}, 3, base)
			if err := st.CreateTasks(ctx, orphan...); !errors.Is(err, ErrNotFound) {
				t.Fatalf("orphan task err = %v", err)
			}

			due, err := st.ListDue(ctx, base, 0)
			if err != nil {
				t.Fatalf("ListDue: %v", err)
			}
			if len(due) != 2 || due[0].ID != tasks[1].ID || due[1].ID != tasks[0].ID {
				t.Fatalf("due order wrong: %+v", due)
			}
			if limited, _ := st.ListDue(ctx, base, 1); len(limited) != 1 {
				t.Fatalf("limit ignored: %d", len(limited))
			}

			cur, err := st.GetTask(ctx, tasks[0].ID)
			if err != nil {
				t.Fatalf("GetTask: %v", err)
			}
			failed, guard, err := cur.Fail(errors.New("timeout"), base, delivery.LinearBackoff(time.Minute))
			if err != nil {
				t.Fatal(err)
			}
			ok, err := st.CompareAndSwap(ctx, cur.ID, guard, failed)
			if err != nil || !ok {
				t.Fatalf("first CAS = %v, %v", ok, err)
			}
			// A second writer holding the same stale guard loses.
			cancelled, _, _ := cur.Cancel("completed", base)
			ok, err = st.CompareAndSwap(ctx, cur.ID, guard, cancelled)
			if err != nil || ok {
				t.Fatalf("stale CAS = %v, %v", ok, err)
			}
			after, _ := st.GetTask(ctx, cur.ID)
			if after.State != delivery.StatePending || after.AttemptCount != 1 || after.LastError != "timeout" {
				t.Fatalf("after CAS: %+v", after)
			}
			if !after.ScheduledTime.Equal(base.Add(time.Minute)) {
				t.Fatalf("rescheduled to %s", after.ScheduledTime)
			}
			if _, err := st.CompareAndSwap(ctx, "nope", guard, failed); !errors.Is(err, ErrNotFound) {
				t.Fatalf("CAS on missing task err = %v", err)
			}

			byReminder, err := st.ListByReminder(ctx, "r1")
			if err != nil || len(byReminder) != 3 {
				t.Fatalf("ListByReminder = %d, %v", len(byReminder), err)
			}

			list, err := st.ListReminders(ctx)
			if err != nil || len(list) != 1 {
				t.Fatalf("ListReminders = %v, %v", list, err)
			}

			if err := st.DeleteReminder(ctx, "r1"); err != nil {
				t.Fatalf("DeleteReminder: %v", err)
			}
			if p, _ := st.LoadPolicy(ctx, "r1"); p != nil {
				t.Fatal("policy survived reminder delete")
			}
			if left, _ := st.ListByReminder(ctx, "r1"); len(left) != 0 {
				t.Fatalf("tasks survived reminder delete: %d", len(left))
			}
			if err := st.DeleteReminder(ctx, "r1"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("second delete err = %v", err)
			}
		})
	}
}

func TestOpenDrivers(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "none"}, logx.Logger{}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("none driver err = %v", err)
	}
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("expected unknown driver error")
	}
	if _, err := Open(Config{Driver: "sqlite"}, logx.Nop()); err == nil {
		t.Fatal("expected missing path error")
	}
	st, err := Open(Config{}, logx.Nop())
	if err != nil || st == nil {
		t.Fatalf("default driver = %v, %v", st, err)
	}
}

func TestCompareAndSwapSingleWinner(t *testing.T) {
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := open(t)
			r := sampleReminder()
			if err := st.SaveReminder(ctx, r); err != nil {
				t.Fatal(err)
			}
			tasks := delivery.NewTasks(r, []time.Time{base}, 3, base)
			if err := st.CreateTasks(ctx, tasks...); err != nil {
				t.Fatal(err)
			}
			cur := tasks[0]

			const writers = 16
			var (
				wg   sync.WaitGroup
				wins atomic.Int32
				errs = make(chan error, writers)
			)
			for i := range writers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					var (
						next  delivery.Task
						guard delivery.Expect
						err   error
					)
					if i%2 == 0 {
						next, guard, err = cur.Succeed(base)
					} else {
						next, guard, err = cur.Fail(errors.New("timeout"), base, delivery.LinearBackoff(time.Minute))
					}
					if err != nil {
						errs <- err
						return
					}
					ok, err := st.CompareAndSwap(ctx, cur.ID, guard, next)
					if err != nil {
						errs <- err
						return
					}
					if ok {
						wins.Add(1)
					}
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				t.Fatalf("writer: %v", err)
			}
			if got := wins.Load(); got != 1 {
				t.Fatalf("%d writers won the same guard, want 1", got)
			}
			after, err := st.GetTask(ctx, cur.ID)
			if err != nil {
				t.Fatal(err)
			}
			if after.AttemptCount != 1 {
				t.Fatalf("attempt count = %d after one transition", after.AttemptCount)
			}
		})
	}
}
