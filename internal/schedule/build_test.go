package schedule

import (
	"slices"
	"testing"
	"time"

	"reminderd/internal/domain"
)

func ts(t *testing.T, s string) time.Time {
	t.Helper()
	v, err := time.ParseInLocation("2006-01-02 15:04", s, time.UTC)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return v
}

func reminderAt(t *testing.T, anchor string) domain.Reminder {
	t.Helper()
	return domain.Reminder{ID: "r1", Title: "Pay rent", AnchorTime: ts(t, anchor), RecurrenceKind: domain.RecurMonthly, IsActive: true}
}

func formatAll(in []time.Time) []string {
	out := make([]string, len(in))
	for i, t := range in {
		out[i] = t.Format("2006-01-02 15:04")
	}
	return out
}

func expectTimes(t *testing.T, got []time.Time, want ...string) {
	t.Helper()
	if g := formatAll(got); !slices.Equal(g, want) {
		t.Fatalf("got %v, want %v", g, want)
	}
}

func TestBuildWithoutPolicy(t *testing.T) {
	t.Parallel()
	r := reminderAt(t, "2025-01-25 09:00")
	expectTimes(t, Build(r, nil, ts(t, "2025-01-20 00:00")), "2025-01-25 09:00")
	expectTimes(t, Build(r, nil, ts(t, "2025-01-25 09:00")))
}

func TestBuildInactive(t *testing.T) {
	t.Parallel()
	r := reminderAt(t, "2025-01-25 09:00")
	r.IsActive = false
	p := domain.NewPolicy(r.ID)
	if got := Build(r, &p, ts(t, "2025-01-01 00:00")); len(got) != 0 {
		t.Fatalf("inactive reminder produced %v", got)
	}
}

func TestBuildAdvanceAndSameDay(t *testing.T) {
	t.Parallel()
	r := reminderAt(t, "2025-03-08 20:00")
	p := domain.NewPolicy(r.ID)
	p.AdvanceEnabled = true
	p.AdvanceLeadDays = 5
	p.AdvanceIntervalDays = 2
	p.AdvanceTimeOfDay = domain.Clock(9, 0)
	p.SameDayTimes = []domain.ClockTime{domain.Clock(20, 0), domain.Clock(8, 0)}
	p.AvoidQuietHours = true

	got := Build(r, &p, ts(t, "2025-03-01 00:00"))
	expectTimes(t, got,
		"2025-03-03 09:00", "2025-03-05 09:00", "2025-03-07 09:00",
		"2025-03-08 08:00", "2025-03-08 20:00",
	)
}

func TestBuildDropsPast(t *testing.T) {
	t.Parallel()
	r := reminderAt(t, "2025-03-08 20:00")
	p := domain.NewPolicy(r.ID)
	p.AdvanceEnabled = true
	p.AdvanceLeadDays = 3
	got := Build(r, &p, ts(t, "2025-03-06 12:00"))
	expectTimes(t, got, "2025-03-07 09:00", "2025-03-08 20:00")
}

func TestBuildQuietHoursReplacement(t *testing.T) {
	t.Parallel()
	r := reminderAt(t, "2025-03-08 23:30")
	p := domain.NewPolicy(r.ID)
	p.AdvanceEnabled = true
	p.AdvanceLeadDays = 1
	p.AdvanceTimeOfDay = domain.Clock(22, 15)
	p.SameDayTimes = []domain.ClockTime{domain.Clock(6, 30), domain.Clock(23, 0), domain.Clock(12, 0)}
	p.AvoidQuietHours = true
	p.QuietHoursFallback = domain.Clock(8, 0)

	got := Build(r, &p, ts(t, "2025-03-01 00:00"))
	// 06:30 and 23:00 both collapse onto 08:00.
	expectTimes(t, got, "2025-03-07 08:00", "2025-03-08 08:00", "2025-03-08 12:00")

	p.AvoidQuietHours = false
	got = Build(r, &p, ts(t, "2025-03-01 00:00"))
	expectTimes(t, got, "2025-03-07 22:15", "2025-03-08 06:30", "2025-03-08 12:00", "2025-03-08 23:00")
}

func TestBuildBareAnchorIsQuietAdjusted(t *testing.T) {
	t.Parallel()
	r := reminderAt(t, "2025-03-08 23:30")
	p := domain.NewPolicy(r.ID)
	p.AvoidQuietHours = true
	expectTimes(t, Build(r, &p, ts(t, "2025-03-01 00:00")), "2025-03-08 08:00")
}

func TestBuildCustomQuietWindow(t *testing.T) {
	t.Parallel()
	r := reminderAt(t, "2025-03-08 13:00")
	p := domain.NewPolicy(r.ID)
	p.AvoidQuietHours = true
	p.QuietHoursFallback = domain.Clock(15, 0)
	b := Builder{Quiet: QuietWindow{Start: domain.Clock(12, 0), End: domain.Clock(14, 0)}}
	expectTimes(t, b.Build(r, &p, ts(t, "2025-03-01 00:00")), "2025-03-08 15:00")
}

func TestBuildIsPure(t *testing.T) {
	t.Parallel()
	r := reminderAt(t, "2025-03-08 20:00")
	p := domain.NewPolicy(r.ID)
	p.AdvanceEnabled = true
	p.AdvanceLeadDays = 4
	p.SameDayTimes = []domain.ClockTime{domain.Clock(23, 0), domain.Clock(7, 0)}
	p.AvoidQuietHours = true
	now := ts(t, "2025-03-01 00:00")

	before := append([]domain.ClockTime(nil), p.SameDayTimes...)
	first := formatAll(Build(r, &p, now))
	second := formatAll(Build(r, &p, now))
	if !slices.Equal(first, second) {
		t.Fatalf("Build not deterministic: %v vs %v", first, second)
	}
	if !slices.Equal(before, p.SameDayTimes) {
		t.Fatalf("Build mutated the policy: %v", p.SameDayTimes)
	}
}

func TestBuildKeepsReminderLocation(t *testing.T) {
	t.Parallel()
	loc, err := time.LoadLocation("Asia/Jakarta")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	r := domain.Reminder{
		Title:      "Call mom",
		AnchorTime: time.Date(2025, 3, 8, 19, 0, 0, 0, loc).UTC(),
		Timezone:   "Asia/Jakarta",
		IsActive:   true,
	}
	p := domain.NewPolicy("")
	p.SameDayTimes = []domain.ClockTime{domain.Clock(7, 30)}
	got := Build(r, &p, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	if len(got) != 1 {
		t.Fatalf("got %v", got)
	}
	if got[0].Location().String() != loc.String() || got[0].Hour() != 7 || got[0].Minute() != 30 || got[0].Day() != 8 {
		t.Fatalf("got %s, want 2025-03-08 07:30 Asia/Jakarta", got[0])
	}
}

func TestQuietWindowContains(t *testing.T) {
	t.Parallel()
	tests := []struct {
		w    QuietWindow
		c    domain.ClockTime
		want bool
	}{
		{DefaultQuietWindow, domain.Clock(22, 0), true},
		{DefaultQuietWindow, domain.Clock(23, 59), true},
		{DefaultQuietWindow, domain.Clock(0, 0), true},
		{DefaultQuietWindow, domain.Clock(6, 59), true},
		{DefaultQuietWindow, domain.Clock(7, 0), false},
		{DefaultQuietWindow, domain.Clock(21, 59), false},
		{QuietWindow{Start: domain.Clock(1, 0), End: domain.Clock(5, 0)}, domain.Clock(3, 0), true},
		{QuietWindow{Start: domain.Clock(1, 0), End: domain.Clock(5, 0)}, domain.Clock(5, 0), false},
		{QuietWindow{Start: domain.Clock(1, 0), End: domain.Clock(1, 0)}, domain.Clock(1, 0), false},
	}
	for _, tt := range tests {
		if got := tt.w.Contains(tt.c); got != tt.want {
			t.Fatalf("%s contains %s = %v, want %v", tt.w, tt.c, got, tt.want)
		}
	}
}
