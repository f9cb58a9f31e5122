package recurrence

import (
	"time"

	"reminderd/internal/domain"
)

// daysIn returns the number of days in the given month.
func daysIn(year int, month time.Month) int {
	// Day 0 of the following month normalizes to the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func isLastDayOfMonth(t time.Time) bool {
	return t.Day() == daysIn(t.Year(), t.Month())
}

// addDays moves t by n calendar days keeping its wall clock.
func addDays(t time.Time, n int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day()+n, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// addMonthsClamped moves t by n months and places it on day, clamped to the
// target month's length. It never overflows into the following month.
func addMonthsClamped(t time.Time, n, day int) time.Time {
	y, m := normalizeMonth(t.Year(), int(t.Month())+n)
	last := daysIn(y, m)
	if day == LastDay || day > last {
		day = last
	}
	if day < 1 {
		day = 1
	}
	return time.Date(y, m, day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func normalizeMonth(year, month int) (int, time.Month) {
	month--
	year += month / 12
	month %= 12
	if month < 0 {
		month += 12
		year--
	}
	return year, time.Month(month + 1)
}

func withClock(t time.Time, at *domain.ClockTime) time.Time {
	if at == nil || !at.Valid() {
		return t
	}
	return at.OnDateOf(t)
}

func skipWeekend(t time.Time) time.Time {
	switch t.Weekday() {
	case time.Saturday:
		return addDays(t, 2)
	case time.Sunday:
		return addDays(t, 1)
	default:
		return t
	}
}

// mondayIndex maps Monday..Sunday to 0..6.
func mondayIndex(wd time.Weekday) int { return (int(wd) + 6) % 7 }
