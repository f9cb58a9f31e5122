package recurrence

import (
	"time"

	"reminderd/internal/domain"
)

// Next returns the occurrence after anchor. ok is false only for Once.
//
// All arithmetic happens in anchor's location on its wall clock, so a daily
// 09:00 reminder stays at 09:00 across DST changes.
func Next(anchor time.Time, rule Rule) (next time.Time, ok bool) {
	switch r := rule.(type) {
	case Once:
		return time.Time{}, false
	case Daily:
		return r.next(anchor), true
	case Weekly:
		return r.next(anchor), true
	case Monthly:
		return r.next(anchor), true
	case Yearly:
		return r.next(anchor), true
	case Custom:
		return r.next(anchor), true
	default:
		// Fallback and nil.
		return addDays(anchor, 1), true
	}
}

// NextFor parses kind/config and computes the next occurrence.
func NextFor(anchor time.Time, kind domain.RecurrenceKind, cfg map[string]any) (time.Time, bool) {
	return Next(anchor, Parse(kind, cfg))
}

func positive(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

func (r Daily) next(anchor time.Time) time.Time {
	return withClock(addDays(anchor, positive(r.Interval)), r.At)
}

func (r Weekly) next(anchor time.Time) time.Time {
	if len(r.Weekdays) == 0 {
		return withClock(addDays(anchor, 7), r.At)
	}
	cur := mondayIndex(anchor.Weekday())
	first := -1
	for _, wd := range r.Weekdays {
		idx := mondayIndex(wd)
		if idx > cur {
			return withClock(addDays(anchor, idx-cur), r.At)
		}
		if first < 0 || idx < first {
			first = idx
		}
	}
	// Wrap to the first listed day, Interval weeks on.
	return withClock(addDays(anchor, 7*positive(r.Interval)-cur+first), r.At)
}

func (r Monthly) next(anchor time.Time) time.Time {
	day := r.Day
	if day == 0 {
		day = anchor.Day()
	}
	if day != LastDay && anchor.Day() < day && isLastDayOfMonth(anchor) {
		day = anchor.Day()
	}
	base := anchor
	if r.SkipWeekend && anchor.Weekday() == time.Monday && anchor.Day() <= 2 &&
		(day == LastDay || day > anchor.Day()) {
		// The previous occurrence was pushed across a month boundary.
		base = addDays(anchor, -anchor.Day())
	}
	out := withClock(addMonthsClamped(base, positive(r.Interval), day), r.At)
	if r.SkipWeekend {
		out = skipWeekend(out)
	}
	return out
}

func (r Yearly) next(anchor time.Time) time.Time {
	month := r.Month
	if month == 0 {
		month = anchor.Month()
	}
	day := r.Day
	if day == 0 {
		day = anchor.Day()
	}
	year := anchor.Year() + positive(r.Interval)
	if last := daysIn(year, month); day == LastDay || day > last {
		day = last
	}
	out := time.Date(year, month, day, anchor.Hour(), anchor.Minute(), anchor.Second(), anchor.Nanosecond(), anchor.Location())
	return withClock(out, r.At)
}

func (r Custom) next(anchor time.Time) time.Time {
	n := positive(r.Interval)
	switch r.Unit {
	case UnitWeeks:
		return withClock(addDays(anchor, 7*n), r.At)
	case UnitMonths:
		return Monthly{Interval: n, At: r.At}.next(anchor)
	case UnitYears:
		return Yearly{Interval: n, At: r.At}.next(anchor)
	default:
		return Daily{Interval: n, At: r.At}.next(anchor)
	}
}
