package recurrence

import (
	"time"

	"reminderd/internal/domain"
)

// LastDay is the Monthly/Yearly day sentinel for "last day of the month".
const LastDay = -1

// Rule is a closed set of recurrence rules. Only this package can add variants.
type Rule interface {
	Kind() domain.RecurrenceKind
	rule()
}

// Once never produces another occurrence.
type Once struct{}

// Daily advances by Interval days (default 1).
type Daily struct {
	Interval int
	At       *domain.ClockTime
}

// Weekly moves to the next listed weekday, wrapping Interval weeks ahead.
type Weekly struct {
	Weekdays []time.Weekday
	Interval int
	At       *domain.ClockTime
}

// Monthly lands on Day (1..31 or LastDay) every Interval months.
type Monthly struct {
	Day         int // 0 means the anchor's day
	Interval    int
	SkipWeekend bool
	At          *domain.ClockTime
}

// Yearly lands on Month/Day every Interval years. Zero fields use the anchor's.
type Yearly struct {
	Month    time.Month
	Day      int
	Interval int
	At       *domain.ClockTime
}

type Unit string

const (
	UnitDays   Unit = "days"
	UnitWeeks  Unit = "weeks"
	UnitMonths Unit = "months"
	UnitYears  Unit = "years"
)

// Custom is "every Interval Units".
type Custom struct {
	Unit     Unit
	Interval int
	At       *domain.ClockTime
}

// Fallback keeps legacy rows with an unknown kind moving: +1 day.
type Fallback struct {
	Raw string
}

func (Once) Kind() domain.RecurrenceKind       { return domain.RecurOnce }
func (Daily) Kind() domain.RecurrenceKind      { return domain.RecurDaily }
func (Weekly) Kind() domain.RecurrenceKind     { return domain.RecurWeekly }
func (Monthly) Kind() domain.RecurrenceKind    { return domain.RecurMonthly }
func (Yearly) Kind() domain.RecurrenceKind     { return domain.RecurYearly }
func (Custom) Kind() domain.RecurrenceKind     { return domain.RecurCustom }
func (f Fallback) Kind() domain.RecurrenceKind { return domain.RecurrenceKind(f.Raw) }

func (Once) rule()     {}
func (Daily) rule()    {}
func (Weekly) rule()   {}
func (Monthly) rule()  {}
func (Yearly) rule()   {}
func (Custom) rule()   {}
func (Fallback) rule() {}
