package recurrence

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"reminderd/internal/domain"
)

var ErrInvalidConfig = errors.New("invalid recurrence config")

// Parse decodes a stored kind/config pair into a Rule.
//
// It never fails: malformed fields fall back to defaults so historic rows keep
// producing occurrences. Use Validate when accepting new input.
func Parse(kind domain.RecurrenceKind, cfg map[string]any) Rule {
	k := domain.RecurrenceKind(strings.ToLower(strings.TrimSpace(string(kind))))
	switch k {
	case domain.RecurOnce, "":
		return Once{}
	case domain.RecurDaily:
		return Daily{Interval: intervalField(cfg), At: clockField(cfg, "time")}
	case domain.RecurWeekly:
		days, _ := weekdaysField(cfg)
		return Weekly{Weekdays: days, Interval: intervalField(cfg), At: clockField(cfg, "time")}
	case domain.RecurMonthly:
		day, _ := intField(cfg, "day")
		if day != LastDay && (day < 1 || day > 31) {
			day = 0
		}
		skip, _ := boolField(cfg, "skip_weekend")
		return Monthly{Day: day, Interval: intervalField(cfg), SkipWeekend: skip, At: clockField(cfg, "time")}
	case domain.RecurYearly:
		month, _ := intField(cfg, "month")
		if month < 1 || month > 12 {
			month = 0
		}
		day, _ := intField(cfg, "day")
		if day != LastDay && (day < 1 || day > 31) {
			day = 0
		}
		return Yearly{Month: time.Month(month), Day: day, Interval: intervalField(cfg), At: clockField(cfg, "time")}
	case domain.RecurCustom:
		unit, _ := unitField(cfg)
		return Custom{Unit: unit, Interval: intervalField(cfg), At: clockField(cfg, "time")}
	default:
		return Fallback{Raw: string(kind)}
	}
}

// Validate reports whether kind/config is acceptable for a new or updated
// reminder. The returned error wraps ErrInvalidConfig.
func Validate(kind domain.RecurrenceKind, cfg map[string]any) error {
	k := domain.RecurrenceKind(strings.ToLower(strings.TrimSpace(string(kind))))
	var problems []string
	add := func(format string, args ...any) { problems = append(problems, fmt.Sprintf(format, args...)) }

	checkInterval := func() {
		if _, present := cfg["interval"]; !present {
			return
		}
		if n, ok := intField(cfg, "interval"); !ok || n < 1 {
			add("interval must be a positive integer")
		}
	}
	checkTime := func() {
		v, present := cfg["time"]
		if !present {
			return
		}
		s, ok := v.(string)
		if !ok {
			add("time must be a HH:MM string")
			return
		}
		if _, err := domain.ParseClock(s); err != nil {
			add("time: %v", err)
		}
	}
	checkDay := func(required bool) {
		if _, present := cfg["day"]; !present {
			if required {
				add("day is required")
			}
			return
		}
		d, ok := intField(cfg, "day")
		if !ok || (d != LastDay && (d < 1 || d > 31)) {
			add("day must be 1..31 or -1")
		}
	}

	switch k {
	case domain.RecurOnce, "":
	case domain.RecurDaily:
		checkInterval()
		checkTime()
	case domain.RecurWeekly:
		days, ok := weekdaysField(cfg)
		if !ok {
			add("weekdays must be a list of 0..6 or mon..sun")
		} else if len(days) == 0 {
			add("weekdays must not be empty")
		}
		checkInterval()
		checkTime()
	case domain.RecurMonthly:
		checkDay(true)
		if v, present := cfg["skip_weekend"]; present {
			if _, ok := v.(bool); !ok {
				add("skip_weekend must be a boolean")
			}
		}
		checkInterval()
		checkTime()
	case domain.RecurYearly:
		if _, present := cfg["month"]; present {
			if m, ok := intField(cfg, "month"); !ok || m < 1 || m > 12 {
				add("month must be 1..12")
			}
		}
		checkDay(false)
		checkInterval()
		checkTime()
	case domain.RecurCustom:
		if _, ok := unitField(cfg); !ok {
			add("unit must be one of days, weeks, months, years")
		}
		checkInterval()
		checkTime()
	default:
		add("unknown recurrence kind %q", string(kind))
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
}

func intervalField(cfg map[string]any) int {
	n, ok := intField(cfg, "interval")
	if !ok || n < 1 {
		return 1
	}
	return n
}

// intField accepts the numeric shapes that show up after JSON and YAML decoding.
func intField(cfg map[string]any, key string) (int, bool) {
	v, ok := cfg[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	default:
		return 0, false
	}
}

func boolField(cfg map[string]any, key string) (bool, bool) {
	switch b := cfg[key].(type) {
	case bool:
		return b, true
	case string:
		v, err := strconv.ParseBool(strings.TrimSpace(b))
		return v, err == nil
	default:
		return false, false
	}
}

func clockField(cfg map[string]any, key string) *domain.ClockTime {
	s, ok := cfg[key].(string)
	if !ok {
		return nil
	}
	c, err := domain.ParseClock(s)
	if err != nil {
		return nil
	}
	return &c
}

var weekdayNames = map[string]time.Weekday{
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
	"sun": time.Sunday, "sunday": time.Sunday,
}

// weekdaysField decodes 0=Mon..6=Sun indices or names. The result is
// deduplicated and ordered Monday first. ok is false if any entry is bad.
func weekdaysField(cfg map[string]any) ([]time.Weekday, bool) {
	raw, present := cfg["weekdays"]
	if !present || raw == nil {
		return nil, true
	}
	var items []any
	switch v := raw.(type) {
	case []any:
		items = v
	case []int:
		for _, n := range v {
			items = append(items, n)
		}
	case []string:
		for _, s := range v {
			items = append(items, s)
		}
	default:
		return nil, false
	}

	seen := map[time.Weekday]bool{}
	out := make([]time.Weekday, 0, len(items))
	valid := true
	for _, it := range items {
		wd, ok := decodeWeekday(it)
		if !ok {
			valid = false
			continue
		}
		if !seen[wd] {
			seen[wd] = true
			out = append(out, wd)
		}
	}
	sort.Slice(out, func(i, j int) bool { return mondayIndex(out[i]) < mondayIndex(out[j]) })
	return out, valid
}

func decodeWeekday(v any) (time.Weekday, bool) {
	if s, ok := v.(string); ok {
		s = strings.ToLower(strings.TrimSpace(s))
		if wd, ok := weekdayNames[s]; ok {
			return wd, true
		}
	}
	n, ok := intField(map[string]any{"v": v}, "v")
	if !ok || n < 0 || n > 6 {
		return 0, false
	}
	return time.Weekday((n + 1) % 7), true
}

func unitField(cfg map[string]any) (Unit, bool) {
	s, _ := cfg["unit"].(string)
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "d", "day", "days":
		return UnitDays, true
	case "w", "week", "weeks":
		return UnitWeeks, true
	case "m", "month", "months":
		return UnitMonths, true
	case "y", "year", "years":
		return UnitYears, true
	default:
		return UnitDays, false
	}
}
