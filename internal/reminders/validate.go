package reminders

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"reminderd/internal/domain"
	"reminderd/internal/recurrence"
)

var ErrInvalid = errors.New("invalid reminder")

// Validate checks a reminder and its optional policy before they are stored.
// The scheduling code itself never rejects stored data.
func Validate(r domain.Reminder, p *domain.NotificationPolicy) error {
	var problems []string
	add := func(format string, args ...any) { problems = append(problems, fmt.Sprintf(format, args...)) }

	if strings.TrimSpace(r.ID) == "" {
		add("id is required")
	}
	if strings.TrimSpace(r.Title) == "" {
		add("title is required")
	}
	if r.AnchorTime.IsZero() {
		add("anchor_time is required")
	}
	if tz := strings.TrimSpace(r.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add("timezone %q: %v", tz, err)
		}
	}
	if r.AdvanceMinutes < 0 {
		add("advance_minutes must be >= 0")
	}
	if err := recurrence.Validate(r.RecurrenceKind, r.RecurrenceConfig); err != nil {
		add("%v", err)
	}

	if p != nil {
		if p.ReminderID != "" && p.ReminderID != r.ID {
			add("policy belongs to reminder %q", p.ReminderID)
		}
		if p.AdvanceLeadDays < 0 {
			add("advance_lead_days must be >= 0")
		}
		if p.AdvanceIntervalDays < 1 {
			add("advance_interval_days must be >= 1")
		}
		if !p.AdvanceTimeOfDay.Valid() {
			add("advance_time_of_day is invalid")
		}
		if !p.QuietHoursFallback.Valid() {
			add("quiet_hours_fallback_time is invalid")
		}
		for i, c := range p.SameDayTimes {
			if !c.Valid() {
				add("same_day_times[%d] is invalid", i)
			}
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
}
