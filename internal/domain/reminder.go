package domain

import (
	"strings"
	"time"
)

type RecurrenceKind string

const (
	RecurOnce    RecurrenceKind = "once"
	RecurDaily   RecurrenceKind = "daily"
	RecurWeekly  RecurrenceKind = "weekly"
	RecurMonthly RecurrenceKind = "monthly"
	RecurYearly  RecurrenceKind = "yearly"
	RecurCustom  RecurrenceKind = "custom"
)

// Reminder is owned by a user and optionally shared with a family group.
//
// AnchorTime is the occurrence the reminder is currently about. Only the
// completion flow moves it forward.
type Reminder struct {
	ID       string `json:"id"`
	OwnerID  string `json:"owner_id"`
	FamilyID string `json:"family_id,omitempty"`
	Title    string `json:"title"`

	AnchorTime time.Time `json:"anchor_time"`
	Timezone   string    `json:"timezone,omitempty"` // IANA; empty means AnchorTime's own location

	RecurrenceKind   RecurrenceKind `json:"recurrence_kind"`
	RecurrenceConfig map[string]any `json:"recurrence_config,omitempty"`

	AdvanceMinutes int      `json:"advance_minutes,omitempty"`
	Channels       []string `json:"channels,omitempty"`
	Priority       int      `json:"priority,omitempty"`

	IsActive    bool `json:"is_active"`
	IsCompleted bool `json:"is_completed"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (r Reminder) IsRecurring() bool {
	k := RecurrenceKind(strings.ToLower(strings.TrimSpace(string(r.RecurrenceKind))))
	return k != "" && k != RecurOnce
}

// Location resolves Timezone, falling back to the anchor's own location.
func (r Reminder) Location() *time.Location {
	if tz := strings.TrimSpace(r.Timezone); tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			return loc
		}
	}
	if loc := r.AnchorTime.Location(); loc != nil {
		return loc
	}
	return time.UTC
}

// LocalAnchor returns AnchorTime in the reminder's location.
func (r Reminder) LocalAnchor() time.Time { return r.AnchorTime.In(r.Location()) }

// NotificationPolicy is an optional extension of a Reminder (0..1).
type NotificationPolicy struct {
	ReminderID string `json:"reminder_id"`

	AdvanceEnabled      bool      `json:"advance_enabled"`
	AdvanceLeadDays     int       `json:"advance_lead_days"`
	AdvanceIntervalDays int       `json:"advance_interval_days"`
	AdvanceTimeOfDay    ClockTime `json:"advance_time_of_day"`

	SameDayTimes []ClockTime `json:"same_day_times,omitempty"`

	AvoidQuietHours    bool      `json:"avoid_quiet_hours"`
	QuietHoursFallback ClockTime `json:"quiet_hours_fallback_time"`

	MessageTemplate string `json:"message_template,omitempty"`
}

var (
	DefaultAdvanceTime   = Clock(9, 0)
	DefaultQuietFallback = Clock(8, 0)
)

// NewPolicy returns a policy with the documented defaults filled in.
func NewPolicy(reminderID string) NotificationPolicy {
	return NotificationPolicy{
		ReminderID:          reminderID,
		AdvanceIntervalDays: 1,
		AdvanceTimeOfDay:    DefaultAdvanceTime,
		QuietHoursFallback:  DefaultQuietFallback,
	}
}
