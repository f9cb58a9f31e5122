package schedule

import (
	"fmt"
	"strings"
	"time"

	"reminderd/internal/domain"
)

const templateTimeLayout = "2006-01-02 15:04"

// Render produces the message for the notification sent at `at`.
//
// A non-empty template gets literal {title} and {time} substitution, where
// {time} is the anchor. Otherwise the wording depends on how far the anchor
// is from `at`.
func Render(template string, r domain.Reminder, at time.Time) string {
	anchor := r.LocalAnchor()
	if strings.TrimSpace(template) != "" {
		return strings.NewReplacer(
			"{title}", r.Title,
			"{time}", anchor.Format(templateTimeLayout),
		).Replace(template)
	}

	at = at.In(anchor.Location())
	switch diff := anchor.Sub(at); {
	case diff > 0:
		if days := calendarDays(at, anchor); days >= 1 {
			unit := "days"
			if days == 1 {
				unit = "day"
			}
			return fmt.Sprintf("Reminder: %s in %d %s (%s)", r.Title, days, unit, anchor.Format(templateTimeLayout))
		}
		return fmt.Sprintf("Reminder: %s today at %s", r.Title, anchor.Format("15:04"))
	case diff == 0:
		return fmt.Sprintf("Reminder: %s is due now", r.Title)
	default:
		return fmt.Sprintf("Reminder: %s", r.Title)
	}
}

// calendarDays counts date changes from a to b, ignoring the time of day.
func calendarDays(a, b time.Time) int {
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}
